package repository

import (
	"context"
	"fmt"

	"meowchat_client/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type mongoHistoryRepository struct {
	messages *mongo.Collection
	users    string
}

// NewMongoHistoryRepository read history straight from the chat backend database
func NewMongoHistoryRepository(db *mongo.Database) HistoryRepository {
	return &mongoHistoryRepository{
		messages: db.Collection("messages"),
		users:    "users",
	}
}

// chatroomFilter chatroom_id 可能存成 ObjectId 也可能是字串
func chatroomFilter(chatroomID string) bson.M {
	ids := bson.A{chatroomID}
	if oid, err := primitive.ObjectIDFromHex(chatroomID); err == nil {
		ids = append(ids, oid)
	}
	return bson.M{"chatroom_id": bson.M{"$in": ids}}
}

func (r *mongoHistoryRepository) lookupUser() bson.A {
	return bson.A{
		bson.M{"$lookup": bson.M{
			"from":         r.users,
			"localField":   "user",
			"foreignField": "_id",
			"as":           "user",
		}},
		bson.M{"$unwind": bson.M{"path": "$user", "preserveNullAndEmptyArrays": true}},
	}
}

// FetchHistory messages 依 createdAt 排序, user 與 reply_to 展開成物件
func (r *mongoHistoryRepository) FetchHistory(ctx context.Context, chatroomID string) ([]domain.Message, error) {
	replyPipeline := append(bson.A{
		bson.M{"$match": bson.M{"$expr": bson.M{"$eq": bson.A{"$_id", "$$rid"}}}},
	}, r.lookupUser()...)

	pipeline := bson.A{
		bson.M{"$match": chatroomFilter(chatroomID)},
		bson.M{"$sort": bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}},
	}
	pipeline = append(pipeline, r.lookupUser()...)
	pipeline = append(pipeline,
		bson.M{"$lookup": bson.M{
			"from":     r.messages.Name(),
			"let":      bson.M{"rid": "$reply_to"},
			"pipeline": replyPipeline,
			"as":       "reply_to",
		}},
		bson.M{"$unwind": bson.M{"path": "$reply_to", "preserveNullAndEmptyArrays": true}},
	)

	cur, err := r.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate history: %w", err)
	}
	defer cur.Close(ctx)

	var messages []domain.Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return messages, nil
}
