package repository

import (
	"context"
	"net/url"
	"time"

	"meowchat_client/internal/chat/domain"

	"github.com/gofiber/fiber/v2"
)

// RestMessageRepository implements HistoryRepository and MessageRepository
type RestMessageRepository struct {
	client *RestClient
}

// NewRestMessageRepository message service + history service over REST
func NewRestMessageRepository(client *RestClient) *RestMessageRepository {
	return &RestMessageRepository{client: client}
}

// FetchHistory GET /api/message/:chatroom_id
func (r *RestMessageRepository) FetchHistory(ctx context.Context, chatroomID string) ([]domain.Message, error) {
	var messages []domain.Message
	if err := r.client.get(ctx, "/api/message/"+url.PathEscape(chatroomID), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Create POST /api/message
func (r *RestMessageRepository) Create(ctx context.Context, req domain.SendRequest) (domain.Message, error) {
	var msg domain.Message
	err := r.client.send(ctx, fiber.MethodPost, "/api/message", req, &msg)
	return msg, err
}

// Recall PATCH /api/message/:id {isRecalled: true}
func (r *RestMessageRepository) Recall(ctx context.Context, messageID string) (domain.Message, error) {
	var msg domain.Message
	body := map[string]bool{"isRecalled": true}
	err := r.client.send(ctx, fiber.MethodPatch, "/api/message/"+url.PathEscape(messageID), body, &msg)
	return msg, err
}

type restMemberRepository struct {
	client *RestClient
}

// NewRestMemberRepository chatroom member service over REST
func NewRestMemberRepository(client *RestClient) MemberRepository {
	return &restMemberRepository{client: client}
}

// FetchAll GET /api/chatroom/member?user_id=
func (r *restMemberRepository) FetchAll(ctx context.Context, userID string) (map[string][]domain.ChatroomMember, error) {
	// {"<chatroom_id>": {"members": [...]}}
	var resp map[string]struct {
		Members []domain.ChatroomMember `json:"members"`
	}
	if err := r.client.get(ctx, "/api/chatroom/member", url.Values{"user_id": {userID}}, &resp); err != nil {
		return nil, err
	}

	result := make(map[string][]domain.ChatroomMember, len(resp))
	for chatroomID, entry := range resp {
		members := make([]domain.ChatroomMember, 0, len(entry.Members))
		for _, m := range entry.Members {
			if m.ChatroomID == "" {
				m.ChatroomID = chatroomID
			}
			members = append(members, m)
		}
		result[chatroomID] = members
	}
	return result, nil
}

type memberWrite struct {
	UserID     string `json:"user_id"`
	ChatroomID string `json:"chatroom_id"`
	LastReadAt int64  `json:"last_read_at,omitempty"`
}

// MarkRead PATCH /api/chatroom/member, last_read_at 用 epoch millis
func (r *restMemberRepository) MarkRead(ctx context.Context, userID, chatroomID string, at time.Time) (domain.ChatroomMember, error) {
	var m domain.ChatroomMember
	body := memberWrite{UserID: userID, ChatroomID: chatroomID, LastReadAt: at.UnixMilli()}
	err := r.client.send(ctx, fiber.MethodPatch, "/api/chatroom/member", body, &m)
	return m, err
}

// RefreshUnread PUT /api/chatroom/member
func (r *restMemberRepository) RefreshUnread(ctx context.Context, userID, chatroomID string) (domain.ChatroomMember, error) {
	var m domain.ChatroomMember
	err := r.client.send(ctx, fiber.MethodPut, "/api/chatroom/member", memberWrite{UserID: userID, ChatroomID: chatroomID}, &m)
	return m, err
}

// AddMember POST /api/chatroom/member
func (r *restMemberRepository) AddMember(ctx context.Context, userID, chatroomID string) (domain.ChatroomMember, error) {
	var m domain.ChatroomMember
	err := r.client.send(ctx, fiber.MethodPost, "/api/chatroom/member", memberWrite{UserID: userID, ChatroomID: chatroomID}, &m)
	return m, err
}

type restRoomRepository struct {
	client *RestClient
}

// NewRestRoomRepository chatroom service over REST
func NewRestRoomRepository(client *RestClient) RoomRepository {
	return &restRoomRepository{client: client}
}

// FetchAll GET /api/chatroom?user_id=
func (r *restRoomRepository) FetchAll(ctx context.Context, userID string) ([]domain.Chatroom, error) {
	var rooms []domain.Chatroom
	if err := r.client.get(ctx, "/api/chatroom", url.Values{"user_id": {userID}}, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// FetchOne GET /api/chatroom/:chatroom_id
func (r *restRoomRepository) FetchOne(ctx context.Context, chatroomID string) (domain.Chatroom, error) {
	var room domain.Chatroom
	err := r.client.get(ctx, "/api/chatroom/"+url.PathEscape(chatroomID), nil, &room)
	return room, err
}

// Create POST /api/chatroom
func (r *restRoomRepository) Create(ctx context.Context, req domain.CreateChatroomRequest) (domain.Chatroom, error) {
	var room domain.Chatroom
	err := r.client.send(ctx, fiber.MethodPost, "/api/chatroom", req, &room)
	return room, err
}

// Invite PATCH /api/chatroom/:chatroom_id {user_id}
func (r *restRoomRepository) Invite(ctx context.Context, chatroomID, userID string) (domain.Chatroom, error) {
	var room domain.Chatroom
	body := map[string]string{"user_id": userID}
	err := r.client.send(ctx, fiber.MethodPatch, "/api/chatroom/"+url.PathEscape(chatroomID), body, &room)
	return room, err
}

type restUserRepository struct {
	client *RestClient
}

// NewRestUserRepository user directory over REST
func NewRestUserRepository(client *RestClient) UserRepository {
	return &restUserRepository{client: client}
}

// FetchOthers GET /api/user?user_id=
func (r *restUserRepository) FetchOthers(ctx context.Context, userID string) ([]domain.User, error) {
	var users []domain.User
	if err := r.client.get(ctx, "/api/user", url.Values{"user_id": {userID}}, &users); err != nil {
		return nil, err
	}
	return users, nil
}
