package repository

import (
	"context"
	"time"

	"meowchat_client/internal/chat/domain"
)

// HistoryRepository definition history service
type HistoryRepository interface {
	// FetchHistory 拿聊天室的歷史訊息, 依 createdAt 排序
	FetchHistory(ctx context.Context, chatroomID string) ([]domain.Message, error)
}

// MessageRepository definition message service
type MessageRepository interface {
	// Create server 指定 _id 與 createdAt
	Create(ctx context.Context, req domain.SendRequest) (domain.Message, error)
	Recall(ctx context.Context, messageID string) (domain.Message, error)
}

// MemberRepository definition chatroom member (read-receipt / unread / membership) service
type MemberRepository interface {
	// FetchAll chatroom_id -> members, 涵蓋 user 參與的所有聊天室
	FetchAll(ctx context.Context, userID string) (map[string][]domain.ChatroomMember, error)
	MarkRead(ctx context.Context, userID, chatroomID string, at time.Time) (domain.ChatroomMember, error)
	// RefreshUnread server 重算 unread_count 後回傳
	RefreshUnread(ctx context.Context, userID, chatroomID string) (domain.ChatroomMember, error)
	AddMember(ctx context.Context, userID, chatroomID string) (domain.ChatroomMember, error)
}

// RoomRepository definition chatroom service
type RoomRepository interface {
	FetchAll(ctx context.Context, userID string) ([]domain.Chatroom, error)
	FetchOne(ctx context.Context, chatroomID string) (domain.Chatroom, error)
	Create(ctx context.Context, req domain.CreateChatroomRequest) (domain.Chatroom, error)
	Invite(ctx context.Context, chatroomID, userID string) (domain.Chatroom, error)
}

// UserRepository definition user directory service
type UserRepository interface {
	// FetchOthers 除了 userID 以外的所有使用者
	FetchOthers(ctx context.Context, userID string) ([]domain.User, error)
}

// EventChannel definition bidirectional socket event channel, 整個 session 共用一條
type EventChannel interface {
	Emit(ctx context.Context, event domain.Event) error
	// Subscribe handler 在 channel 的讀取 goroutine 上被呼叫, 直到 ctx 結束或 Close
	Subscribe(ctx context.Context, handler func(domain.Event)) error
	Close() error
}
