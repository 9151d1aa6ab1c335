package domain

import "time"

// DateLayout 日期分組 key 的格式, 例如 "2025-01-23"
const DateLayout = "2006-01-02"

// MessageType definition message content type
type MessageType string

const (
	// MessageTypeText plain text content
	MessageTypeText MessageType = "text"
	// MessageTypeSticker content is a sticker URI
	MessageTypeSticker MessageType = "sticker"
)

// UserStatus definition user presence
type UserStatus string

const (
	// UserStatusOnline user online
	UserStatusOnline UserStatus = "online"
	// UserStatusAway user away
	UserStatusAway UserStatus = "away"
	// UserStatusOffline user offline
	UserStatusOffline UserStatus = "offline"
)

// User 訊息作者 / 使用者目錄的一筆資料
type User struct {
	ID       string     `json:"_id" bson:"_id" validate:"required"`
	Username string     `json:"username" bson:"username"`
	Avatar   string     `json:"avatar" bson:"avatar"`
	Status   UserStatus `json:"status" bson:"status"`
}

// Message 表示一則聊天訊息
type Message struct {
	ID         string      `json:"_id" bson:"_id" validate:"required"`
	ChatroomID string      `json:"chatroom_id" bson:"chatroom_id" validate:"required"`
	Author     User        `json:"user" bson:"user"`
	Content    string      `json:"content" bson:"content"`
	Type       MessageType `json:"type" bson:"type" validate:"oneof=text sticker"`
	ReplyTo    *Message    `json:"reply_to" bson:"reply_to,omitempty" validate:"-"`
	IsRecalled bool        `json:"isRecalled" bson:"isRecalled"`
	CreatedAt  time.Time   `json:"createdAt" bson:"createdAt" validate:"required"`
}

// AuthorID shortcut for the author's user id
func (m Message) AuthorID() string {
	return m.Author.ID
}

// DateKey calendar day of CreatedAt in loc
func (m Message) DateKey(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return m.CreatedAt.In(loc).Format(DateLayout)
}

// DateGroup 某個聊天室某天的訊息 (client 端的 MessageBucket)
type DateGroup struct {
	Date     string    `json:"date"`
	Messages []Message `json:"messages"`
}

// SendRequest definition a message the local user wants to post
type SendRequest struct {
	ChatroomID string      `json:"chatroom_id" validate:"required"`
	AuthorID   string      `json:"user_id" validate:"required"`
	Content    string      `json:"content" validate:"required"`
	Type       MessageType `json:"type" validate:"oneof=text sticker"`
	ReplyTo    string      `json:"reply_to,omitempty"`
}
