package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ChatroomType definition chat room type
type ChatroomType string

const (
	// ChatroomTypeGlobal definition chat room everyone joins
	ChatroomTypeGlobal ChatroomType = "global"
	// ChatroomTypeGroup definition chat room group
	ChatroomTypeGroup ChatroomType = "group" // 群組
	// ChatroomTypePrivate definition chat room 1 on 1
	ChatroomTypePrivate ChatroomType = "private" // 1對1
)

// Valid check the type is one of global, group, private
func (t ChatroomType) Valid() bool {
	switch t {
	case ChatroomTypeGlobal, ChatroomTypeGroup, ChatroomTypePrivate:
		return true
	}
	return false
}

// Chatroom definition chat room
type Chatroom struct {
	ID      string       `json:"_id" validate:"required"`
	Type    ChatroomType `json:"type" validate:"oneof=global group private"`
	Avatar  string       `json:"avatar"`
	Name    string       `json:"name"`
	Members []string     `json:"members"`

	// Tentative 由第一則私訊推測出來的聊天室, 尚未經過 server 確認
	Tentative bool `json:"-"`
}

// HasMember check user is in chat room members
func (c Chatroom) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Counterpart the other member of a private chat room
func (c Chatroom) Counterpart(selfID string) string {
	for _, m := range c.Members {
		if m != selfID {
			return m
		}
	}
	return ""
}

// CreateChatroomRequest definition create chat room payload
type CreateChatroomRequest struct {
	Type    ChatroomType `json:"type" validate:"oneof=global group private"`
	Members []string     `json:"members" validate:"required,min=1,dive,required"`
	Avatar  string       `json:"avatar"`
	Name    string       `json:"name"`
}

// ChatroomMember 某個使用者在某個聊天室的已讀狀態
type ChatroomMember struct {
	ID          string    `json:"_id"`
	ChatroomID  string    `json:"chatroom_id" validate:"required"`
	UserID      string    `json:"user_id" validate:"required"`
	JoinedAt    time.Time `json:"joined_at"`
	LastReadAt  time.Time `json:"last_read_at"`
	UnreadCount int       `json:"unread_count" validate:"gte=0"`
}

// UnmarshalJSON chatroom_id 可能是 id 字串, 也可能是 populate 過的 chatroom 物件
func (m *ChatroomMember) UnmarshalJSON(data []byte) error {
	type alias ChatroomMember
	aux := struct {
		*alias
		ChatroomID json.RawMessage `json:"chatroom_id"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := bytes.TrimSpace(aux.ChatroomID)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		m.ChatroomID = ""
	case raw[0] == '"':
		return json.Unmarshal(raw, &m.ChatroomID)
	case raw[0] == '{':
		var ref struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			return err
		}
		m.ChatroomID = ref.ID
	default:
		return fmt.Errorf("chatroom_id: unexpected json %s", raw)
	}
	return nil
}

// HasRead member last read strictly after t
func (m ChatroomMember) HasRead(t time.Time) bool {
	return m.LastReadAt.After(t)
}

// Invite a pending group invitation shown to the local user
type Invite struct {
	Chatroom  Chatroom `json:"chatroom"`
	Inviter   User     `json:"inviter"`
	InviteeID string   `json:"invitee_id"`
}
