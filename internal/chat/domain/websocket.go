package domain

import "time"

// EventName socket event name, 與 server 端的 socket event 名稱一致
type EventName string

const (
	// EventMessagePosted chat message posted (out: after send, in: from other members)
	EventMessagePosted EventName = "chat message"
	// EventMessageRecalled message recalled by its author
	EventMessageRecalled EventName = "update message"
	// EventReadAdvanced member last_read_at advanced
	EventReadAdvanced EventName = "update last_read_time"
	// EventUnreadChanged unread counter changed server side
	EventUnreadChanged EventName = "update unread"
	// EventInviteSent group invite (out: inviter, in: invitee)
	EventInviteSent EventName = "send group invite"
	// EventInviteAccepted invitee accepted
	EventInviteAccepted EventName = "accept group invite"
	// EventJoinRoom join socket room of a chat room
	EventJoinRoom EventName = "join room"
	// EventLeaveRoom leave socket room of a chat room
	EventLeaveRoom EventName = "leave room"
	// EventPresencePing local user presence
	EventPresencePing EventName = "presence ping"
	// EventPresenceChanged presence of another user changed
	EventPresenceChanged EventName = "user status"
	// EventLogout session end
	EventLogout EventName = "logout"
)

// Event socket event envelope. 欄位依 event 種類而定, 未使用的欄位留空
type Event struct {
	Name       EventName  `json:"event" validate:"required"`
	ChatroomID string     `json:"chatroom_id,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	MessageID  string     `json:"message_id,omitempty"`
	Message    *Message   `json:"message,omitempty"`
	Chatroom   *Chatroom  `json:"chatroom,omitempty"`
	Inviter    *User      `json:"inviter,omitempty"`
	InviteeID  string     `json:"invitee_id,omitempty"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
	Status     UserStatus `json:"status,omitempty"`
}

// MessagePosted build a "chat message" event
func MessagePosted(msg Message) Event {
	return Event{Name: EventMessagePosted, ChatroomID: msg.ChatroomID, UserID: msg.AuthorID(), Message: &msg}
}

// MessageRecalled build a "update message" event
func MessageRecalled(messageID, userID string) Event {
	return Event{Name: EventMessageRecalled, MessageID: messageID, UserID: userID}
}

// ReadAdvanced build a "update last_read_time" event
func ReadAdvanced(member ChatroomMember) Event {
	at := member.LastReadAt
	return Event{Name: EventReadAdvanced, ChatroomID: member.ChatroomID, UserID: member.UserID, LastReadAt: &at}
}

// UnreadChanged build a "update unread" event
func UnreadChanged(chatroomID string) Event {
	return Event{Name: EventUnreadChanged, ChatroomID: chatroomID}
}

// ChangeKind which part of the client state changed
type ChangeKind string

const (
	// ChangeMessages message set / date groups recomputed
	ChangeMessages ChangeKind = "messages"
	// ChangeReadCounts read counts recomputed
	ChangeReadCounts ChangeKind = "read_counts"
	// ChangeMembers member read state or unread counters
	ChangeMembers ChangeKind = "members"
	// ChangeChatrooms chat room directory or active chat room
	ChangeChatrooms ChangeKind = "chatrooms"
	// ChangePresence user directory status
	ChangePresence ChangeKind = "presence"
	// ChangeInvite a new invite is waiting for an answer
	ChangeInvite ChangeKind = "invite"
)
