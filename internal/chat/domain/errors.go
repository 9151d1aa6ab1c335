package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. 用 errors.Is(err, ErrFetch) 判斷種類
var (
	// ErrFetch history / members / chat rooms could not be retrieved
	ErrFetch = errors.New("fetch error")
	// ErrWrite send / recall / mark read / create / invite rejected
	ErrWrite = errors.New("write error")
	// ErrConsistency inbound event references unknown local state
	ErrConsistency = errors.New("consistency error")

	// ErrStaleResponse response belongs to a chat room that is no longer active
	ErrStaleResponse = errors.New("stale response")
	// ErrNotReady no chat room is active or its switch has not completed
	ErrNotReady = errors.New("chatroom not ready")
	// ErrInvalidInput local validation failed before any service call
	ErrInvalidInput = errors.New("invalid input")
)

// Operation names carried by SyncError
const (
	OpLoadHistory   = "loadHistory"
	OpSend          = "send"
	OpRecall        = "recall"
	OpLoadMembers   = "loadMembers"
	OpMarkRead      = "markRead"
	OpRefreshUnread = "refreshUnreadCount"
	OpAddMember     = "addMember"
	OpLoadChatrooms = "loadChatrooms"
	OpFetchChatroom = "fetchChatroom"
	OpCreate        = "create"
	OpInvite        = "invite"
	OpLoadUsers     = "loadUsers"
	OpInbound       = "inbound"
)

// SyncError structured error surfaced by the stores.
//
//	var syncErr *SyncError
//	if errors.As(err, &syncErr) && syncErr.Op == OpSend { ... }
type SyncError struct {
	Kind       error
	Op         string
	ChatroomID string
	MessageID  string
	Err        error
}

func (e *SyncError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Op, e.Kind)
	if e.ChatroomID != "" {
		fmt.Fprintf(&b, " chatroom=%s", e.ChatroomID)
	}
	if e.MessageID != "" {
		fmt.Fprintf(&b, " message=%s", e.MessageID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the cause
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is matches the error kind
func (e *SyncError) Is(target error) bool {
	return e.Kind == target
}

// NewFetchError HistoryFetchError / MemberFetchError / ChatroomFetchError
func NewFetchError(op, chatroomID string, err error) error {
	return &SyncError{Kind: ErrFetch, Op: op, ChatroomID: chatroomID, Err: err}
}

// NewWriteError SendError / RecallError / other rejected actions
func NewWriteError(op, chatroomID, messageID string, err error) error {
	return &SyncError{Kind: ErrWrite, Op: op, ChatroomID: chatroomID, MessageID: messageID, Err: err}
}

// NewConsistencyError inbound event could not be resolved locally
func NewConsistencyError(chatroomID, messageID string, err error) error {
	return &SyncError{Kind: ErrConsistency, Op: OpInbound, ChatroomID: chatroomID, MessageID: messageID, Err: err}
}

// IsFetchError check err kind
func IsFetchError(err error) bool { return errors.Is(err, ErrFetch) }

// IsWriteError check err kind
func IsWriteError(err error) bool { return errors.Is(err, ErrWrite) }

// IsConsistencyError check err kind
func IsConsistencyError(err error) bool { return errors.Is(err, ErrConsistency) }
