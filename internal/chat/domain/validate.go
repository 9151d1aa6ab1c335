package domain

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator shared validator instance
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateMessages checks a history payload: every message valid and belonging to chatroomID
func ValidateMessages(chatroomID string, messages []Message) error {
	for i := range messages {
		if err := Validator().Struct(messages[i]); err != nil {
			return fmt.Errorf("message[%d]: %w", i, err)
		}
		if messages[i].ChatroomID != chatroomID {
			return fmt.Errorf("message[%d] %s belongs to chatroom %s", i, messages[i].ID, messages[i].ChatroomID)
		}
	}
	return nil
}

// ValidateSend checks a send request before calling the message service
func ValidateSend(req SendRequest) error {
	if strings.TrimSpace(req.Content) == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidInput)
	}
	if err := Validator().Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// ValidateCreate checks a create chat room request, private rooms need exactly 2 members
func ValidateCreate(req CreateChatroomRequest) error {
	if err := Validator().Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.Type == ChatroomTypePrivate && len(req.Members) != 2 {
		return fmt.Errorf("%w: private room must have exactly 2 members", ErrInvalidInput)
	}
	return nil
}

// ValidateEvent checks an inbound envelope carries what its name needs
func ValidateEvent(e Event) error {
	if err := Validator().Struct(e); err != nil {
		return err
	}
	switch e.Name {
	case EventMessagePosted:
		if e.Message == nil {
			return fmt.Errorf("%s: missing message", e.Name)
		}
		if err := Validator().Struct(*e.Message); err != nil {
			return fmt.Errorf("%s: %w", e.Name, err)
		}
	case EventMessageRecalled:
		if e.MessageID == "" {
			return fmt.Errorf("%s: missing message_id", e.Name)
		}
	case EventReadAdvanced:
		if e.ChatroomID == "" || e.UserID == "" {
			return fmt.Errorf("%s: missing chatroom_id or user_id", e.Name)
		}
	case EventUnreadChanged:
		if e.ChatroomID == "" {
			return fmt.Errorf("%s: missing chatroom_id", e.Name)
		}
	case EventInviteSent:
		if e.Chatroom == nil || e.InviteeID == "" {
			return fmt.Errorf("%s: missing chatroom or invitee_id", e.Name)
		}
	case EventPresenceChanged:
		if e.UserID == "" {
			return fmt.Errorf("%s: missing user_id", e.Name)
		}
	}
	return nil
}
