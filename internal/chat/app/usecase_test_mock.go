package app

import (
	"context"
	"sync"
	"time"

	"meowchat_client/internal/chat/domain"

	"github.com/stretchr/testify/mock"
)

// MockHistoryRepository Mock HistoryRepository
type MockHistoryRepository struct {
	mock.Mock
}

// FetchHistory moke fetch history
func (m *MockHistoryRepository) FetchHistory(ctx context.Context, chatroomID string) ([]domain.Message, error) {
	args := m.Called(ctx, chatroomID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// Create moke create message
func (m *MockMessageRepository) Create(ctx context.Context, req domain.SendRequest) (domain.Message, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.Message), args.Error(1)
}

// Recall moke recall message
func (m *MockMessageRepository) Recall(ctx context.Context, messageID string) (domain.Message, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).(domain.Message), args.Error(1)
}

// MockMemberRepository Mock MemberRepository
type MockMemberRepository struct {
	mock.Mock
}

// FetchAll moke fetch members
func (m *MockMemberRepository) FetchAll(ctx context.Context, userID string) (map[string][]domain.ChatroomMember, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) != nil {
		return args.Get(0).(map[string][]domain.ChatroomMember), args.Error(1)
	}
	return nil, args.Error(1)
}

// MarkRead moke mark read
func (m *MockMemberRepository) MarkRead(ctx context.Context, userID, chatroomID string, at time.Time) (domain.ChatroomMember, error) {
	args := m.Called(ctx, userID, chatroomID, at)
	return args.Get(0).(domain.ChatroomMember), args.Error(1)
}

// RefreshUnread moke refresh unread
func (m *MockMemberRepository) RefreshUnread(ctx context.Context, userID, chatroomID string) (domain.ChatroomMember, error) {
	args := m.Called(ctx, userID, chatroomID)
	return args.Get(0).(domain.ChatroomMember), args.Error(1)
}

// AddMember moke add member
func (m *MockMemberRepository) AddMember(ctx context.Context, userID, chatroomID string) (domain.ChatroomMember, error) {
	args := m.Called(ctx, userID, chatroomID)
	return args.Get(0).(domain.ChatroomMember), args.Error(1)
}

// MockRoomRepository Mock RoomRepository
type MockRoomRepository struct {
	mock.Mock
}

// FetchAll moke fetch chat rooms
func (m *MockRoomRepository) FetchAll(ctx context.Context, userID string) ([]domain.Chatroom, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Chatroom), args.Error(1)
	}
	return nil, args.Error(1)
}

// FetchOne moke fetch chat room
func (m *MockRoomRepository) FetchOne(ctx context.Context, chatroomID string) (domain.Chatroom, error) {
	args := m.Called(ctx, chatroomID)
	return args.Get(0).(domain.Chatroom), args.Error(1)
}

// Create moke create chat room
func (m *MockRoomRepository) Create(ctx context.Context, req domain.CreateChatroomRequest) (domain.Chatroom, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.Chatroom), args.Error(1)
}

// Invite moke invite
func (m *MockRoomRepository) Invite(ctx context.Context, chatroomID, userID string) (domain.Chatroom, error) {
	args := m.Called(ctx, chatroomID, userID)
	return args.Get(0).(domain.Chatroom), args.Error(1)
}

// MockUserRepository Mock UserRepository
type MockUserRepository struct {
	mock.Mock
}

// FetchOthers moke fetch users
func (m *MockUserRepository) FetchOthers(ctx context.Context, userID string) ([]domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockEventChannel Mock EventChannel, Subscribe 會記下 handler 讓測試推 event
type MockEventChannel struct {
	mock.Mock

	mu      sync.Mutex
	handler func(domain.Event)
}

// Emit moke emit
func (m *MockEventChannel) Emit(ctx context.Context, event domain.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// Subscribe moke subscribe
func (m *MockEventChannel) Subscribe(ctx context.Context, handler func(domain.Event)) error {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	args := m.Called(ctx, mock.Anything)
	return args.Error(0)
}

// Close moke close
func (m *MockEventChannel) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Push deliver an inbound event to the subscribed handler
func (m *MockEventChannel) Push(e domain.Event) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(e)
	}
}

// Emitted events emitted with the given name, in call order
func (m *MockEventChannel) Emitted(name domain.EventName) []domain.Event {
	var out []domain.Event
	for _, call := range m.Calls {
		if call.Method != "Emit" {
			continue
		}
		if e, ok := call.Arguments.Get(1).(domain.Event); ok && e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
