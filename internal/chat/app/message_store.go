package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"meowchat_client/internal/chat/domain"
	"meowchat_client/internal/chat/repository"
	errprocess "meowchat_client/pkg/err"
	"meowchat_client/pkg/logger"

	"go.uber.org/zap"
)

// MessageStore 目前聊天室的訊息集合與日期分組
type MessageStore struct {
	history  repository.HistoryRepository
	messages repository.MessageRepository
	loc      *time.Location

	mu         sync.Mutex
	gen        uint64 // 每次 LoadHistory 遞增, 舊的 response 直接丟掉
	chatroomID string
	items      []domain.Message // 依 createdAt 排序
	ids        map[string]struct{}
	groups     []domain.DateGroup
}

// NewMessageStore create MessageStore, loc 為 nil 時用 time.Local
func NewMessageStore(history repository.HistoryRepository, messages repository.MessageRepository, loc *time.Location) *MessageStore {
	if loc == nil {
		loc = time.Local
	}
	return &MessageStore{
		history:  history,
		messages: messages,
		loc:      loc,
		ids:      map[string]struct{}{},
	}
}

// LoadHistory 取代整個訊息集合. 若在回應前又有新的 LoadHistory, 回傳 ErrStaleResponse 且不動 state
func (s *MessageStore) LoadHistory(ctx context.Context, chatroomID string) error {
	s.mu.Lock()
	s.gen++
	ticket := s.gen
	s.mu.Unlock()

	messages, err := s.history.FetchHistory(ctx, chatroomID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket != s.gen {
		logger.Log.Debug("discard stale history", zap.String("chatroom_id", chatroomID))
		return fmt.Errorf("%w: history of %s", domain.ErrStaleResponse, chatroomID)
	}
	if err != nil {
		return errprocess.Surface(domain.OpLoadHistory, domain.NewFetchError(domain.OpLoadHistory, chatroomID, err),
			zap.String("chatroom_id", chatroomID))
	}
	if err := domain.ValidateMessages(chatroomID, messages); err != nil {
		return errprocess.Surface(domain.OpLoadHistory, domain.NewFetchError(domain.OpLoadHistory, chatroomID, err),
			zap.String("chatroom_id", chatroomID))
	}

	items := make([]domain.Message, 0, len(messages))
	ids := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		if _, ok := ids[m.ID]; ok {
			continue
		}
		ids[m.ID] = struct{}{}
		items = append(items, m)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	s.chatroomID = chatroomID
	s.items = items
	s.ids = ids
	s.regroupLocked()
	return nil
}

// Send 先送到 message service, 拿到 server 的 _id 後才放進本地集合
func (s *MessageStore) Send(ctx context.Context, req domain.SendRequest) (domain.Message, error) {
	if req.Type == "" {
		req.Type = domain.MessageTypeText
	}
	if err := domain.ValidateSend(req); err != nil {
		return domain.Message{}, domain.NewWriteError(domain.OpSend, req.ChatroomID, "", err)
	}

	msg, err := s.messages.Create(ctx, req)
	if err == nil && msg.ID == "" {
		err = errors.New("message service returned no _id")
	}
	if err != nil {
		return domain.Message{}, errprocess.Surface(domain.OpSend, domain.NewWriteError(domain.OpSend, req.ChatroomID, "", err),
			zap.String("chatroom_id", req.ChatroomID))
	}

	if msg.ChatroomID == "" {
		msg.ChatroomID = req.ChatroomID
	}
	if msg.Author.ID == "" {
		msg.Author.ID = req.AuthorID
	}
	if msg.Type == "" {
		msg.Type = req.Type
	}

	s.mu.Lock()
	if msg.ChatroomID == s.chatroomID {
		s.insertLocked(msg)
	}
	s.mu.Unlock()
	return msg, nil
}

// Receive 收到即時訊息. 已存在或不屬於目前聊天室時回傳 false
func (s *MessageStore) Receive(msg domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ChatroomID != s.chatroomID {
		return false
	}
	return s.insertLocked(msg)
}

// Recall 收回自己的訊息, 已收回的訊息直接成功不打 server
func (s *MessageStore) Recall(ctx context.Context, messageID string) error {
	s.mu.Lock()
	chatroomID := s.chatroomID
	idx := s.indexLocked(messageID)
	recalled := idx >= 0 && s.items[idx].IsRecalled
	s.mu.Unlock()

	if idx < 0 {
		return domain.NewWriteError(domain.OpRecall, chatroomID, messageID,
			fmt.Errorf("%w: message not loaded", domain.ErrConsistency))
	}
	if recalled {
		return nil
	}

	if _, err := s.messages.Recall(ctx, messageID); err != nil {
		return errprocess.Surface(domain.OpRecall, domain.NewWriteError(domain.OpRecall, chatroomID, messageID, err),
			zap.String("chatroom_id", chatroomID), zap.String("message_id", messageID))
	}

	s.mu.Lock()
	s.markRecalledLocked(messageID)
	s.mu.Unlock()
	return nil
}

// MarkRecalled 收到別人收回的 event, 只改本地. 回傳是否有變動
func (s *MessageStore) MarkRecalled(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(messageID)
	if idx < 0 {
		return false, domain.NewConsistencyError(s.chatroomID, messageID, errors.New("recall of unknown message"))
	}
	if s.items[idx].IsRecalled {
		return false, nil
	}
	s.markRecalledLocked(messageID)
	return true, nil
}

// ChatroomID chat room the messages belong to
func (s *MessageStore) ChatroomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatroomID
}

// Messages snapshot in createdAt order
func (s *MessageStore) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.items))
	copy(out, s.items)
	return out
}

// Get message by id
func (s *MessageStore) Get(messageID string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(messageID); idx >= 0 {
		return s.items[idx], true
	}
	return domain.Message{}, false
}

// Newest the latest message of the chat room
func (s *MessageStore) Newest() (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return domain.Message{}, false
	}
	return s.items[len(s.items)-1], true
}

// GroupByDate date groups of the current message set
func (s *MessageStore) GroupByDate() []domain.DateGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DateGroup, len(s.groups))
	for i, g := range s.groups {
		out[i] = domain.DateGroup{Date: g.Date, Messages: append([]domain.Message(nil), g.Messages...)}
	}
	return out
}

// insertLocked 依 createdAt 插入, 同時間的訊息排在後面
func (s *MessageStore) insertLocked(msg domain.Message) bool {
	if _, ok := s.ids[msg.ID]; ok {
		return false
	}
	i := sort.Search(len(s.items), func(i int) bool {
		return s.items[i].CreatedAt.After(msg.CreatedAt)
	})
	s.items = append(s.items, domain.Message{})
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = msg
	s.ids[msg.ID] = struct{}{}
	s.regroupLocked()
	return true
}

func (s *MessageStore) indexLocked(messageID string) int {
	if _, ok := s.ids[messageID]; !ok {
		return -1
	}
	for i := range s.items {
		if s.items[i].ID == messageID {
			return i
		}
	}
	return -1
}

// markRecalledLocked 連同回覆引用到的那則一起標記
func (s *MessageStore) markRecalledLocked(messageID string) {
	for i := range s.items {
		if s.items[i].ID == messageID {
			s.items[i].IsRecalled = true
		}
		if reply := s.items[i].ReplyTo; reply != nil && reply.ID == messageID && !reply.IsRecalled {
			cp := *reply
			cp.IsRecalled = true
			s.items[i].ReplyTo = &cp
		}
	}
	s.regroupLocked()
}

// regroupLocked 每次變動都整個重算, 不做增量
func (s *MessageStore) regroupLocked() {
	s.groups = groupSorted(s.items, s.loc)
}

// GroupByDate partition messages by calendar day in loc, days and messages ascending
func GroupByDate(messages []domain.Message, loc *time.Location) []domain.DateGroup {
	sorted := make([]domain.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return groupSorted(sorted, loc)
}

func groupSorted(messages []domain.Message, loc *time.Location) []domain.DateGroup {
	groups := []domain.DateGroup{}
	for _, m := range messages {
		key := m.DateKey(loc)
		if n := len(groups); n > 0 && groups[n-1].Date == key {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, domain.DateGroup{Date: key, Messages: []domain.Message{m}})
	}
	return groups
}
