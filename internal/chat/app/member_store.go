package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meowchat_client/internal/chat/domain"
	"meowchat_client/internal/chat/repository"
	errprocess "meowchat_client/pkg/err"

	"go.uber.org/zap"
)

// MemberStore 每個聊天室成員的已讀時間與自己的未讀數
type MemberStore struct {
	repo repository.MemberRepository
	now  func() time.Time

	mu      sync.Mutex
	userID  string
	members map[string][]domain.ChatroomMember // chatroom_id -> members
	self    map[string]domain.ChatroomMember   // chatroom_id -> 自己的那筆
	others  map[string][]domain.ChatroomMember // chatroom_id -> 其他成員

	readCounts     map[string]int // message_id -> 已讀人數
	readCountsRoom string
}

// NewMemberStore create MemberStore
func NewMemberStore(repo repository.MemberRepository, now func() time.Time) *MemberStore {
	if now == nil {
		now = time.Now
	}
	return &MemberStore{
		repo:       repo,
		now:        now,
		members:    map[string][]domain.ChatroomMember{},
		self:       map[string]domain.ChatroomMember{},
		others:     map[string][]domain.ChatroomMember{},
		readCounts: map[string]int{},
	}
}

// LoadMembers 取得 user 所有聊天室的成員. last_read_at 不會比本地的舊
func (s *MemberStore) LoadMembers(ctx context.Context, userID string) error {
	all, err := s.repo.FetchAll(ctx, userID)
	if err != nil {
		return errprocess.Surface(domain.OpLoadMembers, domain.NewFetchError(domain.OpLoadMembers, "", err),
			zap.String("user_id", userID))
	}

	members := make(map[string][]domain.ChatroomMember, len(all))
	for chatroomID, list := range all {
		for _, m := range list {
			if m.ChatroomID == "" {
				m.ChatroomID = chatroomID
			}
			if err := domain.Validator().Struct(m); err != nil {
				return errprocess.Surface(domain.OpLoadMembers,
					domain.NewFetchError(domain.OpLoadMembers, chatroomID, fmt.Errorf("member %s: %w", m.UserID, err)),
					zap.String("user_id", userID))
			}
			members[m.ChatroomID] = upsertMember(members[m.ChatroomID], m)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == userID {
		for chatroomID, list := range members {
			for i, m := range list {
				if cur, ok := findMember(s.members[chatroomID], m.UserID); ok && cur.LastReadAt.After(m.LastReadAt) {
					list[i].LastReadAt = cur.LastReadAt
				}
			}
		}
	}
	s.userID = userID
	s.members = members
	s.rederiveLocked()
	return nil
}

// MarkRead 把自己在聊天室的 last_read_at 設為現在
func (s *MemberStore) MarkRead(ctx context.Context, userID, chatroomID string) (domain.ChatroomMember, error) {
	at := s.now()
	m, err := s.repo.MarkRead(ctx, userID, chatroomID, at)
	if err != nil {
		return domain.ChatroomMember{}, errprocess.Surface(domain.OpMarkRead,
			domain.NewWriteError(domain.OpMarkRead, chatroomID, "", err), zap.String("chatroom_id", chatroomID))
	}
	m = normalizeMember(m, userID, chatroomID)
	if m.LastReadAt.IsZero() {
		m.LastReadAt = at
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[chatroomID] = upsertMember(s.members[chatroomID], m)
	s.rederiveLocked()
	cur, _ := findMember(s.members[chatroomID], userID)
	return cur, nil
}

// ApplyReadAdvance 收到 read-timestamp event, 只接受往後推的時間. 回傳是否有變動
func (s *MemberStore) ApplyReadAdvance(chatroomID, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.members[chatroomID]
	for i := range list {
		if list[i].UserID != userID {
			continue
		}
		if !at.After(list[i].LastReadAt) {
			return false, nil
		}
		list[i].LastReadAt = at
		s.rederiveLocked()
		return true, nil
	}
	return false, domain.NewConsistencyError(chatroomID, "", fmt.Errorf("unknown member %s", userID))
}

// RefreshUnreadCount server 重算未讀數, 回來後以當下的 state 為準更新
func (s *MemberStore) RefreshUnreadCount(ctx context.Context, userID, chatroomID string) (int, error) {
	m, err := s.repo.RefreshUnread(ctx, userID, chatroomID)
	if err != nil {
		return 0, errprocess.Surface(domain.OpRefreshUnread,
			domain.NewFetchError(domain.OpRefreshUnread, chatroomID, err), zap.String("chatroom_id", chatroomID))
	}
	if m.UnreadCount < 0 {
		m.UnreadCount = 0
	}
	m = normalizeMember(m, userID, chatroomID)

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.members[chatroomID]
	for i := range list {
		if list[i].UserID == userID {
			list[i].UnreadCount = m.UnreadCount
			s.rederiveLocked()
			return m.UnreadCount, nil
		}
	}
	s.members[chatroomID] = append(list, m)
	s.rederiveLocked()
	return m.UnreadCount, nil
}

// AddMember 加入聊天室 (接受群組邀請), 同一個 user 的舊紀錄會被取代
func (s *MemberStore) AddMember(ctx context.Context, userID, chatroomID string) (domain.ChatroomMember, error) {
	m, err := s.repo.AddMember(ctx, userID, chatroomID)
	if err != nil {
		return domain.ChatroomMember{}, errprocess.Surface(domain.OpAddMember,
			domain.NewWriteError(domain.OpAddMember, chatroomID, "", err), zap.String("chatroom_id", chatroomID))
	}
	m = normalizeMember(m, userID, chatroomID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[chatroomID] = upsertMember(s.members[chatroomID], m)
	s.rederiveLocked()
	cur, _ := findMember(s.members[chatroomID], userID)
	return cur, nil
}

// ComputeReadCounts 重算 chatroomID 內每則訊息的已讀人數並保存
func (s *MemberStore) ComputeReadCounts(messages []domain.Message, chatroomID string) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	inRoom := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.ChatroomID == chatroomID {
			inRoom = append(inRoom, m)
		}
	}
	s.readCounts = ReadCounts(inRoom, s.members[chatroomID])
	s.readCountsRoom = chatroomID

	out := make(map[string]int, len(s.readCounts))
	for k, v := range s.readCounts {
		out[k] = v
	}
	return out
}

// ReadCount last computed read count of a message
func (s *MemberStore) ReadCount(messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readCounts[messageID]
}

// Self own member record in a chat room
func (s *MemberStore) Self(chatroomID string) (domain.ChatroomMember, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.self[chatroomID]
	return m, ok
}

// Others other members of a chat room
func (s *MemberStore) Others(chatroomID string) []domain.ChatroomMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatroomMember(nil), s.others[chatroomID]...)
}

// Members all members of a chat room
func (s *MemberStore) Members(chatroomID string) []domain.ChatroomMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatroomMember(nil), s.members[chatroomID]...)
}

// UnreadCount own unread counter, sidebar badge
func (s *MemberStore) UnreadCount(chatroomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self[chatroomID].UnreadCount
}

// rederiveLocked 重建 self / others
func (s *MemberStore) rederiveLocked() {
	self := make(map[string]domain.ChatroomMember, len(s.members))
	others := make(map[string][]domain.ChatroomMember, len(s.members))
	for chatroomID, list := range s.members {
		for _, m := range list {
			if m.UserID == s.userID {
				self[chatroomID] = m
				continue
			}
			others[chatroomID] = append(others[chatroomID], m)
		}
	}
	s.self = self
	s.others = others
}

// ReadCounts 每則訊息有幾個非作者的成員 last_read_at 嚴格晚於 createdAt
func ReadCounts(messages []domain.Message, members []domain.ChatroomMember) map[string]int {
	counts := make(map[string]int, len(messages))
	for _, msg := range messages {
		n := 0
		for _, m := range members {
			if m.UserID == msg.AuthorID() {
				continue
			}
			if m.HasRead(msg.CreatedAt) {
				n++
			}
		}
		counts[msg.ID] = n
	}
	return counts
}

func findMember(list []domain.ChatroomMember, userID string) (domain.ChatroomMember, bool) {
	for _, m := range list {
		if m.UserID == userID {
			return m, true
		}
	}
	return domain.ChatroomMember{}, false
}

// upsertMember 同一個 user 只留一筆, last_read_at 取較晚的
func upsertMember(list []domain.ChatroomMember, m domain.ChatroomMember) []domain.ChatroomMember {
	for i := range list {
		if list[i].UserID != m.UserID {
			continue
		}
		if list[i].LastReadAt.After(m.LastReadAt) {
			m.LastReadAt = list[i].LastReadAt
		}
		if m.JoinedAt.IsZero() {
			m.JoinedAt = list[i].JoinedAt
		}
		list[i] = m
		return list
	}
	return append(list, m)
}

func normalizeMember(m domain.ChatroomMember, userID, chatroomID string) domain.ChatroomMember {
	if m.UserID == "" {
		m.UserID = userID
	}
	if m.ChatroomID == "" {
		m.ChatroomID = chatroomID
	}
	return m
}
