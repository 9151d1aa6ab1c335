package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"meowchat_client/internal/chat/domain"
	"meowchat_client/internal/chat/repository"
	"meowchat_client/pkg"
	errprocess "meowchat_client/pkg/err"
	"meowchat_client/pkg/logger"

	"go.uber.org/zap"
)

// RoomStore 使用者看得到的聊天室, 依種類分區, 以及目前選中的聊天室
type RoomStore struct {
	repo repository.RoomRepository

	mu     sync.Mutex
	selfID string
	rooms  map[string]domain.Chatroom
	order  map[domain.ChatroomType][]string
	active string
}

// NewRoomStore create RoomStore
func NewRoomStore(repo repository.RoomRepository) *RoomStore {
	return &RoomStore{
		repo:  repo,
		rooms: map[string]domain.Chatroom{},
		order: map[domain.ChatroomType][]string{},
	}
}

// LoadChatrooms 以 server 的清單為準重建目錄, 推測出來的私訊聊天室會被丟掉.
// 目前的聊天室還在就保留, 否則改選第一個 global
func (s *RoomStore) LoadChatrooms(ctx context.Context, userID string) (domain.Chatroom, bool, error) {
	rooms, err := s.repo.FetchAll(ctx, userID)
	if err != nil {
		return domain.Chatroom{}, false, errprocess.Surface(domain.OpLoadChatrooms,
			domain.NewFetchError(domain.OpLoadChatrooms, "", err), zap.String("user_id", userID))
	}
	for i := range rooms {
		if err := domain.Validator().Struct(rooms[i]); err != nil {
			return domain.Chatroom{}, false, errprocess.Surface(domain.OpLoadChatrooms,
				domain.NewFetchError(domain.OpLoadChatrooms, rooms[i].ID, err), zap.String("user_id", userID))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for _, r := range s.rooms {
		if r.Tentative {
			dropped++
		}
	}
	if dropped > 0 {
		logger.Log.Debug("drop tentative chatrooms", zap.Int("count", dropped))
	}

	s.selfID = userID
	s.rooms = make(map[string]domain.Chatroom, len(rooms))
	s.order = map[domain.ChatroomType][]string{}
	for _, r := range rooms {
		r.Tentative = false
		s.upsertLocked(r)
	}

	if _, ok := s.rooms[s.active]; !ok {
		s.active = ""
		if global := s.order[domain.ChatroomTypeGlobal]; len(global) > 0 {
			s.active = global[0]
		}
	}
	room, ok := s.rooms[s.active]
	return room, ok, nil
}

// SetActive 切換目前聊天室, 不在目錄裡的會一併加入
func (s *RoomStore) SetActive(room domain.Chatroom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; !ok {
		s.upsertLocked(room)
	}
	s.active = room.ID
}

// Active current chat room
func (s *RoomStore) Active() (domain.Chatroom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[s.active]
	return room, ok
}

// Create 建立聊天室. 私訊對象已經有聊天室時直接回傳舊的 (created = false) 並設為目前聊天室
func (s *RoomStore) Create(ctx context.Context, req domain.CreateChatroomRequest) (room domain.Chatroom, created bool, err error) {
	if err := domain.ValidateCreate(req); err != nil {
		return domain.Chatroom{}, false, domain.NewWriteError(domain.OpCreate, "", "", err)
	}

	if req.Type == domain.ChatroomTypePrivate {
		s.mu.Lock()
		existing, ok := s.findPrivateLocked(req.Members)
		if ok {
			s.active = existing.ID
		}
		s.mu.Unlock()
		if ok {
			return existing, false, nil
		}
	}

	room, err = s.repo.Create(ctx, req)
	if err == nil && room.ID == "" {
		err = errors.New("chatroom service returned no _id")
	}
	if err != nil {
		return domain.Chatroom{}, false, errprocess.Surface(domain.OpCreate, domain.NewWriteError(domain.OpCreate, "", "", err))
	}
	if room.Type == "" {
		room.Type = req.Type
	}
	if len(room.Members) == 0 {
		room.Members = append([]string(nil), req.Members...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(room)
	s.active = room.ID
	return room, true, nil
}

// FetchOne 重新拿一個聊天室, 取代目錄裡的資料
func (s *RoomStore) FetchOne(ctx context.Context, chatroomID string) (domain.Chatroom, error) {
	room, err := s.repo.FetchOne(ctx, chatroomID)
	if err == nil && room.ID != chatroomID {
		err = fmt.Errorf("chatroom service returned %q", room.ID)
	}
	if err != nil {
		return domain.Chatroom{}, errprocess.Surface(domain.OpFetchChatroom,
			domain.NewFetchError(domain.OpFetchChatroom, chatroomID, err), zap.String("chatroom_id", chatroomID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(room)
	return room, nil
}

// Invite 邀請 user 進群組, 回傳更新後的聊天室
func (s *RoomStore) Invite(ctx context.Context, chatroomID, userID string) (domain.Chatroom, error) {
	room, err := s.repo.Invite(ctx, chatroomID, userID)
	if err == nil && room.ID == "" {
		err = errors.New("chatroom service returned no _id")
	}
	if err != nil {
		return domain.Chatroom{}, errprocess.Surface(domain.OpInvite,
			domain.NewWriteError(domain.OpInvite, chatroomID, "", err), zap.String("chatroom_id", chatroomID))
	}
	if room.Type == "" {
		room.Type = domain.ChatroomTypeGroup
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(room)
	return room, nil
}

// MaterializeFromInboundMessage 陌生私訊的第一則訊息, 依作者資料推測一個私訊聊天室 (Tentative).
// 聊天室已存在時回傳 false
func (s *RoomStore) MaterializeFromInboundMessage(msg domain.Message, chatroomID string) (domain.Chatroom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[chatroomID]; ok {
		return room, false
	}

	members := []string{msg.AuthorID()}
	if s.selfID != "" && s.selfID != msg.AuthorID() {
		members = []string{s.selfID, msg.AuthorID()}
	}
	room := domain.Chatroom{
		ID:        chatroomID,
		Type:      domain.ChatroomTypePrivate,
		Avatar:    msg.Author.Avatar,
		Name:      msg.Author.Username,
		Members:   members,
		Tentative: true,
	}
	s.upsertLocked(room)
	return room, true
}

// Get chat room by id
func (s *RoomStore) Get(chatroomID string) (domain.Chatroom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[chatroomID]
	return room, ok
}

// Global global partition in fetch order
func (s *RoomStore) Global() []domain.Chatroom {
	return s.partition(domain.ChatroomTypeGlobal)
}

// Groups group partition in fetch order
func (s *RoomStore) Groups() []domain.Chatroom {
	return s.partition(domain.ChatroomTypeGroup)
}

// Private private partition in fetch order
func (s *RoomStore) Private() []domain.Chatroom {
	return s.partition(domain.ChatroomTypePrivate)
}

func (s *RoomStore) partition(t domain.ChatroomType) []domain.Chatroom {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.order[t]
	out := make([]domain.Chatroom, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.rooms[id])
	}
	return out
}

// findPrivateLocked 以對象判斷私訊聊天室是否已存在
func (s *RoomStore) findPrivateLocked(members []string) (domain.Chatroom, bool) {
	counterpart := ""
	for _, m := range members {
		if m != s.selfID {
			counterpart = m
			break
		}
	}
	if counterpart == "" {
		return domain.Chatroom{}, false
	}
	for _, id := range s.order[domain.ChatroomTypePrivate] {
		if room := s.rooms[id]; room.HasMember(counterpart) {
			return room, true
		}
	}
	return domain.Chatroom{}, false
}

// upsertLocked 更新 map, 並維持每個分區的順序 (新的排最後)
func (s *RoomStore) upsertLocked(room domain.Chatroom) {
	if old, ok := s.rooms[room.ID]; ok && old.Type != room.Type {
		s.order[old.Type] = pkg.Remove(s.order[old.Type], room.ID)
	}
	s.order[room.Type] = pkg.AppendIfNotExists(s.order[room.Type], room.ID)
	s.rooms[room.ID] = room
}
