package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"meowchat_client/internal/chat/domain"
	"meowchat_client/internal/chat/repository"
	"meowchat_client/pkg/logger"

	"go.uber.org/zap"
)

// DefaultReplayBuffer live events kept while a chat room switch is in flight
const DefaultReplayBuffer = 256

// Stores the stores a Coordinator drives
type Stores struct {
	Messages *MessageStore
	Members  *MemberStore
	Rooms    *RoomStore
	Users    *UserDirectory
}

// Coordinator 把 socket event 接到各個 store, 並負責切換聊天室的順序
type Coordinator struct {
	self    domain.User
	stores  Stores
	channel repository.EventChannel

	// dispatchMu 讓 event 與 replay 依到達順序一個一個處理
	dispatchMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	current   string // 最後一次切換的聊天室
	ready     bool
	buffer    []domain.Event
	maxBuffer int
	invites   []domain.Invite
	listeners []func(domain.ChangeKind)

	// deferring 為 true 時 dispatchMu 被持有, 通知先排隊到 unlockDispatch 才送
	deferring bool
	pending   []domain.ChangeKind
}

// NewCoordinator create Coordinator, replayBuffer <= 0 時用 DefaultReplayBuffer
func NewCoordinator(self domain.User, stores Stores, channel repository.EventChannel, replayBuffer int) *Coordinator {
	if replayBuffer <= 0 {
		replayBuffer = DefaultReplayBuffer
	}
	return &Coordinator{
		self:      self,
		stores:    stores,
		channel:   channel,
		maxBuffer: replayBuffer,
	}
}

// OnChange register a listener called after every derived state change.
// 處理 event 時的通知會等 event 處理完才送, listener 可以再呼叫 SwitchChatroom 等操作
func (c *Coordinator) OnChange(fn func(domain.ChangeKind)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Self local user
func (c *Coordinator) Self() domain.User { return c.self }

// Stores stores driven by the coordinator
func (c *Coordinator) Stores() Stores { return c.stores }

// Ready the active chat room has finished loading
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Start 訂閱 event channel, 整個 session 只呼叫一次
func (c *Coordinator) Start(ctx context.Context) error {
	return c.channel.Subscribe(ctx, func(e domain.Event) {
		c.HandleEvent(ctx, e)
	})
}

// Login 訂閱 channel, 載入聊天室目錄與使用者, 再切到預設聊天室
func (c *Coordinator) Login(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("subscribe event channel: %w", err)
	}

	active, ok, err := c.stores.Rooms.LoadChatrooms(ctx, c.self.ID)
	if err != nil {
		return err
	}
	c.notify(domain.ChangeChatrooms)

	if _, err := c.stores.Users.Load(ctx, c.self.ID); err != nil {
		// 使用者清單失敗不影響聊天
		logger.Log.Warn("user directory unavailable", zap.Error(err))
	} else {
		c.notify(domain.ChangePresence)
	}

	if !ok {
		logger.Log.Info("no global chatroom to open", zap.String("user_id", c.self.ID))
		return nil
	}
	return c.SwitchChatroom(ctx, active)
}

// Logout emit logout then close the event channel
func (c *Coordinator) Logout(ctx context.Context) error {
	c.emit(ctx, domain.Event{Name: domain.EventLogout, UserID: c.self.ID})

	c.mu.Lock()
	c.gen++
	c.ready = false
	c.current = ""
	c.buffer = nil
	c.mu.Unlock()

	return c.channel.Close()
}

// SwitchChatroom 依序載入歷史訊息與成員, 完成後才處理該聊天室的即時 event.
// 切換途中又切到別的聊天室時回傳 ErrStaleResponse
func (c *Coordinator) SwitchChatroom(ctx context.Context, room domain.Chatroom) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	prev := c.current
	c.current = room.ID
	c.ready = false
	c.buffer = nil
	c.mu.Unlock()

	if prev != "" && prev != room.ID {
		c.emit(ctx, domain.Event{Name: domain.EventLeaveRoom, ChatroomID: prev, UserID: c.self.ID})
	}
	c.stores.Rooms.SetActive(room)
	c.notify(domain.ChangeChatrooms)

	if err := c.stores.Messages.LoadHistory(ctx, room.ID); err != nil {
		c.abortSwitch(gen, room.ID, err)
		return err
	}
	if !c.isCurrent(gen) {
		return fmt.Errorf("%w: switch to %s superseded", domain.ErrStaleResponse, room.ID)
	}
	c.notify(domain.ChangeMessages)

	if err := c.stores.Members.LoadMembers(ctx, c.self.ID); err != nil {
		c.abortSwitch(gen, room.ID, err)
		return err
	}

	c.lockDispatch()
	defer c.unlockDispatch()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return fmt.Errorf("%w: switch to %s superseded", domain.ErrStaleResponse, room.ID)
	}
	c.ready = true
	buffered := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	c.notify(domain.ChangeMembers)
	c.recomputeReadCounts()
	c.emit(ctx, domain.Event{Name: domain.EventJoinRoom, ChatroomID: room.ID, UserID: c.self.ID})

	if len(buffered) > 0 {
		logger.Log.Debug("replay buffered events", zap.String("chatroom_id", room.ID), zap.Int("count", len(buffered)))
	}
	for _, e := range buffered {
		c.dispatch(ctx, e)
	}
	return nil
}

// abortSwitch 載入失敗, 聊天室維持 not ready, 已暫存的 event 丟掉
func (c *Coordinator) abortSwitch(gen uint64, chatroomID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if n := len(c.buffer); n > 0 {
		logger.Log.Warn("drop buffered events after failed switch",
			zap.String("chatroom_id", chatroomID), zap.Int("count", n), zap.Error(err))
	}
	c.buffer = nil
}

func (c *Coordinator) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// activeReady 目前聊天室, 只有載入完成才回傳 true
func (c *Coordinator) activeReady() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.ready && c.current != ""
}

// HandleEvent inbound event 的入口, 切換中的聊天室的 event 會先暫存
func (c *Coordinator) HandleEvent(ctx context.Context, e domain.Event) {
	c.lockDispatch()
	defer c.unlockDispatch()

	if c.bufferIfSwitching(e) {
		return
	}
	c.dispatch(ctx, e)
}

func (c *Coordinator) bufferIfSwitching(e domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready || c.current == "" {
		return false
	}

	switch e.Name {
	case domain.EventMessagePosted:
		if e.Message == nil || e.Message.ChatroomID != c.current {
			return false
		}
	case domain.EventReadAdvanced:
		if e.ChatroomID != c.current {
			return false
		}
	case domain.EventMessageRecalled:
		// recall event 沒有 chatroom_id, 切換中一律暫存
	default:
		return false
	}

	if len(c.buffer) >= c.maxBuffer {
		dropped := c.buffer[0]
		c.buffer = c.buffer[1:]
		logger.Log.Warn("replay buffer full, drop oldest event",
			zap.String("chatroom_id", c.current), zap.String("event", string(dropped.Name)))
	}
	c.buffer = append(c.buffer, e)
	return true
}

func (c *Coordinator) dispatch(ctx context.Context, e domain.Event) {
	switch e.Name {
	case domain.EventMessagePosted:
		c.onMessagePosted(ctx, e)
	case domain.EventMessageRecalled:
		c.onMessageRecalled(e)
	case domain.EventReadAdvanced:
		c.onReadAdvanced(ctx, e)
	case domain.EventUnreadChanged:
		c.onUnreadChanged(ctx, e)
	case domain.EventInviteSent:
		c.onInviteSent(e)
	case domain.EventInviteAccepted:
		c.onInviteAccepted(ctx, e)
	case domain.EventPresenceChanged:
		c.onPresenceChanged(e)
	default:
		logger.Log.Debug("ignore event", zap.String("event", string(e.Name)))
	}
}

func (c *Coordinator) onMessagePosted(ctx context.Context, e domain.Event) {
	if e.Message == nil {
		return
	}
	msg := *e.Message
	if msg.AuthorID() == c.self.ID {
		return
	}

	if _, created := c.stores.Rooms.MaterializeFromInboundMessage(msg, msg.ChatroomID); created {
		logger.Log.Info("materialize private chatroom", zap.String("chatroom_id", msg.ChatroomID),
			zap.String("user_id", msg.AuthorID()))
		c.notify(domain.ChangeChatrooms)
	}

	active, ready := c.activeReady()
	if !ready || msg.ChatroomID != active {
		// 其他聊天室: 只更新側邊欄的未讀數
		if _, err := c.stores.Members.RefreshUnreadCount(ctx, c.self.ID, msg.ChatroomID); err == nil {
			c.notify(domain.ChangeMembers)
		}
		return
	}

	if !c.stores.Messages.Receive(msg) {
		return
	}
	c.notify(domain.ChangeMessages)
	c.recomputeReadCounts()
	c.emit(ctx, domain.UnreadChanged(msg.ChatroomID))
}

func (c *Coordinator) onMessageRecalled(e domain.Event) {
	if e.UserID == c.self.ID {
		return
	}
	changed, err := c.stores.Messages.MarkRecalled(e.MessageID)
	if err != nil {
		c.drop(e, err)
		return
	}
	if changed {
		c.notify(domain.ChangeMessages)
	}
}

func (c *Coordinator) onReadAdvanced(ctx context.Context, e domain.Event) {
	active, ready := c.activeReady()
	if !ready || e.ChatroomID != active {
		return
	}

	if e.LastReadAt == nil {
		// 沒帶時間就重拿一次成員
		if err := c.stores.Members.LoadMembers(ctx, c.self.ID); err != nil {
			return
		}
	} else {
		changed, err := c.stores.Members.ApplyReadAdvance(e.ChatroomID, e.UserID, *e.LastReadAt)
		if err != nil {
			c.drop(e, err)
			return
		}
		if !changed {
			return
		}
	}
	c.notify(domain.ChangeMembers)
	c.recomputeReadCounts()
}

func (c *Coordinator) onUnreadChanged(ctx context.Context, e domain.Event) {
	if _, err := c.stores.Members.RefreshUnreadCount(ctx, c.self.ID, e.ChatroomID); err != nil {
		return
	}
	c.notify(domain.ChangeMembers)
}

func (c *Coordinator) onInviteSent(e domain.Event) {
	if e.InviteeID != c.self.ID || e.Chatroom == nil {
		return
	}
	invite := domain.Invite{Chatroom: *e.Chatroom, InviteeID: e.InviteeID}
	if e.Inviter != nil {
		invite.Inviter = *e.Inviter
	} else {
		invite.Inviter = domain.User{ID: e.UserID}
	}

	c.mu.Lock()
	for _, inv := range c.invites {
		if inv.Chatroom.ID == invite.Chatroom.ID {
			c.mu.Unlock()
			return
		}
	}
	c.invites = append(c.invites, invite)
	c.mu.Unlock()
	c.notify(domain.ChangeInvite)
}

func (c *Coordinator) onInviteAccepted(ctx context.Context, e domain.Event) {
	if e.UserID == c.self.ID || e.ChatroomID == "" {
		return
	}
	if _, ok := c.stores.Rooms.Get(e.ChatroomID); !ok {
		return
	}
	if _, err := c.stores.Rooms.FetchOne(ctx, e.ChatroomID); err == nil {
		c.notify(domain.ChangeChatrooms)
	}
	if active, ready := c.activeReady(); ready && active == e.ChatroomID {
		if err := c.stores.Members.LoadMembers(ctx, c.self.ID); err == nil {
			c.notify(domain.ChangeMembers)
			c.recomputeReadCounts()
		}
	}
}

func (c *Coordinator) onPresenceChanged(e domain.Event) {
	if !c.stores.Users.SetStatus(e.UserID, e.Status) {
		logger.Log.Debug("presence of unknown user", zap.String("user_id", e.UserID))
		return
	}
	c.notify(domain.ChangePresence)
}

// SendMessage 送到目前聊天室, 成功後才 emit "chat message"
func (c *Coordinator) SendMessage(ctx context.Context, content string, msgType domain.MessageType, replyTo string) (domain.Message, error) {
	active, ok := c.activeReady()
	if !ok {
		return domain.Message{}, domain.NewWriteError(domain.OpSend, active, "", domain.ErrNotReady)
	}

	msg, err := c.stores.Messages.Send(ctx, domain.SendRequest{
		ChatroomID: active,
		AuthorID:   c.self.ID,
		Content:    content,
		Type:       msgType,
		ReplyTo:    replyTo,
	})
	if err != nil {
		return domain.Message{}, err
	}
	if msg.Author.Username == "" {
		msg.Author = c.self
	}

	c.notify(domain.ChangeMessages)
	c.recomputeReadCounts()
	c.emit(ctx, domain.MessagePosted(msg))
	return msg, nil
}

// RecallMessage 收回訊息, 成功後通知其他人
func (c *Coordinator) RecallMessage(ctx context.Context, messageID string) error {
	if m, ok := c.stores.Messages.Get(messageID); ok {
		if m.IsRecalled {
			return nil
		}
		// 只能收回自己的訊息
		if m.AuthorID() != c.self.ID {
			return domain.NewWriteError(domain.OpRecall, m.ChatroomID, messageID,
				fmt.Errorf("%w: not author", domain.ErrInvalidInput))
		}
	}
	if err := c.stores.Messages.Recall(ctx, messageID); err != nil {
		return err
	}
	c.notify(domain.ChangeMessages)
	c.emit(ctx, domain.MessageRecalled(messageID, c.self.ID))
	c.emit(ctx, domain.UnreadChanged(c.stores.Messages.ChatroomID()))
	return nil
}

// markReadIfBehind 自己的 last_read_at 還沒超過最新訊息時才標記已讀
func (c *Coordinator) markReadIfBehind(ctx context.Context) (bool, error) {
	active, ok := c.activeReady()
	if !ok {
		return false, nil
	}
	newest, ok := c.stores.Messages.Newest()
	if !ok || newest.ChatroomID != active {
		return false, nil
	}
	if self, ok := c.stores.Members.Self(active); ok && self.HasRead(newest.CreatedAt) {
		return false, nil
	}

	member, err := c.stores.Members.MarkRead(ctx, c.self.ID, active)
	if err != nil {
		return false, err
	}
	c.notify(domain.ChangeMembers)
	c.recomputeReadCounts()
	c.emit(ctx, domain.ReadAdvanced(member))
	c.emit(ctx, domain.UnreadChanged(active))

	if _, err := c.stores.Members.RefreshUnreadCount(ctx, c.self.ID, active); err == nil {
		c.notify(domain.ChangeMembers)
	}
	return true, nil
}

// CreateChatroom 建立 (或找到既有的私訊) 聊天室後切過去
func (c *Coordinator) CreateChatroom(ctx context.Context, req domain.CreateChatroomRequest) (domain.Chatroom, error) {
	room, created, err := c.stores.Rooms.Create(ctx, req)
	if err != nil {
		return domain.Chatroom{}, err
	}
	c.notify(domain.ChangeChatrooms)

	if created {
		if err := c.stores.Members.LoadMembers(ctx, c.self.ID); err == nil {
			c.notify(domain.ChangeMembers)
		}
	}
	return room, c.SwitchChatroom(ctx, room)
}

// InviteUser 邀請 user 進群組並通知對方
func (c *Coordinator) InviteUser(ctx context.Context, chatroomID, userID string) (domain.Chatroom, error) {
	room, err := c.stores.Rooms.Invite(ctx, chatroomID, userID)
	if err != nil {
		return domain.Chatroom{}, err
	}
	c.notify(domain.ChangeChatrooms)

	inviter := c.self
	c.emit(ctx, domain.Event{
		Name:       domain.EventInviteSent,
		ChatroomID: room.ID,
		UserID:     c.self.ID,
		Chatroom:   &room,
		Inviter:    &inviter,
		InviteeID:  userID,
	})
	return room, nil
}

// PendingInvites invites waiting for an answer
func (c *Coordinator) PendingInvites() []domain.Invite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Invite(nil), c.invites...)
}

// AcceptInvite 加入群組: chatroom invite(self) -> addMember(self) -> emit "accept group invite"
func (c *Coordinator) AcceptInvite(ctx context.Context, chatroomID string) (domain.Chatroom, error) {
	if !c.removeInvite(chatroomID) {
		return domain.Chatroom{}, domain.NewWriteError(domain.OpInvite, chatroomID, "",
			fmt.Errorf("%w: no pending invite", domain.ErrInvalidInput))
	}

	room, err := c.stores.Rooms.Invite(ctx, chatroomID, c.self.ID)
	if err != nil {
		return domain.Chatroom{}, err
	}
	c.notify(domain.ChangeChatrooms)
	c.notify(domain.ChangeInvite)

	if _, err := c.stores.Members.AddMember(ctx, c.self.ID, room.ID); err != nil {
		return room, err
	}
	c.notify(domain.ChangeMembers)

	c.emit(ctx, domain.Event{
		Name:       domain.EventInviteAccepted,
		ChatroomID: room.ID,
		UserID:     c.self.ID,
		Chatroom:   &room,
	})
	return room, nil
}

// RejectInvite 只把邀請移除
func (c *Coordinator) RejectInvite(chatroomID string) bool {
	if !c.removeInvite(chatroomID) {
		return false
	}
	c.notify(domain.ChangeInvite)
	return true
}

func (c *Coordinator) removeInvite(chatroomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, inv := range c.invites {
		if inv.Chatroom.ID == chatroomID {
			c.invites = append(c.invites[:i], c.invites[i+1:]...)
			return true
		}
	}
	return false
}

// PingPresence emit own presence
func (c *Coordinator) PingPresence(ctx context.Context, status domain.UserStatus) error {
	switch status {
	case domain.UserStatusOnline, domain.UserStatusAway, domain.UserStatusOffline:
	default:
		return fmt.Errorf("%w: presence %q", domain.ErrInvalidInput, status)
	}
	return c.channel.Emit(ctx, domain.Event{Name: domain.EventPresencePing, UserID: c.self.ID, Status: status})
}

func (c *Coordinator) recomputeReadCounts() {
	chatroomID := c.stores.Messages.ChatroomID()
	if chatroomID == "" {
		return
	}
	c.stores.Members.ComputeReadCounts(c.stores.Messages.Messages(), chatroomID)
	c.notify(domain.ChangeReadCounts)
}

// emit 寫入已成功, 通知失敗只記 log
func (c *Coordinator) emit(ctx context.Context, e domain.Event) {
	if err := c.channel.Emit(ctx, e); err != nil {
		logger.Log.Warn("emit failed", zap.String("event", string(e.Name)), zap.String("chatroom_id", e.ChatroomID), zap.Error(err))
	}
}

// drop inbound event 對不上本地 state, 記下來後忽略
func (c *Coordinator) drop(e domain.Event, err error) {
	if errors.Is(err, domain.ErrConsistency) {
		logger.Log.Warn("drop event", zap.String("event", string(e.Name)), zap.String("chatroom_id", e.ChatroomID),
			zap.String("message_id", e.MessageID), zap.Error(err))
		return
	}
	logger.Log.Error("handle event failed", zap.String("event", string(e.Name)), zap.Error(err))
}

func (c *Coordinator) notify(kind domain.ChangeKind) {
	c.mu.Lock()
	if c.deferring {
		for _, k := range c.pending {
			if k == kind {
				c.mu.Unlock()
				return
			}
		}
		c.pending = append(c.pending, kind)
		c.mu.Unlock()
		return
	}
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(kind)
	}
}

// lockDispatch 持有 dispatchMu 期間的通知都延後
func (c *Coordinator) lockDispatch() {
	c.dispatchMu.Lock()
	c.mu.Lock()
	c.deferring = true
	c.mu.Unlock()
}

// unlockDispatch 放開 dispatchMu 後再送出排隊的通知
func (c *Coordinator) unlockDispatch() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.deferring = false
	c.mu.Unlock()
	c.dispatchMu.Unlock()

	for _, kind := range pending {
		c.notify(kind)
	}
}
