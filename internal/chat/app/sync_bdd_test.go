package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"meowchat_client/internal/chat/domain"

	"github.com/cucumber/godog"
)

// memoryBackend 測試用的 chat server: REST 資料 + 自己的時鐘
type memoryBackend struct {
	mu       sync.Mutex
	now      time.Time
	seq      int
	users    map[string]domain.User
	rooms    map[string]domain.Chatroom
	messages map[string][]domain.Message
	members  map[string][]domain.ChatroomMember
	recalls  map[string]int
	refresh  map[string]int // user_id/chatroom_id -> refresh 次數
}

func newMemoryBackend(start time.Time) *memoryBackend {
	return &memoryBackend{
		now:      start,
		users:    map[string]domain.User{},
		rooms:    map[string]domain.Chatroom{},
		messages: map[string][]domain.Message{},
		members:  map[string][]domain.ChatroomMember{},
		recalls:  map[string]int{},
		refresh:  map[string]int{},
	}
}

// clock 每次呼叫往前推一分鐘, client 與 server 共用
func (b *memoryBackend) clock() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tickLocked()
}

func (b *memoryBackend) tickLocked() time.Time {
	b.now = b.now.Add(time.Minute)
	return b.now
}

func (b *memoryBackend) join(room domain.Chatroom, userIDs ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range userIDs {
		b.users[id] = domain.User{ID: id, Username: id, Status: domain.UserStatusOnline}
		joined := b.now.Add(-time.Hour)
		b.members[room.ID] = append(b.members[room.ID], domain.ChatroomMember{
			ID: room.ID + ":" + id, ChatroomID: room.ID, UserID: id, JoinedAt: joined, LastReadAt: joined,
		})
		room.Members = append(room.Members, id)
	}
	b.rooms[room.ID] = room
}

func (b *memoryBackend) memberLocked(userID, chatroomID string) (*domain.ChatroomMember, error) {
	for i := range b.members[chatroomID] {
		if b.members[chatroomID][i].UserID == userID {
			return &b.members[chatroomID][i], nil
		}
	}
	return nil, fmt.Errorf("user %s is not in chatroom %s", userID, chatroomID)
}

type backendMessages struct{ *memoryBackend }

func (b backendMessages) FetchHistory(_ context.Context, chatroomID string) ([]domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Message(nil), b.messages[chatroomID]...), nil
}

func (b backendMessages) Create(_ context.Context, req domain.SendRequest) (domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msg := domain.Message{
		ID:         fmt.Sprintf("m%d", b.seq),
		ChatroomID: req.ChatroomID,
		Author:     b.users[req.AuthorID],
		Content:    req.Content,
		Type:       req.Type,
		CreatedAt:  b.tickLocked(),
	}
	b.messages[req.ChatroomID] = append(b.messages[req.ChatroomID], msg)
	return msg, nil
}

func (b backendMessages) Recall(_ context.Context, messageID string) (domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for chatroomID, list := range b.messages {
		for i := range list {
			if list[i].ID == messageID {
				b.recalls[messageID]++
				b.messages[chatroomID][i].IsRecalled = true
				return b.messages[chatroomID][i], nil
			}
		}
	}
	return domain.Message{}, errors.New("message not found")
}

type backendMembers struct{ *memoryBackend }

func (b backendMembers) FetchAll(_ context.Context, userID string) (map[string][]domain.ChatroomMember, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[string][]domain.ChatroomMember{}
	for chatroomID, list := range b.members {
		if _, err := b.memberLocked(userID, chatroomID); err != nil {
			continue
		}
		out[chatroomID] = append([]domain.ChatroomMember(nil), list...)
	}
	return out, nil
}

func (b backendMembers) MarkRead(_ context.Context, userID, chatroomID string, at time.Time) (domain.ChatroomMember, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.memberLocked(userID, chatroomID)
	if err != nil {
		return domain.ChatroomMember{}, err
	}
	if at.After(m.LastReadAt) {
		m.LastReadAt = at
	}
	return *m, nil
}

func (b backendMembers) RefreshUnread(_ context.Context, userID, chatroomID string) (domain.ChatroomMember, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, err := b.memberLocked(userID, chatroomID)
	if err != nil {
		return domain.ChatroomMember{}, err
	}
	n := 0
	for _, msg := range b.messages[chatroomID] {
		if msg.AuthorID() != userID && msg.CreatedAt.After(m.LastReadAt) {
			n++
		}
	}
	m.UnreadCount = n
	b.refresh[userID+"/"+chatroomID]++
	return *m, nil
}

func (b backendMembers) AddMember(_ context.Context, userID, chatroomID string) (domain.ChatroomMember, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, err := b.memberLocked(userID, chatroomID); err == nil {
		return *m, nil
	}
	m := domain.ChatroomMember{ChatroomID: chatroomID, UserID: userID, JoinedAt: b.now, LastReadAt: b.now}
	b.members[chatroomID] = append(b.members[chatroomID], m)
	return m, nil
}

type backendRooms struct{ *memoryBackend }

func (b backendRooms) FetchAll(_ context.Context, userID string) ([]domain.Chatroom, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []domain.Chatroom{}
	for _, r := range b.rooms {
		if r.Type == domain.ChatroomTypeGlobal || r.HasMember(userID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b backendRooms) FetchOne(_ context.Context, chatroomID string) (domain.Chatroom, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[chatroomID]
	if !ok {
		return domain.Chatroom{}, errors.New("chatroom not found")
	}
	return r, nil
}

func (b backendRooms) Create(_ context.Context, req domain.CreateChatroomRequest) (domain.Chatroom, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	r := domain.Chatroom{ID: fmt.Sprintf("r%d", b.seq), Type: req.Type, Name: req.Name, Avatar: req.Avatar, Members: req.Members}
	b.rooms[r.ID] = r
	return r, nil
}

func (b backendRooms) Invite(_ context.Context, chatroomID, userID string) (domain.Chatroom, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[chatroomID]
	if !ok {
		return domain.Chatroom{}, errors.New("chatroom not found")
	}
	if !r.HasMember(userID) {
		r.Members = append(r.Members, userID)
		b.rooms[chatroomID] = r
	}
	return r, nil
}

type backendUsers struct{ *memoryBackend }

func (b backendUsers) FetchOthers(_ context.Context, userID string) ([]domain.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []domain.User{}
	for id, u := range b.users {
		if id != userID {
			out = append(out, u)
		}
	}
	return out, nil
}

// memoryBus socket server: emit 先排隊, flush 時依序送給其他 client
type memoryBus struct {
	mu    sync.Mutex
	queue []busEvent
	subs  map[string]func(domain.Event)
	last  map[domain.EventName]domain.Event
}

type busEvent struct {
	from  string
	event domain.Event
}

func newMemoryBus() *memoryBus {
	return &memoryBus{subs: map[string]func(domain.Event){}, last: map[domain.EventName]domain.Event{}}
}

func (b *memoryBus) flush() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		item := b.queue[0]
		b.queue = b.queue[1:]
		b.last[item.event.Name] = item.event
		targets := []func(domain.Event){}
		for owner, h := range b.subs {
			if owner != item.from {
				targets = append(targets, h)
			}
		}
		b.mu.Unlock()

		for _, h := range targets {
			h(item.event)
		}
	}
}

func (b *memoryBus) deliver(to string, e domain.Event) error {
	b.mu.Lock()
	h, ok := b.subs[to]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s is not subscribed", to)
	}
	h(e)
	return nil
}

type busChannel struct {
	bus   *memoryBus
	owner string

	mu      sync.Mutex
	emitted []domain.Event
}

func (c *busChannel) Emit(_ context.Context, e domain.Event) error {
	c.mu.Lock()
	c.emitted = append(c.emitted, e)
	c.mu.Unlock()

	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	c.bus.queue = append(c.bus.queue, busEvent{from: c.owner, event: e})
	return nil
}

func (c *busChannel) Subscribe(_ context.Context, handler func(domain.Event)) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	c.bus.subs[c.owner] = handler
	return nil
}

func (c *busChannel) Close() error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	delete(c.bus.subs, c.owner)
	return nil
}

func (c *busChannel) hasEmitted(name domain.EventName) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.emitted {
		if e.Name == name {
			return true
		}
	}
	return false
}

type syncClient struct {
	coord   *Coordinator
	channel *busChannel
}

type syncScenario struct {
	ctx     context.Context
	backend *memoryBackend
	bus     *memoryBus
	clients map[string]*syncClient
}

func (s *syncScenario) client(name string) (*syncClient, error) {
	c, ok := s.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown client %q", name)
	}
	return c, nil
}

func (s *syncScenario) loggedIn(a, b, chatroomID string) error {
	s.backend.join(domain.Chatroom{ID: chatroomID, Type: domain.ChatroomTypeGlobal, Name: chatroomID}, a, b)
	for _, name := range []string{a, b} {
		channel := &busChannel{bus: s.bus, owner: name}
		stores := Stores{
			Messages: NewMessageStore(backendMessages{s.backend}, backendMessages{s.backend}, time.UTC),
			Members:  NewMemberStore(backendMembers{s.backend}, s.backend.clock),
			Rooms:    NewRoomStore(backendRooms{s.backend}),
			Users:    NewUserDirectory(backendUsers{s.backend}),
		}
		coord := NewCoordinator(domain.User{ID: name, Username: name}, stores, channel, 0)
		if err := coord.Login(s.ctx); err != nil {
			return err
		}
		if active, ok := stores.Rooms.Active(); !ok || active.ID != chatroomID || !coord.Ready() {
			return fmt.Errorf("%s did not open %s", name, chatroomID)
		}
		s.clients[name] = &syncClient{coord: coord, channel: channel}
	}
	s.bus.flush()
	return nil
}

func (s *syncScenario) sends(name, content string) error {
	c, err := s.client(name)
	if err != nil {
		return err
	}
	_, err = c.coord.SendMessage(s.ctx, content, domain.MessageTypeText, "")
	return err
}

func (s *syncScenario) eventsDelivered() error {
	s.bus.flush()
	return nil
}

func (s *syncScenario) redeliver(name, to string) error {
	s.bus.mu.Lock()
	e, ok := s.bus.last[domain.EventName(name)]
	s.bus.mu.Unlock()
	if !ok {
		return fmt.Errorf("no %q event was delivered", name)
	}
	return s.bus.deliver(to, e)
}

func (s *syncScenario) hasExactlyOne(name string, n int, messageID string) error {
	c, err := s.client(name)
	if err != nil {
		return err
	}
	found := 0
	for _, m := range c.coord.Stores().Messages.Messages() {
		if m.ID == messageID {
			found++
		}
	}
	grouped := 0
	for _, g := range c.coord.Stores().Messages.GroupByDate() {
		for _, m := range g.Messages {
			if m.ID == messageID {
				grouped++
			}
		}
	}
	if found != n || grouped != n {
		return fmt.Errorf("%s has %d copies of %s (%d in date groups), want %d", name, found, messageID, grouped, n)
	}
	return nil
}

func (s *syncScenario) dateGroups(name string, n int) error {
	c, err := s.client(name)
	if err != nil {
		return err
	}
	if got := len(c.coord.Stores().Messages.GroupByDate()); got != n {
		return fmt.Errorf("%s has %d date groups, want %d", name, got, n)
	}
	return nil
}

func (s *syncScenario) emitted(name, event string) error {
	c, err := s.client(name)
	if err != nil {
		return err
	}
	if !c.channel.hasEmitted(domain.EventName(event)) {
		return fmt.Errorf("%s never emitted %q", name, event)
	}
	return nil
}

func (s *syncScenario) refreshedUnread(name, chatroomID string) error {
	s.backend.mu.Lock()
	n := s.backend.refresh[name+"/"+chatroomID]
	s.backend.mu.Unlock()
	if n == 0 {
		return fmt.Errorf("%s never refreshed the unread count of %s", name, chatroomID)
	}
	return nil
}

func (s *syncScenario) recalls(name, messageID string) error {
	c, err := s.client(name)
	if err != nil {
		return err
	}
	return c.coord.RecallMessage(s.ctx, messageID)
}

func (s *syncScenario) seesRecalled(name, messageID string) error {
	c, err := s.client(name)
	if err != nil {
		return err
	}
	m, ok := c.coord.Stores().Messages.Get(messageID)
	if !ok || !m.IsRecalled {
		return fmt.Errorf("%s does not see %s as recalled", name, messageID)
	}
	return nil
}

func (s *syncScenario) recalledTimes(messageID string, n int) error {
	s.backend.mu.Lock()
	got := s.backend.recalls[messageID]
	s.backend.mu.Unlock()
	if got != n {
		return fmt.Errorf("message service recalled %s %d times, want %d", messageID, got, n)
	}
	return nil
}

func (s *syncScenario) seesNewest(name, messageID string) error {
	c, err := s.client(name)
	if err != nil {
		return err
	}
	marked, err := c.coord.ReadTrigger().NewestVisible(s.ctx, messageID)
	if err != nil {
		return err
	}
	if !marked {
		return fmt.Errorf("%s did not mark %s as read", name, messageID)
	}
	return nil
}

func (s *syncScenario) readCount(name string, n int, messageID string) error {
	c, err := s.client(name)
	if err != nil {
		return err
	}
	if got := c.coord.Stores().Members.ReadCount(messageID); got != n {
		return fmt.Errorf("%s sees read count %d for %s, want %d", name, got, messageID, n)
	}
	return nil
}

func (s *syncScenario) unread(name string, n int, chatroomID string) error {
	c, err := s.client(name)
	if err != nil {
		return err
	}
	if got := c.coord.Stores().Members.UnreadCount(chatroomID); got != n {
		return fmt.Errorf("%s has %d unread in %s, want %d", name, got, chatroomID, n)
	}
	return nil
}

func initializeSyncScenario(ctx *godog.ScenarioContext) {
	s := &syncScenario{}
	ctx.Before(func(c context.Context, _ *godog.Scenario) (context.Context, error) {
		s.ctx = context.Background()
		s.backend = newMemoryBackend(t0)
		s.bus = newMemoryBus()
		s.clients = map[string]*syncClient{}
		return c, nil
	})

	ctx.Step(`^"([^"]*)" and "([^"]*)" are logged in to chatroom "([^"]*)"$`, s.loggedIn)
	ctx.Step(`^"([^"]*)" sends "([^"]*)"$`, s.sends)
	ctx.Step(`^events are delivered$`, s.eventsDelivered)
	ctx.Step(`^the last "([^"]*)" event is delivered to "([^"]*)" again$`, s.redeliver)
	ctx.Step(`^"([^"]*)" has exactly (\d+) messages? with id "([^"]*)"$`, s.hasExactlyOne)
	ctx.Step(`^"([^"]*)" sees (\d+) date groups?$`, s.dateGroups)
	ctx.Step(`^"([^"]*)" emitted "([^"]*)"$`, s.emitted)
	ctx.Step(`^"([^"]*)" refreshed the unread count of "([^"]*)"$`, s.refreshedUnread)
	ctx.Step(`^"([^"]*)" recalls "([^"]*)"$`, s.recalls)
	ctx.Step(`^"([^"]*)" sees "([^"]*)" as recalled$`, s.seesRecalled)
	ctx.Step(`^the message service recalled "([^"]*)" (\d+) times?$`, s.recalledTimes)
	ctx.Step(`^"([^"]*)" sees the newest message "([^"]*)"$`, s.seesNewest)
	ctx.Step(`^"([^"]*)" sees a read count of (\d+) for "([^"]*)"$`, s.readCount)
	ctx.Step(`^"([^"]*)" has (\d+) unread in "([^"]*)"$`, s.unread)
}

func TestSyncFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "sync",
		ScenarioInitializer: initializeSyncScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
