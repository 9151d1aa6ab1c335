package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"meowchat_client/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func loadedMemberStore(t *testing.T, repo *MockMemberRepository, now time.Time) *MemberStore {
	t.Helper()
	ctx := context.Background()
	repo.On("FetchAll", ctx, "u1").Return(map[string][]domain.ChatroomMember{
		"global": {
			newMember("global", "u1", t0),
			newMember("global", "u2", t0.Add(-time.Hour)),
			newMember("global", "u3", t0.Add(time.Hour)),
		},
		"g1": {
			newMember("g1", "u1", t0),
		},
	}, nil).Once()

	store := NewMemberStore(repo, fixedClock(now))
	require.NoError(t, store.LoadMembers(ctx, "u1"))
	return store
}

func TestMemberStore_LoadMembers(t *testing.T) {
	repo := new(MockMemberRepository)
	store := loadedMemberStore(t, repo, t0)

	self, ok := store.Self("global")
	require.True(t, ok)
	assert.Equal(t, "u1", self.UserID)
	assert.Len(t, store.Others("global"), 2)
	assert.Len(t, store.Members("global"), 3)
	assert.Empty(t, store.Others("g1"))

	repo.On("FetchAll", context.Background(), "u1").Return(nil, errors.New("boom")).Once()
	err := store.LoadMembers(context.Background(), "u1")
	assert.True(t, domain.IsFetchError(err))
	assert.Len(t, store.Members("global"), 3, "previous state kept")
	repo.AssertExpectations(t)
}

func TestMemberStore_ReloadNeverRegresses(t *testing.T) {
	ctx := context.Background()
	repo := new(MockMemberRepository)
	store := loadedMemberStore(t, repo, t0)

	repo.On("FetchAll", ctx, "u1").Return(map[string][]domain.ChatroomMember{
		"global": {
			newMember("global", "u1", t0),
			newMember("global", "u3", t0.Add(-2*time.Hour)), // 比本地舊
			newMember("global", "u3", t0.Add(-3*time.Hour)), // 重複
		},
	}, nil).Once()
	require.NoError(t, store.LoadMembers(ctx, "u1"))

	members := store.Members("global")
	require.Len(t, members, 2)
	assert.True(t, members[1].LastReadAt.Equal(t0.Add(time.Hour)))
}

func TestMemberStore_MarkRead(t *testing.T) {
	ctx := context.Background()
	now := t0.Add(10 * time.Minute)
	repo := new(MockMemberRepository)
	store := loadedMemberStore(t, repo, now)

	repo.On("MarkRead", ctx, "u1", "global", now).Return(domain.ChatroomMember{UserID: "u1", ChatroomID: "global"}, nil).Once()
	m, err := store.MarkRead(ctx, "u1", "global")
	require.NoError(t, err)
	assert.True(t, m.LastReadAt.Equal(now))

	self, _ := store.Self("global")
	assert.True(t, self.LastReadAt.Equal(now))

	repo.On("MarkRead", ctx, "u1", "g1", now).Return(domain.ChatroomMember{}, errors.New("403")).Once()
	_, err = store.MarkRead(ctx, "u1", "g1")
	assert.True(t, domain.IsWriteError(err))
	self, _ = store.Self("g1")
	assert.True(t, self.LastReadAt.Equal(t0))
}

func TestMemberStore_ApplyReadAdvance(t *testing.T) {
	store := loadedMemberStore(t, new(MockMemberRepository), t0)

	changed, err := store.ApplyReadAdvance("global", "u2", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)

	// 晚到的舊 event 不能讓時間倒退
	changed, err = store.ApplyReadAdvance("global", "u2", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	for _, m := range store.Others("global") {
		if m.UserID == "u2" {
			assert.True(t, m.LastReadAt.Equal(t0.Add(time.Minute)))
		}
	}

	_, err = store.ApplyReadAdvance("global", "ghost", t0)
	assert.True(t, domain.IsConsistencyError(err))
}

func TestMemberStore_RefreshUnreadCountRereadsState(t *testing.T) {
	ctx := context.Background()
	repo := new(MockMemberRepository)
	store := loadedMemberStore(t, repo, t0)

	advanced := t0.Add(30 * time.Minute)
	repo.On("RefreshUnread", ctx, "u1", "global").Run(func(mock.Arguments) {
		// 在 await 期間 last_read_at 被推進
		_, err := store.ApplyReadAdvance("global", "u1", advanced)
		require.NoError(t, err)
	}).Return(domain.ChatroomMember{ChatroomID: "global", UserID: "u1", UnreadCount: 4, LastReadAt: t0}, nil).Once()

	n, err := store.RefreshUnreadCount(ctx, "u1", "global")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, store.UnreadCount("global"))

	self, _ := store.Self("global")
	assert.True(t, self.LastReadAt.Equal(advanced), "pre-await snapshot must not overwrite")

	repo.On("RefreshUnread", ctx, "u1", "g1").Return(domain.ChatroomMember{}, errors.New("down")).Once()
	_, err = store.RefreshUnreadCount(ctx, "u1", "g1")
	assert.True(t, domain.IsFetchError(err))
}

func TestMemberStore_AddMember(t *testing.T) {
	ctx := context.Background()
	repo := new(MockMemberRepository)
	store := loadedMemberStore(t, repo, t0)

	repo.On("AddMember", ctx, "u4", "g1").Return(newMember("g1", "u4", time.Time{}), nil).Once()
	repo.On("AddMember", ctx, "u4", "g1").Return(newMember("g1", "u4", t0), nil).Once()

	_, err := store.AddMember(ctx, "u4", "g1")
	require.NoError(t, err)
	_, err = store.AddMember(ctx, "u4", "g1")
	require.NoError(t, err)

	assert.Len(t, store.Members("g1"), 2, "one record per user")
}

func TestReadCounts(t *testing.T) {
	messages := []domain.Message{
		newMsg("m1", "global", "u1", t0),
		newMsg("m2", "global", "u2", t0.Add(time.Minute)),
	}
	members := []domain.ChatroomMember{
		newMember("global", "u1", t0.Add(time.Hour)),
		newMember("global", "u2", t0.Add(time.Minute)), // 等於 m2 的 createdAt, 不算
		newMember("global", "u3", t0.Add(-time.Second)),
	}

	counts := ReadCounts(messages, members)
	assert.Equal(t, 1, counts["m1"], "author u1 excluded, u2 read")
	assert.Equal(t, 1, counts["m2"], "u1 read, author u2 excluded")

	// u3 往後推, 已讀數只會增加
	prev := counts
	for _, at := range []time.Time{t0, t0.Add(time.Second), t0.Add(2 * time.Minute)} {
		members[2].LastReadAt = at
		next := ReadCounts(messages, members)
		for id := range next {
			assert.GreaterOrEqual(t, next[id], prev[id])
		}
		prev = next
	}
	assert.Equal(t, 2, prev["m1"])
	assert.Equal(t, 2, prev["m2"])
}

func TestMemberStore_ComputeReadCounts(t *testing.T) {
	store := loadedMemberStore(t, new(MockMemberRepository), t0)

	counts := store.ComputeReadCounts([]domain.Message{
		newMsg("m1", "global", "u2", t0.Add(-30*time.Minute)),
		newMsg("x1", "other", "u2", t0.Add(-30*time.Minute)),
	}, "global")

	// u1 (t0) 與 u3 (t0+1h) 讀過, 作者 u2 不算
	assert.Equal(t, map[string]int{"m1": 2}, counts)
	assert.Equal(t, 2, store.ReadCount("m1"))
	assert.Equal(t, 0, store.ReadCount("x1"))
}
