package app

import (
	"context"
	"sort"
	"sync"

	"meowchat_client/internal/chat/domain"
	"meowchat_client/internal/chat/repository"
	errprocess "meowchat_client/pkg/err"

	"go.uber.org/zap"
)

// UserDirectory 其他使用者的資料與上線狀態
type UserDirectory struct {
	repo repository.UserRepository

	mu    sync.Mutex
	users map[string]domain.User
	order []string
}

// NewUserDirectory create UserDirectory
func NewUserDirectory(repo repository.UserRepository) *UserDirectory {
	return &UserDirectory{repo: repo, users: map[string]domain.User{}}
}

// Load 拿除了自己以外的使用者, online / away 排前面
func (d *UserDirectory) Load(ctx context.Context, userID string) ([]domain.User, error) {
	users, err := d.repo.FetchOthers(ctx, userID)
	if err != nil {
		return nil, errprocess.Surface(domain.OpLoadUsers, domain.NewFetchError(domain.OpLoadUsers, "", err),
			zap.String("user_id", userID))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = make(map[string]domain.User, len(users))
	d.order = d.order[:0]
	for _, u := range users {
		if u.ID == "" || u.ID == userID {
			continue
		}
		if _, ok := d.users[u.ID]; !ok {
			d.order = append(d.order, u.ID)
		}
		d.users[u.ID] = u
	}
	d.sortLocked()
	return d.listLocked(), nil
}

// Users snapshot in display order
func (d *UserDirectory) Users() []domain.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listLocked()
}

// Lookup user by id
func (d *UserDirectory) Lookup(userID string) (domain.User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	return u, ok
}

// SetStatus 更新上線狀態, 不認識的 user 回傳 false
func (d *UserDirectory) SetStatus(userID string, status domain.UserStatus) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return false
	}
	u.Status = status
	d.users[userID] = u
	d.sortLocked()
	return true
}

func (d *UserDirectory) sortLocked() {
	sort.SliceStable(d.order, func(i, j int) bool {
		return statusRank(d.users[d.order[i]].Status) < statusRank(d.users[d.order[j]].Status)
	})
}

func (d *UserDirectory) listLocked() []domain.User {
	out := make([]domain.User, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.users[id])
	}
	return out
}

func statusRank(s domain.UserStatus) int {
	if s == domain.UserStatusOnline || s == domain.UserStatusAway {
		return 0
	}
	return 1
}
