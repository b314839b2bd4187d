package memory

import (
	"context"
	"strings"
	"sync"

	domainuser "findit/internal/domain/user"
)

// UserRepository stores profiles in memory. Not suitable for production.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domainuser.User
	byEmail map[string]string
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[string]*domainuser.User),
		byEmail: make(map[string]string),
	}
}

func (r *UserRepository) ByID(ctx context.Context, id string) (*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if user, ok := r.byID[id]; ok {
		return cloneUser(user), nil
	}
	return nil, domainuser.ErrNotFound
}

// ByIDs skips unknown ids.
func (r *UserRepository) ByIDs(ctx context.Context, ids []string) (map[string]*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*domainuser.User, len(ids))
	for _, id := range ids {
		if user, ok := r.byID[id]; ok {
			out[id] = cloneUser(user)
		}
	}
	return out, nil
}

func (r *UserRepository) ByEmail(ctx context.Context, email string) (*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[domainuser.NormalizeEmail(email)]
	if !ok {
		return nil, domainuser.ErrNotFound
	}
	if user, ok := r.byID[id]; ok {
		return cloneUser(user), nil
	}
	return nil, domainuser.ErrNotFound
}

func (r *UserRepository) Save(ctx context.Context, user *domainuser.User) error {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return domainuser.ErrIDRequired
	}
	emailKey := domainuser.NormalizeEmail(user.Email)
	if emailKey == "" {
		return domainuser.ErrEmailRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existingID, ok := r.byEmail[emailKey]; ok && existingID != user.ID {
		return domainuser.ErrEmailAlreadyUsed
	}
	if prev, ok := r.byID[user.ID]; ok && prev.Email != emailKey {
		delete(r.byEmail, prev.Email)
	}
	r.byEmail[emailKey] = user.ID
	stored := cloneUser(user)
	stored.Email = emailKey
	r.byID[user.ID] = stored
	return nil
}

func cloneUser(u *domainuser.User) *domainuser.User {
	if u == nil {
		return nil
	}
	copyUser := *u
	copyUser.Badges = append([]string(nil), u.Badges...)
	return &copyUser
}

var _ domainuser.Repository = (*UserRepository)(nil)
