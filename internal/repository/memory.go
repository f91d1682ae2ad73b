package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medgate/medgate-go/internal/model"
)

// MemoryUserRepository keeps users in process memory, keyed by email.
// It backs the auth service when no database is configured.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]model.User
}

// NewMemoryUserRepository creates an empty MemoryUserRepository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]model.User)}
}

// Create stores user unless its email is already taken.
func (r *MemoryUserRepository) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[user.Email]; exists {
		return ErrDuplicateEmail
	}

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	r.users[user.Email] = *user

	return nil
}

// GetByEmail returns a copy of the stored user.
func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

// UpdatePasswordHash replaces the stored password hash.
func (r *MemoryUserRepository) UpdatePasswordHash(_ context.Context, email, hash string) error {
	return r.mutate(email, func(u *model.User) { u.PasswordHash = hash })
}

// UpdateRole replaces the user's role.
func (r *MemoryUserRepository) UpdateRole(_ context.Context, email, role string) error {
	return r.mutate(email, func(u *model.User) { u.Role = role })
}

// Len returns the number of stored users.
func (r *MemoryUserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *MemoryUserRepository) mutate(email string, fn func(*model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[email]
	if !ok {
		return ErrUserNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	r.users[email] = u

	return nil
}
