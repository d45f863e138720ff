// Package memory provides an in-process UserStore for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hongminglow/tours-be/internal/models"
	"github.com/hongminglow/tours-be/internal/storage"
)

var _ storage.UserStore = (*Store)(nil)

// Store keeps users in a map guarded by a mutex. Records are copied on the
// way in and out so callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byEmail map[string]string
	now     func() time.Time
}

// NewUserStore creates an empty Store.
func NewUserStore() *Store {
	return &Store{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

// FindByID fetches an active user by id.
func (s *Store) FindByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	if !ok || !user.Active {
		return nil, storage.ErrNotFound
	}
	return user.Clone(), nil
}

// FindByEmail fetches an active user by normalized email.
func (s *Store) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	user := s.byID[id]
	if !user.Active {
		return nil, storage.ErrNotFound
	}
	return user.Clone(), nil
}

// FindByResetToken fetches the active user holding tokenHash with an open reset window.
func (s *Store) FindByResetToken(_ context.Context, tokenHash string, now time.Time) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.byID {
		if !user.Active || user.PasswordResetTokenHash == nil || user.PasswordResetExpires == nil {
			continue
		}
		if *user.PasswordResetTokenHash == tokenHash && !now.After(*user.PasswordResetExpires) {
			return user.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

// Create validates and inserts a new user.
func (s *Store) Create(_ context.Context, user *models.User) (*models.User, error) {
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	email := models.NormalizeEmail(user.Email)
	if _, taken := s.byEmail[email]; taken {
		return nil, storage.ErrAlreadyExists
	}
	created := user.Clone()
	created.ID = ulid.Make().String()
	created.Email = email
	created.Version = 1
	if created.CreatedAt.IsZero() {
		created.CreatedAt = s.now().UTC()
	}
	s.byID[created.ID] = created
	s.byEmail[email] = created.ID
	return created.Clone(), nil
}

// SaveFull validates and replaces an existing user.
func (s *Store) SaveFull(ctx context.Context, user *models.User) (*models.User, error) {
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return s.save(ctx, user)
}

// SavePartial replaces an existing user without validation.
func (s *Store) SavePartial(ctx context.Context, user *models.User) (*models.User, error) {
	return s.save(ctx, user)
}

func (s *Store) save(_ context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[user.ID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if current.Version != user.Version {
		return nil, storage.ErrConflict
	}
	email := models.NormalizeEmail(user.Email)
	if owner, taken := s.byEmail[email]; taken && owner != user.ID {
		return nil, storage.ErrAlreadyExists
	}

	saved := user.Clone()
	saved.Email = email
	saved.Version = current.Version + 1
	delete(s.byEmail, current.Email)
	s.byID[saved.ID] = saved
	s.byEmail[email] = saved.ID
	return saved.Clone(), nil
}

// Deactivate marks a user inactive so lookups no longer return it.
func (s *Store) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	user.Active = false
	user.Version++
	return nil
}
