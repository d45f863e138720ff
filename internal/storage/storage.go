package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hongminglow/tours-be/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrConflict indicates the record changed since it was loaded.
var ErrConflict = errors.New("record was modified concurrently")

// UserStore captures persistence operations needed by the auth flows.
//
// Lookups only return active users. Saves match on (ID, Version) and return
// the stored record with its new version; a stale version yields ErrConflict.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	// FindByResetToken returns the user holding tokenHash whose reset
	// window is still open at now.
	FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// SaveFull validates the record before persisting it.
	SaveFull(ctx context.Context, user *models.User) (*models.User, error)
	// SavePartial persists the record without validation. It is reserved
	// for administrative updates such as reset token bookkeeping.
	SavePartial(ctx context.Context, user *models.User) (*models.User, error)
}
