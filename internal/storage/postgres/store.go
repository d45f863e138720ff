package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hongminglow/tours-be/internal/models"
	"github.com/hongminglow/tours-be/internal/storage"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Ensure Store satisfies the storage.UserStore interface at compile time.
var _ storage.UserStore = (*Store)(nil)

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store provides Postgres-backed persistence for users.
type Store struct {
	pool pool
	now  func() time.Time
}

// NewUserStore connects to databaseURL, applies pending migrations and
// returns a ready Store.
func NewUserStore(ctx context.Context, databaseURL string) (*Store, error) {
	migrator, err := NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return nil, err
	}
	if err := migrator.Close(); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewStoreWithPool(p), nil
}

// NewStoreWithPool wraps an existing connection pool.
func NewStoreWithPool(p pool) *Store {
	return &Store{pool: p, now: time.Now}
}

// Close releases database resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const userColumns = `id, name, email, role, active, password_hash, password_changed_at,
	password_reset_token_hash, password_reset_expires, version, created_at`

// FindByID fetches an active user by id.
func (s *Store) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND active`
	return scanUser(s.pool.QueryRow(ctx, query, id))
}

// FindByEmail fetches an active user by email address.
func (s *Store) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND active`
	return scanUser(s.pool.QueryRow(ctx, query, models.NormalizeEmail(email)))
}

// FindByResetToken fetches the active user holding tokenHash with an open reset window.
func (s *Store) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users
	WHERE password_reset_token_hash = $1 AND password_reset_expires >= $2 AND active`
	return scanUser(s.pool.QueryRow(ctx, query, tokenHash, now))
}

// Create inserts a new user row.
func (s *Store) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	const query = `
		INSERT INTO users (id, name, email, role, active, password_hash, password_changed_at,
			password_reset_token_hash, password_reset_expires, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10)
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query,
		ulid.Make().String(), user.Name, models.NormalizeEmail(user.Email), string(user.Role), user.Active,
		user.PasswordHash, user.PasswordChangedAt, user.PasswordResetTokenHash, user.PasswordResetExpires,
		createdAt)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrAlreadyExists
		}
		return nil, err
	}
	return created, nil
}

// SaveFull validates and updates an existing user row.
func (s *Store) SaveFull(ctx context.Context, user *models.User) (*models.User, error) {
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return s.save(ctx, user)
}

// SavePartial updates an existing user row without validation.
func (s *Store) SavePartial(ctx context.Context, user *models.User) (*models.User, error) {
	return s.save(ctx, user)
}

func (s *Store) save(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
		UPDATE users SET name = $3, email = $4, role = $5, active = $6, password_hash = $7,
			password_changed_at = $8, password_reset_token_hash = $9, password_reset_expires = $10,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING ` + userColumns
	row := s.pool.QueryRow(ctx, query,
		user.ID, user.Version, user.Name, models.NormalizeEmail(user.Email), string(user.Role), user.Active,
		user.PasswordHash, user.PasswordChangedAt, user.PasswordResetTokenHash, user.PasswordResetExpires)
	saved, err := scanUser(row)
	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, s.missOrConflict(ctx, user.ID)
	case isUniqueViolation(err):
		return nil, storage.ErrAlreadyExists
	default:
		return nil, err
	}
}

// missOrConflict tells a vanished row apart from a stale version.
func (s *Store) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check user existence: %w", err)
	}
	if exists {
		return storage.ErrConflict
	}
	return storage.ErrNotFound
}

// Deactivate soft-deletes a user so lookups no longer return it.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET active = FALSE, version = version + 1 WHERE id = $1 AND active`, id)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	var role string
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &role, &user.Active, &user.PasswordHash,
		&user.PasswordChangedAt, &user.PasswordResetTokenHash, &user.PasswordResetExpires,
		&user.Version, &user.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	user.Role = models.Role(role)
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
