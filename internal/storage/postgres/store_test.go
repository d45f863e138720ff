package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/tours-be/internal/models"
	"github.com/hongminglow/tours-be/internal/storage"
)

var columns = []string{
	"id", "name", "email", "role", "active", "password_hash", "password_changed_at",
	"password_reset_token_hash", "password_reset_expires", "version", "created_at",
}

var createdAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func userRows(id, email string, version int64) *pgxmock.Rows {
	return pgxmock.NewRows(columns).AddRow(
		id, "Jonas", email, "user", true, "$2a$hash", (*time.Time)(nil),
		(*string)(nil), (*time.Time)(nil), version, createdAt,
	)
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return NewStoreWithPool(mock), mock
}

func TestStore_FindByEmail(t *testing.T) {
	tests := []struct {
		name      string
		email     string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantID    string
		wantErr   error
	}{
		{
			name:  "normalizes email before lookup",
			email: "  Jonas@Example.COM ",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM users WHERE email = \$1 AND active`).
					WithArgs("jonas@example.com").
					WillReturnRows(userRows("01J0", "jonas@example.com", 1))
			},
			wantID: "01J0",
		},
		{
			name:  "missing row maps to not found",
			email: "ghost@example.com",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM users WHERE email = \$1 AND active`).
					WithArgs("ghost@example.com").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: storage.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			tt.setupMock(mock)

			got, err := store.FindByEmail(context.Background(), tt.email)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantID, got.ID)
				assert.Equal(t, models.RoleUser, got.Role)
				assert.True(t, got.Active)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestStore_FindByResetToken(t *testing.T) {
	store, mock := newMockStore(t)
	now := createdAt.Add(time.Hour)
	mock.ExpectQuery(`password_reset_token_hash = \$1 AND password_reset_expires >= \$2`).
		WithArgs("digest", now).
		WillReturnRows(userRows("01J0", "jonas@example.com", 3))

	got, err := store.FindByResetToken(context.Background(), "digest", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create(t *testing.T) {
	newUser := func() *models.User {
		return &models.User{Name: "Jonas", Email: "Jonas@example.com", Role: models.RoleUser, Active: true, PasswordHash: "$2a$hash"}
	}

	t.Run("inserts and returns stored row", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), "Jonas", "jonas@example.com", "user", true, "$2a$hash",
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(userRows("01J0", "jonas@example.com", 1))

		created, err := store.Create(context.Background(), newUser())
		require.NoError(t, err)
		assert.Equal(t, "01J0", created.ID)
		assert.Equal(t, int64(1), created.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to already exists", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		_, err := store.Create(context.Background(), newUser())
		require.ErrorIs(t, err, storage.ErrAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid record never reaches the database", func(t *testing.T) {
		store, mock := newMockStore(t)
		user := newUser()
		user.Name = ""

		_, err := store.Create(context.Background(), user)
		var validationErr *models.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "name", validationErr.Field)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Save(t *testing.T) {
	user := func() *models.User {
		return &models.User{ID: "01J0", Name: "Jonas", Email: "jonas@example.com", Role: models.RoleUser, Active: true, PasswordHash: "$2a$hash", Version: 2}
	}

	t.Run("increments version", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`UPDATE users SET`).
			WithArgs("01J0", int64(2), "Jonas", "jonas@example.com", "user", true, "$2a$hash",
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(userRows("01J0", "jonas@example.com", 3))

		saved, err := store.SaveFull(context.Background(), user())
		require.NoError(t, err)
		assert.Equal(t, int64(3), saved.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`UPDATE users SET`).WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("01J0").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := store.SavePartial(context.Background(), user())
		require.ErrorIs(t, err, storage.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("vanished row is not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`UPDATE users SET`).WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("01J0").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := store.SavePartial(context.Background(), user())
		require.ErrorIs(t, err, storage.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("full save validates", func(t *testing.T) {
		store, mock := newMockStore(t)
		u := user()
		u.PasswordHash = ""

		_, err := store.SaveFull(context.Background(), u)
		var validationErr *models.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("partial save skips validation", func(t *testing.T) {
		store, mock := newMockStore(t)
		u := user()
		u.Name = ""
		mock.ExpectQuery(`UPDATE users SET`).
			WillReturnRows(userRows("01J0", "jonas@example.com", 3))

		_, err := store.SavePartial(context.Background(), u)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Deactivate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE users SET active = FALSE`).
		WithArgs("01J0").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE users SET active = FALSE`).
		WithArgs("01J0").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.Deactivate(context.Background(), "01J0"))
	require.ErrorIs(t, store.Deactivate(context.Background(), "01J0"), storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/tours", "pgx5://u:p@localhost:5432/tours"},
		{"postgresql://localhost/tours?sslmode=disable", "pgx5://localhost/tours?sslmode=disable"},
		{"pgx5://localhost/tours", "pgx5://localhost/tours"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, migrateURL(tt.in), tt.in)
	}
}

type stubMigrate struct {
	upErr      error
	version    uint
	versionErr error
}

func (s stubMigrate) Up() error                    { return s.upErr }
func (s stubMigrate) Version() (uint, bool, error) { return s.version, false, s.versionErr }
func (s stubMigrate) Close() (error, error)        { return nil, nil }

func TestMigrator(t *testing.T) {
	t.Run("no change is not an error", func(t *testing.T) {
		m := &Migrator{m: stubMigrate{upErr: migrate.ErrNoChange}}
		assert.NoError(t, m.Up())
	})

	t.Run("up failure is wrapped", func(t *testing.T) {
		m := &Migrator{m: stubMigrate{upErr: errors.New("boom")}}
		err := m.Up()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "apply migrations")
	})

	t.Run("nil version reads as zero", func(t *testing.T) {
		m := &Migrator{m: stubMigrate{versionErr: migrate.ErrNilVersion}}
		version, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Zero(t, version)
		assert.False(t, dirty)
	})

	t.Run("embedded migrations are present", func(t *testing.T) {
		entries, err := migrationsFS.ReadDir("migrations")
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}
