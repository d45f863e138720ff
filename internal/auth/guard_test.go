package auth_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hongminglow/tours-be/internal/auth"
	"github.com/hongminglow/tours-be/internal/errutil"
	"github.com/hongminglow/tours-be/internal/models"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"abc.def.ghi", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := auth.BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestGuard_Authenticate(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	session := f.signup(t, "jonas@example.com")

	user, claims, err := f.guard.Authenticate(context.Background(), "Bearer "+session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, user.ID)
	assert.Equal(t, session.User.ID, claims.SubjectID)
	assert.True(t, claims.IssuedAt.Equal(epoch))
}

func TestGuard_Rejections(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name   string
		header func(t *testing.T, f *fixture) string
		reason string
	}{
		{
			name:   "missing header",
			header: func(*testing.T, *fixture) string { return "" },
			reason: auth.ReasonMissingToken,
		},
		{
			name:   "wrong scheme",
			header: func(*testing.T, *fixture) string { return "Token abc" },
			reason: auth.ReasonMissingToken,
		},
		{
			name:   "garbage token",
			header: func(*testing.T, *fixture) string { return "Bearer not-a-token" },
			reason: auth.ReasonInvalidToken,
		},
		{
			name: "expired token",
			header: func(t *testing.T, f *fixture) string {
				session := f.signup(t, "jonas@example.com")
				f.clock.Advance(time.Hour)
				return "Bearer " + session.Token
			},
			reason: auth.ReasonExpiredToken,
		},
		{
			name: "deleted user",
			header: func(t *testing.T, f *fixture) string {
				session := f.signup(t, "jonas@example.com")
				require.NoError(t, f.store.Deactivate(context.Background(), session.User.ID))
				return "Bearer " + session.Token
			},
			reason: auth.ReasonUserNotFound,
		},
		{
			name: "password changed after issuance",
			header: func(t *testing.T, f *fixture) string {
				session := f.signup(t, "jonas@example.com")
				f.clock.Advance(2 * time.Second)
				_, err := f.service.UpdatePassword(context.Background(), session.User, "pass1234", "newpass123", "newpass123")
				require.NoError(t, err)
				return "Bearer " + session.Token
			},
			reason: auth.ReasonPasswordChanged,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			header := tt.header(t, f)

			user, _, err := f.guard.Authenticate(context.Background(), header)
			assert.Nil(t, user)
			errutil.AssertErrorCode(t, err, auth.CodeUnauthenticated)
			errutil.AssertErrorContext(t, err, "reason", tt.reason)
			assert.Equal(t, http.StatusUnauthorized, auth.HTTPStatus(err))
			assert.Equal(t, tt.reason, auth.Reason(err))
			assert.Equal(t, 1, f.observer.RejectionCount(tt.reason))
		})
	}
}

func TestGuard_PasswordChangeWithinSameSecondRevokesOlderToken(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(100 * time.Millisecond)
	created := f.signup(t, "jonas@example.com")

	f.clock.Advance(800 * time.Millisecond)
	updated, err := f.service.UpdatePassword(context.Background(), created.User, "pass1234", "newpass123", "newpass123")
	require.NoError(t, err)

	_, _, err = f.guard.Authenticate(context.Background(), "Bearer "+created.Token)
	errutil.AssertErrorCode(t, err, auth.CodeUnauthenticated)
	assert.Equal(t, auth.ReasonPasswordChanged, auth.Reason(err))

	user, claims, err := f.guard.Authenticate(context.Background(), "Bearer "+updated.Token)
	require.NoError(t, err)
	assert.Equal(t, created.User.ID, user.ID)
	assert.True(t, claims.IssuedAt.Equal(epoch.Add(900*time.Millisecond)))
}

func TestGuard_SubMillisecondClockKeepsFreshSession(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(900*time.Millisecond + 123456*time.Nanosecond)
	created := f.signup(t, "jonas@example.com")

	updated, err := f.service.UpdatePassword(context.Background(), created.User, "pass1234", "newpass123", "newpass123")
	require.NoError(t, err)

	_, _, err = f.guard.Authenticate(context.Background(), "Bearer "+updated.Token)
	require.NoError(t, err)
}

func TestRestrictTo(t *testing.T) {
	allowed := models.NewRoleSet(models.RoleAdmin, models.RoleLeadGuide)

	for _, role := range []models.Role{models.RoleAdmin, models.RoleLeadGuide} {
		assert.NoError(t, auth.RestrictTo(&models.User{Role: role}, allowed), role)
	}

	err := auth.RestrictTo(&models.User{Role: models.RoleGuide}, models.NewRoleSet(models.RoleAdmin))
	errutil.AssertErrorCode(t, err, auth.CodeForbidden)
	assert.Equal(t, http.StatusForbidden, auth.HTTPStatus(err))

	errutil.AssertErrorCode(t, auth.RestrictTo(nil, allowed), auth.CodeForbidden)
	errutil.AssertErrorCode(t, auth.RestrictTo(&models.User{Role: models.RoleUser}, models.NewRoleSet()), auth.CodeForbidden)
}

func TestGuard_RestrictReportsRejection(t *testing.T) {
	f := newFixture(t)

	err := f.guard.Restrict(&models.User{Role: models.RoleGuide}, models.NewRoleSet(models.RoleAdmin))
	errutil.AssertErrorCode(t, err, auth.CodeForbidden)
	assert.Equal(t, 1, f.observer.RejectionCount(auth.ReasonForbidden))

	require.NoError(t, f.guard.Restrict(&models.User{Role: models.RoleAdmin}, models.NewRoleSet(models.RoleAdmin)))
}

func TestUserContext(t *testing.T) {
	_, ok := auth.UserFromContext(context.Background())
	assert.False(t, ok)

	user := &models.User{ID: "u1"}
	got, ok := auth.UserFromContext(auth.WithUser(context.Background(), user))
	require.True(t, ok)
	assert.Same(t, user, got)

	_, ok = auth.UserFromContext(auth.WithUser(context.Background(), nil))
	assert.False(t, ok)
}

func TestHTTPStatus_UnknownErrorsAreInternal(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, auth.HTTPStatus(assert.AnError))
	assert.Empty(t, auth.ErrorCode(nil))
	assert.Empty(t, auth.Reason(assert.AnError))
}
