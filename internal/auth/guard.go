package auth

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hongminglow/tours-be/internal/models"
	"github.com/hongminglow/tours-be/internal/storage"
)

const bearerScheme = "Bearer"

// Guard authenticates requests by session token and enforces role restrictions.
type Guard struct {
	users  storage.UserStore
	tokens *TokenManager
	settings
}

// NewGuard creates a Guard; WithLogger and WithObserver apply.
func NewGuard(users storage.UserStore, tokens *TokenManager, opts ...Option) (*Guard, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if tokens == nil {
		return nil, errors.New("token manager is required")
	}
	return &Guard{users: users, tokens: tokens, settings: newSettings(opts)}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate resolves the user behind an Authorization header. The token
// must verify, its subject must be an active user and the password must not
// have changed after the token was issued.
func (g *Guard) Authenticate(ctx context.Context, authorization string) (*models.User, Claims, error) {
	ctx, span := tracer.Start(ctx, "auth.Guard.Authenticate")
	defer span.End()

	user, claims, err := g.authenticate(ctx, authorization)
	if err != nil {
		reason := Reason(err)
		if reason == "" {
			reason = strings.ToLower(CodeInternal)
		}
		span.SetAttributes(attribute.String("auth.reject_reason", reason))
		g.observer.GuardRejected(reason)
		return nil, Claims{}, err
	}
	span.SetAttributes(attribute.String("auth.user_id", user.ID))
	return user, claims, nil
}

func (g *Guard) authenticate(ctx context.Context, authorization string) (*models.User, Claims, error) {
	token, ok := BearerToken(authorization)
	if !ok {
		return nil, Claims{}, unauthenticated(ReasonMissingToken)
	}

	claims, err := g.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, Claims{}, unauthenticated(ReasonExpiredToken)
		}
		return nil, Claims{}, unauthenticated(ReasonInvalidToken)
	}

	user, err := g.users.FindByID(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Claims{}, unauthenticated(ReasonUserNotFound)
		}
		return nil, Claims{}, internal("find token subject", err)
	}

	if user.ChangedPasswordAfter(claims.IssuedAt) {
		return nil, Claims{}, unauthenticated(ReasonPasswordChanged)
	}
	return user, claims, nil
}

// Restrict is RestrictTo with the rejection reported to the observer.
func (g *Guard) Restrict(user *models.User, allowed models.RoleSet) error {
	if err := RestrictTo(user, allowed); err != nil {
		g.observer.GuardRejected(ReasonForbidden)
		return err
	}
	return nil
}

// RestrictTo allows only users whose role is in allowed.
func RestrictTo(user *models.User, allowed models.RoleSet) error {
	if user == nil || !allowed.Contains(user.Role) {
		return forbidden()
	}
	return nil
}
