package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/hongminglow/tours-be/internal/models"
)

var (
	// ErrInvalidToken covers bad signatures, foreign algorithms or issuers and malformed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned once the token lifetime has elapsed.
	ErrExpiredToken = errors.New("token expired")
)

func init() {
	// iat and exp carry sub-second digits. They are parsed back through
	// float64, so Verify rounds them to tokenPrecision.
	jwt.TimePrecision = time.Microsecond
}

// tokenPrecision is the resolution of issued and expiry times.
const tokenPrecision = models.TimestampPrecision

// Claims are the verified identity claims of a session token.
type Claims struct {
	SubjectID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenManager issues and verifies signed JWTs for authenticated users.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenManager creates a manager with the provided secret, issuer, and lifetime.
func NewTokenManager(secret, issuer string, ttl time.Duration, opts ...Option) (*TokenManager, error) {
	if secret == "" {
		return nil, oops.Code("AUTH_TOKEN_CONFIG").Errorf("token secret must not be empty")
	}
	if ttl <= 0 {
		return nil, oops.Code("AUTH_TOKEN_CONFIG").With("ttl", ttl).Errorf("token lifetime must be positive")
	}
	s := newSettings(opts)
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    s.now,
		// The time window is checked in Verify at tokenPrecision.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// TTL returns the token lifetime.
func (t *TokenManager) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for subjectID valid for [now, now+ttl).
func (t *TokenManager) Issue(subjectID string) (string, error) {
	if subjectID == "" {
		return "", oops.Code("AUTH_TOKEN_SUBJECT").Errorf("token subject must not be empty")
	}
	now := t.now().Truncate(tokenPrecision)
	claims := jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   subjectID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_SIGN").Wrap(err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and lifetime and returns the
// claims. A token is valid for now in [iat, exp).
func (t *TokenManager) Verify(tokenString string) (Claims, error) {
	var claims jwt.RegisteredClaims
	token, err := t.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}
	if t.issuer != "" && claims.Issuer != t.issuer {
		return Claims{}, ErrInvalidToken
	}

	issuedAt := claims.IssuedAt.Round(tokenPrecision)
	expiresAt := claims.ExpiresAt.Round(tokenPrecision)
	now := t.now()
	if now.Before(issuedAt) {
		return Claims{}, ErrInvalidToken
	}
	if !now.Before(expiresAt) {
		return Claims{}, ErrExpiredToken
	}
	return Claims{
		SubjectID: claims.Subject,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}
