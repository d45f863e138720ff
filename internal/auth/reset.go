package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes = 32               // 32 bytes = 64 hex chars
	ResetTokenTTL   = 10 * time.Minute // 10 minute expiry
)

// ResetTokenGenerator issues single-use password reset secrets.
type ResetTokenGenerator struct {
	now func() time.Time
}

// NewResetTokenGenerator creates a generator; only WithClock applies.
func NewResetTokenGenerator(opts ...Option) *ResetTokenGenerator {
	return &ResetTokenGenerator{now: newSettings(opts).now}
}

// Generate creates a random token, its SHA-256 digest and its expiry.
// The raw token is sent to the user; only the digest is stored.
func (g *ResetTokenGenerator) Generate() (raw, hash string, expiresAt time.Time, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", time.Time{}, oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	raw = hex.EncodeToString(tokenBytes)
	return raw, HashResetToken(raw), g.now().Add(ResetTokenTTL), nil
}

// Verify reports whether candidate matches storedHash and now has not passed storedExpiry.
func (g *ResetTokenGenerator) Verify(candidate, storedHash string, storedExpiry, now time.Time) bool {
	if candidate == "" || storedHash == "" {
		return false
	}
	computed := HashResetToken(candidate)
	match := subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
	return match && !now.After(storedExpiry)
}

// HashResetToken computes the hex SHA-256 digest of a raw reset token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
