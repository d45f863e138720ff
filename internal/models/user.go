package models

import (
	"net/mail"
	"strings"
	"time"
)

// TimestampPrecision is the resolution at which session issue times and
// password changes are compared.
const TimestampPrecision = time.Millisecond

// Password policy limits. bcrypt ignores input past 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// User captures application-facing fields for an authenticated identity.
type User struct {
	ID                     string     `json:"id"`
	Name                   string     `json:"name"`
	Email                  string     `json:"email"`
	Role                   Role       `json:"role"`
	Active                 bool       `json:"-"`
	PasswordHash           string     `json:"-"`
	PasswordChangedAt      *time.Time `json:"passwordChangedAt,omitempty"`
	PasswordResetTokenHash *string    `json:"-"`
	PasswordResetExpires   *time.Time `json:"-"`
	Version                int64      `json:"-"`
	CreatedAt              time.Time  `json:"createdAt"`
}

// ValidationError reports a user record or input that breaks a field rule.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks the fields every persisted user must satisfy.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return &ValidationError{Field: "name", Message: "Please tell us your name"}
	}
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if !u.Role.Valid() {
		return &ValidationError{Field: "role", Message: "Role is either: user, guide, lead-guide, admin"}
	}
	if u.PasswordHash == "" {
		return &ValidationError{Field: "password", Message: "Please provide a password"}
	}
	return nil
}

// ValidateEmail checks that email is present and syntactically an address.
func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return &ValidationError{Field: "email", Message: "Please provide your email"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Message: "Please provide a valid email"}
	}
	return nil
}

// ValidatePassword applies the password policy to a new password and its confirmation.
func ValidatePassword(password, confirm string) error {
	if len(password) < MinPasswordLength {
		return &ValidationError{Field: "password", Message: "Password must be at least 8 characters"}
	}
	if len(password) > MaxPasswordLength {
		return &ValidationError{Field: "password", Message: "Password must be at most 72 bytes"}
	}
	if password != confirm {
		return &ValidationError{Field: "passwordConfirm", Message: "Passwords are not the same"}
	}
	return nil
}

// ChangedPasswordAfter reports whether the password changed after a token
// issued at issuedAt. A token issued in the same millisecond as the change
// is the session minted by that change and stays valid.
func (u *User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return issuedAt.Before(u.PasswordChangedAt.Truncate(TimestampPrecision))
}

// ClearPasswordReset drops any pending reset token.
func (u *User) ClearPasswordReset() {
	u.PasswordResetTokenHash = nil
	u.PasswordResetExpires = nil
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.PasswordChangedAt != nil {
		t := *u.PasswordChangedAt
		out.PasswordChangedAt = &t
	}
	if u.PasswordResetTokenHash != nil {
		h := *u.PasswordResetTokenHash
		out.PasswordResetTokenHash = &h
	}
	if u.PasswordResetExpires != nil {
		t := *u.PasswordResetExpires
		out.PasswordResetExpires = &t
	}
	return &out
}
