package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hongminglow/tours-be/internal/errutil"
	"github.com/hongminglow/tours-be/internal/mail"
	"github.com/hongminglow/tours-be/internal/models"
	"github.com/hongminglow/tours-be/internal/models/dto"
	"github.com/hongminglow/tours-be/internal/storage"
)

// Flow names reported to the Observer.
const (
	FlowSignup         = "signup"
	FlowLogin          = "login"
	FlowForgotPassword = "forgot_password"
	FlowResetPassword  = "reset_password"
	FlowUpdatePassword = "update_password"
)

// OutcomeSuccess is the outcome reported for flows that returned no error.
const OutcomeSuccess = "success"

// ResetPath is the route prefix a raw reset token is appended to.
const ResetPath = "/api/v1/users/resetPassword/"

var tracer = otel.Tracer("github.com/hongminglow/tours-be/internal/auth")

// dummyPassword is hashed once at startup so logins for unknown emails still
// pay for a bcrypt comparison.
const dummyPassword = "tours-timing-equalizer"

// Mailer delivers outgoing email.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// Session is the result of every flow that logs a user in.
type Session struct {
	Token string
	User  *models.User
}

// Service runs the account flows: signup, login and the password flows.
type Service struct {
	users     storage.UserStore
	mailer    Mailer
	hasher    PasswordHasher
	tokens    *TokenManager
	resets    *ResetTokenGenerator
	dummyHash string
	settings
}

// NewService wires the flows to their collaborators.
func NewService(users storage.UserStore, mailer Mailer, hasher PasswordHasher, tokens *TokenManager, resets *ResetTokenGenerator, opts ...Option) (*Service, error) {
	switch {
	case users == nil:
		return nil, errors.New("user store is required")
	case mailer == nil:
		return nil, errors.New("mailer is required")
	case hasher == nil:
		return nil, errors.New("password hasher is required")
	case tokens == nil:
		return nil, errors.New("token manager is required")
	case resets == nil:
		return nil, errors.New("reset token generator is required")
	}
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &Service{
		users:     users,
		mailer:    mailer,
		hasher:    hasher,
		tokens:    tokens,
		resets:    resets,
		dummyHash: dummyHash,
		settings:  newSettings(opts),
	}, nil
}

// Signup creates a user with the default role and logs them in.
func (s *Service) Signup(ctx context.Context, req dto.SignupRequest) (*Session, error) {
	ctx, span := tracer.Start(ctx, "auth.Signup")
	defer span.End()

	session, err := s.signup(ctx, req)
	s.finish(span, FlowSignup, err)
	return session, err
}

func (s *Service) signup(ctx context.Context, req dto.SignupRequest) (*Session, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationFailed(&models.ValidationError{Field: "name", Message: "Please tell us your name"})
	}
	email := models.NormalizeEmail(req.Email)
	if err := models.ValidateEmail(email); err != nil {
		return nil, validationFailed(err)
	}
	if err := models.ValidatePassword(req.Password, req.PasswordConfirm); err != nil {
		return nil, validationFailed(err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, internal("hash password", err)
	}

	created, err := s.users.Create(ctx, &models.User{
		Name:         name,
		Email:        email,
		Role:         models.RoleUser,
		Active:       true,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, oops.Code(CodeDuplicateEmail).
				With("field", "email").
				Errorf("Email address is already in use. Please use another one.")
		}
		if vErr := validationFailed(err); vErr != nil {
			return nil, vErr
		}
		return nil, internal("create user", err)
	}

	s.logger.InfoContext(ctx, "user signed up", "user_id", created.ID)
	return s.issueSession(created)
}

// Login verifies credentials. Unknown emails and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer span.End()

	session, err := s.login(ctx, email, password)
	s.finish(span, FlowLogin, err)
	return session, err
}

func (s *Service) login(ctx context.Context, email, password string) (*Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, oops.Code(CodeBadRequest).Errorf("Please provide email and password")
	}

	user, lookupErr := s.users.FindByEmail(ctx, email)
	targetHash := s.dummyHash
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
	case errors.Is(lookupErr, storage.ErrNotFound):
		user = nil
	default:
		return nil, internal("find user by email", lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && user != nil {
		return nil, internal("verify password", verifyErr)
	}
	if user == nil || !valid {
		return nil, invalidCredentials()
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		user = s.upgradeHash(ctx, user, password)
	}
	return s.issueSession(user)
}

// upgradeHash rehashes with the current cost. Failures keep the old hash.
func (s *Service) upgradeHash(ctx context.Context, user *models.User, password string) *models.User {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "rehash password failed", "user_id", user.ID, "error", err)
		return user
	}
	upgraded := user.Clone()
	upgraded.PasswordHash = hash
	saved, err := s.users.SavePartial(ctx, upgraded)
	if err != nil {
		s.logger.WarnContext(ctx, "store upgraded password hash failed", "user_id", user.ID, "error", err)
		return user
	}
	return saved
}

// ForgotPassword stores a fresh reset token for email and mails its link.
// The link is resetURLBase followed by ResetPath and the raw token.
func (s *Service) ForgotPassword(ctx context.Context, email, resetURLBase string) error {
	ctx, span := tracer.Start(ctx, "auth.ForgotPassword")
	defer span.End()

	err := s.forgotPassword(ctx, email, resetURLBase)
	s.finish(span, FlowForgotPassword, err)
	return err
}

func (s *Service) forgotPassword(ctx context.Context, email, resetURLBase string) error {
	if strings.TrimSpace(email) == "" {
		return oops.Code(CodeBadRequest).Errorf("Please provide your email address")
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return oops.Code(CodeNotFound).Errorf("There is no user with that email address")
		}
		return internal("find user by email", err)
	}

	raw, hash, expiresAt, err := s.resets.Generate()
	if err != nil {
		return internal("generate reset token", err)
	}
	user.PasswordResetTokenHash = &hash
	user.PasswordResetExpires = &expiresAt
	saved, err := s.users.SavePartial(ctx, user)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return conflict()
		}
		return internal("store reset token", err)
	}

	resetURL := strings.TrimRight(resetURLBase, "/") + ResetPath + raw
	msg := mail.Message{
		To:      saved.Email,
		Subject: "Your password reset token (valid for 10 minutes)",
		Body: "Forgot your password? Submit a PATCH request with your new password and passwordConfirm to:\n" +
			resetURL + "\n\nIf you didn't forget your password, please ignore this email.",
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.clearResetToken(ctx, saved)
		return oops.Code(CodeDeliveryFailed).
			With("operation", "send reset email").
			Wrapf(err, "There was an error sending the email. Try again later.")
	}

	s.logger.InfoContext(ctx, "password reset token sent", "user_id", saved.ID)
	return nil
}

// clearResetToken drops an undelivered token. It runs detached from the
// request so a canceled request still leaves no usable token behind.
func (s *Service) clearResetToken(ctx context.Context, user *models.User) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.rollbackTimeout)
	defer cancel()

	cleared := user.Clone()
	cleared.ClearPasswordReset()
	if _, err := s.users.SavePartial(rollbackCtx, cleared); err != nil {
		errutil.LogError(s.logger, "clear undelivered reset token", err)
	}
}

// ResetPassword consumes a reset token and sets a new password.
func (s *Service) ResetPassword(ctx context.Context, rawToken, password, passwordConfirm string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "auth.ResetPassword")
	defer span.End()

	session, err := s.resetPassword(ctx, rawToken, password, passwordConfirm)
	s.finish(span, FlowResetPassword, err)
	return session, err
}

func (s *Service) resetPassword(ctx context.Context, rawToken, password, passwordConfirm string) (*Session, error) {
	if rawToken == "" {
		return nil, invalidOrExpiredToken()
	}
	now := s.now()
	user, err := s.users.FindByResetToken(ctx, HashResetToken(rawToken), now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, invalidOrExpiredToken()
		}
		return nil, internal("find user by reset token", err)
	}
	if user.PasswordResetTokenHash == nil || user.PasswordResetExpires == nil ||
		!s.resets.Verify(rawToken, *user.PasswordResetTokenHash, *user.PasswordResetExpires, now) {
		return nil, invalidOrExpiredToken()
	}

	if err := models.ValidatePassword(password, passwordConfirm); err != nil {
		return nil, validationFailed(err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, internal("hash password", err)
	}

	user.PasswordHash = hash
	user.ClearPasswordReset()
	user.PasswordChangedAt = &now
	saved, err := s.users.SaveFull(ctx, user)
	if err != nil {
		// A concurrent reset consumed the token first.
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			return nil, invalidOrExpiredToken()
		}
		if vErr := validationFailed(err); vErr != nil {
			return nil, vErr
		}
		return nil, internal("save reset password", err)
	}

	s.logger.InfoContext(ctx, "password reset", "user_id", saved.ID)
	return s.issueSession(saved)
}

// UpdatePassword changes the password of an authenticated user after
// re-checking the current one.
func (s *Service) UpdatePassword(ctx context.Context, current *models.User, currentPassword, password, passwordConfirm string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "auth.UpdatePassword")
	defer span.End()

	session, err := s.updatePassword(ctx, current, currentPassword, password, passwordConfirm)
	s.finish(span, FlowUpdatePassword, err)
	return session, err
}

func (s *Service) updatePassword(ctx context.Context, current *models.User, currentPassword, password, passwordConfirm string) (*Session, error) {
	if current == nil {
		return nil, unauthenticated(ReasonMissingToken)
	}
	user, err := s.users.FindByID(ctx, current.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, unauthenticated(ReasonUserNotFound)
		}
		return nil, internal("find user by id", err)
	}

	valid, err := s.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return nil, internal("verify password", err)
	}
	if !valid {
		return nil, oops.Code(CodeIncorrectPassword).Errorf("Your current password is wrong")
	}

	if err := models.ValidatePassword(password, passwordConfirm); err != nil {
		return nil, validationFailed(err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, internal("hash password", err)
	}

	now := s.now()
	user.PasswordHash = hash
	user.PasswordChangedAt = &now
	saved, err := s.users.SaveFull(ctx, user)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, conflict()
		}
		if vErr := validationFailed(err); vErr != nil {
			return nil, vErr
		}
		return nil, internal("save updated password", err)
	}

	s.logger.InfoContext(ctx, "password updated", "user_id", saved.ID)
	return s.issueSession(saved)
}

func (s *Service) issueSession(user *models.User) (*Session, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, internal("issue session token", err)
	}
	return &Session{Token: token, User: user}, nil
}

func (s *Service) finish(span trace.Span, flow string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = strings.ToLower(ErrorCode(err))
		if outcome == "" {
			outcome = strings.ToLower(CodeInternal)
		}
		span.RecordError(err)
		if HTTPStatus(err) >= 500 {
			span.SetStatus(codes.Error, flow+" failed")
		}
	}
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	s.observer.FlowCompleted(flow, outcome)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("Incorrect email or password")
}

func invalidOrExpiredToken() error {
	return oops.Code(CodeInvalidOrExpiredToken).Errorf("Token is invalid or has expired")
}

func conflict() error {
	return oops.Code(CodeConflict).Errorf("Your account was modified concurrently. Please try again.")
}
