package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hongminglow/tours-be/internal/auth"
	"github.com/hongminglow/tours-be/internal/http/respond"
	"github.com/hongminglow/tours-be/internal/models/dto"
)

// AuthHandler exposes the account flows under /api/v1/users.
type AuthHandler struct {
	service *auth.Service
	logger  *slog.Logger
	baseURL string
}

// NewAuthHandler constructs the handler. baseURL prefixes password reset
// links; when empty the request's own scheme and host are used.
func NewAuthHandler(service *auth.Service, logger *slog.Logger, baseURL string) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{service: service, logger: logger, baseURL: baseURL}
}

// Register attaches auth routes to the mux. protect wraps routes that need
// a logged-in user.
func (h *AuthHandler) Register(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /api/v1/users/signup", h.handleSignup)
	mux.HandleFunc("POST /api/v1/users/login", h.handleLogin)
	mux.HandleFunc("POST /api/v1/users/forgotPassword", h.handleForgotPassword)
	mux.HandleFunc("PATCH /api/v1/users/resetPassword/{token}", h.handleResetPassword)
	mux.Handle("PATCH /api/v1/users/updateMyPassword", protect(http.HandlerFunc(h.handleUpdatePassword)))
}

func (h *AuthHandler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req dto.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.FromError(w, h.logger, err)
		return
	}
	session, err := h.service.Signup(r.Context(), req)
	if err != nil {
		respond.FromError(w, h.logger, err)
		return
	}
	respond.Session(w, http.StatusCreated, session)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.FromError(w, h.logger, err)
		return
	}
	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respond.FromError(w, h.logger, err)
		return
	}
	respond.Session(w, http.StatusOK, session)
}

func (h *AuthHandler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.FromError(w, h.logger, err)
		return
	}
	if err := h.service.ForgotPassword(r.Context(), req.Email, h.resetBase(r)); err != nil {
		respond.FromError(w, h.logger, err)
		return
	}
	respond.Message(w, http.StatusOK, "Token sent to email!")
}

func (h *AuthHandler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.FromError(w, h.logger, err)
		return
	}
	session, err := h.service.ResetPassword(r.Context(), r.PathValue("token"), req.Password, req.PasswordConfirm)
	if err != nil {
		respond.FromError(w, h.logger, err)
		return
	}
	respond.Session(w, http.StatusOK, session)
}

func (h *AuthHandler) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.FromError(w, h.logger, err)
		return
	}
	current, _ := auth.UserFromContext(r.Context())
	session, err := h.service.UpdatePassword(r.Context(), current, req.PasswordCurrent, req.Password, req.PasswordConfirm)
	if err != nil {
		respond.FromError(w, h.logger, err)
		return
	}
	respond.Session(w, http.StatusOK, session)
}

func (h *AuthHandler) resetBase(r *http.Request) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
