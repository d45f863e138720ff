package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/hongminglow/tours-be/internal/auth"
	"github.com/hongminglow/tours-be/internal/http/respond"
	"github.com/hongminglow/tours-be/internal/storage"
)

// UserHandler serves reads of user records.
type UserHandler struct {
	store  storage.UserStore
	logger *slog.Logger
}

// NewUserHandler constructs the handler.
func NewUserHandler(store storage.UserStore, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{store: store, logger: logger}
}

// Register attaches user routes. protect guards both routes; restrict
// additionally limits the lookup by id.
func (h *UserHandler) Register(mux *http.ServeMux, protect, restrict func(http.Handler) http.Handler) {
	mux.Handle("GET /api/v1/users/me", protect(http.HandlerFunc(h.handleMe)))
	mux.Handle("GET /api/v1/users/{id}", protect(restrict(http.HandlerFunc(h.handleGet))))
}

func (h *UserHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respond.InternalError(w)
		return
	}
	respond.User(w, user)
}

func (h *UserHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = oops.Code(auth.CodeNotFound).Errorf("No user found with that ID")
		} else {
			err = oops.Code(auth.CodeInternal).With("operation", "find user by id").Wrap(err)
		}
		respond.FromError(w, h.logger, err)
		return
	}
	respond.User(w, user)
}
