package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hongminglow/tours-be/internal/auth"
	"github.com/hongminglow/tours-be/internal/http/respond"
	"github.com/hongminglow/tours-be/internal/models"
)

// Protect rejects requests without a valid session and stores the
// authenticated user in the request context.
func Protect(guard *auth.Guard, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _, err := guard.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				respond.FromError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	}
}

// RestrictTo allows only users with one of roles. It must run after Protect.
func RestrictTo(guard *auth.Guard, logger *slog.Logger, roles ...models.Role) func(http.Handler) http.Handler {
	allowed := models.NewRoleSet(roles...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := auth.UserFromContext(r.Context())
			if err := guard.Restrict(user, allowed); err != nil {
				respond.FromError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies middleware so that the first one listed runs first.
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
