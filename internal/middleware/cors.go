package middleware

import (
	"net/http"
	"strings"

	"github.com/gobwas/glob"
)

const (
	corsAllowHeaders = "Content-Type, Authorization"
	corsAllowMethods = "GET,POST,PATCH,DELETE,OPTIONS"
)

// CORS adds Access-Control headers for allowed origins and answers
// preflight requests. A "*" entry allows any origin without credentials;
// entries such as "https://*.example.com" match one subdomain label.
// Patterns that do not compile are ignored.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	var patterns []glob.Glob
	for _, origin := range allowedOrigins {
		origin = strings.ToLower(strings.TrimRight(origin, "/"))
		switch {
		case origin == "*":
			allowAll = true
		case strings.ContainsAny(origin, "*?["):
			if g, err := CompileOrigin(origin); err == nil {
				patterns = append(patterns, g)
			}
		default:
			allowed[origin] = struct{}{}
		}
	}
	listed := func(origin string) bool {
		origin = strings.ToLower(origin)
		if _, ok := allowed[origin]; ok {
			return true
		}
		for _, g := range patterns {
			if g.Match(origin) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				w.Header().Add("Vary", "Origin")
				switch {
				case listed(origin):
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				case allowAll:
					w.Header().Set("Access-Control-Allow-Origin", "*")
				}
				w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
				w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CompileOrigin compiles an origin pattern. "*" does not cross a dot.
func CompileOrigin(pattern string) (glob.Glob, error) {
	return glob.Compile(strings.ToLower(pattern), '.')
}
