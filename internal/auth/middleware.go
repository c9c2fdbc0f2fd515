// Package auth guards the admin HTTP endpoints with a static bearer token.
package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// NewAuthMiddleware requires "Authorization: Bearer <token>" on every request.
// An empty token disables the check. The scheme is matched case-sensitively
// and the token is compared in constant time. Rejected requests get a 401
// with a WWW-Authenticate challenge and never reach next.
func NewAuthMiddleware(token string, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	want := []byte(token)

	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(provided), want) != 1 {
				logger.Debug("admin request rejected", "path", r.URL.Path, "remote", r.RemoteAddr, "has_header", ok)
				w.Header().Set("WWW-Authenticate", `Bearer realm="invictusmessages"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	tok := header[len(bearerPrefix):]
	return tok, tok != ""
}
