package gateway

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alekspetrov/tether/internal/logging"
)

var (
	errTokenMissing  = errors.New("missing authorization token")
	errTokenMismatch = errors.New("invalid token")
)

// Authenticator guards the status endpoints with a bearer token. An
// empty token disables authentication, which is the default for a
// server bound to localhost.
type Authenticator struct {
	token string
}

// NewAuthenticator creates an authenticator for the given token.
func NewAuthenticator(token string) *Authenticator {
	return &Authenticator{token: token}
}

// Enabled reports whether requests are required to carry a token.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.token != ""
}

// Authenticate validates a request's Authorization header.
func (a *Authenticator) Authenticate(r *http.Request) error {
	if !a.Enabled() {
		return nil
	}

	switch token := extractBearerToken(r); {
	case token == "":
		return errTokenMissing
	case !secureCompare(token, a.token):
		return errTokenMismatch
	default:
		return nil
	}
}

// Middleware wraps a handler and returns 401 Unauthorized when
// authentication fails. Rejections are logged at debug level.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Authenticate(r); err != nil {
			logging.WithComponent("gateway").Debug("request rejected",
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
				slog.Any("error", err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearerToken pulls the token out of an "Authorization: Bearer x"
// header. The scheme match is case-insensitive per RFC 7235.
func extractBearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return token
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
