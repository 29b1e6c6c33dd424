package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/edgeflare/radmin/pkg/authz"
)

// BasicAuthConfig holds username/password pairs and the roles each user
// acts with.
type BasicAuthConfig struct {
	Credentials map[string]string
	Roles       map[string][]string
	// Optional lets requests without basic credentials through, so another
	// scheme can identify them.
	Optional bool
}

// BasicAuthCreds returns a config requiring one of credentials.
func BasicAuthCreds(credentials map[string]string) *BasicAuthConfig {
	return &BasicAuthConfig{Credentials: credentials}
}

// VerifyBasicAuth authenticates the "Authorization: Basic" header and sets
// the actor to the username.
func VerifyBasicAuth(config *BasicAuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if config.Optional {
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
				http.Error(w, "Authorization header missing", http.StatusUnauthorized)
				return
			}

			encoded, ok := strings.CutPrefix(authHeader, "Basic ")
			if !ok {
				if config.Optional {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			decoded, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				http.Error(w, "Invalid base64 encoding", http.StatusUnauthorized)
				return
			}

			username, password, ok := strings.Cut(string(decoded), ":")
			if !ok {
				http.Error(w, "Invalid credentials format", http.StatusUnauthorized)
				return
			}

			want, known := config.Credentials[username]
			if !known || subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
				http.Error(w, "Invalid credentials", http.StatusUnauthorized)
				return
			}

			actor := authz.Actor{ID: username, Roles: config.Roles[username]}
			next.ServeHTTP(w, withActor(w, r, actor))
		})
	}
}
