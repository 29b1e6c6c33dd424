package middleware

import (
	"net/http"
	"strings"

	"github.com/edgeflare/radmin/pkg/authz"
	"github.com/edgeflare/radmin/pkg/httputil"
	"github.com/edgeflare/radmin/pkg/util"
)

// withActor stores a in the request context and tells the access log who it
// was.
func withActor(w http.ResponseWriter, r *http.Request, a authz.Actor) *http.Request {
	if rec := recorderOf(w); rec != nil {
		rec.Actor = a.ID
	}
	return r.WithContext(authz.WithActor(r.Context(), a))
}

// RequireActor rejects requests no authentication middleware has identified.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authz.ActorFrom(r.Context()).Authenticated() {
			httputil.Error(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// rolesFromClaims reads the roles at path, a string or a list of strings.
func rolesFromClaims(claims map[string]any, path string) []string {
	if path == "" {
		return nil
	}
	v, err := util.Jq(claims, path)
	if err != nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		roles := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	}
	return nil
}
