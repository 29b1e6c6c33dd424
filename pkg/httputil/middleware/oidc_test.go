package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/edgeflare/radmin/pkg/authz"
	"github.com/edgeflare/radmin/pkg/cache"
)

func TestRolesFromClaims(t *testing.T) {
	tests := []struct {
		name     string
		claims   map[string]any
		path     string
		expected []string
	}{
		{
			name:     "simple path",
			claims:   map[string]any{"role": "admin"},
			path:     "role",
			expected: []string{"admin"},
		},
		{
			name:     "nested list",
			claims:   map[string]any{"realm_access": map[string]any{"roles": []any{"staff", "user"}}},
			path:     "realm_access.roles",
			expected: []string{"staff", "user"},
		},
		{
			name:     "initial dot in path",
			claims:   map[string]any{"user": map[string]any{"role": "admin"}},
			path:     ".user.role",
			expected: []string{"admin"},
		},
		{
			name:     "array index",
			claims:   map[string]any{"user": map[string]any{"roles": []any{"admin", "user"}}},
			path:     "user.roles[0]",
			expected: []string{"admin"},
		},
		{
			name:     "non-string entries are skipped",
			claims:   map[string]any{"roles": []any{"staff", 42}},
			path:     "roles",
			expected: []string{"staff"},
		},
		{
			name:   "non-string value",
			claims: map[string]any{"role": 123},
			path:   "role",
		},
		{
			name:   "missing path",
			claims: map[string]any{"user": map[string]any{"role": "user"}},
			path:   "user.nonexistent",
		},
		{
			name:   "no path configured",
			claims: map[string]any{"role": "admin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, rolesFromClaims(tt.claims, tt.path))
		})
	}
}

type fakeIntrospector struct {
	calls     int
	responses map[string]*oidc.IntrospectionResponse
}

func (f *fakeIntrospector) Introspect(_ context.Context, token string) (*oidc.IntrospectionResponse, error) {
	f.calls++
	resp, ok := f.responses[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return resp, nil
}

func TestVerifyOIDCToken(t *testing.T) {
	in := &fakeIntrospector{responses: map[string]*oidc.IntrospectionResponse{
		"good": {
			Active:  true,
			Subject: "u-1",
			Claims:  map[string]any{"roles": []any{"staff"}},
		},
		"inactive": {Active: false, Subject: "u-2"},
	}}
	mc := cache.NewMemory(time.Minute)

	newHandler := func(optional bool) (http.Handler, *authz.Actor) {
		var seen authz.Actor
		h := VerifyOIDCToken(in, OIDCOptions{
			RoleClaimKey: "roles",
			Cache:        mc,
			Optional:     optional,
		})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = authz.ActorFrom(r.Context())
			w.WriteHeader(http.StatusOK)
		}))
		return h, &seen
	}

	tests := []struct {
		name       string
		header     string
		optional   bool
		wantStatus int
		wantActor  string
	}{
		{name: "active token", header: "Bearer good", wantStatus: http.StatusOK, wantActor: "u-1"},
		{name: "lower case scheme", header: "bearer good", wantStatus: http.StatusOK, wantActor: "u-1"},
		{name: "inactive token", header: "Bearer inactive", wantStatus: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "optional without token", optional: true, wantStatus: http.StatusOK},
		{name: "optional with basic auth", header: "Basic dXNlcjpwYXNz", optional: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, seen := newHandler(tt.optional)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantActor, seen.ID)
			if tt.wantActor != "" {
				assert.True(t, seen.HasRole("staff"))
			}
		})
	}

	t.Run("cached actors skip introspection", func(t *testing.T) {
		before := in.calls
		h, seen := newHandler(false)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good")
		h.ServeHTTP(httptest.NewRecorder(), req)

		require.Equal(t, "u-1", seen.ID)
		assert.Equal(t, before, in.calls)
		assert.Equal(t, 1, mc.Len())
	})
}

func TestNewIntrospectorRequiresConfig(t *testing.T) {
	_, err := NewIntrospector(context.Background(), OIDCProviderConfig{Issuer: "https://issuer.example"})
	assert.Error(t, err)
}
