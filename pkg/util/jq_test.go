package util

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const claimsJSON = `{
  "sub": "7f9c",
  "email": "ada@example.com",
  "email_verified": true,
  "nickname": null,
  "realm_access": {"roles": ["offline_access", "staff"]},
  "resource_access": {
    "radmin": {"roles": ["admin", "editor"]},
    "billing": {"roles": []}
  },
  "groups": [
    {"name": "ops", "roles": ["deploy"]},
    {"name": "sales", "roles": ["quote", "invoice"]},
    {"label": "unnamed"}
  ],
  "exp": 1760000000
}`

func loadClaims(t testing.TB) map[string]any {
	t.Helper()
	var claims map[string]any
	require.NoError(t, json.Unmarshal([]byte(claimsJSON), &claims))
	return claims
}

func TestJq(t *testing.T) {
	claims := loadClaims(t)

	tests := []struct {
		name     string
		path     string
		expected any
		wantErr  bool
	}{
		{name: "top level", path: "sub", expected: "7f9c"},
		{name: "leading dot", path: ".email", expected: "ada@example.com"},
		{name: "bool", path: "email_verified", expected: true},
		{name: "null", path: "nickname", expected: nil},
		{name: "number", path: "exp", expected: float64(1760000000)},
		{name: "nested array", path: "realm_access.roles", expected: []any{"offline_access", "staff"}},
		{name: "client roles", path: "resource_access.radmin.roles", expected: []any{"admin", "editor"}},
		{name: "index", path: "resource_access.radmin.roles[1]", expected: "editor"},
		{name: "empty array", path: "resource_access.billing.roles", expected: []any{}},
		{name: "wildcard field", path: "groups[].name", expected: []any{"ops", "sales"}},
		{name: "star wildcard flattens", path: "groups[*].roles", expected: []any{"deploy", "quote", "invoice"}},
		{name: "whole array", path: "groups[]", expected: []any{
			map[string]any{"name": "ops", "roles": []any{"deploy"}},
			map[string]any{"name": "sales", "roles": []any{"quote", "invoice"}},
			map[string]any{"label": "unnamed"},
		}},

		{name: "missing key", path: "realm_access.groups", wantErr: true},
		{name: "index out of range", path: "realm_access.roles[2]", wantErr: true},
		{name: "negative index", path: "realm_access.roles[-1]", wantErr: true},
		{name: "non numeric index", path: "realm_access.roles[abc]", wantErr: true},
		{name: "unterminated index", path: "realm_access.roles[0", wantErr: true},
		{name: "index on object", path: "realm_access[0]", wantErr: true},
		{name: "descend into scalar", path: "sub.value", wantErr: true},
		{name: "wildcard without matches", path: "groups[].missing", wantErr: true},
		{name: "empty path", path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Jq(claims, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	t.Run("nil input", func(t *testing.T) {
		_, err := Jq(nil, "sub")
		assert.Error(t, err)
	})
}

func BenchmarkJq(b *testing.B) {
	claims := loadClaims(b)
	for _, path := range []string{"sub", "resource_access.radmin.roles", "groups[*].roles"} {
		b.Run(path, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := Jq(claims, path); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkJqWideArray(b *testing.B) {
	for _, size := range []int{10, 1000} {
		groups := make([]any, size)
		for i := range groups {
			groups[i] = map[string]any{"name": fmt.Sprintf("group-%d", i)}
		}
		claims := map[string]any{"groups": groups}
		b.Run(fmt.Sprintf("size_%d", size), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := Jq(claims, "groups[].name"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
