package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edgeflare/radmin/pkg/authz"
)

// JWTConfig verifies HS256 bearer tokens signed with a shared secret.
type JWTConfig struct {
	Secret []byte
	// RoleClaimKey is a jq-style path to the roles claim, e.g. "roles" or
	// "realm_access.roles".
	RoleClaimKey string
	// Optional lets requests without a bearer token through.
	Optional bool
}

// ParseToken validates token and returns the actor it names. The actor id
// is the "sub" claim.
func (c JWTConfig) ParseToken(token string) (authz.Actor, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return c.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return authz.Actor{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return authz.Actor{}, errors.New("invalid token claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return authz.Actor{}, fmt.Errorf("token has no subject")
	}
	return authz.Actor{ID: sub, Roles: rolesFromClaims(claims, c.RoleClaimKey)}, nil
}

// VerifyJWT authenticates "Authorization: Bearer" tokens against config.
func VerifyJWT(config JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				if config.Optional {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "Bearer token missing", http.StatusUnauthorized)
				return
			}
			actor, err := config.ParseToken(token)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, withActor(w, r, actor))
		})
	}
}
