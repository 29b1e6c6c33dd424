package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rs"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"go.uber.org/zap"

	"github.com/edgeflare/radmin/pkg/authz"
	"github.com/edgeflare/radmin/pkg/cache"
)

var errInactiveToken = errors.New("token is not active")

// OIDCProviderConfig holds the configuration for the OIDC provider.
type OIDCProviderConfig struct {
	ClientID     string `mapstructure:"clientID"`
	ClientSecret string `mapstructure:"clientSecret"`
	Issuer       string `mapstructure:"issuer"`
	RoleClaimKey string `mapstructure:"roleClaimKey"`
}

// Introspector resolves an access token to its introspection response.
type Introspector interface {
	Introspect(ctx context.Context, token string) (*oidc.IntrospectionResponse, error)
}

type resourceServer struct {
	rs rs.ResourceServer
}

func (s resourceServer) Introspect(ctx context.Context, token string) (*oidc.IntrospectionResponse, error) {
	return rs.Introspect[*oidc.IntrospectionResponse](ctx, s.rs, token)
}

// NewIntrospector discovers the issuer and authenticates to its
// introspection endpoint with client credentials.
func NewIntrospector(ctx context.Context, cfg OIDCProviderConfig) (Introspector, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.Issuer == "" {
		return nil, errors.New("missing required OIDC configuration")
	}
	provider, err := rs.NewResourceServerClientCredentials(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("create OIDC resource server: %w", err)
	}
	return resourceServer{rs: provider}, nil
}

// OIDCOptions configures VerifyOIDCToken.
type OIDCOptions struct {
	RoleClaimKey string
	// Cache keeps resolved actors for CacheTTL, keyed by a token hash.
	Cache    cache.Cache
	CacheTTL time.Duration
	// Optional lets requests without a bearer token through, so another
	// scheme (e.g. basic auth) can identify them.
	Optional bool
	Logger   *zap.Logger
}

// VerifyOIDCToken authenticates bearer tokens by introspection.
func VerifyOIDCToken(in Introspector, opts OIDCOptions) func(http.Handler) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				if opts.Optional {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "Authorization header missing", http.StatusUnauthorized)
				return
			}

			actor, err := introspectActor(r.Context(), in, token, opts)
			if err != nil {
				opts.Logger.Debug("token rejected", zap.Error(err))
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, withActor(w, r, actor))
		})
	}
}

func introspectActor(ctx context.Context, in Introspector, token string, opts OIDCOptions) (authz.Actor, error) {
	var key string
	if opts.Cache != nil {
		sum := sha256.Sum256([]byte(token))
		key = "oidc:" + hex.EncodeToString(sum[:])
		var actor authz.Actor
		found, err := cache.GetJSON(ctx, opts.Cache, key, &actor)
		if err != nil {
			opts.Logger.Warn("token cache read failed", zap.Error(err))
		}
		if found {
			return actor, nil
		}
	}

	resp, err := in.Introspect(ctx, token)
	if err != nil {
		return authz.Actor{}, err
	}
	if resp == nil || !resp.Active {
		return authz.Actor{}, errInactiveToken
	}
	actor, err := actorFromIntrospection(resp, opts.RoleClaimKey)
	if err != nil {
		return authz.Actor{}, err
	}

	if opts.Cache != nil {
		if err := cache.SetJSON(ctx, opts.Cache, key, actor, opts.CacheTTL); err != nil {
			opts.Logger.Warn("token cache write failed", zap.Error(err))
		}
	}
	return actor, nil
}

// actorFromIntrospection reads the subject and roles. Roles are looked up in
// the response as serialized, so standard and custom claims share one path
// syntax.
func actorFromIntrospection(resp *oidc.IntrospectionResponse, roleClaimKey string) (authz.Actor, error) {
	id := resp.Subject
	if id == "" {
		id = resp.Username
	}
	if id == "" {
		return authz.Actor{}, errors.New("introspection response has no subject")
	}

	var claims map[string]any
	raw, err := json.Marshal(resp)
	if err != nil {
		return authz.Actor{}, err
	}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return authz.Actor{}, err
	}
	return authz.Actor{ID: id, Roles: rolesFromClaims(claims, roleClaimKey)}, nil
}
