package radmin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/edgeflare/radmin/pkg/authz"
	"github.com/edgeflare/radmin/pkg/blob"
	"github.com/edgeflare/radmin/pkg/changefeed"
	"github.com/edgeflare/radmin/pkg/config"
	"github.com/edgeflare/radmin/pkg/crud"
	"github.com/edgeflare/radmin/pkg/httputil"
	mw "github.com/edgeflare/radmin/pkg/httputil/middleware"
	"github.com/edgeflare/radmin/pkg/introspect"
	"github.com/edgeflare/radmin/pkg/metrics"
	"github.com/edgeflare/radmin/pkg/rest"

	// Register built-in changefeed connectors
	_ "github.com/edgeflare/radmin/pkg/changefeed/debug"
	_ "github.com/edgeflare/radmin/pkg/changefeed/http"
	_ "github.com/edgeflare/radmin/pkg/changefeed/kafka"
	_ "github.com/edgeflare/radmin/pkg/changefeed/mqtt"
	_ "github.com/edgeflare/radmin/pkg/changefeed/nats"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the admin REST API server",
	Long:    `Starts the admin API serving CRUD, bulk, import/export and introspection endpoints for every exposed entity`,
	RunE:    runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("server.listenAddr", "l", "", "REST server listen address")
	f.String("server.baseURL", "", "Base URL for API endpoints")
	f.String("server.uiDir", "", "Directory of a single page admin UI served at /")
	f.Bool("server.tls.enabled", false, "Serve HTTPS")
	f.String("authz.strategy", "", "Authorization strategy: deny, allow, readonly or roles")
	f.Bool("auth.required", false, "Reject requests without an authenticated actor")
	f.Bool("metrics.enabled", false, "Serve Prometheus metrics")
	f.String("metrics.addr", "", "Prometheus metrics listen address")
	viper.BindPFlags(f)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	feed := changefeed.NewManager(
		changefeed.WithLogger(logger.Named("changefeed")),
		changefeed.WithBuffer(cfg.Changefeed.Buffer),
	)
	for _, c := range cfg.Changefeed.Connectors {
		if err := feed.AddFromConfig(c.Name, c.Connector, c.Config, c.Transforms); err != nil {
			return fmt.Errorf("changefeed %s: %w", c.Name, err)
		}
	}
	if feed.Len() > 0 {
		feed.Start(ctx)
	}
	defer feed.Close()

	strategy, err := authz.FromConfig(cfg.Authz.Strategy, cfg.Authz.Roles)
	if err != nil {
		return err
	}
	if cfg.Authz.Strategy == "" || strings.EqualFold(cfg.Authz.Strategy, "deny") {
		logger.Warn("authz strategy is deny, every API request will be rejected with 403")
	}

	files := blob.NewLocalStore(cfg.Blob.Root, cfg.Blob.BaseURL)
	engine := crud.New(a.registry, a.store,
		crud.WithBlobStore(files),
		crud.WithPublisher(feed),
		crud.WithMaxDepth(cfg.Engine.MaxDepth),
		crud.WithLogger(logger.Named("crud")),
	)

	security := introspect.Security{
		Basic:  len(cfg.Auth.Basic) > 0,
		Bearer: cfg.Auth.OIDC.Enabled() || cfg.Auth.JWT.Secret != "",
	}
	openapi := introspect.NewOpenAPI(a.registry, cfg.Server.BaseURL, introspect.APIInfo{
		Title:   "radmin",
		Version: config.Version,
	}, security)

	routerOpts := []httputil.RouterOptions{
		httputil.WithRouterLogger(logger),
		httputil.WithServerOptions(func(s *http.Server) {
			s.ReadHeaderTimeout = 10 * time.Second
		}),
	}
	if cfg.Server.TLS.Enabled {
		routerOpts = append(routerOpts, httputil.WithTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile))
	}
	router := httputil.NewRouter(routerOpts...)

	authn, err := authMiddleware(ctx, cfg, a, logger)
	if err != nil {
		return err
	}
	router.Use(mw.RequestID, mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger.Named("http")}), mw.CORSWithOptions(nil))

	api := router.Group("")
	if len(authn) > 0 {
		api.Use(authn[0], authn[1:]...)
	}
	rest.NewServer(engine, a.describer,
		rest.WithLogger(logger.Named("rest")),
		rest.WithAuthorizer(strategy),
		rest.WithBaseURL(cfg.Server.BaseURL),
		rest.WithTenantHeader(cfg.Engine.TenantHeader),
		rest.WithOpenAPI(openapi),
		rest.WithMaxBodySize(cfg.Server.MaxBodySize),
	).Register(api)

	uploads, err := mw.Uploads(cfg.Blob.Root)
	if err != nil {
		return fmt.Errorf("serve uploads: %w", err)
	}
	media := "/" + strings.Trim(cfg.Blob.BaseURL, "/")
	router.Handle("GET "+media+"/", http.StripPrefix(media, uploads))

	if cfg.Server.UIDir != "" {
		ui, err := mw.Static(cfg.Server.UIDir, true)
		if err != nil {
			return fmt.Errorf("serve ui: %w", err)
		}
		router.Handle("GET /", ui)
	}

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Addr:   cfg.Metrics.Addr,
			Path:   cfg.Metrics.Path,
			Logger: logger.Named("metrics"),
		})
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- router.ListenAndServe(cfg.Server.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := router.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	wg.Wait()
	logger.Info("server gracefully stopped")
	return nil
}

// authMiddleware returns the identity middlewares in the order they run.
// Each scheme only claims requests carrying its credentials; auth.required
// rejects what none of them identified.
func authMiddleware(ctx context.Context, cfg *config.Config, a *app, logger *zap.Logger) ([]httputil.Middleware, error) {
	var chain []httputil.Middleware
	if len(cfg.Auth.Basic) > 0 {
		chain = append(chain, mw.VerifyBasicAuth(&mw.BasicAuthConfig{
			Credentials: cfg.Auth.Basic,
			Roles:       cfg.Auth.BasicRoles,
			Optional:    true,
		}))
	}

	switch {
	case cfg.Auth.OIDC.Enabled():
		in, err := mw.NewIntrospector(ctx, mw.OIDCProviderConfig{
			ClientID:     cfg.Auth.OIDC.ClientID,
			ClientSecret: cfg.Auth.OIDC.ClientSecret,
			Issuer:       cfg.Auth.OIDC.Issuer,
			RoleClaimKey: cfg.Auth.OIDC.RoleClaimKey,
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, mw.VerifyOIDCToken(in, mw.OIDCOptions{
			RoleClaimKey: cfg.Auth.OIDC.RoleClaimKey,
			Cache:        a.cache,
			CacheTTL:     cfg.Cache.TTL,
			Optional:     true,
			Logger:       logger.Named("oidc"),
		}))
		if cfg.Auth.JWT.Secret != "" {
			logger.Warn("auth.jwt is ignored when auth.oidc is configured")
		}
	case cfg.Auth.JWT.Secret != "":
		chain = append(chain, mw.VerifyJWT(mw.JWTConfig{
			Secret:       []byte(cfg.Auth.JWT.Secret),
			RoleClaimKey: cfg.Auth.JWT.RoleClaimKey,
			Optional:     true,
		}))
	}

	if cfg.Auth.Required {
		if len(chain) == 0 {
			return nil, errors.New("auth.required is set but no authentication scheme is configured")
		}
		chain = append(chain, mw.RequireActor)
	}
	return chain, nil
}
