package radmin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/edgeflare/radmin/pkg/cache"
	"github.com/edgeflare/radmin/pkg/config"
	"github.com/edgeflare/radmin/pkg/introspect"
	pg "github.com/edgeflare/radmin/pkg/pgx"
	"github.com/edgeflare/radmin/pkg/schema"
	"github.com/edgeflare/radmin/pkg/store"
	"github.com/edgeflare/radmin/pkg/store/memstore"
	"github.com/edgeflare/radmin/pkg/store/pgstore"
)

// app holds the components shared by the subcommands.
type app struct {
	logger    *zap.Logger
	registry  *schema.Registry
	store     store.Store
	cache     cache.Cache
	describer *introspect.Describer
	closers   []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// newApp connects the entity store and builds the registry, cache and
// describer from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger}

	var src schema.Source
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pg.Connect(ctx, pg.Pool{
			ConnString: cfg.Store.ConnString,
			MaxRetries: cfg.Store.ConnectRetries,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, closePool(pool))
		src = schema.NewPostgresSource(pool)
		a.store = pgstore.New(pool, pgstore.WithLogger(logger))
	case "memory":
		catalog, err := schema.LoadCatalogFile(cfg.Catalog.File)
		if err != nil {
			return nil, err
		}
		entities, err := catalogEntities(ctx, catalog)
		if err != nil {
			return nil, err
		}
		src = catalog
		a.store = memstore.New(entities...)
		logger.Warn("using the in-memory store, data is lost on exit", zap.Int("entities", len(entities)))
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	a.registry = schema.NewRegistry(src, schema.WithNamespaces(cfg.Catalog.Namespaces...))

	if cfg.Cache.Redis.Addr != "" {
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		a.cache = rc
	} else {
		mc := cache.NewMemory(cfg.Cache.TTL)
		mc.StartJanitor(ctx, time.Minute)
		a.cache = mc
	}

	a.describer = introspect.NewDescriber(a.registry,
		introspect.WithCache(a.cache, cfg.Cache.TTL),
		introspect.WithLogger(logger),
	)
	return a, nil
}

func catalogEntities(ctx context.Context, c *schema.Catalog) ([]*schema.EntityDescriptor, error) {
	refs, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.EntityDescriptor, 0, len(refs))
	for _, ref := range refs {
		d, err := c.Load(ctx, ref.Namespace, ref.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func closePool(pool *pgxpool.Pool) func() error {
	return func() error {
		pool.Close()
		return nil
	}
}
