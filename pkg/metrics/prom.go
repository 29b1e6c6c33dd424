// Package metrics holds the Prometheus collectors of the admin API and a
// standalone server exposing them.
package metrics

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radmin_requests_total",
			Help: "Total number of admin API requests by entity, action and status",
		},
		[]string{"namespace", "entity", "action", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "radmin_request_duration_seconds",
			Help:    "Duration of admin API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"namespace", "entity", "action"},
	)

	OrphansDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radmin_orphans_deleted_total",
			Help: "Child rows removed because an update no longer listed them",
		},
		[]string{"namespace", "entity"},
	)

	ChangefeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radmin_changefeed_events_total",
			Help: "Change events delivered by connector",
		},
		[]string{"connector"},
	)

	ChangefeedPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radmin_changefeed_publish_errors_total",
			Help: "Change events a connector failed to publish",
		},
		[]string{"connector"},
	)
)

type PromServerOpts struct {
	Addr              string
	Path              string        // Path for metrics endpoint, defaults to "/metrics"
	ShutdownTimeout   time.Duration // Timeout for server shutdown, defaults to 5 seconds
	ReadHeaderTimeout time.Duration // Timeout for reading request headers, defaults to 3 seconds
	Logger            *zap.Logger
}

func defaultPrometheusServerOptions() PromServerOpts {
	return PromServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		Logger:            zap.NewNop(),
	}
}

// StartPrometheusServer serves the default registry until ctx is canceled.
// wg is released once the server has stopped.
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	eff := defaultPrometheusServerOptions()
	if opts != nil {
		eff.Addr = cmp.Or(opts.Addr, eff.Addr)
		eff.Path = cmp.Or(opts.Path, eff.Path)
		eff.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, eff.ShutdownTimeout)
		eff.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, eff.ReadHeaderTimeout)
		if opts.Logger != nil {
			eff.Logger = opts.Logger
		}
	}
	logger := eff.Logger

	mux := http.NewServeMux()
	mux.Handle(eff.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              eff.Addr,
		Handler:           mux,
		ReadHeaderTimeout: eff.ReadHeaderTimeout,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting metrics server", zap.String("addr", eff.Addr), zap.String("path", eff.Path))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), eff.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}()
}
