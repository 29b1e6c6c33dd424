// Package nats publishes change events to a NATS JetStream stream.
//
// Subjects have the form <subjectPrefix>.<namespace>.<entity>.<op>.
package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/edgeflare/radmin/pkg/changefeed"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config is the NATS connector configuration.
type Config struct {
	Servers       []string `mapstructure:"servers"`
	Stream        string   `mapstructure:"stream"`
	SubjectPrefix string   `mapstructure:"subjectPrefix"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	TLS           struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"certFile"`
		KeyFile  string `mapstructure:"keyFile"`
		CAFile   string `mapstructure:"caFile"`
	} `mapstructure:"tls"`
}

// Connector is a JetStream publisher.
type Connector struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger *zap.Logger
}

// Connect implements changefeed.Connector.
func (c *Connector) Connect(config map[string]any, logger *zap.Logger) error {
	if err := changefeed.DecodeConfig(config, &c.config); err != nil {
		return fmt.Errorf("decode nats config: %w", err)
	}
	c.logger = cmp.Or(logger, zap.NewNop())
	c.config.setDefaults()

	opts := defaultOptions(c.config)
	var err error
	for _, server := range c.config.Servers {
		c.nc, err = nats.Connect(server, opts...)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("connect to NATS server: %w", err)
	}

	if c.js, err = c.nc.JetStream(); err != nil {
		c.nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}
	if err := c.ensureStream(); err != nil {
		c.nc.Close()
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}

func (cfg *Config) setDefaults() {
	if len(cfg.Servers) == 0 {
		cfg.Servers = []string{nats.DefaultURL}
	}
	cfg.SubjectPrefix = cmp.Or(cfg.SubjectPrefix, "radmin")
	cfg.Stream = cmp.Or(cfg.Stream, cfg.SubjectPrefix+"-changes")
}

// Subject returns the subject an event is published on.
func (cfg Config) Subject(e changefeed.Event) string {
	return fmt.Sprintf("%s.%s.%s.%s", cfg.SubjectPrefix, e.Namespace, e.Entity, e.Op)
}

// Publish implements changefeed.Connector.
func (c *Connector) Publish(ctx context.Context, e changefeed.Event) error {
	if c.js == nil {
		return changefeed.ErrNotConnected
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := c.js.Publish(c.config.Subject(e), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close implements changefeed.Connector.
func (c *Connector) Close() error {
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

func (c *Connector) ensureStream() error {
	want := &nats.StreamConfig{
		Name:     c.config.Stream,
		Subjects: []string{c.config.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		Replicas: 1,
	}

	info, err := c.js.StreamInfo(want.Name)
	if err == nil {
		if !streamConfigEqual(info.Config, *want) {
			if _, err := c.js.UpdateStream(want); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			c.logger.Info("updated stream", zap.String("stream", want.Name))
		}
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("get stream info: %w", err)
	}
	if _, err := c.js.AddStream(want); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	c.logger.Info("created stream", zap.String("stream", want.Name))
	return nil
}

func streamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		a.Storage == b.Storage &&
		a.Replicas == b.Replicas &&
		slices.Equal(a.Subjects, b.Subjects)
}

func defaultOptions(cfg Config) []nats.Option {
	opts := []nats.Option{
		nats.Name("radmin"),
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.TLS.Enabled {
		if cfg.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(cfg.TLS.CAFile))
		}
		if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
			opts = append(opts, nats.ClientCert(cfg.TLS.CertFile, cfg.TLS.KeyFile))
		}
	}
	return opts
}

func init() {
	changefeed.RegisterConnector(changefeed.ConnectorNATS, func() changefeed.Connector { return &Connector{} })
}
