// Package http delivers change events to webhook endpoints.
//
// Every event is POSTed as JSON to each configured endpoint. Transport
// errors and 5xx responses are retried with exponential backoff; other
// error statuses fail the publish at once. The changefeed publish timeout
// bounds the retries.
package http

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/edgeflare/radmin/pkg/changefeed"
)

// AuthType is a supported webhook authentication method.
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeAPIKey AuthType = "apikey"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeBasic  AuthType = "basic"
)

// AuthConfig holds the credentials for one AuthType.
type AuthConfig struct {
	Type       AuthType `mapstructure:"type"`
	APIKey     string   `mapstructure:"apiKey"`
	APIKeyName string   `mapstructure:"apiKeyName"` // header name, X-API-Key by default
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	Token      string   `mapstructure:"token"`
}

// RetryConfig holds retry settings for failed deliveries.
type RetryConfig struct {
	MaxRetries  uint64        `mapstructure:"maxRetries"`
	InitialWait time.Duration `mapstructure:"initialWait"`
	MaxWait     time.Duration `mapstructure:"maxWait"`
}

// EndpointConfig is a single webhook target.
type EndpointConfig struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
}

// Config is the webhook connector configuration.
type Config struct {
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Timeout   time.Duration    `mapstructure:"timeout"`
	Retry     RetryConfig      `mapstructure:"retry"`
}

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook %s returned %d: %s", e.URL, e.Status, e.Body)
}

// Connector posts events to webhook endpoints.
type Connector struct {
	client *http.Client
	config Config
	logger *zap.Logger
}

// Connect implements changefeed.Connector.
func (c *Connector) Connect(config map[string]any, logger *zap.Logger) error {
	if err := changefeed.DecodeConfig(config, &c.config); err != nil {
		return fmt.Errorf("decode http config: %w", err)
	}
	c.logger = cmp.Or(logger, zap.NewNop())
	c.config.setDefaults()
	if err := c.config.validate(); err != nil {
		return err
	}
	c.client = &http.Client{Timeout: c.config.Timeout}

	c.logger.Info("webhook connector initialized",
		zap.Int("endpoints", len(c.config.Endpoints)),
		zap.String("auth_type", string(c.config.Auth.Type)),
		zap.Duration("timeout", c.config.Timeout),
	)
	return nil
}

func (cfg *Config) setDefaults() {
	cfg.Timeout = cmp.Or(cfg.Timeout, 30*time.Second)
	cfg.Retry.MaxRetries = cmp.Or(cfg.Retry.MaxRetries, 3)
	cfg.Retry.InitialWait = cmp.Or(cfg.Retry.InitialWait, time.Second)
	cfg.Retry.MaxWait = cmp.Or(cfg.Retry.MaxWait, 30*time.Second)
	cfg.Auth.Type = cmp.Or(cfg.Auth.Type, AuthTypeNone)
	if cfg.Auth.Type == AuthTypeAPIKey {
		cfg.Auth.APIKeyName = cmp.Or(cfg.Auth.APIKeyName, "X-API-Key")
	}
	for i := range cfg.Endpoints {
		cfg.Endpoints[i].Method = cmp.Or(cfg.Endpoints[i].Method, http.MethodPost)
	}
}

func (cfg *Config) validate() error {
	if len(cfg.Endpoints) == 0 {
		return errors.New("no endpoints configured")
	}
	for _, ep := range cfg.Endpoints {
		if ep.URL == "" {
			return errors.New("endpoint without url")
		}
	}
	switch cfg.Auth.Type {
	case AuthTypeNone:
	case AuthTypeAPIKey:
		if cfg.Auth.APIKey == "" {
			return errors.New("apikey authentication requires an API key")
		}
	case AuthTypeBasic:
		if cfg.Auth.Username == "" || cfg.Auth.Password == "" {
			return errors.New("basic authentication requires both username and password")
		}
	case AuthTypeBearer:
		if cfg.Auth.Token == "" {
			return errors.New("bearer authentication requires a token")
		}
	default:
		return fmt.Errorf("unsupported auth type %q", cfg.Auth.Type)
	}
	return nil
}

// Publish implements changefeed.Connector. Every endpoint is attempted; the
// errors of those that failed are joined.
func (c *Connector) Publish(ctx context.Context, e changefeed.Event) error {
	if c.client == nil {
		return changefeed.ErrNotConnected
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var errs []error
	for _, ep := range c.config.Endpoints {
		if err := c.send(ctx, ep, payload); err != nil {
			c.logger.Error("failed to send webhook", zap.String("endpoint", ep.URL), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Connector) send(ctx context.Context, ep EndpointConfig, payload []byte) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.config.Retry.InitialWait
	exp.MaxInterval = c.config.Retry.MaxWait
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, c.config.Retry.MaxRetries), ctx)

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, ep.Method, ep.URL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		c.setHeaders(req, ep)

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		serr := &StatusError{URL: ep.URL, Status: resp.StatusCode, Body: string(body)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return serr
		}
		return backoff.Permanent(serr)
	}, policy)
}

func (c *Connector) setHeaders(req *http.Request, ep EndpointConfig) {
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	auth := c.config.Auth
	switch auth.Type {
	case AuthTypeAPIKey:
		req.Header.Set(auth.APIKeyName, auth.APIKey)
	case AuthTypeBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	case AuthTypeBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	}
}

// Close implements changefeed.Connector.
func (c *Connector) Close() error {
	if c.client != nil {
		c.client.CloseIdleConnections()
	}
	return nil
}

func init() {
	changefeed.RegisterConnector(changefeed.ConnectorHTTP, func() changefeed.Connector { return &Connector{} })
}
