// Package mqtt publishes change events to an MQTT broker on topics
// <topicPrefix>/<namespace>/<entity>/<op>.
package mqtt

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/radmin/pkg/changefeed"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var errPublishTimeout = errors.New("mqtt publish timed out")

// Config is the MQTT connector configuration.
type Config struct {
	Servers     []string `mapstructure:"servers"`
	ClientID    string   `mapstructure:"clientId"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	TopicPrefix string   `mapstructure:"topicPrefix"`
	QoS         byte     `mapstructure:"qos"`
	Retained    bool     `mapstructure:"retained"`
	TLS         struct {
		Enabled    bool   `mapstructure:"enabled"`
		CAFile     string `mapstructure:"caFile"`
		CertFile   string `mapstructure:"certFile"`
		KeyFile    string `mapstructure:"keyFile"`
		SkipVerify bool   `mapstructure:"skipVerify"`
	} `mapstructure:"tls"`
}

// Connector publishes over a paho client.
type Connector struct {
	client mqtt.Client
	config Config
	logger *zap.Logger
}

// New wraps an existing, connected client.
func New(client mqtt.Client, cfg Config, logger *zap.Logger) *Connector {
	cfg.setDefaults()
	return &Connector{client: client, config: cfg, logger: cmp.Or(logger, zap.NewNop())}
}

func (c *Config) setDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{"tcp://localhost:1883"}
	}
	c.TopicPrefix = cmp.Or(c.TopicPrefix, "radmin")
	c.ClientID = cmp.Or(c.ClientID, "radmin-"+ulid.Make().String())
	if c.QoS > 2 {
		c.QoS = 1
	}
}

// Topic returns the topic an event is published on.
func (c Config) Topic(e changefeed.Event) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.TopicPrefix, e.Namespace, e.Entity, e.Op)
}

// Connect implements changefeed.Connector.
func (c *Connector) Connect(config map[string]any, logger *zap.Logger) error {
	if err := changefeed.DecodeConfig(config, &c.config); err != nil {
		return fmt.Errorf("decode mqtt config: %w", err)
	}
	c.config.setDefaults()
	c.logger = cmp.Or(logger, zap.NewNop())

	opts, err := clientOptions(c.config, c.logger)
	if err != nil {
		return err
	}
	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("broker connection error: %w", token.Error())
	}
	return nil
}

// Publish implements changefeed.Connector.
func (c *Connector) Publish(ctx context.Context, e changefeed.Event) error {
	if c.client == nil {
		return changefeed.ErrNotConnected
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := c.config.Topic(e)
	token := c.client.Publish(topic, c.config.QoS, c.config.Retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return errPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.logger.Debug("message published", zap.String("topic", topic))
	return nil
}

// Close implements changefeed.Connector.
func (c *Connector) Close() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		c.logger.Info("disconnected from MQTT broker")
	}
	return nil
}

func clientOptions(cfg Config, logger *zap.Logger) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	for _, server := range cfg.Servers {
		opts.AddBroker(server)
	}
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	if cfg.TLS.Enabled {
		tlsConf := &tls.Config{InsecureSkipVerify: cfg.TLS.SkipVerify} // #nosec G402 -- opt-in
		if cfg.TLS.CAFile != "" {
			pem, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read CA file: %w", err)
			}
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(pem)
			tlsConf.RootCAs = pool
		}
		if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("load client certificate: %w", err)
			}
			tlsConf.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConf)
	}
	return opts, nil
}

func init() {
	changefeed.RegisterConnector(changefeed.ConnectorMQTT, func() changefeed.Connector { return &Connector{} })
}
