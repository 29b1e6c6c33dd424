package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/edgeflare/radmin/pkg/changefeed"
)

// Version is set at build time with -ldflags "-X ...config.Version=...".
var Version = "dev"

// EnvPrefix prefixes environment overrides, e.g. RADMIN_STORE_CONNSTRING.
const EnvPrefix = "RADMIN"

// Config holds application-wide configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Authz      AuthzConfig      `mapstructure:"authz"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Blob       BlobConfig       `mapstructure:"blob"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Changefeed ChangefeedConfig `mapstructure:"changefeed"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	ListenAddr  string    `mapstructure:"listenAddr"`
	BaseURL     string    `mapstructure:"baseURL"`
	TLS         TLSConfig `mapstructure:"tls"`
	UIDir       string    `mapstructure:"uiDir"`
	MaxBodySize int64     `mapstructure:"maxBodySize"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

type StoreConfig struct {
	// Driver is postgres or memory.
	Driver         string `mapstructure:"driver"`
	ConnString     string `mapstructure:"connString"`
	ConnectRetries uint64 `mapstructure:"connectRetries"`
}

type CatalogConfig struct {
	// File is a YAML entity catalog. Required with the memory driver.
	File       string   `mapstructure:"file"`
	Namespaces []string `mapstructure:"namespaces"`
}

type EngineConfig struct {
	MaxDepth     int    `mapstructure:"maxDepth"`
	TenantHeader string `mapstructure:"tenantHeader"`
}

type AuthzConfig struct {
	// Strategy is deny, allow, readonly or roles.
	Strategy string              `mapstructure:"strategy"`
	Roles    map[string][]string `mapstructure:"roles"`
}

type AuthConfig struct {
	Required   bool                `mapstructure:"required"`
	Basic      map[string]string   `mapstructure:"basic"`
	BasicRoles map[string][]string `mapstructure:"basicRoles"`
	OIDC       OIDCConfig          `mapstructure:"oidc"`
	JWT        JWTConfig           `mapstructure:"jwt"`
}

type OIDCConfig struct {
	ClientID     string `mapstructure:"clientID"`
	ClientSecret string `mapstructure:"clientSecret"`
	Issuer       string `mapstructure:"issuer"`
	RoleClaimKey string `mapstructure:"roleClaimKey"`
}

// Enabled reports whether an issuer and client are configured.
func (c OIDCConfig) Enabled() bool { return c.Issuer != "" && c.ClientID != "" }

type JWTConfig struct {
	Secret       string `mapstructure:"secret"`
	RoleClaimKey string `mapstructure:"roleClaimKey"`
}

type BlobConfig struct {
	Root    string `mapstructure:"root"`
	BaseURL string `mapstructure:"baseURL"`
}

type CacheConfig struct {
	TTL   time.Duration `mapstructure:"ttl"`
	Redis RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ChangefeedConfig struct {
	Buffer     int               `mapstructure:"buffer"`
	Connectors []ConnectorConfig `mapstructure:"connectors"`
}

// ConnectorConfig names one changefeed sink. Config is passed to the
// connector's Connect as-is; Transforms run in order on each event before it
// reaches the connector.
type ConnectorConfig struct {
	Name       string                 `mapstructure:"name"`
	Connector  string                 `mapstructure:"connector"`
	Config     map[string]any         `mapstructure:"config"`
	Transforms []changefeed.Transform `mapstructure:"transforms"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listenAddr", ":8080")
	v.SetDefault("server.baseURL", "/api")
	v.SetDefault("server.maxBodySize", 32<<20)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.connectRetries", 5)
	v.SetDefault("engine.maxDepth", 32)
	v.SetDefault("engine.tenantHeader", "Unit-ID")
	v.SetDefault("authz.strategy", "deny")
	v.SetDefault("blob.root", "./uploads")
	v.SetDefault("blob.baseURL", "/media")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("changefeed.buffer", 1024)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads radmin.yaml from cfgFile, $HOME/.config or the working
// directory, then applies RADMIN_* environment overrides. v may carry bound
// flags; nil uses a fresh instance.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("radmin")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-key constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.ConnString == "" {
			return errors.New("store.connString is required with the postgres driver")
		}
	case "memory":
		if c.Catalog.File == "" {
			return errors.New("catalog.file is required with the memory driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if strings.Trim(c.Blob.BaseURL, "/") == "" {
		return errors.New("blob.baseURL must not be the root")
	}
	if c.Server.UIDir != "" && strings.Trim(c.Server.BaseURL, "/") == "" {
		return errors.New("server.baseURL must not be the root when server.uiDir is set")
	}
	if c.Engine.MaxDepth <= 0 {
		return errors.New("engine.maxDepth must be positive")
	}
	known := changefeed.Connectors()
	for _, cc := range c.Changefeed.Connectors {
		if cc.Name == "" {
			return errors.New("changefeed connector without a name")
		}
		if !contains(known, cc.Connector) {
			return fmt.Errorf("changefeed %s: unknown connector %q", cc.Name, cc.Connector)
		}
		if _, err := changefeed.Chain(cc.Transforms); err != nil {
			return fmt.Errorf("changefeed %s: %w", cc.Name, err)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
