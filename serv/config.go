package serv

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/declarest/declarest/core"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultWorkers      = 2
	defaultPoolSize     = 10
	defaultAdminPool    = 5

	pollIntervalEnv = "DECLAREST_POLL_INTERVAL"
	workersEnv      = "DECLAREST_WORKERS"
)

// Config is the full service configuration.
type Config struct {
	Serv `mapstructure:",squash"`

	// Database is the default datasource for generated endpoints.
	Database Database `mapstructure:"database"`

	// MetaDB is the control-plane metadata database. When unset the service
	// runs from the static config alone and the poller stays off.
	MetaDB Database `mapstructure:"meta_database"`

	Listeners      []Listener           `mapstructure:"listeners"`
	Authenticators []core.Authenticator `mapstructure:"authenticators"`
	Consumers      []core.Consumer      `mapstructure:"consumers"`

	vi *viper.Viper
}

// Serv holds the service-level settings.
type Serv struct {
	AppName    string `mapstructure:"app_name"`
	Production bool   `mapstructure:"production"`

	// LogLevel must be one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// HostPort is the default listen address, e.g. 0.0.0.0:8080.
	HostPort string `mapstructure:"host_port"`

	// SpecFile points at a local OpenAPI document. In dev mode the file is
	// watched and the service reloads on change.
	SpecFile string `mapstructure:"spec_file"`

	// Workers is the number of listener goroutines sharing each port via
	// SO_REUSEPORT.
	Workers int `mapstructure:"workers" validate:"omitempty,min=1"`

	// PollInterval is the metadata poll cadence.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// MaxBodySize caps request bodies in bytes; zero disables the cap.
	MaxBodySize int64 `mapstructure:"max_body_size"`

	AllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// Database describes one datasource.
type Database struct {
	// Type is sqlite or postgres. Derived from the connection string when
	// unset.
	Type string `mapstructure:"type" json:"type" validate:"omitempty,oneof=sqlite postgres"`

	// ConnString is sqlite:<path>, sqlite::memory: or postgres://...
	ConnString string `mapstructure:"connection_string" json:"connection_string"`

	PoolSize int `mapstructure:"max_pool_size" json:"max_pool_size" validate:"omitempty,min=1"`
}

// Listener is one configured data-plane listener.
type Listener struct {
	Name     string `mapstructure:"name" json:"name"`
	HostPort string `mapstructure:"host_port" json:"host_port"`

	// APIs names the api configs served by this listener. Metadata rows
	// match on these names.
	APIs []string `mapstructure:"apis" json:"apis"`
}

// NewConfig reads and validates a config file (extension decides the viper
// format).
func NewConfig(path string) (*Config, error) {
	vi := viper.New()
	vi.SetConfigFile(path)
	vi.SetEnvPrefix("DECLAREST")
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vi.AutomaticEnv()

	if err := vi.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	conf := &Config{vi: vi}
	if err := vi.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
	}
	conf.setDefaults()

	if err := validator.New().Struct(conf); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return conf, nil
}

func (c *Config) setDefaults() {
	if c.HostPort == "" {
		c.HostPort = "0.0.0.0:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.PoolSize == 0 {
		c.Database.PoolSize = defaultPoolSize
	}
	if c.MetaDB.PoolSize == 0 {
		c.MetaDB.PoolSize = defaultAdminPool
	}
	if c.Workers == 0 {
		c.Workers = envInt(workersEnv, defaultWorkers)
	}
	if c.PollInterval == 0 {
		c.PollInterval = envDuration(pollIntervalEnv, defaultPollInterval)
	}
	if len(c.Listeners) == 0 {
		c.Listeners = []Listener{{Name: "default", HostPort: c.HostPort}}
	}
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDuration(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
