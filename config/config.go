package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Push       PushConfig       `yaml:"push"`
	Router     RouterConfig     `yaml:"router"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the status API configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ReconcileConfig controls the desired-state convergence loop and the
// remote sessions it drives.
type ReconcileConfig struct {
	IntervalSeconds       int           `yaml:"interval_seconds"`
	Interval              time.Duration `yaml:"-"`
	MaxConcurrency        int           `yaml:"max_concurrency"`
	MaxConnectFailures    int           `yaml:"max_connect_failures"`
	ConnectTimeoutSeconds int           `yaml:"connect_timeout_seconds"`
	ConnectTimeout        time.Duration `yaml:"-"`
	RequestTimeoutSeconds int           `yaml:"request_timeout_seconds"`
	RequestTimeout        time.Duration `yaml:"-"`
}

// PushConfig holds the browser fan-out VAPID keys and the push backbone
// settings used for pairing events.
type PushConfig struct {
	PublicKey  string         `yaml:"vapid_public_key"`
	PrivateKey string         `yaml:"vapid_private_key"`
	Subject    string         `yaml:"subject"`
	TTL        int            `yaml:"ttl"`
	Backbone   BackboneConfig `yaml:"backbone"`
}

// BackboneConfig describes the third-party notification relay.
type BackboneConfig struct {
	Enabled              bool          `yaml:"enabled"`
	RegisterURL          string        `yaml:"register_url"`
	MintURL              string        `yaml:"mint_url"`
	ForwardingURL        string        `yaml:"forwarding_url"`
	ListenURL            string        `yaml:"listen_url"`
	AppID                string        `yaml:"app_id"`
	DeviceName           string        `yaml:"device_name"`
	TimeoutSeconds       int           `yaml:"timeout_seconds"`
	Timeout              time.Duration `yaml:"-"`
	ListenInitialBackoff int           `yaml:"listen_initial_backoff_seconds"`
	ListenMaxBackoff     int           `yaml:"listen_max_backoff_seconds"`
}

// RouterConfig sizes the inbound notification dispatch queue.
type RouterConfig struct {
	QueueSize int    `yaml:"queue_size"`
	Workers   int    `yaml:"workers"`
	Overflow  string `yaml:"overflow"`
}

// WorkerPoolConfig holds the configuration for the browser fan-out worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OverflowDropOldest evicts the oldest queued event when the router queue is full.
const OverflowDropOldest = "drop_oldest"

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults replaces unset or invalid values and derives the duration fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Reconcile.IntervalSeconds <= 0 {
		cfg.Reconcile.IntervalSeconds = 15
	}
	cfg.Reconcile.Interval = time.Duration(cfg.Reconcile.IntervalSeconds) * time.Second
	if cfg.Reconcile.MaxConcurrency <= 0 {
		cfg.Reconcile.MaxConcurrency = 8
	}
	if cfg.Reconcile.MaxConnectFailures <= 0 {
		cfg.Reconcile.MaxConnectFailures = 3
	}
	if cfg.Reconcile.ConnectTimeoutSeconds <= 0 {
		cfg.Reconcile.ConnectTimeoutSeconds = 10
	}
	cfg.Reconcile.ConnectTimeout = time.Duration(cfg.Reconcile.ConnectTimeoutSeconds) * time.Second
	if cfg.Reconcile.RequestTimeoutSeconds <= 0 {
		cfg.Reconcile.RequestTimeoutSeconds = 10
	}
	cfg.Reconcile.RequestTimeout = time.Duration(cfg.Reconcile.RequestTimeoutSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.Push.Backbone.TimeoutSeconds <= 0 {
		cfg.Push.Backbone.TimeoutSeconds = 15
	}
	cfg.Push.Backbone.Timeout = time.Duration(cfg.Push.Backbone.TimeoutSeconds) * time.Second
	if cfg.Push.Backbone.ListenInitialBackoff <= 0 {
		cfg.Push.Backbone.ListenInitialBackoff = 1
	}
	if cfg.Push.Backbone.ListenMaxBackoff <= 0 {
		cfg.Push.Backbone.ListenMaxBackoff = 60
	}
	if cfg.Push.Backbone.DeviceName == "" {
		cfg.Push.Backbone.DeviceName = "rustplus-web"
	}

	if cfg.Router.QueueSize <= 0 {
		cfg.Router.QueueSize = 256
	}
	if cfg.Router.Workers <= 0 {
		cfg.Router.Workers = 2
	}
	if cfg.Router.Overflow == "" {
		cfg.Router.Overflow = OverflowDropOldest
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Warn().Msg("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// Validate reports configurations the service cannot start with.
func (cfg *Config) Validate() error {
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if cfg.Router.Overflow != OverflowDropOldest {
		return fmt.Errorf("router.overflow %q is not supported", cfg.Router.Overflow)
	}
	b := cfg.Push.Backbone
	if b.Enabled {
		if b.RegisterURL == "" || b.MintURL == "" || b.ForwardingURL == "" || b.ListenURL == "" {
			return fmt.Errorf("push.backbone: register_url, mint_url, forwarding_url and listen_url are required when enabled")
		}
	}
	return nil
}
