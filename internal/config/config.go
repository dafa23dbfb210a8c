// Package config loads and validates cryptkeeper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/CMoncur/proto-scrape/internal/harvest"
)

// EnvPrefix is prepended to every environment override, e.g. CRYPTKEEPER_STORE_DSN.
const EnvPrefix = "CRYPTKEEPER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Store    StoreConfig    `mapstructure:"store"`
	Lock     LockConfig     `mapstructure:"lock"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Server   ServerConfig   `mapstructure:"server"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Adapters AdaptersConfig `mapstructure:"adapters"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HarvestConfig governs outbound fetching.
type HarvestConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	FailFast       bool          `mapstructure:"fail_fast"`
	Ordered        bool          `mapstructure:"ordered"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	RatePerHost    float64       `mapstructure:"rate_per_host"`
	BurstPerHost   int           `mapstructure:"burst_per_host"`
	AcceptNon2xx   bool          `mapstructure:"accept_non_2xx"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
}

// StoreConfig selects and tunes the Recorder.
type StoreConfig struct {
	Provider        string        `mapstructure:"provider"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ChunkSize       int           `mapstructure:"chunk_size"`
	AdvisoryLock    bool          `mapstructure:"advisory_lock"`
}

// LockConfig selects the destination lock.
type LockConfig struct {
	Provider      string        `mapstructure:"provider"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// ArchiveConfig selects where raw pages are kept.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// PublishConfig selects where run summaries are announced.
type PublishConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig configures the Pushgateway used by batch runs.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ServerConfig controls the HTTP trigger surface.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// DispatchConfig bounds how many adapters run at once.
type DispatchConfig struct {
	Parallel int `mapstructure:"parallel"`
}

// AdaptersConfig names the adapters run when none are given explicitly.
type AdaptersConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults registers every key; AutomaticEnv only resolves keys viper
// already knows about when unmarshalling.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("harvest.concurrency", harvest.DefaultConcurrency)
	v.SetDefault("harvest.fail_fast", false)
	v.SetDefault("harvest.ordered", true)
	v.SetDefault("harvest.request_timeout", harvest.DefaultTimeout)
	v.SetDefault("harvest.user_agent", "cryptkeeper/1.0 (+https://github.com/CMoncur/proto-scrape)")
	v.SetDefault("harvest.max_attempts", 3)
	v.SetDefault("harvest.backoff_initial", 250*time.Millisecond)
	v.SetDefault("harvest.backoff_max", 5*time.Second)
	v.SetDefault("harvest.rate_per_host", 2.0)
	v.SetDefault("harvest.burst_per_host", 2)
	v.SetDefault("harvest.accept_non_2xx", false)
	v.SetDefault("harvest.max_body_bytes", 10<<20)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime", time.Hour)
	v.SetDefault("store.chunk_size", 500)
	v.SetDefault("store.advisory_lock", true)
	v.SetDefault("lock.provider", "local")
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.ttl", 2*time.Minute)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("publish.provider", "none")
	v.SetDefault("publish.project_id", "")
	v.SetDefault("publish.topic", "cryptkeeper-runs")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "cryptkeeper")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("dispatch.parallel", 2)
	v.SetDefault("adapters.enabled", []string{})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Harvest.Concurrency <= 0 || c.Harvest.Concurrency > harvest.MaxConcurrency {
		return fmt.Errorf("harvest.concurrency must be between 1 and %d", harvest.MaxConcurrency)
	}
	if c.Harvest.RequestTimeout <= 0 {
		return fmt.Errorf("harvest.request_timeout must be > 0")
	}
	if c.Harvest.MaxAttempts <= 0 {
		return fmt.Errorf("harvest.max_attempts must be > 0")
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("store.provider %q is not one of postgres, memory", c.Store.Provider)
	}
	switch c.Lock.Provider {
	case "none", "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required for the redis lock")
		}
	default:
		return fmt.Errorf("lock.provider %q is not one of none, local, redis", c.Lock.Provider)
	}
	switch c.Archive.Provider {
	case "none", "memory":
	case "local":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir is required for the local archive")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.provider %q is not one of none, memory, local, gcs", c.Archive.Provider)
	}
	switch c.Publish.Provider {
	case "none", "memory":
	case "pubsub":
		if c.Publish.ProjectID == "" || c.Publish.Topic == "" {
			return fmt.Errorf("publish.project_id and publish.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("publish.provider %q is not one of none, memory, pubsub", c.Publish.Provider)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Dispatch.Parallel <= 0 {
		return fmt.Errorf("dispatch.parallel must be > 0")
	}
	return nil
}

// HarvestOptions converts the harvest section into per-batch options.
func (c Config) HarvestOptions() harvest.Options {
	return harvest.Options{
		Concurrency: c.Harvest.Concurrency,
		FailFast:    c.Harvest.FailFast,
		Ordered:     c.Harvest.Ordered,
		Timeout:     c.Harvest.RequestTimeout,
		Retry: harvest.RetryPolicy{
			MaxAttempts:     c.Harvest.MaxAttempts,
			InitialInterval: c.Harvest.BackoffInitial,
			MaxInterval:     c.Harvest.BackoffMax,
		},
	}
}
