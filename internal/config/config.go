package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Yelp       YelpConfig       `yaml:"yelp" mapstructure:"yelp"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Match      MatchConfig      `yaml:"match" mapstructure:"match"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// YelpConfig holds Yelp Fusion API settings.
type YelpConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SyncConfig configures ingestion and the orchestrator.
type SyncConfig struct {
	Location          string   `yaml:"location" mapstructure:"location"`
	Limit             int      `yaml:"limit" mapstructure:"limit"`
	Categories        []string `yaml:"categories" mapstructure:"categories"`
	CatalogFile       string   `yaml:"catalog_file" mapstructure:"catalog_file"`
	RateDelayMS       int      `yaml:"rate_delay_ms" mapstructure:"rate_delay_ms"`
	SourceTimeoutSecs int      `yaml:"source_timeout_secs" mapstructure:"source_timeout_secs"`
	RecordTimeoutSecs int      `yaml:"record_timeout_secs" mapstructure:"record_timeout_secs"`
	Concurrency       int      `yaml:"concurrency" mapstructure:"concurrency"`
	FreshnessHours    int      `yaml:"freshness_hours" mapstructure:"freshness_hours"`
	DeactivateMissing bool     `yaml:"deactivate_missing" mapstructure:"deactivate_missing"`
	MaxFailureRate    float64  `yaml:"max_failure_rate" mapstructure:"max_failure_rate"`
	HistoryLimit      int      `yaml:"history_limit" mapstructure:"history_limit"`
}

// MatchConfig holds matcher weights and classification thresholds.
type MatchConfig struct {
	AutoThreshold     float64      `yaml:"auto_threshold" mapstructure:"auto_threshold"`
	PartialThreshold  float64      `yaml:"partial_threshold" mapstructure:"partial_threshold"`
	MergePartial      bool         `yaml:"merge_partial" mapstructure:"merge_partial"`
	ProximityMeters   float64      `yaml:"proximity_meters" mapstructure:"proximity_meters"`
	MaxDistanceMeters float64      `yaml:"max_distance_meters" mapstructure:"max_distance_meters"`
	Weights           MatchWeights `yaml:"weights" mapstructure:"weights"`
}

// MatchWeights weighs each similarity signal. Weights sum to 1.
type MatchWeights struct {
	Name     float64 `yaml:"name" mapstructure:"name"`
	Phone    float64 `yaml:"phone" mapstructure:"phone"`
	Location float64 `yaml:"location" mapstructure:"location"`
	Tags     float64 `yaml:"tags" mapstructure:"tags"`
}

// ResilienceConfig configures retries and circuit breakers around upstream calls.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ScheduleConfig configures the in-process cron trigger.
type ScheduleConfig struct {
	Cron string `yaml:"cron" mapstructure:"cron"`
}

// MonitoringConfig configures sync-health alerting. Alerts are only sent
// when WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	RepeatAfterMins      int     `yaml:"repeat_after_mins" mapstructure:"repeat_after_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROVIDERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("google.key", "")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.timeout_secs", 10)
	v.SetDefault("yelp.key", "")
	v.SetDefault("yelp.base_url", "https://api.yelp.com/v3")
	v.SetDefault("yelp.timeout_secs", 10)
	v.SetDefault("sync.location", "Austin, TX")
	v.SetDefault("sync.limit", 20)
	v.SetDefault("sync.categories", []string{})
	v.SetDefault("sync.catalog_file", "")
	v.SetDefault("sync.rate_delay_ms", 1000)
	v.SetDefault("sync.source_timeout_secs", 20)
	v.SetDefault("sync.record_timeout_secs", 15)
	v.SetDefault("sync.concurrency", 2)
	v.SetDefault("sync.freshness_hours", 24)
	v.SetDefault("sync.deactivate_missing", false)
	v.SetDefault("sync.max_failure_rate", 0.5)
	v.SetDefault("sync.history_limit", 20)
	v.SetDefault("match.auto_threshold", 0.70)
	v.SetDefault("match.partial_threshold", 0.45)
	v.SetDefault("match.merge_partial", true)
	v.SetDefault("match.proximity_meters", 200.0)
	v.SetDefault("match.max_distance_meters", 1000.0)
	v.SetDefault("match.weights.name", 0.40)
	v.SetDefault("match.weights.phone", 0.35)
	v.SetDefault("match.weights.location", 0.15)
	v.SetDefault("match.weights.tags", 0.10)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("schedule.cron", "0 3 * * *")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stale_after_hours", 48)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.repeat_after_mins", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by a command mode:
// "sync", "migrate", "serve" or "schedule".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "migrate":
		errs = append(errs, c.validateStore()...)
	case "sync":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateSources()...)
	case "serve":
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "schedule":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateSources()...)
		if strings.TrimSpace(c.Schedule.Cron) == "" {
			errs = append(errs, "schedule.cron is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	errs = append(errs, c.validateSync()...)
	errs = append(errs, c.validateMatch()...)

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateSources() []string {
	if c.Google.Key == "" && c.Yelp.Key == "" {
		return []string{"at least one of google.key or yelp.key is required"}
	}
	return nil
}

func (c *Config) validateSync() []string {
	var errs []string
	if c.Sync.Concurrency < 1 || c.Sync.Concurrency > 16 {
		errs = append(errs, "sync.concurrency must be between 1 and 16")
	}
	if c.Sync.Limit < 1 || c.Sync.Limit > 50 {
		errs = append(errs, "sync.limit must be between 1 and 50")
	}
	if c.Sync.RateDelayMS < 0 {
		errs = append(errs, "sync.rate_delay_ms must be >= 0")
	}
	if c.Sync.MaxFailureRate < 0 || c.Sync.MaxFailureRate > 1 {
		errs = append(errs, "sync.max_failure_rate must be between 0 and 1")
	}
	return errs
}

func (c *Config) validateMatch() []string {
	var errs []string
	m := c.Match
	if m.PartialThreshold < 0 || m.PartialThreshold > 1 {
		errs = append(errs, "match.partial_threshold must be between 0 and 1")
	}
	if m.AutoThreshold < 0 || m.AutoThreshold > 1 {
		errs = append(errs, "match.auto_threshold must be between 0 and 1")
	}
	if m.AutoThreshold < m.PartialThreshold {
		errs = append(errs, "match.auto_threshold must be >= match.partial_threshold")
	}
	w := m.Weights
	if w.Name < 0 || w.Phone < 0 || w.Location < 0 || w.Tags < 0 {
		errs = append(errs, "match.weights values must be >= 0")
	}
	if sum := w.Name + w.Phone + w.Location + w.Tags; math.Abs(sum-1) > 0.001 {
		errs = append(errs, fmt.Sprintf("match.weights must sum to 1, got %.3f", sum))
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
