package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	SEC      SECConfig      `yaml:"sec" mapstructure:"sec"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Blob     BlobConfig     `yaml:"blob" mapstructure:"blob"`
	Watch    WatchConfig    `yaml:"watch" mapstructure:"watch"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// SECConfig configures access to EDGAR endpoints.
type SECConfig struct {
	// UserAgent identifies the operator to the SEC. Fair-access policy
	// requires a real contact address here.
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
	FeedURL        string `yaml:"feed_url" mapstructure:"feed_url"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSec int    `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// RedisConfig configures the shared rate-limit counter store. An empty Addr
// selects the in-process limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// BlobConfig configures raw document storage. Driver is "fs" or "minio".
type BlobConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	Dir       string `yaml:"dir" mapstructure:"dir"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// WatchConfig configures the feed watcher.
type WatchConfig struct {
	IntervalSecs int      `yaml:"interval_secs" mapstructure:"interval_secs"`
	CooldownSecs int      `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	Forms        []string `yaml:"forms" mapstructure:"forms"`
	FetchIndex   bool     `yaml:"fetch_index" mapstructure:"fetch_index"`
}

// PipelineConfig configures the filing task runner.
type PipelineConfig struct {
	Workers     int `yaml:"workers" mapstructure:"workers"`
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// WatchInterval returns the poll interval as a duration.
func (c WatchConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// Cooldown returns the delay applied after a failed poll cycle.
func (c WatchConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSecs) * time.Second
}

// Timeout returns the per-request timeout as a duration.
func (c SECConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EDGAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("sec.user_agent", "edgar-ingest/0.1 (contact@example.com)")
	v.SetDefault("sec.feed_url", "https://www.sec.gov/cgi-bin/browse-edgar?action=getcurrent&type=&company=&dateb=&owner=include&count=100&output=atom")
	v.SetDefault("sec.timeout_secs", 30)
	v.SetDefault("sec.max_retries", 3)
	v.SetDefault("sec.requests_per_sec", 10)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "edgar.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.dir", "blobs")
	v.SetDefault("blob.bucket", "edgar-raw")
	v.SetDefault("blob.use_ssl", true)
	v.SetDefault("watch.interval_secs", 60)
	v.SetDefault("watch.cooldown_secs", 300)
	v.SetDefault("watch.forms", []string{"10-K", "10-Q", "8-K", "4", "SC 13G", "SC 13D"})
	v.SetDefault("watch.fetch_index", false)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.batch_size", 200)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the configuration for a given run mode and returns all
// problems at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required with the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	switch c.Blob.Driver {
	case "fs":
	case "minio":
		if c.Blob.Endpoint == "" {
			problems = append(problems, "blob.endpoint is required with the minio driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("blob.driver must be fs or minio, got %q", c.Blob.Driver))
	}

	if c.SEC.RequestsPerSec < 1 || c.SEC.RequestsPerSec > 10 {
		problems = append(problems, "sec.requests_per_sec must be between 1 and 10")
	}

	switch mode {
	case "watch":
		if c.Watch.IntervalSecs < 1 {
			problems = append(problems, "watch.interval_secs must be >= 1")
		}
	case "run":
		if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 64 {
			problems = append(problems, "pipeline.workers must be between 1 and 64")
		}
		if c.Pipeline.MaxAttempts < 1 {
			problems = append(problems, "pipeline.max_attempts must be >= 1")
		}
	case "reconcile", "facts", "status", "migrate", "requeue":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
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
