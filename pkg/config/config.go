package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Sheets    SheetsConfig
	Collector CollectorConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

type SQLiteConfig struct {
	Path string
}

// RedisConfig is optional; when Enabled is false the deal-list mapping
// cache stays in-process only.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// SheetsConfig seeds the runtime config table on first start. The
// spreadsheet URL and sheet names are admin-editable afterwards.
type SheetsConfig struct {
	CredentialsFile string
	CredentialsJSON string
	DealListURL     string
	DealListSheet   string
	DealList2URL    string
	DealList2Sheet  string
	PublishedURL    string
	AutoSyncEvery   time.Duration
}

type CollectorConfig struct {
	ProducerURL      string
	CycleInterval    time.Duration
	ArchiveInterval  time.Duration
	FailureBackoff   time.Duration
	SessionRetention int
}

type CacheConfig struct {
	ReadTTL    time.Duration
	MappingTTL time.Duration
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("GMV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 15)
	viper.SetDefault("server.write_timeout", 15)

	viper.SetDefault("sqlite.path", "./gmv.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("sheets.auto_sync_every", 5*time.Minute)

	viper.SetDefault("collector.cycle_interval", 5*time.Minute)
	viper.SetDefault("collector.archive_interval", time.Hour)
	viper.SetDefault("collector.failure_backoff", 30*time.Second)
	viper.SetDefault("collector.session_retention", 10)

	viper.SetDefault("cache.read_ttl", time.Minute)
	viper.SetDefault("cache.mapping_ttl", 2*time.Hour)

	viper.SetDefault("ratelimit.max_requests_per_minute", 120)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file is fine: env vars and defaults carry the config.
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         viper.GetString("server.host"),
			Port:         viper.GetInt("server.port"),
			ReadTimeout:  viper.GetInt("server.read_timeout"),
			WriteTimeout: viper.GetInt("server.write_timeout"),
		},
		SQLite: SQLiteConfig{
			Path: viper.GetString("sqlite.path"),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetInt("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Sheets: SheetsConfig{
			CredentialsFile: viper.GetString("sheets.credentials_file"),
			CredentialsJSON: viper.GetString("sheets.credentials_json"),
			DealListURL:     viper.GetString("sheets.deallist_url"),
			DealListSheet:   viper.GetString("sheets.deallist_sheet"),
			DealList2URL:    viper.GetString("sheets.deallist2_url"),
			DealList2Sheet:  viper.GetString("sheets.deallist2_sheet"),
			PublishedURL:    viper.GetString("sheets.published_url"),
			AutoSyncEvery:   viper.GetDuration("sheets.auto_sync_every"),
		},
		Collector: CollectorConfig{
			ProducerURL:      viper.GetString("collector.producer_url"),
			CycleInterval:    viper.GetDuration("collector.cycle_interval"),
			ArchiveInterval:  viper.GetDuration("collector.archive_interval"),
			FailureBackoff:   viper.GetDuration("collector.failure_backoff"),
			SessionRetention: viper.GetInt("collector.session_retention"),
		},
		Cache: CacheConfig{
			ReadTTL:    viper.GetDuration("cache.read_ttl"),
			MappingTTL: viper.GetDuration("cache.mapping_ttl"),
		},
		RateLimit: RateLimitConfig{
			MaxRequestsPerMinute: viper.GetInt("ratelimit.max_requests_per_minute"),
		},
		Logging: LoggingConfig{
			Level:      viper.GetString("logging.level"),
			Format:     viper.GetString("logging.format"),
			OutputPath: viper.GetString("logging.output_path"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Cache.ReadTTL <= 0 {
		return fmt.Errorf("cache.read_ttl must be positive")
	}
	return nil
}
