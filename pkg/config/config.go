package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	Processor ProcessorConfig `mapstructure:"processor"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level string `mapstructure:"level"`
	Env   string `mapstructure:"-"`
}

// RedisConfig configures the snapshot mirror and the price sink.
// An empty Addr disables the gateway mirror.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	GroupID    string   `mapstructure:"group_id"`
	Partitions int      `mapstructure:"partitions"`
}

// FeedConfig tunes the streaming channels.
type FeedConfig struct {
	DefaultID            string        `mapstructure:"default_id"`
	HistoryInterval      time.Duration `mapstructure:"history_interval"`
	BookInterval         time.Duration `mapstructure:"book_interval"`
	IdleTTL              time.Duration `mapstructure:"idle_ttl"`
	SnapshotTTL          time.Duration `mapstructure:"snapshot_ttl"`
	ConventionalAskDepth bool          `mapstructure:"conventional_ask_depth"`
}

// UpstreamConfig points at the external book/price API. An empty BaseURL
// disables live books entirely.
type UpstreamConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

type EnrichConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	Delay     time.Duration `mapstructure:"delay"`
	MaxItems  int           `mapstructure:"max_items"`
}

type ProcessorConfig struct {
	NumWorkers int           `mapstructure:"num_workers"`
	PriceTTL   time.Duration `mapstructure:"price_ttl"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// .env values become real env vars so AutomaticEnv can see them
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// flat env vars (FEED_BOOK_INTERVAL) only reach nested structs once bound
	bindEnv(v, "app.port", "app.env", "logger.level")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id", "kafka.partitions")
	bindEnv(v, "feed.default_id", "feed.history_interval", "feed.book_interval",
		"feed.idle_ttl", "feed.snapshot_ttl", "feed.conventional_ask_depth")
	bindEnv(v, "upstream.base_url", "upstream.timeout", "upstream.max_retries",
		"upstream.rate_per_second", "upstream.burst")
	bindEnv(v, "enrich.batch_size", "enrich.delay", "enrich.max_items")
	bindEnv(v, "processor.num_workers", "processor.price_ttl")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	cfg.Logger.Env = cfg.App.Env

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")
	v.SetDefault("logger.level", "info")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "enriched_prices")
	v.SetDefault("kafka.group_id", "price-sink-group")
	v.SetDefault("kafka.partitions", 4)

	v.SetDefault("feed.default_id", "btc-100k")
	v.SetDefault("feed.history_interval", 2*time.Second)
	v.SetDefault("feed.book_interval", 3*time.Second)
	v.SetDefault("feed.idle_ttl", 10*time.Minute)
	v.SetDefault("feed.snapshot_ttl", time.Hour)
	v.SetDefault("feed.conventional_ask_depth", false)

	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.timeout", 2*time.Second)
	v.SetDefault("upstream.max_retries", 2)
	v.SetDefault("upstream.rate_per_second", 10.0)
	v.SetDefault("upstream.burst", 10)

	v.SetDefault("enrich.batch_size", 10)
	v.SetDefault("enrich.delay", 100*time.Millisecond)
	v.SetDefault("enrich.max_items", 100)

	v.SetDefault("processor.num_workers", 4)
	v.SetDefault("processor.price_ttl", 24*time.Hour)
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.Feed.HistoryInterval <= 0 || c.Feed.BookInterval <= 0 {
		return fmt.Errorf("feed intervals must be positive")
	}
	if c.Enrich.BatchSize < 1 {
		return fmt.Errorf("enrich batch size must be at least 1, got %d", c.Enrich.BatchSize)
	}
	if c.Processor.NumWorkers < 1 {
		return fmt.Errorf("processor needs at least one worker")
	}
	return nil
}

// NewLogger builds a zap logger: JSON production output outside local, the
// console development encoder otherwise.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	zc := zap.NewProductionConfig()
	if cfg.Env == "" || cfg.Env == "local" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
