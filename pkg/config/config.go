package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MinAPIPort is the lowest port the API will bind; lower values fall back to it.
const MinAPIPort = 9000

type Config struct {
	Environment string        `yaml:"environment" default:"development"`
	Service     string        `yaml:"service" default:"ohlcv-api"`
	API         APIConfig     `yaml:"api"`
	Log         LogConfig     `yaml:"log"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Window      WindowConfig  `yaml:"window"`
	Storage     StorageConfig `yaml:"storage"`
	Cache       CacheConfig   `yaml:"cache"`
	Redis       RedisConfig   `yaml:"redis"`
	Kafka       KafkaConfig   `yaml:"kafka"`
	Live        LiveConfig    `yaml:"live"`

	// Warnings collects non-fatal problems found while loading, logged once the logger exists.
	Warnings []string `yaml:"-"`
}

type APIConfig struct {
	Host            string          `yaml:"host" default:"0.0.0.0"`
	Port            int             `yaml:"port" default:"9000"`
	Prefix          string          `yaml:"prefix"`
	CORS            bool            `yaml:"cors" default:"true"`
	CORSOrigins     []string        `yaml:"cors_origins"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" default:"10s"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" default:"10s"`
	SlowThreshold   time.Duration   `yaml:"slow_threshold" default:"1s"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled   bool    `yaml:"enabled" default:"true"`
	Burst     float64 `yaml:"burst" default:"60" validate:"gte=1"`
	PerSecond float64 `yaml:"per_second" default:"20" validate:"gt=0"`
}

type LogConfig struct {
	Level   string           `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
	Format  string           `yaml:"format" default:"json" validate:"oneof=json console"`
	Output  string           `yaml:"output" default:"stdout"`
	Collect LogCollectConfig `yaml:"collect"`
}

// LogCollectConfig ships aggregated error logs to Kafka.
type LogCollectConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Topic     string        `yaml:"topic" default:"ohlcv.logs"`
	Interval  time.Duration `yaml:"interval" default:"30s"`
	Threshold int           `yaml:"threshold" default:"100"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

type WindowConfig struct {
	// Fallback is the lookback used when limit*duration cannot be computed.
	Fallback time.Duration `yaml:"fallback" default:"24h"`
}

type StorageConfig struct {
	Backend    string           `yaml:"backend" default:"timescale" validate:"oneof=timescale clickhouse sqlite"`
	Timescale  TimescaleConfig  `yaml:"timescale"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
}

type TimescaleConfig struct {
	DSN              string        `yaml:"dsn"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"5432"`
	Database         string        `yaml:"database" default:"market"`
	User             string        `yaml:"user" default:"postgres"`
	Password         string        `yaml:"password"`
	SSLMode          string        `yaml:"sslmode" default:"disable"`
	MaxOpenConns     int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns     int           `yaml:"max_idle_conns" default:"5"`
	StatementTimeout time.Duration `yaml:"statement_timeout" default:"30s"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"default"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	Compress         bool          `yaml:"compress"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" default:"ohlcv.db"`
}

type CacheConfig struct {
	Backend    string        `yaml:"backend" default:"memory" validate:"oneof=none memory redis layered"`
	TTL        time.Duration `yaml:"ttl" default:"60s"`
	MaxEntries int           `yaml:"max_entries" default:"1000"`
}

type RedisConfig struct {
	Addr         string `yaml:"addr"` // comma-separated for a cluster
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	Prefix       string `yaml:"prefix" default:"ohlcv"`
	PoolSize     int    `yaml:"pool_size" default:"10"`
	MinIdleConns int    `yaml:"min_idle_conns" default:"2"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	Compression string   `yaml:"compression" default:"snappy"`
}

type LiveConfig struct {
	// MaxRPS throttles non-final candle updates per subscription key; 0 disables.
	MaxRPS int             `yaml:"max_rps" default:"10" validate:"gte=0"`
	Kafka  LiveKafkaConfig `yaml:"kafka"`
	Redis  LiveRedisConfig `yaml:"redis"`
}

type LiveKafkaConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Topic           string        `yaml:"topic" default:"ohlcv.live"`
	GroupID         string        `yaml:"group_id" default:"ohlcv-api"`
	AutoOffsetReset string        `yaml:"auto_offset_reset" default:"latest" validate:"oneof=earliest latest"`
	Workers         int           `yaml:"workers" default:"4" validate:"gte=1"`
	BufferSize      int           `yaml:"buffer_size" default:"256"`
	RetryMax        int           `yaml:"retry_max" default:"3"`
	BackoffMin      time.Duration `yaml:"backoff_min" default:"100ms"`
	BackoffMax      time.Duration `yaml:"backoff_max" default:"2s"`
	DLQTopic        string        `yaml:"dlq_topic"`
	// MaxAge drops updates older than this when they reach the consumer; 0 keeps everything.
	MaxAge time.Duration `yaml:"max_age"`
}

type LiveRedisConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Channels []string `yaml:"channels" default:"[\"ohlcv:live:*\"]"`
}

// Load applies struct defaults, then the YAML file at path when path is not empty.
func Load(path string) (*Config, error) {
	c, err := load(path)
	if err != nil {
		return nil, err
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func load(path string) (*Config, error) {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	return c, nil
}

// LoadWithEnv loads dotenv files (".env" when none are given; missing files are ignored),
// then the YAML config, then environment overrides.
func LoadWithEnv(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	c, err := load(path)
	if err != nil {
		return nil, err
	}

	c.applyEnv()
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("API_HOST"); ok && v != "" {
		c.API.Host = v
	}
	if v, ok := os.LookupEnv("API_PORT"); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			c.warnf("API_PORT %q is not a number, using %d", v, MinAPIPort)
			port = MinAPIPort
		}
		c.API.Port = port
	}
	if v, ok := os.LookupEnv("API_PREFIX"); ok {
		c.API.Prefix = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.API.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		switch c.Storage.Backend {
		case "timescale":
			c.Storage.Timescale.DSN = v
		case "sqlite":
			c.Storage.SQLite.Path = v
		default:
			c.warnf("DATABASE_URL is ignored for the %s backend", c.Storage.Backend)
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("WINDOW_FALLBACK"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			c.warnf("WINDOW_FALLBACK %q is not a positive duration, keeping %s", v, c.Window.Fallback)
		} else {
			c.Window.Fallback = d
		}
	}
}

func (c *Config) normalize() {
	if c.API.Port < MinAPIPort {
		c.warnf("api port %d is below %d, using %d", c.API.Port, MinAPIPort, MinAPIPort)
		c.API.Port = MinAPIPort
	}
	if p := strings.TrimRight(strings.TrimSpace(c.API.Prefix), "/"); p != "" && !strings.HasPrefix(p, "/") {
		c.API.Prefix = "/" + p
	} else {
		c.API.Prefix = p
	}
	if c.Window.Fallback <= 0 {
		c.Window.Fallback = 24 * time.Hour
	}
}

func (c *Config) warnf(format string, args ...interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

var validate = validator.New()

// Validate checks field values and cross-section requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.API.Port > 65535 {
		return fmt.Errorf("api.port %d is out of range", c.API.Port)
	}
	needRedis := c.Cache.Backend == "redis" || c.Cache.Backend == "layered" || c.Live.Redis.Enabled
	if needRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when cache.backend is %q or live.redis is enabled", c.Cache.Backend)
	}
	if (c.Live.Kafka.Enabled || c.Log.Collect.Enabled) && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when live.kafka or log.collect is enabled")
	}
	if c.Live.Redis.Enabled && len(c.Live.Redis.Channels) == 0 {
		return fmt.Errorf("live.redis.channels cannot be empty")
	}
	return nil
}

// Addr is host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
