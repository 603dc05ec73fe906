package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gosight/engagement/internal/engagement"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Batch      BatchConfig      `yaml:"batch"`
	Engagement EngagementConfig `yaml:"engagement"`
}

type ServerConfig struct {
	GRPCPort int `yaml:"grpc_port"`
	HTTPPort int `yaml:"http_port"`
}

type KafkaConfig struct {
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

// Topic returns the configured topic for name, or fallback
func (k KafkaConfig) Topic(name, fallback string) string {
	if t := k.Topics[name]; t != "" {
		return t
	}
	return fallback
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	StatsTTL time.Duration `yaml:"stats_ttl"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

type RateLimitConfig struct {
	// RequestsPerSecond is the per-project budget enforced through Redis
	RequestsPerSecond int `yaml:"requests_per_second"`
	// PerIPPerMinute bounds a single client address at the HTTP edge
	PerIPPerMinute int `yaml:"per_ip_per_minute"`
}

type BatchConfig struct {
	Size          int           `yaml:"size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// EngagementConfig tunes the card trackers
type EngagementConfig struct {
	DwellLimitMs           int64         `yaml:"dwell_limit_ms"`
	MinSelectionDistancePx float64       `yaml:"min_selection_distance_px"`
	MinClickDurationMs     int64         `yaml:"min_click_duration_ms"`
	TrackerIdleTTL         time.Duration `yaml:"tracker_idle_ttl"`
}

// Thresholds converts the config into tracker thresholds
func (c EngagementConfig) Thresholds() engagement.Thresholds {
	return engagement.Thresholds{
		DwellLimit:           time.Duration(c.DwellLimitMs) * time.Millisecond,
		MinSelectionDistance: c.MinSelectionDistancePx,
		MinClickDuration:     time.Duration(c.MinClickDurationMs) * time.Millisecond,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document, expanding environment variables and applying defaults
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "gosight-engagement-processor"
	}
	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 500
	}
	if cfg.Batch.FlushInterval == 0 {
		cfg.Batch.FlushInterval = 5 * time.Second
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}
	if cfg.Redis.StatsTTL == 0 {
		cfg.Redis.StatsTTL = 24 * time.Hour
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 100
	}
	if cfg.RateLimit.PerIPPerMinute == 0 {
		cfg.RateLimit.PerIPPerMinute = 1200
	}

	defaults := engagement.DefaultThresholds()
	if cfg.Engagement.DwellLimitMs == 0 {
		cfg.Engagement.DwellLimitMs = defaults.DwellLimit.Milliseconds()
	}
	if cfg.Engagement.MinSelectionDistancePx == 0 {
		cfg.Engagement.MinSelectionDistancePx = defaults.MinSelectionDistance
	}
	if cfg.Engagement.MinClickDurationMs == 0 {
		cfg.Engagement.MinClickDurationMs = defaults.MinClickDuration.Milliseconds()
	}
	if cfg.Engagement.TrackerIdleTTL == 0 {
		cfg.Engagement.TrackerIdleTTL = 30 * time.Minute
	}
}

// Validate rejects values no component can run with
func (cfg *Config) Validate() error {
	var errs []error
	if len(cfg.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is empty"))
	}
	if cfg.Batch.Size <= 0 {
		errs = append(errs, fmt.Errorf("batch.size must be positive, got %d", cfg.Batch.Size))
	}
	if cfg.Batch.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("batch.flush_interval must be positive, got %s", cfg.Batch.FlushInterval))
	}
	if cfg.Engagement.DwellLimitMs < 0 {
		errs = append(errs, fmt.Errorf("engagement.dwell_limit_ms must not be negative, got %d", cfg.Engagement.DwellLimitMs))
	}
	if cfg.Engagement.MinSelectionDistancePx < 0 {
		errs = append(errs, fmt.Errorf("engagement.min_selection_distance_px must not be negative, got %v", cfg.Engagement.MinSelectionDistancePx))
	}
	if cfg.Engagement.MinClickDurationMs < 0 {
		errs = append(errs, fmt.Errorf("engagement.min_click_duration_ms must not be negative, got %d", cfg.Engagement.MinClickDurationMs))
	}
	if cfg.Engagement.TrackerIdleTTL < 0 {
		errs = append(errs, fmt.Errorf("engagement.tracker_idle_ttl must not be negative, got %s", cfg.Engagement.TrackerIdleTTL))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
