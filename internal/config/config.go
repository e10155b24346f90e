// Package config loads worker settings. Defaults are overlaid by an optional
// TOML file named in IMAGEFLOW_CONFIG, then by environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	NATSURL        string
	SubjectPrefix  string
	Queue          string
	MetricsAddr    string
	LogLevel       slog.Level
	JPEGQuality    int
	MaxPixels      int
	MaxJobs        int
	ConvertTimeout time.Duration
}

// fileConfig is the TOML key mapping.
type fileConfig struct {
	NATSURL        string `toml:"nats_url"`
	SubjectPrefix  string `toml:"subject_prefix"`
	Queue          string `toml:"queue"`
	MetricsAddr    string `toml:"metrics_addr"`
	LogLevel       string `toml:"log_level"`
	JPEGQuality    int    `toml:"jpeg_quality"`
	MaxPixels      int    `toml:"max_pixels"`
	MaxJobs        int    `toml:"max_jobs"`
	ConvertTimeout string `toml:"convert_timeout"`
}

func Default() Config {
	return Config{
		NATSURL:        "nats://127.0.0.1:4222",
		SubjectPrefix:  "imageflow",
		Queue:          "imageflow-workers",
		MetricsAddr:    ":9090",
		LogLevel:       slog.LevelInfo,
		JPEGQuality:    90,
		MaxPixels:      100_000_000,
		ConvertTimeout: 30 * time.Second,
	}
}

func Load() (Config, error) {
	cfg := Default()

	if path := getenv("IMAGEFLOW_CONFIG", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.NATSURL = getenv("NATS_URL", cfg.NATSURL)
	cfg.SubjectPrefix = strings.TrimSuffix(getenv("IMAGEFLOW_SUBJECT_PREFIX", cfg.SubjectPrefix), ".")
	cfg.Queue = getenv("IMAGEFLOW_QUEUE", cfg.Queue)
	cfg.MetricsAddr = getenv("METRICS_ADDR", cfg.MetricsAddr)

	if v := getenv("LOG_LEVEL", ""); v != "" {
		level, err := ParseLevel(v)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = level
	}
	if v := getenv("JPEG_QUALITY", ""); v != "" {
		q, err := parsePositiveInt(v, "JPEG_QUALITY")
		if err != nil {
			return Config{}, err
		}
		cfg.JPEGQuality = q
	}
	if v := getenv("MAX_PIXELS", ""); v != "" {
		n, err := parsePositiveInt(v, "MAX_PIXELS")
		if err != nil {
			return Config{}, err
		}
		cfg.MaxPixels = n
	}
	if v := getenv("MAX_JOBS", ""); v != "" {
		n, err := parsePositiveInt(v, "MAX_JOBS")
		if err != nil {
			return Config{}, err
		}
		cfg.MaxJobs = n
	}
	if v := getenv("CONVERT_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CONVERT_TIMEOUT: %w", err)
		}
		cfg.ConvertTimeout = d
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config file: unknown keys %v", undecoded)
	}

	if meta.IsDefined("nats_url") {
		cfg.NATSURL = strings.TrimSpace(raw.NATSURL)
	}
	if meta.IsDefined("subject_prefix") {
		cfg.SubjectPrefix = strings.TrimSuffix(strings.TrimSpace(raw.SubjectPrefix), ".")
	}
	if meta.IsDefined("queue") {
		cfg.Queue = strings.TrimSpace(raw.Queue)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		level, err := ParseLevel(raw.LogLevel)
		if err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
		cfg.LogLevel = level
	}
	if meta.IsDefined("jpeg_quality") {
		cfg.JPEGQuality = raw.JPEGQuality
	}
	if meta.IsDefined("max_pixels") {
		cfg.MaxPixels = raw.MaxPixels
	}
	if meta.IsDefined("max_jobs") {
		cfg.MaxJobs = raw.MaxJobs
	}
	if meta.IsDefined("convert_timeout") {
		d, err := time.ParseDuration(raw.ConvertTimeout)
		if err != nil {
			return fmt.Errorf("load config file: convert_timeout: %w", err)
		}
		cfg.ConvertTimeout = d
	}
	return nil
}

func (c Config) validate() error {
	if c.NATSURL == "" {
		return fmt.Errorf("nats url must not be empty")
	}
	if c.SubjectPrefix == "" {
		return fmt.Errorf("subject prefix must not be empty")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be within 1..100 (got %d)", c.JPEGQuality)
	}
	if c.MaxPixels <= 0 {
		return fmt.Errorf("max pixels must be greater than zero (got %d)", c.MaxPixels)
	}
	if c.MaxJobs < 0 {
		return fmt.Errorf("max jobs must not be negative (got %d)", c.MaxJobs)
	}
	if c.ConvertTimeout <= 0 {
		return fmt.Errorf("convert timeout must be greater than zero (got %s)", c.ConvertTimeout)
	}
	return nil
}

// ParseLevel accepts debug, info, warn or error in any case.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
