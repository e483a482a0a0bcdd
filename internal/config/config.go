package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Device struct {
		CachePath string `yaml:"cachePath"`
		Timezone  string `yaml:"timezone"`
	} `yaml:"device"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		Addr             string `yaml:"addr"`
		Password         string `yaml:"password"`
		DB               int    `yaml:"db"`
		QuestionCacheTTL string `yaml:"questionCacheTTL"`
	} `yaml:"redis"`
	Remote struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"remote"`
	Sync struct {
		Interval string `yaml:"interval"`
	} `yaml:"sync"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// DefaultCachePath is used when device.cachePath is empty.
const DefaultCachePath = "data/cache.db"

// Load reads YAML config from path. A missing file yields the zero config,
// which runs fully in-process with defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}

func (c Config) CachePath() string {
	if c.Device.CachePath == "" {
		return DefaultCachePath
	}
	return c.Device.CachePath
}

// Location resolves device.timezone, defaulting to the host's local zone.
func (c Config) Location() (*time.Location, error) {
	if c.Device.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Device.Timezone)
	if err != nil {
		return nil, fmt.Errorf("device timezone %q: %w", c.Device.Timezone, err)
	}
	return loc, nil
}

func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
