// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Server  ServerConfig  `toml:"server"`
	Polling PollingConfig `toml:"polling"`
	Log     LogConfig     `toml:"log"`
}

// ServerConfig maps backend connection settings.
type ServerConfig struct {
	BaseURL           *string  `toml:"base-url"`
	TimeoutSeconds    *int     `toml:"timeout-seconds"`
	RequestsPerSecond *float64 `toml:"requests-per-second"`
}

// PollingConfig maps live refresh intervals.
type PollingConfig struct {
	ReviewIntervalMs *int `toml:"review-interval-ms"`
	LessonIntervalMs *int `toml:"lesson-interval-ms"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level *string `toml:"level"`
	File  *string `toml:"file"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	if err := cfg.validate(); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

func (c FileConfig) validate() error {
	if v := c.Server.TimeoutSeconds; v != nil && *v <= 0 {
		return fmt.Errorf("server.timeout-seconds must be positive")
	}
	if v := c.Server.RequestsPerSecond; v != nil && *v < 0 {
		return fmt.Errorf("server.requests-per-second cannot be negative")
	}
	if v := c.Polling.ReviewIntervalMs; v != nil && *v < 500 {
		return fmt.Errorf("polling.review-interval-ms must be at least 500")
	}
	if v := c.Polling.LessonIntervalMs; v != nil && *v < 500 {
		return fmt.Errorf("polling.lesson-interval-ms must be at least 500")
	}
	return nil
}
