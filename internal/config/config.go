// Package config loads the daemon configuration from ~/.smsync/config.toml.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration.
type Config struct {
	// UserID is the backend account all imports are attributed to.
	UserID string `toml:"user_id"`

	Backend   Backend   `toml:"backend"`
	Daemon    Daemon    `toml:"daemon"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Backend locates the transactions API.
type Backend struct {
	BaseURL string `toml:"base_url"`
}

// Daemon holds the local control surface and scheduling knobs.
type Daemon struct {
	ListenAddr          string `toml:"listen_addr"`
	LiveIntervalMinutes int    `toml:"live_interval_minutes"`
}

// Telemetry configures the optional OTLP exporter. An empty endpoint
// leaves the global providers as no-ops.
type Telemetry struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
	Insecure     bool   `toml:"insecure"`
	ServiceName  string `toml:"service_name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: Backend{BaseURL: "http://localhost:8000/api"},
		Daemon: Daemon{
			ListenAddr:          "127.0.0.1:7465",
			LiveIntervalMinutes: 15,
		},
		Telemetry: Telemetry{ServiceName: "smsyncd"},
	}
}

// Load reads config from the given path, filling unset fields from
// Default. A missing file returns Default without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Daemon.ListenAddr == "" {
		cfg.Daemon.ListenAddr = Default().Daemon.ListenAddr
	}
	if cfg.Daemon.LiveIntervalMinutes <= 0 {
		cfg.Daemon.LiveIntervalMinutes = Default().Daemon.LiveIntervalMinutes
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = Default().Backend.BaseURL
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
