package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type kioskConfig struct {
	ServerURL      string        `yaml:"server_url"`
	StorePath      string        `yaml:"store_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollJitter     time.Duration `yaml:"poll_jitter"`
	LogLevel       string        `yaml:"log_level"`
	Channel        string        `yaml:"channel"`
	// Timezone must match the server's BOOTH_TIMEZONE so offline orders
	// carry the day they were taken.
	Timezone string `yaml:"timezone"`
}

func defaultConfig() kioskConfig {
	return kioskConfig{
		ServerURL:      "http://localhost:8080",
		StorePath:      "kiosk.db",
		RequestTimeout: 5 * time.Second,
		ProbeInterval:  5 * time.Second,
		PollInterval:   5 * time.Second,
		PollJitter:     time.Second,
		LogLevel:       "info",
		Channel:        "kiosk",
		Timezone:       "Asia/Bangkok",
	}
}

func (c kioskConfig) location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// loadConfig overlays the YAML file on the defaults, then the environment.
// A missing file is not an error so the kiosk runs with no setup.
func loadConfig(path string) (kioskConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if url := os.Getenv("KIOSK_SERVER_URL"); url != "" {
		cfg.ServerURL = url
	}
	if tz := os.Getenv("BOOTH_TIMEZONE"); tz != "" {
		cfg.Timezone = tz
	}
	return cfg, nil
}
