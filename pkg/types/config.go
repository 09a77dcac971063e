package types

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration, loaded from a YAML file and
// optionally overridden by command-line flags.
type Config struct {
	Listen       string         `yaml:"listen" validate:"required"`
	PollInterval time.Duration  `yaml:"poll_interval" validate:"gte=1s"`
	Upstream     UpstreamConfig `yaml:"upstream"`
	Storage      StorageConfig  `yaml:"storage"`
	Log          LogConfig      `yaml:"log"`
}

// UpstreamConfig points at the stat service that supplies followers,
// subscribers and gift-sub grants.
type UpstreamConfig struct {
	BaseURL             string        `yaml:"base_url" validate:"required,url"`
	FollowersEndpoint   string        `yaml:"followers_endpoint" validate:"required,startswith=/"`
	SubscribersEndpoint string        `yaml:"subscribers_endpoint" validate:"required,startswith=/"`
	GiftSubsEndpoint    string        `yaml:"gift_subs_endpoint" validate:"required,startswith=/"`
	Timeout             time.Duration `yaml:"timeout" validate:"gte=1s"`
	ExcludedUsers       []string      `yaml:"excluded_users"`
}

// StorageConfig selects and configures the ticket store backend.
type StorageConfig struct {
	Type string `yaml:"type" validate:"required,oneof=bolt postgres"`

	// bolt
	Path string `yaml:"path" validate:"required_if=Type bolt"`

	// postgres
	URL    string `yaml:"url" validate:"required_if=Type postgres"`
	Schema string `yaml:"schema"`
}

// LogConfig controls the zerolog setup.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns a config suitable for local development against
// a bolt store.
func DefaultConfig() Config {
	return Config{
		Listen:       ":8081",
		PollInterval: 30 * time.Second,
		Upstream: UpstreamConfig{
			BaseURL:             "http://localhost:8000",
			FollowersEndpoint:   "/followers",
			SubscribersEndpoint: "/subscribers",
			GiftSubsEndpoint:    "/gift-subs",
			Timeout:             10 * time.Second,
		},
		Storage: StorageConfig{
			Type: "bolt",
			Path: "./data",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults and validates
// the result. An empty path returns the validated defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the config against its struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
