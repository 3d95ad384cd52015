// Package config loads the router's YAML configuration, applies
// environment variable overrides, and validates the result, the way
// the teacher's own gateway config loader does.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/cuteecarrot/agentrelay/internal/router"
)

// Config is the full set of knobs a running agentrelay process reads
// at startup and on SIGHUP reload.
type Config struct {
	Workspace string         `yaml:"workspace"`
	Roles     []string       `yaml:"roles"`
	Router    RouterConfig   `yaml:"router"`
	Web       WebConfig      `yaml:"web"`
	EventBus  EventBusConfig `yaml:"event_bus"`
}

// RouterConfig mirrors every knob spec.md §6 lists as configurable.
type RouterConfig struct {
	AckTimeoutMS              int64   `yaml:"ack_timeout_ms"`
	RetryBackoffMS            []int64 `yaml:"retry_backoff_ms"`
	MaxRetries                int     `yaml:"max_retries"`
	DefaultTTLMS              int64   `yaml:"default_ttl_ms"`
	JitterRatio               float64 `yaml:"jitter_ratio"`
	RetryPollIntervalMS       int64   `yaml:"retry_poll_interval_ms"`
	PresenceIntervalMS        int64   `yaml:"presence_interval_ms"`
	PresenceTimeoutMultiplier int64   `yaml:"presence_timeout_multiplier"`
}

// ToRouterConfig converts the YAML-shaped RouterConfig to the type
// the router package itself consumes.
func (c RouterConfig) ToRouterConfig() router.Config {
	return router.Config{
		AckTimeoutMS:              c.AckTimeoutMS,
		RetryBackoffMS:            c.RetryBackoffMS,
		MaxRetries:                c.MaxRetries,
		DefaultTTLMS:              c.DefaultTTLMS,
		JitterRatio:               c.JitterRatio,
		RetryPollIntervalMS:       c.RetryPollIntervalMS,
		PresenceIntervalMS:        c.PresenceIntervalMS,
		PresenceTimeoutMultiplier: c.PresenceTimeoutMultiplier,
	}
}

// WebConfig holds the HTTP surface's bind address.
type WebConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// EventBusConfig holds the embedded event bus's bind port and storage
// directory.
type EventBusConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

func defaults() Config {
	rc := router.DefaultConfig()
	return Config{
		Workspace: ".",
		Router: RouterConfig{
			AckTimeoutMS:              rc.AckTimeoutMS,
			RetryBackoffMS:            rc.RetryBackoffMS,
			MaxRetries:                rc.MaxRetries,
			DefaultTTLMS:              rc.DefaultTTLMS,
			JitterRatio:               rc.JitterRatio,
			RetryPollIntervalMS:       rc.RetryPollIntervalMS,
			PresenceIntervalMS:        rc.PresenceIntervalMS,
			PresenceTimeoutMultiplier: rc.PresenceTimeoutMultiplier,
		},
		Web: WebConfig{
			ListenAddr: ":8080",
		},
		EventBus: EventBusConfig{
			Port:    4222,
			DataDir: "data/eventbus",
		},
	}
}

// Load reads AGENTRELAY_CONFIG (default config/agentrelay.yaml),
// applies environment-variable overrides, and validates the result. A
// missing config file is not an error: defaults plus env overrides
// are used as-is.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("AGENTRELAY_CONFIG")
	if path == "" {
		path = "config/agentrelay.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	if cfg.Web.ListenAddr == "" {
		return fmt.Errorf("web.listen_addr is required")
	}
	if cfg.Router.MaxRetries < 0 {
		return fmt.Errorf("router.max_retries must be >= 0")
	}
	if cfg.Router.JitterRatio < 0 || cfg.Router.JitterRatio > 1 {
		return fmt.Errorf("router.jitter_ratio must be within [0, 1]")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENTRELAY_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("AGENTRELAY_WEB_LISTEN_ADDR"); v != "" {
		cfg.Web.ListenAddr = v
	}
	if v := os.Getenv("AGENTRELAY_EVENTBUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.EventBus.Port = port
		}
	}
	if v := os.Getenv("AGENTRELAY_ACK_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Router.AckTimeoutMS = n
		}
	}
	if v := os.Getenv("AGENTRELAY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Router.MaxRetries = n
		}
	}
}
