package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config represents a tributary.yaml configuration file.
// All values are optional and act as defaults for tributary flags.
// CLI flags always override config values.
type Config struct {
	Endpoint         string         `yaml:"endpoint"`
	TenantID         string         `yaml:"tenant_id"`
	UserID           string         `yaml:"user_id"`
	WorkspaceID      string         `yaml:"workspace_id"`
	ServiceToken     string         `yaml:"service_token"`
	BusinessAgentKey string         `yaml:"business_agent_key"`
	IdleTimeout      Duration       `yaml:"idle_timeout"`
	RequestTimeout   Duration       `yaml:"request_timeout"`
	LogLevel         string         `yaml:"log_level"`
	Adapter          AdapterConfig  `yaml:"adapter"`
	Server           ServerConfig   `yaml:"server"`
	Stream           StreamSettings `yaml:"stream"`
}

// AdapterConfig holds run-finished adapter defaults from the config file.
type AdapterConfig struct {
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Channel  string            `yaml:"channel,omitempty"`
	Encoding string            `yaml:"encoding,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Timeout  Duration          `yaml:"timeout,omitempty"`
	Retries  *int              `yaml:"retries,omitempty"`
}

// ServerConfig holds defaults for tributary serve.
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	PingInterval Duration `yaml:"ping_interval"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// StreamSettings tunes the NDJSON reader.
type StreamSettings struct {
	ChunkSize   int `yaml:"chunk_size"`
	MaxLineSize int `yaml:"max_line_size"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Validate checks values that cannot be deferred to flag resolution.
// Missing values are allowed: flags may still supply them.
func (c *Config) Validate() error {
	var errs []error
	if c.Endpoint != "" {
		if u, err := url.Parse(c.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("endpoint %q must be an http(s) URL", c.Endpoint))
		}
	}
	switch strings.ToLower(c.Adapter.Type) {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown adapter type %q (valid: webhook, redis)", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, errors.New("adapter.url is required when adapter.type is set"))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries))
	}
	if c.Stream.ChunkSize < 0 || c.Stream.MaxLineSize < 0 {
		errs = append(errs, errors.New("stream sizes must be >= 0"))
	}
	return errors.Join(errs...)
}
