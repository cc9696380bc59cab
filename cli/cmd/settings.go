package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tributary/adapter"
	"github.com/pithecene-io/tributary/adapter/redis"
	"github.com/pithecene-io/tributary/adapter/webhook"
	"github.com/pithecene-io/tributary/cli/config"
	"github.com/pithecene-io/tributary/log"
	"github.com/pithecene-io/tributary/metrics"
	"github.com/pithecene-io/tributary/runtime"
	"github.com/pithecene-io/tributary/types"
)

// exitSetup is returned when the command cannot start: bad flags, bad
// config or an unreachable dependency.
const exitSetup = 2

// defaultLogLevel keeps stderr quiet unless something goes wrong.
const defaultLogLevel = "warn"

// loadSettings reads the config file (if any) and applies flag overrides.
// Flags always win over file values.
func loadSettings(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	str := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	str("endpoint", &cfg.Endpoint)
	str("tenant", &cfg.TenantID)
	str("user", &cfg.UserID)
	str("workspace", &cfg.WorkspaceID)
	str("agent", &cfg.BusinessAgentKey)
	str("service-token", &cfg.ServiceToken)
	str("log-level", &cfg.LogLevel)
	str("adapter", &cfg.Adapter.Type)
	str("adapter-url", &cfg.Adapter.URL)

	if c.IsSet("idle-timeout") {
		cfg.IdleTimeout.Duration = c.Duration("idle-timeout")
	}
	if c.IsSet("request-timeout") {
		cfg.RequestTimeout.Duration = c.Duration("request-timeout")
	}
	if c.IsSet("chunk-size") {
		cfg.Stream.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("max-line-size") {
		cfg.Stream.MaxLineSize = c.Int("max-line-size")
	}

	if cfg.IdleTimeout.Duration < 0 || cfg.RequestTimeout.Duration < 0 {
		return nil, errors.New("timeouts must not be negative")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*log.Logger, error) {
	level := cfg.LogLevel
	if level == "" {
		level = defaultLogLevel
	}
	fields := map[string]any{}
	if cfg.TenantID != "" {
		fields["tenant_id"] = cfg.TenantID
	}
	if cfg.UserID != "" {
		fields["user_id"] = cfg.UserID
	}
	return log.NewLogger(log.Options{Level: level, Output: os.Stderr, Fields: fields})
}

// newHTTPClient returns a client without a total timeout; request_timeout
// only bounds the wait for response headers.
func newHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.RequestTimeout.Duration
	return &http.Client{Transport: transport}
}

// newAdapter builds the configured run-finished adapter, or nil.
func newAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	enc, err := adapter.ParseEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Type) {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return webhook.New(webhook.Config{
			URL:      cfg.URL,
			Headers:  cfg.Headers,
			Encoding: enc,
			Timeout:  cfg.Timeout.Duration,
			Retries:  retries,
		})
	case "redis":
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return redis.New(redis.Config{
			URL:      cfg.URL,
			Channel:  cfg.Channel,
			Encoding: enc,
			Timeout:  cfg.Timeout.Duration,
			Retries:  retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q (valid: webhook, redis)", cfg.Type)
	}
}

// newConsumer wires a consumer from resolved settings.
func newConsumer(cfg *config.Config, logger *log.Logger, collector *metrics.Collector) (*runtime.Consumer, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required (--endpoint, config endpoint or TRIBUTARY_ENDPOINT)")
	}
	ad, err := newAdapter(cfg.Adapter)
	if err != nil {
		return nil, fmt.Errorf("adapter: %w", err)
	}
	consumer, err := runtime.NewConsumer(runtime.Config{
		Endpoint:     cfg.Endpoint,
		ServiceToken: cfg.ServiceToken,
		HTTPClient:   newHTTPClient(cfg),
		IdleTimeout:  cfg.IdleTimeout.Duration,
		ChunkSize:    cfg.Stream.ChunkSize,
		MaxLineSize:  cfg.Stream.MaxLineSize,
		Logger:       logger,
		Collector:    collector,
		Adapter:      ad,
	})
	if err != nil {
		if ad != nil {
			_ = ad.Close()
		}
		return nil, err
	}
	return consumer, nil
}

// defaultParams returns the run identity from resolved settings.
func defaultParams(cfg *config.Config) types.RunParams {
	p := types.RunParams{
		TenantID:         cfg.TenantID,
		UserID:           cfg.UserID,
		BusinessAgentKey: cfg.BusinessAgentKey,
	}
	if cfg.WorkspaceID != "" {
		ws := cfg.WorkspaceID
		p.WorkspaceID = &ws
	}
	return p
}

func collectorFor(cfg *config.Config) *metrics.Collector {
	return metrics.NewCollector(cfg.Endpoint, strings.ToLower(cfg.Adapter.Type))
}
