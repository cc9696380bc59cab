// Package server exposes a consumer over HTTP: starting and aborting runs,
// reading the current run state, watching it over a WebSocket and scraping
// metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pithecene-io/tributary/log"
	"github.com/pithecene-io/tributary/metrics"
	"github.com/pithecene-io/tributary/runtime"
	"github.com/pithecene-io/tributary/types"
)

// Defaults.
const (
	DefaultAddr         = ":8080"
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	shutdownTimeout     = 10 * time.Second
)

// Config configures a Server.
type Config struct {
	// Addr is the listen address (default ":8080").
	Addr string
	// PingInterval is the WebSocket keepalive interval (default 30s).
	PingInterval time.Duration
	// WriteTimeout bounds one WebSocket write (default 10s).
	WriteTimeout time.Duration
	// Defaults fills run parameters the request leaves empty.
	Defaults types.RunParams
	// Logger receives structured logs (default: discard).
	Logger *log.Logger
	// Collector is exposed on /metrics (optional).
	Collector *metrics.Collector
}

// Server is the HTTP front end for one consumer.
type Server struct {
	cfg      Config
	consumer *runtime.Consumer
	echo     *echo.Echo
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *log.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// New creates a server for consumer and starts its watcher hub.
// Close releases it.
func New(consumer *runtime.Consumer, cfg Config) (*Server, error) {
	if consumer == nil {
		return nil, errors.New("server requires a consumer")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		consumer: consumer,
		hub:      NewHub(cfg.Logger),
		logger:   cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}

	registry, err := s.registry()
	if err != nil {
		cancel()
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request", map[string]any{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
			})
			return nil
		},
	}))

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	v1 := e.Group("/v1/runs")
	v1.POST("", s.handleStart)
	v1.GET("/current", s.handleCurrent)
	v1.DELETE("/current", s.handleAbort)
	v1.GET("/current/ws", s.handleWatch)
	s.echo = e

	go s.hub.Run(ctx)
	s.unsubscribe = consumer.Subscribe(s.hub)
	return s, nil
}

func (s *Server) registry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if s.cfg.Collector != nil {
		if err := metrics.Register(reg, s.cfg.Collector); err != nil {
			return nil, err
		}
	}
	watchers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tributary",
		Name:      "watchers",
		Help:      "Connected WebSocket watchers.",
	}, func() float64 { return float64(s.hub.Clients()) })
	if err := reg.Register(watchers); err != nil {
		return nil, err
	}
	return reg, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Hub returns the watcher hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", map[string]any{"addr": s.cfg.Addr})
		errCh <- s.echo.Start(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Close stops the hub and aborts runs started through the server.
// It does not close the consumer.
func (s *Server) Close() {
	s.unsubscribe()
	s.cancel()
}
