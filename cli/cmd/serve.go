package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tributary/iox"
	"github.com/pithecene-io/tributary/server"
)

// ServeCommand returns the serve command.
// Serve exposes one consumer over HTTP and WebSocket for a UI layer.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the run API and live WebSocket feed",
		Flags: join(
			[]cli.Flag{
				&cli.StringFlag{
					Name:  "addr",
					Usage: "Listen address (default :8080)",
				},
				&cli.DurationFlag{
					Name:  "ping-interval",
					Usage: "WebSocket keepalive interval",
				},
			},
			ConnectionFlags(),
			StreamFlags(),
			ConfigFlags(),
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid settings: %v", err), exitSetup)
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if c.IsSet("ping-interval") {
		cfg.Server.PingInterval.Duration = c.Duration("ping-interval")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitSetup)
	}
	defer iox.DiscardErr(logger.Sync)

	collector := collectorFor(cfg)
	consumer, err := newConsumer(cfg, logger, collector)
	if err != nil {
		return cli.Exit(err.Error(), exitSetup)
	}
	defer iox.DiscardErr(consumer.Close)

	srv, err := server.New(consumer, server.Config{
		Addr:         cfg.Server.Addr,
		PingInterval: cfg.Server.PingInterval.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		Defaults:     defaultParams(cfg),
		Logger:       logger,
		Collector:    collector,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitSetup)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("server: %v", err), exitSetup)
	}
	return nil
}
