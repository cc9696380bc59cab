package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tributary/cli/render"
	"github.com/pithecene-io/tributary/cli/tui"
	"github.com/pithecene-io/tributary/iox"
	"github.com/pithecene-io/tributary/runtime"
)

// RunCommand returns the run command.
// It starts one run, streams it to the end and renders the final state.
// The exit code reflects the outcome; SIGINT and SIGTERM abort the run.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Send a message and stream the orchestration events",
		ArgsUsage: "[message]",
		Flags: join(
			OutputFlags(),
			[]cli.Flag{
				EventsFlag,
				&cli.StringFlag{
					Name:    "message",
					Aliases: []string{"m"},
					Usage:   "User message (defaults to the positional arguments)",
				},
				&cli.StringFlag{
					Name:  "subject",
					Usage: "Subject reference (optional)",
				},
			},
			ConnectionFlags(),
			StreamFlags(),
			ConfigFlags(),
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	if c.Bool("tui") && c.Bool("events") {
		return cli.Exit("--tui and --events cannot be combined", exitSetup)
	}

	cfg, err := loadSettings(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid settings: %v", err), exitSetup)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetup)
	}

	params := defaultParams(cfg)
	params.Message = messageArg(c)
	if s := c.String("subject"); s != "" {
		params.Subject = &s
	}
	if err := params.Validate(); err != nil {
		return cli.Exit(err.Error(), exitSetup)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitSetup)
	}
	defer iox.DiscardErr(logger.Sync)

	consumer, err := newConsumer(cfg, logger, collectorFor(cfg))
	if err != nil {
		return cli.Exit(err.Error(), exitSetup)
	}
	defer iox.DiscardErr(consumer.Close)

	// Cancelling the run context aborts the run.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := func() error {
		_, err := consumer.Run(ctx, params)
		return err
	}

	if c.Bool("tui") {
		if _, err := tui.Watch(consumer, start); err != nil {
			return cli.Exit(err.Error(), exitSetup)
		}
	} else {
		if c.Bool("events") {
			unsubscribe := consumer.Subscribe(eventPrinter(r))
			defer unsubscribe()
		}
		if err := start(); err != nil {
			return cli.Exit(err.Error(), exitSetup)
		}
	}

	if err := consumer.Wait(context.Background()); err != nil {
		return err
	}
	// State must be taken before Close, which discards it.
	final := consumer.State()
	if err := consumer.Close(); err != nil {
		logger.Warn("adapter close failed", map[string]any{"error": err.Error()})
	}

	if err := r.RenderRun(final); err != nil {
		return err
	}

	outcome := runtime.DetermineOutcome(final)
	if outcome.ExitCode != runtime.ExitCodeSuccess {
		return cli.Exit(outcome.Message, outcome.ExitCode)
	}
	return nil
}

func messageArg(c *cli.Context) string {
	if m := c.String("message"); m != "" {
		return m
	}
	return strings.Join(c.Args().Slice(), " ")
}

// eventPrinter renders each event once, in arrival order.
func eventPrinter(r *render.Renderer) runtime.Observer {
	printed := 0
	requestID := ""
	return runtime.ObserverFunc(func(st *runtime.RunState) {
		if st.RequestID != requestID {
			requestID = st.RequestID
			printed = 0
		}
		for _, ev := range st.Events[min(printed, len(st.Events)):] {
			_ = r.RenderEvent(ev)
		}
		printed = len(st.Events)
	})
}
