package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tributary/cli/render"
	"github.com/pithecene-io/tributary/iox"
	"github.com/pithecene-io/tributary/ndjson"
	"github.com/pithecene-io/tributary/runtime"
	"github.com/pithecene-io/tributary/types"
)

// ReplayCommand returns the replay command.
// Replay folds a recorded NDJSON stream offline with the same decoder,
// classifier and aggregator used for live runs.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Fold a recorded event stream and render the resulting state",
		ArgsUsage: "<file.ndjson | ->",
		Flags: join(
			OutputFlags(),
			[]cli.Flag{EventsFlag},
			StreamFlags(),
			ConfigFlags(),
		),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for replay", exitSetup)
	}
	if c.NArg() != 1 {
		return cli.Exit("replay requires exactly one file argument (use - for stdin)", exitSetup)
	}

	cfg, err := loadSettings(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid settings: %v", err), exitSetup)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetup)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitSetup)
	}
	defer iox.DiscardErr(logger.Sync)

	var src io.Reader
	if path := c.Args().First(); path == "-" {
		src = c.App.Reader
		if src == nil {
			src = os.Stdin
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot open %s: %v", path, err), exitSetup)
		}
		defer iox.DiscardClose(f)
		src = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := runtime.ReplayOptions{
		Reader: ndjson.ReaderOptions{
			ChunkSize:   cfg.Stream.ChunkSize,
			MaxLineSize: cfg.Stream.MaxLineSize,
		},
		Logger: logger,
	}
	if c.Bool("events") {
		opts.OnEvent = func(ev types.Event) { _ = r.RenderEvent(ev) }
	}

	st := runtime.Replay(ctx, src, opts)
	if err := r.RenderRun(st); err != nil {
		return err
	}

	outcome := runtime.DetermineOutcome(st)
	if outcome.ExitCode != runtime.ExitCodeSuccess {
		return cli.Exit(outcome.Message, outcome.ExitCode)
	}
	return nil
}
