// Package cmd provides CLI commands for the tributary binary.
package cmd

import "github.com/urfave/cli/v2"

// Output flags shared by every command that renders a result.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables the Bubble Tea live view.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show an interactive live view (run only)",
	}

	// EventsFlag prints each event as it is folded.
	EventsFlag = &cli.BoolFlag{
		Name:  "events",
		Usage: "Print each event as it is received",
	}
)

// OutputFlags returns the shared rendering flags.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ConfigFlags returns the config file and logging flags.
func ConfigFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to tributary.yaml",
			EnvVars: []string{"TRIBUTARY_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error (default warn)",
		},
	}
}

// ConnectionFlags returns the backend connection and run identity flags.
// Each overrides the matching config file value.
func ConnectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "endpoint",
			Usage:   "Stream-events URL",
			EnvVars: []string{"TRIBUTARY_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:  "tenant",
			Usage: "Tenant ID",
		},
		&cli.StringFlag{
			Name:  "user",
			Usage: "User ID",
		},
		&cli.StringFlag{
			Name:  "workspace",
			Usage: "Workspace ID (optional)",
		},
		&cli.StringFlag{
			Name:  "agent",
			Usage: "Business agent key",
		},
		&cli.StringFlag{
			Name:    "service-token",
			Usage:   "Service token sent with every run",
			EnvVars: []string{"TRIBUTARY_SERVICE_TOKEN"},
		},
		&cli.DurationFlag{
			Name:  "idle-timeout",
			Usage: "End a run after this long without data (0 disables)",
		},
		&cli.DurationFlag{
			Name:  "request-timeout",
			Usage: "Maximum wait for response headers (0 disables)",
		},
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Run-finished adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Adapter URL (webhook endpoint or redis://)",
		},
	}
}

// StreamFlags returns the NDJSON reader tuning flags.
func StreamFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Read buffer size in bytes",
		},
		&cli.IntFlag{
			Name:  "max-line-size",
			Usage: "Largest accepted line in bytes",
		},
	}
}

func join(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
