// Package cmd provides CLI commands for the lhrunner binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
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

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for inspect.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect only)",
	}
)

// Harness flags read environment variables, which urfave/cli writes back
// into the flag value on Apply, so each command gets fresh instances.

// configFlag points at lhrunner.yaml. Empty uses built-in defaults.
func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to lhrunner.yaml",
		EnvVars: []string{"LHRUNNER_CONFIG"},
	}
}

// dryRunFlag suppresses tracker writes and cursor saves.
// DRY_RUN=0 enables real runs.
func dryRunFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "dry-run",
		Usage:   "Log tracker writes and cursor saves instead of performing them",
		Value:   true,
		EnvVars: []string{"DRY_RUN"},
	}
}

// timeoutFlag overrides the per-invocation timeout.
func timeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Per-invocation timeout (overrides config, default 60s)",
	}
}

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// TUIReadOnlyFlags returns flags for commands that support TUI mode.
func TUIReadOnlyFlags() []cli.Flag {
	return ReadOnlyFlags()
}

// HarnessFlags returns the flags shared by commands that load config.
func HarnessFlags() []cli.Flag {
	return []cli.Flag{
		configFlag(),
		dryRunFlag(),
		timeoutFlag(),
	}
}
