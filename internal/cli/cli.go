// Package cli parses command-line arguments into an app.Config.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/assetpipe/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("assetpiped", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
assetpiped - asset import daemon and pipeline tool.

Usage:
  assetpiped [options] <daemon|scan|pack>

Verbs:
  daemon
    Import everything, then watch sources and serve loaders.
  scan
    Import everything once and exit.
  pack
    Import everything and write a pack file for shipped builds.

Options:
`)
		flagSet.PrintDefaults()
	}

	projectFlag := flagSet.String("project", "assetpipe.hcl", "Path to the project file.")
	outFlag := flagSet.String("out", "assets.pack", "Output path for the pack verb.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 0, "Import worker count. 0 uses the project file's value.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() == 0 {
		slog.Debug("No verb provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	verb := strings.ToLower(flagSet.Arg(0))
	switch verb {
	case "daemon", "scan", "pack":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown verb %q: must be 'daemon', 'scan', or 'pack'", verb)}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	if *workersFlag < 0 {
		return nil, false, &ExitError{Code: 2, Message: "invalid workers: must not be negative"}
	}
	slog.Debug("CLI parameter validation complete.")

	return &app.Config{
		Verb:        verb,
		ProjectPath: *projectFlag,
		PackOutput:  *outFlag,
		LogFormat:   logFormat,
		LogLevel:    logLevel,
		Workers:     *workersFlag,
	}, false, nil
}
