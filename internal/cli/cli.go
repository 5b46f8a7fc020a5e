// Package cli parses command-line arguments into an application config.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/vk/taskgrid/internal/app"
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

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("taskgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
taskgrid - a concurrency-first task scheduling engine.

Usage:
  taskgrid [options] MANIFEST_PATH

Arguments:
  MANIFEST_PATH
    Path to an .hcl manifest declaring settings and task blocks.

Options:
`)
		flagSet.PrintDefaults()
	}

	manifestFlag := flagSet.String("manifest", "", "Path to the task manifest.")
	mFlag := flagSet.String("m", "", "Path to the task manifest (shorthand).")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 0, "Override max_concurrency from the manifest. 0 keeps the manifest value.")
	fastFailFlag := flagSet.Bool("fast-fail", false, "Abort the whole run on the first task failure.")
	timeoutFlag := flagSet.String("timeout", "", "Drain timeout, e.g. '30s'. Overrides the manifest value.")
	isolationFlag := flagSet.String("isolation", "", "Execution isolation mode: 'goroutine' or 'process'.")
	noVerifyFlag := flagSet.Bool("no-verify", false, "Skip result verification; exit zero even when tasks fail.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := ""
	if *manifestFlag != "" {
		path = *manifestFlag
	} else if *mFlag != "" {
		path = *mFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}

	if path == "" {
		flagSet.Usage()
		return nil, true, nil
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

	config, err := app.NewConfig(app.Config{
		ManifestPath: path,
		LogFormat:    logFormat,
		LogLevel:     logLevel,
		Workers:      *workersFlag,
		FastFail:     *fastFailFlag,
		Timeout:      *timeoutFlag,
		Isolation:    *isolationFlag,
		NoVerify:     *noVerifyFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	return config, false, nil
}
