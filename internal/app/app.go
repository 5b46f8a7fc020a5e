// Package app wires configuration, logging, manifest loading and the runner
// into one application lifecycle.
package app

import (
	"io"
	"log/slog"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	errW   io.Writer
	logger *slog.Logger
	config *Config
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger.
func NewApp(outW, errW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, errW)
	logger.Debug("logger configured")
	return &App{
		outW:   outW,
		errW:   errW,
		logger: logger,
		config: cfg,
	}
}

// Logger returns the application's logger. This is primarily for testing.
func (a *App) Logger() *slog.Logger {
	return a.logger
}
