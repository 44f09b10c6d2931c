// Package logging provides the configured slog logger shared by all
// breakwater components.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Options configures the default slog logger.
type Options struct {
	// Verbose toggles debug level logging when true.
	Verbose bool
	// Writer directs log output; defaults to os.Stderr when nil.
	Writer io.Writer
}

// New constructs a slog.Logger with breakwater defaults. Output is the
// text handler; JSON is left to the embedding application.
func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// Nop returns a logger that discards everything. Components fall back to
// it when no logger is configured so call sites never nil-check.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
