// Package logging builds the slog logger used by dirwatcher. Every record is
// written to the console and, unless disabled, appended to a fixed log file
// as human-readable "time level msg" lines.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Options describes logger construction parameters.
type Options struct {
	// Level is one of "debug", "info", "warn", "error". Unknown values map
	// to info.
	Level string
	// Format is the console format: "auto", "text", or "json". "auto"
	// selects text when Console is a terminal and JSON otherwise.
	Format string
	// File is the log file path. Empty or "-" disables the file.
	File string
	// Console is the console stream. Nil uses os.Stderr.
	Console io.Writer
}

// New constructs a logger from opts. The returned closer releases the log
// file and must be called on shutdown.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level := ParseLevel(opts.Level)
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var consoleHandler slog.Handler
	switch consoleFormat(opts.Format, console) {
	case "json":
		consoleHandler = slog.NewJSONHandler(console, handlerOpts)
	default:
		consoleHandler = slog.NewTextHandler(console, handlerOpts)
	}

	if opts.File == "" || opts.File == "-" {
		return slog.New(consoleHandler), nopCloser{}, nil
	}

	f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open log file %q: %w", opts.File, err)
	}
	fileHandler := slog.NewTextHandler(f, handlerOpts)

	return slog.New(newFanoutHandler(consoleHandler, fileHandler)), f, nil
}

// ParseLevel maps a config level string to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 10}))
}

func consoleFormat(format string, w io.Writer) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return "json"
	case "text":
		return "text"
	}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return "text"
	}
	return "json"
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
