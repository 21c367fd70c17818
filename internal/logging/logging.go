// Package logging builds the slog handlers used by the auditkv binary.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options configures New.
type Options struct {
	Level   slog.Level
	Format  string // "text" (tint) or "json"
	NoColor bool
}

// New returns a logger writing to w.
//
// Text output goes through tint with RFC3339 timestamps; JSON output uses the
// standard JSON handler so log shippers can parse it.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	switch opts.Format {
	case "", FormatText:
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		})), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: opts.Level,
		})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
}

// ParseLevel maps a config level name to a slog.Level.
// Accepts debug, info, warn/warning and error, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
