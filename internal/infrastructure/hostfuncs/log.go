package hostfuncs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

// LogArgs is one guest log line.
type LogArgs struct {
	Level   string         `json:"level,omitempty"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Scrubber removes secrets from text.
type Scrubber interface {
	ScrubString(s string) string
}

// GuestLogger forwards guest log lines into slog.
type GuestLogger struct {
	Logger   *slog.Logger
	Scrubber Scrubber
}

// Operation returns the log op.
func (g *GuestLogger) Operation(timeout time.Duration) Operation {
	return NewOperation(hostcall.OpLog, timeout, Requires[LogArgs](capabilities.Log), g.run)
}

func (g *GuestLogger) run(ctx context.Context, scope *ports.CallScope, args LogArgs) (any, error) {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := make([]slog.Attr, 0, len(args.Attrs)+2)
	attrs = append(attrs, slog.String("extension", scope.ExtensionID), slog.String("source", "guest"))
	keys := make([]string, 0, len(args.Attrs))
	for k := range args.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, g.scrub(fmt.Sprint(args.Attrs[k]))))
	}

	logger.LogAttrs(ctx, parseLogLevel(args.Level), g.scrub(args.Message), attrs...)
	return nil, nil
}

func (g *GuestLogger) scrub(s string) string {
	if g.Scrubber == nil {
		return s
	}
	return g.Scrubber.ScrubString(s)
}

// parseLogLevel converts a guest level to slog.Level. console.* names map
// onto the nearest slog level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
