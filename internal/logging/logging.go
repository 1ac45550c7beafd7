package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyCommandID   = "commandId"
	KeyCommandKind = "commandKind"
	KeyAgentID     = "agentId"
	KeyComponent   = "component"
	KeyPrinter     = "printer"
	KeyError       = "error"
)

// root lets component loggers created during package init pick up the
// handler configured later by Init. Every call delegates to the handler
// currently stored in the shared state.
type root struct {
	state *rootState
	attrs []slog.Attr
	group string
}

type rootState struct {
	current atomic.Value // slog.Handler
}

func newRoot(h slog.Handler) *root {
	s := &rootState{}
	s.current.Store(h)
	return &root{state: s}
}

func (r *root) resolve() slog.Handler {
	h := r.state.current.Load().(slog.Handler)
	if r.group != "" {
		h = h.WithGroup(r.group)
	}
	if len(r.attrs) > 0 {
		h = h.WithAttrs(r.attrs)
	}
	return h
}

func (r *root) Enabled(ctx context.Context, level slog.Level) bool {
	return r.resolve().Enabled(ctx, level)
}

func (r *root) Handle(ctx context.Context, record slog.Record) error {
	return r.resolve().Handle(ctx, record)
}

func (r *root) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(r.attrs)+len(attrs))
	merged = append(merged, r.attrs...)
	merged = append(merged, attrs...)
	return &root{state: r.state, attrs: merged, group: r.group}
}

func (r *root) WithGroup(name string) slog.Handler {
	if name == "" {
		return r
	}
	attrs := make([]slog.Attr, len(r.attrs))
	copy(attrs, r.attrs)
	return &root{state: r.state, attrs: attrs, group: name}
}

var (
	rootHandler   = newRoot(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	defaultLogger = slog.New(rootHandler)
)

func init() {
	slog.SetDefault(defaultLogger)
}

// Init configures the global logger. Call once after config is loaded.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stdout)
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	rootHandler.state.current.Store(handler)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithCommand returns a child logger with command correlation fields attached.
func WithCommand(logger *slog.Logger, cmdID, cmdKind string) *slog.Logger {
	return logger.With(
		slog.String(KeyCommandID, cmdID),
		slog.String(KeyCommandKind, cmdKind),
	)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
