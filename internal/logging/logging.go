// Package logging configures the process-wide slog logger for Tether.
//
// Subsystems tag their lines via WithComponent. The engine stamps the
// context of each pass with a correlation id; the installed handler
// pulls it back out on every record, so a retry logged deep in the
// HTTP layer still names the pass that caused it.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Config selects level, encoding, and destination for process logs.
type Config struct {
	Level    string          `yaml:"level"`    // debug, info, warn, error
	Format   string          `yaml:"format"`   // json, text
	Output   string          `yaml:"output"`   // stdout, stderr, or file path
	Rotation *RotationConfig `yaml:"rotation"` // file output only
}

// RotationConfig bounds file output. Sizes take unit suffixes
// ("100MB"), ages take s/m/h/d suffixes ("7d").
type RotationConfig struct {
	MaxSize    string `yaml:"max_size"`
	MaxAge     string `yaml:"max_age"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig logs info-level text to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	}
}

func (c *Config) slogLevel() slog.Level {
	switch c.Level {
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

func (c *Config) destination() (io.Writer, error) {
	switch c.Output {
	case "stderr", "":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		return newRotatingWriter(c.Output, c.Rotation)
	}
}

var (
	mu     sync.RWMutex
	active = slog.New(passHandler{slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})})
)

// Init replaces the process logger according to cfg. Later calls win.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	w, err := cfg.destination()
	if err != nil {
		return err
	}

	level := cfg.slogLevel()
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var inner slog.Handler
	if cfg.Format == "json" {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}

	install(slog.New(passHandler{inner}))
	return nil
}

// Suppress routes everything to io.Discard. The watch dashboard calls
// this so stray log lines cannot tear the alternate screen; test
// mains use it to keep output quiet.
func Suppress() {
	silent := slog.New(slog.NewTextHandler(io.Discard, nil))
	install(silent)
	slog.SetDefault(silent)
}

func install(l *slog.Logger) {
	mu.Lock()
	active = l
	mu.Unlock()
}

// Logger returns the current process logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

type passKey struct{}

// WithPassID stamps ctx so that any record logged under it carries the
// pass correlation id, whichever package emits it.
func WithPassID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, passKey{}, id)
}

// passHandler copies the pass id out of the record's context, sparing
// call sites from threading it through every helper.
type passHandler struct {
	slog.Handler
}

func (h passHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(passKey{}).(string); ok && id != "" {
		r.AddAttrs(slog.String("pass_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h passHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return passHandler{h.Handler.WithAttrs(attrs)}
}

func (h passHandler) WithGroup(name string) slog.Handler {
	return passHandler{h.Handler.WithGroup(name)}
}

// With returns the process logger with extra attributes attached.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// WithComponent returns a logger tagged with the subsystem name.
func WithComponent(component string) *slog.Logger {
	return Logger().With(slog.String("component", component))
}

// WithPass returns a logger that repeats the pass correlation id on
// every line. Use WithPassID instead when a context is in hand.
func WithPass(passID string) *slog.Logger {
	return Logger().With(slog.String("pass_id", passID))
}

// Debug logs at debug level on the process logger.
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// Info logs at info level on the process logger.
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// Warn logs at warn level on the process logger.
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs at error level on the process logger.
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// DebugContext logs at debug level, letting the handler lift the pass
// id from ctx.
func DebugContext(ctx context.Context, msg string, args ...any) {
	Logger().DebugContext(ctx, msg, args...)
}

// InfoContext logs at info level with ctx-carried attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	Logger().InfoContext(ctx, msg, args...)
}

// WarnContext logs at warn level with ctx-carried attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	Logger().WarnContext(ctx, msg, args...)
}

// ErrorContext logs at error level with ctx-carried attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Logger().ErrorContext(ctx, msg, args...)
}
