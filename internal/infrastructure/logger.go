package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"policyhub/internal/config"
)

var logging struct {
	mu     sync.Mutex
	logger *slog.Logger
	file   io.Closer
}

// InitializeLogger builds the service logger from cfg and makes it the slog
// default. Calling it again replaces the logger and closes the previous log
// file.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	w, file, err := logWriter(cfg)
	if err != nil {
		return nil, err
	}
	logger := NewLoggerWithWriter(w, LogLevel(cfg.Level))

	logging.mu.Lock()
	prev := logging.file
	logging.logger = logger
	logging.file = file
	logging.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	slog.SetDefault(logger)
	return logger, nil
}

// GetLogger returns the service logger, or the slog default before
// InitializeLogger ran.
func GetLogger() *slog.Logger {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	if logging.logger == nil {
		return slog.Default()
	}
	return logging.logger
}

// CloseLogFile closes the log file opened by InitializeLogger, if any.
func CloseLogFile() error {
	logging.mu.Lock()
	file := logging.file
	logging.file = nil
	logging.mu.Unlock()

	if file == nil {
		return nil
	}
	return file.Close()
}

// NewLoggerWithWriter returns a JSON logger on w that stamps records with the
// request trace id and the active span id.
func NewLoggerWithWriter(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(contextHandler{slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})})
}

// LogLevel parses a slog level name such as "debug" or "WARN". Unknown
// names log at info.
func LogLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := GetTraceID(ctx); id != "" {
		r.AddAttrs(slog.String("trace_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
		r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

// logWriter resolves cfg.Output. The returned closer is nil for console output.
func logWriter(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	if cfg.Output != "file" && cfg.Output != "both" {
		return os.Stdout, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", cfg.FilePath, err)
	}

	if cfg.Output == "both" {
		return io.MultiWriter(os.Stdout, file), file, nil
	}
	return file, file, nil
}
