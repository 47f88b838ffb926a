package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Service bundles the configured logger with its rotating file writer so
// callers can flush and close it on shutdown.
type Service struct {
	Logger     *slog.Logger
	FileLogger *RotatingLogger
}

// Default is the process-wide logging service. It defaults to a
// console-only logger until Init replaces it.
var Default = &Service{Logger: slog.New(slog.NewTextHandler(os.Stdout, nil))}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
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

// Init builds the logger writing to both console and weekly rotating
// files under logDir, and installs it as the process default.
func Init(logDir string, level slog.Level, retentionWeeks int, maxFileSize int64) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	fileLogger := NewRotatingLogger(logDir, retentionWeeks, maxFileSize)
	fileLogger.startCleanup()

	consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(fileLogger, &slog.HandlerOptions{Level: level})

	logger := slog.New(newMultiHandler(consoleHandler, fileHandler))
	slog.SetDefault(logger)

	Default = &Service{Logger: logger, FileLogger: fileLogger}
	return nil
}

// Close flushes and closes the rotating file writer, if any.
func (s *Service) Close() error {
	if s.FileLogger != nil {
		return s.FileLogger.Close()
	}
	return nil
}

// Info logs at info level through the default service.
func Info(msg string, args ...any) {
	if Default.Logger != nil {
		Default.Logger.Info(msg, args...)
	} else {
		fmt.Fprintf(os.Stderr, "INFO: %s %v\n", msg, args)
	}
}

// Error logs at error level through the default service.
func Error(msg string, args ...any) {
	if Default.Logger != nil {
		Default.Logger.Error(msg, args...)
	} else {
		fmt.Fprintf(os.Stderr, "ERROR: %s %v\n", msg, args)
	}
}

// Warn logs at warn level through the default service.
func Warn(msg string, args ...any) {
	if Default.Logger != nil {
		Default.Logger.Warn(msg, args...)
	} else {
		fmt.Fprintf(os.Stderr, "WARN: %s %v\n", msg, args)
	}
}

// Debug logs at debug level through the default service.
func Debug(msg string, args ...any) {
	if Default.Logger != nil {
		Default.Logger.Debug(msg, args...)
	} else {
		fmt.Fprintf(os.Stderr, "DEBUG: %s %v\n", msg, args)
	}
}

// multiHandler fans every record out to all wrapped handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func newMultiHandler(handlers ...slog.Handler) *multiHandler {
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return newMultiHandler(next...)
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return newMultiHandler(next...)
}
