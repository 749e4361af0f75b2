package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes structured JSON entries carrying service, hostname, action and request_id
type Logger struct {
	service  string
	hostname string
	handler  *slog.Logger
	closer   io.Closer
}

// Options configures where and at which level entries are written
type Options struct {
	Level string
	// File enables a rotating log file next to stdout.
	File   string
	Output io.Writer
}

// New creates a logger writing to stdout at debug level
func New(service string) *Logger {
	return NewWithOptions(service, Options{Level: "debug"})
}

// NewWithOptions creates a logger from explicit options
func NewWithOptions(service string, opts Options) *Logger {
	hostname, _ := os.Hostname()

	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}

	var closer io.Closer
	if opts.File != "" {
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		out = io.MultiWriter(out, rot)
		closer = rot
	}

	handler := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	}))

	return &Logger{
		service:  service,
		hostname: hostname,
		handler:  handler,
		closer:   closer,
	}
}

// ParseLevel maps a level name to slog.Level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// GenerateRequestID returns a new random request identifier
func GenerateRequestID() string {
	return uuid.NewString()
}

// Close releases the rotating file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Slog exposes the underlying slog.Logger with the service attributes attached
func (l *Logger) Slog() *slog.Logger {
	return l.handler.With(
		slog.String("service", l.service),
		slog.String("hostname", l.hostname),
	)
}

func (l *Logger) Debug(action, message, requestID string, fields map[string]interface{}) {
	l.log(slog.LevelDebug, action, message, requestID, nil, fields)
}

func (l *Logger) Info(action, message, requestID string, fields map[string]interface{}) {
	l.log(slog.LevelInfo, action, message, requestID, nil, fields)
}

func (l *Logger) Warn(action, message, requestID string, err error, fields map[string]interface{}) {
	l.log(slog.LevelWarn, action, message, requestID, err, fields)
}

func (l *Logger) Error(action, message, requestID string, err error, fields map[string]interface{}) {
	l.log(slog.LevelError, action, message, requestID, err, fields)
}

func (l *Logger) log(level slog.Level, action, message, requestID string, err error, fields map[string]interface{}) {
	ctx := context.TODO()
	if !l.handler.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
		slog.String("service", l.service),
		slog.String("hostname", l.hostname),
		slog.String("action", action),
		slog.String("request_id", requestID),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	if err != nil {
		group := []any{slog.String("msg", err.Error())}
		if level >= slog.LevelError {
			group = append(group, slog.String("stack", string(debug.Stack())))
		}
		attrs = append(attrs, slog.Group("error", group...))
	}

	l.handler.LogAttrs(ctx, level, message, attrs...)
}
