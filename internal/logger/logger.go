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

// Options configures where and how verbosely the logger writes
type Options struct {
	Level    string
	FilePath string
	Output   io.Writer
}

type Logger struct {
	service  string
	hostname string
	handler  *slog.Logger
}

// New creates a JSON logger writing to stdout at debug level
func New(service string) *Logger {
	return NewWithOptions(service, Options{})
}

// NewWithOptions creates a JSON logger. When FilePath is set, records are
// also written to a rotated file.
func NewWithOptions(service string, opts Options) *Logger {
	hostname, _ := os.Hostname()

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.FilePath != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		})
	}

	handler := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
	}))

	return &Logger{
		service:  service,
		hostname: hostname,
		handler:  handler,
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return NewWithOptions("nop", Options{Output: io.Discard})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// GenerateRequestID returns a new request identifier
func GenerateRequestID() string {
	return uuid.NewString()
}

func (l *Logger) attrs(action, requestID string, fields map[string]interface{}) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
		slog.String("service", l.service),
		slog.String("hostname", l.hostname),
		slog.String("action", action),
		slog.String("request_id", requestID),
	}
	if len(fields) > 0 {
		details := make([]any, 0, len(fields))
		for k, v := range fields {
			details = append(details, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("details", details...))
	}
	return attrs
}

func (l *Logger) Info(action, message, requestID string, fields map[string]interface{}) {
	l.handler.LogAttrs(context.TODO(), slog.LevelInfo, message, l.attrs(action, requestID, fields)...)
}

func (l *Logger) Debug(action, message, requestID string, fields map[string]interface{}) {
	l.handler.LogAttrs(context.TODO(), slog.LevelDebug, message, l.attrs(action, requestID, fields)...)
}

func (l *Logger) Warn(action, message, requestID string, fields map[string]interface{}) {
	l.handler.LogAttrs(context.TODO(), slog.LevelWarn, message, l.attrs(action, requestID, fields)...)
}

func (l *Logger) Error(action, message, requestID string, err error, fields map[string]interface{}) {
	attrs := l.attrs(action, requestID, fields)
	if err != nil {
		attrs = append(attrs, slog.Group("error",
			slog.String("msg", err.Error()),
			slog.String("stack", string(debug.Stack())),
		))
	}
	l.handler.LogAttrs(context.TODO(), slog.LevelError, message, attrs...)
}

type ctxKey struct{}

// WithRequestID stores a request id in ctx
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID returns the request id stored in ctx, or an empty string
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
