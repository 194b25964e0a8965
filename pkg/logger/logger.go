// Package logger provides structured logging with cycle/request trace IDs.
package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through an engine cycle.
type ContextKey string

const (
	// TraceIDKey identifies a single engine cycle or admission request.
	TraceIDKey ContextKey = "trace_id"
	// StrategyKey identifies the strategy handling the current opportunity.
	StrategyKey ContextKey = "strategy"
	// EndpointKey identifies the RPC endpoint serving the current call.
	EndpointKey ContextKey = "endpoint"
)

// LoggingConfig selects the logger's level, format, and output destination.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level" env:"LOG_LEVEL"`
	Format     string `mapstructure:"format" yaml:"format" env:"LOG_FORMAT"`
	Output     string `mapstructure:"output" yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `mapstructure:"file_prefix" yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Logger wraps logrus.Logger with the engine's field conventions.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a Logger for the given component (e.g. "engine", "rpcpool").
func New(component string, cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		base.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		base.SetOutput(os.Stdout)
	case "stderr":
		base.SetOutput(os.Stderr)
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "searcher"
		}
		if mkErr := os.MkdirAll("logs", 0o755); mkErr != nil {
			base.SetOutput(os.Stdout)
			break
		}
		f, openErr := os.OpenFile("logs/"+prefix+".log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if openErr != nil {
			base.SetOutput(os.Stdout)
		} else {
			base.SetOutput(f)
		}
	default:
		f, openErr := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if openErr != nil {
			base.SetOutput(os.Stdout)
		} else {
			base.SetOutput(f)
		}
	}

	return &Logger{Logger: base, component: component}
}

// NewDefault builds an info-level JSON logger writing to stdout.
func NewDefault(component string) *Logger {
	return New(component, LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
}

// NewTraceID mints a fresh trace ID for a new engine cycle.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID attaches a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// TraceIDFrom reads the trace ID from the context, if any.
func TraceIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithContext returns an entry carrying the component name plus any
// trace ID, strategy, or endpoint values present on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if strategy, ok := ctx.Value(StrategyKey).(string); ok && strategy != "" {
		entry = entry.WithField("strategy", strategy)
	}
	if endpoint, ok := ctx.Value(EndpointKey).(string); ok && endpoint != "" {
		entry = entry.WithField("endpoint", endpoint)
	}
	return entry
}

// WithField creates an entry with a single extra field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"component": l.component, key: value})
}

// WithFields creates an entry with the component field plus the given fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError creates an entry carrying the component name and the error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"component": l.component, "error": err.Error()})
}

// LogCycle logs the outcome of one engine scan/rank/dispatch cycle.
func (l *Logger) LogCycle(ctx context.Context, scanned, admitted, executed int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"scanned":     scanned,
		"admitted":    admitted,
		"executed":    executed,
		"duration_ms": duration.Milliseconds(),
	}).Info("cycle complete")
}

// LogDispatch logs the result of dispatching a single opportunity.
func (l *Logger) LogDispatch(ctx context.Context, opportunityID string, success bool, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"opportunity_id": opportunityID,
		"success":        success,
	})
	if err != nil {
		entry.WithError(err).Warn("dispatch failed")
		return
	}
	entry.Info("dispatch complete")
}

// LogUpstreamCall logs a call made against an RPC endpoint.
func (l *Logger) LogUpstreamCall(ctx context.Context, endpoint, method string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"method":      method,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("upstream call failed")
		return
	}
	entry.Debug("upstream call complete")
}
