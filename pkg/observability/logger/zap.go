package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is the minimum level written.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// LogFormat selects the encoder.
type LogFormat string

const (
	JSONFormat LogFormat = "json"
	TextFormat LogFormat = "text"
)

// Config configures NewZapLogger.
type Config struct {
	Level  LogLevel
	Format LogFormat
	// Service is attached to every entry when set.
	Service string
	// Output defaults to stdout.
	Output io.Writer
}

// ZapLogger implements Logger on a sugared zap logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a logger writing JSON or console entries to
// cfg.Output. Unknown levels fall back to info.
func NewZapLogger(cfg Config) (*ZapLogger, error) {
	level, err := ParseLogLevel(string(cfg.Level))
	if err != nil {
		level = InfoLevel
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(out), zapLevel(level))
	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(zapcore.AddSync(os.Stderr))}
	if service := strings.TrimSpace(cfg.Service); service != "" {
		opts = append(opts, zap.Fields(zap.String("service", service)))
	}
	return &ZapLogger{sugar: zap.New(core, opts...).Sugar()}, nil
}

func newEncoder(format LogFormat) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	if format == TextFormat {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *ZapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *ZapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// With returns a child logger carrying args on every entry.
func (l *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{sugar: l.sugar.With(args...)}
}

// WithContext returns a child logger carrying the run and contract ids in ctx.
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	if fields := contextFields(ctx); len(fields) > 0 {
		return l.With(fields...)
	}
	return l
}

// ParseLogLevel accepts debug, info, warn (or warning) and error.
func ParseLogLevel(level string) (LogLevel, error) {
	switch normalized := strings.ToLower(strings.TrimSpace(level)); normalized {
	case "debug", "info", "error":
		return LogLevel(normalized), nil
	case "warn", "warning":
		return WarnLevel, nil
	default:
		return "", fmt.Errorf("invalid log level: %s", level)
	}
}

// ParseLogFormat accepts json, text and console (an alias of text).
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return JSONFormat, nil
	case "text", "console":
		return TextFormat, nil
	default:
		return "", fmt.Errorf("invalid log format: %s", format)
	}
}
