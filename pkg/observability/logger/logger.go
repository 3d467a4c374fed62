// Package logger provides the structured logging contract used across batchsync.
package logger

import (
	"context"
)

// Logger defines the interface for structured logging.
// All log methods accept a message string followed by key-value pairs for structured fields.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With creates a child logger that includes the given key-value pairs in every entry.
	With(args ...any) Logger

	// WithContext creates a child logger carrying the run and contract identifiers found in ctx.
	WithContext(ctx context.Context) Logger
}

type contextKey string

const (
	runIDKey      contextKey = "run_id"
	contractIDKey contextKey = "contract_id"
)

// ContextWithRunID stores the identifier of the current runner pass.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runIDKey, runID)
}

// ContextWithContractID stores the contract the current operation works on.
func ContextWithContractID(ctx context.Context, contractID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contractIDKey, contractID)
}

// RunIDFromContext returns the runner pass identifier, or "" when absent.
func RunIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, runIDKey)
}

// ContractIDFromContext returns the contract identifier, or "" when absent.
func ContractIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, contractIDKey)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}

// contextFields collects the known correlation fields present in ctx.
func contextFields(ctx context.Context) []any {
	var fields []any
	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, string(runIDKey), runID)
	}
	if contractID := ContractIDFromContext(ctx); contractID != "" {
		fields = append(fields, string(contractIDKey), contractID)
	}
	return fields
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)                 {}
func (nopLogger) Info(string, ...any)                  {}
func (nopLogger) Warn(string, ...any)                  {}
func (nopLogger) Error(string, ...any)                 {}
func (n nopLogger) With(...any) Logger                 { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }
