package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

const (
	// SpanOperationDBQuery is a read.
	SpanOperationDBQuery SpanOperation = "db.query"
	// SpanOperationDBUpsert writes a master together with its details.
	SpanOperationDBUpsert SpanOperation = "db.upsert"
	// SpanOperationDBDelete is a retention delete.
	SpanOperationDBDelete SpanOperation = "db.delete"

	// SpanOperationJobExecute is one execution attempt of a queued job.
	SpanOperationJobExecute SpanOperation = "job.execute"
	// SpanOperationJobDeadLetter is the compensating ForceFail of an abandoned job.
	SpanOperationJobDeadLetter SpanOperation = "job.dead_letter"

	// SpanOperationLedgerStart opens a master transaction.
	SpanOperationLedgerStart SpanOperation = "ledger.start"
	// SpanOperationLedgerUpdate reconciles details and counts.
	SpanOperationLedgerUpdate SpanOperation = "ledger.update"
	// SpanOperationLedgerFinish moves a master to its terminal status.
	SpanOperationLedgerFinish SpanOperation = "ledger.finish"
	// SpanOperationLedgerCleanup applies retention.
	SpanOperationLedgerCleanup SpanOperation = "ledger.cleanup"
)

// StartDatabaseSpan creates a client span for a database operation.
func StartDatabaseSpan(ctx context.Context, operation SpanOperation, opts ...DatabaseSpanOption) (context.Context, trace.Span) {
	spanOpts := &databaseSpanOptions{
		attributes: []attribute.KeyValue{attribute.String("db.operation", string(operation))},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("DB %s", operation)
	if spanOpts.table != "" {
		spanName = fmt.Sprintf("DB %s %s", operation, spanOpts.table)
	}
	ctx, span := otel.Tracer("database").Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// DatabaseSpanOption configures a database span.
type DatabaseSpanOption func(*databaseSpanOptions)

type databaseSpanOptions struct {
	table      string
	attributes []attribute.KeyValue
}

// WithDBTable sets the table name.
func WithDBTable(table string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.table = table
		opts.attributes = append(opts.attributes, attribute.String("db.table", table))
	}
}

// WithDBSystem sets the database system, e.g. "postgresql" or "mongodb".
func WithDBSystem(system string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.system", system))
	}
}

// StartJobSpan creates a consumer span for work taken from a queue.
func StartJobSpan(ctx context.Context, operation SpanOperation, queueName, jobName string, opts ...JobSpanOption) (context.Context, trace.Span) {
	spanOpts := &jobSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("job.operation", string(operation)),
			attribute.String("job.queue", queueName),
			attribute.String("job.name", jobName),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	ctx, span := otel.Tracer("runner").Start(ctx,
		fmt.Sprintf("JOB %s %s", operation, jobName),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// JobSpanOption configures a job span.
type JobSpanOption func(*jobSpanOptions)

type jobSpanOptions struct {
	attributes []attribute.KeyValue
}

// WithJobItemID sets the id of the queue item backing the job.
func WithJobItemID(id int64) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int64("job.item_id", id))
	}
}

// WithJobAttempts sets the reservation count of the job.
func WithJobAttempts(attempts int) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("job.attempts", attempts))
	}
}

// WithJobRunID sets the id of the runner pass.
func WithJobRunID(runID string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("job.run_id", runID))
	}
}

// StartLedgerSpan creates an internal span for a ledger operation.
func StartLedgerSpan(ctx context.Context, operation SpanOperation, contractID, transactionType string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("ledger").Start(ctx,
		fmt.Sprintf("LEDGER %s", operation),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("ledger.operation", string(operation)),
		attribute.String("ledger.contract_id", contractID),
		attribute.String("ledger.type", transactionType),
	)
	return ctx, span
}

// RecordError records err on span and marks it failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// End records the outcome held by err and ends the span.
func End(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}
