package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func attributesOf(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestStartDatabaseSpan(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartDatabaseSpan(context.Background(), SpanOperationDBUpsert,
		WithDBTable("transaction_master"),
		WithDBSystem("postgresql"),
	)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].Name(); got != "DB db.upsert transaction_master" {
		t.Fatalf("span name = %q", got)
	}
	if spans[0].SpanKind() != trace.SpanKindClient {
		t.Fatalf("expected client span, got %v", spans[0].SpanKind())
	}
	attrs := attributesOf(spans[0])
	if attrs["db.table"].AsString() != "transaction_master" || attrs["db.system"].AsString() != "postgresql" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}

func TestStartJobSpan(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartJobSpan(context.Background(), SpanOperationJobExecute, "StatusChecking", "status_check",
		WithJobItemID(12),
		WithJobAttempts(3),
		WithJobRunID("run-1"),
	)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].Name(); got != "JOB job.execute status_check" {
		t.Fatalf("span name = %q", got)
	}
	if spans[0].SpanKind() != trace.SpanKindConsumer {
		t.Fatalf("expected consumer span, got %v", spans[0].SpanKind())
	}
	attrs := attributesOf(spans[0])
	if attrs["job.queue"].AsString() != "StatusChecking" {
		t.Fatalf("unexpected job.queue: %v", attrs["job.queue"])
	}
	if attrs["job.item_id"].AsInt64() != 12 || attrs["job.attempts"].AsInt64() != 3 {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
	if attrs["job.run_id"].AsString() != "run-1" {
		t.Fatalf("unexpected job.run_id: %v", attrs["job.run_id"])
	}
}

func TestStartLedgerSpan(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartLedgerSpan(context.Background(), SpanOperationLedgerUpdate, "C1", "IMPORT")
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "LEDGER ledger.update" {
		t.Fatalf("unexpected spans: %v", spans)
	}
	attrs := attributesOf(spans[0])
	if attrs["ledger.contract_id"].AsString() != "C1" || attrs["ledger.type"].AsString() != "IMPORT" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
}

func TestEnd(t *testing.T) {
	recorder := setupTestTracer(t)
	tracer := otel.Tracer("test")

	_, okSpan := tracer.Start(context.Background(), "ok")
	End(okSpan, nil)
	_, failedSpan := tracer.Start(context.Background(), "failed")
	End(failedSpan, errors.New("boom"))

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Fatalf("expected ok status, got %v", spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "boom" {
		t.Fatalf("expected error status, got %v", spans[1].Status())
	}
	if len(spans[1].Events()) == 0 {
		t.Fatal("expected the error to be recorded as an event")
	}
}
