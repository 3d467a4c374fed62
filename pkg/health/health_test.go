package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubCheckable struct {
	err   error
	delay time.Duration
}

func (s stubCheckable) HealthCheck(ctx context.Context) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func TestAdapterChecker(t *testing.T) {
	tests := []struct {
		name    string
		adapter stubCheckable
		timeout time.Duration
		want    Status
	}{
		{name: "healthy", adapter: stubCheckable{}, want: StatusHealthy},
		{name: "failing", adapter: stubCheckable{err: errors.New("connection refused")}, want: StatusUnhealthy},
		{name: "timeout", adapter: stubCheckable{delay: time.Second}, timeout: 20 * time.Millisecond, want: StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewAdapterChecker("database", tt.adapter, tt.timeout)
			result := checker.Check(context.Background())
			if result.Status != tt.want {
				t.Fatalf("expected %s, got %s (%s)", tt.want, result.Status, result.Error)
			}
			if result.Name != "database" {
				t.Fatalf("unexpected name %q", result.Name)
			}
			if tt.want == StatusUnhealthy && result.Error == "" {
				t.Fatal("expected error text on unhealthy result")
			}
		})
	}
}

func TestBacklogChecker(t *testing.T) {
	tests := []struct {
		name      string
		depth     int
		err       error
		threshold int
		want      Status
	}{
		{name: "below threshold", depth: 3, threshold: 10, want: StatusHealthy},
		{name: "above threshold", depth: 11, threshold: 10, want: StatusDegraded},
		{name: "no threshold", depth: 1000, want: StatusHealthy},
		{name: "depth error", err: errors.New("table missing"), threshold: 10, want: StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewBacklogChecker("queue:default", func(context.Context) (int, error) { return tt.depth, tt.err }, tt.threshold)
			result := checker.Check(context.Background())
			if result.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, result.Status)
			}
			if tt.err == nil && result.Metadata["depth"] != tt.depth {
				t.Fatalf("expected depth metadata %d, got %v", tt.depth, result.Metadata)
			}
		})
	}
}

func TestRegistry_AggregatesWorstStatus(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewPingChecker("liveness"))
	registry.Register(NewBacklogChecker("queue:default", func(context.Context) (int, error) { return 50, nil }, 10))

	result := registry.Check(context.Background())
	if result.Status != StatusDegraded || !result.IsHealthy() {
		t.Fatalf("expected degraded but healthy, got %s", result.Status)
	}
	if len(result.Checks) != 2 || result.Checks[0].Name != "liveness" {
		t.Fatalf("expected results sorted by name, got %+v", result.Checks)
	}

	registry.Register(NewDatabaseChecker("database", stubCheckable{err: errors.New("down")}))
	result = registry.Check(context.Background())
	if result.Status != StatusUnhealthy || result.IsHealthy() {
		t.Fatalf("expected unhealthy, got %s", result.Status)
	}
	if got := registry.List(); len(got) != 3 || got[0] != "database" {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestRegistry_CheckOne(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewPingChecker("liveness"))

	if result, err := registry.CheckOne(context.Background(), "liveness"); err != nil || result.Status != StatusHealthy {
		t.Fatalf("unexpected result %+v err=%v", result, err)
	}
	if _, err := registry.CheckOne(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown check")
	}
}
