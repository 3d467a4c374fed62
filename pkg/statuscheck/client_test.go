package statuscheck_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimburion/batchsync/pkg/resilience"
	"github.com/nimburion/batchsync/pkg/statuscheck"
)

func TestGuardedClient_Validation(t *testing.T) {
	client := statuscheck.StatusClientFunc(func(context.Context, string, string) (statuscheck.TaskStatus, error) {
		return statuscheck.TaskStatus{}, nil
	})
	if _, err := statuscheck.NewGuardedClient(nil, resilience.NewCircuitBreaker(resilience.BreakerConfig{MaxFailures: 1}), 0); !errors.Is(err, statuscheck.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := statuscheck.NewGuardedClient(client, nil, 0); !errors.Is(err, statuscheck.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestGuardedClient_PassesThrough(t *testing.T) {
	client := statuscheck.StatusClientFunc(func(context.Context, string, string) (statuscheck.TaskStatus, error) {
		return statuscheck.TaskStatus{State: statuscheck.StateSucceeded}, nil
	})
	guarded, err := statuscheck.NewGuardedClient(client, resilience.NewCircuitBreaker(resilience.BreakerConfig{Name: "statuscheck-test", MaxFailures: 2, OpenTimeout: time.Minute}), time.Second)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	status, err := guarded.ExportStatus(context.Background(), contractID, taskID)
	if err != nil || status.State != statuscheck.StateSucceeded {
		t.Fatalf("unexpected result %+v %v", status, err)
	}
}

func TestGuardedClient_OpensAfterRepeatedFailures(t *testing.T) {
	calls := 0
	client := statuscheck.StatusClientFunc(func(context.Context, string, string) (statuscheck.TaskStatus, error) {
		calls++
		return statuscheck.TaskStatus{}, errors.New("503")
	})
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{Name: "statuscheck-test", MaxFailures: 2, OpenTimeout: time.Minute})
	guarded, _ := statuscheck.NewGuardedClient(client, breaker, 0)

	for i := 0; i < 2; i++ {
		if _, err := guarded.ExportStatus(context.Background(), contractID, taskID); err == nil {
			t.Fatal("expected remote error")
		}
	}
	if _, err := guarded.ExportStatus(context.Background(), contractID, taskID); !errors.Is(err, resilience.ErrCircuitBreakerOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected the open breaker to skip the remote, got %d calls", calls)
	}
}

func TestGuardedClient_Timeout(t *testing.T) {
	client := statuscheck.StatusClientFunc(func(ctx context.Context, _, _ string) (statuscheck.TaskStatus, error) {
		<-ctx.Done()
		return statuscheck.TaskStatus{}, ctx.Err()
	})
	guarded, _ := statuscheck.NewGuardedClient(client, resilience.NewCircuitBreaker(resilience.BreakerConfig{Name: "statuscheck-test", OpenTimeout: time.Minute}), 20*time.Millisecond)

	if _, err := guarded.ExportStatus(context.Background(), contractID, taskID); !errors.Is(err, resilience.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
