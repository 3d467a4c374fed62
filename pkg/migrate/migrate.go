// Package migrate creates and evolves the queue and ledger schema.
package migrate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nimburion/batchsync/pkg/observability/logger"
)

// Actions accepted by ParseArgs.
const (
	ActionUp     = "up"
	ActionDown   = "down"
	ActionStatus = "status"
)

// DefaultTimeout bounds a migration command.
const DefaultTimeout = 60 * time.Second

// PendingMigration is a migration not yet applied.
type PendingMigration struct {
	Version int64
	Name    string
}

// Status is the applied and pending state of a schema.
type Status struct {
	AppliedVersions []int64
	Pending         []PendingMigration
}

// Migrator is a schema backend.
type Migrator interface {
	Up(ctx context.Context) (int, error)
	Down(ctx context.Context, steps int) (int, error)
	Status(ctx context.Context) (*Status, error)
}

// Command is a parsed migrate invocation.
type Command struct {
	Action string
	Steps  int
}

// ParseArgs parses [up|down|status] [steps]. The action defaults to up and
// steps to 1.
func ParseArgs(args []string) (Command, error) {
	cmd := Command{Action: ActionUp, Steps: 1}
	if len(args) > 0 {
		cmd.Action = args[0]
	}
	switch cmd.Action {
	case ActionUp, ActionDown, ActionStatus:
	default:
		return Command{}, fmt.Errorf("unknown migrate action %q (expected up, down or status)", cmd.Action)
	}
	if len(args) > 1 {
		steps, err := strconv.Atoi(args[1])
		if err != nil || steps <= 0 {
			return Command{}, fmt.Errorf("invalid down steps %q", args[1])
		}
		cmd.Steps = steps
	}
	return cmd, nil
}

// Execute runs cmd against m within timeout and logs the outcome.
func Execute(ctx context.Context, m Migrator, cmd Command, timeout time.Duration, log logger.Logger) (*Status, error) {
	if m == nil {
		return nil, fmt.Errorf("migrator is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch cmd.Action {
	case ActionUp:
		applied, err := m.Up(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("migrations applied", "count", applied)
	case ActionDown:
		if cmd.Steps <= 0 {
			return nil, fmt.Errorf("steps must be greater than zero")
		}
		reverted, err := m.Down(ctx, cmd.Steps)
		if err != nil {
			return nil, err
		}
		log.Info("migrations reverted", "count", reverted, "steps", cmd.Steps)
	case ActionStatus:
	default:
		return nil, fmt.Errorf("unknown migrate action %q", cmd.Action)
	}

	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("migration status", "applied", len(status.AppliedVersions), "pending", len(status.Pending))
	return status, nil
}
