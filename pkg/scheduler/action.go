package scheduler

import (
	"fmt"
	"strings"
)

// ActionKind selects what a task does when it fires.
type ActionKind string

const (
	// ActionRun runs one runner pass over a queue.
	ActionRun ActionKind = "run"
	// ActionCleanup deletes ledger records past their retention.
	ActionCleanup ActionKind = "cleanup"
)

// Action is a parsed task action: "run:<queue>" or "cleanup".
type Action struct {
	Kind  ActionKind
	Queue string
}

// ParseAction parses the textual form of an action.
func ParseAction(raw string) (Action, error) {
	raw = strings.TrimSpace(raw)
	if raw == string(ActionCleanup) {
		return Action{Kind: ActionCleanup}, nil
	}
	if queue, ok := strings.CutPrefix(raw, string(ActionRun)+":"); ok {
		if queue = strings.TrimSpace(queue); queue != "" {
			return Action{Kind: ActionRun, Queue: queue}, nil
		}
	}
	return Action{}, schedulerError(ErrValidation, fmt.Sprintf("invalid task action %q (expected cleanup or run:<queue>)", raw))
}

// String returns the textual form accepted by ParseAction.
func (a Action) String() string {
	if a.Kind == ActionRun {
		return string(ActionRun) + ":" + a.Queue
	}
	return string(a.Kind)
}

// lockKey is shared by every task with the same action, so two tasks over
// one queue never run concurrently.
func (a Action) lockKey() string {
	return "scheduler:" + a.String()
}
