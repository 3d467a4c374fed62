package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Task is one scheduled action.
type Task struct {
	Name     string
	Schedule string
	// Timezone evaluates cron schedules; empty means UTC.
	Timezone string
	// LockTTL overrides Config.DefaultLockTTL when positive.
	LockTTL time.Duration
	// Action is "run:<queue>" or "cleanup".
	Action string
}

// Validate verifies required fields, the action and the schedule syntax.
func (t *Task) Validate() error {
	if t == nil {
		return schedulerError(ErrValidation, "task is nil")
	}
	if strings.TrimSpace(t.Name) == "" {
		return schedulerError(ErrValidation, "task name is required")
	}
	if strings.TrimSpace(t.Schedule) == "" {
		return schedulerError(ErrValidation, fmt.Sprintf("task %q schedule is required", t.Name))
	}
	if _, err := ParseAction(t.Action); err != nil {
		return err
	}
	if _, err := t.nextRun(time.Now().UTC()); err != nil {
		return err
	}
	return nil
}

func (t *Task) location() (*time.Location, error) {
	if strings.TrimSpace(t.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(t.Timezone))
	if err != nil {
		return nil, errors.Join(schedulerError(ErrValidation, fmt.Sprintf("invalid timezone for task %q", t.Name)), err)
	}
	return loc, nil
}

func (t *Task) nextRun(now time.Time) (time.Time, error) {
	loc, err := t.location()
	if err != nil {
		return time.Time{}, err
	}
	return nextRun(t.Schedule, now, loc)
}
