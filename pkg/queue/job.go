package queue

import "context"

// Job is a logical unit of work carried by a queue item.
//
// Jobs are serialized to JSON through a Registry, so the fields that must
// survive a round trip are exported; collaborators are injected by the
// registered factory.
type Job interface {
	// Name identifies the job kind in the Registry.
	Name() string
	// Execute performs the work. A returned error makes the job eligible for retry.
	Execute(ctx context.Context) error
	// ForceFail runs compensating cleanup when the job is abandoned for good.
	ForceFail(ctx context.Context) error
}

// SystemJob marks internal jobs whose routine lifecycle is not logged.
type SystemJob interface {
	System() bool
}

// IsSystem reports whether job declares itself internal.
func IsSystem(job Job) bool {
	marker, ok := job.(SystemJob)
	return ok && marker.System()
}

// Entry is a reserved job together with the item that backs it.
type Entry struct {
	Item *Item
	Job  Job
}

// undecodableJob stands in for an item whose payload cannot be decoded, so the
// runner can still retry and eventually dead-letter it.
type undecodableJob struct {
	err error
}

func (j *undecodableJob) Name() string                    { return "undecodable" }
func (j *undecodableJob) Execute(context.Context) error   { return j.err }
func (j *undecodableJob) ForceFail(context.Context) error { return nil }
