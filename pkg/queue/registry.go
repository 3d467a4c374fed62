package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory returns a fresh, dependency-wired job ready to be decoded into.
// It must return a pointer so the payload can be unmarshalled in place.
type Factory func() Job

// Registry maps job names to factories and encodes jobs into item payloads.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// envelope is the payload stored on a queue item.
type envelope struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register binds name to factory.
func (r *Registry) Register(name string, factory Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return queueError(ErrInvalidArgument, "job name is required")
	}
	if factory == nil {
		return queueError(ErrInvalidArgument, "job factory is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return queueError(ErrConflict, fmt.Sprintf("job %q already registered", name))
	}
	r.factories[name] = factory
	return nil
}

// MustRegister is Register that panics on error, for wiring at startup.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Names lists the registered job names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode serializes job into a payload. The job kind must be registered.
func (r *Registry) Encode(job Job) ([]byte, error) {
	if job == nil {
		return nil, queueError(ErrInvalidArgument, "job is required")
	}
	name := job.Name()
	if _, ok := r.factory(name); !ok {
		return nil, queueError(ErrNotFound, fmt.Sprintf("job %q is not registered", name))
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, errors.Join(queueError(ErrPayload, fmt.Sprintf("encode job %q", name)), err)
	}
	return json.Marshal(envelope{Name: name, Data: data})
}

// Decode materializes the job stored in payload.
func (r *Registry) Decode(payload []byte) (Job, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(queueError(ErrPayload, "decode envelope"), err)
	}
	factory, ok := r.factory(env.Name)
	if !ok {
		return nil, queueError(ErrNotFound, fmt.Sprintf("job %q is not registered", env.Name))
	}
	job := factory()
	if job == nil {
		return nil, queueError(ErrPayload, fmt.Sprintf("factory for %q returned nil", env.Name))
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, job); err != nil {
			return nil, errors.Join(queueError(ErrPayload, fmt.Sprintf("decode job %q", env.Name)), err)
		}
	}
	return job, nil
}

func (r *Registry) factory(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[strings.TrimSpace(name)]
	return factory, ok
}
