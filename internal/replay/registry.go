package replay

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kafka-stream-replay/internal/models"
	"kafka-stream-replay/internal/telemetry"
)

// Registry maps job identifiers to jobs for the lifetime of the process.
//
// Jobs are never evicted: the map grows with every submission until the
// process exits. Pollers can rely on a job they were told about staying
// visible.
type Registry struct {
	ctx  context.Context
	dial Dialer
	log  zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger handed to every job.
func WithLogger(log zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry creates an empty registry. ctx bounds the lifetime of every job
// it launches; dial builds each job's broker channel.
func NewRegistry(ctx context.Context, dial Dialer, opts ...RegistryOption) *Registry {
	r := &Registry{
		ctx:  ctx,
		dial: dial,
		log:  zerolog.Nop(),
		jobs: make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit validates def, registers a new job for it and starts the job on its
// own goroutine. It returns the job identifier and the state the job had when
// it was registered; run-time failures are only visible through polling.
func (r *Registry) Submit(def models.QueueDefinition) (string, models.State, error) {
	if err := def.Validate(); err != nil {
		return "", models.State{}, err
	}

	id := uuid.NewString()
	job := NewJob(id, def, r.dial, WithJobLogger(r.log))
	initial := job.State()

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()
	telemetry.JobsSubmitted.Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		job.Start(r.ctx)
	}()
	return id, initial, nil
}

// Get returns the job registered under id, or models.ErrNotFound.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return job, nil
}

// Len reports how many jobs have been submitted.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Wait blocks until every launched job has returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}
