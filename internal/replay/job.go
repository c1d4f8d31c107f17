// Package replay runs queue definitions against a broker, one item at a time,
// and tracks their progress for pollers.
//
// Each Job is driven by exactly one goroutine, the run loop started by Start.
// That goroutine is the only writer of the job's state; it publishes an
// immutable snapshot after every transition and every acknowledgment, so
// readers never take a lock and never observe indices the loop has not
// acknowledged yet.
package replay

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"kafka-stream-replay/internal/models"
	"kafka-stream-replay/internal/telemetry"
)

// Channel is a broker connection bound to one topic.
type Channel interface {
	Initialize(ctx context.Context) error
	Send(ctx context.Context, p *models.Payload) error
	Close()
}

// Dialer builds an uninitialized channel for a broker address and topic.
type Dialer func(brokerAddress, topic string) Channel

// Job replays one queue definition.
type Job struct {
	id    string
	def   models.QueueDefinition
	dial  Dialer
	log   zerolog.Logger
	state atomic.Pointer[models.State]
	claim atomic.Bool
	acked []int
}

// JobOption customizes a Job.
type JobOption func(*Job)

// WithJobLogger sets the job's logger.
func WithJobLogger(log zerolog.Logger) JobOption {
	return func(j *Job) { j.log = log }
}

// NewJob returns a job in the not_started state. def is not validated here;
// the registry does that before creating jobs.
func NewJob(id string, def models.QueueDefinition, dial Dialer, opts ...JobOption) *Job {
	j := &Job{
		id:   id,
		def:  def,
		dial: dial,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.log = j.log.With().Str("job_id", id).Logger()
	j.state.Store(&models.State{Status: models.StatusNotStarted, MessagesAcked: []int{}})
	return j
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Definition returns the definition the job replays.
func (j *Job) Definition() models.QueueDefinition { return j.def }

// State returns a snapshot of the job's progress. It is safe to call from any
// goroutine at any time.
func (j *Job) State() models.State {
	s := j.state.Load()
	out := *s
	out.MessagesAcked = slices.Clone(s.MessagesAcked)
	if out.MessagesAcked == nil {
		out.MessagesAcked = []int{}
	}
	return out
}

// Start runs the job to a terminal state on the calling goroutine. Only the
// first call does anything; later calls, including calls on a finished job,
// return immediately without touching its state.
//
// ctx is the process lifetime. Cancelling it interrupts a pending pause or
// send and ends the job errored.
func (j *Job) Start(ctx context.Context) {
	if !j.claim.CompareAndSwap(false, true) {
		return
	}
	telemetry.JobsRunning.Inc()
	defer telemetry.JobsRunning.Dec()

	j.publish(models.StatusStarting, "")
	j.log.Info().
		Str("broker", j.def.BrokerAddress).
		Str("topic", j.def.Topic).
		Int("messages", len(j.def.Items)).
		Msg("queue starting")

	ch := j.dial(j.def.BrokerAddress, j.def.Topic)
	defer ch.Close()

	if err := ch.Initialize(ctx); err != nil {
		j.fail(err)
		return
	}
	j.publish(models.StatusConnected, "")

	for i, item := range j.def.Items {
		switch item.Kind {
		case models.ItemEmpty:
			continue
		case models.ItemPause:
			if err := sleepCtx(ctx, item.Pause); err != nil {
				j.fail(err)
				return
			}
		case models.ItemPayload:
			if err := ch.Send(ctx, item.Payload); err != nil {
				j.fail(err)
				return
			}
			j.acked = append(j.acked, i)
			telemetry.ItemsAcked.Inc()
			j.publish(models.StatusConnected, "")
		}
	}

	j.publish(models.StatusDone, "")
	telemetry.JobsCompleted.Inc()
	j.log.Info().Ints("acked", j.acked).Msg("queue done")
}

func (j *Job) fail(err error) {
	msg := fmt.Sprintf("internal error: %v, messages acked: %v", err, j.acked)
	j.publish(models.StatusErrored, msg)
	telemetry.JobsErrored.Inc()
	j.log.Error().Err(err).Ints("acked", j.acked).Msg("queue halted")
}

// publish stores a new snapshot. The acked slice is shared with earlier
// snapshots but only ever appended to, so every published prefix stays valid.
func (j *Job) publish(status models.JobStatus, errMsg string) {
	j.state.Store(&models.State{
		Status:        status,
		MessagesAcked: j.acked[:len(j.acked):len(j.acked)],
		Error:         errMsg,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
