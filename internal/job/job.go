package job

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/yakuza/internal/definition"
	"github.com/aristath/yakuza/internal/events"
	"github.com/aristath/yakuza/internal/persistence"
	"github.com/aristath/yakuza/internal/resilience"
	"github.com/aristath/yakuza/internal/scheduler"
)

// State is the lifecycle state of a job.
type State int

const (
	StateCreated   State = iota // Built, not started
	StateRunning                // Scheduler is running
	StateSucceeded              // Every entry task succeeded
	StateFailed                 // At least one task failed or the job was cancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ErrNotStarted is returned by Wait for a job that was never started.
var ErrNotStarted = errors.New("job not started")

// Outcome is the settled result of a job.
type Outcome struct {
	JobID     string
	State     State
	Cancelled bool
	Results   definition.Results // results of succeeded tasks
	Errors    []error            // one per exhausted task, plus the cancellation cause
}

// Err returns the outcome's errors joined, or nil on success.
func (o Outcome) Err() error {
	return errors.Join(o.Errors...)
}

// Option configures a Job.
type Option func(*options)

type options struct {
	log          zerolog.Logger
	bus          *events.EventBus
	backoff      resilience.BackoffFunc
	breakers     *resilience.BreakerRegistry
	store        persistence.Store
	allowSkipped bool
}

// WithLogger sets the job's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithEventBus publishes lifecycle events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(o *options) { o.bus = bus }
}

// WithBackoff delays retries by the duration fn returns.
func WithBackoff(fn resilience.BackoffFunc) Option {
	return func(o *options) { o.backoff = fn }
}

// WithBreakers runs each agent's work behind a circuit breaker from reg.
func WithBreakers(reg *resilience.BreakerRegistry) Option {
	return func(o *options) { o.breakers = reg }
}

// WithStore journals the job and its task states to store.
func WithStore(store persistence.Store) Option {
	return func(o *options) { o.store = store }
}

// WithAllowSkippedDependencies lets tasks run when a dependency was skipped.
func WithAllowSkippedDependencies(allow bool) Option {
	return func(o *options) { o.allowSkipped = allow }
}

// Job is one run of a scraper's entry agent against concrete parameters.
type Job struct {
	id      string
	scraper string
	entry   string
	params  definition.Params
	graph   *scheduler.TaskGraph
	opts    options
	log     zerolog.Logger

	mu        sync.Mutex
	state     State
	cancelled bool
	cancel    context.CancelFunc
	done      chan struct{}
	outcome   Outcome
}

// New creates a job for the entry agent of scraper. The scraper is
// snapshotted, so later registrations never affect this job.
// Graph construction errors abort creation.
func New(scraper *definition.ScraperDefinition, entry string, params definition.Params, opts ...Option) (*Job, error) {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	graph, err := scheduler.BuildGraph(scraper.Snapshot(), entry)
	if err != nil {
		return nil, fmt.Errorf("building graph for %s/%s: %w", scraper.ID, entry, err)
	}

	id := uuid.NewString()
	return &Job{
		id:      id,
		scraper: scraper.ID,
		entry:   entry,
		params:  maps.Clone(params),
		graph:   graph,
		opts:    o,
		log:     o.log.With().Str("job", id).Str("scraper", scraper.ID).Str("agent", entry).Logger(),
		state:   StateCreated,
		done:    make(chan struct{}),
	}, nil
}

// ID returns the job's unique identifier.
func (j *Job) ID() string { return j.id }

// Scraper returns the ID of the scraper the job runs.
func (j *Job) Scraper() string { return j.scraper }

// Entry returns the name of the job's entry agent.
func (j *Job) Entry() string { return j.entry }

// State returns the job's current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Run starts the job and blocks until it settles.
func (j *Job) Run(ctx context.Context) (Outcome, error) {
	ch, err := j.Start(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return <-ch, nil
}

// Start runs the job in the background. The returned channel yields the
// outcome once and is then closed.
func (j *Job) Start(ctx context.Context) (<-chan Outcome, error) {
	j.mu.Lock()
	if j.state != StateCreated {
		state := j.state
		j.mu.Unlock()
		return nil, &AlreadyRunningError{JobID: j.id, State: state}
	}
	ctx, cancel := context.WithCancel(ctx)
	if j.cancelled {
		cancel()
	}
	j.state = StateRunning
	j.cancel = cancel
	j.mu.Unlock()

	started := time.Now()
	j.log.Info().Int("tasks", j.graph.Len()).Msg("job started")
	j.opts.bus.Publish(events.JobStartedEvent{
		Job:       j.id,
		Scraper:   j.scraper,
		Agent:     j.entry,
		Tasks:     j.graph.Len(),
		Timestamp: started,
	})
	j.journal(context.WithoutCancel(ctx), StateRunning, nil, started, time.Time{})

	ch := make(chan Outcome, 1)
	go func() {
		defer cancel()
		defer close(ch)

		report := scheduler.New(j.graph, scheduler.Options{
			JobID:                    j.id,
			Scraper:                  j.scraper,
			Params:                   j.params,
			Logger:                   j.opts.log,
			Bus:                      j.opts.bus,
			Backoff:                  j.opts.backoff,
			Breakers:                 j.opts.breakers,
			AllowSkippedDependencies: j.opts.allowSkipped,
		}).Run(ctx)

		outcome := j.settle(report, started)
		ch <- outcome
	}()
	return ch, nil
}

func (j *Job) settle(report scheduler.Report, started time.Time) Outcome {
	state := StateFailed
	if report.Succeeded && !report.Cancelled {
		state = StateSucceeded
	}

	results := make(definition.Results)
	for _, snap := range j.graph.Tasks() {
		if snap.State == scheduler.TaskSucceeded {
			results[snap.Ref] = snap.Result
		}
	}

	outcome := Outcome{
		JobID:     j.id,
		State:     state,
		Cancelled: report.Cancelled,
		Results:   results,
		Errors:    report.Errors,
	}

	finished := time.Now()
	// The run context may be cancelled; the journal still records the settle
	j.journal(context.Background(), state, report.Errors, started, finished)

	j.mu.Lock()
	j.state = state
	j.outcome = outcome
	j.mu.Unlock()
	defer close(j.done)

	duration := finished.Sub(started)
	ev := j.log.Info()
	if state == StateFailed {
		ev = j.log.Warn().Int("errors", len(report.Errors)).Bool("cancelled", report.Cancelled)
	}
	ev.Dur("duration", duration).Msgf("job %s", state)
	j.opts.bus.Publish(events.JobFinishedEvent{
		Job:       j.id,
		State:     state.String(),
		Errors:    report.Errors,
		Duration:  duration,
		Timestamp: finished,
	})
	return outcome
}

// Wait blocks until a started job settles or ctx is done.
func (j *Job) Wait(ctx context.Context) (Outcome, error) {
	if j.State() == StateCreated {
		return Outcome{}, ErrNotStarted
	}
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Cancel stops the job. Unfinished tasks are skipped and in-flight work is
// signalled through its context. Cancelling a job that has not started makes
// it settle as cancelled as soon as it starts.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelled = true
	if j.cancel != nil {
		j.cancel()
	}
}

// Result returns the result of a task that succeeded.
func (j *Job) Result(agent, task string) (any, error) {
	ref := definition.Ref(agent, task)
	snap, ok := j.graph.Get(ref)
	if !ok {
		return nil, &TaskNotCompleteError{Ref: ref, State: "unknown"}
	}
	if snap.State != scheduler.TaskSucceeded {
		return nil, &TaskNotCompleteError{Ref: ref, State: snap.State.String()}
	}
	return snap.Result, nil
}

// Task returns a snapshot of one task instance.
func (j *Job) Task(agent, task string) (scheduler.TaskSnapshot, bool) {
	return j.graph.Get(definition.Ref(agent, task))
}

// Tasks returns snapshots of every task instance in dispatch order.
func (j *Job) Tasks() []scheduler.TaskSnapshot {
	return j.graph.Tasks()
}

// journal writes the job record and its task states when a store is configured.
// Store errors are logged and never change the job's outcome.
func (j *Job) journal(ctx context.Context, state State, errs []error, started, finished time.Time) {
	if j.opts.store == nil {
		return
	}

	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	err := j.opts.store.SaveJob(ctx, &persistence.JobRecord{
		ID:         j.id,
		Scraper:    j.scraper,
		Agent:      j.entry,
		Params:     j.params,
		State:      state.String(),
		Errors:     msgs,
		StartedAt:  started,
		FinishedAt: finished,
	})
	if err != nil {
		j.log.Error().Err(err).Msg("failed to journal job")
		return
	}

	for _, snap := range j.graph.Tasks() {
		rec := &persistence.TaskRecord{
			JobID:   j.id,
			Ref:     snap.Ref,
			State:   snap.State.String(),
			Attempt: snap.Attempt,
		}
		if snap.State == scheduler.TaskSucceeded {
			rec.Result = persistence.EncodeResult(snap.Result)
		}
		if snap.Error != nil {
			rec.Error = snap.Error.Error()
		}
		if err := j.opts.store.SaveTaskState(ctx, rec); err != nil {
			j.log.Error().Err(err).Str("task", snap.Ref.String()).Msg("failed to journal task state")
		}
	}
}
