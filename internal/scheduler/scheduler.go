package scheduler

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/yakuza/internal/definition"
	"github.com/aristath/yakuza/internal/events"
	"github.com/aristath/yakuza/internal/resilience"
)

// Options configure a Scheduler.
type Options struct {
	JobID   string
	Scraper string
	Params  definition.Params
	Logger  zerolog.Logger
	Bus     *events.EventBus // optional

	// Backoff delays retries. Nil retries on the next scheduling pass.
	Backoff resilience.BackoffFunc

	// Breakers wraps each agent's work in a circuit breaker keyed scraper/agent.
	Breakers *resilience.BreakerRegistry

	// AllowSkippedDependencies lets a task run when a dependency was skipped.
	// Failed dependencies always skip their dependents.
	AllowSkippedDependencies bool
}

// Report summarizes a finished run.
type Report struct {
	Succeeded bool
	Cancelled bool
	Errors    []error // one TaskExecutionError per failed task, plus the context error when cancelled
}

type completion struct {
	inst     *TaskInstance
	attempt  int
	result   any
	err      error
	duration time.Duration
}

// Scheduler drives one job's TaskGraph to completion.
// A single control loop owns every state transition; work runs in goroutines
// that report back over a channel.
type Scheduler struct {
	graph *TaskGraph
	opts  Options
	slots *slotManager
	log   zerolog.Logger

	completions chan completion
	wake        chan *TaskInstance
	inflight    int
	waiting     int
	errs        []error
}

// New creates a scheduler for graph. A scheduler runs once.
func New(graph *TaskGraph, opts Options) *Scheduler {
	return &Scheduler{
		graph:       graph,
		opts:        opts,
		slots:       newSlotManager(graph.agents),
		log:         opts.Logger.With().Str("job", opts.JobID).Logger(),
		completions: make(chan completion, graph.Len()),
		wake:        make(chan *TaskInstance, graph.Len()),
	}
}

// Run dispatches ready tasks until nothing is running or waiting to retry.
// Independent branches keep running after a failure; the run ends once the
// graph is quiescent. Cancelling ctx skips every unfinished task and returns
// without waiting for work that ignores cancellation.
func (s *Scheduler) Run(ctx context.Context) Report {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		if ctx.Err() != nil {
			return s.cancelAll(ctx.Err())
		}
		s.dispatch(ctx)
		if s.inflight == 0 && s.waiting == 0 {
			break
		}

		select {
		case c := <-s.completions:
			s.inflight--
			if ctx.Err() != nil {
				// Work saw the cancellation before the loop did
				return s.cancelAll(ctx.Err())
			}
			s.complete(c)
		case inst := <-s.wake:
			s.waiting--
			inst.notBefore = time.Time{}
		case <-ctx.Done():
			return s.cancelAll(ctx.Err())
		}
		s.publishProgress()
	}

	// Unreachable for an acyclic graph; every task still ends terminal
	for _, inst := range s.graph.order {
		if !inst.State.Terminal() {
			s.skip(inst, "no runnable path", false)
		}
	}

	return Report{
		Succeeded: len(s.errs) == 0 && s.entrySucceeded(),
		Errors:    s.errs,
	}
}

// dispatch starts every ready task that can get a slot.
func (s *Scheduler) dispatch(ctx context.Context) {
	now := time.Now()
	for _, inst := range s.graph.order {
		if inst.State != TaskReady {
			continue
		}
		if !inst.notBefore.IsZero() && now.Before(inst.notBefore) {
			continue
		}
		if !s.slots.tryAcquire(inst) {
			continue
		}
		s.start(ctx, inst)
	}
}

func (s *Scheduler) start(ctx context.Context, inst *TaskInstance) {
	s.setState(inst, TaskRunning)
	s.inflight++

	deps := make(definition.Results, len(inst.deps))
	for _, dep := range inst.deps {
		if dep.State == TaskSucceeded {
			deps[dep.Ref] = dep.Result
		}
	}

	work := inst.def.Work
	if s.opts.Breakers != nil {
		work = s.opts.Breakers.Wrap(s.opts.Scraper+"/"+inst.Ref.Agent, work)
	}

	s.log.Debug().Str("task", inst.Ref.String()).Int("attempt", inst.Attempt).Msg("dispatching task")
	s.opts.Bus.Publish(events.TaskStartedEvent{
		Job:       s.opts.JobID,
		ID:        inst.Ref.String(),
		Agent:     inst.Ref.Agent,
		Attempt:   inst.Attempt,
		Timestamp: time.Now(),
	})

	go s.execute(ctx, inst, inst.Attempt, work, maps.Clone(s.opts.Params), deps, s.slots.limiter(inst.Ref.Agent))
}

// execute runs in its own goroutine and must not touch instance state.
func (s *Scheduler) execute(ctx context.Context, inst *TaskInstance, attempt int, work definition.Executable, params definition.Params, deps definition.Results, limiter *rate.Limiter) {
	started := time.Now()
	result, err := invoke(ctx, inst.def.Timeout, work, params, deps, limiter)
	s.completions <- completion{
		inst:     inst,
		attempt:  attempt,
		result:   result,
		err:      err,
		duration: time.Since(started),
	}
}

// invoke calls work with the task's timeout applied. It stops waiting at the
// deadline even when work ignores its context.
func invoke(ctx context.Context, timeout time.Duration, work definition.Executable, params definition.Params, deps definition.Results, limiter *rate.Limiter) (any, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("work panicked: %v", r)}
			}
		}()
		result, err := work.Execute(ctx, params, deps)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// complete applies the outcome of one attempt.
func (s *Scheduler) complete(c completion) {
	inst := c.inst
	s.slots.release(inst)

	if c.err == nil {
		s.graph.mu.Lock()
		inst.State = TaskSucceeded
		inst.Result = c.result
		inst.Error = nil
		s.graph.mu.Unlock()

		s.log.Debug().Str("task", inst.Ref.String()).Dur("duration", c.duration).Msg("task succeeded")
		s.opts.Bus.Publish(events.TaskCompletedEvent{
			Job:       s.opts.JobID,
			ID:        inst.Ref.String(),
			Result:    c.result,
			Duration:  c.duration,
			Timestamp: time.Now(),
		})
		s.promote(inst)
		return
	}

	execErr := &TaskExecutionError{Ref: inst.Ref, Attempt: c.attempt, Err: c.err}

	if inst.def.Retryable && inst.Attempt < inst.def.MaxRetries {
		s.graph.mu.Lock()
		inst.Attempt++
		inst.State = TaskReady
		inst.Error = execErr
		s.graph.mu.Unlock()

		var delay time.Duration
		if s.opts.Backoff != nil {
			delay = s.opts.Backoff(inst.Ref, inst.Attempt)
		}
		if delay > 0 {
			inst.notBefore = time.Now().Add(delay)
			s.waiting++
			wake := s.wake
			time.AfterFunc(delay, func() { wake <- inst })
		}

		s.log.Warn().Err(c.err).Str("task", inst.Ref.String()).Int("attempt", inst.Attempt).Dur("delay", delay).Msg("task failed, retrying")
		s.opts.Bus.Publish(events.TaskRetryingEvent{
			Job:       s.opts.JobID,
			ID:        inst.Ref.String(),
			Attempt:   inst.Attempt,
			Delay:     delay,
			Err:       c.err,
			Timestamp: time.Now(),
		})
		return
	}

	s.graph.mu.Lock()
	inst.State = TaskFailed
	inst.Error = execErr
	s.graph.mu.Unlock()
	s.errs = append(s.errs, execErr)

	s.log.Warn().Err(c.err).Str("task", inst.Ref.String()).Int("attempts", c.attempt+1).Msg("task failed")
	s.opts.Bus.Publish(events.TaskFailedEvent{
		Job:       s.opts.JobID,
		ID:        inst.Ref.String(),
		Err:       execErr,
		Duration:  c.duration,
		Timestamp: time.Now(),
	})

	for _, dep := range inst.dependents {
		s.skip(dep, fmt.Sprintf("dependency %s failed", inst.Ref), true)
	}

	group := s.graph.agents[inst.Ref.Agent]
	if group.def.Ordered && group.def.HaltOnFailure {
		for _, later := range group.tasks[inst.seq+1:] {
			s.skip(later, fmt.Sprintf("agent %s halted after %s failed", inst.Ref.Agent, inst.Ref), false)
		}
	}
}

// promote moves pending dependents of inst to ready once all their dependencies are satisfied.
func (s *Scheduler) promote(inst *TaskInstance) {
	for _, dependent := range inst.dependents {
		if dependent.State != TaskPending || !s.satisfied(dependent) {
			continue
		}
		s.setState(dependent, TaskReady)
	}
}

func (s *Scheduler) satisfied(inst *TaskInstance) bool {
	for _, dep := range inst.deps {
		switch dep.State {
		case TaskSucceeded:
		case TaskSkipped:
			if !s.opts.AllowSkippedDependencies || dep.failedUp {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// skip marks a task that has not started as skipped and propagates to its
// dependents. Skips caused by a failure always propagate; other skips count
// as satisfied dependencies when AllowSkippedDependencies is set.
func (s *Scheduler) skip(inst *TaskInstance, reason string, failedUp bool) {
	if inst.State == TaskSkipped && failedUp && !inst.failedUp {
		// Already skipped for another reason; the failure still reaches everything downstream
		inst.failedUp = true
		for _, dep := range inst.dependents {
			s.skip(dep, fmt.Sprintf("dependency %s skipped", inst.Ref), true)
		}
		return
	}
	if inst.State.Terminal() || inst.State == TaskRunning {
		return
	}
	inst.failedUp = failedUp
	s.setState(inst, TaskSkipped)

	s.log.Debug().Str("task", inst.Ref.String()).Str("reason", reason).Msg("task skipped")
	s.opts.Bus.Publish(events.TaskSkippedEvent{
		Job:       s.opts.JobID,
		ID:        inst.Ref.String(),
		Reason:    reason,
		Timestamp: time.Now(),
	})

	if s.opts.AllowSkippedDependencies && !failedUp {
		s.promote(inst)
		return
	}
	for _, dep := range inst.dependents {
		s.skip(dep, fmt.Sprintf("dependency %s skipped", inst.Ref), failedUp)
	}
}

// cancelAll skips every unfinished task, including running ones whose work
// has been signalled through ctx.
func (s *Scheduler) cancelAll(cause error) Report {
	for _, inst := range s.graph.order {
		if inst.State.Terminal() {
			continue
		}
		s.setState(inst, TaskSkipped)
		s.opts.Bus.Publish(events.TaskSkippedEvent{
			Job:       s.opts.JobID,
			ID:        inst.Ref.String(),
			Reason:    "job cancelled",
			Timestamp: time.Now(),
		})
	}
	s.log.Warn().Err(cause).Int("in_flight", s.inflight).Msg("job cancelled")
	s.publishProgress()

	errs := append(append([]error(nil), s.errs...), cause)
	return Report{Cancelled: true, Errors: errs}
}

func (s *Scheduler) entrySucceeded() bool {
	group, ok := s.graph.agents[s.graph.entry]
	if !ok {
		return true
	}
	for _, inst := range group.tasks {
		if inst.State != TaskSucceeded {
			return false
		}
	}
	return true
}

func (s *Scheduler) setState(inst *TaskInstance, state TaskState) {
	s.graph.mu.Lock()
	inst.State = state
	s.graph.mu.Unlock()
}

func (s *Scheduler) publishProgress() {
	if s.opts.Bus == nil {
		return
	}
	counts := s.graph.Counts()
	s.opts.Bus.Publish(events.JobProgressEvent{
		Job:       s.opts.JobID,
		Total:     s.graph.Len(),
		Pending:   counts[TaskPending],
		Ready:     counts[TaskReady],
		Running:   counts[TaskRunning],
		Succeeded: counts[TaskSucceeded],
		Failed:    counts[TaskFailed],
		Skipped:   counts[TaskSkipped],
		Timestamp: time.Now(),
	})
}
