package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/yakuza/internal/definition"
	"github.com/aristath/yakuza/internal/job"
)

// Launcher creates jobs. *registry.Registry satisfies it.
type Launcher interface {
	Job(scraperID, agentID string, params definition.Params, opts ...job.Option) (*job.Job, error)
}

// Schedule runs one scraper agent on a cron spec.
type Schedule struct {
	Name    string
	Spec    string // standard cron with optional seconds, or a descriptor like "@every 5m"
	Scraper string
	Agent   string
	Params  definition.Params
}

// OutcomeFunc receives the outcome of every triggered job.
type OutcomeFunc func(s Schedule, outcome job.Outcome)

// Scheduler launches jobs on cron schedules. A schedule whose previous job is
// still running skips the tick.
type Scheduler struct {
	launcher  Launcher
	log       zerolog.Logger
	onOutcome OutcomeFunc

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	c       *cron.Cron
	entries map[string]cron.EntryID
}

// New creates a trigger scheduler. onOutcome may be nil.
func New(launcher Launcher, log zerolog.Logger, onOutcome OutcomeFunc) *Scheduler {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		launcher:  launcher,
		log:       log,
		onOutcome: onOutcome,
		ctx:       ctx,
		cancel:    cancel,
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a schedule. Names are unique.
func (s *Scheduler) Add(sched Schedule) error {
	if sched.Name == "" {
		return fmt.Errorf("schedule name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[sched.Name]; ok {
		return fmt.Errorf("schedule %q already exists", sched.Name)
	}
	id, err := s.c.AddJob(sched.Spec, cron.FuncJob(func() { s.launch(sched) }))
	if err != nil {
		return fmt.Errorf("parsing schedule %q: %w", sched.Name, err)
	}
	s.entries[sched.Name] = id
	return nil
}

// Remove unregisters a schedule.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok {
		return false
	}
	s.c.Remove(id)
	delete(s.entries, name)
	return true
}

// Next returns when the named schedule fires next. It is zero until Start.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.c.Entry(id).Next, true
}

// RunNow fires the named schedule immediately, subject to the same overlap rule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return &definition.NotFoundError{Kind: "schedule", ID: name}
	}
	go s.c.Entry(id).WrappedJob.Run()
	return nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.c.Start()
	s.log.Info().Int("schedules", len(s.c.Entries())).Msg("trigger scheduler started")
}

// Stop stops firing schedules, cancels running jobs and waits for them to settle
// or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) launch(sched Schedule) {
	log := s.log.With().Str("schedule", sched.Name).Logger()

	j, err := s.launcher.Job(sched.Scraper, sched.Agent, sched.Params)
	if err != nil {
		log.Error().Err(err).Msg("failed to create job")
		return
	}
	outcome, err := j.Run(s.ctx)
	if err != nil {
		log.Error().Err(err).Str("job", j.ID()).Msg("failed to run job")
		return
	}
	if s.onOutcome != nil {
		s.onOutcome(sched, outcome)
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
