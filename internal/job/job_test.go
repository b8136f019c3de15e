package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/yakuza/internal/definition"
	"github.com/aristath/yakuza/internal/events"
	"github.com/aristath/yakuza/internal/persistence"
	"github.com/aristath/yakuza/internal/scheduler"
)

func mustTask(t *testing.T, agent *definition.AgentDefinition, name string, opts definition.TaskOptions, work definition.ExecFunc) {
	t.Helper()
	if _, err := agent.Task(name, opts, work); err != nil {
		t.Fatalf("registering %s: %v", name, err)
	}
}

// fooBar builds scraper foo with agent bar: t1 returns 42, t2 returns t1 + 1.
func fooBar(t *testing.T) *definition.ScraperDefinition {
	t.Helper()
	s := definition.NewScraper("foo")
	bar := s.Agent("bar", definition.AgentOptions{})
	mustTask(t, bar, "t1", definition.TaskOptions{}, func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
		return 42, nil
	})
	mustTask(t, bar, "t2", definition.TaskOptions{DependsOn: []definition.TaskRef{definition.Local("t1")}}, func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
		v, ok := deps.Task("t1")
		if !ok {
			return nil, errors.New("missing t1 result")
		}
		return v.(int) + 1, nil
	})
	return s
}

func runWithTimeout(t *testing.T, j *Job) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := j.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return outcome
}

func TestJob_Succeeds(t *testing.T) {
	j, err := New(fooBar(t), "bar", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if j.State() != StateCreated {
		t.Fatalf("state = %s, want created", j.State())
	}
	if j.ID() == "" {
		t.Error("job has no ID")
	}

	outcome := runWithTimeout(t, j)

	if outcome.State != StateSucceeded || j.State() != StateSucceeded {
		t.Fatalf("outcome state = %s, job state = %s, want succeeded (err: %v)", outcome.State, j.State(), outcome.Err())
	}
	if outcome.Err() != nil {
		t.Errorf("Err() = %v, want nil", outcome.Err())
	}
	got, err := j.Result("bar", "t2")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if got != 43 {
		t.Errorf("result(bar, t2) = %v, want 43", got)
	}
	if v, _ := outcome.Results.Of("bar", "t1"); v != 42 {
		t.Errorf("outcome result t1 = %v, want 42", v)
	}
}

func TestJob_FailureSkipsDependent(t *testing.T) {
	s := definition.NewScraper("foo")
	bar := s.Agent("bar", definition.AgentOptions{})
	boom := errors.New("boom")
	mustTask(t, bar, "t1", definition.TaskOptions{Retryable: false}, func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
		return nil, boom
	})
	called := false
	mustTask(t, bar, "t2", definition.TaskOptions{DependsOn: []definition.TaskRef{definition.Local("t1")}}, func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
		called = true
		return nil, nil
	})

	j, err := New(s, "bar", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	outcome := runWithTimeout(t, j)

	if outcome.State != StateFailed {
		t.Fatalf("state = %s, want failed", outcome.State)
	}
	if called {
		t.Error("t2 work must never be invoked")
	}
	snap, ok := j.Task("bar", "t2")
	if !ok || snap.State != scheduler.TaskSkipped {
		t.Errorf("t2 state = %v, want skipped", snap.State)
	}
	if !errors.Is(outcome.Err(), boom) {
		t.Errorf("Err() = %v, want it to wrap the work error", outcome.Err())
	}
	var execErr *scheduler.TaskExecutionError
	if !errors.As(outcome.Err(), &execErr) || execErr.Ref != definition.Ref("bar", "t1") {
		t.Errorf("expected TaskExecutionError for bar/t1, got %v", outcome.Err())
	}

	_, err = j.Result("bar", "t2")
	var notComplete *TaskNotCompleteError
	if !errors.As(err, &notComplete) || notComplete.State != "skipped" {
		t.Errorf("Result(t2) error = %v, want TaskNotCompleteError(skipped)", err)
	}
}

func TestJob_RunTwice(t *testing.T) {
	j, err := New(fooBar(t), "bar", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runWithTimeout(t, j)

	_, err = j.Run(context.Background())
	var already *AlreadyRunningError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyRunningError, got %v", err)
	}
	if already.JobID != j.ID() || already.State != StateSucceeded {
		t.Errorf("unexpected error fields: %+v", already)
	}
}

func TestJob_RunWhileRunning(t *testing.T) {
	s := definition.NewScraper("s")
	a := s.Agent("a", definition.AgentOptions{})
	release := make(chan struct{})
	mustTask(t, a, "wait", definition.TaskOptions{}, func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
		<-release
		return nil, nil
	})

	j, err := New(s, "a", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := j.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err = j.Start(context.Background())
	var already *AlreadyRunningError
	if !errors.As(err, &already) || already.State != StateRunning {
		t.Errorf("second Start error = %v, want AlreadyRunningError(running)", err)
	}

	close(release)
	select {
	case outcome := <-ch:
		if outcome.State != StateSucceeded {
			t.Errorf("state = %s, want succeeded", outcome.State)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job did not settle")
	}
	if _, ok := <-ch; ok {
		t.Error("outcome channel should be closed after one value")
	}
}

func TestJob_ResultBeforeRun(t *testing.T) {
	j, err := New(fooBar(t), "bar", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		task      string
		wantState string
	}{
		{task: "t1", wantState: "ready"},
		{task: "t2", wantState: "pending"},
		{task: "missing", wantState: "unknown"},
	}
	for _, tt := range tests {
		_, err := j.Result("bar", tt.task)
		var notComplete *TaskNotCompleteError
		if !errors.As(err, &notComplete) {
			t.Fatalf("Result(%s): expected TaskNotCompleteError, got %v", tt.task, err)
		}
		if notComplete.State != tt.wantState {
			t.Errorf("Result(%s) state = %s, want %s", tt.task, notComplete.State, tt.wantState)
		}
	}
}

func TestJob_ConstructionErrors(t *testing.T) {
	t.Run("unknown agent", func(t *testing.T) {
		j, err := New(definition.NewScraper("s"), "ghost", nil)
		var nf *definition.NotFoundError
		if !errors.As(err, &nf) || j != nil {
			t.Fatalf("expected NotFoundError and no job, got %v, %v", j, err)
		}
	})

	t.Run("cycle", func(t *testing.T) {
		s := definition.NewScraper("s")
		a := s.Agent("a", definition.AgentOptions{})
		noop := func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) { return nil, nil }
		mustTask(t, a, "x", definition.TaskOptions{DependsOn: []definition.TaskRef{definition.Local("y")}}, noop)
		mustTask(t, a, "y", definition.TaskOptions{DependsOn: []definition.TaskRef{definition.Local("x")}}, noop)

		j, err := New(s, "a", nil)
		var cyc *scheduler.CyclicDependencyError
		if !errors.As(err, &cyc) || j != nil {
			t.Fatalf("expected CyclicDependencyError and no job, got %v, %v", j, err)
		}
	})
}

func TestJob_SnapshotIsolation(t *testing.T) {
	s := fooBar(t)
	j, err := New(s, "bar", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	bar := s.Agent("bar", definition.AgentOptions{})
	mustTask(t, bar, "late", definition.TaskOptions{}, func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
		return nil, errors.New("should never run")
	})

	outcome := runWithTimeout(t, j)
	if outcome.State != StateSucceeded {
		t.Errorf("late registration leaked into the job: %v", outcome.Err())
	}
	if len(j.Tasks()) != 2 {
		t.Errorf("job has %d tasks, want 2", len(j.Tasks()))
	}
}

func TestJob_ParamsAreCopied(t *testing.T) {
	s := definition.NewScraper("s")
	a := s.Agent("a", definition.AgentOptions{})
	mustTask(t, a, "read", definition.TaskOptions{}, func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
		return params["page"], nil
	})

	params := definition.Params{"page": 1}
	j, err := New(s, "a", params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params["page"] = 2

	runWithTimeout(t, j)
	if got, _ := j.Result("a", "read"); got != 1 {
		t.Errorf("work saw page %v, want 1", got)
	}
}

func TestJob_Cancel(t *testing.T) {
	s := definition.NewScraper("s")
	a := s.Agent("a", definition.AgentOptions{})
	started := make(chan struct{})
	mustTask(t, a, "block", definition.TaskOptions{}, func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	mustTask(t, a, "next", definition.TaskOptions{DependsOn: []definition.TaskRef{definition.Local("block")}}, func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
		return nil, nil
	})

	j, err := New(s, "a", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	j.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := j.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if outcome.State != StateFailed || !outcome.Cancelled {
		t.Errorf("outcome = %s cancelled=%v, want failed and cancelled", outcome.State, outcome.Cancelled)
	}
	if !errors.Is(outcome.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", outcome.Err())
	}
	for _, snap := range j.Tasks() {
		if snap.State != scheduler.TaskSkipped {
			t.Errorf("%s state = %s, want skipped", snap.Ref, snap.State)
		}
	}
}

func TestJob_CancelBeforeStart(t *testing.T) {
	s := definition.NewScraper("s")
	a := s.Agent("a", definition.AgentOptions{})
	ran := false
	mustTask(t, a, "t", definition.TaskOptions{}, func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
		ran = true
		return nil, nil
	})

	j, err := New(s, "a", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j.Cancel()

	outcome := runWithTimeout(t, j)
	if !outcome.Cancelled || outcome.State != StateFailed {
		t.Errorf("outcome = %+v, want cancelled failure", outcome)
	}
	if ran {
		t.Error("work ran in a job cancelled before start")
	}
}

func TestJob_WaitBeforeStart(t *testing.T) {
	j, err := New(fooBar(t), "bar", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := j.Wait(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Wait error = %v, want ErrNotStarted", err)
	}
}

func TestJob_EmptyEntryAgentSucceeds(t *testing.T) {
	s := definition.NewScraper("s")
	s.Agent("empty", definition.AgentOptions{})

	j, err := New(s, "empty", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if outcome := runWithTimeout(t, j); outcome.State != StateSucceeded {
		t.Errorf("state = %s, want succeeded", outcome.State)
	}
}

func TestJob_PublishesJobEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	sub := bus.Subscribe(events.TopicJob, 256)

	j, err := New(fooBar(t), "bar", nil, WithEventBus(bus))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runWithTimeout(t, j)

	var sawStart bool
	var finished *events.JobFinishedEvent
	timeout := time.After(2 * time.Second)
	for finished == nil {
		select {
		case ev := <-sub:
			switch e := ev.(type) {
			case events.JobStartedEvent:
				sawStart = e.Job == j.ID() && e.Tasks == 2
			case events.JobFinishedEvent:
				finished = &e
			}
		case <-timeout:
			t.Fatal("no JobFinishedEvent received")
		}
	}
	if !sawStart {
		t.Error("expected a JobStartedEvent with 2 tasks before the finish")
	}
	if finished.State != "succeeded" || finished.Job != j.ID() {
		t.Errorf("finished event = %+v", finished)
	}
}

func TestJob_Journal(t *testing.T) {
	ctx := context.Background()
	store, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	j, err := New(fooBar(t), "bar", definition.Params{"run": "nightly"}, WithStore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runWithTimeout(t, j)

	rec, err := store.GetJob(ctx, j.ID())
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if rec.State != "succeeded" || rec.Scraper != "foo" || rec.Agent != "bar" {
		t.Errorf("job record = %+v", rec)
	}
	if rec.Params["run"] != "nightly" {
		t.Errorf("params = %v", rec.Params)
	}
	if rec.FinishedAt.IsZero() || rec.FinishedAt.Before(rec.StartedAt) {
		t.Errorf("bad timestamps: started %v finished %v", rec.StartedAt, rec.FinishedAt)
	}

	tasks, err := store.ListTaskStates(ctx, j.ID())
	if err != nil {
		t.Fatalf("ListTaskStates: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d task states, want 2", len(tasks))
	}
	for _, task := range tasks {
		if task.State != "succeeded" {
			t.Errorf("%s state = %s", task.Ref, task.State)
		}
	}
	if string(tasks[1].Result) != "43" {
		t.Errorf("t2 result = %s, want 43", tasks[1].Result)
	}
}
