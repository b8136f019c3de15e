package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/aristath/yakuza/internal/config"
	"github.com/aristath/yakuza/internal/definition"
	"github.com/aristath/yakuza/internal/events"
	"github.com/aristath/yakuza/internal/job"
	"github.com/aristath/yakuza/internal/logging"
	"github.com/aristath/yakuza/internal/persistence"
	"github.com/aristath/yakuza/internal/registry"
	"github.com/aristath/yakuza/internal/resilience"
	"github.com/aristath/yakuza/internal/trigger"
	"github.com/aristath/yakuza/internal/tui"
)

// errJobFailed is returned by run when the job settled as failed.
var errJobFailed = errors.New("job failed")

type cliOptions struct {
	scraper     string
	agent       string
	params      definition.Params
	projectPath string
	cron        string
	tui         bool
}

func parseFlags(args []string, stderr io.Writer) (*cliOptions, error) {
	opts := &cliOptions{params: make(definition.Params)}

	fs := flag.NewFlagSet("yakuza", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.scraper, "scraper", "demo", "scraper to run")
	fs.StringVar(&opts.agent, "agent", "detail-pages", "entry agent of the job")
	fs.StringVar(&opts.projectPath, "config", config.ProjectPath(), "project config file")
	fs.StringVar(&opts.cron, "cron", "", "run the job on a cron schedule instead of once")
	fs.BoolVar(&opts.tui, "tui", false, "monitor the job in an interactive terminal UI")
	fs.Func("param", "job parameter as key=value (repeatable)", func(s string) error {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return fmt.Errorf("parameter %q is not key=value", s)
		}
		switch v {
		case "true":
			opts.params[k] = true
		case "false":
			opts.params[k] = false
		default:
			opts.params[k] = v
		}
		return nil
	})

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.tui && opts.cron != "" {
		return nil, errors.New("-tui and -cron cannot be combined")
	}
	return opts, nil
}

func main() {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errJobFailed) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.GlobalPath(), opts.projectPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// The TUI owns the terminal, so logs go to a file under the XDG state dir
	logOut := stderr
	if opts.tui {
		path, err := xdg.StateFile("yakuza/yakuza.log")
		if err != nil {
			return fmt.Errorf("resolving log file: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	log, err := logging.New(cfg.Log, logOut)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}

	bus := events.NewEventBus()
	defer bus.Close()
	buf := cfg.Engine.EventBuffer
	if buf <= 0 {
		buf = events.DefaultBufferSize
	}
	go logEvents(log, bus.SubscribeAll(buf))

	jobOpts := []job.Option{
		job.WithLogger(log),
		job.WithEventBus(bus),
		job.WithAllowSkippedDependencies(cfg.Engine.AllowSkippedDependencies),
	}
	if cfg.Retry.Enabled {
		jobOpts = append(jobOpts, job.WithBackoff(cfg.Retry.Policy().Backoff()))
	}
	if cfg.Breaker.Enabled {
		jobOpts = append(jobOpts, job.WithBreakers(resilience.NewBreakerRegistry(cfg.Breaker.Policy(), log)))
	}
	if cfg.Store.Enabled {
		store, err := persistence.NewSQLiteStore(ctx, cfg.Store.StorePath())
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer store.Close()
		jobOpts = append(jobOpts, job.WithStore(store))
	}

	reg := registry.New(jobOpts...)
	reg.SetJobLimit(cfg.Engine.MaxParallelJobs)
	if err := registerDemo(reg); err != nil {
		return fmt.Errorf("registering demo scraper: %w", err)
	}

	switch {
	case opts.cron != "":
		return runScheduled(ctx, reg, opts, log, stdout)
	case opts.tui:
		return runMonitored(ctx, reg, bus, cfg, opts, stdout)
	default:
		return runOnce(ctx, reg, opts, stdout)
	}
}

func runOnce(ctx context.Context, reg *registry.Registry, opts *cliOptions, stdout io.Writer) error {
	j, err := reg.Job(opts.scraper, opts.agent, opts.params)
	if err != nil {
		return err
	}
	outcomes, err := reg.RunAll(ctx, j)
	if err != nil {
		return err
	}
	return report(stdout, outcomes[0], j)
}

func runMonitored(ctx context.Context, reg *registry.Registry, bus *events.EventBus, cfg *config.Config, opts *cliOptions, stdout io.Writer) error {
	j, err := reg.Job(opts.scraper, opts.agent, opts.params)
	if err != nil {
		return err
	}

	// The monitor subscribes before the job publishes anything
	model := tui.New(j, bus, cfg, config.GlobalPath(), opts.projectPath)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	done, err := j.Start(ctx)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	var tuiErr error
	select {
	case tuiErr = <-errChan:
	case <-ctx.Done():
		j.Cancel()
		p.Quit()
		select {
		case tuiErr = <-errChan:
		case <-time.After(10 * time.Second):
			tuiErr = errors.New("shutdown timeout exceeded")
		}
	}
	if tuiErr != nil && !errors.Is(tuiErr, tea.ErrProgramKilled) {
		return fmt.Errorf("running monitor: %w", tuiErr)
	}

	// Quitting the monitor cancels a running job, so this settles promptly
	return report(stdout, <-done, j)
}

func runScheduled(ctx context.Context, reg *registry.Registry, opts *cliOptions, log zerolog.Logger, stdout io.Writer) error {
	sched := trigger.New(reg, log, func(s trigger.Schedule, outcome job.Outcome) {
		fmt.Fprintf(stdout, "[%s] job %s %s\n", s.Name, outcome.JobID, outcome.State)
		for _, err := range outcome.Errors {
			fmt.Fprintf(stdout, "  - %v\n", err)
		}
	})

	name := opts.scraper + "/" + opts.agent
	if err := sched.Add(trigger.Schedule{
		Name:    name,
		Spec:    opts.cron,
		Scraper: opts.scraper,
		Agent:   opts.agent,
		Params:  opts.params,
	}); err != nil {
		return err
	}

	sched.Start()
	if next, ok := sched.Next(name); ok {
		log.Info().Str("schedule", name).Time("next", next).Msg("waiting for schedule")
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sched.Stop(shutdownCtx)
}

func report(w io.Writer, outcome job.Outcome, j *job.Job) error {
	fmt.Fprintln(w, tui.Summary(outcome, j.Tasks()))
	if outcome.State != job.StateSucceeded {
		return errJobFailed
	}
	return nil
}

// logEvents writes every bus event to the debug log until the bus closes.
func logEvents(log zerolog.Logger, sub <-chan events.Event) {
	for ev := range sub {
		e := log.Debug().Str("event", ev.EventType()).Str("job", ev.JobID())
		if id := ev.TaskID(); id != "" {
			e = e.Str("task", id)
		}
		e.Msg("event")
	}
}
