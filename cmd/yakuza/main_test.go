package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/yakuza/internal/definition"
	"github.com/aristath/yakuza/internal/persistence"
)

// syncBuffer is a bytes.Buffer safe for the cron goroutines to write to.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// writeConfig writes a project config that keeps test runs quiet and fast.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"log": {"level": "error"}, "retry": {"enabled": false}` + extra + `}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantErr    bool
		wantAgent  string
		wantParams definition.Params
	}{
		{name: "defaults", args: nil, wantAgent: "detail-pages", wantParams: definition.Params{}},
		{
			name:       "params",
			args:       []string{"-agent", "list-pages", "-param", "user=ann", "-param", "flaky=true"},
			wantAgent:  "list-pages",
			wantParams: definition.Params{"user": "ann", "flaky": true},
		},
		{name: "malformed param", args: []string{"-param", "nokey"}, wantErr: true},
		{name: "tui with cron", args: []string{"-tui", "-cron", "@every 1m"}, wantErr: true},
		{name: "unknown flag", args: []string{"-bogus"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args, &bytes.Buffer{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags: %v", err)
			}
			if opts.agent != tt.wantAgent {
				t.Errorf("agent = %s, want %s", opts.agent, tt.wantAgent)
			}
			if len(opts.params) != len(tt.wantParams) {
				t.Fatalf("params = %v, want %v", opts.params, tt.wantParams)
			}
			for k, v := range tt.wantParams {
				if opts.params[k] != v {
					t.Errorf("params[%s] = %v, want %v", k, opts.params[k], v)
				}
			}
		})
	}
}

func TestRunOnce(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		contains []string
	}{
		{
			name:     "detail pages",
			args:     []string{"-param", "delay=1ms"},
			contains: []string{"succeeded", "detail-pages/detail-3", "list-pages/page-2", "login/session"},
		},
		{
			name:     "flaky listing is retried",
			args:     []string{"-param", "delay=1ms", "-param", "flaky=true"},
			contains: []string{"succeeded", "attempts: 2"},
		},
		{
			name:     "listing agent as entry",
			args:     []string{"-agent", "list-pages", "-param", "delay=1ms"},
			contains: []string{"list-pages/page-3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			args := append([]string{"-config", writeConfig(t, "")}, tt.args...)
			if err := run(context.Background(), args, &stdout, &stderr); err != nil {
				t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
			}
			for _, want := range tt.contains {
				if !strings.Contains(stdout.String(), want) {
					t.Errorf("output missing %q:\n%s", want, stdout.String())
				}
			}
		})
	}
}

func TestRunUnknownAgent(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", writeConfig(t, ""), "-agent", "ghost"}, &stdout, &stderr)

	var nf *definition.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "agent" {
		t.Fatalf("expected agent NotFoundError, got %v", err)
	}
}

func TestRunBadDelayFails(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-config", writeConfig(t, ""), "-param", "delay=soon"}, &stdout, &stderr)
	if !errors.Is(err, errJobFailed) {
		t.Fatalf("expected errJobFailed, got %v", err)
	}
	if !strings.Contains(stdout.String(), "parsing delay") {
		t.Errorf("summary does not report the task error:\n%s", stdout.String())
	}
}

func TestRunJournalsToStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	cfgPath := writeConfig(t, `, "store": {"enabled": true, "path": "`+dbPath+`"}`)

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"-config", cfgPath, "-param", "delay=1ms"}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}

	ctx := context.Background()
	store, err := persistence.NewSQLiteStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	defer store.Close()

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].State != "succeeded" || jobs[0].Agent != "detail-pages" {
		t.Fatalf("unexpected journal: %+v", jobs)
	}
	tasks, err := store.ListTaskStates(ctx, jobs[0].ID)
	if err != nil {
		t.Fatalf("ListTaskStates: %v", err)
	}
	if len(tasks) != 7 {
		t.Errorf("expected 7 journaled tasks, got %d", len(tasks))
	}
}

func TestRunScheduled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	var stdout syncBuffer
	var stderr bytes.Buffer
	args := []string{"-config", writeConfig(t, ""), "-cron", "@every 1s", "-param", "delay=1ms"}
	if err := run(ctx, args, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), "[demo/detail-pages] job") || !strings.Contains(stdout.String(), "succeeded") {
		t.Errorf("no scheduled run reported:\n%s", stdout.String())
	}
}
