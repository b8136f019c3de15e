package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/yakuza/internal/definition"
	"github.com/aristath/yakuza/internal/registry"
)

// demoSite stands in for a remote catalogue: page name to item IDs.
var demoSite = map[string][]string{
	"page-1": {"a1", "a2", "a3"},
	"page-2": {"b1", "b2"},
	"page-3": {"c1", "c2", "c3", "c4"},
}

var demoPages = []string{"page-1", "page-2", "page-3"}

// flakyOnce fails the first call for each key, then succeeds.
type flakyOnce struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *flakyOnce) fail(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[key] {
		return false
	}
	f.seen[key] = true
	return true
}

// registerDemo registers the "demo" scraper: a login step, a rate limited
// listing agent and an ordered detail agent that walks each listing.
//
// Params: "user" (login name), "delay" (per-request latency, default 20ms) and
// "flaky" (when true, the first request for each page fails and is retried).
func registerDemo(reg *registry.Registry) error {
	s := reg.Scraper("demo")
	flaky := &flakyOnce{seen: make(map[string]bool)}

	login := s.Agent("login", definition.AgentOptions{})
	if _, err := login.Task("session", definition.TaskOptions{Timeout: 5 * time.Second}, definition.ExecFunc(
		func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
			user, _ := params["user"].(string)
			if user == "" {
				user = "guest"
			}
			if err := fetch(ctx, params); err != nil {
				return nil, err
			}
			return "session-" + user, nil
		})); err != nil {
		return err
	}

	list := s.Agent("list-pages", definition.AgentOptions{Concurrency: 2, RateLimit: 20, Burst: 2})
	for _, page := range demoPages {
		if _, err := list.Task(page, definition.TaskOptions{
			DependsOn:  []definition.TaskRef{definition.Ref("login", "session")},
			Retryable:  true,
			MaxRetries: 2,
			Timeout:    5 * time.Second,
		}, definition.ExecFunc(func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
			if _, ok := deps.Of("login", "session"); !ok {
				return nil, fmt.Errorf("%s: no session", page)
			}
			if err := fetch(ctx, params); err != nil {
				return nil, err
			}
			if on, _ := params["flaky"].(bool); on && flaky.fail(page) {
				return nil, fmt.Errorf("%s: 503 service unavailable", page)
			}
			return demoSite[page], nil
		})); err != nil {
			return err
		}
	}

	detail := s.Agent("detail-pages", definition.AgentOptions{Ordered: true})
	for i, page := range demoPages {
		if _, err := detail.Task(fmt.Sprintf("detail-%d", i+1), definition.TaskOptions{
			DependsOn: []definition.TaskRef{definition.Ref("list-pages", page)},
		}, definition.ExecFunc(func(ctx context.Context, params definition.Params, deps definition.Results) (any, error) {
			v, _ := deps.Of("list-pages", page)
			items, _ := v.([]string)
			details := make(map[string]string, len(items))
			for _, item := range items {
				if err := fetch(ctx, params); err != nil {
					return nil, err
				}
				details[item] = "item " + item + " from " + page
			}
			return details, nil
		})); err != nil {
			return err
		}
	}
	return nil
}

// fetch simulates request latency and honours cancellation.
func fetch(ctx context.Context, params definition.Params) error {
	delay := 20 * time.Millisecond
	if s, ok := params["delay"].(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parsing delay: %w", err)
		}
		delay = d
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
