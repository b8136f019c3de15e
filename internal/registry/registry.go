package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/yakuza/internal/definition"
	"github.com/aristath/yakuza/internal/job"
)

// Registry holds scraper definitions and creates jobs from them.
// Create one per process or per test; Reset tears it down.
type Registry struct {
	mu       sync.RWMutex
	scrapers map[string]*definition.ScraperDefinition
	defaults []job.Option
	jobLimit int
}

// New creates an empty registry. opts apply to every job it creates.
func New(opts ...job.Option) *Registry {
	return &Registry{
		scrapers: make(map[string]*definition.ScraperDefinition),
		defaults: opts,
	}
}

// Scraper returns the scraper with id, creating it on first use.
func (r *Registry) Scraper(id string) *definition.ScraperDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.scrapers[id]; ok {
		return s
	}
	s := definition.NewScraper(id)
	r.scrapers[id] = s
	return s
}

// Lookup returns an existing scraper.
func (r *Registry) Lookup(id string) (*definition.ScraperDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[id]
	return s, ok
}

// Scrapers returns the registered scraper IDs, sorted.
func (r *Registry) Scrapers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.scrapers))
	for id := range r.scrapers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Job creates a job running agentID of scraperID with params.
// Unknown scrapers and agents yield a NotFoundError; no scraper is created.
func (r *Registry) Job(scraperID, agentID string, params definition.Params, opts ...job.Option) (*job.Job, error) {
	s, ok := r.Lookup(scraperID)
	if !ok {
		return nil, &definition.NotFoundError{Kind: "scraper", ID: scraperID}
	}
	if _, ok := s.Lookup(agentID); !ok {
		return nil, &definition.NotFoundError{Kind: "agent", ID: agentID}
	}

	r.mu.RLock()
	all := append(slices.Clone(r.defaults), opts...)
	r.mu.RUnlock()

	return job.New(s, agentID, params, all...)
}

// SetJobLimit caps how many jobs RunAll runs at once. Zero or less means no cap.
func (r *Registry) SetJobLimit(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobLimit = n
}

// RunAll runs independent jobs concurrently and returns their outcomes in
// argument order. Job failures are reported in the outcomes; the error is
// the first job that could not be run at all.
func (r *Registry) RunAll(ctx context.Context, jobs ...*job.Job) ([]job.Outcome, error) {
	r.mu.RLock()
	limit := r.jobLimit
	r.mu.RUnlock()

	outcomes := make([]job.Outcome, len(jobs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, j := range jobs {
		g.Go(func() error {
			outcome, err := j.Run(ctx)
			if err != nil {
				return fmt.Errorf("running job %s: %w", j.ID(), err)
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Reset drops every scraper definition. Jobs already created keep running
// against their own snapshots.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrapers = make(map[string]*definition.ScraperDefinition)
}
