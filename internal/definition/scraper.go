package definition

import (
	"fmt"
	"sync"
)

// AgentDefinition groups tasks under a shared concurrency and ordering policy.
type AgentDefinition struct {
	Name          string
	Concurrency   int
	Ordered       bool
	HaltOnFailure bool
	RateLimit     float64
	Burst         int

	mu    sync.RWMutex
	tasks []*TaskDefinition
	index map[string]*TaskDefinition
}

func newAgent(name string, opts AgentOptions) *AgentDefinition {
	if opts.Concurrency < 0 {
		opts.Concurrency = 0
	}
	if opts.RateLimit > 0 && opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &AgentDefinition{
		Name:          name,
		Concurrency:   opts.Concurrency,
		Ordered:       opts.Ordered,
		HaltOnFailure: opts.HaltOnFailure,
		RateLimit:     opts.RateLimit,
		Burst:         opts.Burst,
		index:         make(map[string]*TaskDefinition),
	}
}

// Task registers a task on the agent.
// Dependencies built with Local are bound to this agent.
func (a *AgentDefinition) Task(name string, opts TaskOptions, work Executable) (*TaskDefinition, error) {
	if name == "" {
		return nil, fmt.Errorf("agent %q: task name is required", a.Name)
	}
	if work == nil {
		return nil, fmt.Errorf("task %q: work is required", name)
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("task %q: max retries must be >= 0, got %d", name, opts.MaxRetries)
	}

	deps := make([]TaskRef, 0, len(opts.DependsOn))
	for _, dep := range opts.DependsOn {
		if dep.Task == "" {
			return nil, fmt.Errorf("task %q: dependency with empty task name", name)
		}
		if dep.Agent == "" {
			dep.Agent = a.Name
		}
		deps = append(deps, dep)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.index[name]; exists {
		return nil, fmt.Errorf("task %q already exists in agent %q", name, a.Name)
	}

	task := &TaskDefinition{
		Name:       name,
		Agent:      a.Name,
		DependsOn:  deps,
		Work:       work,
		Retryable:  opts.Retryable,
		MaxRetries: opts.MaxRetries,
		Timeout:    opts.Timeout,
	}
	a.tasks = append(a.tasks, task)
	a.index[name] = task
	return task, nil
}

// Lookup returns a task by name.
func (a *AgentDefinition) Lookup(name string) (*TaskDefinition, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.index[name]
	return t, ok
}

// Tasks returns the agent's tasks in declaration order.
func (a *AgentDefinition) Tasks() []*TaskDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*TaskDefinition(nil), a.tasks...)
}

func (a *AgentDefinition) clone() *AgentDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cp := &AgentDefinition{
		Name:          a.Name,
		Concurrency:   a.Concurrency,
		Ordered:       a.Ordered,
		HaltOnFailure: a.HaltOnFailure,
		RateLimit:     a.RateLimit,
		Burst:         a.Burst,
		tasks:         make([]*TaskDefinition, 0, len(a.tasks)),
		index:         make(map[string]*TaskDefinition, len(a.tasks)),
	}
	for _, t := range a.tasks {
		tc := t.clone()
		cp.tasks = append(cp.tasks, tc)
		cp.index[tc.Name] = tc
	}
	return cp
}

// ScraperDefinition is a named workflow template made of agents.
type ScraperDefinition struct {
	ID string

	mu     sync.RWMutex
	agents []*AgentDefinition
	index  map[string]*AgentDefinition
}

// NewScraper creates an empty scraper definition.
func NewScraper(id string) *ScraperDefinition {
	return &ScraperDefinition{
		ID:    id,
		index: make(map[string]*AgentDefinition),
	}
}

// Agent returns the named agent, creating it with opts if it does not exist.
// Options passed for an existing agent are ignored.
func (s *ScraperDefinition) Agent(name string, opts AgentOptions) *AgentDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.index[name]; ok {
		return a
	}
	a := newAgent(name, opts)
	s.agents = append(s.agents, a)
	s.index[name] = a
	return a
}

// Lookup returns an existing agent.
func (s *ScraperDefinition) Lookup(name string) (*AgentDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.index[name]
	return a, ok
}

// Agents returns the scraper's agents in declaration order.
func (s *ScraperDefinition) Agents() []*AgentDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*AgentDefinition(nil), s.agents...)
}

// Snapshot returns a deep copy of the scraper. Jobs run against snapshots,
// so registrations made after a job is created never reach that job.
func (s *ScraperDefinition) Snapshot() *ScraperDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := &ScraperDefinition{
		ID:     s.ID,
		agents: make([]*AgentDefinition, 0, len(s.agents)),
		index:  make(map[string]*AgentDefinition, len(s.agents)),
	}
	for _, a := range s.agents {
		ac := a.clone()
		cp.agents = append(cp.agents, ac)
		cp.index[ac.Name] = ac
	}
	return cp
}

// Resolve returns the task a reference points to.
func (s *ScraperDefinition) Resolve(ref TaskRef) (*TaskDefinition, bool) {
	a, ok := s.Lookup(ref.Agent)
	if !ok {
		return nil, false
	}
	return a.Lookup(ref.Task)
}
