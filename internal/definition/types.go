package definition

import (
	"context"
	"sort"
	"time"
)

// Params are the caller-supplied parameters of a job, passed to every work function.
type Params map[string]any

// TaskRef identifies a task by owning agent and task name.
type TaskRef struct {
	Agent string
	Task  string
}

// Ref builds a reference to a task of another agent.
func Ref(agent, task string) TaskRef {
	return TaskRef{Agent: agent, Task: task}
}

// Local builds a reference to a task of the same agent.
// The agent is filled in when the task is registered.
func Local(task string) TaskRef {
	return TaskRef{Task: task}
}

func (r TaskRef) String() string {
	return r.Agent + "/" + r.Task
}

// Results holds the results of a task's resolved dependencies.
type Results map[TaskRef]any

// Of returns the result of the given dependency.
func (r Results) Of(agent, task string) (any, bool) {
	v, ok := r[TaskRef{Agent: agent, Task: task}]
	return v, ok
}

// Task returns the result of a dependency by task name alone.
// When several agents have a dependency with that name, the first in ref order wins.
func (r Results) Task(name string) (any, bool) {
	refs := make([]TaskRef, 0, len(r))
	for ref := range r {
		if ref.Task == name {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return nil, false
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return r[refs[0]], true
}

// Executable is the unit of work a task runs.
// Implementations must honor ctx cancellation and be safe to retry when the task is retryable.
type Executable interface {
	Execute(ctx context.Context, params Params, deps Results) (any, error)
}

// ExecFunc adapts a plain function to Executable.
type ExecFunc func(ctx context.Context, params Params, deps Results) (any, error)

// Execute calls f.
func (f ExecFunc) Execute(ctx context.Context, params Params, deps Results) (any, error) {
	return f(ctx, params, deps)
}

// AgentOptions configure an agent when it is first created.
type AgentOptions struct {
	Concurrency   int     // Max running tasks of this agent per job (0 = unbounded)
	Ordered       bool    // Run tasks one at a time in declaration order
	HaltOnFailure bool    // Ordered agents only: skip remaining tasks after a failure
	RateLimit     float64 // Task starts per second (0 = unlimited)
	Burst         int     // Rate limiter burst (defaults to 1)
}

// TaskOptions configure a task.
type TaskOptions struct {
	DependsOn  []TaskRef
	Retryable  bool
	MaxRetries int
	Timeout    time.Duration // 0 = no timeout
}

// TaskDefinition is the static description of a task.
type TaskDefinition struct {
	Name       string
	Agent      string
	DependsOn  []TaskRef
	Work       Executable
	Retryable  bool
	MaxRetries int
	Timeout    time.Duration
}

// Ref returns the task's identity.
func (t *TaskDefinition) Ref() TaskRef {
	return TaskRef{Agent: t.Agent, Task: t.Name}
}

func (t *TaskDefinition) clone() *TaskDefinition {
	cp := *t
	cp.DependsOn = append([]TaskRef(nil), t.DependsOn...)
	return &cp
}
