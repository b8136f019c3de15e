package scheduler

import (
	"time"

	"github.com/aristath/yakuza/internal/definition"
)

// TaskState represents the current state of a task instance.
type TaskState int

const (
	TaskPending   TaskState = iota // Waiting for dependencies
	TaskReady                      // All dependencies resolved, waiting for a slot
	TaskRunning                    // Currently executing
	TaskSucceeded                  // Finished successfully
	TaskFailed                     // Finished with error, no attempts left
	TaskSkipped                    // Never ran (failed upstream, halted agent or cancelled job)
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	case TaskSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskSkipped
}

// TaskInstance is one run of a TaskDefinition inside a job.
// Only the scheduler's control loop mutates it.
type TaskInstance struct {
	Ref     definition.TaskRef
	State   TaskState
	Attempt int
	Result  any
	Error   error

	def        *definition.TaskDefinition
	deps       []*TaskInstance
	dependents []*TaskInstance
	seq        int       // position within the agent's included tasks
	notBefore  time.Time // earliest next dispatch after a delayed retry
	failedUp   bool      // skipped because a task it depends on, directly or not, failed
}

// TaskSnapshot is a read-only copy of a TaskInstance.
type TaskSnapshot struct {
	Ref       definition.TaskRef
	DependsOn []definition.TaskRef
	State     TaskState
	Attempt   int
	Result    any
	Error     error
}

func (t *TaskInstance) snapshot() TaskSnapshot {
	deps := make([]definition.TaskRef, 0, len(t.deps))
	for _, d := range t.deps {
		deps = append(deps, d.Ref)
	}
	return TaskSnapshot{
		Ref:       t.Ref,
		DependsOn: deps,
		State:     t.State,
		Attempt:   t.Attempt,
		Result:    t.Result,
		Error:     t.Error,
	}
}
