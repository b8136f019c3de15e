package scheduler

import (
	"fmt"
	"strings"

	"github.com/aristath/yakuza/internal/definition"
)

// CyclicDependencyError reports a dependency cycle found while building a graph.
// Cycle lists the tasks on the cycle, starting and ending with the same task.
type CyclicDependencyError struct {
	Cycle []definition.TaskRef
}

func (e *CyclicDependencyError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, ref := range e.Cycle {
		parts[i] = ref.String()
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

// UnresolvedDependencyError reports a dependency on a task that does not exist.
type UnresolvedDependencyError struct {
	From    definition.TaskRef
	Missing definition.TaskRef
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on non-existent task %s", e.From, e.Missing)
}

// TaskExecutionError wraps an error returned by a task's work function.
// Attempt is zero-based: 0 is the first try.
type TaskExecutionError struct {
	Ref     definition.TaskRef
	Attempt int
	Err     error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s failed on attempt %d: %v", e.Ref, e.Attempt+1, e.Err)
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Err
}
