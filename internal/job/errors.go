package job

import (
	"fmt"

	"github.com/aristath/yakuza/internal/definition"
)

// AlreadyRunningError is returned when a job that is not in the created state is run again.
type AlreadyRunningError struct {
	JobID string
	State State
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("job %s cannot run: already %s", e.JobID, e.State)
}

// TaskNotCompleteError is returned when asking for the result of a task that did not succeed.
type TaskNotCompleteError struct {
	Ref   definition.TaskRef
	State string
}

func (e *TaskNotCompleteError) Error() string {
	return fmt.Sprintf("task %s has no result: %s", e.Ref, e.State)
}
