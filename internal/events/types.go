package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	JobID() string
	TaskID() string
}

// Topic constants
const (
	TopicJob  = "job"
	TopicTask = "task"
)

// Event type constants
const (
	EventTypeJobStarted    = "job.started"
	EventTypeJobProgress   = "job.progress"
	EventTypeJobFinished   = "job.finished"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskRetrying  = "task.retrying"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskSkipped   = "task.skipped"
)

// JobStartedEvent is published when a job starts running.
type JobStartedEvent struct {
	Job       string
	Scraper   string
	Agent     string
	Tasks     int
	Timestamp time.Time
}

func (e JobStartedEvent) EventType() string { return EventTypeJobStarted }
func (e JobStartedEvent) JobID() string     { return e.Job }
func (e JobStartedEvent) TaskID() string    { return "" }

// JobProgressEvent is published whenever a task changes state.
type JobProgressEvent struct {
	Job       string
	Total     int
	Pending   int
	Ready     int
	Running   int
	Succeeded int
	Failed    int
	Skipped   int
	Timestamp time.Time
}

func (e JobProgressEvent) EventType() string { return EventTypeJobProgress }
func (e JobProgressEvent) JobID() string     { return e.Job }
func (e JobProgressEvent) TaskID() string    { return "" }

// JobFinishedEvent is published when a job reaches a terminal state.
type JobFinishedEvent struct {
	Job       string
	State     string
	Errors    []error
	Duration  time.Duration
	Timestamp time.Time
}

func (e JobFinishedEvent) EventType() string { return EventTypeJobFinished }
func (e JobFinishedEvent) JobID() string     { return e.Job }
func (e JobFinishedEvent) TaskID() string    { return "" }

// TaskStartedEvent is published when a task attempt is dispatched.
type TaskStartedEvent struct {
	Job       string
	ID        string
	Agent     string
	Attempt   int
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) JobID() string     { return e.Job }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task succeeds.
type TaskCompletedEvent struct {
	Job       string
	ID        string
	Result    any
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) JobID() string     { return e.Job }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskRetryingEvent is published when a failed attempt is scheduled for retry.
type TaskRetryingEvent struct {
	Job       string
	ID        string
	Attempt   int // the attempt about to run
	Delay     time.Duration
	Err       error
	Timestamp time.Time
}

func (e TaskRetryingEvent) EventType() string { return EventTypeTaskRetrying }
func (e TaskRetryingEvent) JobID() string     { return e.Job }
func (e TaskRetryingEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails with no attempts left.
type TaskFailedEvent struct {
	Job       string
	ID        string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) JobID() string     { return e.Job }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskSkippedEvent is published when a task will never run.
type TaskSkippedEvent struct {
	Job       string
	ID        string
	Reason    string
	Timestamp time.Time
}

func (e TaskSkippedEvent) EventType() string { return EventTypeTaskSkipped }
func (e TaskSkippedEvent) JobID() string     { return e.Job }
func (e TaskSkippedEvent) TaskID() string    { return e.ID }
