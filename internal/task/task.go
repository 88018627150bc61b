// Package task tracks asynchronous meeting-minutes generation requests.
//
// A Registry holds every task for the lifetime of the process. A Runner
// creates tasks, executes them on a bounded set of background workers and
// records each transition in the Registry, so callers can poll status
// without blocking on execution.
package task

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a task. Transitions only move forward:
// pending → processing → completed | failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	msgCreated    = "Task created, waiting to be processed"
	msgSubmitted  = "Task created, poll its status with the task id"
	msgProcessing = "Generating meeting minutes..."
	msgCompleted  = "Meeting minutes generated"
	msgFailed     = "Meeting minutes generation failed"
)

var (
	// ErrNotFound is returned for an unknown task id.
	ErrNotFound = errors.New("task not found")
	// ErrEmptyConversation is returned when the submitted text is blank.
	ErrEmptyConversation = errors.New("conversation must not be empty")
	// ErrClosed is returned by Submit after the runner has been closed.
	ErrClosed = errors.New("task runner closed")
)

// Result is the payload attached to a completed task.
type Result struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
}

// Task is a snapshot of one summarization request.
type Task struct {
	ID        string    `json:"task_id"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Result    *Result   `json:"result"`
	Error     string    `json:"error,omitempty"`
}

// Summary is the list view of a task; results and errors are omitted.
type Summary struct {
	ID        string    `json:"task_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Task) clone() Task {
	c := *t
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return c
}
