package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes OS processes from in-process tasks.
type Kind string

const (
	KindProcess Kind = "process"
	KindTask    Kind = "task"
)

// Status is the lifecycle state of a worker.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusCrashed Status = "crashed"
	StatusAbsent  Status = "absent"
)

// TaskFunc is the body of a task worker. It must return once ctx is done.
type TaskFunc func(ctx context.Context) error

// Definition declares one worker.
type Definition struct {
	Name string
	Kind Kind

	// Command and Args start a process worker. Script, when set, must
	// exist before each launch and is passed as the last argument.
	Command string
	Args    []string
	Script  string

	// Task names the registered TaskFunc of a task worker. Empty means Name.
	Task string

	// Disabled workers are declared but not launched until Start.
	Disabled bool
}

func (d Definition) taskName() string {
	if d.Task != "" {
		return d.Task
	}
	return d.Name
}

// Launch describes how the worker is started, for reports.
func (d Definition) Launch() string {
	if d.Kind == KindTask {
		return "task:" + d.taskName()
	}
	parts := append([]string{d.Command}, d.Args...)
	if d.Script != "" {
		parts = append(parts, d.Script)
	}
	return strings.Join(parts, " ")
}

// Record is a point-in-time copy of a worker's state.
type Record struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Launch    string    `json:"launch"`
	Status    Status    `json:"status"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// String formats the record as one report line.
func (r Record) String() string {
	lastErr := r.LastError
	if lastErr == "" {
		lastErr = "none"
	}
	return fmt.Sprintf("%s: %s (restarts: %d, last_error: %s)", r.Name, r.Status, r.Restarts, lastErr)
}
