package models

import (
	"encoding/json"
	"time"
)

const (
	ExecutionPending   = "pending"
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// Execution is one attempt to run a submitted workflow end-to-end.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	Status      string          `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IsTerminal reports whether the execution has reached completed or failed.
func (e *Execution) IsTerminal() bool {
	return e.Status == ExecutionCompleted || e.Status == ExecutionFailed
}

// ExecutionStats is a count of executions by status.
type ExecutionStats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
