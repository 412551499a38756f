package models

import (
	"encoding/json"
	"time"
)

const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueCompleted  = "completed"
	QueueFailed     = "failed"
)

// QueueRow is one row of the persistent task queue. TaskID is unique and,
// for this core, equals the execution id the row carries work for.
type QueueRow struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	Priority    int             `json:"priority"`
	Payload     json.RawMessage `json:"payload"`
	MaxRetries  int             `json:"max_retries"`
	RetryCount  int             `json:"retry_count"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	Status      string          `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// QueueStats is a count of rows by status.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}
