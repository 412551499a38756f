package models

import (
	"encoding/json"
	"time"
)

// RetryPolicy controls how many times a step is attempted and the spacing
// between attempts.
type RetryPolicy struct {
	MaxAttempts int    `json:"maxAttempts"`
	Backoff     string `json:"backoff"` // "fixed" | "exponential"
}

// DefaultRetryPolicy matches the spec default: no retry.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Backoff: BackoffFixed}
}

const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"

	DefaultStepTimeoutMS = 30000
)

// Step is one node of a workflow's DAG, embedded in WorkflowSpec.
type Step struct {
	ID      string                 `json:"id"`
	Plugin  string                 `json:"plugin"`
	Action  string                 `json:"action"`
	Input   map[string]interface{} `json:"input,omitempty"`
	Needs   []string               `json:"needs,omitempty"`
	Timeout *int64                 `json:"timeout,omitempty"`
	Retry   *RetryPolicy           `json:"retry,omitempty"`
}

// TimeoutOrDefault returns the step's configured timeout, or the spec
// default of 30s.
func (s *Step) TimeoutOrDefault() time.Duration {
	if s.Timeout == nil || *s.Timeout <= 0 {
		return DefaultStepTimeoutMS * time.Millisecond
	}
	return time.Duration(*s.Timeout) * time.Millisecond
}

// RetryOrDefault returns the step's retry policy, or the spec default of
// a single attempt.
func (s *Step) RetryOrDefault() RetryPolicy {
	if s.Retry == nil {
		return DefaultRetryPolicy()
	}
	r := *s.Retry
	if r.MaxAttempts < 1 {
		r.MaxAttempts = 1
	}
	if r.Backoff != BackoffExponential {
		r.Backoff = BackoffFixed
	}
	return r
}

// WorkflowSpec is the immutable document a Workflow is created from.
type WorkflowSpec struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Workflow is a named, immutable DAG of steps.
type Workflow struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Spec      WorkflowSpec    `json:"spec"`
	RawSpec   json.RawMessage `json:"-"`
	CreatedAt time.Time       `json:"created_at"`
}
