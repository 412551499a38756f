// Package engine drives a submitted workflow from pending to a terminal
// status: it resolves the DAG, runs each step through the executor in
// topological order, and records tasks and events as it goes. The engine
// hands the actual scheduling of work to the persistent queue; it only
// decides what happens once a row is dequeued.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloudshipai/workflowcore/internal/db/repositories"
	"github.com/cloudshipai/workflowcore/internal/logging"
	"github.com/cloudshipai/workflowcore/internal/telemetry"
	"github.com/cloudshipai/workflowcore/pkg/dag"
	"github.com/cloudshipai/workflowcore/pkg/executor"
	"github.com/cloudshipai/workflowcore/pkg/models"
	"github.com/cloudshipai/workflowcore/pkg/queue"
)

const cleanupAge = 24 * time.Hour

// ResolverError reports a DAG validation failure from Submit: a cycle,
// missing dependency, or other structural problem with the workflow spec.
// Callers use it to distinguish a rejected submission (400) from a store or
// infrastructure failure (500).
type ResolverError struct {
	Errors []string
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("invalid workflow spec: %v", e.Errors)
}

// queuePayload is what the engine enqueues for each submitted execution.
type queuePayload struct {
	ExecutionID string `json:"execution_id"`
}

// Status bundles an execution with its tasks and events for GetStatus.
type Status struct {
	Execution *models.Execution `json:"execution"`
	Tasks     []*models.Task    `json:"tasks"`
	Events    []*models.Event   `json:"events"`
}

// Engine ties the DAG resolver, step executor, and persistent queue
// together into the submit/execute/observe lifecycle.
type Engine struct {
	repos   *repositories.Repositories
	exec    *executor.Executor
	q       *queue.Queue
	proc    *queue.Processor
	cronJob *cron.Cron
	tel     *telemetry.Telemetry

	mu      sync.Mutex
	running bool
}

func New(repos *repositories.Repositories, exec *executor.Executor, q *queue.Queue, pollInterval time.Duration) *Engine {
	e := &Engine{repos: repos, exec: exec, q: q}
	e.proc = queue.NewProcessor(q, pollInterval, e.handle)
	return e
}

// SetTelemetry attaches tracing/metrics recording to the engine's execution
// and step lifecycle. Optional: a nil or unset telemetry means no spans or
// counters are recorded.
func (e *Engine) SetTelemetry(tel *telemetry.Telemetry) {
	e.tel = tel
	if tel == nil {
		e.proc.OnRetry(nil)
		return
	}
	e.proc.OnRetry(func(taskID string) {
		tel.RecordRetry(context.Background(), taskID)
	})
}

// Start begins the queue processor and an hourly cleanup timer. It is
// idempotent: calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true

	e.proc.Start(ctx)

	e.cronJob = cron.New()
	_, err := e.cronJob.AddFunc("@hourly", func() {
		removed, err := e.q.Cleanup(context.Background(), cleanupAge)
		if err != nil {
			logging.Error("engine cleanup failed: %v", err)
			return
		}
		if removed > 0 {
			logging.Info("engine cleanup removed %d stale queue rows", removed)
		}
	})
	if err != nil {
		logging.Error("engine failed to schedule cleanup job: %v", err)
	}
	e.cronJob.Start()
}

// Stop halts the queue processor and cleanup timer. Submit rejects further
// work once Stop has run. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false

	e.proc.Stop()
	if e.cronJob != nil {
		cronCtx := e.cronJob.Stop()
		<-cronCtx.Done()
	}
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// IsRunning reports whether Start has been called without a matching Stop.
func (e *Engine) IsRunning() bool {
	return e.isRunning()
}

// Submit validates spec's DAG, persists the Workflow and a pending
// Execution, records the workflow_submitted event, and enqueues the
// execution for processing.
func (e *Engine) Submit(ctx context.Context, name string, spec models.WorkflowSpec) (workflowID, executionID string, err error) {
	if !e.isRunning() {
		return "", "", fmt.Errorf("engine is not running")
	}

	result := dag.Validate(&spec)
	if !result.Valid {
		return "", "", &ResolverError{Errors: result.Errors}
	}

	rawSpec, err := json.Marshal(spec)
	if err != nil {
		return "", "", fmt.Errorf("marshal workflow spec: %w", err)
	}

	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:        uuid.NewString(),
		Name:      name,
		Spec:      spec,
		RawSpec:   rawSpec,
		CreatedAt: now,
	}
	if err := e.repos.Workflows.Create(ctx, workflow); err != nil {
		return "", "", fmt.Errorf("persist workflow: %w", err)
	}

	execution := &models.Execution{
		ID:         uuid.NewString(),
		WorkflowID: workflow.ID,
		Status:     models.ExecutionPending,
		CreatedAt:  now,
	}
	if err := e.repos.Executions.Create(ctx, execution); err != nil {
		return "", "", fmt.Errorf("persist execution: %w", err)
	}

	if err := e.appendEvent(ctx, execution.ID, models.EventWorkflowSubmitted, map[string]interface{}{
		"workflowId": workflow.ID,
		"name":       workflow.Name,
	}); err != nil {
		return "", "", err
	}

	payload := queuePayload{ExecutionID: execution.ID}
	if _, err := e.q.Enqueue(ctx, execution.ID, payload, queue.EnqueueOptions{Priority: 0, MaxRetries: 1}); err != nil {
		return "", "", fmt.Errorf("enqueue execution: %w", err)
	}

	return workflow.ID, execution.ID, nil
}

// GetStatus returns an execution's current state with its tasks and
// events, or nil if executionID is unknown.
func (e *Engine) GetStatus(ctx context.Context, executionID string) (*Status, error) {
	execution, err := e.repos.Executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, nil
	}

	tasks, err := e.repos.Tasks.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for execution %s: %w", executionID, err)
	}

	events, err := e.repos.Events.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("list events for execution %s: %w", executionID, err)
	}

	return &Status{Execution: execution, Tasks: tasks, Events: events}, nil
}

// Stats reports the persistent queue's row counts by status.
func (e *Engine) Stats(ctx context.Context) (*models.QueueStats, error) {
	return e.q.Stats(ctx)
}

// ExecutionStats returns execution counts grouped by status, alongside
// Stats's queue-row counts, for the admission API's combined stats endpoint.
func (e *Engine) ExecutionStats(ctx context.Context) (*models.ExecutionStats, error) {
	return e.repos.Executions.GetExecutionStats(ctx)
}

// handle is the queue.Handler the engine registers with its Processor. It
// always returns nil on a successfully *run* execution, even when the
// workflow itself failed: a failed workflow is a terminal, observable
// outcome recorded on the execution record, not a queue-level retry signal.
// handle returns a non-nil error only for infrastructure failures that
// prevented the execution from running at all.
func (e *Engine) handle(ctx context.Context, row *queue.DequeuedRow) error {
	var payload queuePayload
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return fmt.Errorf("decode queue payload for row %s: %w", row.ID, err)
	}

	if err := e.runExecution(ctx, payload.ExecutionID); err != nil {
		return fmt.Errorf("run execution %s: %w", payload.ExecutionID, err)
	}
	return nil
}

// runExecution drives one execution from pending through every step in
// topological order to a terminal status. Any error it returns is an
// infrastructure failure (store unreachable, spec corrupt); step failures
// are captured on the execution itself and never returned as an error.
func (e *Engine) runExecution(ctx context.Context, executionID string) error {
	execution, err := e.repos.Executions.GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}

	workflow, err := e.repos.Workflows.GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	order, err := dag.Resolve(&workflow.Spec)
	if err != nil {
		return e.failExecution(ctx, execution, fmt.Sprintf("resolve workflow dag: %v", err))
	}

	stepsByID := make(map[string]models.Step, len(workflow.Spec.Steps))
	for _, s := range workflow.Spec.Steps {
		stepsByID[s.ID] = s
	}

	now := time.Now().UTC()
	execution.Status = models.ExecutionRunning
	execution.StartedAt = &now
	if err := e.repos.Executions.UpdateStatus(ctx, execution); err != nil {
		return fmt.Errorf("mark execution running: %w", err)
	}
	if err := e.appendEvent(ctx, execution.ID, models.EventExecutionStarted, nil); err != nil {
		return err
	}

	var span trace.Span
	if e.tel != nil {
		ctx, span = e.tel.StartExecutionSpan(ctx, execution.ID, workflow.Name)
	}

	stepCtx := executor.StepContext{}

	for _, stepID := range order {
		step := stepsByID[stepID]

		task := &models.Task{
			ID:          ulid.Make().String(),
			ExecutionID: execution.ID,
			StepID:      step.ID,
			PluginID:    step.Plugin,
			Action:      step.Action,
			Status:      models.TaskRunning,
			CreatedAt:   time.Now().UTC(),
		}
		startedAt := time.Now().UTC()
		task.StartedAt = &startedAt
		if input, err := json.Marshal(step.Input); err == nil {
			task.Input = input
		}
		if err := e.repos.Tasks.Create(ctx, task); err != nil {
			return fmt.Errorf("persist task for step %s: %w", step.ID, err)
		}
		if err := e.appendEvent(ctx, execution.ID, models.EventStepStarted, map[string]interface{}{"stepId": step.ID}); err != nil {
			return err
		}

		result, stepErr := e.exec.Execute(ctx, step, stepCtx)

		completedAt := time.Now().UTC()
		task.CompletedAt = &completedAt
		task.Attempts++

		if e.tel != nil {
			e.tel.RecordStep(ctx, step.ID, step.Plugin, completedAt.Sub(startedAt), stepErr)
		}

		if stepErr != nil {
			errMsg := stepErr.Error()
			task.Status = models.TaskFailed
			task.Error = &errMsg
			if err := e.repos.Tasks.Update(ctx, task); err != nil {
				return fmt.Errorf("persist failed task for step %s: %w", step.ID, err)
			}
			if err := e.appendEvent(ctx, execution.ID, models.EventStepFailed, map[string]interface{}{
				"stepId": step.ID,
				"error":  errMsg,
			}); err != nil {
				return err
			}
			failErr := e.failExecution(ctx, execution, fmt.Sprintf("step %s failed: %v", step.ID, stepErr))
			if e.tel != nil {
				e.tel.EndExecutionSpan(span, models.ExecutionFailed, stepErr)
			}
			return failErr
		}

		task.Status = models.TaskCompleted
		if resultJSON, err := json.Marshal(result); err == nil {
			task.Result = resultJSON
		}
		if err := e.repos.Tasks.Update(ctx, task); err != nil {
			return fmt.Errorf("persist completed task for step %s: %w", step.ID, err)
		}
		if err := e.appendEvent(ctx, execution.ID, models.EventStepCompleted, map[string]interface{}{"stepId": step.ID}); err != nil {
			return err
		}

		stepCtx[step.ID] = result
	}

	finalResult, _ := json.Marshal(stepCtx)
	completedAt := time.Now().UTC()
	execution.Status = models.ExecutionCompleted
	execution.CompletedAt = &completedAt
	execution.Result = finalResult
	if err := e.repos.Executions.UpdateStatus(ctx, execution); err != nil {
		return fmt.Errorf("mark execution completed: %w", err)
	}
	if e.tel != nil {
		e.tel.EndExecutionSpan(span, models.ExecutionCompleted, nil)
	}
	return e.appendEvent(ctx, execution.ID, models.EventExecutionCompleted, nil)
}

// failExecution marks execution failed with reason and emits the
// execution_failed event. Once both are recorded it returns nil, so callers
// can use it as their terminal action without the engine-level error
// propagating to the queue; a non-nil error means one of those store writes
// failed.
func (e *Engine) failExecution(ctx context.Context, execution *models.Execution, reason string) error {
	now := time.Now().UTC()
	execution.Status = models.ExecutionFailed
	execution.CompletedAt = &now
	execution.Error = &reason
	if err := e.repos.Executions.UpdateStatus(ctx, execution); err != nil {
		return fmt.Errorf("mark execution failed: %w", err)
	}
	return e.appendEvent(ctx, execution.ID, models.EventExecutionFailed, map[string]interface{}{"error": reason})
}

func (e *Engine) appendEvent(ctx context.Context, executionID, kind string, data map[string]interface{}) error {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		raw = encoded
	}

	event := &models.Event{
		ExecutionID: executionID,
		Kind:        kind,
		Data:        raw,
		Timestamp:   time.Now().UTC(),
	}
	if err := e.repos.Events.Append(ctx, event); err != nil {
		return fmt.Errorf("append %s event: %w", kind, err)
	}
	return nil
}
