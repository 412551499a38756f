// Package queue implements the persistent task queue: durable enqueue of
// work, priority/age-ordered dequeue, and exponential-backoff retry
// scheduling. It owns the retry math; internal/db/repositories/queue.go owns
// only the raw SQL.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cloudshipai/workflowcore/internal/db"
	"github.com/cloudshipai/workflowcore/internal/db/repositories"
	"github.com/cloudshipai/workflowcore/internal/logging"
	"github.com/cloudshipai/workflowcore/pkg/models"
)

// Queue is the persistent task queue described by the execution core: every
// enqueued row survives a process restart and is retried with exponential
// backoff until it succeeds or exhausts MaxRetries.
type Queue struct {
	repo *repositories.QueueRepo
}

func New(repos *repositories.Repositories) *Queue {
	return &Queue{repo: repos.Queue}
}

// EnqueueOptions configures a single Enqueue call.
type EnqueueOptions struct {
	Priority   int
	MaxRetries int
}

// Enqueue persists a new pending row for taskID, ready to dequeue immediately.
func (q *Queue) Enqueue(ctx context.Context, taskID string, payload interface{}, opts EnqueueOptions) (*models.QueueRow, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal queue payload: %w", err)
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	now := time.Now().UTC()
	row := &models.QueueRow{
		ID:          ulid.Make().String(),
		TaskID:      taskID,
		Priority:    opts.Priority,
		Payload:     raw,
		MaxRetries:  maxRetries,
		RetryCount:  0,
		ScheduledAt: now,
		Status:      models.QueuePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	if err := q.repo.Insert(ctx, row); err != nil {
		return nil, fmt.Errorf("enqueue task %s: %w", taskID, err)
	}
	return row, nil
}

// Dequeue claims the highest-priority, oldest ready row whose scheduled_at
// has passed. It returns (nil, nil) when there is nothing to do.
func (q *Queue) Dequeue(ctx context.Context) (*models.QueueRow, error) {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	row, err := q.repo.Claim(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return row, nil
}

// Complete marks a row as done. It is idempotent from the caller's
// perspective: completing an already-completed row is not an error.
func (q *Queue) Complete(ctx context.Context, rowID string) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	return q.repo.Complete(ctx, rowID, now)
}

// Fail records a failed attempt. If row has retries remaining it is
// rescheduled at now + 2^retry_count seconds; otherwise it is marked failed
// permanently.
func (q *Queue) Fail(ctx context.Context, row *models.QueueRow) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	nextRetryCount := row.RetryCount + 1
	exhausted := nextRetryCount >= row.MaxRetries

	now := time.Now().UTC()
	scheduledAt := now.Add(Backoff(nextRetryCount))

	nowStr := now.Format(time.RFC3339Nano)
	scheduledStr := scheduledAt.Format(time.RFC3339Nano)

	if err := q.repo.Reschedule(ctx, row.ID, nextRetryCount, scheduledStr, nowStr, exhausted); err != nil {
		return fmt.Errorf("reschedule task queue row %s: %w", row.ID, err)
	}

	if exhausted {
		logging.Info("task queue row %s exhausted retries after %d attempts", row.ID, nextRetryCount)
	}
	return nil
}

// Backoff returns the delay before retry attempt n (1-indexed), computed as
// 2^n seconds.
func Backoff(attempt int) time.Duration {
	seconds := math.Pow(2, float64(attempt))
	return time.Duration(seconds) * time.Second
}

func (q *Queue) Stats(ctx context.Context) (*models.QueueStats, error) {
	return q.repo.Stats(ctx)
}

func (q *Queue) GetByTaskID(ctx context.Context, taskID string) (*models.QueueRow, error) {
	return q.repo.GetByTaskID(ctx, taskID)
}

// Cleanup deletes completed or failed rows last updated before now-age.
func (q *Queue) Cleanup(ctx context.Context, age time.Duration) (int64, error) {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	cutoff := time.Now().UTC().Add(-age).Format(time.RFC3339Nano)
	removed, err := q.repo.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup task queue: %w", err)
	}
	return removed, nil
}
