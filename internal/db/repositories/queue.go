package repositories

import (
	"context"
	"database/sql"

	"github.com/cloudshipai/workflowcore/pkg/models"
)

// QueueRepo is the raw-SQL store backing the persistent task queue. It knows
// nothing about backoff math or retry policy; pkg/queue owns that and calls
// down into these primitives.
type QueueRepo struct {
	db *sql.DB
}

func NewQueueRepo(db *sql.DB) *QueueRepo {
	return &QueueRepo{db: db}
}

func (r *QueueRepo) Insert(ctx context.Context, row *models.QueueRow) error {
	query := `INSERT INTO task_queue (id, task_id, priority, payload, max_retries, retry_count, scheduled_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		row.ID, row.TaskID, row.Priority, string(row.Payload), row.MaxRetries, row.RetryCount,
		formatTime(row.ScheduledAt), row.Status, formatTime(row.CreatedAt), formatTime(row.UpdatedAt))
	return err
}

// Claim atomically selects the highest-priority, oldest ready row and marks
// it processing, so two processor ticks never pick up the same row.
func (r *QueueRepo) Claim(ctx context.Context, now sqlTimeArg) (*models.QueueRow, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	selectQuery := `SELECT id, task_id, priority, payload, max_retries, retry_count, scheduled_at, status, started_at, completed_at, created_at, updated_at
		FROM task_queue
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`

	row, err := r.scan(tx.QueryRowContext(ctx, selectQuery, models.QueuePending, string(now)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	updateQuery := `UPDATE task_queue SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, updateQuery, models.QueueProcessing, string(now), string(now), row.ID, models.QueuePending)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Another writer claimed it between the select and the update.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	row.Status = models.QueueProcessing
	return row, nil
}

func (r *QueueRepo) Complete(ctx context.Context, id string, now sqlTimeArg) error {
	query := `UPDATE task_queue SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, models.QueueCompleted, string(now), string(now), id)
	return err
}

// Reschedule stores retryCount and scheduledAt on a row and moves it back to
// pending, or to failed when failed is true. The caller computes the new
// retry count and decides whether max_retries is exhausted.
func (r *QueueRepo) Reschedule(ctx context.Context, id string, retryCount int, scheduledAt, now sqlTimeArg, failed bool) error {
	status := models.QueuePending
	if failed {
		status = models.QueueFailed
	}
	query := `UPDATE task_queue SET status = ?, retry_count = ?, scheduled_at = ?, updated_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, status, retryCount, string(scheduledAt), string(now), id)
	return err
}

func (r *QueueRepo) GetByTaskID(ctx context.Context, taskID string) (*models.QueueRow, error) {
	query := `SELECT id, task_id, priority, payload, max_retries, retry_count, scheduled_at, status, started_at, completed_at, created_at, updated_at
		FROM task_queue WHERE task_id = ?`
	return r.scan(r.db.QueryRowContext(ctx, query, taskID))
}

func (r *QueueRepo) Stats(ctx context.Context) (*models.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM task_queue GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case models.QueuePending:
			stats.Pending = count
		case models.QueueProcessing:
			stats.Processing = count
		case models.QueueCompleted:
			stats.Completed = count
		case models.QueueFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// Cleanup deletes terminal rows (completed or failed) older than cutoff and
// reports how many rows were removed.
func (r *QueueRepo) Cleanup(ctx context.Context, cutoff sqlTimeArg) (int64, error) {
	query := `DELETE FROM task_queue WHERE status IN (?, ?) AND updated_at < ?`
	res, err := r.db.ExecContext(ctx, query, models.QueueCompleted, models.QueueFailed, string(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *QueueRepo) scan(row rowScanner) (*models.QueueRow, error) {
	var q models.QueueRow
	var payload string
	var scheduledAt, createdAt, updatedAt string
	var startedAtNull, completedAtNull sql.NullString

	if err := row.Scan(&q.ID, &q.TaskID, &q.Priority, &payload, &q.MaxRetries, &q.RetryCount,
		&scheduledAt, &q.Status, &startedAtNull, &completedAtNull, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	q.Payload = []byte(payload)
	if t, err := parseTimeFormats(scheduledAt); err == nil {
		q.ScheduledAt = t
	}
	q.StartedAt = parseTimeString(startedAtNull)
	q.CompletedAt = parseTimeString(completedAtNull)
	if t, err := parseTimeFormats(createdAt); err == nil {
		q.CreatedAt = t
	}
	if t, err := parseTimeFormats(updatedAt); err == nil {
		q.UpdatedAt = t
	}

	return &q, nil
}

// sqlTimeArg is a pre-formatted RFC3339Nano timestamp string. pkg/queue
// builds it by formatting a UTC time with time.RFC3339Nano, the same layout
// formatTime writes, so every comparison in this file is a plain string
// comparison, which sorts correctly for RFC3339Nano.
type sqlTimeArg = string
