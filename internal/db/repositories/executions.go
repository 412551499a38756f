package repositories

import (
	"context"
	"database/sql"

	"github.com/cloudshipai/workflowcore/internal/db"
	"github.com/cloudshipai/workflowcore/pkg/models"
)

// ExecutionRepo manages execution record persistence.
type ExecutionRepo struct {
	db *sql.DB
}

func NewExecutionRepo(db *sql.DB) *ExecutionRepo {
	return &ExecutionRepo{db: db}
}

func (r *ExecutionRepo) Create(ctx context.Context, e *models.Execution) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	query := `INSERT INTO executions (id, workflow_id, status, started_at, completed_at, result, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.WorkflowID, e.Status,
		toNullTimeString(e.StartedAt), toNullTimeString(e.CompletedAt),
		toNullRaw(e.Result), toNullString(e.Error), formatTime(e.CreatedAt))
	return err
}

// UpdateStatus transitions an execution's status and optionally records its
// terminal result or error and timestamps. It never changes WorkflowID.
func (r *ExecutionRepo) UpdateStatus(ctx context.Context, e *models.Execution) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	query := `UPDATE executions SET status = ?, started_at = ?, completed_at = ?, result = ?, error = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query,
		e.Status, toNullTimeString(e.StartedAt), toNullTimeString(e.CompletedAt),
		toNullRaw(e.Result), toNullString(e.Error), e.ID)
	return err
}

func (r *ExecutionRepo) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT e.id, e.workflow_id, w.name, e.status, e.started_at, e.completed_at, e.result, e.error, e.created_at
		FROM executions e JOIN workflows w ON w.id = e.workflow_id WHERE e.id = ?`
	return r.scanRow(r.db.QueryRowContext(ctx, query, id))
}

func (r *ExecutionRepo) ListByWorkflow(ctx context.Context, workflowID string, limit int64) ([]*models.Execution, error) {
	query := `SELECT e.id, e.workflow_id, w.name, e.status, e.started_at, e.completed_at, e.result, e.error, e.created_at
		FROM executions e JOIN workflows w ON w.id = e.workflow_id
		WHERE e.workflow_id = ? ORDER BY e.created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, workflowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *ExecutionRepo) List(ctx context.Context, status string, limit int64) ([]*models.Execution, error) {
	query := `SELECT e.id, e.workflow_id, w.name, e.status, e.started_at, e.completed_at, e.result, e.error, e.created_at
		FROM executions e JOIN workflows w ON w.id = e.workflow_id`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE e.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY e.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// GetExecutionStats returns a count of executions grouped by status.
func (r *ExecutionRepo) GetExecutionStats(ctx context.Context) (*models.ExecutionStats, error) {
	query := `SELECT status, COUNT(*) FROM executions GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.ExecutionStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case models.ExecutionPending:
			stats.Pending = count
		case models.ExecutionRunning:
			stats.Running = count
		case models.ExecutionCompleted:
			stats.Completed = count
		case models.ExecutionFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

func (r *ExecutionRepo) scanAll(rows *sql.Rows) ([]*models.Execution, error) {
	var result []*models.Execution
	for rows.Next() {
		e, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *ExecutionRepo) scanRow(row *sql.Row) (*models.Execution, error) {
	return r.scan(row)
}

func (r *ExecutionRepo) scan(row rowScanner) (*models.Execution, error) {
	var e models.Execution
	var startedAt, completedAt, result, errMsg sql.NullString
	var createdAt string

	if err := row.Scan(&e.ID, &e.WorkflowID, &e.WorkflowName, &e.Status, &startedAt, &completedAt, &result, &errMsg, &createdAt); err != nil {
		return nil, err
	}

	e.StartedAt = parseTimeString(startedAt)
	e.CompletedAt = parseTimeString(completedAt)
	e.Result = rawOrNil(result)
	e.Error = nullStringPtr(errMsg)
	if t, err := parseTimeFormats(createdAt); err == nil {
		e.CreatedAt = t
	}

	return &e, nil
}
