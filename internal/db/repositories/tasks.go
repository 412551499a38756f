package repositories

import (
	"context"
	"database/sql"

	"github.com/cloudshipai/workflowcore/internal/db"
	"github.com/cloudshipai/workflowcore/pkg/models"
)

// TaskRepo manages per-step task record persistence.
type TaskRepo struct {
	db *sql.DB
}

func NewTaskRepo(db *sql.DB) *TaskRepo {
	return &TaskRepo{db: db}
}

func (r *TaskRepo) Create(ctx context.Context, t *models.Task) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	query := `INSERT INTO tasks (id, execution_id, step_id, plugin_id, action, status, input, result, error, attempts, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.ExecutionID, t.StepID, t.PluginID, t.Action, t.Status,
		toNullRaw(t.Input), toNullRaw(t.Result), toNullString(t.Error), t.Attempts,
		toNullTimeString(t.StartedAt), toNullTimeString(t.CompletedAt), formatTime(t.CreatedAt))
	return err
}

func (r *TaskRepo) Update(ctx context.Context, t *models.Task) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	query := `UPDATE tasks SET status = ?, result = ?, error = ?, attempts = ?, started_at = ?, completed_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query,
		t.Status, toNullRaw(t.Result), toNullString(t.Error), t.Attempts,
		toNullTimeString(t.StartedAt), toNullTimeString(t.CompletedAt), t.ID)
	return err
}

func (r *TaskRepo) ListByExecution(ctx context.Context, executionID string) ([]*models.Task, error) {
	query := `SELECT id, execution_id, step_id, plugin_id, action, status, input, result, error, attempts, started_at, completed_at, created_at
		FROM tasks WHERE execution_id = ? ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Task
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *TaskRepo) GetByExecutionAndStep(ctx context.Context, executionID, stepID string) (*models.Task, error) {
	query := `SELECT id, execution_id, step_id, plugin_id, action, status, input, result, error, attempts, started_at, completed_at, created_at
		FROM tasks WHERE execution_id = ? AND step_id = ?`
	return r.scan(r.db.QueryRowContext(ctx, query, executionID, stepID))
}

func (r *TaskRepo) scan(row rowScanner) (*models.Task, error) {
	var t models.Task
	var input, result, errMsg, startedAt, completedAt sql.NullString
	var createdAt string

	if err := row.Scan(&t.ID, &t.ExecutionID, &t.StepID, &t.PluginID, &t.Action, &t.Status,
		&input, &result, &errMsg, &t.Attempts, &startedAt, &completedAt, &createdAt); err != nil {
		return nil, err
	}

	t.Input = rawOrNil(input)
	t.Result = rawOrNil(result)
	t.Error = nullStringPtr(errMsg)
	t.StartedAt = parseTimeString(startedAt)
	t.CompletedAt = parseTimeString(completedAt)
	if ts, err := parseTimeFormats(createdAt); err == nil {
		t.CreatedAt = ts
	}

	return &t, nil
}
