package repositories

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cloudshipai/workflowcore/internal/db"
	"github.com/cloudshipai/workflowcore/pkg/models"
)

// WorkflowRepo manages submitted workflow spec persistence.
type WorkflowRepo struct {
	db *sql.DB
}

func NewWorkflowRepo(db *sql.DB) *WorkflowRepo {
	return &WorkflowRepo{db: db}
}

func (r *WorkflowRepo) Create(ctx context.Context, w *models.Workflow) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	query := `INSERT INTO workflows (id, name, spec, created_at) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, w.ID, w.Name, string(w.RawSpec), formatTime(w.CreatedAt))
	return err
}

func (r *WorkflowRepo) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `SELECT id, name, spec, created_at FROM workflows WHERE id = ?`
	return r.scanRow(r.db.QueryRowContext(ctx, query, id))
}

func (r *WorkflowRepo) List(ctx context.Context, limit int64) ([]*models.Workflow, error) {
	query := `SELECT id, name, spec, created_at FROM workflows ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Workflow
	for rows.Next() {
		w, err := r.scanRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (r *WorkflowRepo) scanRow(row *sql.Row) (*models.Workflow, error) {
	return r.scan(row)
}

func (r *WorkflowRepo) scanRows(rows *sql.Rows) (*models.Workflow, error) {
	return r.scan(rows)
}

func (r *WorkflowRepo) scan(row rowScanner) (*models.Workflow, error) {
	var w models.Workflow
	var spec string
	var createdAt string

	if err := row.Scan(&w.ID, &w.Name, &spec, &createdAt); err != nil {
		return nil, err
	}

	w.RawSpec = json.RawMessage(spec)
	if err := json.Unmarshal([]byte(spec), &w.Spec); err != nil {
		return nil, err
	}
	if t, err := parseTimeFormats(createdAt); err == nil {
		w.CreatedAt = t
	}

	return &w, nil
}
