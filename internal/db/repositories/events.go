package repositories

import (
	"context"
	"database/sql"

	"github.com/cloudshipai/workflowcore/internal/db"
	"github.com/cloudshipai/workflowcore/pkg/models"
)

// EventRepo manages the append-only event log for executions.
type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

// GetNextSeq returns the sequence number the next event for executionID
// should use, so ordering survives events sharing a timestamp.
func (r *EventRepo) GetNextSeq(ctx context.Context, executionID string) (int64, error) {
	var maxSeq sql.NullInt64
	query := `SELECT MAX(seq) FROM events WHERE execution_id = ?`
	if err := r.db.QueryRowContext(ctx, query, executionID).Scan(&maxSeq); err != nil {
		return 0, err
	}
	if !maxSeq.Valid {
		return 1, nil
	}
	return maxSeq.Int64 + 1, nil
}

// Append inserts an event, assigning it the next sequence number for its
// execution. The caller is not required to set Seq or ID.
func (r *EventRepo) Append(ctx context.Context, e *models.Event) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	seq, err := r.GetNextSeq(ctx, e.ExecutionID)
	if err != nil {
		return err
	}
	e.Seq = seq

	query := `INSERT INTO events (execution_id, seq, kind, data, timestamp) VALUES (?, ?, ?, ?, ?)
		RETURNING id`
	return r.db.QueryRowContext(ctx, query, e.ExecutionID, e.Seq, e.Kind, toNullRaw(e.Data), formatTime(e.Timestamp)).Scan(&e.ID)
}

func (r *EventRepo) ListByExecution(ctx context.Context, executionID string) ([]*models.Event, error) {
	query := `SELECT id, execution_id, seq, kind, data, timestamp FROM events WHERE execution_id = ? ORDER BY seq ASC`
	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Event
	for rows.Next() {
		var e models.Event
		var data sql.NullString
		var timestamp string
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Seq, &e.Kind, &data, &timestamp); err != nil {
			return nil, err
		}
		e.Data = rawOrNil(data)
		if t, err := parseTimeFormats(timestamp); err == nil {
			e.Timestamp = t
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}
