package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cloudshipai/workflowcore/internal/db"
	"github.com/cloudshipai/workflowcore/pkg/models"
)

// PluginRepo manages plugin registration persistence.
type PluginRepo struct {
	db *sql.DB
}

func NewPluginRepo(db *sql.DB) *PluginRepo {
	return &PluginRepo{db: db}
}

func (r *PluginRepo) Create(ctx context.Context, p *models.Plugin) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	spec, err := p.MarshalSpec()
	if err != nil {
		return err
	}

	query := `INSERT INTO plugins (id, name, image, digest, version, spec, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	now := formatTime(p.CreatedAt)
	_, err = r.db.ExecContext(ctx, query, p.ID, p.Name, p.Image, toNullString(p.Digest), p.Version, string(spec), now, now)
	return err
}

// Update patches a plugin's digest, version, and spec in place. Plugins are
// never deleted by the core; re-registering an image under a new digest
// goes through here, not through Create.
func (r *PluginRepo) Update(ctx context.Context, id string, digest *string, version string, spec models.PluginSpec) (*models.Plugin, error) {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	rawSpec, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}

	now := formatTime(time.Now().UTC())
	query := `UPDATE plugins SET digest = ?, version = ?, spec = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, toNullString(digest), version, string(rawSpec), now, id)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, sql.ErrNoRows
	}

	return r.GetByID(ctx, id)
}

func (r *PluginRepo) GetByID(ctx context.Context, id string) (*models.Plugin, error) {
	query := `SELECT id, name, image, digest, version, spec, created_at, updated_at FROM plugins WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PluginRepo) GetByName(ctx context.Context, name string) (*models.Plugin, error) {
	query := `SELECT id, name, image, digest, version, spec, created_at, updated_at FROM plugins WHERE name = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, name))
}

func (r *PluginRepo) List(ctx context.Context) ([]*models.Plugin, error) {
	query := `SELECT id, name, image, digest, version, spec, created_at, updated_at FROM plugins ORDER BY name ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Plugin
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PluginRepo) scanOne(row *sql.Row) (*models.Plugin, error) {
	return r.scanRow(row)
}

func (r *PluginRepo) scanRow(row rowScanner) (*models.Plugin, error) {
	var p models.Plugin
	var digest sql.NullString
	var spec string
	var createdAt, updatedAt string

	if err := row.Scan(&p.ID, &p.Name, &p.Image, &digest, &p.Version, &spec, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(spec), &p.Spec); err != nil {
		return nil, err
	}
	p.Digest = nullStringPtr(digest)
	if t, err := parseTimeFormats(createdAt); err == nil {
		p.CreatedAt = t
	}
	if t, err := parseTimeFormats(updatedAt); err == nil {
		p.UpdatedAt = t
	} else {
		p.UpdatedAt = time.Now().UTC()
	}

	return &p, nil
}
