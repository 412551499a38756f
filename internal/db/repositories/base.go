package repositories

import (
	"database/sql"

	"github.com/cloudshipai/workflowcore/internal/db"
)

// Repositories aggregates every repository the engine needs behind a single
// handle, constructed once at startup from a live database connection.
type Repositories struct {
	Plugins    *PluginRepo
	Workflows  *WorkflowRepo
	Executions *ExecutionRepo
	Tasks      *TaskRepo
	Events     *EventRepo
	Queue      *QueueRepo

	db db.Database
}

func New(database db.Database) *Repositories {
	conn := database.Conn()

	return &Repositories{
		Plugins:    NewPluginRepo(conn),
		Workflows:  NewWorkflowRepo(conn),
		Executions: NewExecutionRepo(conn),
		Tasks:      NewTaskRepo(conn),
		Events:     NewEventRepo(conn),
		Queue:      NewQueueRepo(conn),
		db:         database,
	}
}

// BeginTx starts a database transaction for callers that need to coordinate
// writes across more than one repository.
func (r *Repositories) BeginTx() (*sql.Tx, error) {
	return r.db.Conn().Begin()
}

func toNullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
