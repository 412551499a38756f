package repositories

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cloudshipai/workflowcore/internal/db"
	"github.com/cloudshipai/workflowcore/pkg/models"
)

var ctx = context.Background()

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()

	conn, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.Migrate())

	return New(conn)
}

func seedWorkflow(t *testing.T, repos *Repositories) *models.Workflow {
	t.Helper()
	w := &models.Workflow{
		ID:        uuid.NewString(),
		Name:      "wf",
		RawSpec:   []byte(`{"name":"wf","steps":[]}`),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repos.Workflows.Create(ctx, w))
	return w
}

func TestExecutionRepo_GetExecutionStats(t *testing.T) {
	repos := newTestRepos(t)
	w := seedWorkflow(t, repos)

	statuses := []string{
		models.ExecutionPending,
		models.ExecutionRunning,
		models.ExecutionCompleted,
		models.ExecutionCompleted,
		models.ExecutionFailed,
	}
	for _, status := range statuses {
		e := &models.Execution{
			ID:         uuid.NewString(),
			WorkflowID: w.ID,
			Status:     status,
			CreatedAt:  time.Now().UTC(),
		}
		require.NoError(t, repos.Executions.Create(ctx, e))
	}

	stats, err := repos.Executions.GetExecutionStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Pending)
	require.Equal(t, int64(1), stats.Running)
	require.Equal(t, int64(2), stats.Completed)
	require.Equal(t, int64(1), stats.Failed)
}
