package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudshipai/workflowcore/internal/db"
	"github.com/cloudshipai/workflowcore/internal/db/repositories"
	"github.com/cloudshipai/workflowcore/pkg/executor"
	"github.com/cloudshipai/workflowcore/pkg/models"
	"github.com/cloudshipai/workflowcore/pkg/queue"
	"github.com/cloudshipai/workflowcore/pkg/registry"
)

var errBoom = errors.New("boom")

func newTestEngine(t *testing.T) (*Engine, *registry.Registry, *executor.AdapterRegistry, *repositories.Repositories) {
	t.Helper()

	conn, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.Migrate())

	repos := repositories.New(conn)
	reg := registry.New(repos)
	adapters := executor.NewAdapterRegistry()
	dispatcher := executor.NewHTTPDispatcher("plugins")
	exec := executor.New(reg, adapters, dispatcher)
	q := queue.New(repos)

	e := New(repos, exec, q, 20*time.Millisecond)
	return e, reg, adapters, repos
}

func waitForTerminal(t *testing.T, e *Engine, executionID string) *Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := e.GetStatus(context.Background(), executionID)
		require.NoError(t, err)
		if status != nil && status.Execution.IsTerminal() {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach a terminal status in time", executionID)
	return nil
}

func TestSubmit_RejectsWhenNotRunning(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	_, _, err := e.Submit(context.Background(), "wf", models.WorkflowSpec{Steps: []models.Step{{ID: "a", Plugin: "p", Action: "run"}}})
	require.Error(t, err)
}

func TestSubmit_RejectsInvalidDAG(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	e.Start(context.Background())
	defer e.Stop()

	spec := models.WorkflowSpec{Steps: []models.Step{
		{ID: "a", Plugin: "p", Action: "run", Needs: []string{"b"}},
		{ID: "b", Plugin: "p", Action: "run", Needs: []string{"a"}},
	}}
	_, _, err := e.Submit(context.Background(), "cyclic", spec)
	require.Error(t, err)
	var resolverErr *ResolverError
	require.ErrorAs(t, err, &resolverErr)
}

func TestEngine_HappyPathLinear(t *testing.T) {
	e, reg, adapters, _ := newTestEngine(t)
	ctx := context.Background()

	p, err := reg.Register(ctx, "", "echo", "plugins/echo:latest", "1.0.0", nil, models.PluginSpec{})
	require.NoError(t, err)
	adapters.Register(p.ID, executor.AdapterFunc(func(ctx context.Context, action string, input interface{}) (interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	}))

	e.Start(ctx)
	defer e.Stop()

	spec := models.WorkflowSpec{Steps: []models.Step{
		{ID: "a", Plugin: p.ID, Action: "run"},
		{ID: "b", Plugin: p.ID, Action: "run", Needs: []string{"a"}},
	}}
	_, executionID, err := e.Submit(ctx, "linear", spec)
	require.NoError(t, err)

	status := waitForTerminal(t, e, executionID)
	require.Equal(t, models.ExecutionCompleted, status.Execution.Status)
	require.Len(t, status.Tasks, 2)
	for _, task := range status.Tasks {
		require.Equal(t, models.TaskCompleted, task.Status)
	}

	var kinds []string
	for _, ev := range status.Events {
		kinds = append(kinds, ev.Kind)
	}
	require.Contains(t, kinds, models.EventWorkflowSubmitted)
	require.Contains(t, kinds, models.EventExecutionStarted)
	require.Contains(t, kinds, models.EventExecutionCompleted)
}

func TestEngine_StepFailureMarksExecutionFailedAndQueueRowComplete(t *testing.T) {
	e, reg, adapters, repos := newTestEngine(t)
	ctx := context.Background()

	p, err := reg.Register(ctx, "", "broken", "plugins/broken:latest", "1.0.0", nil, models.PluginSpec{})
	require.NoError(t, err)
	adapters.Register(p.ID, executor.AdapterFunc(func(ctx context.Context, action string, input interface{}) (interface{}, error) {
		return nil, &executor.PermanentPluginError{Cause: errBoom}
	}))

	e.Start(ctx)
	defer e.Stop()

	spec := models.WorkflowSpec{Steps: []models.Step{{ID: "a", Plugin: p.ID, Action: "run"}}}
	_, executionID, err := e.Submit(ctx, "failing", spec)
	require.NoError(t, err)

	status := waitForTerminal(t, e, executionID)
	require.Equal(t, models.ExecutionFailed, status.Execution.Status)
	require.NotNil(t, status.Execution.Error)

	row, err := repos.Queue.GetByTaskID(ctx, executionID)
	require.NoError(t, err)
	require.Equal(t, models.QueueCompleted, row.Status)
}

func TestGetStatus_UnknownExecutionReturnsNil(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	status, err := e.GetStatus(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, status)
}

func TestStartStop_Idempotent(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	e.Start(ctx)
	e.Start(ctx)
	e.Stop()
	e.Stop()
}
