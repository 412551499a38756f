package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/cloudshipai/workflowcore/internal/db"
	"github.com/cloudshipai/workflowcore/internal/db/repositories"
	"github.com/cloudshipai/workflowcore/pkg/engine"
	"github.com/cloudshipai/workflowcore/pkg/executor"
	"github.com/cloudshipai/workflowcore/pkg/models"
	"github.com/cloudshipai/workflowcore/pkg/queue"
	"github.com/cloudshipai/workflowcore/pkg/registry"
)

func newTestRouter(t *testing.T) (*gin.Engine, *APIHandlers, *registry.Registry, *executor.AdapterRegistry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.Migrate())

	repos := repositories.New(conn)
	reg := registry.New(repos)
	adapters := executor.NewAdapterRegistry()
	exec := executor.New(reg, adapters, executor.NewHTTPDispatcher("plugins"))
	q := queue.New(repos)
	eng := engine.New(repos, exec, q, 20*time.Millisecond)
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)

	h := NewAPIHandlers(repos, reg, eng)
	router := gin.New()
	group := router.Group("/api")
	h.RegisterRoutes(group)

	return router, h, reg, adapters
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitWorkflow_RejectsInvalidName(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/workflows", map[string]interface{}{
		"name":  "bad name!",
		"steps": []map[string]interface{}{{"id": "a", "plugin": "p", "action": "run"}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitWorkflow_RejectsCycle(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/workflows", map[string]interface{}{
		"name": "cyclic",
		"steps": []map[string]interface{}{
			{"id": "a", "plugin": "p", "action": "run", "needs": []string{"b"}},
			{"id": "b", "plugin": "p", "action": "run", "needs": []string{"a"}},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitWorkflow_HappyPathAndStatus(t *testing.T) {
	router, _, reg, adapters := newTestRouter(t)
	ctx := context.Background()

	p, err := reg.Register(ctx, "", "echo", "plugins/echo:latest", "1.0.0", nil, models.PluginSpec{})
	require.NoError(t, err)
	adapters.Register(p.ID, executor.AdapterFunc(func(ctx context.Context, action string, input interface{}) (interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	}))

	rec := doJSON(router, http.MethodPost, "/api/workflows", map[string]interface{}{
		"name":  "linear",
		"steps": []map[string]interface{}{{"id": "a", "plugin": p.ID, "action": "run"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var submitted struct {
		ExecutionID string `json:"executionId"`
		WorkflowID  string `json:"workflowId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.ExecutionID)

	deadline := time.Now().Add(2 * time.Second)
	var statusRec *httptest.ResponseRecorder
	for time.Now().Before(deadline) {
		statusRec = doJSON(router, http.MethodGet, "/api/executions/"+submitted.ExecutionID, nil)
		var body map[string]interface{}
		_ = json.Unmarshal(statusRec.Body.Bytes(), &body)
		if exec, ok := body["execution"].(map[string]interface{}); ok {
			if exec["status"] == "completed" {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, http.StatusOK, statusRec.Code)
}

func TestGetExecutionStatus_UnknownReturns404(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	rec := doJSON(router, http.MethodGet, "/api/executions/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListExecutions_Empty(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	rec := doJSON(router, http.MethodGet, "/api/executions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
