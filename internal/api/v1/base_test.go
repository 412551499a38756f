package v1

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetHealth_OKWhenEngineRunning(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetStats_ReturnsQueueAndExecutionCounts(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "queue")
	require.Contains(t, body, "executions")
}
