package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cloudshipai/workflowcore/pkg/models"
)

const defaultPluginPort = 8080

// HTTPDispatcher sends a step's resolved input to a plugin's service URL and
// parses its JSON response. One circuit breaker is kept per plugin id so a
// failing plugin cannot be hammered by every in-flight execution.
type HTTPDispatcher struct {
	client        *http.Client
	namespace     string
	breakersMu    sync.Mutex
	breakers      map[string]*gobreaker.CircuitBreaker
}

func NewHTTPDispatcher(namespace string) *HTTPDispatcher {
	if namespace == "" {
		namespace = "plugins"
	}
	return &HTTPDispatcher{
		client:    &http.Client{},
		namespace: namespace,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// ServiceURL builds the target URL for a plugin action, preferring an
// explicit base URL on the plugin spec and otherwise composing an in-cluster
// DNS name from the plugin id, namespace, and port.
func (d *HTTPDispatcher) ServiceURL(p *models.Plugin, action string) string {
	if p.Spec.BaseURL != "" {
		return fmt.Sprintf("%s/%s", strings.TrimRight(p.Spec.BaseURL, "/"), action)
	}

	namespace := p.Spec.Namespace
	if namespace == "" {
		namespace = d.namespace
	}
	if namespace == "" {
		namespace = "plugins"
	}

	port := defaultPluginPort
	if len(p.Spec.Ports) > 0 {
		port = p.Spec.Ports[0]
	}

	host := strings.ReplaceAll(p.ID, ".", "-")
	return fmt.Sprintf("http://%s.%s.svc.cluster.local:%d/%s", host, namespace, port, action)
}

// Dispatch POSTs resolvedInput as JSON to the plugin's service URL and
// returns the parsed JSON response. Non-2xx responses and network failures
// surface as TransientPluginError except for 4xx, which is permanent.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, p *models.Plugin, stepID, action string, resolvedInput interface{}, timeout time.Duration) (interface{}, error) {
	breaker := d.breakerFor(p.ID)

	result, err := breaker.Execute(func() (interface{}, error) {
		return d.doRequest(ctx, p, stepID, action, resolvedInput, timeout)
	})
	if err != nil {
		if _, ok := err.(*PermanentPluginError); ok {
			return nil, err
		}
		if _, ok := err.(*TransientPluginError); ok {
			return nil, err
		}
		return nil, &TransientPluginError{Cause: err}
	}
	return result, nil
}

func (d *HTTPDispatcher) doRequest(ctx context.Context, p *models.Plugin, stepID, action string, resolvedInput interface{}, timeout time.Duration) (interface{}, error) {
	body, err := json.Marshal(resolvedInput)
	if err != nil {
		return nil, &PermanentPluginError{Cause: fmt.Errorf("marshal input: %w", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := d.ServiceURL(p, action)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &PermanentPluginError{Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Workflow-Step", stepID)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &TransientPluginError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientPluginError{Cause: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return nil, &TransientPluginError{Cause: fmt.Errorf("plugin %s returned %d: %s", p.ID, resp.StatusCode, string(respBody))}
	}
	if resp.StatusCode >= 400 {
		return nil, &PermanentPluginError{Cause: fmt.Errorf("plugin %s returned %d: %s", p.ID, resp.StatusCode, string(respBody))}
	}

	var result interface{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, &PermanentPluginError{Cause: fmt.Errorf("parse response: %w", err)}
		}
	}
	return result, nil
}

func (d *HTTPDispatcher) breakerFor(pluginID string) *gobreaker.CircuitBreaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()

	if b, ok := d.breakers[pluginID]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        pluginID,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	d.breakers[pluginID] = b
	return b
}
