// Package executor runs a single workflow step: it resolves the plugin,
// checks the action whitelist, substitutes templates into the input, picks
// an adapter, and retries per the step's policy.
package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cloudshipai/workflowcore/pkg/models"
	"github.com/cloudshipai/workflowcore/pkg/registry"
	"github.com/cloudshipai/workflowcore/pkg/schema"
)

// Executor runs steps against the plugin registry, a set of typed in-process
// adapters, and a fallback HTTP dispatcher.
type Executor struct {
	plugins    *registry.Registry
	adapters   *AdapterRegistry
	dispatcher *HTTPDispatcher
}

func New(plugins *registry.Registry, adapters *AdapterRegistry, dispatcher *HTTPDispatcher) *Executor {
	return &Executor{plugins: plugins, adapters: adapters, dispatcher: dispatcher}
}

// Execute resolves and runs one step against ctx, returning its result or
// the last error after exhausting the step's retry policy.
func (e *Executor) Execute(ctx context.Context, step models.Step, stepCtx StepContext) (interface{}, error) {
	plugin, err := e.plugins.Get(ctx, step.Plugin)
	if err != nil {
		return nil, &PluginNotFoundError{PluginID: step.Plugin}
	}

	if !plugin.ExposesAction(step.Action) {
		return nil, &UnknownActionError{PluginID: step.Plugin, Action: step.Action}
	}

	resolvedInput := ResolveTemplates(map[string]interface{}(step.Input), stepCtx)

	if schemaDoc, ok := plugin.Spec.InputSchemas[step.Action]; ok {
		if err := schema.ValidateAgainst(schemaDoc, resolvedInput); err != nil {
			return nil, &SchemaValidationError{PluginID: plugin.ID, Action: step.Action, Cause: err}
		}
	}

	policy := step.RetryOrDefault()
	timeout := step.TimeoutOrDefault()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := e.attempt(ctx, plugin, step, resolvedInput, timeout)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if _, permanent := err.(*PermanentPluginError); permanent {
			return nil, err
		}
		if _, ok := err.(*PluginNotFoundError); ok {
			return nil, err
		}
		if _, ok := err.(*UnknownActionError); ok {
			return nil, err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-time.After(stepBackoff(policy.Backoff, attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("step %s exhausted %d attempts: %w", step.ID, policy.MaxAttempts, lastErr)
}

func (e *Executor) attempt(ctx context.Context, plugin *models.Plugin, step models.Step, resolvedInput interface{}, timeout time.Duration) (interface{}, error) {
	if adapter, ok := e.adapters.Get(plugin.ID); ok {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return adapter.Call(attemptCtx, step.Action, resolvedInput)
	}

	return e.dispatcher.Dispatch(ctx, plugin, step.ID, step.Action, resolvedInput, timeout)
}

// stepBackoff returns the sleep duration before a step's next attempt.
// "exponential" yields 2^attempt seconds; "fixed" yields 1 second.
func stepBackoff(strategy string, attempt int) time.Duration {
	if strategy == models.BackoffExponential {
		return time.Duration(math.Pow(2, float64(attempt))) * time.Second
	}
	return 1 * time.Second
}
