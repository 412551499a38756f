package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_DisabledUsesGlobalProviders(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tel)
	require.Nil(t, tel.provider)
}

func TestStartAndEndExecutionSpan(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := tel.StartExecutionSpan(context.Background(), "exec-1", "demo")
	require.NotNil(t, ctx)
	tel.EndExecutionSpan(span, "completed", nil)
	tel.EndExecutionSpan(span, "failed", errors.New("boom"))
}

func TestRecordStepAndRetry(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	tel.RecordStep(context.Background(), "step-a", "plugin-1", 10*time.Millisecond, nil)
	tel.RecordStep(context.Background(), "step-a", "plugin-1", 10*time.Millisecond, errors.New("boom"))
	tel.RecordRetry(context.Background(), "task-1")
}

func TestShutdown_NoProviderIsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, tel.Shutdown(context.Background()))
}
