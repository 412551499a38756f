package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudshipai/workflowcore/internal/db"
	"github.com/cloudshipai/workflowcore/internal/db/repositories"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	conn, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.Migrate())

	repos := repositories.New(conn)
	return New(repos)
}

func TestQueue_EnqueueDequeueComplete(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	row, err := q.Enqueue(ctx, "task-1", map[string]string{"hello": "world"}, EnqueueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, row.ID)

	claimed, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "task-1", claimed.TaskID)

	// A second dequeue must not find the same row again; it's processing.
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Nil(t, second)

	require.NoError(t, q.Complete(ctx, claimed.ID))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Completed)
}

func TestQueue_DequeueOrdersByPriorityThenAge(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "low", nil, EnqueueOptions{Priority: 0})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "high", nil, EnqueueOptions{Priority: 10})
	require.NoError(t, err)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, "high", first.TaskID)
}

func TestQueue_FailReschedulesUntilExhausted(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "flaky", nil, EnqueueOptions{MaxRetries: 2})
	require.NoError(t, err)

	row, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, row)

	fullRow, err := q.GetByTaskID(ctx, "flaky")
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, fullRow))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Pending)

	fullRow, err = q.GetByTaskID(ctx, "flaky")
	require.NoError(t, err)
	require.Equal(t, 1, fullRow.RetryCount)

	fullRow.Status = "processing" // simulate re-claim for the final attempt
	require.NoError(t, q.Fail(ctx, fullRow))

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Failed)
}

func TestQueue_Cleanup(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "done", nil, EnqueueOptions{})
	require.NoError(t, err)

	row, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, row.ID))

	removed, err := q.Cleanup(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Completed)
}
