package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cloudshipai/workflowcore/internal/logging"
)

// Handler processes one dequeued row. It returns an error to drive a retry
// through the queue's backoff, or nil to mark the row complete.
type Handler func(ctx context.Context, row *DequeuedRow) error

// DequeuedRow is the payload handed to a Handler; it mirrors the persisted
// row's identity without exposing repository internals.
type DequeuedRow struct {
	ID      string
	TaskID  string
	Payload []byte
}

// Processor drains the queue on a fixed tick, claiming at most one row per
// tick and dispatching it to Handler. Start and Stop are idempotent.
type Processor struct {
	queue    *Queue
	handler  Handler
	interval time.Duration
	onRetry  func(taskID string)

	ticker  *time.Ticker
	stopCh  chan struct{}
	mu      sync.Mutex
	running bool
}

func NewProcessor(q *Queue, interval time.Duration, handler Handler) *Processor {
	return &Processor{
		queue:    q,
		handler:  handler,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// OnRetry registers a callback invoked every time a row is rescheduled
// after a handler failure. Used to feed retry metrics without coupling the
// queue package to a specific telemetry implementation.
func (p *Processor) OnRetry(fn func(taskID string)) {
	p.onRetry = fn
}

func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ticker = time.NewTicker(p.interval)
	p.mu.Unlock()

	logging.Info("queue processor started, polling every %s", p.interval)

	go func() {
		p.tick(ctx)

		for {
			select {
			case <-p.ticker.C:
				p.tick(ctx)
			case <-p.stopCh:
				logging.Info("queue processor stopped")
				return
			case <-ctx.Done():
				logging.Info("queue processor context cancelled")
				return
			}
		}
	}()
}

func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	if p.ticker != nil {
		p.ticker.Stop()
	}
	close(p.stopCh)
}

func (p *Processor) tick(ctx context.Context) {
	row, err := p.queue.Dequeue(ctx)
	if err != nil {
		logging.Error("queue dequeue failed: %v", err)
		return
	}
	if row == nil {
		return
	}

	dequeued := &DequeuedRow{ID: row.ID, TaskID: row.TaskID, Payload: row.Payload}

	if err := p.handler(ctx, dequeued); err != nil {
		logging.Error("queue handler failed for task %s: %v", row.TaskID, err)
		willRetry := row.RetryCount+1 < row.MaxRetries
		if failErr := p.queue.Fail(ctx, row); failErr != nil {
			logging.Error("failed to reschedule task %s: %v", row.TaskID, failErr)
		} else if willRetry && p.onRetry != nil {
			p.onRetry(row.TaskID)
		}
		return
	}

	if err := p.queue.Complete(ctx, row.ID); err != nil {
		logging.Error("failed to mark task %s complete: %v", row.TaskID, err)
	}
}
