package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// IndexQueue feeds row notifications to an Indexer from a bounded buffer
// drained by a fixed number of workers. Enqueue never blocks: when the
// buffer is full the notification is dropped and left for Backfill.
type IndexQueue struct {
	indexer *Indexer
	ch      chan RowInserted
	workers int
	logger  *slog.Logger

	dropped atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIndexQueue creates a queue with the given buffer size and worker count.
// Non-positive values default to 256 and 2.
func NewIndexQueue(indexer *Indexer, size, workers int, logger *slog.Logger) *IndexQueue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexQueue{
		indexer: indexer,
		ch:      make(chan RowInserted, size),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the workers. They run until ctx is cancelled or Stop is
// called. Calling Start twice is a no-op.
func (q *IndexQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return
	}

	ctx, q.cancel = context.WithCancel(ctx)
	for range q.workers {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

// Stop cancels the workers and waits for in-flight notifications to finish.
// Notifications still buffered are discarded.
func (q *IndexQueue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// Enqueue offers ev to the workers and reports whether it was accepted.
func (q *IndexQueue) Enqueue(ev RowInserted) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("index queue full, dropping notification",
			"table", ev.Table, "id", ev.RecordID)
		return false
	}
}

// RowInserted implements the store's insert notifier.
func (q *IndexQueue) RowInserted(ev RowInserted) {
	q.Enqueue(ev)
}

// Dropped returns how many notifications were dropped because the buffer
// was full.
func (q *IndexQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Pending returns the number of buffered notifications.
func (q *IndexQueue) Pending() int {
	return len(q.ch)
}

// Drain indexes every buffered notification in the calling goroutine and
// returns how many it handled. One-shot commands use it in place of Start.
func (q *IndexQueue) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		select {
		case ev := <-q.ch:
			q.handle(ctx, ev)
			n++
		default:
			return n
		}
	}
	return n
}

func (q *IndexQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q.ch:
			q.handle(ctx, ev)
		}
	}
}

func (q *IndexQueue) handle(ctx context.Context, ev RowInserted) {
	if _, err := q.indexer.OnRowInserted(ctx, ev); err != nil {
		q.logger.Warn("index queue: indexing failed",
			"table", ev.Table, "id", ev.RecordID, "err", err)
	}
}
