package replay

import (
	"context"
	"sync"

	"github.com/cyberinferno/railserver/logger"
	"github.com/eapache/queue"
)

// AsyncAppender hands records to a single worker goroutine so that callers
// never wait on the store. Records are appended in the order they were
// enqueued. Failed appends are logged and dropped.
type AsyncAppender struct {
	store  Appender
	logger logger.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  *queue.Queue
	closed bool
	done   chan struct{}
}

// NewAsyncAppender starts the goroutine that drains the backlog into store.
func NewAsyncAppender(store Appender, log logger.Logger) *AsyncAppender {
	a := &AsyncAppender{
		store:  store,
		logger: log.With(logger.F("component", "replay-appender")),
		queue:  queue.New(),
		done:   make(chan struct{}),
	}
	a.cond = sync.NewCond(&a.mu)

	go a.run()
	return a
}

// Enqueue schedules rec for appending. It reports false once the appender
// is closed.
func (a *AsyncAppender) Enqueue(rec Record) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.logger.Warn("replay record dropped after close", logger.F("game_id", rec.GameID), logger.F("action", rec.Code.String()))
		return false
	}

	a.queue.Add(rec)
	a.cond.Signal()
	return true
}

// Pending returns the number of records waiting to be appended.
func (a *AsyncAppender) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue.Length()
}

// Close stops accepting records and waits until the backlog is written or
// ctx ends.
func (a *AsyncAppender) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.cond.Signal()
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AsyncAppender) run() {
	defer close(a.done)

	for {
		a.mu.Lock()
		for a.queue.Length() == 0 && !a.closed {
			a.cond.Wait()
		}

		if a.queue.Length() == 0 {
			a.mu.Unlock()
			return
		}

		rec := a.queue.Remove().(Record)
		a.mu.Unlock()

		if err := a.store.Append(context.Background(), rec); err != nil {
			a.logger.Error("failed to append replay record",
				logger.F("game_id", rec.GameID),
				logger.F("action", rec.Code.String()),
				logger.Err(err),
			)
		}
	}
}
