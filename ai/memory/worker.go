package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// taskTimeout bounds each background unit of work (the embedding call plus
// the store write). A timed-out embed stores the document without a vector;
// the fallback path still finds it.
const taskTimeout = 8 * time.Second

const defaultQueueSize = 64

// Worker drains one scope's background work queue. Submission never blocks
// the caller's reply path: a full queue drops the task and reports it.
type Worker struct {
	scopeID string
	tasks   chan workItem
	stopped chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

type workItem struct {
	run  func(ctx context.Context)
	done chan struct{} // flush marker when non-nil
}

// NewWorker starts the drain goroutine for one scope.
func NewWorker(scopeID string, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	w := &Worker{
		scopeID: scopeID,
		tasks:   make(chan workItem, queueSize),
		stopped: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Submit enqueues a unit of work. Returns false when the queue is full (the
// task is dropped) or the worker is closed. Callers must not race Submit
// against Close.
func (w *Worker) Submit(run func(ctx context.Context)) bool {
	if w.closed.Load() {
		return false
	}
	select {
	case w.tasks <- workItem{run: run}:
		return true
	default:
		slog.Warn("background queue full, dropping task", "scope_id", w.scopeID)
		return false
	}
}

// Flush blocks until every task submitted before the call has run. Used for
// graceful shutdown and test determinism.
func (w *Worker) Flush() {
	if w.closed.Load() {
		<-w.stopped
		return
	}
	done := make(chan struct{})
	select {
	case w.tasks <- workItem{done: done}:
	case <-w.stopped:
		return
	}
	select {
	case <-done:
	case <-w.stopped:
	}
}

// Close drains the remaining queue and stops the goroutine.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.tasks)
	})
	<-w.stopped
}

func (w *Worker) loop() {
	defer close(w.stopped)
	for item := range w.tasks {
		if item.done != nil {
			close(item.done)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		item.run(ctx)
		cancel()
	}
}
