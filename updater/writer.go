package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const DefaultWriterQueueSize = 64

var ErrWriterClosed = errors.New("writer closed")

type task struct {
	fn   func() error
	done chan error
}

// Writer serializes mutations of the realtime state. Tasks run one at
// a time, in submission order, on a single goroutine.
type Writer struct {
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	tasks  chan task
	wg     sync.WaitGroup
}

func NewWriter(queueSize int, logger *slog.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultWriterQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Writer{
		logger: logger.With("component", "writer"),
		tasks:  make(chan task, queueSize),
	}

	w.wg.Add(1)
	go w.run()

	return w
}

func (w *Writer) run() {
	defer w.wg.Done()

	for t := range w.tasks {
		err := w.execute(t.fn)
		if t.done != nil {
			t.done <- err
		} else if err != nil {
			w.logger.Warn("task failed", "error", err)
		}
	}
}

func (w *Writer) execute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn()
}

// Queues fn for execution without waiting for it. Blocks while the
// queue is full. Errors returned by fn are logged.
func (w *Writer) Submit(fn func() error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}
	w.tasks <- task{fn: fn}
	return nil
}

// Queues fn and waits for it to complete, returning its error. If ctx
// is done first, ctx's error is returned; fn may still run later.
func (w *Writer) Execute(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWriterClosed
	}
	select {
	case w.tasks <- task{fn: fn, done: done}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stops accepting tasks, runs those already queued and waits for the
// worker goroutine to exit. Safe to call more than once.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.tasks)
	}
	w.mu.Unlock()

	w.wg.Wait()
}
