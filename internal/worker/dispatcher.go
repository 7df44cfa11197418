package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"equipviz/internal/core"
)

var (
	ErrQueueFull = errors.New("activity queue full")
	ErrStopped   = errors.New("activity dispatcher stopped")
)

// Recorder is the downstream activity consumer.
type Recorder interface {
	Record(ctx context.Context, a core.Activity) error
}

// ActivityDispatcher decouples slow recorders, such as a message broker, from
// request handling. Activities are delivered in order by a single goroutine.
type ActivityDispatcher struct {
	next    Recorder
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	queue  chan core.Activity
	closed bool
	done   chan struct{}

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewActivityDispatcher starts the delivery goroutine.
func NewActivityDispatcher(next Recorder, buffer int, timeout time.Duration, logger *slog.Logger) *ActivityDispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &ActivityDispatcher{
		next:    next,
		timeout: timeout,
		logger:  logger.With("component", "dispatcher"),
		queue:   make(chan core.Activity, buffer),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Record enqueues without blocking.
func (d *ActivityDispatcher) Record(_ context.Context, a core.Activity) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrStopped
	}
	select {
	case d.queue <- a:
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

func (d *ActivityDispatcher) run() {
	defer close(d.done)
	for a := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.next.Record(ctx, a)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.logger.Warn("Activity delivery failed", "kind", a.Kind, "username", a.Username, "error", err)
			continue
		}
		d.delivered.Add(1)
	}
}

// Close stops accepting activities and waits for the queue to drain.
func (d *ActivityDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports delivered, dropped and failed counts.
func (d *ActivityDispatcher) Stats() (delivered, dropped, failed int64) {
	return d.delivered.Load(), d.dropped.Load(), d.failed.Load()
}
