// Package loop runs the daemon's single cooperative execution context.
//
// Every mutation of PIM instance state (routing-context events,
// configuration reloads, API requests, shutdown) is posted to one Loop and
// executed to completion, one task at a time, in arrival order. Code that
// runs on the loop therefore needs no locking.
package loop

import (
	"context"
	"errors"
	"log/slog"
)

// ErrStopped indicates the loop is no longer running tasks.
var ErrStopped = errors.New("event loop stopped")

// defaultDepth is the task queue depth used when New is given zero.
const defaultDepth = 64

// Loop is a serial task executor.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	logger *slog.Logger
}

// New creates a loop whose queue holds depth pending tasks.
func New(logger *slog.Logger, depth int) *Loop {
	if depth <= 0 {
		depth = defaultDepth
	}
	return &Loop{
		tasks:  make(chan func(), depth),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("component", "loop")),
	}
}

// Run executes posted tasks until ctx is cancelled. Tasks still queued at
// that point are discarded. Run must be called at most once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	l.logger.Debug("event loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("event loop stopped", slog.Int("discarded", len(l.tasks)))
			return nil
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post queues fn without waiting for it to run.
func (l *Loop) Post(ctx context.Context, fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}

	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the loop and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := l.Post(ctx, func() { result <- fn() }); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-l.done:
		// The task may have completed just before the loop stopped.
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }
