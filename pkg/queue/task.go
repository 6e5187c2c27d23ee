// Package queue is the agent pool: a bounded FIFO of tasks executed by a
// fixed set of workers under a global concurrency cap, with per-agent
// rate limiting, a cancel registry keyed by session, and heartbeat and
// activity reporting.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueFull indicates the wait queue is at capacity.
	ErrQueueFull = errors.New("task queue full")

	// ErrPoolStopped indicates a submit after shutdown began.
	ErrPoolStopped = errors.New("pool stopped")
)

// TaskFunc is the work itself. It must respect ctx cancellation.
type TaskFunc func(ctx context.Context) (string, error)

// Task is one unit of work bound to an agent and, usually, a session.
type Task struct {
	// AgentID selects the rate limit bucket and activity attribution.
	AgentID string

	// SessionID, when set, registers the task's cancel function so the
	// session can be cancelled (and cascaded to children) from outside.
	SessionID string

	// Kind tags the activity log row ("cron_fire", "chat_turn", ...).
	Kind string

	// Timeout bounds the task's execution; zero means no bound beyond
	// pool shutdown.
	Timeout time.Duration

	Run TaskFunc
}

// Result is a finished task's outcome.
type Result struct {
	Output string
	Err    error
}

// Future resolves when its task finishes.
type Future struct {
	done chan struct{}
	res  Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(output string, err error) {
	f.res = Result{Output: output, Err: err}
	close(f.done)
}

// Done returns a channel closed when the task has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx expires.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
