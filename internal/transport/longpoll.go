// ABOUTME: Long-poll transport: an HTTP request held open until a command arrives
// ABOUTME: The handle completes exactly once, by delivery or by cancellation

package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/2389/dispatch-gateway/internal/agent"
)

// ErrClosed indicates the transport was closed before delivery.
var ErrClosed = errors.New("transport closed")

// ErrTimeout indicates a long-poll hold expired without a command.
var ErrTimeout = errors.New("long-poll hold timed out")

// LongPoll is a complete-once handle for a held HTTP request.
type LongPoll struct {
	once sync.Once
	done chan struct{}
	cmd  *agent.Command // set before done is closed when delivered
}

// NewLongPoll creates an open long-poll handle.
func NewLongPoll() *LongPoll {
	return &LongPoll{done: make(chan struct{})}
}

// Kind reports KindLongPoll.
func (l *LongPoll) Kind() agent.Kind {
	return agent.KindLongPoll
}

// Usable reports whether the handle is still waiting.
func (l *LongPoll) Usable() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Deliver completes the handle with cmd. Returns ErrClosed if the handle
// was already completed or cancelled.
func (l *LongPoll) Deliver(cmd agent.Command) error {
	delivered := false
	l.once.Do(func() {
		l.cmd = &cmd
		delivered = true
		close(l.done)
	})
	if !delivered {
		return ErrClosed
	}
	return nil
}

// Close cancels the handle if it has not completed. Safe to call repeatedly.
func (l *LongPoll) Close() {
	l.once.Do(func() {
		close(l.done)
	})
}

// Wait blocks until the handle completes, ctx is done, or timeout elapses
// (zero waits indefinitely). On ctx or timeout the handle is cancelled; if a
// delivery won that race the command is still returned.
func (l *LongPoll) Wait(ctx context.Context, timeout time.Duration) (agent.Command, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var cause error
	select {
	case <-l.done:
	case <-ctx.Done():
		cause = ctx.Err()
	case <-expired:
		cause = ErrTimeout
	}

	l.Close()
	if l.cmd != nil {
		return *l.cmd, nil
	}
	if cause != nil {
		return agent.Command{}, cause
	}
	return agent.Command{}, ErrClosed
}
