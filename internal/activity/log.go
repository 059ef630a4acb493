// ABOUTME: Bounded most-recent-first activity log with output correlation
// ABOUTME: Fixed-capacity ring; RecordOutput attaches agent results to recent dispatches

package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultCapacity is the number of entries kept when none is configured.
	DefaultCapacity = 100

	// DefaultLookback is how many recent entries RecordOutput scans.
	DefaultLookback = 20
)

// Log is a fixed-capacity ring of activity entries. The oldest entry is
// overwritten once the ring is full. Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	ring     []*Entry
	head     int // next write position
	count    int
	lookback int

	broadcaster *Broadcaster
	now         func() time.Time
	logger      *slog.Logger
}

// NewLog creates a log holding at most capacity entries. RecordOutput scans
// the lookback most recent entries. Non-positive values fall back to defaults.
func NewLog(capacity, lookback int, logger *slog.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		ring:        make([]*Entry, capacity),
		lookback:    lookback,
		broadcaster: NewBroadcaster(logger),
		now:         time.Now,
		logger:      logger.With("component", "activity"),
	}
}

// Add appends an entry, assigning its ID and timestamp when unset, and
// returns the stored copy. Subscribers receive the new entry.
func (l *Log) Add(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}

	l.mu.Lock()
	stored := &e
	l.ring[l.head] = stored
	l.head = (l.head + 1) % len(l.ring)
	if l.count < len(l.ring) {
		l.count++
	}
	snapshot := stored.clone()
	l.mu.Unlock()

	l.broadcaster.Publish(snapshot)
	return snapshot
}

// List returns a copy of all entries, newest first.
func (l *Log) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, l.count)
	for i := 0; i < l.count; i++ {
		out = append(out, l.at(i).clone())
	}
	return out
}

// Len returns the number of entries currently held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Capacity returns the maximum number of entries held.
func (l *Log) Capacity() int {
	return len(l.ring)
}

// Clear deletes every entry.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.ring)
	l.head = 0
	l.count = 0
	l.logger.Info("activity log cleared")
}

// RecordOutput attaches an agent's output to the most recent dispatch entry
// whose command text equals command, scanning only the lookback most recent
// entries. Returns false when no entry matched; the output is then dropped.
// Outputs from other hostnames on the same entry are preserved.
func (l *Log) RecordOutput(command, hostname, output string, isError bool, timestamp string) bool {
	l.mu.Lock()

	limit := min(l.lookback, l.count)
	var match *Entry
	for i := 0; i < limit; i++ {
		if e := l.at(i); e.Command() == command {
			match = e
			break
		}
	}
	if match == nil {
		l.mu.Unlock()
		l.logger.Debug("output did not match a recent dispatch",
			"command", command,
			"hostname", hostname,
		)
		return false
	}

	if match.Metadata == nil {
		match.Metadata = make(map[string]any)
	}
	outputs, ok := match.Metadata[MetaOutputs].(map[string]Output)
	if !ok {
		outputs = make(map[string]Output)
		match.Metadata[MetaOutputs] = outputs
	}
	outputs[hostname] = Output{Output: output, Timestamp: timestamp, IsError: isError}
	snapshot := match.clone()
	l.mu.Unlock()

	l.logger.Info("output recorded",
		"entry_id", snapshot.ID,
		"command", command,
		"hostname", hostname,
		"is_error", isError,
	)
	l.broadcaster.Publish(snapshot)
	return true
}

// Subscribe returns a channel of entries added or amended after the call.
// The channel is closed when ctx is cancelled or the log is closed.
func (l *Log) Subscribe(ctx context.Context) <-chan Entry {
	ch, _ := l.broadcaster.Subscribe(ctx)
	return ch
}

// Close releases all subscribers.
func (l *Log) Close() {
	l.broadcaster.Close()
}

// at returns the i-th newest entry. Must be called with mu held.
func (l *Log) at(i int) *Entry {
	n := len(l.ring)
	return l.ring[(l.head-1-i+n)%n]
}
