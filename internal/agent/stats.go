// ABOUTME: Process-wide dispatch and connection counters
// ABOUTME: Counters are monotonic and reset only by restart

package agent

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats holds monotonic counters plus the process start time.
type Stats struct {
	commandsDispatched atomic.Int64
	totalConnections   atomic.Int64
	startTime          time.Time
}

// StatsSnapshot is the reported form of Stats.
type StatsSnapshot struct {
	CommandsDispatched int64     `json:"commandsDispatched"`
	TotalConnections   int64     `json:"totalConnections"`
	Uptime             string    `json:"uptime"`
	StartTime          time.Time `json:"startTime"`
	WaitingConnections int       `json:"waitingConnections"`
}

// NewStats creates counters starting at zero with the given start time.
func NewStats(startTime time.Time) *Stats {
	return &Stats{startTime: startTime}
}

// IncrementDispatched counts one dispatched command.
func (s *Stats) IncrementDispatched() {
	s.commandsDispatched.Add(1)
}

// IncrementConnections counts one accepted connection.
func (s *Stats) IncrementConnections() {
	s.totalConnections.Add(1)
}

// StartTime returns when the counters started.
func (s *Stats) StartTime() time.Time {
	return s.startTime
}

// Snapshot reports the counters with uptime measured against now.
func (s *Stats) Snapshot(now time.Time, waiting int) StatsSnapshot {
	return StatsSnapshot{
		CommandsDispatched: s.commandsDispatched.Load(),
		TotalConnections:   s.totalConnections.Load(),
		Uptime:             FormatUptime(now.Sub(s.startTime)),
		StartTime:          s.startTime,
		WaitingConnections: waiting,
	}
}

// FormatUptime renders d as "Xh Ym".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
