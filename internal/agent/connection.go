// ABOUTME: A single waiting agent connection and the transport capability it holds
// ABOUTME: Transport is a tagged variant over long-poll and socket delivery paths

package agent

import (
	"fmt"
	"sync"
	"time"
)

// Kind tags which delivery path a Transport uses.
type Kind string

const (
	KindLongPoll Kind = "long-poll"
	KindSocket   Kind = "socket"
)

// Command is the payload delivered to an agent.
type Command struct {
	Class     string    `json:"class"`
	Cmd       string    `json:"cmd"`
	Timestamp time.Time `json:"timestamp"`
}

// Transport is the delivery capability of a waiting connection.
// Deliver succeeds at most once; after Deliver or Close the transport is inert.
// Close must not block, it is called with the registry lock held.
type Transport interface {
	Kind() Kind
	Usable() bool
	Deliver(cmd Command) error
	Close()
}

// Connection represents one agent currently waiting for a command.
type Connection struct {
	ID          string
	Hostname    string
	IP          string
	ConnectedAt time.Time
	Transport   Transport

	mu      sync.RWMutex
	classID string
	seq     uint64 // registry insertion order
}

// ConnectionParams holds the parameters for creating a new Connection.
type ConnectionParams struct {
	ID          string
	ClassID     string
	Hostname    string
	IP          string
	ConnectedAt time.Time
	Transport   Transport
}

// NewConnection creates a new Connection. ConnectedAt defaults to now.
func NewConnection(p ConnectionParams) *Connection {
	if p.ConnectedAt.IsZero() {
		p.ConnectedAt = time.Now()
	}
	return &Connection{
		ID:          p.ID,
		Hostname:    p.Hostname,
		IP:          p.IP,
		ConnectedAt: p.ConnectedAt,
		Transport:   p.Transport,
		classID:     p.ClassID,
	}
}

// ClassID returns the connection's current class.
func (c *Connection) ClassID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.classID
}

func (c *Connection) setClassID(classID string) {
	c.mu.Lock()
	c.classID = classID
	c.mu.Unlock()
}

// Kind returns the transport kind, or "" when no transport is attached.
func (c *Connection) Kind() Kind {
	if c.Transport == nil {
		return ""
	}
	return c.Transport.Kind()
}

// ConnectionInfo is a read-only snapshot of a Connection for status reporting.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	Hostname    string    `json:"hostname"`
	ClassID     string    `json:"classId"`
	IP          string    `json:"ip"`
	Transport   Kind      `json:"transport"`
	ConnectedAt time.Time `json:"connectedAt"`
	Duration    string    `json:"connectionDuration"`
}

// Info snapshots the connection with its elapsed duration computed against now.
func (c *Connection) Info(now time.Time) ConnectionInfo {
	return ConnectionInfo{
		ID:          c.ID,
		Hostname:    c.Hostname,
		ClassID:     c.ClassID(),
		IP:          c.IP,
		Transport:   c.Kind(),
		ConnectedAt: c.ConnectedAt,
		Duration:    FormatDuration(now.Sub(c.ConnectedAt)),
	}
}

// FormatDuration renders a connection age as whole minutes, or seconds
// when under a minute ("3m", "42s").
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if m := int(d / time.Minute); m > 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", int(d/time.Second))
}
