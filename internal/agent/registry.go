// ABOUTME: In-memory registry of agents waiting for a command
// ABOUTME: Handles reconnect eviction, idempotent removal and class lookups

package agent

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/dispatch-gateway/internal/activity"
)

// ErrConnectionExists indicates a connection with the same ID is already registered.
var ErrConnectionExists = errors.New("connection already registered")

// ErrConnectionNotFound indicates the specified connection was not found.
var ErrConnectionNotFound = errors.New("connection not found")

// Registry tracks waiting connections by ID with secondary lookup by class
// and hostname. Every mutation is logged to the activity log while the
// registry lock is held, so registry and log changes are serialised.
type Registry struct {
	mu      sync.Mutex
	conns   map[string]*Connection
	byHost  map[string]string // hostname -> connection ID
	nextSeq uint64

	log    *activity.Log
	stats  *Stats
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates an empty Registry that records events to log and
// counts connections in stats.
func NewRegistry(log *activity.Log, stats *Stats, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*Connection),
		byHost: make(map[string]string),
		log:    log,
		stats:  stats,
		now:    time.Now,
		logger: logger.With("component", "registry"),
	}
}

// Add registers a waiting connection. An existing connection for the same
// hostname is closed and removed first.
func (r *Registry) Add(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID]; exists {
		return fmt.Errorf("%w: %s", ErrConnectionExists, conn.ID)
	}

	if staleID, ok := r.byHost[conn.Hostname]; ok {
		r.logger.Info("evicting stale connection for reconnecting host",
			"hostname", conn.Hostname,
			"stale_id", staleID,
			"new_id", conn.ID,
		)
		r.removeLocked(staleID)
	}

	r.nextSeq++
	conn.seq = r.nextSeq
	r.conns[conn.ID] = conn
	r.byHost[conn.Hostname] = conn.ID
	r.stats.IncrementConnections()

	classID := conn.ClassID()
	r.log.Add(activity.Entry{
		Type:        activity.TypeClientConnected,
		Title:       "Client Connected",
		Description: fmt.Sprintf("%s joined class %s", conn.Hostname, classID),
		Metadata: map[string]any{
			"hostname":  conn.Hostname,
			"classId":   classID,
			"ip":        conn.IP,
			"transport": string(conn.Kind()),
		},
	})

	r.logger.Info("=== AGENT CONNECTED ===",
		"connection_id", conn.ID,
		"hostname", conn.Hostname,
		"class_id", classID,
		"ip", conn.IP,
		"transport", conn.Kind(),
		"waiting", len(r.conns),
	)
	return nil
}

// Remove closes and deletes the connection. It reports whether a record was
// removed; removing an absent ID is a no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

// removeLocked must be called with mu held.
func (r *Registry) removeLocked(id string) bool {
	conn, ok := r.conns[id]
	if !ok {
		return false
	}

	if conn.Transport != nil {
		conn.Transport.Close()
	}
	delete(r.conns, id)
	if r.byHost[conn.Hostname] == id {
		delete(r.byHost, conn.Hostname)
	}

	classID := conn.ClassID()
	r.log.Add(activity.Entry{
		Type:        activity.TypeClientDisconnected,
		Title:       "Client Disconnected",
		Description: fmt.Sprintf("%s left class %s", conn.Hostname, classID),
		Metadata: map[string]any{
			"hostname": conn.Hostname,
			"classId":  classID,
			"ip":       conn.IP,
		},
	})

	r.logger.Info("=== AGENT DISCONNECTED ===",
		"connection_id", id,
		"hostname", conn.Hostname,
		"class_id", classID,
		"waiting", len(r.conns),
	)
	return true
}

// Get returns the connection with the given ID.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// GetByHostname returns the connection currently held for hostname.
func (r *Registry) GetByHostname(hostname string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHost[hostname]
	if !ok {
		return nil, false
	}
	return r.conns[id], true
}

// ListByClass returns the connections in classID in insertion order.
func (r *Registry) ListByClass(classID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Connection
	for _, conn := range r.conns {
		if conn.ClassID() == classID {
			out = append(out, conn)
		}
	}
	sortBySeq(out)
	return out
}

// ListAll snapshots every connection in insertion order, annotated with
// elapsed connection duration.
func (r *Registry) ListAll() []ConnectionInfo {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	sortBySeq(conns)
	now := r.now()
	out := make([]ConnectionInfo, len(conns))
	for i, conn := range conns {
		out[i] = conn.Info(now)
	}
	return out
}

// Len returns the number of waiting connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// UpdateClass moves a connection to newClassID without dropping it.
func (r *Registry) UpdateClass(id, newClassID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}

	oldClassID := conn.ClassID()
	conn.setClassID(newClassID)

	r.log.Add(activity.Entry{
		Type:        activity.TypeClassChanged,
		Title:       "Class Changed",
		Description: fmt.Sprintf("%s moved from class %s to %s", conn.Hostname, oldClassID, newClassID),
		Metadata: map[string]any{
			"hostname":   conn.Hostname,
			"oldClassId": oldClassID,
			"newClassId": newClassID,
		},
	})

	r.logger.Info("class changed",
		"connection_id", id,
		"hostname", conn.Hostname,
		"old_class_id", oldClassID,
		"new_class_id", newClassID,
	)
	return nil
}

// CloseAll closes and removes every connection. Used on shutdown so held
// requests return.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	for _, id := range ids {
		r.removeLocked(id)
	}
	return len(ids)
}

func sortBySeq(conns []*Connection) {
	slices.SortFunc(conns, func(a, b *Connection) int {
		return cmp.Compare(a.seq, b.seq)
	})
}
