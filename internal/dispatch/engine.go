// ABOUTME: Dispatch engine that fans a command out to waiting agents of a class
// ABOUTME: Validates the class, delivers over each transport, evicts and logs once

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/2389/dispatch-gateway/internal/activity"
	"github.com/2389/dispatch-gateway/internal/agent"
)

// ErrInvalidClass indicates a class ID outside the allow-list.
var ErrInvalidClass = errors.New("invalid class")

// ErrTargetNotFound indicates the requested agent is not waiting in the class.
var ErrTargetNotFound = errors.New("target client not found")

// Request is one operator command.
type Request struct {
	ClassID  string
	Command  string
	TargetID string // optional connection ID
}

// Result summarises a completed fan-out.
type Result struct {
	ClassID  string
	Command  string
	TargetID string
	Notified []string // hostnames, in delivery order
	EntryID  string   // activity log entry for the dispatch
}

// NotifiedCount returns the number of agents that received the command.
func (r *Result) NotifiedCount() int {
	return len(r.Notified)
}

// Engine matches commands to waiting connections.
type Engine struct {
	classes  *Classes
	registry *agent.Registry
	log      *activity.Log
	stats    *agent.Stats
	now      func() time.Time
	logger   *slog.Logger
}

// NewEngine creates an Engine over the given allow-list and shared state.
func NewEngine(classes *Classes, registry *agent.Registry, log *activity.Log, stats *agent.Stats, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		classes:  classes,
		registry: registry,
		log:      log,
		stats:    stats,
		now:      time.Now,
		logger:   logger.With("component", "dispatch"),
	}
}

// Classes returns the engine's allow-list.
func (e *Engine) Classes() *Classes {
	return e.classes
}

// Dispatch delivers req to every waiting connection in its class, or to the
// single target when TargetID is set. Each connection that receives the
// command is removed from the registry; connections whose delivery fails are
// removed too and the fan-out continues. A class with no waiting agents is
// not an error.
func (e *Engine) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if !e.classes.Contains(req.ClassID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClass, req.ClassID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	newClass, isClassChange := ParseClassChange(req.Command)
	if isClassChange && !e.classes.Contains(newClass) {
		return nil, fmt.Errorf("%w: class change to %q", ErrInvalidClass, newClass)
	}

	pool := e.registry.ListByClass(req.ClassID)
	if req.TargetID != "" {
		idx := slices.IndexFunc(pool, func(c *agent.Connection) bool { return c.ID == req.TargetID })
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, req.TargetID)
		}
		pool = pool[idx : idx+1]
	}

	e.logger.Info("dispatching command",
		"class_id", req.ClassID,
		"command", req.Command,
		"target_id", req.TargetID,
		"candidates", len(pool),
	)

	cmd := agent.Command{Class: req.ClassID, Cmd: req.Command, Timestamp: e.now().UTC()}
	notified := make([]string, 0, len(pool))

	for _, conn := range pool {
		if isClassChange {
			if err := e.registry.UpdateClass(conn.ID, newClass); err != nil {
				e.logger.Warn("class change skipped", "connection_id", conn.ID, "error", err)
			}
		}

		if err := deliver(conn, cmd); err != nil {
			e.logger.Warn("delivery failed",
				"connection_id", conn.ID,
				"hostname", conn.Hostname,
				"error", err,
			)
			e.registry.Remove(conn.ID)
			continue
		}

		notified = append(notified, conn.Hostname)
		e.registry.Remove(conn.ID)
		e.logger.Info("command delivered",
			"connection_id", conn.ID,
			"hostname", conn.Hostname,
			"ip", conn.IP,
			"transport", conn.Kind(),
		)
	}

	e.stats.IncrementDispatched()
	entry := e.log.Add(dispatchEntry(req, notified))

	return &Result{
		ClassID:  req.ClassID,
		Command:  req.Command,
		TargetID: req.TargetID,
		Notified: notified,
		EntryID:  entry.ID,
	}, nil
}

// errNotUsable indicates the transport closed between lookup and delivery.
var errNotUsable = errors.New("transport no longer usable")

func deliver(conn *agent.Connection, cmd agent.Command) error {
	if conn.Transport == nil || !conn.Transport.Usable() {
		return errNotUsable
	}
	if err := conn.Transport.Deliver(cmd); err != nil {
		return fmt.Errorf("delivering over %s: %w", conn.Kind(), err)
	}
	return nil
}

func dispatchEntry(req Request, notified []string) activity.Entry {
	description := fmt.Sprintf("Sent %q to class %s", req.Command, req.ClassID)
	if req.TargetID != "" && len(notified) == 1 {
		description = fmt.Sprintf("Sent %q to %s in class %s", req.Command, notified[0], req.ClassID)
	}

	meta := map[string]any{
		activity.MetaCommand:         req.Command,
		activity.MetaClassID:         req.ClassID,
		activity.MetaClientsNotified: slices.Clone(notified),
		activity.MetaClientCount:     len(notified),
		activity.MetaOutputs:         map[string]activity.Output{},
	}
	if req.TargetID != "" {
		meta[activity.MetaTargetClientID] = req.TargetID
	}

	return activity.Entry{
		Type:        activity.TypeCommandDispatched,
		Title:       "Command Dispatched",
		Description: description,
		Metadata:    meta,
	}
}
