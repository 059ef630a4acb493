// ABOUTME: Activity log entry types and metadata helpers
// ABOUTME: Entries are immutable except the outputs map on dispatch entries

package activity

import (
	"maps"
	"time"
)

// Type identifies the kind of event an Entry records.
type Type string

const (
	TypeCommandDispatched  Type = "command_dispatched"
	TypeClientConnected    Type = "client_connected"
	TypeClientDisconnected Type = "client_disconnected"
	TypeServerStarted      Type = "server_started"
	TypeClassChanged       Type = "class_changed"
)

// Metadata keys used on command_dispatched entries.
const (
	MetaCommand         = "command"
	MetaClassID         = "classId"
	MetaClientsNotified = "clientsNotified"
	MetaClientCount     = "clientCount"
	MetaTargetClientID  = "targetClientId"
	MetaOutputs         = "outputs"
)

// Output is one agent's reported result for a dispatched command.
type Output struct {
	Output    string `json:"output"`
	Timestamp string `json:"timestamp"`
	IsError   bool   `json:"isError"`
}

// Entry is a single activity log record.
type Entry struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Command returns the dispatched command text, or "" for other entry types.
func (e *Entry) Command() string {
	if e.Type != TypeCommandDispatched {
		return ""
	}
	cmd, _ := e.Metadata[MetaCommand].(string)
	return cmd
}

// Outputs returns the per-hostname outputs recorded on a dispatch entry.
func (e *Entry) Outputs() map[string]Output {
	outputs, _ := e.Metadata[MetaOutputs].(map[string]Output)
	return outputs
}

// clone copies the entry deep enough that the outputs map can be amended
// later without racing readers of the copy.
func (e *Entry) clone() Entry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = maps.Clone(e.Metadata)
		if outputs, ok := e.Metadata[MetaOutputs].(map[string]Output); ok {
			c.Metadata[MetaOutputs] = maps.Clone(outputs)
		}
	}
	return c
}
