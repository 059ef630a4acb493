// ABOUTME: HTTP handlers for command dispatch, agent attach and activity queries
// ABOUTME: Agent endpoints (connect, ws, command-output) are never behind operator auth

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/dispatch-gateway/internal/agent"
	"github.com/2389/dispatch-gateway/internal/dedupe"
	"github.com/2389/dispatch-gateway/internal/dispatch"
	"github.com/2389/dispatch-gateway/internal/transport"
)

// commandRequest is the JSON body for POST /command.
type commandRequest struct {
	ClassID  string `json:"classId"`
	Cmd      string `json:"cmd"`
	ClientID string `json:"clientId,omitempty"`
}

// commandResponse is the JSON response for POST /command.
type commandResponse struct {
	Message         string   `json:"message"`
	ClassID         string   `json:"classId"`
	Cmd             string   `json:"cmd"`
	ClientsNotified int      `json:"clientsNotified"`
	Clients         []string `json:"clients"`
}

// commandOutputRequest is the JSON body for POST /command-output.
type commandOutputRequest struct {
	Command   string `json:"command"`
	Output    string `json:"output"`
	Timestamp string `json:"timestamp"`
	IsError   bool   `json:"isError"`
}

// handleHealth handles the liveness check endpoint.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports 503 once shutdown has begun.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.shuttingDown.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents waiting)", g.registry.Len())
}

// handleCommand dispatches a command to a class or a single agent in it.
func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Cmd == "" {
		g.sendJSONError(w, http.StatusBadRequest, "cmd is required")
		return
	}

	res, err := g.engine.Dispatch(r.Context(), dispatch.Request{
		ClassID:  req.ClassID,
		Command:  req.Cmd,
		TargetID: req.ClientID,
	})
	switch {
	case errors.Is(err, dispatch.ErrInvalidClass):
		g.sendJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("%v. Allowed values: %s", err, g.engine.Classes()))
		return
	case errors.Is(err, dispatch.ErrTargetNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		g.logger.Error("dispatch failed", "class_id", req.ClassID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	msg := fmt.Sprintf("Command dispatched to %d client(s)", res.NotifiedCount())
	if res.NotifiedCount() == 0 {
		msg = fmt.Sprintf("Command accepted but no clients waiting for class %s", res.ClassID)
	}

	clients := res.Notified
	if clients == nil {
		clients = []string{}
	}
	writeJSON(w, http.StatusAccepted, commandResponse{
		Message:         msg,
		ClassID:         res.ClassID,
		Cmd:             res.Command,
		ClientsNotified: res.NotifiedCount(),
		Clients:         clients,
	})
}

// handleConnect holds a long-poll request until a command is delivered,
// the hold times out, or the agent goes away.
func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	classID := r.PathValue("classId")
	if !g.engine.Classes().Contains(classID) {
		g.sendJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid classId. Allowed values: %s", g.engine.Classes()))
		return
	}
	if g.shuttingDown.Load() {
		g.sendJSONError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	lp := transport.NewLongPoll()
	conn := agent.NewConnection(agent.ConnectionParams{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ClassID:   classID,
		Hostname:  clientHostname(r),
		IP:        clientIP(r),
		Transport: lp,
	})
	if err := g.registry.Add(conn); err != nil {
		g.logger.Error("registering long-poll connection", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to register connection")
		return
	}
	defer g.registry.Remove(conn.ID)
	g.releaseIfShuttingDown(conn.ID)

	cmd, err := lp.Wait(r.Context(), g.config.Agents.LongPollTimeout)
	switch {
	case err == nil:
		w.Header().Set("Cache-Control", "no-cache")
		writeJSON(w, http.StatusOK, cmd)
	case errors.Is(err, transport.ErrTimeout):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, transport.ErrClosed) && g.shuttingDown.Load():
		g.sendJSONError(w, http.StatusServiceUnavailable, "server shutting down")
	case errors.Is(err, transport.ErrClosed):
		// A newer connection from the same hostname evicted this one.
		g.sendJSONError(w, http.StatusConflict, "superseded by a newer connection")
	default:
		g.logger.Debug("long-poll client went away", "hostname", conn.Hostname, "error", err)
	}
}

// handleSocket upgrades to a WebSocket and keeps the agent registered until
// a command is delivered or the connection ends.
func (g *Gateway) handleSocket(w http.ResponseWriter, r *http.Request) {
	classID := r.URL.Query().Get("classId")
	if !g.engine.Classes().Contains(classID) {
		g.sendJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid classId. Allowed values: %s", g.engine.Classes()))
		return
	}
	if g.shuttingDown.Load() {
		g.sendJSONError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	hostname := socketHostname(r)
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.logger.Warn("websocket upgrade failed", "hostname", hostname, "error", err)
		return
	}

	sock := transport.NewSocket(ws, transport.SocketConfig{
		PingInterval: g.config.Agents.PingInterval,
		PongTimeout:  g.config.Agents.PongTimeout,
		WriteTimeout: g.config.Agents.WriteTimeout,
	}, g.logger.With("hostname", hostname))

	conn := agent.NewConnection(agent.ConnectionParams{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ClassID:   classID,
		Hostname:  hostname,
		IP:        clientIP(r),
		Transport: sock,
	})

	if err := sock.Send(transport.Welcome{
		Type:      transport.FrameConnectionEstablished,
		ClientID:  conn.ID,
		ClassID:   classID,
		Timestamp: conn.ConnectedAt.UTC(),
	}); err != nil {
		sock.Close()
		_ = ws.Close()
		return
	}

	if err := g.registry.Add(conn); err != nil {
		g.logger.Error("registering socket connection", "error", err)
		sock.Close()
		_ = ws.Close()
		return
	}
	defer g.registry.Remove(conn.ID)
	g.releaseIfShuttingDown(conn.ID)

	err = sock.Serve(func(rep transport.OutputReport) {
		g.recordOutput(hostname, rep.Command, rep.Output, rep.IsError, rep.Timestamp)
	})
	if err != nil {
		g.logger.Debug("socket closed", "hostname", hostname, "error", err)
	}
}

// releaseIfShuttingDown drops a connection that registered after Shutdown
// released the registry.
func (g *Gateway) releaseIfShuttingDown(id string) {
	if g.shuttingDown.Load() {
		g.registry.Remove(id)
	}
}

// handleCommandOutput attaches an agent's result to its dispatch entry.
// Correlation misses are not errors.
func (g *Gateway) handleCommandOutput(w http.ResponseWriter, r *http.Request) {
	var req commandOutputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	g.recordOutput(clientHostname(r), req.Command, req.Output, req.IsError, req.Timestamp)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// recordOutput drops exact retries. A report without a timestamp cannot be
// told apart from a re-run of the same command, so it is always recorded.
func (g *Gateway) recordOutput(hostname, command, output string, isError bool, timestamp string) {
	if timestamp != "" && g.outputs.Seen(dedupe.OutputKey(hostname, command, timestamp, output)) {
		g.logger.Debug("duplicate command output ignored", "hostname", hostname, "command", command)
		return
	}
	if !g.log.RecordOutput(command, hostname, output, isError, timestamp) {
		g.logger.Debug("command output matched no recent dispatch", "hostname", hostname, "command", command)
	}
}

func (g *Gateway) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.registry.ListAll())
}

func (g *Gateway) handleActivityLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.log.List())
}

func (g *Gateway) handleClearActivityLog(w http.ResponseWriter, r *http.Request) {
	g.log.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Activity log cleared"})
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.stats.Snapshot(time.Now(), g.registry.Len()))
}

func (g *Gateway) handleClasses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"classes": g.engine.Classes().List()})
}

// sendJSONError sends a JSON error response with the given status code and message.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
