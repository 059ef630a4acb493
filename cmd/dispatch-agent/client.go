// ABOUTME: Gateway client for dispatch-agent over long-poll or WebSocket
// ABOUTME: Receives one command per attach and reports output back to the gateway

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/dispatch-gateway/internal/agent"
	"github.com/2389/dispatch-gateway/internal/transport"
)

// errNoCommand means the attach ended without a command (hold timeout).
var errNoCommand = errors.New("no command received")

// outputReport is the body of POST /command-output and, with a type, the
// command_output socket frame.
type outputReport struct {
	Type      string `json:"type,omitempty"`
	Command   string `json:"command"`
	Output    string `json:"output"`
	IsError   bool   `json:"isError"`
	Timestamp string `json:"timestamp"`
}

// gatewayClient talks to one dispatch gateway.
type gatewayClient struct {
	baseURL  *url.URL
	hostname string
	http     *http.Client
	dialer   *websocket.Dialer
	logger   *slog.Logger

	mu      sync.Mutex
	class   string
	pending []outputReport // queued for the next socket attach
}

func newGatewayClient(server, hostname, class string, logger *slog.Logger) (*gatewayClient, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL must be http or https, got %q", u.Scheme)
	}
	return &gatewayClient{
		baseURL:  u,
		hostname: hostname,
		class:    class,
		http:     &http.Client{},
		dialer:   websocket.DefaultDialer,
		logger:   logger,
	}, nil
}

func (c *gatewayClient) Class() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.class
}

func (c *gatewayClient) SetClass(class string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.class = class
}

// Poll holds GET /connect/{class} until a command arrives.
func (c *gatewayClient) Poll(ctx context.Context) (agent.Command, error) {
	endpoint := c.baseURL.JoinPath("connect", c.Class())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return agent.Command{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Hostname", c.hostname)

	resp, err := c.http.Do(req)
	if err != nil {
		return agent.Command{}, fmt.Errorf("long-poll: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var cmd agent.Command
		if err := json.NewDecoder(resp.Body).Decode(&cmd); err != nil {
			return agent.Command{}, fmt.Errorf("decoding command: %w", err)
		}
		return cmd, nil
	case http.StatusNoContent:
		return agent.Command{}, errNoCommand
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return agent.Command{}, fmt.Errorf("long-poll: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func (c *gatewayClient) socketURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u = *u.JoinPath("ws")
	q := url.Values{}
	q.Set("classId", c.Class())
	q.Set("hostname", c.hostname)
	u.RawQuery = q.Encode()
	return u.String()
}

// Listen attaches over a WebSocket, flushes queued output reports as
// command_output frames, and waits for one command.
func (c *gatewayClient) Listen(ctx context.Context) (agent.Command, error) {
	header := http.Header{"X-Hostname": {c.hostname}}
	conn, resp, err := c.dialer.DialContext(ctx, c.socketURL(), header)
	if err != nil {
		if resp != nil {
			return agent.Command{}, fmt.Errorf("websocket dial: status %d: %w", resp.StatusCode, err)
		}
		return agent.Command{}, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	// Unblock reads when the context ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var welcome transport.Welcome
	if err := conn.ReadJSON(&welcome); err != nil {
		return agent.Command{}, fmt.Errorf("reading welcome: %w", err)
	}
	c.logger.Debug("attached", "client_id", welcome.ClientID, "class", welcome.ClassID)

	for _, rep := range c.takePending() {
		rep.Type = transport.FrameCommandOutput
		if err := conn.WriteJSON(rep); err != nil {
			c.queue(rep)
			return agent.Command{}, fmt.Errorf("sending output: %w", err)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return agent.Command{}, errNoCommand
			}
			return agent.Command{}, fmt.Errorf("reading command: %w", err)
		}

		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &frame); err == nil && frame.Type != "" {
			continue
		}

		var cmd agent.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return agent.Command{}, fmt.Errorf("decoding command: %w", err)
		}
		return cmd, nil
	}
}

// Report posts a command's output, retrying transient failures.
func (c *gatewayClient) Report(ctx context.Context, rep outputReport) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}

	var lastErr error
	for attempt := range 3 {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		lastErr = c.postOutput(ctx, body)
		if lastErr == nil {
			return nil
		}
		c.logger.Warn("reporting output failed", "attempt", attempt+1, "error", lastErr)
	}
	return lastErr
}

func (c *gatewayClient) postOutput(ctx context.Context, body []byte) error {
	endpoint := c.baseURL.JoinPath("command-output")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hostname", c.hostname)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (c *gatewayClient) queue(rep outputReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, rep)
}

func (c *gatewayClient) takePending() []outputReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}
