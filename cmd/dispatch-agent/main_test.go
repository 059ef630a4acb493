// ABOUTME: Tests for dispatch-agent flag parsing, command execution and the gateway client
// ABOUTME: End-to-end cases run the agent loop against an in-process gateway

package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dispatch-gateway/internal/activity"
	"github.com/2389/dispatch-gateway/internal/agent"
	"github.com/2389/dispatch-gateway/internal/config"
	"github.com/2389/dispatch-gateway/internal/gateway"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"--class", "58.0.6", "--hostname", "host-1"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:5000", opts.server)
	assert.Equal(t, transportLongPoll, opts.transport)
	assert.Equal(t, 60*time.Second, opts.timeout)

	opts, err = parseFlags([]string{"-c", "58.1.1", "-t", "ws", "-s", "https://gw.example", "--timeout", "5s"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, transportSocket, opts.transport)
	assert.Equal(t, "https://gw.example", opts.server)
	assert.Equal(t, 5*time.Second, opts.timeout)

	_, err = parseFlags(nil, io.Discard)
	assert.ErrorContains(t, err, "--class")

	_, err = parseFlags([]string{"-c", "58.0.6", "-t", "carrier-pigeon"}, io.Discard)
	assert.ErrorContains(t, err, "unknown transport")
}

func TestRunner(t *testing.T) {
	r := &runner{shell: "sh", timeout: 2 * time.Second}
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		out, isErr := r.Run(ctx, "echo hello")
		assert.False(t, isErr)
		assert.Equal(t, "hello\n", out)
	})

	t.Run("non-zero exit", func(t *testing.T) {
		out, isErr := r.Run(ctx, "echo boom >&2; exit 3")
		assert.True(t, isErr)
		assert.Contains(t, out, "boom")
	})

	t.Run("timeout", func(t *testing.T) {
		short := &runner{shell: "sh", timeout: 50 * time.Millisecond}
		out, isErr := short.Run(ctx, "sleep 5")
		assert.True(t, isErr)
		assert.Contains(t, out, "timed out")
	})

	t.Run("systeminfo built-in", func(t *testing.T) {
		out, isErr := r.Run(ctx, "systeminfo")
		assert.False(t, isErr)
		assert.Contains(t, out, "Memory:")
	})
}

func TestGatewayClient_Poll(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/connect/58.0.6", r.URL.Path)
		assert.Equal(t, "host-1", r.Header.Get("X-Hostname"))
		switch int(status.Load()) {
		case http.StatusOK:
			_ = json.NewEncoder(w).Encode(agent.Command{Class: "58.0.6", Cmd: "uptime", Timestamp: time.Now()})
		case http.StatusNoContent:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, `{"error":"invalid classId"}`, http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c, err := newGatewayClient(srv.URL, "host-1", "58.0.6", discardLogger())
	require.NoError(t, err)

	cmd, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "uptime", cmd.Cmd)

	status.Store(http.StatusNoContent)
	_, err = c.Poll(context.Background())
	assert.ErrorIs(t, err, errNoCommand)

	status.Store(http.StatusBadRequest)
	_, err = c.Poll(context.Background())
	assert.ErrorContains(t, err, "status 400")
}

func TestGatewayClient_ReportRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var rep outputReport
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&rep))
		assert.Equal(t, "uptime", rep.Command)
		assert.Equal(t, "host-1", r.Header.Get("X-Hostname"))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c, err := newGatewayClient(srv.URL, "host-1", "58.0.6", discardLogger())
	require.NoError(t, err)

	require.NoError(t, c.Report(context.Background(), outputReport{Command: "uptime", Output: "up 3 days"}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewGatewayClient_RejectsScheme(t *testing.T) {
	_, err := newGatewayClient("ftp://gateway", "host-1", "58.0.6", discardLogger())
	assert.Error(t, err)
}

func TestSocketURL(t *testing.T) {
	c, err := newGatewayClient("https://gw.example/base/", "host-1", "58.0.6", discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "wss://gw.example/base/ws?classId=58.0.6&hostname=host-1", c.socketURL())
}

// startGateway runs an in-process gateway for end-to-end agent tests.
func startGateway(t *testing.T) (*gateway.Gateway, *httptest.Server) {
	t.Helper()
	cfg, err := config.Parse([]byte("server:\n  http_addr: \"127.0.0.1:0\"\n"), false)
	require.NoError(t, err)

	gw, err := gateway.New(cfg, discardLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		_ = gw.Shutdown(context.Background())
		srv.Close()
	})
	return gw, srv
}

func dispatchCommand(t *testing.T, srv *httptest.Server, classID, cmd string) {
	t.Helper()
	body := `{"classId":"` + classID + `","cmd":"` + cmd + `"}`
	resp, err := http.Post(srv.URL+"/command", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func outputFor(gw *gateway.Gateway, cmd, hostname string) (activity.Output, bool) {
	for _, e := range gw.ActivityLog().List() {
		if e.Type == activity.TypeCommandDispatched && e.Command() == cmd {
			out, ok := e.Outputs()[hostname]
			return out, ok
		}
	}
	return activity.Output{}, false
}

func TestAgentLoop_EndToEnd(t *testing.T) {
	for _, tr := range []string{transportLongPoll, transportSocket} {
		t.Run(tr, func(t *testing.T) {
			gw, srv := startGateway(t)

			client, err := newGatewayClient(srv.URL, "host-1", "58.0.6", discardLogger())
			require.NoError(t, err)
			loop := &agentLoop{
				client:    client,
				runner:    &runner{shell: "sh", timeout: 5 * time.Second},
				transport: tr,
				retry:     10 * time.Millisecond,
				logger:    discardLogger(),
			}

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = loop.Run(ctx)
			}()
			t.Cleanup(func() {
				cancel()
				_ = gw.Shutdown(context.Background())
				<-done
			})

			waitAttached := func(class string) {
				require.Eventually(t, func() bool {
					c, ok := gw.Registry().GetByHostname("HOST-1")
					return ok && c.ClassID() == class
				}, 3*time.Second, 5*time.Millisecond)
			}

			waitAttached("58.0.6")
			dispatchCommand(t, srv, "58.0.6", "echo dispatched")

			// Socket agents report on their next attach, so the output
			// arrives once the agent is back in the registry.
			require.Eventually(t, func() bool {
				out, ok := outputFor(gw, "echo dispatched", "HOST-1")
				return ok && out.Output == "dispatched\n" && !out.IsError
			}, 3*time.Second, 10*time.Millisecond)

			waitAttached("58.0.6")
			dispatchCommand(t, srv, "58.0.6", "set-class 58.1.1")
			waitAttached("58.1.1")
		})
	}
}
