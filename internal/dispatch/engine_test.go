// ABOUTME: Tests for the dispatch engine fan-out semantics
// ABOUTME: Covers class validation, targets, partial delivery, class change and logging

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dispatch-gateway/internal/activity"
	"github.com/2389/dispatch-gateway/internal/agent"
	"github.com/2389/dispatch-gateway/internal/transport"
)

var testClasses = []string{"58.0.6", "58.1.1", "58.-1.23", "58.0.8"}

type engineFixture struct {
	engine   *Engine
	registry *agent.Registry
	log      *activity.Log
	stats    *agent.Stats
}

func newFixture() *engineFixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := activity.NewLog(100, 20, logger)
	stats := agent.NewStats(time.Now())
	reg := agent.NewRegistry(log, stats, logger)
	return &engineFixture{
		engine:   NewEngine(NewClasses(testClasses), reg, log, stats, logger),
		registry: reg,
		log:      log,
		stats:    stats,
	}
}

func (f *engineFixture) attach(t *testing.T, id, class, host string) *transport.LongPoll {
	t.Helper()
	lp := transport.NewLongPoll()
	require.NoError(t, f.registry.Add(agent.NewConnection(agent.ConnectionParams{
		ID:        id,
		ClassID:   class,
		Hostname:  host,
		IP:        "10.0.0.1",
		Transport: lp,
	})))
	return lp
}

// failingTransport reports usable but rejects delivery.
type failingTransport struct {
	mu     sync.Mutex
	closed bool
}

func (f *failingTransport) Kind() agent.Kind { return agent.KindSocket }
func (f *failingTransport) Usable() bool     { return true }
func (f *failingTransport) Deliver(agent.Command) error {
	return errors.New("broken pipe")
}
func (f *failingTransport) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func TestDispatch_InvalidClass(t *testing.T) {
	f := newFixture()

	_, err := f.engine.Dispatch(context.Background(), Request{ClassID: "99.9.9", Command: "ls"})

	assert.ErrorIs(t, err, ErrInvalidClass)
	assert.Zero(t, f.log.Len())
	assert.Zero(t, f.stats.Snapshot(time.Now(), 0).CommandsDispatched)
}

func TestDispatch_AllInClass(t *testing.T) {
	f := newFixture()
	lps := []*transport.LongPoll{
		f.attach(t, "c1", "58.0.6", "HOST-1"),
		f.attach(t, "c2", "58.0.6", "HOST-2"),
		f.attach(t, "c3", "58.0.6", "HOST-3"),
	}
	other := f.attach(t, "c4", "58.1.1", "HOST-4")

	res, err := f.engine.Dispatch(context.Background(), Request{ClassID: "58.0.6", Command: "systeminfo"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.NotifiedCount())
	assert.Equal(t, []string{"HOST-1", "HOST-2", "HOST-3"}, res.Notified)
	assert.Empty(t, f.registry.ListByClass("58.0.6"))
	assert.Equal(t, 1, f.registry.Len())
	assert.True(t, other.Usable())

	for _, lp := range lps {
		cmd, err := lp.Wait(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, "systeminfo", cmd.Cmd)
		assert.Equal(t, "58.0.6", cmd.Class)
	}
}

func TestDispatch_EmptyClass(t *testing.T) {
	f := newFixture()

	res, err := f.engine.Dispatch(context.Background(), Request{ClassID: "58.1.1", Command: "hostname"})
	require.NoError(t, err)

	assert.Zero(t, res.NotifiedCount())
	assert.NotNil(t, res.Notified)
	assert.Equal(t, int64(1), f.stats.Snapshot(time.Now(), 0).CommandsDispatched)

	e := f.log.List()[0]
	assert.Equal(t, activity.TypeCommandDispatched, e.Type)
	assert.Equal(t, 0, e.Metadata[activity.MetaClientCount])
}

func TestDispatch_Target(t *testing.T) {
	t.Run("delivers only to target", func(t *testing.T) {
		f := newFixture()
		first := f.attach(t, "c1", "58.0.6", "HOST-1")
		second := f.attach(t, "c2", "58.0.6", "HOST-2")

		res, err := f.engine.Dispatch(context.Background(), Request{ClassID: "58.0.6", Command: "whoami", TargetID: "c2"})
		require.NoError(t, err)

		assert.Equal(t, []string{"HOST-2"}, res.Notified)
		assert.True(t, first.Usable())
		assert.False(t, second.Usable())
		_, ok := f.registry.Get("c1")
		assert.True(t, ok)

		e := f.log.List()[0]
		assert.Equal(t, "c2", e.Metadata[activity.MetaTargetClientID])
		assert.Equal(t, `Sent "whoami" to HOST-2 in class 58.0.6`, e.Description)
	})

	t.Run("unknown target leaves registry unchanged", func(t *testing.T) {
		f := newFixture()
		lp := f.attach(t, "c1", "58.0.6", "HOST-1")
		before := f.log.Len()

		_, err := f.engine.Dispatch(context.Background(), Request{ClassID: "58.0.6", Command: "whoami", TargetID: "nope"})

		assert.ErrorIs(t, err, ErrTargetNotFound)
		assert.Equal(t, 1, f.registry.Len())
		assert.True(t, lp.Usable())
		assert.Equal(t, before, f.log.Len())
		assert.Zero(t, f.stats.Snapshot(time.Now(), 0).CommandsDispatched)
	})

	t.Run("target in another class is not found", func(t *testing.T) {
		f := newFixture()
		f.attach(t, "c1", "58.1.1", "HOST-1")

		_, err := f.engine.Dispatch(context.Background(), Request{ClassID: "58.0.6", Command: "whoami", TargetID: "c1"})

		assert.ErrorIs(t, err, ErrTargetNotFound)
		assert.Equal(t, 1, f.registry.Len())
	})
}

func TestDispatch_PartialDelivery(t *testing.T) {
	f := newFixture()
	f.attach(t, "c1", "58.0.6", "HOST-1")

	broken := &failingTransport{}
	require.NoError(t, f.registry.Add(agent.NewConnection(agent.ConnectionParams{
		ID: "c2", ClassID: "58.0.6", Hostname: "HOST-2", Transport: broken,
	})))

	closed := transport.NewLongPoll()
	require.NoError(t, f.registry.Add(agent.NewConnection(agent.ConnectionParams{
		ID: "c3", ClassID: "58.0.6", Hostname: "HOST-3", Transport: closed,
	})))
	closed.Close()

	f.attach(t, "c4", "58.0.6", "HOST-4")

	res, err := f.engine.Dispatch(context.Background(), Request{ClassID: "58.0.6", Command: "ipconfig"})
	require.NoError(t, err)

	assert.Equal(t, []string{"HOST-1", "HOST-4"}, res.Notified)
	assert.Zero(t, f.registry.Len(), "failed connections are evicted too")
	assert.True(t, broken.closed)
}

func TestDispatch_RemovalsPrecedeLogEntry(t *testing.T) {
	f := newFixture()
	f.attach(t, "c1", "58.0.6", "HOST-1")
	f.attach(t, "c2", "58.0.6", "HOST-2")

	_, err := f.engine.Dispatch(context.Background(), Request{ClassID: "58.0.6", Command: "date"})
	require.NoError(t, err)

	entries := f.log.List()
	require.GreaterOrEqual(t, len(entries), 3)
	assert.Equal(t, activity.TypeCommandDispatched, entries[0].Type)
	assert.Equal(t, activity.TypeClientDisconnected, entries[1].Type)
	assert.Equal(t, activity.TypeClientDisconnected, entries[2].Type)

	meta := entries[0].Metadata
	assert.Equal(t, "date", meta[activity.MetaCommand])
	assert.Equal(t, "58.0.6", meta[activity.MetaClassID])
	assert.Equal(t, []string{"HOST-1", "HOST-2"}, meta[activity.MetaClientsNotified])
	assert.Equal(t, 2, meta[activity.MetaClientCount])
	assert.Empty(t, entries[0].Outputs())
}

func TestDispatch_CountsOncePerCommand(t *testing.T) {
	f := newFixture()
	for i := range 4 {
		f.attach(t, fmt.Sprintf("c%d", i), "58.0.6", fmt.Sprintf("HOST-%d", i))
	}

	_, err := f.engine.Dispatch(context.Background(), Request{ClassID: "58.0.6", Command: "uptime"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.stats.Snapshot(time.Now(), 0).CommandsDispatched)
}

func TestDispatch_ClassChange(t *testing.T) {
	t.Run("updates class before delivery", func(t *testing.T) {
		f := newFixture()
		lp := f.attach(t, "c1", "58.0.6", "HOST-1")

		res, err := f.engine.Dispatch(context.Background(), Request{ClassID: "58.0.6", Command: "set-class 58.1.1"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.NotifiedCount())

		cmd, err := lp.Wait(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, "set-class 58.1.1", cmd.Cmd)
		assert.Equal(t, "58.0.6", cmd.Class)

		var sawClassChange bool
		for _, e := range f.log.List() {
			if e.Type == activity.TypeClassChanged {
				sawClassChange = true
				assert.Equal(t, "58.1.1", e.Metadata["newClassId"])
			}
		}
		assert.True(t, sawClassChange)
	})

	t.Run("rejects unknown destination class", func(t *testing.T) {
		f := newFixture()
		lp := f.attach(t, "c1", "58.0.6", "HOST-1")

		_, err := f.engine.Dispatch(context.Background(), Request{ClassID: "58.0.6", Command: "set-class 12.3.4"})

		assert.ErrorIs(t, err, ErrInvalidClass)
		assert.True(t, lp.Usable())
		assert.Equal(t, 1, f.registry.Len())
	})
}

func TestDispatch_CancelledContext(t *testing.T) {
	f := newFixture()
	lp := f.attach(t, "c1", "58.0.6", "HOST-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Dispatch(ctx, Request{ClassID: "58.0.6", Command: "ls"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, lp.Usable())
}

func TestDispatch_ConcurrentDisconnect(t *testing.T) {
	f := newFixture()
	for i := range 20 {
		f.attach(t, fmt.Sprintf("c%d", i), "58.0.6", fmt.Sprintf("HOST-%d", i))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 20 {
			f.registry.Remove(fmt.Sprintf("c%d", i))
		}
	}()

	res, err := f.engine.Dispatch(context.Background(), Request{ClassID: "58.0.6", Command: "ls"})
	wg.Wait()

	require.NoError(t, err)
	assert.LessOrEqual(t, res.NotifiedCount(), 20)
	assert.Zero(t, f.registry.Len())
}

func TestParseClassChange(t *testing.T) {
	tests := []struct {
		cmd       string
		wantClass string
		wantOK    bool
	}{
		{"set-class 58.1.1", "58.1.1", true},
		{"  set-class   58.0.8 ", "58.0.8", true},
		{"set-class", "", false},
		{"set-class a b", "", false},
		{"echo set-class 58.1.1", "", false},
		{"systeminfo", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			class, ok := ParseClassChange(tt.cmd)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantClass, class)
		})
	}
}

func TestClasses(t *testing.T) {
	c := NewClasses([]string{"b", "a", "b"})

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("c"))
	assert.Equal(t, []string{"b", "a"}, c.List())
	assert.Equal(t, "b, a", c.String())
}
