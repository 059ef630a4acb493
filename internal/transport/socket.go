// ABOUTME: WebSocket transport for agents holding a persistent connection
// ABOUTME: Read and write pumps with ping/pong liveness and complete-once delivery

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/dispatch-gateway/internal/agent"
)

const (
	// maxMessageSize bounds frames read from agents; command output can be large.
	maxMessageSize = 1 << 20

	sendBufferSize = 16
)

// Frame types exchanged over the socket.
const (
	FrameConnectionEstablished = "connection_established"
	FramePing                  = "ping"
	FramePong                  = "pong"
	FrameCommandOutput         = "command_output"
)

// SocketConfig holds liveness timing for a Socket.
type SocketConfig struct {
	PingInterval time.Duration // server ping period
	PongTimeout  time.Duration // read deadline extended by each pong or frame
	WriteTimeout time.Duration
}

// Welcome is the first frame sent after a socket attaches.
type Welcome struct {
	Type      string    `json:"type"`
	ClientID  string    `json:"clientId"`
	ClassID   string    `json:"classId"`
	Timestamp time.Time `json:"timestamp"`
}

// OutputReport is a command result sent by an agent over its socket.
type OutputReport struct {
	Command   string `json:"command"`
	Output    string `json:"output"`
	IsError   bool   `json:"isError"`
	Timestamp string `json:"timestamp"`
}

// OutputHandler receives command_output frames.
type OutputHandler func(OutputReport)

type inboundFrame struct {
	Type string `json:"type"`
	OutputReport
}

type pongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Socket adapts a WebSocket connection to agent.Transport.
type Socket struct {
	conn   *websocket.Conn
	cfg    SocketConfig
	send   chan []byte
	logger *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
	delivered atomic.Bool
}

// NewSocket wraps an upgraded connection. Zero timings fall back to 30s ping,
// 60s pong and 10s write.
func NewSocket(conn *websocket.Conn, cfg SocketConfig, logger *slog.Logger) *Socket {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{
		conn:   conn,
		cfg:    cfg,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
	}
}

// Kind reports KindSocket.
func (s *Socket) Kind() agent.Kind {
	return agent.KindSocket
}

// Usable reports whether the socket is open and has not taken a command.
func (s *Socket) Usable() bool {
	return !s.closed.Load() && !s.delivered.Load()
}

// Deliver queues cmd for the write pump. A nil error means the frame was
// queued, not that the agent received it; a peer that dies before the write
// pump flushes loses the command. A socket accepts one command; the registry
// closes it afterwards, which flushes the command and a close frame.
func (s *Socket) Deliver(cmd agent.Command) error {
	if !s.delivered.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if err := s.Send(cmd); err != nil {
		return err
	}
	return nil
}

// Send marshals v and queues it as a text frame.
func (s *Socket) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}
	if !s.safeSend(data) {
		return ErrClosed
	}
	return nil
}

// safeSend queues data without blocking. Close can race the closed check,
// so a send on the closed channel is recovered.
func (s *Socket) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()

	if s.closed.Load() {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Close stops the write pump after queued frames are flushed. Non-blocking
// and safe to call repeatedly.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.send)
	})
}

// Serve runs the write pump in the background and the read pump on the
// calling goroutine. It returns when the connection ends.
func (s *Socket) Serve(onOutput OutputHandler) error {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()

	err := s.readPump(onOutput)

	s.Close()
	<-writerDone
	_ = s.conn.Close()
	return err
}

func (s *Socket) readPump(onOutput OutputHandler) error {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return fmt.Errorf("reading socket: %w", err)
			}
			return nil
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("failed to parse socket frame", "error", err)
			continue
		}

		switch frame.Type {
		case FramePing:
			if err := s.Send(pongFrame{Type: FramePong, Timestamp: time.Now().UTC()}); err != nil && !errors.Is(err, ErrClosed) {
				s.logger.Warn("failed to queue pong", "error", err)
			}
		case FrameCommandOutput:
			if onOutput != nil {
				onOutput(frame.OutputReport)
			}
		default:
			s.logger.Debug("ignoring socket frame", "type", frame.Type)
		}
	}
}

func (s *Socket) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = s.conn.WriteMessage(websocket.CloseMessage, closeMsg)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("socket write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
