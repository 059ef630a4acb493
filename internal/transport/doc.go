// Package transport implements the agent.Transport delivery paths.
//
// LongPoll holds an HTTP request until a command is delivered, the client
// goes away, or an optional hold timeout elapses. Socket wraps a WebSocket
// with separate read and write pumps; the server pings on an interval,
// answers agent {"type":"ping"} frames and forwards command_output frames
// to a handler.
//
// Both accept a single delivery and are inert afterwards.
package transport
