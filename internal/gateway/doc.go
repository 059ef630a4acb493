// Package gateway wires the dispatch gateway's components to HTTP.
//
// # Overview
//
// A Gateway owns one agent.Registry, one activity.Log, one agent.Stats and
// one dispatch.Engine and hands them to its handlers explicitly. New builds
// the mux; Run listens on TCP or, with tailscale.enabled, on a tsnet node.
//
// # HTTP API
//
// Agent endpoints, never behind operator auth:
//
//   - GET /connect/{classId} - long-poll; 200 with a command, 204 on hold timeout
//   - GET /ws?classId= - WebSocket attach (hostname via X-Hostname or ?hostname=)
//   - POST /command-output - report a command's output
//
// Operator endpoints, behind the session check when auth.jwt_secret is set:
//
//   - POST /command - dispatch to a class or one clientId
//   - GET /connections - waiting agents
//   - GET /activity-log, DELETE /activity-log
//   - GET /activity-log/stream - SSE of new and amended entries
//   - GET /stats, GET /classes
//   - POST /auth/login, POST /auth/logout, GET /auth/me
//
// GET /health and GET /health/ready are always open.
//
// # Shutdown
//
// Shutdown closes every registered transport first so held long-polls answer
// 503 and sockets send a close frame, then closes the activity log so SSE
// streams end, and only then waits on http.Server.Shutdown.
package gateway
