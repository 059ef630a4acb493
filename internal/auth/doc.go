// Package auth authenticates dashboard operators.
//
// Operators log in with a username and password (bcrypt) and receive an
// HS256 JWT, set as the session_id cookie and also accepted as a bearer
// token. HTTPAuthMiddleware guards the operator endpoints; agent endpoints
// are never authenticated.
//
// Login attempts are limited per client IP with LoginLimiter.
package auth
