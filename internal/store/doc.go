// Package store persists dashboard operator accounts in SQLite.
//
// Only operators are stored. Agent connections, the activity log and stats
// live in memory for the lifetime of the process.
//
//	s, err := store.NewSQLiteStore("/var/lib/dispatch/gateway.db")
//	user, err := s.FindByUsername(ctx, "alice") // case-insensitive
//
// MockStore provides the same UserStore behaviour in memory for tests.
package store
