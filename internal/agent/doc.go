// Package agent tracks agents waiting for a command.
//
// # Registry
//
// The Registry holds one Connection per waiting agent, keyed by a per-attach
// connection ID with secondary lookup by class and hostname:
//
//	reg := agent.NewRegistry(log, stats, logger)
//	reg.Add(conn)          // evicts any older connection for the same hostname
//	reg.ListByClass("58.0.6")
//	reg.Remove(conn.ID)    // idempotent
//
// A connection is used for exactly one command. After delivery, disconnect
// or error it is removed and never reused; the agent attaches again to wait
// for the next command.
//
// # Transport
//
// Each Connection carries a Transport tagged with its Kind (long-poll or
// socket). Usable reports whether delivery may still be attempted; Deliver
// succeeds at most once.
//
// # Stats
//
// Stats counts dispatched commands and total connections since start.
package agent
