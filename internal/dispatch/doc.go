// Package dispatch fans operator commands out to waiting agents.
//
// Dispatch validates the class against the allow-list, takes the class's
// waiting connections from the registry in insertion order (or just the
// requested target), delivers over each connection's transport and removes
// every connection it touched. Exactly one command_dispatched activity entry
// is written after the registry removals.
//
// A "set-class <class>" command also moves each recipient to the new class
// before the command is sent, so the registry agrees with what the agent
// will do locally.
package dispatch
