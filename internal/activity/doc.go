// Package activity records notable gateway events for operators.
//
// The Log is a bounded ring kept newest first: connects, disconnects, class
// changes, server start and command dispatches. Dispatch entries carry an
// "outputs" map that RecordOutput fills in as agents report results; the
// match is by exact command text within a short lookback window, so two
// identical commands dispatched close together may receive each other's
// output.
//
// Subscribe streams entries as they are added or amended.
package activity
