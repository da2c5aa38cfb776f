// Package storage persists users and alarms in SQLite.
//
// The Repository interface is the storage contract consumed by the alarm
// core. State transitions are conditional updates keyed on the current
// state, so concurrent writers resolve to exactly one winner and losers
// receive ErrStaleTransition instead of corrupting the row.
package storage
