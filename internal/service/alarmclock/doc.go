// Package alarmclock is the core of the smart alarm: the state machine that
// moves alarms between scheduled, ringing and their terminal states, the
// device session projection used to answer polls, and the scheduler tick
// that drives time-based transitions.
//
// The tick loop and the scan path share one mutex around the single ringing
// slot. The store is the system of record; the in-memory session is a cache
// re-derived on every read.
package alarmclock
