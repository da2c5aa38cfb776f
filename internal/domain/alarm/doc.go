// Package alarm contains core domain types for the alarm business logic.
//
// It defines User (a registered alarm owner), Alarm (one wake event and its
// confirmation lifecycle), the state machine states, and the result types
// returned to adapters. Clone helpers avoid leaking internal references.
package alarm
