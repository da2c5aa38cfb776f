package alarm

import "time"

// State is the lifecycle state of an alarm.
type State string

const (
	// StateScheduled means the alarm is waiting for its trigger time.
	StateScheduled State = "scheduled"
	// StateRinging means the alarm is ringing and waiting for a QR scan.
	StateRinging State = "ringing"
	// StateCompleted means the alarm was stopped by a successful scan.
	StateCompleted State = "completed"
	// StateExpired means the alarm timed out without being stopped.
	StateExpired State = "expired"
	// StateCancelled means the alarm was cancelled before it triggered.
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateExpired, StateCancelled:
		return true
	case StateScheduled, StateRinging:
		return false
	}

	return false
}

// String returns the state as stored in the database.
func (s State) String() string {
	return string(s)
}

// ParseState converts a stored string back into a State.
func ParseState(s string) (State, bool) {
	switch State(s) {
	case StateScheduled, StateRinging, StateCompleted, StateExpired, StateCancelled:
		return State(s), true
	}

	return "", false
}

// User is a registered alarm owner.
type User struct {
	// ID is assigned by the store at registration.
	ID int64
	// ChatID is the delivery address for notifications. It is opaque to the
	// core; the Telegram notifier interprets it as a chat identifier.
	ChatID string
	// Name is the display name given at registration.
	Name string
	// RegisteredAt is when the user registered.
	RegisteredAt time.Time
}

// Clone returns a copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}

	cloned := *u

	return &cloned
}

// Alarm is a scheduled wake event with one confirmation lifecycle.
type Alarm struct {
	// ID is assigned by the store at creation.
	ID int64
	// UserID is the owner of the alarm.
	UserID int64
	// TriggerTime is the instant the alarm should start ringing.
	TriggerTime time.Time
	// State is the current lifecycle state.
	State State
	// Token is the confirmation secret. Set if and only if State is ringing.
	Token string
	// CreatedAt is when the alarm was scheduled.
	CreatedAt time.Time
	// TriggeredAt is when the alarm started ringing. Zero until then.
	TriggeredAt time.Time
	// StoppedAt is when the alarm was stopped by a scan. Zero until then.
	StoppedAt time.Time
	// WakeSeconds is the elapsed time between TriggeredAt and StoppedAt,
	// set only on successful completion.
	WakeSeconds int64
	// NotificationSent tracks whether the completion message was delivered.
	// Decoupled from the state transition so a delivery failure never blocks it.
	NotificationSent bool
}

// Clone returns a copy of the alarm to avoid leaking internal references.
func (a *Alarm) Clone() *Alarm {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// Stats summarises a user's completed wake-ups.
type Stats struct {
	// TotalCompleted is the number of alarms stopped by a successful scan.
	TotalCompleted int64
	// AvgWakeSeconds is the average wake time, rounded to one decimal.
	AvgWakeSeconds float64
}

// StatusKind describes a user's current alarm situation.
type StatusKind string

const (
	// StatusIdle means the user has no scheduled or ringing alarm.
	StatusIdle StatusKind = "idle"
	// StatusScheduled means the user has an alarm waiting to trigger.
	StatusScheduled StatusKind = "scheduled"
	// StatusRinging means the user's alarm is currently ringing.
	StatusRinging StatusKind = "ringing"
)

// Status is the answer to a user status query.
type Status struct {
	// Kind is the current situation.
	Kind StatusKind
	// AlarmID identifies the scheduled or ringing alarm, when present.
	AlarmID int64
	// TriggerTime is set when Kind is scheduled.
	TriggerTime time.Time
	// TriggeredAt is set when Kind is ringing.
	TriggeredAt time.Time
}

// Device states reported to the polling device.
const (
	// DeviceIdle means no alarm is ringing.
	DeviceIdle = "IDLE"
	// DeviceRinging means an alarm is ringing and a scan is expected.
	DeviceRinging = "ALARM_RINGING"
)

// Scan actions returned to the device after a scan attempt.
const (
	// ActionContinue tells the device to keep scanning.
	ActionContinue = "CONTINUE"
	// ActionStop tells the device the alarm was stopped.
	ActionStop = "STOP"
)

// ScanResult is the outcome of a device scan attempt.
type ScanResult struct {
	// Action is CONTINUE or STOP.
	Action string
	// Message is a human-readable explanation for logs and debugging.
	Message string
	// WakeSeconds is how long the user took to wake up, set on STOP.
	WakeSeconds int64
}
