package storage

import (
	"context"
	"errors"
	"time"

	domain "github.com/oshokin/smart-alarm/internal/domain/alarm"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleTransition is returned when a conditional state update matched
	// no row because the alarm is no longer in the expected state. Callers
	// treat it as "someone else won the race" and back off.
	ErrStaleTransition = errors.New("alarm state changed concurrently")
)

// Repository defines persistence operations for users and alarms.
type Repository interface {
	// CreateUser registers a new user with the given chat ID and name.
	CreateUser(ctx context.Context, chatID, name string) (*domain.User, error)
	// UserByChatID returns the user registered with the given chat ID.
	UserByChatID(ctx context.Context, chatID string) (*domain.User, error)
	// UserByID returns the user with the given ID.
	UserByID(ctx context.Context, id int64) (*domain.User, error)

	// CreateAlarm inserts a new scheduled alarm.
	CreateAlarm(ctx context.Context, userID int64, triggerTime time.Time) (*domain.Alarm, error)
	// AlarmByID returns the alarm with the given ID.
	AlarmByID(ctx context.Context, id int64) (*domain.Alarm, error)
	// DueScheduled returns scheduled alarms whose trigger time is at or
	// before the given instant, earliest first.
	DueScheduled(ctx context.Context, before time.Time) ([]*domain.Alarm, error)
	// Ringing returns the currently ringing alarm, or ErrNotFound.
	Ringing(ctx context.Context) (*domain.Alarm, error)
	// ScheduledForUser returns the user's scheduled alarms, earliest first.
	ScheduledForUser(ctx context.Context, userID int64) ([]*domain.Alarm, error)

	// MarkRinging moves a scheduled alarm to ringing, recording its token
	// and trigger instant. Returns ErrStaleTransition if the alarm is no
	// longer scheduled.
	MarkRinging(ctx context.Context, alarmID int64, token string, triggeredAt time.Time) error
	// MarkCompleted moves a ringing alarm to completed, recording when it
	// was stopped and the wake time. Returns ErrStaleTransition if the
	// alarm is no longer ringing.
	MarkCompleted(ctx context.Context, alarmID int64, stoppedAt time.Time, wakeSeconds int64) error
	// MarkExpired moves a ringing alarm to expired. Returns
	// ErrStaleTransition if the alarm is no longer ringing.
	MarkExpired(ctx context.Context, alarmID int64) error
	// CancelScheduledForUser cancels all of the user's scheduled alarms and
	// returns how many were cancelled.
	CancelScheduledForUser(ctx context.Context, userID int64) (int64, error)

	// UnnotifiedCompleted returns completed alarms whose success message
	// has not been delivered yet.
	UnnotifiedCompleted(ctx context.Context) ([]*domain.Alarm, error)
	// MarkNotified records that the success message was handled. It reports
	// whether this call claimed the delivery; false means another caller
	// already did.
	MarkNotified(ctx context.Context, alarmID int64) (bool, error)

	// UserStats returns wake-up statistics over the user's completed alarms.
	UserStats(ctx context.Context, userID int64) (*domain.Stats, error)
}
