package notifier

import (
	"context"

	domain "github.com/oshokin/smart-alarm/internal/domain/alarm"
)

// Notifier pushes alarm events to a user. Delivery is best-effort: callers
// log failures and move on, they never retry past the scheduler's sweep.
type Notifier interface {
	// SendRinging delivers the QR image the user must scan to stop the alarm.
	SendRinging(ctx context.Context, user *domain.User, qrImage []byte) error
	// SendCompleted delivers the success message with the measured wake time.
	SendCompleted(ctx context.Context, user *domain.User, wakeSeconds int64) error
}

// Noop is the notifier used when no delivery channel is configured.
// Alarms still ring and are confirmed via the device.
type Noop struct{}

var _ Notifier = Noop{}

// SendRinging does nothing.
func (Noop) SendRinging(context.Context, *domain.User, []byte) error {
	return nil
}

// SendCompleted does nothing.
func (Noop) SendCompleted(context.Context, *domain.User, int64) error {
	return nil
}
