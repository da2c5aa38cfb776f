package alarmclock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/smart-alarm/internal/config"
	domain "github.com/oshokin/smart-alarm/internal/domain/alarm"
	"github.com/oshokin/smart-alarm/internal/logger"
	"github.com/oshokin/smart-alarm/internal/notifier"
	"github.com/oshokin/smart-alarm/internal/qr"
	"github.com/oshokin/smart-alarm/internal/repository/storage"
)

var (
	// ErrUserNotFound is returned when an operation references an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidTime is returned when hour or minute is out of range.
	ErrInvalidTime = errors.New("invalid alarm time")
)

// Service owns the alarm state machine: it decides when scheduled alarms
// start ringing, validates confirmation scans, and expires alarms nobody
// confirmed. All transitions touching the single ringing slot run under one
// mutex shared by the scheduler tick and the scan path, so a scan racing an
// expiry resolves to exactly one winner.
type Service struct {
	repo     storage.Repository
	codec    qr.Codec
	notifier notifier.Notifier

	// ringTimeout is how long an alarm rings before it expires.
	ringTimeout time.Duration
	// notifyTimeout bounds one delivery attempt so a slow push never
	// delays the next tick.
	notifyTimeout time.Duration
	// now is the clock, replaceable in tests.
	now func() time.Time

	// mu guards session and every transition of the ringing slot.
	mu sync.Mutex
	// session caches the one ringing alarm for cheap device polls. It is a
	// projection of the store, never the source of truth: every read
	// re-derives it so a restart cannot leave it stale.
	session deviceSession
}

// deviceSession mirrors the currently ringing alarm, if any.
type deviceSession struct {
	token   string
	alarmID int64
	userID  int64
}

// active reports whether an alarm is currently ringing.
func (s *deviceSession) active() bool {
	return s.alarmID != 0
}

// clear resets the session to idle.
func (s *deviceSession) clear() {
	*s = deviceSession{}
}

// Option configures the service.
type Option func(*Service)

// WithRingTimeout overrides how long an alarm rings before expiring.
func WithRingTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.ringTimeout = timeout
		}
	}
}

// WithNotifyTimeout overrides the bound on one delivery attempt.
func WithNotifyTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.notifyTimeout = timeout
		}
	}
}

// WithClock replaces the wall clock, used by tests to steer time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the alarm core to its collaborators. A nil notifier is
// replaced with a no-op one so call sites never need nil checks.
func NewService(repo storage.Repository, codec qr.Codec, n notifier.Notifier, opts ...Option) *Service {
	if n == nil {
		n = notifier.Noop{}
	}

	s := &Service{
		repo:          repo,
		codec:         codec,
		notifier:      n,
		ringTimeout:   config.DefaultRingTimeout,
		notifyTimeout: config.DefaultNotifyTimeout,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RegisterUser registers a new user under the given chat ID.
func (s *Service) RegisterUser(ctx context.Context, chatID, name string) (*domain.User, error) {
	user, err := s.repo.CreateUser(ctx, chatID, name)
	if err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}

	logger.InfoKV(ctx, "User registered", "user_id", user.ID, "name", user.Name)

	return user, nil
}

// UserByChatID looks up a registered user by chat ID.
func (s *Service) UserByChatID(ctx context.Context, chatID string) (*domain.User, error) {
	user, err := s.repo.UserByChatID(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	return user, nil
}

// Schedule creates a scheduled alarm for the user at the next occurrence of
// hour:minute, cancelling any alarm the user already had scheduled.
func (s *Service) Schedule(ctx context.Context, userID int64, hour, minute int) (*domain.Alarm, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("%w: %02d:%02d", ErrInvalidTime, hour, minute)
	}

	if _, err := s.repo.UserByID(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}

		return nil, fmt.Errorf("lookup user: %w", err)
	}

	triggerTime := nextTrigger(s.now(), hour, minute)

	// One scheduled alarm per user: the new one replaces any prior.
	if _, err := s.repo.CancelScheduledForUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("cancel prior alarms: %w", err)
	}

	alarm, err := s.repo.CreateAlarm(ctx, userID, triggerTime)
	if err != nil {
		return nil, fmt.Errorf("create alarm: %w", err)
	}

	logger.InfoKV(ctx, "Alarm scheduled",
		"alarm_id", alarm.ID, "user_id", userID, "trigger_time", triggerTime)

	return alarm, nil
}

// nextTrigger returns today at hour:minute, or the same time tomorrow if
// that instant is not strictly in the future.
func nextTrigger(now time.Time, hour, minute int) time.Time {
	trigger := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !trigger.After(now) {
		trigger = trigger.AddDate(0, 0, 1)
	}

	return trigger
}

// Cancel cancels the user's scheduled alarm. It reports whether one existed.
func (s *Service) Cancel(ctx context.Context, userID int64) (bool, error) {
	count, err := s.repo.CancelScheduledForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("cancel alarms: %w", err)
	}

	if count > 0 {
		logger.InfoKV(ctx, "Alarm cancelled", "user_id", userID)
	}

	return count > 0, nil
}

// Status reports the user's current alarm situation.
func (s *Service) Status(ctx context.Context, userID int64) (*domain.Status, error) {
	ringing, err := s.repo.Ringing(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup ringing alarm: %w", err)
	}

	if ringing != nil && ringing.UserID == userID {
		return &domain.Status{
			Kind:        domain.StatusRinging,
			AlarmID:     ringing.ID,
			TriggeredAt: ringing.TriggeredAt,
		}, nil
	}

	scheduled, err := s.repo.ScheduledForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup scheduled alarms: %w", err)
	}

	if len(scheduled) > 0 {
		next := scheduled[0]

		return &domain.Status{
			Kind:        domain.StatusScheduled,
			AlarmID:     next.ID,
			TriggerTime: next.TriggerTime,
		}, nil
	}

	return &domain.Status{Kind: domain.StatusIdle}, nil
}

// Stats returns the user's wake-up statistics.
func (s *Service) Stats(ctx context.Context, userID int64) (*domain.Stats, error) {
	stats, err := s.repo.UserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	return stats, nil
}

// DevicePoll answers the device's periodic state query. The session is
// re-derived from the store on every poll, which also heals it after a
// restart.
func (s *Service) DevicePoll(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.reconcileSession(ctx); err != nil {
		return "", err
	}

	if s.session.active() {
		return domain.DeviceRinging, nil
	}

	return domain.DeviceIdle, nil
}

// DeviceScan decodes a camera frame and processes the embedded token. A
// frame without a readable QR code tells the device to keep scanning; it is
// never an error.
func (s *Service) DeviceScan(ctx context.Context, imageBytes []byte) (*domain.ScanResult, error) {
	token, ok := s.codec.Decode(imageBytes)
	if !ok {
		return &domain.ScanResult{
			Action:  domain.ActionContinue,
			Message: "No QR found",
		}, nil
	}

	return s.ProcessScan(ctx, token)
}

// ProcessScan validates a scanned token against the ringing alarm and, on a
// match, completes it. An unmatched scan yields CONTINUE whether there was
// no alarm or the token was wrong; the device cannot tell the difference.
func (s *Service) ProcessScan(ctx context.Context, candidate string) (*domain.ScanResult, error) {
	s.mu.Lock()

	ringing, err := s.reconcileSession(ctx)
	if err != nil {
		s.mu.Unlock()

		return nil, err
	}

	if !s.session.active() {
		s.mu.Unlock()

		return &domain.ScanResult{
			Action:  domain.ActionContinue,
			Message: "No active alarm",
		}, nil
	}

	if strings.TrimSpace(candidate) != strings.TrimSpace(s.session.token) {
		s.mu.Unlock()

		return &domain.ScanResult{
			Action:  domain.ActionContinue,
			Message: "Invalid QR code",
		}, nil
	}

	var (
		now         = s.now()
		wakeSeconds = int64(now.Sub(ringing.TriggeredAt) / time.Second)
		userID      = s.session.userID
		alarmID     = s.session.alarmID
	)

	err = s.repo.MarkCompleted(ctx, alarmID, now, wakeSeconds)
	if errors.Is(err, storage.ErrStaleTransition) {
		// The tick expired the alarm between our read and this write.
		s.session.clear()
		s.mu.Unlock()

		return &domain.ScanResult{
			Action:  domain.ActionContinue,
			Message: "No active alarm",
		}, nil
	}

	if err != nil {
		s.mu.Unlock()

		return nil, fmt.Errorf("complete alarm: %w", err)
	}

	s.session.clear()
	s.mu.Unlock()

	logger.InfoKV(ctx, "Alarm completed by scan",
		"alarm_id", alarmID, "user_id", userID, "wake_seconds", wakeSeconds)

	// Delivery happens outside the critical section so a slow push never
	// blocks polls or the tick.
	s.notifyCompleted(ctx, alarmID, userID, wakeSeconds)

	return &domain.ScanResult{
		Action:      domain.ActionStop,
		Message:     "Alarm stopped successfully",
		WakeSeconds: wakeSeconds,
	}, nil
}

// notifyCompleted claims the alarm's success message and pushes it. The
// claim flips the notified flag before any delivery attempt, so a sweep
// racing the scan path over the same alarm sends at most once, and a broken
// channel can never cause a retry loop.
func (s *Service) notifyCompleted(ctx context.Context, alarmID, userID int64, wakeSeconds int64) {
	claimed, err := s.repo.MarkNotified(ctx, alarmID)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to mark alarm notified", "alarm_id", alarmID, "error", err)

		return
	}

	if !claimed {
		return
	}

	user, err := s.repo.UserByID(ctx, userID)
	if err != nil {
		logger.ErrorKV(ctx, "Completion notification skipped, user lookup failed",
			"alarm_id", alarmID, "user_id", userID, "error", err)

		return
	}

	if err = s.deliver(ctx, func(deliveryCtx context.Context) error {
		return s.notifier.SendCompleted(deliveryCtx, user, wakeSeconds)
	}); err != nil {
		logger.ErrorKV(ctx, "Completion notification failed",
			"alarm_id", alarmID, "user_id", userID, "error", err)
	}
}

// reconcileSession refreshes the session from the store. Callers must hold mu.
// It returns the ringing alarm, or nil when the device is idle.
func (s *Service) reconcileSession(ctx context.Context) (*domain.Alarm, error) {
	ringing, err := s.repo.Ringing(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		s.session.clear()

		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("lookup ringing alarm: %w", err)
	}

	s.session = deviceSession{
		token:   ringing.Token,
		alarmID: ringing.ID,
		userID:  ringing.UserID,
	}

	return ringing, nil
}

// deliver runs one notification attempt under the configured timeout.
func (s *Service) deliver(ctx context.Context, send func(ctx context.Context) error) error {
	deliveryCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	return send(deliveryCtx)
}
