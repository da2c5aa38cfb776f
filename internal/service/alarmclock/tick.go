package alarmclock

import (
	"context"
	"errors"

	"github.com/oshokin/smart-alarm/internal/logger"
	"github.com/oshokin/smart-alarm/internal/qr"
	"github.com/oshokin/smart-alarm/internal/repository/storage"
)

// runTick performs one scheduler pass: trigger at most one due alarm,
// expire a stale ringing alarm, and deliver pending success messages.
// The steps are independent; a failure in one is logged and the others
// still run, so a broken notifier cannot stop alarms from triggering.
func (s *Service) runTick(ctx context.Context) {
	if err := s.triggerDue(ctx); err != nil {
		logger.ErrorKV(ctx, "Trigger step failed", "error", err)
	}

	if err := s.expireStale(ctx); err != nil {
		logger.ErrorKV(ctx, "Expiry step failed", "error", err)
	}

	if err := s.sweepNotifications(ctx); err != nil {
		logger.ErrorKV(ctx, "Notification sweep failed", "error", err)
	}
}

// triggerDue moves the earliest due alarm to ringing. Exactly one alarm
// triggers per tick even when several are due: the confirmation device is
// a single physical unit, so the rest wait for later ticks.
func (s *Service) triggerDue(ctx context.Context) error {
	s.mu.Lock()

	ringing, err := s.reconcileSession(ctx)
	if err != nil {
		s.mu.Unlock()

		return err
	}

	if ringing != nil {
		// The device is busy; due alarms wait until it frees up.
		s.mu.Unlock()

		return nil
	}

	now := s.now()

	due, err := s.repo.DueScheduled(ctx, now)
	if err != nil {
		s.mu.Unlock()

		return err
	}

	if len(due) == 0 {
		s.mu.Unlock()

		return nil
	}

	alarm := due[0]

	user, err := s.repo.UserByID(ctx, alarm.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		s.mu.Unlock()
		logger.ErrorKV(ctx, "Cannot trigger alarm, owner missing",
			"alarm_id", alarm.ID, "user_id", alarm.UserID)

		return nil
	}

	if err != nil {
		s.mu.Unlock()

		return err
	}

	token := qr.NewToken()

	image, err := s.codec.Encode(token)
	if err != nil {
		// The alarm stays scheduled and is retried next tick.
		s.mu.Unlock()

		return err
	}

	// The store write comes before any delivery attempt so the alarm rings
	// even if the push channel is down.
	err = s.repo.MarkRinging(ctx, alarm.ID, token, now)
	if errors.Is(err, storage.ErrStaleTransition) {
		s.mu.Unlock()

		return nil
	}

	if err != nil {
		s.mu.Unlock()

		return err
	}

	s.session = deviceSession{
		token:   token,
		alarmID: alarm.ID,
		userID:  alarm.UserID,
	}
	s.mu.Unlock()

	logger.InfoKV(ctx, "Alarm triggered",
		"alarm_id", alarm.ID, "user_id", alarm.UserID, "trigger_time", alarm.TriggerTime)

	if err = s.deliver(ctx, func(deliveryCtx context.Context) error {
		return s.notifier.SendRinging(deliveryCtx, user, image)
	}); err != nil {
		logger.ErrorKV(ctx, "QR delivery failed, alarm keeps ringing",
			"alarm_id", alarm.ID, "user_id", alarm.UserID, "error", err)
	}

	return nil
}

// expireStale expires the ringing alarm once it has rung past the timeout.
func (s *Service) expireStale(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ringing, err := s.reconcileSession(ctx)
	if err != nil {
		return err
	}

	if ringing == nil || ringing.TriggeredAt.IsZero() {
		return nil
	}

	if s.now().Sub(ringing.TriggeredAt) <= s.ringTimeout {
		return nil
	}

	err = s.repo.MarkExpired(ctx, ringing.ID)
	if errors.Is(err, storage.ErrStaleTransition) {
		// A scan completed it first; nothing to expire.
		return nil
	}

	if err != nil {
		return err
	}

	s.session.clear()

	logger.InfoKV(ctx, "Alarm expired without confirmation",
		"alarm_id", ringing.ID, "user_id", ringing.UserID)

	return nil
}

// sweepNotifications delivers success messages for completed alarms whose
// owner has not heard yet. Every alarm is marked notified regardless of the
// delivery outcome; a broken channel must not cause a retry storm.
func (s *Service) sweepNotifications(ctx context.Context) error {
	pending, err := s.repo.UnnotifiedCompleted(ctx)
	if err != nil {
		return err
	}

	for _, alarm := range pending {
		s.notifyCompleted(ctx, alarm.ID, alarm.UserID, alarm.WakeSeconds)
	}

	return nil
}
