package alarmclock

import (
	"context"
	"time"

	"github.com/oshokin/smart-alarm/internal/logger"
)

// Scheduler drives the periodic tick that triggers, expires and notifies
// alarms. One scheduler runs per process.
type Scheduler struct {
	service *Service
	period  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler ticking at the given period.
func NewScheduler(service *Service, period time.Duration) *Scheduler {
	return &Scheduler{
		service: service,
		period:  period,
	}
}

// Start launches the tick loop. It returns immediately; the loop runs until
// Stop is called or the parent context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.done != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(logger.WithName(ctx, "scheduler"))
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx)

	logger.InfoKV(ctx, "Scheduler started", "period", s.period)
}

// Stop requests cancellation and waits for the in-flight tick to finish, so
// shutdown never interrupts a transition halfway.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.done == nil {
		return
	}

	s.cancel()
	<-s.done

	s.cancel = nil
	s.done = nil

	logger.Info(ctx, "Scheduler stopped")
}

// loop runs ticks until the context is cancelled.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.service.runTick(ctx)
		}
	}
}
