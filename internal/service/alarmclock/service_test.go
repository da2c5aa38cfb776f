package alarmclock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/smart-alarm/internal/domain/alarm"
)

// testClock is a settable clock shared by a service and its test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t
}

// fixture bundles a service with its fakes.
type fixture struct {
	service *Service
	repo    *memoryRepository
	notif   *recordingNotifier
	clock   *testClock
	user    *domain.User
}

// newFixture builds a service over in-memory fakes with one registered user
// and the clock parked at 07:00 local time.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	var (
		repo  = newMemoryRepository()
		notif = &recordingNotifier{}
		clock = newTestClock(time.Date(2026, time.March, 14, 7, 0, 0, 0, time.Local))
	)

	service := NewService(repo, textCodec{}, notif,
		WithClock(clock.Now),
		WithRingTimeout(10*time.Minute),
		WithNotifyTimeout(time.Second))

	user, err := repo.CreateUser(context.Background(), "100500", "Oleg")
	require.NoError(t, err)

	return &fixture{
		service: service,
		repo:    repo,
		notif:   notif,
		clock:   clock,
		user:    user,
	}
}

// TestScheduleRollForward checks today-vs-tomorrow trigger time selection.
func TestScheduleRollForward(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// 07:00 now; 07:30 is still today.
	alarm, err := f.service.Schedule(ctx, f.user.ID, 7, 30)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, time.March, 14, 7, 30, 0, 0, time.Local), alarm.TriggerTime)

	// 07:31 now; 07:30 has passed, so tomorrow.
	f.clock.Set(time.Date(2026, time.March, 14, 7, 31, 0, 0, time.Local))

	alarm, err = f.service.Schedule(ctx, f.user.ID, 7, 30)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, time.March, 15, 7, 30, 0, 0, time.Local), alarm.TriggerTime)

	// Exactly now is not strictly in the future either.
	alarm, err = f.service.Schedule(ctx, f.user.ID, 7, 31)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, time.March, 15, 7, 31, 0, 0, time.Local), alarm.TriggerTime)
}

// TestScheduleReplacesPrior verifies a new alarm cancels the previous one.
func TestScheduleReplacesPrior(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Schedule(ctx, f.user.ID, 7, 30)
	require.NoError(t, err)

	second, err := f.service.Schedule(ctx, f.user.ID, 8, 0)
	require.NoError(t, err)

	require.Equal(t, domain.StateCancelled, f.repo.alarmState(first.ID))
	require.Equal(t, domain.StateScheduled, f.repo.alarmState(second.ID))

	status, err := f.service.Status(ctx, f.user.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusScheduled, status.Kind)
	require.Equal(t, second.ID, status.AlarmID)
}

// TestScheduleValidation rejects bad arguments before touching the store.
func TestScheduleValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for _, args := range [][2]int{{24, 0}, {-1, 0}, {7, 60}, {7, -5}} {
		_, err := f.service.Schedule(ctx, f.user.ID, args[0], args[1])
		require.ErrorIs(t, err, ErrInvalidTime)
	}

	_, err := f.service.Schedule(ctx, 9000, 7, 30)
	require.ErrorIs(t, err, ErrUserNotFound)
}

// TestCancel reports whether a scheduled alarm existed.
func TestCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	cancelled, err := f.service.Cancel(ctx, f.user.ID)
	require.NoError(t, err)
	require.False(t, cancelled)

	_, err = f.service.Schedule(ctx, f.user.ID, 8, 0)
	require.NoError(t, err)

	cancelled, err = f.service.Cancel(ctx, f.user.ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	status, err := f.service.Status(ctx, f.user.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusIdle, status.Kind)
}

// triggerAlarm schedules an alarm one minute out, advances past it and runs
// a tick so the alarm rings. It returns the ringing alarm.
func triggerAlarm(t *testing.T, f *fixture) *domain.Alarm {
	t.Helper()

	ctx := context.Background()

	_, err := f.service.Schedule(ctx, f.user.ID, 7, 1)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	f.service.runTick(ctx)

	ringing, err := f.repo.Ringing(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateRinging, ringing.State)
	require.NotEmpty(t, ringing.Token)

	return ringing
}

// TestTriggerAndScanSuccess walks the happy path end to end.
func TestTriggerAndScanSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	ringing := triggerAlarm(t, f)
	require.Equal(t, []int64{f.user.ID}, f.notif.ringing)

	state, err := f.service.DevicePoll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.DeviceRinging, state)

	status, err := f.service.Status(ctx, f.user.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRinging, status.Kind)

	// The user takes 45 seconds to reach the device.
	f.clock.Advance(45 * time.Second)

	result, err := f.service.DeviceScan(ctx, []byte("img:"+ringing.Token))
	require.NoError(t, err)
	require.Equal(t, domain.ActionStop, result.Action)
	require.EqualValues(t, 45, result.WakeSeconds)

	require.Equal(t, domain.StateCompleted, f.repo.alarmState(ringing.ID))

	state, err = f.service.DevicePoll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.DeviceIdle, state)

	// Success message delivered once; the sweep must not repeat it.
	require.Equal(t, 1, f.notif.completedCount())
	f.service.runTick(ctx)
	require.Equal(t, 1, f.notif.completedCount())

	stats, err := f.service.Stats(ctx, f.user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.TotalCompleted)
	require.InDelta(t, 45.0, stats.AvgWakeSeconds, 0.01)
}

// TestWrongScanContinues leaves the alarm ringing on a token mismatch.
func TestWrongScanContinues(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	ringing := triggerAlarm(t, f)

	result, err := f.service.DeviceScan(ctx, []byte("img:alarm_000000000000"))
	require.NoError(t, err)
	require.Equal(t, domain.ActionContinue, result.Action)
	require.Equal(t, domain.StateRinging, f.repo.alarmState(ringing.ID))

	// Tokens are compared after trimming whitespace.
	result, err = f.service.ProcessScan(ctx, "  "+ringing.Token+"\n")
	require.NoError(t, err)
	require.Equal(t, domain.ActionStop, result.Action)
}

// TestScanVariantsWhenIdle treats no-alarm and bad-image scans identically.
func TestScanVariantsWhenIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// No alarm ringing.
	result, err := f.service.ProcessScan(ctx, "alarm_ab12cd34ef56")
	require.NoError(t, err)
	require.Equal(t, domain.ActionContinue, result.Action)

	// Unreadable image.
	result, err = f.service.DeviceScan(ctx, []byte("static noise"))
	require.NoError(t, err)
	require.Equal(t, domain.ActionContinue, result.Action)
}

// TestExpiry verifies the ring timeout moves the alarm to expired.
func TestExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	ringing := triggerAlarm(t, f)

	// Just under the timeout: still ringing.
	f.clock.Advance(10 * time.Minute)
	f.service.runTick(ctx)
	require.Equal(t, domain.StateRinging, f.repo.alarmState(ringing.ID))

	// One second past: expired.
	f.clock.Advance(time.Second)
	f.service.runTick(ctx)
	require.Equal(t, domain.StateExpired, f.repo.alarmState(ringing.ID))

	state, err := f.service.DevicePoll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.DeviceIdle, state)

	// The stale token is useless now.
	result, err := f.service.ProcessScan(ctx, ringing.Token)
	require.NoError(t, err)
	require.Equal(t, domain.ActionContinue, result.Action)
}

// TestTickFairness triggers only the earliest due alarm per tick.
func TestTickFairness(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	second, err := f.repo.CreateUser(ctx, "200600", "Second")
	require.NoError(t, err)

	early, err := f.service.Schedule(ctx, f.user.ID, 7, 1)
	require.NoError(t, err)

	late, err := f.service.Schedule(ctx, second.ID, 7, 2)
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, time.March, 14, 7, 5, 0, 0, time.Local))
	f.service.runTick(ctx)

	require.Equal(t, domain.StateRinging, f.repo.alarmState(early.ID))
	require.Equal(t, domain.StateScheduled, f.repo.alarmState(late.ID))

	// While one alarm rings, later ticks trigger nothing else.
	f.service.runTick(ctx)
	require.Equal(t, domain.StateScheduled, f.repo.alarmState(late.ID))

	// Once the first resolves, the next tick picks up the second.
	ringing, err := f.repo.Ringing(ctx)
	require.NoError(t, err)

	result, err := f.service.ProcessScan(ctx, ringing.Token)
	require.NoError(t, err)
	require.Equal(t, domain.ActionStop, result.Action)

	f.service.runTick(ctx)
	require.Equal(t, domain.StateRinging, f.repo.alarmState(late.ID))
}

// TestPollIdempotent repeats polls without intervening events.
func TestPollIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		state, err := f.service.DevicePoll(ctx)
		require.NoError(t, err)
		require.Equal(t, domain.DeviceIdle, state)
	}

	triggerAlarm(t, f)

	for i := 0; i < 3; i++ {
		state, err := f.service.DevicePoll(ctx)
		require.NoError(t, err)
		require.Equal(t, domain.DeviceRinging, state)
	}
}

// TestSessionHealsFromStore proves the cache is derived, not authoritative.
func TestSessionHealsFromStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	ringing := triggerAlarm(t, f)

	// A fresh service over the same store sees the ringing alarm at once,
	// as after a process restart.
	restarted := NewService(f.repo, textCodec{}, f.notif, WithClock(f.clock.Now))

	state, err := restarted.DevicePoll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.DeviceRinging, state)

	// And a scan on the restarted instance still validates.
	result, err := restarted.ProcessScan(ctx, ringing.Token)
	require.NoError(t, err)
	require.Equal(t, domain.ActionStop, result.Action)

	// The original instance's cached session is now stale; the next poll
	// re-derives and reports idle.
	state, err = f.service.DevicePoll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.DeviceIdle, state)
}

// TestSweepMarksNotifiedOnFailure keeps the lossy-delivery policy: a failed
// push is logged and the alarm is still marked notified.
func TestSweepMarksNotifiedOnFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.notif.failAll = true

	ringing := triggerAlarm(t, f)

	result, err := f.service.ProcessScan(ctx, ringing.Token)
	require.NoError(t, err)
	require.Equal(t, domain.ActionStop, result.Action)

	require.Zero(t, f.notif.completedCount())

	pending, err := f.repo.UnnotifiedCompleted(ctx)
	require.NoError(t, err)
	require.Empty(t, pending, "failed delivery must still be marked notified")
}

// TestSweepDeliversBacklog delivers completions recorded while no notifier
// could reach the user, then marks them.
func TestSweepDeliversBacklog(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// Complete an alarm behind the service's back.
	created, err := f.repo.CreateAlarm(ctx, f.user.ID, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.repo.MarkRinging(ctx, created.ID, "alarm_tok", f.clock.Now()))
	require.NoError(t, f.repo.MarkCompleted(ctx, created.ID, f.clock.Now(), 30))

	f.service.runTick(ctx)

	require.Equal(t, 1, f.notif.completedCount())

	pending, err := f.repo.UnnotifiedCompleted(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

// TestCompletionNotifiedOnce sends the success message at most once when two
// paths handle the same completed alarm.
func TestCompletionNotifiedOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.CreateAlarm(ctx, f.user.ID, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.repo.MarkRinging(ctx, created.ID, "alarm_tok", f.clock.Now()))
	require.NoError(t, f.repo.MarkCompleted(ctx, created.ID, f.clock.Now(), 30))

	// A sweep that read the alarm before another path flagged it delivers
	// nothing: only the first claim of the notified flag sends.
	f.service.notifyCompleted(ctx, created.ID, f.user.ID, 30)
	f.service.notifyCompleted(ctx, created.ID, f.user.ID, 30)

	require.Equal(t, 1, f.notif.completedCount())

	f.service.runTick(ctx)
	require.Equal(t, 1, f.notif.completedCount())
}

// TestStoreOutage surfaces store failures to callers and keeps ticking.
func TestStoreOutage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.repo.failRinging = context.DeadlineExceeded

	_, err := f.service.DevicePoll(ctx)
	require.Error(t, err)

	_, err = f.service.ProcessScan(ctx, "alarm_tok")
	require.Error(t, err)

	// The tick logs and moves on rather than panicking.
	f.service.runTick(ctx)

	f.repo.failRinging = nil

	state, err := f.service.DevicePoll(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.DeviceIdle, state)
}
