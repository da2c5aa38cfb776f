package alarmclock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/oshokin/smart-alarm/internal/domain/alarm"
	"github.com/oshokin/smart-alarm/internal/repository/storage"
)

// memoryRepository is an in-memory storage.Repository for tests.
type memoryRepository struct {
	mu         sync.Mutex
	users      map[int64]*domain.User
	alarms     map[int64]*domain.Alarm
	nextUserID int64
	nextID     int64

	// failRinging makes Ringing return an error, simulating store outage.
	failRinging error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		users:  make(map[int64]*domain.User),
		alarms: make(map[int64]*domain.Alarm),
	}
}

func (m *memoryRepository) CreateUser(_ context.Context, chatID, name string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextUserID++
	u := &domain.User{
		ID:           m.nextUserID,
		ChatID:       chatID,
		Name:         name,
		RegisteredAt: time.Now(),
	}
	m.users[u.ID] = u

	return u.Clone(), nil
}

func (m *memoryRepository) UserByChatID(_ context.Context, chatID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.ChatID == chatID {
			return u.Clone(), nil
		}
	}

	return nil, storage.ErrNotFound
}

func (m *memoryRepository) UserByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return u.Clone(), nil
}

func (m *memoryRepository) CreateAlarm(_ context.Context, userID int64, triggerTime time.Time) (*domain.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	a := &domain.Alarm{
		ID:          m.nextID,
		UserID:      userID,
		TriggerTime: triggerTime,
		State:       domain.StateScheduled,
		CreatedAt:   time.Now(),
	}
	m.alarms[a.ID] = a

	return a.Clone(), nil
}

func (m *memoryRepository) AlarmByID(_ context.Context, id int64) (*domain.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alarms[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return a.Clone(), nil
}

func (m *memoryRepository) DueScheduled(_ context.Context, before time.Time) ([]*domain.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*domain.Alarm

	for _, a := range m.alarms {
		if a.State == domain.StateScheduled && !a.TriggerTime.After(before) {
			due = append(due, a.Clone())
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].TriggerTime.Before(due[j].TriggerTime)
	})

	return due, nil
}

func (m *memoryRepository) Ringing(_ context.Context) (*domain.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failRinging != nil {
		return nil, m.failRinging
	}

	for _, a := range m.alarms {
		if a.State == domain.StateRinging {
			return a.Clone(), nil
		}
	}

	return nil, storage.ErrNotFound
}

func (m *memoryRepository) ScheduledForUser(_ context.Context, userID int64) ([]*domain.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var scheduled []*domain.Alarm

	for _, a := range m.alarms {
		if a.UserID == userID && a.State == domain.StateScheduled {
			scheduled = append(scheduled, a.Clone())
		}
	}

	sort.Slice(scheduled, func(i, j int) bool {
		return scheduled[i].TriggerTime.Before(scheduled[j].TriggerTime)
	})

	return scheduled, nil
}

func (m *memoryRepository) MarkRinging(_ context.Context, alarmID int64, token string, triggeredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alarms[alarmID]
	if !ok || a.State != domain.StateScheduled {
		return storage.ErrStaleTransition
	}

	a.State = domain.StateRinging
	a.Token = token
	a.TriggeredAt = triggeredAt

	return nil
}

func (m *memoryRepository) MarkCompleted(_ context.Context, alarmID int64, stoppedAt time.Time, wakeSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alarms[alarmID]
	if !ok || a.State != domain.StateRinging {
		return storage.ErrStaleTransition
	}

	a.State = domain.StateCompleted
	a.Token = ""
	a.StoppedAt = stoppedAt
	a.WakeSeconds = wakeSeconds

	return nil
}

func (m *memoryRepository) MarkExpired(_ context.Context, alarmID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alarms[alarmID]
	if !ok || a.State != domain.StateRinging {
		return storage.ErrStaleTransition
	}

	a.State = domain.StateExpired
	a.Token = ""

	return nil
}

func (m *memoryRepository) CancelScheduledForUser(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64

	for _, a := range m.alarms {
		if a.UserID == userID && a.State == domain.StateScheduled {
			a.State = domain.StateCancelled
			count++
		}
	}

	return count, nil
}

func (m *memoryRepository) UnnotifiedCompleted(_ context.Context) ([]*domain.Alarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []*domain.Alarm

	for _, a := range m.alarms {
		if a.State == domain.StateCompleted && !a.NotificationSent {
			pending = append(pending, a.Clone())
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ID < pending[j].ID
	})

	return pending, nil
}

func (m *memoryRepository) MarkNotified(_ context.Context, alarmID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alarms[alarmID]
	if !ok || a.NotificationSent {
		return false, nil
	}

	a.NotificationSent = true

	return true, nil
}

func (m *memoryRepository) UserStats(_ context.Context, userID int64) (*domain.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		count int64
		total int64
	)

	for _, a := range m.alarms {
		if a.UserID == userID && a.State == domain.StateCompleted {
			count++
			total += a.WakeSeconds
		}
	}

	stats := &domain.Stats{TotalCompleted: count}
	if count > 0 {
		stats.AvgWakeSeconds = float64(total) / float64(count)
	}

	return stats, nil
}

// alarmState reads an alarm's state directly, bypassing the service.
func (m *memoryRepository) alarmState(id int64) domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.alarms[id].State
}

// textCodec is a Codec that wraps tokens in a readable prefix instead of
// rendering real images, so tests can build "images" by hand.
type textCodec struct{}

func (textCodec) Encode(token string) ([]byte, error) {
	return []byte("img:" + token), nil
}

func (textCodec) Decode(imageBytes []byte) (string, bool) {
	text := string(imageBytes)
	if !strings.HasPrefix(text, "img:") {
		return "", false
	}

	return strings.TrimPrefix(text, "img:"), true
}

// recordingNotifier captures deliveries and optionally fails them.
type recordingNotifier struct {
	mu        sync.Mutex
	ringing   []int64 // user IDs that received a QR
	completed []int64 // user IDs that received a success message
	failAll   bool
}

func (r *recordingNotifier) SendRinging(_ context.Context, user *domain.User, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failAll {
		return fmt.Errorf("delivery down")
	}

	r.ringing = append(r.ringing, user.ID)

	return nil
}

func (r *recordingNotifier) SendCompleted(_ context.Context, user *domain.User, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failAll {
		return fmt.Errorf("delivery down")
	}

	r.completed = append(r.completed, user.ID)

	return nil
}

func (r *recordingNotifier) completedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.completed)
}
