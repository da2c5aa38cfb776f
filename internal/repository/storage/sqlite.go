package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/oshokin/smart-alarm/internal/config"
	domain "github.com/oshokin/smart-alarm/internal/domain/alarm"
)

const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0o750

	// busyTimeout is how long SQLite waits for a lock before failing.
	busyTimeout = 5 * time.Second

	// connectTimeout bounds the initial connectivity check.
	connectTimeout = 5 * time.Second
)

// SQLiteRepository persists users and alarms in a SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// Open creates the database file if needed, applies the schema and returns
// a ready repository. WAL mode keeps device polls readable while the
// scheduler writes.
func Open(ctx context.Context, path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(path)), dirPermissions); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	connStr := fmt.Sprintf(
		"file:%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		filepath.Clean(path),
		busyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports one writer; a single connection sidesteps lock errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err = db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("verify database connection: %w", err)
	}

	r := &SQLiteRepository{db: db}
	if err = r.applySchema(ctx); err != nil {
		_ = db.Close()

		return nil, err
	}

	_ = os.Chmod(filepath.Clean(path), config.DefaultFilePermissions)

	return r, nil
}

// Close closes the underlying database connection.
func (r *SQLiteRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

// applySchema creates tables and indexes if they do not exist yet.
func (r *SQLiteRepository) applySchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			registered_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alarms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			trigger_time TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'scheduled',
			token TEXT,
			created_at TEXT NOT NULL,
			triggered_at TEXT,
			stopped_at TEXT,
			wake_time_seconds INTEGER,
			notification_sent INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alarm_state ON alarms(state)`,
		`CREATE INDEX IF NOT EXISTS idx_user_chat_id ON users(chat_id)`,
	}

	for _, statement := range statements {
		if _, err := r.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return nil
}

// CreateUser registers a new user with the given chat ID and name.
func (r *SQLiteRepository) CreateUser(ctx context.Context, chatID, name string) (*domain.User, error) {
	now := time.Now()

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (chat_id, name, registered_at) VALUES (?, ?, ?)`,
		chatID, name, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user insert id: %w", err)
	}

	return &domain.User{
		ID:           id,
		ChatID:       chatID,
		Name:         name,
		RegisteredAt: now,
	}, nil
}

// UserByChatID returns the user registered with the given chat ID.
func (r *SQLiteRepository) UserByChatID(ctx context.Context, chatID string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, chat_id, name, registered_at FROM users WHERE chat_id = ?`, chatID)

	return scanUser(row)
}

// UserByID returns the user with the given ID.
func (r *SQLiteRepository) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, chat_id, name, registered_at FROM users WHERE id = ?`, id)

	return scanUser(row)
}

// alarmColumns is the column list shared by every alarm query.
const alarmColumns = `id, user_id, trigger_time, state, token, created_at,
	triggered_at, stopped_at, wake_time_seconds, notification_sent`

// CreateAlarm inserts a new scheduled alarm.
func (r *SQLiteRepository) CreateAlarm(ctx context.Context, userID int64, triggerTime time.Time) (*domain.Alarm, error) {
	now := time.Now()

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO alarms (user_id, trigger_time, state, created_at) VALUES (?, ?, ?, ?)`,
		userID, formatTime(triggerTime), domain.StateScheduled.String(), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert alarm: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("alarm insert id: %w", err)
	}

	return &domain.Alarm{
		ID:          id,
		UserID:      userID,
		TriggerTime: triggerTime,
		State:       domain.StateScheduled,
		CreatedAt:   now,
	}, nil
}

// AlarmByID returns the alarm with the given ID.
func (r *SQLiteRepository) AlarmByID(ctx context.Context, id int64) (*domain.Alarm, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alarmColumns+` FROM alarms WHERE id = ?`, id)

	return scanAlarm(row)
}

// DueScheduled returns scheduled alarms due at or before the given instant,
// earliest first.
func (r *SQLiteRepository) DueScheduled(ctx context.Context, before time.Time) ([]*domain.Alarm, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alarmColumns+` FROM alarms
		WHERE state = ? AND trigger_time <= ?
		ORDER BY trigger_time ASC`,
		domain.StateScheduled.String(), formatTime(before))
	if err != nil {
		return nil, fmt.Errorf("query due alarms: %w", err)
	}

	return collectAlarms(rows)
}

// Ringing returns the currently ringing alarm, or ErrNotFound.
func (r *SQLiteRepository) Ringing(ctx context.Context) (*domain.Alarm, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alarmColumns+` FROM alarms WHERE state = ? LIMIT 1`,
		domain.StateRinging.String())

	return scanAlarm(row)
}

// ScheduledForUser returns the user's scheduled alarms, earliest first.
func (r *SQLiteRepository) ScheduledForUser(ctx context.Context, userID int64) ([]*domain.Alarm, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alarmColumns+` FROM alarms
		WHERE user_id = ? AND state = ?
		ORDER BY trigger_time ASC`,
		userID, domain.StateScheduled.String())
	if err != nil {
		return nil, fmt.Errorf("query user alarms: %w", err)
	}

	return collectAlarms(rows)
}

// MarkRinging moves a scheduled alarm to ringing. The state condition in the
// WHERE clause is the commit point that resolves races between tick and scan:
// whichever update lands first wins, the loser sees ErrStaleTransition.
func (r *SQLiteRepository) MarkRinging(ctx context.Context, alarmID int64, token string, triggeredAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alarms SET state = ?, token = ?, triggered_at = ?
		WHERE id = ? AND state = ?`,
		domain.StateRinging.String(), token, formatTime(triggeredAt),
		alarmID, domain.StateScheduled.String())
	if err != nil {
		return fmt.Errorf("mark ringing: %w", err)
	}

	return requireTransition(result)
}

// MarkCompleted moves a ringing alarm to completed.
func (r *SQLiteRepository) MarkCompleted(ctx context.Context, alarmID int64, stoppedAt time.Time, wakeSeconds int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alarms SET state = ?, token = NULL, stopped_at = ?, wake_time_seconds = ?
		WHERE id = ? AND state = ?`,
		domain.StateCompleted.String(), formatTime(stoppedAt), wakeSeconds,
		alarmID, domain.StateRinging.String())
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	return requireTransition(result)
}

// MarkExpired moves a ringing alarm to expired.
func (r *SQLiteRepository) MarkExpired(ctx context.Context, alarmID int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alarms SET state = ?, token = NULL
		WHERE id = ? AND state = ?`,
		domain.StateExpired.String(), alarmID, domain.StateRinging.String())
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}

	return requireTransition(result)
}

// CancelScheduledForUser cancels all of the user's scheduled alarms.
func (r *SQLiteRepository) CancelScheduledForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alarms SET state = ? WHERE user_id = ? AND state = ?`,
		domain.StateCancelled.String(), userID, domain.StateScheduled.String())
	if err != nil {
		return 0, fmt.Errorf("cancel alarms: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancelled rows: %w", err)
	}

	return count, nil
}

// UnnotifiedCompleted returns completed alarms awaiting their success message.
func (r *SQLiteRepository) UnnotifiedCompleted(ctx context.Context) ([]*domain.Alarm, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alarmColumns+` FROM alarms
		WHERE state = ? AND notification_sent = 0`,
		domain.StateCompleted.String())
	if err != nil {
		return nil, fmt.Errorf("query unnotified alarms: %w", err)
	}

	return collectAlarms(rows)
}

// MarkNotified records that the success message was handled. The flag flip
// is conditional so that when two callers race over the same alarm, exactly
// one of them claims the delivery.
func (r *SQLiteRepository) MarkNotified(ctx context.Context, alarmID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alarms SET notification_sent = 1
		WHERE id = ? AND notification_sent = 0`, alarmID)
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("notified rows: %w", err)
	}

	return affected > 0, nil
}

// UserStats returns wake-up statistics over the user's completed alarms.
func (r *SQLiteRepository) UserStats(ctx context.Context, userID int64) (*domain.Stats, error) {
	var (
		count   int64
		avgTime sql.NullFloat64
	)

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(wake_time_seconds) FROM alarms
		WHERE user_id = ? AND state = ? AND wake_time_seconds IS NOT NULL`,
		userID, domain.StateCompleted.String()).Scan(&count, &avgTime)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	stats := &domain.Stats{TotalCompleted: count}
	if avgTime.Valid {
		stats.AvgWakeSeconds = math.Round(avgTime.Float64*10) / 10
	}

	return stats, nil
}

// requireTransition converts a zero-row conditional update into ErrStaleTransition.
func requireTransition(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("affected rows: %w", err)
	}

	if affected == 0 {
		return ErrStaleTransition
	}

	return nil
}

// storedTimeLayout is a fixed-width UTC encoding. RFC3339Nano drops trailing
// fractional zeros and keeps local offsets, so lexicographic comparison in
// SQL breaks right at a second boundary; a padded UTC form keeps string
// order identical to time order.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z"

// formatTime stores instants as fixed-width UTC strings.
func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

// parseTime restores an instant stored by formatTime.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}

	return t, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser reads one user row.
func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u            domain.User
		registeredAt string
	)

	err := row.Scan(&u.ID, &u.ChatID, &u.Name, &registeredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if u.RegisteredAt, err = parseTime(registeredAt); err != nil {
		return nil, err
	}

	return &u, nil
}

// scanAlarm reads one alarm row.
func scanAlarm(row rowScanner) (*domain.Alarm, error) {
	var (
		a            domain.Alarm
		state        string
		token        sql.NullString
		triggerTime  string
		createdAt    string
		triggeredAt  sql.NullString
		stoppedAt    sql.NullString
		wakeSeconds  sql.NullInt64
		notification int64
	)

	err := row.Scan(&a.ID, &a.UserID, &triggerTime, &state, &token,
		&createdAt, &triggeredAt, &stoppedAt, &wakeSeconds, &notification)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("scan alarm: %w", err)
	}

	parsedState, ok := domain.ParseState(state)
	if !ok {
		return nil, fmt.Errorf("unknown alarm state %q", state)
	}

	a.State = parsedState
	a.Token = token.String
	a.WakeSeconds = wakeSeconds.Int64
	a.NotificationSent = notification != 0

	if a.TriggerTime, err = parseTime(triggerTime); err != nil {
		return nil, err
	}

	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	if triggeredAt.Valid {
		if a.TriggeredAt, err = parseTime(triggeredAt.String); err != nil {
			return nil, err
		}
	}

	if stoppedAt.Valid {
		if a.StoppedAt, err = parseTime(stoppedAt.String); err != nil {
			return nil, err
		}
	}

	return &a, nil
}

// collectAlarms drains rows into a slice, closing them afterwards.
func collectAlarms(rows *sql.Rows) ([]*domain.Alarm, error) {
	defer func() {
		_ = rows.Close()
	}()

	var alarms []*domain.Alarm

	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}

		alarms = append(alarms, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alarms: %w", err)
	}

	return alarms, nil
}
