package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/turnbase/hostd/internal/schedule"
)

// Atomic counter adjustments use single upsert statements with RETURNING so
// concurrent writers never lose increments.

func (s *Store) adjustCounter(ctx context.Context, table, keyColumn string, key string, gameID int32, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}

	var n int64
	err := s.sqlDB.QueryRowContext(
		ctx,
		fmt.Sprintf(
			`INSERT INTO %s (%s, game_id, n) VALUES (?, ?, ?)
			 ON CONFLICT(%s, game_id) DO UPDATE SET n = n + ?
			 RETURNING n`,
			table, keyColumn, keyColumn,
		),
		key, gameID, delta, delta,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("adjust %s counter: %w", table, err)
	}
	return n, nil
}

// IncrUserGameRef atomically increments the user-side slot reference count.
func (s *Store) IncrUserGameRef(ctx context.Context, userID string, gameID int32) (int64, error) {
	return s.adjustCounter(ctx, "user_game_refs", "user_id", userID, gameID, 1)
}

// DecrUserGameRef atomically decrements the user-side slot reference count.
func (s *Store) DecrUserGameRef(ctx context.Context, userID string, gameID int32) (int64, error) {
	return s.adjustCounter(ctx, "user_game_refs", "user_id", userID, gameID, -1)
}

// IncrGameUserRef atomically increments the game-side slot reference count.
func (s *Store) IncrGameUserRef(ctx context.Context, gameID int32, userID string) (int64, error) {
	return s.adjustCounter(ctx, "game_user_refs", "user_id", userID, gameID, 1)
}

// DecrGameUserRef atomically decrements the game-side slot reference count.
func (s *Store) DecrGameUserRef(ctx context.Context, gameID int32, userID string) (int64, error) {
	return s.adjustCounter(ctx, "game_user_refs", "user_id", userID, gameID, -1)
}

// Setting returns the value for key, or "" when unset.
func (s *Store) Setting(ctx context.Context, gameID int32, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.ready(); err != nil {
		return "", err
	}

	var value string
	err := s.sqlDB.QueryRowContext(
		ctx,
		"SELECT value FROM game_settings WHERE game_id = ? AND key = ?",
		gameID, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("read setting: %w", err)
	}
	return value, nil
}

// SetSetting stores one settings pair.
func (s *Store) SetSetting(ctx context.Context, gameID int32, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO game_settings (game_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(game_id, key) DO UPDATE SET value = excluded.value`,
		gameID, key, value,
	)
	if err != nil {
		return fmt.Errorf("write setting: %w", err)
	}
	return nil
}

// AppendGameHistory appends one entry to a game's history log.
func (s *Store) AppendGameHistory(ctx context.Context, gameID int32, entry string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		"INSERT INTO game_history (game_id, entry) VALUES (?, ?)",
		gameID, entry,
	)
	if err != nil {
		return fmt.Errorf("append game history: %w", err)
	}
	return nil
}

// AppendGlobalHistory appends one entry to the global history log.
func (s *Store) AppendGlobalHistory(ctx context.Context, entry string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	if _, err := s.sqlDB.ExecContext(ctx, "INSERT INTO global_history (entry) VALUES (?)", entry); err != nil {
		return fmt.Errorf("append global history: %w", err)
	}
	return nil
}

func (s *Store) queryHistory(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []string
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// GameHistory returns a game's history log, oldest first.
func (s *Store) GameHistory(ctx context.Context, gameID int32) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.queryHistory(ctx, "SELECT entry FROM game_history WHERE game_id = ? ORDER BY id", gameID)
}

// GlobalHistory returns the global history log, oldest first.
func (s *Store) GlobalHistory(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.queryHistory(ctx, "SELECT entry FROM global_history ORDER BY id")
}

// Schedules returns a game's ordered schedule list.
func (s *Store) Schedules(ctx context.Context, gameID int32) ([]schedule.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT kind, weekdays, interval, daytime, host_early, host_delay,
		        host_limit, condition, condition_arg
		   FROM game_schedules WHERE game_id = ? ORDER BY position`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var out []schedule.Schedule
	for rows.Next() {
		var (
			sched                schedule.Schedule
			kind, weekdays       int
			hostEarly, condition int
		)
		err := rows.Scan(
			&kind, &weekdays, &sched.Interval, &sched.Daytime, &hostEarly,
			&sched.HostDelay, &sched.HostLimit, &condition, &sched.ConditionArg,
		)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		sched.Kind = schedule.Kind(kind)
		sched.Weekdays = schedule.WeekdaySet(weekdays)
		sched.HostEarly = hostEarly != 0
		sched.Condition = schedule.Condition(condition)
		out = append(out, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return out, nil
}

// ReplaceSchedules replaces a game's ordered schedule list.
func (s *Store) ReplaceSchedules(ctx context.Context, gameID int32, schedules []schedule.Schedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace schedules: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM game_schedules WHERE game_id = ?", gameID); err != nil {
		return fmt.Errorf("clear schedules: %w", err)
	}
	for i, sched := range schedules {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO game_schedules (
			   game_id, position, kind, weekdays, interval, daytime,
			   host_early, host_delay, host_limit, condition, condition_arg
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			gameID, i+1, int(sched.Kind), int(sched.Weekdays), sched.Interval,
			sched.Daytime, boolToInt(sched.HostEarly), sched.HostDelay,
			sched.HostLimit, int(sched.Condition), sched.ConditionArg,
		)
		if err != nil {
			return fmt.Errorf("insert schedule %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace schedules: %w", err)
	}
	return nil
}

// MarkUserActive records the latest activity time for a user.
func (s *Store) MarkUserActive(ctx context.Context, userID string, t schedule.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO users (user_id, active_at) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET active_at = excluded.active_at`,
		userID, int64(t),
	)
	if err != nil {
		return fmt.Errorf("mark user active: %w", err)
	}
	return nil
}

// UserActiveAt returns the latest recorded activity time, 0 if none.
func (s *Store) UserActiveAt(ctx context.Context, userID string) (schedule.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}

	var at int64
	err := s.sqlDB.QueryRowContext(
		ctx,
		"SELECT active_at FROM users WHERE user_id = ?",
		userID,
	).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read user activity: %w", err)
	}
	return schedule.Time(at), nil
}
