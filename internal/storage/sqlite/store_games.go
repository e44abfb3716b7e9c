package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/turnbase/hostd/internal/game"
	"github.com/turnbase/hostd/internal/schedule"
	"github.com/turnbase/hostd/internal/storage"
)

// CreateGame inserts one game record and its empty slot rows.
func (s *Store) CreateGame(ctx context.Context, rec storage.GameRecord) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create game: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO games (
		   name, owner, directory, state, type, turn, timestamp,
		   copy_of, copy_pending, last_turn_submitted, last_host_time
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Name,
		rec.Owner,
		rec.Directory,
		int(rec.State),
		int(rec.Type),
		rec.Turn,
		rec.Timestamp,
		rec.CopyOf,
		boolToInt(rec.CopyPending),
		int64(rec.LastTurnSubmitted),
		int64(rec.LastHostTime),
	)
	if err != nil {
		return 0, fmt.Errorf("insert game: %w", err)
	}
	id64, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("game id: %w", err)
	}
	id := int32(id64)

	for slot := int32(1); slot <= game.NumSlots; slot++ {
		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO game_slots (game_id, slot) VALUES (?, ?)",
			id, slot,
		); err != nil {
			return 0, fmt.Errorf("insert slot %d: %w", slot, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create game: %w", err)
	}
	return id, nil
}

// Game returns one game record.
func (s *Store) Game(ctx context.Context, id int32) (storage.GameRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.GameRecord{}, err
	}
	if err := s.ready(); err != nil {
		return storage.GameRecord{}, err
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, owner, directory, state, type, turn, timestamp,
		        copy_of, copy_pending, last_turn_submitted, last_host_time
		   FROM games WHERE id = ?`,
		id,
	)

	var (
		rec         storage.GameRecord
		state, typ  int
		copyPending int
		submitted   int64
		lastHost    int64
	)
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Owner, &rec.Directory, &state, &typ,
		&rec.Turn, &rec.Timestamp, &rec.CopyOf, &copyPending, &submitted, &lastHost,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.GameRecord{}, storage.ErrNotFound
		}
		return storage.GameRecord{}, fmt.Errorf("scan game: %w", err)
	}
	rec.State = game.State(state)
	rec.Type = game.Type(typ)
	rec.CopyPending = copyPending != 0
	rec.LastTurnSubmitted = schedule.Time(submitted)
	rec.LastHostTime = schedule.Time(lastHost)
	return rec, nil
}

func (s *Store) updateGame(ctx context.Context, id int32, column string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	res, err := s.sqlDB.ExecContext(
		ctx,
		"UPDATE games SET "+column+" = ? WHERE id = ?",
		value, id,
	)
	if err != nil {
		return fmt.Errorf("update game %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update game %s: %w", column, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetGameState updates the primary state field.
func (s *Store) SetGameState(ctx context.Context, id int32, st game.State) error {
	return s.updateGame(ctx, id, "state", int(st))
}

// SetGameType updates the game type.
func (s *Store) SetGameType(ctx context.Context, id int32, ty game.Type) error {
	return s.updateGame(ctx, id, "type", int(ty))
}

// SetGameOwner updates the owning user.
func (s *Store) SetGameOwner(ctx context.Context, id int32, owner string) error {
	return s.updateGame(ctx, id, "owner", owner)
}

// SetGameName updates the display name.
func (s *Store) SetGameName(ctx context.Context, id int32, name string) error {
	return s.updateGame(ctx, id, "name", name)
}

// SetGameTurn updates the current turn number.
func (s *Store) SetGameTurn(ctx context.Context, id int32, turn int32) error {
	return s.updateGame(ctx, id, "turn", turn)
}

// SetGameTimestamp updates the current turn-file timestamp.
func (s *Store) SetGameTimestamp(ctx context.Context, id int32, timestamp string) error {
	return s.updateGame(ctx, id, "timestamp", timestamp)
}

// SetCopyPending updates the copy-pending flag.
func (s *Store) SetCopyPending(ctx context.Context, id int32, pending bool) error {
	return s.updateGame(ctx, id, "copy_pending", boolToInt(pending))
}

// SetLastTurnSubmitted stamps the latest accepted submission.
func (s *Store) SetLastTurnSubmitted(ctx context.Context, id int32, t schedule.Time) error {
	return s.updateGame(ctx, id, "last_turn_submitted", int64(t))
}

// SetLastHostTime stamps the latest completed host run.
func (s *Store) SetLastHostTime(ctx context.Context, id int32, t schedule.Time) error {
	return s.updateGame(ctx, id, "last_host_time", int64(t))
}

// GameByTimestamp resolves a turn-file timestamp to a game id.
func (s *Store) GameByTimestamp(ctx context.Context, timestamp string) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.ready(); err != nil {
		return 0, err
	}
	if timestamp == "" {
		return 0, storage.ErrNotFound
	}

	var id int32
	err := s.sqlDB.QueryRowContext(
		ctx,
		"SELECT id FROM games WHERE timestamp = ? ORDER BY id LIMIT 1",
		timestamp,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("lookup game by timestamp: %w", err)
	}
	return id, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
