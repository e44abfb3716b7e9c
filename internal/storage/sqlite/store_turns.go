package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/turnbase/hostd/internal/storage"
)

// SetTurnRecord stores or replaces the result data of one turn.
func (s *Store) SetTurnRecord(ctx context.Context, rec storage.TurnRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO game_turns (game_id, turn, scores, info) VALUES (?, ?, ?, ?)
		 ON CONFLICT(game_id, turn) DO UPDATE SET scores = excluded.scores, info = excluded.info`,
		rec.GameID, rec.Turn, rec.Scores, rec.Info,
	)
	if err != nil {
		return fmt.Errorf("write turn record: %w", err)
	}
	return nil
}

// TurnRecord returns the result data of one turn.
func (s *Store) TurnRecord(ctx context.Context, gameID, turn int32) (storage.TurnRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TurnRecord{}, err
	}
	if err := s.ready(); err != nil {
		return storage.TurnRecord{}, err
	}

	rec := storage.TurnRecord{GameID: gameID, Turn: turn}
	err := s.sqlDB.QueryRowContext(
		ctx,
		"SELECT scores, info FROM game_turns WHERE game_id = ? AND turn = ?",
		gameID, turn,
	).Scan(&rec.Scores, &rec.Info)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.TurnRecord{}, storage.ErrNotFound
		}
		return storage.TurnRecord{}, fmt.Errorf("read turn record: %w", err)
	}
	return rec, nil
}
