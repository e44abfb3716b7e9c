package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/turnbase/hostd/internal/game"
	"github.com/turnbase/hostd/internal/storage"
)

// Slot returns one slot record with its ordered player list.
func (s *Store) Slot(ctx context.Context, gameID, slot int32) (storage.SlotRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SlotRecord{}, err
	}
	if err := s.ready(); err != nil {
		return storage.SlotRecord{}, err
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT game_id, slot, in_game, turn_color, turn_temporary, rank
		   FROM game_slots WHERE game_id = ? AND slot = ?`,
		gameID, slot,
	)
	rec, err := scanSlot(row)
	if err != nil {
		return storage.SlotRecord{}, err
	}

	rec.Players, err = s.slotPlayers(ctx, gameID, slot)
	if err != nil {
		return storage.SlotRecord{}, err
	}
	return rec, nil
}

// Slots returns all slot records of a game in slot order.
func (s *Store) Slots(ctx context.Context, gameID int32) ([]storage.SlotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT game_id, slot, in_game, turn_color, turn_temporary, rank
		   FROM game_slots WHERE game_id = ? ORDER BY slot`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	var out []storage.SlotRecord
	for rows.Next() {
		rec, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	if len(out) == 0 {
		return nil, storage.ErrNotFound
	}

	for i := range out {
		out[i].Players, err = s.slotPlayers(ctx, gameID, out[i].Slot)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (storage.SlotRecord, error) {
	var (
		rec       storage.SlotRecord
		inGame    int
		color     int
		temporary int
	)
	err := row.Scan(&rec.GameID, &rec.Slot, &inGame, &color, &temporary, &rec.Rank)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SlotRecord{}, storage.ErrNotFound
		}
		return storage.SlotRecord{}, fmt.Errorf("scan slot: %w", err)
	}
	rec.InGame = inGame != 0
	rec.Turn = game.TurnStatus{Color: game.TurnColor(color), Temporary: temporary != 0}
	return rec, nil
}

func (s *Store) slotPlayers(ctx context.Context, gameID, slot int32) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		"SELECT user_id FROM slot_players WHERE game_id = ? AND slot = ? ORDER BY position",
		gameID, slot,
	)
	if err != nil {
		return nil, fmt.Errorf("query slot players: %w", err)
	}
	defer rows.Close()

	var players []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan slot player: %w", err)
		}
		players = append(players, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slot players: %w", err)
	}
	return players, nil
}

func (s *Store) updateSlot(ctx context.Context, gameID, slot int32, set string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	args = append(args, gameID, slot)
	res, err := s.sqlDB.ExecContext(
		ctx,
		"UPDATE game_slots SET "+set+" WHERE game_id = ? AND slot = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetSlotInGame updates the in-game flag.
func (s *Store) SetSlotInGame(ctx context.Context, gameID, slot int32, inGame bool) error {
	return s.updateSlot(ctx, gameID, slot, "in_game = ?", boolToInt(inGame))
}

// SetTurnStatus updates the turn status.
func (s *Store) SetTurnStatus(ctx context.Context, gameID, slot int32, ts game.TurnStatus) error {
	return s.updateSlot(ctx, gameID, slot,
		"turn_color = ?, turn_temporary = ?",
		int(ts.Color), boolToInt(ts.Temporary),
	)
}

// SetSlotRank updates the slot rank.
func (s *Store) SetSlotRank(ctx context.Context, gameID, slot, rank int32) error {
	return s.updateSlot(ctx, gameID, slot, "rank = ?", rank)
}

// PushSlotPlayer appends a player to the end of the slot's ordered list.
func (s *Store) PushSlotPlayer(ctx context.Context, gameID, slot int32, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO slot_players (game_id, slot, position, user_id)
		 SELECT ?, ?, COALESCE(MAX(position), 0) + 1, ?
		   FROM slot_players WHERE game_id = ? AND slot = ?`,
		gameID, slot, userID, gameID, slot,
	)
	if err != nil {
		return fmt.Errorf("push slot player: %w", err)
	}
	return nil
}

// PopSlotPlayer removes and returns the last player of the slot's list.
func (s *Store) PopSlotPlayer(ctx context.Context, gameID, slot int32) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.ready(); err != nil {
		return "", err
	}

	var userID string
	err := s.sqlDB.QueryRowContext(
		ctx,
		`DELETE FROM slot_players
		  WHERE game_id = ? AND slot = ?
		    AND position = (SELECT MAX(position) FROM slot_players WHERE game_id = ? AND slot = ?)
		 RETURNING user_id`,
		gameID, slot, gameID, slot,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("pop slot player: %w", err)
	}
	return userID, nil
}
