package sqlite

import (
	"context"
	"fmt"

	"github.com/turnbase/hostd/internal/game"
)

func (s *Store) addIndex(ctx context.Context, table string, key any, gameID int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	column := "state"
	if table == "owner_index" {
		column = "owner"
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		"INSERT OR IGNORE INTO "+table+" ("+column+", game_id) VALUES (?, ?)",
		key, gameID,
	)
	if err != nil {
		return fmt.Errorf("add %s entry: %w", table, err)
	}
	return nil
}

func (s *Store) removeIndex(ctx context.Context, table string, key any, gameID int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}

	column := "state"
	if table == "owner_index" {
		column = "owner"
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		"DELETE FROM "+table+" WHERE "+column+" = ? AND game_id = ?",
		key, gameID,
	)
	if err != nil {
		return fmt.Errorf("remove %s entry: %w", table, err)
	}
	return nil
}

func (s *Store) listIndex(ctx context.Context, table string, key any) ([]int32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	column := "state"
	if table == "owner_index" {
		column = "owner"
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		"SELECT game_id FROM "+table+" WHERE "+column+" = ? ORDER BY game_id",
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s entry: %w", table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return ids, nil
}

// AddStateIndex adds the game to a state set.
func (s *Store) AddStateIndex(ctx context.Context, st game.State, id int32) error {
	return s.addIndex(ctx, "state_index", int(st), id)
}

// RemoveStateIndex removes the game from a state set.
func (s *Store) RemoveStateIndex(ctx context.Context, st game.State, id int32) error {
	return s.removeIndex(ctx, "state_index", int(st), id)
}

// GamesInState lists the state set, ordered by id.
func (s *Store) GamesInState(ctx context.Context, st game.State) ([]int32, error) {
	return s.listIndex(ctx, "state_index", int(st))
}

// AddPubstateIndex adds the game to a public state set.
func (s *Store) AddPubstateIndex(ctx context.Context, st game.State, id int32) error {
	return s.addIndex(ctx, "pubstate_index", int(st), id)
}

// RemovePubstateIndex removes the game from a public state set.
func (s *Store) RemovePubstateIndex(ctx context.Context, st game.State, id int32) error {
	return s.removeIndex(ctx, "pubstate_index", int(st), id)
}

// PublicGamesInState lists the public state set, ordered by id.
func (s *Store) PublicGamesInState(ctx context.Context, st game.State) ([]int32, error) {
	return s.listIndex(ctx, "pubstate_index", int(st))
}

// AddOwnerIndex adds the game to an owner's set.
func (s *Store) AddOwnerIndex(ctx context.Context, owner string, id int32) error {
	return s.addIndex(ctx, "owner_index", owner, id)
}

// RemoveOwnerIndex removes the game from an owner's set.
func (s *Store) RemoveOwnerIndex(ctx context.Context, owner string, id int32) error {
	return s.removeIndex(ctx, "owner_index", owner, id)
}

// GamesOwnedBy lists an owner's set, ordered by id.
func (s *Store) GamesOwnedBy(ctx context.Context, owner string) ([]int32, error) {
	return s.listIndex(ctx, "owner_index", owner)
}
