package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/turnbase/hostd/internal/game"
	"github.com/turnbase/hostd/internal/storage"
)

// SlotView is the read projection of one slot.
type SlotView struct {
	Slot    int32
	InGame  bool
	Turn    game.TurnStatus
	Rank    int32
	Players []string
}

// Description is the read projection of one game.
type Description struct {
	ID      int32
	Name    string
	Owner   string
	State   game.State
	Type    game.Type
	Turn    int32
	Victory game.VictoryCondition
	Slots   []SlotView
}

// Describe returns a game description shaped for the given viewer. The
// game's owner sees exact turn statuses; anyone else gets the collapsed
// coarse view.
func (s *Service) Describe(ctx context.Context, id int32, viewer string) (Description, error) {
	rec, err := s.store.Game(ctx, id)
	if err != nil {
		return Description{}, err
	}
	slots, err := s.store.Slots(ctx, id)
	if err != nil {
		return Description{}, fmt.Errorf("load slots: %w", err)
	}
	victory, err := s.victoryCondition(ctx, id)
	if err != nil {
		return Description{}, err
	}

	owner := viewer != "" && viewer == rec.Owner
	desc := Description{
		ID:      rec.ID,
		Name:    rec.Name,
		Owner:   rec.Owner,
		State:   rec.State,
		Type:    rec.Type,
		Turn:    rec.Turn,
		Victory: victory,
		Slots:   make([]SlotView, 0, len(slots)),
	}
	for _, slot := range slots {
		desc.Slots = append(desc.Slots, slotView(slot, owner))
	}
	return desc, nil
}

// DescribeSlot returns one slot shaped for the given viewer.
func (s *Service) DescribeSlot(ctx context.Context, gameID, slot int32, viewer string) (SlotView, error) {
	if err := checkSlot(slot); err != nil {
		return SlotView{}, err
	}
	rec, err := s.store.Game(ctx, gameID)
	if err != nil {
		return SlotView{}, err
	}
	sl, err := s.store.Slot(ctx, gameID, slot)
	if err != nil {
		return SlotView{}, err
	}
	return slotView(sl, viewer != "" && viewer == rec.Owner), nil
}

func slotView(rec storage.SlotRecord, owner bool) SlotView {
	view := SlotView{
		Slot:    rec.Slot,
		InGame:  rec.InGame,
		Turn:    rec.Turn,
		Rank:    rec.Rank,
		Players: append([]string(nil), rec.Players...),
	}
	if !owner {
		view.Turn = game.CollapseTurnStatus(view.Turn)
	}
	return view
}

// victoryCondition resolves the configured victory rule from the game's
// settings.
func (s *Service) victoryCondition(ctx context.Context, id int32) (game.VictoryCondition, error) {
	endCond, err := s.store.Setting(ctx, id, game.SettingEndCondition)
	if err != nil {
		return game.VictoryCondition{}, fmt.Errorf("read end condition: %w", err)
	}
	endTurn, err := s.intSetting(ctx, id, game.SettingEndTurn)
	if err != nil {
		return game.VictoryCondition{}, err
	}
	endScore, err := s.intSetting(ctx, id, game.SettingEndScore)
	if err != nil {
		return game.VictoryCondition{}, err
	}
	holdTurns, err := s.intSetting(ctx, id, game.SettingEndProbability)
	if err != nil {
		return game.VictoryCondition{}, err
	}
	referee, err := s.store.Setting(ctx, id, game.SettingReferee)
	if err != nil {
		return game.VictoryCondition{}, fmt.Errorf("read referee: %w", err)
	}
	return game.ResolveVictory(endCond, endTurn, endScore, holdTurns, referee), nil
}

// intSetting reads an integer setting; unset or malformed values read as 0.
func (s *Service) intSetting(ctx context.Context, id int32, key string) (int64, error) {
	raw, err := s.store.Setting(ctx, id, key)
	if err != nil {
		return 0, fmt.Errorf("read setting %s: %w", key, err)
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}
