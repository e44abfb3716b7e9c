// Package storage defines the persistence interfaces and record types for
// the hosting engine. Game state lives in a shared store so multiple
// cooperating processes see the same data; implementations must provide the
// primitives the engine relies on: O(1) lookup by id, ordered per-slot
// player lists, set-semantics secondary indices, and atomic counters.
package storage

import (
	"context"

	"github.com/turnbase/hostd/internal/game"
	apperrors "github.com/turnbase/hostd/internal/platform/errors"
	"github.com/turnbase/hostd/internal/schedule"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// GameRecord is the canonical persisted state of one hosted game.
type GameRecord struct {
	ID        int32
	Name      string
	Owner     string
	Directory string
	State     game.State
	Type      game.Type

	// Turn is the current game turn, advanced by host runs.
	Turn int32
	// Timestamp is the current turn-file timestamp; turn uploads resolve
	// their game through it when no explicit game id is given.
	Timestamp string

	// CopyOf is the id of the game this one was copied from, 0 if none.
	CopyOf int32
	// CopyPending marks a copy whose source linkage still has to be
	// processed by the scheduler.
	CopyPending bool

	// LastTurnSubmitted is the host time of the latest accepted turn.
	LastTurnSubmitted schedule.Time
	// LastHostTime is the host time of the latest completed host run.
	LastHostTime schedule.Time
}

// SlotRecord is the persisted state of one of the eleven player positions.
type SlotRecord struct {
	GameID int32
	Slot   int32

	// InGame marks the slot as part of the game; open or closed slots that
	// never play have it unset.
	InGame bool
	Turn   game.TurnStatus
	Rank   int32

	// Players is the ordered player list: the first entry is the primary
	// player, later entries are substitutes.
	Players []string
}

// TurnRecord is the persisted result data of one hosted turn.
type TurnRecord struct {
	GameID int32
	Turn   int32

	// Scores holds the packed per-slot score arrays produced by the host
	// run; the engine stores it opaquely.
	Scores []byte
	// Info is free-form commentary attached to the turn.
	Info string
}

// GameStore persists game records.
type GameStore interface {
	// CreateGame allocates an id and stores the record. The record's ID
	// field is ignored; slots 1..game.NumSlots are created empty.
	CreateGame(ctx context.Context, rec GameRecord) (int32, error)
	Game(ctx context.Context, id int32) (GameRecord, error)
	SetGameState(ctx context.Context, id int32, st game.State) error
	SetGameType(ctx context.Context, id int32, ty game.Type) error
	SetGameOwner(ctx context.Context, id int32, owner string) error
	SetGameName(ctx context.Context, id int32, name string) error
	SetGameTurn(ctx context.Context, id int32, turn int32) error
	SetGameTimestamp(ctx context.Context, id int32, timestamp string) error
	SetCopyPending(ctx context.Context, id int32, pending bool) error
	SetLastTurnSubmitted(ctx context.Context, id int32, t schedule.Time) error
	SetLastHostTime(ctx context.Context, id int32, t schedule.Time) error

	// GameByTimestamp resolves a turn-file timestamp to a game id.
	GameByTimestamp(ctx context.Context, timestamp string) (int32, error)
}

// IndexStore maintains the secondary index sets. All operations have set
// semantics and are idempotent so interrupted primary-then-secondary
// updates reconcile on replay.
type IndexStore interface {
	AddStateIndex(ctx context.Context, st game.State, id int32) error
	RemoveStateIndex(ctx context.Context, st game.State, id int32) error
	GamesInState(ctx context.Context, st game.State) ([]int32, error)

	// The pubstate index mirrors the state index for publicly listed games.
	AddPubstateIndex(ctx context.Context, st game.State, id int32) error
	RemovePubstateIndex(ctx context.Context, st game.State, id int32) error
	PublicGamesInState(ctx context.Context, st game.State) ([]int32, error)

	AddOwnerIndex(ctx context.Context, owner string, id int32) error
	RemoveOwnerIndex(ctx context.Context, owner string, id int32) error
	GamesOwnedBy(ctx context.Context, owner string) ([]int32, error)
}

// SlotStore persists slot state and the ordered player lists.
type SlotStore interface {
	Slot(ctx context.Context, gameID, slot int32) (SlotRecord, error)
	Slots(ctx context.Context, gameID int32) ([]SlotRecord, error)
	SetSlotInGame(ctx context.Context, gameID, slot int32, inGame bool) error
	SetTurnStatus(ctx context.Context, gameID, slot int32, ts game.TurnStatus) error
	SetSlotRank(ctx context.Context, gameID, slot, rank int32) error

	// PushSlotPlayer appends a player to the end of the slot's list.
	PushSlotPlayer(ctx context.Context, gameID, slot int32, userID string) error
	// PopSlotPlayer removes and returns the last player of the slot's list.
	PopSlotPlayer(ctx context.Context, gameID, slot int32) (string, error)
}

// TurnStore persists per-turn result data.
type TurnStore interface {
	// SetTurnRecord stores or replaces the result data of one turn.
	SetTurnRecord(ctx context.Context, rec TurnRecord) error
	TurnRecord(ctx context.Context, gameID, turn int32) (TurnRecord, error)
}

// RefCountStore provides the atomic reference counters that drive filer
// permission grants. Counters must be adjusted with the store's atomic
// increment/decrement, never read-modify-write.
type RefCountStore interface {
	IncrUserGameRef(ctx context.Context, userID string, gameID int32) (int64, error)
	DecrUserGameRef(ctx context.Context, userID string, gameID int32) (int64, error)
	IncrGameUserRef(ctx context.Context, gameID int32, userID string) (int64, error)
	DecrGameUserRef(ctx context.Context, gameID int32, userID string) (int64, error)
}

// SettingStore persists the free-form per-game settings.
type SettingStore interface {
	// Setting returns the value for key, or "" when unset.
	Setting(ctx context.Context, gameID int32, key string) (string, error)
	SetSetting(ctx context.Context, gameID int32, key, value string) error
}

// HistoryStore appends to the per-game and global history logs.
type HistoryStore interface {
	AppendGameHistory(ctx context.Context, gameID int32, entry string) error
	AppendGlobalHistory(ctx context.Context, entry string) error
	GameHistory(ctx context.Context, gameID int32) ([]string, error)
	GlobalHistory(ctx context.Context) ([]string, error)
}

// ScheduleStore persists each game's ordered schedule list. The head of the
// list is the current schedule.
type ScheduleStore interface {
	Schedules(ctx context.Context, gameID int32) ([]schedule.Schedule, error)
	ReplaceSchedules(ctx context.Context, gameID int32, schedules []schedule.Schedule) error
}

// UserStore records per-user activity.
type UserStore interface {
	MarkUserActive(ctx context.Context, userID string, t schedule.Time) error
	UserActiveAt(ctx context.Context, userID string) (schedule.Time, error)
}

// Store is the full persistence surface of the hosting engine.
type Store interface {
	GameStore
	IndexStore
	SlotStore
	TurnStore
	RefCountStore
	SettingStore
	HistoryStore
	ScheduleStore
	UserStore

	Close() error
}
