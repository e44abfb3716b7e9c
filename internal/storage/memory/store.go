// Package memory provides an in-memory Store used by tests and seeding
// tools. It implements the same semantics as the SQLite backend, including
// atomic counters and set-semantics indices, guarded by a single mutex.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/turnbase/hostd/internal/game"
	"github.com/turnbase/hostd/internal/schedule"
	"github.com/turnbase/hostd/internal/storage"
)

type slotKey struct {
	gameID int32
	slot   int32
}

type refKey struct {
	gameID int32
	userID string
}

type turnKey struct {
	gameID int32
	turn   int32
}

// Store is an in-memory storage.Store implementation.
type Store struct {
	mu sync.Mutex

	nextID    int32
	games     map[int32]*storage.GameRecord
	slots     map[slotKey]*storage.SlotRecord
	byStamp   map[string]int32
	state     map[game.State]map[int32]struct{}
	pubstate  map[game.State]map[int32]struct{}
	owners    map[string]map[int32]struct{}
	userRefs  map[refKey]int64
	gameRefs  map[refKey]int64
	settings  map[int32]map[string]string
	history   map[int32][]string
	global    []string
	schedules map[int32][]schedule.Schedule
	active    map[string]schedule.Time
	turns     map[turnKey]storage.TurnRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextID:    1,
		games:     make(map[int32]*storage.GameRecord),
		slots:     make(map[slotKey]*storage.SlotRecord),
		byStamp:   make(map[string]int32),
		state:     make(map[game.State]map[int32]struct{}),
		pubstate:  make(map[game.State]map[int32]struct{}),
		owners:    make(map[string]map[int32]struct{}),
		userRefs:  make(map[refKey]int64),
		gameRefs:  make(map[refKey]int64),
		settings:  make(map[int32]map[string]string),
		history:   make(map[int32][]string),
		schedules: make(map[int32][]schedule.Schedule),
		active:    make(map[string]schedule.Time),
		turns:     make(map[turnKey]storage.TurnRecord),
	}
}

// Close releases nothing; it exists to satisfy storage.Store.
func (s *Store) Close() error { return nil }

// CreateGame allocates an id, stores the record, and creates empty slots.
func (s *Store) CreateGame(ctx context.Context, rec storage.GameRecord) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextID
	s.nextID++
	s.games[rec.ID] = &rec
	if rec.Timestamp != "" {
		s.byStamp[rec.Timestamp] = rec.ID
	}
	for slot := int32(1); slot <= game.NumSlots; slot++ {
		s.slots[slotKey{rec.ID, slot}] = &storage.SlotRecord{GameID: rec.ID, Slot: slot}
	}
	return rec.ID, nil
}

// Game returns one game record.
func (s *Store) Game(ctx context.Context, id int32) (storage.GameRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.GameRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.games[id]
	if !ok {
		return storage.GameRecord{}, storage.ErrNotFound
	}
	return *rec, nil
}

func (s *Store) mutateGame(ctx context.Context, id int32, fn func(*storage.GameRecord)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.games[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(rec)
	return nil
}

// SetGameState updates the primary state field.
func (s *Store) SetGameState(ctx context.Context, id int32, st game.State) error {
	return s.mutateGame(ctx, id, func(rec *storage.GameRecord) { rec.State = st })
}

// SetGameType updates the game type.
func (s *Store) SetGameType(ctx context.Context, id int32, ty game.Type) error {
	return s.mutateGame(ctx, id, func(rec *storage.GameRecord) { rec.Type = ty })
}

// SetGameOwner updates the owning user.
func (s *Store) SetGameOwner(ctx context.Context, id int32, owner string) error {
	return s.mutateGame(ctx, id, func(rec *storage.GameRecord) { rec.Owner = owner })
}

// SetGameName updates the display name.
func (s *Store) SetGameName(ctx context.Context, id int32, name string) error {
	return s.mutateGame(ctx, id, func(rec *storage.GameRecord) { rec.Name = name })
}

// SetGameTurn updates the current turn number.
func (s *Store) SetGameTurn(ctx context.Context, id int32, turn int32) error {
	return s.mutateGame(ctx, id, func(rec *storage.GameRecord) { rec.Turn = turn })
}

// SetGameTimestamp updates the current turn-file timestamp and the
// timestamp index.
func (s *Store) SetGameTimestamp(ctx context.Context, id int32, timestamp string) error {
	return s.mutateGame(ctx, id, func(rec *storage.GameRecord) {
		if rec.Timestamp != "" {
			delete(s.byStamp, rec.Timestamp)
		}
		rec.Timestamp = timestamp
		if timestamp != "" {
			s.byStamp[timestamp] = id
		}
	})
}

// SetCopyPending updates the copy-pending flag.
func (s *Store) SetCopyPending(ctx context.Context, id int32, pending bool) error {
	return s.mutateGame(ctx, id, func(rec *storage.GameRecord) { rec.CopyPending = pending })
}

// SetLastTurnSubmitted stamps the latest accepted submission.
func (s *Store) SetLastTurnSubmitted(ctx context.Context, id int32, t schedule.Time) error {
	return s.mutateGame(ctx, id, func(rec *storage.GameRecord) { rec.LastTurnSubmitted = t })
}

// SetLastHostTime stamps the latest completed host run.
func (s *Store) SetLastHostTime(ctx context.Context, id int32, t schedule.Time) error {
	return s.mutateGame(ctx, id, func(rec *storage.GameRecord) { rec.LastHostTime = t })
}

// GameByTimestamp resolves a turn-file timestamp to a game id.
func (s *Store) GameByTimestamp(ctx context.Context, timestamp string) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byStamp[timestamp]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return id, nil
}

func addToSet(sets map[game.State]map[int32]struct{}, st game.State, id int32) {
	set := sets[st]
	if set == nil {
		set = make(map[int32]struct{})
		sets[st] = set
	}
	set[id] = struct{}{}
}

func listSet(set map[int32]struct{}) []int32 {
	ids := make([]int32, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddStateIndex adds the game to a state set.
func (s *Store) AddStateIndex(ctx context.Context, st game.State, id int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	addToSet(s.state, st, id)
	return nil
}

// RemoveStateIndex removes the game from a state set.
func (s *Store) RemoveStateIndex(ctx context.Context, st game.State, id int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state[st], id)
	return nil
}

// GamesInState lists the state set, ordered by id.
func (s *Store) GamesInState(ctx context.Context, st game.State) ([]int32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return listSet(s.state[st]), nil
}

// AddPubstateIndex adds the game to a public state set.
func (s *Store) AddPubstateIndex(ctx context.Context, st game.State, id int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	addToSet(s.pubstate, st, id)
	return nil
}

// RemovePubstateIndex removes the game from a public state set.
func (s *Store) RemovePubstateIndex(ctx context.Context, st game.State, id int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pubstate[st], id)
	return nil
}

// PublicGamesInState lists the public state set, ordered by id.
func (s *Store) PublicGamesInState(ctx context.Context, st game.State) ([]int32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return listSet(s.pubstate[st]), nil
}

// AddOwnerIndex adds the game to an owner's set.
func (s *Store) AddOwnerIndex(ctx context.Context, owner string, id int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.owners[owner]
	if set == nil {
		set = make(map[int32]struct{})
		s.owners[owner] = set
	}
	set[id] = struct{}{}
	return nil
}

// RemoveOwnerIndex removes the game from an owner's set.
func (s *Store) RemoveOwnerIndex(ctx context.Context, owner string, id int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners[owner], id)
	return nil
}

// GamesOwnedBy lists an owner's set, ordered by id.
func (s *Store) GamesOwnedBy(ctx context.Context, owner string) ([]int32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return listSet(s.owners[owner]), nil
}

// Slot returns one slot record with its player list.
func (s *Store) Slot(ctx context.Context, gameID, slot int32) (storage.SlotRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SlotRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.slots[slotKey{gameID, slot}]
	if !ok {
		return storage.SlotRecord{}, storage.ErrNotFound
	}
	out := *rec
	out.Players = append([]string(nil), rec.Players...)
	return out, nil
}

// Slots returns all slot records of a game in slot order.
func (s *Store) Slots(ctx context.Context, gameID int32) ([]storage.SlotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[gameID]; !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]storage.SlotRecord, 0, game.NumSlots)
	for slot := int32(1); slot <= game.NumSlots; slot++ {
		rec, ok := s.slots[slotKey{gameID, slot}]
		if !ok {
			continue
		}
		cp := *rec
		cp.Players = append([]string(nil), rec.Players...)
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) mutateSlot(ctx context.Context, gameID, slot int32, fn func(*storage.SlotRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.slots[slotKey{gameID, slot}]
	if !ok {
		return storage.ErrNotFound
	}
	return fn(rec)
}

// SetSlotInGame updates the in-game flag.
func (s *Store) SetSlotInGame(ctx context.Context, gameID, slot int32, inGame bool) error {
	return s.mutateSlot(ctx, gameID, slot, func(rec *storage.SlotRecord) error {
		rec.InGame = inGame
		return nil
	})
}

// SetTurnStatus updates the turn status.
func (s *Store) SetTurnStatus(ctx context.Context, gameID, slot int32, ts game.TurnStatus) error {
	return s.mutateSlot(ctx, gameID, slot, func(rec *storage.SlotRecord) error {
		rec.Turn = ts
		return nil
	})
}

// SetSlotRank updates the slot rank.
func (s *Store) SetSlotRank(ctx context.Context, gameID, slot, rank int32) error {
	return s.mutateSlot(ctx, gameID, slot, func(rec *storage.SlotRecord) error {
		rec.Rank = rank
		return nil
	})
}

// PushSlotPlayer appends a player to the slot's ordered list.
func (s *Store) PushSlotPlayer(ctx context.Context, gameID, slot int32, userID string) error {
	return s.mutateSlot(ctx, gameID, slot, func(rec *storage.SlotRecord) error {
		rec.Players = append(rec.Players, userID)
		return nil
	})
}

// PopSlotPlayer removes and returns the last player of the slot's list.
func (s *Store) PopSlotPlayer(ctx context.Context, gameID, slot int32) (string, error) {
	var popped string
	err := s.mutateSlot(ctx, gameID, slot, func(rec *storage.SlotRecord) error {
		if len(rec.Players) == 0 {
			return storage.ErrNotFound
		}
		popped = rec.Players[len(rec.Players)-1]
		rec.Players = rec.Players[:len(rec.Players)-1]
		return nil
	})
	return popped, err
}

// SetTurnRecord stores or replaces the result data of one turn.
func (s *Store) SetTurnRecord(ctx context.Context, rec storage.TurnRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Scores = append([]byte(nil), rec.Scores...)
	s.turns[turnKey{rec.GameID, rec.Turn}] = rec
	return nil
}

// TurnRecord returns the result data of one turn.
func (s *Store) TurnRecord(ctx context.Context, gameID, turn int32) (storage.TurnRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TurnRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.turns[turnKey{gameID, turn}]
	if !ok {
		return storage.TurnRecord{}, storage.ErrNotFound
	}
	rec.Scores = append([]byte(nil), rec.Scores...)
	return rec, nil
}

// IncrUserGameRef atomically increments the user-side slot reference count.
func (s *Store) IncrUserGameRef(ctx context.Context, userID string, gameID int32) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := refKey{gameID, userID}
	s.userRefs[key]++
	return s.userRefs[key], nil
}

// DecrUserGameRef atomically decrements the user-side slot reference count.
func (s *Store) DecrUserGameRef(ctx context.Context, userID string, gameID int32) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := refKey{gameID, userID}
	s.userRefs[key]--
	return s.userRefs[key], nil
}

// IncrGameUserRef atomically increments the game-side slot reference count.
func (s *Store) IncrGameUserRef(ctx context.Context, gameID int32, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := refKey{gameID, userID}
	s.gameRefs[key]++
	return s.gameRefs[key], nil
}

// DecrGameUserRef atomically decrements the game-side slot reference count.
func (s *Store) DecrGameUserRef(ctx context.Context, gameID int32, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := refKey{gameID, userID}
	s.gameRefs[key]--
	return s.gameRefs[key], nil
}

// Setting returns the value for key, or "" when unset.
func (s *Store) Setting(ctx context.Context, gameID int32, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[gameID][key], nil
}

// SetSetting stores one settings pair.
func (s *Store) SetSetting(ctx context.Context, gameID int32, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.settings[gameID]
	if m == nil {
		m = make(map[string]string)
		s.settings[gameID] = m
	}
	m[key] = value
	return nil
}

// AppendGameHistory appends one entry to a game's history log.
func (s *Store) AppendGameHistory(ctx context.Context, gameID int32, entry string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[gameID] = append(s.history[gameID], entry)
	return nil
}

// AppendGlobalHistory appends one entry to the global history log.
func (s *Store) AppendGlobalHistory(ctx context.Context, entry string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = append(s.global, entry)
	return nil
}

// GameHistory returns a game's history log, oldest first.
func (s *Store) GameHistory(ctx context.Context, gameID int32) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history[gameID]...), nil
}

// GlobalHistory returns the global history log, oldest first.
func (s *Store) GlobalHistory(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.global...), nil
}

// Schedules returns a game's ordered schedule list.
func (s *Store) Schedules(ctx context.Context, gameID int32) ([]schedule.Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schedule.Schedule(nil), s.schedules[gameID]...), nil
}

// ReplaceSchedules replaces a game's ordered schedule list.
func (s *Store) ReplaceSchedules(ctx context.Context, gameID int32, schedules []schedule.Schedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[gameID] = append([]schedule.Schedule(nil), schedules...)
	return nil
}

// MarkUserActive records the latest activity time for a user.
func (s *Store) MarkUserActive(ctx context.Context, userID string, t schedule.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[userID] = t
	return nil
}

// UserActiveAt returns the latest recorded activity time, 0 if none.
func (s *Store) UserActiveAt(ctx context.Context, userID string) (schedule.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[userID], nil
}
