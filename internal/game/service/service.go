// Package service applies lifecycle and membership mutations to hosted
// games, keeping the secondary indices, history logs, and external
// collaborators in step with every change.
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/turnbase/hostd/internal/game"
	apperrors "github.com/turnbase/hostd/internal/platform/errors"
	"github.com/turnbase/hostd/internal/schedule"
	"github.com/turnbase/hostd/internal/storage"
)

// TalkListener receives lifecycle notifications for forum and chat
// integration. Calls are synchronous and best-effort; failures are logged
// and never propagated.
type TalkListener interface {
	HandleGameStart(ctx context.Context, gameID int32, ty game.Type) error
	HandleGameEnd(ctx context.Context, gameID int32, ty game.Type) error
	HandleGameNameChange(ctx context.Context, gameID int32, name string) error
	HandleGameTypeChange(ctx context.Context, gameID int32, st game.State, ty game.Type) error
}

// Cron receives a "game changed" signal whenever a mutation may affect when
// the next host run should fire.
type Cron interface {
	HandleGameChange(gameID int32)
}

// Installer grants and revokes player access to game files. Failures are
// logged and never roll back the slot mutation that triggered them.
type Installer interface {
	InstallPlayerFiles(ctx context.Context, gameID int32, userID string) error
	UninstallPlayerFiles(ctx context.Context, gameID int32, userID string) error
	// DistributeTurn copies an accepted turn file to one player of a slot.
	DistributeTurn(ctx context.Context, gameID, slot int32, userID string, blob []byte) error
}

// Option configures a Service.
type Option func(*Service)

// WithTalkListener attaches the forum/chat notification target.
func WithTalkListener(l TalkListener) Option {
	return func(s *Service) { s.talk = l }
}

// WithCron attaches the scheduler notification target.
func WithCron(c Cron) Option {
	return func(s *Service) { s.cron = c }
}

// WithInstaller attaches the file installation collaborator.
func WithInstaller(i Installer) Option {
	return func(s *Service) { s.installer = i }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the logger for best-effort failure reports.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service mutates hosted games against a shared store.
type Service struct {
	store     storage.Store
	talk      TalkListener
	cron      Cron
	installer Installer
	now       func() time.Time
	logger    *log.Logger
}

// New creates a game service on top of the given store.
func New(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Service) hostTime() schedule.Time {
	return schedule.FromGoTime(s.now())
}

func (s *Service) notifyCron(gameID int32) {
	if s.cron != nil {
		s.cron.HandleGameChange(gameID)
	}
}

// CreateGame creates a game in the Preparing state and registers it in the
// secondary indices.
func (s *Service) CreateGame(ctx context.Context, name, owner, directory string, ty game.Type) (int32, error) {
	if name == "" {
		return 0, apperrors.New(apperrors.CodeGameNameEmpty, "game name must not be empty")
	}

	id, err := s.store.CreateGame(ctx, storage.GameRecord{
		Name:      name,
		Owner:     owner,
		Directory: directory,
		State:     game.StatePreparing,
		Type:      ty,
		Turn:      0,
	})
	if err != nil {
		return 0, fmt.Errorf("create game: %w", err)
	}

	if err := s.store.AddStateIndex(ctx, game.StatePreparing, id); err != nil {
		return 0, fmt.Errorf("index game state: %w", err)
	}
	if ty.Public() {
		if err := s.store.AddPubstateIndex(ctx, game.StatePreparing, id); err != nil {
			return 0, fmt.Errorf("index game pubstate: %w", err)
		}
	}
	if owner != "" {
		if err := s.store.AddOwnerIndex(ctx, owner, id); err != nil {
			return 0, fmt.Errorf("index game owner: %w", err)
		}
	}
	return id, nil
}

// SetState transitions a game to a new lifecycle state. Unchanged states
// are a no-op. The transition is recorded in the game's history (and the
// global history for visible public transitions), the state and pubstate
// indices are moved, and the talk listener is notified.
func (s *Service) SetState(ctx context.Context, id int32, newState game.State) error {
	rec, err := s.store.Game(ctx, id)
	if err != nil {
		return err
	}
	if rec.State == newState {
		return nil
	}
	oldState := rec.State

	// Entries carry the game id so the shared global log stays attributable;
	// the state label follows for the per-game log.
	entry := fmt.Sprintf("%d:game-state:%d:%s", s.hostTime(), id, newState)
	if newState == game.StateFinished {
		victor, err := s.findVictor(ctx, id)
		if err != nil {
			return err
		}
		if victor != "" {
			entry += ":" + victor
		}
	}

	if err := s.store.SetGameState(ctx, id, newState); err != nil {
		return fmt.Errorf("set game state: %w", err)
	}
	if err := s.store.RemoveStateIndex(ctx, oldState, id); err != nil {
		return fmt.Errorf("move state index: %w", err)
	}
	if err := s.store.AddStateIndex(ctx, newState, id); err != nil {
		return fmt.Errorf("move state index: %w", err)
	}
	if rec.Type.Public() {
		if err := s.store.RemovePubstateIndex(ctx, oldState, id); err != nil {
			return fmt.Errorf("move pubstate index: %w", err)
		}
		if err := s.store.AddPubstateIndex(ctx, newState, id); err != nil {
			return fmt.Errorf("move pubstate index: %w", err)
		}
	}

	if err := s.store.AppendGameHistory(ctx, id, entry); err != nil {
		return fmt.Errorf("append game history: %w", err)
	}
	if rec.Type.Public() && newState != game.StatePreparing && newState != game.StateDeleted {
		if err := s.store.AppendGlobalHistory(ctx, entry); err != nil {
			return fmt.Errorf("append global history: %w", err)
		}
	}

	if newState == game.StateRunning && rec.CopyOf != 0 {
		if err := s.store.SetCopyPending(ctx, id, true); err != nil {
			return fmt.Errorf("mark copy pending: %w", err)
		}
		s.notifyCron(id)
	}

	if s.talk != nil {
		switch newState {
		case game.StateJoining, game.StateRunning:
			if err := s.talk.HandleGameStart(ctx, id, rec.Type); err != nil {
				s.logf("game %d: talk start notification failed: %v", id, err)
			}
		case game.StateFinished:
			if err := s.talk.HandleGameEnd(ctx, id, rec.Type); err != nil {
				s.logf("game %d: talk end notification failed: %v", id, err)
			}
		}
	}
	return nil
}

// findVictor returns the primary player of the unique rank-1 slot with a
// non-empty player list. Ties, including self-ties by the same user across
// slots, yield no victor.
func (s *Service) findVictor(ctx context.Context, id int32) (string, error) {
	slots, err := s.store.Slots(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load slots: %w", err)
	}
	var victor string
	var winners int
	for _, slot := range slots {
		if slot.Rank != 1 || len(slot.Players) == 0 {
			continue
		}
		winners++
		victor = slot.Players[0]
	}
	if winners != 1 {
		return "", nil
	}
	return victor, nil
}

// SetType changes a game's visibility type, fixing up the pubstate index
// when the publicness changes.
func (s *Service) SetType(ctx context.Context, id int32, newType game.Type) error {
	rec, err := s.store.Game(ctx, id)
	if err != nil {
		return err
	}
	if rec.Type == newType {
		return nil
	}

	if err := s.store.SetGameType(ctx, id, newType); err != nil {
		return fmt.Errorf("set game type: %w", err)
	}
	if rec.Type.Public() && !newType.Public() {
		if err := s.store.RemovePubstateIndex(ctx, rec.State, id); err != nil {
			return fmt.Errorf("remove pubstate index: %w", err)
		}
	}
	if !rec.Type.Public() && newType.Public() {
		if err := s.store.AddPubstateIndex(ctx, rec.State, id); err != nil {
			return fmt.Errorf("add pubstate index: %w", err)
		}
	}

	if s.talk != nil {
		if err := s.talk.HandleGameTypeChange(ctx, id, rec.State, newType); err != nil {
			s.logf("game %d: talk type-change notification failed: %v", id, err)
		}
	}
	return nil
}

// SetOwner transfers ownership, moving the game between the owner indices.
func (s *Service) SetOwner(ctx context.Context, id int32, newOwner string) error {
	rec, err := s.store.Game(ctx, id)
	if err != nil {
		return err
	}
	if rec.Owner == newOwner {
		return nil
	}

	if err := s.store.SetGameOwner(ctx, id, newOwner); err != nil {
		return fmt.Errorf("set game owner: %w", err)
	}
	if rec.Owner != "" {
		if err := s.store.RemoveOwnerIndex(ctx, rec.Owner, id); err != nil {
			return fmt.Errorf("remove owner index: %w", err)
		}
	}
	if newOwner != "" {
		if err := s.store.AddOwnerIndex(ctx, newOwner, id); err != nil {
			return fmt.Errorf("add owner index: %w", err)
		}
	}
	return nil
}

// SetName renames a game.
func (s *Service) SetName(ctx context.Context, id int32, name string) error {
	if name == "" {
		return apperrors.New(apperrors.CodeGameNameEmpty, "game name must not be empty")
	}
	rec, err := s.store.Game(ctx, id)
	if err != nil {
		return err
	}
	if rec.Name == name {
		return nil
	}

	if err := s.store.SetGameName(ctx, id, name); err != nil {
		return fmt.Errorf("set game name: %w", err)
	}
	if s.talk != nil {
		if err := s.talk.HandleGameNameChange(ctx, id, name); err != nil {
			s.logf("game %d: talk name-change notification failed: %v", id, err)
		}
	}
	return nil
}

func checkSlot(slot int32) error {
	if slot < 1 || slot > game.NumSlots {
		return apperrors.WithMetadata(
			apperrors.CodeSlotOutOfRange, "slot number out of range",
			map[string]string{"slot": fmt.Sprint(slot)},
		)
	}
	return nil
}

// PushPlayerSlot appends a player to a slot's ordered list. The first
// reference a user holds on a game grants file access via the installer;
// installer failures are logged, never propagated.
func (s *Service) PushPlayerSlot(ctx context.Context, gameID, slot int32, userID string) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	if userID == "" {
		return apperrors.New(apperrors.CodeUserRequired, "user id is required")
	}
	if _, err := s.store.Game(ctx, gameID); err != nil {
		return err
	}

	if err := s.store.PushSlotPlayer(ctx, gameID, slot, userID); err != nil {
		return fmt.Errorf("push slot player: %w", err)
	}

	refs, err := s.store.IncrUserGameRef(ctx, userID, gameID)
	if err != nil {
		return fmt.Errorf("count user refs: %w", err)
	}
	if _, err := s.store.IncrGameUserRef(ctx, gameID, userID); err != nil {
		return fmt.Errorf("count game refs: %w", err)
	}

	if refs == 1 && s.installer != nil {
		if err := s.installer.InstallPlayerFiles(ctx, gameID, userID); err != nil {
			s.logf("game %d: install files for %s failed: %v", gameID, userID, err)
		}
	}
	return nil
}

// PopPlayerSlot removes the last player of a slot's list and returns the
// removed user. Dropping a user's last reference on a game revokes file
// access; installer failures are logged, never propagated.
func (s *Service) PopPlayerSlot(ctx context.Context, gameID, slot int32) (string, error) {
	if err := checkSlot(slot); err != nil {
		return "", err
	}
	if _, err := s.store.Game(ctx, gameID); err != nil {
		return "", err
	}

	userID, err := s.store.PopSlotPlayer(ctx, gameID, slot)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return "", apperrors.New(apperrors.CodeSlotEmpty, "slot has no players")
		}
		return "", fmt.Errorf("pop slot player: %w", err)
	}

	refs, err := s.store.DecrUserGameRef(ctx, userID, gameID)
	if err != nil {
		return "", fmt.Errorf("count user refs: %w", err)
	}
	if _, err := s.store.DecrGameUserRef(ctx, gameID, userID); err != nil {
		return "", fmt.Errorf("count game refs: %w", err)
	}

	if refs == 0 && s.installer != nil {
		if err := s.installer.UninstallPlayerFiles(ctx, gameID, userID); err != nil {
			s.logf("game %d: uninstall files for %s failed: %v", gameID, userID, err)
		}
	}
	return userID, nil
}

// SetSlotInGame opens or closes a slot for play.
func (s *Service) SetSlotInGame(ctx context.Context, gameID, slot int32, inGame bool) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	if err := s.store.SetSlotInGame(ctx, gameID, slot, inGame); err != nil {
		return fmt.Errorf("set slot in-game: %w", err)
	}
	return nil
}

// SetTurnResult stores the result data of one hosted turn: the packed
// per-slot score arrays and free-form commentary. Rehosting a turn
// replaces the earlier record.
func (s *Service) SetTurnResult(ctx context.Context, gameID, turn int32, scores []byte, info string) error {
	if _, err := s.store.Game(ctx, gameID); err != nil {
		return err
	}
	rec := storage.TurnRecord{GameID: gameID, Turn: turn, Scores: scores, Info: info}
	if err := s.store.SetTurnRecord(ctx, rec); err != nil {
		return fmt.Errorf("set turn result: %w", err)
	}
	return nil
}

// TurnResult returns the stored result data of one hosted turn.
func (s *Service) TurnResult(ctx context.Context, gameID, turn int32) (storage.TurnRecord, error) {
	return s.store.TurnRecord(ctx, gameID, turn)
}
