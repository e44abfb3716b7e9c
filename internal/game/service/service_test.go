package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/turnbase/hostd/internal/game"
	apperrors "github.com/turnbase/hostd/internal/platform/errors"
	"github.com/turnbase/hostd/internal/storage"
	"github.com/turnbase/hostd/internal/storage/memory"
)

type talkRecorder struct {
	starts      []int32
	ends        []int32
	nameChanges []string
	typeChanges []game.Type
	fail        bool
}

func (t *talkRecorder) HandleGameStart(_ context.Context, gameID int32, _ game.Type) error {
	t.starts = append(t.starts, gameID)
	if t.fail {
		return fmt.Errorf("talk unavailable")
	}
	return nil
}

func (t *talkRecorder) HandleGameEnd(_ context.Context, gameID int32, _ game.Type) error {
	t.ends = append(t.ends, gameID)
	return nil
}

func (t *talkRecorder) HandleGameNameChange(_ context.Context, _ int32, name string) error {
	t.nameChanges = append(t.nameChanges, name)
	return nil
}

func (t *talkRecorder) HandleGameTypeChange(_ context.Context, _ int32, _ game.State, ty game.Type) error {
	t.typeChanges = append(t.typeChanges, ty)
	return nil
}

type cronRecorder struct {
	changed []int32
}

func (c *cronRecorder) HandleGameChange(gameID int32) {
	c.changed = append(c.changed, gameID)
}

type installRecorder struct {
	installs   []string
	uninstalls []string
	fail       bool
}

func (i *installRecorder) InstallPlayerFiles(_ context.Context, _ int32, userID string) error {
	i.installs = append(i.installs, userID)
	if i.fail {
		return fmt.Errorf("filer unavailable")
	}
	return nil
}

func (i *installRecorder) UninstallPlayerFiles(_ context.Context, _ int32, userID string) error {
	i.uninstalls = append(i.uninstalls, userID)
	return nil
}

func (i *installRecorder) DistributeTurn(_ context.Context, _, _ int32, _ string, _ []byte) error {
	return nil
}

func fixedClock() time.Time {
	return time.Date(2003, 2, 1, 12, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]Option{
		WithClock(fixedClock),
		WithLogger(log.New(io.Discard, "", 0)),
	}, opts...)
	return New(store, opts...), store
}

func createRunningGame(t *testing.T, svc *Service, store *memory.Store, ty game.Type) int32 {
	t.Helper()
	ctx := context.Background()
	id, err := svc.CreateGame(ctx, "Test Game", "hostmaster", "games/0001", ty)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if err := svc.SetState(ctx, id, game.StateJoining); err != nil {
		t.Fatalf("SetState joining: %v", err)
	}
	if err := svc.SetState(ctx, id, game.StateRunning); err != nil {
		t.Fatalf("SetState running: %v", err)
	}
	return id
}

func TestCreateGameIndexes(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id, err := svc.CreateGame(ctx, "Pleiades", "alice", "games/0001", game.TypePublic)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	if ids, _ := store.GamesInState(ctx, game.StatePreparing); len(ids) != 1 || ids[0] != id {
		t.Fatalf("state index = %v", ids)
	}
	if ids, _ := store.PublicGamesInState(ctx, game.StatePreparing); len(ids) != 1 {
		t.Fatalf("pubstate index = %v", ids)
	}
	if ids, _ := store.GamesOwnedBy(ctx, "alice"); len(ids) != 1 {
		t.Fatalf("owner index = %v", ids)
	}
}

func TestCreateGameRejectsEmptyName(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.CreateGame(context.Background(), "", "alice", "d", game.TypePrivate); !apperrors.HasCode(err, apperrors.CodeGameNameEmpty) {
		t.Fatalf("err = %v, want GAME_NAME_EMPTY", err)
	}
}

func TestSetStateMovesIndices(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id, _ := svc.CreateGame(ctx, "G", "alice", "d", game.TypePublic)
	if err := svc.SetState(ctx, id, game.StateJoining); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	if ids, _ := store.GamesInState(ctx, game.StatePreparing); len(ids) != 0 {
		t.Fatalf("old state index = %v", ids)
	}
	if ids, _ := store.GamesInState(ctx, game.StateJoining); len(ids) != 1 {
		t.Fatalf("new state index = %v", ids)
	}
	if ids, _ := store.PublicGamesInState(ctx, game.StateJoining); len(ids) != 1 {
		t.Fatalf("new pubstate index = %v", ids)
	}
}

func TestSetStateIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id, _ := svc.CreateGame(ctx, "G", "alice", "d", game.TypePublic)
	if err := svc.SetState(ctx, id, game.StateJoining); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := svc.SetState(ctx, id, game.StateJoining); err != nil {
		t.Fatalf("second SetState: %v", err)
	}

	history, _ := store.GameHistory(ctx, id)
	if len(history) != 1 {
		t.Fatalf("history = %v, want one entry", history)
	}
}

func TestSetStateNotifiesTalkListener(t *testing.T) {
	talk := &talkRecorder{}
	svc, _ := newTestService(t, WithTalkListener(talk))
	ctx := context.Background()

	id, _ := svc.CreateGame(ctx, "G", "alice", "d", game.TypePrivate)
	svc.SetState(ctx, id, game.StateJoining)
	svc.SetState(ctx, id, game.StateRunning)
	svc.SetState(ctx, id, game.StateFinished)

	if len(talk.starts) != 2 {
		t.Fatalf("starts = %v, want joining and running", talk.starts)
	}
	if len(talk.ends) != 1 {
		t.Fatalf("ends = %v", talk.ends)
	}
}

func TestSetStateTalkFailureIsNonFatal(t *testing.T) {
	talk := &talkRecorder{fail: true}
	svc, _ := newTestService(t, WithTalkListener(talk))
	ctx := context.Background()

	id, _ := svc.CreateGame(ctx, "G", "alice", "d", game.TypePrivate)
	if err := svc.SetState(ctx, id, game.StateJoining); err != nil {
		t.Fatalf("talk failure must not propagate: %v", err)
	}
}

func TestFinishedRecordsUniqueVictor(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := createRunningGame(t, svc, store, game.TypePrivate)

	store.PushSlotPlayer(ctx, id, 3, "alice")
	store.SetSlotRank(ctx, id, 3, 1)
	store.PushSlotPlayer(ctx, id, 5, "bob")
	store.SetSlotRank(ctx, id, 5, 2)

	if err := svc.SetState(ctx, id, game.StateFinished); err != nil {
		t.Fatalf("SetState finished: %v", err)
	}

	history, _ := store.GameHistory(ctx, id)
	last := history[len(history)-1]
	if !strings.HasSuffix(last, fmt.Sprintf(":game-state:%d:finished:alice", id)) {
		t.Fatalf("history entry %q should name the game and end with the victor", last)
	}
}

func TestFinishedTieRecordsNoVictor(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := createRunningGame(t, svc, store, game.TypePrivate)

	store.PushSlotPlayer(ctx, id, 3, "alice")
	store.SetSlotRank(ctx, id, 3, 1)
	store.PushSlotPlayer(ctx, id, 5, "alice")
	store.SetSlotRank(ctx, id, 5, 1)

	if err := svc.SetState(ctx, id, game.StateFinished); err != nil {
		t.Fatalf("SetState finished: %v", err)
	}

	history, _ := store.GameHistory(ctx, id)
	last := history[len(history)-1]
	if strings.HasSuffix(last, ":alice") {
		t.Fatalf("tied ranks must not attribute a victor: %q", last)
	}
}

func TestPublicTransitionsReachGlobalHistory(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id, _ := svc.CreateGame(ctx, "G", "alice", "d", game.TypePublic)
	svc.SetState(ctx, id, game.StateJoining)
	svc.SetState(ctx, id, game.StateRunning)
	svc.SetState(ctx, id, game.StateDeleted)

	global, _ := store.GlobalHistory(ctx)
	if len(global) != 2 {
		t.Fatalf("global history = %v, want joining and running only", global)
	}

	priv, _ := svc.CreateGame(ctx, "P", "alice", "d", game.TypePrivate)
	svc.SetState(ctx, priv, game.StateJoining)
	global, _ = store.GlobalHistory(ctx)
	if len(global) != 2 {
		t.Fatalf("private transitions must not reach global history: %v", global)
	}
}

func TestGlobalHistoryAttributesGames(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	first, _ := svc.CreateGame(ctx, "First", "alice", "d", game.TypePublic)
	second, _ := svc.CreateGame(ctx, "Second", "alice", "d", game.TypePublic)
	if err := svc.SetState(ctx, first, game.StateRunning); err != nil {
		t.Fatalf("SetState first: %v", err)
	}
	if err := svc.SetState(ctx, second, game.StateRunning); err != nil {
		t.Fatalf("SetState second: %v", err)
	}

	global, _ := store.GlobalHistory(ctx)
	if len(global) != 2 {
		t.Fatalf("global history = %v", global)
	}
	if global[0] == global[1] {
		t.Fatalf("entries for different games must differ: %q", global[0])
	}
	for i, id := range []int32{first, second} {
		if !strings.Contains(global[i], fmt.Sprintf(":game-state:%d:", id)) {
			t.Fatalf("entry %q does not name game %d", global[i], id)
		}
	}
}

func TestRunningCopyMarksPendingAndPingsCron(t *testing.T) {
	cron := &cronRecorder{}
	svc, store := newTestService(t, WithCron(cron))
	ctx := context.Background()

	id, err := store.CreateGame(ctx, storage.GameRecord{Name: "Copy", State: game.StatePreparing, CopyOf: 7})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	store.AddStateIndex(ctx, game.StatePreparing, id)

	if err := svc.SetState(ctx, id, game.StateRunning); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	rec, _ := store.Game(ctx, id)
	if !rec.CopyPending {
		t.Fatal("copy should be marked pending")
	}
	if len(cron.changed) != 1 || cron.changed[0] != id {
		t.Fatalf("cron signals = %v", cron.changed)
	}
}

func TestSetTypeFixesPubstateIndex(t *testing.T) {
	talk := &talkRecorder{}
	svc, store := newTestService(t, WithTalkListener(talk))
	ctx := context.Background()

	id, _ := svc.CreateGame(ctx, "G", "alice", "d", game.TypePublic)
	if err := svc.SetType(ctx, id, game.TypePrivate); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	if ids, _ := store.PublicGamesInState(ctx, game.StatePreparing); len(ids) != 0 {
		t.Fatalf("pubstate index = %v", ids)
	}

	if err := svc.SetType(ctx, id, game.TypePublic); err != nil {
		t.Fatalf("SetType back: %v", err)
	}
	if ids, _ := store.PublicGamesInState(ctx, game.StatePreparing); len(ids) != 1 {
		t.Fatalf("pubstate index = %v", ids)
	}
	if len(talk.typeChanges) != 2 {
		t.Fatalf("type-change notifications = %v", talk.typeChanges)
	}
}

func TestSetOwnerMovesOwnerIndex(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id, _ := svc.CreateGame(ctx, "G", "alice", "d", game.TypePrivate)
	if err := svc.SetOwner(ctx, id, "bob"); err != nil {
		t.Fatalf("SetOwner: %v", err)
	}

	if ids, _ := store.GamesOwnedBy(ctx, "alice"); len(ids) != 0 {
		t.Fatalf("alice still owns %v", ids)
	}
	if ids, _ := store.GamesOwnedBy(ctx, "bob"); len(ids) != 1 {
		t.Fatalf("bob owns %v", ids)
	}
}

func TestSetNameNotifies(t *testing.T) {
	talk := &talkRecorder{}
	svc, store := newTestService(t, WithTalkListener(talk))
	ctx := context.Background()

	id, _ := svc.CreateGame(ctx, "Old", "alice", "d", game.TypePrivate)
	if err := svc.SetName(ctx, id, "New"); err != nil {
		t.Fatalf("SetName: %v", err)
	}
	rec, _ := store.Game(ctx, id)
	if rec.Name != "New" {
		t.Fatalf("name = %q", rec.Name)
	}
	if len(talk.nameChanges) != 1 || talk.nameChanges[0] != "New" {
		t.Fatalf("name notifications = %v", talk.nameChanges)
	}

	if err := svc.SetName(ctx, id, ""); !apperrors.HasCode(err, apperrors.CodeGameNameEmpty) {
		t.Fatalf("err = %v, want GAME_NAME_EMPTY", err)
	}
}

func TestPushPlayerSlotGrantsOnFirstReference(t *testing.T) {
	installer := &installRecorder{}
	svc, store := newTestService(t, WithInstaller(installer))
	ctx := context.Background()
	id := createRunningGame(t, svc, store, game.TypePrivate)

	if err := svc.PushPlayerSlot(ctx, id, 3, "alice"); err != nil {
		t.Fatalf("PushPlayerSlot: %v", err)
	}
	if err := svc.PushPlayerSlot(ctx, id, 5, "alice"); err != nil {
		t.Fatalf("second PushPlayerSlot: %v", err)
	}

	if len(installer.installs) != 1 {
		t.Fatalf("installs = %v, want one grant", installer.installs)
	}
}

func TestPopPlayerSlotRevokesOnLastReference(t *testing.T) {
	installer := &installRecorder{}
	svc, store := newTestService(t, WithInstaller(installer))
	ctx := context.Background()
	id := createRunningGame(t, svc, store, game.TypePrivate)

	svc.PushPlayerSlot(ctx, id, 3, "alice")
	svc.PushPlayerSlot(ctx, id, 5, "alice")

	if user, err := svc.PopPlayerSlot(ctx, id, 5); err != nil || user != "alice" {
		t.Fatalf("PopPlayerSlot = %q, %v", user, err)
	}
	if len(installer.uninstalls) != 0 {
		t.Fatalf("revoked too early: %v", installer.uninstalls)
	}

	if _, err := svc.PopPlayerSlot(ctx, id, 3); err != nil {
		t.Fatalf("PopPlayerSlot: %v", err)
	}
	if len(installer.uninstalls) != 1 {
		t.Fatalf("uninstalls = %v, want one revoke", installer.uninstalls)
	}
}

func TestPushPlayerSlotInstallerFailureIsNonFatal(t *testing.T) {
	installer := &installRecorder{fail: true}
	svc, store := newTestService(t, WithInstaller(installer))
	ctx := context.Background()
	id := createRunningGame(t, svc, store, game.TypePrivate)

	if err := svc.PushPlayerSlot(ctx, id, 3, "alice"); err != nil {
		t.Fatalf("installer failure must not roll back the push: %v", err)
	}
	slot, _ := store.Slot(ctx, id, 3)
	if len(slot.Players) != 1 {
		t.Fatalf("players = %v", slot.Players)
	}
}

func TestTurnResultRoundTrip(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := createRunningGame(t, svc, store, game.TypePrivate)

	if err := svc.SetTurnResult(ctx, id, 5, []byte{10, 20}, "meteor strike"); err != nil {
		t.Fatalf("SetTurnResult: %v", err)
	}

	rec, err := svc.TurnResult(ctx, id, 5)
	if err != nil {
		t.Fatalf("TurnResult: %v", err)
	}
	if rec.Info != "meteor strike" || len(rec.Scores) != 2 || rec.Scores[1] != 20 {
		t.Fatalf("record = %+v", rec)
	}

	if err := svc.SetTurnResult(ctx, id, 5, []byte{30}, "rehosted"); err != nil {
		t.Fatalf("SetTurnResult overwrite: %v", err)
	}
	if rec, _ := svc.TurnResult(ctx, id, 5); rec.Info != "rehosted" || len(rec.Scores) != 1 {
		t.Fatalf("record after rehost = %+v", rec)
	}

	if err := svc.SetTurnResult(ctx, id+99, 1, nil, ""); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("missing game err = %v", err)
	}
	if _, err := svc.TurnResult(ctx, id, 6); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("missing turn err = %v", err)
	}
}

func TestSlotValidation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := createRunningGame(t, svc, store, game.TypePrivate)

	if err := svc.PushPlayerSlot(ctx, id, 0, "alice"); !apperrors.HasCode(err, apperrors.CodeSlotOutOfRange) {
		t.Fatalf("slot 0: err = %v", err)
	}
	if err := svc.PushPlayerSlot(ctx, id, game.NumSlots+1, "alice"); !apperrors.HasCode(err, apperrors.CodeSlotOutOfRange) {
		t.Fatalf("slot 12: err = %v", err)
	}
	if err := svc.PushPlayerSlot(ctx, id, 3, ""); !apperrors.HasCode(err, apperrors.CodeUserRequired) {
		t.Fatalf("empty user: err = %v", err)
	}
	if _, err := svc.PopPlayerSlot(ctx, id, 3); !apperrors.HasCode(err, apperrors.CodeSlotEmpty) {
		t.Fatalf("empty slot: err = %v", err)
	}
}
