// Package hostturn implements the turn upload pipeline: it parses an
// uploaded turn file, resolves the target game and slot, validates the file
// with the external checker under a critical game lock, and applies the
// acceptance policy to the slot's turn status.
package hostturn

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/turnbase/hostd/internal/arbiter"
	"github.com/turnbase/hostd/internal/checkturn"
	"github.com/turnbase/hostd/internal/game"
	"github.com/turnbase/hostd/internal/game/service"
	"github.com/turnbase/hostd/internal/keystore"
	apperrors "github.com/turnbase/hostd/internal/platform/errors"
	"github.com/turnbase/hostd/internal/schedule"
	"github.com/turnbase/hostd/internal/storage"
	"github.com/turnbase/hostd/internal/turnfile"
)

const tracerName = "github.com/turnbase/hostd/internal/hostturn"

// Identity is the authenticated caller of a submission.
type Identity struct {
	UserID string
	Admin  bool
}

// FileBase exports game data for validation and persists accepted turns.
type FileBase interface {
	// ExportGame copies the game's current data files into dir.
	ExportGame(ctx context.Context, gameID int32, dir string) error
	// StoreTurn persists an accepted turn file to the slot's canonical
	// location.
	StoreTurn(ctx context.Context, gameID, slot int32, blob []byte) error
}

// UserDirectory resolves user profile data needed for admin mail lookups.
type UserDirectory interface {
	EmailOf(ctx context.Context, userID string) (string, error)
}

// SlotPruner removes the trailing player of a slot, adjusting reference
// counts and file permissions. Satisfied by the game service.
type SlotPruner interface {
	PopPlayerSlot(ctx context.Context, gameID, slot int32) (string, error)
}

// SubmitOptions carry the optional overrides of a submission.
type SubmitOptions struct {
	// Game overrides the timestamp-based game lookup when non-zero.
	Game int32
	// Slot overrides the slot number embedded in the turn file when
	// non-zero.
	Slot int32
	// Mail makes an admin submission act on behalf of the slot player with
	// this address.
	Mail string
}

// Result reports the outcome of an accepted or rejected-but-recorded
// submission.
type Result struct {
	GameID int32
	Slot   int32
	UserID string

	// Status is the slot's turn status after the submission; Previous is
	// the status it replaced (equal to Status when the verdict did not
	// overwrite).
	Status   game.TurnStatus
	Previous game.TurnStatus

	// Output is the validator's free-text report, verbatim.
	Output string

	// AllowTemp advises whether marking this turn temporary is meaningful
	// under the game's current schedule.
	AllowTemp bool
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the logger for best-effort failure reports.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithCron attaches the scheduler notification target.
func WithCron(c service.Cron) Option {
	return func(s *Service) { s.cron = c }
}

// WithInstaller attaches the file distribution collaborator.
func WithInstaller(i service.Installer) Option {
	return func(s *Service) { s.installer = i }
}

// WithKeystore attaches the registration-key cache.
func WithKeystore(k *keystore.Store) Option {
	return func(s *Service) { s.keys = k }
}

// WithUserDirectory attaches the profile lookup used for admin mail
// resolution.
func WithUserDirectory(u UserDirectory) Option {
	return func(s *Service) { s.users = u }
}

// WithScratchRoot sets the directory scratch exports are created under.
func WithScratchRoot(dir string) Option {
	return func(s *Service) { s.scratchRoot = dir }
}

// Service runs the turn submission pipeline.
type Service struct {
	store   storage.Store
	arbiter *arbiter.Arbiter
	parser  turnfile.Parser
	checker checkturn.Checker
	files   FileBase
	pruner  SlotPruner

	keys      *keystore.Store
	users     UserDirectory
	cron      service.Cron
	installer service.Installer

	scratchRoot string
	now         func() time.Time
	logger      *log.Logger
}

// New creates a submission service. Store, arbiter, parser, checker, file
// base, and pruner are required; the rest are optional collaborators.
func New(store storage.Store, arb *arbiter.Arbiter, parser turnfile.Parser, checker checkturn.Checker, files FileBase, pruner SlotPruner, opts ...Option) *Service {
	s := &Service{
		store:       store,
		arbiter:     arb,
		parser:      parser,
		checker:     checker,
		files:       files,
		pruner:      pruner,
		scratchRoot: os.TempDir(),
		now:         time.Now,
		logger:      log.Default(),
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

// Submit runs the full upload pipeline for one turn file blob. It blocks
// for the duration of the external validator; callers must not hold
// unrelated locks across it.
func (s *Service) Submit(ctx context.Context, actor Identity, blob []byte, opts SubmitOptions) (Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "hostturn.Submit")
	defer span.End()

	data, err := s.parser.Parse(blob)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeFormatError, "turn file does not parse", err)
	}

	slot := data.Slot
	if opts.Slot != 0 {
		slot = opts.Slot
	}
	if slot < 1 || slot > game.NumSlots {
		return Result{}, apperrors.New(apperrors.CodeSlotOutOfRange, "slot number out of range")
	}

	gameID := opts.Game
	if gameID == 0 {
		gameID, err = s.store.GameByTimestamp(ctx, data.Timestamp)
		if err != nil {
			if apperrors.HasCode(err, apperrors.CodeNotFound) {
				return Result{}, apperrors.New(apperrors.CodeNotFound, "no game matches the turn file timestamp")
			}
			return Result{}, apperrors.Wrap(apperrors.CodeInternal, "resolve game by timestamp", err)
		}
	}
	span.SetAttributes(attribute.Int("game.id", int(gameID)), attribute.Int("game.slot", int(slot)))

	guard := s.arbiter.Acquire(gameID, arbiter.Critical)
	defer guard.Release()

	rec, err := s.store.Game(ctx, gameID)
	if err != nil {
		return Result{}, err
	}
	slotRec, err := s.store.Slot(ctx, gameID, slot)
	if err != nil {
		return Result{}, err
	}

	userID, err := s.resolveActor(ctx, actor, opts.Mail, slotRec)
	if err != nil {
		return Result{}, err
	}

	if rec.State != game.StateRunning {
		return Result{}, apperrors.New(apperrors.CodeWrongGameState, "game is not running")
	}

	if userID != "" && !data.Key.IsZero() && s.keys != nil {
		if err := s.keys.AddKey(ctx, userID, data.Key, schedule.FromGoTime(s.now()), gameID); err != nil {
			return Result{}, apperrors.Wrap(apperrors.CodeInternal, "record registration key", err)
		}
	}

	verdict, err := s.validate(ctx, gameID, slot, blob)
	if err != nil {
		return Result{}, err
	}
	color, ok := verdict.Color()
	if !ok {
		return Result{}, apperrors.WithMetadata(
			apperrors.CodeInternal, "validator returned an unknown exit code",
			map[string]string{"exit_code": fmt.Sprint(verdict.ExitCode)},
		)
	}

	result := Result{
		GameID:   gameID,
		Slot:     slot,
		UserID:   userID,
		Previous: slotRec.Turn,
		Status:   slotRec.Turn,
		Output:   verdict.Output,
	}

	if game.Overwrites(color, slotRec.Turn.Color) {
		result.Status = game.TurnStatus{Color: color}
		if err := s.store.SetTurnStatus(ctx, gameID, slot, result.Status); err != nil {
			return Result{}, apperrors.Wrap(apperrors.CodeInternal, "persist turn status", err)
		}
	}

	if color.Accepted() {
		if err := s.acceptTurn(ctx, actor, userID, gameID, slot, blob); err != nil {
			return Result{}, err
		}
		result.AllowTemp, err = s.allowTemp(ctx, gameID)
		if err != nil {
			return Result{}, err
		}
	}

	if userID != "" && rec.Type != game.TypeTest {
		if err := s.store.MarkUserActive(ctx, userID, schedule.FromGoTime(s.now())); err != nil {
			return Result{}, apperrors.Wrap(apperrors.CodeInternal, "mark user active", err)
		}
	}

	return result, nil
}

// resolveActor determines which user the submission acts for and checks the
// slot permission. An admin with a mail hint acts as the slot player whose
// address matches, case-insensitively; an admin without a hint acts as
// themselves and bypasses the membership check.
func (s *Service) resolveActor(ctx context.Context, actor Identity, mail string, slotRec storage.SlotRecord) (string, error) {
	if actor.Admin && mail != "" {
		if s.users == nil {
			return "", apperrors.New(apperrors.CodeMailMismatch, "no user directory to resolve mail against")
		}
		for _, player := range slotRec.Players {
			addr, err := s.users.EmailOf(ctx, player)
			if err != nil {
				return "", apperrors.Wrap(apperrors.CodeInternal, "resolve player mail", err)
			}
			if addr != "" && strings.EqualFold(addr, mail) {
				return player, nil
			}
		}
		return "", apperrors.New(apperrors.CodeMailMismatch, "mail address matches no player of the slot")
	}

	if actor.Admin {
		return actor.UserID, nil
	}

	if actor.UserID == "" {
		return "", apperrors.New(apperrors.CodeUserRequired, "a user identity is required")
	}
	for _, player := range slotRec.Players {
		if player == actor.UserID {
			return actor.UserID, nil
		}
	}
	return "", apperrors.New(apperrors.CodePermissionDenied, "caller is not a player of the slot")
}

// validate exports the game into a scratch directory, adds the uploaded
// blob, and runs the external checker against it.
func (s *Service) validate(ctx context.Context, gameID, slot int32, blob []byte) (checkturn.Result, error) {
	dir := filepath.Join(s.scratchRoot, "checkturn-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return checkturn.Result{}, apperrors.Wrap(apperrors.CodeInternal, "create scratch directory", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logf("game %d: remove scratch dir %s: %v", gameID, dir, err)
		}
	}()

	if err := s.files.ExportGame(ctx, gameID, dir); err != nil {
		return checkturn.Result{}, apperrors.Wrap(apperrors.CodeInternal, "export game files", err)
	}
	name := filepath.Join(dir, fmt.Sprintf("player%d.trn", slot))
	if err := os.WriteFile(name, blob, 0o600); err != nil {
		return checkturn.Result{}, apperrors.Wrap(apperrors.CodeInternal, "write turn file", err)
	}

	verdict, err := s.checker.Check(ctx, dir, slot)
	if err != nil {
		return checkturn.Result{}, apperrors.Wrap(apperrors.CodeInternal, "run turn validator", err)
	}
	return verdict, nil
}

// acceptTurn applies the side effects of an accepted submission: persist
// the file, refresh the submission timestamp, prune substitutes behind a
// self-submitting player, and fan the file out to every player of the slot.
func (s *Service) acceptTurn(ctx context.Context, actor Identity, userID string, gameID, slot int32, blob []byte) error {
	if err := s.files.StoreTurn(ctx, gameID, slot, blob); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "store accepted turn", err)
	}
	if err := s.store.SetLastTurnSubmitted(ctx, gameID, schedule.FromGoTime(s.now())); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "stamp turn submission", err)
	}
	if s.cron != nil {
		s.cron.HandleGameChange(gameID)
	}

	if !actor.Admin && userID != "" {
		if err := s.pruneSubstitutes(ctx, gameID, slot, userID); err != nil {
			return err
		}
	}

	if s.installer != nil {
		slotRec, err := s.store.Slot(ctx, gameID, slot)
		if err != nil {
			return err
		}
		for _, player := range slotRec.Players {
			if err := s.installer.DistributeTurn(ctx, gameID, slot, player, blob); err != nil {
				s.logf("game %d: distribute turn to %s failed: %v", gameID, player, err)
			}
		}
	}
	return nil
}

// pruneSubstitutes drops the players listed after userID in the slot. A
// player who submits for themselves no longer needs stand-ins.
func (s *Service) pruneSubstitutes(ctx context.Context, gameID, slot int32, userID string) error {
	slotRec, err := s.store.Slot(ctx, gameID, slot)
	if err != nil {
		return err
	}
	keep := -1
	for i, player := range slotRec.Players {
		if player == userID {
			keep = i
			break
		}
	}
	if keep < 0 {
		return nil
	}
	for i := len(slotRec.Players) - 1; i > keep; i-- {
		if _, err := s.pruner.PopPlayerSlot(ctx, gameID, slot); err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "prune substitute", err)
		}
	}
	return nil
}

// allowTemp reports whether the game's current schedule leaves a real
// window to replace a temporary turn before the next host run.
func (s *Service) allowTemp(ctx context.Context, gameID int32) (bool, error) {
	schedules, err := s.store.Schedules(ctx, gameID)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeInternal, "load schedules", err)
	}
	if len(schedules) == 0 {
		return false, nil
	}
	return schedules[0].AllowsTemporaryTurns(), nil
}

// SetTemporary toggles the temporary flag of an accepted turn. Clearing the
// flag also refreshes the submission timestamp so the scheduler does not
// immediately host on the strength of the un-marked turn.
func (s *Service) SetTemporary(ctx context.Context, actor Identity, gameID, slot int32, flag bool) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "hostturn.SetTemporary")
	defer span.End()
	span.SetAttributes(attribute.Int("game.id", int(gameID)), attribute.Int("game.slot", int(slot)))

	if slot < 1 || slot > game.NumSlots {
		return apperrors.New(apperrors.CodeSlotOutOfRange, "slot number out of range")
	}

	guard := s.arbiter.Acquire(gameID, arbiter.Critical)
	defer guard.Release()

	if _, err := s.store.Game(ctx, gameID); err != nil {
		return err
	}
	slotRec, err := s.store.Slot(ctx, gameID, slot)
	if err != nil {
		return err
	}

	if !actor.Admin {
		member := false
		for _, player := range slotRec.Players {
			if player == actor.UserID && actor.UserID != "" {
				member = true
				break
			}
		}
		if !member {
			return apperrors.New(apperrors.CodePermissionDenied, "caller is not a player of the slot")
		}
	}

	if !slotRec.Turn.Color.Accepted() {
		return apperrors.New(apperrors.CodeWrongTurnState, "only an accepted turn can be marked temporary")
	}

	if slotRec.Turn.Temporary == flag {
		return nil
	}
	if err := s.store.SetTurnStatus(ctx, gameID, slot, game.TurnStatus{Color: slotRec.Turn.Color, Temporary: flag}); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "persist turn status", err)
	}
	if !flag {
		if err := s.store.SetLastTurnSubmitted(ctx, gameID, schedule.FromGoTime(s.now())); err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "stamp turn submission", err)
		}
	}
	if s.cron != nil {
		s.cron.HandleGameChange(gameID)
	}
	return nil
}
