// Package scheduler drives host runs. It polls the running games, decides
// from each game's schedule list when a run is due, and executes the run
// under a critical game lock. Turn submissions and other mutations nudge it
// through the Cron signal so early-host windows are noticed promptly.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/turnbase/hostd/internal/arbiter"
	"github.com/turnbase/hostd/internal/game"
	"github.com/turnbase/hostd/internal/schedule"
	"github.com/turnbase/hostd/internal/storage"
)

// settingsCopiedOnClone are the per-game settings a copy inherits from its
// source game the first time it enters Running.
var settingsCopiedOnClone = []string{
	game.SettingEndCondition,
	game.SettingEndTurn,
	game.SettingEndScore,
	game.SettingEndProbability,
	game.SettingReferee,
	game.SettingHostProgram,
	game.SettingMasterProgram,
	game.SettingShiplist,
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger overrides the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPollInterval overrides how often the running games are re-examined
// without an explicit change signal.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.poll = d }
}

// Scheduler owns the host-run loop.
type Scheduler struct {
	store   storage.Store
	arbiter *arbiter.Arbiter
	now     func() time.Time
	logger  *log.Logger
	poll    time.Duration

	changed chan int32
}

// New creates a scheduler over the given store and arbiter.
func New(store storage.Store, arb *arbiter.Arbiter, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   store,
		arbiter: arb,
		now:     time.Now,
		logger:  log.Default(),
		poll:    time.Minute,
		changed: make(chan int32, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// HandleGameChange signals that a game's hosting inputs changed. The signal
// never blocks; a full channel falls back to the next poll tick.
func (s *Scheduler) HandleGameChange(gameID int32) {
	select {
	case s.changed <- gameID:
	default:
	}
}

// Run executes the scheduling loop until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-s.changed:
			if err := s.CheckGame(ctx, id); err != nil {
				s.logf("game %d: schedule check failed: %v", id, err)
			}
		case <-ticker.C:
			if err := s.CheckAll(ctx); err != nil {
				s.logf("schedule sweep failed: %v", err)
			}
		}
	}
}

// CheckAll examines every running game once.
func (s *Scheduler) CheckAll(ctx context.Context) error {
	ids, err := s.store.GamesInState(ctx, game.StateRunning)
	if err != nil {
		return fmt.Errorf("list running games: %w", err)
	}
	for _, id := range ids {
		if err := s.CheckGame(ctx, id); err != nil {
			s.logf("game %d: schedule check failed: %v", id, err)
		}
	}
	return nil
}

// CheckGame processes pending copy linkage, drops exhausted schedules, and
// hosts the game if a run is due.
func (s *Scheduler) CheckGame(ctx context.Context, id int32) error {
	rec, err := s.store.Game(ctx, id)
	if err != nil {
		return err
	}
	if rec.CopyPending {
		if err := s.processCopy(ctx, rec); err != nil {
			return err
		}
	}
	if rec.State != game.StateRunning {
		return nil
	}

	now := schedule.FromGoTime(s.now())
	current, err := s.currentSchedule(ctx, rec, now)
	if err != nil {
		return err
	}

	if s.isDue(ctx, rec, current, now) {
		return s.hostGame(ctx, id)
	}
	return nil
}

// currentSchedule drops expired schedules from the head of the game's list
// and returns the remaining head, or a zero Stopped schedule when the list
// is empty.
func (s *Scheduler) currentSchedule(ctx context.Context, rec storage.GameRecord, now schedule.Time) (schedule.Schedule, error) {
	schedules, err := s.store.Schedules(ctx, rec.ID)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("load schedules: %w", err)
	}

	trimmed := schedules
	for len(trimmed) > 0 && trimmed[0].IsExpired(rec.Turn, now) {
		trimmed = trimmed[1:]
	}
	if len(trimmed) != len(schedules) {
		if err := s.store.ReplaceSchedules(ctx, rec.ID, trimmed); err != nil {
			return schedule.Schedule{}, fmt.Errorf("drop expired schedules: %w", err)
		}
	}
	if len(trimmed) == 0 {
		return schedule.Schedule{}, nil
	}
	return trimmed[0], nil
}

// isDue decides whether a host run should fire now.
func (s *Scheduler) isDue(ctx context.Context, rec storage.GameRecord, sched schedule.Schedule, now schedule.Time) bool {
	switch sched.Kind {
	case schedule.Stopped, schedule.Manual:
		return false
	case schedule.Quick:
		return s.allTurnsIn(ctx, rec, sched, now)
	case schedule.Daily, schedule.Weekly:
		if sched.HostEarly && s.allTurnsIn(ctx, rec, sched, now) {
			return true
		}
		prev := sched.PreviousHost(now)
		if prev == 0 || prev <= rec.LastHostTime {
			return false
		}
		// A run more than hostLimit late is skipped; the next cadence
		// will pick it up.
		return now-prev <= schedule.Time(sched.HostLimit)
	default:
		return false
	}
}

// allTurnsIn reports whether every in-game slot has an accepted,
// non-temporary turn and the settle delay after the last submission has
// passed.
func (s *Scheduler) allTurnsIn(ctx context.Context, rec storage.GameRecord, sched schedule.Schedule, now schedule.Time) bool {
	slots, err := s.store.Slots(ctx, rec.ID)
	if err != nil {
		s.logf("game %d: load slots: %v", rec.ID, err)
		return false
	}
	active := 0
	for _, slot := range slots {
		if !slot.InGame {
			continue
		}
		active++
		if !slot.Turn.Color.Accepted() || slot.Turn.Temporary {
			return false
		}
	}
	if active == 0 {
		return false
	}
	return now >= rec.LastTurnSubmitted+schedule.Time(sched.HostDelay)
}

// hostGame executes one host run under a critical lock: the game advances
// one turn, every in-game slot reverts to Missing, and the run is recorded.
func (s *Scheduler) hostGame(ctx context.Context, id int32) error {
	guard := s.arbiter.Acquire(id, arbiter.Critical)
	defer guard.Release()

	rec, err := s.store.Game(ctx, id)
	if err != nil {
		return err
	}
	if rec.State != game.StateRunning {
		return nil
	}

	now := schedule.FromGoTime(s.now())
	newTurn := rec.Turn + 1
	if err := s.store.SetGameTurn(ctx, id, newTurn); err != nil {
		return fmt.Errorf("advance turn: %w", err)
	}

	slots, err := s.store.Slots(ctx, id)
	if err != nil {
		return fmt.Errorf("load slots: %w", err)
	}
	for _, slot := range slots {
		if !slot.InGame && slot.Turn == (game.TurnStatus{}) {
			continue
		}
		if err := s.store.SetTurnStatus(ctx, id, slot.Slot, game.TurnStatus{Color: game.TurnMissing}); err != nil {
			return fmt.Errorf("reset slot %d: %w", slot.Slot, err)
		}
	}

	if err := s.store.SetLastHostTime(ctx, id, now); err != nil {
		return fmt.Errorf("stamp host time: %w", err)
	}
	entry := fmt.Sprintf("%d:game-hosted:%d", now, newTurn)
	if err := s.store.AppendGameHistory(ctx, id, entry); err != nil {
		return fmt.Errorf("append host history: %w", err)
	}

	s.logf("game %d: hosted turn %d", id, newTurn)
	return nil
}

// processCopy links a freshly started copy to its source game by copying
// the source's hosting settings, then clears the pending flag.
func (s *Scheduler) processCopy(ctx context.Context, rec storage.GameRecord) error {
	if rec.CopyOf != 0 {
		for _, key := range settingsCopiedOnClone {
			value, err := s.store.Setting(ctx, rec.CopyOf, key)
			if err != nil {
				return fmt.Errorf("read source setting %s: %w", key, err)
			}
			if value == "" {
				continue
			}
			if err := s.store.SetSetting(ctx, rec.ID, key, value); err != nil {
				return fmt.Errorf("copy setting %s: %w", key, err)
			}
		}
		if err := s.store.SetSetting(ctx, rec.ID, game.SettingCopyOf, fmt.Sprint(rec.CopyOf)); err != nil {
			return fmt.Errorf("record copy source: %w", err)
		}
	}
	if err := s.store.SetCopyPending(ctx, rec.ID, false); err != nil {
		return fmt.Errorf("clear copy pending: %w", err)
	}
	return nil
}
