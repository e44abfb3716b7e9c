// Package app wires the hosting engine's stores and services into one
// runtime and drives the scheduler loop.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/turnbase/hostd/internal/arbiter"
	"github.com/turnbase/hostd/internal/checkturn"
	"github.com/turnbase/hostd/internal/filebase"
	gameservice "github.com/turnbase/hostd/internal/game/service"
	"github.com/turnbase/hostd/internal/hostturn"
	"github.com/turnbase/hostd/internal/keystore"
	"github.com/turnbase/hostd/internal/scheduler"
	"github.com/turnbase/hostd/internal/storage/sqlite"
	"github.com/turnbase/hostd/internal/turnfile"
)

// RuntimeConfig controls runtime startup, storage paths, and loop behavior.
type RuntimeConfig struct {
	DBPath           string
	KeystorePath     string
	FileRoot         string
	ScratchDir       string
	CheckTurnProgram string
	MaxStoredKeys    int
	PollInterval     time.Duration

	// Parser decodes uploaded turn files. Without one the runtime still
	// hosts games on schedule but cannot accept submissions.
	Parser turnfile.Parser
	// Users resolves player email addresses for admin proxy submissions.
	Users hostturn.UserDirectory
}

const (
	defaultDBPath       = "data/hostd.db"
	defaultKeystorePath = "data/keys.db"
	defaultFileRoot     = "data/games"
)

// Runtime holds the wired services backing one hosting engine process.
type Runtime struct {
	Store     *sqlite.Store
	Keys      *keystore.Store
	Files     *filebase.Local
	Arbiter   *arbiter.Arbiter
	Games     *gameservice.Service
	Turns     *hostturn.Service
	Scheduler *scheduler.Scheduler
}

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}
	if strings.TrimSpace(cfg.KeystorePath) == "" {
		cfg.KeystorePath = defaultKeystorePath
	}
	if strings.TrimSpace(cfg.FileRoot) == "" {
		cfg.FileRoot = defaultFileRoot
	}
	return cfg
}

// Build opens the stores and wires the service graph. Callers own the
// returned runtime and must Close it.
func Build(cfg RuntimeConfig) (*Runtime, error) {
	cfg = cfg.normalized()

	for _, path := range []string{cfg.DBPath, cfg.KeystorePath} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	keys, err := keystore.Open(cfg.KeystorePath, cfg.MaxStoredKeys)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open keystore: %w", err)
	}

	files, err := filebase.NewLocal(cfg.FileRoot)
	if err != nil {
		_ = keys.Close()
		_ = store.Close()
		return nil, fmt.Errorf("open file base: %w", err)
	}

	arb := arbiter.New()

	schedOpts := []scheduler.Option{}
	if cfg.PollInterval > 0 {
		schedOpts = append(schedOpts, scheduler.WithPollInterval(cfg.PollInterval))
	}
	sched := scheduler.New(store, arb, schedOpts...)

	games := gameservice.New(store,
		gameservice.WithCron(sched),
		gameservice.WithInstaller(files),
	)

	rt := &Runtime{
		Store:     store,
		Keys:      keys,
		Files:     files,
		Arbiter:   arb,
		Games:     games,
		Scheduler: sched,
	}

	if cfg.Parser != nil {
		turnOpts := []hostturn.Option{
			hostturn.WithCron(sched),
			hostturn.WithInstaller(files),
			hostturn.WithKeystore(keys),
		}
		if cfg.Users != nil {
			turnOpts = append(turnOpts, hostturn.WithUserDirectory(cfg.Users))
		}
		if strings.TrimSpace(cfg.ScratchDir) != "" {
			turnOpts = append(turnOpts, hostturn.WithScratchRoot(cfg.ScratchDir))
		}
		checker := &checkturn.Runner{Program: cfg.CheckTurnProgram}
		rt.Turns = hostturn.New(store, arb, cfg.Parser, checker, files, games, turnOpts...)
	}

	return rt, nil
}

// Close releases the runtime's stores. Safe on a nil runtime.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var firstErr error
	if r.Keys != nil {
		if err := r.Keys.Close(); err != nil {
			firstErr = err
		}
	}
	if r.Store != nil {
		if err := r.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run builds the runtime and drives the scheduler loop until ctx is
// canceled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg = cfg.normalized()
	rt, err := Build(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			log.Printf("close runtime: %v", closeErr)
		}
	}()

	log.Printf("hosting engine running, games under %s", cfg.FileRoot)
	return rt.Scheduler.Run(ctx)
}
