// Package hostd parses hosting engine flags and launches the runtime.
package hostd

import (
	"context"
	"flag"
	"time"

	"github.com/turnbase/hostd/internal/app"
	entrypoint "github.com/turnbase/hostd/internal/platform/cmd"
)

// Config holds hosting engine command configuration.
type Config struct {
	DBPath           string        `env:"HOSTD_DB_PATH" envDefault:"data/hostd.db"`
	KeystorePath     string        `env:"HOSTD_KEYSTORE_PATH" envDefault:"data/keys.db"`
	FileRoot         string        `env:"HOSTD_FILE_ROOT" envDefault:"data/games"`
	ScratchDir       string        `env:"HOSTD_SCRATCH_DIR"`
	CheckTurnProgram string        `env:"HOSTD_CHECKTURN" envDefault:"checkturn"`
	MaxStoredKeys    int           `env:"HOSTD_MAX_STORED_KEYS" envDefault:"10"`
	PollInterval     time.Duration `env:"HOSTD_POLL_INTERVAL" envDefault:"1m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The hosting engine SQLite database path")
	fs.StringVar(&cfg.KeystorePath, "keystore-path", cfg.KeystorePath, "The registration key cache path")
	fs.StringVar(&cfg.FileRoot, "file-root", cfg.FileRoot, "The root directory for game files")
	fs.StringVar(&cfg.ScratchDir, "scratch-dir", cfg.ScratchDir, "The directory for turn validation scratch exports")
	fs.StringVar(&cfg.CheckTurnProgram, "checkturn", cfg.CheckTurnProgram, "The external turn validator program")
	fs.IntVar(&cfg.MaxStoredKeys, "max-stored-keys", cfg.MaxStoredKeys, "Registration keys cached in total across users, 0 disables, negative is unlimited")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Schedule sweep interval")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the hosting engine runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceHost, func(ctx context.Context) error {
		return app.Run(ctx, app.RuntimeConfig{
			DBPath:           cfg.DBPath,
			KeystorePath:     cfg.KeystorePath,
			FileRoot:         cfg.FileRoot,
			ScratchDir:       cfg.ScratchDir,
			CheckTurnProgram: cfg.CheckTurnProgram,
			MaxStoredKeys:    cfg.MaxStoredKeys,
			PollInterval:     cfg.PollInterval,
		})
	})
}
