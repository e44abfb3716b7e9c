package hostd

import (
	"flag"
	"strings"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("hostd", flag.ContinueOnError)
	t.Setenv("HOSTD_DB_PATH", "/var/lib/hostd/hostd.db")
	t.Setenv("HOSTD_MAX_STORED_KEYS", "3")

	cfg, err := ParseConfig(fs, []string{"-checkturn", "/usr/local/bin/checkturn", "-poll-interval", "15s"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "/var/lib/hostd/hostd.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if cfg.MaxStoredKeys != 3 {
		t.Fatalf("max stored keys = %d, want 3", cfg.MaxStoredKeys)
	}
	if cfg.CheckTurnProgram != "/usr/local/bin/checkturn" {
		t.Fatalf("checkturn = %q", cfg.CheckTurnProgram)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Fatalf("poll interval = %s, want 15s", cfg.PollInterval)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("hostd", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.KeystorePath != "data/keys.db" {
		t.Fatalf("keystore path = %q", cfg.KeystorePath)
	}
	if cfg.FileRoot != "data/games" {
		t.Fatalf("file root = %q", cfg.FileRoot)
	}
	if cfg.MaxStoredKeys != 10 {
		t.Fatalf("max stored keys = %d, want 10", cfg.MaxStoredKeys)
	}
	if cfg.PollInterval != time.Minute {
		t.Fatalf("poll interval = %s, want 1m", cfg.PollInterval)
	}
}

func TestMaxStoredKeysHelpDescribesGlobalBound(t *testing.T) {
	fs := flag.NewFlagSet("hostd", flag.ContinueOnError)
	if _, err := ParseConfig(fs, nil); err != nil {
		t.Fatalf("parse config: %v", err)
	}

	f := fs.Lookup("max-stored-keys")
	if f == nil {
		t.Fatal("max-stored-keys flag not registered")
	}
	// The bound is a single LRU budget shared by all users.
	if !strings.Contains(f.Usage, "in total") || strings.Contains(f.Usage, "per user") {
		t.Fatalf("usage = %q, should describe the global bound", f.Usage)
	}
}
