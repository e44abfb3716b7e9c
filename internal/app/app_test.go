package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/turnbase/hostd/internal/game"
	"github.com/turnbase/hostd/internal/turnfile"
)

type stubParser struct{}

func (stubParser) Parse(blob []byte) (turnfile.Data, error) {
	return turnfile.Data{}, errors.New("not decoded")
}

func testConfig(t *testing.T) RuntimeConfig {
	t.Helper()
	dir := t.TempDir()
	return RuntimeConfig{
		DBPath:       filepath.Join(dir, "hostd.db"),
		KeystorePath: filepath.Join(dir, "keys.db"),
		FileRoot:     filepath.Join(dir, "games"),
		PollInterval: 10 * time.Millisecond,
	}
}

func TestBuildWiresServices(t *testing.T) {
	rt, err := Build(testConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close()

	if rt.Store == nil || rt.Keys == nil || rt.Files == nil {
		t.Fatal("stores not wired")
	}
	if rt.Games == nil || rt.Scheduler == nil {
		t.Fatal("services not wired")
	}
	if rt.Turns != nil {
		t.Fatal("submission service present without a parser")
	}

	id, err := rt.Games.CreateGame(context.Background(), "Wired", "admin", "0001", game.TypePrivate)
	if err != nil {
		t.Fatalf("CreateGame through runtime: %v", err)
	}
	if id != 1 {
		t.Fatalf("id = %d, want 1", id)
	}
}

func TestBuildWithParserEnablesSubmissions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Parser = stubParser{}

	rt, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close()

	if rt.Turns == nil {
		t.Fatal("submission service missing")
	}
}

func TestCloseIsNilSafe(t *testing.T) {
	var rt *Runtime
	if err := rt.Close(); err != nil {
		t.Fatalf("Close on nil runtime: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig(t)

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
