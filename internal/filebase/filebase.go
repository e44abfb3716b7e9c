// Package filebase manages the on-disk game directories: canonical game
// data, incoming turn files, and per-player file distribution.
package filebase

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local is a filesystem-backed file base rooted at a single directory.
//
// Layout per game:
//
//	<root>/<id>/data/       canonical game data files
//	<root>/<id>/in/         accepted turn files
//	<root>/<id>/players/<user>/  files distributed to one player
type Local struct {
	root string
}

// NewLocal creates a file base under root, creating the directory if
// needed.
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("file base root is required")
	}
	cleanRoot := filepath.Clean(root)
	if err := os.MkdirAll(cleanRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create file base root: %w", err)
	}
	return &Local{root: cleanRoot}, nil
}

// GameDir returns the directory holding one game's files.
func (l *Local) GameDir(gameID int32) string {
	return filepath.Join(l.root, fmt.Sprintf("%04d", gameID))
}

// ExportGame copies the game's canonical data files into dir. A game
// without data files exports as empty, not as an error.
func (l *Local) ExportGame(ctx context.Context, gameID int32, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataDir := filepath.Join(l.GameDir(gameID), "data")
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read game data dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src := filepath.Join(dataDir, entry.Name())
		dst := filepath.Join(dir, entry.Name())
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("export %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// StoreTurn persists an accepted turn file to the game's incoming
// directory.
func (l *Local) StoreTurn(ctx context.Context, gameID, slot int32, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	inDir := filepath.Join(l.GameDir(gameID), "in")
	if err := os.MkdirAll(inDir, 0o755); err != nil {
		return fmt.Errorf("create incoming dir: %w", err)
	}
	name := filepath.Join(inDir, fmt.Sprintf("player%d.trn", slot))
	if err := os.WriteFile(name, blob, 0o644); err != nil {
		return fmt.Errorf("write turn file: %w", err)
	}
	return nil
}

// InstallPlayerFiles grants a player their directory under the game.
func (l *Local) InstallPlayerFiles(ctx context.Context, gameID int32, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	dir := l.playerDir(gameID, userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create player dir: %w", err)
	}
	return nil
}

// UninstallPlayerFiles revokes a player's directory under the game.
func (l *Local) UninstallPlayerFiles(ctx context.Context, gameID int32, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	if err := os.RemoveAll(l.playerDir(gameID, userID)); err != nil {
		return fmt.Errorf("remove player dir: %w", err)
	}
	return nil
}

// DistributeTurn copies an accepted turn file into one player's directory.
func (l *Local) DistributeTurn(ctx context.Context, gameID, slot int32, userID string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	dir := l.playerDir(gameID, userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create player dir: %w", err)
	}
	name := filepath.Join(dir, fmt.Sprintf("player%d.trn", slot))
	if err := os.WriteFile(name, blob, 0o644); err != nil {
		return fmt.Errorf("write distributed turn: %w", err)
	}
	return nil
}

func (l *Local) playerDir(gameID int32, userID string) string {
	// Base guards against user ids smuggling path separators.
	return filepath.Join(l.GameDir(gameID), "players", filepath.Base(userID))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
