// Package checkturn runs the external turn validator and maps its verdict
// to a turn-status color.
package checkturn

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/turnbase/hostd/internal/game"
)

// Verdict codes reported by the validator process.
const (
	ExitGreen  = 0
	ExitYellow = 1
	ExitBad    = 2
	ExitDead   = 3
)

// Result carries the validator's verdict for one turn file.
type Result struct {
	// ExitCode is the raw process exit code.
	ExitCode int
	// Output is the combined stdout and stderr of the run, shown to the
	// submitting player verbatim.
	Output string
}

// Color maps the exit code to a turn-status color. The second return is
// false for exit codes outside the validator's contract.
func (r Result) Color() (game.TurnColor, bool) {
	switch r.ExitCode {
	case ExitGreen:
		return game.TurnGreen, true
	case ExitYellow:
		return game.TurnYellow, true
	case ExitBad:
		return game.TurnBad, true
	case ExitDead:
		return game.TurnDead, true
	default:
		return game.TurnMissing, false
	}
}

// Checker validates an exported turn directory for one slot.
type Checker interface {
	Check(ctx context.Context, dir string, slot int32) (Result, error)
}

// Runner invokes an external validator program as a subprocess. The program
// is called with the exported game directory and the slot number.
type Runner struct {
	// Program is the validator executable path.
	Program string
}

// Check runs the validator to completion. The context is only consulted
// before the process starts; once validation is under way it runs to
// completion or failure.
func (r *Runner) Check(ctx context.Context, dir string, slot int32) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if r == nil || r.Program == "" {
		return Result{}, fmt.Errorf("validator program is not configured")
	}
	if dir == "" {
		return Result{}, fmt.Errorf("export directory is required")
	}

	cmd := exec.Command(r.Program, dir, strconv.Itoa(int(slot)))
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{ExitCode: exitErr.ExitCode(), Output: string(out)}, nil
		}
		return Result{}, fmt.Errorf("run validator: %w", err)
	}
	return Result{ExitCode: 0, Output: string(out)}, nil
}
