// Package game defines the hosted-game domain model: lifecycle states,
// game types, slots, and turn statuses.
package game

// NumSlots is the fixed number of player positions in every game.
const NumSlots = 11

// State describes the game lifecycle.
type State int

const (
	// StateUnspecified represents an invalid state value.
	StateUnspecified State = iota
	// StatePreparing indicates the game is being set up and is not joinable.
	StatePreparing
	// StateJoining indicates the game accepts player registrations.
	StateJoining
	// StateRunning indicates the game is being hosted.
	StateRunning
	// StateFinished indicates the game has ended.
	StateFinished
	// StateDeleted indicates the game was removed by its owner.
	StateDeleted
)

// String returns the lowercase label of the state.
func (s State) String() string {
	switch s {
	case StatePreparing:
		return "preparing"
	case StateJoining:
		return "joining"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Type describes who can see and join a game.
type Type int

const (
	// TypeUnspecified represents an invalid type value.
	TypeUnspecified Type = iota
	// TypePrivate limits the game to invited players.
	TypePrivate
	// TypeUnlisted hides the game from public listings.
	TypeUnlisted
	// TypePublic lists the game publicly.
	TypePublic
	// TypeTest marks a staff test game; play does not count as activity.
	TypeTest
)

// String returns the lowercase label of the type.
func (t Type) String() string {
	switch t {
	case TypePrivate:
		return "private"
	case TypeUnlisted:
		return "unlisted"
	case TypePublic:
		return "public"
	case TypeTest:
		return "test"
	default:
		return "unknown"
	}
}

// Public reports whether games of this type appear in the public state index.
func (t Type) Public() bool {
	return t == TypePublic
}

// TurnColor is the health indicator of a slot's latest submission.
type TurnColor int

const (
	// TurnMissing indicates no turn has been submitted.
	TurnMissing TurnColor = iota
	// TurnBad indicates the submitted turn failed validation.
	TurnBad
	// TurnYellow indicates the turn was accepted with warnings.
	TurnYellow
	// TurnGreen indicates the turn was accepted cleanly.
	TurnGreen
	// TurnDead indicates a stale turn from an earlier game turn.
	TurnDead
)

// String returns the lowercase label of the color.
func (c TurnColor) String() string {
	switch c {
	case TurnMissing:
		return "missing"
	case TurnBad:
		return "bad"
	case TurnYellow:
		return "yellow"
	case TurnGreen:
		return "green"
	case TurnDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Accepted reports whether the color counts as a usable submission.
func (c TurnColor) Accepted() bool {
	return c == TurnYellow || c == TurnGreen
}

// TurnStatus combines the submission color with the orthogonal temporary
// flag. A temporary turn is one the player intends to replace before the
// next host run.
type TurnStatus struct {
	Color     TurnColor
	Temporary bool
}

// Overwrites reports whether a new validation result replaces the previous
// turn status. Accepted results always overwrite; a worse result only
// replaces a slot that had nothing usable, so an already-accepted turn is
// never downgraded.
func Overwrites(next, prev TurnColor) bool {
	if next.Accepted() {
		return true
	}
	return prev == TurnMissing || prev == TurnDead
}

// CollapseTurnStatus reduces a turn status to the coarse view shown to
// non-owners: Yellow folds into Green so outsiders cannot distinguish
// "slightly late" from "on time", Bad folds into Missing, and the temporary
// flag is hidden.
func CollapseTurnStatus(ts TurnStatus) TurnStatus {
	switch ts.Color {
	case TurnGreen, TurnYellow:
		return TurnStatus{Color: TurnGreen}
	case TurnDead:
		return TurnStatus{Color: TurnDead}
	default:
		return TurnStatus{Color: TurnMissing}
	}
}
