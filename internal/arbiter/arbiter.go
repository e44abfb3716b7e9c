// Package arbiter provides per-game mutual exclusion for hosting operations.
//
// Every operation that must not interleave with a host run or another turn
// submission acquires a guard before touching game state and releases it on
// every exit path. Two levels exist: Normal acquisitions may run alongside
// each other, while a Critical acquisition excludes every other acquisition
// on the same game.
package arbiter

import "sync"

// Level is the strength of an acquisition.
type Level int

const (
	// None holds no lock. Acquiring at this level returns a released guard.
	None Level = iota
	// Normal allows other Normal holders on the same game.
	Normal
	// Critical excludes all other holders on the same game.
	Critical
)

// Arbiter hands out per-game locks. The zero value is not usable; use New.
type Arbiter struct {
	mu    sync.Mutex
	games map[int32]*entry
}

type entry struct {
	lock sync.RWMutex
	refs int
}

// New creates an arbiter.
func New() *Arbiter {
	return &Arbiter{games: make(map[int32]*entry)}
}

// Acquire blocks until the requested level is available for the game and
// returns a guard. The caller must release the guard, normally via defer;
// release is safe on every exit path and is idempotent.
func (a *Arbiter) Acquire(gameID int32, level Level) *Guard {
	if level == None {
		return &Guard{}
	}

	a.mu.Lock()
	e := a.games[gameID]
	if e == nil {
		e = &entry{}
		a.games[gameID] = e
	}
	e.refs++
	a.mu.Unlock()

	if level == Critical {
		e.lock.Lock()
	} else {
		e.lock.RLock()
	}

	g := &Guard{}
	g.release = func() {
		if level == Critical {
			e.lock.Unlock()
		} else {
			e.lock.RUnlock()
		}
		a.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(a.games, gameID)
		}
		a.mu.Unlock()
	}
	return g
}

// Guard represents one held acquisition.
type Guard struct {
	once    sync.Once
	release func()
}

// Release drops the acquisition. Releasing more than once is a no-op.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		if g.release != nil {
			g.release()
		}
	})
}
