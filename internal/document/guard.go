package document

import (
	"fmt"
	"sort"
	"sync"
)

// Guard ranks.  Operations that need several guards always take them in
// ascending rank, so no two operations can wait on each other.
const (
	rankColor = iota
	rankCursor
	rankBuffer
	rankDocument
)

// guard is a mutex that remembers whether a critical section panicked
// while holding it.  A poisoned guard refuses all further work.
type guard struct {
	rank     int
	name     string
	mu       sync.Mutex
	poisoned bool
}

// with runs fn while holding every guard in gs.  The guards are released on
// every exit path.  A panic inside fn poisons all held guards and is
// returned as an error wrapping ErrPoisoned.
func with(fn func() error, gs ...*guard) (err error) {
	held := append([]*guard(nil), gs...)
	sort.SliceStable(held, func(i, j int) bool { return held[i].rank < held[j].rank })
	for _, g := range held {
		g.mu.Lock()
	}
	defer func() {
		if r := recover(); r != nil {
			for _, g := range held {
				g.poisoned = true
			}
			err = fmt.Errorf("%w: panic: %v", ErrPoisoned, r)
		}
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
	}()
	for _, g := range held {
		if g.poisoned {
			return fmt.Errorf("%w: %s", ErrPoisoned, g.name)
		}
	}
	return fn()
}
