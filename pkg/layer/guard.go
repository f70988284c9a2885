package layer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cuemby/stratum/pkg/types"
)

// ErrNotHeld is returned when a key releases a lock it does not hold
var ErrNotHeld = errors.New("lock not held by key")

// Guard is the per-layer lock state machine:
//
//	Available → InUse(N) → Processing(1) → Deleting
//
// Deleting is terminal. Guard is not synchronized; the layer manager calls it
// with its own mutex held.
type Guard struct {
	users     map[string]int
	processor string
	deleting  bool
}

// State returns the current lock state
func (g *Guard) State() types.LockState {
	switch {
	case g.deleting:
		return types.LockDeleting
	case g.processor != "":
		return types.LockProcessing
	case len(g.users) > 0:
		return types.LockInUse
	default:
		return types.LockAvailable
	}
}

// CanUse reports whether a shared use lock can be granted
func (g *Guard) CanUse() bool {
	return !g.deleting && g.processor == ""
}

// CanProcess reports whether the exclusive processing lock can be granted
func (g *Guard) CanProcess() bool {
	return !g.deleting && g.processor == "" && len(g.users) == 0
}

// AcquireUse adds a shared holder
func (g *Guard) AcquireUse(key string) error {
	if !g.CanUse() {
		return fmt.Errorf("%w: state %s", types.ErrLayerUnavailable, g.State())
	}
	if g.users == nil {
		g.users = make(map[string]int)
	}
	g.users[key]++
	return nil
}

// AcquireProcessing grants the exclusive writer lock to key
func (g *Guard) AcquireProcessing(key string) error {
	if !g.CanProcess() {
		return fmt.Errorf("%w: state %s", types.ErrLayerUnavailable, g.State())
	}
	g.processor = key
	return nil
}

// AcquireDeletion moves the guard to the terminal Deleting state. It is
// granted when nobody holds the layer, or when key is the sole processor.
func (g *Guard) AcquireDeletion(key string) error {
	if g.deleting {
		return fmt.Errorf("%w: already deleting", types.ErrLayerUnavailable)
	}
	soleProcessor := g.processor != "" && g.processor == key && len(g.users) == 0
	if !g.CanProcess() && !soleProcessor {
		return fmt.Errorf("%w: state %s", types.ErrLayerUnavailable, g.State())
	}
	g.deleting = true
	g.processor = ""
	g.users = nil
	return nil
}

// Release drops one hold of key. Releasing a deleting guard is a no-op.
func (g *Guard) Release(key string) error {
	if g.deleting {
		return nil
	}
	if g.processor != "" && g.processor == key {
		g.processor = ""
		return nil
	}
	if n, ok := g.users[key]; ok {
		if n <= 1 {
			delete(g.users, key)
		} else {
			g.users[key] = n - 1
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotHeld, key)
}

// ProcessedBy reports whether key holds the processing lock
func (g *Guard) ProcessedBy(key string) bool {
	return !g.deleting && g.processor != "" && g.processor == key
}

// Holders returns the keys currently holding the guard, sorted
func (g *Guard) Holders() []string {
	var keys []string
	if g.processor != "" {
		keys = append(keys, g.processor)
	}
	for k := range g.users {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
