/*
Package manager implements the layer manager: the process-wide registry of
layers, layer groups and sandboxes.

# Architecture

	┌──────────────────────── LAYER MANAGER ───────────────────────┐
	│                                                                │
	│  mutex ─┬─ live space                                          │
	│         │    groups (front first) ── ordered layer ids         │
	│         │    layers (arena by id)                              │
	│         ├─ sandboxes (at most one, id 0 for replay)            │
	│         ├─ active layer id                                     │
	│         ├─ layer/group counters (restored by undo)             │
	│         └─ every layer's lock Guard                            │
	│                                                                │
	│  events queued under the mutex ──▶ published after unlock      │
	└────────────────────────────────────────────────────────────────┘

All operations are synchronous and all-or-nothing: an operation that fails
leaves groups, layers and the active layer untouched and publishes nothing.

Layers inserted into a sandbox are invisible to live lookups. Lookups made
from a sandbox fall back to the live project so replayed actions can read
their live inputs.

Layer content is not guarded by the manager mutex. InstallData verifies the
caller's processing lock under the mutex, releases it, and only then swaps the
layer's data block. The manager mutex is therefore never held while a data
block mutex is taken.

# Usage

	mgr := manager.New(broker)

	l := mgr.NewLayer("CT", types.VolumeData, grid, types.LiveSandbox)
	if err := mgr.InsertLayer(l); err != nil {
		return err
	}

	if err := mgr.LockForProcessing(l.ID, types.LiveSandbox, key); err != nil {
		return err // types.ErrLayerUnavailable
	}
	defer mgr.Unlock(l.ID, key)
*/
package manager
