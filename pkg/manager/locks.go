package manager

import (
	"fmt"

	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/types"
)

// CheckSandbox verifies that sandbox is the live project or an existing sandbox
func (m *Manager) CheckSandbox(sandbox types.SandboxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.spaceFor(sandbox)
	return err
}

// CheckLayerExistence verifies that id is reachable from sandbox
func (m *Manager) CheckLayerExistence(id string, sandbox types.SandboxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.find(id, sandbox)
	return err
}

// CheckLayerExistenceAndType verifies that id exists and matches kinds
func (m *Manager) CheckLayerExistenceAndType(id string, kinds types.VolumeType, sandbox types.SandboxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.find(id, sandbox)
	if err != nil {
		return err
	}
	if !l.Kind.Matches(kinds) {
		return fmt.Errorf("%w: %s is a %s layer", types.ErrWrongType, id, l.Kind)
	}
	return nil
}

// CheckLayerSize verifies that two layers share an identical grid
func (m *Manager) CheckLayerSize(a, b string, sandbox types.SandboxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	la, err := m.find(a, sandbox)
	if err != nil {
		return err
	}
	lb, err := m.find(b, sandbox)
	if err != nil {
		return err
	}
	if la.Grid != lb.Grid {
		return fmt.Errorf("%w: %s (%s) and %s (%s)", types.ErrGridMismatch, a, la.Grid, b, lb.Grid)
	}
	return nil
}

// CheckAvailabilityForUse verifies that a shared use lock could be granted now
func (m *Manager) CheckAvailabilityForUse(id string, sandbox types.SandboxID) error {
	return m.CheckAvailability(id, false, sandbox)
}

// CheckAvailabilityForProcessing verifies that the exclusive lock could be granted now
func (m *Manager) CheckAvailabilityForProcessing(id string, sandbox types.SandboxID) error {
	return m.CheckAvailability(id, true, sandbox)
}

// CheckAvailability checks for the exclusive lock when replace is set and
// for a use lock otherwise.
func (m *Manager) CheckAvailability(id string, replace bool, sandbox types.SandboxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.find(id, sandbox)
	if err != nil {
		return err
	}
	ok := l.Guard.CanUse()
	if replace {
		ok = l.Guard.CanProcess()
	}
	if !ok {
		return fmt.Errorf("%w: %s is %s", types.ErrLayerUnavailable, id, l.Guard.State())
	}
	return nil
}

// LockState returns the current lock state of id
func (m *Manager) LockState(id string) (types.LockState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, _, err := m.findAny(id)
	if err != nil {
		return "", err
	}
	return l.Guard.State(), nil
}

func (m *Manager) lock(id string, sandbox types.SandboxID, key string, acquire func(*layer.Guard, string) error) error {
	return m.update(func(b *batch) error {
		l, err := m.find(id, sandbox)
		if err != nil {
			return err
		}
		if err := acquire(&l.Guard, key); err != nil {
			return fmt.Errorf("lock %s: %w", id, err)
		}
		meta := layerMeta(l)
		meta["state"] = string(l.Guard.State())
		b.add(events.EventLayerLockChanged, "Layer lock changed", meta)
		return nil
	})
}

// LockForUse grants key a shared use lock on id
func (m *Manager) LockForUse(id string, sandbox types.SandboxID, key string) error {
	return m.lock(id, sandbox, key, (*layer.Guard).AcquireUse)
}

// LockForProcessing grants key the exclusive processing lock on id
func (m *Manager) LockForProcessing(id string, sandbox types.SandboxID, key string) error {
	return m.lock(id, sandbox, key, (*layer.Guard).AcquireProcessing)
}

// LockForDeletion moves id to the terminal Deleting state. The layer becomes
// unreachable but stays registered until DeleteLayer.
func (m *Manager) LockForDeletion(id string, sandbox types.SandboxID, key string) error {
	return m.lock(id, sandbox, key, (*layer.Guard).AcquireDeletion)
}

// Unlock releases one hold of key on id
func (m *Manager) Unlock(id string, key string) error {
	return m.update(func(b *batch) error {
		l, _, err := m.findAny(id)
		if err != nil {
			return err
		}
		if err := l.Guard.Release(key); err != nil {
			return fmt.Errorf("unlock %s: %w", id, err)
		}
		if l.Guard.State() != types.LockProcessing {
			l.SetAbortHandle(nil)
		}
		meta := layerMeta(l)
		meta["state"] = string(l.Guard.State())
		b.add(events.EventLayerLockChanged, "Layer lock changed", meta)
		return nil
	})
}

// UnlockOrDelete unlocks a layer created by key, deleting it instead when it
// never received data.
func (m *Manager) UnlockOrDelete(id string, key string) error {
	m.mu.Lock()
	l, _, err := m.findAny(id)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if !l.HasData() {
		_, err = m.DeleteLayer(id, key)
		return err
	}
	return m.Unlock(id, key)
}

// CreateAndLockLayer creates a new layer in sandbox, registers it and grants
// key its processing lock, all under one critical section.
func (m *Manager) CreateAndLockLayer(kind types.VolumeType, grid types.GridTransform, name string,
	sandbox types.SandboxID, key string) (*layer.Layer, error) {
	var created *layer.Layer
	err := m.update(func(b *batch) error {
		s, err := m.spaceFor(sandbox)
		if err != nil {
			return err
		}
		if !grid.Valid() {
			return fmt.Errorf("%w: grid %s", types.ErrInvalidParam, grid)
		}
		l := layer.New(m.nextLayerID(), name, kind, grid, sandbox)
		if _, _, err := m.findAny(l.ID); err == nil {
			return fmt.Errorf("layer %s already registered", l.ID)
		}
		_ = l.Guard.AcquireProcessing(key)
		m.insertLocked(s, l, nil, b)
		created = l
		return nil
	})
	return created, err
}

// InstallData installs block into layer id. key must hold the processing lock.
// The manager mutex is released before the layer's data mutex is taken.
func (m *Manager) InstallData(id string, block *layer.DataBlock, key string) error {
	m.mu.Lock()
	l, _, err := m.findAny(id)
	if err == nil && !l.Guard.ProcessedBy(key) {
		err = fmt.Errorf("%w: %s is not processed by %s", types.ErrLayerUnavailable, id, key)
	}
	if err == nil && block != nil && block.Dims != l.Grid.Dims {
		err = fmt.Errorf("%w: block %v does not fit layer %s (%s)", types.ErrGridMismatch, block.Dims, id, l.Grid)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	gen := l.Install(block)
	meta := layerMeta(l)
	meta["generation"] = fmt.Sprintf("%d", gen)
	m.publisher.Publish(events.New(events.EventLayerDataChanged, "Layer data changed", meta))
	return nil
}

// RestoreCheckpoint re-installs checkpointed content into the layer it was
// taken from. The layer must not be held by anyone.
func (m *Manager) RestoreCheckpoint(cp *layer.Checkpoint) error {
	m.mu.Lock()
	l, _, err := m.findAny(cp.LayerID)
	if err == nil && l.Guard.State() != types.LockAvailable {
		err = fmt.Errorf("%w: %s is %s", types.ErrLayerUnavailable, cp.LayerID, l.Guard.State())
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := cp.Apply(l); err != nil {
		return err
	}
	meta := layerMeta(l)
	meta["generation"] = fmt.Sprintf("%d", l.Generation())
	m.publisher.Publish(events.New(events.EventLayerDataChanged, "Layer data restored", meta))
	return nil
}
