package manager

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/log"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/rs/zerolog"
)

// Position records where a layer sat before it was removed so undo can put
// it back in the same place.
type Position struct {
	GroupID    string `json:"group_id"`
	GroupIndex int    `json:"group_index"`
	LayerIndex int    `json:"layer_index"`
}

// Removed is a layer taken out of the manager together with its old position
type Removed struct {
	Layer    *layer.Layer
	Position Position
}

// space is one layer namespace: the live project or a sandbox
type space struct {
	id     types.SandboxID
	groups []*layer.Group // index 0 is the front group
	layers map[string]*layer.Layer
}

func newSpace(id types.SandboxID) *space {
	return &space{id: id, layers: make(map[string]*layer.Layer)}
}

func (s *space) group(id string) (*layer.Group, int) {
	for i, g := range s.groups {
		if g.ID == id {
			return g, i
		}
	}
	return nil, -1
}

func (s *space) groupForGrid(grid types.GridTransform) *layer.Group {
	for _, g := range s.groups {
		if g.Grid == grid {
			return g
		}
	}
	return nil
}

func (s *space) removeGroup(idx int) {
	s.groups = append(s.groups[:idx], s.groups[idx+1:]...)
}

// Manager is the registry of every layer, group and sandbox. A single mutex
// guards the registries, the active layer and every layer's lock guard.
// Events are queued while the mutex is held and published after release.
type Manager struct {
	mu        sync.Mutex
	live      *space
	sandboxes map[types.SandboxID]*space
	active    string
	ids       types.IDCount

	provenanceCount atomic.Int64

	publisher events.Publisher
	logger    zerolog.Logger
}

// New creates an empty layer manager that publishes to publisher
func New(publisher events.Publisher) *Manager {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Manager{
		live:      newSpace(types.LiveSandbox),
		sandboxes: make(map[types.SandboxID]*space),
		publisher: publisher,
		logger:    log.WithComponent("manager"),
	}
}

// batch collects events produced under the mutex
type batch []*events.Event

func (b *batch) add(t events.EventType, msg string, meta map[string]string) {
	*b = append(*b, events.New(t, msg, meta))
}

// update runs fn with the mutex held and publishes its events afterwards.
// Events are dropped when fn fails; fn must leave no partial mutation.
func (m *Manager) update(fn func(b *batch) error) error {
	var b batch
	m.mu.Lock()
	err := fn(&b)
	m.mu.Unlock()

	if err != nil {
		return err
	}
	for _, e := range b {
		m.publisher.Publish(e)
	}
	return nil
}

func layerMeta(l *layer.Layer) map[string]string {
	return map[string]string{
		"layer_id": l.ID,
		"group_id": l.GroupID,
		"sandbox":  l.Sandbox.String(),
	}
}

// spaceFor returns the namespace of sandbox, or an error if it does not exist
func (m *Manager) spaceFor(sandbox types.SandboxID) (*space, error) {
	if sandbox.IsLive() {
		return m.live, nil
	}
	s, ok := m.sandboxes[sandbox]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrSandboxNotFound, sandbox)
	}
	return s, nil
}

// find resolves id as seen from sandbox. Sandbox lookups fall back to the live
// project; live lookups never see sandbox layers. Deleting layers are hidden.
func (m *Manager) find(id string, sandbox types.SandboxID) (*layer.Layer, error) {
	s, err := m.spaceFor(sandbox)
	if err != nil {
		return nil, err
	}
	l, ok := s.layers[id]
	if !ok && !sandbox.IsLive() {
		l, ok = m.live.layers[id]
	}
	if !ok || l.Guard.State() == types.LockDeleting {
		return nil, fmt.Errorf("%w: %s", types.ErrLayerNotFound, id)
	}
	return l, nil
}

// findAny resolves id in any namespace. Layer ids are unique process-wide.
func (m *Manager) findAny(id string) (*layer.Layer, *space, error) {
	if l, ok := m.live.layers[id]; ok {
		return l, m.live, nil
	}
	for _, s := range m.sandboxes {
		if l, ok := s.layers[id]; ok {
			return l, s, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", types.ErrLayerNotFound, id)
}

// NewLayer creates a layer with the next deterministic id. The layer is not
// registered until InsertLayer.
func (m *Manager) NewLayer(name string, kind types.VolumeType, grid types.GridTransform, sandbox types.SandboxID) *layer.Layer {
	m.mu.Lock()
	id := m.nextLayerID()
	m.mu.Unlock()
	return layer.New(id, name, kind, grid, sandbox)
}

// nextLayerID advances the layer counter past ids still registered. Restored
// counters may lag behind layers that outlived the action that set them.
func (m *Manager) nextLayerID() string {
	for {
		m.ids.LayerCount++
		id := "layer_" + strconv.FormatInt(m.ids.LayerCount, 10)
		if _, _, err := m.findAny(id); err != nil {
			return id
		}
	}
}

func (m *Manager) nextGroupID() string {
	for {
		m.ids.GroupCount++
		id := "group_" + strconv.FormatInt(m.ids.GroupCount, 10)
		if !m.groupExists(id) {
			return id
		}
	}
}

func (m *Manager) groupExists(id string) bool {
	if g, _ := m.live.group(id); g != nil {
		return true
	}
	for _, s := range m.sandboxes {
		if g, _ := s.group(id); g != nil {
			return true
		}
	}
	return false
}

// IDCount returns the current layer and group counters
func (m *Manager) IDCount() types.IDCount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids
}

// SetIDCount restores saved counters so re-run actions produce the same ids
func (m *Manager) SetIDCount(c types.IDCount) {
	if !c.Valid() {
		return
	}
	m.mu.Lock()
	m.ids = c
	m.mu.Unlock()
}

// NewProvenanceID returns the next content lineage id. Provenance ids are
// never reused, not even after undo.
func (m *Manager) NewProvenanceID() types.ProvenanceID {
	return types.ProvenanceID(m.provenanceCount.Add(1))
}

// ProvenanceCount returns the last provenance id handed out
func (m *Manager) ProvenanceCount() types.ProvenanceID {
	return types.ProvenanceID(m.provenanceCount.Load())
}

// EnsureProvenanceCounter raises the provenance counter to at least n
func (m *Manager) EnsureProvenanceCounter(n types.ProvenanceID) {
	for {
		cur := m.provenanceCount.Load()
		if cur >= int64(n) || m.provenanceCount.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}

// InsertLayer registers l in its sandbox. The layer joins the group with the
// identical grid, or starts a new front group; a layer that starts a new live
// group becomes the active layer.
func (m *Manager) InsertLayer(l *layer.Layer) error {
	return m.update(func(b *batch) error {
		s, err := m.spaceFor(l.Sandbox)
		if err != nil {
			return err
		}
		if _, _, err := m.findAny(l.ID); err == nil {
			return fmt.Errorf("layer %s already registered", l.ID)
		}
		m.insertLocked(s, l, nil, b)
		return nil
	})
}

// InsertLayerAt registers l at a recorded position. Used by undo to put
// deleted layers back where they were.
func (m *Manager) InsertLayerAt(l *layer.Layer, pos Position) error {
	return m.update(func(b *batch) error {
		s, err := m.spaceFor(l.Sandbox)
		if err != nil {
			return err
		}
		if _, _, err := m.findAny(l.ID); err == nil {
			return fmt.Errorf("layer %s already registered", l.ID)
		}
		m.insertLocked(s, l, &pos, b)
		return nil
	})
}

func (m *Manager) insertLocked(s *space, l *layer.Layer, pos *Position, b *batch) {
	g := s.groupForGrid(l.Grid)
	newGroup := g == nil
	if newGroup {
		groupID := ""
		if pos != nil && pos.GroupID != "" {
			if existing, _ := s.group(pos.GroupID); existing == nil {
				groupID = pos.GroupID
			}
		}
		if groupID == "" {
			groupID = m.nextGroupID()
		}
		g = layer.NewGroup(groupID, l.Grid, s.id)

		idx := 0
		if pos != nil && pos.GroupIndex > 0 {
			idx = pos.GroupIndex
			if idx > len(s.groups) {
				idx = len(s.groups)
			}
		}
		s.groups = append(s.groups, nil)
		copy(s.groups[idx+1:], s.groups[idx:])
		s.groups[idx] = g
		b.add(events.EventGroupInserted, "Group inserted", map[string]string{
			"group_id": g.ID,
			"sandbox":  s.id.String(),
		})
	}

	if pos != nil {
		g.InsertAt(l.ID, pos.LayerIndex)
	} else {
		g.Add(l.ID, l.Kind)
	}
	l.GroupID = g.ID
	l.Sandbox = s.id
	s.layers[l.ID] = l

	b.add(events.EventLayerInserted, "Layer inserted", layerMeta(l))
	b.add(events.EventLayersChanged, "Layers changed", map[string]string{"sandbox": s.id.String()})

	m.logger.Debug().
		Str("layer_id", l.ID).
		Str("group_id", g.ID).
		Int("sandbox", int(s.id)).
		Msg("Layer inserted")

	if newGroup && s.id.IsLive() && m.active != l.ID {
		m.active = l.ID
		b.add(events.EventActiveLayerChanged, "Active layer changed", map[string]string{"layer_id": l.ID})
	}
}

// removeLocked takes l out of its space. Empty groups are removed and the
// active layer is re-chosen when it was l.
func (m *Manager) removeLocked(s *space, l *layer.Layer, b *batch) Position {
	g, gidx := s.group(l.GroupID)
	pos := Position{GroupID: l.GroupID, GroupIndex: gidx, LayerIndex: -1}
	if g != nil {
		pos.LayerIndex = g.Remove(l.ID)
	}
	delete(s.layers, l.ID)
	l.SetAbortHandle(nil)

	b.add(events.EventLayerDeleted, "Layer deleted", layerMeta(l))

	if g != nil && g.Empty() {
		s.removeGroup(gidx)
		b.add(events.EventGroupDeleted, "Group deleted", map[string]string{
			"group_id": g.ID,
			"sandbox":  s.id.String(),
		})
	}

	if s.id.IsLive() && m.active == l.ID {
		m.active = ""
		if len(s.groups) > 0 {
			m.active = s.groups[0].Top()
		}
		b.add(events.EventActiveLayerChanged, "Active layer changed", map[string]string{"layer_id": m.active})
	}
	return pos
}

// DuplicateLayer copies layer id, as seen from sandbox, into sandbox under
// the next layer id. The copy shares the data block and provenance id. The
// source must not be held for processing.
func (m *Manager) DuplicateLayer(id string, sandbox types.SandboxID, name string) (*layer.Layer, error) {
	m.mu.Lock()
	src, err := m.duplicable(id, sandbox)
	if err == nil && name == "" {
		name = src.Name
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// The copy is built outside the mutex; it takes the source's data lock
	gen := src.Generation()
	dup := src.Duplicate("", name, sandbox)

	err = m.update(func(b *batch) error {
		s, err := m.spaceFor(sandbox)
		if err != nil {
			return err
		}
		cur, err := m.duplicable(id, sandbox)
		if err != nil {
			return err
		}
		if cur != src || cur.Generation() != gen {
			return fmt.Errorf("%w: %s changed while being duplicated", types.ErrLayerUnavailable, id)
		}
		dup.ID = m.nextLayerID()
		if _, _, err := m.findAny(dup.ID); err == nil {
			return fmt.Errorf("layer %s already registered", dup.ID)
		}
		m.insertLocked(s, dup, nil, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dup, nil
}

// duplicable resolves id for DuplicateLayer. Caller holds m.mu.
func (m *Manager) duplicable(id string, sandbox types.SandboxID) (*layer.Layer, error) {
	if _, err := m.spaceFor(sandbox); err != nil {
		return nil, err
	}
	src, err := m.find(id, sandbox)
	if err != nil {
		return nil, err
	}
	if src.Guard.State() == types.LockProcessing {
		return nil, fmt.Errorf("%w: %s is %s", types.ErrLayerUnavailable, id, src.Guard.State())
	}
	return src, nil
}

// MoveLayerAbove moves layer a directly above layer b
func (m *Manager) MoveLayerAbove(a, b string) error {
	return m.move(a, b, 1)
}

// MoveLayerBelow moves layer a directly below layer b
func (m *Manager) MoveLayerBelow(a, b string) error {
	return m.move(a, b, 0)
}

func (m *Manager) move(a, target string, offset int) error {
	return m.update(func(ev *batch) error {
		if a == target {
			return fmt.Errorf("%w: cannot move layer %s relative to itself", types.ErrInvalidParam, a)
		}
		la, err := m.find(a, types.LiveSandbox)
		if err != nil {
			return err
		}
		lb, err := m.find(target, types.LiveSandbox)
		if err != nil {
			return err
		}
		if la.Kind != lb.Kind {
			return fmt.Errorf("%w: cannot reorder %s layer %s against %s layer %s",
				types.ErrWrongType, la.Kind, a, lb.Kind, target)
		}
		if la.Grid != lb.Grid {
			return fmt.Errorf("%w: %s and %s", types.ErrGridMismatch, a, target)
		}

		s := m.live
		donor, donorIdx := s.group(la.GroupID)
		dest, _ := s.group(lb.GroupID)
		if donor == nil || dest == nil {
			return fmt.Errorf("%w: group of %s or %s", types.ErrLayerNotFound, a, target)
		}

		donor.Remove(a)
		dest.InsertAt(a, dest.Position(target)+offset)

		if donor != dest {
			la.GroupID = dest.ID
			if donor.Empty() {
				s.removeGroup(donorIdx)
				ev.add(events.EventGroupDeleted, "Group deleted", map[string]string{"group_id": donor.ID, "sandbox": s.id.String()})
			} else {
				ev.add(events.EventLayerDeleted, "Layer deleted", map[string]string{"layer_id": a, "group_id": donor.ID})
				ev.add(events.EventLayerInserted, "Layer inserted", layerMeta(la))
			}
		}
		ev.add(events.EventLayersReordered, "Layers reordered", map[string]string{"group_id": dest.ID})
		return nil
	})
}

// DeleteLayers deletes every selected layer of the live group groupID. Either
// all selected layers are deleted or none are.
func (m *Manager) DeleteLayers(groupID string) ([]Removed, error) {
	var removed []Removed
	err := m.update(func(b *batch) error {
		g, _ := m.live.group(groupID)
		if g == nil {
			return fmt.Errorf("%w: group %s", types.ErrLayerNotFound, groupID)
		}

		var doomed []*layer.Layer
		for _, id := range g.Layers() {
			l := m.live.layers[id]
			if l == nil || !l.Selected {
				continue
			}
			if !l.Guard.CanProcess() {
				return fmt.Errorf("%w: %s is %s", types.ErrLayerUnavailable, id, l.Guard.State())
			}
			doomed = append(doomed, l)
		}

		// Remove from the top so recorded positions replay bottom-up
		for i := len(doomed) - 1; i >= 0; i-- {
			l := doomed[i]
			_ = l.Guard.AcquireDeletion("manager")
			pos := m.removeLocked(m.live, l, b)
			removed = append(removed, Removed{Layer: l, Position: pos})
		}
		if len(doomed) > 0 {
			b.add(events.EventLayersChanged, "Layers changed", map[string]string{"sandbox": m.live.id.String()})
		}
		return nil
	})
	return removed, err
}

// DeleteLayer deletes one layer. With an empty key the layer must be
// Available; otherwise key must hold its processing or deletion lock.
func (m *Manager) DeleteLayer(id string, key string) (Removed, error) {
	var removed Removed
	err := m.update(func(b *batch) error {
		l, s, err := m.findAny(id)
		if err != nil {
			return err
		}
		if l.Guard.State() != types.LockDeleting {
			if err := l.Guard.AcquireDeletion(key); err != nil {
				return fmt.Errorf("cannot delete %s: %w", id, err)
			}
		}
		removed = Removed{Layer: l, Position: m.removeLocked(s, l, b)}
		b.add(events.EventLayersChanged, "Layers changed", map[string]string{"sandbox": s.id.String()})
		return nil
	})
	return removed, err
}

// DeleteAll removes every live layer and group regardless of locks
func (m *Manager) DeleteAll() {
	var aborts []layer.AbortHandle
	_ = m.update(func(b *batch) error {
		for _, l := range m.live.layers {
			if h := l.AbortHandle(); h != nil {
				aborts = append(aborts, h)
			}
			_ = l.Guard.AcquireDeletion("")
			l.SetAbortHandle(nil)
		}
		for _, g := range m.live.groups {
			b.add(events.EventGroupDeleted, "Group deleted", map[string]string{"group_id": g.ID, "sandbox": m.live.id.String()})
		}
		m.live = newSpace(types.LiveSandbox)
		if m.active != "" {
			m.active = ""
			b.add(events.EventActiveLayerChanged, "Active layer changed", map[string]string{"layer_id": ""})
		}
		b.add(events.EventLayersChanged, "Layers changed", map[string]string{"sandbox": types.LiveSandbox.String()})
		return nil
	})
	for _, h := range aborts {
		h.RaiseAbort()
	}
}

// SetActiveLayer makes id the active live layer
func (m *Manager) SetActiveLayer(id string) error {
	return m.update(func(b *batch) error {
		if _, err := m.find(id, types.LiveSandbox); err != nil {
			return err
		}
		if m.active == id {
			return nil
		}
		m.active = id
		b.add(events.EventActiveLayerChanged, "Active layer changed", map[string]string{"layer_id": id})
		return nil
	})
}

// ActiveLayer returns the id of the active layer, or "" if there is none
func (m *Manager) ActiveLayer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SetSelected marks a live layer for group deletion
func (m *Manager) SetSelected(id string, selected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.find(id, types.LiveSandbox)
	if err != nil {
		return err
	}
	l.Selected = selected
	return nil
}

// SetVisible shows or hides a live layer in one viewer
func (m *Manager) SetVisible(id string, viewer int, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.find(id, types.LiveSandbox)
	if err != nil {
		return err
	}
	l.SetVisible(viewer, visible)
	return nil
}

// GetLayer returns the layer id as seen from sandbox
func (m *Manager) GetLayer(id string, sandbox types.SandboxID) (*layer.Layer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(id, sandbox)
}

// FindByProvenance returns the layer in sandbox holding provenance id pid
func (m *Manager) FindByProvenance(pid types.ProvenanceID, sandbox types.SandboxID) (*layer.Layer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.spaceFor(sandbox)
	if err != nil {
		return nil, false
	}
	// Walk in group order so the answer is stable
	for _, g := range s.groups {
		for _, id := range g.Layers() {
			l := s.layers[id]
			if l != nil && l.ProvenanceID() == pid && l.Guard.State() != types.LockDeleting {
				return l, true
			}
		}
	}
	return nil, false
}

// LayerPosition returns the current position of a layer
func (m *Manager) LayerPosition(id string) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, s, err := m.findAny(id)
	if err != nil {
		return Position{}, err
	}
	g, gidx := s.group(l.GroupID)
	if g == nil {
		return Position{}, fmt.Errorf("%w: group %s", types.ErrLayerNotFound, l.GroupID)
	}
	return Position{GroupID: g.ID, GroupIndex: gidx, LayerIndex: g.Position(id)}, nil
}

// GroupPosition returns the index of a live group, or -1
func (m *Manager) GroupPosition(groupID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, idx := m.live.group(groupID)
	return idx
}

// LayersInGroup returns the ordered layer ids of a live group
func (m *Manager) LayersInGroup(groupID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, _ := m.live.group(groupID)
	if g == nil {
		return nil
	}
	return g.Layers()
}

// GroupInfo is a snapshot of one group
type GroupInfo struct {
	ID     string
	Grid   types.GridTransform
	Layers []string
}

// Groups returns a snapshot of the groups of sandbox, front first
func (m *Manager) Groups(sandbox types.SandboxID) []GroupInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.spaceFor(sandbox)
	if err != nil {
		return nil
	}
	out := make([]GroupInfo, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, GroupInfo{ID: g.ID, Grid: g.Grid, Layers: g.Layers()})
	}
	return out
}

// CreateSandbox creates an empty sandbox. At most one sandbox exists at a time.
func (m *Manager) CreateSandbox(id types.SandboxID) error {
	return m.update(func(b *batch) error {
		if id.IsLive() {
			return fmt.Errorf("%w: sandbox id %d", types.ErrInvalidParam, id)
		}
		if len(m.sandboxes) > 0 {
			return fmt.Errorf("%w: %d", types.ErrSandboxExists, id)
		}
		m.sandboxes[id] = newSpace(id)
		b.add(events.EventSandboxCreated, "Sandbox created", map[string]string{"sandbox": id.String()})
		m.logger.Info().Int("sandbox", int(id)).Msg("Sandbox created")
		return nil
	})
}

// DeleteSandbox tears a sandbox down, raising the abort flag of every filter
// still working in it. Filters finishing later find their layers gone.
func (m *Manager) DeleteSandbox(id types.SandboxID) error {
	var aborts []layer.AbortHandle
	err := m.update(func(b *batch) error {
		s, ok := m.sandboxes[id]
		if !ok || id.IsLive() {
			return fmt.Errorf("%w: %d", types.ErrSandboxNotFound, id)
		}
		for _, l := range s.layers {
			if h := l.AbortHandle(); h != nil {
				aborts = append(aborts, h)
			}
			_ = l.Guard.AcquireDeletion("")
			l.SetAbortHandle(nil)
		}
		delete(m.sandboxes, id)
		b.add(events.EventSandboxDeleted, "Sandbox deleted", map[string]string{"sandbox": id.String()})
		return nil
	})
	if err != nil {
		return err
	}

	for _, h := range aborts {
		h.RaiseAbort()
	}
	m.logger.Info().Int("sandbox", int(id)).Int("aborted_filters", len(aborts)).Msg("Sandbox deleted")
	return nil
}

// IsSandbox reports whether sandbox id exists
func (m *Manager) IsSandbox(id types.SandboxID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sandboxes[id]
	return ok
}

// Sandboxes returns the ids of existing sandboxes
func (m *Manager) Sandboxes() []types.SandboxID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.SandboxID, 0, len(m.sandboxes))
	for id := range m.sandboxes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MigrateSandboxLayer moves an Available sandbox layer into the live project,
// stamps it with provenance id pid and renames it.
func (m *Manager) MigrateSandboxLayer(id string, sandbox types.SandboxID, pid types.ProvenanceID, name string) error {
	return m.update(func(b *batch) error {
		s, ok := m.sandboxes[sandbox]
		if !ok {
			return fmt.Errorf("%w: %d", types.ErrSandboxNotFound, sandbox)
		}
		l, ok := s.layers[id]
		if !ok {
			return fmt.Errorf("%w: %s in sandbox %d", types.ErrLayerNotFound, id, sandbox)
		}
		if l.Guard.State() != types.LockAvailable {
			return fmt.Errorf("%w: %s is %s", types.ErrLayerUnavailable, id, l.Guard.State())
		}

		m.removeLocked(s, l, b)
		l.SetProvenanceID(pid)
		if name != "" {
			l.Name = name
		}
		m.insertLocked(m.live, l, nil, b)

		m.logger.Info().
			Str("layer_id", id).
			Int64("provenance_id", int64(pid)).
			Msg("Sandbox layer migrated")
		return nil
	})
}

// SetAbortHandle attaches the filter processing layer id
func (m *Manager) SetAbortHandle(id string, h layer.AbortHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, _, err := m.findAny(id)
	if err != nil {
		return err
	}
	l.SetAbortHandle(h)
	return nil
}

// AbortLayer raises the abort flag of the filter processing layer id.
// It reports whether a filter was found.
func (m *Manager) AbortLayer(id string) bool {
	m.mu.Lock()
	var h layer.AbortHandle
	if l, _, err := m.findAny(id); err == nil {
		h = l.AbortHandle()
	}
	m.mu.Unlock()

	if h == nil {
		return false
	}
	h.RaiseAbort()
	return true
}
