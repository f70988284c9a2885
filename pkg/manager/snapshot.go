package manager

import (
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/types"
)

// SceneLayer holds the render parameters of one layer at snapshot time
type SceneLayer struct {
	ID         string
	Name       string
	Kind       types.VolumeType
	GroupID    string
	Grid       types.GridTransform
	Opacity    float64
	Color      int
	Active     bool
	Generation uint64
	Data       *layer.DataBlock
}

// ComposeLayerScene returns the visible live layers for a viewer, back group
// first and bottom layer first within each group. The snapshot shares only
// immutable data blocks and is safe to use after the call returns.
func (m *Manager) ComposeLayerScene(viewer int) []SceneLayer {
	m.mu.Lock()
	var (
		scene  []SceneLayer
		layers []*layer.Layer
	)
	for i := len(m.live.groups) - 1; i >= 0; i-- {
		g := m.live.groups[i]
		for _, id := range g.Layers() {
			l := m.live.layers[id]
			if l == nil || !l.Visible(viewer) || l.Guard.State() == types.LockDeleting {
				continue
			}
			scene = append(scene, SceneLayer{
				ID:      l.ID,
				Name:    l.Name,
				Kind:    l.Kind,
				GroupID: g.ID,
				Grid:    l.Grid,
				Opacity: l.Opacity,
				Color:   l.Color,
				Active:  l.ID == m.active,
			})
			layers = append(layers, l)
		}
	}
	m.mu.Unlock()

	// Layer data locks are taken after the manager mutex is released
	for i, l := range layers {
		scene[i].Data = l.Data()
		scene[i].Generation = l.Generation()
	}
	return scene
}

// LayerInfo is a snapshot of one layer's registry entry
type LayerInfo struct {
	ID           string
	Name         string
	Kind         types.VolumeType
	State        types.LockState
	ProvenanceID types.ProvenanceID
	Generation   uint64
	Active       bool
}

// GroupTree is a group with the layers it held at snapshot time, bottom first
type GroupTree struct {
	ID     string
	Grid   types.GridTransform
	Layers []LayerInfo
}

// LayerTree returns the groups of sandbox with their layers, front group
// first. Membership, lock states and the active flag come from one registry
// snapshot.
func (m *Manager) LayerTree(sandbox types.SandboxID) ([]GroupTree, error) {
	m.mu.Lock()
	s, err := m.spaceFor(sandbox)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	tree := make([]GroupTree, 0, len(s.groups))
	var layers []*layer.Layer
	for _, g := range s.groups {
		gt := GroupTree{ID: g.ID, Grid: g.Grid}
		for _, id := range g.Layers() {
			l := s.layers[id]
			if l == nil {
				continue
			}
			gt.Layers = append(gt.Layers, LayerInfo{
				ID:           l.ID,
				Name:         l.Name,
				Kind:         l.Kind,
				State:        l.Guard.State(),
				ProvenanceID: l.ProvenanceID(),
				Active:       sandbox.IsLive() && l.ID == m.active,
			})
			layers = append(layers, l)
		}
		tree = append(tree, gt)
	}
	m.mu.Unlock()

	i := 0
	for g := range tree {
		for j := range tree[g].Layers {
			tree[g].Layers[j].Generation = layers[i].Generation()
			i++
		}
	}
	return tree, nil
}

// LayerName pairs a layer id with its display name
type LayerName struct {
	ID   string
	Name string
}

// LayerNames lists live layers whose kind matches kinds, front group first
func (m *Manager) LayerNames(kinds types.VolumeType) []LayerName {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []LayerName
	for _, g := range m.live.groups {
		for _, id := range g.Layers() {
			l := m.live.layers[id]
			if l != nil && l.Kind.Matches(kinds) {
				names = append(names, LayerName{ID: l.ID, Name: l.Name})
			}
		}
	}
	return names
}

// LayersBBox returns the world space bounds of every live group
func (m *Manager) LayersBBox() types.BBox {
	m.mu.Lock()
	defer m.mu.Unlock()

	var box types.BBox
	for _, g := range m.live.groups {
		box.Union(g.Grid.BBox())
	}
	return box
}

// Stats summarizes the registries for metrics and health reporting
type Stats struct {
	Groups        int
	Layers        int
	Sandboxes     int
	SandboxLayers int
	ByState       map[types.LockState]int
	ByKind        map[types.VolumeType]int
	ActiveLayer   string
}

// Snapshot returns registry counts
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		Groups:      len(m.live.groups),
		Layers:      len(m.live.layers),
		Sandboxes:   len(m.sandboxes),
		ByState:     make(map[types.LockState]int),
		ByKind:      make(map[types.VolumeType]int),
		ActiveLayer: m.active,
	}
	count := func(l *layer.Layer) {
		st.ByState[l.Guard.State()]++
		st.ByKind[l.Kind]++
	}
	for _, l := range m.live.layers {
		count(l)
	}
	for _, s := range m.sandboxes {
		st.SandboxLayers += len(s.layers)
		for _, l := range s.layers {
			count(l)
		}
	}
	return st
}
