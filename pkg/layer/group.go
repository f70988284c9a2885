package layer

import "github.com/cuemby/stratum/pkg/types"

// Group is an ordered list of layer ids sharing one grid transform.
// Index 0 is the bottom of the stack.
type Group struct {
	ID      string
	Grid    types.GridTransform
	Sandbox types.SandboxID

	layers []string
}

// NewGroup creates an empty group
func NewGroup(id string, grid types.GridTransform, sandbox types.SandboxID) *Group {
	return &Group{ID: id, Grid: grid, Sandbox: sandbox}
}

// Layers returns a copy of the ordered layer ids
func (g *Group) Layers() []string {
	out := make([]string, len(g.layers))
	copy(out, g.layers)
	return out
}

// Len returns the number of layers in the group
func (g *Group) Len() int {
	return len(g.layers)
}

// Empty reports whether the group holds no layers
func (g *Group) Empty() bool {
	return len(g.layers) == 0
}

// Position returns the index of id, or -1
func (g *Group) Position(id string) int {
	for i, lid := range g.layers {
		if lid == id {
			return i
		}
	}
	return -1
}

// Add places a layer using the display convention: data layers go to the
// bottom, masks go on top.
func (g *Group) Add(id string, kind types.VolumeType) int {
	if kind == types.VolumeMask {
		g.layers = append(g.layers, id)
		return len(g.layers) - 1
	}
	g.InsertAt(id, 0)
	return 0
}

// InsertAt inserts id at pos, clamped to the valid range
func (g *Group) InsertAt(id string, pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(g.layers) {
		pos = len(g.layers)
	}
	g.layers = append(g.layers, "")
	copy(g.layers[pos+1:], g.layers[pos:])
	g.layers[pos] = id
}

// Remove drops id from the group and returns its former position, or -1
func (g *Group) Remove(id string) int {
	pos := g.Position(id)
	if pos < 0 {
		return -1
	}
	g.layers = append(g.layers[:pos], g.layers[pos+1:]...)
	return pos
}

// Top returns the id of the top layer, or ""
func (g *Group) Top() string {
	if len(g.layers) == 0 {
		return ""
	}
	return g.layers[len(g.layers)-1]
}
