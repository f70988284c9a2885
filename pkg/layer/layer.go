package layer

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/stratum/pkg/types"
)

// AbortHandle is implemented by the filter currently processing a layer
type AbortHandle interface {
	RaiseAbort()
}

// Layer is one addressable volume. Identity, kind and grid are fixed at
// creation. Guard, GroupID, Selected and the render parameters belong to the
// layer manager and are only touched under its mutex. The data block has its
// own mutex and is replaced whole by Install.
type Layer struct {
	ID      string
	Name    string
	Kind    types.VolumeType
	Grid    types.GridTransform
	Sandbox types.SandboxID

	// Manager owned state
	GroupID  string
	Selected bool
	Opacity  float64
	Color    int
	Guard    Guard
	hidden   map[int]bool
	abort    AbortHandle

	provenanceID atomic.Int64
	generation   atomic.Uint64

	dataMu sync.RWMutex
	data   *DataBlock
}

// New creates an empty layer with no data and no provenance
func New(id, name string, kind types.VolumeType, grid types.GridTransform, sandbox types.SandboxID) *Layer {
	l := &Layer{
		ID:      id,
		Name:    name,
		Kind:    kind,
		Grid:    grid,
		Sandbox: sandbox,
		Opacity: 1,
	}
	l.provenanceID.Store(int64(types.InvalidProvenanceID))
	return l
}

// ProvenanceID returns the content lineage id
func (l *Layer) ProvenanceID() types.ProvenanceID {
	return types.ProvenanceID(l.provenanceID.Load())
}

// SetProvenanceID replaces the content lineage id
func (l *Layer) SetProvenanceID(id types.ProvenanceID) {
	l.provenanceID.Store(int64(id))
}

// Generation returns the number of data installs this layer has seen
func (l *Layer) Generation() uint64 {
	return l.generation.Load()
}

// Data returns the current data block, or nil if none was installed
func (l *Layer) Data() *DataBlock {
	l.dataMu.RLock()
	defer l.dataMu.RUnlock()
	return l.data
}

// HasData reports whether a data block has been installed
func (l *Layer) HasData() bool {
	return l.Data() != nil
}

// Install swaps in a new data block and bumps the generation
func (l *Layer) Install(block *DataBlock) uint64 {
	l.dataMu.Lock()
	l.data = block
	gen := l.generation.Add(1)
	l.dataMu.Unlock()
	return gen
}

// Visible reports whether the layer is shown in the given viewer
func (l *Layer) Visible(viewer int) bool {
	return !l.hidden[viewer]
}

// SetVisible shows or hides the layer in the given viewer
func (l *Layer) SetVisible(viewer int, visible bool) {
	if visible {
		delete(l.hidden, viewer)
		return
	}
	if l.hidden == nil {
		l.hidden = make(map[int]bool)
	}
	l.hidden[viewer] = true
}

// AbortHandle returns the filter processing this layer, if any
func (l *Layer) AbortHandle() AbortHandle {
	return l.abort
}

// SetAbortHandle attaches or clears the processing filter
func (l *Layer) SetAbortHandle(h AbortHandle) {
	l.abort = h
}

// Duplicate returns a copy of the layer under a new id. The copy shares the
// immutable data block, keeps the provenance id and starts Available.
func (l *Layer) Duplicate(newID, name string, sandbox types.SandboxID) *Layer {
	dup := New(newID, name, l.Kind, l.Grid, sandbox)
	dup.Opacity = l.Opacity
	dup.Color = l.Color
	dup.SetProvenanceID(l.ProvenanceID())
	if block := l.Data(); block != nil {
		dup.Install(block)
	}
	return dup
}
