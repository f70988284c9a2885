package layer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cuemby/stratum/pkg/types"
)

const checkpointMagic = "STCK"
const checkpointVersion uint16 = 1

// Checkpoint is a restorable snapshot of a layer's content: either the whole
// data block or a z-slice range of it, plus the provenance id at capture time.
type Checkpoint struct {
	LayerID      string
	Kind         types.VolumeType
	Grid         types.GridTransform
	ProvenanceID types.ProvenanceID

	// Full checkpoints hold the complete block. Partial ones hold the slab
	// of slices ZMin..ZMax inclusive.
	Full  bool
	ZMin  int
	ZMax  int
	Block *DataBlock
}

// NewCheckpoint captures the complete content of l. The checkpoint shares the
// immutable data block, so capturing is O(1).
func NewCheckpoint(l *Layer) *Checkpoint {
	return &Checkpoint{
		LayerID:      l.ID,
		Kind:         l.Kind,
		Grid:         l.Grid,
		ProvenanceID: l.ProvenanceID(),
		Full:         true,
		Block:        l.Data(),
	}
}

// NewSliceCheckpoint captures slices zmin..zmax of l
func NewSliceCheckpoint(l *Layer, zmin, zmax int) (*Checkpoint, error) {
	block := l.Data()
	if block == nil {
		return nil, fmt.Errorf("layer %s has no data", l.ID)
	}
	if zmin < 0 || zmax >= block.Dims[2] || zmin > zmax {
		return nil, fmt.Errorf("%w: slice range [%d,%d] outside [0,%d]", types.ErrOutOfRange, zmin, zmax, block.Dims[2]-1)
	}

	n := block.SliceLen()
	voxels := make([]float32, n*(zmax-zmin+1))
	copy(voxels, block.Voxels[zmin*n:(zmax+1)*n])
	slab, err := NewDataBlock([3]int{block.Dims[0], block.Dims[1], zmax - zmin + 1}, voxels)
	if err != nil {
		return nil, err
	}

	return &Checkpoint{
		LayerID:      l.ID,
		Kind:         l.Kind,
		Grid:         l.Grid,
		ProvenanceID: l.ProvenanceID(),
		ZMin:         zmin,
		ZMax:         zmax,
		Block:        slab,
	}, nil
}

// Apply re-installs the captured content into l and restores its provenance id
func (c *Checkpoint) Apply(l *Layer) error {
	if l.Grid != c.Grid {
		return fmt.Errorf("%w: checkpoint of %s does not fit layer %s", types.ErrGridMismatch, c.LayerID, l.ID)
	}

	if c.Full {
		l.Install(c.Block)
		l.SetProvenanceID(c.ProvenanceID)
		return nil
	}

	current := l.Data()
	if current == nil {
		return fmt.Errorf("layer %s has no data to patch", l.ID)
	}
	if current.Dims[0] != c.Block.Dims[0] || current.Dims[1] != c.Block.Dims[1] || c.ZMax >= current.Dims[2] {
		return fmt.Errorf("%w: slice checkpoint does not fit layer %s", types.ErrOutOfRange, l.ID)
	}

	voxels := make([]float32, len(current.Voxels))
	copy(voxels, current.Voxels)
	n := current.SliceLen()
	copy(voxels[c.ZMin*n:(c.ZMax+1)*n], c.Block.Voxels)

	patched, err := NewDataBlock(current.Dims, voxels)
	if err != nil {
		return err
	}
	l.Install(patched)
	l.SetProvenanceID(c.ProvenanceID)
	return nil
}

// SizeBytes returns the memory held by the checkpoint's voxels
func (c *Checkpoint) SizeBytes() int64 {
	return c.Block.SizeBytes()
}

// MarshalBinary encodes the checkpoint as an opaque blob
func (c *Checkpoint) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(checkpointMagic)

	w := func(v interface{}) {
		// bytes.Buffer writes never fail
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}

	w(checkpointVersion)
	w(uint32(len(c.LayerID)))
	buf.WriteString(c.LayerID)
	w(int32(c.Kind))
	for _, d := range c.Grid.Dims {
		w(int32(d))
	}
	w(c.Grid.Matrix)
	w(int64(c.ProvenanceID))
	w(c.Full)
	w(int32(c.ZMin))
	w(int32(c.ZMax))

	w(c.Block != nil)
	if c.Block != nil {
		for _, d := range c.Block.Dims {
			w(int32(d))
		}
		w(uint32(len(c.Block.Voxels)))
		w(c.Block.Voxels)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a blob produced by MarshalBinary
func (c *Checkpoint) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	magic := make([]byte, len(checkpointMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != checkpointMagic {
		return errors.New("not a checkpoint blob")
	}

	var err error
	rd := func(v interface{}) {
		if err == nil {
			err = binary.Read(r, binary.LittleEndian, v)
		}
	}

	var version uint16
	rd(&version)
	if err == nil && version != checkpointVersion {
		return fmt.Errorf("unsupported checkpoint version %d", version)
	}

	var idLen uint32
	rd(&idLen)
	if err != nil {
		return fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if int(idLen) > r.Len() {
		return errors.New("failed to decode checkpoint: truncated layer id")
	}
	id := make([]byte, idLen)
	if _, rerr := io.ReadFull(r, id); rerr != nil {
		return fmt.Errorf("failed to decode checkpoint: %w", rerr)
	}

	var kind int32
	var dims [3]int32
	var pid int64
	var zmin, zmax int32
	var hasBlock bool
	var out Checkpoint

	rd(&kind)
	rd(&dims)
	rd(&out.Grid.Matrix)
	rd(&pid)
	rd(&out.Full)
	rd(&zmin)
	rd(&zmax)
	rd(&hasBlock)
	if err != nil {
		return fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	out.LayerID = string(id)
	out.Kind = types.VolumeType(kind)
	out.Grid.Dims = [3]int{int(dims[0]), int(dims[1]), int(dims[2])}
	out.ProvenanceID = types.ProvenanceID(pid)
	out.ZMin, out.ZMax = int(zmin), int(zmax)

	if hasBlock {
		var bdims [3]int32
		var n uint32
		rd(&bdims)
		rd(&n)
		if err != nil {
			return fmt.Errorf("failed to decode checkpoint: %w", err)
		}
		if int(n)*4 > r.Len() {
			return errors.New("failed to decode checkpoint: truncated voxels")
		}
		voxels := make([]float32, n)
		rd(voxels)
		if err != nil {
			return fmt.Errorf("failed to decode checkpoint: %w", err)
		}
		block, berr := NewDataBlock([3]int{int(bdims[0]), int(bdims[1]), int(bdims[2])}, voxels)
		if berr != nil {
			return fmt.Errorf("failed to decode checkpoint: %w", berr)
		}
		out.Block = block
	}

	*c = out
	return nil
}
