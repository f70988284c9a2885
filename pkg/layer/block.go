package layer

import (
	"fmt"
	"math"
)

// DataBlock is an immutable voxel volume. Once a block is installed in a
// layer nobody writes to Voxels again; producers build a new block instead.
type DataBlock struct {
	Dims   [3]int
	Voxels []float32
	Min    float32
	Max    float32
}

// NewDataBlock wraps voxels in a block and computes its value range.
// The block takes ownership of voxels.
func NewDataBlock(dims [3]int, voxels []float32) (*DataBlock, error) {
	n := dims[0] * dims[1] * dims[2]
	if n <= 0 {
		return nil, fmt.Errorf("invalid block dimensions %v", dims)
	}
	if len(voxels) != n {
		return nil, fmt.Errorf("block %v needs %d voxels, got %d", dims, n, len(voxels))
	}

	b := &DataBlock{Dims: dims, Voxels: voxels}
	b.Min, b.Max = float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range voxels {
		if v < b.Min {
			b.Min = v
		}
		if v > b.Max {
			b.Max = v
		}
	}
	return b, nil
}

// NewFilledBlock creates a block with every voxel set to value
func NewFilledBlock(dims [3]int, value float32) (*DataBlock, error) {
	n := dims[0] * dims[1] * dims[2]
	if n <= 0 {
		return nil, fmt.Errorf("invalid block dimensions %v", dims)
	}
	voxels := make([]float32, n)
	for i := range voxels {
		voxels[i] = value
	}
	return NewDataBlock(dims, voxels)
}

// Index returns the linear index of voxel (x, y, z)
func (b *DataBlock) Index(x, y, z int) int {
	return (z*b.Dims[1]+y)*b.Dims[0] + x
}

// At returns the value of voxel (x, y, z)
func (b *DataBlock) At(x, y, z int) float32 {
	return b.Voxels[b.Index(x, y, z)]
}

// SliceLen returns the number of voxels in one z slice
func (b *DataBlock) SliceLen() int {
	return b.Dims[0] * b.Dims[1]
}

// Slice returns the voxels of z slice z. The returned slice must not be modified.
func (b *DataBlock) Slice(z int) []float32 {
	n := b.SliceLen()
	return b.Voxels[z*n : (z+1)*n]
}

// Len returns the number of voxels
func (b *DataBlock) Len() int {
	return len(b.Voxels)
}

// SizeBytes returns the memory held by the voxel array
func (b *DataBlock) SizeBytes() int64 {
	if b == nil {
		return 0
	}
	return int64(len(b.Voxels)) * 4
}

// Equal reports whether both blocks hold the same voxels
func (b *DataBlock) Equal(other *DataBlock) bool {
	if b == nil || other == nil {
		return b == other
	}
	if b.Dims != other.Dims || len(b.Voxels) != len(other.Voxels) {
		return false
	}
	for i, v := range b.Voxels {
		if other.Voxels[i] != v {
			return false
		}
	}
	return true
}
