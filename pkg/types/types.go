package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VolumeType identifies the kind of volume stored in a layer
type VolumeType int

const (
	VolumeData      VolumeType = 1
	VolumeMask      VolumeType = 2
	VolumeLargeData VolumeType = 4

	// VolumeAll matches every volume type in name and scene queries
	VolumeAll = VolumeData | VolumeMask | VolumeLargeData
)

// String returns the lowercase name of the volume type
func (v VolumeType) String() string {
	switch v {
	case VolumeData:
		return "data"
	case VolumeMask:
		return "mask"
	case VolumeLargeData:
		return "large_data"
	case VolumeAll:
		return "all"
	default:
		return "unknown"
	}
}

// Matches reports whether v is included in the type mask
func (v VolumeType) Matches(mask VolumeType) bool {
	return v&mask != 0
}

// ParseVolumeType converts a parameter string into a VolumeType
func ParseVolumeType(s string) (VolumeType, error) {
	switch strings.ToLower(s) {
	case "data":
		return VolumeData, nil
	case "mask":
		return VolumeMask, nil
	case "large_data", "largedata":
		return VolumeLargeData, nil
	case "all":
		return VolumeAll, nil
	default:
		return 0, fmt.Errorf("unknown volume type: %q", s)
	}
}

// LockState represents the access state of a layer
type LockState string

const (
	LockAvailable  LockState = "available"
	LockInUse      LockState = "in_use"
	LockProcessing LockState = "processing"
	LockDeleting   LockState = "deleting"
)

// SandboxID identifies an isolated layer namespace
type SandboxID int

const (
	// LiveSandbox is the live project
	LiveSandbox SandboxID = -1

	// ReplaySandbox is reserved for provenance replay; at most one exists at a time
	ReplaySandbox SandboxID = 0
)

// String returns the sandbox id as a decimal string
func (s SandboxID) String() string {
	return strconv.Itoa(int(s))
}

// IsLive reports whether the sandbox id denotes the live project
func (s SandboxID) IsLive() bool {
	return s < 0
}

// ProvenanceID identifies the content lineage of a layer
type ProvenanceID int64

// InvalidProvenanceID marks a layer without recorded lineage
const InvalidProvenanceID ProvenanceID = -1

// ProvenanceStepID identifies one recorded provenance step
type ProvenanceStepID int64

// InvalidStepID marks an action that recorded no provenance step
const InvalidStepID ProvenanceStepID = -1

// IDCount holds the layer and group numbering counters.
// Undo restores a saved IDCount so re-running an action yields the same ids.
type IDCount struct {
	LayerCount int64 `json:"layer_count"`
	GroupCount int64 `json:"group_count"`
}

// Valid reports whether the counters were captured
func (c IDCount) Valid() bool {
	return c.LayerCount >= 0 && c.GroupCount >= 0
}

// InvalidIDCount is the zero state for items that do not touch numbering
var InvalidIDCount = IDCount{LayerCount: -1, GroupCount: -1}

// ActionSource identifies where an action was submitted from
type ActionSource string

const (
	SourceInterface  ActionSource = "interface"
	SourceScript     ActionSource = "script"
	SourceProvenance ActionSource = "provenance"
	SourceUndoBuffer ActionSource = "undo_buffer"
)

// ActionStatus is the outcome reported for a dispatched action
type ActionStatus string

const (
	StatusPending     ActionStatus = "pending"
	StatusSuccess     ActionStatus = "success"
	StatusInvalid     ActionStatus = "invalid"
	StatusUnavailable ActionStatus = "unavailable"
	StatusError       ActionStatus = "error"
)

// Point is a 3D point in world space
type Point [3]float64

// BBox is an axis aligned bounding box in world space
type BBox struct {
	Min   Point
	Max   Point
	Valid bool
}

// Extend grows the box to include p
func (b *BBox) Extend(p Point) {
	if !b.Valid {
		b.Min, b.Max, b.Valid = p, p, true
		return
	}
	for i := 0; i < 3; i++ {
		b.Min[i] = math.Min(b.Min[i], p[i])
		b.Max[i] = math.Max(b.Max[i], p[i])
	}
}

// Union grows the box to include other
func (b *BBox) Union(other BBox) {
	if !other.Valid {
		return
	}
	b.Extend(other.Min)
	b.Extend(other.Max)
}

// GridTransform describes the voxel grid of a layer: its dimensions and the
// 4x4 row-major index-to-world matrix. Two transforms are byte-identical iff
// they compare equal with ==.
type GridTransform struct {
	Dims   [3]int
	Matrix [16]float64
}

// NewGridTransform creates an axis aligned grid with the given origin and spacing
func NewGridTransform(nx, ny, nz int, origin, spacing Point) GridTransform {
	return GridTransform{
		Dims: [3]int{nx, ny, nz},
		Matrix: [16]float64{
			spacing[0], 0, 0, origin[0],
			0, spacing[1], 0, origin[1],
			0, 0, spacing[2], origin[2],
			0, 0, 0, 1,
		},
	}
}

// NumVoxels returns the number of voxels in the grid
func (g GridTransform) NumVoxels() int {
	return g.Dims[0] * g.Dims[1] * g.Dims[2]
}

// Project maps an index space point into world space
func (g GridTransform) Project(p Point) Point {
	m := g.Matrix
	return Point{
		m[0]*p[0] + m[1]*p[1] + m[2]*p[2] + m[3],
		m[4]*p[0] + m[5]*p[1] + m[6]*p[2] + m[7],
		m[8]*p[0] + m[9]*p[1] + m[10]*p[2] + m[11],
	}
}

// Shift returns a transform whose index origin is moved by offset voxels and whose
// dimensions are dims. Used by cropping.
func (g GridTransform) Shift(offset [3]int, dims [3]int) GridTransform {
	origin := g.Project(Point{float64(offset[0]), float64(offset[1]), float64(offset[2])})
	out := g
	out.Dims = dims
	out.Matrix[3], out.Matrix[7], out.Matrix[11] = origin[0], origin[1], origin[2]
	return out
}

// BBox returns the world space bounding box of the grid's voxel centers
func (g GridTransform) BBox() BBox {
	var box BBox
	if g.NumVoxels() == 0 {
		return box
	}
	for i := 0; i < 8; i++ {
		corner := Point{0, 0, 0}
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) != 0 {
				corner[axis] = float64(g.Dims[axis] - 1)
			}
		}
		box.Extend(g.Project(corner))
	}
	return box
}

// Valid reports whether all dimensions are positive
func (g GridTransform) Valid() bool {
	return g.Dims[0] > 0 && g.Dims[1] > 0 && g.Dims[2] > 0
}

// String renders the grid dimensions
func (g GridTransform) String() string {
	return fmt.Sprintf("%dx%dx%d", g.Dims[0], g.Dims[1], g.Dims[2])
}
