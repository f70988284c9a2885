/*
Package types defines the identifiers, enums and geometry shared by every
stratum package.

# Core Types

Identity:
  - SandboxID: isolated layer namespace (-1 live project, 0 provenance replay)
  - ProvenanceID: content lineage of a layer, survives duplication and undo
  - ProvenanceStepID: one recorded step in the provenance trail
  - IDCount: layer/group numbering counters restored by undo

Layers:
  - VolumeType: data, mask or large data (bit flags, combinable into masks)
  - LockState: available, in_use, processing, deleting

Geometry:
  - GridTransform: voxel dimensions plus 4x4 index-to-world matrix
  - BBox, Point: world space bounding boxes

Actions:
  - ActionSource: interface, script, provenance, undo_buffer
  - ActionStatus: success, invalid, unavailable, error

# Grid Equality

Layers are grouped by identical grid transforms. GridTransform is a plain
comparable struct, so two grids belong to the same group exactly when
a == b holds:

	g1 := types.NewGridTransform(64, 64, 32, types.Point{}, types.Point{1, 1, 2})
	g2 := types.NewGridTransform(64, 64, 32, types.Point{}, types.Point{1, 1, 2})
	same := g1 == g2 // true

# Sandboxes

	types.LiveSandbox   // -1, what normal lookups see
	types.ReplaySandbox // 0, reserved for provenance replay
*/
package types
