package actions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/provenance"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/cuemby/stratum/pkg/undo"
)

// Fill patterns of CreateLayer
const (
	PatternConstant = "constant"
	PatternRamp     = "ramp"
)

// CreateLayer creates a layer filled with a synthetic volume. It is the
// source of new content, standing in for file importers.
type CreateLayer struct {
	env     *Env
	name    string
	kind    types.VolumeType
	dims    [3]int
	origin  types.Point
	spacing types.Point
	value   float64
	pattern string
	sandbox types.SandboxID
}

func newCreateLayer(env *Env, p action.Params) (*CreateLayer, error) {
	a := &CreateLayer{env: env}
	var err error
	a.name = p.GetString("name", "")
	if a.kind, err = types.ParseVolumeType(p.GetString("kind", "data")); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidParam, err)
	}
	if a.dims, err = intTriple(p, "dims"); err != nil {
		return nil, err
	}
	if a.origin, err = pointParam(p, "origin", types.Point{}); err != nil {
		return nil, err
	}
	if a.spacing, err = pointParam(p, "spacing", types.Point{1, 1, 1}); err != nil {
		return nil, err
	}
	if a.value, err = p.GetFloat("value", 0); err != nil {
		return nil, err
	}
	a.pattern = p.GetString("pattern", PatternConstant)
	if a.sandbox, err = sandboxParam(p); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *CreateLayer) Name() string { return NameCreateLayer }

func (a *CreateLayer) Params() action.Params {
	p := action.NewParams(
		"name", a.name,
		"kind", a.kind.String(),
		"dims", joinInts(a.dims[:]),
		"origin", joinFloats(a.origin[:]),
		"spacing", joinFloats(a.spacing[:]),
		"value", strconv.FormatFloat(a.value, 'g', -1, 64),
		"pattern", a.pattern,
	)
	return withSandbox(p, a.sandbox)
}

func (a *CreateLayer) grid() types.GridTransform {
	return types.NewGridTransform(a.dims[0], a.dims[1], a.dims[2], a.origin, a.spacing)
}

func (a *CreateLayer) Validate(ctx *action.Context) error {
	if err := a.env.Layers.CheckSandbox(a.sandbox); err != nil {
		return err
	}
	if a.kind != types.VolumeData && a.kind != types.VolumeMask {
		return fmt.Errorf("%w: cannot create a %s layer", types.ErrWrongType, a.kind)
	}
	if !a.grid().Valid() {
		return fmt.Errorf("%w: dims %v", types.ErrOutOfRange, a.dims)
	}
	for _, s := range a.spacing {
		if s <= 0 {
			return fmt.Errorf("%w: spacing %v", types.ErrOutOfRange, a.spacing)
		}
	}
	switch a.pattern {
	case PatternConstant:
		if a.kind == types.VolumeMask && a.value != 0 && a.value != 1 {
			return fmt.Errorf("%w: mask value %g is not 0 or 1", types.ErrOutOfRange, a.value)
		}
	case PatternRamp:
		if a.kind == types.VolumeMask {
			return fmt.Errorf("%w: ramp pattern on a mask", types.ErrInvalidParam)
		}
	default:
		return fmt.Errorf("%w: pattern %q", types.ErrInvalidParam, a.pattern)
	}
	return nil
}

func (a *CreateLayer) block() (*layer.DataBlock, error) {
	if a.pattern == PatternConstant {
		return layer.NewFilledBlock(a.dims, float32(a.value))
	}
	// Ramp: value plus the normalised distance from the first voxel
	nx, ny, nz := a.dims[0], a.dims[1], a.dims[2]
	span := float64(nx + ny + nz - 3)
	voxels := make([]float32, nx*ny*nz)
	i := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				v := a.value
				if span > 0 {
					v += float64(x+y+z) / span
				}
				voxels[i] = float32(v)
				i++
			}
		}
	}
	return layer.NewDataBlock(a.dims, voxels)
}

func (a *CreateLayer) Run(ctx *action.Context) (*action.Result, error) {
	mgr := a.env.Layers
	idCount := mgr.IDCount()

	block, err := a.block()
	if err != nil {
		return nil, err
	}
	name := a.name
	l := mgr.NewLayer(name, a.kind, a.grid(), a.sandbox)
	if name == "" {
		l.Name = l.ID
	}
	l.Install(block)

	stepID := types.InvalidStepID
	if a.sandbox.IsLive() {
		pid := mgr.NewProvenanceID()
		l.SetProvenanceID(pid)
		stepID, err = a.env.record(a.sandbox, provenance.Step{
			Outputs:      []types.ProvenanceID{pid},
			ActionName:   a.Name(),
			ActionParams: a.Params().String(),
		})
		if err != nil {
			mgr.SetIDCount(idCount)
			return nil, fmt.Errorf("failed to record provenance: %w", err)
		}
	}

	if err := mgr.InsertLayer(l); err != nil {
		mgr.SetIDCount(idCount)
		if stepID != types.InvalidStepID {
			a.env.Provenance.Remove(stepID)
		}
		return nil, err
	}

	item := undo.NewItem("Create Layer")
	item.SetRedoAction(a)
	item.AddLayerToDelete(l.ID)
	item.SetIDCount(idCount)
	item.AddProvenanceStep(stepID)
	a.env.pushUndo(ctx, a.sandbox, item)

	return action.Completed(l.ID), nil
}

func intTriple(p action.Params, key string) ([3]int, error) {
	var out [3]int
	parts := p.GetStrings(key)
	if len(parts) != 3 {
		return out, fmt.Errorf("%w: %s needs three values", types.ErrInvalidParam, key)
	}
	for i, s := range parts {
		n, err := strconv.Atoi(s)
		if err != nil {
			return out, fmt.Errorf("%w: %s: %v", types.ErrInvalidParam, key, err)
		}
		out[i] = n
	}
	return out, nil
}

func pointParam(p action.Params, key string, def types.Point) (types.Point, error) {
	if !p.Has(key) {
		return def, nil
	}
	var out types.Point
	parts := p.GetStrings(key)
	if len(parts) != 3 {
		return out, fmt.Errorf("%w: %s needs three values", types.ErrInvalidParam, key)
	}
	for i, s := range parts {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return out, fmt.Errorf("%w: %s: %v", types.ErrInvalidParam, key, err)
		}
		out[i] = f
	}
	return out, nil
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
