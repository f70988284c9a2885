package actions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/filter"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/types"
)

// Crop cuts a box of voxels out of one or more layers sharing a grid. The
// box is given in voxel indices and must lie inside the volume.
type Crop struct {
	env     *Env
	layers  []string
	origin  [3]int
	size    [3]int
	replace bool
	sandbox types.SandboxID
}

func newCrop(env *Env, p action.Params) (*Crop, error) {
	a := &Crop{env: env}
	var err error
	if a.layers = p.GetStrings("layers"); len(a.layers) == 0 {
		return nil, fmt.Errorf("%w: layers is required", types.ErrInvalidParam)
	}
	if a.origin, err = intTriple(p, "origin"); err != nil {
		return nil, err
	}
	if a.size, err = intTriple(p, "size"); err != nil {
		return nil, err
	}
	if a.replace, err = p.GetBool("replace", false); err != nil {
		return nil, err
	}
	if a.sandbox, err = sandboxParam(p); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Crop) Name() string { return NameCrop }

func (a *Crop) Params() action.Params {
	p := action.NewParams(
		"layers", strings.Join(a.layers, ","),
		"origin", joinInts(a.origin[:]),
		"size", joinInts(a.size[:]),
		"replace", strconv.FormatBool(a.replace),
	)
	return withSandbox(p, a.sandbox)
}

func (a *Crop) Validate(ctx *action.Context) error {
	mgr := a.env.Layers
	if err := mgr.CheckSandbox(a.sandbox); err != nil {
		return err
	}
	seen := make(map[string]bool, len(a.layers))
	for _, id := range a.layers {
		if seen[id] {
			return fmt.Errorf("%w: layer %s listed twice", types.ErrInvalidParam, id)
		}
		seen[id] = true
		if err := mgr.CheckLayerExistence(id, a.sandbox); err != nil {
			return err
		}
		if err := mgr.CheckLayerSize(a.layers[0], id, a.sandbox); err != nil {
			return err
		}
		if err := mgr.CheckAvailability(id, a.replace, a.sandbox); err != nil {
			return err
		}
	}

	l, err := mgr.GetLayer(a.layers[0], a.sandbox)
	if err != nil {
		return err
	}
	for axis := 0; axis < 3; axis++ {
		if a.origin[axis] < 0 || a.size[axis] <= 0 || a.origin[axis]+a.size[axis] > l.Grid.Dims[axis] {
			return fmt.Errorf("%w: crop box %v+%v outside volume %s",
				types.ErrOutOfRange, a.origin, a.size, l.Grid)
		}
	}
	return nil
}

func (a *Crop) Run(ctx *action.Context) (*action.Result, error) {
	mode := readInput
	if a.replace {
		mode = replaceInput
	}
	fl := filterLaunch{action: a, sandbox: a.sandbox}
	for _, id := range a.layers {
		l, err := a.env.Layers.GetLayer(id, a.sandbox)
		if err != nil {
			return nil, err
		}
		fl.inputs = append(fl.inputs, filterInput{id: id, mode: mode})
		fl.outputs = append(fl.outputs, filterOutput{
			kind: l.Kind,
			grid: l.Grid.Shift(a.origin, a.size),
			name: "Crop_" + l.Name,
		})
	}

	sources := append([]string(nil), a.layers...)
	origin, size := a.origin, a.size
	fl.body = func(job *filter.Job, created []string) (filter.Output, error) {
		out := make(filter.Output, len(created))
		for i, id := range sources {
			if job.CheckAbort() {
				return nil, filter.ErrAborted
			}
			block, err := cropBlock(job.Input(id), origin, size)
			if err != nil {
				return nil, fmt.Errorf("crop %s: %w", id, err)
			}
			out[created[i]] = block
			job.ReportProgress(float64(i+1) / float64(len(sources)))
		}
		return out, nil
	}
	return a.env.launch(ctx, fl)
}

var errNoData = errors.New("layer has no data")

func cropBlock(src *layer.DataBlock, origin, size [3]int) (*layer.DataBlock, error) {
	if src == nil {
		return nil, errNoData
	}
	voxels := make([]float32, 0, size[0]*size[1]*size[2])
	for z := origin[2]; z < origin[2]+size[2]; z++ {
		for y := origin[1]; y < origin[1]+size[1]; y++ {
			start := src.Index(origin[0], y, z)
			voxels = append(voxels, src.Voxels[start:start+size[0]]...)
		}
	}
	return layer.NewDataBlock(size, voxels)
}
