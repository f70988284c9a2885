package actions

import (
	"fmt"
	"strconv"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/filter"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/types"
)

// MaskData keeps the voxels of a data layer that lie inside a mask and sets
// the others to replace_with
type MaskData struct {
	env         *Env
	target      string
	mask        string
	replaceWith float64
	invertMask  bool
	replace     bool
	sandbox     types.SandboxID
}

func newMaskData(env *Env, p action.Params) (*MaskData, error) {
	a := &MaskData{env: env}
	var err error
	if a.target, err = p.RequireString("target"); err != nil {
		return nil, err
	}
	if a.mask, err = p.RequireString("mask"); err != nil {
		return nil, err
	}
	if a.replaceWith, err = p.GetFloat("replace_with", 0); err != nil {
		return nil, err
	}
	if a.invertMask, err = p.GetBool("invert_mask", false); err != nil {
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

func (a *MaskData) Name() string { return NameMaskData }

func (a *MaskData) Params() action.Params {
	p := action.NewParams(
		"target", a.target,
		"mask", a.mask,
		"replace_with", strconv.FormatFloat(a.replaceWith, 'g', -1, 64),
		"invert_mask", strconv.FormatBool(a.invertMask),
		"replace", strconv.FormatBool(a.replace),
	)
	return withSandbox(p, a.sandbox)
}

func (a *MaskData) Validate(ctx *action.Context) error {
	mgr := a.env.Layers
	if err := mgr.CheckSandbox(a.sandbox); err != nil {
		return err
	}
	if a.target == a.mask {
		return fmt.Errorf("%w: target and mask are the same layer", types.ErrInvalidParam)
	}
	if err := mgr.CheckLayerExistenceAndType(a.target, types.VolumeData, a.sandbox); err != nil {
		return err
	}
	if err := mgr.CheckLayerExistenceAndType(a.mask, types.VolumeMask, a.sandbox); err != nil {
		return err
	}
	if err := mgr.CheckLayerSize(a.target, a.mask, a.sandbox); err != nil {
		return err
	}
	if err := mgr.CheckAvailability(a.target, a.replace, a.sandbox); err != nil {
		return err
	}
	return mgr.CheckAvailabilityForUse(a.mask, a.sandbox)
}

func (a *MaskData) Run(ctx *action.Context) (*action.Result, error) {
	l, err := a.env.Layers.GetLayer(a.target, a.sandbox)
	if err != nil {
		return nil, err
	}
	mode := readInput
	if a.replace {
		mode = replaceInput
	}
	target, mask := a.target, a.mask
	fill := float32(a.replaceWith)
	inside := !a.invertMask

	return a.env.launch(ctx, filterLaunch{
		action:  a,
		sandbox: a.sandbox,
		inputs:  []filterInput{{id: target, mode: mode}, {id: mask, mode: readInput}},
		outputs: []filterOutput{{kind: types.VolumeData, grid: l.Grid, name: "MaskData_" + l.Name}},
		body: func(job *filter.Job, created []string) (filter.Output, error) {
			src, m := job.Input(target), job.Input(mask)
			if src == nil || m == nil {
				return nil, errNoData
			}
			if src.Dims != m.Dims {
				return nil, fmt.Errorf("%w: %v and %v", types.ErrGridMismatch, src.Dims, m.Dims)
			}
			voxels := make([]float32, src.Len())
			n := src.SliceLen()
			err := job.ForEachSlice(src.Dims[2], func(z int) error {
				out := voxels[z*n : (z+1)*n]
				ms := m.Slice(z)
				for i, v := range src.Slice(z) {
					if (ms[i] != 0) == inside {
						out[i] = v
					} else {
						out[i] = fill
					}
				}
				job.ReportProgress(float64(z+1) / float64(src.Dims[2]))
				return nil
			})
			if err != nil {
				return nil, err
			}
			block, err := layer.NewDataBlock(src.Dims, voxels)
			if err != nil {
				return nil, err
			}
			return filter.Output{created[0]: block}, nil
		},
	})
}
