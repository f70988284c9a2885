package actions

import (
	"fmt"
	"math"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/filter"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/types"
)

// Threshold creates a mask of the voxels of a data layer whose value lies in
// [lower, upper]. Without bounds the mask keeps the voxels from the mean of
// the data up to its maximum, and the recorded step gets the bounds used.
type Threshold struct {
	env     *Env
	target  string
	lower   float64
	upper   float64
	sandbox types.SandboxID
}

func newThreshold(env *Env, p action.Params) (*Threshold, error) {
	a := &Threshold{env: env}
	var err error
	if a.target, err = p.RequireString("target"); err != nil {
		return nil, err
	}
	if a.lower, err = p.GetFloat("lower", math.NaN()); err != nil {
		return nil, err
	}
	if a.upper, err = p.GetFloat("upper", math.NaN()); err != nil {
		return nil, err
	}
	if a.sandbox, err = sandboxParam(p); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Threshold) Name() string { return NameThreshold }

func (a *Threshold) automatic() bool {
	return math.IsNaN(a.lower) && math.IsNaN(a.upper)
}

func (a *Threshold) Params() action.Params {
	p := action.NewParams("target", a.target)
	if !a.automatic() {
		p.SetFloat("lower", a.lower)
		p.SetFloat("upper", a.upper)
	}
	return withSandbox(p, a.sandbox)
}

func (a *Threshold) Validate(ctx *action.Context) error {
	mgr := a.env.Layers
	if err := mgr.CheckSandbox(a.sandbox); err != nil {
		return err
	}
	if err := mgr.CheckLayerExistenceAndType(a.target, types.VolumeData, a.sandbox); err != nil {
		return err
	}
	if err := mgr.CheckAvailabilityForUse(a.target, a.sandbox); err != nil {
		return err
	}
	if a.automatic() {
		return nil
	}
	if math.IsNaN(a.lower) || math.IsNaN(a.upper) {
		return fmt.Errorf("%w: lower and upper go together", types.ErrInvalidParam)
	}
	if a.lower > a.upper {
		a.lower, a.upper = a.upper, a.lower
	}

	l, err := mgr.GetLayer(a.target, a.sandbox)
	if err != nil {
		return err
	}
	if block := l.Data(); block != nil {
		if a.upper < float64(block.Min) || a.lower > float64(block.Max) {
			return fmt.Errorf("%w: [%g,%g] outside data range [%g,%g]",
				types.ErrOutOfRange, a.lower, a.upper, block.Min, block.Max)
		}
	}
	return nil
}

func (a *Threshold) Run(ctx *action.Context) (*action.Result, error) {
	l, err := a.env.Layers.GetLayer(a.target, a.sandbox)
	if err != nil {
		return nil, err
	}
	target := a.target
	auto := a.automatic()
	lower, upper := float32(a.lower), float32(a.upper)

	fl := filterLaunch{
		action:  a,
		sandbox: a.sandbox,
		inputs:  []filterInput{{id: target, mode: readInput}},
		outputs: []filterOutput{{kind: types.VolumeMask, grid: l.Grid, name: "Threshold_" + l.Name}},
		body: func(job *filter.Job, created []string) (filter.Output, error) {
			src := job.Input(target)
			if src == nil {
				return nil, fmt.Errorf("layer %s has no data", target)
			}
			if auto {
				lower, upper = meanBound(src), src.Max
			}
			voxels := make([]float32, src.Len())
			n := src.SliceLen()
			err := job.ForEachSlice(src.Dims[2], func(z int) error {
				out := voxels[z*n : (z+1)*n]
				for i, v := range src.Slice(z) {
					if v >= lower && v <= upper {
						out[i] = 1
					}
				}
				job.ReportProgress(float64(z+1) / float64(src.Dims[2]))
				return nil
			})
			if err != nil {
				return nil, err
			}
			mask, err := layer.NewDataBlock(src.Dims, voxels)
			if err != nil {
				return nil, err
			}
			return filter.Output{created[0]: mask}, nil
		},
	}
	if auto {
		fl.finalParams = func() action.Params {
			p := a.Params()
			p.SetFloat("lower", float64(lower))
			p.SetFloat("upper", float64(upper))
			return p
		}
	}
	return a.env.launch(ctx, fl)
}

// meanBound returns the mean voxel value of b
func meanBound(b *layer.DataBlock) float32 {
	if b.Len() == 0 {
		return b.Min
	}
	var sum float64
	for _, v := range b.Voxels {
		sum += float64(v)
	}
	return float32(sum / float64(b.Len()))
}
