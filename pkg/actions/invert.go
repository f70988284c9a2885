package actions

import (
	"fmt"
	"strconv"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/filter"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/types"
)

// Invert mirrors the values of a layer: masks become 1-v, data layers
// min+max-v. With replace the layer is rewritten in place. zmin and zmax
// restrict the inversion to a slab of slices; the rest is copied unchanged.
type Invert struct {
	env     *Env
	target  string
	replace bool
	zmin    int
	zmax    int
	sandbox types.SandboxID
}

func newInvert(env *Env, p action.Params) (*Invert, error) {
	a := &Invert{env: env}
	var err error
	if a.target, err = p.RequireString("target"); err != nil {
		return nil, err
	}
	if a.replace, err = p.GetBool("replace", false); err != nil {
		return nil, err
	}
	zmin, err := p.GetInt("zmin", -1)
	if err != nil {
		return nil, err
	}
	zmax, err := p.GetInt("zmax", -1)
	if err != nil {
		return nil, err
	}
	a.zmin, a.zmax = int(zmin), int(zmax)
	if a.sandbox, err = sandboxParam(p); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Invert) Name() string { return NameInvert }

func (a *Invert) Params() action.Params {
	p := action.NewParams("target", a.target, "replace", strconv.FormatBool(a.replace))
	if a.ranged() {
		p.SetInt("zmin", int64(a.zmin))
		p.SetInt("zmax", int64(a.zmax))
	}
	return withSandbox(p, a.sandbox)
}

func (a *Invert) ranged() bool {
	return a.zmin >= 0 || a.zmax >= 0
}

func (a *Invert) Validate(ctx *action.Context) error {
	mgr := a.env.Layers
	if err := mgr.CheckSandbox(a.sandbox); err != nil {
		return err
	}
	if err := mgr.CheckLayerExistenceAndType(a.target, types.VolumeData|types.VolumeMask, a.sandbox); err != nil {
		return err
	}
	if err := mgr.CheckAvailability(a.target, a.replace, a.sandbox); err != nil {
		return err
	}
	if !a.ranged() {
		return nil
	}
	l, err := mgr.GetLayer(a.target, a.sandbox)
	if err != nil {
		return err
	}
	block := l.Data()
	if block == nil {
		return fmt.Errorf("%w: layer %s has no data", types.ErrInvalidParam, a.target)
	}
	if a.zmin < 0 || a.zmax < a.zmin || a.zmax >= block.Dims[2] {
		return fmt.Errorf("%w: slices [%d,%d] outside [0,%d]", types.ErrOutOfRange, a.zmin, a.zmax, block.Dims[2]-1)
	}
	return nil
}

func (a *Invert) Run(ctx *action.Context) (*action.Result, error) {
	l, err := a.env.Layers.GetLayer(a.target, a.sandbox)
	if err != nil {
		return nil, err
	}
	target := a.target
	kind := l.Kind
	ranged, zmin, zmax := a.ranged(), a.zmin, a.zmax

	fl := filterLaunch{
		action:  a,
		sandbox: a.sandbox,
	}
	if a.replace {
		in := filterInput{id: target, mode: rewriteInput}
		if ranged {
			in.slices = &[2]int{zmin, zmax}
		}
		fl.inputs = []filterInput{in}
	} else {
		fl.inputs = []filterInput{{id: target, mode: readInput}}
		fl.outputs = []filterOutput{{kind: kind, grid: l.Grid, name: "Invert_" + l.Name}}
	}
	fl.body = func(job *filter.Job, created []string) (filter.Output, error) {
		src := job.Input(target)
		if src == nil {
			return nil, fmt.Errorf("layer %s has no data", target)
		}
		sum := src.Min + src.Max
		if kind == types.VolumeMask {
			sum = 1
		}
		voxels := make([]float32, src.Len())
		n := src.SliceLen()
		err := job.ForEachSlice(src.Dims[2], func(z int) error {
			out := voxels[z*n : (z+1)*n]
			if ranged && (z < zmin || z > zmax) {
				copy(out, src.Slice(z))
			} else {
				for i, v := range src.Slice(z) {
					out[i] = sum - v
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
		dest := target
		if len(created) > 0 {
			dest = created[0]
		}
		return filter.Output{dest: block}, nil
	}
	return a.env.launch(ctx, fl)
}
