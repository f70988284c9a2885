package actions

import (
	"fmt"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/filter"
	"github.com/cuemby/stratum/pkg/layer"
	"github.com/cuemby/stratum/pkg/log"
	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/provenance"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/cuemby/stratum/pkg/undo"
)

// inputMode says how a filter holds one of its input layers
type inputMode int

const (
	// readInput takes a shared use lock
	readInput inputMode = iota
	// rewriteInput takes the processing lock; the filter installs new data into it
	rewriteInput
	// replaceInput takes the processing lock and deletes the layer on success
	replaceInput
)

type filterInput struct {
	id   string
	mode inputMode
	// slices limits a rewritten input's undo checkpoint to z range [0]..[1]
	slices *[2]int
}

type filterOutput struct {
	kind types.VolumeType
	grid types.GridTransform
	name string
}

// filterLaunch describes one filter run. body receives the ids of the
// created outputs in the order of outputs.
type filterLaunch struct {
	action  action.Action
	sandbox types.SandboxID
	inputs  []filterInput
	outputs []filterOutput
	body    func(job *filter.Job, created []string) (filter.Output, error)
	// finalParams returns the parameters the body settled on. They replace
	// the recorded step's parameters once the filter succeeded.
	finalParams func() action.Params
}

func (e *Env) poster() filter.Poster {
	if e.Dispatcher == nil {
		return nil
	}
	return e.Dispatcher
}

func (e *Env) stepRemover() filter.StepRemover {
	if e.Provenance == nil {
		return nil
	}
	return e.Provenance
}

// launch locks the inputs, creates the outputs, records provenance and undo
// from the pre-run state, then starts the filter. Any failure before the
// start releases every lock taken so far. The returned result lists the
// created outputs followed by rewritten inputs and completes with the
// filter's outcome.
func (e *Env) launch(ctx *action.Context, fl filterLaunch) (*action.Result, error) {
	mgr := e.Layers
	idCount := mgr.IDCount()

	var (
		stamped  []string
		pids     []types.ProvenanceID
		result   *action.Result
		inputIDs []string
		stepID   = types.InvalidStepID
	)
	f := filter.New(filter.Config{
		Name:       fl.action.Name(),
		Sandbox:    fl.sandbox,
		Layers:     mgr,
		Dispatcher: e.poster(),
		Provenance: e.stepRemover(),
		Publisher:  e.publisher(),
		OnFinish: func(err error) {
			if err == nil && len(pids) == len(stamped) {
				for i, id := range stamped {
					if l, lerr := mgr.GetLayer(id, fl.sandbox); lerr == nil {
						l.SetProvenanceID(pids[i])
					}
				}
			}
			if err == nil && fl.finalParams != nil && stepID != types.InvalidStepID {
				params := provenance.Placeholders(fl.finalParams(), inputIDs).String()
				if uerr := e.Provenance.Update(stepID, params); uerr != nil {
					logger := log.WithAction(fl.action.Name())
					logger.Warn().Err(uerr).
						Int64("step_id", int64(stepID)).
						Msg("Failed to update provenance parameters")
				}
			}
			if result != nil {
				result.Complete(err)
			}
		},
	})

	var (
		rewritten  []string
		restore    []*layer.Layer
		slabs      []*layer.Checkpoint
		replaced   []manager.Removed
		replacePID []types.ProvenanceID
	)
	for _, in := range fl.inputs {
		l, err := mgr.GetLayer(in.id, fl.sandbox)
		if err != nil {
			f.Release()
			return nil, err
		}
		inputIDs = append(inputIDs, in.id)

		switch in.mode {
		case readInput:
			err = f.LockForUse(in.id)
		case rewriteInput:
			if err = f.LockForProcessing(in.id); err == nil {
				if in.slices != nil {
					var cp *layer.Checkpoint
					if cp, err = layer.NewSliceCheckpoint(l, in.slices[0], in.slices[1]); err == nil {
						slabs = append(slabs, cp)
					}
				} else {
					restore = append(restore, l)
				}
				if err == nil {
					rewritten = append(rewritten, in.id)
					replacePID = append(replacePID, l.ProvenanceID())
				}
			}
		case replaceInput:
			if err = f.LockForProcessing(in.id); err == nil {
				err = f.ReplaceOnSuccess(in.id)
			}
			if err == nil {
				var pos manager.Position
				if pos, err = mgr.LayerPosition(in.id); err == nil {
					replaced = append(replaced, manager.Removed{Layer: l, Position: pos})
					replacePID = append(replacePID, l.ProvenanceID())
				}
			}
		}
		if err != nil {
			f.Release()
			return nil, err
		}
	}

	for _, out := range fl.outputs {
		if _, err := f.CreateAndLockLayer(out.kind, out.grid, out.name); err != nil {
			f.Release()
			return nil, err
		}
	}
	created := f.CreatedLayers()
	stamped = append(append(stamped, created...), rewritten...)

	if fl.sandbox.IsLive() {
		inputPIDs, err := e.provenanceIDs(inputIDs, fl.sandbox)
		if err != nil {
			f.Release()
			return nil, err
		}
		pids = make([]types.ProvenanceID, len(stamped))
		for i := range stamped {
			pids[i] = mgr.NewProvenanceID()
		}
		stepID, err = e.record(fl.sandbox, provenance.Step{
			Inputs:       inputPIDs,
			Outputs:      pids,
			Replaced:     replacePID,
			ActionName:   fl.action.Name(),
			ActionParams: provenance.Placeholders(fl.action.Params(), inputIDs).String(),
		})
		if err != nil {
			f.Release()
			return nil, fmt.Errorf("failed to record provenance: %w", err)
		}
		f.SetProvenanceStep(stepID)

		item := undo.NewItem(fl.action.Name())
		item.SetRedoAction(fl.action)
		item.AddFilterToAbort(f)
		for _, l := range restore {
			item.AddLayerToRestore(l)
		}
		for _, cp := range slabs {
			item.AddCheckpoint(cp)
		}
		for _, id := range created {
			item.AddLayerToDelete(id)
		}
		for _, r := range replaced {
			item.AddLayerToAdd(r)
		}
		item.SetIDCount(idCount)
		item.AddProvenanceStep(stepID)
		e.pushUndo(ctx, fl.sandbox, item)
	}

	result = action.NewResult(stamped...)
	body := fl.body
	f.Start(func(job *filter.Job) (filter.Output, error) {
		return body(job, created)
	})
	return result, nil
}
