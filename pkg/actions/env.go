package actions

import (
	"context"
	"fmt"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/dispatcher"
	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/provenance"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/cuemby/stratum/pkg/undo"
)

// Action names
const (
	NameCreateLayer         = "CreateLayer"
	NameThreshold           = "Threshold"
	NameInvert              = "Invert"
	NameCrop                = "Crop"
	NameMaskData            = "MaskData"
	NameDuplicate           = "Duplicate"
	NameDeleteLayers        = "DeleteLayers"
	NameActivateLayer       = "ActivateLayer"
	NameMoveLayer           = "MoveLayer"
	NameCreateSandbox       = "CreateSandbox"
	NameDeleteSandbox       = "DeleteSandbox"
	NameMigrateSandboxLayer = "MigrateSandboxLayer"
	NameRecreateLayer       = "RecreateLayer"
	NameUndo                = "Undo"
	NameRedo                = "Redo"
	NameAbortFilter         = "AbortFilter"
)

// Env holds the engine services the actions work on. Undo and Provenance may
// be nil, in which case actions push no undo items and record no steps.
type Env struct {
	Layers     *manager.Manager
	Dispatcher *dispatcher.Dispatcher
	Undo       *undo.Buffer
	Provenance *provenance.Log
	Registry   *action.Registry
	Publisher  events.Publisher

	// Context bounds replay scripts; nil means context.Background()
	Context context.Context
}

func (e *Env) context() context.Context {
	if e.Context == nil {
		return context.Background()
	}
	return e.Context
}

func (e *Env) publisher() events.Publisher {
	if e.Publisher == nil {
		return events.Discard{}
	}
	return e.Publisher
}

// Register adds a factory for every action to env.Registry
func Register(env *Env) {
	reg := env.Registry
	reg.Register(NameCreateLayer, func(p action.Params) (action.Action, error) { return newCreateLayer(env, p) })
	reg.Register(NameThreshold, func(p action.Params) (action.Action, error) { return newThreshold(env, p) })
	reg.Register(NameInvert, func(p action.Params) (action.Action, error) { return newInvert(env, p) })
	reg.Register(NameCrop, func(p action.Params) (action.Action, error) { return newCrop(env, p) })
	reg.Register(NameMaskData, func(p action.Params) (action.Action, error) { return newMaskData(env, p) })
	reg.Register(NameDuplicate, func(p action.Params) (action.Action, error) { return newDuplicate(env, p) })
	reg.Register(NameDeleteLayers, func(p action.Params) (action.Action, error) { return newDeleteLayers(env, p) })
	reg.Register(NameActivateLayer, func(p action.Params) (action.Action, error) { return newActivateLayer(env, p) })
	reg.Register(NameMoveLayer, func(p action.Params) (action.Action, error) { return newMoveLayer(env, p) })
	reg.Register(NameCreateSandbox, func(p action.Params) (action.Action, error) { return newCreateSandbox(env, p) })
	reg.Register(NameDeleteSandbox, func(p action.Params) (action.Action, error) { return newDeleteSandbox(env, p) })
	reg.Register(NameMigrateSandboxLayer, func(p action.Params) (action.Action, error) { return newMigrateSandboxLayer(env, p) })
	reg.Register(NameRecreateLayer, func(p action.Params) (action.Action, error) { return newRecreateLayer(env, p) })
	reg.Register(NameUndo, func(p action.Params) (action.Action, error) { return &Undo{env: env}, nil })
	reg.Register(NameRedo, func(p action.Params) (action.Action, error) { return &Redo{env: env}, nil })
	reg.Register(NameAbortFilter, func(p action.Params) (action.Action, error) { return newAbortFilter(env, p) })
}

// sandboxParam reads the optional sandbox parameter, live by default
func sandboxParam(p action.Params) (types.SandboxID, error) {
	n, err := p.GetInt("sandbox", int64(types.LiveSandbox))
	if err != nil {
		return 0, err
	}
	if n < int64(types.LiveSandbox) {
		return 0, fmt.Errorf("%w: sandbox %d", types.ErrInvalidParam, n)
	}
	return types.SandboxID(n), nil
}

// withSandbox appends the sandbox parameter unless it is the live project
func withSandbox(p action.Params, sandbox types.SandboxID) action.Params {
	if !sandbox.IsLive() {
		p.SetInt("sandbox", int64(sandbox))
	}
	return p
}

// pushUndo inserts item unless undo is disabled or the action runs in a sandbox
func (e *Env) pushUndo(ctx *action.Context, sandbox types.SandboxID, item *undo.Item) {
	if e.Undo == nil || !sandbox.IsLive() {
		return
	}
	e.Undo.Insert(ctx, item)
}

// record stores a provenance step for live actions. It returns
// InvalidStepID when nothing was recorded.
func (e *Env) record(sandbox types.SandboxID, step provenance.Step) (types.ProvenanceStepID, error) {
	if e.Provenance == nil || !sandbox.IsLive() {
		return types.InvalidStepID, nil
	}
	return e.Provenance.Record(step)
}

// provenanceIDs returns the provenance ids of layers, in order
func (e *Env) provenanceIDs(ids []string, sandbox types.SandboxID) ([]types.ProvenanceID, error) {
	out := make([]types.ProvenanceID, 0, len(ids))
	for _, id := range ids {
		l, err := e.Layers.GetLayer(id, sandbox)
		if err != nil {
			return nil, err
		}
		out = append(out, l.ProvenanceID())
	}
	return out, nil
}

// checkReplayIdle refuses work that must not overlap a replay in sandbox 0
func (e *Env) checkReplayIdle() error {
	if e.Layers.IsSandbox(types.ReplaySandbox) {
		return fmt.Errorf("%w: a layer recreation is running", types.ErrSandboxExists)
	}
	return nil
}
