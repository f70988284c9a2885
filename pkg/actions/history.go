package actions

import (
	"fmt"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/cuemby/stratum/pkg/undo"
)

// Undo reverts the newest undo item. It never pushes an item itself.
type Undo struct {
	env *Env
}

func (a *Undo) Name() string { return NameUndo }

func (a *Undo) Params() action.Params { return nil }

func (a *Undo) Validate(ctx *action.Context) error {
	if a.env.Undo == nil || !a.env.Undo.HasUndo() {
		return undo.ErrNothingToUndo
	}
	return a.env.checkReplayIdle()
}

func (a *Undo) Run(ctx *action.Context) (*action.Result, error) {
	if err := a.env.Undo.Undo(); err != nil {
		return nil, err
	}
	return action.Completed(), nil
}

// Redo runs the action of the newest redo item again
type Redo struct {
	env *Env
}

func (a *Redo) Name() string { return NameRedo }

func (a *Redo) Params() action.Params { return nil }

func (a *Redo) Validate(ctx *action.Context) error {
	if a.env.Undo == nil || !a.env.Undo.HasRedo() {
		return undo.ErrNothingToRedo
	}
	return a.env.checkReplayIdle()
}

func (a *Redo) Run(ctx *action.Context) (*action.Result, error) {
	rctx, err := a.env.Undo.Redo()
	if err != nil {
		return nil, err
	}
	if r := rctx.Result(); r != nil {
		return r, nil
	}
	return action.Completed(), nil
}

// AbortFilter raises the abort flag of the filter processing a layer
type AbortFilter struct {
	env   *Env
	layer string
}

func newAbortFilter(env *Env, p action.Params) (*AbortFilter, error) {
	id, err := p.RequireString("layer")
	if err != nil {
		return nil, err
	}
	return &AbortFilter{env: env, layer: id}, nil
}

func (a *AbortFilter) Name() string { return NameAbortFilter }

func (a *AbortFilter) Params() action.Params {
	return action.NewParams("layer", a.layer)
}

func (a *AbortFilter) Validate(ctx *action.Context) error {
	state, err := a.env.Layers.LockState(a.layer)
	if err != nil {
		return err
	}
	if state != types.LockProcessing {
		return fmt.Errorf("%w: %s is %s, not processing", types.ErrInvalidParam, a.layer, state)
	}
	return nil
}

func (a *AbortFilter) Run(ctx *action.Context) (*action.Result, error) {
	if !a.env.Layers.AbortLayer(a.layer) {
		return nil, fmt.Errorf("no filter is processing %s", a.layer)
	}
	return action.Completed(a.layer), nil
}
