package actions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/cuemby/stratum/pkg/undo"
)

// Duplicate copies a layer under a new id. The copy shares the content and
// the provenance id of its source.
type Duplicate struct {
	env     *Env
	layer   string
	name    string
	sandbox types.SandboxID
}

func newDuplicate(env *Env, p action.Params) (*Duplicate, error) {
	a := &Duplicate{env: env, name: p.GetString("name", "")}
	var err error
	if a.layer, err = p.RequireString("layer"); err != nil {
		return nil, err
	}
	if a.sandbox, err = sandboxParam(p); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Duplicate) Name() string { return NameDuplicate }

func (a *Duplicate) Params() action.Params {
	p := action.NewParams("layer", a.layer)
	if a.name != "" {
		p.Set("name", a.name)
	}
	return withSandbox(p, a.sandbox)
}

func (a *Duplicate) Validate(ctx *action.Context) error {
	mgr := a.env.Layers
	if err := mgr.CheckSandbox(a.sandbox); err != nil {
		return err
	}
	if err := mgr.CheckLayerExistence(a.layer, a.sandbox); err != nil {
		return err
	}
	return mgr.CheckAvailabilityForUse(a.layer, a.sandbox)
}

func (a *Duplicate) Run(ctx *action.Context) (*action.Result, error) {
	mgr := a.env.Layers
	idCount := mgr.IDCount()

	name := a.name
	if name == "" {
		src, err := mgr.GetLayer(a.layer, a.sandbox)
		if err != nil {
			return nil, err
		}
		name = "Copy_" + src.Name
	}
	dup, err := mgr.DuplicateLayer(a.layer, a.sandbox, name)
	if err != nil {
		return nil, err
	}

	item := undo.NewItem("Duplicate Layer")
	item.SetRedoAction(a)
	item.AddLayerToDelete(dup.ID)
	item.SetIDCount(idCount)
	a.env.pushUndo(ctx, a.sandbox, item)

	return action.Completed(dup.ID), nil
}

// DeleteLayers deletes live layers, either a listed set or the selected
// layers of one group. Deleted layers can be recreated from provenance.
type DeleteLayers struct {
	env    *Env
	layers []string
	group  string
}

func newDeleteLayers(env *Env, p action.Params) (*DeleteLayers, error) {
	a := &DeleteLayers{
		env:    env,
		layers: p.GetStrings("layers"),
		group:  p.GetString("group", ""),
	}
	if (len(a.layers) == 0) == (a.group == "") {
		return nil, fmt.Errorf("%w: exactly one of layers or group is required", types.ErrInvalidParam)
	}
	return a, nil
}

func (a *DeleteLayers) Name() string { return NameDeleteLayers }

func (a *DeleteLayers) Params() action.Params {
	if a.group != "" {
		return action.NewParams("group", a.group)
	}
	return action.NewParams("layers", strings.Join(a.layers, ","))
}

func (a *DeleteLayers) Validate(ctx *action.Context) error {
	mgr := a.env.Layers
	ids := a.layers
	if a.group != "" {
		if mgr.GroupPosition(a.group) < 0 {
			return fmt.Errorf("%w: group %s", types.ErrLayerNotFound, a.group)
		}
		ids = nil
		for _, id := range mgr.LayersInGroup(a.group) {
			if l, err := mgr.GetLayer(id, types.LiveSandbox); err == nil && l.Selected {
				ids = append(ids, id)
			}
		}
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fmt.Errorf("%w: layer %s listed twice", types.ErrInvalidParam, id)
		}
		seen[id] = true
		if err := mgr.CheckLayerExistence(id, types.LiveSandbox); err != nil {
			return err
		}
		if err := mgr.CheckAvailabilityForProcessing(id, types.LiveSandbox); err != nil {
			return err
		}
	}
	return nil
}

func (a *DeleteLayers) Run(ctx *action.Context) (*action.Result, error) {
	mgr := a.env.Layers
	item := undo.NewItem("Delete Layers")
	item.SetIDCount(mgr.IDCount())

	var deleted []string
	var errs []error
	if a.group != "" {
		removed, err := mgr.DeleteLayers(a.group)
		if err != nil {
			return nil, err
		}
		for _, r := range removed {
			item.AddLayerToAdd(r)
			deleted = append(deleted, r.Layer.ID)
		}
	} else {
		for _, id := range a.layers {
			r, err := mgr.DeleteLayer(id, "")
			if err != nil {
				errs = append(errs, err)
				continue
			}
			item.AddLayerToAdd(r)
			deleted = append(deleted, id)
		}
	}

	if len(deleted) > 0 {
		// Redo deletes the same layers even though selection is not restored
		item.SetRedoAction(&DeleteLayers{env: a.env, layers: deleted})
		a.env.pushUndo(ctx, types.LiveSandbox, item)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return action.Completed(deleted...), nil
}

// ActivateLayer makes a live layer the active layer. It is not undoable.
type ActivateLayer struct {
	env   *Env
	layer string
}

func newActivateLayer(env *Env, p action.Params) (*ActivateLayer, error) {
	id, err := p.RequireString("layer")
	if err != nil {
		return nil, err
	}
	return &ActivateLayer{env: env, layer: id}, nil
}

func (a *ActivateLayer) Name() string { return NameActivateLayer }

func (a *ActivateLayer) Params() action.Params {
	return action.NewParams("layer", a.layer)
}

func (a *ActivateLayer) Validate(ctx *action.Context) error {
	return a.env.Layers.CheckLayerExistence(a.layer, types.LiveSandbox)
}

func (a *ActivateLayer) Run(ctx *action.Context) (*action.Result, error) {
	if err := a.env.Layers.SetActiveLayer(a.layer); err != nil {
		return nil, err
	}
	return action.Completed(a.layer), nil
}

// MoveLayer moves a live layer directly above or below another layer of the
// same kind and grid. It is not undoable.
type MoveLayer struct {
	env    *Env
	layer  string
	target string
	above  bool
}

func newMoveLayer(env *Env, p action.Params) (*MoveLayer, error) {
	a := &MoveLayer{env: env}
	var err error
	if a.layer, err = p.RequireString("layer"); err != nil {
		return nil, err
	}
	if a.target, err = p.RequireString("target"); err != nil {
		return nil, err
	}
	if a.above, err = p.GetBool("above", true); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *MoveLayer) Name() string { return NameMoveLayer }

func (a *MoveLayer) Params() action.Params {
	return action.NewParams("layer", a.layer, "target", a.target, "above", strconv.FormatBool(a.above))
}

func (a *MoveLayer) Validate(ctx *action.Context) error {
	mgr := a.env.Layers
	if a.layer == a.target {
		return fmt.Errorf("%w: cannot move layer %s relative to itself", types.ErrInvalidParam, a.layer)
	}
	la, err := mgr.GetLayer(a.layer, types.LiveSandbox)
	if err != nil {
		return err
	}
	lb, err := mgr.GetLayer(a.target, types.LiveSandbox)
	if err != nil {
		return err
	}
	if la.Kind != lb.Kind {
		return fmt.Errorf("%w: cannot reorder %s layer %s against %s layer %s",
			types.ErrWrongType, la.Kind, a.layer, lb.Kind, a.target)
	}
	return mgr.CheckLayerSize(a.layer, a.target, types.LiveSandbox)
}

func (a *MoveLayer) Run(ctx *action.Context) (*action.Result, error) {
	var err error
	if a.above {
		err = a.env.Layers.MoveLayerAbove(a.layer, a.target)
	} else {
		err = a.env.Layers.MoveLayerBelow(a.layer, a.target)
	}
	if err != nil {
		return nil, err
	}
	return action.Completed(a.layer), nil
}
