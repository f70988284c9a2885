package actions

import (
	"fmt"
	"strconv"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/types"
)

func requiredSandbox(p action.Params) (types.SandboxID, error) {
	if !p.Has("sandbox") {
		return 0, fmt.Errorf("%w: sandbox is required", types.ErrInvalidParam)
	}
	id, err := sandboxParam(p)
	if err != nil {
		return 0, err
	}
	if id.IsLive() {
		return 0, fmt.Errorf("%w: sandbox %d is the live project", types.ErrInvalidParam, id)
	}
	return id, nil
}

// CreateSandbox creates an isolated layer namespace
type CreateSandbox struct {
	env     *Env
	sandbox types.SandboxID
}

func newCreateSandbox(env *Env, p action.Params) (*CreateSandbox, error) {
	id, err := requiredSandbox(p)
	if err != nil {
		return nil, err
	}
	return &CreateSandbox{env: env, sandbox: id}, nil
}

func (a *CreateSandbox) Name() string { return NameCreateSandbox }

func (a *CreateSandbox) Params() action.Params {
	return action.NewParams("sandbox", strconv.Itoa(int(a.sandbox)))
}

func (a *CreateSandbox) Validate(ctx *action.Context) error {
	if len(a.env.Layers.Sandboxes()) > 0 {
		return fmt.Errorf("%w: %d", types.ErrSandboxExists, a.sandbox)
	}
	return nil
}

func (a *CreateSandbox) Run(ctx *action.Context) (*action.Result, error) {
	if err := a.env.Layers.CreateSandbox(a.sandbox); err != nil {
		return nil, err
	}
	return action.Completed(), nil
}

// DeleteSandbox destroys a sandbox, aborting filters still running in it
type DeleteSandbox struct {
	env     *Env
	sandbox types.SandboxID
}

func newDeleteSandbox(env *Env, p action.Params) (*DeleteSandbox, error) {
	id, err := requiredSandbox(p)
	if err != nil {
		return nil, err
	}
	return &DeleteSandbox{env: env, sandbox: id}, nil
}

func (a *DeleteSandbox) Name() string { return NameDeleteSandbox }

func (a *DeleteSandbox) Params() action.Params {
	return action.NewParams("sandbox", strconv.Itoa(int(a.sandbox)))
}

func (a *DeleteSandbox) Validate(ctx *action.Context) error {
	return a.env.Layers.CheckSandbox(a.sandbox)
}

func (a *DeleteSandbox) Run(ctx *action.Context) (*action.Result, error) {
	if err := a.env.Layers.DeleteSandbox(a.sandbox); err != nil {
		return nil, err
	}
	return action.Completed(), nil
}

// MigrateSandboxLayer moves a finished sandbox layer into the live project
// under a provenance id
type MigrateSandboxLayer struct {
	env     *Env
	layer   string
	sandbox types.SandboxID
	pid     types.ProvenanceID
	name    string
}

func newMigrateSandboxLayer(env *Env, p action.Params) (*MigrateSandboxLayer, error) {
	a := &MigrateSandboxLayer{env: env, name: p.GetString("name", "")}
	var err error
	if a.layer, err = p.RequireString("layer"); err != nil {
		return nil, err
	}
	if a.sandbox, err = requiredSandbox(p); err != nil {
		return nil, err
	}
	pid, err := p.GetInt("prov_id", int64(types.InvalidProvenanceID))
	if err != nil {
		return nil, err
	}
	a.pid = types.ProvenanceID(pid)
	return a, nil
}

func (a *MigrateSandboxLayer) Name() string { return NameMigrateSandboxLayer }

func (a *MigrateSandboxLayer) Params() action.Params {
	p := action.NewParams(
		"layer", a.layer,
		"sandbox", strconv.Itoa(int(a.sandbox)),
		"prov_id", strconv.FormatInt(int64(a.pid), 10),
	)
	if a.name != "" {
		p.Set("name", a.name)
	}
	return p
}

func (a *MigrateSandboxLayer) Validate(ctx *action.Context) error {
	mgr := a.env.Layers
	if err := mgr.CheckSandbox(a.sandbox); err != nil {
		return err
	}
	l, err := mgr.GetLayer(a.layer, a.sandbox)
	if err != nil {
		return err
	}
	if l.Sandbox != a.sandbox {
		return fmt.Errorf("%w: %s is not a layer of sandbox %d", types.ErrLayerNotFound, a.layer, a.sandbox)
	}
	if a.pid == types.InvalidProvenanceID {
		return fmt.Errorf("%w: prov_id is required", types.ErrInvalidParam)
	}
	return mgr.CheckAvailabilityForProcessing(a.layer, a.sandbox)
}

func (a *MigrateSandboxLayer) Run(ctx *action.Context) (*action.Result, error) {
	if err := a.env.Layers.MigrateSandboxLayer(a.layer, a.sandbox, a.pid, a.name); err != nil {
		return nil, err
	}
	return action.Completed(a.layer), nil
}
