package actions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/dispatcher"
	"github.com/cuemby/stratum/pkg/log"
	"github.com/cuemby/stratum/pkg/metrics"
	"github.com/cuemby/stratum/pkg/provenance"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/cuemby/stratum/pkg/undo"
	"github.com/rs/zerolog"
)

// RecreateLayer rebuilds the layer carrying a provenance id by replaying its
// provenance trail in sandbox 0. Only one replay runs at a time.
type RecreateLayer struct {
	env *Env
	pid types.ProvenanceID

	// Set by Validate
	plan     *provenance.Plan
	existing string
}

func newRecreateLayer(env *Env, p action.Params) (*RecreateLayer, error) {
	n, err := p.GetInt("prov_id", int64(types.InvalidProvenanceID))
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: prov_id is required", types.ErrInvalidParam)
	}
	return &RecreateLayer{env: env, pid: types.ProvenanceID(n)}, nil
}

func (a *RecreateLayer) Name() string { return NameRecreateLayer }

func (a *RecreateLayer) Params() action.Params {
	return action.NewParams("prov_id", strconv.FormatInt(int64(a.pid), 10))
}

func (a *RecreateLayer) liveExists(pid types.ProvenanceID) bool {
	_, ok := a.env.Layers.FindByProvenance(pid, types.LiveSandbox)
	return ok
}

func (a *RecreateLayer) Validate(ctx *action.Context) error {
	if err := a.env.checkReplayIdle(); err != nil {
		return err
	}
	if a.env.Provenance == nil {
		return fmt.Errorf("%w: no provenance log", provenance.ErrEmptyTrail)
	}
	trail := a.env.Provenance.TrailFor(a.pid)
	if len(trail) == 0 {
		return fmt.Errorf("%w: provenance id %d", provenance.ErrEmptyTrail, a.pid)
	}

	a.existing = ""
	if l, ok := a.env.Layers.FindByProvenance(a.pid, types.LiveSandbox); ok {
		a.existing = l.ID
	}
	plan, err := provenance.Compile(trail, []types.ProvenanceID{a.pid}, a.liveExists)
	if err != nil {
		return err
	}
	a.plan = plan
	return nil
}

func (a *RecreateLayer) Run(ctx *action.Context) (*action.Result, error) {
	mgr := a.env.Layers
	if a.plan.Empty() {
		if a.existing != "" {
			if err := mgr.SetActiveLayer(a.existing); err != nil {
				return nil, err
			}
		}
		return action.Completed(a.existing), nil
	}

	idCount := mgr.IDCount()
	if err := mgr.CreateSandbox(types.ReplaySandbox); err != nil {
		return nil, err
	}

	dups := make(map[types.ProvenanceID]string, len(a.plan.Duplicates))
	for _, pid := range a.plan.Duplicates {
		src, ok := mgr.FindByProvenance(pid, types.LiveSandbox)
		if !ok {
			a.abandon(idCount)
			return nil, fmt.Errorf("%w: provenance id %d is gone", provenance.ErrIncompleteTrail, pid)
		}
		dup, err := mgr.DuplicateLayer(src.ID, types.ReplaySandbox, src.Name)
		if err != nil {
			a.abandon(idCount)
			return nil, err
		}
		dups[pid] = dup.ID
	}

	item := undo.NewItem("Recreate Layer")
	item.SetRedoAction(a)
	item.SetIDCount(idCount)
	item.AddProvenanceToDelete(a.pid)
	a.env.pushUndo(ctx, types.LiveSandbox, item)

	result := action.NewResult()
	go a.replay(a.plan, dups, result)
	return result, nil
}

// abandon drops a sandbox the replay never started in
func (a *RecreateLayer) abandon(idCount types.IDCount) {
	_ = a.env.Layers.DeleteSandbox(types.ReplaySandbox)
	a.env.Layers.SetIDCount(idCount)
}

func (a *RecreateLayer) replay(plan *provenance.Plan, dups map[types.ProvenanceID]string, result *action.Result) {
	ctx := a.env.context()
	logger := log.WithSandbox(int(types.ReplaySandbox)).With().
		Int64("provenance_id", int64(a.pid)).
		Int("steps", len(plan.Invocations)).
		Logger()
	timer := metrics.NewTimer()
	logger.Info().Msg("Provenance replay started")

	migrated, err := a.runPlan(ctx, logger, plan, dups)
	if derr := a.deleteSandbox(ctx); derr != nil {
		logger.Warn().Err(derr).Msg("Failed to delete replay sandbox")
	}

	outcome := "completed"
	if err != nil {
		outcome = "failed"
		logger.Error().Err(err).Msg("Provenance replay failed")
	} else {
		logger.Info().Strs("layers", migrated).Dur("duration", timer.Duration()).Msg("Provenance replay completed")
	}
	metrics.ReplaysTotal.WithLabelValues(outcome).Inc()
	result.CompleteWith(migrated, err)
}

func (a *RecreateLayer) post(ctx context.Context, act action.Action) (*action.Context, error) {
	actx := action.NewContext(types.SourceProvenance)
	err := a.env.Dispatcher.PostAndWait(ctx, act, actx)
	return actx, err
}

// runPlan dispatches every invocation in sandbox 0, waiting for each to
// finish, then migrates the targets. Nothing is migrated unless every step
// succeeded.
func (a *RecreateLayer) runPlan(ctx context.Context, logger zerolog.Logger, plan *provenance.Plan,
	dups map[types.ProvenanceID]string) ([]string, error) {
	mgr := a.env.Layers
	outputs := make([][]string, len(plan.Invocations))

	resolve := func(ref provenance.InputRef) (string, error) {
		switch ref.Kind {
		case provenance.InputOutput:
			ids := outputs[ref.Invocation]
			if ref.Output >= len(ids) {
				return "", fmt.Errorf("%w: output %d of invocation %d", provenance.ErrInvalidRecord, ref.Output, ref.Invocation)
			}
			return ids[ref.Output], nil
		case provenance.InputDuplicate:
			id, ok := dups[ref.ProvenanceID]
			if !ok {
				return "", fmt.Errorf("%w: no duplicate of %d", provenance.ErrIncompleteTrail, ref.ProvenanceID)
			}
			return id, nil
		default:
			l, ok := mgr.FindByProvenance(ref.ProvenanceID, types.LiveSandbox)
			if !ok {
				return "", fmt.Errorf("%w: provenance id %d is gone", provenance.ErrIncompleteTrail, ref.ProvenanceID)
			}
			return l.ID, nil
		}
	}

	for i, inv := range plan.Invocations {
		cmd, err := inv.Command(resolve)
		if err != nil {
			return nil, err
		}
		name, rest, _ := strings.Cut(cmd, " ")
		params, err := action.ParseParams(rest)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", inv.StepID, err)
		}
		params.SetInt("sandbox", int64(types.ReplaySandbox))
		act, err := a.env.Registry.Create(name, params)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", inv.StepID, err)
		}

		logger.Debug().Int("step", i+1).Str("action", name).Msg("Replaying provenance step")
		actx, err := a.post(ctx, act)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", inv.StepID, name, err)
		}
		res := actx.Result()
		if res == nil {
			return nil, fmt.Errorf("step %d (%s) produced no result", inv.StepID, name)
		}
		if err := res.Wait(ctx); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", inv.StepID, name, err)
		}
		ids := res.Layers()
		if len(ids) < len(inv.Outputs) {
			return nil, fmt.Errorf("step %d (%s) produced %d layers, expected %d",
				inv.StepID, name, len(ids), len(inv.Outputs))
		}
		outputs[i] = ids
	}

	var migrated []string
	for _, pid := range plan.Targets {
		inv, out, ok := plan.Produced(pid)
		if !ok {
			continue
		}
		id := outputs[inv][out]
		mig := &MigrateSandboxLayer{
			env:     a.env,
			layer:   id,
			sandbox: types.ReplaySandbox,
			pid:     pid,
			name:    provenance.RecreatedName(pid),
		}
		if _, err := a.post(ctx, mig); err != nil {
			return migrated, fmt.Errorf("migrate %s: %w", id, err)
		}
		migrated = append(migrated, id)
	}

	if len(migrated) > 0 {
		last := migrated[len(migrated)-1]
		if _, err := a.post(ctx, &ActivateLayer{env: a.env, layer: last}); err != nil {
			logger.Warn().Err(err).Str("layer_id", last).Msg("Failed to activate recreated layer")
		}
	}
	return migrated, nil
}

// deleteSandbox tears sandbox 0 down through the dispatcher, or directly
// once the dispatcher has stopped
func (a *RecreateLayer) deleteSandbox(ctx context.Context) error {
	_, err := a.post(ctx, &DeleteSandbox{env: a.env, sandbox: types.ReplaySandbox})
	if errors.Is(err, dispatcher.ErrStopped) || ctx.Err() != nil {
		err = a.env.Layers.DeleteSandbox(types.ReplaySandbox)
	}
	if errors.Is(err, types.ErrSandboxNotFound) {
		return nil
	}
	return err
}
