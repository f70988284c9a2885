package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/actions"
	"github.com/cuemby/stratum/pkg/api"
	"github.com/cuemby/stratum/pkg/autosave"
	"github.com/cuemby/stratum/pkg/dispatcher"
	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/log"
	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/metrics"
	"github.com/cuemby/stratum/pkg/provenance"
	"github.com/cuemby/stratum/pkg/storage"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/cuemby/stratum/pkg/undo"
	"github.com/rs/zerolog"
)

// ProvenanceDBFile is the name of the provenance database in the data dir
const ProvenanceDBFile = "provenance.sqlite"

// Engine wires the layer manager, dispatcher, undo buffer, provenance log
// and their stores into one process
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	broker     *events.Broker
	layers     *manager.Manager
	dispatcher *dispatcher.Dispatcher
	undo       *undo.Buffer
	provenance *provenance.Log
	registry   *action.Registry
	env        *actions.Env

	store  *storage.BoltStore
	provDB *storage.ProvenanceDB

	collector *metrics.Collector
	server    *api.Server
	autosave  *autosave.Autosaver

	ctx    context.Context
	cancel context.CancelFunc

	started      atomic.Bool
	startOnce    sync.Once
	shutdownOnce sync.Once
}

// New opens the stores under cfg.DataDir and builds every engine service.
// Nothing runs until Start.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	provDB, err := storage.OpenProvenanceDB(filepath.Join(cfg.DataDir, ProvenanceDBFile))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open provenance database: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	layers := manager.New(broker)
	disp := dispatcher.New()
	prov := provenance.NewLog(provDB, broker, cfg.User)
	buf := undo.NewBuffer(undo.Config{
		MaxItems:   cfg.UndoMaxItems,
		MaxBytes:   cfg.UndoMaxBytes,
		Layers:     layers,
		Provenance: prov,
		Executor:   disp,
		Publisher:  broker,
	})

	ctx, cancel := context.WithCancel(context.Background())
	env := &actions.Env{
		Layers:     layers,
		Dispatcher: disp,
		Undo:       buf,
		Provenance: prov,
		Registry:   action.NewRegistry(),
		Publisher:  broker,
		Context:    ctx,
	}
	actions.Register(env)

	e := &Engine{
		cfg:        cfg,
		logger:     log.WithComponent("engine"),
		broker:     broker,
		layers:     layers,
		dispatcher: disp,
		undo:       buf,
		provenance: prov,
		registry:   env.Registry,
		env:        env,
		store:      store,
		provDB:     provDB,
		collector:  metrics.NewCollector(layers, cfg.CollectorInterval),
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.Persist && cfg.AutosaveInterval > 0 {
		e.autosave = autosave.New(e, cfg.AutosaveInterval)
	}
	disp.OnPreAction(e.announceAction)
	disp.OnPostAction(e.publishOutcome)
	if cfg.HTTPAddr != "" {
		e.server = api.NewServer(e.registry, disp, layers, broker)
	}
	return e, nil
}

// Start restores the saved state, then starts the dispatcher, the metrics
// collector and the HTTP server
func (e *Engine) Start() error {
	var err error
	e.startOnce.Do(func() {
		err = e.start()
	})
	return err
}

func (e *Engine) start() error {
	maxPID, err := e.provenance.Load()
	if err != nil {
		metrics.RegisterComponent("provenance", false, err.Error())
		return err
	}
	e.layers.EnsureProvenanceCounter(maxPID)
	metrics.RegisterComponent("provenance", true, "loaded")

	if e.cfg.Persist {
		if err := e.loadProject(); err != nil {
			metrics.RegisterComponent("storage", false, err.Error())
			return fmt.Errorf("failed to restore project: %w", err)
		}
	}
	metrics.RegisterComponent("storage", true, "open")

	e.dispatcher.Start()
	metrics.RegisterCheck("dispatcher", e.dispatcherState)
	e.collector.Start()
	if e.autosave != nil {
		e.autosave.Start()
		metrics.RegisterCheck("autosave", func() (bool, string) {
			if err := e.autosave.LastError(); err != nil {
				return false, err.Error()
			}
			return true, ""
		})
	}

	if e.server != nil {
		go func() {
			if err := e.server.Start(e.cfg.HTTPAddr); err != nil {
				e.logger.Error().Err(err).Msg("HTTP server stopped")
			}
		}()
	}
	e.started.Store(true)

	e.logger.Info().
		Str("data_dir", e.cfg.DataDir).
		Int("provenance_steps", e.provenance.Len()).
		Int("undo_items", e.undo.NumUndo()).
		Msg("Engine started")
	return nil
}

// Shutdown stops accepting work, saves the project and closes the stores
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error
	e.shutdownOnce.Do(func() {
		e.logger.Info().Msg("Shutting down engine")
		if e.server != nil {
			if err := e.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http server: %w", err))
			}
		}

		// Replay scripts stop posting once their context is cancelled
		e.cancel()

		if e.autosave != nil {
			e.autosave.Stop()
			metrics.UpdateComponent("autosave", true, "stopped")
		}
		// A project that was never restored must not overwrite the saved one
		if e.cfg.Persist && e.started.Load() {
			timer := metrics.NewTimer()
			if err := e.SaveProject(ctx); err != nil {
				metrics.ProjectSavesTotal.WithLabelValues("shutdown", "failure").Inc()
				errs = append(errs, err)
			} else {
				metrics.ProjectSavesTotal.WithLabelValues("shutdown", "success").Inc()
			}
			timer.ObserveDuration(metrics.ProjectSaveDuration)
		}

		e.dispatcher.Stop()
		metrics.UpdateComponent("dispatcher", false, "stopped")
		e.collector.Stop()

		if err := e.provDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("provenance database: %w", err))
		}
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
		metrics.UpdateComponent("storage", false, "closed")
		e.broker.Stop()
	})
	return errors.Join(errs...)
}

// onDispatcher runs fn on the dispatch goroutine, between actions
func (e *Engine) onDispatcher(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	e.dispatcher.PostFunc(func() { errCh <- fn() })
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues an action from source and returns its context
func (e *Engine) Submit(a action.Action, source types.ActionSource) *action.Context {
	return e.dispatcher.Post(a, action.NewContext(source))
}

// Run parses command, dispatches it and waits for its asynchronous result
func (e *Engine) Run(ctx context.Context, command string) (*action.Context, error) {
	a, err := e.registry.Parse(command)
	if err != nil {
		return nil, err
	}
	actx := action.NewContext(types.SourceScript)
	if err := e.dispatcher.PostAndWait(ctx, a, actx); err != nil {
		return actx, err
	}
	if res := actx.Result(); res != nil {
		if err := res.Wait(ctx); err != nil {
			return actx, err
		}
	}
	return actx, nil
}

// Recreate replays the provenance trail of pid and waits for the rebuilt layer
func (e *Engine) Recreate(ctx context.Context, pid types.ProvenanceID) ([]string, error) {
	p := action.NewParams()
	p.SetInt("prov_id", int64(pid))
	a, err := e.registry.Create(actions.NameRecreateLayer, p)
	if err != nil {
		return nil, err
	}
	actx := action.NewContext(types.SourceInterface)
	if err := e.dispatcher.PostAndWait(ctx, a, actx); err != nil {
		return nil, err
	}
	res := actx.Result()
	if res == nil {
		return nil, nil
	}
	if err := res.Wait(ctx); err != nil {
		return nil, err
	}
	return res.Layers(), nil
}

// dispatcherState reports the queue state for /health
func (e *Engine) dispatcherState() (bool, string) {
	d := e.dispatcher
	msg := "idle"
	if d.IsBusy() {
		msg = fmt.Sprintf("busy, %d pending", d.Pending())
	}
	if last := d.LastCompleted(); !last.IsZero() {
		msg += ", last action at " + last.UTC().Format(time.RFC3339)
	}
	return true, msg
}

// announceAction publishes every validated action before it runs
func (e *Engine) announceAction(a action.Action, ctx *action.Context) {
	logger := log.WithAction(a.Name())
	logger.Debug().
		Str("action_id", ctx.ID()).
		Str("source", string(ctx.Source())).
		Msg("Action started")
	e.broker.Publish(events.New(events.EventActionStarted, "Action started", map[string]string{
		"action":    a.Name(),
		"action_id": ctx.ID(),
		"source":    string(ctx.Source()),
	}))
}

// publishOutcome turns every dispatched action into an event
func (e *Engine) publishOutcome(a action.Action, ctx *action.Context) {
	meta := map[string]string{
		"action":     a.Name(),
		"action_id":  ctx.ID(),
		"source":     string(ctx.Source()),
		"status":     string(ctx.Status()),
		"parameters": a.Params().String(),
	}
	if e.autosave != nil && ctx.Status() == types.StatusSuccess {
		e.autosave.MarkDirty()
	}
	if err := ctx.Err(); err != nil {
		meta["error"] = err.Error()
		e.broker.Publish(events.New(events.EventActionFailed, "Action failed", meta))
		return
	}
	e.broker.Publish(events.New(events.EventActionCompleted, "Action completed", meta))
}

// Layers returns the layer manager
func (e *Engine) Layers() *manager.Manager { return e.layers }

// Dispatcher returns the action dispatcher
func (e *Engine) Dispatcher() *dispatcher.Dispatcher { return e.dispatcher }

// Undo returns the undo buffer
func (e *Engine) Undo() *undo.Buffer { return e.undo }

// Provenance returns the provenance log
func (e *Engine) Provenance() *provenance.Log { return e.provenance }

// Registry returns the action registry
func (e *Engine) Registry() *action.Registry { return e.registry }

// Events returns the event broker
func (e *Engine) Events() *events.Broker { return e.broker }

// Autosaver returns the periodic saver, nil when autosave is disabled
func (e *Engine) Autosaver() *autosave.Autosaver { return e.autosave }

// Config returns the configuration the engine was built with
func (e *Engine) Config() Config { return e.cfg }
