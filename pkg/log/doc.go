/*
Package log provides structured logging for stratum using zerolog.

The log package wraps the zerolog library to provide JSON or console logging
with component-specific loggers and configurable levels. Until Init is called the global logger discards
everything, so library users and tests stay quiet by default.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance (Nop until Init)        │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("dispatcher")              │          │
	│  │  - WithSandbox(0)                           │          │
	│  │  - WithFilterKey("6f1c...")                 │          │
	│  │  - WithLayerID("layer_3")                   │          │
	│  │  - WithAction("Threshold")                  │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

Initializing the Logger:

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.Init(log.Config{
		Level:      level,
		JSONOutput: true,
		Output:     os.Stderr,
	})

Component Loggers:

	logger := log.WithComponent("manager")
	logger.Info().
		Str("layer_id", layer.ID).
		Str("group_id", group.ID).
		Msg("Layer inserted")

Action and Layer Loggers:

	alog := log.WithAction(a.Name()).With().Str("action_id", ctx.ID()).Logger()
	alog.Warn().Err(err).Msg("Action validation failed")

	log.WithLayerID(id).Warn().Err(err).Msg("Failed to release layer")

Filter Loggers:

	flog := log.WithFilterKey(f.Key()).With().Str("filter", f.Name()).Logger()
	flog.Error().Err(err).Msg("Filter failed")

# Output Examples

	{"level":"info","component":"dispatcher","action":"Threshold","time":"...","message":"Action completed"}
	{"level":"warn","component":"filter","filter_key":"6f1c...","error":"aborted","message":"Filter aborted"}

# Integration Points

  - pkg/manager: layer insertion, deletion, sandbox lifecycle
  - pkg/dispatcher: action validation and execution results
  - pkg/filter: worker lifecycle, abort and failure reports
  - pkg/undo: undo/redo application
  - pkg/actions: replay progress
*/
package log
