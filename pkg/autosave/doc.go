/*
Package autosave periodically saves a project that has unsaved changes.

The engine marks the project dirty after every successful action. An
Autosaver wakes up once per interval and, if the project is dirty, calls
Saver.SaveProject with a timeout of one interval:

	         MarkDirty (post-action observer)
	                    │
	                    ▼
	   ┌──────────── dirty flag ────────────┐
	   │                                    │
	ticker ──▶ Flush: swap dirty → false ──▶ SaveProject
	                    │                       │
	                    └──── failure ◀─────────┘
	                       dirty again, LastError set

# Usage

	a := autosave.New(engine, 30*time.Second)
	a.Start()
	defer a.Stop()

	a.MarkDirty()
	if err := a.Flush(ctx); err != nil {
		// the project stays dirty and the next tick retries
	}

Flush and the loop are serialized, so a manual flush never overlaps a
periodic save. Stop is idempotent and waits for a save in progress.

# Monitoring

Every save is counted in stratum_project_saves_total with trigger
"autosave" and timed in stratum_project_save_duration_seconds. The engine
reports LastError as the "autosave" component of /health. Autosave is not
critical, so a failing save degrades health without making the engine
unhealthy.
*/
package autosave
