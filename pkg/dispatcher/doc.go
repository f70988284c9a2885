/*
Package dispatcher implements the single goroutine action queue.

Every action, whatever goroutine submits it, is validated and run on the
dispatch goroutine in FIFO order. Because validation and lock acquisition of
one action complete before the next action is dequeued, two actions can never
race for the same layer lock, and the window between an action's validation
and its run is closed.

# Architecture

	   Post / PostActions / PostAndWait / PostFunc (any goroutine)
	                  │
	                  ▼
	        ┌───────────────────┐
	        │   pending queue   │  FIFO, unbounded
	        └─────────┬─────────┘
	                  ▼
	        ┌───────────────────┐
	        │  dispatch loop    │  validate → pre observers → run
	        │  (one goroutine)  │  → report result/status/done
	        └─────────┬─────────┘  → post observers
	                  ▼
	       long work handed to filters

Filters post their finalization back with PostFunc so lock release and data
installation are serialized with everything else. Code already running on the
dispatch goroutine uses Execute to run an action inline; calling PostAndWait
there would deadlock.

# Submitting

	ctx := disp.Post(a, action.NewContext(types.SourceScript))

	err := disp.PostAndWait(reqCtx, a, actx)

	ctxs := disp.PostActions([]action.Action{create, threshold}, types.SourceScript)

PostActions queues its actions back to back. Nothing else can be queued
between them, which is what batch submission over HTTP relies on.

# Observers

Pre observers run after a successful validation and before Run; actions
that fail validation never reach them. Post observers run for every action
once its context reported done, including rejected ones. Both run on the
dispatch goroutine and must not block:

	disp.OnPreAction(func(a action.Action, ctx *action.Context) {
		log.WithAction(a.Name()).Debug().Msg("Action started")
	})
	disp.OnPostAction(publishOutcome)

The engine uses them to publish action.started, action.completed and
action.failed events and to mark the project dirty for autosave.

# Queue State

IsBusy and Pending count queued and running jobs, internal jobs included.
LastCompleted is the time the last action finished, zero before the first.
They back the "dispatcher" component of /health and GET /v1/status.

# Shutdown

Stop ends the loop after the job in progress. Actions still queued are
reported with ErrStopped; internal jobs still run so filters release their
locks. Posting after Stop fails the action at once.

# Metrics

	stratum_actions_total{action,status}
	stratum_action_duration_seconds{action}
	stratum_dispatch_queue_depth
*/
package dispatcher
