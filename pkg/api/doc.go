/*
Package api implements the HTTP automation surface of the engine.

The server exposes the same action command lines scripts and provenance
replay use, plus read-only views of the dispatcher, the live layer registry
and the event broker. It is a thin layer: every mutation goes through the
action registry and the dispatcher, exactly like a script step.

# Architecture

	┌──────────────────────── HTTP SERVER ─────────────────────────┐
	│                                                                │
	│   POST /v1/actions ──────┐                                     │
	│   POST /v1/actions/batch ┼──▶ Registry.Parse ──▶ Dispatcher    │
	│                          │                       Post /        │
	│                          │                       PostActions   │
	│   GET  /v1/status ───────┼──▶ Dispatcher IsBusy, Pending,      │
	│                          │    LastCompleted                    │
	│   GET  /v1/layers ───────┼──▶ Manager.LayerTree (one snapshot) │
	│   GET  /v1/scene ────────┼──▶ Manager.ComposeLayerScene        │
	│   GET  /v1/events ───────┴──▶ Broker.Subscribe (streamed)      │
	│                                                                │
	│   /health /ready /live /metrics ──▶ pkg/metrics                │
	└────────────────────────────────────────────────────────────────┘

# Endpoints

	POST /v1/actions         submit a command, optionally waiting for the result
	GET  /v1/actions         list the registered action names
	POST /v1/actions/batch   submit several commands queued together, in order
	GET  /v1/status          dispatcher queue: busy, pending, last completion
	GET  /v1/events          newline-delimited JSON stream of engine events
	GET  /v1/layers          live groups and layers with their lock states
	GET  /v1/scene           render parameters of the visible layers of a viewer
	GET  /health             component health (pkg/metrics)
	GET  /ready              readiness of the critical components
	GET  /live               liveness
	GET  /metrics            Prometheus metrics

Any other method on a listed path answers 405.

# Submitting actions

A submission carries one command line:

	{"command": "Threshold target='layer_1' lower='0.5' upper='1'", "wait": true}

Commands are parsed by the action registry and posted to the dispatcher
with source "script". Without wait the response is 202 Accepted as soon as
the action is queued. With wait the handler blocks until the dispatcher
validated and ran the action and its asynchronous result completed, then
maps the outcome to a status code:

	success       200
	invalid       422
	unavailable   409
	error         500
	timed out     504  (the request context ended; the action keeps running)

A malformed command or an unknown action name is rejected with 400 before
anything is queued.

# Batches

A batch is all or nothing at parse time:

	{"commands": ["CreateLayer name='a' dims='8,8,4'", "Invert target='layer_1'"], "wait": true}

Every command is parsed first. One bad command answers 400 naming its
position and nothing is queued. Otherwise the actions are posted back to
back with PostActions, so no other submission can interleave with them. A
waiting batch answers 200 with one ActionResponse per command and leaves it
to the caller to inspect each status; later actions run even when an earlier
one failed validation.

# Event Stream

GET /v1/events subscribes to the broker and writes one EventView per line:

	{"id":"5c1d...","type":"layer.inserted","timestamp":"...","message":"Layer inserted",
	 "metadata":{"group_id":"group_1","layer_id":"layer_1","sandbox":"-1"}}

The response is flushed after every event and has no write deadline. The
subscription is released when the client disconnects. Like every broker
subscriber, a stream that is not read fast enough skips events once its
buffer is full.

# Snapshots

Snapshots never hand out live references. /v1/layers is built from a single
registry snapshot, so group membership, lock states and the active flag are
mutually consistent; generations are read just after. Scene entries omit
voxel data and report the block dimensions only.

# Integration Points

  - pkg/action: Registry parses command lines
  - pkg/dispatcher: implements Dispatcher
  - pkg/manager: layer tree and scene snapshots
  - pkg/events: Broker implements EventSource
  - pkg/metrics: health, readiness and Prometheus handlers
  - pkg/client: Go client for every endpoint above
  - pkg/engine: starts the server when an HTTP address is configured

# Security

The server has no authentication and is meant to listen on a loopback or
otherwise trusted address.
*/
package api
