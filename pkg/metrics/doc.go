/*
Package metrics provides Prometheus metrics and health endpoints for stratum.

All metrics are package level collectors registered with the default
Prometheus registry at init. Components update them directly at the point
where the measured thing happens; the Collector samples the layer manager on a
ticker for the gauges that describe registry contents.

# Metrics Catalog

Layer registry (sampled by Collector):

	stratum_layers_total{state}          layers by lock state
	stratum_layers_by_kind{kind}         layers by volume type
	stratum_groups_total                 live layer groups
	stratum_sandboxes_total              open sandboxes (0 or 1)

Dispatcher:

	stratum_actions_total{action,status}         dispatched actions by outcome
	stratum_action_duration_seconds{action}      validate + run time on the dispatch goroutine
	stratum_dispatch_queue_depth                 jobs waiting to be dispatched

Filters:

	stratum_filters_running                      filters with a live body goroutine
	stratum_filters_total{filter,outcome}        finished filters (completed, aborted, failed)
	stratum_filter_duration_seconds{filter}      start to finalization

Undo and provenance:

	stratum_undo_items{stack}            items on the undo and redo stacks
	stratum_undo_bytes                   checkpoint bytes held for undo
	stratum_provenance_steps             steps in the live provenance log
	stratum_replays_total{outcome}       provenance replays by outcome

Persistence:

	stratum_project_saves_total{trigger,outcome}   project saves (autosave, shutdown)
	stratum_project_save_duration_seconds          time to write the project

# Usage

	timer := metrics.NewTimer()
	err := runAction()
	timer.ObserveDurationVec(metrics.ActionDuration, name)

	collector := metrics.NewCollector(mgr, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())

# Health

RegisterComponent and UpdateComponent record component health. GetHealth is
unhealthy when any component is; GetReadiness requires every entry of
CriticalComponents to be registered and healthy. HealthHandler, ReadyHandler
and LivenessHandler serve these as JSON.
*/
package metrics
