package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Layer registry metrics
	LayersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratum_layers_total",
			Help: "Total number of layers by lock state",
		},
		[]string{"state"},
	)

	LayersByKind = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratum_layers_by_kind",
			Help: "Total number of layers by volume type",
		},
		[]string{"kind"},
	)

	GroupsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_groups_total",
			Help: "Total number of live layer groups",
		},
	)

	SandboxesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_sandboxes_total",
			Help: "Number of sandboxes currently open",
		},
	)

	// Dispatcher metrics
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_actions_total",
			Help: "Total number of dispatched actions by name and status",
		},
		[]string{"action", "status"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratum_action_duration_seconds",
			Help:    "Time spent validating and running an action on the dispatch goroutine",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_dispatch_queue_depth",
			Help: "Number of jobs waiting for the dispatch goroutine",
		},
	)

	// Filter metrics
	FiltersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_filters_running",
			Help: "Number of filters with a running body",
		},
	)

	FiltersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_filters_total",
			Help: "Total number of finished filters by outcome",
		},
		[]string{"filter", "outcome"},
	)

	FilterDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratum_filter_duration_seconds",
			Help:    "Filter run time from start to finalization",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"filter"},
	)

	// Undo metrics
	UndoItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratum_undo_items",
			Help: "Number of items on the undo and redo stacks",
		},
		[]string{"stack"},
	)

	UndoBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_undo_bytes",
			Help: "Checkpoint bytes held by the undo stack",
		},
	)

	// Provenance metrics
	ProvenanceSteps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_provenance_steps",
			Help: "Number of steps in the live provenance log",
		},
	)

	ReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_replays_total",
			Help: "Total number of provenance replays by outcome",
		},
		[]string{"outcome"},
	)

	// Persistence metrics
	ProjectSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_project_saves_total",
			Help: "Total number of project saves by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	ProjectSaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratum_project_save_duration_seconds",
			Help:    "Time taken to save the project",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(LayersTotal)
	prometheus.MustRegister(LayersByKind)
	prometheus.MustRegister(GroupsTotal)
	prometheus.MustRegister(SandboxesTotal)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(FiltersRunning)
	prometheus.MustRegister(FiltersTotal)
	prometheus.MustRegister(FilterDuration)
	prometheus.MustRegister(UndoItems)
	prometheus.MustRegister(UndoBytes)
	prometheus.MustRegister(ProvenanceSteps)
	prometheus.MustRegister(ReplaysTotal)
	prometheus.MustRegister(ProjectSavesTotal)
	prometheus.MustRegister(ProjectSaveDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
