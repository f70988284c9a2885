package metrics

import (
	"sync"
	"time"

	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/types"
)

// DefaultInterval is the collection period used when none is configured
const DefaultInterval = 15 * time.Second

// Source is the registry view the collector samples
type Source interface {
	Snapshot() manager.Stats
}

// Collector periodically copies layer manager counts into gauges
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(src Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{
		source:   src,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect samples the source once
func (c *Collector) Collect() {
	st := c.source.Snapshot()

	GroupsTotal.Set(float64(st.Groups))
	SandboxesTotal.Set(float64(st.Sandboxes))

	for _, state := range []types.LockState{types.LockAvailable, types.LockInUse, types.LockProcessing, types.LockDeleting} {
		LayersTotal.WithLabelValues(string(state)).Set(float64(st.ByState[state]))
	}
	for _, kind := range []types.VolumeType{types.VolumeData, types.VolumeMask, types.VolumeLargeData} {
		LayersByKind.WithLabelValues(kind.String()).Set(float64(st.ByKind[kind]))
	}
}
