package metrics

import (
	"testing"
	"time"

	"github.com/cuemby/stratum/pkg/manager"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimer(t *testing.T) {
	timer := NewTimer()
	assert.WithinDuration(t, time.Now(), timer.start, time.Second)

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimerObserve(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_seconds", Help: "test"})
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_vec_seconds", Help: "test"}, []string{"action"})

	timer := NewTimer()
	timer.ObserveDuration(h)
	timer.ObserveDurationVec(vec, "Threshold")

	assert.Equal(t, 1, testutil.CollectAndCount(h))
	assert.Equal(t, 1, testutil.CollectAndCount(vec))
}

type fakeSource struct {
	stats manager.Stats
}

func (f fakeSource) Snapshot() manager.Stats { return f.stats }

func TestCollectorCollect(t *testing.T) {
	src := fakeSource{stats: manager.Stats{
		Groups:    2,
		Layers:    3,
		Sandboxes: 1,
		ByState: map[types.LockState]int{
			types.LockAvailable:  2,
			types.LockProcessing: 1,
		},
		ByKind: map[types.VolumeType]int{
			types.VolumeData: 1,
			types.VolumeMask: 2,
		},
	}}

	c := NewCollector(src, 0)
	assert.Equal(t, DefaultInterval, c.interval)
	c.Collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(GroupsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(SandboxesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(LayersTotal.WithLabelValues("available")))
	assert.Equal(t, 1.0, testutil.ToFloat64(LayersTotal.WithLabelValues("processing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(LayersTotal.WithLabelValues("in_use")))
	assert.Equal(t, 2.0, testutil.ToFloat64(LayersByKind.WithLabelValues("mask")))
}

func TestCollectorStartStop(t *testing.T) {
	src := fakeSource{stats: manager.Stats{Groups: 7}}
	c := NewCollector(src, 10*time.Millisecond)
	c.Start()
	assert.Eventually(t, func() bool { return testutil.ToFloat64(GroupsTotal) == 7 }, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()
}
