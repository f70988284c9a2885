package autosave

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/stratum/pkg/log"
	"github.com/cuemby/stratum/pkg/metrics"
	"github.com/rs/zerolog"
)

// DefaultInterval is used when a non-positive interval is given
const DefaultInterval = 30 * time.Second

// Saver writes the live project to its store
type Saver interface {
	SaveProject(ctx context.Context) error
}

// Autosaver keeps the saved project in step with the live one by saving
// it periodically while it has unsaved changes
type Autosaver struct {
	saver    Saver
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	dirty   atomic.Bool
	mu      sync.Mutex
	lastErr error

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an autosaver for saver
func New(saver Saver, interval time.Duration) *Autosaver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Autosaver{
		saver:    saver,
		interval: interval,
		timeout:  interval,
		logger:   log.WithComponent("autosave"),
		stopCh:   make(chan struct{}),
	}
}

// MarkDirty records that the live project changed since the last save
func (a *Autosaver) MarkDirty() {
	a.dirty.Store(true)
}

// Dirty reports whether there are unsaved changes
func (a *Autosaver) Dirty() bool {
	return a.dirty.Load()
}

// LastError returns the error of the most recent save, nil after a success
func (a *Autosaver) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Start begins the save loop
func (a *Autosaver) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop ends the save loop and waits for a save in progress
func (a *Autosaver) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
	a.wg.Wait()
}

func (a *Autosaver) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
			if err := a.Flush(ctx); err != nil {
				a.logger.Error().Err(err).Msg("Autosave failed")
			}
			cancel()
		case <-a.stopCh:
			return
		}
	}
}

// Flush saves the project if it has unsaved changes. A failed save leaves
// the project dirty.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.dirty.Swap(false) {
		return nil
	}

	timer := metrics.NewTimer()
	err := a.saver.SaveProject(ctx)
	timer.ObserveDuration(metrics.ProjectSaveDuration)

	a.lastErr = err
	if err != nil {
		a.dirty.Store(true)
		metrics.ProjectSavesTotal.WithLabelValues("autosave", "failure").Inc()
		return err
	}
	metrics.ProjectSavesTotal.WithLabelValues("autosave", "success").Inc()
	a.logger.Debug().Msg("Project saved")
	return nil
}
