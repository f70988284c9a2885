package provenance

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/log"
	"github.com/cuemby/stratum/pkg/metrics"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/rs/zerolog"
)

// Step is one recorded action: the provenance ids it read, produced and
// invalidated, and the command that reproduces it. Layer ids in
// ActionParams are replaced by ${N}, N indexing Inputs.
type Step struct {
	ID           types.ProvenanceStepID `json:"id"`
	Inputs       []types.ProvenanceID   `json:"inputs"`
	Outputs      []types.ProvenanceID   `json:"outputs"`
	Replaced     []types.ProvenanceID   `json:"replaced,omitempty"`
	ActionName   string                 `json:"action_name"`
	ActionParams string                 `json:"action_params"`
	Timestamp    time.Time              `json:"timestamp"`
	User         string                 `json:"user"`
}

// Command returns the action line of the step, placeholders included
func (s Step) Command() string {
	if s.ActionParams == "" {
		return s.ActionName
	}
	return s.ActionName + " " + s.ActionParams
}

// Store persists steps. ProvenanceDB in pkg/storage implements it.
type Store interface {
	InsertStep(step Step) error
	DeleteStep(id types.ProvenanceStepID) error
	UpdateStepParams(id types.ProvenanceStepID, params string) error
	LoadSteps() ([]Step, error)
}

// Log is the live provenance record. It is safe for concurrent use.
type Log struct {
	mu        sync.RWMutex
	steps     map[types.ProvenanceStepID]Step
	producers map[types.ProvenanceID]types.ProvenanceStepID
	nextID    types.ProvenanceStepID

	store     Store
	publisher events.Publisher
	user      string
	logger    zerolog.Logger
}

// NewLog creates an empty log. store and publisher may be nil.
func NewLog(store Store, publisher events.Publisher, user string) *Log {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Log{
		steps:     make(map[types.ProvenanceStepID]Step),
		producers: make(map[types.ProvenanceID]types.ProvenanceStepID),
		nextID:    1,
		store:     store,
		publisher: publisher,
		user:      user,
		logger:    log.WithComponent("provenance"),
	}
}

// Load reads every persisted step into the log and returns the highest
// provenance id seen, or InvalidProvenanceID if there is none.
func (l *Log) Load() (types.ProvenanceID, error) {
	if l.store == nil {
		return types.InvalidProvenanceID, nil
	}
	steps, err := l.store.LoadSteps()
	if err != nil {
		return types.InvalidProvenanceID, fmt.Errorf("failed to load provenance steps: %w", err)
	}

	maxPID := types.InvalidProvenanceID
	l.mu.Lock()
	for _, s := range steps {
		l.addLocked(s)
		if s.ID >= l.nextID {
			l.nextID = s.ID + 1
		}
		for _, ids := range [][]types.ProvenanceID{s.Inputs, s.Outputs, s.Replaced} {
			for _, pid := range ids {
				if pid > maxPID {
					maxPID = pid
				}
			}
		}
	}
	n := len(l.steps)
	l.mu.Unlock()

	metrics.ProvenanceSteps.Set(float64(n))
	l.logger.Info().Int("steps", n).Msg("Provenance log loaded")
	return maxPID, nil
}

// Record assigns the step an id, stores it and returns the id. The step is
// not recorded if the store rejects it.
func (l *Log) Record(step Step) (types.ProvenanceStepID, error) {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	if step.User == "" {
		step.User = l.user
	}

	l.mu.Lock()
	for _, pid := range step.Outputs {
		if owner, ok := l.producers[pid]; ok {
			l.mu.Unlock()
			return types.InvalidStepID, fmt.Errorf("provenance id %d already produced by step %d", pid, owner)
		}
	}
	step.ID = l.nextID
	if l.store != nil {
		if err := l.store.InsertStep(step); err != nil {
			l.mu.Unlock()
			return types.InvalidStepID, fmt.Errorf("failed to store provenance step: %w", err)
		}
	}
	l.nextID++
	l.addLocked(step)
	n := len(l.steps)
	l.mu.Unlock()

	metrics.ProvenanceSteps.Set(float64(n))
	l.logger.Debug().
		Int64("step_id", int64(step.ID)).
		Str("action", step.ActionName).
		Msg("Provenance step recorded")
	l.publisher.Publish(events.New(events.EventProvenanceRecorded, "Provenance step recorded", map[string]string{
		"step_id": strconv.FormatInt(int64(step.ID), 10),
		"action":  step.ActionName,
	}))
	return step.ID, nil
}

func (l *Log) addLocked(step Step) {
	l.steps[step.ID] = step
	for _, pid := range step.Outputs {
		l.producers[pid] = step.ID
	}
}

// Remove retracts a step. It returns false if the step is unknown.
func (l *Log) Remove(id types.ProvenanceStepID) bool {
	l.mu.Lock()
	step, ok := l.steps[id]
	if !ok {
		l.mu.Unlock()
		return false
	}
	delete(l.steps, id)
	for _, pid := range step.Outputs {
		if l.producers[pid] == id {
			delete(l.producers, pid)
		}
	}
	n := len(l.steps)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.DeleteStep(id); err != nil {
			l.logger.Warn().Err(err).Int64("step_id", int64(id)).Msg("Failed to delete stored provenance step")
		}
	}
	metrics.ProvenanceSteps.Set(float64(n))
	l.publisher.Publish(events.New(events.EventProvenanceRetracted, "Provenance step retracted", map[string]string{
		"step_id": strconv.FormatInt(int64(id), 10),
	}))
	return true
}

// Update replaces the recorded params of a step, for actions that only know
// their final parameters once they have run
func (l *Log) Update(id types.ProvenanceStepID, params string) error {
	l.mu.Lock()
	step, ok := l.steps[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("provenance step %d not found", id)
	}
	step.ActionParams = params
	l.steps[id] = step
	l.mu.Unlock()

	if l.store != nil {
		return l.store.UpdateStepParams(id, params)
	}
	return nil
}

// Step returns the step with the given id
func (l *Log) Step(id types.ProvenanceStepID) (Step, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.steps[id]
	return s, ok
}

// Steps returns every step ordered by id
func (l *Log) Steps() []Step {
	l.mu.RLock()
	out := make([]Step, 0, len(l.steps))
	for _, s := range l.steps {
		out = append(out, s)
	}
	l.mu.RUnlock()
	sortSteps(out)
	return out
}

// Len returns the number of recorded steps
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.steps)
}

// ProducerOf returns the step that produced pid
func (l *Log) ProducerOf(pid types.ProvenanceID) (Step, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.producers[pid]
	if !ok {
		return Step{}, false
	}
	s, ok := l.steps[id]
	return s, ok
}

// TrailFor collects the steps that produced targets and, transitively, their
// inputs. Inputs without a recorded producer end the walk; they must exist
// when the trail is replayed.
func (l *Log) TrailFor(targets ...types.ProvenanceID) Trail {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[types.ProvenanceStepID]bool)
	visited := make(map[types.ProvenanceID]bool)
	queue := append([]types.ProvenanceID(nil), targets...)
	var trail Trail

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if visited[pid] {
			continue
		}
		visited[pid] = true

		id, ok := l.producers[pid]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		step := l.steps[id]
		trail = append(trail, step)
		queue = append(queue, step.Inputs...)
	}

	sortSteps(trail)
	return trail
}

func sortSteps(steps []Step) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
}
