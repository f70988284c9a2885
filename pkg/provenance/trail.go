package provenance

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cuemby/stratum/pkg/types"
)

var (
	// ErrAmbiguousTrail is returned when a trail does not end in exactly one step
	ErrAmbiguousTrail = errors.New("ambiguous provenance trail")

	// ErrCyclicTrail is returned when the steps of a trail are not a DAG
	ErrCyclicTrail = errors.New("cyclic provenance trail")

	// ErrEmptyTrail is returned when nothing produced the requested ids
	ErrEmptyTrail = errors.New("provenance trail is empty")
)

// Trail is a set of steps that together derive some provenance ids
type Trail []Step

// Build orders the trail so that every step follows the steps producing its
// inputs, and counts its roots: steps whose outputs no other trail step
// consumes. A replayable trail has exactly one root.
func (t Trail) Build() ([]Step, int, error) {
	if len(t) == 0 {
		return nil, 0, ErrEmptyTrail
	}

	producer := make(map[types.ProvenanceID]int, len(t))
	for i, s := range t {
		for _, pid := range s.Outputs {
			producer[pid] = i
		}
	}

	// users[i] are the trail steps reading an output of step i
	indegree := make([]int, len(t))
	users := make([][]int, len(t))
	for i, s := range t {
		seen := make(map[int]bool)
		for _, pid := range s.Inputs {
			p, ok := producer[pid]
			if !ok || seen[p] {
				continue
			}
			if p == i {
				return nil, 0, fmt.Errorf("%w: step %d consumes its own output", ErrCyclicTrail, s.ID)
			}
			seen[p] = true
			indegree[i]++
			users[p] = append(users[p], i)
		}
	}

	roots := 0
	for i := range t {
		if len(users[i]) == 0 {
			roots++
		}
	}

	// Kahn's algorithm, lowest step id first among ready steps
	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]Step, 0, len(t))
	for len(ready) > 0 {
		sort.Slice(ready, func(a, b int) bool { return t[ready[a]].ID < t[ready[b]].ID })
		i := ready[0]
		ready = ready[1:]
		order = append(order, t[i])
		for _, u := range users[i] {
			indegree[u]--
			if indegree[u] == 0 {
				ready = append(ready, u)
			}
		}
	}
	if len(order) != len(t) {
		return nil, roots, ErrCyclicTrail
	}
	return order, roots, nil
}

// Validate builds the trail and rejects it unless it has exactly one root
func (t Trail) Validate() ([]Step, error) {
	order, roots, err := t.Build()
	if err != nil {
		return nil, err
	}
	if roots != 1 {
		return nil, fmt.Errorf("%w: %d roots", ErrAmbiguousTrail, roots)
	}
	return order, nil
}
