package provenance

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/types"
)

var (
	// ErrIncompleteTrail is returned when a replay input neither exists nor is produced by the trail
	ErrIncompleteTrail = errors.New("provenance trail is incomplete")

	// ErrInvalidRecord is returned for a placeholder that does not name an input
	ErrInvalidRecord = errors.New("invalid provenance record")
)

var placeholderRe = regexp.MustCompile(`\$\{([0-9]+)\}`)

// InputKind says where a replayed step reads one of its inputs from
type InputKind int

const (
	// InputLive is an existing live layer used as is
	InputLive InputKind = iota
	// InputDuplicate is a live layer copied into the sandbox before replay
	// because a replayed step rewrites it
	InputDuplicate
	// InputOutput is an output of an earlier invocation
	InputOutput
)

func (k InputKind) String() string {
	switch k {
	case InputLive:
		return "live"
	case InputDuplicate:
		return "duplicate"
	case InputOutput:
		return "output"
	default:
		return "unknown"
	}
}

// InputRef locates one input of an invocation
type InputRef struct {
	Kind         InputKind
	ProvenanceID types.ProvenanceID
	Invocation   int // for InputOutput
	Output       int // for InputOutput
}

// Invocation is one action to run during replay
type Invocation struct {
	StepID     types.ProvenanceStepID
	ActionName string
	Params     string // with ${N} placeholders
	Inputs     []InputRef
	Outputs    []types.ProvenanceID
}

// Command substitutes resolved layer ids for the placeholders and returns
// the action line to parse and dispatch
func (inv Invocation) Command(resolve func(InputRef) (string, error)) (string, error) {
	ids := make([]string, len(inv.Inputs))
	for i, ref := range inv.Inputs {
		id, err := resolve(ref)
		if err != nil {
			return "", err
		}
		ids[i] = id
	}
	params, err := Substitute(inv.Params, ids)
	if err != nil {
		return "", fmt.Errorf("step %d: %w", inv.StepID, err)
	}
	if params == "" {
		return inv.ActionName, nil
	}
	return inv.ActionName + " " + params, nil
}

// Plan is a compiled trail: the live layers to duplicate into the sandbox,
// then a linear list of invocations
type Plan struct {
	Targets     []types.ProvenanceID
	Duplicates  []types.ProvenanceID
	Invocations []Invocation
}

// Empty reports whether nothing needs to run
func (p *Plan) Empty() bool {
	return len(p.Invocations) == 0
}

// Produced returns the invocation and output index that yield pid
func (p *Plan) Produced(pid types.ProvenanceID) (int, int, bool) {
	for i, inv := range p.Invocations {
		for j, out := range inv.Outputs {
			if out == pid {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// Compile turns a trail into a replay plan. exists reports whether a live
// layer currently carries a provenance id. Steps whose outputs all exist are
// skipped, so replaying the trail of layers that are all live yields an
// empty plan.
func Compile(trail Trail, targets []types.ProvenanceID, exists func(types.ProvenanceID) bool) (*Plan, error) {
	plan := &Plan{Targets: append([]types.ProvenanceID(nil), targets...)}
	if allExist(targets, exists) {
		return plan, nil
	}

	order, err := trail.Validate()
	if err != nil {
		return nil, err
	}

	var kept []Step
	for _, s := range order {
		if !allExist(s.Outputs, exists) {
			kept = append(kept, s)
		}
	}

	replaced := make(map[types.ProvenanceID]bool)
	for _, s := range kept {
		for _, pid := range s.Replaced {
			replaced[pid] = true
		}
	}

	type outRef struct{ inv, out int }
	produced := make(map[types.ProvenanceID]outRef)
	duplicated := make(map[types.ProvenanceID]bool)

	for i, s := range kept {
		inv := Invocation{
			StepID:     s.ID,
			ActionName: s.ActionName,
			Params:     s.ActionParams,
			Outputs:    append([]types.ProvenanceID(nil), s.Outputs...),
		}
		for _, pid := range s.Inputs {
			switch ref, ok := produced[pid]; {
			case ok:
				inv.Inputs = append(inv.Inputs, InputRef{Kind: InputOutput, ProvenanceID: pid, Invocation: ref.inv, Output: ref.out})
			case !exists(pid):
				return nil, fmt.Errorf("%w: input %d of step %d does not exist", ErrIncompleteTrail, pid, s.ID)
			case replaced[pid]:
				if !duplicated[pid] {
					duplicated[pid] = true
					plan.Duplicates = append(plan.Duplicates, pid)
				}
				inv.Inputs = append(inv.Inputs, InputRef{Kind: InputDuplicate, ProvenanceID: pid})
			default:
				inv.Inputs = append(inv.Inputs, InputRef{Kind: InputLive, ProvenanceID: pid})
			}
		}
		for j, pid := range s.Outputs {
			produced[pid] = outRef{inv: i, out: j}
		}
		plan.Invocations = append(plan.Invocations, inv)
	}

	for _, pid := range targets {
		if _, ok := produced[pid]; !ok && !exists(pid) {
			return nil, fmt.Errorf("%w: nothing produces %d", ErrIncompleteTrail, pid)
		}
	}
	return plan, nil
}

func allExist(ids []types.ProvenanceID, exists func(types.ProvenanceID) bool) bool {
	for _, pid := range ids {
		if !exists(pid) {
			return false
		}
	}
	return true
}

// Substitute replaces each ${N} in params with ids[N]
func Substitute(params string, ids []string) (string, error) {
	var err error
	out := placeholderRe.ReplaceAllStringFunc(params, func(m string) string {
		n, convErr := strconv.Atoi(m[2 : len(m)-1])
		if convErr != nil || n >= len(ids) {
			err = fmt.Errorf("%w: placeholder %s with %d inputs", ErrInvalidRecord, m, len(ids))
			return m
		}
		return ids[n]
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Placeholders returns a copy of p with every occurrence of an input layer id
// replaced by ${N}, N being the id's index in inputIDs. Comma separated list
// values are rewritten element by element.
func Placeholders(p action.Params, inputIDs []string) action.Params {
	index := make(map[string]int, len(inputIDs))
	for i, id := range inputIDs {
		if _, ok := index[id]; !ok {
			index[id] = i
		}
	}

	out := p.Clone()
	for i, kv := range out {
		parts := strings.Split(kv.Value, ",")
		changed := false
		for j, part := range parts {
			if n, ok := index[strings.TrimSpace(part)]; ok {
				parts[j] = "${" + strconv.Itoa(n) + "}"
				changed = true
			}
		}
		if changed {
			out[i].Value = strings.Join(parts, ",")
		}
	}
	return out
}

// RecreatedName is the name given to a layer recreated from provenance
func RecreatedName(pid types.ProvenanceID) string {
	return "Recreated_Provenance_ID_" + strconv.FormatInt(int64(pid), 10)
}
