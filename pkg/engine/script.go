package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/types"
	"gopkg.in/yaml.v3"
)

// ScriptKind is the only resource kind a script file may declare
const ScriptKind = "Script"

// Script is a YAML list of actions run one after another:
//
//	apiVersion: stratum/v1
//	kind: Script
//	metadata:
//	  name: segment
//	spec:
//	  actions:
//	    - action: CreateLayer
//	      params:
//	        name: base
//	        dims: 64,64,32
//	        pattern: ramp
//	    - command: Threshold target='layer_1' lower='0.5' upper='1'
type Script struct {
	APIVersion string         `yaml:"apiVersion"`
	Kind       string         `yaml:"kind"`
	Metadata   ScriptMetadata `yaml:"metadata"`
	Spec       ScriptSpec     `yaml:"spec"`
}

type ScriptMetadata struct {
	Name string `yaml:"name"`
}

type ScriptSpec struct {
	Actions []ScriptStep `yaml:"actions"`
}

// ScriptStep is either an action name with a params mapping, whose key
// order is kept, or a complete command line
type ScriptStep struct {
	Action  string    `yaml:"action,omitempty"`
	Params  yaml.Node `yaml:"params,omitempty"`
	Command string    `yaml:"command,omitempty"`
}

// ParseScript decodes a script document
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if s.Kind != ScriptKind {
		return nil, fmt.Errorf("unsupported resource kind: %q", s.Kind)
	}
	if len(s.Spec.Actions) == 0 {
		return nil, fmt.Errorf("script %q has no actions", s.Metadata.Name)
	}
	return &s, nil
}

// CommandLine returns the command line of the step
func (st ScriptStep) CommandLine() (string, error) {
	if st.Command != "" {
		if st.Action != "" {
			return "", fmt.Errorf("step sets both action and command")
		}
		return strings.TrimSpace(st.Command), nil
	}
	if st.Action == "" {
		return "", fmt.Errorf("step needs an action or a command")
	}

	var p action.Params
	switch st.Params.Kind {
	case 0:
	case yaml.MappingNode:
		for i := 0; i+1 < len(st.Params.Content); i += 2 {
			key, val := st.Params.Content[i], st.Params.Content[i+1]
			switch val.Kind {
			case yaml.ScalarNode:
				p.Set(key.Value, val.Value)
			case yaml.SequenceNode:
				items := make([]string, 0, len(val.Content))
				for _, it := range val.Content {
					if it.Kind != yaml.ScalarNode {
						return "", fmt.Errorf("param %s: nested values are not supported", key.Value)
					}
					items = append(items, it.Value)
				}
				p.SetStrings(key.Value, items)
			default:
				return "", fmt.Errorf("param %s: nested values are not supported", key.Value)
			}
		}
	default:
		return "", fmt.Errorf("params of %s must be a mapping", st.Action)
	}
	if len(p) == 0 {
		return st.Action, nil
	}
	return st.Action + " " + p.String(), nil
}

// Commands returns the command lines of every step, in order
func (s *Script) Commands() ([]string, error) {
	out := make([]string, 0, len(s.Spec.Actions))
	for i, st := range s.Spec.Actions {
		cmd, err := st.CommandLine()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		out = append(out, cmd)
	}
	return out, nil
}

// StepResult is the outcome of one script step
type StepResult struct {
	Command string
	Status  types.ActionStatus
	Layers  []string
}

// RunScript dispatches every step with the script source and waits for each
// to finish before posting the next. It stops at the first failing step.
func (e *Engine) RunScript(ctx context.Context, s *Script) ([]StepResult, error) {
	commands, err := s.Commands()
	if err != nil {
		return nil, err
	}

	logger := e.logger.With().Str("script", s.Metadata.Name).Logger()
	results := make([]StepResult, 0, len(commands))
	for i, cmd := range commands {
		actx, err := e.Run(ctx, cmd)
		res := StepResult{Command: cmd, Status: types.StatusError}
		if actx != nil {
			res.Status = actx.Status()
			if r := actx.Result(); r != nil {
				res.Layers = r.Layers()
			}
		}
		if err != nil {
			if res.Status == types.StatusSuccess {
				res.Status = types.StatusError
			}
			results = append(results, res)
			logger.Error().Err(err).Int("step", i+1).Str("command", cmd).Msg("Script step failed")
			return results, fmt.Errorf("step %d (%s): %w", i+1, cmd, err)
		}
		results = append(results, res)
		logger.Debug().Int("step", i+1).Strs("layers", res.Layers).Msg("Script step completed")
	}
	logger.Info().Int("steps", len(results)).Msg("Script completed")
	return results, nil
}
