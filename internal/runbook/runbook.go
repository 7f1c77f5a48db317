// Package runbook defines the structure, parsing and execution of fleetcmd runbooks.
//
// A runbook is a named list of tool calls run one after another against the
// configured login node:
//
//	name: gpu partition health
//	vars:
//	  partition: gpu
//	steps:
//	  - name: Partition state
//	    sinfo:
//	      args: [-p, "{{ partition }}"]
//	    register: part
//	  - name: Pending jobs
//	    squeue: -p {{ partition }} -t PD
//	    when: part.success
package runbook

import (
	"fmt"
	"strings"
)

// Runbook represents a parsed runbook file.
type Runbook struct {
	// Path is the file path the runbook was loaded from.
	Path string

	// Name is an optional description of the runbook.
	Name string

	// Vars defines variables available to all steps.
	Vars map[string]any

	// Steps is the list of tool calls to execute in order.
	Steps []*Step
}

// Step represents a single tool call in a runbook.
type Step struct {
	// Name is a description of the step.
	Name string

	// Tool is the name of the registered tool to run.
	Tool string

	// Params are the parameters to pass to the tool.
	Params map[string]any

	// When is a conditional expression; the step runs only if true.
	When string

	// Register stores the step result in a variable with this name.
	Register string

	// Loop runs the step once per item.
	Loop []any

	// LoopVar is the variable name for the current item (default: "item").
	LoopVar string

	// IgnoreErrors continues execution even if the step fails.
	IgnoreErrors bool
}

// GetLoopVar returns the loop variable name, defaulting to "item".
func (s *Step) GetLoopVar() string {
	if s.LoopVar == "" {
		return "item"
	}
	return s.LoopVar
}

// Validate checks the runbook for common errors.
func (rb *Runbook) Validate() error {
	if len(rb.Steps) == 0 {
		return fmt.Errorf("runbook has no steps")
	}

	registered := map[string]bool{}
	for i, step := range rb.Steps {
		if err := step.Validate(); err != nil {
			name := step.Name
			if name == "" {
				name = fmt.Sprintf("step %d", i+1)
			}
			return fmt.Errorf("%s: %w", name, err)
		}
		if step.Register != "" {
			registered[step.Register] = true
		}
	}

	for name := range registered {
		if _, clash := rb.Vars[name]; clash {
			return fmt.Errorf("register name '%s' shadows a runbook variable", name)
		}
	}

	return nil
}

// Validate checks the step for common errors.
func (s *Step) Validate() error {
	if s.Tool == "" {
		return fmt.Errorf("step has no tool specified")
	}
	if s.Register != "" && !isIdentifier(s.Register) {
		return fmt.Errorf("register name '%s' must be a plain identifier", s.Register)
	}
	if s.LoopVar != "" && !isIdentifier(s.LoopVar) {
		return fmt.Errorf("loop_var '%s' must be a plain identifier", s.LoopVar)
	}
	return nil
}

// String returns a human-readable description of the step.
func (s *Step) String() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%s: %v", s.Tool, summarizeParams(s.Params))
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}

// summarizeParams creates a brief summary of step parameters.
func summarizeParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}

	keys := sortedKeys(params)
	var parts []string
	for _, k := range keys {
		switch val := params[k].(type) {
		case string:
			if len(val) > 30 {
				val = val[:27] + "..."
			}
			parts = append(parts, fmt.Sprintf("%s=%q", k, val))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, val))
		}
		if len(parts) >= 3 && len(keys) > 3 {
			parts = append(parts, "...")
			break
		}
	}

	return "{" + strings.Join(parts, ", ") + "}"
}
