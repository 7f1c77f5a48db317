package runbook

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"github.com/eugenetaranov/fleetcmd/internal/module"
)

// knownStepFields are step directives, not tool names.
var knownStepFields = map[string]bool{
	"name":          true,
	"when":          true,
	"register":      true,
	"loop":          true,
	"with_items":    true,
	"loop_var":      true,
	"ignore_errors": true,
}

// rawParam holds the string form of a step until it is expanded.
const rawParam = "_raw"

var knownRunbookFields = map[string]bool{
	"name":  true,
	"vars":  true,
	"steps": true,
}

// ParseFile parses a runbook from a YAML file.
func ParseFile(path string) (*Runbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read runbook: %w", err)
	}

	rb, err := Parse(data, path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse runbook %s: %w", path, err)
	}
	return rb, nil
}

// Parse parses a runbook from YAML data. The tool of each step is the one
// key that is not a step directive.
func Parse(data []byte, path string) (*Runbook, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid runbook format: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("runbook is empty")
	}

	for _, key := range sortedKeys(raw) {
		if !knownRunbookFields[key] {
			return nil, fmt.Errorf("unknown runbook field '%s'", key)
		}
	}

	rb := &Runbook{
		Path: path,
		Vars: make(map[string]any),
	}

	if v, ok := raw["name"].(string); ok {
		rb.Name = v
	}

	switch vars := raw["vars"].(type) {
	case nil:
	case map[string]any:
		rb.Vars = vars
	default:
		return nil, fmt.Errorf("vars must be a mapping")
	}

	steps, ok := raw["steps"].([]any)
	if !ok && raw["steps"] != nil {
		return nil, fmt.Errorf("steps must be a list")
	}
	for i, rawStep := range steps {
		stepMap, ok := rawStep.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("step %d: invalid step format", i+1)
		}
		step, err := parseRawStep(stepMap)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		rb.Steps = append(rb.Steps, step)
	}

	if err := rb.Validate(); err != nil {
		return nil, err
	}

	return rb, nil
}

// parseRawStep parses a single step from a raw map.
func parseRawStep(raw map[string]any) (*Step, error) {
	step := &Step{
		Params: make(map[string]any),
	}

	if v, ok := raw["name"].(string); ok {
		step.Name = v
	}
	if v, ok := raw["when"]; ok {
		// `when: true` decodes as a bool
		step.When = fmt.Sprintf("%v", v)
	}
	if v, ok := raw["register"].(string); ok {
		step.Register = v
	}
	if v, ok := raw["loop_var"].(string); ok {
		step.LoopVar = v
	}
	if v, ok := raw["ignore_errors"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return nil, fmt.Errorf("ignore_errors must be true or false")
		}
		step.IgnoreErrors = b
	}

	loop, ok := raw["loop"]
	if !ok {
		loop, ok = raw["with_items"]
	}
	if ok {
		items, isList := loop.([]any)
		if !isList {
			return nil, fmt.Errorf("loop must be a list")
		}
		step.Loop = items
	}

	// The tool is the key that is not a step directive.
	for _, key := range sortedKeys(raw) {
		if knownStepFields[key] {
			continue
		}

		if step.Tool != "" {
			return nil, fmt.Errorf("multiple tools specified: %s and %s", step.Tool, key)
		}
		step.Tool = key

		switch params := raw[key].(type) {
		case map[string]any:
			step.Params = params
		case string:
			// Expanded after interpolation; only the quoting is checked here.
			if _, err := shellquote.Split(params); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			step.Params = map[string]any{rawParam: params}
		case nil:
		default:
			return nil, fmt.Errorf("%s: parameters must be a mapping or a string", key)
		}
	}

	return step, nil
}

// ExpandShorthand expands the string form of a step into parameters.
// The string is split into words with shell rules; no shell ever sees it.
//
//	squeue: -p gpu -t PD    -> {args: [-p, gpu, -t, PD]}
//	command: df -h /scratch -> {cmd: df, args: [-h, /scratch]}
//	read_file: /etc/hosts   -> {path: /etc/hosts}
func ExpandShorthand(tool, raw string) (map[string]any, error) {
	words, err := shellquote.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tool, err)
	}

	args := make([]any, len(words))
	for i, w := range words {
		args[i] = w
	}

	switch tool {
	case "command":
		if len(args) == 0 {
			return map[string]any{}, nil
		}
		return map[string]any{"cmd": args[0], "args": args[1:]}, nil
	case "read_file":
		return map[string]any{"path": strings.TrimSpace(raw)}, nil
	default:
		return map[string]any{"args": args}, nil
	}
}

// ResolveTools checks that every step names a registered tool.
func ResolveTools(rb *Runbook) error {
	for i, step := range rb.Steps {
		if module.Get(step.Tool) == nil {
			return fmt.Errorf("step %d: unknown tool '%s' (available: %s)",
				i+1, step.Tool, strings.Join(module.List(), ", "))
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
