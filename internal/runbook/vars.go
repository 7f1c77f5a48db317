package runbook

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// varPattern matches {{ variable }} syntax.
var varPattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// RunContext holds the variables visible to the steps of one run.
type RunContext struct {
	// Vars holds runbook vars, extra vars, env and loop variables.
	Vars map[string]any

	// Registered holds step results stored via register.
	Registered map[string]any
}

// NewRunContext returns an empty context.
func NewRunContext() *RunContext {
	return &RunContext{
		Vars:       make(map[string]any),
		Registered: make(map[string]any),
	}
}

// InterpolateParams recursively interpolates variables in step parameters.
func (c *RunContext) InterpolateParams(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))

	for k, v := range params {
		interpolated, err := c.interpolateValue(v)
		if err != nil {
			return nil, fmt.Errorf("parameter '%s': %w", k, err)
		}
		out[k] = interpolated
	}

	return out, nil
}

// interpolateValue interpolates variables in a single value.
func (c *RunContext) interpolateValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return c.interpolateString(val)

	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			interpolated, err := c.interpolateValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = interpolated
		}
		return out, nil

	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			interpolated, err := c.interpolateValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = interpolated
		}
		return out, nil

	default:
		return v, nil
	}
}

// interpolateString replaces {{ var }} patterns with their values.
// A string that is exactly one reference keeps the value's type, so a list
// variable can feed a hosts parameter.
func (c *RunContext) interpolateString(s string) (any, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		if !strings.Contains(inner, "{{") && !strings.Contains(inner, "}}") {
			return c.resolveVariable(inner)
		}
	}

	var firstErr error
	out := varPattern.ReplaceAllStringFunc(s, func(match string) string {
		inner := varPattern.FindStringSubmatch(match)
		if len(inner) < 2 {
			return match
		}

		val, err := c.resolveVariable(inner[1])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		if val == nil {
			return ""
		}
		return stringify(val)
	})
	if firstErr != nil {
		return nil, firstErr
	}

	return out, nil
}

// resolveVariable resolves an expression such as `name`, `a.b` or
// `hosts | join(',')`. Filters chain left to right.
func (c *RunContext) resolveVariable(expr string) (any, error) {
	segments := splitFilters(expr)
	val := c.Lookup(strings.TrimSpace(segments[0]))

	for _, filter := range segments[1:] {
		var err error
		val, err = applyFilter(val, strings.TrimSpace(filter))
		if err != nil {
			return nil, err
		}
	}

	return val, nil
}

// Lookup returns a variable by name or dotted path, or nil.
// Registered results shadow vars.
func (c *RunContext) Lookup(name string) any {
	if val, ok := c.Registered[name]; ok {
		return val
	}
	if val, ok := c.Vars[name]; ok {
		return val
	}

	if !strings.Contains(name, ".") {
		return nil
	}

	parts := strings.Split(name, ".")
	var current any
	if reg, ok := c.Registered[parts[0]]; ok {
		current = reg
	} else {
		current = c.Vars[parts[0]]
	}

	for _, part := range parts[1:] {
		switch cur := current.(type) {
		case map[string]any:
			current = cur[part]
		case map[string]string:
			v, ok := cur[part]
			if !ok {
				return nil
			}
			current = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(cur) {
				return nil
			}
			current = cur[i]
		default:
			return nil
		}

		if current == nil {
			return nil
		}
	}

	return current
}

// applyFilter applies one filter to a value.
func applyFilter(val any, filter string) (any, error) {
	filterName := filter
	var filterArg string
	hasArg := false

	if idx := strings.Index(filter, "("); idx > 0 {
		filterName = strings.TrimSpace(filter[:idx])
		argPart := filter[idx+1:]
		if endIdx := strings.LastIndex(argPart, ")"); endIdx >= 0 {
			filterArg = unquote(strings.TrimSpace(argPart[:endIdx]))
			hasArg = true
		}
	}

	switch filterName {
	case "default":
		if val == nil || val == "" {
			return filterArg, nil
		}
		return val, nil

	case "lower":
		if s, ok := val.(string); ok {
			return strings.ToLower(s), nil
		}
		return val, nil

	case "upper":
		if s, ok := val.(string); ok {
			return strings.ToUpper(s), nil
		}
		return val, nil

	case "trim":
		if s, ok := val.(string); ok {
			return strings.TrimSpace(s), nil
		}
		return val, nil

	case "bool":
		return isTruthy(val), nil

	case "string":
		if val == nil {
			return "", nil
		}
		return stringify(val), nil

	case "int":
		switch v := val.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return 0, nil
			}
			return i, nil
		}
		return 0, nil

	case "first":
		if items, ok := toList(val); ok && len(items) > 0 {
			return items[0], nil
		}
		return nil, nil

	case "last":
		if items, ok := toList(val); ok && len(items) > 0 {
			return items[len(items)-1], nil
		}
		return nil, nil

	case "length", "count":
		switch v := val.(type) {
		case string:
			return len(v), nil
		case map[string]any:
			return len(v), nil
		}
		if items, ok := toList(val); ok {
			return len(items), nil
		}
		return 0, nil

	case "join":
		items, ok := toList(val)
		if !ok {
			return val, nil
		}
		sep := ","
		if hasArg {
			sep = filterArg
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, sep), nil

	default:
		return nil, fmt.Errorf("unknown filter: %s", filterName)
	}
}

// splitFilters splits on | outside quotes.
func splitFilters(expr string) []string {
	var segments []string
	var quote rune
	start := 0
	for i, r := range expr {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '|':
			segments = append(segments, expr[start:i])
			start = i + 1
		}
	}
	return append(segments, expr[start:])
}

func toList(val any) ([]any, bool) {
	switch v := val.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func stringify(v any) string {
	if items, ok := toList(v); ok {
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprintf("%v", v)
}
