package module

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/eugenetaranov/fleetcmd/internal/command"
)

// Helper functions for parameter extraction. Parameters arrive from YAML
// runbooks, JSON and key=value flags, so numbers may be int, float64 or
// string and lists may be []any, []string or a single string.

// RequireString returns a non-empty string parameter.
func RequireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", command.Invalid(key, "required parameter '%s' is missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", command.Invalid(key, "parameter '%s' must be a string", key)
	}
	if s == "" {
		return "", command.Invalid(key, "parameter '%s' cannot be empty", key)
	}
	return s, nil
}

// GetString returns a string parameter or defaultValue.
func GetString(params map[string]any, key, defaultValue string) string {
	v, ok := params[key]
	if !ok {
		return defaultValue
	}
	s, ok := v.(string)
	if !ok {
		return defaultValue
	}
	return s
}

// GetStringSlice returns a list parameter. Scalars inside the list are
// formatted with %v so `args: [-n, 10]` works from YAML. A plain string is
// split into words with shell rules, so `--format=JobID,State` stays one
// token and quoted words keep their spaces.
func GetStringSlice(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}

	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...), nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			switch item.(type) {
			case string, int, int64, float64, bool:
				out = append(out, scalarString(item))
			default:
				return nil, command.Invalid(key, "parameter '%s' must be a list of strings", key)
			}
		}
		return out, nil
	case string:
		words, err := shellquote.Split(val)
		if err != nil {
			return nil, command.Invalid(key, "parameter '%s': %v", key, err)
		}
		if len(words) == 0 {
			return nil, nil
		}
		return words, nil
	default:
		return nil, command.Invalid(key, "parameter '%s' must be a list", key)
	}
}

// RequireHosts returns a validated, non-empty host list. A string value is a
// comma or space separated list.
func RequireHosts(params map[string]any) ([]string, error) {
	var hosts []string
	if s, ok := params["hosts"].(string); ok {
		hosts = strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
	} else {
		var err error
		hosts, err = GetStringSlice(params, "hosts")
		if err != nil {
			return nil, err
		}
	}
	if err := command.ValidateHosts(hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// GetInt returns an integer parameter or defaultValue.
func GetInt(params map[string]any, key string, defaultValue int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return defaultValue, nil
	}
	return toInt(key, v)
}

// GetOptionalInt returns nil when the parameter is absent.
func GetOptionalInt(params map[string]any, key string) (*int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := toInt(key, v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func toInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, command.Invalid(key, "parameter '%s' must be an integer", key)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, command.Invalid(key, "parameter '%s' must be an integer", key)
		}
		return i, nil
	default:
		return 0, command.Invalid(key, "parameter '%s' must be an integer", key)
	}
}

func scalarString(v any) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprintf("%v", v)
}
