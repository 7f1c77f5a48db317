package runbook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/module"
	"github.com/eugenetaranov/fleetcmd/internal/output"
	"github.com/eugenetaranov/fleetcmd/internal/result"
)

// Stats holds execution statistics.
type Stats struct {
	Steps     int       `json:"steps"`
	OK        int       `json:"ok"`
	Failed    int       `json:"failed"`
	Ignored   int       `json:"ignored"`
	Skipped   int       `json:"skipped"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Duration returns the total execution time.
func (s *Stats) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// GetOK returns the OK count (implements output.Stats).
func (s *Stats) GetOK() int { return s.OK }

// GetFailed returns the Failed count (implements output.Stats).
func (s *Stats) GetFailed() int { return s.Failed }

// GetIgnored returns the Ignored count (implements output.Stats).
func (s *Stats) GetIgnored() int { return s.Ignored }

// GetSkipped returns the Skipped count (implements output.Stats).
func (s *Stats) GetSkipped() int { return s.Skipped }

// GetDuration returns the duration (implements output.Stats).
func (s *Stats) GetDuration() time.Duration { return s.Duration() }

// StepOutcome is the record of one executed (or skipped) step.
type StepOutcome struct {
	Name   string         `json:"name"`
	Tool   string         `json:"tool"`
	Status string         `json:"status"`
	Item   any            `json:"item,omitempty"`
	Result *result.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// RunResult holds the result of a runbook run.
type RunResult struct {
	// Success is true if no step failed without ignore_errors.
	Success bool `json:"success"`

	// Stats holds execution statistics.
	Stats *Stats `json:"stats"`

	// Steps lists every step outcome in execution order.
	Steps []StepOutcome `json:"steps"`
}

// Runner executes runbooks one step at a time.
type Runner struct {
	exec   *executor.Executor
	out    *output.Output
	log    zerolog.Logger
	vars   map[string]any
	dryRun bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithOutput sets where step lines and the recap are printed.
func WithOutput(o *output.Output) RunnerOption {
	return func(r *Runner) {
		r.out = o
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.log = l
	}
}

// WithVars adds extra vars that override runbook vars.
func WithVars(vars map[string]any) RunnerOption {
	return func(r *Runner) {
		for k, v := range vars {
			r.vars[k] = v
		}
	}
}

// WithDryRun only reports what would run.
func WithDryRun(enabled bool) RunnerOption {
	return func(r *Runner) {
		r.dryRun = enabled
	}
}

// NewRunner creates a runner that sends tool calls through exec.
func NewRunner(exec *executor.Executor, opts ...RunnerOption) *Runner {
	r := &Runner{
		exec: exec,
		out:  output.New(os.Stdout),
		log:  zerolog.Nop(),
		vars: make(map[string]any),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a runbook. A failing step stops the run unless it sets
// ignore_errors. The returned error is only non-nil when ctx ends the run.
func (r *Runner) Run(ctx context.Context, rb *Runbook) (*RunResult, error) {
	stats := &Stats{StartTime: time.Now()}
	res := &RunResult{Success: true, Stats: stats, Steps: []StepOutcome{}}

	rctx := NewRunContext()
	for k, v := range rb.Vars {
		rctx.Vars[k] = v
	}
	for k, v := range r.vars {
		rctx.Vars[k] = v
	}
	rctx.Vars["env"] = getEnvMap()

	r.out.RunbookStart(rb.Path, rb.Name)

	var runErr error
	for _, step := range rb.Steps {
		if err := ctx.Err(); err != nil {
			res.Success = false
			runErr = err
			r.out.Error("Run interrupted: %v", err)
			break
		}

		outcomes, err := r.runStep(ctx, rctx, step)
		for _, o := range outcomes {
			stats.Steps++
			switch o.Status {
			case output.StatusOK:
				stats.OK++
			case output.StatusFailed:
				stats.Failed++
			case output.StatusIgnored:
				stats.Ignored++
			case output.StatusSkipped:
				stats.Skipped++
			}
		}
		res.Steps = append(res.Steps, outcomes...)

		if err != nil {
			res.Success = false
			r.log.Warn().Err(err).Str("step", step.String()).Msg("step failed")
			break
		}
	}

	stats.EndTime = time.Now()
	r.out.RunbookEnd(stats)

	return res, runErr
}

// runStep evaluates when, then runs the step once or per loop item.
// A non-nil error means the run must stop.
func (r *Runner) runStep(ctx context.Context, rctx *RunContext, step *Step) ([]StepOutcome, error) {
	name := step.String()

	if step.When != "" {
		shouldRun, err := evaluateCondition(step.When, rctx)
		if err != nil {
			err = fmt.Errorf("failed to evaluate 'when' condition: %w", err)
			r.out.StepResult(name, step.Tool, output.StatusFailed, err.Error())
			return []StepOutcome{{Name: name, Tool: step.Tool, Status: output.StatusFailed, Error: err.Error()}}, err
		}
		if !shouldRun {
			r.out.StepResult(name, step.Tool, output.StatusSkipped, "when condition not met")
			return []StepOutcome{{Name: name, Tool: step.Tool, Status: output.StatusSkipped}}, nil
		}
	}

	if len(step.Loop) == 0 {
		outcome, err := r.runSingleStep(ctx, rctx, step)
		if step.Register != "" && outcome.Result != nil {
			rctx.Registered[step.Register] = registerValue(outcome.Result)
		}
		return []StepOutcome{outcome}, err
	}

	return r.runStepLoop(ctx, rctx, step)
}

// runSingleStep resolves the tool, interpolates params and runs it once.
func (r *Runner) runSingleStep(ctx context.Context, rctx *RunContext, step *Step) (StepOutcome, error) {
	name := step.String()
	outcome := StepOutcome{Name: name, Tool: step.Tool}

	fail := func(err error) (StepOutcome, error) {
		outcome.Error = err.Error()
		if step.IgnoreErrors {
			outcome.Status = output.StatusIgnored
			r.out.StepResult(name, step.Tool, outcome.Status, outcome.Error)
			return outcome, nil
		}
		outcome.Status = output.StatusFailed
		r.out.StepResult(name, step.Tool, outcome.Status, outcome.Error)
		return outcome, err
	}

	mod := module.Get(step.Tool)
	if mod == nil {
		return fail(fmt.Errorf("unknown tool: %s", step.Tool))
	}

	params, err := rctx.InterpolateParams(step.Params)
	if err != nil {
		return fail(fmt.Errorf("failed to interpolate parameters: %w", err))
	}
	if raw, ok := params[rawParam]; ok {
		params, err = ExpandShorthand(step.Tool, stringify(raw))
		if err != nil {
			return fail(err)
		}
	}

	if r.dryRun {
		outcome.Status = output.StatusSkipped
		r.out.StepResult(name, step.Tool, outcome.Status, "dry run")
		return outcome, nil
	}

	r.log.Debug().Str("step", name).Str("tool", step.Tool).Msg("running step")

	res, err := mod.Run(ctx, r.exec, params)
	if err != nil {
		return fail(err)
	}
	outcome.Result = res

	if !res.Success {
		return fail(errors.New(res.ErrorMessage()))
	}

	outcome.Status = output.StatusOK
	r.out.StepResult(name, step.Tool, outcome.Status, "")
	r.out.ResultDetail(res)
	return outcome, nil
}

// runStepLoop runs a step for each loop item. The register variable holds
// the per-item results under "results".
func (r *Runner) runStepLoop(ctx context.Context, rctx *RunContext, step *Step) ([]StepOutcome, error) {
	loopVar := step.GetLoopVar()
	defer func() {
		delete(rctx.Vars, loopVar)
		delete(rctx.Vars, "loop_index")
	}()

	var outcomes []StepOutcome
	var registered []any
	allOK := true

	for i, item := range step.Loop {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		rctx.Vars[loopVar] = item
		rctx.Vars["loop_index"] = i

		outcome, err := r.runSingleStep(ctx, rctx, step)
		outcome.Item = item
		outcomes = append(outcomes, outcome)
		if outcome.Status != output.StatusOK {
			allOK = false
		}
		if outcome.Result != nil {
			registered = append(registered, registerValue(outcome.Result))
		}
		if err != nil {
			return outcomes, err
		}
	}

	if step.Register != "" {
		rctx.Registered[step.Register] = map[string]any{
			"success": allOK,
			"results": registered,
		}
	}

	return outcomes, nil
}

// registerValue exposes a result to later steps.
//
//	x.success, x.error, x.lines, x.hosts (names), x.host_lines.<host>,
//	x.values.<host>, x.queried, x.meta.<key>
func registerValue(res *result.Result) map[string]any {
	lines := make([]any, len(res.Lines))
	for i, l := range res.Lines {
		lines[i] = l
	}

	hosts := make([]any, 0, len(res.Hosts))
	hostLines := make(map[string]any, len(res.Hosts))
	values := make(map[string]any, len(res.Hosts))
	var failed []any
	for _, h := range res.Hosts {
		hosts = append(hosts, h.Host)
		hl := make([]any, len(h.Lines))
		for i, l := range h.Lines {
			hl[i] = l
		}
		hostLines[h.Host] = hl
		switch {
		case h.Value != "":
			values[h.Host] = h.Value
		case len(h.Values) > 0:
			vs := make([]any, len(h.Values))
			for i, v := range h.Values {
				vs[i] = v
			}
			values[h.Host] = vs
		}
		if h.Error != nil {
			failed = append(failed, h.Host)
		}
	}

	meta := make(map[string]any, len(res.Meta))
	for k, v := range res.Meta {
		meta[k] = v
	}

	return map[string]any{
		"success":      res.Success,
		"error":        res.ErrorMessage(),
		"command":      res.Command,
		"lines":        lines,
		"hosts":        hosts,
		"failed_hosts": failed,
		"host_lines":   hostLines,
		"values":       values,
		"queried":      res.Summary.Queried,
		"meta":         meta,
	}
}

// evaluateCondition evaluates a when condition.
// Supports: not, ==, !=, and variable truthiness.
func evaluateCondition(condition string, rctx *RunContext) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return false, fmt.Errorf("empty condition")
	}

	if strings.HasPrefix(condition, "not ") {
		res, err := evaluateCondition(condition[4:], rctx)
		return !res, err
	}

	if left, right, ok := strings.Cut(condition, "=="); ok {
		l, err := resolveValue(left, rctx, true)
		if err != nil {
			return false, err
		}
		rv, err := resolveValue(right, rctx, true)
		if err != nil {
			return false, err
		}
		return stringify(l) == stringify(rv), nil
	}

	if left, right, ok := strings.Cut(condition, "!="); ok {
		l, err := resolveValue(left, rctx, true)
		if err != nil {
			return false, err
		}
		rv, err := resolveValue(right, rctx, true)
		if err != nil {
			return false, err
		}
		return stringify(l) != stringify(rv), nil
	}

	val, err := resolveValue(condition, rctx, false)
	if err != nil {
		return false, err
	}
	return isTruthy(val), nil
}

// resolveValue resolves an operand: a quoted literal, a boolean or number
// literal, a {{ }} expression, or a variable (with optional filters).
// With bareAsString an unknown bare word is taken as a string, so
// `part.meta.mode == lines` compares against "lines".
func resolveValue(s string, rctx *RunContext, bareAsString bool) (any, error) {
	s = strings.TrimSpace(s)

	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], nil
	}

	switch s {
	case "true", "True":
		return true, nil
	case "false", "False":
		return false, nil
	}

	if _, err := strconv.Atoi(s); err == nil {
		return s, nil
	}

	if strings.HasPrefix(s, "{{") {
		return rctx.interpolateString(s)
	}

	if strings.Contains(s, "|") {
		return rctx.resolveVariable(s)
	}

	if val := rctx.Lookup(s); val != nil {
		return val, nil
	}
	if bareAsString && !strings.Contains(s, ".") {
		return s, nil
	}
	return nil, nil
}

// isTruthy returns whether a value is considered truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}

	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "False" && val != "no" && val != "0"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// getEnvMap returns environment variables as a map.
func getEnvMap() map[string]string {
	env := make(map[string]string)
	for _, e := range os.Environ() {
		if idx := strings.Index(e, "="); idx > 0 {
			env[e[:idx]] = e[idx+1:]
		}
	}
	return env
}
