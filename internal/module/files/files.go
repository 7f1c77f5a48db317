// Package files provides a declarative reader for files on the login node.
package files

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/eugenetaranov/fleetcmd/internal/command"
	"github.com/eugenetaranov/fleetcmd/internal/executor"
	"github.com/eugenetaranov/fleetcmd/internal/module"
	"github.com/eugenetaranov/fleetcmd/internal/result"
)

func init() {
	module.Register(&Module{})
}

// Actions.
const (
	ActionPeek   = "peek"
	ActionSearch = "search"
	ActionCount  = "count"
)

// Count modes.
const (
	CountLines = "lines"
	CountBytes = "bytes"
)

// DefaultLimit is the line cap when limit_lines is not given.
const DefaultLimit = 10

// Request is a parsed read_file call.
type Request struct {
	Path        string
	Action      string
	Pattern     string
	StartLine   int
	EndLine     *int
	Limit       int
	LinesBefore int
	LinesAfter  int
	CountMode   string
}

// Module reads scoped content from a file without transferring it whole.
type Module struct{}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "read_file"
}

// Description returns a one-line summary.
func (m *Module) Description() string {
	return "Peek at, search or count a file on the login node"
}

// Run executes the read_file module.
//
// Parameters:
//   - path (string, required): File on the login node
//   - action (string): peek (default), search or count
//   - pattern (string): Extended regex, required for search
//   - start_line (int): 0-based first line; negative counts from the end
//   - end_line (int): 0-based exclusive end line
//   - limit_lines (int): Hard cap on returned lines (default: 10)
//   - lines_before, lines_after (int): Search context
//   - count_mode (string): lines (default) or bytes
func (m *Module) Run(ctx context.Context, exec *executor.Executor, params map[string]any) (*result.Result, error) {
	req, err := ParseRequest(params)
	if err != nil {
		return nil, err
	}

	cmd, err := req.Command()
	if err != nil {
		return nil, err
	}

	r, err := exec.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	r.WithMeta("path", req.Path).WithMeta("action", req.Action)
	if !r.Success {
		return r, nil
	}

	stdout, stderr := result.SplitStderr(r.RawOutput)
	stderr = strings.TrimSpace(stderr)

	switch req.Action {
	case ActionCount:
		return req.countResult(r, stdout, stderr), nil
	case ActionSearch:
		return req.linesResult(r, stdout, stderr, strings.Contains(stderr, "Binary file")), nil
	default:
		return req.linesResult(r, stdout, stderr, false), nil
	}
}

// ParseRequest reads and validates the parameters.
func ParseRequest(params map[string]any) (*Request, error) {
	path, err := module.RequireString(params, "path")
	if err != nil {
		return nil, err
	}

	req := &Request{
		Path:      path,
		Action:    module.GetString(params, "action", ActionPeek),
		Pattern:   module.GetString(params, "pattern", ""),
		CountMode: module.GetString(params, "count_mode", CountLines),
	}

	if req.StartLine, err = module.GetInt(params, "start_line", 0); err != nil {
		return nil, err
	}
	if req.EndLine, err = module.GetOptionalInt(params, "end_line"); err != nil {
		return nil, err
	}
	if req.Limit, err = module.GetInt(params, "limit_lines", DefaultLimit); err != nil {
		return nil, err
	}
	if req.LinesBefore, err = module.GetInt(params, "lines_before", 0); err != nil {
		return nil, err
	}
	if req.LinesAfter, err = module.GetInt(params, "lines_after", 0); err != nil {
		return nil, err
	}

	if req.Limit < 1 {
		return nil, command.Invalid("limit_lines", "must be at least 1")
	}
	if req.LinesBefore < 0 || req.LinesAfter < 0 {
		return nil, command.Invalid("lines_before", "context lines must not be negative")
	}
	if req.CountMode != CountLines && req.CountMode != CountBytes {
		req.CountMode = CountLines
	}

	switch req.Action {
	case ActionPeek:
		if req.EndLine != nil && req.StartLine >= 0 {
			if *req.EndLine < 0 {
				return nil, command.Invalid("end_line", "negative end_line is not supported; use limit_lines")
			}
			if *req.EndLine <= req.StartLine {
				return nil, command.Invalid("end_line", "end_line %d must be greater than start_line %d", *req.EndLine, req.StartLine)
			}
		}
	case ActionSearch:
		if req.Pattern == "" {
			return nil, command.Invalid("pattern", "pattern required for search action")
		}
	case ActionCount:
	default:
		return nil, command.Invalid("action", "unknown action %q (must be peek, search or count)", req.Action)
	}

	return req, nil
}

// Command builds the remote command for the request.
func (req *Request) Command() (command.Command, error) {
	head := command.New("head", "-n", strconv.Itoa(req.Limit))

	var cmd command.Command
	switch req.Action {
	case ActionCount:
		flag := "-l"
		if req.CountMode == CountBytes {
			flag = "-c"
		}
		cmd = command.Pipe(command.New("cat", "--", req.Path), command.New("wc", flag))

	case ActionSearch:
		grep := command.New("grep", "-n", "-E")
		if req.LinesBefore > 0 {
			grep = grep.Append("-B", strconv.Itoa(req.LinesBefore))
		}
		if req.LinesAfter > 0 {
			grep = grep.Append("-A", strconv.Itoa(req.LinesAfter))
		}
		grep = grep.Append("-e", req.Pattern, "--", req.Path)
		cmd = command.Pipe(grep, head)

	default:
		var read command.Spec
		switch {
		case req.StartLine >= 0 && req.EndLine != nil:
			// end_line is exclusive and 0-based, which equals the inclusive 1-based sed address.
			read = command.New("sed", "-n", fmt.Sprintf("%d,%dp", req.StartLine+1, *req.EndLine), "--", req.Path)
		case req.StartLine >= 0:
			read = command.New("tail", "-n", "+"+strconv.Itoa(req.StartLine+1), "--", req.Path)
		default:
			read = command.New("tail", "-n", strconv.Itoa(-req.StartLine), "--", req.Path)
		}
		cmd = command.Pipe(read, head)
	}

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// fileError maps stderr to the reported error, or "" when stderr is benign.
func (req *Request) fileError(stdout, stderr string, tolerated bool) string {
	if stderr == "" {
		return ""
	}
	if strings.Contains(stderr, "No such file or directory") {
		return "File not found: " + req.Path
	}
	if tolerated && strings.TrimSpace(stdout) != "" {
		return ""
	}
	return "Command error: " + stderr
}

func (req *Request) linesResult(r *result.Result, stdout, stderr string, tolerated bool) *result.Result {
	if msg := req.fileError(stdout, stderr, tolerated); msg != "" {
		r.Lines = []string{}
		return r.Fail(msg)
	}

	lines := result.SplitLines(stdout)
	if len(lines) > req.Limit {
		lines = lines[:req.Limit]
	}
	r.Lines = lines

	switch req.Action {
	case ActionSearch:
		r.WithMeta("pattern", req.Pattern)
	default:
		r.WithMeta("start_line", req.StartLine)
		if req.EndLine != nil {
			r.WithMeta("end_line", *req.EndLine)
		} else {
			r.WithMeta("end_line", nil)
		}
	}
	return r
}

func (req *Request) countResult(r *result.Result, stdout, stderr string) *result.Result {
	r.Lines = []string{}
	if msg := req.fileError(stdout, stderr, false); msg != "" {
		return r.Fail(msg)
	}

	n, err := strconv.Atoi(strings.TrimSpace(stdout))
	if err != nil {
		return r.Fail(fmt.Sprintf("Command error: unexpected count output %q", strings.TrimSpace(stdout)))
	}
	return r.WithMeta("count", n).WithMeta("mode", req.CountMode)
}

// Ensure Module implements the module.Module interface.
var _ module.Module = (*Module)(nil)
