// Package output provides formatted output for tool calls and runbook execution.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/eugenetaranov/fleetcmd/internal/result"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Step statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusIgnored = "ignored"
	StatusSkipped = "skipped"
)

// Stats holds execution statistics for output.
type Stats interface {
	GetOK() int
	GetFailed() int
	GetIgnored() int
	GetSkipped() int
	GetDuration() time.Duration
}

// Output handles formatted output.
type Output struct {
	w        io.Writer
	useColor bool
	debug    bool
}

// New creates a new output handler.
func New(w io.Writer) *Output {
	return &Output{
		w:        w,
		useColor: true,
	}
}

// SetColor enables or disables color output.
func (o *Output) SetColor(enabled bool) {
	o.useColor = enabled
}

// SetDebug enables or disables debug output.
func (o *Output) SetDebug(enabled bool) {
	o.debug = enabled
}

// color returns the string wrapped in color codes if enabled.
func (o *Output) color(c, s string) string {
	if !o.useColor {
		return s
	}
	return c + s + colorReset
}

// RunbookStart prints the runbook start banner.
func (o *Output) RunbookStart(path, name string) {
	if name == "" {
		name = path
	}
	o.printf("\n%s %s\n", o.color(colorBold, "RUNBOOK"), name)
	if o.debug && path != name {
		o.printf("%s %s\n", o.color(colorGray, "file:"), path)
	}
}

// RunbookEnd prints the runbook summary.
func (o *Output) RunbookEnd(stats Stats) {
	o.printf("\n%s ", o.color(colorBold, "RECAP"))

	ok := o.color(colorGreen, fmt.Sprintf("ok=%d", stats.GetOK()))
	failed := o.color(colorRed, fmt.Sprintf("failed=%d", stats.GetFailed()))
	ignored := o.color(colorYellow, fmt.Sprintf("ignored=%d", stats.GetIgnored()))
	skipped := o.color(colorCyan, fmt.Sprintf("skipped=%d", stats.GetSkipped()))

	o.printf("%s %s %s %s", ok, failed, ignored, skipped)
	o.printf(" %s\n", o.color(colorGray, fmt.Sprintf("(%.2fs)", stats.GetDuration().Seconds())))
}

func (o *Output) indicator(status string) (string, string) {
	switch status {
	case StatusOK:
		return "✓", colorGreen
	case StatusIgnored:
		return "!", colorYellow
	case StatusSkipped:
		return "○", colorCyan
	case StatusFailed:
		return "✗", colorRed
	default:
		return "?", colorGray
	}
}

// StepResult prints a step outcome on a single line.
// Format: [indicator] [tool] name
func (o *Output) StepResult(name, tool, status, message string) {
	indicator, statusColor := o.indicator(status)

	toolStr := ""
	if tool != "" {
		toolStr = o.color(colorGray, fmt.Sprintf("[%s] ", tool))
	}

	o.printf("  %s %s%s\n", o.color(statusColor, indicator), toolStr, name)

	if message != "" && (o.debug || status == StatusFailed || status == StatusIgnored) {
		o.printf("    %s %s\n", o.color(colorGray, "→"), message)
	}
}

// ResultDetail prints the lines of a result under the last step line.
// Only shown in debug mode.
func (o *Output) ResultDetail(r *result.Result) {
	if !o.debug || r == nil {
		return
	}

	for _, line := range r.Lines {
		o.printf("      %s\n", line)
	}
	for _, h := range r.Hosts {
		label := h.Host
		if h.Error != nil {
			label += " " + o.color(colorRed, *h.Error)
		}
		o.printf("      %s\n", o.color(colorGray, label+":"))
		if h.Value != "" {
			o.printf("        %s\n", h.Value)
		}
		for _, line := range h.Lines {
			o.printf("        %s\n", line)
		}
	}
}

// Section prints a section header.
func (o *Output) Section(name string) {
	o.printf("\n%s\n", o.color(colorBold, name))
}

// Info prints an informational message.
func (o *Output) Info(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorBlue, "INFO"), fmt.Sprintf(format, args...))
}

// Warn prints a warning message.
func (o *Output) Warn(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorYellow, "WARN"), fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorRed, "ERROR"), fmt.Sprintf(format, args...))
}

// Debug prints a debug message (only in debug mode).
func (o *Output) Debug(format string, args ...any) {
	if o.debug {
		o.printf("%s %s\n", o.color(colorGray, "DEBUG"), fmt.Sprintf(format, args...))
	}
}

// JSON writes v as indented JSON followed by a newline.
func (o *Output) JSON(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Lines writes each line of a result as plain text. Fan-out results are
// prefixed with the host name the way the multiplexer's own -i mode does.
func (o *Output) Lines(r *result.Result) {
	for _, line := range r.Lines {
		o.printf("%s\n", line)
	}
	for _, h := range r.Hosts {
		switch {
		case h.Error != nil:
			o.printf("%s: %s\n", h.Host, o.color(colorRed, *h.Error))
		case h.Value != "":
			o.printf("%s: %s\n", h.Host, h.Value)
		case len(h.Values) > 0:
			o.printf("%s: %s\n", h.Host, strings.Join(h.Values, " "))
		}
		for _, line := range h.Lines {
			o.printf("%s: %s\n", h.Host, line)
		}
	}
	if msg := r.ErrorMessage(); msg != "" {
		o.printf("%s %s\n", o.color(colorRed, "ERROR"), msg)
	}
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}
