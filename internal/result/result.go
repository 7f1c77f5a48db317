// Package result defines the structured result every tool returns.
package result

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/eugenetaranov/fleetcmd/internal/demux"
)

// Version is the result schema version.
const Version = 1

// StderrDelimiter separates stdout from stderr in single-host raw output.
const StderrDelimiter = "\n[stderr]\n"

// Known failure phrases in remote output.
var remoteErrorPhrases = []string{
	"No such file or directory",
	"Permission denied",
}

// Result is the canonical response of a tool call.
// Every field is serialized on every response regardless of outcome.
type Result struct {
	Version   int            `json:"version"`
	Success   bool           `json:"success"`
	Command   string         `json:"command"`
	RawOutput string         `json:"raw_output"`
	Lines     []string       `json:"lines"`
	Hosts     []HostEntry    `json:"hosts"`
	Error     *string        `json:"error"`
	Summary   Summary        `json:"summary"`
	Meta      map[string]any `json:"meta"`
}

// HostEntry is the output of one host in a fan-out result.
type HostEntry struct {
	Host  string   `json:"host"`
	Lines []string `json:"lines"`
	// Value is the extracted scalar for extractor tools.
	Value string `json:"value,omitempty"`
	// Values is the extracted list for list-valued tools.
	Values []string `json:"values,omitempty"`
	Error  *string  `json:"error,omitempty"`
}

// Summary aggregates a result.
type Summary struct {
	Queried int    `json:"queried"`
	Error   string `json:"error,omitempty"`
}

// Single builds a successful single-host result from raw output.
// Lines holds the stdout part split into lines.
func Single(command, raw string) *Result {
	stdout, _ := SplitStderr(raw)
	return &Result{
		Version:   Version,
		Success:   true,
		Command:   command,
		RawOutput: raw,
		Lines:     SplitLines(stdout),
		Hosts:     []HostEntry{},
		Meta:      map[string]any{},
	}
}

// Multi builds a successful fan-out result from parsed blocks.
// Hosts the multiplexer marked as failed carry a per-host error.
func Multi(command, raw string, blocks []demux.Block) *Result {
	hosts := make([]HostEntry, 0, len(blocks))
	for _, b := range blocks {
		entry := HostEntry{Host: b.Host, Lines: b.Lines}
		if entry.Lines == nil {
			entry.Lines = []string{}
		}
		if b.Status != "" && !b.OK() {
			msg := b.Status
			if b.Detail != "" {
				msg += ": " + b.Detail
			}
			entry.Error = &msg
		}
		hosts = append(hosts, entry)
	}

	return &Result{
		Version:   Version,
		Success:   true,
		Command:   command,
		RawOutput: raw,
		Lines:     []string{},
		Hosts:     hosts,
		Summary:   Summary{Queried: len(blocks)},
		Meta:      map[string]any{},
	}
}

// Failure builds an unsuccessful result with empty output collections.
func Failure(command string, err error) *Result {
	msg := err.Error()
	return &Result{
		Version: Version,
		Success: false,
		Command: command,
		Lines:   []string{},
		Hosts:   []HostEntry{},
		Error:   &msg,
		Meta:    map[string]any{},
	}
}

// FailureForHosts is Failure for a fan-out call; every requested host is
// reported with the error so callers can still correlate by host.
func FailureForHosts(command string, hosts []string, err error) *Result {
	r := Failure(command, err)
	msg := err.Error()
	for _, h := range hosts {
		r.Hosts = append(r.Hosts, HostEntry{Host: h, Lines: []string{}, Error: &msg})
	}
	r.Summary.Error = msg
	return r
}

// Fail marks r as failed with msg, keeping what was already collected.
func (r *Result) Fail(msg string) *Result {
	r.Success = false
	r.Error = &msg
	return r
}

// WithMeta sets a tool-specific field.
func (r *Result) WithMeta(key string, value any) *Result {
	if r.Meta == nil {
		r.Meta = map[string]any{}
	}
	r.Meta[key] = value
	return r
}

// ErrorMessage returns the error text, or "" on success.
func (r *Result) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// HostMap flattens the host entries into host -> lines.
func (r *Result) HostMap() map[string][]string {
	m := make(map[string][]string, len(r.Hosts))
	for _, h := range r.Hosts {
		m[h.Host] = h.Lines
	}
	return m
}

// MarshalJSON keeps collections as [] and {} instead of null. Remote output
// is written as-is: <, > and & are not HTML-escaped.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	p := plain(r)
	if p.Lines == nil {
		p.Lines = []string{}
	}
	hosts := make([]HostEntry, len(p.Hosts))
	for i, h := range p.Hosts {
		if h.Lines == nil {
			h.Lines = []string{}
		}
		hosts[i] = h
	}
	p.Hosts = hosts
	if p.Meta == nil {
		p.Meta = map[string]any{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SplitStderr separates raw single-host output into stdout and stderr.
func SplitStderr(raw string) (stdout, stderr string) {
	if i := strings.Index(raw, StderrDelimiter); i >= 0 {
		return raw[:i], raw[i+len(StderrDelimiter):]
	}
	return raw, ""
}

// JoinStderr appends stderr behind the delimiter when it is not blank.
func JoinStderr(stdout, stderr string) string {
	if strings.TrimSpace(stderr) == "" {
		return stdout
	}
	return stdout + StderrDelimiter + stderr
}

// SplitLines splits output into lines without the trailing newline.
// Blank output yields an empty slice.
func SplitLines(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	return strings.Split(strings.TrimRight(s, "\r\n"), "\n")
}

// DetectRemoteError returns the first known failure phrase found in text.
func DetectRemoteError(text string) (string, bool) {
	for _, phrase := range remoteErrorPhrases {
		if strings.Contains(text, phrase) {
			return phrase, true
		}
	}
	return "", false
}
