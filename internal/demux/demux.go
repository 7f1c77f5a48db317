// Package demux splits the interleaved output of a fan-out multiplexer into per-host blocks.
//
// The multiplexer (parallel-ssh -i) prints one header per finished host:
//
//	[1] 12:00:00 [SUCCESS] node1
//	[2] 12:00:01 [FAILURE] node2 Exited with error code 1
//
// followed by that host's output lines.
package demux

import (
	"fmt"
	"strings"
)

// Status tokens recognised in headers.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Block is the output of one host.
type Block struct {
	Host   string
	Status string
	// Detail is any header text after the host name, e.g. "Exited with error code 1".
	Detail string
	Lines  []string
}

// OK reports whether the multiplexer marked the host as successful.
func (b Block) OK() bool {
	return b.Status == StatusSuccess
}

// IsHeader reports whether a trimmed line opens a host block.
func IsHeader(line string) bool {
	if !strings.HasPrefix(line, "[") {
		return false
	}
	_, ok := statusIndex(strings.Fields(line))
	return ok
}

// statusIndex finds the bracketed status token among header fields.
func statusIndex(fields []string) (int, bool) {
	for i, f := range fields {
		if f == "["+StatusSuccess+"]" || f == "["+StatusFailure+"]" {
			return i, true
		}
	}
	return -1, false
}

// parseHeader extracts host, status and detail from a header line.
func parseHeader(line string) (host, status, detail string) {
	fields := strings.Fields(line)
	i, _ := statusIndex(fields)
	status = strings.Trim(fields[i], "[]")

	if i+1 < len(fields) {
		host = fields[i+1]
		detail = strings.Join(fields[i+2:], " ")
		return host, status, detail
	}
	return fields[len(fields)-1], status, ""
}

// Parse splits blob into host blocks ordered by first appearance.
// Blank lines are dropped, lines before the first header are discarded, and a
// host that reappears has its lines merged into its first block. A header with
// no following lines yields a block with an empty, non-nil Lines slice.
func Parse(blob string) []Block {
	var blocks []Block
	index := make(map[string]int)
	current := -1

	for _, raw := range strings.Split(blob, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if IsHeader(line) {
			host, status, detail := parseHeader(line)
			i, seen := index[host]
			if !seen {
				i = len(blocks)
				index[host] = i
				blocks = append(blocks, Block{Host: host, Lines: []string{}})
			}
			blocks[i].Status = status
			blocks[i].Detail = detail
			current = i
			continue
		}

		if current < 0 {
			continue
		}
		blocks[current].Lines = append(blocks[current].Lines, line)
	}

	return blocks
}

// Map flattens blocks into host -> lines.
func Map(blocks []Block) map[string][]string {
	m := make(map[string][]string, len(blocks))
	for _, b := range blocks {
		m[b.Host] = b.Lines
	}
	return m
}

// Hosts returns the host names in block order.
func Hosts(blocks []Block) []string {
	hosts := make([]string, len(blocks))
	for i, b := range blocks {
		hosts[i] = b.Host
	}
	return hosts
}

// Format renders blocks back into multiplexer output. Parse(Format(b)) == b
// for blocks produced by Parse.
func Format(blocks []Block) string {
	var sb strings.Builder
	for i, b := range blocks {
		status := b.Status
		if status == "" {
			status = StatusSuccess
		}
		fmt.Fprintf(&sb, "[%d] 00:00:00 [%s] %s", i+1, status, b.Host)
		if b.Detail != "" {
			sb.WriteString(" " + b.Detail)
		}
		sb.WriteByte('\n')
		for _, l := range b.Lines {
			sb.WriteString(l)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
