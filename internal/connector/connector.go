// Package connector defines the interface for executing commands on the login node.
package connector

import (
	"context"
	"fmt"
)

// Result holds the output from command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Connector is the interface for connecting to and executing commands on a target.
type Connector interface {
	// Connect establishes the channel to the target.
	Connect(ctx context.Context) error

	// Execute runs a fully rendered command line and waits for it to finish.
	Execute(ctx context.Context, cmd string) (*Result, error)

	// Close terminates the channel. It is safe to call more than once.
	Close() error

	// String returns a human-readable description of the connection.
	String() string
}

// TransportError wraps a failure to establish or use a channel. The message of
// the underlying error is kept verbatim.
type TransportError struct {
	Op     string
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport creates a TransportError.
func Transport(op, target string, err error) *TransportError {
	return &TransportError{Op: op, Target: target, Err: err}
}
