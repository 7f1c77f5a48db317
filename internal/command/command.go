// Package command builds shell-safe command lines from literal argument tokens.
//
// Every string handed to a transport is produced here. Tokens are kept as an
// ordered list until the last moment and quoted exactly once when the command
// line is rendered, so no caller ever pre-joins untrusted input.
package command

import (
	"fmt"
	"regexp"
	"strings"
)

// Command is anything that renders to a single remote command line.
type Command interface {
	// Validate reports whether the command is safe to render.
	Validate() error

	// String renders the command line. Callers must Validate first.
	String() string
}

// ValidationError is returned when input is rejected before reaching a transport.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid creates a ValidationError for the named field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var hostPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Quote quotes a token so a POSIX shell reads it back as exactly one literal word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if isSafeWord(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// isSafeWord reports whether s contains only characters no shell treats specially.
func isSafeWord(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("@%+=:,./_-", r):
		default:
			return false
		}
	}
	return true
}

// ValidateToken rejects tokens that could smuggle a second command line.
func ValidateToken(token string) error {
	if strings.ContainsAny(token, "\n\r") {
		return Invalid("argument", "newline in argument %q", token)
	}
	return nil
}

// ValidateHosts checks a fan-out host set. The list must be non-empty and every
// entry must be a plain host identifier.
func ValidateHosts(hosts []string) error {
	if len(hosts) == 0 {
		return Invalid("hosts", "hosts list must not be empty")
	}
	for _, h := range hosts {
		if !hostPattern.MatchString(h) {
			return Invalid("hosts", "invalid host name: %q", h)
		}
	}
	return nil
}

// Spec is a command name plus its literal arguments.
type Spec struct {
	name string
	args []string
}

// New creates a Spec. The argument slice is copied.
func New(name string, args ...string) Spec {
	return Spec{name: name, args: append([]string(nil), args...)}
}

// Name returns the command name.
func (s Spec) Name() string { return s.name }

// Args returns a copy of the arguments.
func (s Spec) Args() []string { return append([]string(nil), s.args...) }

// Tokens returns the name followed by the arguments.
func (s Spec) Tokens() []string {
	return append([]string{s.name}, s.args...)
}

// Append returns a new Spec with extra arguments.
func (s Spec) Append(args ...string) Spec {
	out := make([]string, 0, len(s.args)+len(args))
	out = append(out, s.args...)
	out = append(out, args...)
	return Spec{name: s.name, args: out}
}

// Validate checks the command name and every argument.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.name) == "" {
		return Invalid("command", "command name is required")
	}
	for _, tok := range s.Tokens() {
		if err := ValidateToken(tok); err != nil {
			return err
		}
	}
	return nil
}

// String renders the quoted command line.
func (s Spec) String() string {
	return Join(s.Tokens())
}

// Join quotes each token and joins them with spaces. The first token is the
// command word: it is also quoted when it contains '=', which the shell would
// otherwise read as a variable assignment.
func Join(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		if i == 0 && strings.Contains(tok, "=") {
			quoted[i] = "'" + strings.ReplaceAll(tok, "'", `'"'"'`) + "'"
			continue
		}
		quoted[i] = Quote(tok)
	}
	return strings.Join(quoted, " ")
}

// Pipeline connects Specs with shell pipes.
type Pipeline []Spec

// Pipe creates a Pipeline.
func Pipe(specs ...Spec) Pipeline {
	return Pipeline(specs)
}

// Validate checks every stage.
func (p Pipeline) Validate() error {
	if len(p) == 0 {
		return Invalid("command", "empty pipeline")
	}
	for _, s := range p {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// String renders the stages joined by " | ".
func (p Pipeline) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, " | ")
}

// Script is fixed command text compiled into the binary. It is never built
// from caller input, so it is passed through verbatim.
type Script string

// Validate rejects empty scripts.
func (s Script) Validate() error {
	if strings.TrimSpace(string(s)) == "" {
		return Invalid("command", "empty script")
	}
	return nil
}

func (s Script) String() string { return string(s) }

var (
	_ Command = Spec{}
	_ Command = Pipeline{}
	_ Command = Script("")
)
