// Package packerr defines the closed set of failure kinds reported by a pack
// run. Every error that leaves the assembler carries exactly one Kind so the
// CLI can translate it into an exit code without string matching.
package packerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pack failure.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that were not produced here.
	KindUnknown Kind = iota
	// KindConfiguration covers missing or unusable required inputs.
	KindConfiguration
	// KindIO covers staging, copy and archive streaming failures.
	KindIO
	// KindFilter covers failures while reading the runtime library directory.
	KindFilter
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindIO:
		return "io"
	case KindFilter:
		return "filter"
	default:
		return "unknown"
	}
}

// Error is a classified failure with the operation and path that caused it.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Configuration returns a KindConfiguration error.
func Configuration(op, path string, err error) error {
	return &Error{Kind: KindConfiguration, Op: op, Path: path, Err: err}
}

// IO returns a KindIO error.
func IO(op, path string, err error) error {
	return &Error{Kind: KindIO, Op: op, Path: path, Err: err}
}

// Filter returns a KindFilter error.
func Filter(op, path string, err error) error {
	return &Error{Kind: KindFilter, Op: op, Path: path, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// ExitCode maps a failure to the process exit status used by the CLI.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindConfiguration:
		return 2
	case KindFilter:
		return 3
	default:
		return 1
	}
}
