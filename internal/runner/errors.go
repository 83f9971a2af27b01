package runner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RemoteExecutionError is returned when connecting to the host or running
// the command on it fails for any reason.
type RemoteExecutionError struct {
	Op      string // "connect" or "execute"
	Host    string
	Command string
	Err     error
}

func (e *RemoteExecutionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Host, e.Err)
}

func (e *RemoteExecutionError) Unwrap() error {
	return e.Err
}

// UnexpectedExitError reports a remote command that exited non-zero.
type UnexpectedExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *UnexpectedExitError) Error() string {
	msg := fmt.Sprintf("command %s exited with status %d", Quote(e.Command), e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += fmt.Sprintf(", stderr: %s", stderr)
	}
	return msg
}

// PanicError carries a non-error value recovered from a panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Diagnostic is the flattened description of a failure printed to the user.
type Diagnostic struct {
	// Category is the Go type of the root cause, e.g. "*net.OpError".
	Category string

	// File and Line locate where the failure was first recorded.
	File string
	Line int

	// Message is the full error text.
	Message string
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Diagnose walks the error chain and builds a Diagnostic. The category comes
// from the innermost error, the location from the innermost recorded stack.
func Diagnose(err error) Diagnostic {
	if err == nil {
		return Diagnostic{}
	}

	d := Diagnostic{
		File:    "?",
		Message: err.Error(),
	}

	root := err
	for e := err; e != nil; e = errors.Unwrap(e) {
		root = e
		if st, ok := e.(stackTracer); ok {
			if frames := st.StackTrace(); len(frames) > 0 {
				d.File = fmt.Sprintf("%s", frames[0])
				d.Line, _ = strconv.Atoi(fmt.Sprintf("%d", frames[0]))
			}
		}
	}
	d.Category = fmt.Sprintf("%T", root)

	return d
}
