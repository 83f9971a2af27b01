// Package output provides the console lines printed for a remote command.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Output handles formatted output.
type Output struct {
	w io.Writer
}

// New creates a new output handler.
func New(w io.Writer) *Output {
	return &Output{w: w}
}

// CommandResult prints the success message. quotedCmd is printed as given and
// stdout verbatim, so a trailing newline from the remote side is kept.
// Format: Ran <quotedCmd> on <host>, got stdout:\n<stdout>
func (o *Output) CommandResult(quotedCmd, host, stdout string) {
	o.printf("Ran %s on %s, got stdout:\n%s", quotedCmd, host, stdout)
}

// Diagnostic prints a failure as one space-separated line.
// Format: <category> <file> <line> <message>
func (o *Output) Diagnostic(category, file string, line int, message string) {
	o.printf("%s %s %d %s\n", category, file, line, singleLine(message))
}

// Hint prints a fixed guidance message.
func (o *Output) Hint(msg string) {
	o.printf("%s\n", msg)
}

// singleLine collapses any line breaks so a message cannot span lines.
func singleLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}
