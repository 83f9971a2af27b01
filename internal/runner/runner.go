// Package runner connects to one host, runs one command and reports the
// outcome as a single printed line.
package runner

import (
	"context"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/eugenetaranov/sendcmd/internal/connector"
	"github.com/eugenetaranov/sendcmd/internal/output"
)

const (
	// DefaultHost is the host the command runs on.
	DefaultHost = "web1.example.com"

	// DefaultCommand is the command that runs on DefaultHost.
	DefaultCommand = "uname -s"
)

// Config names the target host and the command to run there.
type Config struct {
	Host    string
	Command string
}

// DefaultConfig returns the compiled-in target.
func DefaultConfig() Config {
	return Config{
		Host:    DefaultHost,
		Command: DefaultCommand,
	}
}

// CommandResult is the outcome of a successful remote command.
type CommandResult struct {
	Host    string
	Command string
	Stdout  string
}

// Runner executes Config.Command on Config.Host through a connector.
type Runner struct {
	// Config is the target.
	Config Config

	// Output receives the success or diagnostic line.
	Output *output.Output

	// factory builds a fresh connector for every run.
	factory connector.Factory
}

// New creates a runner that reaches cfg.Host through connectors built by f.
func New(cfg Config, f connector.Factory) *Runner {
	return &Runner{
		Config:  cfg,
		Output:  output.New(os.Stdout),
		factory: f,
	}
}

// Run connects, executes and prints exactly one line describing the result.
// Every failure, including a panic in the connector, is printed as a
// diagnostic and returned; the caller decides nothing more than logging.
func (r *Runner) Run(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = r.wrap("execute", recovered(rec))
		}
		if err != nil {
			d := Diagnose(err)
			r.Output.Diagnostic(d.Category, d.File, d.Line, d.Message)
			log.WithFields(log.Fields{
				"host":     r.Config.Host,
				"cmd":      r.Config.Command,
				"category": d.Category,
			}).Warn("remote command failed")
		}
	}()

	res, err := r.Execute(ctx)
	if err != nil {
		return err
	}

	r.Output.CommandResult(Quote(res.Command), res.Host, res.Stdout)
	return nil
}

// Execute connects to the host and runs the command without printing.
// A non-zero exit status is reported as an UnexpectedExitError.
func (r *Runner) Execute(ctx context.Context) (*CommandResult, error) {
	conn, err := r.factory(r.Config.Host)
	if err != nil {
		return nil, r.wrap("connect", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.WithField("conn", conn.String()).WithError(cerr).Debug("error closing connection")
		}
	}()

	log.WithField("conn", conn.String()).Debug("connecting")
	if err := conn.Connect(ctx); err != nil {
		return nil, r.wrap("connect", err)
	}

	res, err := conn.Execute(ctx, r.Config.Command)
	if err != nil {
		return nil, r.wrap("execute", err)
	}

	if res.ExitCode != 0 {
		return nil, r.wrap("execute", errors.WithStack(&UnexpectedExitError{
			Command:  r.Config.Command,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}))
	}

	return &CommandResult{
		Host:    r.Config.Host,
		Command: r.Config.Command,
		Stdout:  res.Stdout,
	}, nil
}

// wrap records a stack here unless the cause already carries one.
func (r *Runner) wrap(op string, err error) error {
	if !hasStack(err) {
		err = errors.WithStack(err)
	}
	return &RemoteExecutionError{
		Op:      op,
		Host:    r.Config.Host,
		Command: r.Config.Command,
		Err:     err,
	}
}

func hasStack(err error) bool {
	var st stackTracer
	return errors.As(err, &st)
}

func recovered(rec any) error {
	if err, ok := rec.(error); ok {
		return errors.WithStack(err)
	}
	return errors.WithStack(&PanicError{Value: rec})
}
