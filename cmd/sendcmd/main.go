// Package main is the entrypoint for the sendcmd CLI.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eugenetaranov/sendcmd/internal/connector"
	"github.com/eugenetaranov/sendcmd/internal/output"
	"github.com/eugenetaranov/sendcmd/internal/runner"
)

// sshConnector is the registry key the SSH connector registers under.
const sshConnector = "ssh"

// missingSSHHint is printed when the binary was built without SSH support.
const missingSSHHint = "SSH support not compiled in. Rebuild without the nossh build tag: go build ./cmd/sendcmd"

func main() {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.WarnLevel)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})

	os.Exit(run(os.Args[1:], os.Stdout, connector.Lookup))
}

// run executes the root command and returns the process exit status.
// The status is 0 whatever the outcome: failures are reported on w only.
func run(args []string, w io.Writer, lookup func(name string) (connector.Factory, bool)) int {
	cmd := newRootCmd(w, lookup)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		log.WithError(err).Error("sendcmd failed")
	}
	return 0
}

// newRootCmd builds the command. All arguments and flags are ignored; the
// target is fixed by runner.DefaultConfig.
func newRootCmd(w io.Writer, lookup func(name string) (connector.Factory, bool)) *cobra.Command {
	return &cobra.Command{
		Use:   "sendcmd",
		Short: "Run a fixed command on a fixed host over SSH",
		Long: `sendcmd connects to ` + runner.DefaultHost + ` over SSH, runs
'` + runner.DefaultCommand + `' with its output captured and prints the result.

Failures are printed as a single diagnostic line. The exit code is always 0.`,
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(w)

			factory, ok := lookup(sshConnector)
			if !ok {
				out.Hint(missingSSHHint)
				return nil
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			r := runner.New(runner.DefaultConfig(), factory)
			r.Output = out
			if err := r.Run(ctx); err != nil {
				log.WithError(err).Debug("run finished with error")
			}
			return nil
		},
	}
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
