package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"raysession/internal/control"
	"raysession/internal/ipc"
	"raysession/internal/protocol"
	"raysession/internal/supervisor"
)

func newRunStepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run_step",
		Short: "Signal the daemon from a session script and wait for its go-ahead",
		Long: "run_step is called by a session script launched by the daemon. It tells the\n" +
			"daemon the script reached its synchronization point and returns once the\n" +
			"daemon has performed its own part of the operation.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(os.Getenv(supervisor.EnvStepperToken))
			port, err := strconv.Atoi(strings.TrimSpace(os.Getenv(supervisor.EnvControlPort)))
			if token == "" || err != nil || port <= 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "run_step: not started by a session daemon")
				return &ExitError{Code: protocol.ExitFailure}
			}

			sigCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger := ctx.logger()
			ep, err := ipc.Listen(sigCtx, 0, logger)
			if err != nil {
				return err
			}
			defer ep.Close()
			ep.Serve()

			req := control.Request{
				Path: protocol.PathRunStep,
				Args: []protocol.Arg{protocol.String(token)},
			}
			res, err := control.Direct(sigCtx, ep, port, req, control.Options{
				Sink:   control.WriterSink{W: cmd.OutOrStdout()},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			if res.Code != protocol.ExitOK {
				return &ExitError{Code: res.Code}
			}
			return nil
		},
	}
}
