package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"raysession/internal/control"
	"raysession/internal/daemonctl"
	"raysession/internal/ipc"
	"raysession/internal/protocol"
	"raysession/internal/registry"
)

func runOperation(cmd *cobra.Command, ctx *commandContext, op string, args []string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := ctx.logger()

	sigCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ep, err := ipc.Listen(sigCtx, 0, logger)
	if err != nil {
		return err
	}
	defer ep.Close()
	ep.Serve()

	var discovery control.Discovery
	reg, err := registry.Open(cfg)
	if err != nil {
		discovery = unavailableRegistry{err: err}
	} else {
		defer reg.Close()
		discovery = reg
	}

	inv := &control.Invoker{
		Transport: ep,
		Discovery: discovery,
		Launcher: daemonctl.Launcher{
			Executable:  cfg.Control.DaemonBinary,
			SessionRoot: cfg.Paths.SessionRoot,
			ConfigPath:  ctx.configPath,
		},
		User:   registry.CurrentUser(),
		Stderr: cmd.ErrOrStderr(),
		Options: control.Options{
			Tick:            cfg.TickInterval(),
			AnnounceTimeout: cfg.AnnounceTimeout(),
			Sink:            control.WriterSink{W: cmd.OutOrStdout()},
			Logger:          logger,
		},
	}
	code, err := inv.Invoke(sigCtx, op, args)
	if errors.Is(err, control.ErrUnknownOperation) {
		printUsage(cmd.ErrOrStderr())
		return &ExitError{Code: protocol.ExitFailure}
	}
	if err != nil {
		return err
	}
	if code != protocol.ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}

// unavailableRegistry reports the open error on every lookup so the invoker
// logs it and carries on as if no daemon were running.
type unavailableRegistry struct {
	err error
}

func (u unavailableRegistry) SelectDefault(context.Context, string) (int, bool, error) {
	return 0, false, u.err
}

func printUsage(w io.Writer) {
	var b strings.Builder
	b.WriteString("usage: ray-control <operation> [arguments...]\n\n")
	b.WriteString("server operations:\n")
	for _, op := range protocol.ServerOperations() {
		b.WriteString("  " + op + "\n")
	}
	b.WriteString("\nsession operations:\n")
	for _, op := range protocol.SessionOperations() {
		b.WriteString("  " + op + "\n")
	}
	b.WriteString("\nother commands: daemons, timeline, run_step, config init\n")
	fmt.Fprint(w, b.String())
}
