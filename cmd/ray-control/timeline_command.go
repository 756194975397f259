package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"raysession/internal/control"
	"raysession/internal/ipc"
	"raysession/internal/protocol"
	"raysession/internal/registry"
	"raysession/internal/timeline"
)

func newTimelineCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline",
		Short: "Show the snapshots of the open session grouped by date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sigCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			port, err := defaultDaemonPort(sigCtx, ctx)
			if err != nil {
				return err
			}
			if port == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No server started. So no session to list_snapshots")
				return &ExitError{Code: protocol.ExitFailure}
			}

			logger := ctx.logger()
			ep, err := ipc.Listen(sigCtx, 0, logger)
			if err != nil {
				return err
			}
			defer ep.Close()
			ep.Serve()

			req, _, err := control.NewRequest("list_snapshots", nil)
			if err != nil {
				return err
			}
			sink := &control.CollectSink{}
			res, err := control.Direct(sigCtx, ep, port, req, control.Options{
				Tick:   cfg.TickInterval(),
				Sink:   sink,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			return printTimeline(cmd.OutOrStdout(), res, sink.Items())
		},
	}
}

// printTimeline renders the snapshot listing carried by res. An interrupted
// wait prints nothing.
func printTimeline(w io.Writer, res control.Result, items []string) error {
	if res.Interrupted {
		return nil
	}
	if res.Failed {
		fmt.Fprintln(w, res.Message)
		return &ExitError{Code: res.Code}
	}
	checkpoints := make([]timeline.Checkpoint, 0, len(items))
	for _, item := range items {
		checkpoints = append(checkpoints, timeline.ParseCheckpoint(item))
	}
	renderTimeline(w, timeline.Group(checkpoints))
	return nil
}

func defaultDaemonPort(ctx context.Context, cc *commandContext) (int, error) {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return 0, err
	}
	reg, err := registry.Open(cfg)
	if err != nil {
		return 0, err
	}
	defer reg.Close()
	port, ok, err := reg.SelectDefault(ctx, registry.CurrentUser())
	if err != nil || !ok {
		return 0, err
	}
	return port, nil
}

// renderTimeline prints buckets as headings and checkpoints as indented
// entries, newest first.
func renderTimeline(w io.Writer, tree *timeline.Tree) {
	if len(tree.Checkpoints) == 0 {
		fmt.Fprintln(w, "No snapshots")
		return
	}
	tree.Walk(func(id timeline.NodeID, depth int) bool {
		node := tree.Node(id)
		indent := strings.Repeat("  ", depth)
		if node.Granularity != timeline.Leaf {
			fmt.Fprintf(w, "%s%s\n", indent, bucketTitle(node))
			return true
		}
		fmt.Fprintf(w, "%s%s\n", indent, checkpointLine(tree.Checkpoints[node.Checkpoint]))
		return false
	})
}

func bucketTitle(node timeline.Node) string {
	switch node.Granularity {
	case timeline.Year:
		return node.Time.Format("2006")
	case timeline.Month:
		return node.Time.Format("January 2006")
	default:
		return node.Time.Format("Monday 2 January 2006")
	}
}

func checkpointLine(cp timeline.Checkpoint) string {
	if !cp.Valid {
		return "(invalid) " + strings.ReplaceAll(cp.Text, "\n", " ")
	}
	line := cp.Time.Format("2006-01-02 15:04:05")
	if cp.Label != "" {
		line += "  " + cp.Label
	}
	if cp.RewindValid {
		rewind := cp.RewindTime.Format("2006-01-02 15:04:05")
		if cp.RewindLabel != "" {
			rewind += " " + cp.RewindLabel
		}
		line += "  (rewound to " + rewind + ")"
	}
	return line
}
