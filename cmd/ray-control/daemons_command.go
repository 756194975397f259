package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"raysession/internal/daemonctl"
	"raysession/internal/protocol"
	"raysession/internal/registry"
)

func newDaemonsCommand(ctx *commandContext) *cobra.Command {
	var killPID int

	cmd := &cobra.Command{
		Use:   "daemons",
		Short: "List running session daemons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			reg, err := registry.Open(cfg)
			if err != nil {
				return err
			}
			defer reg.Close()

			records, err := reg.Enumerate(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if killPID != 0 {
				return killDaemon(cmd, reg, records, killPID)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No daemons running")
				return nil
			}
			fmt.Fprintln(out, renderDaemons(out, records, time.Now()))
			return nil
		},
	}
	cmd.Flags().IntVar(&killPID, "kill", 0, "Stop the registered daemon with this pid")
	return cmd
}

// killDaemon only signals processes the registry knows as daemons.
func killDaemon(cmd *cobra.Command, reg *registry.Registry, records []registry.DaemonRecord, pid int) error {
	idx := slices.IndexFunc(records, func(r registry.DaemonRecord) bool { return r.PID == pid })
	if idx < 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "No daemon with pid %d\n", pid)
		return &ExitError{Code: protocol.ExitFailure}
	}
	if err := daemonctl.Kill(pid); err != nil {
		return fmt.Errorf("stop daemon %d: %w", pid, err)
	}
	if err := reg.Remove(cmd.Context(), pid); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped daemon %d (port %d)\n", pid, records[idx].Port)
	return nil
}

func renderDaemons(w io.Writer, records []registry.DaemonRecord, now time.Time) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		session := rec.SessionName
		if session == "" {
			session = "-"
		}
		rows = append(rows, []string{
			strconv.Itoa(rec.PID),
			rec.User,
			strconv.Itoa(rec.Port),
			yesNo(rec.IsDefault),
			rec.SessionRoot,
			session,
			formatAge(now.Sub(rec.StartedAt)),
		})
	}
	return renderTable(w,
		[]string{"PID", "User", "Port", "Default", "Session Root", "Session", "Up"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String()
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
