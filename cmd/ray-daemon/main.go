// Command ray-daemon serves session control requests on a loopback UDP port.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"raysession/internal/config"
	"raysession/internal/daemonrun"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts daemonrun.Options
	var configFlag string

	cmd := &cobra.Command{
		Use:           "ray-daemon",
		Short:         "Session daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(strings.TrimSpace(configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ControlURL, "control-url", "", "Address to announce to once ready (udp://127.0.0.1:<port>/)")
	flags.StringVar(&opts.SessionRoot, "session-root", "", "Session root folder (overrides the configuration)")
	flags.StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	flags.BoolVar(&opts.NoDefault, "no-default", false, "Do not become the default daemon of the user")
	flags.IntVar(&opts.Port, "port", 0, "UDP port to bind (0 picks a free port)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (overrides the configuration)")
	flags.BoolVar(&opts.Development, "development", false, "Include source locations in logs")
	return cmd
}
