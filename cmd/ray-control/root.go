package main

import (
	"github.com/spf13/cobra"

	"raysession/internal/protocol"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var verbose bool

	ctx := newCommandContext(&configFlag, &verbose)

	rootCmd := &cobra.Command{
		Use:           "ray-control <operation> [arguments...]",
		Short:         "Control the session daemon",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				printUsage(cmd.ErrOrStderr())
				return &ExitError{Code: protocol.ExitUsage}
			}
			return runOperation(cmd, ctx, args[0], args[1:])
		},
	}
	rootCmd.Flags().SetInterspersed(false)
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log protocol traffic to stderr")

	rootCmd.AddCommand(newDaemonsCommand(ctx))
	rootCmd.AddCommand(newTimelineCommand(ctx))
	rootCmd.AddCommand(newRunStepCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
