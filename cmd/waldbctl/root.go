package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/onlyone0001/upscaledb/pkg/logger"
)

// cliLogger is built once in the root command's PersistentPreRunE and
// shared by every subcommand, so --log-level/--log-format apply no
// matter which subcommand runs.
var cliLogger *zap.Logger

func newRootCommand() *cobra.Command {
	var logLevel, logFormat string
	root := &cobra.Command{
		Use:   "waldbctl",
		Short: "Inspect and recover upscaledb write-ahead logs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logger.New(logger.Config{Level: logLevel, Format: logFormat, OutputFile: "stderr"})
			if err != nil {
				return err
			}
			cliLogger = l
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format: console or json")
	root.AddCommand(newCreateCommand())
	root.AddCommand(newDumpCommand())
	root.AddCommand(newRecoverCommand())
	return root
}
