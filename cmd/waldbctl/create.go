package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/onlyone0001/upscaledb/internal/wal"
)

func newCreateCommand() *cobra.Command {
	var threshold int
	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Create a fresh log file pair at path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := wal.Create(afero.NewOsFs(), args[0], wal.Options{CheckpointThreshold: threshold}, cliLogger, nil)
			if err != nil {
				return err
			}
			return log.Close(0)
		},
	}
	cmd.Flags().IntVar(&threshold, "checkpoint-threshold", wal.DefaultCheckpointThreshold, "transactions per file before a checkpoint and rotation")
	return cmd
}
