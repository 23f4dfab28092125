package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/onlyone0001/upscaledb/internal/metrics"
	"github.com/onlyone0001/upscaledb/internal/pager"
	"github.com/onlyone0001/upscaledb/internal/wal"
)

func newRecoverCommand() *cobra.Command {
	var dataPath string
	var pageSize int
	cmd := &cobra.Command{
		Use:   "recover <path>",
		Short: "Run the three-pass recovery engine against a data file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataPath == "" {
				return fmt.Errorf("waldbctl: --data is required")
			}
			fs := afero.NewOsFs()
			pg, err := pager.Open(fs, dataPath, pageSize)
			if err != nil {
				return err
			}
			defer pg.Close()

			m := metrics.NewUnregistered()
			log, err := wal.Open(fs, args[0], wal.FlagEnableRecovery|wal.FlagAutoRecovery, wal.Options{}, pg, cliLogger, m)
			if err != nil {
				return err
			}
			snap := log.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "recovery complete: %d run(s), %d checkpoint(s), %d rotation(s)\n",
				int(snap.RecoveryRuns), int(snap.Checkpoints), int(snap.Rotations))
			return log.Close(0)
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "path to the data file recovery writes into")
	cmd.Flags().IntVar(&pageSize, "page-size", pager.DefaultPageSize, "fixed page size of the data file")
	return cmd
}
