package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/onlyone0001/upscaledb/internal/wal"
)

func newDumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <path>",
		Short: "Print log entries in reverse chronological order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := wal.Open(afero.NewOsFs(), args[0], 0, wal.Options{}, nil, cliLogger, nil)
			if err != nil {
				return err
			}
			defer log.Close(wal.FlagDontClearLog)

			it, err := log.Iterator()
			if err != nil {
				return err
			}
			defer it.Close()

			for {
				entry, payload, err := it.Next()
				if err != nil {
					return err
				}
				if entry.LSN == wal.InvalidLSN {
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "lsn=%d txn=%d type=%s offset=%d size=%d payload_bytes=%d\n",
					entry.LSN, entry.TxnID, entry.Type, entry.Offset, entry.DataSize, len(payload))
			}
		},
	}
}
