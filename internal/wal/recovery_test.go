package wal_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/onlyone0001/upscaledb/internal/pager"
	"github.com/onlyone0001/upscaledb/internal/wal"
)

func TestRecoveryUndoesInFlightTransaction(t *testing.T) {
	fs := afero.NewMemMapFs()
	pg, err := pager.Open(fs, "/db/data", 4096)
	require.NoError(t, err)
	defer pg.Close()

	log, err := wal.Create(fs, "/db/wal", wal.Options{}, nil, nil)
	require.NoError(t, err)

	// Transaction 1 commits and its write lands on disk.
	_, err = log.AppendTxnBegin(1)
	require.NoError(t, err)
	pageX := pg.AllocatePage()
	require.NoError(t, pg.MutatePage(log, 1, pageX, func(data []byte) { copy(data, []byte("x=2")) }))
	require.NoError(t, pg.FlushPage(log, 1, pageX))
	_, err = log.AppendTxnCommit(1)
	require.NoError(t, err)

	// Transaction 2 writes but never commits or aborts — it crashes
	// in flight, and its before-image must be restored on recovery.
	_, err = log.AppendTxnBegin(2)
	require.NoError(t, err)
	pageY := pg.AllocatePage()
	require.NoError(t, pg.MutatePage(log, 2, pageY, func(data []byte) { copy(data, []byte("y=3")) }))
	require.NoError(t, pg.FlushPage(log, 2, pageY))
	// No commit: simulates a crash before the transaction resolved.

	require.NoError(t, log.Close(wal.FlagDontClearLog))

	reopened, err := wal.Open(fs, "/db/wal", wal.FlagEnableRecovery|wal.FlagAutoRecovery, wal.Options{}, pg, nil, nil)
	require.NoError(t, err)
	defer reopened.Close(0)
	require.True(t, reopened.IsEmpty())

	after, err := pg.FetchPage(pageX.ID())
	require.NoError(t, err)
	require.Equal(t, "x=2", string(after.Payload()[:3]))

	afterY, err := pg.FetchPage(pageY.ID())
	require.NoError(t, err)
	require.NotEqual(t, "y=3", string(afterY.Payload()[:3]))
}

func TestRecoveryRedoesCommittedWriteNotYetFlushedToDisk(t *testing.T) {
	fs := afero.NewMemMapFs()
	pg, err := pager.Open(fs, "/db/data", 4096)
	require.NoError(t, err)
	defer pg.Close()

	log, err := wal.Create(fs, "/db/wal", wal.Options{}, nil, nil)
	require.NoError(t, err)

	_, err = log.AppendTxnBegin(1)
	require.NoError(t, err)
	page := pg.AllocatePage()
	// The after-image is journaled through AppendWrite, but the pager's
	// own write to the data file is skipped — standing in for pages
	// that were marked clean in a cache without ever being flushed.
	_, err = log.AppendWrite(1, page.Address(), []byte("x=2"))
	require.NoError(t, err)
	_, err = log.AppendTxnCommit(1)
	require.NoError(t, err)
	require.NoError(t, log.Close(wal.FlagDontClearLog))

	reopened, err := wal.Open(fs, "/db/wal", wal.FlagEnableRecovery|wal.FlagAutoRecovery, wal.Options{}, pg, nil, nil)
	require.NoError(t, err)
	defer reopened.Close(0)

	got, err := pg.FetchPage(page.ID())
	require.NoError(t, err)
	require.Equal(t, "x=2", string(got.Payload()[:3]))
}

func TestRecoveryIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	pg, err := pager.Open(fs, "/db/data", 4096)
	require.NoError(t, err)
	defer pg.Close()

	log, err := wal.Create(fs, "/db/wal", wal.Options{}, nil, nil)
	require.NoError(t, err)
	_, err = log.AppendTxnBegin(1)
	require.NoError(t, err)
	page := pg.AllocatePage()
	_, err = log.AppendWrite(1, page.Address(), []byte("x=2"))
	require.NoError(t, err)
	_, err = log.AppendTxnCommit(1)
	require.NoError(t, err)

	require.NoError(t, log.Recover(pg))
	before, err := pg.FetchPage(page.ID())
	require.NoError(t, err)

	// Recovering again against an already-cleared log must be a no-op
	// that leaves the data file exactly as the first pass left it.
	require.NoError(t, log.Recover(pg))
	after, err := pg.FetchPage(page.ID())
	require.NoError(t, err)
	require.Equal(t, before.Payload(), after.Payload())
	require.NoError(t, log.Close(0))
}
