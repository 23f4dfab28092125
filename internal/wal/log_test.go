package wal

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/onlyone0001/upscaledb/internal/metrics"
)

func TestCreateProducesEmptyLogWithLSN1(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := Create(fs, "/db/wal", Options{}, nil, nil)
	require.NoError(t, err)
	defer log.Close(0)

	require.True(t, log.IsEmpty())
	require.Equal(t, LSN(1), log.nextLSN)
}

func TestCreateOnUnwritableFilesystemReturnsIoError(t *testing.T) {
	base := afero.NewMemMapFs()
	ro := afero.NewReadOnlyFs(base)
	_, err := Create(ro, "/db/wal", Options{}, nil, nil)
	require.ErrorIs(t, err, ErrIoError)
}

func TestCloseThenOpenProducesEmptyLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := Create(fs, "/db/wal", Options{}, nil, nil)
	require.NoError(t, err)

	_, err = log.AppendTxnBegin(1)
	require.NoError(t, err)
	_, err = log.AppendTxnCommit(1)
	require.NoError(t, err)
	require.NoError(t, log.Close(0))

	reopened, err := Open(fs, "/db/wal", 0, Options{}, nil, nil, nil)
	require.NoError(t, err)
	defer reopened.Close(0)
	require.True(t, reopened.IsEmpty())
}

func TestInFlightBeginSurvivesCloseWithoutClear(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := Create(fs, "/db/wal", Options{}, nil, nil)
	require.NoError(t, err)

	begin, err := log.AppendTxnBegin(1)
	require.NoError(t, err)
	require.Equal(t, LSN(1), begin.LSN)

	// The in-memory transaction handle is simply abandoned here: no
	// AppendTxnAbort call, so no ABORT entry ever reaches the log.
	require.NoError(t, log.Close(FlagDontClearLog))

	reopened, err := Open(fs, "/db/wal", 0, Options{}, nil, nil, nil)
	require.NoError(t, err)
	defer reopened.Close(0)

	it, err := reopened.Iterator()
	require.NoError(t, err)
	defer it.Close()

	entry, _, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, LSN(1), entry.LSN)
	require.Equal(t, TxnID(1), entry.TxnID)
	require.Equal(t, EntryTypeTxnBegin, entry.Type)

	sentinel, payload, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, InvalidLSN, sentinel.LSN)
	require.Nil(t, payload)

	next, err := reopened.AppendTxnBegin(2)
	require.NoError(t, err)
	require.Equal(t, LSN(2), next.LSN)
}

func TestCheckpointThresholdRotatesExactlyOnceAtTPlusOne(t *testing.T) {
	const threshold = 5
	fs := afero.NewMemMapFs()
	log, err := Create(fs, "/db/wal", Options{CheckpointThreshold: threshold}, nil, nil)
	require.NoError(t, err)
	defer log.Close(FlagDontClearLog)

	for i := 0; i < threshold+1; i++ {
		id := TxnID(i + 1)
		_, err := log.AppendTxnBegin(id)
		require.NoError(t, err)
		_, err = log.AppendTxnCommit(id)
		require.NoError(t, err)
	}
	require.Equal(t, 1, log.fp.current)
}

func TestCheckpointThresholdRotatesTwiceAtDoubleTPlusOne(t *testing.T) {
	const threshold = 5
	fs := afero.NewMemMapFs()
	log, err := Create(fs, "/db/wal", Options{CheckpointThreshold: threshold}, nil, nil)
	require.NoError(t, err)
	defer log.Close(FlagDontClearLog)

	for i := 0; i < 2*threshold+1; i++ {
		id := TxnID(i + 1)
		_, err := log.AppendTxnBegin(id)
		require.NoError(t, err)
		_, err = log.AppendTxnCommit(id)
		require.NoError(t, err)
	}
	require.Equal(t, 0, log.fp.current)
}

func TestCheckpointDelaysRotationUntilTransactionCloses(t *testing.T) {
	const threshold = 2
	fs := afero.NewMemMapFs()
	log, err := Create(fs, "/db/wal", Options{CheckpointThreshold: threshold}, nil, nil)
	require.NoError(t, err)
	defer log.Close(FlagDontClearLog)

	_, err = log.AppendTxnBegin(1)
	require.NoError(t, err)
	_, err = log.AppendTxnCommit(1)
	require.NoError(t, err)
	_, err = log.AppendTxnBegin(2)
	require.NoError(t, err)
	_, err = log.AppendTxnBegin(3)
	require.NoError(t, err)

	// Threshold is already met, but txn 3 is still open: no rotation yet.
	require.Equal(t, 0, log.fp.current)

	_, err = log.AppendTxnCommit(3)
	require.NoError(t, err)
	_, err = log.AppendTxnCommit(2)
	require.NoError(t, err)
	require.Equal(t, 1, log.fp.current)
}

func TestAppendCheckpointFailsWhileTransactionOpen(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := Create(fs, "/db/wal", Options{}, nil, nil)
	require.NoError(t, err)
	defer log.Close(0)

	_, err = log.AppendTxnBegin(1)
	require.NoError(t, err)
	_, err = log.AppendCheckpoint()
	require.ErrorIs(t, err, errTxnOpen)
}

func TestStatsReflectsAppendsRotationsAndCheckpoints(t *testing.T) {
	const threshold = 1
	fs := afero.NewMemMapFs()
	m := metrics.NewUnregistered()
	log, err := Create(fs, "/db/wal", Options{CheckpointThreshold: threshold}, nil, m)
	require.NoError(t, err)
	defer log.Close(0)

	_, err = log.AppendTxnBegin(1)
	require.NoError(t, err)
	_, err = log.AppendTxnCommit(1) // crosses the threshold: one checkpoint, one rotation
	require.NoError(t, err)

	snap := log.Stats()
	require.Equal(t, float64(1), snap.Rotations)
	require.Equal(t, float64(1), snap.Checkpoints)
	require.Equal(t, float64(1), snap.Appends[EntryTypeTxnBegin.String()])
	require.Equal(t, float64(1), snap.Appends[EntryTypeTxnCommit.String()])
}

func TestStatsOnNilMetricsReturnsZeroValue(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := Create(fs, "/db/wal", Options{}, nil, nil)
	require.NoError(t, err)
	defer log.Close(0)

	snap := log.Stats()
	require.Equal(t, float64(0), snap.Rotations)
	require.Empty(t, snap.Appends)
}

func TestAppendOverwriteRejectsMismatchedImageLengths(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := Create(fs, "/db/wal", Options{}, nil, nil)
	require.NoError(t, err)
	defer log.Close(0)

	_, err = log.AppendOverwrite(0, 0, []byte{1, 2}, []byte{1})
	require.Error(t, err)
}
