package txn

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/onlyone0001/upscaledb/internal/wal"
)

func TestBeginAssignsSequentialIDsStartingAt1(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := wal.Create(fs, "/db/wal", wal.Options{}, nil, nil)
	require.NoError(t, err)
	defer log.Close(0)

	m := NewManager(log)
	first, err := m.Begin()
	require.NoError(t, err)
	second, err := m.Begin()
	require.NoError(t, err)

	require.Equal(t, wal.TxnID(1), first.ID)
	require.Equal(t, wal.TxnID(2), second.ID)
	require.Equal(t, StateRunning, first.State)
}

func TestCommitResolvesTransactionAndClearsActive(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := wal.Create(fs, "/db/wal", wal.Options{}, nil, nil)
	require.NoError(t, err)
	defer log.Close(0)

	m := NewManager(log)
	tx, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Commit(tx))

	require.Equal(t, StateCommitted, tx.State)
	require.Empty(t, m.Active())
}

func TestAbortResolvesTransactionAndClearsActive(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := wal.Create(fs, "/db/wal", wal.Options{}, nil, nil)
	require.NoError(t, err)
	defer log.Close(0)

	m := NewManager(log)
	tx, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Abort(tx))

	require.Equal(t, StateAborted, tx.State)
	require.Empty(t, m.Active())
}

func TestCommitOnAlreadyResolvedTransactionFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := wal.Create(fs, "/db/wal", wal.Options{}, nil, nil)
	require.NoError(t, err)
	defer log.Close(0)

	m := NewManager(log)
	tx, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Commit(tx))

	err = m.Commit(tx)
	require.Error(t, err)
}

func TestActiveReflectsOnlyUnresolvedTransactions(t *testing.T) {
	fs := afero.NewMemMapFs()
	log, err := wal.Create(fs, "/db/wal", wal.Options{}, nil, nil)
	require.NoError(t, err)
	defer log.Close(0)

	m := NewManager(log)
	a, err := m.Begin()
	require.NoError(t, err)
	b, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.Commit(a))

	active := m.Active()
	require.Len(t, active, 1)
	require.Equal(t, b.ID, active[0])
}
