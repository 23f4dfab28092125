package wal

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/onlyone0001/upscaledb/internal/metrics"
)

// txnState keeps an open transaction's journaled-page set alive between
// AddPageBefore calls.
type txnState struct {
	dirtyPages map[int64]struct{}
}

// Log is a dual-file write-ahead log: append operations, checkpoint and
// rotation policy, and the page-journaling hook all live on it. Recovery
// (recovery.go) and the reverse Iterator (iterator.go) operate on its
// file pair.
type Log struct {
	mu sync.Mutex

	fp   *filePair
	opts Options

	logger  *zap.Logger
	metrics *metrics.WAL

	nextLSN            LSN
	lastCheckpointLSN  LSN
	instanceID         uint64
	openTxn            [2]int
	closedTxn          [2]int
	txns               map[TxnID]*txnState
}

// instanceIDFromUUID derives a 64-bit instance stamp from a random UUID.
// The on-disk header has only 8 reserved bytes, so there's no room for
// the full 128 bits; the first 8 are plenty to distinguish one process's
// run of the log from another's for diagnostic purposes.
func instanceIDFromUUID() uint64 {
	id := uuid.New()
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i])
	}
	return v
}

func stampReserved(id uint64) [8]byte {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(id)
		id >>= 8
	}
	return b
}

// Create creates a fresh dual-file log at basePath, overwriting any
// existing files. logger and m may be nil.
func Create(fs afero.Fs, basePath string, opts Options, logger *zap.Logger, m *metrics.WAL) (*Log, error) {
	fp, err := createFilePair(fs, basePath)
	if err != nil {
		return nil, err
	}
	id := instanceIDFromUUID()
	reserved := stampReserved(id)
	for i := 0; i < 2; i++ {
		h := newHeader()
		h.Reserved = reserved
		if i == fp.current {
			h.Flags = headerFlagCurrent
		}
		if err := fp.writeHeaderAt(i, h); err != nil {
			fp.close()
			return nil, err
		}
	}
	l := newLog(fp, opts, id, logger, m)
	l.nextLSN = 1
	return l, nil
}

// Open opens an existing dual-file log at basePath.
//
// If the log is non-empty, the caller must deal with recovery: when
// flags include FlagEnableRecovery and FlagAutoRecovery, Open runs Recover immediately
// with pager; with FlagEnableRecovery but no auto-recovery, Open returns
// ErrNeedRecovery and leaves the log untouched so the caller can recover
// explicitly later. Without FlagEnableRecovery, Open never checks and
// simply resumes appending after the existing tail.
func Open(fs afero.Fs, basePath string, flags Flags, opts Options, pager Pager, logger *zap.Logger, m *metrics.WAL) (*Log, error) {
	fp, headers, err := openFilePair(fs, basePath)
	if err != nil {
		return nil, err
	}
	id := bytesToID(headers[fp.current].Reserved)
	l := newLog(fp, opts, id, logger, m)
	l.nextLSN = headers[fp.current].LastLSN + 1
	l.lastCheckpointLSN = headers[fp.current].LastCheckpointLSN

	if !fp.isEmpty() && flags.has(FlagEnableRecovery) {
		if !flags.has(FlagAutoRecovery) {
			fp.close()
			return nil, ErrNeedRecovery
		}
		if err := l.Recover(pager); err != nil {
			fp.close()
			return nil, err
		}
	}
	return l, nil
}

func bytesToID(b [8]byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func newLog(fp *filePair, opts Options, id uint64, logger *zap.Logger, m *metrics.WAL) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		fp:         fp,
		opts:       opts,
		logger:     logger.With(zap.Uint64("wal_instance", id)),
		metrics:    m,
		instanceID: id,
		txns:       make(map[TxnID]*txnState),
	}
}

// Stats returns a point-in-time read of the append, rotation, checkpoint
// and recovery counters. A Log built with a nil *metrics.WAL returns a
// zero-valued Snapshot.
func (l *Log) Stats() metrics.Snapshot {
	return l.metrics.Snapshot()
}

// IsEmpty reports whether both files hold only their header.
func (l *Log) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fp.isEmpty()
}

// Close flushes the current file's header and closes both files. Unless
// FlagDontClearLog is set, it also clears the log first, since a clean
// shutdown needs no recovery on the next Open.
func (l *Log) Close(flags Flags) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !flags.has(FlagDontClearLog) {
		if err := l.clearLocked(); err != nil {
			return err
		}
	} else if err := l.flushHeaderLocked(); err != nil {
		return err
	}
	return l.fp.close()
}

// Clear truncates both files back to an empty header, discarding all
// entries. It is called by Close on a clean shutdown and by Recover once
// a recovery pass has finished applying the log.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clearLocked()
}

func (l *Log) clearLocked() error {
	id := stampReserved(l.instanceID)
	for i := 0; i < 2; i++ {
		h := newHeader()
		h.Reserved = id
		if i == 0 {
			h.Flags = headerFlagCurrent
		}
		if err := l.fp.truncateToHeader(i, h); err != nil {
			return err
		}
	}
	l.fp.current = 0
	l.nextLSN = 1
	l.lastCheckpointLSN = 0
	l.openTxn = [2]int{}
	l.closedTxn = [2]int{}
	l.txns = make(map[TxnID]*txnState)
	return nil
}

func (l *Log) flushHeaderLocked() error {
	h := header{
		Magic:             fileMagic,
		Flags:             headerFlagCurrent,
		Reserved:          stampReserved(l.instanceID),
		LastCheckpointLSN: l.lastCheckpointLSN,
		LastLSN:           l.nextLSN - 1,
	}
	return l.fp.writeHeaderAt(l.fp.current, h)
}

func (l *Log) assignLSN() LSN {
	lsn := l.nextLSN
	l.nextLSN++
	return lsn
}

// append writes one entry to the current file, updates the in-memory
// tail LSN, and records throughput metrics. It does not fsync; callers
// that need durability (AppendTxnCommit) call fsync themselves.
func (l *Log) append(txnID TxnID, typ EntryType, offset int64, payload []byte) (Entry, error) {
	start := time.Now()
	eh := entryHeader{
		LSN:      l.assignLSN(),
		TxnID:    txnID,
		Offset:   offset,
		DataSize: uint64(len(payload)),
		Type:     typ,
	}
	buf := append(encodeEntryHeader(eh), payload...)
	if _, err := l.fp.appendCurrent(buf); err != nil {
		return Entry{}, err
	}
	if err := l.flushHeaderLocked(); err != nil {
		return Entry{}, err
	}
	l.metrics.ObserveAppend(typ.String(), time.Since(start).Seconds())
	return toEntry(eh), nil
}

// AppendTxnBegin records the start of a new transaction.
func (l *Log) AppendTxnBegin(txnID TxnID) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.append(txnID, EntryTypeTxnBegin, 0, nil)
	if err != nil {
		return Entry{}, err
	}
	l.openTxn[l.fp.current]++
	l.txns[txnID] = &txnState{dirtyPages: make(map[int64]struct{})}
	return e, nil
}

// AppendTxnCommit records a transaction's commit and fsyncs the current
// file before returning, so the caller can treat the commit as durable.
// It may trigger a checkpoint and rotation once the fsync completes.
func (l *Log) AppendTxnCommit(txnID TxnID) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.append(txnID, EntryTypeTxnCommit, 0, nil)
	if err != nil {
		return Entry{}, err
	}
	start := time.Now()
	if err := l.fp.syncCurrent(); err != nil {
		return Entry{}, err
	}
	l.metrics.ObserveFsync(time.Since(start).Seconds())

	l.closeTxnLocked(txnID)
	if err := l.maybeCheckpointAndRotateLocked(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// AppendTxnAbort records a transaction's abort. It need not be synced
// immediately: an abort only has to be durable before the file it lives
// in is reused, which rotation and checkpointing already guarantee.
func (l *Log) AppendTxnAbort(txnID TxnID) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.append(txnID, EntryTypeTxnAbort, 0, nil)
	if err != nil {
		return Entry{}, err
	}
	l.closeTxnLocked(txnID)
	if err := l.maybeCheckpointAndRotateLocked(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (l *Log) closeTxnLocked(txnID TxnID) {
	l.openTxn[l.fp.current]--
	l.closedTxn[l.fp.current]++
	delete(l.txns, txnID)
}

// AppendCheckpoint records a CHECKPOINT entry directly. It fails with
// errTxnOpen if any transaction in the current file is still open, since
// a checkpoint asserts that everything before it is fully resolved.
func (l *Log) AppendCheckpoint() (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendCheckpointLocked()
}

func (l *Log) appendCheckpointLocked() (Entry, error) {
	if l.openTxn[l.fp.current] != 0 {
		return Entry{}, errTxnOpen
	}
	e, err := l.append(0, EntryTypeCheckpoint, 0, nil)
	if err != nil {
		return Entry{}, err
	}
	start := time.Now()
	if err := l.fp.syncCurrent(); err != nil {
		return Entry{}, err
	}
	l.metrics.ObserveFsync(time.Since(start).Seconds())

	l.lastCheckpointLSN = e.LSN
	l.metrics.IncCheckpoint()
	if err := l.flushHeaderLocked(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// AppendFlushPage records that the pager has flushed a page to the data
// file as of the returned LSN. The entry is advisory only: recovery
// neither relies on it nor applies anything for it.
func (l *Log) AppendFlushPage(pageAddress int64) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.append(0, EntryTypeFlushPage, pageAddress, nil)
}

// AppendPrewrite records the before-image of a page. It is normally
// called once per (transaction, page) through AddPageBefore rather than
// directly.
func (l *Log) AppendPrewrite(txnID TxnID, pageAddress int64, before []byte) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.append(txnID, EntryTypePrewrite, pageAddress, before)
}

// AppendWrite records the after-image of a page. It carries no
// before-image; that is journaled separately with a PREWRITE, if at all.
func (l *Log) AppendWrite(txnID TxnID, pageAddress int64, after []byte) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.append(txnID, EntryTypeWrite, pageAddress, after)
}

// AppendOverwrite records both the before- and after-image of a page
// modified in place. before and after must be the same length.
func (l *Log) AppendOverwrite(txnID TxnID, pageAddress int64, before, after []byte) (Entry, error) {
	if len(before) != len(after) {
		return Entry{}, fmt.Errorf("wal: overwrite before/after image length mismatch: %d != %d", len(before), len(after))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	payload := make([]byte, 0, len(before)+len(after))
	payload = append(payload, before...)
	payload = append(payload, after...)
	return l.append(txnID, EntryTypeOverwrite, pageAddress, payload)
}

// maybeCheckpointAndRotateLocked implements the checkpoint/rotation
// policy: once no transaction is open in the current file and the
// number of transactions it has seen (open plus closed, though open is
// necessarily zero here) reaches the configured threshold, it appends a
// CHECKPOINT entry and rotates to the other file.
//
// This counts transactions, not raw entry bytes: a CHECKPOINT is only
// ever correct to insert between transactions, so the natural unit of
// "how full is this file" is the number of transactions it has closed,
// matching the open_txn/closed_txn bookkeeping the file header
// conceptually carries.
func (l *Log) maybeCheckpointAndRotateLocked() error {
	cur := l.fp.current
	if l.openTxn[cur] != 0 {
		return nil
	}
	if l.openTxn[cur]+l.closedTxn[cur] < l.opts.threshold() {
		return nil
	}
	if _, err := l.appendCheckpointLocked(); err != nil {
		return err
	}
	return l.rotateLocked()
}

func (l *Log) rotateLocked() error {
	cur := l.fp.current
	other := 1 - cur

	// Clear the marker on the file we're rotating out of before flipping
	// current, so a crash between these two writes never leaves both
	// files claiming to be current.
	stale := header{
		Magic:             fileMagic,
		Reserved:          stampReserved(l.instanceID),
		LastCheckpointLSN: l.lastCheckpointLSN,
		LastLSN:           l.nextLSN - 1,
	}
	if err := l.fp.writeHeaderAt(cur, stale); err != nil {
		return err
	}

	fresh := header{
		Magic:             fileMagic,
		Flags:             headerFlagCurrent,
		Reserved:          stampReserved(l.instanceID),
		LastCheckpointLSN: l.lastCheckpointLSN,
		LastLSN:           l.nextLSN - 1,
	}
	if err := l.fp.truncateToHeader(other, fresh); err != nil {
		return err
	}
	l.fp.current = other
	l.openTxn[other] = 0
	l.closedTxn[other] = 0
	l.metrics.IncRotation()
	l.logger.Info("wal rotated", zap.Int("new_current", other), zap.Uint64("last_lsn", uint64(l.nextLSN-1)))
	return nil
}
