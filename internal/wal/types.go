// Package wal implements the write-ahead log and crash-recovery engine of
// the embedded key/value store: a dual-file rotating journal with
// checkpoint-driven truncation, a page-journaling hook for the pager, and
// a three-pass (analysis, redo, undo) recovery algorithm.
package wal

// LSN is a Log Sequence Number: a strictly increasing 64-bit stamp applied
// to every entry ever appended to a log. Zero is reserved as the sentinel
// returned by an exhausted Iterator.
type LSN uint64

// InvalidLSN is the reserved "no entry" sentinel. A freshly created log
// assigns LSN 1 to its first entry.
const InvalidLSN LSN = 0

// TxnID identifies a transaction. Zero denotes a system entry that is not
// owned by any transaction (FLUSH_PAGE, CHECKPOINT).
type TxnID uint64

// Flags control the behavior of Create, Open and Close.
type Flags uint32

const (
	// FlagEnableRecovery marks that a log should exist alongside the
	// database at all; without it Open never checks for pending recovery.
	FlagEnableRecovery Flags = 1 << iota
	// FlagAutoRecovery makes Open run recovery automatically instead of
	// returning ErrNeedRecovery when the log is non-empty.
	FlagAutoRecovery
	// FlagDontClearLog makes Close preserve the log instead of clearing
	// it, so a later Open can recover from it.
	FlagDontClearLog
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Entry is the decoded, in-memory form of one log record. LSN == 0 is the
// iterator's end-of-log sentinel.
type Entry struct {
	LSN      LSN
	TxnID    TxnID
	Type     EntryType
	Offset   int64
	DataSize uint64
}

// Options configures a Log at Create or Open time.
type Options struct {
	// CheckpointThreshold is the number of transactions (open plus
	// closed) seen by the current file that triggers a checkpoint and
	// rotation, checked only once no transaction is open.
	CheckpointThreshold int
}

// DefaultCheckpointThreshold is used when Options.CheckpointThreshold is
// zero.
const DefaultCheckpointThreshold = 1000

func (o Options) threshold() int {
	if o.CheckpointThreshold > 0 {
		return o.CheckpointThreshold
	}
	return DefaultCheckpointThreshold
}
