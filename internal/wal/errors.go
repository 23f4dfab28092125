package wal

import "errors"

// Error kinds surfaced at the WAL boundary. The WAL never recovers from
// these locally: append failures are returned to the caller, who must
// treat the transaction as failed, and recovery failures are returned to
// the open call with the log left intact so recovery can be retried.
var (
	ErrIoError           = errors.New("wal: i/o error")
	ErrFileNotFound      = errors.New("wal: log file not found")
	ErrInvalidFileHeader = errors.New("wal: invalid log file header")
	ErrNeedRecovery      = errors.New("wal: log is non-empty, recovery required")
	ErrOutOfMemory       = errors.New("wal: out of memory")

	errTxnOpen        = errors.New("wal: checkpoint requested while a transaction is open")
	errEntryTruncated = errors.New("wal: truncated log entry")
)
