package wal

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type txnOutcome int

const (
	outcomeInflight txnOutcome = iota
	outcomeCommitted
	outcomeAborted
)

// Recover drives the three-pass recovery algorithm (analysis, redo,
// undo) against pager, then fsyncs the data file and clears the log.
// Open decides, based on its flags, whether to call this automatically
// or return ErrNeedRecovery and leave the decision to the caller.
func (l *Log) Recover(pager Pager) error {
	if pager == nil {
		return errors.New("wal: recover requires a pager")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	byFile, err := l.fp.scanAll()
	if err != nil {
		return err
	}
	reverse := reverseOrder(byFile, l.fp.current)
	forward := forwardOrder(byFile, l.fp.current)

	outcomes, checkpointLSN := analyze(reverse)
	l.logger.Info("recovery analysis complete",
		zap.Int("transactions", len(outcomes)),
		zap.Uint64("checkpoint_lsn", uint64(checkpointLSN)))

	if err := l.redo(pager, forward, outcomes, checkpointLSN); err != nil {
		return err
	}
	if err := l.undo(pager, reverse, outcomes); err != nil {
		return err
	}
	if err := pager.FsyncDataFile(); err != nil {
		return fmt.Errorf("%w: fsyncing data file after recovery: %v", ErrIoError, err)
	}

	if err := l.clearLocked(); err != nil {
		return err
	}
	l.metrics.ObserveRecovery(time.Since(start).Seconds())
	l.logger.Info("recovery complete", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// analyze walks entries in reverse chronological order, classifying
// every transaction it finds a BEGIN, COMMIT or ABORT for and recording
// the LSN of the most recent CHECKPOINT. Scanning backward means the
// first CHECKPOINT encountered is the most recent one; later (smaller)
// checkpoint LSNs seen further back are not interesting and are not
// recorded over it.
func analyze(reverse []entryRef) (map[TxnID]txnOutcome, LSN) {
	outcomes := make(map[TxnID]txnOutcome)
	var checkpointLSN LSN
	for _, ref := range reverse {
		switch ref.header.Type {
		case EntryTypeCheckpoint:
			if checkpointLSN == 0 {
				checkpointLSN = ref.header.LSN
			}
		case EntryTypeTxnCommit:
			outcomes[ref.header.TxnID] = outcomeCommitted
		case EntryTypeTxnAbort:
			outcomes[ref.header.TxnID] = outcomeAborted
		case EntryTypeTxnBegin:
			if _, known := outcomes[ref.header.TxnID]; !known {
				outcomes[ref.header.TxnID] = outcomeInflight
			}
		}
	}
	return outcomes, checkpointLSN
}

// redo replays WRITE and OVERWRITE entries belonging to committed
// transactions, forward from the checkpoint (or from the start of the
// log if there was none). It is idempotent: reapplying the same
// after-image to the data file more than once leaves it unchanged.
func (l *Log) redo(pager Pager, forward []entryRef, outcomes map[TxnID]txnOutcome, checkpointLSN LSN) error {
	for _, ref := range forward {
		if ref.header.LSN <= checkpointLSN {
			continue
		}
		if outcomes[ref.header.TxnID] != outcomeCommitted {
			continue
		}
		switch ref.header.Type {
		case EntryTypeWrite:
			payload, err := l.fp.readPayload(ref)
			if err != nil {
				return err
			}
			if err := pager.WritePageAt(ref.header.Offset, payload); err != nil {
				return fmt.Errorf("%w: redoing WRITE at lsn %d: %v", ErrIoError, ref.header.LSN, err)
			}
		case EntryTypeOverwrite:
			_, after, err := splitImages(l.fp, ref)
			if err != nil {
				return err
			}
			if err := pager.WritePageAt(ref.header.Offset, after); err != nil {
				return fmt.Errorf("%w: redoing OVERWRITE at lsn %d: %v", ErrIoError, ref.header.LSN, err)
			}
		}
	}
	return nil
}

// undo restores the before-image of every PREWRITE and OVERWRITE
// belonging to a transaction that did not commit — in flight or
// aborted alike — walking backward so the oldest before-image for a
// given page — the one that actually predates the transaction — wins
// if it was journaled more than once.
//
// An aborted transaction's dirty pages may already have been flushed
// to the data file before the abort (or before the crash that looks
// like one), so "aborted" cannot be treated as "ignore": its
// before-images must be physically restored exactly like an in-flight
// transaction's.
func (l *Log) undo(pager Pager, reverse []entryRef, outcomes map[TxnID]txnOutcome) error {
	for _, ref := range reverse {
		if outcomes[ref.header.TxnID] == outcomeCommitted {
			continue
		}
		switch ref.header.Type {
		case EntryTypePrewrite:
			payload, err := l.fp.readPayload(ref)
			if err != nil {
				return err
			}
			if err := pager.WritePageAt(ref.header.Offset, payload); err != nil {
				return fmt.Errorf("%w: undoing PREWRITE at lsn %d: %v", ErrIoError, ref.header.LSN, err)
			}
		case EntryTypeOverwrite:
			before, _, err := splitImages(l.fp, ref)
			if err != nil {
				return err
			}
			if err := pager.WritePageAt(ref.header.Offset, before); err != nil {
				return fmt.Errorf("%w: undoing OVERWRITE at lsn %d: %v", ErrIoError, ref.header.LSN, err)
			}
		}
	}
	return nil
}

// splitImages reads an OVERWRITE entry's payload and splits it into its
// concatenated before- and after-images, each DataSize/2 bytes.
func splitImages(fp *filePair, ref entryRef) (before, after []byte, err error) {
	payload, err := fp.readPayload(ref)
	if err != nil {
		return nil, nil, err
	}
	half := len(payload) / 2
	return payload[:half], payload[half:], nil
}
