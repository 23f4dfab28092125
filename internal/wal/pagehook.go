package wal

// Page is the view of a pager's page that the WAL needs in order to
// journal it: a stable address and its current payload bytes.
type Page interface {
	Address() int64
	Payload() []byte
}

// Pager is the collaborator the recovery engine replays WRITE and
// OVERWRITE after-images and PREWRITE and OVERWRITE before-images
// against. A concrete pager lives in internal/pager; recovery depends
// only on this interface.
type Pager interface {
	PageSize() int
	WritePageAt(offset int64, data []byte) error
	FsyncDataFile() error
}

// AddPageBefore journals the before-image of page on behalf of txnID,
// but only the first time it's called for that (transaction, page)
// pair: once a page's before-image is journaled, writing it again would
// only waste space, and undo only ever needs the oldest one. For a
// transaction with no AppendTxnBegin on this Log it journals nothing.
func (l *Log) AddPageBefore(txnID TxnID, page Page) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.txns[txnID]
	if !ok {
		return false, nil
	}
	addr := page.Address()
	if _, seen := st.dirtyPages[addr]; seen {
		return false, nil
	}
	if _, err := l.append(txnID, EntryTypePrewrite, addr, page.Payload()); err != nil {
		return false, err
	}
	st.dirtyPages[addr] = struct{}{}
	return true, nil
}
