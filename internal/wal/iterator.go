package wal

// maxPayloadSize bounds how large a single entry's payload is allowed to
// be. A real WAL should never produce an entry anywhere near this size; a
// DataSize field that claims otherwise is either a corrupt record or one
// that ran off the end of the file. scanFileForward stops at such an
// entry, the same as at a truncated tail, and readPayload refuses it with
// ErrOutOfMemory rather than allocate gigabytes.
const maxPayloadSize = 1 << 28 // 256 MiB

// entryRef locates one decoded entry header within a log file pair,
// without its payload. Iterator and Recover both build these once per
// file and then walk the index in whichever direction they need.
type entryRef struct {
	fileIdx int
	offset  int64 // absolute byte offset of the entry header, not the payload
	header  entryHeader
}

// scanFileForward walks one file from just past its header to its tail,
// decoding entry headers as it goes. It stops the moment an entry's
// declared size would run past the end of the file — a truncated tail
// entry, equivalent to a crash before that append's fsync completed —
// and returns what it found up to that point, with no error.
func (fp *filePair) scanFileForward(idx int) ([]entryRef, error) {
	var refs []entryRef
	offset := int64(HeaderSize)
	size := fp.sizes[idx]
	for offset+EntrySize <= size {
		buf, err := fp.readAt(idx, offset, EntrySize)
		if err != nil {
			return nil, err
		}
		eh, err := decodeEntryHeader(buf)
		if err != nil {
			return nil, err
		}
		if eh.DataSize > maxPayloadSize {
			break
		}
		if offset+EntrySize+int64(eh.DataSize) > size {
			break // truncated tail: payload didn't fully make it to disk
		}
		refs = append(refs, entryRef{fileIdx: idx, offset: offset, header: eh})
		offset += EntrySize + int64(eh.DataSize)
	}
	return refs, nil
}

// scanAll builds the forward per-file index for both files of the pair.
func (fp *filePair) scanAll() ([2][]entryRef, error) {
	var all [2][]entryRef
	for i := 0; i < 2; i++ {
		refs, err := fp.scanFileForward(i)
		if err != nil {
			return all, err
		}
		all[i] = refs
	}
	return all, nil
}

// forwardOrder returns the index's entries in ascending-LSN order: the
// non-current file (strictly older, by the rotation invariant) followed
// by the current file, each already in the forward order the scan
// produced them in.
func forwardOrder(byFile [2][]entryRef, current int) []entryRef {
	other := 1 - current
	out := make([]entryRef, 0, len(byFile[0])+len(byFile[1]))
	out = append(out, byFile[other]...)
	out = append(out, byFile[current]...)
	return out
}

// reverseOrder returns the index's entries in descending-LSN order: the
// current file's entries reversed, followed by the other file's entries
// reversed. This is the order the Iterator and the undo pass walk in.
func reverseOrder(byFile [2][]entryRef, current int) []entryRef {
	other := 1 - current
	out := make([]entryRef, 0, len(byFile[0])+len(byFile[1]))
	for i := len(byFile[current]) - 1; i >= 0; i-- {
		out = append(out, byFile[current][i])
	}
	for i := len(byFile[other]) - 1; i >= 0; i-- {
		out = append(out, byFile[other][i])
	}
	return out
}

func (fp *filePair) readPayload(ref entryRef) ([]byte, error) {
	if ref.header.DataSize == 0 {
		return nil, nil
	}
	if ref.header.DataSize > maxPayloadSize {
		return nil, ErrOutOfMemory
	}
	return fp.readAt(ref.fileIdx, ref.offset+EntrySize, int(ref.header.DataSize))
}

func toEntry(eh entryHeader) Entry {
	return Entry{LSN: eh.LSN, TxnID: eh.TxnID, Type: eh.Type, Offset: eh.Offset, DataSize: eh.DataSize}
}

// Iterator yields log entries in reverse chronological order across the
// file pair, terminating with a sentinel Entry whose LSN is 0. It does
// not mutate the log and holds no OS resources of its own beyond the
// index it built at construction.
type Iterator struct {
	refs []entryRef
	pos  int
	fp   *filePair
}

// Iterator builds a fresh reverse-chronological view over l's current
// on-disk state. Entries appended after the Iterator is constructed are
// not visible to it.
func (l *Log) Iterator() (*Iterator, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byFile, err := l.fp.scanAll()
	if err != nil {
		return nil, err
	}
	return &Iterator{refs: reverseOrder(byFile, l.fp.current), fp: l.fp}, nil
}

// Next returns the next entry in reverse chronological order and, if it
// carries a payload, a freshly allocated buffer the caller owns. Past
// the end of the log it returns the sentinel Entry{LSN: 0}.
func (it *Iterator) Next() (Entry, []byte, error) {
	if it.pos >= len(it.refs) {
		return Entry{}, nil, nil
	}
	ref := it.refs[it.pos]
	it.pos++

	payload, err := it.fp.readPayload(ref)
	if err != nil {
		return Entry{}, nil, err
	}
	return toEntry(ref.header), payload, nil
}

// Close releases the Iterator's in-memory index. It never touches disk.
func (it *Iterator) Close() error {
	it.refs = nil
	it.pos = 0
	return nil
}
