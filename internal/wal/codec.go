package wal

import (
	"encoding/binary"
	"fmt"
)

// fileMagic identifies a valid log file header. It has no meaning beyond
// distinguishing a freshly-created WAL file from garbage or a foreign file.
const fileMagic uint32 = 0x57414c30 // "WAL0"

// HeaderSize is the fixed on-disk size of a log file header, in bytes.
const HeaderSize = 32

// EntrySize is the fixed on-disk size of a log entry's header prefix, in
// bytes. It is followed immediately by DataSize bytes of payload.
const EntrySize = 40

// EntryType identifies the kind of a log entry. It occupies the high
// nibble of the entry's flags-and-type word.
type EntryType byte

const (
	EntryTypeTxnBegin EntryType = iota + 1
	EntryTypeTxnAbort
	EntryTypeTxnCommit
	EntryTypeCheckpoint
	EntryTypeFlushPage
	EntryTypePrewrite
	EntryTypeWrite
	EntryTypeOverwrite
)

func (t EntryType) String() string {
	switch t {
	case EntryTypeTxnBegin:
		return "TXN_BEGIN"
	case EntryTypeTxnAbort:
		return "TXN_ABORT"
	case EntryTypeTxnCommit:
		return "TXN_COMMIT"
	case EntryTypeCheckpoint:
		return "CHECKPOINT"
	case EntryTypeFlushPage:
		return "FLUSH_PAGE"
	case EntryTypePrewrite:
		return "PREWRITE"
	case EntryTypeWrite:
		return "WRITE"
	case EntryTypeOverwrite:
		return "OVERWRITE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// headerFlagCurrent marks the file of a pair that appends currently go
// to. LastLSN alone can't disambiguate this after a rotation: the file
// just rotated into has the same LastLSN as the file just rotated out
// of, since no entries have moved yet.
const headerFlagCurrent uint32 = 1 << 0

// header is the fixed-size record stored at the start of every log file.
type header struct {
	Magic             uint32
	Flags             uint32
	Reserved          [8]byte
	LastCheckpointLSN LSN
	LastLSN           LSN
}

func newHeader() header {
	return header{Magic: fileMagic}
}

func encodeHeader(h header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Flags)
	copy(buf[8:16], h.Reserved[:])
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.LastCheckpointLSN))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.LastLSN))
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) != HeaderSize {
		return header{}, fmt.Errorf("wal: short header read: got %d bytes, want %d", len(buf), HeaderSize)
	}
	var h header
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Flags = binary.LittleEndian.Uint32(buf[4:8])
	copy(h.Reserved[:], buf[8:16])
	h.LastCheckpointLSN = LSN(binary.LittleEndian.Uint64(buf[16:24]))
	h.LastLSN = LSN(binary.LittleEndian.Uint64(buf[24:32]))
	return h, nil
}

func validateHeader(h header) error {
	if h.Magic != fileMagic {
		return fmt.Errorf("%w: got magic 0x%x, want 0x%x", ErrInvalidFileHeader, h.Magic, fileMagic)
	}
	return nil
}

// entryHeader is the fixed-size prefix of every log entry. It is followed
// by DataSize bytes of payload (0 for control entries).
type entryHeader struct {
	LSN      LSN
	TxnID    TxnID
	Offset   int64
	DataSize uint64
	Type     EntryType
	Flags    uint32
}

// flagsAndType packs Type into the high nibble and Flags into the
// remaining 28 bits, per the on-disk format.
func (e entryHeader) flagsAndType() uint32 {
	return (uint32(e.Type)<<28 | (e.Flags & 0x0fffffff))
}

func entryTypeFromWord(word uint32) EntryType {
	return EntryType(word >> 28)
}

func entryFlagsFromWord(word uint32) uint32 {
	return word & 0x0fffffff
}

func encodeEntryHeader(e entryHeader) []byte {
	buf := make([]byte, EntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.LSN))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(e.TxnID))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(e.Offset))
	binary.LittleEndian.PutUint64(buf[24:32], e.DataSize)
	binary.LittleEndian.PutUint32(buf[32:36], e.flagsAndType())
	// buf[36:40] reserved, left zero.
	return buf
}

func decodeEntryHeader(buf []byte) (entryHeader, error) {
	if len(buf) != EntrySize {
		return entryHeader{}, fmt.Errorf("wal: short entry header read: got %d bytes, want %d", len(buf), EntrySize)
	}
	word := binary.LittleEndian.Uint32(buf[32:36])
	return entryHeader{
		LSN:      LSN(binary.LittleEndian.Uint64(buf[0:8])),
		TxnID:    TxnID(binary.LittleEndian.Uint64(buf[8:16])),
		Offset:   int64(binary.LittleEndian.Uint64(buf[16:24])),
		DataSize: binary.LittleEndian.Uint64(buf[24:32]),
		Type:     entryTypeFromWord(word),
		Flags:    entryFlagsFromWord(word),
	}, nil
}
