package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := header{
		Magic:             fileMagic,
		Flags:             headerFlagCurrent,
		Reserved:          [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		LastCheckpointLSN: 41,
		LastLSN:           99,
	}
	decoded, err := decodeHeader(encodeHeader(h))
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := decodeHeader(make([]byte, HeaderSize-1))
	require.Error(t, err)
}

func TestValidateHeaderRejectsBadMagic(t *testing.T) {
	h := header{Magic: 0xdeadbeef}
	require.ErrorIs(t, validateHeader(h), ErrInvalidFileHeader)
}

func TestEntryHeaderRoundTrip(t *testing.T) {
	eh := entryHeader{
		LSN:      7,
		TxnID:    3,
		Offset:   4096,
		DataSize: 128,
		Type:     EntryTypeOverwrite,
		Flags:    0x0a,
	}
	decoded, err := decodeEntryHeader(encodeEntryHeader(eh))
	require.NoError(t, err)
	require.Equal(t, eh, decoded)
}

func TestEntryTypePackingUsesHighNibble(t *testing.T) {
	eh := entryHeader{Type: EntryTypeWrite, Flags: 0x0fffffff}
	word := eh.flagsAndType()
	require.Equal(t, EntryTypeWrite, entryTypeFromWord(word))
	require.Equal(t, uint32(0x0fffffff), entryFlagsFromWord(word))
}

func TestEntryTypeStringUnknown(t *testing.T) {
	require.Equal(t, "UNKNOWN(99)", EntryType(99).String())
}
