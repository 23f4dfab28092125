package wal

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// fileSuffixes names the two files of a log file pair. Exactly one of them
// is "current" at any time; appends go only to the current file, and
// rotation truncates the other one to its header.
var fileSuffixes = [2]string{".log0", ".log1"}

// filePair owns the two append-only files that back a Log. It knows
// nothing about entries or LSNs beyond what's needed to validate and
// persist the file header; append, rotation and checkpoint policy live in
// log.go.
type filePair struct {
	fs       afero.Fs
	basePath string
	files    [2]afero.File
	sizes    [2]int64
	current  int
}

func pairPath(basePath string, idx int) string {
	return basePath + fileSuffixes[idx]
}

// createFilePair creates both files of the pair with O_CREATE|O_TRUNC
// semantics, writes a fresh header to each, and leaves file 0 current.
func createFilePair(fs afero.Fs, basePath string) (*filePair, error) {
	fp := &filePair{fs: fs, basePath: basePath}
	for i := 0; i < 2; i++ {
		f, err := fs.OpenFile(pairPath(basePath, i), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			fp.closeOpened()
			return nil, fmt.Errorf("%w: creating %s: %v", ErrIoError, pairPath(basePath, i), err)
		}
		fp.files[i] = f
		h := newHeader()
		if i == 0 {
			h.Flags = headerFlagCurrent
		}
		if _, err := f.Write(encodeHeader(h)); err != nil {
			fp.closeOpened()
			return nil, fmt.Errorf("%w: writing header to %s: %v", ErrIoError, pairPath(basePath, i), err)
		}
		fp.sizes[i] = HeaderSize
	}
	fp.current = 0
	return fp, nil
}

// openFilePair opens both existing files of the pair, validates their
// headers, and leaves current the file whose header carries the current
// marker. If neither or both carry it, the file with the higher last-LSN
// is current, and file 0 on a tie.
func openFilePair(fs afero.Fs, basePath string) (*filePair, []header, error) {
	fp := &filePair{fs: fs, basePath: basePath}
	var headers [2]header
	for i := 0; i < 2; i++ {
		path := pairPath(basePath, i)
		if _, err := fs.Stat(path); err != nil {
			if os.IsNotExist(err) {
				fp.closeOpened()
				return nil, nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			fp.closeOpened()
			return nil, nil, fmt.Errorf("%w: stating %s: %v", ErrIoError, path, err)
		}
		f, err := fs.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			fp.closeOpened()
			return nil, nil, fmt.Errorf("%w: opening %s: %v", ErrIoError, path, err)
		}
		fp.files[i] = f

		info, err := f.Stat()
		if err != nil {
			fp.closeOpened()
			return nil, nil, fmt.Errorf("%w: stating %s: %v", ErrIoError, path, err)
		}
		fp.sizes[i] = info.Size()
		if fp.sizes[i] < HeaderSize {
			fp.closeOpened()
			return nil, nil, fmt.Errorf("%w: %s is shorter than a header", ErrInvalidFileHeader, path)
		}

		buf := make([]byte, HeaderSize)
		if _, err := f.ReadAt(buf, 0); err != nil {
			fp.closeOpened()
			return nil, nil, fmt.Errorf("%w: reading header of %s: %v", ErrIoError, path, err)
		}
		h, err := decodeHeader(buf)
		if err != nil {
			fp.closeOpened()
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidFileHeader, err)
		}
		if err := validateHeader(h); err != nil {
			fp.closeOpened()
			return nil, nil, err
		}
		headers[i] = h
	}

	fp.current = 0
	switch {
	case headers[0].Flags&headerFlagCurrent != 0 && headers[1].Flags&headerFlagCurrent == 0:
		fp.current = 0
	case headers[1].Flags&headerFlagCurrent != 0 && headers[0].Flags&headerFlagCurrent == 0:
		fp.current = 1
	case headers[1].LastLSN > headers[0].LastLSN:
		// Neither or both carry the marker (a pre-marker log, or a crash
		// mid-rotation): fall back to whichever has made more progress.
		fp.current = 1
	}
	return fp, headers[:], nil
}

func (fp *filePair) closeOpened() {
	for i := 0; i < 2; i++ {
		if fp.files[i] != nil {
			_ = fp.files[i].Close()
			fp.files[i] = nil
		}
	}
}

func (fp *filePair) close() error {
	var firstErr error
	for i := 0; i < 2; i++ {
		if fp.files[i] == nil {
			continue
		}
		if err := fp.files[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		fp.files[i] = nil
	}
	if firstErr != nil {
		return fmt.Errorf("%w: closing log files: %v", ErrIoError, firstErr)
	}
	return nil
}

// appendCurrent writes buf to the tail of the current file and returns
// the byte offset it was written at.
func (fp *filePair) appendCurrent(buf []byte) (int64, error) {
	offset := fp.sizes[fp.current]
	if _, err := fp.files[fp.current].WriteAt(buf, offset); err != nil {
		return 0, fmt.Errorf("%w: appending to %s: %v", ErrIoError, pairPath(fp.basePath, fp.current), err)
	}
	fp.sizes[fp.current] += int64(len(buf))
	return offset, nil
}

func (fp *filePair) syncCurrent() error {
	if err := fp.files[fp.current].Sync(); err != nil {
		return fmt.Errorf("%w: fsync %s: %v", ErrIoError, pairPath(fp.basePath, fp.current), err)
	}
	return nil
}

func (fp *filePair) writeHeaderAt(idx int, h header) error {
	if _, err := fp.files[idx].WriteAt(encodeHeader(h), 0); err != nil {
		return fmt.Errorf("%w: writing header to %s: %v", ErrIoError, pairPath(fp.basePath, idx), err)
	}
	return nil
}

func (fp *filePair) readAt(idx int, offset int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := fp.files[idx].ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("%w: reading %s at %d: %v", ErrIoError, pairPath(fp.basePath, idx), offset, err)
	}
	return buf, nil
}

// truncateToHeader resets a file back to header-only, writing a fresh
// header with the given last-checkpoint/last LSN preserved by the caller.
func (fp *filePair) truncateToHeader(idx int, h header) error {
	if err := fp.files[idx].Truncate(HeaderSize); err != nil {
		return fmt.Errorf("%w: truncating %s: %v", ErrIoError, pairPath(fp.basePath, idx), err)
	}
	if err := fp.writeHeaderAt(idx, h); err != nil {
		return err
	}
	fp.sizes[idx] = HeaderSize
	return nil
}

// isEmpty reports whether both files contain only their header.
func (fp *filePair) isEmpty() bool {
	return fp.sizes[0] == HeaderSize && fp.sizes[1] == HeaderSize
}
