// Package pager implements a minimal fixed-page-size file manager: just
// enough of a database core's page layer to drive the write-ahead log's
// Page Journaling Hook and Recovery Engine end-to-end. It deliberately
// does not implement a buffer pool, an LRU eviction policy, a B-tree, or
// cursors — those stay out of scope for the write-ahead log this
// package exists to exercise.
package pager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/onlyone0001/upscaledb/internal/wal"
)

// PageID identifies a fixed-size slot in the data file.
type PageID uint64

// DefaultPageSize is used when Open is called with a non-positive size.
const DefaultPageSize = 4096

// Page is an in-memory copy of one page of the data file. Its latch
// guards concurrent access to Data from readers while the single writer
// mutates it; Pager itself only ever touches a page under the writer's
// external serialization.
type Page struct {
	id      PageID
	data    []byte
	isDirty bool
	latch   sync.RWMutex
}

func newPage(id PageID, size int) *Page {
	return &Page{id: id, data: make([]byte, size)}
}

func (p *Page) ID() PageID { return p.id }

// Address returns the page's byte offset in the data file, satisfying
// wal.Page.
func (p *Page) Address() int64 { return int64(p.id) * int64(len(p.data)) }

// Payload returns the page's current bytes, satisfying wal.Page.
func (p *Page) Payload() []byte {
	p.latch.RLock()
	defer p.latch.RUnlock()
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out
}

func (p *Page) SetData(data []byte) {
	p.latch.Lock()
	defer p.latch.Unlock()
	copy(p.data, data)
	p.isDirty = true
}

func (p *Page) IsDirty() bool {
	p.latch.RLock()
	defer p.latch.RUnlock()
	return p.isDirty
}

// Pager owns the data file and reads/writes whole pages to it. It
// implements wal.Pager, so the Recovery Engine can replay WRITE and
// OVERWRITE entries directly against it.
type Pager struct {
	mu       sync.Mutex
	fs       afero.Fs
	path     string
	file     afero.File
	pageSize int
	numPages PageID
}

// Open opens (creating if necessary) the data file at path for paging
// with the given fixed page size.
func Open(fs afero.Fs, path string, pageSize int) (*Pager, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("pager: opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pager: stating %s: %w", path, err)
	}
	return &Pager{
		fs:       fs,
		path:     path,
		file:     f,
		pageSize: pageSize,
		numPages: PageID(info.Size() / int64(pageSize)),
	}, nil
}

func (p *Pager) Close() error { return p.file.Close() }

// PageSize satisfies wal.Pager.
func (p *Pager) PageSize() int { return p.pageSize }

// FsyncDataFile satisfies wal.Pager: it is the final durability fence
// the recovery engine issues once redo and undo have both completed.
func (p *Pager) FsyncDataFile() error {
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("pager: fsync %s: %w", p.path, err)
	}
	return nil
}

// WritePageAt satisfies wal.Pager: it writes data directly to the data
// file at the given byte offset, used by redo and undo to restore
// images without going through the in-memory Page at all.
func (p *Pager) WritePageAt(offset int64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("pager: writing %s at %d: %w", p.path, offset, err)
	}
	return nil
}

// AllocatePage reserves the next page ID and returns a zeroed in-memory
// page for it. It does not write to the data file; the file grows when
// the page is first written.
func (p *Pager) AllocatePage() *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.numPages
	p.numPages++
	return newPage(id, p.pageSize)
}

// FetchPage reads a page's current on-disk contents into memory. It
// does not pin or cache it — this pager has no buffer pool. Bytes of the
// page that lie past the end of the data file read as zeros.
func (p *Pager) FetchPage(id PageID) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pg := newPage(id, p.pageSize)
	_, err := p.file.ReadAt(pg.data, int64(id)*int64(p.pageSize))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("pager: reading page %d of %s: %w", id, p.path, err)
	}
	return pg, nil
}

// MutatePage journals the page's before-image through the write-ahead
// log (once per transaction per page — AddPageBefore is itself
// idempotent about that), applies mutate to a private copy, and leaves
// the page dirty for a later FlushPage.
func (p *Pager) MutatePage(log *wal.Log, txnID wal.TxnID, page *Page, mutate func(data []byte)) error {
	if _, err := log.AddPageBefore(txnID, page); err != nil {
		return err
	}
	data := page.Payload()
	mutate(data)
	page.SetData(data)
	return nil
}

// FlushPage writes a dirty page back to the data file, journaling its
// after-image with a WRITE entry followed by an advisory FLUSH_PAGE
// entry.
func (p *Pager) FlushPage(log *wal.Log, txnID wal.TxnID, page *Page) error {
	if _, err := log.AppendWrite(txnID, page.Address(), page.Payload()); err != nil {
		return err
	}
	if err := p.WritePageAt(page.Address(), page.Payload()); err != nil {
		return err
	}
	if _, err := log.AppendFlushPage(page.Address()); err != nil {
		return err
	}
	page.latch.Lock()
	page.isDirty = false
	page.latch.Unlock()
	return nil
}
