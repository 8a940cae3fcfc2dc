// Package filemap implements File Mapping (§4.1): a bijection between open
// file paths and integer file ids, plus raw page-sized I/O on top of it.
package filemap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/latticedb/lattice/logger"
	"github.com/latticedb/lattice/server/innodb/basic"
)

// PageEvictor lets File Mapping ask whatever owns the buffer pool to write
// back and drop a file's cached pages before the file is unmapped. Declared
// here (not in buffer_pool) so the two packages don't need to import each
// other — buffer_pool.BufferPool satisfies this interface structurally.
type PageEvictor interface {
	EvictFile(fileID uint32) error
	PurgeFile(fileID uint32)
}

// FileMapper is the process-wide file-id registry. One instance is owned by
// the engine context and shared by every component that needs raw page I/O.
type FileMapper struct {
	tempDir string
	nextID  basic.FileID
	byPath  map[string]basic.FileID
	files   map[basic.FileID]*os.File
	paths   map[basic.FileID]string
	tempSeq int
	evictor PageEvictor
}

// New creates a FileMapper rooted at tempDir for CreateTemp.
func New(tempDir string) *FileMapper {
	return &FileMapper{
		tempDir: tempDir,
		byPath:  make(map[string]basic.FileID),
		files:   make(map[basic.FileID]*os.File),
		paths:   make(map[basic.FileID]string),
	}
}

// SetEvictor wires the buffer pool this mapper's pages live in. Must be
// called before Close/Purge on any file that has been read through the pool.
func (fm *FileMapper) SetEvictor(e PageEvictor) { fm.evictor = e }

// Create creates an empty file at path if one is not already present.
func (fm *FileMapper) Create(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "filemap: create parent dir")
		}
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrap(err, "filemap: create")
	}
	return f.Close()
}

// Open opens path read/write and returns a stable id. Reopening an
// already-open path returns the same id.
func (fm *FileMapper) Open(path string) (basic.FileID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, errors.Wrap(err, "filemap: resolve path")
	}
	if id, ok := fm.byPath[abs]; ok {
		return id, nil
	}
	if err := fm.Create(abs); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(abs, os.O_RDWR, 0o644)
	if err != nil {
		return 0, errors.Wrap(err, "filemap: open")
	}
	fm.nextID++
	id := fm.nextID
	fm.byPath[abs] = id
	fm.files[id] = f
	fm.paths[id] = abs
	return id, nil
}

// CreateTemp creates a uniquely named temp file and returns its id.
func (fm *FileMapper) CreateTemp() (basic.FileID, error) {
	fm.tempSeq++
	path := filepath.Join(fm.tempDir, fmt.Sprintf("spill-%d-%d.tmp", os.Getpid(), fm.tempSeq))
	return fm.Open(path)
}

// Close flushes (via the registered evictor) and unmaps a persistent file.
func (fm *FileMapper) Close(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "filemap: resolve path")
	}
	id, ok := fm.byPath[abs]
	if !ok {
		return nil
	}
	return fm.closeID(id, abs, true)
}

// CloseTemp unmaps a temp file created by CreateTemp and removes it from
// disk, since temp files never outlive the component that spilled to them.
func (fm *FileMapper) CloseTemp(id basic.FileID) error {
	path, ok := fm.paths[id]
	if !ok {
		return nil
	}
	if err := fm.closeID(id, path, false); err != nil {
		return err
	}
	return os.Remove(path)
}

func (fm *FileMapper) closeID(id basic.FileID, path string, writeBack bool) error {
	if fm.evictor != nil {
		if writeBack {
			if err := fm.evictor.EvictFile(uint32(id)); err != nil {
				return err
			}
		} else {
			fm.evictor.PurgeFile(uint32(id))
		}
	}
	if f, ok := fm.files[id]; ok {
		if err := f.Close(); err != nil {
			return errors.Wrap(err, "filemap: close")
		}
	}
	delete(fm.files, id)
	delete(fm.paths, id)
	delete(fm.byPath, path)
	return nil
}

// Purge removes path from disk and drops any cached pages without writing
// them back.
func (fm *FileMapper) Purge(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "filemap: resolve path")
	}
	if id, ok := fm.byPath[abs]; ok {
		if fm.evictor != nil {
			fm.evictor.PurgeFile(uint32(id))
		}
		if f, ok := fm.files[id]; ok {
			_ = f.Close()
		}
		delete(fm.files, id)
		delete(fm.paths, id)
		delete(fm.byPath, abs)
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "filemap: purge")
	}
	return nil
}

// ReadPage performs unbuffered 8 KiB I/O at offset page_number*PageSize.
// Reading past the current end of file yields a zero-filled page rather
// than an error — a page that was allocated logically but never flushed
// reads back as empty, which is the state a fresh page should have anyway.
func (fm *FileMapper) ReadPage(loc basic.PageLocator, dst []byte) error {
	f, ok := fm.files[loc.FileID]
	if !ok {
		return errors.Wrapf(basic.ErrIOError, "filemap: read unknown file id %d", loc.FileID)
	}
	off := int64(loc.PageNo) * basic.PageSize
	n, err := f.ReadAt(dst[:basic.PageSize], off)
	if err != nil && n == 0 {
		for i := range dst[:basic.PageSize] {
			dst[i] = 0
		}
		return nil
	}
	if err != nil && n < basic.PageSize {
		for i := n; i < basic.PageSize; i++ {
			dst[i] = 0
		}
	}
	return nil
}

// WritePage performs unbuffered 8 KiB I/O at offset page_number*PageSize,
// growing the file as needed.
func (fm *FileMapper) WritePage(loc basic.PageLocator, src []byte) error {
	f, ok := fm.files[loc.FileID]
	if !ok {
		return errors.Wrapf(basic.ErrIOError, "filemap: write unknown file id %d", loc.FileID)
	}
	off := int64(loc.PageNo) * basic.PageSize
	if _, err := f.WriteAt(src[:basic.PageSize], off); err != nil {
		return errors.Wrap(err, "filemap: write page")
	}
	return nil
}

// CloseAll is the cooperative-shutdown hook (§5): closes every mapping
// without further write-back (callers are expected to have flushed the
// buffer pool already).
func (fm *FileMapper) CloseAll() {
	for id, f := range fm.files {
		if err := f.Close(); err != nil {
			logger.Debugf("filemap: close on shutdown failed for id %d: %v", id, err)
		}
	}
	fm.files = make(map[basic.FileID]*os.File)
	fm.byPath = make(map[string]basic.FileID)
	fm.paths = make(map[basic.FileID]string)
}
