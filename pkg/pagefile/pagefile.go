/*
Copyright 2024 The Relstore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package pagefile implements the fixed-size page buffer: seek-based
// read/write/append of opaque P-byte pages on a single on-disk file,
// plus an optional small fixed-size header region ahead of page 0
// (used by index files to hold the root-page number). There is no
// buffer pool: every call is one seek plus one read or write, and
// every write is followed by an explicit flush, the same "no caching,
// just flush" posture the teacher's diskpacked storage takes with its
// append-only pack files.
package pagefile

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/gofrs/flock"
)

// File is a page-addressable window onto a single on-disk file. Pages
// are opaque byte slices; parsing their contents belongs to the heap
// or B+-tree codec built on top, never to this package.
type File struct {
	path       string
	pageSize   int
	headerSize int64

	mu     sync.Mutex
	f      *os.File
	lock   *flock.Flock
	closed bool
}

// Create makes a new, empty page file at path with the given page
// size and header size (headerSize may be 0). It fails if a file
// already exists at path.
func Create(path string, pageSize, headerSize int) (*File, error) {
	fl := flock.New(path + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("pagefile: locking %s: %v", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("pagefile: %s is held by another process", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		fl.Unlock()
		return nil, err
	}
	pf := &File{path: path, pageSize: pageSize, headerSize: int64(headerSize), f: f, lock: fl}
	if headerSize > 0 {
		if err := pf.WriteHeader(make([]byte, headerSize)); err != nil {
			pf.Close()
			return nil, err
		}
	}
	return pf, nil
}

// Open opens an existing page file at path. The caller must pass the
// same pageSize and headerSize the file was created with.
func Open(path string, pageSize, headerSize int) (*File, error) {
	fl := flock.New(path + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("pagefile: locking %s: %v", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("pagefile: %s is held by another process", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		fl.Unlock()
		return nil, err
	}
	return &File{path: path, pageSize: pageSize, headerSize: int64(headerSize), f: f, lock: fl}, nil
}

// Close flushes and releases the file and its advisory lock. It is
// safe to call more than once.
func (pf *File) Close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if pf.closed {
		return nil
	}
	pf.closed = true
	err := pf.f.Close()
	if lerr := pf.lock.Unlock(); err == nil {
		err = lerr
	}
	return err
}

func (pf *File) offsetOf(pageNo int64) int64 {
	return pf.headerSize + pageNo*int64(pf.pageSize)
}

// PageCount returns the number of P-byte pages currently stored,
// derived from the file size minus the header region.
func (pf *File) PageCount() (int64, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	fi, err := pf.f.Stat()
	if err != nil {
		return 0, err
	}
	size := fi.Size() - pf.headerSize
	if size < 0 {
		return 0, fmt.Errorf("pagefile: %s shorter than its header", pf.path)
	}
	return size / int64(pf.pageSize), nil
}

// ReadHeader reads the fixed-size header region ahead of page 0.
func (pf *File) ReadHeader() ([]byte, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	buf := make([]byte, pf.headerSize)
	if pf.headerSize == 0 {
		return buf, nil
	}
	if _, err := pf.f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteHeader overwrites the header region and flushes it. Per the
// B+-tree's ordering guarantee, callers must write and flush the page
// a new header points to (e.g. a new root) BEFORE calling WriteHeader,
// so a crash never leaves the header pointing at a nonexistent page.
func (pf *File) WriteHeader(data []byte) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if int64(len(data)) != pf.headerSize {
		return fmt.Errorf("pagefile: header write of %d bytes, want %d", len(data), pf.headerSize)
	}
	if pf.headerSize == 0 {
		return nil
	}
	if _, err := pf.f.WriteAt(data, 0); err != nil {
		return err
	}
	return pf.f.Sync()
}

// ReadPage returns a copy of page pageNo. It fails with io.EOF-wrapped
// error if pageNo is beyond the end of the file.
func (pf *File) ReadPage(pageNo int64) ([]byte, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	buf := make([]byte, pf.pageSize)
	n, err := pf.f.ReadAt(buf, pf.offsetOf(pageNo))
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n < pf.pageSize {
		return nil, fmt.Errorf("pagefile: short read of page %d (%d of %d bytes): %w", pageNo, n, pf.pageSize, io.ErrUnexpectedEOF)
	}
	return buf, nil
}

// WritePage overwrites page pageNo in place and flushes. pageNo must
// already exist (use AppendPage to extend the file); writing beyond
// the current end is not supported, matching the spec's "callers
// always allocate contiguously via append."
func (pf *File) WritePage(pageNo int64, page []byte) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if len(page) != pf.pageSize {
		return fmt.Errorf("pagefile: page write of %d bytes, want %d", len(page), pf.pageSize)
	}
	if _, err := pf.f.WriteAt(page, pf.offsetOf(pageNo)); err != nil {
		return err
	}
	return pf.f.Sync()
}

// AppendPage writes page at the current end of file and returns its
// 0-based page number.
func (pf *File) AppendPage(page []byte) (int64, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if len(page) != pf.pageSize {
		return 0, fmt.Errorf("pagefile: page append of %d bytes, want %d", len(page), pf.pageSize)
	}
	fi, err := pf.f.Stat()
	if err != nil {
		return 0, err
	}
	size := fi.Size() - pf.headerSize
	if size < 0 || size%int64(pf.pageSize) != 0 {
		return 0, fmt.Errorf("pagefile: %s size misaligned with page size", pf.path)
	}
	pageNo := size / int64(pf.pageSize)
	if _, err := pf.f.WriteAt(page, pf.offsetOf(pageNo)); err != nil {
		return 0, err
	}
	if err := pf.f.Sync(); err != nil {
		return 0, err
	}
	return pageNo, nil
}

// Remove closes the file (if open) and deletes it along with its
// lock file from disk. Used by DROP TABLE / DROP INDEX.
func Remove(pf *File) error {
	path := pf.path
	if err := pf.Close(); err != nil {
		log.Printf("pagefile: close on remove %s: %v", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	os.Remove(path + ".lock")
	return nil
}

// PageSize returns the configured page size.
func (pf *File) PageSize() int { return pf.pageSize }
