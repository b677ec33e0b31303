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

// Package heap implements the append-style record file (§4.3): an
// unordered sequence of length-prefixed records packed into fixed-size
// pages, with sequential scan and a linear point get on column 0.
// Records never cross a page boundary — the writer pads the remainder
// of a page with zero bytes (read back as record.ErrPadding) when the
// next record would not fit.
package heap

import (
	"errors"
	"log"
	"os"
	"strconv"

	"relstore/internal/storeerr"
	"relstore/pkg/pagefile"
	"relstore/pkg/record"
)

var logger = log.New(os.Stderr, "heap: ", log.LstdFlags)

// Heap is a single table's record file.
type Heap struct {
	path     string
	pageSize int

	pf        *pagefile.File
	pageCount int64
	curPageNo int64  // page number of curPage; -1 if the heap has no pages yet
	curPage   []byte // in-memory copy of the last (possibly partial) page
	curOff    int    // offset of the first free byte in curPage
}

// Create makes a new, empty heap file at path.
func Create(path string, pageSize int) (*Heap, error) {
	pf, err := pagefile.Create(path, pageSize, 0)
	if err != nil {
		return nil, storeerr.New(storeerr.IOError, "heap", "create "+path, err)
	}
	h := &Heap{path: path, pageSize: pageSize, pf: pf, curPageNo: -1}
	return h, nil
}

// Open opens an existing heap file at path, positioning the internal
// write cursor at the end of its last page.
func Open(path string, pageSize int) (*Heap, error) {
	pf, err := pagefile.Open(path, pageSize, 0)
	if err != nil {
		return nil, storeerr.New(storeerr.IOError, "heap", "open "+path, err)
	}
	h := &Heap{path: path, pageSize: pageSize, pf: pf, curPageNo: -1}
	n, err := pf.PageCount()
	if err != nil {
		pf.Close()
		return nil, storeerr.New(storeerr.IOError, "heap", "stat "+path, err)
	}
	h.pageCount = n
	if n > 0 {
		last := n - 1
		page, err := pf.ReadPage(last)
		if err != nil {
			pf.Close()
			return nil, storeerr.New(storeerr.IOError, "heap", "read last page", err)
		}
		off, err := liveEnd(page)
		if err != nil {
			pf.Close()
			return nil, err
		}
		h.curPageNo, h.curPage, h.curOff = last, page, off
	}
	return h, nil
}

// liveEnd walks the records in a single page's byte buffer and
// returns the offset of the first padding byte (or len(page) if the
// page is entirely live records with no trailing room check failed).
func liveEnd(page []byte) (int, error) {
	off := 0
	for off < len(page) {
		_, consumed, err := record.Deserialize(page[off:])
		if err != nil {
			if errors.Is(err, record.ErrPadding) {
				return off, nil
			}
			return 0, storeerr.New(storeerr.CorruptData, "heap", "scanning page for write cursor", err)
		}
		off += consumed
	}
	return off, nil
}

// Close flushes and releases the underlying page file.
func (h *Heap) Close() error {
	return h.pf.Close()
}

// Path returns the heap file's path.
func (h *Heap) Path() string { return h.path }

// ReadAt fetches the record whose total_size prefix begins at the
// given absolute byte offset — the record_pointer an index entry
// stores (§3). It reads only the one page the offset falls in.
func (h *Heap) ReadAt(offset int64) ([]string, error) {
	pageNo := offset / int64(h.pageSize)
	within := int(offset % int64(h.pageSize))
	page, err := h.pf.ReadPage(pageNo)
	if err != nil {
		return nil, storeerr.New(storeerr.IOError, "heap", "reading page for point lookup", err)
	}
	raw, _, err := record.Deserialize(page[within:])
	if err != nil {
		return nil, storeerr.New(storeerr.CorruptData, "heap", "decoding record at offset", err)
	}
	return raw, nil
}

// Insert appends raw (already-textual column values) to the heap and
// returns the absolute byte offset of its total_size prefix.
func (h *Heap) Insert(raw []string) (int64, error) {
	rec := record.Serialize(raw)
	if len(rec) > h.pageSize {
		return 0, storeerr.New(storeerr.IOError, "heap", "record larger than page size", nil)
	}
	if h.curPageNo < 0 {
		if err := h.openFreshPage(); err != nil {
			return 0, err
		}
	}
	if h.curOff+len(rec) > h.pageSize {
		if err := h.openFreshPage(); err != nil {
			return 0, err
		}
	}
	copy(h.curPage[h.curOff:], rec)
	offset := h.curPageNo*int64(h.pageSize) + int64(h.curOff)
	h.curOff += len(rec)
	if err := h.pf.WritePage(h.curPageNo, h.curPage); err != nil {
		return 0, storeerr.New(storeerr.IOError, "heap", "writing page", err)
	}
	return offset, nil
}

func (h *Heap) openFreshPage() error {
	page := make([]byte, h.pageSize)
	pageNo, err := h.pf.AppendPage(page)
	if err != nil {
		return storeerr.New(storeerr.IOError, "heap", "appending page", err)
	}
	h.curPageNo, h.curPage, h.curOff = pageNo, page, 0
	h.pageCount = pageNo + 1
	return nil
}

// Iterator walks a heap's records in physical order.
type Iterator struct {
	h         *Heap
	pageNo    int64
	page      []byte
	off       int
	cur       []string
	curOffset int64
	err       error
	done      bool
}

// Scan returns an iterator over every live record, in physical order.
func (h *Heap) Scan() *Iterator {
	return &Iterator{h: h, pageNo: 0}
}

// Next advances the iterator. It returns false at end-of-file or on
// error (check Err).
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	for {
		if it.page == nil {
			if it.pageNo >= it.h.pageCount {
				it.done = true
				return false
			}
			page, err := it.h.pf.ReadPage(it.pageNo)
			if err != nil {
				it.err = storeerr.New(storeerr.IOError, "heap", "reading page during scan", err)
				return false
			}
			it.page, it.off = page, 0
		}
		if it.off >= len(it.page) {
			it.page = nil
			it.pageNo++
			continue
		}
		raw, consumed, err := record.Deserialize(it.page[it.off:])
		if err != nil {
			if errors.Is(err, record.ErrPadding) {
				it.page = nil
				it.pageNo++
				continue
			}
			it.err = storeerr.New(storeerr.CorruptData, "heap", "scanning record", err)
			return false
		}
		it.curOffset = it.pageNo*int64(it.h.pageSize) + int64(it.off)
		it.cur = raw
		it.off += consumed
		return true
	}
}

// Record returns the raw textual values of the current record. Valid
// only after Next returns true.
func (it *Iterator) Record() []string { return it.cur }

// Offset returns the absolute byte offset of the current record's
// total_size prefix.
func (it *Iterator) Offset() int64 { return it.curOffset }

// Err returns the first error encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases iterator resources. Heap.Scan's iterator holds no
// resources beyond its parent Heap, so Close is a no-op provided for
// symmetry with other iterator APIs in this module.
func (it *Iterator) Close() error { return nil }

// PointGetByKey walks the file and returns the first record whose
// column 0 parses as an integer equal to key. It is not an index
// operation and is intended only for tiny tables (§4.3).
func (h *Heap) PointGetByKey(key int32) (raw []string, offset int64, found bool, err error) {
	it := h.Scan()
	for it.Next() {
		if len(it.Record()) == 0 {
			continue
		}
		n, perr := strconv.ParseInt(it.Record()[0], 10, 32)
		if perr != nil {
			continue
		}
		if int32(n) == key {
			return it.Record(), it.Offset(), true, nil
		}
	}
	if it.Err() != nil {
		return nil, 0, false, it.Err()
	}
	return nil, 0, false, nil
}

// Rewrite atomically replaces the heap's contents with tuples,
// preserving in-place record ordering/sequencing the way UPDATE and
// DELETE require: it writes into path+".tmp", closes the current
// file, unlinks the original, and renames the temp file into place.
func (h *Heap) Rewrite(tuples [][]string) error {
	tmpPath := h.path + ".tmp"
	os.Remove(tmpPath)
	os.Remove(tmpPath + ".lock")
	tmp, err := Create(tmpPath, h.pageSize)
	if err != nil {
		return err
	}
	for _, raw := range tuples {
		if _, err := tmp.Insert(raw); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			os.Remove(tmpPath + ".lock")
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return storeerr.New(storeerr.IOError, "heap", "closing rewritten file", err)
	}
	os.Remove(tmpPath + ".lock")

	if err := h.pf.Close(); err != nil {
		logger.Printf("closing %s before rewrite: %v", h.path, err)
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return storeerr.New(storeerr.IOError, "heap", "removing original file", err)
	}
	os.Remove(h.path + ".lock")
	if err := os.Rename(tmpPath, h.path); err != nil {
		return storeerr.New(storeerr.IOError, "heap", "renaming rewritten file into place", err)
	}

	reopened, err := Open(h.path, h.pageSize)
	if err != nil {
		return storeerr.New(storeerr.IOError, "heap", "reopening rewritten file", err)
	}
	*h = *reopened
	return nil
}
