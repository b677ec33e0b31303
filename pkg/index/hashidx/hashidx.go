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

// Package hashidx registers the optional "hash" index.Kind (§9: "Hash
// is optional for a first implementation"): an in-memory map guarded
// by a mutex, the same shape as the teacher's mem.go memKeys, fully
// rewritten to disk on every mutation rather than paged — it is a
// development/small-table variant, not the primary-key workhorse.
package hashidx

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"relstore/internal/storeerr"
	"relstore/pkg/index"
)

type hashIndex struct {
	mu     sync.Mutex
	path   string
	unique bool
	m      map[int32][]int64
}

func create(p index.Params) (index.Index, error) {
	h := &hashIndex{path: p.Path, unique: p.Unique, m: make(map[int32][]int64)}
	if err := h.saveLocked(); err != nil {
		return nil, err
	}
	return h, nil
}

func open(p index.Params) (index.Index, error) {
	h := &hashIndex{path: p.Path, unique: p.Unique, m: make(map[int32][]int64)}
	if err := h.load(); err != nil {
		return nil, err
	}
	return h, nil
}

func init() {
	index.Register(index.Hash, create, open)
}

func (h *hashIndex) load() error {
	f, err := os.Open(h.path)
	if err != nil {
		return storeerr.New(storeerr.IOError, "hashidx", "opening "+h.path, err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	for {
		key, ok, err := readLine(r)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		ptr, ok, err := readLine(r)
		if err != nil {
			return err
		}
		if !ok {
			return storeerr.New(storeerr.CorruptData, "hashidx", "truncated entry", nil)
		}
		k, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			return storeerr.New(storeerr.CorruptData, "hashidx", "bad key", err)
		}
		p, err := strconv.ParseInt(ptr, 10, 64)
		if err != nil {
			return storeerr.New(storeerr.CorruptData, "hashidx", "bad pointer", err)
		}
		h.m[int32(k)] = append(h.m[int32(k)], p)
	}
}

func readLine(r *bufio.Reader) (string, bool, error) {
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", false, storeerr.New(storeerr.IOError, "hashidx", "reading line", err)
	}
	if line == "" {
		return "", false, nil
	}
	return strings.TrimSuffix(line, "\n"), true, nil
}

// saveLocked rewrites the whole file, one key/pointer pair per two
// lines, atomically via a temp file + rename — the same replace-the-
// whole-file discipline the heap store's Rewrite uses.
func (h *hashIndex) saveLocked() error {
	tmp := h.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return storeerr.New(storeerr.IOError, "hashidx", "creating temp file", err)
	}
	w := bufio.NewWriter(f)
	for k, ptrs := range h.m {
		for _, p := range ptrs {
			fmt.Fprintf(w, "%d\n%d\n", k, p)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return storeerr.New(storeerr.IOError, "hashidx", "flushing", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return storeerr.New(storeerr.IOError, "hashidx", "syncing", err)
	}
	if err := f.Close(); err != nil {
		return storeerr.New(storeerr.IOError, "hashidx", "closing temp file", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		return storeerr.New(storeerr.IOError, "hashidx", "renaming into place", err)
	}
	return nil
}

func (h *hashIndex) Search(key int32) (int64, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ptrs, ok := h.m[key]
	if !ok || len(ptrs) == 0 {
		return 0, false, nil
	}
	return ptrs[0], true, nil
}

func (h *hashIndex) Insert(key int32, ptr int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unique {
		if existing, ok := h.m[key]; ok && len(existing) > 0 {
			return storeerr.New(storeerr.DuplicateKey, "hashidx", "duplicate primary key", nil)
		}
	}
	h.m[key] = append(h.m[key], ptr)
	return h.saveLocked()
}

func (h *hashIndex) Delete(key int32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ptrs, ok := h.m[key]
	if !ok || len(ptrs) == 0 {
		return storeerr.New(storeerr.NotFound, "hashidx", "key not present", nil)
	}
	if len(ptrs) == 1 {
		delete(h.m, key)
	} else {
		h.m[key] = ptrs[1:]
	}
	return h.saveLocked()
}

// Range is unsupported: a hash table has no order to walk.
func (h *hashIndex) Range(lo, hi int32) ([]index.Entry, error) {
	return nil, index.ErrNotImplemented
}

func (h *hashIndex) Close() error { return nil }
