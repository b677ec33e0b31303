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

// Package btree implements the order-FANOUT B+-tree index (§4.4),
// persisted one node per page in the same fixed-size page format as
// the heap store. The tree never caches nodes across calls: every
// descent re-reads each node from the page file by page number, so no
// in-memory cycle can form through parent pointers (§9).
package btree

import (
	"encoding/binary"
	"sync"

	"relstore/internal/storeerr"
	"relstore/pkg/pagefile"
)

// Entry is one (key, record pointer) pair, as returned by Range.
type Entry struct {
	Key int32
	Ptr int64
}

// Tree is a single index file: one B+-tree of order Fanout.
type Tree struct {
	mu       sync.Mutex
	pf       *pagefile.File
	fanout   int
	pageSize int
	unique   bool // primary-key indexes reject duplicate keys
}

// Create makes a new, empty index file at path with a single empty
// root leaf.
func Create(path string, pageSize, fanout int, unique bool) (*Tree, error) {
	pf, err := pagefile.Create(path, pageSize, 8)
	if err != nil {
		return nil, storeerr.New(storeerr.IOError, "btree", "create "+path, err)
	}
	t := &Tree{pf: pf, fanout: fanout, pageSize: pageSize, unique: unique}
	root := &node{isLeaf: true, parent: noPage, nextLeaf: noPage}
	rootNo, err := t.appendNode(root)
	if err != nil {
		pf.Close()
		return nil, err
	}
	if err := t.setRoot(rootNo); err != nil {
		pf.Close()
		return nil, err
	}
	return t, nil
}

// Open opens an existing index file.
func Open(path string, pageSize, fanout int, unique bool) (*Tree, error) {
	pf, err := pagefile.Open(path, pageSize, 8)
	if err != nil {
		return nil, storeerr.New(storeerr.IOError, "btree", "open "+path, err)
	}
	return &Tree{pf: pf, fanout: fanout, pageSize: pageSize, unique: unique}, nil
}

func (t *Tree) Close() error { return t.pf.Close() }

func (t *Tree) root() (int64, error) {
	hdr, err := t.pf.ReadHeader()
	if err != nil {
		return 0, storeerr.New(storeerr.IOError, "btree", "reading root header", err)
	}
	return int64(binary.LittleEndian.Uint64(hdr)), nil
}

// setRoot writes the new root page number. Callers must have already
// written and flushed the page it references (pagefile.WritePage and
// AppendPage both fsync), satisfying the ordering guarantee in §4.4:
// the header update always happens after the page it points to is
// durable.
func (t *Tree) setRoot(pageNo int64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(pageNo))
	if err := t.pf.WriteHeader(buf); err != nil {
		return storeerr.New(storeerr.IOError, "btree", "writing root header", err)
	}
	return nil
}

func (t *Tree) readNode(pageNo int64) (*node, error) {
	page, err := t.pf.ReadPage(pageNo)
	if err != nil {
		return nil, storeerr.New(storeerr.IOError, "btree", "reading node page", err)
	}
	return decodeNode(page, t.fanout), nil
}

func (t *Tree) writeNode(pageNo int64, n *node) error {
	page := encodeNode(n, t.pageSize, t.fanout)
	if err := t.pf.WritePage(pageNo, page); err != nil {
		return storeerr.New(storeerr.IOError, "btree", "writing node page", err)
	}
	return nil
}

func (t *Tree) appendNode(n *node) (int64, error) {
	page := encodeNode(n, t.pageSize, t.fanout)
	pageNo, err := t.pf.AppendPage(page)
	if err != nil {
		return 0, storeerr.New(storeerr.IOError, "btree", "appending node page", err)
	}
	return pageNo, nil
}

// childIndex returns the index i such that key < keys[i], the
// smallest such i, or len(keys) if key is >= every key (§4.4 search).
func childIndex(keys []int32, key int32) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if key < keys[mid] {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// pathStep records one internal node visited while descending to a
// leaf, so inserts and deletes can propagate structural changes back
// up without relying on stored parent pointers.
type pathStep struct {
	pageNo   int64
	n        *node
	childIdx int // index within n.ptrs of the child we descended into
}

// descend walks from the root to the leaf that would contain key,
// returning the path of internal nodes visited and the leaf reached.
func (t *Tree) descend(key int32) (path []pathStep, leafNo int64, leaf *node, err error) {
	pageNo, err := t.root()
	if err != nil {
		return nil, 0, nil, err
	}
	for {
		n, err := t.readNode(pageNo)
		if err != nil {
			return nil, 0, nil, err
		}
		if n.isLeaf {
			return path, pageNo, n, nil
		}
		idx := childIndex(n.keys, key)
		path = append(path, pathStep{pageNo: pageNo, n: n, childIdx: idx})
		pageNo = n.ptrs[idx]
	}
}

// Search returns the record pointer for key, or found=false.
func (t *Tree) Search(key int32) (ptr int64, found bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _, leaf, err := t.descend(key)
	if err != nil {
		return 0, false, err
	}
	idx := lowerBound(leaf.keys, key)
	if idx < len(leaf.keys) && leaf.keys[idx] == key {
		return leaf.ptrs[idx], true, nil
	}
	return 0, false, nil
}

func lowerBound(keys []int32, key int32) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func upperBound(keys []int32, key int32) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Range returns every entry with lo <= key <= hi, walking the leaf
// chain via next_leaf (§4.4 range).
func (t *Tree) Range(lo, hi int32) ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, leafNo, leaf, err := t.descend(lo)
	if err != nil {
		return nil, err
	}
	var out []Entry
	idx := lowerBound(leaf.keys, lo)
	for {
		for ; idx < len(leaf.keys); idx++ {
			if leaf.keys[idx] > hi {
				return out, nil
			}
			out = append(out, Entry{Key: leaf.keys[idx], Ptr: leaf.ptrs[idx]})
		}
		if leaf.nextLeaf == noPage {
			return out, nil
		}
		leafNo = leaf.nextLeaf
		leaf, err = t.readNode(leafNo)
		if err != nil {
			return nil, err
		}
		idx = 0
	}
}
