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

// Package index models the §9 "virtual dispatch over indexes" design
// note as a tagged variant, Kind, selecting between concrete Index
// implementations at CREATE INDEX time. This mirrors the teacher's
// sorted.KeyValue constructor registry (pkg/sorted/kv.go): a small
// interface plus a name-keyed registry of constructors, rather than
// an interface embedding or a type switch spread across callers.
package index

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned by Index methods an implementation
// does not support — e.g. Range on a Hash index — the same signal
// the teacher's blobserver.ErrNotImplemented gives callers that probe
// for optional capabilities.
var ErrNotImplemented = errors.New("index: not implemented")

// Kind selects an index implementation.
type Kind int

const (
	// BTree is the order-FANOUT B+-tree (§4.4). Used for every
	// primary-key index.
	BTree Kind = iota
	// Hash is an optional in-memory hash-table variant (§9: "Hash is
	// optional for a first implementation").
	Hash
)

func (k Kind) String() string {
	switch k {
	case BTree:
		return "btree"
	case Hash:
		return "hash"
	default:
		return "unknown"
	}
}

// Entry is one (key, record pointer) pair.
type Entry struct {
	Key int32
	Ptr int64
}

// Index is the common interface every index kind satisfies: point
// search and insert (used by every index), ordered range (B+-tree
// only — a Hash index returns NotImplemented), and delete with full
// rebalancing where the underlying structure supports it.
type Index interface {
	Search(key int32) (ptr int64, found bool, err error)
	Insert(key int32, ptr int64) error
	Range(lo, hi int32) ([]Entry, error)
	Delete(key int32) error
	Close() error
}

// Params bundles the arguments every index constructor needs.
type Params struct {
	Path     string
	PageSize int
	Fanout   int
	Unique   bool // true for a primary-key index
}

type ctorPair struct {
	create func(Params) (Index, error)
	open   func(Params) (Index, error)
}

var registry = make(map[Kind]ctorPair)

// Register adds a constructor pair for kind. Called from each
// implementation package's init(), the same pattern as
// sorted.RegisterKeyValue.
func Register(kind Kind, create, open func(Params) (Index, error)) {
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("index: duplicate registration of kind %v", kind))
	}
	registry[kind] = ctorPair{create: create, open: open}
}

// Create makes a new index file of the given kind.
func Create(kind Kind, p Params) (Index, error) {
	c, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("index: unregistered kind %v", kind)
	}
	return c.create(p)
}

// Open opens an existing index file of the given kind.
func Open(kind Kind, p Params) (Index, error) {
	c, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("index: unregistered kind %v", kind)
	}
	return c.open(p)
}
