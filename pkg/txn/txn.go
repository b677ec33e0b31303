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

// Package txn implements the transaction manager (§4.7): a monotone
// id allocator, an ACTIVE/COMMITTED/ABORTED state machine, and an
// undo buffer replayed in reverse on abort. It is the layer between
// the facade and the per-table heap/index pair, routing every
// mutation through the lock manager first.
package txn

import (
	"sync"

	"relstore/internal/storeerr"
	"relstore/pkg/lockmgr"
)

// State is a transaction's position in the §4.7 state machine.
type State int

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// UndoOp names which heap/index operation an undo entry reverses.
type UndoOp int

const (
	// UndoInsert reverses an insert: delete the tuple whose primary
	// key is Key from Table's heap (and its index entries).
	UndoInsert UndoOp = iota
	// UndoDelete reverses a delete: re-insert Tuple into Table's heap
	// (and its index entries).
	UndoDelete
	// UndoUpdate reverses an update: rewrite the tuple whose primary
	// key is Key back to Tuple, the pre-update values.
	UndoUpdate
)

// UndoEntry is one reversible step recorded by a mutation. Entries
// are replayed in strict reverse order on abort (§5 "Cancellation").
//
// Replay matches by Key (the tuple's primary-key value), not by a
// heap offset: every Delete/Update does a full Heap.Rewrite that
// reassigns every surviving record's offset, so an offset captured
// before a later rewrite would no longer point at the right row once
// replay runs. This is why undo only works on tables with a declared
// PRIMARY KEY column (see pkg/exec's deleteAt/rewriteAt).
type UndoEntry struct {
	Op    UndoOp
	Table string
	Key   int32    // primary key of the affected tuple
	Tuple []string // original raw values, for UndoDelete/UndoUpdate
}

// Txn is one in-flight or terminated transaction.
type Txn struct {
	mu    sync.Mutex
	id    lockmgr.TxnID
	state State
	undo  []UndoEntry
}

func (t *Txn) ID() lockmgr.TxnID { return t.id }

func (t *Txn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RequireActive fails with InvalidTxnState unless the transaction is
// still ACTIVE (§4.7).
func (t *Txn) RequireActive() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return storeerr.New(storeerr.InvalidTxnState, "txn", "transaction is "+t.state.String(), nil)
	}
	return nil
}

// Record appends an undo entry. Callers append only after the
// forward operation has durably succeeded, so abort never replays a
// step that never happened.
func (t *Txn) Record(e UndoEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, e)
}

// UndoLen reports how many undo entries are currently buffered. The
// facade compares this before and after a statement to tell a clean
// failure (nothing recorded, safe to leave the transaction ACTIVE)
// from a partial one (a side effect already landed, per §7 must
// force an abort even on an explicit transaction).
func (t *Txn) UndoLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.undo)
}

// Manager owns the transaction table and the shared lock manager
// every Txn's mutations route through.
type Manager struct {
	mu      sync.Mutex
	nextID  lockmgr.TxnID
	active  map[lockmgr.TxnID]*Txn
	locks   *lockmgr.Manager
	undoer  Undoer
}

// Undoer replays a single undo entry against the underlying storage.
// pkg/exec implements this, since only it holds live Heap/Index
// handles per table.
type Undoer interface {
	Undo(e UndoEntry) error
}

// NewManager creates a transaction manager. locks is the lock manager
// every Begin'd transaction's Acquire calls route through; undoer
// replays undo entries on Abort.
func NewManager(locks *lockmgr.Manager, undoer Undoer) *Manager {
	return &Manager{
		active: make(map[lockmgr.TxnID]*Txn),
		locks:  locks,
		undoer: undoer,
	}
}

// Locks returns the shared lock manager, for callers (pkg/facade)
// that need to call Acquire directly alongside a Txn.
func (m *Manager) Locks() *lockmgr.Manager { return m.locks }

// Begin allocates a new ACTIVE transaction with a monotone id
// starting at 1 (§4.7).
func (m *Manager) Begin() *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := &Txn{id: m.nextID, state: Active}
	m.active[t.id] = t
	return t
}

// Commit releases every lock t holds and discards its undo buffer
// (§4.7).
func (m *Manager) Commit(t *Txn) error {
	t.mu.Lock()
	if t.state != Active {
		st := t.state
		t.mu.Unlock()
		return storeerr.New(storeerr.InvalidTxnState, "txn", "transaction is "+st.String(), nil)
	}
	t.state = Committed
	t.undo = nil
	t.mu.Unlock()

	m.locks.ReleaseAll(t.id)
	m.mu.Lock()
	delete(m.active, t.id)
	m.mu.Unlock()
	return nil
}

// Abort replays t's undo buffer in strict reverse order (DELETE
// undoes INSERT, INSERT undoes DELETE, original-tuple write undoes
// UPDATE), then releases every lock t holds (§4.7). The first undo
// failure is returned, but every remaining entry is still attempted
// so the database is left as close to consistent as the undo log
// allows.
func (m *Manager) Abort(t *Txn) error {
	t.mu.Lock()
	if t.state != Active {
		st := t.state
		t.mu.Unlock()
		return storeerr.New(storeerr.InvalidTxnState, "txn", "transaction is "+st.String(), nil)
	}
	entries := t.undo
	t.state = Aborted
	t.undo = nil
	t.mu.Unlock()

	var firstErr error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := m.undoer.Undo(entries[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.locks.ReleaseAll(t.id)
	m.mu.Lock()
	delete(m.active, t.id)
	m.mu.Unlock()
	return firstErr
}
