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

// Package lockmgr implements the per-table lock table and wait-for
// deadlock detector (§4.6). It tracks who holds what the way the
// teacher's syncutil.RWMutexTracker tracks an exclusive holder's
// stack for debugging — here the "holder" is a transaction id, kept
// for real deadlock resolution rather than diagnostics, since a plain
// sync.RWMutex has no way to report who it is blocked behind.
package lockmgr

import (
	"sync"
	"time"

	"relstore/internal/storeerr"
)

// Mode is a lock mode. Shared is compatible with Shared; Exclusive is
// compatible with nothing (§4.6).
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// compatible reports whether a transaction requesting want may join a
// resource already held in the modes given by have (have is ignored
// if want/have include the same holder — callers filter that out
// before calling compatible).
func compatible(want Mode, have []Mode) bool {
	if want == Shared {
		for _, h := range have {
			if h == Exclusive {
				return false
			}
		}
		return true
	}
	return len(have) == 0
}

// TxnID identifies a transaction to the lock manager. The transaction
// manager's monotone txn id (§4.7) is used directly.
type TxnID int64

type holder struct {
	txn  TxnID
	mode Mode
}

type resourceLock struct {
	holders []holder
}

func (r *resourceLock) modes(except TxnID) []Mode {
	var out []Mode
	for _, h := range r.holders {
		if h.txn != except {
			out = append(out, h.mode)
		}
	}
	return out
}

func (r *resourceLock) heldBy(txn TxnID) (Mode, bool) {
	for _, h := range r.holders {
		if h.txn == txn {
			return h.mode, true
		}
	}
	return 0, false
}

// Manager is the process-wide lock table. One Manager is shared by
// every transaction against a given database.
type Manager struct {
	mu       sync.Mutex
	retries  int
	interval time.Duration

	resources map[string]*resourceLock
	// waitFor[a][b] records that txn a is currently blocked behind
	// txn b holding resource in an incompatible mode.
	waitFor map[TxnID]map[TxnID]bool
}

// New creates a lock manager with the given bounded-retry budget
// (retries attempts, interval apart — the nominal values are 10 and
// 100ms per §4.6). Acquire spins via short sleeps rather than
// condition variables on the lock table mutex — §9 notes a condvar
// is an equally faithful option, but the bounded-retry-with-sleep
// form maps directly onto the source's documented contract (N
// attempts, fixed interval) without adding a second wakeup path.
func New(retries int, interval time.Duration) *Manager {
	return &Manager{
		retries:   retries,
		interval:  interval,
		resources: make(map[string]*resourceLock),
		waitFor:   make(map[TxnID]map[TxnID]bool),
	}
}

// Acquire requests mode on resource for txn. If txn already holds at
// least that mode it returns immediately. If the current holder set
// is compatible it grants immediately. Otherwise it retries up to the
// manager's bounded budget, checking for a deadlock cycle between
// attempts; a cycle aborts with storeerr.Deadlock and an exhausted
// budget aborts with storeerr.LockTimeout (§4.6).
func (m *Manager) Acquire(txn TxnID, resource string, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; ; attempt++ {
		r, ok := m.resources[resource]
		if !ok {
			r = &resourceLock{}
			m.resources[resource] = r
		}
		if have, held := r.heldBy(txn); held {
			if have == Exclusive || have == mode {
				return nil
			}
			// Upgrading SHARED -> EXCLUSIVE: treat as a fresh request
			// excluding the txn's own shared hold from the compat check.
		}
		others := r.modes(txn)
		if compatible(mode, others) {
			m.grant(r, txn, mode)
			delete(m.waitFor, txn)
			return nil
		}

		m.recordWait(txn, r)
		if m.hasCycle(txn) {
			delete(m.waitFor, txn)
			return storeerr.New(storeerr.Deadlock, "lockmgr", "cycle detected acquiring "+resource, nil)
		}
		if attempt+1 >= m.retries {
			delete(m.waitFor, txn)
			return storeerr.New(storeerr.LockTimeout, "lockmgr", "timed out acquiring "+resource, nil)
		}

		m.mu.Unlock()
		time.Sleep(m.interval)
		m.mu.Lock()
	}
}

func (m *Manager) grant(r *resourceLock, txn TxnID, mode Mode) {
	r.holders = append(r.holders, holder{txn: txn, mode: mode})
}

// recordWait builds the wait-for edges from txn to every distinct
// holder currently blocking it on resource.
func (m *Manager) recordWait(txn TxnID, r *resourceLock) {
	edges := m.waitFor[txn]
	if edges == nil {
		edges = make(map[TxnID]bool)
		m.waitFor[txn] = edges
	}
	for k := range edges {
		delete(edges, k)
	}
	for _, h := range r.holders {
		if h.txn != txn {
			edges[h.txn] = true
		}
	}
}

// hasCycle runs a BFS from txn over the wait-for graph; a cycle
// exists if the search revisits txn itself (§4.6).
func (m *Manager) hasCycle(txn TxnID) bool {
	visited := map[TxnID]bool{}
	queue := []TxnID{txn}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range m.waitFor[cur] {
			if next == txn {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Release drops txn's hold on resource, if any.
func (m *Manager) Release(txn TxnID, resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[resource]
	if !ok {
		return
	}
	out := r.holders[:0]
	for _, h := range r.holders {
		if h.txn != txn {
			out = append(out, h)
		}
	}
	r.holders = out
}

// ReleaseAll drops every lock txn holds, across all resources. It is
// invoked at commit or abort (§4.6).
func (m *Manager) ReleaseAll(txn TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.resources {
		out := r.holders[:0]
		for _, h := range r.holders {
			if h.txn != txn {
				out = append(out, h)
			}
		}
		r.holders = out
	}
	delete(m.waitFor, txn)
}
