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

// Package facade implements the Database Facade (§4.9): the sole
// public entry point, composing the catalog, lock manager,
// transaction manager, and executor. Every mutation acquires the
// right lock through the transaction manager; a caller that does not
// explicitly Begin gets a one-statement implicit transaction.
package facade

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"relstore/internal/config"
	"relstore/internal/storeerr"
	"relstore/pkg/catalog"
	"relstore/pkg/exec"
	"relstore/pkg/heap"
	"relstore/pkg/index"

	_ "relstore/pkg/index/btreeidx"
	_ "relstore/pkg/index/hashidx"

	"relstore/pkg/lockmgr"
	"relstore/pkg/txn"
)

var logger = log.New(os.Stderr, "facade: ", log.LstdFlags)

// catalogResource is the literal lock-table resource name DDL
// serializes on, per §4.5: "concurrent DDL is serialized externally
// by taking an exclusive lock on the literal resource '__catalog__'
// before any add/remove."
const catalogResource = "__catalog__"

// Facade is one open database.
type Facade struct {
	mu     sync.Mutex
	cfg    config.Config
	cat    *catalog.Catalog
	locks  *lockmgr.Manager
	txns   *txn.Manager
	engine *exec.Engine
	txlog  *os.File
}

// Create initializes a brand-new database directory and opens it.
func Create(cfg config.Config) (*Facade, error) {
	cat, err := catalog.Create(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return newFacade(cfg, cat)
}

// Open opens an existing database directory, reopening every
// registered table's heap and indexes.
func Open(cfg config.Config) (*Facade, error) {
	cat, err := catalog.Load(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	f, err := newFacade(cfg, cat)
	if err != nil {
		return nil, err
	}
	for _, name := range cat.ListTables() {
		s, _ := cat.GetSchema(name)
		if err := f.openTable(s); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func newFacade(cfg config.Config, cat *catalog.Catalog) (*Facade, error) {
	f := &Facade{
		cfg:    cfg,
		cat:    cat,
		locks:  lockmgr.New(cfg.LockRetries, time.Duration(cfg.LockTimeoutMS)*time.Millisecond),
		engine: exec.NewEngine(cfg.EnforceForeignKeys),
	}
	f.txns = txn.NewManager(f.locks, f.engine)

	logPath := filepath.Join(cfg.DataDir, "transactions.log")
	lf, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, storeerr.New(storeerr.IOError, "facade", "opening transaction log", err)
	}
	f.txlog = lf
	return f, nil
}

func (f *Facade) openTable(s *catalog.Schema) error {
	h, err := heap.Open(s.HeapPath, f.cfg.PageSize)
	if err != nil {
		return err
	}
	t := &exec.Table{
		Schema:      s,
		Heap:        h,
		Indexes:     make(map[string]index.Index),
		IndexKinds:  make(map[string]index.Kind),
		IndexParams: make(map[string]index.Params),
	}
	for col, path := range s.IndexPaths {
		ci := s.ColumnIndex(col)
		unique := ci == s.PrimaryKeyColumn()
		kind := index.Kind(s.IndexKinds[col])
		params := index.Params{Path: path, PageSize: f.cfg.PageSize, Fanout: f.cfg.Fanout, Unique: unique}
		idx, err := index.Open(kind, params)
		if err != nil {
			return err
		}
		t.Indexes[col] = idx
		t.IndexKinds[col] = kind
		t.IndexParams[col] = params
	}
	f.engine.Register(t)
	return nil
}

// Close persists the catalog and releases the transaction log.
func (f *Facade) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.cat.Close(); err != nil {
		return err
	}
	return f.txlog.Close()
}

func (f *Facade) logLine(txID lockmgr.TxnID, verb, table, args string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.txlog, "%d %d %s %s %s\n", time.Now().Unix(), txID, verb, table, args)
}

// Engine exposes the underlying executor, e.g. so a caller building a
// projection or ORDER BY on top of Select/SelectWhere's raw rows can
// look up a table's schema without reaching into the catalog itself.
func (f *Facade) Engine() *exec.Engine { return f.engine }

// Begin starts an explicit transaction.
func (f *Facade) Begin() *txn.Txn { return f.txns.Begin() }

// Commit ends tx successfully.
func (f *Facade) Commit(tx *txn.Txn) error { return f.txns.Commit(tx) }

// Abort rolls tx back.
func (f *Facade) Abort(tx *txn.Txn) error { return f.txns.Abort(tx) }

// withTxn runs fn under tx if given, otherwise opens, commits (or
// aborts on error), and closes an implicit one-statement transaction
// (§4.9 "if the caller did not begin a transaction, the facade opens
// an implicit one-statement transaction").
//
// §7 draws a line the implicit/explicit split alone doesn't capture:
// "a partial mutation that fails after any side effect triggers an
// implicit abort of the enclosing transaction (explicit or
// implicit)" — but a clean failure caught before any side effect
// (DuplicateKey, SchemaViolation) "remain[s] ACTIVE" when the caller
// holds an explicit transaction, so a retry on the same txn is still
// possible. fn is required to call tx.Record only once the side
// effect it guards has durably landed, so comparing the undo length
// before and after fn runs is how partial is told apart from clean.
func (f *Facade) withTxn(tx *txn.Txn, resource string, mode lockmgr.Mode, fn func(*txn.Txn) error) error {
	implicit := tx == nil
	if implicit {
		tx = f.txns.Begin()
	}
	if err := tx.RequireActive(); err != nil {
		return err
	}
	if err := f.locks.Acquire(tx.ID(), resource, mode); err != nil {
		f.txns.Abort(tx)
		return err
	}
	before := tx.UndoLen()
	err := fn(tx)
	if err != nil {
		partial := tx.UndoLen() > before
		if implicit || partial {
			f.txns.Abort(tx)
		}
		return err
	}
	if implicit {
		return f.txns.Commit(tx)
	}
	return nil
}
