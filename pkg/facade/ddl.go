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

package facade

import (
	"os"
	"path/filepath"

	"relstore/internal/storeerr"
	"relstore/pkg/catalog"
	"relstore/pkg/exec"
	"relstore/pkg/heap"
	"relstore/pkg/index"
	"relstore/pkg/lockmgr"
)

// CreateTable adds a new table: it builds the heap file, a B+-tree
// index on the primary-key column if one is declared, registers the
// schema in the catalog, and opens the table in the executor. DDL is
// serialized externally by an exclusive lock on "__catalog__" rather
// than routed through the undo-buffer transaction machinery (§4.5).
func (f *Facade) CreateTable(name string, columns []catalog.Column) error {
	tx := f.txns.Begin()
	if err := f.locks.Acquire(tx.ID(), catalogResource, lockmgr.Exclusive); err != nil {
		f.txns.Abort(tx)
		return err
	}
	defer f.txns.Commit(tx)

	if f.cat.TableExists(name) {
		return storeerr.New(storeerr.SchemaViolation, "facade", "table already exists: "+name, nil)
	}

	dir := f.cfg.DataDir
	heapPath := filepath.Join(dir, name+".dat")
	h, err := heap.Create(heapPath, f.cfg.PageSize)
	if err != nil {
		return err
	}

	s := &catalog.Schema{
		Name:       name,
		Columns:    columns,
		HeapPath:   heapPath,
		IndexPaths: make(map[string]string),
		IndexKinds: make(map[string]uint8),
	}

	t := &exec.Table{
		Schema:      s,
		Heap:        h,
		Indexes:     make(map[string]index.Index),
		IndexKinds:  make(map[string]index.Kind),
		IndexParams: make(map[string]index.Params),
	}

	if pk := s.PrimaryKeyColumn(); pk >= 0 {
		col := s.Columns[pk].Name
		idxPath := filepath.Join(dir, name+"_"+col+".idx")
		params := index.Params{Path: idxPath, PageSize: f.cfg.PageSize, Fanout: f.cfg.Fanout, Unique: true}
		idx, err := index.Create(index.BTree, params)
		if err != nil {
			h.Close()
			return err
		}
		t.Indexes[col] = idx
		t.IndexKinds[col] = index.BTree
		t.IndexParams[col] = params
		s.IndexPaths[col] = idxPath
		s.IndexKinds[col] = uint8(index.BTree)
	}

	if err := f.cat.AddTable(s); err != nil {
		h.Close()
		return err
	}
	f.engine.Register(t)
	f.logLine(tx.ID(), "CREATE_TABLE", name, "")
	return nil
}

// DropTable removes a table: it takes the table's own exclusive lock
// first (so no in-flight statement is touching it), then the catalog
// lock to remove its schema entry, then deletes its files.
func (f *Facade) DropTable(name string) error {
	tx := f.txns.Begin()
	if err := f.locks.Acquire(tx.ID(), name, lockmgr.Exclusive); err != nil {
		f.txns.Abort(tx)
		return err
	}
	if err := f.locks.Acquire(tx.ID(), catalogResource, lockmgr.Exclusive); err != nil {
		f.txns.Abort(tx)
		return err
	}
	defer f.txns.Commit(tx)

	s, ok := f.cat.GetSchema(name)
	if !ok {
		return storeerr.New(storeerr.NotFound, "facade", "no such table: "+name, nil)
	}
	if err := f.cat.RemoveTable(name); err != nil {
		return err
	}
	f.engine.Unregister(name)

	os.Remove(s.HeapPath)
	os.Remove(s.HeapPath + ".lock")
	for _, path := range s.IndexPaths {
		os.Remove(path)
		os.Remove(path + ".lock")
	}
	f.logLine(tx.ID(), "DROP_TABLE", name, "")
	return nil
}

// CreateIndex builds a new index on an existing table column (§6
// "CREATE INDEX ON t(c)"). It is a DDL operation under the same
// "__catalog__" serialization as CreateTable/DropTable, since it
// mutates the schema's IndexPaths.
func (f *Facade) CreateIndex(table, col string, kind index.Kind) error {
	tx := f.txns.Begin()
	if err := f.locks.Acquire(tx.ID(), table, lockmgr.Exclusive); err != nil {
		f.txns.Abort(tx)
		return err
	}
	if err := f.locks.Acquire(tx.ID(), catalogResource, lockmgr.Exclusive); err != nil {
		f.txns.Abort(tx)
		return err
	}
	defer f.txns.Commit(tx)

	s, ok := f.cat.GetSchema(table)
	if !ok {
		return storeerr.New(storeerr.NotFound, "facade", "no such table: "+table, nil)
	}
	dir := filepath.Dir(s.HeapPath)
	path := filepath.Join(dir, table+"_"+col+".idx")
	if err := f.engine.CreateIndex(table, col, kind, path, f.cfg.PageSize, f.cfg.Fanout); err != nil {
		return err
	}
	if s.IndexKinds == nil {
		s.IndexKinds = make(map[string]uint8)
	}
	s.IndexKinds[col] = uint8(kind)
	f.cat.MarkDirty()
	f.logLine(tx.ID(), "CREATE_INDEX", table, col)
	return nil
}
