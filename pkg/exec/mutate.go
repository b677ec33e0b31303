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

package exec

import (
	"os"

	"relstore/internal/storeerr"
	"relstore/pkg/catalog"
	"relstore/pkg/index"
	"relstore/pkg/record"
	"relstore/pkg/txn"
)

// validate checks arity, NOT NULL, and type-parseability against s —
// the same validator INSERT and UPDATE both run, mirroring
// database.cpp's updateRecords calling the same check as
// insertRecord rather than a looser one.
func validate(s interface {
	Kinds() []record.Kind
}, raw []string, columns []columnConstraint) error {
	tuple, err := record.Attach(raw, s.Kinds())
	if err != nil {
		return storeerr.New(storeerr.SchemaViolation, "exec", "column count mismatch", err)
	}
	for i, c := range columns {
		if c.notNull && raw[i] == "" {
			return storeerr.New(storeerr.SchemaViolation, "exec", "NOT NULL violation on "+c.name, nil)
		}
		v := tuple[i]
		switch v.Kind {
		case record.KindInt32:
			if _, ok := v.Int32(); !ok && raw[i] != "" {
				return storeerr.New(storeerr.SchemaViolation, "exec", "not an INT32: "+c.name, nil)
			}
		case record.KindFloat32:
			if _, ok := v.Float32(); !ok && raw[i] != "" {
				return storeerr.New(storeerr.SchemaViolation, "exec", "not a FLOAT32: "+c.name, nil)
			}
		case record.KindBool:
			if _, ok := v.Bool(); !ok && raw[i] != "" {
				return storeerr.New(storeerr.SchemaViolation, "exec", "not a BOOL: "+c.name, nil)
			}
		}
	}
	return nil
}

type columnConstraint struct {
	name    string
	notNull bool
}

// checkForeignKeys walks each foreign-key column's referenced table
// heap to confirm the referenced key exists, per the supplemented
// "foreign-key existence check on INSERT" feature: the schema's
// declared reference is not enough on its own, the row must actually
// be present in the parent table.
func (e *Engine) checkForeignKeys(t *Table, raw []string) error {
	for i, col := range t.Schema.Columns {
		if col.RefTable == "" {
			continue
		}
		parent, err := e.table(col.RefTable)
		if err != nil {
			return storeerr.New(storeerr.SchemaViolation, "exec", "foreign key references unknown table "+col.RefTable, nil)
		}
		key, ok := record.Value{Raw: raw[i]}.Int32()
		if !ok {
			return storeerr.New(storeerr.SchemaViolation, "exec", "foreign key value is not an INT32: "+col.Name, nil)
		}
		found := false
		if idx, ok := parent.Indexes[col.RefColumn]; ok {
			_, found, err = idx.Search(key)
			if err != nil {
				return err
			}
		} else {
			_, _, found, err = parent.Heap.PointGetByKey(key)
			if err != nil {
				return err
			}
		}
		if !found {
			return storeerr.New(storeerr.SchemaViolation, "exec", "foreign key violation: no row "+raw[i]+" in "+col.RefTable, nil)
		}
	}
	return nil
}

func columnConstraints(t *Table) []columnConstraint {
	out := make([]columnConstraint, len(t.Schema.Columns))
	for i, c := range t.Schema.Columns {
		out[i] = columnConstraint{name: c.Name, notNull: c.Flags.Has(catalog.FlagNotNull)}
	}
	return out
}

// Insert validates raw, checks foreign-key and primary-key
// constraints, appends to the heap, and inserts index entries — in
// that order, so the search-then-insert split happens before any
// page is touched, following index_manager.cpp's documented ordering.
func (e *Engine) Insert(tx *txn.Txn, table string, raw []string) error {
	t, err := e.table(table)
	if err != nil {
		return err
	}
	if err := validate(t.Schema, raw, columnConstraints(t)); err != nil {
		return err
	}
	if e.enforceFK {
		if err := e.checkForeignKeys(t, raw); err != nil {
			return err
		}
	}

	tuple, err := record.Attach(raw, t.Schema.Kinds())
	if err != nil {
		return storeerr.New(storeerr.SchemaViolation, "exec", "column count mismatch", err)
	}

	pk := t.Schema.PrimaryKeyColumn()
	var key int32
	var hasKey bool
	if pk >= 0 {
		k, ok := tuple[pk].Int32()
		if !ok {
			return storeerr.New(storeerr.SchemaViolation, "exec", "primary key is not an INT32", nil)
		}
		key, hasKey = k, true
		if idx, ok := t.Indexes[t.Schema.Columns[pk].Name]; ok {
			if _, found, err := idx.Search(key); err != nil {
				return err
			} else if found {
				return storeerr.New(storeerr.DuplicateKey, "exec", "duplicate primary key", nil)
			}
		}
	}

	offset, err := t.Heap.Insert(raw)
	if err != nil {
		return err
	}

	if hasKey {
		if idx, ok := t.Indexes[t.Schema.Columns[pk].Name]; ok {
			if err := idx.Insert(key, offset); err != nil {
				return err
			}
		}
	}
	for i, col := range t.Schema.Columns {
		if i == pk {
			continue
		}
		if idx, ok := t.Indexes[col.Name]; ok {
			if k, ok := tuple[i].Int32(); ok {
				if err := idx.Insert(k, offset); err != nil {
					return err
				}
			}
		}
	}

	tx.Record(txn.UndoEntry{Op: txn.UndoInsert, Table: table, Key: key})
	return nil
}

// Delete removes every tuple in table satisfying p, recording one
// undo entry per removed tuple so abort can re-insert them.
func (e *Engine) Delete(tx *txn.Txn, table string, p Predicate) (int, error) {
	t, err := e.table(table)
	if err != nil {
		return 0, err
	}
	var survivors [][]string
	var removed [][]string
	it := t.Heap.Scan()
	for it.Next() {
		ok, err := matches(t.Schema, it.Record(), p)
		if err != nil {
			return 0, err
		}
		if ok {
			cp := append([]string(nil), it.Record()...)
			removed = append(removed, cp)
		} else {
			cp := append([]string(nil), it.Record()...)
			survivors = append(survivors, cp)
		}
	}
	if it.Err() != nil {
		return 0, it.Err()
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := t.Heap.Rewrite(survivors); err != nil {
		return 0, err
	}
	// Record undo entries as soon as the heap rewrite above has
	// durably applied — the side effect that makes this a partial
	// mutation if rebuildIndexes fails next — rather than after
	// rebuildIndexes succeeds. That way a rebuildIndexes failure still
	// leaves a matching undo entry for the facade's automatic abort
	// (§7) to replay.
	pk := t.Schema.PrimaryKeyColumn()
	for _, raw := range removed {
		var key int32
		if pk >= 0 {
			key, _ = record.Value{Raw: raw[pk]}.Int32()
		}
		tx.Record(txn.UndoEntry{Op: txn.UndoDelete, Table: table, Key: key, Tuple: raw})
	}
	if err := e.rebuildIndexes(t, survivors); err != nil {
		return 0, err
	}
	return len(removed), nil
}

// Update rewrites every tuple satisfying p, setting each column named
// in set to its mapped value, after re-validating NOT NULL and type constraints the
// same way Insert does.
func (e *Engine) Update(tx *txn.Txn, table string, p Predicate, set map[string]string) (int, error) {
	t, err := e.table(table)
	if err != nil {
		return 0, err
	}
	constraints := columnConstraints(t)
	var all [][]string
	var before [][]string

	it := t.Heap.Scan()
	for it.Next() {
		row := append([]string(nil), it.Record()...)
		ok, err := matches(t.Schema, row, p)
		if err != nil {
			return 0, err
		}
		if ok {
			updated := append([]string(nil), row...)
			for col, v := range set {
				ci := t.Schema.ColumnIndex(col)
				if ci < 0 {
					return 0, storeerr.New(storeerr.SchemaViolation, "exec", "no such column: "+col, nil)
				}
				updated[ci] = v
			}
			if err := validate(t.Schema, updated, constraints); err != nil {
				return 0, err
			}
			before = append(before, row)
			all = append(all, updated)
		} else {
			all = append(all, row)
		}
	}
	if it.Err() != nil {
		return 0, it.Err()
	}
	if len(before) == 0 {
		return 0, nil
	}
	if err := t.Heap.Rewrite(all); err != nil {
		return 0, err
	}
	// See the matching comment in Delete: record undo entries right
	// after the rewrite lands, not after rebuildIndexes succeeds.
	pk := t.Schema.PrimaryKeyColumn()
	for _, orig := range before {
		var key int32
		if pk >= 0 {
			key, _ = record.Value{Raw: orig[pk]}.Int32()
		}
		tx.Record(txn.UndoEntry{Op: txn.UndoUpdate, Table: table, Key: key, Tuple: orig})
	}
	if err := e.rebuildIndexes(t, all); err != nil {
		return 0, err
	}
	return len(before), nil
}

// rebuildIndexes drops and recreates every index on t from rows,
// since Rewrite changes every record's heap offset (§4.3's
// tmp-file-plus-rename heap rewrite invalidates every index entry's
// stored pointer). Each index is closed, its file removed, and a
// fresh one built from the current heap contents.
func (e *Engine) rebuildIndexes(t *Table, rows [][]string) error {
	it := t.Heap.Scan()
	var offsets []int64
	for it.Next() {
		offsets = append(offsets, it.Offset())
	}
	if it.Err() != nil {
		return it.Err()
	}

	kinds := t.Schema.Kinds()
	tuples := make([]record.Tuple, len(rows))
	for i, row := range rows {
		tuple, err := record.Attach(row, kinds)
		if err != nil {
			return storeerr.New(storeerr.SchemaViolation, "exec", "column count mismatch", err)
		}
		tuples[i] = tuple
	}

	for colName, idx := range t.Indexes {
		ci := t.Schema.ColumnIndex(colName)
		if ci < 0 {
			continue
		}
		params, ok := t.IndexParams[colName]
		if !ok {
			return storeerr.New(storeerr.CorruptData, "exec", "missing index params for "+colName, nil)
		}
		kind := t.IndexKinds[colName]
		if err := idx.Close(); err != nil {
			return err
		}
		if err := os.Remove(params.Path); err != nil && !os.IsNotExist(err) {
			return storeerr.New(storeerr.IOError, "exec", "removing stale index file", err)
		}
		os.Remove(params.Path + ".lock")
		fresh, err := index.Create(kind, params)
		if err != nil {
			return err
		}
		for i := range rows {
			key, ok := tuples[i][ci].Int32()
			if !ok {
				continue
			}
			if err := fresh.Insert(key, offsets[i]); err != nil {
				return err
			}
		}
		t.Indexes[colName] = fresh
	}
	return nil
}

// deleteAt removes the row whose primary-key column equals key. Undo
// entries identify rows by primary key rather than heap offset
// because every mutation rewrites the whole heap file, which
// reassigns every surviving record's offset (§4.3's tmp-file-plus-
// rename discipline); an offset captured before any later rewrite
// would no longer point at the right record.
func (e *Engine) deleteAt(t *Table, key int32) error {
	pk := t.Schema.PrimaryKeyColumn()
	if pk < 0 {
		return storeerr.New(storeerr.InvalidTxnState, "exec", "cannot undo on a table with no primary key", nil)
	}
	var survivors [][]string
	it := t.Heap.Scan()
	for it.Next() {
		k, ok := record.Value{Raw: it.Record()[pk]}.Int32()
		if ok && k == key {
			continue
		}
		survivors = append(survivors, append([]string(nil), it.Record()...))
	}
	if it.Err() != nil {
		return it.Err()
	}
	if err := t.Heap.Rewrite(survivors); err != nil {
		return err
	}
	return e.rebuildIndexes(t, survivors)
}

func (e *Engine) reinsert(t *Table, raw []string) error {
	_, err := t.Heap.Insert(raw)
	if err != nil {
		return err
	}
	var all [][]string
	it := t.Heap.Scan()
	for it.Next() {
		all = append(all, append([]string(nil), it.Record()...))
	}
	if it.Err() != nil {
		return it.Err()
	}
	return e.rebuildIndexes(t, all)
}

// rewriteAt restores original over the row whose primary-key column
// equals key, the same offset-is-unstable reasoning as deleteAt.
func (e *Engine) rewriteAt(t *Table, key int32, original []string) error {
	pk := t.Schema.PrimaryKeyColumn()
	if pk < 0 {
		return storeerr.New(storeerr.InvalidTxnState, "exec", "cannot undo on a table with no primary key", nil)
	}
	var all [][]string
	it := t.Heap.Scan()
	for it.Next() {
		k, ok := record.Value{Raw: it.Record()[pk]}.Int32()
		if ok && k == key {
			all = append(all, original)
		} else {
			all = append(all, append([]string(nil), it.Record()...))
		}
	}
	if it.Err() != nil {
		return it.Err()
	}
	if err := t.Heap.Rewrite(all); err != nil {
		return err
	}
	return e.rebuildIndexes(t, all)
}
