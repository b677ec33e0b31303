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
	"relstore/internal/storeerr"
	"relstore/pkg/index"
	"relstore/pkg/record"
)

// CreateIndex builds a fresh index of the given kind over col,
// backfilling it from every existing row in the table's heap, and
// registers it on t so later selects can take the index path (§4.8,
// §6 "CREATE INDEX ON t(c)").
func (e *Engine) CreateIndex(table, col string, kind index.Kind, path string, pageSize, fanout int) error {
	t, err := e.table(table)
	if err != nil {
		return err
	}
	ci := t.Schema.ColumnIndex(col)
	if ci < 0 {
		return storeerr.New(storeerr.SchemaViolation, "exec", "no such column: "+col, nil)
	}
	if _, exists := t.Indexes[col]; exists {
		return storeerr.New(storeerr.SchemaViolation, "exec", "index already exists on "+col, nil)
	}

	pk := t.Schema.PrimaryKeyColumn()
	isUnique := pk == ci

	params := index.Params{Path: path, PageSize: pageSize, Fanout: fanout, Unique: isUnique}
	idx, err := index.Create(kind, params)
	if err != nil {
		return err
	}

	it := t.Heap.Scan()
	for it.Next() {
		v := record.Value{Raw: it.Record()[ci]}
		key, ok := v.Int32()
		if !ok {
			continue
		}
		if err := idx.Insert(key, it.Offset()); err != nil {
			idx.Close()
			return err
		}
	}
	if it.Err() != nil {
		idx.Close()
		return it.Err()
	}

	if t.Indexes == nil {
		t.Indexes = make(map[string]index.Index)
	}
	if t.IndexKinds == nil {
		t.IndexKinds = make(map[string]index.Kind)
	}
	if t.IndexParams == nil {
		t.IndexParams = make(map[string]index.Params)
	}
	t.Indexes[col] = idx
	t.IndexKinds[col] = kind
	t.IndexParams[col] = params
	t.Schema.IndexPaths[col] = path
	logger.Printf("built %v index on %s(%s) at %s", kind, table, col, path)
	return nil
}
