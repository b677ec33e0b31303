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
	"path/filepath"
	"testing"
	"time"

	"relstore/pkg/catalog"
	"relstore/pkg/heap"
	"relstore/pkg/index"
	_ "relstore/pkg/index/btreeidx"
	"relstore/pkg/lockmgr"
	"relstore/pkg/record"
	"relstore/pkg/txn"
)

const testPageSize = 4096

func newEmployeesTable(t *testing.T, dir string) *Table {
	t.Helper()
	s := &catalog.Schema{
		Name: "employees",
		Columns: []catalog.Column{
			{Name: "id", Kind: record.KindInt32, Flags: catalog.FlagPrimaryKey | catalog.FlagNotNull},
			{Name: "name", Kind: record.KindString},
			{Name: "salary", Kind: record.KindInt32},
		},
		IndexPaths: map[string]string{},
	}
	h, err := heap.Create(filepath.Join(dir, "employees.dat"), testPageSize)
	if err != nil {
		t.Fatal(err)
	}
	params := index.Params{Path: filepath.Join(dir, "employees_id.idx"), PageSize: testPageSize, Fanout: 4, Unique: true}
	idx, err := index.Create(index.BTree, params)
	if err != nil {
		t.Fatal(err)
	}
	return &Table{
		Schema:      s,
		Heap:        h,
		Indexes:     map[string]index.Index{"id": idx},
		IndexKinds:  map[string]index.Kind{"id": index.BTree},
		IndexParams: map[string]index.Params{"id": params},
	}
}

func newTestEngine(t *testing.T) (*Engine, *txn.Manager) {
	t.Helper()
	e := NewEngine(true)
	e.Register(newEmployeesTable(t, t.TempDir()))
	locks := lockmgr.New(5, time.Millisecond)
	m := txn.NewManager(locks, e)
	return e, m
}

func TestInsertSelectAndIndexPath(t *testing.T) {
	e, m := newTestEngine(t)
	tx := m.Begin()
	rows := [][]string{
		{"1", "alice", "1000"},
		{"2", "bob", "2000"},
		{"3", "carol", "3000"},
	}
	for _, r := range rows {
		if err := e.Insert(tx, "employees", r); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Commit(tx); err != nil {
		t.Fatal(err)
	}

	got, err := e.Scan("employees")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("Scan returned %d rows, want 3", len(got))
	}

	match, err := e.SelectWithPredicate("employees", Predicate{Col: "id", Op: Eq, Val: "2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(match) != 1 || match[0][1] != "bob" {
		t.Fatalf("index-path select = %v, want bob's row", match)
	}
}

func TestDuplicatePrimaryKeyRejected(t *testing.T) {
	e, m := newTestEngine(t)
	tx := m.Begin()
	if err := e.Insert(tx, "employees", []string{"1", "alice", "1000"}); err != nil {
		t.Fatal(err)
	}
	err := e.Insert(tx, "employees", []string{"1", "alice2", "1500"})
	if err == nil {
		t.Fatal("expected duplicate primary key to fail")
	}
}

func TestInsertAbortUndoesIt(t *testing.T) {
	e, m := newTestEngine(t)
	tx := m.Begin()
	if err := e.Insert(tx, "employees", []string{"1", "alice", "1000"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Abort(tx); err != nil {
		t.Fatal(err)
	}
	rows, err := e.Scan("employees")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("Scan after abort = %v, want empty", rows)
	}
}

func TestDeleteAbortReinserts(t *testing.T) {
	e, m := newTestEngine(t)
	tx := m.Begin()
	if err := e.Insert(tx, "employees", []string{"1", "alice", "1000"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2 := m.Begin()
	n, err := e.Delete(tx2, "employees", Predicate{Col: "id", Op: Eq, Val: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Delete removed %d rows, want 1", n)
	}
	if err := m.Abort(tx2); err != nil {
		t.Fatal(err)
	}
	rows, err := e.Scan("employees")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0][1] != "alice" {
		t.Fatalf("Scan after abort of delete = %v, want alice restored", rows)
	}
}

func TestUpdateAbortRestoresOriginal(t *testing.T) {
	e, m := newTestEngine(t)
	tx := m.Begin()
	if err := e.Insert(tx, "employees", []string{"1", "alice", "1000"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2 := m.Begin()
	n, err := e.Update(tx2, "employees", Predicate{Col: "id", Op: Eq, Val: "1"}, map[string]string{"salary": "9999"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Update touched %d rows, want 1", n)
	}
	if err := m.Abort(tx2); err != nil {
		t.Fatal(err)
	}
	rows, err := e.Scan("employees")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0][2] != "1000" {
		t.Fatalf("Scan after abort of update = %v, want salary restored to 1000", rows)
	}
}

func TestAggregateAndGroupBy(t *testing.T) {
	e, m := newTestEngine(t)
	tx := m.Begin()
	for _, r := range [][]string{
		{"1", "eng", "1000"},
		{"2", "eng", "2000"},
		{"3", "sales", "500"},
	} {
		if err := e.Insert(tx, "employees", r); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Commit(tx); err != nil {
		t.Fatal(err)
	}

	rows, err := e.Scan("employees")
	if err != nil {
		t.Fatal(err)
	}
	s, _ := e.table("employees")
	sum, err := ApplyAggregate(s.Schema, rows, "salary", Sum)
	if err != nil {
		t.Fatal(err)
	}
	if sum != 3500 {
		t.Fatalf("Sum = %v, want 3500", sum)
	}

	groups, err := e.GroupBy("employees", "name", Sum, "salary", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("GroupBy produced %d groups, want 2", len(groups))
	}
}

func TestOrderBy(t *testing.T) {
	e, m := newTestEngine(t)
	tx := m.Begin()
	for _, r := range [][]string{
		{"1", "carol", "3000"},
		{"2", "alice", "1000"},
		{"3", "bob", "2000"},
	} {
		if err := e.Insert(tx, "employees", r); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Commit(tx); err != nil {
		t.Fatal(err)
	}
	rows, err := e.Scan("employees")
	if err != nil {
		t.Fatal(err)
	}
	s, _ := e.table("employees")
	sorted, err := OrderBy(s.Schema, rows, "salary", false)
	if err != nil {
		t.Fatal(err)
	}
	if sorted[0][1] != "alice" || sorted[2][1] != "carol" {
		t.Fatalf("OrderBy ascending by salary = %v", sorted)
	}
}

func TestEquiJoin(t *testing.T) {
	left := &catalog.Schema{Columns: []catalog.Column{{Name: "id"}, {Name: "dept_id"}}}
	right := &catalog.Schema{Columns: []catalog.Column{{Name: "dept_id"}, {Name: "dept_name"}}}
	leftRows := [][]string{{"1", "10"}, {"2", "20"}, {"3", "30"}}
	rightRows := [][]string{{"10", "eng"}, {"20", "sales"}}

	out, err := EquiJoin(left, right, leftRows, rightRows, "dept_id", "dept_id", Left)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("LEFT join produced %d rows, want 3", len(out))
	}
	var unmatched int
	for _, row := range out {
		if row[2] == "" {
			unmatched++
		}
	}
	if unmatched != 1 {
		t.Fatalf("expected 1 unmatched left row padded with NULL, got %d", unmatched)
	}
}

func TestForeignKeyViolation(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(true)
	e.Register(newEmployeesTable(t, dir))

	deptSchema := &catalog.Schema{
		Name: "reviews",
		Columns: []catalog.Column{
			{Name: "id", Kind: record.KindInt32, Flags: catalog.FlagPrimaryKey},
			{Name: "emp_id", Kind: record.KindInt32, Flags: catalog.FlagForeignKey, RefTable: "employees", RefColumn: "id"},
		},
		IndexPaths: map[string]string{},
	}
	h, err := heap.Create(filepath.Join(dir, "reviews.dat"), testPageSize)
	if err != nil {
		t.Fatal(err)
	}
	e.Register(&Table{Schema: deptSchema, Heap: h, Indexes: map[string]index.Index{}})

	locks := lockmgr.New(5, time.Millisecond)
	m := txn.NewManager(locks, e)
	tx := m.Begin()
	err = e.Insert(tx, "reviews", []string{"1", "999"})
	if err == nil {
		t.Fatal("expected foreign key violation for missing employee 999")
	}

	if err := e.Insert(tx, "employees", []string{"999", "dana", "1200"}); err != nil {
		t.Fatal(err)
	}
	if err := e.Insert(tx, "reviews", []string{"1", "999"}); err != nil {
		t.Fatalf("insert should succeed once referenced row exists: %v", err)
	}
}
