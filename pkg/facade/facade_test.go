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
	"testing"

	"relstore/internal/config"
	"relstore/pkg/catalog"
	"relstore/pkg/exec"
	"relstore/pkg/index"
	"relstore/pkg/record"
	"relstore/pkg/txn"
)

func newEmployeesColumns() []catalog.Column {
	return []catalog.Column{
		{Name: "id", Kind: record.KindInt32, Flags: catalog.FlagPrimaryKey | catalog.FlagNotNull},
		{Name: "name", Kind: record.KindString},
		{Name: "salary", Kind: record.KindInt32},
	}
}

func TestCreateTableInsertSelect(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(config.Default(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := f.CreateTable("employees", newEmployeesColumns()); err != nil {
		t.Fatal(err)
	}
	if err := f.Insert(nil, "employees", []string{"1", "alice", "1000"}); err != nil {
		t.Fatal(err)
	}
	if err := f.Insert(nil, "employees", []string{"2", "bob", "2000"}); err != nil {
		t.Fatal(err)
	}

	rows, err := f.Select(nil, "employees")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("Select returned %d rows, want 2", len(rows))
	}

	match, err := f.SelectWhere(nil, "employees", exec.Predicate{Col: "id", Op: exec.Eq, Val: "2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(match) != 1 || match[0][1] != "bob" {
		t.Fatalf("SelectWhere = %v, want bob's row", match)
	}
}

func TestExplicitTransactionCommitAndAbort(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(config.Default(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := f.CreateTable("employees", newEmployeesColumns()); err != nil {
		t.Fatal(err)
	}

	tx := f.Begin()
	if err := f.Insert(tx, "employees", []string{"1", "alice", "1000"}); err != nil {
		t.Fatal(err)
	}
	if err := f.Commit(tx); err != nil {
		t.Fatal(err)
	}

	tx2 := f.Begin()
	if err := f.Insert(tx2, "employees", []string{"2", "bob", "2000"}); err != nil {
		t.Fatal(err)
	}
	if err := f.Abort(tx2); err != nil {
		t.Fatal(err)
	}

	rows, err := f.Select(nil, "employees")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0][1] != "alice" {
		t.Fatalf("Select after abort = %v, want only alice", rows)
	}
}

// TestExplicitTransactionStaysActiveOnCleanFailure covers §7's
// distinction (see withTxn): a failure caught before any side effect
// lands leaves an explicit transaction ACTIVE, so the caller can retry
// on the same txn rather than losing it to an automatic abort.
func TestExplicitTransactionStaysActiveOnCleanFailure(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(config.Default(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := f.CreateTable("employees", newEmployeesColumns()); err != nil {
		t.Fatal(err)
	}

	tx := f.Begin()
	if err := f.Insert(tx, "employees", []string{"1", "alice", "1000"}); err != nil {
		t.Fatal(err)
	}

	// A duplicate primary key is caught by the search-before-insert
	// check, before Heap.Insert (the side effect) ever runs.
	err = f.Insert(tx, "employees", []string{"1", "alice2", "1500"})
	if err == nil {
		t.Fatal("expected a duplicate-key error")
	}
	if tx.State() != txn.Active {
		t.Fatalf("tx.State() after a clean failure = %v, want Active", tx.State())
	}

	// The same transaction must still be usable.
	if err := f.Insert(tx, "employees", []string{"2", "bob", "2000"}); err != nil {
		t.Fatal(err)
	}
	if err := f.Commit(tx); err != nil {
		t.Fatal(err)
	}

	rows, err := f.Select(nil, "employees")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("Select after commit = %v, want 2 rows (alice and bob)", rows)
	}
}

func TestUpdateDeleteAndCreateIndex(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(config.Default(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := f.CreateTable("employees", newEmployeesColumns()); err != nil {
		t.Fatal(err)
	}
	for _, row := range [][]string{
		{"1", "alice", "1000"},
		{"2", "bob", "2000"},
	} {
		if err := f.Insert(nil, "employees", row); err != nil {
			t.Fatal(err)
		}
	}

	n, err := f.Update(nil, "employees", exec.Predicate{Col: "id", Op: exec.Eq, Val: "1"}, map[string]string{"salary": "1500"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Update touched %d rows, want 1", n)
	}

	if err := f.CreateIndex("employees", "salary", index.Hash); err != nil {
		t.Fatal(err)
	}

	n, err = f.Delete(nil, "employees", exec.Predicate{Col: "id", Op: exec.Eq, Val: "2"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Delete touched %d rows, want 1", n)
	}

	rows, err := f.Select(nil, "employees")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0][2] != "1500" {
		t.Fatalf("Select after update+delete = %v", rows)
	}
}

func TestCloseReopenPersistsSchemaAndIndexKind(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(config.Default(dir))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.CreateTable("employees", newEmployeesColumns()); err != nil {
		t.Fatal(err)
	}
	if err := f.Insert(nil, "employees", []string{"1", "alice", "1000"}); err != nil {
		t.Fatal(err)
	}
	if err := f.CreateIndex("employees", "salary", index.Hash); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f2, err := Open(config.Default(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer f2.Close()

	s, err := f2.Engine().Schema("employees")
	if err != nil {
		t.Fatal(err)
	}
	if s.IndexKinds["salary"] != uint8(index.Hash) {
		t.Fatalf("IndexKinds[salary] after reopen = %d, want %d (Hash)", s.IndexKinds["salary"], index.Hash)
	}

	rows, err := f2.Select(nil, "employees")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0][1] != "alice" {
		t.Fatalf("Select after reopen = %v, want alice's row", rows)
	}

	match, err := f2.SelectWhere(nil, "employees", exec.Predicate{Col: "salary", Op: exec.Eq, Val: "1000"})
	if err != nil {
		t.Fatal(err)
	}
	if len(match) != 1 {
		t.Fatalf("SelectWhere on salary after reopen = %v, want 1 row", match)
	}

	logPath := filepath.Join(dir, "transactions.log")
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("transactions.log is empty after mutating statements")
	}
}

func TestGroupQueryAndJoin(t *testing.T) {
	dir := t.TempDir()
	f, err := Create(config.Default(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := f.CreateTable("employees", newEmployeesColumns()); err != nil {
		t.Fatal(err)
	}
	for _, row := range [][]string{
		{"1", "alice", "1000"},
		{"2", "bob", "2000"},
		{"3", "carol", "500"},
	} {
		if err := f.Insert(nil, "employees", row); err != nil {
			t.Fatal(err)
		}
	}

	groups, err := f.GroupQuery(nil, "employees", "name", exec.Sum, "salary", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 3 {
		t.Fatalf("GroupQuery produced %d groups, want 3", len(groups))
	}

	if err := f.CreateTable("departments", []catalog.Column{
		{Name: "id", Kind: record.KindInt32, Flags: catalog.FlagPrimaryKey},
		{Name: "name", Kind: record.KindString},
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.Insert(nil, "departments", []string{"1", "eng"}); err != nil {
		t.Fatal(err)
	}

	out, err := f.Join(nil, "employees", "departments", "id", "id", exec.Inner)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("Join produced %d rows, want 1", len(out))
	}
}
