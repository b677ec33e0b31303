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

package cliexec

import (
	"strings"
	"testing"
)

func newSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(t.TempDir())
	if _, err := s.Dispatch("CREATE DATABASE main"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustDispatch(t *testing.T, s *Session, line string) string {
	t.Helper()
	out, err := s.Dispatch(line)
	if err != nil {
		t.Fatalf("Dispatch(%q) = %v", line, err)
	}
	return out
}

func TestDatabaseLifecycle(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(dir)

	if _, err := s.Dispatch("SELECT * FROM employees"); err == nil {
		t.Fatal("expected a statement before any CREATE/USE DATABASE to fail")
	}

	mustDispatch(t, s, "CREATE DATABASE payroll")
	mustDispatch(t, s, "CREATE TABLE employees (id INT PRIMARY KEY, name VARCHAR(50))")
	mustDispatch(t, s, "INSERT INTO employees VALUES (1, 'Alice')")

	mustDispatch(t, s, "CREATE DATABASE reports")
	if _, err := s.Dispatch("SELECT * FROM employees"); err == nil {
		t.Fatal("expected employees to not exist in the freshly created reports database")
	}

	mustDispatch(t, s, "USE DATABASE payroll")
	out := mustDispatch(t, s, "SELECT * FROM employees")
	if !strings.Contains(out, "Alice") {
		t.Fatalf("SELECT after USE DATABASE payroll = %q, want Alice's row", out)
	}

	mustDispatch(t, s, "DROP DATABASE reports")
	if _, err := s.Dispatch("USE DATABASE reports"); err == nil {
		t.Fatal("expected USE DATABASE on a dropped database to fail")
	}
	s.Close()
}

func TestCreateInsertSelect(t *testing.T) {
	s := newSession(t)
	mustDispatch(t, s, "CREATE TABLE employees (id INT PRIMARY KEY, name VARCHAR(50), salary INT)")
	mustDispatch(t, s, "INSERT INTO employees VALUES (1, 'Alice', 50000)")
	mustDispatch(t, s, "INSERT INTO employees VALUES (2, 'Bob', 60000)")

	out := mustDispatch(t, s, "SELECT * FROM employees WHERE id = 2")
	if !strings.Contains(out, "Bob") {
		t.Fatalf("SELECT WHERE output = %q, want Bob's row", out)
	}
}

func TestDuplicatePrimaryKeyReturnsError(t *testing.T) {
	s := newSession(t)
	mustDispatch(t, s, "CREATE TABLE employees (id INT PRIMARY KEY, name VARCHAR(50), salary INT)")
	mustDispatch(t, s, "INSERT INTO employees VALUES (1, 'Eve', 70000)")
	if _, err := s.Dispatch("INSERT INTO employees VALUES (1, 'Eve', 70000)"); err == nil {
		t.Fatal("expected duplicate primary key to fail")
	}
}

func TestGroupByHaving(t *testing.T) {
	s := newSession(t)
	mustDispatch(t, s, "CREATE TABLE employees (id INT PRIMARY KEY, dept VARCHAR(20), salary INT)")
	for _, row := range []string{
		"INSERT INTO employees VALUES (1, 'eng', 60000)",
		"INSERT INTO employees VALUES (2, 'eng', 45000)",
		"INSERT INTO employees VALUES (3, 'sales', 30000)",
	} {
		mustDispatch(t, s, row)
	}
	out := mustDispatch(t, s, "SELECT dept, AVG(salary) FROM employees GROUP BY dept HAVING AVG(salary) > 50000")
	if !strings.Contains(out, "eng") || strings.Contains(out, "sales") {
		t.Fatalf("GROUP BY HAVING output = %q, want only eng", out)
	}
}

func TestTransactionRollback(t *testing.T) {
	s := newSession(t)
	mustDispatch(t, s, "CREATE TABLE employees (id INT PRIMARY KEY, name VARCHAR(50), salary INT)")
	mustDispatch(t, s, "BEGIN TRANSACTION")
	mustDispatch(t, s, "INSERT INTO employees VALUES (5, 'x', 1)")
	mustDispatch(t, s, "INSERT INTO employees VALUES (6, 'y', 2)")
	mustDispatch(t, s, "ROLLBACK")

	out := mustDispatch(t, s, "SELECT * FROM employees")
	if out != "" {
		t.Fatalf("SELECT after rollback = %q, want empty", out)
	}
}

func TestJoin(t *testing.T) {
	s := newSession(t)
	mustDispatch(t, s, "CREATE TABLE employees (id INT PRIMARY KEY, dept_id INT)")
	mustDispatch(t, s, "CREATE TABLE departments (dept_id INT PRIMARY KEY, name VARCHAR(20))")
	mustDispatch(t, s, "INSERT INTO employees VALUES (1, 10)")
	mustDispatch(t, s, "INSERT INTO departments VALUES (10, 'eng')")

	out := mustDispatch(t, s, "SELECT * FROM employees JOIN departments ON employees.dept_id = departments.dept_id")
	if !strings.Contains(out, "eng") {
		t.Fatalf("JOIN output = %q, want eng row", out)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := newSession(t)
	mustDispatch(t, s, "CREATE TABLE employees (id INT PRIMARY KEY, name VARCHAR(50), salary INT)")
	mustDispatch(t, s, "INSERT INTO employees VALUES (1, 'Alice', 1000)")

	out := mustDispatch(t, s, "UPDATE employees SET salary = 2000 WHERE id = 1")
	if out != "1 row(s) updated" {
		t.Fatalf("UPDATE output = %q", out)
	}
	out = mustDispatch(t, s, "DELETE FROM employees WHERE id = 1")
	if out != "1 row(s) deleted" {
		t.Fatalf("DELETE output = %q", out)
	}
}
