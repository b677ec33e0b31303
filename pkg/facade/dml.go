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
	"fmt"
	"strings"

	"relstore/pkg/exec"
	"relstore/pkg/lockmgr"
	"relstore/pkg/txn"
)

// Insert adds one row to table under tx, or an implicit one-statement
// transaction if tx is nil (§4.9, §6 "INSERT INTO t VALUES (...)").
func (f *Facade) Insert(tx *txn.Txn, table string, row []string) error {
	return f.withTxn(tx, table, lockmgr.Exclusive, func(t *txn.Txn) error {
		if err := f.engine.Insert(t, table, row); err != nil {
			return err
		}
		f.logLine(t.ID(), "INSERT", table, strings.Join(row, ","))
		return nil
	})
}

// Delete removes every row matching p, returning the count removed.
func (f *Facade) Delete(tx *txn.Txn, table string, p exec.Predicate) (int, error) {
	var n int
	err := f.withTxn(tx, table, lockmgr.Exclusive, func(t *txn.Txn) error {
		var err error
		n, err = f.engine.Delete(t, table, p)
		if err != nil {
			return err
		}
		f.logLine(t.ID(), "DELETE", table, fmt.Sprintf("%s %v %s", p.Col, p.Op, p.Val))
		return nil
	})
	return n, err
}

// Update applies set to every row matching p, returning the count
// touched.
func (f *Facade) Update(tx *txn.Txn, table string, p exec.Predicate, set map[string]string) (int, error) {
	var n int
	err := f.withTxn(tx, table, lockmgr.Exclusive, func(t *txn.Txn) error {
		var err error
		n, err = f.engine.Update(t, table, p, set)
		if err != nil {
			return err
		}
		f.logLine(t.ID(), "UPDATE", table, fmt.Sprintf("%s %v %s set %v", p.Col, p.Op, p.Val, set))
		return nil
	})
	return n, err
}

// Select returns every row of table, taking a shared lock for the
// duration of the scan (§4.9, §6 "SELECT * FROM t").
func (f *Facade) Select(tx *txn.Txn, table string) ([][]string, error) {
	var rows [][]string
	err := f.withTxn(tx, table, lockmgr.Shared, func(*txn.Txn) error {
		var err error
		rows, err = f.engine.Scan(table)
		return err
	})
	return rows, err
}

// SelectWhere returns every row of table matching p, taking the index
// path when p is an equality test on the primary key (§4.8).
func (f *Facade) SelectWhere(tx *txn.Txn, table string, p exec.Predicate) ([][]string, error) {
	var rows [][]string
	err := f.withTxn(tx, table, lockmgr.Shared, func(*txn.Txn) error {
		var err error
		rows, err = f.engine.SelectWithPredicate(table, p)
		return err
	})
	return rows, err
}

// GroupQuery runs a GROUP BY aggCol grouped on groupCol, with optional
// WHERE (applied before grouping) and HAVING (applied after) clauses
// (§4.8, §6 "SELECT col, AGG(col) FROM t GROUP BY col HAVING ...").
func (f *Facade) GroupQuery(tx *txn.Txn, table, groupCol string, agg exec.Aggregate, aggCol string, where, having *exec.Predicate) ([]exec.GroupResult, error) {
	var groups []exec.GroupResult
	err := f.withTxn(tx, table, lockmgr.Shared, func(*txn.Txn) error {
		var err error
		groups, err = f.engine.GroupBy(table, groupCol, agg, aggCol, where, having)
		return err
	})
	return groups, err
}

// Join equi-joins leftTable against rightTable on lCol = rCol. Both
// tables are locked Shared for the duration (§4.8).
func (f *Facade) Join(tx *txn.Txn, leftTable, rightTable, lCol, rCol string, kind exec.JoinKind) ([][]string, error) {
	var out [][]string
	err := f.withTxn(tx, leftTable, lockmgr.Shared, func(t *txn.Txn) error {
		return f.withTxn(t, rightTable, lockmgr.Shared, func(*txn.Txn) error {
			leftRows, err := f.engine.Scan(leftTable)
			if err != nil {
				return err
			}
			rightRows, err := f.engine.Scan(rightTable)
			if err != nil {
				return err
			}
			leftSchema, err := f.engine.Schema(leftTable)
			if err != nil {
				return err
			}
			rightSchema, err := f.engine.Schema(rightTable)
			if err != nil {
				return err
			}
			out, err = exec.EquiJoin(leftSchema, rightSchema, leftRows, rightRows, lCol, rCol, kind)
			return err
		})
	})
	return out, err
}
