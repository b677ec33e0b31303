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

// Package exec implements the query/mutation operations of §4.8: scan
// and index-path selection, predicate evaluation, aggregates,
// group-by/having, order-by, and equi-join. It owns the live
// Heap/Index handles for every open table and is the txn.Undoer the
// transaction manager replays undo entries against.
package exec

import (
	"log"
	"os"
	"sort"

	"relstore/internal/storeerr"
	"relstore/pkg/catalog"
	"relstore/pkg/heap"
	"relstore/pkg/index"
	"relstore/pkg/record"
	"relstore/pkg/txn"
)

var logger = log.New(os.Stderr, "exec: ", log.LstdFlags)

// Op is a comparison operator for predicate evaluation (§4.8).
type Op int

const (
	Eq Op = iota
	Gt
	Lt
	Ge
	Le
	Ne
)

// Predicate is a single (column, operator, literal) test.
type Predicate struct {
	Col string
	Op  Op
	Val string
}

// Table bundles one table's open heap and column-name-to-index map,
// the live handles the executor operates on.
type Table struct {
	Schema  *catalog.Schema
	Heap    *heap.Heap
	Indexes map[string]index.Index // column name -> index
	// IndexKinds and IndexParams record how each Indexes entry was
	// built, so rebuildIndexes can recreate a fresh index file from
	// scratch after a heap Rewrite invalidates every stored pointer,
	// rather than leaving stale (key, old-offset) entries behind.
	IndexKinds  map[string]index.Kind
	IndexParams map[string]index.Params
}

// Engine runs operations against a set of open tables. The facade
// creates one Engine per database and keeps it open for the
// database's lifetime.
type Engine struct {
	tables    map[string]*Table
	enforceFK bool
}

// NewEngine creates an Engine. enforceFK gates the supplemented
// foreign-key existence walk on INSERT (see checkForeignKeys):
// databases that don't need it (e.g. bulk-loading data already known
// to be consistent) can turn it off via Config.EnforceForeignKeys.
func NewEngine(enforceFK bool) *Engine {
	return &Engine{tables: make(map[string]*Table), enforceFK: enforceFK}
}

func (e *Engine) Register(t *Table) { e.tables[t.Schema.Name] = t }

func (e *Engine) Unregister(name string) { delete(e.tables, name) }

// Schema returns the catalog schema for an open table, e.g. so a
// caller can drive a join across two tables it did not itself open.
func (e *Engine) Schema(name string) (*catalog.Schema, error) {
	t, err := e.table(name)
	if err != nil {
		return nil, err
	}
	return t.Schema, nil
}

func (e *Engine) table(name string) (*Table, error) {
	t, ok := e.tables[name]
	if !ok {
		return nil, storeerr.New(storeerr.NotFound, "exec", "no such open table: "+name, nil)
	}
	return t, nil
}

// compareOp evaluates (a op b), using numeric comparison when both
// sides parse as numbers and lexicographic comparison otherwise
// (§4.8).
func compareOp(a, b string, op Op) bool {
	av := record.Value{Raw: a}
	bv := record.Value{Raw: b}
	if an, aok := av.Numeric(); aok {
		if bn, bok := bv.Numeric(); bok {
			switch op {
			case Eq:
				return an == bn
			case Ne:
				return an != bn
			case Gt:
				return an > bn
			case Lt:
				return an < bn
			case Ge:
				return an >= bn
			case Le:
				return an <= bn
			}
		}
	}
	switch op {
	case Eq:
		return a == b
	case Ne:
		return a != b
	case Gt:
		return a > b
	case Lt:
		return a < b
	case Ge:
		return a >= b
	case Le:
		return a <= b
	}
	return false
}

// matches reports whether raw (in schema column order) satisfies p.
func matches(s *catalog.Schema, raw []string, p Predicate) (bool, error) {
	ci := s.ColumnIndex(p.Col)
	if ci < 0 {
		return false, storeerr.New(storeerr.SchemaViolation, "exec", "no such column: "+p.Col, nil)
	}
	return compareOp(raw[ci], p.Val, p.Op), nil
}

// Scan returns every tuple in the table, unfiltered (§4.8 select(*)).
func (e *Engine) Scan(table string) ([][]string, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	var out [][]string
	it := t.Heap.Scan()
	for it.Next() {
		out = append(out, it.Record())
	}
	if it.Err() != nil {
		return nil, it.Err()
	}
	return out, nil
}

// SelectWithPredicate implements §4.8's index-vs-scan selection: the
// index path is used only when p's column is the primary key and the
// operator is '='; every other case falls back to a filtered scan.
func (e *Engine) SelectWithPredicate(table string, p Predicate) ([][]string, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	pk := t.Schema.PrimaryKeyColumn()
	if pk >= 0 && p.Op == Eq && t.Schema.Columns[pk].Name == p.Col {
		idx, ok := t.Indexes[p.Col]
		if ok {
			key, kok := record.Value{Raw: p.Val}.Int32()
			if kok {
				ptr, found, err := idx.Search(key)
				if err != nil {
					return nil, err
				}
				if !found {
					return nil, nil
				}
				raw, err := t.Heap.ReadAt(ptr)
				if err != nil {
					return nil, err
				}
				return [][]string{raw}, nil
			}
		}
	}

	var out [][]string
	it := t.Heap.Scan()
	for it.Next() {
		ok, err := matches(t.Schema, it.Record(), p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, it.Record())
		}
	}
	if it.Err() != nil {
		return nil, it.Err()
	}
	return out, nil
}

// Aggregate is one of the §4.8 aggregate functions.
type Aggregate int

const (
	Count Aggregate = iota
	Sum
	Avg
	Min
	Max
)

// ApplyAggregate computes agg over column col across rows. COUNT(*)
// ignores col's parseability; SUM/AVG/MIN/MAX fail with
// SchemaViolation if any value is non-numeric (§4.8, §8 "Aggregate on
// empty input").
func ApplyAggregate(s *catalog.Schema, rows [][]string, col string, agg Aggregate) (float64, error) {
	if agg == Count {
		return float64(len(rows)), nil
	}
	ci := s.ColumnIndex(col)
	if ci < 0 {
		return 0, storeerr.New(storeerr.SchemaViolation, "exec", "no such column: "+col, nil)
	}
	if len(rows) == 0 {
		if agg == Sum {
			return 0, nil
		}
		return 0, storeerr.New(storeerr.SchemaViolation, "exec", "aggregate over empty input", nil)
	}
	vals := make([]float64, 0, len(rows))
	for _, row := range rows {
		n, ok := record.Value{Raw: row[ci]}.Numeric()
		if !ok {
			return 0, storeerr.New(storeerr.SchemaViolation, "exec", "non-numeric value in aggregate column "+col, nil)
		}
		vals = append(vals, n)
	}
	switch agg {
	case Sum:
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum, nil
	case Avg:
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum / float64(len(vals)), nil
	case Min:
		m := vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case Max:
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	}
	return 0, storeerr.New(storeerr.SchemaViolation, "exec", "unknown aggregate", nil)
}

// GroupResult is one surviving group from GroupBy.
type GroupResult struct {
	Key   string
	Value float64
}

// GroupBy applies where, buckets the survivors by col's value,
// computes agg per bucket, drops buckets failing having, and returns
// one result per surviving group sorted by group key for a
// deterministic order (§4.8).
func (e *Engine) GroupBy(table, groupCol string, agg Aggregate, aggCol string, where *Predicate, having *Predicate) ([]GroupResult, error) {
	t, err := e.table(table)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	if where != nil {
		rows, err = e.SelectWithPredicate(table, *where)
	} else {
		rows, err = e.Scan(table)
	}
	if err != nil {
		return nil, err
	}

	gi := t.Schema.ColumnIndex(groupCol)
	if gi < 0 {
		return nil, storeerr.New(storeerr.SchemaViolation, "exec", "no such column: "+groupCol, nil)
	}
	groups := make(map[string][][]string)
	for _, row := range rows {
		k := row[gi]
		groups[k] = append(groups[k], row)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []GroupResult
	for _, k := range keys {
		v, err := ApplyAggregate(t.Schema, groups[k], aggCol, agg)
		if err != nil {
			return nil, err
		}
		if having != nil && !havingPasses(v, *having) {
			continue
		}
		out = append(out, GroupResult{Key: k, Value: v})
	}
	return out, nil
}

// havingPasses compares an already-computed aggregate value against
// having's literal. having.Col is unused: HAVING always compares the
// group's aggregate, not a raw column.
func havingPasses(aggVal float64, having Predicate) bool {
	lit, ok := record.Value{Raw: having.Val}.Numeric()
	if !ok {
		return false
	}
	switch having.Op {
	case Eq:
		return aggVal == lit
	case Ne:
		return aggVal != lit
	case Gt:
		return aggVal > lit
	case Lt:
		return aggVal < lit
	case Ge:
		return aggVal >= lit
	case Le:
		return aggVal <= lit
	}
	return false
}

// OrderBy stable-sorts rows by col, numeric if parseable and
// lexicographic otherwise, ascending unless desc is true (§4.8).
func OrderBy(s *catalog.Schema, rows [][]string, col string, desc bool) ([][]string, error) {
	ci := s.ColumnIndex(col)
	if ci < 0 {
		return nil, storeerr.New(storeerr.SchemaViolation, "exec", "no such column: "+col, nil)
	}
	out := make([][]string, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		less := compareOp(out[i][ci], out[j][ci], Lt)
		if desc {
			return !less && out[i][ci] != out[j][ci]
		}
		return less
	})
	return out, nil
}

// JoinKind selects an equi-join's NULL-padding behavior (§4.8).
type JoinKind int

const (
	Inner JoinKind = iota
	Left
	Right
)

// EquiJoin hash-joins left against right on lCol = rCol, building the
// hash table over right (the probe build) per §4.8. Output column
// order is left's columns followed by right's. Unmatched rows on the
// outer side of a LEFT/RIGHT join are padded with empty strings
// standing in for NULL, since the tuple codec has no NULL marker of
// its own (§3 "Tuple" carries only typed values).
func EquiJoin(leftSchema, rightSchema *catalog.Schema, left, right [][]string, lCol, rCol string, kind JoinKind) ([][]string, error) {
	li := leftSchema.ColumnIndex(lCol)
	ri := rightSchema.ColumnIndex(rCol)
	if li < 0 {
		return nil, storeerr.New(storeerr.SchemaViolation, "exec", "no such column: "+lCol, nil)
	}
	if ri < 0 {
		return nil, storeerr.New(storeerr.SchemaViolation, "exec", "no such column: "+rCol, nil)
	}

	buildIdx := make(map[string][]int)
	for i, row := range right {
		buildIdx[row[ri]] = append(buildIdx[row[ri]], i)
	}

	rightWidth := len(rightSchema.Columns)
	leftWidth := len(leftSchema.Columns)
	nullRight := make([]string, rightWidth)
	nullLeft := make([]string, leftWidth)

	matchedRight := make([]bool, len(right))
	var out [][]string
	for _, lrow := range left {
		idxs, ok := buildIdx[lrow[li]]
		if !ok || len(idxs) == 0 {
			if kind == Left {
				out = append(out, concat(lrow, nullRight))
			}
			continue
		}
		for _, ri := range idxs {
			matchedRight[ri] = true
			out = append(out, concat(lrow, right[ri]))
		}
	}
	if kind == Right {
		for i, rrow := range right {
			if !matchedRight[i] {
				out = append(out, concat(nullLeft, rrow))
			}
		}
	}
	return out, nil
}

func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// Undo implements txn.Undoer by reversing a single undo entry against
// this engine's open tables (§4.7).
func (e *Engine) Undo(entry txn.UndoEntry) error {
	t, err := e.table(entry.Table)
	if err != nil {
		return err
	}
	switch entry.Op {
	case txn.UndoInsert:
		return e.deleteAt(t, entry.Key)
	case txn.UndoDelete:
		return e.reinsert(t, entry.Tuple)
	case txn.UndoUpdate:
		return e.rewriteAt(t, entry.Key, entry.Tuple)
	}
	return storeerr.New(storeerr.CorruptData, "exec", "unknown undo op", nil)
}
