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

// Package cliexec is a thin line-oriented recognizer over the fixed
// command shapes of §6: it is not a SQL tokenizer/parser (that is
// explicitly out of scope, §1) but a small set of regexps matching
// the twelve already-structured statement forms the spec pins down,
// each translated directly into one facade (or database-lifecycle)
// call.
package cliexec

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"relstore/internal/config"
	"relstore/internal/storeerr"
	"relstore/pkg/catalog"
	"relstore/pkg/exec"
	"relstore/pkg/facade"
	"relstore/pkg/index"
	"relstore/pkg/record"
	"relstore/pkg/txn"
)

// Session holds the base directory a CREATE/USE DATABASE name resolves
// under, the facade for whichever database is currently open (if any),
// and the explicit transaction (if any) spanning a run of Dispatch
// calls, so BEGIN/COMMIT/ROLLBACK on one line affect every statement
// until the matching terminator.
type Session struct {
	// BaseDir is the root directory under which each named database
	// is its own subdirectory (§6's DATABASE statements operate on
	// names, not paths).
	BaseDir string
	DB      *facade.Facade
	current string // name of the open database, "" if none
	tx      *txn.Txn
}

// NewSession starts a session with no database open. CREATE DATABASE
// or USE DATABASE must run before any statement that touches data.
func NewSession(baseDir string) *Session { return &Session{BaseDir: baseDir} }

// Close releases the currently open database, if any.
func (s *Session) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Session) path(name string) string { return filepath.Join(s.BaseDir, name) }

func (s *Session) closeCurrent() {
	if s.DB != nil {
		s.DB.Close()
	}
	s.DB, s.current, s.tx = nil, "", nil
}

// createDatabase makes a fresh subdirectory under BaseDir and opens it
// as a brand-new database, replacing whichever database the session
// had open.
func (s *Session) createDatabase(name string) (string, error) {
	if s.tx != nil {
		return "", storeerr.New(storeerr.InvalidTxnState, "cliexec", "cannot switch database with a transaction open", nil)
	}
	dir := s.path(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", storeerr.New(storeerr.IOError, "cliexec", "creating database directory", err)
	}
	db, err := facade.Create(config.Default(dir))
	if err != nil {
		return "", err
	}
	s.closeCurrent()
	s.DB, s.current = db, name
	return "database " + name + " created", nil
}

// useDatabase switches the session onto an already-existing database,
// closing whichever one was open before.
func (s *Session) useDatabase(name string) (string, error) {
	if s.tx != nil {
		return "", storeerr.New(storeerr.InvalidTxnState, "cliexec", "cannot switch database with a transaction open", nil)
	}
	db, err := facade.Open(config.Default(s.path(name)))
	if err != nil {
		return "", err
	}
	s.closeCurrent()
	s.DB, s.current = db, name
	return "using " + name, nil
}

// dropDatabase closes name if it is the session's open database, then
// deletes its directory outright.
func (s *Session) dropDatabase(name string) (string, error) {
	if s.current == name {
		if s.tx != nil {
			return "", storeerr.New(storeerr.InvalidTxnState, "cliexec", "cannot drop the database with a transaction open", nil)
		}
		s.closeCurrent()
	}
	if err := os.RemoveAll(s.path(name)); err != nil {
		return "", storeerr.New(storeerr.IOError, "cliexec", "removing database directory", err)
	}
	return "database " + name + " dropped", nil
}

var (
	reCreateDatabase = regexp.MustCompile(`(?i)^CREATE\s+DATABASE\s+(\w+)\s*;?$`)
	reUseDatabase    = regexp.MustCompile(`(?i)^USE\s+DATABASE\s+(\w+)\s*;?$`)
	reDropDatabase   = regexp.MustCompile(`(?i)^DROP\s+DATABASE\s+(\w+)\s*;?$`)
	reCreateTable    = regexp.MustCompile(`(?i)^CREATE\s+TABLE\s+(\w+)\s*\((.*)\)\s*;?$`)
	reDropTable      = regexp.MustCompile(`(?i)^DROP\s+TABLE\s+(\w+)\s*;?$`)
	reCreateIndex    = regexp.MustCompile(`(?i)^CREATE\s+INDEX\s+ON\s+(\w+)\s*\(\s*(\w+)\s*\)(?:\s+(HASH|BTREE))?\s*;?$`)
	reInsert         = regexp.MustCompile(`(?i)^INSERT\s+INTO\s+(\w+)\s+VALUES\s*\((.*)\)\s*;?$`)
	reSelectJoin     = regexp.MustCompile(`(?i)^SELECT\s+\*\s+FROM\s+(\w+)\s+JOIN\s+(\w+)\s+ON\s+\w+\.(\w+)\s*=\s*\w+\.(\w+)\s*;?$`)
	reSelect         = regexp.MustCompile(`(?i)^SELECT\s+(.+?)\s+FROM\s+(\w+)(.*?)\s*;?$`)
	reUpdate         = regexp.MustCompile(`(?i)^UPDATE\s+(\w+)\s+SET\s+(\w+)\s*=\s*(\S+)\s+WHERE\s+(\w+)\s*(=|<>|<=|>=|<|>)\s*(\S+)\s*;?$`)
	reDelete         = regexp.MustCompile(`(?i)^DELETE\s+FROM\s+(\w+)\s+WHERE\s+(\w+)\s*(=|<>|<=|>=|<|>)\s*(\S+)\s*;?$`)
	reWhere          = regexp.MustCompile(`(?i)WHERE\s+(\w+)\s*(=|<>|<=|>=|<|>)\s*(\S+)`)
	reGroupBy        = regexp.MustCompile(`(?i)GROUP\s+BY\s+(\w+)`)
	reHaving         = regexp.MustCompile(`(?i)HAVING\s+(\w+)\s*\(\s*(\w+)\s*\)\s*(=|<>|<=|>=|<|>)\s*(\S+)`)
	reOrderBy        = regexp.MustCompile(`(?i)ORDER\s+BY\s+(\w+)(?:\s+(ASC|DESC))?`)
	reAggCol         = regexp.MustCompile(`(?i)^(COUNT|SUM|AVG|MIN|MAX)\s*\(\s*(\*|\w+)\s*\)$`)
	reAggAny         = regexp.MustCompile(`(?i)(COUNT|SUM|AVG|MIN|MAX)\s*\(\s*(\*|\w+)\s*\)`)
)

// Dispatch runs one statement and returns its human-readable result.
func (s *Session) Dispatch(line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}
	if m := reCreateDatabase.FindStringSubmatch(line); m != nil {
		return s.createDatabase(m[1])
	}
	if m := reUseDatabase.FindStringSubmatch(line); m != nil {
		return s.useDatabase(m[1])
	}
	if m := reDropDatabase.FindStringSubmatch(line); m != nil {
		return s.dropDatabase(m[1])
	}
	if s.DB == nil {
		return "", storeerr.New(storeerr.NotFound, "cliexec", "no database selected: run CREATE DATABASE or USE DATABASE first", nil)
	}

	upper := strings.ToUpper(line)
	switch {
	case upper == "BEGIN" || strings.HasPrefix(upper, "BEGIN TRANSACTION"):
		if s.tx != nil {
			return "", storeerr.New(storeerr.InvalidTxnState, "cliexec", "transaction already open", nil)
		}
		s.tx = s.DB.Begin()
		return fmt.Sprintf("transaction %d started", s.tx.ID()), nil
	case upper == "COMMIT":
		if s.tx == nil {
			return "", storeerr.New(storeerr.InvalidTxnState, "cliexec", "no open transaction", nil)
		}
		err := s.DB.Commit(s.tx)
		s.tx = nil
		return "commit ok", err
	case upper == "ROLLBACK":
		if s.tx == nil {
			return "", storeerr.New(storeerr.InvalidTxnState, "cliexec", "no open transaction", nil)
		}
		err := s.DB.Abort(s.tx)
		s.tx = nil
		return "rollback ok", err
	}

	if m := reCreateTable.FindStringSubmatch(line); m != nil {
		cols, err := parseColumns(m[2])
		if err != nil {
			return "", err
		}
		return "table created", s.DB.CreateTable(m[1], cols)
	}
	if m := reDropTable.FindStringSubmatch(line); m != nil {
		return "table dropped", s.DB.DropTable(m[1])
	}
	if m := reCreateIndex.FindStringSubmatch(line); m != nil {
		kind := index.BTree
		if strings.EqualFold(m[3], "HASH") {
			kind = index.Hash
		}
		return "index created", s.DB.CreateIndex(m[1], m[2], kind)
	}
	if m := reInsert.FindStringSubmatch(line); m != nil {
		row := splitValues(m[2])
		return "1 row inserted", s.DB.Insert(s.tx, m[1], row)
	}
	if m := reSelectJoin.FindStringSubmatch(line); m != nil {
		rows, err := s.DB.Join(s.tx, m[1], m[2], m[3], m[4], exec.Inner)
		return formatRows(rows), err
	}
	if m := reUpdate.FindStringSubmatch(line); m != nil {
		p, err := buildPredicate(m[4], m[5], m[6])
		if err != nil {
			return "", err
		}
		n, err := s.DB.Update(s.tx, m[1], p, map[string]string{m[2]: unquote(m[3])})
		return fmt.Sprintf("%d row(s) updated", n), err
	}
	if m := reDelete.FindStringSubmatch(line); m != nil {
		p, err := buildPredicate(m[2], m[3], m[4])
		if err != nil {
			return "", err
		}
		n, err := s.DB.Delete(s.tx, m[1], p)
		return fmt.Sprintf("%d row(s) deleted", n), err
	}
	if m := reSelect.FindStringSubmatch(line); m != nil {
		return s.dispatchSelect(m[1], m[2], m[3])
	}
	return "", storeerr.New(storeerr.SyntaxError, "cliexec", "unrecognized statement: "+line, nil)
}

func (s *Session) dispatchSelect(projection, table, rest string) (string, error) {
	var where *exec.Predicate
	if m := reWhere.FindStringSubmatch(rest); m != nil {
		p, err := buildPredicate(m[1], m[2], m[3])
		if err != nil {
			return "", err
		}
		where = &p
	}

	if groupM := reGroupBy.FindStringSubmatch(rest); groupM != nil {
		aggM := reAggAny.FindStringSubmatch(strings.TrimSpace(projection))
		if aggM == nil {
			return "", storeerr.New(storeerr.SyntaxError, "cliexec", "GROUP BY requires an aggregate projection", nil)
		}
		agg, err := parseAggregate(aggM[1])
		if err != nil {
			return "", err
		}
		var having *exec.Predicate
		if havM := reHaving.FindStringSubmatch(rest); havM != nil {
			hp, err := buildPredicate(havM[2], havM[3], havM[4])
			if err != nil {
				return "", err
			}
			having = &hp
		}
		groups, err := s.DB.GroupQuery(s.tx, table, groupM[1], agg, aggM[2], where, having)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, g := range groups {
			fmt.Fprintf(&b, "%s\t%v\n", g.Key, g.Value)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}

	var rows [][]string
	var err error
	if where != nil {
		rows, err = s.DB.SelectWhere(s.tx, table, *where)
	} else {
		rows, err = s.DB.Select(s.tx, table)
	}
	if err != nil {
		return "", err
	}

	proj := strings.TrimSpace(projection)
	if aggM := reAggCol.FindStringSubmatch(proj); aggM != nil {
		agg, err := parseAggregate(aggM[1])
		if err != nil {
			return "", err
		}
		schema, err := s.DB.Engine().Schema(table)
		if err != nil {
			return "", err
		}
		v, err := exec.ApplyAggregate(schema, rows, aggM[2], agg)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%v", v), nil
	}

	if orderM := reOrderBy.FindStringSubmatch(rest); orderM != nil {
		schema, err := s.DB.Engine().Schema(table)
		if err != nil {
			return "", err
		}
		rows, err = exec.OrderBy(schema, rows, orderM[1], strings.EqualFold(orderM[2], "DESC"))
		if err != nil {
			return "", err
		}
	}
	return formatRows(rows), nil
}

func parseAggregate(name string) (exec.Aggregate, error) {
	switch strings.ToUpper(name) {
	case "COUNT":
		return exec.Count, nil
	case "SUM":
		return exec.Sum, nil
	case "AVG":
		return exec.Avg, nil
	case "MIN":
		return exec.Min, nil
	case "MAX":
		return exec.Max, nil
	}
	return 0, storeerr.New(storeerr.SyntaxError, "cliexec", "unknown aggregate: "+name, nil)
}

func buildPredicate(col, op, val string) (exec.Predicate, error) {
	o, err := parseOp(op)
	if err != nil {
		return exec.Predicate{}, err
	}
	return exec.Predicate{Col: col, Op: o, Val: unquote(val)}, nil
}

func parseOp(s string) (exec.Op, error) {
	switch s {
	case "=":
		return exec.Eq, nil
	case "<>", "!=":
		return exec.Ne, nil
	case ">":
		return exec.Gt, nil
	case "<":
		return exec.Lt, nil
	case ">=":
		return exec.Ge, nil
	case "<=":
		return exec.Le, nil
	}
	return 0, storeerr.New(storeerr.SyntaxError, "cliexec", "unknown operator: "+s, nil)
}

// parseColumns reads "col TYPE [PRIMARY KEY] [FOREIGN KEY REFERENCES
// t(c)], …" per §6's CREATE TABLE shape.
func parseColumns(body string) ([]catalog.Column, error) {
	var cols []catalog.Column
	for _, part := range splitTopLevel(body, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if len(fields) < 2 {
			return nil, storeerr.New(storeerr.SyntaxError, "cliexec", "malformed column: "+part, nil)
		}
		col := catalog.Column{Name: fields[0]}
		kind, maxLen, err := parseType(fields[1])
		if err != nil {
			return nil, err
		}
		col.Kind = kind
		col.MaxLen = maxLen

		rest := strings.ToUpper(strings.Join(fields[2:], " "))
		if strings.Contains(rest, "PRIMARY KEY") {
			col.Flags |= catalog.FlagPrimaryKey | catalog.FlagNotNull
		}
		if strings.Contains(rest, "NOT NULL") {
			col.Flags |= catalog.FlagNotNull
		}
		if idx := strings.Index(rest, "FOREIGN KEY REFERENCES"); idx >= 0 {
			col.Flags |= catalog.FlagForeignKey
			refM := regexp.MustCompile(`REFERENCES\s+(\w+)\s*\(\s*(\w+)\s*\)`).FindStringSubmatch(rest)
			if refM == nil {
				return nil, storeerr.New(storeerr.SyntaxError, "cliexec", "malformed FOREIGN KEY in: "+part, nil)
			}
			col.RefTable = strings.ToLower(refM[1])
			col.RefColumn = strings.ToLower(refM[2])
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func parseType(tok string) (record.Kind, int32, error) {
	upper := strings.ToUpper(tok)
	switch {
	case upper == "INT" || upper == "INTEGER":
		return record.KindInt32, 0, nil
	case upper == "FLOAT" || upper == "REAL":
		return record.KindFloat32, 0, nil
	case upper == "BOOL" || upper == "BOOLEAN":
		return record.KindBool, 0, nil
	case strings.HasPrefix(upper, "VARCHAR"):
		m := regexp.MustCompile(`VARCHAR\((\d+)\)`).FindStringSubmatch(upper)
		if m == nil {
			return record.KindString, 0, nil
		}
		n, _ := strconv.Atoi(m[1])
		return record.KindString, int32(n), nil
	}
	return 0, 0, storeerr.New(storeerr.SyntaxError, "cliexec", "unknown column type: "+tok, nil)
}

func splitValues(body string) []string {
	parts := splitTopLevel(body, ',')
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = unquote(strings.TrimSpace(p))
	}
	return out
}

// splitTopLevel splits s on sep, ignoring sep characters that occur
// inside parentheses (so a FOREIGN KEY REFERENCES t(c) clause doesn't
// get cut in half by the outer column-list comma split).
func splitTopLevel(s string, sep rune) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func formatRows(rows [][]string) string {
	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintln(&b, strings.Join(row, "\t"))
	}
	return strings.TrimRight(b.String(), "\n")
}
