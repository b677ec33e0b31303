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

// Package catalog implements the persistent table-name → schema map
// (§4.5): a single file per database directory holding a
// length-prefixed sequence of schema blobs, loaded wholesale on open
// and rewritten wholesale on save, the same "read the whole small
// control file into memory, rewrite it atomically on mutation" shape
// the teacher's pkg/sorted/mem.go KeyValue uses for its JSON dump.
package catalog

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"

	"relstore/internal/storeerr"
	"relstore/pkg/record"
)

// ColumnFlag is a bitmask of the column properties §3 names:
// primary_key, foreign_key, not_null, unique.
type ColumnFlag uint8

const (
	FlagPrimaryKey ColumnFlag = 1 << iota
	FlagForeignKey
	FlagNotNull
	FlagUnique
)

func (f ColumnFlag) Has(bit ColumnFlag) bool { return f&bit != 0 }

// Column is one column descriptor (§3).
type Column struct {
	Name      string
	Kind      record.Kind
	MaxLen    int32 // STRING only; 0 means variable-length
	Flags     ColumnFlag
	RefTable  string // foreign key target table, "" if none
	RefColumn string // foreign key target column, "" if none
}

// Schema is one table's name, ordered column list, and file paths.
// Column order is the canonical tuple order (§3).
type Schema struct {
	Name       string
	Columns    []Column
	HeapPath   string
	IndexPaths map[string]string // column name -> index file path
	IndexKinds map[string]uint8  // column name -> index.Kind, stored untyped to avoid an import of pkg/index here
}

// PrimaryKeyColumn returns the index of the schema's primary-key
// column, or -1 if none is declared.
func (s *Schema) PrimaryKeyColumn() int {
	for i, c := range s.Columns {
		if c.Flags.Has(FlagPrimaryKey) {
			return i
		}
	}
	return -1
}

// ColumnIndex returns the index of the named column, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Kinds returns the schema's column kinds in tuple order, the slice
// record.Attach wants.
func (s *Schema) Kinds() []record.Kind {
	ks := make([]record.Kind, len(s.Columns))
	for i, c := range s.Columns {
		ks[i] = c.Kind
	}
	return ks
}

// Catalog is the in-memory, process-local table of schemas for one
// database directory. Mutations are batched in memory per §4.5 and
// persisted only on Save or Close.
type Catalog struct {
	mu     sync.Mutex
	dir    string
	path   string
	tables map[string]*Schema
	order  []string // insertion order, preserved across Save/Load round-trips
	dirty  bool
}

func catalogFile(dir string) string { return filepath.Join(dir, "catalog.dat") }

// Create makes a brand-new, empty database directory: it creates dir
// if absent, writes the format stamp once, and returns an empty
// Catalog. It fails if dir already holds a format stamp.
func Create(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storeerr.New(storeerr.IOError, "catalog", "creating database directory", err)
	}
	if _, err := os.Stat(stampFile(dir)); err == nil {
		return nil, storeerr.New(storeerr.SchemaViolation, "catalog", "database directory already initialized", nil)
	}
	if err := writeFormatStamp(dir); err != nil {
		return nil, err
	}
	c := &Catalog{dir: dir, path: catalogFile(dir), tables: make(map[string]*Schema)}
	if err := c.saveLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads an existing database directory's catalog. A directory
// with a format stamp but no catalog.dat (Create always writes one, so
// this only happens if the file was removed) loads as empty — not an
// error, per §4.5 "empty if file absent."
func Load(dir string) (*Catalog, error) {
	if err := checkFormatStamp(dir); err != nil {
		return nil, err
	}
	c := &Catalog{dir: dir, path: catalogFile(dir), tables: make(map[string]*Schema)}
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, storeerr.New(storeerr.IOError, "catalog", "opening "+c.path, err)
	}
	defer f.Close()
	if err := c.decode(bufio.NewReader(f)); err != nil {
		return nil, err
	}
	return c, nil
}

// Close persists any pending mutations and releases the catalog. A
// Catalog has no other resources to release; Close exists for
// symmetry with every other component's lifecycle (§4.5: "persisted
// on Catalog.close() or on explicit save()").
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	return c.saveLocked()
}

// Save forces mutations to disk immediately.
func (c *Catalog) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// TableExists reports whether name is a known table.
func (c *Catalog) TableExists(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tables[name]
	return ok
}

// GetSchema returns the schema for name. The returned pointer must
// not be mutated by the caller; copy before changing flags/columns.
func (c *Catalog) GetSchema(name string) (*Schema, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.tables[name]
	return s, ok
}

// ListTables returns table names in the order they were added.
func (c *Catalog) ListTables() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// AddTable registers a new schema. It is an error to add a table
// name already present.
func (c *Catalog) AddTable(s *Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.tables[s.Name]; dup {
		return storeerr.New(storeerr.SchemaViolation, "catalog", "table already exists: "+s.Name, nil)
	}
	c.tables[s.Name] = s
	c.order = append(c.order, s.Name)
	c.dirty = true
	return nil
}

// RemoveTable drops a schema from the catalog. It does not touch the
// table's heap or index files; callers remove those separately once
// any locks on the table are released.
func (c *Catalog) RemoveTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[name]; !ok {
		return storeerr.New(storeerr.NotFound, "catalog", "no such table: "+name, nil)
	}
	delete(c.tables, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.dirty = true
	return nil
}

// MarkDirty flags the catalog as having pending changes not made
// through AddTable/RemoveTable — e.g. a caller that mutated a schema
// returned by GetSchema in place, such as CreateIndex registering a
// new index on an existing table.
func (c *Catalog) MarkDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
}

func (c *Catalog) saveLocked() error {
	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return storeerr.New(storeerr.IOError, "catalog", "creating temp file", err)
	}
	w := bufio.NewWriter(f)
	if err := c.encode(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return storeerr.New(storeerr.IOError, "catalog", "flushing", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return storeerr.New(storeerr.IOError, "catalog", "syncing", err)
	}
	if err := f.Close(); err != nil {
		return storeerr.New(storeerr.IOError, "catalog", "closing temp file", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return storeerr.New(storeerr.IOError, "catalog", "renaming into place", err)
	}
	c.dirty = false
	return nil
}

// encode writes count then each schema blob per §4.5's layout:
// name_len, name, column_count, then per column name_len, name,
// kind(u8), length(i32), flags(u8), ref_table, ref_column, then
// heap_path, index_count, and per index column name, path, and the
// index.Kind it was built with (u8) — strings themselves
// length-prefixed the same way record.Serialize prefixes byte
// strings, all integers little-endian.
func (c *Catalog) encode(w io.Writer) error {
	if err := writeUint64(w, uint64(len(c.order))); err != nil {
		return err
	}
	for _, name := range c.order {
		s := c.tables[name]
		if err := writeString(w, s.Name); err != nil {
			return err
		}
		if err := writeUint64(w, uint64(len(s.Columns))); err != nil {
			return err
		}
		for _, col := range s.Columns {
			if err := writeString(w, col.Name); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, uint8(col.Kind)); err != nil {
				return storeerr.New(storeerr.IOError, "catalog", "writing column kind", err)
			}
			if err := binary.Write(w, binary.LittleEndian, col.MaxLen); err != nil {
				return storeerr.New(storeerr.IOError, "catalog", "writing column length", err)
			}
			if err := binary.Write(w, binary.LittleEndian, uint8(col.Flags)); err != nil {
				return storeerr.New(storeerr.IOError, "catalog", "writing column flags", err)
			}
			if err := writeString(w, col.RefTable); err != nil {
				return err
			}
			if err := writeString(w, col.RefColumn); err != nil {
				return err
			}
		}
		if err := writeString(w, s.HeapPath); err != nil {
			return err
		}
		if err := writeUint64(w, uint64(len(s.IndexPaths))); err != nil {
			return err
		}
		for col, path := range s.IndexPaths {
			if err := writeString(w, col); err != nil {
				return err
			}
			if err := writeString(w, path); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, s.IndexKinds[col]); err != nil {
				return storeerr.New(storeerr.IOError, "catalog", "writing index kind", err)
			}
		}
	}
	return nil
}

func (c *Catalog) decode(r io.Reader) error {
	count, err := readUint64(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		s := &Schema{IndexPaths: make(map[string]string), IndexKinds: make(map[string]uint8)}
		if s.Name, err = readString(r); err != nil {
			return err
		}
		colCount, err := readUint64(r)
		if err != nil {
			return err
		}
		s.Columns = make([]Column, colCount)
		for j := uint64(0); j < colCount; j++ {
			col := &s.Columns[j]
			if col.Name, err = readString(r); err != nil {
				return err
			}
			var kind, flags uint8
			if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
				return storeerr.New(storeerr.CorruptData, "catalog", "reading column kind", err)
			}
			col.Kind = record.Kind(kind)
			if err := binary.Read(r, binary.LittleEndian, &col.MaxLen); err != nil {
				return storeerr.New(storeerr.CorruptData, "catalog", "reading column length", err)
			}
			if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
				return storeerr.New(storeerr.CorruptData, "catalog", "reading column flags", err)
			}
			col.Flags = ColumnFlag(flags)
			if col.RefTable, err = readString(r); err != nil {
				return err
			}
			if col.RefColumn, err = readString(r); err != nil {
				return err
			}
		}
		if s.HeapPath, err = readString(r); err != nil {
			return err
		}
		idxCount, err := readUint64(r)
		if err != nil {
			return err
		}
		for j := uint64(0); j < idxCount; j++ {
			col, err := readString(r)
			if err != nil {
				return err
			}
			path, err := readString(r)
			if err != nil {
				return err
			}
			var kind uint8
			if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
				return storeerr.New(storeerr.CorruptData, "catalog", "reading index kind", err)
			}
			s.IndexPaths[col] = path
			s.IndexKinds[col] = kind
		}
		c.tables[s.Name] = s
		c.order = append(c.order, s.Name)
	}
	return nil
}

func writeUint64(w io.Writer, v uint64) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return storeerr.New(storeerr.IOError, "catalog", "writing length field", err)
	}
	return nil
}

func readUint64(r io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, storeerr.New(storeerr.CorruptData, "catalog", "reading length field", err)
	}
	return v, nil
}

func writeString(w io.Writer, s string) error {
	if err := writeUint64(w, uint64(len(s))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return storeerr.New(storeerr.IOError, "catalog", "writing string", err)
	}
	return nil
}

func readString(r io.Reader) (string, error) {
	n, err := readUint64(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", storeerr.New(storeerr.CorruptData, "catalog", "reading string", err)
	}
	return string(buf), nil
}
