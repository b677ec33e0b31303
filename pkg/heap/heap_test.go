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

package heap

import (
	"path/filepath"
	"reflect"
	"testing"

	"relstore/pkg/record"
)

// row1 and row2 are sized so two of them serialize to exactly 76
// bytes (record.Size(["1","Alice"]) == 38), letting
// TestInsertExactPageBoundary drive a record landing flush against a
// page's last byte with zero padding.
var row1 = []string{"1", "Alice"}
var row2 = []string{"2", "Bobby"}

func TestInsertExactPageBoundary(t *testing.T) {
	if record.Size(row1) != 38 {
		t.Fatalf("record.Size(row1) = %d, want 38 (fixture no longer matches this test's page size)", record.Size(row1))
	}
	path := filepath.Join(t.TempDir(), "employees.heap")
	h, err := Create(path, 76)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	off1, err := h.Insert(row1)
	if err != nil {
		t.Fatal(err)
	}
	off2, err := h.Insert(row2)
	if err != nil {
		t.Fatal(err)
	}
	if off1 != 0 || off2 != 38 {
		t.Fatalf("offsets = %d, %d; want 0, 38 (both records packed into page 0)", off1, off2)
	}

	// A third record must start a fresh page: page 0 is exactly full.
	off3, err := h.Insert([]string{"3", "Carol"})
	if err != nil {
		t.Fatal(err)
	}
	if off3 != 76 {
		t.Fatalf("offset of third record = %d, want 76 (start of page 1)", off3)
	}

	got1, err := h.ReadAt(off1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got1, row1) {
		t.Errorf("ReadAt(off1) = %v, want %v", got1, row1)
	}
	got2, err := h.ReadAt(off2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got2, row2) {
		t.Errorf("ReadAt(off2) = %v, want %v", got2, row2)
	}
}

func TestScanVisitsEveryRecordAcrossPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "employees.heap")
	h, err := Create(path, 76)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	rows := [][]string{row1, row2, {"3", "Carol"}}
	for _, r := range rows {
		if _, err := h.Insert(r); err != nil {
			t.Fatal(err)
		}
	}

	it := h.Scan()
	var got [][]string
	for it.Next() {
		got = append(got, it.Record())
	}
	if it.Err() != nil {
		t.Fatal(it.Err())
	}
	if !reflect.DeepEqual(got, rows) {
		t.Errorf("Scan() visited %v, want %v", got, rows)
	}
}

func TestPointGetByKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "employees.heap")
	h, err := Create(path, 76)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	for _, r := range [][]string{row1, row2} {
		if _, err := h.Insert(r); err != nil {
			t.Fatal(err)
		}
	}

	got, _, found, err := h.PointGetByKey(2)
	if err != nil {
		t.Fatal(err)
	}
	if !found || !reflect.DeepEqual(got, row2) {
		t.Errorf("PointGetByKey(2) = %v, %v, want %v, true", got, found, row2)
	}

	_, _, found, err = h.PointGetByKey(99)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("PointGetByKey(99) reported found for an absent key")
	}
}

func TestRewriteReplacesContentsAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "employees.heap")
	h, err := Create(path, 76)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	for _, r := range [][]string{row1, row2, {"3", "Carol"}} {
		if _, err := h.Insert(r); err != nil {
			t.Fatal(err)
		}
	}

	survivors := [][]string{row2}
	if err := h.Rewrite(survivors); err != nil {
		t.Fatal(err)
	}

	it := h.Scan()
	var got [][]string
	for it.Next() {
		got = append(got, it.Record())
	}
	if it.Err() != nil {
		t.Fatal(it.Err())
	}
	if !reflect.DeepEqual(got, survivors) {
		t.Errorf("Scan() after Rewrite = %v, want %v", got, survivors)
	}

	// A fresh insert after Rewrite must land at the new, reopened
	// cursor rather than reusing offsets from before the rewrite.
	off, err := h.Insert([]string{"4", "Dan"})
	if err != nil {
		t.Fatal(err)
	}
	if off != int64(record.Size(row2)) {
		t.Fatalf("offset after Rewrite+Insert = %d, want %d", off, record.Size(row2))
	}
}

func TestInsertRejectsOversizedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "employees.heap")
	h, err := Create(path, 32)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	_, err = h.Insert([]string{"1", "a string far too long to fit in one 32-byte page"})
	if err == nil {
		t.Fatal("expected an error inserting a record larger than the page size")
	}
}
