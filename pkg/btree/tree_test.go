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

package btree

import (
	"path/filepath"
	"testing"
)

func newTree(t *testing.T, fanout int, unique bool) *Tree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx.dat")
	tr, err := Create(path, encodedSize(fanout)+64, fanout, unique)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func allKeys(t *testing.T, tr *Tree) []int32 {
	t.Helper()
	es, err := tr.Range(-1<<31, 1<<31-1)
	if err != nil {
		t.Fatal(err)
	}
	keys := make([]int32, len(es))
	for i, e := range es {
		keys[i] = e.Key
	}
	return keys
}

// TestInsertForcesLeafSplit uses fanout 4, whose leaf cap is 3 keys:
// a 4th insert must split the root leaf into two leaves under a new
// internal root.
func TestInsertForcesLeafSplit(t *testing.T) {
	tr := newTree(t, 4, true)
	for _, k := range []int32{10, 20, 30, 40} {
		if err := tr.Insert(k, int64(k)*100); err != nil {
			t.Fatal(err)
		}
	}

	root, err := tr.root()
	if err != nil {
		t.Fatal(err)
	}
	n, err := tr.readNode(root)
	if err != nil {
		t.Fatal(err)
	}
	if n.isLeaf {
		t.Fatal("root is still a leaf after a 4th insert at fanout 4; expected a split")
	}
	if len(n.ptrs) != 2 {
		t.Fatalf("root has %d children, want 2 right after the first split", len(n.ptrs))
	}

	for _, k := range []int32{10, 20, 30, 40} {
		ptr, found, err := tr.Search(k)
		if err != nil {
			t.Fatal(err)
		}
		if !found || ptr != int64(k)*100 {
			t.Errorf("Search(%d) = %d, %v, want %d, true", k, ptr, found, int64(k)*100)
		}
	}
}

// TestInsertForcesInternalSplit inserts enough keys at fanout 4 to
// overflow an internal node too, not just leaves.
func TestInsertForcesInternalSplit(t *testing.T) {
	tr := newTree(t, 4, true)
	for k := int32(1); k <= 20; k++ {
		if err := tr.Insert(k, int64(k)); err != nil {
			t.Fatal(err)
		}
	}

	root, err := tr.root()
	if err != nil {
		t.Fatal(err)
	}
	n, err := tr.readNode(root)
	if err != nil {
		t.Fatal(err)
	}
	if n.isLeaf {
		t.Fatal("expected a multi-level tree after 20 inserts at fanout 4")
	}

	got := allKeys(t, tr)
	if len(got) != 20 {
		t.Fatalf("Range returned %d keys, want 20", len(got))
	}
	for i, k := range got {
		if k != int32(i+1) {
			t.Fatalf("got[%d] = %d, want %d (keys out of order across leaves)", i, k, i+1)
		}
	}
}

func TestInsertUniqueRejectsDuplicate(t *testing.T) {
	tr := newTree(t, 4, true)
	if err := tr.Insert(1, 100); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(1, 200); err == nil {
		t.Fatal("expected a duplicate-key error on a unique index")
	}
}

func TestInsertNonUniqueAllowsDuplicateKeys(t *testing.T) {
	tr := newTree(t, 4, false)
	if err := tr.Insert(1, 100); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(1, 200); err != nil {
		t.Fatal(err)
	}
	es, err := tr.Range(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 2 {
		t.Fatalf("Range(1,1) returned %d entries, want 2", len(es))
	}
}

// TestDeleteTriggersLeafMerge inserts enough keys to build a multi-leaf
// tree, then deletes down to the point where an underflowing leaf must
// borrow or merge with a sibling, per §9's B+-tree delete behavior.
func TestDeleteTriggersLeafMerge(t *testing.T) {
	tr := newTree(t, 4, true)
	for k := int32(1); k <= 9; k++ {
		if err := tr.Insert(k, int64(k)); err != nil {
			t.Fatal(err)
		}
	}

	// Delete most keys, forcing repeated underflow handling across
	// the whole tree rather than just the first leaf.
	for _, k := range []int32{2, 3, 5, 6, 8} {
		if err := tr.Delete(k); err != nil {
			t.Fatalf("Delete(%d): %v", k, err)
		}
	}

	want := []int32{1, 4, 7, 9}
	got := allKeys(t, tr)
	if len(got) != len(want) {
		t.Fatalf("keys after deletes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys after deletes = %v, want %v", got, want)
		}
	}

	for _, k := range want {
		if _, found, err := tr.Search(k); err != nil || !found {
			t.Errorf("Search(%d) after deletes = found=%v, err=%v, want found=true", k, found, err)
		}
	}
	for _, k := range []int32{2, 3, 5, 6, 8} {
		if _, found, err := tr.Search(k); err != nil || found {
			t.Errorf("Search(%d) after deleting it = found=%v, err=%v, want found=false", k, found, err)
		}
	}
}

func TestDeleteMissingKeyFails(t *testing.T) {
	tr := newTree(t, 4, true)
	if err := tr.Insert(1, 1); err != nil {
		t.Fatal(err)
	}
	if err := tr.Delete(99); err == nil {
		t.Fatal("expected an error deleting an absent key")
	}
}

func TestCloseAndReopenPreservesTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.dat")
	tr, err := Create(path, 256, 4, true)
	if err != nil {
		t.Fatal(err)
	}
	for k := int32(1); k <= 10; k++ {
		if err := tr.Insert(k, int64(k)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, 256, 4, true)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	got := allKeys(t, reopened)
	if len(got) != 10 {
		t.Fatalf("keys after reopen = %v, want 10 entries", got)
	}
}
