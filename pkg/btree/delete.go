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

import "relstore/internal/storeerr"

// Delete removes the entry for key, rebalancing via borrow/merge so
// every leaf and internal node keeps at least its minimum occupancy
// (§9's open question on delete is resolved in favor of implementing
// full B+-tree deletion rather than refusing it — see SPEC_FULL.md).
func (t *Tree) Delete(key int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	path, leafNo, leaf, err := t.descend(key)
	if err != nil {
		return err
	}
	idx := lowerBound(leaf.keys, key)
	if idx >= len(leaf.keys) || leaf.keys[idx] != key {
		return storeerr.New(storeerr.NotFound, "btree", "key not present", nil)
	}
	leaf.keys = removeAtI32(leaf.keys, idx)
	leaf.ptrs = removeAtI64(leaf.ptrs, idx)

	if len(path) == 0 {
		// Leaf is the root: no minimum-occupancy constraint.
		return t.writeNode(leafNo, leaf)
	}

	minLeaf := ceilDiv(t.fanout-1, 2)
	if len(leaf.keys) >= minLeaf {
		return t.writeNode(leafNo, leaf)
	}
	return t.fixLeafUnderflow(path, leafNo, leaf, minLeaf)
}

func removeAtI32(s []int32, i int) []int32 { return append(s[:i], s[i+1:]...) }
func removeAtI64(s []int64, i int) []int64 { return append(s[:i], s[i+1:]...) }

func (t *Tree) fixLeafUnderflow(path []pathStep, leafNo int64, leaf *node, minLeaf int) error {
	last := path[len(path)-1]
	parent := last.n
	idx := last.childIdx

	if idx > 0 {
		leftNo := parent.ptrs[idx-1]
		left, err := t.readNode(leftNo)
		if err != nil {
			return err
		}
		if len(left.keys) > minLeaf {
			n := len(left.keys)
			bk, bp := left.keys[n-1], left.ptrs[n-1]
			left.keys, left.ptrs = left.keys[:n-1], left.ptrs[:n-1]
			leaf.keys = insertKey(leaf.keys, 0, bk)
			leaf.ptrs = insertPtr(leaf.ptrs, 0, bp)
			parent.keys[idx-1] = leaf.keys[0]
			if err := t.writeNode(leftNo, left); err != nil {
				return err
			}
			if err := t.writeNode(leafNo, leaf); err != nil {
				return err
			}
			return t.writeNode(last.pageNo, parent)
		}
	}
	if idx < len(parent.ptrs)-1 {
		rightNo := parent.ptrs[idx+1]
		right, err := t.readNode(rightNo)
		if err != nil {
			return err
		}
		if len(right.keys) > minLeaf {
			bk, bp := right.keys[0], right.ptrs[0]
			right.keys, right.ptrs = right.keys[1:], right.ptrs[1:]
			leaf.keys = append(leaf.keys, bk)
			leaf.ptrs = append(leaf.ptrs, bp)
			parent.keys[idx] = right.keys[0]
			if err := t.writeNode(rightNo, right); err != nil {
				return err
			}
			if err := t.writeNode(leafNo, leaf); err != nil {
				return err
			}
			return t.writeNode(last.pageNo, parent)
		}
	}

	// Borrowing failed on both sides: merge.
	if idx > 0 {
		leftNo := parent.ptrs[idx-1]
		left, err := t.readNode(leftNo)
		if err != nil {
			return err
		}
		left.keys = append(left.keys, leaf.keys...)
		left.ptrs = append(left.ptrs, leaf.ptrs...)
		left.nextLeaf = leaf.nextLeaf
		if err := t.writeNode(leftNo, left); err != nil {
			return err
		}
		parent.keys = removeAtI32(parent.keys, idx-1)
		parent.ptrs = removeAtI64(parent.ptrs, idx)
	} else {
		rightNo := parent.ptrs[idx+1]
		right, err := t.readNode(rightNo)
		if err != nil {
			return err
		}
		leaf.keys = append(leaf.keys, right.keys...)
		leaf.ptrs = append(leaf.ptrs, right.ptrs...)
		leaf.nextLeaf = right.nextLeaf
		if err := t.writeNode(leafNo, leaf); err != nil {
			return err
		}
		parent.keys = removeAtI32(parent.keys, idx)
		parent.ptrs = removeAtI64(parent.ptrs, idx+1)
	}

	return t.fixInternalUnderflow(path[:len(path)-1], last.pageNo, parent)
}

func (t *Tree) fixInternalUnderflow(path []pathStep, nodeNo int64, n *node) error {
	if len(path) == 0 {
		if len(n.keys) == 0 && len(n.ptrs) == 1 {
			newRootNo := n.ptrs[0]
			child, err := t.readNode(newRootNo)
			if err != nil {
				return err
			}
			child.parent = noPage
			if err := t.writeNode(newRootNo, child); err != nil {
				return err
			}
			return t.setRoot(newRootNo)
		}
		return t.writeNode(nodeNo, n)
	}

	minInternalKeys := ceilDiv(t.fanout, 2) - 1
	if len(n.keys) >= minInternalKeys {
		return t.writeNode(nodeNo, n)
	}

	last := path[len(path)-1]
	parent := last.n
	idx := last.childIdx

	if idx > 0 {
		leftNo := parent.ptrs[idx-1]
		left, err := t.readNode(leftNo)
		if err != nil {
			return err
		}
		if len(left.keys) > minInternalKeys {
			ln := len(left.keys)
			movedChild := left.ptrs[ln]
			movedKey := left.keys[ln-1]
			left.keys = left.keys[:ln-1]
			left.ptrs = left.ptrs[:ln]
			n.keys = insertKey(n.keys, 0, parent.keys[idx-1])
			n.ptrs = insertPtr(n.ptrs, 0, movedChild)
			parent.keys[idx-1] = movedKey
			if err := t.reparent(movedChild, nodeNo); err != nil {
				return err
			}
			if err := t.writeNode(leftNo, left); err != nil {
				return err
			}
			if err := t.writeNode(nodeNo, n); err != nil {
				return err
			}
			return t.writeNode(last.pageNo, parent)
		}
	}
	if idx < len(parent.ptrs)-1 {
		rightNo := parent.ptrs[idx+1]
		right, err := t.readNode(rightNo)
		if err != nil {
			return err
		}
		if len(right.keys) > minInternalKeys {
			movedChild := right.ptrs[0]
			movedKey := right.keys[0]
			right.keys = right.keys[1:]
			right.ptrs = right.ptrs[1:]
			n.keys = append(n.keys, parent.keys[idx])
			n.ptrs = append(n.ptrs, movedChild)
			parent.keys[idx] = movedKey
			if err := t.reparent(movedChild, nodeNo); err != nil {
				return err
			}
			if err := t.writeNode(rightNo, right); err != nil {
				return err
			}
			if err := t.writeNode(nodeNo, n); err != nil {
				return err
			}
			return t.writeNode(last.pageNo, parent)
		}
	}

	if idx > 0 {
		leftNo := parent.ptrs[idx-1]
		left, err := t.readNode(leftNo)
		if err != nil {
			return err
		}
		left.keys = append(left.keys, parent.keys[idx-1])
		left.keys = append(left.keys, n.keys...)
		left.ptrs = append(left.ptrs, n.ptrs...)
		for _, c := range n.ptrs {
			if err := t.reparent(c, leftNo); err != nil {
				return err
			}
		}
		if err := t.writeNode(leftNo, left); err != nil {
			return err
		}
		parent.keys = removeAtI32(parent.keys, idx-1)
		parent.ptrs = removeAtI64(parent.ptrs, idx)
	} else {
		rightNo := parent.ptrs[idx+1]
		right, err := t.readNode(rightNo)
		if err != nil {
			return err
		}
		n.keys = append(n.keys, parent.keys[idx])
		n.keys = append(n.keys, right.keys...)
		n.ptrs = append(n.ptrs, right.ptrs...)
		for _, c := range right.ptrs {
			if err := t.reparent(c, nodeNo); err != nil {
				return err
			}
		}
		if err := t.writeNode(nodeNo, n); err != nil {
			return err
		}
		parent.keys = removeAtI32(parent.keys, idx)
		parent.ptrs = removeAtI64(parent.ptrs, idx+1)
	}

	return t.fixInternalUnderflow(path[:len(path)-1], last.pageNo, parent)
}
