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

import "encoding/binary"

// noPage marks an absent page pointer (parent of the root, next_leaf
// of the rightmost leaf).
const noPage int64 = -1

// node is one B+-tree node, decoded from a page. For a leaf, ptrs
// holds one record pointer per key. For an internal node, ptrs holds
// one more child page number than it has keys. Nodes are always
// addressed and persisted by page number (§9 "cyclic ownership"): no
// in-memory pointer ever refers to another node directly.
type node struct {
	isLeaf   bool
	parent   int64
	nextLeaf int64 // leaves only; noPage for internal nodes
	keys     []int32
	ptrs     []int64
}

const (
	hdrIsLeaf   = 0
	hdrKeyCount = 1
	hdrParent   = 5
	hdrNextLeaf = 13
	hdrLen      = 21
)

func keysOffset() int { return hdrLen }

func ptrsOffset(fanout int) int { return hdrLen + (fanout-1)*4 }

// encodedSize returns the page bytes a node of this fanout occupies
// before padding, so callers can size pages appropriately ("header +
// fanout*sizeof(pointer) <= P", §3).
func encodedSize(fanout int) int { return ptrsOffset(fanout) + fanout*8 }

func encodeNode(n *node, pageSize, fanout int) []byte {
	buf := make([]byte, pageSize)
	if n.isLeaf {
		buf[hdrIsLeaf] = 1
	}
	binary.LittleEndian.PutUint32(buf[hdrKeyCount:], uint32(len(n.keys)))
	binary.LittleEndian.PutUint64(buf[hdrParent:], uint64(n.parent))
	binary.LittleEndian.PutUint64(buf[hdrNextLeaf:], uint64(n.nextLeaf))
	ko := keysOffset()
	for i, k := range n.keys {
		binary.LittleEndian.PutUint32(buf[ko+i*4:], uint32(k))
	}
	po := ptrsOffset(fanout)
	for i, p := range n.ptrs {
		binary.LittleEndian.PutUint64(buf[po+i*8:], uint64(p))
	}
	return buf
}

func decodeNode(buf []byte, fanout int) *node {
	n := &node{
		isLeaf:   buf[hdrIsLeaf] == 1,
		parent:   int64(binary.LittleEndian.Uint64(buf[hdrParent:])),
		nextLeaf: int64(binary.LittleEndian.Uint64(buf[hdrNextLeaf:])),
	}
	keyCount := int(binary.LittleEndian.Uint32(buf[hdrKeyCount:]))
	ko := keysOffset()
	n.keys = make([]int32, keyCount)
	for i := range n.keys {
		n.keys[i] = int32(binary.LittleEndian.Uint32(buf[ko+i*4:]))
	}
	po := ptrsOffset(fanout)
	nptrs := keyCount
	if !n.isLeaf {
		nptrs = keyCount + 1
	}
	n.ptrs = make([]int64, nptrs)
	for i := range n.ptrs {
		n.ptrs[i] = int64(binary.LittleEndian.Uint64(buf[po+i*8:]))
	}
	return n
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
