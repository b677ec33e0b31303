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

package record

import (
	"encoding/binary"
	"errors"
	"fmt"

	"relstore/internal/storeerr"
)

// sizeField is the on-disk width of every size_t-shaped prefix: the
// record's total_size, its value_count, and each value's byte_length.
// The spec leaves endianness unspecified beyond "single-host
// artifacts" (§6); little-endian is used uniformly, matching the
// catalog's explicit "little-endian size_t table_count".
const sizeField = 8

// ErrPadding is returned by Deserialize when it reads a zero-length
// total_size prefix: trailing page padding, not a record (§4.3 scan).
var ErrPadding = errors.New("record: zero-length prefix (padding)")

func errArity(got, want int) error {
	return storeerr.New(storeerr.SchemaViolation, "record", fmt.Sprintf("arity %d, schema wants %d", got, want), nil)
}

// Size returns the serialized byte length of raw, without actually
// serializing it — a tuple's serialized size is a pure function of
// its values (§8).
func Size(raw []string) int {
	n := sizeField + sizeField // total_size + value_count
	for _, v := range raw {
		n += sizeField + len(v)
	}
	return n
}

// Serialize writes raw as: total_size, value_count, then for each
// value byte_length followed by its UTF-8 bytes. total_size includes
// its own field's width, matching §4.2.
func Serialize(raw []string) []byte {
	total := Size(raw)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:], uint64(total))
	binary.LittleEndian.PutUint64(buf[sizeField:], uint64(len(raw)))
	off := 2 * sizeField
	for _, v := range raw {
		binary.LittleEndian.PutUint64(buf[off:], uint64(len(v)))
		off += sizeField
		copy(buf[off:], v)
		off += len(v)
	}
	return buf
}

// Deserialize is the inverse of Serialize. It returns the raw textual
// values, the number of bytes consumed from buf, and an error if buf
// is truncated, a length field overruns buf, or the embedded
// total_size disagrees with the bytes actually consumed.
//
// A zero total_size is reported as ErrPadding, not CorruptData: the
// heap store writes zero bytes to pad a record that didn't fit before
// a page boundary, and scanning must treat that as end-of-records on
// the page rather than corruption.
func Deserialize(buf []byte) (raw []string, consumed int, err error) {
	if len(buf) < sizeField {
		return nil, 0, storeerr.New(storeerr.CorruptData, "record", "buffer shorter than total_size prefix", nil)
	}
	total := binary.LittleEndian.Uint64(buf[0:])
	if total == 0 {
		return nil, 0, ErrPadding
	}
	if total > uint64(len(buf)) {
		return nil, 0, storeerr.New(storeerr.CorruptData, "record", "total_size exceeds buffer", nil)
	}
	if total < 2*sizeField {
		return nil, 0, storeerr.New(storeerr.CorruptData, "record", "total_size smaller than header", nil)
	}
	count := binary.LittleEndian.Uint64(buf[sizeField:])
	off := 2 * sizeField
	values := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		if off+sizeField > int(total) {
			return nil, 0, storeerr.New(storeerr.CorruptData, "record", "truncated value length", nil)
		}
		l := binary.LittleEndian.Uint64(buf[off:])
		off += sizeField
		if off+int(l) > int(total) {
			return nil, 0, storeerr.New(storeerr.CorruptData, "record", "value length exceeds declared total_size", nil)
		}
		values = append(values, string(buf[off:off+int(l)]))
		off += int(l)
	}
	if off != int(total) {
		return nil, 0, storeerr.New(storeerr.CorruptData, "record", "consumed bytes disagree with total_size", nil)
	}
	return values, off, nil
}
