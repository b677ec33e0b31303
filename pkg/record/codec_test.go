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
	"errors"
	"reflect"
	"testing"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	raw := []string{"1", "Alice", "true"}
	buf := Serialize(raw)
	if len(buf) != Size(raw) {
		t.Fatalf("len(Serialize(raw)) = %d, Size(raw) = %d", len(buf), Size(raw))
	}
	got, consumed, err := Deserialize(buf)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(buf) {
		t.Errorf("consumed = %d, want %d", consumed, len(buf))
	}
	if !reflect.DeepEqual(got, raw) {
		t.Errorf("Deserialize(Serialize(raw)) = %v, want %v", got, raw)
	}
}

func TestSerializeEmptyTuple(t *testing.T) {
	raw := []string{}
	buf := Serialize(raw)
	got, consumed, err := Deserialize(buf)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(buf) {
		t.Errorf("consumed = %d, want %d", consumed, len(buf))
	}
	if len(got) != 0 {
		t.Errorf("Deserialize of an empty tuple = %v, want empty", got)
	}
}

func TestDeserializeConsecutiveRecordsInOnePage(t *testing.T) {
	a := Serialize([]string{"1", "Alice"})
	b := Serialize([]string{"2", "Bob"})
	buf := append(append([]byte(nil), a...), b...)

	got1, n1, err := Deserialize(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got1, []string{"1", "Alice"}) {
		t.Errorf("first record = %v", got1)
	}
	got2, n2, err := Deserialize(buf[n1:])
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got2, []string{"2", "Bob"}) {
		t.Errorf("second record = %v", got2)
	}
	if n1+n2 != len(buf) {
		t.Errorf("n1+n2 = %d, want %d", n1+n2, len(buf))
	}
}

func TestDeserializeZeroPrefixIsPadding(t *testing.T) {
	buf := make([]byte, 32)
	_, _, err := Deserialize(buf)
	if !errors.Is(err, ErrPadding) {
		t.Fatalf("Deserialize of a zeroed buffer = %v, want ErrPadding", err)
	}
}

func TestDeserializeTruncatedBuffer(t *testing.T) {
	raw := []string{"1", "Alice", "a long value to push this record past one short buffer"}
	buf := Serialize(raw)
	_, _, err := Deserialize(buf[:len(buf)-4])
	if err == nil {
		t.Fatal("expected an error deserializing a truncated buffer")
	}
}

func TestDeserializeShorterThanSizeField(t *testing.T) {
	_, _, err := Deserialize([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected an error on a buffer shorter than the total_size prefix")
	}
}
