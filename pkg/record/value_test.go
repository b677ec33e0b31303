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

import "testing"

func TestNewConstructorsRoundTripThroughRaw(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want string
	}{
		{"int32", NewInt32(-42), "-42"},
		{"float32", NewFloat32(3.5), "3.5"},
		{"string", NewString("Alice"), "Alice"},
		{"bool", NewBool(true), "true"},
	}
	for _, c := range cases {
		if c.v.Raw != c.want {
			t.Errorf("%s: Raw = %q, want %q", c.name, c.v.Raw, c.want)
		}
	}

	if n, ok := NewInt32(-42).Int32(); !ok || n != -42 {
		t.Errorf("NewInt32(-42).Int32() = %d, %v", n, ok)
	}
	if f, ok := NewFloat32(3.5).Float32(); !ok || f != 3.5 {
		t.Errorf("NewFloat32(3.5).Float32() = %v, %v", f, ok)
	}
	if b, ok := NewBool(true).Bool(); !ok || !b {
		t.Errorf("NewBool(true).Bool() = %v, %v", b, ok)
	}
}

func TestAttachReattachesSchemaKinds(t *testing.T) {
	kinds := []Kind{KindInt32, KindString, KindBool}
	tuple, err := Attach([]string{"7", "Bob", "false"}, kinds)
	if err != nil {
		t.Fatal(err)
	}
	if len(tuple) != 3 {
		t.Fatalf("len(tuple) = %d, want 3", len(tuple))
	}
	if tuple[0].Kind != KindInt32 || tuple[1].Kind != KindString || tuple[2].Kind != KindBool {
		t.Fatalf("tuple kinds = %v, %v, %v", tuple[0].Kind, tuple[1].Kind, tuple[2].Kind)
	}
	if n, ok := tuple[0].Int32(); !ok || n != 7 {
		t.Errorf("tuple[0].Int32() = %d, %v", n, ok)
	}
	if b, ok := tuple[2].Bool(); !ok || b {
		t.Errorf("tuple[2].Bool() = %v, %v", b, ok)
	}
}

func TestAttachArityMismatch(t *testing.T) {
	_, err := Attach([]string{"1", "2"}, []Kind{KindInt32})
	if err == nil {
		t.Fatal("expected an error on raw/kinds length mismatch")
	}
}

func TestDetachStripsKindTags(t *testing.T) {
	kinds := []Kind{KindInt32, KindString}
	raw := []string{"9", "hello"}
	tuple, err := Attach(raw, kinds)
	if err != nil {
		t.Fatal(err)
	}
	got := Detach(tuple)
	if len(got) != len(raw) {
		t.Fatalf("len(Detach(tuple)) = %d, want %d", len(got), len(raw))
	}
	for i := range raw {
		if got[i] != raw[i] {
			t.Errorf("Detach(tuple)[%d] = %q, want %q", i, got[i], raw[i])
		}
	}
}
