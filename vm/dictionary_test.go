package vm

import (
	"fmt"
	"testing"
)

func TestDictionary_GrowsAndKeepsEntries(t *testing.T) {
	v := newTestVM(t)
	h := v.Heap()
	d, err := v.NewDictionary()
	if err != nil {
		t.Fatal(err)
	}
	mark := h.PushRoots(d)
	defer h.PopRoots(mark)

	const n = 100
	keys := make([]Value, n)
	for i := range keys {
		keys[i], _ = v.Intern(fmt.Sprintf("key%d", i))
		if err := dictAtPut(h, d, keys[i], MustInt(int64(i))); err != nil {
			t.Fatal(err)
		}
	}
	// Overwriting does not add an entry.
	if err := dictAtPut(h, d, keys[7], MustInt(700)); err != nil {
		t.Fatal(err)
	}
	if size, _ := dictSize(h, d); size != n {
		t.Errorf("size = %d, want %d", size, n)
	}

	v.Collect()
	for i, k := range keys {
		want := MustInt(int64(i))
		if i == 7 {
			want = MustInt(700)
		}
		got, ok, err := dictAt(h, d, k)
		if err != nil || !ok || got != want {
			t.Errorf("at %d = %v, %v, %v; want %v", i, got, ok, err, want)
		}
	}

	missing, _ := v.Intern("absent")
	if got, ok, _ := dictAt(h, d, missing); ok || !got.IsNil() {
		t.Errorf("missing key answered %v, %v", got, ok)
	}

	seen := 0
	if err := dictEach(h, d, func(_, _ Value) error { seen++; return nil }); err != nil {
		t.Fatal(err)
	}
	if seen != n {
		t.Errorf("dictEach visited %d entries", seen)
	}
}

func TestDictionary_CapacityFor(t *testing.T) {
	for _, tt := range []struct{ n, want int }{{0, 8}, {6, 8}, {7, 16}, {12, 16}, {13, 32}} {
		if got := dictCapacityFor(tt.n); got != tt.want {
			t.Errorf("dictCapacityFor(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}
