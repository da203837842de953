package vm

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestHeap_AllocateAndAccess(t *testing.T) {
	h := NewHeap(1024, 0.9)
	obj, err := h.Allocate(KindGeneral, Nil, 3)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := h.Size(obj); n != 3 {
		t.Errorf("Size = %d, want 3", n)
	}
	for i := range 3 {
		if v, _ := h.Slot(obj, i); !v.IsNil() {
			t.Errorf("slot %d = %v, want nil", i, v)
		}
	}
	if err := h.SetSlot(obj, 1, MustInt(9)); err != nil {
		t.Fatal(err)
	}
	if v, _ := h.Slot(obj, 1); v != MustInt(9) {
		t.Errorf("slot 1 = %v, want 9", v)
	}
	if _, err := h.Slot(obj, 3); !errors.Is(err, ErrIndex) {
		t.Errorf("Slot(3) error = %v, want IndexError", err)
	}
	if _, err := h.Byte(obj, 0); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Byte on a pointer object: %v", err)
	}
	if f, _ := h.Flags(obj); f&FlagContainsPointers == 0 {
		t.Error("pointer object should carry ContainsPointers")
	}
}

func TestHeap_BytePacking(t *testing.T) {
	h := NewHeap(1024, 0.9)
	data := []byte("eleven bytes")
	obj, err := h.AllocateBytes(KindByteArray, Nil, data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := h.Bytes(obj)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("Bytes = %q, %v", got, err)
	}
	if err := h.SetByte(obj, 9, 'X'); err != nil {
		t.Fatal(err)
	}
	if b, _ := h.Byte(obj, 9); b != 'X' {
		t.Errorf("Byte(9) = %q", b)
	}
	if b, _ := h.Byte(obj, 8); b != 'y' {
		t.Errorf("neighbouring byte clobbered: %q", b)
	}
	if _, err := h.Slot(obj, 0); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Slot on a byte object: %v", err)
	}
}

func TestHeap_Immutable(t *testing.T) {
	h := NewHeap(256, 0.9)
	obj, _ := h.Allocate(KindGeneral, Nil, 1)
	if err := h.SetFlags(obj, FlagImmutable, true); err != nil {
		t.Fatal(err)
	}
	if err := h.SetSlot(obj, 0, True); !errors.Is(err, ErrArgument) {
		t.Errorf("SetSlot on an immutable object: %v", err)
	}
	// Only Pinned and Immutable are client-settable.
	_ = h.SetFlags(obj, FlagForwarded, true)
	if f, _ := h.Flags(obj); f&FlagForwarded != 0 {
		t.Error("Forwarded should not be settable")
	}
}

func TestHeap_OutOfMemory(t *testing.T) {
	h := NewHeap(64, 1)
	mark := h.PushRoots()
	defer h.PopRoots(mark)
	var err error
	for range 100 {
		var v Value
		if v, err = h.Allocate(KindGeneral, Nil, 6); err != nil {
			break
		}
		h.PushRoots(v)
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("error = %v, want OutOfMemory", err)
	}
}

func TestGC_UnreachableReclaimed(t *testing.T) {
	h := NewHeap(1024, 0.9)
	kept, _ := h.Allocate(KindGeneral, Nil, 1)
	garbage, _ := h.Allocate(KindGeneral, Nil, 4)
	child, _ := h.AllocateBytes(KindByteArray, Nil, []byte("child"))
	_ = h.SetSlot(kept, 0, child)

	mark := h.PushRoots(kept)
	h.Collect()
	h.PopRoots(mark)

	if !h.IsLive(kept) || !h.IsLive(child) {
		t.Fatal("reachable objects were reclaimed")
	}
	if h.IsLive(garbage) {
		t.Error("unreachable object survived")
	}
	if _, err := h.Slot(garbage, 0); err == nil {
		t.Error("access through a freed handle should fail")
	}
	st := h.Stats()
	if st.Collections != 1 || st.LastSurvivors != 2 || st.LastFreed != 1 {
		t.Errorf("stats = %+v", st)
	}
	if got, _ := h.Bytes(child); string(got) != "child" {
		t.Errorf("child bytes = %q after collection", got)
	}
}

func TestGC_PinnedSurvives(t *testing.T) {
	h := NewHeap(256, 0.9)
	obj, _ := h.Allocate(KindGeneral, Nil, 1)
	_ = h.SetFlags(obj, FlagPinned, true)
	h.Collect()
	if !h.IsLive(obj) {
		t.Fatal("pinned object was reclaimed")
	}
	_ = h.SetFlags(obj, FlagPinned, false)
	h.Collect()
	if h.IsLive(obj) {
		t.Error("unpinned unreachable object survived")
	}
}

// TestGC_PreservesGraph builds a random object graph, collects and checks
// that every reachable object kept its identity, hash and contents.
func TestGC_PreservesGraph(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := NewHeap(1<<14, 0.95)
	const n = 200
	objs := make([]Value, n)
	for i := range objs {
		v, err := h.Allocate(KindArray, Nil, 1+rng.Intn(4))
		if err != nil {
			t.Fatal(err)
		}
		objs[i] = v
	}
	for i, o := range objs {
		size, _ := h.Size(o)
		for s := range size {
			switch rng.Intn(3) {
			case 0:
				_ = h.SetSlot(o, s, objs[rng.Intn(n)])
			case 1:
				_ = h.SetSlot(o, s, MustInt(int64(i*10+s)))
			}
		}
	}

	roots := []Value{objs[0], objs[1]}
	reach := map[Value]bool{}
	var walk func(Value)
	walk = func(v Value) {
		if !v.IsRef() || reach[v] {
			return
		}
		reach[v] = true
		size, _ := h.Size(v)
		for s := range size {
			c, _ := h.Slot(v, s)
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}

	type snapshot struct {
		hash  uint32
		slots []Value
	}
	before := map[Value]snapshot{}
	for v := range reach {
		hash, _ := h.Hash(v)
		size, _ := h.Size(v)
		slots := make([]Value, size)
		for s := range slots {
			slots[s], _ = h.Slot(v, s)
		}
		before[v] = snapshot{hash, slots}
	}

	mark := h.PushRoots(roots...)
	h.Collect()
	h.PopRoots(mark)

	for _, o := range objs {
		if h.IsLive(o) != reach[o] {
			t.Fatalf("%v live=%v, reachable=%v", o, h.IsLive(o), reach[o])
		}
	}
	for v, snap := range before {
		if hash, _ := h.Hash(v); hash != snap.hash {
			t.Errorf("%v hash changed", v)
		}
		for s, want := range snap.slots {
			if got, _ := h.Slot(v, s); got != want {
				t.Errorf("%v slot %d = %v, want %v", v, s, got, want)
			}
		}
	}
	if got := h.Stats().LiveHandles; got != len(reach) {
		t.Errorf("LiveHandles = %d, want %d", got, len(reach))
	}
}

func TestGC_HandleReuse(t *testing.T) {
	h := NewHeap(256, 0.9)
	a, _ := h.Allocate(KindGeneral, Nil, 1)
	h.Collect()
	b, _ := h.Allocate(KindGeneral, Nil, 1)
	if a != b {
		t.Errorf("freed handle %v not reused, got %v", a, b)
	}
}

func TestGC_RootScannerAndHooks(t *testing.T) {
	h := NewHeap(256, 0.9)
	held, _ := h.Allocate(KindGeneral, Nil, 1)
	h.AddRootScanner(func(visit func(Value)) { visit(held) })
	calls := 0
	h.OnCollect(func() { calls++ })
	h.Collect()
	h.Collect()
	if !h.IsLive(held) {
		t.Error("scanner root was reclaimed")
	}
	if calls != 2 {
		t.Errorf("hook ran %d times, want 2", calls)
	}
}

func TestGC_TriggeredByAllocation(t *testing.T) {
	h := NewHeap(512, 0.5)
	keep, _ := h.AllocateSlots(KindArray, Nil, []Value{MustInt(1), MustInt(2)})
	mark := h.PushRoots(keep)
	defer h.PopRoots(mark)
	for range 200 {
		if _, err := h.Allocate(KindGeneral, Nil, 4); err != nil {
			t.Fatal(err)
		}
	}
	if h.Stats().Collections == 0 {
		t.Fatal("allocation pressure never triggered a collection")
	}
	if v, _ := h.Slot(keep, 1); v != MustInt(2) {
		t.Errorf("rooted object corrupted: slot 1 = %v", v)
	}
}

func TestGC_BacksOffWhenSurvivorsExceedThreshold(t *testing.T) {
	h := NewHeap(1024, 0.5)
	big, err := h.Allocate(KindArray, Nil, 700)
	if err != nil {
		t.Fatal(err)
	}
	mark := h.PushRoots(big)
	defer h.PopRoots(mark)

	before := h.Stats().Collections
	for range 100 {
		if _, err := h.Allocate(KindGeneral, Nil, 1); err != nil {
			t.Fatal(err)
		}
	}
	got := h.Stats().Collections - before
	if got == 0 || got > 3 {
		t.Errorf("100 small allocations ran %d collections, want 1..3", got)
	}
	if !h.IsLive(big) {
		t.Error("rooted object was reclaimed")
	}
}
