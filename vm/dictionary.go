package vm

// ---------------------------------------------------------------------------
// Identity dictionaries
// ---------------------------------------------------------------------------

// A dictionary is a General object with three slots: the entry count and two
// parallel Arrays of keys and values. Keys are compared by identity and
// placed by open addressing on their identity hash. A nil key marks an empty
// bucket. Method dictionaries and user Dictionary instances share this
// layout.
const (
	dictTally = iota
	dictKeys
	dictValues
	dictSlots
)

const dictMinCapacity = 8

func dictCapacityFor(n int) int {
	c := dictMinCapacity
	for c*3 < n*4 {
		c *= 2
	}
	return c
}

// newDictionary allocates an empty dictionary of the given class sized for
// about n entries.
func newDictionary(h *Heap, class, arrayClass Value, n int) (Value, error) {
	return newDictionaryInstance(h, class, arrayClass, n, dictSlots)
}

// newDictionaryInstance is newDictionary for a class whose instances carry
// slots slots in total. Instance variables past the dictionary fields start
// out nil.
func newDictionaryInstance(h *Heap, class, arrayClass Value, n, slots int) (Value, error) {
	capacity := dictCapacityFor(n)
	mark := h.PushRoots(class, arrayClass)
	defer h.PopRoots(mark)

	keys, err := h.Allocate(KindArray, arrayClass, capacity)
	if err != nil {
		return Nil, err
	}
	h.PushRoots(keys)
	values, err := h.Allocate(KindArray, arrayClass, capacity)
	if err != nil {
		return Nil, err
	}
	vals := make([]Value, max(slots, dictSlots))
	vals[dictTally], vals[dictKeys], vals[dictValues] = fromIntUnchecked(0), keys, values
	return h.AllocateSlots(KindGeneral, class, vals)
}

type dictView struct {
	tally  int
	keys   Value
	values Value
	cap    int
}

func loadDict(h *Heap, d Value) (dictView, error) {
	var dv dictView
	tally, err := h.Slot(d, dictTally)
	if err != nil {
		return dv, err
	}
	if dv.tally, err = tallyOf(tally); err != nil {
		return dv, err
	}
	if dv.keys, err = h.Slot(d, dictKeys); err != nil {
		return dv, err
	}
	if dv.values, err = h.Slot(d, dictValues); err != nil {
		return dv, err
	}
	dv.cap, err = h.Size(dv.keys)
	return dv, err
}

func tallyOf(v Value) (int, error) {
	n, err := v.AsInt()
	return int(n), err
}

func keyHash(h *Heap, key Value) (uint32, error) {
	if key.IsImmediate() {
		return uint32(key.immediateHash()), nil
	}
	return h.Hash(key)
}

// dictFind returns the bucket holding key, or the empty bucket where it
// would go. found reports which.
func dictFind(h *Heap, dv dictView, key Value) (bucket int, found bool, err error) {
	hash, err := keyHash(h, key)
	if err != nil {
		return 0, false, err
	}
	mask := dv.cap - 1
	i := int(hash) & mask
	for range dv.cap {
		k, err := h.Slot(dv.keys, i)
		if err != nil {
			return 0, false, err
		}
		if k == key {
			return i, true, nil
		}
		if k.IsNil() {
			return i, false, nil
		}
		i = (i + 1) & mask
	}
	return -1, false, nil
}

// dictAt looks up key. ok is false when the key is absent.
func dictAt(h *Heap, d, key Value) (val Value, ok bool, err error) {
	dv, err := loadDict(h, d)
	if err != nil {
		return Nil, false, err
	}
	bucket, found, err := dictFind(h, dv, key)
	if err != nil || !found {
		return Nil, false, err
	}
	val, err = h.Slot(dv.values, bucket)
	return val, err == nil, err
}

// dictAtPut associates key with val, growing the buckets when three
// quarters full.
func dictAtPut(h *Heap, d, key, val Value) error {
	mark := h.PushRoots(d, key, val)
	defer h.PopRoots(mark)

	dv, err := loadDict(h, d)
	if err != nil {
		return err
	}
	bucket, found, err := dictFind(h, dv, key)
	if err != nil {
		return err
	}
	if found {
		return h.SetSlot(dv.values, bucket, val)
	}
	if (dv.tally+1)*4 > dv.cap*3 || bucket < 0 {
		if err := dictGrow(h, d, dv); err != nil {
			return err
		}
		if dv, err = loadDict(h, d); err != nil {
			return err
		}
		if bucket, _, err = dictFind(h, dv, key); err != nil {
			return err
		}
	}
	if err := h.SetSlot(dv.keys, bucket, key); err != nil {
		return err
	}
	if err := h.SetSlot(dv.values, bucket, val); err != nil {
		return err
	}
	return h.SetSlot(d, dictTally, fromIntUnchecked(int64(dv.tally+1)))
}

func dictGrow(h *Heap, d Value, old dictView) error {
	arrayClass, err := h.ClassOf(old.keys)
	if err != nil {
		return err
	}
	capacity := old.cap * 2
	keys, err := h.Allocate(KindArray, arrayClass, capacity)
	if err != nil {
		return err
	}
	mark := h.PushRoots(keys)
	defer h.PopRoots(mark)
	values, err := h.Allocate(KindArray, arrayClass, capacity)
	if err != nil {
		return err
	}

	nv := dictView{tally: old.tally, keys: keys, values: values, cap: capacity}
	for i := range old.cap {
		k, err := h.Slot(old.keys, i)
		if err != nil {
			return err
		}
		if k.IsNil() {
			continue
		}
		v, err := h.Slot(old.values, i)
		if err != nil {
			return err
		}
		bucket, _, err := dictFind(h, nv, k)
		if err != nil {
			return err
		}
		if err := h.SetSlot(keys, bucket, k); err != nil {
			return err
		}
		if err := h.SetSlot(values, bucket, v); err != nil {
			return err
		}
	}
	if err := h.SetSlot(d, dictKeys, keys); err != nil {
		return err
	}
	return h.SetSlot(d, dictValues, values)
}

// dictEach calls fn for every entry in bucket order.
func dictEach(h *Heap, d Value, fn func(key, val Value) error) error {
	dv, err := loadDict(h, d)
	if err != nil {
		return err
	}
	for i := range dv.cap {
		k, err := h.Slot(dv.keys, i)
		if err != nil {
			return err
		}
		if k.IsNil() {
			continue
		}
		v, err := h.Slot(dv.values, i)
		if err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// dictSize returns the number of entries.
func dictSize(h *Heap, d Value) (int, error) {
	tally, err := h.Slot(d, dictTally)
	if err != nil {
		return 0, err
	}
	return tallyOf(tally)
}
