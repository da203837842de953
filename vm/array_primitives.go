package vm

// ---------------------------------------------------------------------------
// Array Primitives
// ---------------------------------------------------------------------------

// indexableBounds returns the first indexable slot and the element count of
// a pointer-indexable object.
func (vm *VM) indexableBounds(recv Value) (first, n int, err error) {
	kind, err := vm.heap.Kind(recv)
	if err != nil || kind != KindArray {
		return 0, 0, Fail(KindTypeMismatch, "%s is not pointer-indexable", vm.describe(recv))
	}
	size, err := vm.heap.Size(recv)
	if err != nil {
		return 0, 0, err
	}
	named, err := vm.InstanceSize(vm.ClassOf(recv))
	if err != nil {
		named = 0
	}
	return named, size - named, nil
}

func (vm *VM) registerArrayPrimitives() {
	p := vm.Primitives

	p.Register(PrimArrayAt, "Array>>at:", 1, func(_ *Interpreter, recv Value, args []Value) (Value, error) {
		first, n, err := vm.indexableBounds(recv)
		if err != nil {
			return Nil, err
		}
		i, err := oneBasedIndex(args[0], n)
		if err != nil {
			return Nil, err
		}
		return vm.heap.Slot(recv, first+i)
	})

	p.Register(PrimArrayAtPut, "Array>>at:put:", 2, func(_ *Interpreter, recv Value, args []Value) (Value, error) {
		first, n, err := vm.indexableBounds(recv)
		if err != nil {
			return Nil, err
		}
		i, err := oneBasedIndex(args[0], n)
		if err != nil {
			return Nil, err
		}
		if err := vm.heap.SetSlot(recv, first+i, args[1]); err != nil {
			return Nil, err
		}
		return args[1], nil
	})

	p.Register(PrimArraySize, "Array>>size", 0, func(_ *Interpreter, recv Value, _ []Value) (Value, error) {
		_, n, err := vm.indexableBounds(recv)
		if err != nil {
			return Nil, err
		}
		return fromIntUnchecked(int64(n)), nil
	})
}
