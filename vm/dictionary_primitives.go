package vm

// ---------------------------------------------------------------------------
// Dictionary Primitives
// ---------------------------------------------------------------------------

// Dictionaries are keyed by symbols. A missing key answers nil.

func (vm *VM) dictReceiver(v Value) error {
	if !v.IsRef() || !vm.IsSubclassOf(vm.ClassOf(v), vm.DictionaryClass) {
		return Fail(KindTypeMismatch, "%s is not a dictionary", vm.describe(v))
	}
	return nil
}

func (vm *VM) symbolKey(v Value) error {
	if !vm.IsSymbol(v) {
		return Fail(KindArgumentError, "dictionary key must be a Symbol, got %s", vm.describe(v))
	}
	return nil
}

func (vm *VM) registerDictionaryPrimitives() {
	p := vm.Primitives

	p.Register(PrimDictAt, "Dictionary>>at:", 1, func(_ *Interpreter, recv Value, args []Value) (Value, error) {
		if err := vm.dictReceiver(recv); err != nil {
			return Nil, err
		}
		if err := vm.symbolKey(args[0]); err != nil {
			return Nil, err
		}
		v, _, err := dictAt(vm.heap, recv, args[0])
		return v, err
	})

	p.Register(PrimDictAtPut, "Dictionary>>at:put:", 2, func(_ *Interpreter, recv Value, args []Value) (Value, error) {
		if err := vm.dictReceiver(recv); err != nil {
			return Nil, err
		}
		if err := vm.symbolKey(args[0]); err != nil {
			return Nil, err
		}
		if err := dictAtPut(vm.heap, recv, args[0], args[1]); err != nil {
			return Nil, err
		}
		return args[1], nil
	})

	p.Register(PrimDictKeys, "Dictionary>>keys", 0, func(_ *Interpreter, recv Value, _ []Value) (Value, error) {
		if err := vm.dictReceiver(recv); err != nil {
			return Nil, err
		}
		var keys []Value
		if err := dictEach(vm.heap, recv, func(k, _ Value) error {
			keys = append(keys, k)
			return nil
		}); err != nil {
			return Nil, err
		}
		return vm.NewArray(keys...)
	})

	p.Register(PrimDictSize, "Dictionary>>size", 0, func(_ *Interpreter, recv Value, _ []Value) (Value, error) {
		if err := vm.dictReceiver(recv); err != nil {
			return Nil, err
		}
		n, err := dictSize(vm.heap, recv)
		if err != nil {
			return Nil, err
		}
		return fromIntUnchecked(int64(n)), nil
	})

	p.Register(PrimDictNew, "Dictionary class>>new", 0, func(_ *Interpreter, recv Value, _ []Value) (Value, error) {
		if !vm.IsClass(recv) || !vm.IsSubclassOf(recv, vm.DictionaryClass) {
			return Nil, Fail(KindTypeMismatch, "%s is not a dictionary class", vm.describe(recv))
		}
		size, err := vm.InstanceSize(recv)
		if err != nil {
			return Nil, err
		}
		return newDictionaryInstance(vm.heap, recv, vm.ArrayClass, 0, size)
	})
}
