package vm

// ---------------------------------------------------------------------------
// String and Symbol Primitives
// ---------------------------------------------------------------------------

// There is no Character class; string elements are byte values as
// SmallIntegers.

func (vm *VM) stringReceiver(v Value) ([]byte, error) {
	if !vm.IsString(v) && !vm.IsSymbol(v) {
		return nil, Fail(KindTypeMismatch, "%s is not a string", vm.describe(v))
	}
	return vm.heap.Bytes(v)
}

func (vm *VM) registerStringPrimitives() {
	p := vm.Primitives

	p.Register(PrimStringAt, "String>>at:", 1, func(_ *Interpreter, recv Value, args []Value) (Value, error) {
		b, err := vm.stringReceiver(recv)
		if err != nil {
			return Nil, err
		}
		i, err := oneBasedIndex(args[0], len(b))
		if err != nil {
			return Nil, err
		}
		return fromIntUnchecked(int64(b[i])), nil
	})

	p.Register(PrimStringAtPut, "String>>at:put:", 2, func(_ *Interpreter, recv Value, args []Value) (Value, error) {
		if !vm.IsString(recv) {
			return Nil, Fail(KindTypeMismatch, "%s is not a mutable string", vm.describe(recv))
		}
		n, err := vm.heap.Size(recv)
		if err != nil {
			return Nil, err
		}
		i, err := oneBasedIndex(args[0], n)
		if err != nil {
			return Nil, err
		}
		c, err := intArg(args[1], "byte value")
		if err != nil {
			return Nil, err
		}
		if c < 0 || c > 255 {
			return Nil, Fail(KindArgumentError, "byte value %d outside [0, 255]", c)
		}
		if err := vm.heap.SetByte(recv, i, byte(c)); err != nil {
			return Nil, err
		}
		return args[1], nil
	})

	p.Register(PrimStringConcat, "String>>,", 1, func(_ *Interpreter, recv Value, args []Value) (Value, error) {
		a, err := vm.stringReceiver(recv)
		if err != nil {
			return Nil, err
		}
		if !vm.IsString(args[0]) && !vm.IsSymbol(args[0]) {
			return Nil, Fail(KindTypeMismatch, "cannot concatenate %s", vm.describe(args[0]))
		}
		b, err := vm.heap.Bytes(args[0])
		if err != nil {
			return Nil, err
		}
		out := make([]byte, 0, len(a)+len(b))
		out = append(append(out, a...), b...)
		return vm.heap.AllocateBytes(KindByteArray, vm.StringClass, out)
	})

	p.Register(PrimStringSize, "String>>size", 0, func(_ *Interpreter, recv Value, _ []Value) (Value, error) {
		b, err := vm.stringReceiver(recv)
		if err != nil {
			return Nil, err
		}
		return fromIntUnchecked(int64(len(b))), nil
	})

	p.Register(PrimAsSymbol, "String>>asSymbol", 0, func(_ *Interpreter, recv Value, _ []Value) (Value, error) {
		if vm.IsSymbol(recv) {
			return recv, nil
		}
		b, err := vm.stringReceiver(recv)
		if err != nil {
			return Nil, err
		}
		return vm.Symbols.Intern(string(b))
	})

	p.Register(PrimAsString, "Symbol>>asString", 0, func(_ *Interpreter, recv Value, _ []Value) (Value, error) {
		b, err := vm.stringReceiver(recv)
		if err != nil {
			return Nil, err
		}
		return vm.heap.AllocateBytes(KindByteArray, vm.StringClass, b)
	})
}
