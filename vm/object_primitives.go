package vm

// ---------------------------------------------------------------------------
// Object Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerObjectPrimitives() {
	p := vm.Primitives

	basicNew := func(_ *Interpreter, recv Value, _ []Value) (Value, error) {
		if !vm.IsClass(recv) {
			return Nil, Fail(KindTypeMismatch, "new sent to %s", vm.describe(recv))
		}
		return vm.Instantiate(recv, 0)
	}
	p.Register(PrimNew, "Behavior>>new", 0, basicNew)
	p.Register(PrimBasicNew, "Behavior>>basicNew", 0, basicNew)

	p.Register(PrimBasicNewSize, "Behavior>>basicNew:", 1, func(_ *Interpreter, recv Value, args []Value) (Value, error) {
		if !vm.IsClass(recv) {
			return Nil, Fail(KindTypeMismatch, "new: sent to %s", vm.describe(recv))
		}
		n, err := intArg(args[0], "size")
		if err != nil {
			return Nil, err
		}
		if n < 0 {
			return Nil, newError(KindArgumentError, "negative size %d", n)
		}
		format, err := vm.ClassFormat(recv)
		if err != nil {
			return Nil, err
		}
		if format != FormatIndexable && format != FormatByteIndexable {
			return Nil, newError(KindArgumentError, "%s is not indexable", vm.ClassName(recv))
		}
		return vm.Instantiate(recv, int(n))
	})

	p.Register(PrimIdentityHash, "Object>>identityHash", 0, func(_ *Interpreter, recv Value, _ []Value) (Value, error) {
		return vm.IdentityHash(recv)
	})

	p.Register(PrimIdentical, "Object>>==", 1, func(_ *Interpreter, recv Value, args []Value) (Value, error) {
		return FromBool(recv == args[0]), nil
	})

	p.Register(PrimClass, "Object>>class", 0, func(_ *Interpreter, recv Value, _ []Value) (Value, error) {
		return vm.ClassOf(recv), nil
	})

	p.Register(PrimPrintString, "Object>>printString", 0, func(_ *Interpreter, recv Value, _ []Value) (Value, error) {
		return vm.NewString(vm.PrintString(recv))
	})
}

// IdentityHash returns the identity hash of any value as a SmallInteger.
// Immediates hash to their payload (false 0, true 1, nil 42); objects use
// the hash seeded in their header, folded into the SmallInteger range.
func (vm *VM) IdentityHash(v Value) (Value, error) {
	if v.IsImmediate() {
		return fromIntUnchecked(v.immediateHash()), nil
	}
	h, err := vm.heap.Hash(v)
	if err != nil {
		return Nil, err
	}
	return fromIntUnchecked(int64(h) & MaxSmallInt), nil
}
