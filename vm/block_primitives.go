package vm

// ---------------------------------------------------------------------------
// Block Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerBlockPrimitives() {
	p := vm.Primitives

	value := func(in *Interpreter, recv Value, args []Value) (Value, error) {
		if !vm.IsBlock(recv) {
			return Nil, Fail(KindTypeMismatch, "%s is not a block", vm.describe(recv))
		}
		return in.ValueBlock(recv, args)
	}

	p.Register(PrimBlockValue, "Block>>value", 0, value)
	// value:, value:value: and value:value:value: share one number.
	p.Register(PrimBlockValueArg, "Block>>value:", Variadic, func(in *Interpreter, recv Value, args []Value) (Value, error) {
		if len(args) == 0 {
			return Nil, Fail(KindArgumentError, "value: needs at least one argument")
		}
		return value(in, recv, args)
	})

	p.Register(PrimBlockNumArgs, "Block>>numArgs", 0, func(_ *Interpreter, recv Value, _ []Value) (Value, error) {
		n, err := vm.BlockNumArgs(recv)
		if err != nil {
			return Nil, failWith(err)
		}
		return fromIntUnchecked(int64(n)), nil
	})
}
