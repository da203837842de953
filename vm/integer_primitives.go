package vm

// ---------------------------------------------------------------------------
// SmallInteger Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerIntegerPrimitives() {
	p := vm.Primitives

	arith := func(op func(a, b int64) (int64, error)) Primitive {
		return func(_ *Interpreter, recv Value, args []Value) (Value, error) {
			a, err := intArg(recv, "receiver")
			if err != nil {
				return Nil, err
			}
			b, err := intArg(args[0], "argument")
			if err != nil {
				return Nil, err
			}
			n, err := op(a, b)
			if err != nil {
				return Nil, err
			}
			return intResult(n)
		}
	}
	compare := func(op func(a, b int64) bool) Primitive {
		return func(_ *Interpreter, recv Value, args []Value) (Value, error) {
			a, err := intArg(recv, "receiver")
			if err != nil {
				return Nil, err
			}
			b, err := intArg(args[0], "argument")
			if err != nil {
				return Nil, err
			}
			return FromBool(op(a, b)), nil
		}
	}

	p.Register(PrimAdd, "SmallInteger>>+", 1, arith(func(a, b int64) (int64, error) { return a + b, nil }))
	p.Register(PrimSub, "SmallInteger>>-", 1, arith(func(a, b int64) (int64, error) { return a - b, nil }))
	p.Register(PrimMul, "SmallInteger>>*", 1, arith(func(a, b int64) (int64, error) { return a * b, nil }))

	// Division truncates toward zero.
	p.Register(PrimDiv, "SmallInteger>>/", 1, arith(func(a, b int64) (int64, error) {
		if b == 0 {
			return 0, newError(KindZeroDivision, "division of %d by zero", a)
		}
		return a / b, nil
	}))

	// Modulus is floored: the result takes the sign of the divisor.
	p.Register(PrimMod, "SmallInteger>>\\\\", 1, arith(func(a, b int64) (int64, error) {
		if b == 0 {
			return 0, newError(KindZeroDivision, "modulus of %d by zero", a)
		}
		m := a % b
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return m, nil
	}))

	p.Register(PrimLT, "SmallInteger>><", 1, compare(func(a, b int64) bool { return a < b }))
	p.Register(PrimGT, "SmallInteger>>>", 1, compare(func(a, b int64) bool { return a > b }))
	p.Register(PrimLE, "SmallInteger>><=", 1, compare(func(a, b int64) bool { return a <= b }))
	p.Register(PrimGE, "SmallInteger>>>=", 1, compare(func(a, b int64) bool { return a >= b }))
	p.Register(PrimEQ, "SmallInteger>>=", 1, compare(func(a, b int64) bool { return a == b }))
	p.Register(PrimNE, "SmallInteger>>~=", 1, compare(func(a, b int64) bool { return a != b }))
}
