package vm

import (
	"errors"
	"strings"
	"testing"
)

// doIt builds a no-argument top-level method.
func doIt(build func(b *MethodBuilder)) *MethodSpec {
	b := NewMethodBuilder("", 0)
	build(b)
	return b.Build()
}

func TestInterpreter_Arithmetic(t *testing.T) {
	v := newTestVM(t)
	// 3 + 4 * 2, evaluated left to right
	got := mustEval(t, v, doIt(func(b *MethodBuilder) {
		b.PushConstant(IntLiteral(3))
		b.PushConstant(IntLiteral(4))
		b.SendSelector("+", 1)
		b.PushConstant(IntLiteral(2))
		b.SendSelector("*", 1)
		b.Bytecode().ReturnTop()
	}))
	if got != MustInt(14) {
		t.Errorf("result = %v, want 14", got)
	}
	if !v.Interpreter().ActiveContext().IsNil() {
		t.Error("no context should be active after evaluation")
	}
}

func TestInterpreter_IntegerPrimitives(t *testing.T) {
	tests := []struct {
		sel  string
		a, b int64
		want Value
	}{
		{"-", 3, 10, MustInt(-7)},
		{"/", -7, 2, MustInt(-3)},
		{`\\`, -7, 2, MustInt(1)},
		{`\\`, 7, -2, MustInt(-1)},
		{"<", 1, 2, True},
		{">=", 1, 2, False},
		{"=", 5, 5, True},
		{"~=", 5, 5, False},
	}
	v := newTestVM(t)
	for _, tt := range tests {
		got, err := v.Send(MustInt(tt.a), tt.sel, MustInt(tt.b))
		if err != nil {
			t.Errorf("%d %s %d: %v", tt.a, tt.sel, tt.b, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%d %s %d = %v, want %v", tt.a, tt.sel, tt.b, got, tt.want)
		}
	}
}

func TestInterpreter_Overflow(t *testing.T) {
	v := newTestVM(t)
	_, err := v.Send(MustInt(MaxSmallInt), "+", MustInt(1))
	if !errors.Is(err, ErrArgument) {
		t.Errorf("overflow error = %v, want ArgumentError", err)
	}
}

func TestInterpreter_DoesNotUnderstand(t *testing.T) {
	v := newTestVM(t)
	_, err := v.Evaluate(doIt(func(b *MethodBuilder) {
		b.PushConstant(IntLiteral(3))
		b.SendSelector("frobnicate", 0)
		b.Bytecode().ReturnTop()
	}))
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("error = %v", err)
	}
	if e.Kind != KindDoesNotUnderstand || e.ClassName != "Integer" || e.Selector != "frobnicate" {
		t.Errorf("got %+v", e)
	}
	if len(e.Trace) != 1 || e.Trace[0].String() == "" {
		t.Errorf("trace = %v", e.Trace)
	}
}

func TestInterpreter_ZeroDivisionTrace(t *testing.T) {
	v := newTestVM(t)
	crash := NewMethodBuilder("crash", 0)
	crash.PushConstant(IntLiteral(1))
	crash.PushConstant(IntLiteral(0))
	crash.SendSelector("/", 1)
	crash.Bytecode().ReturnTop()
	if _, err := v.DefineClass(&ClassSpec{Name: "Crasher", Superclass: "Object", ClassMethods: []*MethodSpec{crash.Build()}}); err != nil {
		t.Fatal(err)
	}

	_, err := v.Evaluate(doIt(func(b *MethodBuilder) {
		b.PushConstant(GlobalLiteral("Crasher"))
		b.SendSelector("crash", 0)
		b.Bytecode().ReturnTop()
	}))
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindZeroDivision {
		t.Fatalf("error = %v, want ZeroDivision", err)
	}
	if len(e.Trace) != 2 {
		t.Fatalf("trace has %d frames, want 2: %v", len(e.Trace), e.Trace)
	}
	if e.Trace[0].Selector != "crash" || e.Trace[1].Selector != "" {
		t.Errorf("trace = %v", e.Trace)
	}
	if !strings.Contains(e.FormatTrace(), "doIt (method #") {
		t.Errorf("FormatTrace:\n%s", e.FormatTrace())
	}
	// The interpreted ip points past the failing send.
	if e.Trace[0].IP != 5+5+9 {
		t.Errorf("crash ip = %d", e.Trace[0].IP)
	}
}

func TestInterpreter_TraceSpansNestedSends(t *testing.T) {
	v := newTestVM(t)
	const primCallCrash = 900
	v.Primitives.Register(primCallCrash, "Crasher class>>viaGo", 0, func(in *Interpreter, recv Value, _ []Value) (Value, error) {
		sel, err := in.vm.Intern("crash")
		if err != nil {
			return Nil, err
		}
		return in.Send(recv, sel, nil)
	})
	crash := NewMethodBuilder("crash", 0)
	crash.PushConstant(IntLiteral(1))
	crash.PushConstant(IntLiteral(0))
	crash.SendSelector("/", 1)
	crash.Bytecode().ReturnTop()
	viaGo := NewMethodBuilder("viaGo", 0).SetPrimitive(primCallCrash)
	if _, err := v.DefineClass(&ClassSpec{Name: "Crasher", Superclass: "Object",
		ClassMethods: []*MethodSpec{crash.Build(), viaGo.Build()}}); err != nil {
		t.Fatal(err)
	}

	_, err := v.Evaluate(doIt(func(b *MethodBuilder) {
		b.PushConstant(GlobalLiteral("Crasher"))
		b.SendSelector("viaGo", 0)
		b.Bytecode().ReturnTop()
	}))
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindZeroDivision {
		t.Fatalf("error = %v, want ZeroDivision", err)
	}
	if len(e.Trace) != 2 || e.Trace[0].Selector != "crash" || e.Trace[1].Selector != "" {
		t.Errorf("trace should include the interrupted doIt frame: %v", e.Trace)
	}
}

func TestInterpreter_BlockReadsHomeTemp(t *testing.T) {
	v := newTestVM(t)
	// | x | x := 10. [:y | x + y] value: 5
	block := NewBlockBuilder(1, 1)
	block.Bytecode().PushTemp(0)
	block.Bytecode().PushTemp(1)
	block.SendSelector("+", 1)
	block.Bytecode().ReturnTop()

	got := mustEval(t, v, doIt(func(b *MethodBuilder) {
		x := b.AddLocal()
		b.PushConstant(IntLiteral(10))
		b.Bytecode().StoreTemp(x)
		b.Bytecode().Pop()
		b.Bytecode().CreateBlock(b.AddBlock(block.Build()), 1)
		b.PushConstant(IntLiteral(5))
		b.SendSelector("value:", 1)
		b.Bytecode().ReturnTop()
	}))
	if got != MustInt(15) {
		t.Errorf("result = %v, want 15", got)
	}
}

func TestInterpreter_BlockWritesHomeTemp(t *testing.T) {
	v := newTestVM(t)
	// | x | x := 10. [x := x + 1] value. x
	block := NewBlockBuilder(1, 0)
	block.Bytecode().PushTemp(0)
	block.PushConstant(IntLiteral(1))
	block.SendSelector("+", 1)
	block.Bytecode().StoreTemp(0)
	block.Bytecode().ReturnTop()

	got := mustEval(t, v, doIt(func(b *MethodBuilder) {
		x := b.AddLocal()
		b.PushConstant(IntLiteral(10))
		b.Bytecode().StoreTemp(x)
		b.Bytecode().Pop()
		b.Bytecode().CreateBlock(b.AddBlock(block.Build()), 0)
		b.SendSelector("value", 0)
		b.Bytecode().Pop()
		b.Bytecode().PushTemp(x)
		b.Bytecode().ReturnTop()
	}))
	if got != MustInt(11) {
		t.Errorf("result = %v, want 11", got)
	}
}

func TestInterpreter_ExecuteBlock(t *testing.T) {
	v := newTestVM(t)
	block := NewBlockBuilder(0, 2)
	block.Bytecode().PushTemp(0)
	block.Bytecode().PushTemp(1)
	block.SendSelector("*", 1)
	block.Bytecode().ReturnTop()

	got := mustEval(t, v, doIt(func(b *MethodBuilder) {
		b.Bytecode().CreateBlock(b.AddBlock(block.Build()), 2)
		b.PushConstant(IntLiteral(3))
		b.PushConstant(IntLiteral(4))
		b.Bytecode().ExecuteBlock(2)
		b.Bytecode().ReturnTop()
	}))
	if got != MustInt(12) {
		t.Errorf("result = %v, want 12", got)
	}
}

func TestInterpreter_NestedBlocks(t *testing.T) {
	v := newTestVM(t)
	// ([:a | [:b | a + b]] value: 3) value: 4
	inner := NewBlockBuilder(1, 1)
	inner.Bytecode().PushTemp(0)
	inner.Bytecode().PushTemp(1)
	inner.SendSelector("+", 1)
	inner.Bytecode().ReturnTop()

	outer := NewBlockBuilder(0, 1)
	outer.Bytecode().CreateBlock(outer.AddBlock(inner.Build()), 1)
	outer.Bytecode().ReturnTop()

	got := mustEval(t, v, doIt(func(b *MethodBuilder) {
		b.Bytecode().CreateBlock(b.AddBlock(outer.Build()), 1)
		b.PushConstant(IntLiteral(3))
		b.SendSelector("value:", 1)
		b.PushConstant(IntLiteral(4))
		b.SendSelector("value:", 1)
		b.Bytecode().ReturnTop()
	}))
	if got != MustInt(7) {
		t.Errorf("result = %v, want 7", got)
	}
}

func TestInterpreter_BlockReturnsToCaller(t *testing.T) {
	v := newTestVM(t)
	block := NewBlockBuilder(0, 0)
	block.PushConstant(IntLiteral(1))
	block.Bytecode().ReturnTop()

	got := mustEval(t, v, doIt(func(b *MethodBuilder) {
		b.Bytecode().CreateBlock(b.AddBlock(block.Build()), 0)
		b.SendSelector("value", 0)
		b.Bytecode().Pop()
		b.PushConstant(IntLiteral(2))
		b.Bytecode().ReturnTop()
	}))
	if got != MustInt(2) {
		t.Errorf("result = %v; a block return must not leave its home", got)
	}
}

func TestInterpreter_BlockErrors(t *testing.T) {
	v := newTestVM(t)
	oneArg := NewBlockBuilder(0, 1)
	oneArg.Bytecode().PushTemp(0)
	oneArg.Bytecode().ReturnTop()
	_, err := v.Evaluate(doIt(func(b *MethodBuilder) {
		b.Bytecode().CreateBlock(b.AddBlock(oneArg.Build()), 1)
		b.SendSelector("value", 0)
		b.Bytecode().ReturnTop()
	}))
	if !errors.Is(err, ErrArgument) {
		t.Errorf("wrong block arity: %v", err)
	}

	divide := NewBlockBuilder(0, 0)
	divide.PushConstant(IntLiteral(1))
	divide.PushConstant(IntLiteral(0))
	divide.SendSelector("/", 1)
	divide.Bytecode().ReturnTop()
	_, err = v.Evaluate(doIt(func(b *MethodBuilder) {
		b.Bytecode().CreateBlock(b.AddBlock(divide.Build()), 0)
		b.SendSelector("value", 0)
		b.Bytecode().ReturnTop()
	}))
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindZeroDivision {
		t.Fatalf("error = %v", err)
	}
	if len(e.Trace) != 2 || !e.Trace[0].Block || !strings.HasPrefix(e.Trace[0].String(), "[] in doIt") {
		t.Errorf("trace = %v", e.Trace)
	}
}

func TestInterpreter_ValueBlockFromGo(t *testing.T) {
	v := newTestVM(t)
	square := NewBlockBuilder(0, 1)
	square.Bytecode().PushTemp(0)
	square.Bytecode().PushTemp(0)
	square.SendSelector("*", 1)
	square.Bytecode().ReturnTop()
	block := mustEval(t, v, doIt(func(b *MethodBuilder) {
		b.Bytecode().CreateBlock(b.AddBlock(square.Build()), 1)
		b.Bytecode().ReturnTop()
	}))
	if !v.IsBlock(block) {
		t.Fatalf("expected a block, got %s", v.PrintString(block))
	}
	mark := v.Heap().PushRoots(block)
	defer v.Heap().PopRoots(mark)

	got, err := v.Send(block, "value:", MustInt(9))
	if err != nil || got != MustInt(81) {
		t.Errorf("value: = %v, %v", got, err)
	}
	if n, err := v.Send(block, "numArgs"); err != nil || n != MustInt(1) {
		t.Errorf("numArgs = %v, %v", n, err)
	}
}

func TestInterpreter_Recursion(t *testing.T) {
	v := newTestVM(t)
	fib := NewMethodBuilder("fib:", 1)
	bc := fib.Bytecode()
	rec := bc.NewLabel()
	bc.PushTemp(0)
	fib.PushConstant(IntLiteral(2))
	fib.SendSelector("<", 1)
	bc.EmitJump(OpJumpFalse, rec)
	bc.PushTemp(0)
	bc.ReturnTop()
	bc.Mark(rec)
	for _, k := range []int64{1, 2} {
		bc.PushSelf()
		bc.PushTemp(0)
		fib.PushConstant(IntLiteral(k))
		fib.SendSelector("-", 1)
		fib.SendSelector("fib:", 1)
	}
	fib.SendSelector("+", 1)
	bc.ReturnTop()

	if _, err := v.DefineClass(&ClassSpec{Name: "Fib", Superclass: "Object", ClassMethods: []*MethodSpec{fib.Build()}}); err != nil {
		t.Fatal(err)
	}
	class, _ := v.ClassNamed("Fib")
	before := v.Interpreter().Sends()
	got, err := v.Send(class, "fib:", MustInt(15))
	if err != nil || got != MustInt(610) {
		t.Fatalf("fib: 15 = %v, %v", got, err)
	}
	if v.Interpreter().Sends()-before < 610 {
		t.Errorf("only %d sends counted", v.Interpreter().Sends()-before)
	}
}

func TestInterpreter_PrimitiveFallback(t *testing.T) {
	v := newTestVM(t)
	at := NewMethodBuilder("at:", 1).SetPrimitive(PrimArrayAt)
	at.PushConstant(SymbolLiteral("fallback"))
	at.Bytecode().ReturnTop()
	class, err := v.DefineClass(&ClassSpec{Name: "Sparse", Superclass: "Object", Methods: []*MethodSpec{at.Build()}})
	if err != nil {
		t.Fatal(err)
	}
	obj, _ := v.Instantiate(class, 0)
	v.SetGlobal("sparse", obj)

	got, err := v.Send(obj, "at:", MustInt(1))
	if err != nil || v.PrintString(got) != "#fallback" {
		t.Errorf("Send: %s, %v", v.PrintString(got), err)
	}
	got = mustEval(t, v, doIt(func(b *MethodBuilder) {
		b.PushConstant(GlobalLiteral("sparse"))
		b.PushConstant(IntLiteral(1))
		b.SendSelector("at:", 1)
		b.Bytecode().ReturnTop()
	}))
	if v.PrintString(got) != "#fallback" {
		t.Errorf("dispatch loop: %s", v.PrintString(got))
	}
}

func TestInterpreter_PrimitiveFailureWithoutBody(t *testing.T) {
	v := newTestVM(t)
	_, err := v.Send(MustInt(1), "+", Nil)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("1 + nil: %v", err)
	}
	var pf *PrimitiveFailure
	if errors.As(err, &pf) {
		t.Error("a failure without fallback should surface its cause")
	}
}

func TestInterpreter_ImplicitReturn(t *testing.T) {
	v := newTestVM(t)
	self := NewMethodBuilder("yourself", 0)
	self.PushConstant(IntLiteral(1))
	self.Bytecode().Pop()
	top := NewMethodBuilder("lastValue", 0)
	top.PushConstant(IntLiteral(8))
	class, err := v.DefineClass(&ClassSpec{Name: "Implicit", Superclass: "Object",
		Methods: []*MethodSpec{self.Build(), top.Build()}})
	if err != nil {
		t.Fatal(err)
	}
	obj, _ := v.Instantiate(class, 0)
	if got, err := v.Send(obj, "yourself"); err != nil || got != obj {
		t.Errorf("empty stack should answer self, got %v, %v", got, err)
	}
	if got, err := v.Send(obj, "lastValue"); err != nil || got != MustInt(8) {
		t.Errorf("non-empty stack should answer its top, got %v, %v", got, err)
	}
}

func TestInterpreter_InstanceVariables(t *testing.T) {
	v := newTestVM(t)
	set := NewMethodBuilder("value:", 1)
	set.Bytecode().PushTemp(0)
	set.Bytecode().StoreInstVar(0)
	set.Bytecode().Pop()
	set.Bytecode().PushSelf()
	set.Bytecode().ReturnTop()
	get := NewMethodBuilder("value", 0)
	get.Bytecode().PushInstVar(0)
	get.Bytecode().ReturnTop()
	class, err := v.DefineClass(&ClassSpec{Name: "Cell", Superclass: "Object", InstanceVars: []string{"value"},
		Methods: []*MethodSpec{set.Build(), get.Build()}})
	if err != nil {
		t.Fatal(err)
	}
	cell, err := v.Send(class, "new")
	if err != nil {
		t.Fatal(err)
	}
	v.SetGlobal("cell", cell)
	if _, err := v.Send(cell, "value:", MustInt(33)); err != nil {
		t.Fatal(err)
	}
	if got, _ := v.Send(cell, "value"); got != MustInt(33) {
		t.Errorf("value = %v", got)
	}
}

func TestInterpreter_CorruptedInstructions(t *testing.T) {
	v := newTestVM(t)
	_, err := v.Evaluate(doIt(func(b *MethodBuilder) {
		b.Bytecode().PushLiteral(5)
		b.Bytecode().ReturnTop()
	}))
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindCorruptedInstruction || e.Opcode != int(OpPushLiteral) {
		t.Errorf("bad literal index: %v", err)
	}

	bogus := NewMethodBuilder("bogus", 0).SetPrimitive(9999)
	if _, err := v.DefineClass(&ClassSpec{Name: "Bogus", Superclass: "Object", Methods: []*MethodSpec{bogus.Build()}}); err != nil {
		t.Fatal(err)
	}
	class, _ := v.ClassNamed("Bogus")
	obj, _ := v.Instantiate(class, 0)
	if _, err := v.Send(obj, "bogus"); !errors.Is(err, ErrCorruptedInstruction) {
		t.Errorf("unknown primitive: %v", err)
	}

	// LoadMethod rejects bodies that underflow the stack.
	if _, err := v.Evaluate(doIt(func(b *MethodBuilder) { b.Bytecode().Pop() })); !errors.Is(err, ErrCorruptedInstruction) {
		t.Errorf("underflowing body: %v", err)
	}
}

func TestInterpreter_ExecuteArgumentCount(t *testing.T) {
	v := newTestVM(t)
	m, err := v.LoadMethod(NewMethodBuilder("twoArgs:with:", 2).Build())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Interpreter().Execute(m, Nil, []Value{MustInt(1)}); !errors.Is(err, ErrArgument) {
		t.Errorf("Execute with one argument: %v", err)
	}
}

func TestInterpreter_SurvivesCollections(t *testing.T) {
	v, err := New(Options{SpaceWords: 1 << 14, GCThreshold: 0.8})
	if err != nil {
		t.Fatal(err)
	}
	// | i keep | keep := Array new: 3. keep at: 1 put: 42.
	// i := 0. [i < 2000] whileTrue: [Array new: 10. i := i + 1]. keep at: 1
	spec := doIt(func(b *MethodBuilder) {
		bc := b.Bytecode()
		i, keep := b.AddLocal(), b.AddLocal()
		b.PushConstant(GlobalLiteral("Array"))
		b.PushConstant(IntLiteral(3))
		b.SendSelector("new:", 1)
		bc.StoreTemp(keep)
		b.PushConstant(IntLiteral(1))
		b.PushConstant(IntLiteral(42))
		b.SendSelector("at:put:", 2)
		bc.Pop()
		b.PushConstant(IntLiteral(0))
		bc.StoreTemp(i)
		bc.Pop()

		loop, done := bc.NewLabel(), bc.NewLabel()
		bc.Mark(loop)
		bc.PushTemp(i)
		b.PushConstant(IntLiteral(2000))
		b.SendSelector("<", 1)
		bc.EmitJump(OpJumpFalse, done)
		b.PushConstant(GlobalLiteral("Array"))
		b.PushConstant(IntLiteral(10))
		b.SendSelector("new:", 1)
		bc.Pop()
		bc.PushTemp(i)
		b.PushConstant(IntLiteral(1))
		b.SendSelector("+", 1)
		bc.StoreTemp(i)
		bc.Pop()
		bc.EmitJump(OpJump, loop)
		bc.Mark(done)

		bc.PushTemp(keep)
		b.PushConstant(IntLiteral(1))
		b.SendSelector("at:", 1)
		bc.ReturnTop()
	})
	got := mustEval(t, v, spec)
	if got != MustInt(42) {
		t.Errorf("result = %v, want 42", got)
	}
	if v.Heap().Stats().Collections == 0 {
		t.Error("loop never triggered a collection")
	}
}

func TestInterpreter_ArrayScenario(t *testing.T) {
	v := newTestVM(t)
	// | a | a := Array new: 3. a at: 1 put: 10. a at: 2 put: 20.
	// a at: 3 put: 30. a at: 2
	got := mustEval(t, v, doIt(func(b *MethodBuilder) {
		bc := b.Bytecode()
		a := b.AddLocal()
		b.PushConstant(GlobalLiteral("Array"))
		b.PushConstant(IntLiteral(3))
		b.SendSelector("new:", 1)
		bc.StoreTemp(a)
		bc.Pop()
		for i := int64(1); i <= 3; i++ {
			bc.PushTemp(a)
			b.PushConstant(IntLiteral(i))
			b.PushConstant(IntLiteral(i * 10))
			b.SendSelector("at:put:", 2)
			bc.Pop()
		}
		bc.PushTemp(a)
		b.PushConstant(IntLiteral(2))
		b.SendSelector("at:", 1)
		bc.ReturnTop()
	}))
	if got != MustInt(20) {
		t.Errorf("a at: 2 = %v, want 20", got)
	}
}

func TestInterpreter_UnboundIdentifier(t *testing.T) {
	v := newTestVM(t)
	// undef + 1
	_, err := v.Evaluate(doIt(func(b *MethodBuilder) {
		b.PushConstant(GlobalLiteral("undef"))
		b.PushConstant(IntLiteral(1))
		b.SendSelector("+", 1)
		b.Bytecode().ReturnTop()
	}))
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindNameError || e.Name != "undef" {
		t.Errorf("error = %v, want NameError(undef)", err)
	}
}
