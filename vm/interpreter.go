package vm

import (
	"errors"
)

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// Interpreter executes compiled methods. The call stack is a chain of heap
// contexts linked by their sender slots; the interpreter only remembers the
// active one, plus the active contexts that nested executions interrupted.
type Interpreter struct {
	vm   *VM
	heap *Heap

	active Value
	mi     *methodInfo // method of the active context
	ip     int         // ip of the active context; written back on switch

	// Contexts suspended by a nested execution, innermost last.
	suspended []Value

	// dispatching is true while the dispatch loop is calling a primitive,
	// which lets block primitives activate in place instead of nesting.
	dispatching bool

	sends uint64
}

func newInterpreter(vm *VM) *Interpreter {
	in := &Interpreter{vm: vm, heap: vm.heap, active: Nil}
	vm.heap.AddRootScanner(func(visit func(Value)) {
		visit(in.active)
		for _, ctx := range in.suspended {
			visit(ctx)
		}
	})
	return in
}

// VM returns the virtual machine the interpreter belongs to.
func (in *Interpreter) VM() *VM {
	return in.vm
}

// ActiveContext returns the currently executing context, or nil.
func (in *Interpreter) ActiveContext() Value {
	return in.active
}

// Sends returns the number of message sends dispatched so far.
func (in *Interpreter) Sends() uint64 {
	return in.sends
}

// ---------------------------------------------------------------------------
// Context switching
// ---------------------------------------------------------------------------

func (in *Interpreter) saveIP() error {
	if in.active.IsNil() {
		return nil
	}
	return in.heap.SetSlot(in.active, ctxIP, fromIntUnchecked(int64(in.ip)))
}

// switchTo makes ctx the active context, saving the ip of the current one.
func (in *Interpreter) switchTo(ctx Value) error {
	if err := in.saveIP(); err != nil {
		return err
	}
	return in.load(ctx)
}

// load makes ctx active without saving the current ip.
func (in *Interpreter) load(ctx Value) error {
	in.active = ctx
	if ctx.IsNil() {
		in.mi = nil
		in.ip = 0
		return nil
	}
	m, err := in.heap.Slot(ctx, ctxMethod)
	if err != nil {
		return err
	}
	if in.mi, err = in.vm.methodInfo(m); err != nil {
		return err
	}
	in.ip, err = in.vm.contextInt(ctx, ctxIP)
	return err
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

func (in *Interpreter) stackBounds(ctx Value) (base, sp, limit int, err error) {
	m, err := in.heap.Slot(ctx, ctxMethod)
	if err != nil {
		return 0, 0, 0, err
	}
	mi, err := in.vm.methodInfo(m)
	if err != nil {
		return 0, 0, 0, err
	}
	if sp, err = in.vm.contextInt(ctx, ctxSP); err != nil {
		return 0, 0, 0, err
	}
	if limit, err = in.heap.Size(ctx); err != nil {
		return 0, 0, 0, err
	}
	return ctxFixedSlots + mi.ownTemps(), sp, limit, nil
}

func (in *Interpreter) pushOn(ctx, v Value) error {
	_, sp, limit, err := in.stackBounds(ctx)
	if err != nil {
		return err
	}
	if sp >= limit {
		return corrupted(in.ip, -1, "operand stack overflow")
	}
	if err := in.heap.SetSlot(ctx, sp, v); err != nil {
		return err
	}
	return in.heap.SetSlot(ctx, ctxSP, fromIntUnchecked(int64(sp+1)))
}

// dropOn discards n values from ctx's stack.
func (in *Interpreter) dropOn(ctx Value, n int) error {
	base, sp, _, err := in.stackBounds(ctx)
	if err != nil {
		return err
	}
	if sp-n < base {
		return corrupted(in.ip, -1, "operand stack underflow")
	}
	return in.heap.SetSlot(ctx, ctxSP, fromIntUnchecked(int64(sp-n)))
}

// peekOn returns the value depth entries below the top of ctx's stack.
func (in *Interpreter) peekOn(ctx Value, depth int) (Value, error) {
	base, sp, _, err := in.stackBounds(ctx)
	if err != nil {
		return Nil, err
	}
	if sp-1-depth < base {
		return Nil, corrupted(in.ip, -1, "operand stack underflow")
	}
	return in.heap.Slot(ctx, sp-1-depth)
}

func (in *Interpreter) push(v Value) error { return in.pushOn(in.active, v) }

func (in *Interpreter) pop() (Value, error) {
	v, err := in.peekOn(in.active, 0)
	if err != nil {
		return Nil, err
	}
	return v, in.dropOn(in.active, 1)
}

func (in *Interpreter) top() (Value, error) { return in.peekOn(in.active, 0) }

// stackDepth returns the number of values on ctx's operand stack.
func (in *Interpreter) stackDepth(ctx Value) (int, error) {
	base, sp, _, err := in.stackBounds(ctx)
	return sp - base, err
}

// topN returns the top n stack values, oldest first, without popping.
func (in *Interpreter) topN(n int) ([]Value, error) {
	vals := make([]Value, n)
	for i := range n {
		v, err := in.peekOn(in.active, n-1-i)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// ---------------------------------------------------------------------------
// Execution entry points
// ---------------------------------------------------------------------------

// ExecuteCompiledMethod runs method with nil as receiver and no arguments,
// returning the value of its final return.
func (in *Interpreter) ExecuteCompiledMethod(method Value) (Value, error) {
	return in.Execute(method, Nil, nil)
}

// Execute runs method on receiver with args in a fresh top-level context.
// It may be called re-entrantly from a primitive; the interrupted chain
// resumes afterwards.
func (in *Interpreter) Execute(method, receiver Value, args []Value) (Value, error) {
	mi, err := in.vm.methodInfo(method)
	if err != nil {
		return Nil, err
	}
	if len(args) != mi.argCount {
		return Nil, newError(KindArgumentError, "%s expects %d arguments, got %d",
			in.vm.selectorName(mi.selector), mi.argCount, len(args))
	}
	mark := in.heap.PushRoots(append([]Value{method, receiver}, args...)...)
	defer in.heap.PopRoots(mark)

	ctx, err := in.vm.newContext(mi, Nil, receiver, Nil)
	if err != nil {
		return Nil, err
	}
	for i, a := range args {
		if err := in.heap.SetSlot(ctx, ctxFixedSlots+i, a); err != nil {
			return Nil, err
		}
	}
	return in.runNested(ctx)
}

// Send looks up selector in the class of receiver and runs the method to
// completion. A primitive that succeeds answers directly; one that fails
// runs the method body, or surfaces its cause when there is none.
func (in *Interpreter) Send(receiver, selector Value, args []Value) (Value, error) {
	vm := in.vm
	in.sends++
	class := vm.ClassOf(receiver)
	method, found, err := vm.LookupMethod(class, selector)
	if err != nil {
		return Nil, err
	}
	if !found {
		return Nil, DoesNotUnderstandError(vm.ClassName(class), vm.selectorName(selector))
	}
	mi, err := vm.methodInfo(method)
	if err != nil {
		return Nil, err
	}
	if mi.primitive != 0 {
		prim, ok := vm.Primitives.Lookup(mi.primitive)
		if !ok {
			return Nil, corrupted(0, int(OpSend), "unknown primitive %d", mi.primitive)
		}
		mark := in.heap.PushRoots(append([]Value{method, receiver}, args...)...)
		result, err := prim(in, receiver, args)
		in.heap.PopRoots(mark)

		var pf *PrimitiveFailure
		switch {
		case errors.As(err, &pf):
			if !mi.hasBody() {
				return Nil, pf.Cause
			}
			vmLog.Debugf("primitive %d failed (%v), running fallback of #%s",
				mi.primitive, pf.Cause, vm.selectorName(selector))
		case err != nil:
			return Nil, err
		default:
			return result, nil
		}
	}
	return in.Execute(method, receiver, args)
}

// runNested runs base to completion on top of whatever is currently
// executing, restoring the interrupted context afterwards.
func (in *Interpreter) runNested(base Value) (Value, error) {
	if err := in.saveIP(); err != nil {
		return Nil, err
	}
	prev, prevMI, prevIP, prevDispatching := in.active, in.mi, in.ip, in.dispatching
	in.suspended = append(in.suspended, prev)
	defer func() {
		in.suspended = in.suspended[:len(in.suspended)-1]
		in.active, in.mi, in.ip, in.dispatching = prev, prevMI, prevIP, prevDispatching
	}()
	in.dispatching = false
	if err := in.load(base); err != nil {
		return Nil, err
	}
	return in.run()
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// run executes until the context chain started by the current nested
// execution returns.
func (in *Interpreter) run() (Value, error) {
	for {
		result, done, err := in.step()
		if err != nil {
			return Nil, in.fail(err)
		}
		if done {
			return result, nil
		}
	}
}

// step executes one instruction. done is true when the bottom context of
// the current execution returned result.
func (in *Interpreter) step() (result Value, done bool, err error) {
	mi := in.mi
	if in.ip == len(mi.bytecodes) {
		return in.implicitReturn()
	}
	instr, err := decodeAt(mi.bytecodes, in.ip)
	if err != nil {
		return Nil, false, err
	}
	in.ip = instr.Next()
	a, b := int(instr.Operands[0]), int(instr.Operands[1])

	switch instr.Op {
	case OpPushLiteral:
		lit, err := in.vm.literal(mi, a)
		if err != nil {
			return Nil, false, corrupted(instr.Offset, int(instr.Op), "literal %d: %v", a, err)
		}
		err = in.push(lit)
		return Nil, false, err

	case OpPushInstVar:
		self, err := in.heap.Slot(in.active, ctxSelf)
		if err != nil {
			return Nil, false, err
		}
		v, err := in.heap.Slot(self, a)
		if err != nil {
			return Nil, false, err
		}
		return Nil, false, in.push(v)

	case OpPushTemp:
		ctx, slot, err := in.vm.tempLocation(in.active, a)
		if err != nil {
			return Nil, false, err
		}
		v, err := in.heap.Slot(ctx, slot)
		if err != nil {
			return Nil, false, err
		}
		return Nil, false, in.push(v)

	case OpPushSelf:
		self, err := in.heap.Slot(in.active, ctxSelf)
		if err != nil {
			return Nil, false, err
		}
		return Nil, false, in.push(self)

	case OpStoreInstVar:
		v, err := in.top()
		if err != nil {
			return Nil, false, err
		}
		self, err := in.heap.Slot(in.active, ctxSelf)
		if err != nil {
			return Nil, false, err
		}
		return Nil, false, in.heap.SetSlot(self, a, v)

	case OpStoreTemp:
		v, err := in.top()
		if err != nil {
			return Nil, false, err
		}
		ctx, slot, err := in.vm.tempLocation(in.active, a)
		if err != nil {
			return Nil, false, err
		}
		return Nil, false, in.heap.SetSlot(ctx, slot, v)

	case OpSend:
		sel, err := in.vm.literal(mi, a)
		if err != nil {
			return Nil, false, corrupted(instr.Offset, int(instr.Op), "selector literal %d: %v", a, err)
		}
		return Nil, false, in.send(sel, b)

	case OpReturnTop:
		v, err := in.pop()
		if err != nil {
			return Nil, false, err
		}
		return in.returnValue(v)

	case OpJump:
		in.ip = a

	case OpJumpTrue, OpJumpFalse:
		v, err := in.pop()
		if err != nil {
			return Nil, false, err
		}
		if (instr.Op == OpJumpTrue && v == True) || (instr.Op == OpJumpFalse && v == False) {
			in.ip = a
		}

	case OpPop:
		_, err := in.pop()
		return Nil, false, err

	case OpDup:
		v, err := in.top()
		if err != nil {
			return Nil, false, err
		}
		return Nil, false, in.push(v)

	case OpCreateBlock:
		m, err := in.vm.literal(mi, a)
		if err != nil {
			return Nil, false, corrupted(instr.Offset, int(instr.Op), "block literal %d: %v", a, err)
		}
		bmi, err := in.vm.methodInfo(m)
		if err != nil {
			return Nil, false, corrupted(instr.Offset, int(instr.Op), "block literal %d: %v", a, err)
		}
		if bmi.argCount != b {
			return Nil, false, corrupted(instr.Offset, int(instr.Op),
				"block literal %d takes %d parameters, instruction says %d", a, bmi.argCount, b)
		}
		block, err := in.vm.newBlock(m, in.active, b)
		if err != nil {
			return Nil, false, err
		}
		return Nil, false, in.push(block)

	case OpExecuteBlock:
		block, err := in.peekOn(in.active, a)
		if err != nil {
			return Nil, false, err
		}
		args, err := in.topN(a)
		if err != nil {
			return Nil, false, err
		}
		ctx, err := in.blockContext(block, args, in.active)
		if err != nil {
			return Nil, false, err
		}
		if err := in.dropOn(in.active, a+1); err != nil {
			return Nil, false, err
		}
		return Nil, false, in.switchTo(ctx)
	}
	return Nil, false, nil
}

// implicitReturn handles running off the end of a body: the top of stack,
// or self when the stack is empty, is returned.
func (in *Interpreter) implicitReturn() (Value, bool, error) {
	depth, err := in.stackDepth(in.active)
	if err != nil {
		return Nil, false, err
	}
	var v Value
	if depth > 0 {
		v, err = in.pop()
	} else {
		v, err = in.heap.Slot(in.active, ctxSelf)
	}
	if err != nil {
		return Nil, false, err
	}
	return in.returnValue(v)
}

// returnValue leaves the active context. A block context returns to its
// sender, not its home.
func (in *Interpreter) returnValue(v Value) (Value, bool, error) {
	sender, err := in.heap.Slot(in.active, ctxSender)
	if err != nil {
		return Nil, false, err
	}
	if sender.IsNil() {
		return v, true, nil
	}
	mark := in.heap.PushRoots(v)
	defer in.heap.PopRoots(mark)
	if err := in.load(sender); err != nil {
		return Nil, false, err
	}
	return Nil, false, in.push(v)
}

// ---------------------------------------------------------------------------
// Message send
// ---------------------------------------------------------------------------

// send dispatches selector to the receiver below argc arguments on the
// active stack. Arguments stay on the stack, and therefore rooted, until the
// callee is set up.
func (in *Interpreter) send(selector Value, argc int) error {
	in.sends++
	receiver, err := in.peekOn(in.active, argc)
	if err != nil {
		return err
	}
	class := in.vm.ClassOf(receiver)
	method, found, err := in.vm.LookupMethod(class, selector)
	if err != nil {
		return err
	}
	if !found {
		return DoesNotUnderstandError(in.vm.ClassName(class), in.vm.selectorName(selector))
	}
	mi, err := in.vm.methodInfo(method)
	if err != nil {
		return err
	}

	args, err := in.topN(argc)
	if err != nil {
		return err
	}

	if mi.primitive != 0 {
		handled, err := in.tryPrimitive(mi, receiver, args)
		if handled || err != nil {
			return err
		}
	}

	if argc != mi.argCount {
		return newError(KindArgumentError, "%s expects %d arguments, got %d",
			in.vm.selectorName(selector), mi.argCount, argc)
	}
	ctx, err := in.vm.newContext(mi, in.active, receiver, Nil)
	if err != nil {
		return err
	}
	for i, arg := range args {
		if err := in.heap.SetSlot(ctx, ctxFixedSlots+i, arg); err != nil {
			return err
		}
	}
	if err := in.dropOn(in.active, argc+1); err != nil {
		return err
	}
	return in.switchTo(ctx)
}

// tryPrimitive runs the method's primitive. handled is false when the
// primitive failed and the bytecode body should run instead.
func (in *Interpreter) tryPrimitive(mi *methodInfo, receiver Value, args []Value) (handled bool, err error) {
	prim, ok := in.vm.Primitives.Lookup(mi.primitive)
	if !ok {
		return false, corrupted(in.ip, int(OpSend), "unknown primitive %d", mi.primitive)
	}
	caller := in.active
	in.dispatching = true
	result, err := prim(in, receiver, args)
	in.dispatching = false

	var pf *PrimitiveFailure
	if errors.As(err, &pf) {
		if mi.hasBody() {
			vmLog.Debugf("primitive %d failed (%v), running fallback of #%s",
				mi.primitive, pf.Cause, in.vm.selectorName(mi.selector))
			return false, nil
		}
		return false, pf.Cause
	}
	if err != nil {
		return false, err
	}

	argc := len(args)
	if in.active != caller {
		// The primitive activated a context whose sender is the caller;
		// its eventual return pushes the result.
		return true, in.dropOn(caller, argc+1)
	}
	mark := in.heap.PushRoots(result)
	defer in.heap.PopRoots(mark)
	if err := in.dropOn(caller, argc+1); err != nil {
		return false, err
	}
	return true, in.push(result)
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

// blockContext builds an activation of block with args whose sender is
// sender. self comes from the block's home context.
func (in *Interpreter) blockContext(block Value, args []Value, sender Value) (Value, error) {
	vm := in.vm
	if !vm.IsBlock(block) {
		return Nil, newError(KindTypeMismatch, "expected a block, got %s", vm.describe(block))
	}
	h := in.heap
	method, err := h.Slot(block, blkMethod)
	if err != nil {
		return Nil, err
	}
	home, err := h.Slot(block, blkHome)
	if err != nil {
		return Nil, err
	}
	mi, err := vm.methodInfo(method)
	if err != nil {
		return Nil, err
	}
	if len(args) != mi.argCount {
		return Nil, newError(KindArgumentError, "block expects %d arguments, got %d", mi.argCount, len(args))
	}
	if !h.IsLive(home) {
		return Nil, newError(KindArgumentError, "block home context is gone")
	}
	self, err := h.Slot(home, ctxSelf)
	if err != nil {
		return Nil, err
	}

	mark := h.PushRoots(append([]Value{block}, args...)...)
	defer h.PopRoots(mark)
	ctx, err := vm.newContext(mi, sender, self, home)
	if err != nil {
		return Nil, err
	}
	for i, arg := range args {
		if err := h.SetSlot(ctx, ctxFixedSlots+i, arg); err != nil {
			return Nil, err
		}
	}
	return ctx, nil
}

// ValueBlock evaluates block with args. Inside the dispatch loop the block
// is activated in place and the returned value is meaningless; the block's
// own return delivers the result. Called from outside, it runs the block to
// completion.
func (in *Interpreter) ValueBlock(block Value, args []Value) (Value, error) {
	if in.dispatching {
		in.dispatching = false
		ctx, err := in.blockContext(block, args, in.active)
		if err != nil {
			return Nil, err
		}
		return Nil, in.switchTo(ctx)
	}
	ctx, err := in.blockContext(block, args, Nil)
	if err != nil {
		return Nil, err
	}
	mark := in.heap.PushRoots(ctx)
	defer in.heap.PopRoots(mark)
	return in.runNested(ctx)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// fail attaches a snapshot of the context chain to err.
func (in *Interpreter) fail(err error) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	if e.Trace == nil {
		_ = in.saveIP()
		e.Trace = in.traceFrom(in.active, nil)
		// Chains interrupted by nested executions follow, innermost first.
		for i := len(in.suspended) - 1; i >= 0; i-- {
			e.Trace = in.traceFrom(in.suspended[i], e.Trace)
		}
	}
	if e.Kind == KindOutOfMemory || e.Kind == KindCorruptedInstruction {
		vmLog.Errorf("aborting execution: %v", e)
	}
	return err
}

func (in *Interpreter) traceFrom(ctx Value, trace []TraceEntry) []TraceEntry {
	for _, info := range in.vm.contextChain(ctx) {
		hash, _ := in.heap.Hash(info.Method)
		trace = append(trace, TraceEntry{
			MethodHash: hash,
			Selector:   info.Selector,
			IP:         info.IP,
			Block:      info.Block,
		})
	}
	return trace
}
