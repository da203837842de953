package vm

// ---------------------------------------------------------------------------
// Contexts (activation records)
// ---------------------------------------------------------------------------

// Slots of a Context-kind object. Temporaries start at ctxFixedSlots and the
// operand stack follows them. ctxSP holds the slot index of the next free
// stack entry, so the collector traces exactly the slots below it.
const (
	ctxSender = iota
	ctxSelf
	ctxMethod
	ctxIP
	ctxSP
	ctxHome // nil for method contexts
	ctxFixedSlots
)

// newContext allocates an activation of mi. The caller must keep receiver,
// home and sender reachable; they are rooted here only for the duration of
// the allocation.
func (vm *VM) newContext(mi *methodInfo, sender, receiver, home Value) (Value, error) {
	h := vm.heap
	class := vm.MethodContextClass
	if !home.IsNil() {
		class = vm.BlockContextClass
	}
	mark := h.PushRoots(mi.method, sender, receiver, home)
	defer h.PopRoots(mark)

	ctx, err := h.Allocate(KindContext, class, mi.contextSlots())
	if err != nil {
		return Nil, err
	}
	base := ctxFixedSlots + mi.ownTemps()
	fields := [ctxFixedSlots]Value{
		ctxSender: sender,
		ctxSelf:   receiver,
		ctxMethod: mi.method,
		ctxIP:     fromIntUnchecked(0),
		ctxSP:     fromIntUnchecked(int64(base)),
		ctxHome:   home,
	}
	for i, v := range fields {
		if err := h.SetSlot(ctx, i, v); err != nil {
			return Nil, err
		}
	}
	return ctx, nil
}

// ContextInfo is a read-only view of one activation, for tracing and tools.
type ContextInfo struct {
	Context  Value
	Method   Value
	Selector string
	Receiver Value
	IP       int
	Depth    int // operand stack depth
	Block    bool
}

// contextInt reads an integer field of a context.
func (vm *VM) contextInt(ctx Value, slot int) (int, error) {
	v, err := vm.heap.Slot(ctx, slot)
	if err != nil {
		return 0, err
	}
	n, err := v.AsInt()
	return int(n), err
}

// contextInfo decodes ctx.
func (vm *VM) contextInfo(ctx Value) (ContextInfo, error) {
	info := ContextInfo{Context: ctx}
	h := vm.heap
	var err error
	if info.Method, err = h.Slot(ctx, ctxMethod); err != nil {
		return info, err
	}
	mi, err := vm.methodInfo(info.Method)
	if err != nil {
		return info, err
	}
	if info.Receiver, err = h.Slot(ctx, ctxSelf); err != nil {
		return info, err
	}
	if info.IP, err = vm.contextInt(ctx, ctxIP); err != nil {
		return info, err
	}
	sp, err := vm.contextInt(ctx, ctxSP)
	if err != nil {
		return info, err
	}
	info.Depth = sp - ctxFixedSlots - mi.ownTemps()
	home, err := h.Slot(ctx, ctxHome)
	if err != nil {
		return info, err
	}
	info.Block = !home.IsNil()
	info.Selector = vm.MethodSelector(info.Method)
	if info.Block {
		// Blocks report the selector of the method they were written in.
		for !home.IsNil() {
			m, _ := h.Slot(home, ctxMethod)
			info.Selector = vm.MethodSelector(m)
			home, _ = h.Slot(home, ctxHome)
		}
	}
	return info, nil
}

// contextChain walks sender links from ctx.
func (vm *VM) contextChain(ctx Value) []ContextInfo {
	var chain []ContextInfo
	for !ctx.IsNil() {
		info, err := vm.contextInfo(ctx)
		if err != nil {
			break
		}
		chain = append(chain, info)
		if ctx, err = vm.heap.Slot(ctx, ctxSender); err != nil {
			break
		}
	}
	return chain
}

// tempLocation resolves temp index idx as seen from ctx to the context and
// slot that store it. Block contexts route indices below their method's
// home temp count to the home context.
func (vm *VM) tempLocation(ctx Value, idx int) (Value, int, error) {
	h := vm.heap
	for {
		m, err := h.Slot(ctx, ctxMethod)
		if err != nil {
			return Nil, 0, err
		}
		mi, err := vm.methodInfo(m)
		if err != nil {
			return Nil, 0, err
		}
		home, err := h.Slot(ctx, ctxHome)
		if err != nil {
			return Nil, 0, err
		}
		if !home.IsNil() && idx < mi.homeTempCount {
			ctx = home
			continue
		}
		local := idx - mi.homeTempCount
		if home.IsNil() {
			local = idx
		}
		if local < 0 || local >= mi.ownTemps() {
			return Nil, 0, newError(KindIndexError, "temp %d outside method with %d temps", idx, mi.tempCount)
		}
		return ctx, ctxFixedSlots + local, nil
	}
}
