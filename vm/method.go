package vm

// ---------------------------------------------------------------------------
// CompiledMethod objects
// ---------------------------------------------------------------------------

// Slots of a Method-kind object.
const (
	methBytecodes = iota
	methLiterals
	methTempNames
	methPrimitive
	methArgCount
	methTempCount
	methHomeTempCount
	methStackDepth
	methSelector
	methClass
	methodSlots
)

// Slots of a block closure.
const (
	blkMethod = iota
	blkHome
	blkParams
	blockSlots
)

// methodInfo is the decoded, immutable part of a compiled method that the
// interpreter consults on every instruction.
type methodInfo struct {
	method        Value
	bytecodes     []byte
	literals      Value
	primitive     int
	argCount      int
	tempCount     int
	homeTempCount int
	stackDepth    int
	selector      Value
	hash          uint32
}

// ownTemps is the number of temp slots the method's own context holds.
func (mi *methodInfo) ownTemps() int {
	return mi.tempCount - mi.homeTempCount
}

// contextSlots is the size of a context activating this method.
func (mi *methodInfo) contextSlots() int {
	return ctxFixedSlots + mi.ownTemps() + mi.stackDepth
}

func (mi *methodInfo) hasBody() bool {
	return len(mi.bytecodes) > 0
}

// methodInfo returns the decoded form of method, caching it until the next
// collection.
func (vm *VM) methodInfo(method Value) (*methodInfo, error) {
	if mi, ok := vm.methodCache[method]; ok {
		return mi, nil
	}
	h := vm.heap
	kind, err := h.Kind(method)
	if err != nil {
		return nil, err
	}
	if kind != KindMethod {
		return nil, newError(KindTypeMismatch, "expected a compiled method, got %s object", kind)
	}
	mi := &methodInfo{method: method}
	bc, err := h.Slot(method, methBytecodes)
	if err != nil {
		return nil, err
	}
	if mi.bytecodes, err = h.Bytes(bc); err != nil {
		return nil, err
	}
	if mi.literals, err = h.Slot(method, methLiterals); err != nil {
		return nil, err
	}
	ints := []struct {
		slot int
		dst  *int
	}{
		{methPrimitive, &mi.primitive},
		{methArgCount, &mi.argCount},
		{methTempCount, &mi.tempCount},
		{methHomeTempCount, &mi.homeTempCount},
		{methStackDepth, &mi.stackDepth},
	}
	for _, f := range ints {
		v, err := h.Slot(method, f.slot)
		if err != nil {
			return nil, err
		}
		n, err := v.AsInt()
		if err != nil {
			return nil, err
		}
		*f.dst = int(n)
	}
	if mi.selector, err = h.Slot(method, methSelector); err != nil {
		return nil, err
	}
	if mi.hash, err = h.Hash(method); err != nil {
		return nil, err
	}
	vm.methodCache[method] = mi
	return mi, nil
}

// literal returns entry idx of the method's literal pool.
func (vm *VM) literal(mi *methodInfo, idx int) (Value, error) {
	return vm.heap.Slot(mi.literals, idx)
}

// MethodSelector returns the selector name of a compiled method.
func (vm *VM) MethodSelector(method Value) string {
	mi, err := vm.methodInfo(method)
	if err != nil || mi.selector.IsNil() {
		return ""
	}
	name, _ := vm.Symbols.Name(mi.selector)
	return name
}

// MethodBytecodes returns a copy of a compiled method's bytecode.
func (vm *VM) MethodBytecodes(method Value) ([]byte, error) {
	mi, err := vm.methodInfo(method)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), mi.bytecodes...), nil
}

// MethodPrimitive returns the primitive number of a method, 0 for none.
func (vm *VM) MethodPrimitive(method Value) (int, error) {
	mi, err := vm.methodInfo(method)
	if err != nil {
		return 0, err
	}
	return mi.primitive, nil
}

// MethodClass returns the class a method is installed in, or nil.
func (vm *VM) MethodClass(method Value) (Value, error) {
	return vm.heap.Slot(method, methClass)
}

// ---------------------------------------------------------------------------
// Block closures
// ---------------------------------------------------------------------------

// IsBlock reports whether v is a block closure.
func (vm *VM) IsBlock(v Value) bool {
	return v.IsRef() && vm.ClassOf(v) == vm.BlockClass
}

func (vm *VM) newBlock(method, home Value, params int) (Value, error) {
	return vm.heap.AllocateSlots(KindGeneral, vm.BlockClass,
		[]Value{method, home, fromIntUnchecked(int64(params))})
}

// BlockNumArgs returns the parameter count of a block closure.
func (vm *VM) BlockNumArgs(block Value) (int, error) {
	if !vm.IsBlock(block) {
		return 0, mismatch(block, "block")
	}
	p, err := vm.heap.Slot(block, blkParams)
	if err != nil {
		return 0, err
	}
	n, err := p.AsInt()
	return int(n), err
}
