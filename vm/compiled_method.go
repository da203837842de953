package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// MethodSpec: compiler output
// ---------------------------------------------------------------------------

// MethodSpec is a compiled method as produced by a compiler, before it is
// materialized on the heap.
//
// Temporaries are numbered in one index space. For a method, arguments come
// first, then locals. For a block, indices below HomeTempCount name the
// enclosing context's temporaries, followed by the block's parameters and
// then its locals. TempCount covers the whole index space.
type MethodSpec struct {
	Selector      string
	ArgCount      int
	TempCount     int
	TempNames     []string
	Primitive     int
	HomeTempCount int
	Bytecodes     []byte
	Literals      []Literal
}

// LiteralKind discriminates literal pool entries.
type LiteralKind uint8

const (
	LitNil LiteralKind = iota
	LitTrue
	LitFalse
	LitInt
	LitFloat
	LitSymbol
	LitString
	LitGlobal
	LitBlock
	LitArray
)

var literalKindNames = [...]string{"nil", "true", "false", "int", "float", "symbol", "string", "global", "block", "array"}

func (k LiteralKind) String() string {
	if int(k) < len(literalKindNames) {
		return literalKindNames[k]
	}
	return fmt.Sprintf("LiteralKind(%d)", uint8(k))
}

// Literal is one entry of a MethodSpec literal pool.
type Literal struct {
	Kind     LiteralKind
	Int      int64
	Float    float64
	Text     string // symbol, string or global name
	Block    *MethodSpec
	Elements []Literal
}

// Literal constructors.
func NilLiteral() Literal                { return Literal{Kind: LitNil} }
func IntLiteral(n int64) Literal         { return Literal{Kind: LitInt, Int: n} }
func FloatLiteral(f float64) Literal     { return Literal{Kind: LitFloat, Float: f} }
func SymbolLiteral(s string) Literal     { return Literal{Kind: LitSymbol, Text: s} }
func StringLiteral(s string) Literal     { return Literal{Kind: LitString, Text: s} }
func GlobalLiteral(name string) Literal  { return Literal{Kind: LitGlobal, Text: name} }
func BlockLiteral(m *MethodSpec) Literal { return Literal{Kind: LitBlock, Block: m} }

// BoolLiteral returns the true or false literal.
func BoolLiteral(b bool) Literal {
	if b {
		return Literal{Kind: LitTrue}
	}
	return Literal{Kind: LitFalse}
}

// ArrayLiteral builds a literal array.
func ArrayLiteral(elems ...Literal) Literal {
	return Literal{Kind: LitArray, Elements: elems}
}

// ClassSpec is a class registration: the shape of the class and the methods
// to install on its instance and class sides.
type ClassSpec struct {
	Name         string
	Superclass   string // empty for a root class
	Format       string
	InstanceVars []string
	Methods      []*MethodSpec
	ClassMethods []*MethodSpec
}

// ---------------------------------------------------------------------------
// MethodBuilder: Helper for constructing method specs
// ---------------------------------------------------------------------------

// MethodBuilder helps construct MethodSpec values by hand.
type MethodBuilder struct {
	spec     *MethodSpec
	bytecode *BytecodeBuilder
	symbols  map[string]int
}

// NewMethodBuilder creates a builder for a method taking arity arguments.
func NewMethodBuilder(selector string, arity int) *MethodBuilder {
	return &MethodBuilder{
		spec:     &MethodSpec{Selector: selector, ArgCount: arity, TempCount: arity},
		bytecode: NewBytecodeBuilder(),
		symbols:  make(map[string]int),
	}
}

// NewBlockBuilder creates a builder for a block nested in a context with
// homeTemps temporaries.
func NewBlockBuilder(homeTemps, arity int) *MethodBuilder {
	b := NewMethodBuilder("", arity)
	b.spec.HomeTempCount = homeTemps
	b.spec.TempCount = homeTemps + arity
	return b
}

// SetNumTemps sets the total number of temporaries.
func (b *MethodBuilder) SetNumTemps(n int) *MethodBuilder {
	b.spec.TempCount = n
	return b
}

// SetTempNames records temporary names for disassembly and debugging.
func (b *MethodBuilder) SetTempNames(names ...string) *MethodBuilder {
	b.spec.TempNames = names
	return b
}

// SetPrimitive sets the primitive number tried before the bytecode body.
func (b *MethodBuilder) SetPrimitive(n int) *MethodBuilder {
	b.spec.Primitive = n
	return b
}

// AddLocal increases the temporary count by 1 and returns the index.
func (b *MethodBuilder) AddLocal() int {
	idx := b.spec.TempCount
	b.spec.TempCount++
	return idx
}

// AddLiteral adds a literal and returns its index.
func (b *MethodBuilder) AddLiteral(l Literal) int {
	idx := len(b.spec.Literals)
	b.spec.Literals = append(b.spec.Literals, l)
	return idx
}

// AddSelector returns the literal index of a selector symbol, adding it
// once.
func (b *MethodBuilder) AddSelector(sel string) int {
	if idx, ok := b.symbols[sel]; ok {
		return idx
	}
	idx := b.AddLiteral(SymbolLiteral(sel))
	b.symbols[sel] = idx
	return idx
}

// AddBlock adds a nested block and returns its literal index.
func (b *MethodBuilder) AddBlock(block *MethodSpec) int {
	return b.AddLiteral(BlockLiteral(block))
}

// Bytecode returns the bytecode builder for direct emission.
func (b *MethodBuilder) Bytecode() *BytecodeBuilder {
	return b.bytecode
}

// SendSelector emits a send of sel, adding the selector literal as needed.
func (b *MethodBuilder) SendSelector(sel string, argc int) {
	b.bytecode.Send(b.AddSelector(sel), argc)
}

// PushConstant emits a push of a new literal.
func (b *MethodBuilder) PushConstant(l Literal) {
	b.bytecode.PushLiteral(b.AddLiteral(l))
}

// Build finalizes and returns the spec.
func (b *MethodBuilder) Build() *MethodSpec {
	b.spec.Bytecodes = b.bytecode.Bytes()
	return b.spec
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadMethod materializes spec as a heap CompiledMethod. Symbols are
// interned, strings allocated, global references resolved through the class
// registry and then the globals, and nested blocks loaded recursively.
func (vm *VM) LoadMethod(spec *MethodSpec) (Value, error) {
	if spec == nil {
		return Nil, newError(KindArgumentError, "nil method spec")
	}
	if spec.ArgCount < 0 || spec.HomeTempCount < 0 || spec.TempCount < spec.HomeTempCount+spec.ArgCount {
		return Nil, newError(KindArgumentError, "method %q: %d temps cannot hold %d home temps and %d arguments",
			spec.Selector, spec.TempCount, spec.HomeTempCount, spec.ArgCount)
	}
	if spec.Primitive < 0 || spec.Primitive > 0xffff {
		return Nil, newError(KindArgumentError, "method %q: primitive number %d out of range", spec.Selector, spec.Primitive)
	}
	depth, err := StackDepth(spec.Bytecodes)
	if err != nil {
		return Nil, err
	}

	h := vm.heap
	mark := h.PushRoots()
	defer h.PopRoots(mark)

	lits := make([]Value, len(spec.Literals))
	for i, l := range spec.Literals {
		if lits[i], err = vm.loadLiteral(l); err != nil {
			return Nil, fmt.Errorf("method %q literal %d: %w", spec.Selector, i, err)
		}
		h.PushRoots(lits[i])
	}
	litArray, err := h.AllocateSlots(KindArray, vm.ArrayClass, lits)
	if err != nil {
		return Nil, err
	}
	h.PushRoots(litArray)

	names := make([]Value, len(spec.TempNames))
	for i, n := range spec.TempNames {
		if names[i], err = vm.Symbols.Intern(n); err != nil {
			return Nil, err
		}
	}
	nameArray, err := h.AllocateSlots(KindArray, vm.ArrayClass, names)
	if err != nil {
		return Nil, err
	}
	h.PushRoots(nameArray)

	bc, err := h.AllocateBytes(KindByteArray, vm.ByteArrayClass, spec.Bytecodes)
	if err != nil {
		return Nil, err
	}
	h.PushRoots(bc)

	sel := Nil
	if spec.Selector != "" {
		if sel, err = vm.Symbols.Intern(spec.Selector); err != nil {
			return Nil, err
		}
	}

	slots := make([]Value, methodSlots)
	slots[methBytecodes] = bc
	slots[methLiterals] = litArray
	slots[methTempNames] = nameArray
	slots[methPrimitive] = fromIntUnchecked(int64(spec.Primitive))
	slots[methArgCount] = fromIntUnchecked(int64(spec.ArgCount))
	slots[methTempCount] = fromIntUnchecked(int64(spec.TempCount))
	slots[methHomeTempCount] = fromIntUnchecked(int64(spec.HomeTempCount))
	slots[methStackDepth] = fromIntUnchecked(int64(depth))
	slots[methSelector] = sel
	slots[methClass] = Nil
	return h.AllocateSlots(KindMethod, vm.CompiledMethodClass, slots)
}

func (vm *VM) loadLiteral(l Literal) (Value, error) {
	switch l.Kind {
	case LitNil:
		return Nil, nil
	case LitTrue:
		return True, nil
	case LitFalse:
		return False, nil
	case LitInt:
		return FromInt(l.Int)
	case LitFloat:
		return FromFloat(l.Float)
	case LitSymbol:
		return vm.Symbols.Intern(l.Text)
	case LitString:
		return vm.NewString(l.Text)
	case LitGlobal:
		v, ok := vm.ResolveGlobal(l.Text)
		if !ok {
			return Nil, NameErrorFor(l.Text)
		}
		return v, nil
	case LitBlock:
		return vm.LoadMethod(l.Block)
	case LitArray:
		h := vm.heap
		mark := h.PushRoots()
		defer h.PopRoots(mark)
		elems := make([]Value, len(l.Elements))
		for i, e := range l.Elements {
			v, err := vm.loadLiteral(e)
			if err != nil {
				return Nil, err
			}
			elems[i] = v
			h.PushRoots(v)
		}
		return vm.NewArray(elems...)
	}
	return Nil, newError(KindArgumentError, "unknown literal kind %s", l.Kind)
}
