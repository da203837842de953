package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Primitive registry
// ---------------------------------------------------------------------------

// Primitive is a native method body. It returns the result of the send, or a
// *PrimitiveFailure to have the interpreter run the method's bytecode
// instead. Any other error aborts the current execution.
type Primitive func(in *Interpreter, receiver Value, args []Value) (Value, error)

// Stable primitive numbers.
const (
	PrimAdd = 1
	PrimSub = 2
	PrimLT  = 3
	PrimGT  = 4
	PrimLE  = 5
	PrimGE  = 6
	PrimEQ  = 7
	PrimNE  = 8
	PrimMul = 9
	PrimDiv = 10
	PrimMod = 11

	PrimArrayAt    = 60
	PrimArrayAtPut = 61
	PrimArraySize  = 62

	PrimStringAt     = 63
	PrimStringAtPut  = 64
	PrimStringConcat = 65
	PrimStringSize   = 66
	PrimAsSymbol     = 67
	PrimAsString     = 68

	PrimNew          = 70
	PrimBasicNew     = 71
	PrimBasicNewSize = 72
	PrimIdentityHash = 75
	PrimPrintString  = 76

	PrimDictAt    = 90
	PrimDictAtPut = 91
	PrimDictKeys  = 92
	PrimDictSize  = 93
	PrimDictNew   = 94

	PrimIdentical = 110
	PrimClass     = 111

	PrimBlockValue    = 201
	PrimBlockValueArg = 202
	PrimBlockNumArgs  = 203
)

type primitiveEntry struct {
	name string
	fn   Primitive
}

// PrimitiveTable maps primitive numbers to native functions.
type PrimitiveTable struct {
	entries map[int]primitiveEntry
}

// NewPrimitiveTable creates an empty table.
func NewPrimitiveTable() *PrimitiveTable {
	return &PrimitiveTable{entries: make(map[int]primitiveEntry)}
}

// Variadic marks a primitive that accepts any argument count.
const Variadic = -1

// Register binds number to fn, which takes arity arguments. Registering a
// number twice replaces the earlier binding.
func (t *PrimitiveTable) Register(number int, name string, arity int, fn Primitive) {
	if arity != Variadic {
		inner := fn
		fn = func(in *Interpreter, recv Value, args []Value) (Value, error) {
			if len(args) != arity {
				return Nil, Fail(KindArgumentError, "%s expects %d arguments, got %d", name, arity, len(args))
			}
			return inner(in, recv, args)
		}
	}
	t.entries[number] = primitiveEntry{name: name, fn: fn}
}

// Lookup returns the primitive bound to number.
func (t *PrimitiveTable) Lookup(number int) (Primitive, bool) {
	e, ok := t.entries[number]
	return e.fn, ok
}

// Name returns the descriptive name a primitive was registered with.
func (t *PrimitiveTable) Name(number int) string {
	if e, ok := t.entries[number]; ok {
		return e.name
	}
	return fmt.Sprintf("primitive %d", number)
}

// Numbers returns every registered number in ascending order.
func (t *PrimitiveTable) Numbers() []int {
	nums := make([]int, 0, len(t.entries))
	for n := range t.entries {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

func intArg(v Value, what string) (int64, error) {
	if !v.IsInt() {
		return 0, Fail(KindTypeMismatch, "%s must be a SmallInteger, got %s", what, v.Variant())
	}
	return v.intPayload(), nil
}

// intResult boxes n, failing the primitive when it leaves the SmallInteger
// range.
func intResult(n int64) (Value, error) {
	v, err := FromInt(n)
	if err != nil {
		return Nil, failWith(err)
	}
	return v, nil
}

// oneBasedIndex checks a 1-based index against size and returns the 0-based
// offset.
func oneBasedIndex(v Value, size int) (int, error) {
	if !v.IsInt() {
		return 0, Fail(KindTypeMismatch, "index must be a SmallInteger, got %s", v.Variant())
	}
	i := v.intPayload()
	if i < 1 || i > int64(size) {
		return 0, newError(KindIndexError, "index %d outside [1, %d]", i, size)
	}
	return int(i - 1), nil
}
