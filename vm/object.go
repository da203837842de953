package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Object construction helpers
// ---------------------------------------------------------------------------

// NewString allocates a String holding s.
func (vm *VM) NewString(s string) (Value, error) {
	return vm.heap.AllocateBytes(KindByteArray, vm.StringClass, []byte(s))
}

// NewArray allocates an Array holding elems.
func (vm *VM) NewArray(elems ...Value) (Value, error) {
	return vm.heap.AllocateSlots(KindArray, vm.ArrayClass, elems)
}

// NewDictionary allocates an empty Dictionary.
func (vm *VM) NewDictionary() (Value, error) {
	return newDictionary(vm.heap, vm.DictionaryClass, vm.ArrayClass, 0)
}

// Intern returns the symbol for name.
func (vm *VM) Intern(name string) (Value, error) {
	return vm.Symbols.Intern(name)
}

// Instantiate creates an instance of class with n indexable elements,
// following the class format.
func (vm *VM) Instantiate(class Value, n int) (Value, error) {
	if n < 0 {
		return Nil, newError(KindArgumentError, "negative size %d", n)
	}
	if !vm.IsClass(class) {
		return Nil, newError(KindTypeMismatch, "%s is not a class", vm.describe(class))
	}
	format, err := vm.ClassFormat(class)
	if err != nil {
		return Nil, err
	}
	named, err := vm.InstanceSize(class)
	if err != nil {
		return Nil, err
	}
	switch format {
	case FormatPointer:
		if n != 0 {
			return Nil, newError(KindArgumentError, "%s is not indexable", vm.ClassName(class))
		}
		return vm.heap.Allocate(KindGeneral, class, named)
	case FormatIndexable:
		return vm.heap.Allocate(KindArray, class, named+n)
	case FormatByteIndexable:
		if named != 0 {
			return Nil, newError(KindArgumentError, "byte-indexable %s cannot have named variables", vm.ClassName(class))
		}
		return vm.heap.Allocate(KindByteArray, class, n)
	}
	return Nil, newError(KindArgumentError, "instances of %s cannot be created directly", vm.ClassName(class))
}

// ---------------------------------------------------------------------------
// Object inspection helpers
// ---------------------------------------------------------------------------

// Heap returns the VM's object memory.
func (vm *VM) Heap() *Heap {
	return vm.heap
}

// arrayElements copies out every slot of a pointer object.
func (vm *VM) arrayElements(arr Value) ([]Value, error) {
	n, err := vm.heap.Size(arr)
	if err != nil {
		return nil, err
	}
	out := make([]Value, n)
	for i := range out {
		if out[i], err = vm.heap.Slot(arr, i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ArrayElements returns the elements of an Array.
func (vm *VM) ArrayElements(arr Value) ([]Value, error) {
	return vm.arrayElements(arr)
}

// StringValue returns the text of a String or Symbol.
func (vm *VM) StringValue(v Value) (string, error) {
	kind, err := vm.heap.Kind(v)
	if err != nil {
		return "", err
	}
	if kind != KindByteArray && kind != KindSymbol {
		return "", newError(KindTypeMismatch, "expected a string, got %s", vm.describe(v))
	}
	b, err := vm.heap.Bytes(v)
	return string(b), err
}

// IsString reports whether v is a byte instance of String or a subclass.
// Symbols are not strings here.
func (vm *VM) IsString(v Value) bool {
	if k, err := vm.heap.Kind(v); err != nil || k != KindByteArray {
		return false
	}
	return vm.IsSubclassOf(vm.ClassOf(v), vm.StringClass)
}

// IsSymbol reports whether v is an interned symbol.
func (vm *VM) IsSymbol(v Value) bool {
	return v.IsRef() && vm.Symbols.IsSymbol(v)
}

func (vm *VM) selectorName(sel Value) string {
	if name, ok := vm.Symbols.Name(sel); ok {
		return name
	}
	return sel.String()
}

// describe names a value for error messages.
func (vm *VM) describe(v Value) string {
	if v.IsImmediate() {
		return v.String()
	}
	return article(vm.ClassName(vm.ClassOf(v)))
}

func article(name string) string {
	if name != "" && strings.ContainsRune("AEIOU", rune(name[0])) {
		return "an " + name
	}
	return "a " + name
}

// ---------------------------------------------------------------------------
// Printing
// ---------------------------------------------------------------------------

// PrintString renders v the way printString does.
func (vm *VM) PrintString(v Value) string {
	switch v.Variant() {
	case VariantNil, VariantTrue, VariantFalse, VariantFloat:
		return v.String()
	case VariantInt:
		return strconv.FormatInt(v.intPayload(), 10)
	}
	if !vm.heap.IsLive(v) {
		return fmt.Sprintf("<dangling %v>", v)
	}
	if vm.IsClass(v) {
		return vm.ClassName(v)
	}
	if name, ok := vm.Symbols.Name(v); ok {
		return "#" + name
	}
	if vm.IsString(v) {
		s, _ := vm.StringValue(v)
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
	if vm.ClassOf(v) == vm.ArrayClass {
		elems, err := vm.arrayElements(v)
		if err == nil {
			parts := make([]string, len(elems))
			for i, e := range elems {
				parts[i] = vm.printElement(e)
			}
			return "(" + strings.Join(parts, " ") + ")"
		}
	}
	return article(vm.ClassName(vm.ClassOf(v)))
}

// printElement avoids recursing into nested arrays.
func (vm *VM) printElement(v Value) string {
	if v.IsRef() && vm.ClassOf(v) == vm.ArrayClass {
		return "an Array"
	}
	return vm.PrintString(v)
}
