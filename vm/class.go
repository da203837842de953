package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Class format
// ---------------------------------------------------------------------------

// Format describes the shape of a class's instances.
type Format uint8

const (
	FormatPointer Format = iota
	FormatIndexable
	FormatByteIndexable
	FormatMethod

	// Kernel formats, not accepted from class definitions.
	FormatSymbol
	FormatContext
	FormatClass
)

var formatNames = [...]string{
	FormatPointer:       "pointer",
	FormatIndexable:     "indexable",
	FormatByteIndexable: "byteIndexable",
	FormatMethod:        "method",
	FormatSymbol:        "symbol",
	FormatContext:       "context",
	FormatClass:         "class",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// ParseFormat accepts the user-visible format names.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "pointer":
		return FormatPointer, nil
	case "indexable", "variable":
		return FormatIndexable, nil
	case "byteindexable", "bytes":
		return FormatByteIndexable, nil
	case "method":
		return FormatMethod, nil
	}
	return 0, newError(KindArgumentError, "unknown class format %q", s)
}

// Kind returns the object kind that instances of the format use.
func (f Format) Kind() ObjectKind {
	switch f {
	case FormatIndexable:
		return KindArray
	case FormatByteIndexable:
		return KindByteArray
	case FormatMethod:
		return KindMethod
	case FormatSymbol:
		return KindSymbol
	case FormatContext:
		return KindContext
	case FormatClass:
		return KindClass
	default:
		return KindGeneral
	}
}

// ---------------------------------------------------------------------------
// Class objects
// ---------------------------------------------------------------------------

// Slots of every Class-kind object. A metaclass uses the same layout and
// points back at its sole instance.
const (
	clsName = iota
	clsSuperclass
	clsFormat
	clsInstSize
	clsInstVars
	clsMethods
	clsSubclasses
	clsThisClass
	classSlots
)

// allocClassPair allocates an uninitialized class and its metaclass.
func (vm *VM) allocClassPair() (class, meta Value, err error) {
	meta, err = vm.heap.Allocate(KindClass, vm.MetaclassClass, classSlots)
	if err != nil {
		return Nil, Nil, err
	}
	mark := vm.heap.PushRoots(meta)
	defer vm.heap.PopRoots(mark)
	class, err = vm.heap.Allocate(KindClass, meta, classSlots)
	return class, meta, err
}

// initClass fills in the slots of a freshly allocated class and metaclass
// and links both into their superclasses' subclass lists.
func (vm *VM) initClass(class, meta Value, name string, super Value, format Format, ivars []string) error {
	mark := vm.heap.PushRoots(class, meta, super)
	defer vm.heap.PopRoots(mark)

	if err := vm.setClassShape(class, name, super, format, ivars); err != nil {
		return err
	}
	if err := vm.setMetaShape(class, meta, name, super); err != nil {
		return err
	}
	return vm.linkClass(class, meta, super)
}

// metaSuperclass is the superclass of the metaclass of a class whose
// superclass is super. Root classes have Class above their metaclass.
func (vm *VM) metaSuperclass(super Value) Value {
	if super.IsNil() {
		return vm.ClassClass
	}
	if m, _ := vm.heap.ClassOf(super); !m.IsNil() {
		return m
	}
	return vm.ClassClass
}

func (vm *VM) setMetaShape(class, meta Value, name string, super Value) error {
	h := vm.heap
	if err := vm.setClassShape(meta, name+" class", vm.metaSuperclass(super), FormatClass, nil); err != nil {
		return err
	}
	// A metaclass instance has the class layout regardless of inherited
	// instance variables.
	if err := h.SetSlot(meta, clsInstSize, fromIntUnchecked(classSlots)); err != nil {
		return err
	}
	return h.SetSlot(meta, clsThisClass, class)
}

func (vm *VM) linkClass(class, meta, super Value) error {
	if !super.IsNil() {
		if err := vm.addSubclass(super, class); err != nil {
			return err
		}
	}
	if metaSuper := vm.metaSuperclass(super); metaSuper != meta {
		return vm.addSubclass(metaSuper, meta)
	}
	return nil
}

func (vm *VM) setClassShape(class Value, name string, super Value, format Format, ivars []string) error {
	h := vm.heap
	sym, err := vm.Symbols.Intern(name)
	if err != nil {
		return err
	}
	if err := h.SetSlot(class, clsName, sym); err != nil {
		return err
	}
	if err := h.SetSlot(class, clsSuperclass, super); err != nil {
		return err
	}
	if err := h.SetSlot(class, clsFormat, fromIntUnchecked(int64(format))); err != nil {
		return err
	}

	inherited := 0
	if !super.IsNil() {
		if inherited, err = vm.InstanceSize(super); err != nil {
			return err
		}
	}
	if err := h.SetSlot(class, clsInstSize, fromIntUnchecked(int64(inherited+len(ivars)))); err != nil {
		return err
	}

	names := make([]Value, len(ivars))
	for i, iv := range ivars {
		if names[i], err = vm.Symbols.Intern(iv); err != nil {
			return err
		}
	}
	arr, err := h.AllocateSlots(KindArray, vm.ArrayClass, names)
	if err != nil {
		return err
	}
	if err := h.SetSlot(class, clsInstVars, arr); err != nil {
		return err
	}

	if methods, _ := h.Slot(class, clsMethods); methods.IsNil() {
		dict, err := newDictionary(h, vm.DictionaryClass, vm.ArrayClass, 0)
		if err != nil {
			return err
		}
		if err := h.SetSlot(class, clsMethods, dict); err != nil {
			return err
		}
	}
	if subs, _ := h.Slot(class, clsSubclasses); subs.IsNil() {
		empty, err := h.Allocate(KindArray, vm.ArrayClass, 0)
		if err != nil {
			return err
		}
		if err := h.SetSlot(class, clsSubclasses, empty); err != nil {
			return err
		}
	}
	return nil
}

// addSubclass appends sub to super's subclass list, unless present.
func (vm *VM) addSubclass(super, sub Value) error {
	subs, err := vm.Subclasses(super)
	if err != nil {
		return err
	}
	for _, s := range subs {
		if s == sub {
			return nil
		}
	}
	arr, err := vm.heap.AllocateSlots(KindArray, vm.ArrayClass, append(subs, sub))
	if err != nil {
		return err
	}
	return vm.heap.SetSlot(super, clsSubclasses, arr)
}

// removeSubclass drops sub from super's subclass list.
func (vm *VM) removeSubclass(super, sub Value) error {
	subs, err := vm.Subclasses(super)
	if err != nil {
		return err
	}
	kept := subs[:0]
	for _, s := range subs {
		if s != sub {
			kept = append(kept, s)
		}
	}
	arr, err := vm.heap.AllocateSlots(KindArray, vm.ArrayClass, kept)
	if err != nil {
		return err
	}
	return vm.heap.SetSlot(super, clsSubclasses, arr)
}

// ---------------------------------------------------------------------------
// Class queries
// ---------------------------------------------------------------------------

// IsClass reports whether v is a class or metaclass object.
func (vm *VM) IsClass(v Value) bool {
	k, err := vm.heap.Kind(v)
	return err == nil && k == KindClass
}

// ClassName returns the name of a class or metaclass.
func (vm *VM) ClassName(class Value) string {
	sym, err := vm.heap.Slot(class, clsName)
	if err != nil {
		return "?"
	}
	name, ok := vm.Symbols.Name(sym)
	if !ok {
		return "?"
	}
	return name
}

// Superclass returns the superclass of class, or nil for a root.
func (vm *VM) Superclass(class Value) (Value, error) {
	return vm.heap.Slot(class, clsSuperclass)
}

// ClassFormat returns the instance format of class.
func (vm *VM) ClassFormat(class Value) (Format, error) {
	f, err := vm.heap.Slot(class, clsFormat)
	if err != nil {
		return 0, err
	}
	n, err := f.AsInt()
	return Format(n), err
}

// InstanceSize returns the number of named instance variables, inherited
// ones included.
func (vm *VM) InstanceSize(class Value) (int, error) {
	s, err := vm.heap.Slot(class, clsInstSize)
	if err != nil {
		return 0, err
	}
	n, err := s.AsInt()
	return int(n), err
}

// InstVarNames returns the instance variable names class itself declares.
func (vm *VM) InstVarNames(class Value) ([]string, error) {
	arr, err := vm.heap.Slot(class, clsInstVars)
	if err != nil {
		return nil, err
	}
	syms, err := vm.arrayElements(arr)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(syms))
	for i, s := range syms {
		names[i], _ = vm.Symbols.Name(s)
	}
	return names, nil
}

// AllInstVarNames returns every instance variable name, inherited first.
func (vm *VM) AllInstVarNames(class Value) ([]string, error) {
	var chain []Value
	for c := class; !c.IsNil(); {
		chain = append(chain, c)
		next, err := vm.Superclass(c)
		if err != nil {
			return nil, err
		}
		c = next
	}
	var all []string
	for i := len(chain) - 1; i >= 0; i-- {
		names, err := vm.InstVarNames(chain[i])
		if err != nil {
			return nil, err
		}
		all = append(all, names...)
	}
	return all, nil
}

// Subclasses returns the direct subclasses of class.
func (vm *VM) Subclasses(class Value) ([]Value, error) {
	arr, err := vm.heap.Slot(class, clsSubclasses)
	if err != nil {
		return nil, err
	}
	if arr.IsNil() {
		return nil, nil
	}
	return vm.arrayElements(arr)
}

// IsSubclassOf returns true if c is t or inherits from it.
func (vm *VM) IsSubclassOf(c, t Value) bool {
	for cur := c; !cur.IsNil(); {
		if cur == t {
			return true
		}
		next, err := vm.Superclass(cur)
		if err != nil {
			return false
		}
		cur = next
	}
	return false
}

// ClassOf maps any value to its class. Immediates use fixed classes.
func (vm *VM) ClassOf(v Value) Value {
	switch v.tag() {
	case tagNil:
		return vm.UndefinedObjectClass
	case tagTrue:
		return vm.TrueClass
	case tagFalse:
		return vm.FalseClass
	case tagInt:
		return vm.IntegerClass
	case tagFloat:
		return vm.FloatClass
	}
	c, err := vm.heap.ClassOf(v)
	if err != nil {
		return Nil
	}
	return c
}

// ---------------------------------------------------------------------------
// Class registry
// ---------------------------------------------------------------------------

// ClassNamed resolves a class by name.
func (vm *VM) ClassNamed(name string) (Value, bool) {
	c, ok := vm.classes[name]
	return c, ok
}

// ClassNames returns registered class names in registration order.
func (vm *VM) ClassNames() []string {
	out := make([]string, len(vm.classOrder))
	copy(out, vm.classOrder)
	return out
}

func (vm *VM) registerClass(name string, class Value) {
	if _, exists := vm.classes[name]; !exists {
		vm.classOrder = append(vm.classOrder, name)
	}
	vm.classes[name] = class
}

// ---------------------------------------------------------------------------
// Method dictionary
// ---------------------------------------------------------------------------

type lookupKey struct {
	class    Value
	selector Value
}

// InstallMethod adds or replaces the method for selector in class.
func (vm *VM) InstallMethod(class, selector, method Value) error {
	dict, err := vm.heap.Slot(class, clsMethods)
	if err != nil {
		return err
	}
	if err := dictAtPut(vm.heap, dict, selector, method); err != nil {
		return err
	}
	if err := vm.heap.SetSlot(method, methClass, class); err != nil {
		return err
	}
	clear(vm.lookupCache)
	return nil
}

// LocalMethod returns the method class itself defines for selector.
func (vm *VM) LocalMethod(class, selector Value) (Value, bool, error) {
	dict, err := vm.heap.Slot(class, clsMethods)
	if err != nil {
		return Nil, false, err
	}
	return dictAt(vm.heap, dict, selector)
}

// LookupMethod walks the superclass chain from class. ok is false when no
// class on the chain defines selector.
func (vm *VM) LookupMethod(class, selector Value) (method Value, ok bool, err error) {
	key := lookupKey{class, selector}
	if m, hit := vm.lookupCache[key]; hit {
		return m, true, nil
	}
	for c := class; !c.IsNil(); {
		m, found, err := vm.LocalMethod(c, selector)
		if err != nil {
			return Nil, false, err
		}
		if found {
			vm.lookupCache[key] = m
			return m, true, nil
		}
		if c, err = vm.Superclass(c); err != nil {
			return Nil, false, err
		}
	}
	return Nil, false, nil
}

// Selectors returns the selectors class itself defines.
func (vm *VM) Selectors(class Value) ([]string, error) {
	dict, err := vm.heap.Slot(class, clsMethods)
	if err != nil {
		return nil, err
	}
	var out []string
	err = dictEach(vm.heap, dict, func(k, _ Value) error {
		name, _ := vm.Symbols.Name(k)
		out = append(out, name)
		return nil
	})
	return out, err
}
