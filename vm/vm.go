package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// VM: The Smalltalk virtual machine
// ---------------------------------------------------------------------------

// Defaults for heap sizing.
const (
	DefaultSpaceWords  = 1 << 20
	DefaultGCThreshold = 0.8
)

// Options configures a VM.
type Options struct {
	// SpaceWords is the size of each semispace in 64-bit words.
	SpaceWords int
	// GCThreshold is the fraction of a semispace in use that triggers a
	// collection before the next allocation.
	GCThreshold float64
}

// DefaultOptions returns the options New uses for zero fields.
func DefaultOptions() Options {
	return Options{SpaceWords: DefaultSpaceWords, GCThreshold: DefaultGCThreshold}
}

// VM owns the heap, the symbol table, the class registry, the global
// bindings and the interpreter. It is not safe for concurrent use.
type VM struct {
	heap       *Heap
	Symbols    *SymbolTable
	Primitives *PrimitiveTable

	classes    map[string]Value
	classOrder []string
	globals    map[string]Value

	// Well-known classes
	ObjectClass          Value
	ClassClass           Value
	MetaclassClass       Value
	IntegerClass         Value
	FloatClass           Value
	BooleanClass         Value
	TrueClass            Value
	FalseClass           Value
	UndefinedObjectClass Value
	SymbolClass          Value
	StringClass          Value
	ArrayClass           Value
	ByteArrayClass       Value
	DictionaryClass      Value
	BlockClass           Value
	CompiledMethodClass  Value
	MethodContextClass   Value
	BlockContextClass    Value

	interp *Interpreter
	opts   Options

	// Caches keyed by handle; cleared after every collection since freed
	// handles are reused.
	methodCache map[Value]*methodInfo
	lookupCache map[lookupKey]Value
}

// New creates and bootstraps a VM.
func New(opts Options) (*VM, error) {
	def := DefaultOptions()
	if opts.SpaceWords <= 0 {
		opts.SpaceWords = def.SpaceWords
	}
	if opts.GCThreshold <= 0 || opts.GCThreshold > 1 {
		opts.GCThreshold = def.GCThreshold
	}

	heap := NewHeap(opts.SpaceWords, opts.GCThreshold)
	vm := &VM{
		heap:        heap,
		Symbols:     NewSymbolTable(heap),
		Primitives:  NewPrimitiveTable(),
		classes:     make(map[string]Value),
		globals:     make(map[string]Value),
		opts:        opts,
		methodCache: make(map[Value]*methodInfo),
		lookupCache: make(map[lookupKey]Value),
	}
	heap.AddRootScanner(vm.scanRoots)
	heap.OnCollect(func() {
		clear(vm.methodCache)
		clear(vm.lookupCache)
	})
	vm.interp = newInterpreter(vm)

	if err := vm.bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return vm, nil
}

// scanRoots visits the class registry, the global bindings and the
// well-known classes.
func (vm *VM) scanRoots(visit func(Value)) {
	for _, c := range vm.classes {
		visit(c)
	}
	for _, v := range vm.globals {
		visit(v)
	}
	for _, c := range vm.wellKnown() {
		visit(*c.field)
	}
}

type wellKnownClass struct {
	name  string
	field *Value
}

func (vm *VM) wellKnown() []wellKnownClass {
	return []wellKnownClass{
		{"Object", &vm.ObjectClass},
		{"Class", &vm.ClassClass},
		{"Metaclass", &vm.MetaclassClass},
		{"Integer", &vm.IntegerClass},
		{"Float", &vm.FloatClass},
		{"Boolean", &vm.BooleanClass},
		{"True", &vm.TrueClass},
		{"False", &vm.FalseClass},
		{"UndefinedObject", &vm.UndefinedObjectClass},
		{"Symbol", &vm.SymbolClass},
		{"String", &vm.StringClass},
		{"Array", &vm.ArrayClass},
		{"ByteArray", &vm.ByteArrayClass},
		{"Dictionary", &vm.DictionaryClass},
		{"Block", &vm.BlockClass},
		{"CompiledMethod", &vm.CompiledMethodClass},
		{"MethodContext", &vm.MethodContextClass},
		{"BlockContext", &vm.BlockContextClass},
	}
}

// Options returns the options the VM was created with.
func (vm *VM) Options() Options {
	return vm.opts
}

// Interpreter returns the VM's interpreter.
func (vm *VM) Interpreter() *Interpreter {
	return vm.interp
}

// Collect runs a full garbage collection.
func (vm *VM) Collect() {
	vm.heap.Collect()
}

// ---------------------------------------------------------------------------
// Bootstrap: Create core classes
// ---------------------------------------------------------------------------

type kernelClass struct {
	field  *Value
	name   string
	super  *Value
	format Format
	ivars  []string
	meta   Value
}

func (vm *VM) bootstrap() error {
	h := vm.heap

	// Phase 1: Allocate the kernel classes by hand. Nothing can be interned
	// or installed until Symbol, Array and Dictionary exist.
	kernel := []*kernelClass{
		{field: &vm.ObjectClass, name: "Object", format: FormatPointer},
		{field: &vm.ClassClass, name: "Class", super: &vm.ObjectClass, format: FormatClass,
			ivars: []string{"name", "superclass", "format", "instanceSize", "instanceVariables", "methodDictionary", "subclasses", "thisClass"}},
		{field: &vm.MetaclassClass, name: "Metaclass", super: &vm.ClassClass, format: FormatClass},
		{field: &vm.StringClass, name: "String", super: &vm.ObjectClass, format: FormatByteIndexable},
		{field: &vm.SymbolClass, name: "Symbol", super: &vm.StringClass, format: FormatSymbol},
		{field: &vm.ArrayClass, name: "Array", super: &vm.ObjectClass, format: FormatIndexable},
		{field: &vm.DictionaryClass, name: "Dictionary", super: &vm.ObjectClass, format: FormatPointer,
			ivars: []string{"tally", "keys", "values"}},
	}
	metas := make([]Value, 0, len(kernel))
	mark := h.PushRoots()
	defer h.PopRoots(mark)
	for _, k := range kernel {
		meta, err := h.Allocate(KindClass, Nil, classSlots)
		if err != nil {
			return err
		}
		h.PushRoots(meta)
		class, err := h.Allocate(KindClass, meta, classSlots)
		if err != nil {
			return err
		}
		*k.field = class
		k.meta = meta
		metas = append(metas, meta)
	}

	// Phase 2: Close the metaclass loop. Every metaclass is an instance of
	// Metaclass, including Metaclass's own.
	for _, meta := range metas {
		if err := h.SetClass(meta, vm.MetaclassClass); err != nil {
			return err
		}
	}
	if err := vm.Symbols.setClass(vm.SymbolClass); err != nil {
		return err
	}

	// Phase 3: Shape the kernel. Instance sides first, so each metaclass
	// can inherit the layout of Class.
	for _, k := range kernel {
		if err := vm.setClassShape(*k.field, k.name, k.superclass(), k.format, k.ivars); err != nil {
			return fmt.Errorf("%s: %w", k.name, err)
		}
	}
	for _, k := range kernel {
		if err := vm.setMetaShape(*k.field, k.meta, k.name, k.superclass()); err != nil {
			return fmt.Errorf("%s class: %w", k.name, err)
		}
	}
	for _, k := range kernel {
		if err := vm.linkClass(*k.field, k.meta, k.superclass()); err != nil {
			return fmt.Errorf("%s: %w", k.name, err)
		}
		vm.registerClass(k.name, *k.field)
	}

	// Phase 4: Define the remaining well-known classes. ByteArray and
	// CompiledMethod come first since loading any method needs them.
	rest := []struct {
		field *Value
		spec  ClassSpec
	}{
		{&vm.ByteArrayClass, ClassSpec{Name: "ByteArray", Superclass: "Object", Format: "bytes"}},
		{&vm.CompiledMethodClass, ClassSpec{Name: "CompiledMethod", Superclass: "Object", Format: "method",
			InstanceVars: []string{"bytecodes", "literals", "tempNames", "primitive", "argCount",
				"tempCount", "homeTempCount", "stackDepth", "selector", "methodClass"}}},
		{&vm.BlockClass, ClassSpec{Name: "Block", Superclass: "Object", InstanceVars: []string{"method", "home", "numArgs"}}},
		{&vm.BooleanClass, ClassSpec{Name: "Boolean", Superclass: "Object"}},
		{&vm.TrueClass, ClassSpec{Name: "True", Superclass: "Boolean"}},
		{&vm.FalseClass, ClassSpec{Name: "False", Superclass: "Boolean"}},
		{&vm.UndefinedObjectClass, ClassSpec{Name: "UndefinedObject", Superclass: "Object"}},
		{&vm.IntegerClass, ClassSpec{Name: "Integer", Superclass: "Object"}},
		{&vm.FloatClass, ClassSpec{Name: "Float", Superclass: "Object"}},
		{&vm.MethodContextClass, ClassSpec{Name: "MethodContext", Superclass: "Object",
			InstanceVars: []string{"sender", "receiver", "method", "ip", "sp", "home"}}},
		{&vm.BlockContextClass, ClassSpec{Name: "BlockContext", Superclass: "MethodContext"}},
	}
	for _, r := range rest {
		class, err := vm.DefineClass(&r.spec)
		if err != nil {
			return err
		}
		*r.field = class
	}
	// Contexts are variable-sized; their format is not one a compiler may
	// request.
	for _, c := range []Value{vm.MethodContextClass, vm.BlockContextClass} {
		if err := h.SetSlot(c, clsFormat, fromIntUnchecked(int64(FormatContext))); err != nil {
			return err
		}
	}

	// Phase 5: Register primitives and install the kernel methods
	vm.registerIntegerPrimitives()
	vm.registerObjectPrimitives()
	vm.registerArrayPrimitives()
	vm.registerStringPrimitives()
	vm.registerDictionaryPrimitives()
	vm.registerBlockPrimitives()
	if err := vm.installKernelMethods(); err != nil {
		return err
	}

	// Phase 6: Every well-known class must resolve by name
	for _, wk := range vm.wellKnown() {
		c, ok := vm.ClassNamed(wk.name)
		if !ok || c != *wk.field || !vm.IsClass(c) {
			return newError(KindNameError, "well-known class %s is missing", wk.name)
		}
	}
	vmLog.Debugf("bootstrapped %d classes, %d symbols, %d primitives",
		len(vm.classOrder), vm.Symbols.Len(), len(vm.Primitives.Numbers()))
	return nil
}

func (k *kernelClass) superclass() Value {
	if k.super == nil {
		return Nil
	}
	return *k.super
}

// kernelMethod binds a selector to a primitive with no fallback body.
type kernelMethod struct {
	class     string
	classSide bool
	selector  string
	argc      int
	primitive int
}

var kernelMethods = []kernelMethod{
	{"Object", false, "==", 1, PrimIdentical},
	{"Object", false, "=", 1, PrimIdentical},
	{"Object", false, "identityHash", 0, PrimIdentityHash},
	{"Object", false, "class", 0, PrimClass},
	{"Object", false, "printString", 0, PrimPrintString},

	{"Object", true, "new", 0, PrimNew},
	{"Object", true, "basicNew", 0, PrimBasicNew},
	{"Object", true, "new:", 1, PrimBasicNewSize},
	{"Object", true, "basicNew:", 1, PrimBasicNewSize},
	{"Dictionary", true, "new", 0, PrimDictNew},

	{"Integer", false, "+", 1, PrimAdd},
	{"Integer", false, "-", 1, PrimSub},
	{"Integer", false, "*", 1, PrimMul},
	{"Integer", false, "/", 1, PrimDiv},
	{"Integer", false, `\\`, 1, PrimMod},
	{"Integer", false, "<", 1, PrimLT},
	{"Integer", false, ">", 1, PrimGT},
	{"Integer", false, "<=", 1, PrimLE},
	{"Integer", false, ">=", 1, PrimGE},
	{"Integer", false, "=", 1, PrimEQ},
	{"Integer", false, "~=", 1, PrimNE},

	{"Array", false, "at:", 1, PrimArrayAt},
	{"Array", false, "at:put:", 2, PrimArrayAtPut},
	{"Array", false, "size", 0, PrimArraySize},

	{"String", false, "at:", 1, PrimStringAt},
	{"String", false, "at:put:", 2, PrimStringAtPut},
	{"String", false, ",", 1, PrimStringConcat},
	{"String", false, "size", 0, PrimStringSize},
	{"String", false, "asSymbol", 0, PrimAsSymbol},
	{"String", false, "asString", 0, PrimAsString},

	{"Dictionary", false, "at:", 1, PrimDictAt},
	{"Dictionary", false, "at:put:", 2, PrimDictAtPut},
	{"Dictionary", false, "keys", 0, PrimDictKeys},
	{"Dictionary", false, "size", 0, PrimDictSize},

	{"Block", false, "value", 0, PrimBlockValue},
	{"Block", false, "value:", 1, PrimBlockValueArg},
	{"Block", false, "value:value:", 2, PrimBlockValueArg},
	{"Block", false, "value:value:value:", 3, PrimBlockValueArg},
	{"Block", false, "numArgs", 0, PrimBlockNumArgs},
}

func (vm *VM) installKernelMethods() error {
	for _, km := range kernelMethods {
		class, ok := vm.ClassNamed(km.class)
		if !ok {
			return NameErrorFor(km.class)
		}
		if km.classSide {
			class = vm.ClassOf(class)
		}
		spec := &MethodSpec{Selector: km.selector, ArgCount: km.argc, TempCount: km.argc, Primitive: km.primitive}
		if err := vm.installSpec(class, spec); err != nil {
			return fmt.Errorf("%s>>%s: %w", km.class, km.selector, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Class definition
// ---------------------------------------------------------------------------

// DefineClass creates the class described by spec, or reshapes it if a
// class of that name exists, and installs its methods. The class is
// registered before its methods load, so they may refer to it by name.
func (vm *VM) DefineClass(spec *ClassSpec) (Value, error) {
	if spec == nil || spec.Name == "" {
		return Nil, newError(KindArgumentError, "class definition without a name")
	}
	super := Nil
	if spec.Superclass != "" {
		var ok bool
		if super, ok = vm.ClassNamed(spec.Superclass); !ok {
			return Nil, NameErrorFor(spec.Superclass)
		}
	}
	format, err := ParseFormat(spec.Format)
	if err != nil {
		return Nil, fmt.Errorf("class %s: %w", spec.Name, err)
	}
	h := vm.heap
	mark := h.PushRoots(super)
	defer h.PopRoots(mark)

	class, exists := vm.ClassNamed(spec.Name)
	if exists {
		if !super.IsNil() && vm.IsSubclassOf(super, class) {
			return Nil, newError(KindArgumentError, "class %s cannot inherit from itself via %s", spec.Name, spec.Superclass)
		}
		if err := vm.unlinkClass(class); err != nil {
			return Nil, err
		}
		h.PushRoots(class)
		if err := vm.initClass(class, vm.ClassOf(class), spec.Name, super, format, spec.InstanceVars); err != nil {
			return Nil, fmt.Errorf("class %s: %w", spec.Name, err)
		}
		clear(vm.lookupCache)
	} else {
		class, meta, err := vm.allocClassPair()
		if err != nil {
			return Nil, err
		}
		h.PushRoots(class, meta)
		if err := vm.initClass(class, meta, spec.Name, super, format, spec.InstanceVars); err != nil {
			return Nil, fmt.Errorf("class %s: %w", spec.Name, err)
		}
		vm.registerClass(spec.Name, class)
	}
	class, _ = vm.ClassNamed(spec.Name)
	meta := vm.ClassOf(class)

	for _, m := range spec.Methods {
		if err := vm.installSpec(class, m); err != nil {
			return Nil, fmt.Errorf("%s>>%s: %w", spec.Name, m.Selector, err)
		}
	}
	for _, m := range spec.ClassMethods {
		if err := vm.installSpec(meta, m); err != nil {
			return Nil, fmt.Errorf("%s class>>%s: %w", spec.Name, m.Selector, err)
		}
	}
	return class, nil
}

// unlinkClass removes class and its metaclass from their superclasses'
// subclass lists ahead of a redefinition.
func (vm *VM) unlinkClass(class Value) error {
	super, err := vm.Superclass(class)
	if err != nil {
		return err
	}
	meta := vm.ClassOf(class)
	if !super.IsNil() {
		if err := vm.removeSubclass(super, class); err != nil {
			return err
		}
	}
	metaSuper, err := vm.Superclass(meta)
	if err != nil {
		return err
	}
	if !metaSuper.IsNil() {
		return vm.removeSubclass(metaSuper, meta)
	}
	return nil
}

func (vm *VM) installSpec(class Value, spec *MethodSpec) error {
	if spec == nil || spec.Selector == "" {
		return newError(KindArgumentError, "method without a selector")
	}
	mark := vm.heap.PushRoots(class)
	defer vm.heap.PopRoots(mark)
	method, err := vm.LoadMethod(spec)
	if err != nil {
		return err
	}
	vm.heap.PushRoots(method)
	sel, err := vm.Symbols.Intern(spec.Selector)
	if err != nil {
		return err
	}
	return vm.InstallMethod(class, sel, method)
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// SetGlobal binds name in the global dictionary.
func (vm *VM) SetGlobal(name string, value Value) {
	vm.globals[name] = value
}

// Global returns the global bound to name.
func (vm *VM) Global(name string) (Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// ResolveGlobal resolves a free identifier: classes first, then globals.
func (vm *VM) ResolveGlobal(name string) (Value, bool) {
	if c, ok := vm.classes[name]; ok {
		return c, true
	}
	return vm.Global(name)
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Evaluate loads spec and runs it with nil as receiver.
func (vm *VM) Evaluate(spec *MethodSpec) (Value, error) {
	method, err := vm.LoadMethod(spec)
	if err != nil {
		return Nil, err
	}
	return vm.interp.ExecuteCompiledMethod(method)
}

// Send sends selector to receiver with args and runs it to completion.
func (vm *VM) Send(receiver Value, selector string, args ...Value) (Value, error) {
	mark := vm.heap.PushRoots(receiver)
	vm.heap.PushRoots(args...)
	defer vm.heap.PopRoots(mark)
	sel, err := vm.Symbols.Intern(selector)
	if err != nil {
		return Nil, err
	}
	return vm.interp.Send(receiver, sel, args)
}
