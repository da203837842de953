package vm

// ---------------------------------------------------------------------------
// SymbolTable: Interned symbols
// ---------------------------------------------------------------------------

// SymbolTable interns names to heap-resident Symbol objects. Interning the
// same bytes twice returns the same reference. The table is a GC root, so
// interned symbols are never reclaimed.
type SymbolTable struct {
	heap   *Heap
	class  Value
	byName map[string]Value
	names  map[Value]string
}

// NewSymbolTable creates an empty table allocating in heap. It registers
// itself as a root scanner.
func NewSymbolTable(heap *Heap) *SymbolTable {
	st := &SymbolTable{
		heap:   heap,
		byName: make(map[string]Value),
		names:  make(map[Value]string),
	}
	heap.AddRootScanner(func(visit func(Value)) {
		visit(st.class)
		for _, sym := range st.byName {
			visit(sym)
		}
	})
	return st
}

// setClass installs the Symbol class and patches symbols interned before it
// existed.
func (st *SymbolTable) setClass(class Value) error {
	st.class = class
	for _, sym := range st.byName {
		if err := st.heap.SetClass(sym, class); err != nil {
			return err
		}
	}
	return nil
}

// Intern returns the symbol for name, creating it if needed.
func (st *SymbolTable) Intern(name string) (Value, error) {
	if sym, ok := st.byName[name]; ok {
		return sym, nil
	}
	sym, err := st.heap.AllocateBytes(KindSymbol, st.class, []byte(name))
	if err != nil {
		return Nil, err
	}
	if err := st.heap.SetFlags(sym, FlagImmutable, true); err != nil {
		return Nil, err
	}
	st.byName[name] = sym
	st.names[sym] = name
	return sym, nil
}

// Lookup returns the symbol for name without creating one.
func (st *SymbolTable) Lookup(name string) (Value, bool) {
	sym, ok := st.byName[name]
	return sym, ok
}

// Name returns the text of an interned symbol.
func (st *SymbolTable) Name(sym Value) (string, bool) {
	name, ok := st.names[sym]
	return name, ok
}

// IsSymbol reports whether v is an interned symbol.
func (st *SymbolTable) IsSymbol(v Value) bool {
	_, ok := st.names[v]
	return ok
}

// Len returns the number of interned symbols.
func (st *SymbolTable) Len() int {
	return len(st.byName)
}
