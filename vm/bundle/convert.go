package bundle

import (
	"fmt"

	"github.com/KentBeck/LivingObjects-sub000/vm"
)

// ---------------------------------------------------------------------------
// Conversion to and from the VM's compiler interface
// ---------------------------------------------------------------------------

// New builds a bundle from class specs and an optional entry method.
func New(classes []*vm.ClassSpec, entry *vm.MethodSpec) *Bundle {
	b := &Bundle{Version: Version}
	for _, c := range classes {
		b.Classes = append(b.Classes, fromClassSpec(c))
	}
	if entry != nil {
		m := fromMethodSpec(entry)
		b.Entry = &m
	}
	return b
}

func fromClassSpec(c *vm.ClassSpec) Class {
	out := Class{
		Name:         c.Name,
		Superclass:   c.Superclass,
		Format:       c.Format,
		InstanceVars: c.InstanceVars,
	}
	for _, m := range c.Methods {
		out.Methods = append(out.Methods, fromMethodSpec(m))
	}
	for _, m := range c.ClassMethods {
		out.ClassMethods = append(out.ClassMethods, fromMethodSpec(m))
	}
	return out
}

func fromMethodSpec(m *vm.MethodSpec) Method {
	out := Method{
		Selector:      m.Selector,
		ArgCount:      m.ArgCount,
		TempCount:     m.TempCount,
		TempNames:     m.TempNames,
		Primitive:     m.Primitive,
		HomeTempCount: m.HomeTempCount,
		Bytecodes:     m.Bytecodes,
	}
	for _, l := range m.Literals {
		out.Literals = append(out.Literals, fromLiteral(l))
	}
	return out
}

func fromLiteral(l vm.Literal) Literal {
	out := Literal{Kind: uint8(l.Kind), Int: l.Int, Float: l.Float, Text: l.Text}
	if l.Block != nil {
		m := fromMethodSpec(l.Block)
		out.Block = &m
	}
	for _, e := range l.Elements {
		out.Elements = append(out.Elements, fromLiteral(e))
	}
	return out
}

// ClassSpecs returns the class registrations in definition order.
func (b *Bundle) ClassSpecs() ([]*vm.ClassSpec, error) {
	specs := make([]*vm.ClassSpec, 0, len(b.Classes))
	for i := range b.Classes {
		s, err := b.Classes[i].spec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// EntrySpec returns the entry method, or nil when the bundle has none.
func (b *Bundle) EntrySpec() (*vm.MethodSpec, error) {
	if b.Entry == nil {
		return nil, nil
	}
	return b.Entry.Spec()
}

func (c *Class) spec() (*vm.ClassSpec, error) {
	out := &vm.ClassSpec{
		Name:         c.Name,
		Superclass:   c.Superclass,
		Format:       c.Format,
		InstanceVars: c.InstanceVars,
	}
	for i := range c.Methods {
		m, err := c.Methods[i].Spec()
		if err != nil {
			return nil, fmt.Errorf("%s>>%s: %w", c.Name, c.Methods[i].Selector, err)
		}
		out.Methods = append(out.Methods, m)
	}
	for i := range c.ClassMethods {
		m, err := c.ClassMethods[i].Spec()
		if err != nil {
			return nil, fmt.Errorf("%s class>>%s: %w", c.Name, c.ClassMethods[i].Selector, err)
		}
		out.ClassMethods = append(out.ClassMethods, m)
	}
	return out, nil
}

// Spec converts m to the VM's method spec.
func (m *Method) Spec() (*vm.MethodSpec, error) {
	out := &vm.MethodSpec{
		Selector:      m.Selector,
		ArgCount:      m.ArgCount,
		TempCount:     m.TempCount,
		TempNames:     m.TempNames,
		Primitive:     m.Primitive,
		HomeTempCount: m.HomeTempCount,
		Bytecodes:     m.Bytecodes,
	}
	for i, l := range m.Literals {
		lit, err := l.spec()
		if err != nil {
			return nil, fmt.Errorf("literal %d: %w", i, err)
		}
		out.Literals = append(out.Literals, lit)
	}
	return out, nil
}

func (l *Literal) spec() (vm.Literal, error) {
	kind := vm.LiteralKind(l.Kind)
	if kind > vm.LitArray {
		return vm.Literal{}, fmt.Errorf("unknown literal kind %d", l.Kind)
	}
	out := vm.Literal{Kind: kind, Int: l.Int, Float: l.Float, Text: l.Text}
	if kind == vm.LitBlock {
		if l.Block == nil {
			return vm.Literal{}, fmt.Errorf("block literal without a body")
		}
		block, err := l.Block.Spec()
		if err != nil {
			return vm.Literal{}, err
		}
		out.Block = block
	}
	for i := range l.Elements {
		e, err := l.Elements[i].spec()
		if err != nil {
			return vm.Literal{}, err
		}
		out.Elements = append(out.Elements, e)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Loading into a VM
// ---------------------------------------------------------------------------

// Install defines every class of the bundle in v, in order.
func Install(v *vm.VM, b *Bundle) error {
	specs, err := b.ClassSpecs()
	if err != nil {
		return fmt.Errorf("bundle: %w", err)
	}
	for _, s := range specs {
		if _, err := v.DefineClass(s); err != nil {
			return err
		}
	}
	return nil
}

// Run installs the bundle's classes and evaluates its entry method.
func Run(v *vm.VM, b *Bundle) (vm.Value, error) {
	if err := Install(v, b); err != nil {
		return vm.Nil, err
	}
	entry, err := b.EntrySpec()
	if err != nil {
		return vm.Nil, fmt.Errorf("bundle: entry: %w", err)
	}
	if entry == nil {
		return vm.Nil, fmt.Errorf("bundle: no entry method")
	}
	return v.Evaluate(entry)
}
