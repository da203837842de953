package bundle

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/KentBeck/LivingObjects-sub000/vm"
)

// counterClasses defines Counter with an instance variable count, accessors,
// an incrementer and a class-side constructor.
func counterClasses() []*vm.ClassSpec {
	get := vm.NewMethodBuilder("count", 0)
	get.Bytecode().PushInstVar(0)
	get.Bytecode().ReturnTop()

	incr := vm.NewMethodBuilder("increment:", 1)
	incr.Bytecode().PushInstVar(0)
	incr.Bytecode().PushTemp(0)
	incr.SendSelector("+", 1)
	incr.Bytecode().StoreInstVar(0)
	incr.Bytecode().ReturnTop()

	set := vm.NewMethodBuilder("setCount:", 1)
	set.Bytecode().PushTemp(0)
	set.Bytecode().StoreInstVar(0)
	set.Bytecode().Pop()
	set.Bytecode().PushSelf()
	set.Bytecode().ReturnTop()

	create := vm.NewMethodBuilder("startingAt:", 1)
	create.Bytecode().PushSelf()
	create.SendSelector("new", 0)
	create.Bytecode().Dup()
	create.Bytecode().PushTemp(0)
	create.SendSelector("setCount:", 1)
	create.Bytecode().Pop()
	create.Bytecode().ReturnTop()

	return []*vm.ClassSpec{{
		Name:         "Counter",
		Superclass:   "Object",
		InstanceVars: []string{"count"},
		Methods:      []*vm.MethodSpec{get.Build(), set.Build(), incr.Build()},
		ClassMethods: []*vm.MethodSpec{create.Build()},
	}}
}

// counterEntry evaluates (Counter startingAt: 0) increment: 5; count.
func counterEntry() *vm.MethodSpec {
	b := vm.NewMethodBuilder("doIt", 0)
	b.PushConstant(vm.GlobalLiteral("Counter"))
	b.PushConstant(vm.IntLiteral(0))
	b.SendSelector("startingAt:", 1)
	b.Bytecode().Dup()
	b.PushConstant(vm.IntLiteral(5))
	b.SendSelector("increment:", 1)
	b.Bytecode().Pop()
	b.SendSelector("count", 0)
	b.Bytecode().ReturnTop()
	return b.Build()
}

func TestBundle_CBORRoundTrip(t *testing.T) {
	entry := counterEntry()
	entry.Literals = append(entry.Literals,
		vm.StringLiteral("hello"),
		vm.ArrayLiteral(vm.SymbolLiteral("a"), vm.BoolLiteral(true), vm.FloatLiteral(-1)))
	b := New(counterClasses(), entry)

	data, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Digest != b.Digest {
		t.Error("Digest mismatch")
	}

	specs, err := got.ClassSpecs()
	if err != nil {
		t.Fatalf("ClassSpecs: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "Counter" || specs[0].Superclass != "Object" {
		t.Fatalf("ClassSpecs = %+v", specs)
	}
	if len(specs[0].Methods) != 3 || len(specs[0].ClassMethods) != 1 {
		t.Errorf("methods = %d/%d, want 3/1", len(specs[0].Methods), len(specs[0].ClassMethods))
	}
	e, err := got.EntrySpec()
	if err != nil {
		t.Fatalf("EntrySpec: %v", err)
	}
	if string(e.Bytecodes) != string(entry.Bytecodes) {
		t.Error("entry bytecodes mismatch")
	}
	last := e.Literals[len(e.Literals)-1]
	if last.Kind != vm.LitArray || len(last.Elements) != 3 || last.Elements[2].Float != -1 {
		t.Errorf("array literal = %+v", last)
	}
}

func TestUnmarshal_DetectsTampering(t *testing.T) {
	b := New(counterClasses(), counterEntry())
	data, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	b.Classes[0].Name = "Kounter"
	tampered, err := cborEncMode.Marshal(b)
	if err != nil {
		t.Fatalf("marshal tampered: %v", err)
	}
	if _, err := Unmarshal(tampered); err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Errorf("Unmarshal(tampered) error = %v, want digest mismatch", err)
	}
	if _, err := Unmarshal(data[:len(data)/2]); err == nil {
		t.Error("Unmarshal(truncated) succeeded, want error")
	}
}

func TestUnmarshal_RejectsVersion(t *testing.T) {
	b := New(nil, counterEntry())
	b.Version = 7
	data, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Unmarshal(data); err == nil {
		t.Error("Unmarshal accepted version 7")
	}
}

func TestRun(t *testing.T) {
	v, err := vm.New(vm.DefaultOptions())
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "counter.cbor")
	if err := WriteFile(path, New(counterClasses(), counterEntry())); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	result, err := Run(v, b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n, err := result.AsInt(); err != nil || n != 5 {
		t.Errorf("result = %v, want 5", result)
	}
	if _, ok := v.ClassNamed("Counter"); !ok {
		t.Error("Counter not registered")
	}
}

func TestRun_NoEntry(t *testing.T) {
	v, err := vm.New(vm.DefaultOptions())
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	if _, err := Run(v, New(counterClasses(), nil)); err == nil {
		t.Error("Run without entry succeeded")
	}
}

func TestLiteralSpec_RejectsUnknownKind(t *testing.T) {
	m := Method{Selector: "x", Literals: []Literal{{Kind: 99}}}
	if _, err := m.Spec(); err == nil {
		t.Error("Spec accepted literal kind 99")
	}
}
