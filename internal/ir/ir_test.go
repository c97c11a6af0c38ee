package ir

import (
	"testing"

	"github.com/kavishsathia/starc/internal/flatten"
	"github.com/kavishsathia/starc/internal/locals"
	"github.com/kavishsathia/starc/internal/parser"
	"github.com/kavishsathia/starc/internal/types"
	"github.com/kavishsathia/starc/internal/wrap"
)

func lowered(t *testing.T, src string) *IRProgram {
	t.Helper()
	prog, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := types.Check(prog); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := locals.Analyze(prog); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if err := flatten.Flatten(prog); err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if err := wrap.Wrap(prog); err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	out, err := Lower(prog)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	return out
}

// TestTaggedVariantsRegisteredFirst checks the three same-shaped
// tagged-record layouts occupy the first type-table slots, ahead of
// any user struct.
func TestTaggedVariantsRegisteredFirst(t *testing.T) {
	p := lowered(t, `fn main(): integer { return 0; }`)
	want := []struct {
		name        string
		structCount int
		listCount   int
	}{
		{"__tagged", 0, 0},
		{"__tagged_fixed", 1, 0},
		{"__tagged_variable", 0, 1},
	}
	if len(p.Structs) < 3 {
		t.Fatalf("only %d structs registered", len(p.Structs))
	}
	for i, w := range want {
		s := p.Structs[i]
		if s.Name != w.name || s.StructCount != w.structCount || s.ListCount != w.listCount {
			t.Errorf("struct %d = %s (%d,%d), want %s (%d,%d)",
				i, s.Name, s.StructCount, s.ListCount, w.name, w.structCount, w.listCount)
		}
		if s.Size != 16 || len(s.Fields) != 2 {
			t.Errorf("tagged variant %s is not a two-word record", s.Name)
		}
	}
}

// TestFieldSegregationAndOffsets checks the layout
// rule: struct-pointer fields first, then list/string-pointer fields,
// then primitives, each at 8*position.
func TestFieldSegregationAndOffsets(t *testing.T) {
	p := lowered(t, `
struct Inner { v: integer }
struct S { a: integer, b: Inner, c: [integer], d: string, e: Inner }
fn main(): integer { return 0; }
`)
	s, ok := p.StructByName("S")
	if !ok {
		t.Fatal("S not lowered")
	}
	if s.StructCount != 2 || s.ListCount != 2 {
		t.Errorf("segregated counts = (%d,%d), want (2,2)", s.StructCount, s.ListCount)
	}
	// First the struct pointers, then the variable-heap pointers, then
	// the primitive; declaration order preserved within each class.
	wantOrder := []string{"b", "e", "c", "d", "a"}
	for i, name := range wantOrder {
		if s.Fields[i].Name != name {
			t.Errorf("field %d = %s, want %s", i, s.Fields[i].Name, name)
		}
		if s.Fields[i].Off != int64(i)*8 {
			t.Errorf("field %s offset = %d, want %d", name, s.Fields[i].Off, i*8)
		}
	}
	if s.Size != 40 {
		t.Errorf("size = %d, want 40", s.Size)
	}
}

func TestNameResolutionToSlots(t *testing.T) {
	p := lowered(t, `
fn main(): integer {
  let x: integer = 1;
  return x;
}
`)
	main, ok := p.FunctionByName("main")
	if !ok {
		t.Fatal("no main")
	}
	let, ok := main.Body[0].(*IRLet)
	if !ok {
		t.Fatalf("first statement %T", main.Body[0])
	}
	ret := main.Body[1].(*IRReturn)
	loc, ok := ret.Value.(*IRLocal)
	if !ok {
		t.Fatalf("return value %T, want IRLocal", ret.Value)
	}
	if loc.Slot != let.Slot {
		t.Errorf("return reads slot %d, let wrote %d", loc.Slot, let.Slot)
	}
}

func TestDirectVersusIndirectCalls(t *testing.T) {
	p := lowered(t, `
fn helper(x: integer): integer { return x; }
fn main(): integer {
  let k: integer = 1;
  fn closure(y: integer): integer { return y + k; }
  return helper(2) + closure(3);
}
`)
	main, _ := p.FunctionByName("main")
	var calls []*IRCall
	var findCalls func(e IRExpr)
	findCalls = func(e IRExpr) {
		switch x := e.(type) {
		case *IRCall:
			calls = append(calls, x)
			if x.Callee != nil {
				findCalls(x.Callee)
			}
		case *IRBinary:
			findCalls(x.Left)
			findCalls(x.Right)
		}
	}
	for _, st := range main.Body {
		if ret, ok := st.(*IRReturn); ok && ret.Value != nil {
			findCalls(ret.Value)
		}
	}
	if len(calls) != 2 {
		t.Fatalf("found %d calls, want 2", len(calls))
	}
	direct, indirect := 0, 0
	for _, c := range calls {
		if c.Callee == nil {
			direct++
			if c.TableIndex < 0 {
				t.Errorf("direct call with no table index")
			}
		} else {
			indirect++
		}
	}
	if direct != 1 || indirect != 1 {
		t.Errorf("direct/indirect = %d/%d, want 1/1", direct, indirect)
	}
}

func TestFieldAccessResolvesToOffsets(t *testing.T) {
	p := lowered(t, `
struct P { x: integer, y: integer }
fn main(): integer {
  let p: P = new P { x: 1, y: 2 };
  p.y = 3;
  return p.y;
}
`)
	main, _ := p.FunctionByName("main")
	es := main.Body[1].(*IRExprStmt)
	as := es.X.(*IRAssign)
	ref, ok := as.Target.(*IRFieldRef)
	if !ok {
		t.Fatalf("assignment target %T, want IRFieldRef", as.Target)
	}
	if ref.Offset != 8 {
		t.Errorf("y ref offset = %d, want 8", ref.Offset)
	}
	ret := main.Body[2].(*IRReturn)
	read, ok := ret.Value.(*IRFieldRead)
	if !ok {
		t.Fatalf("return value %T, want IRFieldRead", ret.Value)
	}
	if read.Offset != 8 {
		t.Errorf("y read offset = %d, want 8", read.Offset)
	}
}

func TestUnwrapCarriesVariantLayout(t *testing.T) {
	p := lowered(t, `
fn maybe(): integer? { return 3; }
fn main(): integer { return maybe()??; }
`)
	main, _ := p.FunctionByName("main")
	ret := main.Body[0].(*IRReturn)
	uw, ok := ret.Value.(*IRUnwrap)
	if !ok {
		t.Fatalf("return value %T, want IRUnwrap", ret.Value)
	}
	if uw.Op != IRUnwrapNullable {
		t.Errorf("op = %v, want nullable unwrap", uw.Op)
	}
	variant := p.Structs[uw.StructIndex]
	tagField, _ := variant.field("tag")
	valField, _ := variant.field("value")
	if uw.TagOffset != tagField.Off || uw.ValueOffset != valField.Off {
		t.Errorf("unwrap offsets (%d,%d) disagree with variant %s's layout (%d,%d)",
			uw.TagOffset, uw.ValueOffset, variant.Name, tagField.Off, valField.Off)
	}
}

func TestMainFoundByNameAfterHoisting(t *testing.T) {
	p := lowered(t, `
fn main(): integer {
  let k: integer = 1;
  fn add(x: integer): integer { return x + k; }
  return add(1);
}
`)
	// The nested function hoists ahead of main, so position 0 is not
	// main; lookup must go by name and by table index.
	if _, ok := p.FunctionByName("main"); !ok {
		t.Fatal("main not findable by name")
	}
	for _, fn := range p.Functions {
		got, ok := p.FunctionByTableIndex(fn.TableIndex)
		if !ok || got != fn {
			t.Errorf("table index %d does not round-trip", fn.TableIndex)
		}
	}
}

func TestErrorStructsGetTypeTableEntries(t *testing.T) {
	p := lowered(t, `
error Bad;
fn main(): integer! { raise new Bad { message: "m" }; }
`)
	s, ok := p.StructByName("Bad")
	if !ok {
		t.Fatal("error struct Bad has no type-table entry")
	}
	if s.ListCount != 1 || s.StructCount != 0 {
		t.Errorf("Bad counts = (%d,%d); its message string should be its one variable-heap pointer field", s.StructCount, s.ListCount)
	}
}
