package types

import (
	"testing"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/compileerr"
	"github.com/kavishsathia/starc/internal/parser"
)

func tagged(t *ast.Type, nullable, errorable bool) *ast.Type {
	c := *t
	c.Nullable = nullable
	c.Errorable = errorable
	return &c
}

// TestAssignabilityLaws checks the tag lattice over a set of
// concrete shapes: T <= T?, T <= T!, T <= T?!, Null <= T?, Null <= T?!,
// Null !<= T, Unknown <= T, and no unwrapping without an explicit
// operator.
func TestAssignabilityLaws(t *testing.T) {
	shapes := []*ast.Type{
		ast.Integer(),
		ast.Float(),
		ast.Boolean(),
		ast.String(),
		ast.Struct("Point"),
		ast.List(ast.Integer()),
	}
	for _, typ := range shapes {
		for _, target := range []*ast.Type{
			tagged(typ, true, false),
			tagged(typ, false, true),
			tagged(typ, true, true),
		} {
			if !typ.AssignableTo(target) {
				t.Errorf("%v should be assignable to %v", typ, target)
			}
			if target.AssignableTo(typ) {
				t.Errorf("%v should not be assignable to %v without unwrapping", target, typ)
			}
		}
		if !ast.Null().AssignableTo(tagged(typ, true, false)) {
			t.Errorf("null should be assignable to %v?", typ)
		}
		if !ast.Null().AssignableTo(tagged(typ, true, true)) {
			t.Errorf("null should be assignable to %v?!", typ)
		}
		if ast.Null().AssignableTo(typ) {
			t.Errorf("null should not be assignable to plain %v", typ)
		}
		if !ast.Unknown().AssignableTo(typ) {
			t.Errorf("unknown should be assignable to %v", typ)
		}
	}
	if ast.Null().AssignableTo(tagged(ast.Integer(), false, true)) {
		t.Errorf("null should not be assignable to integer! (errorable is not nullable)")
	}
}

func checkSrc(t *testing.T, src string) error {
	t.Helper()
	prog, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return Check(prog)
}

func TestCheckAccepts(t *testing.T) {
	srcs := []string{
		`fn main(): integer { let x: integer = 1 + 2; return x; }`,
		`fn main(): float { return 1 + 2.5; }`,
		`fn main(): string { return "a" + "b"; }`,
		`fn main(): [integer] { return [1, 2] + [3]; }`,
		`fn main(): integer? { return null; }`,
		`fn main(): integer? { return 3; }`,
		`fn main(): boolean { return 1 in [1, 2]; }`,
		`fn main(): integer { let xs: [integer] = []; return #xs; }`,
		`error Bad; fn main(): integer! { raise new Bad { message: "m" }; }`,
		`fn main(): integer { if true { return 1; } return 0; }`,
		`struct P { x: integer } fn main(): integer { let p: P = new P { x: 1 }; return p.x; }`,
	}
	for _, src := range srcs {
		if err := checkSrc(t, src); err != nil {
			t.Errorf("Check(%q) = %v, want ok", src, err)
		}
	}
}

func TestCheckRejects(t *testing.T) {
	srcs := []string{
		// No implicit numeric coercion on declared types.
		`fn main(): integer { return 2.5; }`,
		// Conditions must be plain booleans.
		`fn main(): integer { if 1 { return 1; } return 0; }`,
		`fn main(): integer { while "x" { } return 0; }`,
		// == requires matching untagged kinds.
		`fn main(): boolean { return 1 == "one"; }`,
		`fn main(): boolean { let x: integer? = 1; return x == 1; }`,
		// in requires list element agreement.
		`fn main(): boolean { return "s" in [1]; }`,
		// raise needs a declared error type and an errorable return.
		`error Bad; fn main(): integer { raise new Bad { message: "m" }; }`,
		`struct S { message: string } fn main(): integer! { raise new S { message: "m" }; }`,
		// Nullable does not flow to plain.
		`fn main(): integer { let x: integer? = 1; return x; }`,
		// Null only into nullable.
		`fn main(): integer { return null; }`,
		// Unknown struct.
		`fn main(): integer { let p: Q = new Q { }; return 0; }`,
		// const cannot be reassigned.
		`fn main(): integer { const k: integer = 1; k = 2; return k; }`,
	}
	for _, src := range srcs {
		err := checkSrc(t, src)
		if err == nil {
			t.Errorf("Check(%q) succeeded, want a type error", src)
			continue
		}
		if _, ok := err.(*compileerr.Type); !ok {
			t.Errorf("Check(%q) = %T, want *compileerr.Type", src, err)
		}
	}
}

// TestCheckIdempotent checks that running the checker
// twice over the same tree reproduces the same typed tree.
func TestCheckIdempotent(t *testing.T) {
	src := `
struct P { x: integer }
error Bad;
fn main(): integer {
  let p: P = new P { x: 3 };
  let q: integer? = p.x;
  return q??;
}
`
	prog, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := Check(prog); err != nil {
		t.Fatalf("first Check: %v", err)
	}
	let := prog.Functions[0].Body[1].(*ast.LetStmt)
	first := let.Init.(*ast.FieldExpr).Typ
	if err := Check(prog); err != nil {
		t.Fatalf("second Check: %v", err)
	}
	second := let.Init.(*ast.FieldExpr).Typ
	if !first.Equal(second) {
		t.Errorf("types diverged between runs: %v then %v", first, second)
	}
}

func TestErrorDeclRegistersSyntheticStruct(t *testing.T) {
	prog, err := parser.Parse(`error Bad; fn main(): integer { return 0; }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := Check(prog); err != nil {
		t.Fatalf("Check: %v", err)
	}
	sd, ok := prog.StructsByName["Bad"]
	if !ok {
		t.Fatal("error decl did not register a struct")
	}
	if len(sd.Fields) != 1 || sd.Fields[0].Name != "message" || sd.Fields[0].Typ.Kind != ast.KindString {
		t.Errorf("synthetic struct fields = %#v, want {message: string}", sd.Fields)
	}
	if !prog.ErrorTypes["Bad"] {
		t.Error("Bad not recorded in the error-types set")
	}
}
