package wrap

import (
	"testing"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/flatten"
	"github.com/kavishsathia/starc/internal/locals"
	"github.com/kavishsathia/starc/internal/parser"
	"github.com/kavishsathia/starc/internal/types"
)

func wrapped(t *testing.T, src string) *ast.Program {
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
	if err := Wrap(prog); err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	return prog
}

func fnNamed(t *testing.T, prog *ast.Program, name string) *ast.FnDecl {
	t.Helper()
	for _, fn := range prog.Functions {
		if fn.Name == name {
			return fn
		}
	}
	t.Fatalf("no function %q", name)
	return nil
}

func TestReturnCrossingIntoNullableIsBoxed(t *testing.T) {
	prog := wrapped(t, `fn main(): integer? { return 3; }`)
	ret := fnNamed(t, prog, "main").Body[0].(*ast.ReturnStmt)
	box, ok := ret.Value.(*ast.Box)
	if !ok {
		t.Fatalf("return value is %T, want a Box", ret.Value)
	}
	if box.Tag != 2 {
		t.Errorf("box tag = %d, want 2 (present)", box.Tag)
	}
	if _, ok := box.Value.(*ast.IntLit); !ok {
		t.Errorf("box payload is %T, want the original literal", box.Value)
	}
}

func TestNullReturnBoxesWithNullTag(t *testing.T) {
	prog := wrapped(t, `fn main(): integer? { return null; }`)
	ret := fnNamed(t, prog, "main").Body[0].(*ast.ReturnStmt)
	box, ok := ret.Value.(*ast.Box)
	if !ok {
		t.Fatalf("return value is %T, want a Box", ret.Value)
	}
	if box.Tag != 0 {
		t.Errorf("box tag = %d, want 0 (null)", box.Tag)
	}
}

func TestAlreadyTaggedValueIsNotDoubleBoxed(t *testing.T) {
	prog := wrapped(t, `
fn maybe(): integer? { return null; }
fn main(): integer? { return maybe(); }
`)
	ret := fnNamed(t, prog, "main").Body[0].(*ast.ReturnStmt)
	if _, ok := ret.Value.(*ast.Box); ok {
		t.Errorf("an already-nullable value was boxed again")
	}
}

func TestLetInitializerBoxedAgainstDeclaredType(t *testing.T) {
	prog := wrapped(t, `fn main(): integer { let x: integer? = 5; return 0; }`)
	let := fnNamed(t, prog, "main").Body[0].(*ast.LetStmt)
	if _, ok := let.Init.(*ast.Box); !ok {
		t.Errorf("initializer is %T, want a Box against integer?", let.Init)
	}
}

func TestPlainLetIsLeftAlone(t *testing.T) {
	prog := wrapped(t, `fn main(): integer { let x: integer = 5; return x; }`)
	let := fnNamed(t, prog, "main").Body[0].(*ast.LetStmt)
	if _, ok := let.Init.(*ast.Box); ok {
		t.Errorf("a plain initializer was boxed")
	}
}

func TestRaiseLowersToTaggedReturn(t *testing.T) {
	prog := wrapped(t, `
error Bad;
fn main(): integer! { raise new Bad { message: "m" }; }
`)
	ret, ok := fnNamed(t, prog, "main").Body[0].(*ast.ReturnStmt)
	if !ok {
		t.Fatalf("raise did not become a return, got %T", fnNamed(t, prog, "main").Body[0])
	}
	box, ok := ret.Value.(*ast.Box)
	if !ok {
		t.Fatalf("raise's return value is %T, want a Box", ret.Value)
	}
	if box.Tag != 1 {
		t.Errorf("box tag = %d, want 1 (error)", box.Tag)
	}
}

func TestCallArgumentsBoxed(t *testing.T) {
	prog := wrapped(t, `
fn take(v: integer?): integer { return 0; }
fn main(): integer { return take(7); }
`)
	ret := fnNamed(t, prog, "main").Body[0].(*ast.ReturnStmt)
	call := ret.Value.(*ast.CallExpr)
	if _, ok := call.Args[0].(*ast.Box); !ok {
		t.Errorf("argument is %T, want a Box against the nullable parameter", call.Args[0])
	}
}

func TestNewFieldInitializersBoxed(t *testing.T) {
	prog := wrapped(t, `
struct S { v: integer? }
fn main(): integer { let s: S = new S { v: 9 }; return 0; }
`)
	let := fnNamed(t, prog, "main").Body[0].(*ast.LetStmt)
	ne := let.Init.(*ast.NewExpr)
	if _, ok := ne.Fields[0].Value.(*ast.Box); !ok {
		t.Errorf("field initializer is %T, want a Box against the declared field type", ne.Fields[0].Value)
	}
}
