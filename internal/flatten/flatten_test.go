package flatten

import (
	"testing"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/locals"
	"github.com/kavishsathia/starc/internal/parser"
	"github.com/kavishsathia/starc/internal/types"
)

func flattened(t *testing.T, src string) *ast.Program {
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
	if err := Flatten(prog); err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	return prog
}

// nestedFnsIn walks a statement list looking for function declarations
// that survived flattening.
func nestedFnsIn(stmts []ast.Stmt) int {
	n := 0
	var walk func([]ast.Stmt)
	walk = func(list []ast.Stmt) {
		for _, s := range list {
			switch s := s.(type) {
			case *ast.FnDecl:
				n++
				walk(s.Body)
			case *ast.IfStmt:
				walk(s.Then)
				walk(s.Else)
			case *ast.WhileStmt:
				walk(s.Body)
			case *ast.ForStmt:
				walk(s.Body)
			case *ast.BlockStmt:
				walk(s.Body)
			}
		}
	}
	walk(stmts)
	return n
}

const nestedSrc = `
fn main(): integer {
  let k: integer = 10;
  fn outer(x: integer): integer {
    fn inner(y: integer): integer { return y + k; }
    return inner(x);
  }
  return outer(5);
}
`

// TestNoNestedFunctionsRemain: after flattening, no function body
// may still contain a nested function declaration.
func TestNoNestedFunctionsRemain(t *testing.T) {
	prog := flattened(t, nestedSrc)
	if len(prog.Functions) != 3 {
		t.Fatalf("hoisted to %d functions, want 3", len(prog.Functions))
	}
	for _, fn := range prog.Functions {
		if n := nestedFnsIn(fn.Body); n != 0 {
			t.Errorf("%s still contains %d nested function declarations", fn.Name, n)
		}
	}
}

func TestMakeClosureReplacesDeclaration(t *testing.T) {
	prog := flattened(t, nestedSrc)
	var main *ast.FnDecl
	for _, fn := range prog.Functions {
		if fn.Name == "main" {
			main = fn
		}
	}
	if main == nil {
		t.Fatal("main vanished")
	}
	found := false
	for _, st := range main.Body {
		if mc, ok := st.(*ast.MakeClosureStmt); ok {
			found = true
			if mc.Closure.FnName != "outer" {
				t.Errorf("MakeClosure names %q, want outer", mc.Closure.FnName)
			}
			if mc.Closure.StructName == "" {
				t.Errorf("MakeClosure carries no capture struct")
			}
		}
	}
	if !found {
		t.Error("main's nested declaration was not replaced by a MakeClosure")
	}
}

// TestTransitiveCaptureSynthesis checks that a capture used only by a
// grandchild still flows through the middle function's capture record.
func TestTransitiveCaptureSynthesis(t *testing.T) {
	prog := flattened(t, nestedSrc)
	var outer *ast.FnDecl
	for _, fn := range prog.Functions {
		if fn.Name == "outer" {
			outer = fn
		}
	}
	if outer == nil {
		t.Fatal("outer was not hoisted")
	}
	if outer.CapturesStruct == "" {
		t.Fatal("outer, whose child captures k, has no capture struct")
	}
	var sd *ast.StructDecl
	for _, s := range prog.Structs {
		if s.Name == outer.CapturesStruct {
			sd = s
		}
	}
	if sd == nil {
		t.Fatalf("capture struct %q not registered", outer.CapturesStruct)
	}
	if len(sd.Fields) == 0 {
		t.Error("outer's capture struct is empty; k should flow through it")
	}
}

func TestTableIndicesAreDense(t *testing.T) {
	prog := flattened(t, nestedSrc)
	seen := make(map[int]bool)
	for _, fn := range prog.Functions {
		if seen[fn.TableIndex] {
			t.Errorf("table index %d assigned twice", fn.TableIndex)
		}
		seen[fn.TableIndex] = true
	}
	for i := range prog.Functions {
		if !seen[i] {
			t.Errorf("table index %d unassigned", i)
		}
	}
}
