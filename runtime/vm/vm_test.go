package vm

import (
	"strings"
	"testing"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/ir"
)

// pointStruct mirrors `struct Point { x: integer, y: integer }`, hand-
// built rather than run through the full pipeline so these tests
// exercise runtime/vm in isolation.
func pointStruct() *ir.IRStruct {
	return &ir.IRStruct{
		Name:  "Point",
		Index: 0,
		Fields: []ir.IRField{
			{Name: "x", Typ: ast.Integer(), Off: 0},
			{Name: "y", Typ: ast.Integer(), Off: 8},
		},
		Size: 16,
	}
}

func mainFunc(body []ir.IRStmt, locals []ir.IRVar) *ir.IRFunction {
	return &ir.IRFunction{
		Name:       "main",
		TableIndex: 0,
		Params:     []ir.IRVar{{Name: "__captures", Typ: ast.Integer(), Slot: 2}},
		Locals:     locals,
		Body:       body,
	}
}

func TestRun_StructFieldArithmetic(t *testing.T) {
	// let p = new Point { x: 3, y: 4 }; print p.x + p.y;
	body := []ir.IRStmt{
		&ir.IRLet{Slot: 3, Value: &ir.IRNew{
			StructIndex: 0,
			Fields:      []ir.IRExpr{&ir.IRIntLit{Value: 3}, &ir.IRIntLit{Value: 4}},
			Typ:         ast.Struct("Point"),
		}},
		&ir.IRPrint{Value: &ir.IRBinary{
			Op:    ir.IRAdd,
			Left:  &ir.IRFieldRead{X: &ir.IRLocal{Slot: 3, Typ: ast.Struct("Point")}, Offset: 0, Typ: ast.Integer()},
			Right: &ir.IRFieldRead{X: &ir.IRLocal{Slot: 3, Typ: ast.Struct("Point")}, Offset: 8, Typ: ast.Integer()},
			Typ:   ast.Integer(),
		}},
	}
	prog := &ir.IRProgram{
		Structs:   []*ir.IRStruct{pointStruct()},
		Functions: []*ir.IRFunction{mainFunc(body, []ir.IRVar{{Name: "p", Typ: ast.Struct("Point"), Slot: 3}})},
	}

	out, err := Run(prog, Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(out); got != "7" {
		t.Errorf("got output %q, want %q", got, "7")
	}
}

func TestRun_StringConcatAndPrint(t *testing.T) {
	// print "foo" + "bar";
	body := []ir.IRStmt{
		&ir.IRPrint{Value: &ir.IRBinary{
			Op:    ir.IRConcat,
			Left:  &ir.IRStringLit{Value: "foo"},
			Right: &ir.IRStringLit{Value: "bar"},
			Typ:   ast.String(),
		}},
	}
	prog := &ir.IRProgram{Functions: []*ir.IRFunction{mainFunc(body, nil)}}

	out, err := Run(prog, Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(out); got != "foobar" {
		t.Errorf("got output %q, want %q", got, "foobar")
	}
}

func TestRun_ListIndexAndCount(t *testing.T) {
	// let xs = [10, 20, 30]; print xs[1]; print #xs;
	listTyp := ast.List(ast.Integer())
	body := []ir.IRStmt{
		&ir.IRLet{Slot: 3, Value: &ir.IRListLit{
			Elems: []ir.IRExpr{&ir.IRIntLit{Value: 10}, &ir.IRIntLit{Value: 20}, &ir.IRIntLit{Value: 30}},
			Typ:   listTyp,
		}},
		&ir.IRPrint{Value: &ir.IRIndexRead{
			X:     &ir.IRLocal{Slot: 3, Typ: listTyp},
			Index: &ir.IRIntLit{Value: 1},
			Typ:   ast.Integer(),
		}},
		&ir.IRPrint{Value: &ir.IRUnary{
			Op:  ir.IRCount,
			X:   &ir.IRLocal{Slot: 3, Typ: listTyp},
			Typ: ast.Integer(),
		}},
	}
	prog := &ir.IRProgram{
		Functions: []*ir.IRFunction{mainFunc(body, []ir.IRVar{{Name: "xs", Typ: listTyp, Slot: 3}})},
	}

	out, err := Run(prog, Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[0] != "20" || lines[1] != "3" {
		t.Errorf("got lines %v, want [20 3]", lines)
	}
}

func TestRun_UnwrapTrapsOnNull(t *testing.T) {
	// A hand-built tagged record standing in for `integer?`: unwrapping
	// a null value with `??` must trap rather than return a value.
	taggedStruct := &ir.IRStruct{
		Name:  "__tagged",
		Index: 0,
		Fields: []ir.IRField{
			{Name: "tag", Typ: ast.Integer(), Off: 0},
			{Name: "value", Typ: ast.Integer(), Off: 8},
		},
		Size: 16,
	}
	body := []ir.IRStmt{
		&ir.IRExprStmt{X: &ir.IRUnwrap{
			Op:          ir.IRUnwrapNullable,
			X:           &ir.IRBox{Tag: 0, StructIndex: 0, TagOffset: 0, ValueOffset: 8, Typ: ast.Integer()},
			Typ:         ast.Integer(),
			StructIndex: 0,
			TagOffset:   0,
			ValueOffset: 8,
		}},
	}
	prog := &ir.IRProgram{
		Structs:   []*ir.IRStruct{taggedStruct},
		Functions: []*ir.IRFunction{mainFunc(body, nil)},
	}

	_, err := Run(prog, Config{})
	if err == nil {
		t.Fatal("Run: expected a trap, got nil error")
	}
	trap, ok := err.(*Trap)
	if !ok {
		t.Fatalf("Run: expected *Trap, got %T: %v", err, err)
	}
	if !strings.Contains(trap.Reason, "null") {
		t.Errorf("trap reason %q does not mention null", trap.Reason)
	}
}

func TestRun_MatchOnBoxedValue(t *testing.T) {
	// An errorable integer boxed with tag 2 (present, non-error) must
	// take the catch-all arm rather than the error arm.
	taggedStruct := &ir.IRStruct{
		Name:  "__tagged",
		Index: 0,
		Fields: []ir.IRField{
			{Name: "tag", Typ: ast.Integer(), Off: 0},
			{Name: "value", Typ: ast.Integer(), Off: 8},
		},
		Size: 16,
	}
	body := []ir.IRStmt{
		&ir.IRPrint{Value: &ir.IRMatch{
			Subject: &ir.IRBox{Tag: 2, Value: &ir.IRIntLit{Value: 99}, StructIndex: 0, TagOffset: 0, ValueOffset: 8, Typ: ast.Integer()},
			Arms: []ir.IRMatchArm{
				{Kind: ir.IRMatchError, TagOffset: 0, ValueOffset: 8, Body: &ir.IRIntLit{Value: -1}},
				{Kind: ir.IRMatchCatchAll, Body: &ir.IRIntLit{Value: 1}},
			},
			Typ: ast.Integer(),
		}},
	}
	prog := &ir.IRProgram{
		Structs:   []*ir.IRStruct{taggedStruct},
		Functions: []*ir.IRFunction{mainFunc(body, nil)},
	}

	out, err := Run(prog, Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(out); got != "1" {
		t.Errorf("got output %q, want %q (catch-all arm)", got, "1")
	}
}

// TestRun_GCReclaimsUnreachableStructs allocates many more Points than
// a single fixed-heap slab holds, keeping only the loop's own tmp slot
// live at any moment. The fixed heap has room for four slabs (128
// Points), fewer than the loop allocates, so this only succeeds if the allocate-or-collect-and-retry path
// actually reclaims the previous, now-unrooted, iterations.
func TestRun_GCReclaimsUnreachableStructs(t *testing.T) {
	const iterations = 200
	body := []ir.IRStmt{
		&ir.IRFor{
			Init: &ir.IRLet{Slot: 3, Value: &ir.IRIntLit{Value: 0}},
			Cond: &ir.IRBinary{Op: ir.IRLt, Left: &ir.IRLocal{Slot: 3, Typ: ast.Integer()}, Right: &ir.IRIntLit{Value: iterations}, Typ: ast.Boolean()},
			Post: &ir.IRExprStmt{X: &ir.IRAssign{
				Target: &ir.IRLocal{Slot: 3, Typ: ast.Integer()},
				Value:  &ir.IRBinary{Op: ir.IRAdd, Left: &ir.IRLocal{Slot: 3, Typ: ast.Integer()}, Right: &ir.IRIntLit{Value: 1}, Typ: ast.Integer()},
				Typ:    ast.Integer(),
			}},
			Body: []ir.IRStmt{
				&ir.IRLet{Slot: 4, Value: &ir.IRNew{
					StructIndex: 0,
					Fields:      []ir.IRExpr{&ir.IRLocal{Slot: 3, Typ: ast.Integer()}, &ir.IRLocal{Slot: 3, Typ: ast.Integer()}},
					Typ:         ast.Struct("Point"),
				}},
			},
		},
		&ir.IRPrint{Value: &ir.IRLocal{Slot: 3, Typ: ast.Integer()}},
	}
	prog := &ir.IRProgram{
		Structs: []*ir.IRStruct{pointStruct()},
		Functions: []*ir.IRFunction{mainFunc(body, []ir.IRVar{
			{Name: "i", Typ: ast.Integer(), Slot: 3},
			{Name: "tmp", Typ: ast.Struct("Point"), Slot: 4},
		})},
	}

	out, err := Run(prog, Config{FixedHeapSize: 20000, VariableHeapSize: 4096, ShadowStackSize: 4096})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.TrimSpace(out); got != "200" {
		t.Errorf("got output %q, want %q", got, "200")
	}
}

func TestRun_UnwrapInvertsBox(t *testing.T) {
	// Boxing a present value then unwrapping it, with either operator,
	// must yield the original; boxing an error then `!!` must trap.
	taggedStruct := &ir.IRStruct{
		Name:  "__tagged",
		Index: 0,
		Fields: []ir.IRField{
			{Name: "tag", Typ: ast.Integer(), Off: 0},
			{Name: "value", Typ: ast.Integer(), Off: 8},
		},
		Size: 16,
	}
	boxed := func(tag int) *ir.IRBox {
		return &ir.IRBox{
			Tag: tag, Value: &ir.IRIntLit{Value: 123},
			StructIndex: 0, TagOffset: 0, ValueOffset: 8,
			Typ: ast.Integer(),
		}
	}
	unwrap := func(op ir.IRUnwrapOp, x ir.IRExpr) *ir.IRUnwrap {
		return &ir.IRUnwrap{
			Op: op, X: x, Typ: ast.Integer(),
			StructIndex: 0, TagOffset: 0, ValueOffset: 8,
		}
	}

	for _, op := range []ir.IRUnwrapOp{ir.IRUnwrapNullable, ir.IRUnwrapErrorable} {
		body := []ir.IRStmt{
			&ir.IRPrint{Value: unwrap(op, boxed(2))},
		}
		prog := &ir.IRProgram{
			Structs:   []*ir.IRStruct{taggedStruct},
			Functions: []*ir.IRFunction{mainFunc(body, nil)},
		}
		out, err := Run(prog, Config{})
		if err != nil {
			t.Fatalf("unwrap of a present box trapped: %v", err)
		}
		if got := strings.TrimSpace(out); got != "123" {
			t.Errorf("unwrap(box(123)) printed %q, want 123", got)
		}
	}

	body := []ir.IRStmt{
		&ir.IRExprStmt{X: unwrap(ir.IRUnwrapErrorable, boxed(1))},
	}
	prog := &ir.IRProgram{
		Structs:   []*ir.IRStruct{taggedStruct},
		Functions: []*ir.IRFunction{mainFunc(body, nil)},
	}
	if _, err := Run(prog, Config{}); err == nil {
		t.Fatal("!! on an error box did not trap")
	}
}
