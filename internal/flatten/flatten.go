// Package flatten implements the closure flattener. It
// hoists every nested function declaration to the top level, replacing
// it with a MakeClosure statement, and synthesizes a capture-record
// struct per function that captures anything.
//
// Captures are gathered top-down: a function's
// transitive capture set is its own captured variables plus whatever
// its children need that it does not itself define, plus whatever it
// inherits from its own parent. Fields are segregated pointer-kind
// first so the type table's struct_count/list_count correctly drive
// the collector's pointer walk (see internal/ast.Type.IsFixedHeapPointer
// / IsVariableHeapPointer).
package flatten

import (
	"fmt"
	"sort"

	"github.com/kavishsathia/starc/internal/ast"
)

// captureDemand is one free variable a function body (or one of its
// descendants) needs from outside itself.
type captureDemand struct {
	name string
	typ  *ast.Type
	slot int // the demanding function's own slot for this name, if it has one of its own (else -1, satisfied purely via its own captures record)
}

// Flatten rewrites prog in place: every nested FnDecl becomes a
// top-level entry in prog.Functions, in the order it was hoisted, and
// a MakeClosure statement takes its place.
func Flatten(prog *ast.Program) error {
	f := &flattener{prog: prog}
	var top []*ast.FnDecl
	top = append(top, prog.Functions...)
	for _, fn := range top {
		if _, err := f.flattenFn(fn); err != nil {
			return err
		}
	}
	prog.Functions = f.hoisted
	return nil
}

type flattener struct {
	prog       *ast.Program
	hoisted    []*ast.FnDecl
	tableIndex int
}

// flattenFn processes fn's body, hoisting any nested function
// declarations it finds, then hoists fn itself. It returns the set of
// free-variable demands fn's body makes on names not declared within
// fn (used by the caller, fn's parent, to know what it must supply).
func (f *flattener) flattenFn(fn *ast.FnDecl) ([]captureDemand, error) {
	own := make(map[string]int)
	for _, p := range fn.Params {
		own[p.Name] = p.Slot
	}

	demands := make(map[string]*ast.Type)
	newBody, err := f.flattenStmts(fn.Body, own, demands)
	if err != nil {
		return nil, err
	}
	fn.Body = newBody

	fn.TableIndex = f.tableIndex
	f.tableIndex++
	f.hoisted = append(f.hoisted, fn)

	out := make([]captureDemand, 0, len(demands))
	for n, t := range demands {
		slot, ok := own[n]
		if !ok {
			slot = -1
		}
		out = append(out, captureDemand{name: n, typ: t, slot: slot})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// flattenStmts walks a statement list, collecting into demands every
// free-variable reference not present in own, and replacing nested
// FnDecls with MakeClosureStmt. own maps a name declared so far in
// this function to its local slot.
func (f *flattener) flattenStmts(stmts []ast.Stmt, own map[string]int, demands map[string]*ast.Type) ([]ast.Stmt, error) {
	out := make([]ast.Stmt, 0, len(stmts))
	for _, s := range stmts {
		switch s := s.(type) {
		case *ast.FnDecl:
			closure, err := f.flattenNested(s, own, demands)
			if err != nil {
				return nil, err
			}
			out = append(out, &ast.MakeClosureStmt{Base: s.Base, Closure: closure})
			own[s.Name] = s.Slot
		case *ast.LetStmt:
			f.collectExprDemands(s.Init, own, demands)
			own[s.Name] = s.Slot
			out = append(out, s)
		case *ast.IfStmt:
			f.collectExprDemands(s.Cond, own, demands)
			then, err := f.flattenStmts(s.Then, cloneSlots(own), demands)
			if err != nil {
				return nil, err
			}
			s.Then = then
			els, err := f.flattenStmts(s.Else, cloneSlots(own), demands)
			if err != nil {
				return nil, err
			}
			s.Else = els
			out = append(out, s)
		case *ast.WhileStmt:
			f.collectExprDemands(s.Cond, own, demands)
			body, err := f.flattenStmts(s.Body, cloneSlots(own), demands)
			if err != nil {
				return nil, err
			}
			s.Body = body
			out = append(out, s)
		case *ast.ForStmt:
			inner := cloneSlots(own)
			if s.Init != nil {
				initList, err := f.flattenStmts([]ast.Stmt{s.Init}, inner, demands)
				if err != nil {
					return nil, err
				}
				s.Init = initList[0]
			}
			f.collectExprDemands(s.Cond, inner, demands)
			body, err := f.flattenStmts(s.Body, cloneSlots(inner), demands)
			if err != nil {
				return nil, err
			}
			s.Body = body
			if s.Post != nil {
				postList, err := f.flattenStmts([]ast.Stmt{s.Post}, inner, demands)
				if err != nil {
					return nil, err
				}
				s.Post = postList[0]
			}
			out = append(out, s)
		case *ast.ReturnStmt:
			f.collectExprDemands(s.Value, own, demands)
			out = append(out, s)
		case *ast.PrintStmt:
			f.collectExprDemands(s.Value, own, demands)
			out = append(out, s)
		case *ast.ProduceStmt:
			f.collectExprDemands(s.Value, own, demands)
			out = append(out, s)
		case *ast.RaiseStmt:
			f.collectExprDemands(s.Value, own, demands)
			out = append(out, s)
		case *ast.ExprStmt:
			f.collectExprDemands(s.X, own, demands)
			out = append(out, s)
		default:
			out = append(out, s)
		}
	}
	return out, nil
}

func cloneSlots(s map[string]int) map[string]int {
	c := make(map[string]int, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// flattenNested flattens a nested function declaration fn, folding its
// own outstanding demands into the parent's demand set when the parent
// doesn't satisfy them directly either (in which case the parent must
// itself be captured into from further out). It returns the
// MakeClosure node that replaces the declaration in the parent's body.
func (f *flattener) flattenNested(fn *ast.FnDecl, parentOwn map[string]int, parentDemands map[string]*ast.Type) (*ast.MakeClosure, error) {
	childDemands, err := f.flattenFn(fn)
	if err != nil {
		return nil, err
	}

	structName := fmt.Sprintf("__capture_%s", fn.Name)
	var ptrFields, primFields []ast.StructField
	var inits []ast.CaptureInit

	for _, d := range childDemands {
		field := ast.StructField{Name: d.name, Typ: d.typ}
		if d.typ.IsPointerKind() {
			ptrFields = append(ptrFields, field)
		} else {
			primFields = append(primFields, field)
		}
		slot, fromHere := parentOwn[d.name]
		fromOuter := !fromHere
		if fromOuter {
			parentDemands[d.name] = d.typ
		}
		inits = append(inits, ast.CaptureInit{
			FieldName:        d.name,
			FromOuterCapture: fromOuter,
			FromSlot:         slot,
			Typ:              d.typ,
		})
	}

	fields := append(ptrFields, primFields...)
	sd := &ast.StructDecl{Base: fn.Base, Name: structName, Fields: fields}
	f.prog.Structs = append(f.prog.Structs, sd)

	if len(childDemands) == 0 {
		fn.CapturesStruct = ""
	} else {
		fn.CapturesStruct = structName
	}

	return &ast.MakeClosure{
		Base:       fn.Base,
		FnName:     fn.Name,
		StructName: structName,
		TableIndex: fn.TableIndex,
		Inits:      inits,
		Slot:       fn.Slot,
	}, nil
}

// collectExprDemands walks e looking for Idents the locals pass
// already marked Captured (i.e. resolved outside this function); each
// one found is recorded in demands with its checked type. An
// uncaptured Ident is either one of this function's own locals or a
// reference to a top-level function by name, neither of which needs a
// capture field.
func (f *flattener) collectExprDemands(e ast.Expr, own map[string]int, demands map[string]*ast.Type) {
	if e == nil {
		return
	}
	switch e := e.(type) {
	case *ast.Ident:
		if e.Captured {
			demands[e.Name] = e.Typ
		}
	case *ast.ListLit:
		for _, el := range e.Elems {
			f.collectExprDemands(el, own, demands)
		}
	case *ast.NewExpr:
		for _, fi := range e.Fields {
			f.collectExprDemands(fi.Value, own, demands)
		}
	case *ast.UnaryExpr:
		f.collectExprDemands(e.X, own, demands)
	case *ast.BinaryExpr:
		f.collectExprDemands(e.Left, own, demands)
		f.collectExprDemands(e.Right, own, demands)
	case *ast.Assign:
		f.collectExprDemands(e.Target, own, demands)
		f.collectExprDemands(e.Value, own, demands)
	case *ast.CallExpr:
		f.collectExprDemands(e.Callee, own, demands)
		for _, a := range e.Args {
			f.collectExprDemands(a, own, demands)
		}
	case *ast.FieldExpr:
		f.collectExprDemands(e.X, own, demands)
	case *ast.IndexExpr:
		f.collectExprDemands(e.X, own, demands)
		f.collectExprDemands(e.Index, own, demands)
	case *ast.UnwrapExpr:
		f.collectExprDemands(e.X, own, demands)
	case *ast.MatchExpr:
		f.collectExprDemands(e.Subject, own, demands)
		for _, arm := range e.Arms {
			inner := cloneSlots(own)
			if e.Binding != "" {
				inner[e.Binding] = -1
			}
			f.collectExprDemands(arm.Body, inner, demands)
		}
	}
}
