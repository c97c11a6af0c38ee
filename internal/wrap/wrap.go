// Package wrap implements the nullable/errorable sum wrapper (component
// I). It is a mechanical pass over the flattened tree that inserts an
// explicit Box node wherever a value crosses the plain -> tagged
// boundary: let/const initializers, returns, call arguments, new's
// field initializers, and the right-hand side of `=` when the target
// is tagged. A `raise e` becomes a return of a tag-1 box.
//
// The two-field tagged records (tag, value) are registered
// unconditionally as struct indices 0-2 during IR lowering; this
// pass only needs to know whether a Box is needed, not its index.
package wrap

import (
	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/compileerr"
)

// Wrap rewrites prog's function bodies in place, inserting Box nodes at
// every boxing site. Must run after flatten.Flatten
// (it operates on the now-fully-top-level function list) and expects
// every expression's Typ field already set by the checker.
func Wrap(prog *ast.Program) error {
	w := &wrapper{prog: prog}
	for _, fn := range prog.Functions {
		if err := w.wrapStmts(fn.Body, fn.Returns); err != nil {
			return err
		}
	}
	return nil
}

type wrapper struct {
	prog *ast.Program
}

// boxTo wraps value in a Box targeting target's tag shape if value's
// own type is plain where target is tagged, or if value's type is
// tagged with fewer flags than target requires. No wrapping is
// introduced when value's type already matches target (no
// double-boxing).
func boxTo(value ast.Expr, valueTyp, target *ast.Type) ast.Expr {
	if target == nil || !target.Tagged() {
		return value
	}
	if valueTyp != nil && valueTyp.Nullable == target.Nullable && valueTyp.Errorable == target.Errorable {
		return value
	}
	tag := 2
	if valueTyp != nil && valueTyp.Kind == ast.KindNull {
		tag = 0
	}
	return &ast.Box{
		Base:  baseOf(value),
		Tag:   tag,
		Value: value,
		Typ:   target,
	}
}

func baseOf(e ast.Expr) ast.Base {
	return ast.Base{Pos: e.Position()}
}

func (w *wrapper) errf(pos ast.Pos, msg string) error {
	return &compileerr.IRGen{Pos: pos, Message: msg}
}

func (w *wrapper) wrapStmts(stmts []ast.Stmt, fnReturn *ast.Type) error {
	for i, s := range stmts {
		ns, err := w.wrapStmt(s, fnReturn)
		if err != nil {
			return err
		}
		stmts[i] = ns
	}
	return nil
}

func (w *wrapper) wrapStmt(s ast.Stmt, fnReturn *ast.Type) (ast.Stmt, error) {
	switch s := s.(type) {
	case *ast.LetStmt:
		if s.Init != nil {
			s.Init = w.wrapExpr(s.Init, s.Decl)
		}
		return s, nil
	case *ast.ReturnStmt:
		if s.Value != nil {
			s.Value = w.wrapExpr(s.Value, fnReturn)
		}
		return s, nil
	case *ast.RaiseStmt:
		// raise e -> return box_error(e); the box carries tag 1 and the
		// enclosing function's declared (errorable) return type.
		boxed := &ast.Box{Base: s.Base, Tag: 1, Value: w.wrapExpr(s.Value, nil), Typ: fnReturn}
		return &ast.ReturnStmt{Base: s.Base, Value: boxed}, nil
	case *ast.IfStmt:
		if s.Cond != nil {
			s.Cond = w.wrapExpr(s.Cond, nil)
		}
		if err := w.wrapStmts(s.Then, fnReturn); err != nil {
			return nil, err
		}
		if err := w.wrapStmts(s.Else, fnReturn); err != nil {
			return nil, err
		}
		return s, nil
	case *ast.WhileStmt:
		s.Cond = w.wrapExpr(s.Cond, nil)
		if err := w.wrapStmts(s.Body, fnReturn); err != nil {
			return nil, err
		}
		return s, nil
	case *ast.ForStmt:
		if s.Init != nil {
			ns, err := w.wrapStmt(s.Init, fnReturn)
			if err != nil {
				return nil, err
			}
			s.Init = ns
		}
		if s.Cond != nil {
			s.Cond = w.wrapExpr(s.Cond, nil)
		}
		if err := w.wrapStmts(s.Body, fnReturn); err != nil {
			return nil, err
		}
		if s.Post != nil {
			ns, err := w.wrapStmt(s.Post, fnReturn)
			if err != nil {
				return nil, err
			}
			s.Post = ns
		}
		return s, nil
	case *ast.PrintStmt:
		s.Value = w.wrapExpr(s.Value, nil)
		return s, nil
	case *ast.ProduceStmt:
		s.Value = w.wrapExpr(s.Value, nil)
		return s, nil
	case *ast.ExprStmt:
		s.X = w.wrapExpr(s.X, nil)
		return s, nil
	case *ast.MakeClosureStmt:
		return s, nil
	default:
		return s, nil
	}
}

// wrapExpr recursively wraps e's subexpressions at their own boxing
// sites (call args, new-field inits, tagged-target assignment RHS),
// then, if target is non-nil and tagged, boxes the whole result to
// match it.
func (w *wrapper) wrapExpr(e ast.Expr, target *ast.Type) ast.Expr {
	if e == nil {
		return nil
	}
	var typ *ast.Type
	switch e := e.(type) {
	case *ast.ListLit:
		for i, el := range e.Elems {
			e.Elems[i] = w.wrapExpr(el, e.Typ.Elem)
		}
		typ = e.Typ
	case *ast.NewExpr:
		sd := w.prog.StructsByName[e.StructName]
		for i, fi := range e.Fields {
			var fieldTarget *ast.Type
			if sd != nil && i < len(sd.Fields) {
				fieldTarget = sd.Fields[i].Typ
			}
			e.Fields[i].Value = w.wrapExpr(fi.Value, fieldTarget)
		}
		typ = e.Typ
	case *ast.UnaryExpr:
		e.X = w.wrapExpr(e.X, nil)
		typ = e.Typ
	case *ast.BinaryExpr:
		e.Left = w.wrapExpr(e.Left, nil)
		e.Right = w.wrapExpr(e.Right, nil)
		typ = e.Typ
	case *ast.Assign:
		e.Value = w.wrapExpr(e.Value, e.Typ)
		typ = e.Typ
	case *ast.CallExpr:
		e.Callee = w.wrapExpr(e.Callee, nil)
		ft := calleeParamTypes(e.Callee)
		for i, a := range e.Args {
			var target *ast.Type
			if ft != nil && i < len(ft) {
				target = ft[i]
			}
			e.Args[i] = w.wrapExpr(a, target)
		}
		typ = e.Typ
	case *ast.FieldExpr:
		e.X = w.wrapExpr(e.X, nil)
		typ = e.Typ
	case *ast.IndexExpr:
		e.X = w.wrapExpr(e.X, nil)
		e.Index = w.wrapExpr(e.Index, nil)
		typ = e.Typ
	case *ast.UnwrapExpr:
		e.X = w.wrapExpr(e.X, nil)
		typ = e.Typ
	case *ast.MatchExpr:
		e.Subject = w.wrapExpr(e.Subject, nil)
		for i := range e.Arms {
			e.Arms[i].Body = w.wrapExpr(e.Arms[i].Body, e.Typ)
		}
		typ = e.Typ
	default:
		typ = exprTyp(e)
	}
	return boxTo(e, typ, target)
}

func calleeParamTypes(callee ast.Expr) []*ast.Type {
	t := exprTyp(callee)
	if t == nil || t.Kind != ast.KindFunction {
		return nil
	}
	return t.Params
}

func exprTyp(e ast.Expr) *ast.Type {
	switch e := e.(type) {
	case *ast.IntLit:
		return ast.Integer()
	case *ast.FloatLit:
		return ast.Float()
	case *ast.BoolLit:
		return ast.Boolean()
	case *ast.StringLit:
		return ast.String()
	case *ast.NullLit:
		return e.Typ
	case *ast.Ident:
		return e.Typ
	case *ast.ListLit:
		return e.Typ
	case *ast.NewExpr:
		return e.Typ
	case *ast.UnaryExpr:
		return e.Typ
	case *ast.BinaryExpr:
		return e.Typ
	case *ast.Assign:
		return e.Typ
	case *ast.CallExpr:
		return e.Typ
	case *ast.FieldExpr:
		return e.Typ
	case *ast.IndexExpr:
		return e.Typ
	case *ast.UnwrapExpr:
		return e.Typ
	case *ast.MatchExpr:
		return e.Typ
	case *ast.Box:
		return e.Typ
	default:
		return nil
	}
}
