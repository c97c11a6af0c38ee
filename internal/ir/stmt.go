package ir

import "github.com/kavishsathia/starc/internal/ast"

func (fb *funcBuilder) stmts(stmts []ast.Stmt) ([]IRStmt, error) {
	out := make([]IRStmt, 0, len(stmts))
	for _, s := range stmts {
		ns, err := fb.stmt(s)
		if err != nil {
			return nil, err
		}
		if ns != nil {
			out = append(out, ns)
		}
	}
	return out, nil
}

func (fb *funcBuilder) stmt(s ast.Stmt) (IRStmt, error) {
	switch s := s.(type) {
	case *ast.LetStmt:
		var v IRExpr
		if s.Init != nil {
			var err error
			v, err = fb.expr(s.Init)
			if err != nil {
				return nil, err
			}
		}
		return &IRLet{Slot: s.Slot, Value: v}, nil
	case *ast.ReturnStmt:
		if s.Value == nil {
			return &IRReturn{}, nil
		}
		v, err := fb.expr(s.Value)
		if err != nil {
			return nil, err
		}
		return &IRReturn{Value: v}, nil
	case *ast.BreakStmt:
		return &IRBreak{}, nil
	case *ast.ContinueStmt:
		return &IRContinue{}, nil
	case *ast.IfStmt:
		cond, err := fb.expr(s.Cond)
		if err != nil {
			return nil, err
		}
		then, err := fb.stmts(s.Then)
		if err != nil {
			return nil, err
		}
		els, err := fb.stmts(s.Else)
		if err != nil {
			return nil, err
		}
		return &IRIf{Cond: cond, Then: then, Else: els}, nil
	case *ast.WhileStmt:
		cond, err := fb.expr(s.Cond)
		if err != nil {
			return nil, err
		}
		body, err := fb.stmts(s.Body)
		if err != nil {
			return nil, err
		}
		return &IRWhile{Cond: cond, Body: body}, nil
	case *ast.ForStmt:
		var init, post IRStmt
		var err error
		if s.Init != nil {
			init, err = fb.stmt(s.Init)
			if err != nil {
				return nil, err
			}
		}
		var cond IRExpr
		if s.Cond != nil {
			cond, err = fb.expr(s.Cond)
			if err != nil {
				return nil, err
			}
		}
		body, err := fb.stmts(s.Body)
		if err != nil {
			return nil, err
		}
		if s.Post != nil {
			post, err = fb.stmt(s.Post)
			if err != nil {
				return nil, err
			}
		}
		return &IRFor{Init: init, Cond: cond, Post: post, Body: body}, nil
	case *ast.PrintStmt:
		v, err := fb.expr(s.Value)
		if err != nil {
			return nil, err
		}
		return &IRPrint{Value: v}, nil
	case *ast.ProduceStmt:
		v, err := fb.expr(s.Value)
		if err != nil {
			return nil, err
		}
		return &IRProduce{Value: v}, nil
	case *ast.ExprStmt:
		v, err := fb.expr(s.X)
		if err != nil {
			return nil, err
		}
		return &IRExprStmt{X: v}, nil
	case *ast.MakeClosureStmt:
		return fb.makeClosure(s.Closure)
	default:
		return nil, errf(s.Position(), "unsupported statement in ir lowering")
	}
}

// makeClosure resolves a MakeClosure's per-field initializers to slot
// or captures-offset reads, and resolves its own synthesized struct
// name to an index.
func (fb *funcBuilder) makeClosure(mc *ast.MakeClosure) (IRStmt, error) {
	cs, ok := fb.l.out.structByName(mc.StructName)
	if !ok {
		return nil, errf(mc.Position(), "closure capture struct %q not registered", mc.StructName)
	}
	inits := make([]IRCaptureInit, 0, len(mc.Inits))
	for _, in := range mc.Inits {
		f, ok := cs.field(in.FieldName)
		if !ok {
			return nil, errf(mc.Position(), "capture field %q missing from %q", in.FieldName, mc.StructName)
		}
		ci := IRCaptureInit{Offset: f.Off, Typ: in.Typ, FromOuterCapture: in.FromOuterCapture, FromSlot: in.FromSlot}
		if in.FromOuterCapture {
			outer, ok := fb.l.out.structByName(fb.fn.CapturesStruct)
			if !ok {
				return nil, errf(mc.Position(), "function %q has no captures record to read %q from", fb.fn.Name, in.FieldName)
			}
			of, ok := outer.field(in.FieldName)
			if !ok {
				return nil, errf(mc.Position(), "outer capture field %q not found in %q", in.FieldName, fb.fn.CapturesStruct)
			}
			ci.FromOffset = of.Off
		}
		inits = append(inits, ci)
	}
	return &IRMakeClosure{
		FnName:      mc.FnName,
		StructIndex: cs.Index,
		TableIndex:  mc.TableIndex,
		Inits:       inits,
		Slot:        mc.Slot,
	}, nil
}
