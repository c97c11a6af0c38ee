package types

import (
	"github.com/kavishsathia/starc/internal/ast"
)

func (c *Checker) checkStmts(stmts []ast.Stmt, sc *scope) error {
	for _, s := range stmts {
		if err := c.checkStmt(s, sc); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) checkStmt(s ast.Stmt, sc *scope) error {
	switch s := s.(type) {
	case *ast.LetStmt:
		return c.checkLet(s, sc)
	case *ast.ReturnStmt:
		return c.checkReturn(s, sc)
	case *ast.BreakStmt:
		if c.loopDepth == 0 {
			return c.errf(s.Position(), "break outside of a loop")
		}
		return nil
	case *ast.ContinueStmt:
		if c.loopDepth == 0 {
			return c.errf(s.Position(), "continue outside of a loop")
		}
		return nil
	case *ast.IfStmt:
		return c.checkIf(s, sc)
	case *ast.WhileStmt:
		return c.checkWhile(s, sc)
	case *ast.ForStmt:
		return c.checkFor(s, sc)
	case *ast.PrintStmt:
		_, err := c.checkExpr(s.Value, sc)
		return err
	case *ast.ProduceStmt:
		_, err := c.checkExpr(s.Value, sc)
		return err
	case *ast.RaiseStmt:
		return c.checkRaise(s, sc)
	case *ast.ExprStmt:
		_, err := c.checkExpr(s.X, sc)
		return err
	case *ast.FnDecl:
		// A nested function declaration: register its signature in the
		// current scope (so sibling statements and the function itself,
		// for recursion, can refer to it), then check its body in its
		// own child scope rooted here so free-variable lookups can walk
		// outward into this scope (captures are resolved by the locals analyzer,
		// not here; the checker only needs assignability).
		sc.define(s.Name, fnSignature(s))
		return c.checkFnBody(s, sc)
	default:
		return c.errf(s.Position(), "unsupported statement")
	}
}

func (c *Checker) checkLet(s *ast.LetStmt, sc *scope) error {
	var initTyp *ast.Type
	if s.Init != nil {
		t, err := c.checkExpr(s.Init, sc)
		if err != nil {
			return err
		}
		initTyp = t
	}
	declTyp := s.Decl
	if declTyp == nil {
		declTyp = initTyp
	} else if initTyp != nil && !initTyp.AssignableTo(declTyp) {
		return c.errf(s.Position(), "cannot assign %s to declared type %s", initTyp, declTyp)
	}
	s.Decl = declTyp
	sc.defineConst(s.Name, declTyp, s.Const)
	return nil
}

func (c *Checker) checkReturn(s *ast.ReturnStmt, sc *scope) error {
	if c.curFn == nil {
		return c.errf(s.Position(), "return outside of a function")
	}
	want := c.curFn.Returns
	if s.Value == nil {
		if !ast.Null().AssignableTo(want) {
			return c.errf(s.Position(), "bare return requires a nullable return type, got %s", want)
		}
		return nil
	}
	got, err := c.checkExpr(s.Value, sc)
	if err != nil {
		return err
	}
	if !got.AssignableTo(want) {
		return c.errf(s.Position(), "cannot return %s as %s", got, want)
	}
	return nil
}

func (c *Checker) checkRaise(s *ast.RaiseStmt, sc *scope) error {
	if c.curFn == nil || !c.curFn.Returns.Errorable {
		return c.errf(s.Position(), "raise requires the enclosing function to return an errorable type")
	}
	t, err := c.checkExpr(s.Value, sc)
	if err != nil {
		return err
	}
	if t.Kind != ast.KindStruct || !c.prog.ErrorTypes[t.StructName] {
		return c.errf(s.Position(), "raise requires a declared error value, got %s", t)
	}
	return nil
}

func (c *Checker) checkCond(e ast.Expr, sc *scope) error {
	t, err := c.checkExpr(e, sc)
	if err != nil {
		return err
	}
	if t.Kind != ast.KindBoolean || t.Tagged() {
		return c.errf(e.Position(), "condition must be a non-nullable, non-errorable boolean, got %s", t)
	}
	return nil
}

func (c *Checker) checkIf(s *ast.IfStmt, sc *scope) error {
	if err := c.checkCond(s.Cond, sc); err != nil {
		return err
	}
	if err := c.checkStmts(s.Then, newScope(sc)); err != nil {
		return err
	}
	return c.checkStmts(s.Else, newScope(sc))
}

func (c *Checker) checkWhile(s *ast.WhileStmt, sc *scope) error {
	if err := c.checkCond(s.Cond, sc); err != nil {
		return err
	}
	c.loopDepth++
	err := c.checkStmts(s.Body, newScope(sc))
	c.loopDepth--
	return err
}

func (c *Checker) checkFor(s *ast.ForStmt, sc *scope) error {
	body := newScope(sc)
	if s.Init != nil {
		if err := c.checkStmt(s.Init, body); err != nil {
			return err
		}
	}
	if s.Cond != nil {
		if err := c.checkCond(s.Cond, body); err != nil {
			return err
		}
	}
	c.loopDepth++
	if err := c.checkStmts(s.Body, newScope(body)); err != nil {
		c.loopDepth--
		return err
	}
	if s.Post != nil {
		if err := c.checkStmt(s.Post, body); err != nil {
			c.loopDepth--
			return err
		}
	}
	c.loopDepth--
	return nil
}
