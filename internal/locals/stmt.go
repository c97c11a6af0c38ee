package locals

import (
	"github.com/kavishsathia/starc/internal/ast"
)

func functionTypeOf(fn *ast.FnDecl) *ast.Type {
	params := make([]*ast.Type, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.Typ
	}
	return ast.Function(params, fn.Returns)
}

func (a *Analyzer) walkStmts(stmts []ast.Stmt, fs *funcScope, blk *blockScope) error {
	for _, s := range stmts {
		if err := a.walkStmt(s, fs, blk); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) walkStmt(s ast.Stmt, fs *funcScope, blk *blockScope) error {
	switch s := s.(type) {
	case *ast.LetStmt:
		if s.Init != nil {
			if err := a.walkExpr(s.Init, fs, blk); err != nil {
				return err
			}
		}
		if blk.definedHere(s.Name) {
			return a.errf(s.Position(), "%q already declared in this scope", s.Name)
		}
		d := a.declareLocal(fs, blk, s.Name, s.Decl, func(field string) {
			s.CaptureField = field
		})
		s.Slot = d.slot
		return nil
	case *ast.ReturnStmt:
		if s.Value != nil {
			return a.walkExpr(s.Value, fs, blk)
		}
		return nil
	case *ast.BreakStmt, *ast.ContinueStmt:
		return nil
	case *ast.IfStmt:
		if err := a.walkExpr(s.Cond, fs, blk); err != nil {
			return err
		}
		if err := a.walkStmts(s.Then, fs, newBlock(blk)); err != nil {
			return err
		}
		return a.walkStmts(s.Else, fs, newBlock(blk))
	case *ast.WhileStmt:
		if err := a.walkExpr(s.Cond, fs, blk); err != nil {
			return err
		}
		return a.walkStmts(s.Body, fs, newBlock(blk))
	case *ast.ForStmt:
		inner := newBlock(blk)
		if s.Init != nil {
			if err := a.walkStmt(s.Init, fs, inner); err != nil {
				return err
			}
		}
		if s.Cond != nil {
			if err := a.walkExpr(s.Cond, fs, inner); err != nil {
				return err
			}
		}
		if err := a.walkStmts(s.Body, fs, newBlock(inner)); err != nil {
			return err
		}
		if s.Post != nil {
			if err := a.walkStmt(s.Post, fs, inner); err != nil {
				return err
			}
		}
		return nil
	case *ast.PrintStmt:
		return a.walkExpr(s.Value, fs, blk)
	case *ast.ProduceStmt:
		return a.walkExpr(s.Value, fs, blk)
	case *ast.RaiseStmt:
		return a.walkExpr(s.Value, fs, blk)
	case *ast.ExprStmt:
		return a.walkExpr(s.X, fs, blk)
	case *ast.FnDecl:
		// A nested function is bound to a slot in its own right (the
		// MakeClosure statement that replaces it stores the packed
		// closure value there), declared before the body is walked so
		// the function can call itself recursively. Its own scope
		// links back to this block, the block active in the parent
		// function at its declaration site, so lookups from inside it
		// can walk outward.
		d := a.declareLocal(fs, blk, s.Name, functionTypeOf(s), func(field string) {
			// A nested function's own name being captured by a
			// further-nested function is not supported by this
			// surface language; flattening always hoists outer
			// functions before their callers could form such a
			// reference.
		})
		s.Slot = d.slot
		return a.analyzeFn(s, fs, blk)
	default:
		return a.errf(s.Position(), "unsupported statement in locals pass")
	}
}
