package locals

import (
	"github.com/kavishsathia/starc/internal/ast"
)

// walkExpr resolves every Ident reachable from e, assigning slots and
// capture-field markers as it goes. It does not change any Typ field;
// that is the type checker's job and is already done by this point.
func (a *Analyzer) walkExpr(e ast.Expr, fs *funcScope, blk *blockScope) error {
	switch e := e.(type) {
	case *ast.IntLit, *ast.FloatLit, *ast.BoolLit, *ast.StringLit, *ast.NullLit:
		return nil
	case *ast.Ident:
		d, isLocal, ok := a.resolve(fs, blk, e.Name)
		if !ok {
			if a.fnNames[e.Name] {
				// A reference to a top-level function by name; it is
				// resolved to a function value at IR lowering, not a
				// local slot.
				return nil
			}
			return a.errf(e.Position(), "undeclared name %q", e.Name)
		}
		e.Slot = d.slot
		if !isLocal {
			e.Captured = true
			e.CaptureField = d.fieldName
		}
		return nil
	case *ast.ListLit:
		for _, el := range e.Elems {
			if err := a.walkExpr(el, fs, blk); err != nil {
				return err
			}
		}
		return nil
	case *ast.NewExpr:
		for _, fi := range e.Fields {
			if err := a.walkExpr(fi.Value, fs, blk); err != nil {
				return err
			}
		}
		return nil
	case *ast.UnaryExpr:
		return a.walkExpr(e.X, fs, blk)
	case *ast.BinaryExpr:
		if err := a.walkExpr(e.Left, fs, blk); err != nil {
			return err
		}
		return a.walkExpr(e.Right, fs, blk)
	case *ast.Assign:
		if err := a.walkExpr(e.Target, fs, blk); err != nil {
			return err
		}
		return a.walkExpr(e.Value, fs, blk)
	case *ast.CallExpr:
		if err := a.walkExpr(e.Callee, fs, blk); err != nil {
			return err
		}
		for _, arg := range e.Args {
			if err := a.walkExpr(arg, fs, blk); err != nil {
				return err
			}
		}
		return nil
	case *ast.FieldExpr:
		return a.walkExpr(e.X, fs, blk)
	case *ast.IndexExpr:
		if err := a.walkExpr(e.X, fs, blk); err != nil {
			return err
		}
		return a.walkExpr(e.Index, fs, blk)
	case *ast.UnwrapExpr:
		return a.walkExpr(e.X, fs, blk)
	case *ast.MatchExpr:
		if err := a.walkExpr(e.Subject, fs, blk); err != nil {
			return err
		}
		for _, arm := range e.Arms {
			armBlk := newBlock(blk)
			if e.Binding != "" {
				a.declareLocal(fs, armBlk, e.Binding, nil, func(string) {})
			}
			if err := a.walkExpr(arm.Body, fs, armBlk); err != nil {
				return err
			}
		}
		return nil
	default:
		return a.errf(e.Position(), "unsupported expression in locals pass")
	}
}
