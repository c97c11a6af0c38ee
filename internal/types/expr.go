package types

import (
	"github.com/kavishsathia/starc/internal/ast"
)

// checkExpr type-checks e, decorates its Typ field (where the node has
// one), and returns the resulting type. The integer, float, boolean and
// string literal nodes have no Typ field; every other expression node in
// internal/ast, Ident included, has one.
func (c *Checker) checkExpr(e ast.Expr, sc *scope) (*ast.Type, error) {
	switch e := e.(type) {
	case *ast.IntLit:
		return ast.Integer(), nil
	case *ast.FloatLit:
		return ast.Float(), nil
	case *ast.BoolLit:
		return ast.Boolean(), nil
	case *ast.StringLit:
		return ast.String(), nil
	case *ast.NullLit:
		e.Typ = ast.Null()
		return e.Typ, nil
	case *ast.Ident:
		t, ok := sc.lookup(e.Name)
		if !ok {
			return nil, c.errf(e.Position(), "undeclared name %q", e.Name)
		}
		e.Typ = t
		return t, nil
	case *ast.ListLit:
		return c.checkListLit(e, sc)
	case *ast.NewExpr:
		return c.checkNewExpr(e, sc)
	case *ast.UnaryExpr:
		return c.checkUnary(e, sc)
	case *ast.BinaryExpr:
		return c.checkBinary(e, sc)
	case *ast.Assign:
		return c.checkAssign(e, sc)
	case *ast.CallExpr:
		return c.checkCall(e, sc)
	case *ast.FieldExpr:
		return c.checkField(e, sc)
	case *ast.IndexExpr:
		return c.checkIndex(e, sc)
	case *ast.UnwrapExpr:
		return c.checkUnwrap(e, sc)
	case *ast.MatchExpr:
		return c.checkMatch(e, sc)
	default:
		return nil, c.errf(e.Position(), "unsupported expression")
	}
}

func (c *Checker) checkListLit(e *ast.ListLit, sc *scope) (*ast.Type, error) {
	if len(e.Elems) == 0 {
		e.Typ = ast.List(ast.Unknown())
		return e.Typ, nil
	}
	first, err := c.checkExpr(e.Elems[0], sc)
	if err != nil {
		return nil, err
	}
	for _, el := range e.Elems[1:] {
		t, err := c.checkExpr(el, sc)
		if err != nil {
			return nil, err
		}
		if !t.AssignableTo(first) {
			return nil, c.errf(el.Position(), "list element type %s does not match %s", t, first)
		}
	}
	e.Typ = ast.List(first)
	return e.Typ, nil
}

func (c *Checker) checkNewExpr(e *ast.NewExpr, sc *scope) (*ast.Type, error) {
	sd, ok := c.prog.StructsByName[e.StructName]
	if !ok {
		return nil, c.errf(e.Position(), "undeclared struct type %q", e.StructName)
	}
	if len(e.Fields) != len(sd.Fields) {
		return nil, c.errf(e.Position(), "struct %q requires %d field(s), got %d", e.StructName, len(sd.Fields), len(e.Fields))
	}
	for i, fi := range e.Fields {
		want := sd.Fields[i]
		if fi.Name != want.Name {
			return nil, c.errf(e.Position(), "field %d of %q must be %q, got %q", i, e.StructName, want.Name, fi.Name)
		}
		got, err := c.checkExpr(fi.Value, sc)
		if err != nil {
			return nil, err
		}
		if !got.AssignableTo(want.Typ) {
			return nil, c.errf(fi.Value.Position(), "cannot assign %s to field %q of type %s", got, want.Name, want.Typ)
		}
	}
	e.Typ = ast.Struct(e.StructName)
	return e.Typ, nil
}

func (c *Checker) checkUnary(e *ast.UnaryExpr, sc *scope) (*ast.Type, error) {
	t, err := c.checkExpr(e.X, sc)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case ast.UnaryNeg:
		if t.Tagged() || (t.Kind != ast.KindInteger && t.Kind != ast.KindFloat) {
			return nil, c.errf(e.Position(), "unary - requires an integer or float, got %s", t)
		}
		e.Typ = t.Plain()
	case ast.UnaryNot:
		if t.Tagged() || t.Kind != ast.KindBoolean {
			return nil, c.errf(e.Position(), "unary not requires a boolean, got %s", t)
		}
		e.Typ = ast.Boolean()
	case ast.UnaryCount:
		if t.Tagged() || (t.Kind != ast.KindList && t.Kind != ast.KindString) {
			return nil, c.errf(e.Position(), "# requires a list or string, got %s", t)
		}
		e.Typ = ast.Integer()
	case ast.UnaryString:
		if t.Tagged() {
			return nil, c.errf(e.Position(), "$ requires an untagged value, got %s", t)
		}
		e.Typ = ast.String()
	}
	return e.Typ, nil
}

func (c *Checker) checkBinary(e *ast.BinaryExpr, sc *scope) (*ast.Type, error) {
	l, err := c.checkExpr(e.Left, sc)
	if err != nil {
		return nil, err
	}
	r, err := c.checkExpr(e.Right, sc)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case ast.BinAdd:
		if l.Tagged() || r.Tagged() {
			return nil, c.errf(e.Position(), "+ requires untagged operands")
		}
		if l.Kind == ast.KindString && r.Kind == ast.KindString {
			e.Typ = ast.String()
			return e.Typ, nil
		}
		if l.Kind == ast.KindList && r.Kind == ast.KindList && l.Elem.SameShape(r.Elem) {
			e.Typ = l
			return e.Typ, nil
		}
		return c.checkNumericBinary(e, l, r)
	case ast.BinSub, ast.BinMul, ast.BinDiv, ast.BinMod, ast.BinPow:
		return c.checkNumericBinary(e, l, r)
	case ast.BinLt, ast.BinGt, ast.BinLe, ast.BinGe:
		if _, err := c.numericResult(e.Position(), l, r); err != nil {
			return nil, err
		}
		e.Typ = ast.Boolean()
		return e.Typ, nil
	case ast.BinEq, ast.BinNe:
		if l.Tagged() || r.Tagged() {
			return nil, c.errf(e.Position(), "%s requires untagged operands", binOpName(e.Op))
		}
		if !l.SameShape(r) {
			return nil, c.errf(e.Position(), "cannot compare %s with %s", l, r)
		}
		e.Typ = ast.Boolean()
		return e.Typ, nil
	case ast.BinAnd, ast.BinOr:
		if l.Tagged() || r.Tagged() || l.Kind != ast.KindBoolean || r.Kind != ast.KindBoolean {
			return nil, c.errf(e.Position(), "%s requires boolean operands", binOpName(e.Op))
		}
		e.Typ = ast.Boolean()
		return e.Typ, nil
	case ast.BinBitAnd, ast.BinBitOr, ast.BinBitXor, ast.BinShl, ast.BinShr:
		if l.Tagged() || r.Tagged() || l.Kind != ast.KindInteger || r.Kind != ast.KindInteger {
			return nil, c.errf(e.Position(), "%s requires integer operands", binOpName(e.Op))
		}
		e.Typ = ast.Integer()
		return e.Typ, nil
	case ast.BinIn:
		if r.Tagged() || r.Kind != ast.KindList {
			return nil, c.errf(e.Position(), "in requires a list on the right, got %s", r)
		}
		if !l.AssignableTo(r.Elem) {
			return nil, c.errf(e.Position(), "cannot test %s in %s", l, r)
		}
		e.Typ = ast.Boolean()
		return e.Typ, nil
	default:
		return nil, c.errf(e.Position(), "unsupported binary operator")
	}
}

// numericResult reports the promoted numeric type of l op r (Float if
// either side is Float, else Integer), or an error if either side isn't
// a plain numeric type.
func (c *Checker) numericResult(pos ast.Pos, l, r *ast.Type) (*ast.Type, error) {
	if l.Tagged() || r.Tagged() {
		return nil, c.errf(pos, "numeric operators require untagged operands")
	}
	if l.Kind != ast.KindInteger && l.Kind != ast.KindFloat {
		return nil, c.errf(pos, "expected a numeric type, got %s", l)
	}
	if r.Kind != ast.KindInteger && r.Kind != ast.KindFloat {
		return nil, c.errf(pos, "expected a numeric type, got %s", r)
	}
	if l.Kind == ast.KindFloat || r.Kind == ast.KindFloat {
		return ast.Float(), nil
	}
	return ast.Integer(), nil
}

func (c *Checker) checkNumericBinary(e *ast.BinaryExpr, l, r *ast.Type) (*ast.Type, error) {
	t, err := c.numericResult(e.Position(), l, r)
	if err != nil {
		return nil, err
	}
	e.Typ = t
	return t, nil
}

func binOpName(op ast.BinaryOp) string {
	names := map[ast.BinaryOp]string{
		ast.BinAdd: "+", ast.BinSub: "-", ast.BinMul: "*", ast.BinDiv: "/",
		ast.BinMod: "%", ast.BinPow: "**", ast.BinEq: "==", ast.BinNe: "!=",
		ast.BinLt: "<", ast.BinGt: ">", ast.BinLe: "<=", ast.BinGe: ">=",
		ast.BinAnd: "and", ast.BinOr: "or", ast.BinBitAnd: "&", ast.BinBitOr: "|",
		ast.BinBitXor: "^", ast.BinShl: "<<", ast.BinShr: ">>", ast.BinIn: "in",
	}
	return names[op]
}

func (c *Checker) checkAssign(e *ast.Assign, sc *scope) (*ast.Type, error) {
	switch e.Target.(type) {
	case *ast.Ident, *ast.FieldExpr, *ast.IndexExpr:
	default:
		return nil, c.errf(e.Position(), "invalid assignment target")
	}
	target, err := c.checkExpr(e.Target, sc)
	if err != nil {
		return nil, err
	}
	if id, ok := e.Target.(*ast.Ident); ok {
		if sc.isConst(id.Name) {
			return nil, c.errf(e.Position(), "cannot assign to const %q", id.Name)
		}
	}
	val, err := c.checkExpr(e.Value, sc)
	if err != nil {
		return nil, err
	}
	if !val.AssignableTo(target) {
		return nil, c.errf(e.Position(), "cannot assign %s to %s", val, target)
	}
	e.Typ = target
	return target, nil
}

func (c *Checker) checkCall(e *ast.CallExpr, sc *scope) (*ast.Type, error) {
	ft, err := c.checkExpr(e.Callee, sc)
	if err != nil {
		return nil, err
	}
	if ft.Tagged() || ft.Kind != ast.KindFunction {
		return nil, c.errf(e.Position(), "cannot call a value of type %s", ft)
	}
	if len(e.Args) != len(ft.Params) {
		return nil, c.errf(e.Position(), "expected %d argument(s), got %d", len(ft.Params), len(e.Args))
	}
	for i, a := range e.Args {
		at, err := c.checkExpr(a, sc)
		if err != nil {
			return nil, err
		}
		if !at.AssignableTo(ft.Params[i]) {
			return nil, c.errf(a.Position(), "argument %d: cannot pass %s as %s", i, at, ft.Params[i])
		}
	}
	e.Typ = ft.Returns
	return e.Typ, nil
}

func (c *Checker) checkField(e *ast.FieldExpr, sc *scope) (*ast.Type, error) {
	xt, err := c.checkExpr(e.X, sc)
	if err != nil {
		return nil, err
	}
	if xt.Tagged() || xt.Kind != ast.KindStruct {
		return nil, c.errf(e.Position(), "field access requires an untagged struct, got %s", xt)
	}
	sd, ok := c.prog.StructsByName[xt.StructName]
	if !ok {
		return nil, c.errf(e.Position(), "undeclared struct type %q", xt.StructName)
	}
	for _, f := range sd.Fields {
		if f.Name == e.Name {
			e.Typ = f.Typ
			return f.Typ, nil
		}
	}
	return nil, c.errf(e.Position(), "struct %q has no field %q", xt.StructName, e.Name)
}

func (c *Checker) checkIndex(e *ast.IndexExpr, sc *scope) (*ast.Type, error) {
	xt, err := c.checkExpr(e.X, sc)
	if err != nil {
		return nil, err
	}
	if xt.Tagged() || xt.Kind != ast.KindList {
		return nil, c.errf(e.Position(), "indexing requires an untagged list, got %s", xt)
	}
	it, err := c.checkExpr(e.Index, sc)
	if err != nil {
		return nil, err
	}
	if it.Tagged() || it.Kind != ast.KindInteger {
		return nil, c.errf(e.Position(), "list index must be an untagged integer, got %s", it)
	}
	e.Typ = xt.Elem
	return e.Typ, nil
}

// checkUnwrap implements the flag-clearing rule: `??` requires the
// operand to be Nullable and clears only that flag, leaving Errorable
// (if present) untouched; `!!` is symmetric for Errorable. A value that
// is both nullable and errorable stays physically boxed across one
// unwrap and only becomes a plain scalar once both flags are cleared
//.
func (c *Checker) checkUnwrap(e *ast.UnwrapExpr, sc *scope) (*ast.Type, error) {
	t, err := c.checkExpr(e.X, sc)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case ast.UnwrapNullable:
		if !t.Nullable {
			return nil, c.errf(e.Position(), "?? requires a nullable type, got %s", t)
		}
		res := *t
		res.Nullable = false
		e.Typ = &res
	case ast.UnwrapErrorable:
		if !t.Errorable {
			return nil, c.errf(e.Position(), "!! requires an errorable type, got %s", t)
		}
		res := *t
		res.Errorable = false
		e.Typ = &res
	}
	return e.Typ, nil
}

// checkMatch types a match expression as the type of its first arm's
// body, requiring every other arm's body to be assignable to it —
// the simplest rule that avoids a full unification across arms.
func (c *Checker) checkMatch(e *ast.MatchExpr, sc *scope) (*ast.Type, error) {
	subjT, err := c.checkExpr(e.Subject, sc)
	if err != nil {
		return nil, err
	}
	if !subjT.Tagged() {
		return nil, c.errf(e.Position(), "match requires a nullable or errorable subject, got %s", subjT)
	}
	if len(e.Arms) == 0 {
		return nil, c.errf(e.Position(), "match requires at least one arm")
	}
	var result *ast.Type
	for _, arm := range e.Arms {
		armScope := newScope(sc)
		bindT := subjT.Plain()
		switch arm.Pattern {
		case "null":
			if !subjT.Nullable {
				return nil, c.errf(e.Position(), "null arm requires a nullable subject")
			}
		case "error":
			if !subjT.Errorable {
				return nil, c.errf(e.Position(), "error arm requires an errorable subject")
			}
			bindT = ast.Unknown() // bare error arm, not narrowed to a specific error struct
		case "":
			// catch-all, binds the plain subject type
		default:
			if _, ok := c.prog.StructsByName[arm.Pattern]; !ok {
				return nil, c.errf(e.Position(), "undeclared struct type %q in match pattern", arm.Pattern)
			}
			bindT = ast.Struct(arm.Pattern)
		}
		if e.Binding != "" {
			armScope.define(e.Binding, bindT)
		}
		bt, err := c.checkExpr(arm.Body, armScope)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = bt
		} else if !bt.AssignableTo(result) {
			return nil, c.errf(arm.Body.Position(), "match arm type %s does not match %s", bt, result)
		}
	}
	e.Typ = result
	return result, nil
}
