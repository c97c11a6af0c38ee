package ir

import "github.com/kavishsathia/starc/internal/ast"

var unaryOps = map[ast.UnaryOp]IRUnaryOp{
	ast.UnaryNeg:    IRNeg,
	ast.UnaryNot:    IRNot,
	ast.UnaryCount:  IRCount,
	ast.UnaryString: IRStringify,
}

var binaryOps = map[ast.BinaryOp]IRBinaryOp{
	ast.BinAdd:    IRAdd,
	ast.BinSub:    IRSub,
	ast.BinMul:    IRMul,
	ast.BinDiv:    IRDiv,
	ast.BinMod:    IRMod,
	ast.BinPow:    IRPow,
	ast.BinEq:     IREq,
	ast.BinNe:     IRNe,
	ast.BinLt:     IRLt,
	ast.BinGt:     IRGt,
	ast.BinLe:     IRLe,
	ast.BinGe:     IRGe,
	ast.BinAnd:    IRAnd,
	ast.BinOr:     IROr,
	ast.BinBitAnd: IRBitAnd,
	ast.BinBitOr:  IRBitOr,
	ast.BinBitXor: IRBitXor,
	ast.BinShl:    IRShl,
	ast.BinShr:    IRShr,
	ast.BinIn:     IRIn,
}

func (fb *funcBuilder) expr(e ast.Expr) (IRExpr, error) {
	switch e := e.(type) {
	case *ast.IntLit:
		return &IRIntLit{Value: e.Value}, nil
	case *ast.FloatLit:
		return &IRFloatLit{Value: e.Value}, nil
	case *ast.BoolLit:
		return &IRBoolLit{Value: e.Value}, nil
	case *ast.StringLit:
		return &IRStringLit{Value: e.Value}, nil
	case *ast.NullLit:
		// Tag-0 tagged values carry no payload; the word is never read.
		return &IRIntLit{Value: 0}, nil
	case *ast.Ident:
		return fb.ident(e)
	case *ast.NewExpr:
		return fb.newExpr(e)
	case *ast.UnaryExpr:
		x, err := fb.expr(e.X)
		if err != nil {
			return nil, err
		}
		op, ok := unaryOps[e.Op]
		if !ok {
			return nil, errf(e.Position(), "unsupported unary operator")
		}
		return &IRUnary{Op: op, X: x, Typ: e.Typ}, nil
	case *ast.BinaryExpr:
		l, err := fb.expr(e.Left)
		if err != nil {
			return nil, err
		}
		r, err := fb.expr(e.Right)
		if err != nil {
			return nil, err
		}
		op, ok := binaryOps[e.Op]
		if !ok {
			return nil, errf(e.Position(), "unsupported binary operator")
		}
		if e.Op == ast.BinAdd {
			lt := l.IRType()
			if lt != nil && (lt.Kind == ast.KindString || lt.Kind == ast.KindList) {
				op = IRConcat
			} else {
				op = IRAdd
			}
		}
		return &IRBinary{Op: op, Left: l, Right: r, Typ: e.Typ}, nil
	case *ast.Assign:
		target, err := fb.lvalue(e.Target)
		if err != nil {
			return nil, err
		}
		v, err := fb.expr(e.Value)
		if err != nil {
			return nil, err
		}
		return &IRAssign{Target: target, Value: v, Typ: e.Typ}, nil
	case *ast.CallExpr:
		return fb.call(e)
	case *ast.FieldExpr:
		x, err := fb.expr(e.X)
		if err != nil {
			return nil, err
		}
		off, err := fb.fieldOffset(e)
		if err != nil {
			return nil, err
		}
		return &IRFieldRead{X: x, Offset: off, Typ: e.Typ}, nil
	case *ast.IndexExpr:
		x, err := fb.expr(e.X)
		if err != nil {
			return nil, err
		}
		idx, err := fb.expr(e.Index)
		if err != nil {
			return nil, err
		}
		return &IRIndexRead{X: x, Index: idx, Typ: e.Typ}, nil
	case *ast.UnwrapExpr:
		x, err := fb.expr(e.X)
		if err != nil {
			return nil, err
		}
		op := IRUnwrapNullable
		if e.Op == ast.UnwrapErrorable {
			op = IRUnwrapErrorable
		}
		variant, err := fb.taggedVariant(x.IRType())
		if err != nil {
			return nil, errf(e.Position(), "%s", err.Error())
		}
		tagF, _ := variant.field("tag")
		valF, _ := variant.field("value")
		return &IRUnwrap{
			Op: op, X: x, Typ: e.Typ,
			StructIndex: variant.Index, TagOffset: tagF.Off, ValueOffset: valF.Off,
		}, nil
	case *ast.MatchExpr:
		return fb.match(e)
	case *ast.Box:
		var v IRExpr
		if e.Value != nil {
			var err error
			v, err = fb.expr(e.Value)
			if err != nil {
				return nil, err
			}
		}
		variant, err := fb.taggedVariant(e.Typ)
		if err != nil {
			return nil, errf(e.Position(), "%s", err.Error())
		}
		tagF, _ := variant.field("tag")
		valF, _ := variant.field("value")
		return &IRBox{
			Tag: e.Tag, Value: v, Typ: e.Typ,
			StructIndex: variant.Index, TagOffset: tagF.Off, ValueOffset: valF.Off,
		}, nil
	case *ast.ListLit:
		return fb.listLit(e)
	default:
		return nil, errf(e.Position(), "unsupported expression in ir lowering")
	}
}

func (fb *funcBuilder) listLit(e *ast.ListLit) (IRExpr, error) {
	// A list literal lowers to an allocation of its elements' length
	// followed by one store per element; represented here as a single
	// IRNew-like node reusing IRCall's argument-list shape would blur
	// the allocator/struct distinction, so it gets its own call into
	// the runtime's list constructor by concat-folding from empty —
	// simplest is a dedicated literal node carrying its elements.
	elems := make([]IRExpr, len(e.Elems))
	for i, el := range e.Elems {
		v, err := fb.expr(el)
		if err != nil {
			return nil, err
		}
		elems[i] = v
	}
	return &IRListLit{Elems: elems, Typ: e.Typ}, nil
}

func (fb *funcBuilder) ident(e *ast.Ident) (IRExpr, error) {
	if e.Captured {
		cs, ok := fb.l.out.structByName(fb.fn.CapturesStruct)
		if !ok {
			return nil, errf(e.Position(), "function %q has no captures record", fb.fn.Name)
		}
		f, ok := cs.field(e.CaptureField)
		if !ok {
			return nil, errf(e.Position(), "capture field %q not found", e.CaptureField)
		}
		return &IRCaptureRead{Offset: f.Off, Typ: e.Typ}, nil
	}
	return &IRLocal{Slot: e.Slot, Typ: e.Typ}, nil
}

func (fb *funcBuilder) lvalue(target ast.Expr) (IRExpr, error) {
	switch t := target.(type) {
	case *ast.Ident:
		if t.Captured {
			cs, ok := fb.l.out.structByName(fb.fn.CapturesStruct)
			if !ok {
				return nil, errf(t.Position(), "function %q has no captures record", fb.fn.Name)
			}
			f, ok := cs.field(t.CaptureField)
			if !ok {
				return nil, errf(t.Position(), "capture field %q not found", t.CaptureField)
			}
			return &IRCaptureRef{Offset: f.Off, Typ: t.Typ}, nil
		}
		return &IRLocal{Slot: t.Slot, Typ: t.Typ}, nil
	case *ast.FieldExpr:
		x, err := fb.expr(t.X)
		if err != nil {
			return nil, err
		}
		off, err := fb.fieldOffset(t)
		if err != nil {
			return nil, err
		}
		return &IRFieldRef{X: x, Offset: off, Typ: t.Typ}, nil
	case *ast.IndexExpr:
		x, err := fb.expr(t.X)
		if err != nil {
			return nil, err
		}
		idx, err := fb.expr(t.Index)
		if err != nil {
			return nil, err
		}
		return &IRIndexRef{X: x, Index: idx, Typ: t.Typ}, nil
	default:
		return nil, errf(target.Position(), "invalid assignment target")
	}
}

func (fb *funcBuilder) fieldOffset(e *ast.FieldExpr) (int64, error) {
	xt := exprStaticType(e.X)
	if xt == nil || xt.Kind != ast.KindStruct {
		return 0, errf(e.Position(), "field access on non-struct type")
	}
	sd, ok := fb.l.out.structByName(xt.StructName)
	if !ok {
		return 0, errf(e.Position(), "struct %q not registered", xt.StructName)
	}
	f, ok := sd.field(e.Name)
	if !ok {
		return 0, errf(e.Position(), "field %q not found on %q", e.Name, xt.StructName)
	}
	e.Offset = f.Off
	return f.Off, nil
}

// exprStaticType recovers e's plain (unboxed) type for field-offset
// resolution; field access is only legal on a struct value that has
// already been unwrapped of any tag by the point wrap.go runs, so e's
// own Typ always carries the answer.
func exprStaticType(e ast.Expr) *ast.Type {
	switch e := e.(type) {
	case *ast.Ident:
		return e.Typ
	case *ast.FieldExpr:
		return e.Typ
	case *ast.IndexExpr:
		return e.Typ
	case *ast.CallExpr:
		return e.Typ
	case *ast.NewExpr:
		return e.Typ
	case *ast.UnwrapExpr:
		return e.Typ
	case *ast.MatchExpr:
		return e.Typ
	default:
		return nil
	}
}

func (fb *funcBuilder) newExpr(e *ast.NewExpr) (IRExpr, error) {
	sd, ok := fb.l.out.structByName(e.StructName)
	if !ok {
		return nil, errf(e.Position(), "struct %q not registered", e.StructName)
	}
	byName := make(map[string]ast.Expr, len(e.Fields))
	for _, fi := range e.Fields {
		byName[fi.Name] = fi.Value
	}
	fields := make([]IRExpr, len(sd.Fields))
	for i, f := range sd.Fields {
		src, ok := byName[f.Name]
		if !ok {
			return nil, errf(e.Position(), "missing field %q in new %s", f.Name, e.StructName)
		}
		v, err := fb.expr(src)
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}
	e.StructIndex = sd.Index
	return &IRNew{StructIndex: sd.Index, Fields: fields, Typ: e.Typ}, nil
}

func (fb *funcBuilder) call(e *ast.CallExpr) (IRExpr, error) {
	args := make([]IRExpr, len(e.Args))
	for i, a := range e.Args {
		v, err := fb.expr(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	if ident, ok := e.Callee.(*ast.Ident); ok && !ident.Captured && ident.Slot == 0 {
		if idx, ok := fb.l.funcIndex[ident.Name]; ok {
			return &IRCall{TableIndex: idx, Args: args, Typ: e.Typ}, nil
		}
	}
	callee, err := fb.expr(e.Callee)
	if err != nil {
		return nil, err
	}
	return &IRCall{Callee: callee, TableIndex: -1, Args: args, Typ: e.Typ}, nil
}

// match lowers a match expression into the declarative tag/type-test
// chain. The subject is evaluated once; each arm
// is tested in source order using the tagged record's tag field for
// "null"/"error" patterns, or the fixed-heap block header's type_id
// for a concrete struct pattern — the existing header field doubles as
// the match discriminator rather than a separate one.
func (fb *funcBuilder) match(e *ast.MatchExpr) (IRExpr, error) {
	subject, err := fb.expr(e.Subject)
	if err != nil {
		return nil, err
	}
	// The subject is always a tagged value at a match, so
	// its tagged-record variant resolves the same way an unwrap's does.
	var variant *IRStruct
	subjectTyp := subject.IRType()
	if subjectTyp != nil && subjectTyp.Tagged() {
		variant, err = fb.taggedVariant(subjectTyp)
		if err != nil {
			return nil, errf(e.Position(), "%s", err.Error())
		}
	}
	arms := make([]IRMatchArm, 0, len(e.Arms))
	for _, arm := range e.Arms {
		body, err := fb.expr(arm.Body)
		if err != nil {
			return nil, err
		}
		// Each arm's binding was declared as its own local by the locals
		// pass (one fresh slot per arm, not shared across arms), so the
		// slot is recovered per arm rather than once for the whole match.
		bindSlot := 0
		if e.Binding != "" {
			bindSlot = fb.bindingSlotIn(arm.Body, e.Binding)
		}
		ia := IRMatchArm{BindSlot: bindSlot, Body: body}
		switch arm.Pattern {
		case "null":
			ia.Kind = IRMatchNull
		case "error":
			ia.Kind = IRMatchError
		case "":
			ia.Kind = IRMatchCatchAll
		default:
			sd, ok := fb.l.out.structByName(arm.Pattern)
			if !ok {
				return nil, errf(e.Position(), "match pattern %q is not a known struct or error type", arm.Pattern)
			}
			ia.Kind = IRMatchType
			ia.StructIndex = sd.Index
		}
		if (ia.Kind == IRMatchNull || ia.Kind == IRMatchError) && variant != nil {
			tagF, _ := variant.field("tag")
			valF, _ := variant.field("value")
			ia.TagOffset = tagF.Off
			ia.ValueOffset = valF.Off
		} else if variant != nil {
			valF, _ := variant.field("value")
			ia.ValueOffset = valF.Off
		}
		arms = append(arms, ia)
	}
	return &IRMatch{Subject: subject, Arms: arms, Typ: e.Typ}, nil
}

// bindingSlotIn finds the slot the locals pass allocated for one arm's
// bound name by scanning that arm's body for the first matching Ident;
// the locals pass declares a fresh local per arm (see
// internal/locals/expr.go's MatchExpr case), so this is computed once
// per arm rather than once per match.
func (fb *funcBuilder) bindingSlotIn(body ast.Expr, name string) int {
	var slot int
	var find func(x ast.Expr) bool
	find = func(x ast.Expr) bool {
		switch x := x.(type) {
		case *ast.Ident:
			if x.Name == name && !x.Captured {
				slot = x.Slot
				return true
			}
		case *ast.FieldExpr:
			return find(x.X)
		case *ast.UnwrapExpr:
			return find(x.X)
		case *ast.BinaryExpr:
			return find(x.Left) || find(x.Right)
		case *ast.CallExpr:
			for _, a := range x.Args {
				if find(a) {
					return true
				}
			}
		}
		return false
	}
	find(body)
	return slot
}
