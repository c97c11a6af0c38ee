package vm

import (
	"fmt"
	"math"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/ir"
	"github.com/kavishsathia/starc/runtime/dalloc"
	"github.com/kavishsathia/starc/runtime/shadow"
)

// pinVal pins value on the shadow stack's auxiliary root list if typ
// is pointer-shaped, and does nothing otherwise; callers release their
// pins with Unpin on a handle taken from PinMark. Used to protect an already-evaluated
// subexpression's result across a later subexpression evaluation or
// allocation that could itself trigger a collection.
func (v *VM) pinVal(value uint64, typ *ast.Type) {
	if tag := tagFor(typ); tag != shadow.TagNone {
		v.roots.Pin(uint32(value), tag)
	}
}

// eval evaluates e in fr, pinning and unpinning as needed so that no
// pointer-shaped intermediate result is invisible to a collection
// triggered by a later part of the same expression.
func (v *VM) eval(e ir.IRExpr, fr *frame) (uint64, error) {
	switch x := e.(type) {
	case *ir.IRIntLit:
		return uint64(x.Value), nil
	case *ir.IRFloatLit:
		return math.Float64bits(x.Value), nil
	case *ir.IRBoolLit:
		if x.Value {
			return 1, nil
		}
		return 0, nil
	case *ir.IRStringLit:
		p := v.newString(x.Value)
		if p == 0 {
			return 0, &Trap{Reason: "variable heap exhausted allocating string literal"}
		}
		return uint64(p), nil

	case *ir.IRLocal:
		return fr.locals[x.Slot], nil

	case *ir.IRCaptureRead:
		capturesPtr := uint32(fr.locals[2])
		return v.fixed.ReadField(capturesPtr, x.Offset), nil

	case *ir.IRNew:
		return v.evalNew(x, fr)

	case *ir.IRListLit:
		return v.evalListLit(x, fr)

	case *ir.IRFieldRead:
		base, err := v.eval(x.X, fr)
		if err != nil {
			return 0, err
		}
		return v.fixed.ReadField(uint32(base), x.Offset), nil

	case *ir.IRIndexRead:
		return v.evalIndexRead(x, fr)

	case *ir.IRUnary:
		return v.evalUnary(x, fr)

	case *ir.IRBinary:
		return v.evalBinary(x, fr)

	case *ir.IRAssign:
		return v.evalAssign(x, fr)

	case *ir.IRCall:
		return v.evalCall(x, fr)

	case *ir.IRUnwrap:
		return v.evalUnwrap(x, fr)

	case *ir.IRBox:
		return v.evalBox(x, fr)

	case *ir.IRMatch:
		return v.evalMatch(x, fr)

	default:
		return 0, fmt.Errorf("vm: unhandled expression %T", e)
	}
}

func (v *VM) evalNew(x *ir.IRNew, fr *frame) (uint64, error) {
	mark := v.roots.PinMark()
	fields := make([]uint64, len(x.Fields))
	for i, fe := range x.Fields {
		val, err := v.eval(fe, fr)
		if err != nil {
			return 0, err
		}
		fields[i] = val
		v.pinVal(val, fe.IRType())
	}
	sd, ok := v.prog.StructByName(x.Typ.StructName)
	if !ok {
		return 0, fmt.Errorf("vm: unknown struct %q", x.Typ.StructName)
	}
	ptr := v.allocFixed(x.StructIndex)
	if ptr == 0 {
		return 0, &Trap{Reason: "fixed heap exhausted allocating " + x.Typ.StructName}
	}
	for i, f := range sd.Fields {
		v.fixed.WriteField(ptr, f.Off, fields[i])
	}
	v.roots.Unpin(mark)
	return uint64(ptr), nil
}

func (v *VM) evalListLit(x *ir.IRListLit, fr *frame) (uint64, error) {
	mark := v.roots.PinMark()
	vals := make([]uint64, len(x.Elems))
	for i, el := range x.Elems {
		val, err := v.eval(el, fr)
		if err != nil {
			return 0, err
		}
		vals[i] = val
		v.pinVal(val, el.IRType())
	}
	tag := dalloc.TagScalar
	if x.Typ != nil && x.Typ.Elem != nil {
		switch {
		case x.Typ.Elem.IsFixedHeapPointer():
			tag = dalloc.TagFixedPtr
		case x.Typ.Elem.IsVariableHeapPointer():
			tag = dalloc.TagVarPtr
		}
	}
	ptr := v.allocVariable(tag, uint32(len(vals)))
	if ptr == 0 {
		return 0, &Trap{Reason: "variable heap exhausted allocating list literal"}
	}
	for i, val := range vals {
		v.variable.WriteWord(ptr, uint32(i), val)
	}
	v.roots.Unpin(mark)
	return uint64(ptr), nil
}

func (v *VM) evalIndexRead(x *ir.IRIndexRead, fr *frame) (uint64, error) {
	mark := v.roots.PinMark()
	base, err := v.eval(x.X, fr)
	if err != nil {
		return 0, err
	}
	v.pinVal(base, x.X.IRType())
	idx, err := v.eval(x.Index, fr)
	if err != nil {
		return 0, err
	}
	v.roots.Unpin(mark)
	n := v.variable.Length(uint32(base))
	i := uint32(idx)
	if i >= n {
		return 0, &Trap{Reason: "list index out of range"}
	}
	return v.variable.ReadWord(uint32(base), i), nil
}

func (v *VM) evalUnary(x *ir.IRUnary, fr *frame) (uint64, error) {
	val, err := v.eval(x.X, fr)
	if err != nil {
		return 0, err
	}
	switch x.Op {
	case ir.IRNeg:
		if x.Typ != nil && x.Typ.Kind == ast.KindFloat {
			return math.Float64bits(-math.Float64frombits(val)), nil
		}
		return uint64(-int64(val)), nil
	case ir.IRNot:
		if val == 0 {
			return 1, nil
		}
		return 0, nil
	case ir.IRCount:
		xt := x.X.IRType()
		if xt != nil && xt.Kind == ast.KindString {
			return uint64(v.variable.Length(uint32(val))), nil
		}
		return uint64(v.variable.Length(uint32(val))), nil
	case ir.IRStringify:
		return v.stringify(val, x.X.IRType())
	default:
		return 0, fmt.Errorf("vm: unhandled unary op %v", x.Op)
	}
}

// stringify implements the `$` operator, allocating a fresh string
// block via runtime/dalloc's numeric-to-string helpers, or passing an
// already-string operand through unchanged.
func (v *VM) stringify(val uint64, typ *ast.Type) (uint64, error) {
	if typ == nil {
		return val, nil
	}
	var p uint32
	switch typ.Kind {
	case ast.KindInteger:
		p = v.variable.IntToString(int64(val))
	case ast.KindFloat:
		p = v.variable.FloatToString(math.Float64frombits(val))
	case ast.KindBoolean:
		p = v.variable.BoolToString(val != 0)
	case ast.KindString:
		return val, nil
	default:
		return val, nil
	}
	if p == 0 {
		return 0, &Trap{Reason: "variable heap exhausted stringifying value"}
	}
	return uint64(p), nil
}

func (v *VM) evalBinary(x *ir.IRBinary, fr *frame) (uint64, error) {
	mark := v.roots.PinMark()
	defer v.roots.Unpin(mark)

	left, err := v.eval(x.Left, fr)
	if err != nil {
		return 0, err
	}
	leftTyp := x.Left.IRType()
	v.pinVal(left, leftTyp)
	right, err := v.eval(x.Right, fr)
	if err != nil {
		return 0, err
	}

	// Numeric promotion: if either side is a float, the operation is
	// float-wide and an integer operand converts first.
	rightTyp := x.Right.IRType()
	isFloat := (leftTyp != nil && leftTyp.Kind == ast.KindFloat) ||
		(rightTyp != nil && rightTyp.Kind == ast.KindFloat)
	asFloat := func(v uint64, t *ast.Type) float64 {
		if t != nil && t.Kind == ast.KindFloat {
			return math.Float64frombits(v)
		}
		return float64(int64(v))
	}
	asBool := func(b bool) uint64 {
		if b {
			return 1
		}
		return 0
	}

	switch x.Op {
	case ir.IRConcat:
		return v.evalConcat(left, right, leftTyp)
	case ir.IRIn:
		return asBool(v.variable.Contains(left, uint32(right))), nil
	case ir.IREq:
		return asBool(v.valuesEqual(left, right, leftTyp)), nil
	case ir.IRNe:
		return asBool(!v.valuesEqual(left, right, leftTyp)), nil
	case ir.IRAnd:
		return asBool(left != 0 && right != 0), nil
	case ir.IROr:
		return asBool(left != 0 || right != 0), nil
	}

	if isFloat {
		lf, rf := asFloat(left, leftTyp), asFloat(right, rightTyp)
		switch x.Op {
		case ir.IRAdd:
			return math.Float64bits(lf + rf), nil
		case ir.IRSub:
			return math.Float64bits(lf - rf), nil
		case ir.IRMul:
			return math.Float64bits(lf * rf), nil
		case ir.IRDiv:
			return math.Float64bits(lf / rf), nil
		case ir.IRMod:
			return math.Float64bits(math.Mod(lf, rf)), nil
		case ir.IRPow:
			return math.Float64bits(math.Pow(lf, rf)), nil
		case ir.IRLt:
			return asBool(lf < rf), nil
		case ir.IRGt:
			return asBool(lf > rf), nil
		case ir.IRLe:
			return asBool(lf <= rf), nil
		case ir.IRGe:
			return asBool(lf >= rf), nil
		}
	}

	li, ri := int64(left), int64(right)
	switch x.Op {
	case ir.IRAdd:
		return uint64(li + ri), nil
	case ir.IRSub:
		return uint64(li - ri), nil
	case ir.IRMul:
		return uint64(li * ri), nil
	case ir.IRDiv:
		if ri == 0 {
			return 0, &Trap{Reason: "integer division by zero"}
		}
		return uint64(li / ri), nil
	case ir.IRMod:
		if ri == 0 {
			return 0, &Trap{Reason: "integer division by zero"}
		}
		return uint64(li % ri), nil
	case ir.IRPow:
		return uint64(int64(math.Pow(float64(li), float64(ri)))), nil
	case ir.IRLt:
		return asBool(li < ri), nil
	case ir.IRGt:
		return asBool(li > ri), nil
	case ir.IRLe:
		return asBool(li <= ri), nil
	case ir.IRGe:
		return asBool(li >= ri), nil
	case ir.IRBitAnd:
		return uint64(li & ri), nil
	case ir.IRBitOr:
		return uint64(li | ri), nil
	case ir.IRBitXor:
		return uint64(li ^ ri), nil
	case ir.IRShl:
		return uint64(li << uint64(ri)), nil
	case ir.IRShr:
		return uint64(li >> uint64(ri)), nil
	default:
		return 0, fmt.Errorf("vm: unhandled binary op %v", x.Op)
	}
}

// evalConcat implements `+` on strings and lists, both lowered to the
// same runtime/dalloc.Concat.
func (v *VM) evalConcat(left, right uint64, typ *ast.Type) (uint64, error) {
	p := v.variable.Concat(uint32(left), uint32(right))
	if p == 0 {
		shadow.GC(v.roots, v.fixed, v.variable)
		p = v.variable.Concat(uint32(left), uint32(right))
		if p == 0 {
			return 0, &Trap{Reason: "variable heap exhausted concatenating"}
		}
	}
	return uint64(p), nil
}

// valuesEqual implements `==`/`!=` for every plain shape: word equality
// for scalars, structural equality (length plus elementwise word
// equality) for strings and lists Equal, identity
// (same pointer) for structs, since the surface language never defines
// struct value equality.
func (v *VM) valuesEqual(left, right uint64, typ *ast.Type) bool {
	if typ != nil && typ.IsVariableHeapPointer() {
		return v.variable.Equal(uint32(left), uint32(right))
	}
	return left == right
}

func (v *VM) evalAssign(x *ir.IRAssign, fr *frame) (uint64, error) {
	mark := v.roots.PinMark()
	defer v.roots.Unpin(mark)

	switch target := x.Target.(type) {
	case *ir.IRLocal:
		val, err := v.eval(x.Value, fr)
		if err != nil {
			return 0, err
		}
		v.bindLocal(fr, target.Slot, val, x.Typ)
		return val, nil

	case *ir.IRCaptureRef:
		val, err := v.eval(x.Value, fr)
		if err != nil {
			return 0, err
		}
		capturesPtr := uint32(fr.locals[2])
		v.fixed.WriteField(capturesPtr, target.Offset, val)
		return val, nil

	case *ir.IRFieldRef:
		base, err := v.eval(target.X, fr)
		if err != nil {
			return 0, err
		}
		v.pinVal(base, target.X.IRType())
		val, err := v.eval(x.Value, fr)
		if err != nil {
			return 0, err
		}
		v.fixed.WriteField(uint32(base), target.Offset, val)
		return val, nil

	case *ir.IRIndexRef:
		base, err := v.eval(target.X, fr)
		if err != nil {
			return 0, err
		}
		v.pinVal(base, target.X.IRType())
		idx, err := v.eval(target.Index, fr)
		if err != nil {
			return 0, err
		}
		val, err := v.eval(x.Value, fr)
		if err != nil {
			return 0, err
		}
		n := v.variable.Length(uint32(base))
		i := uint32(idx)
		if i >= n {
			return 0, &Trap{Reason: "list index out of range"}
		}
		v.variable.WriteWord(uint32(base), i, val)
		return val, nil

	default:
		return 0, fmt.Errorf("vm: unhandled assignment target %T", x.Target)
	}
}

func (v *VM) evalCall(x *ir.IRCall, fr *frame) (uint64, error) {
	mark := v.roots.PinMark()
	var callee *ir.IRFunction
	var capturesPtr uint32
	if x.Callee == nil {
		fn, err := v.directFunction(x.TableIndex)
		if err != nil {
			return 0, err
		}
		callee = fn
	} else {
		packed, err := v.eval(x.Callee, fr)
		if err != nil {
			return 0, err
		}
		v.roots.Pin(uint32(packed), shadow.TagFixed)
		tableIndex := int(packed >> 32)
		capturesPtr = uint32(packed)
		fn, err := v.directFunction(tableIndex)
		if err != nil {
			return 0, err
		}
		callee = fn
	}

	args := make([]uint64, len(x.Args))
	for i, a := range x.Args {
		val, err := v.eval(a, fr)
		if err != nil {
			return 0, err
		}
		args[i] = val
		v.pinVal(val, a.IRType())
	}
	v.roots.Unpin(mark)
	return v.call(callee, capturesPtr, args)
}

// evalUnwrap implements `??`/`!!`: load the tagged record's tag word,
// trap if it names the failure case for Op, otherwise return the
// value word, its caller responsible for treating it at the unwrapped
// (plain) type from here on.
func (v *VM) evalUnwrap(x *ir.IRUnwrap, fr *frame) (uint64, error) {
	ptr, err := v.eval(x.X, fr)
	if err != nil {
		return 0, err
	}
	tag := v.fixed.ReadField(uint32(ptr), x.TagOffset)
	failTag := uint64(0)
	reason := "unwrap of a null value with ??"
	if x.Op == ir.IRUnwrapErrorable {
		failTag = 1
		reason = "unwrap of an error value with !!"
	}
	if tag == failTag {
		return 0, &Trap{Reason: reason}
	}
	return v.fixed.ReadField(uint32(ptr), x.ValueOffset), nil
}

// evalBox implements Box: allocate the tagged record the wrap pass
// already resolved a variant for, and store (Tag, value).
func (v *VM) evalBox(x *ir.IRBox, fr *frame) (uint64, error) {
	mark := v.roots.PinMark()
	var val uint64
	if x.Value != nil {
		var err error
		val, err = v.eval(x.Value, fr)
		if err != nil {
			return 0, err
		}
		v.pinVal(val, x.Value.IRType())
	}
	ptr := v.allocFixed(x.StructIndex)
	if ptr == 0 {
		return 0, &Trap{Reason: "fixed heap exhausted boxing a nullable/errorable value"}
	}
	v.fixed.WriteField(ptr, x.TagOffset, uint64(x.Tag))
	v.fixed.WriteField(ptr, x.ValueOffset, val)
	v.roots.Unpin(mark)
	return uint64(ptr), nil
}

// evalMatch walks the arm chain in source order: a
// KindNull/KindError arm tests Subject's tag word, a KindType arm
// tests the unboxed value's own block header type_id against
// StructIndex's registered id, and KindCatchAll always matches.
func (v *VM) evalMatch(x *ir.IRMatch, fr *frame) (uint64, error) {
	subject, err := v.eval(x.Subject, fr)
	if err != nil {
		return 0, err
	}
	handle := v.roots.Pin(uint32(subject), shadow.TagFixed)
	defer v.roots.Unpin(handle)

	for _, arm := range x.Arms {
		matched, bindVal, bindTag := v.matchArm(arm, uint32(subject))
		if !matched {
			continue
		}
		if arm.BindSlot != 0 {
			v.bindLocalTagged(fr, arm.BindSlot, bindVal, bindTag)
		}
		return v.eval(arm.Body, fr)
	}
	return 0, &Trap{Reason: "match fell through with no matching arm"}
}

// matchArm tests one arm and, on a match, reports the bound value and
// (when known) its shadow root tag. A KindType arm's bound value is
// always a struct pointer, so it roots as TagFixed; a KindNull/
// KindError arm's inner value can be any plain shape and IRMatchArm
// does not carry that shape, so it is left unrooted — a known gap.
func (v *VM) matchArm(arm ir.IRMatchArm, subject uint32) (matched bool, bindVal uint64, bindTag shadow.Tag) {
	switch arm.Kind {
	case ir.IRMatchNull:
		tag := v.fixed.ReadField(subject, arm.TagOffset)
		return tag == 0, v.fixed.ReadField(subject, arm.ValueOffset), shadow.TagNone
	case ir.IRMatchError:
		tag := v.fixed.ReadField(subject, arm.TagOffset)
		return tag == 1, v.fixed.ReadField(subject, arm.ValueOffset), shadow.TagNone
	case ir.IRMatchType:
		value := uint32(v.fixed.ReadField(subject, arm.ValueOffset))
		wantTypeID, ok := v.typeOf[arm.StructIndex]
		if !ok || value == 0 {
			return false, 0, shadow.TagNone
		}
		return v.fixed.TypeID(value) == wantTypeID, uint64(value), shadow.TagFixed
	case ir.IRMatchCatchAll:
		return true, 0, shadow.TagNone
	default:
		return false, 0, shadow.TagNone
	}
}

// formatValue renders a value for print print
// semantics: numbers and booleans print their literal form, strings
// print their decoded contents.
func (v *VM) formatValue(val uint64, typ *ast.Type) string {
	if typ == nil {
		return fmt.Sprintf("%d", int64(val))
	}
	switch typ.Kind {
	case ast.KindFloat:
		return fmt.Sprintf("%v", math.Float64frombits(val))
	case ast.KindBoolean:
		if val != 0 {
			return "true"
		}
		return "false"
	case ast.KindString:
		return v.variable.ReadString(uint32(val))
	default:
		return fmt.Sprintf("%d", int64(val))
	}
}
