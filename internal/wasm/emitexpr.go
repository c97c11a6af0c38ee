package wasm

import (
	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/ir"
)

// mayAllocate reports whether evaluating e can reach an allocation
// point (and therefore a collection). Used to decide when an
// already-evaluated pointer intermediate needs a pin slot before its
// sibling runs; over-approximating is safe, missing a case is not, so
// calls count unconditionally.
func mayAllocate(e ir.IRExpr) bool {
	switch x := e.(type) {
	case *ir.IRIntLit, *ir.IRFloatLit, *ir.IRBoolLit, *ir.IRLocal, *ir.IRCaptureRead, *ir.IRCaptureRef:
		return false
	case *ir.IRStringLit, *ir.IRNew, *ir.IRListLit, *ir.IRBox, *ir.IRCall:
		return true
	case *ir.IRUnary:
		if x.Op == ir.IRStringify {
			return true
		}
		return mayAllocate(x.X)
	case *ir.IRBinary:
		if x.Op == ir.IRConcat {
			return true
		}
		return mayAllocate(x.Left) || mayAllocate(x.Right)
	case *ir.IRFieldRead:
		return mayAllocate(x.X)
	case *ir.IRFieldRef:
		return mayAllocate(x.X)
	case *ir.IRIndexRead:
		return mayAllocate(x.X) || mayAllocate(x.Index)
	case *ir.IRIndexRef:
		return mayAllocate(x.X) || mayAllocate(x.Index)
	case *ir.IRUnwrap:
		return mayAllocate(x.X)
	case *ir.IRAssign:
		return mayAllocate(x.Target) || mayAllocate(x.Value)
	case *ir.IRMatch:
		if mayAllocate(x.Subject) {
			return true
		}
		for _, arm := range x.Arms {
			if mayAllocate(arm.Body) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// expr emits code leaving e's working-type value on the stack.
func (c *funcCompiler) expr(e ir.IRExpr) error {
	switch x := e.(type) {
	case *ir.IRIntLit:
		c.i64Const(x.Value)
		return nil

	case *ir.IRFloatLit:
		c.f64Const(x.Value)
		return nil

	case *ir.IRBoolLit:
		if x.Value {
			c.i32Const(1)
		} else {
			c.i32Const(0)
		}
		return nil

	case *ir.IRStringLit:
		c.stringLit(x.Value)
		return nil

	case *ir.IRLocal:
		c.localGet(x.Slot)
		c.accessCast(x.Typ)
		return nil

	case *ir.IRCaptureRead:
		c.localGet(2)
		c.loadI64(memFixed, x.Offset)
		c.accessCast(x.Typ)
		return nil

	case *ir.IRNew:
		return c.newRecord(x)

	case *ir.IRListLit:
		return c.listLit(x)

	case *ir.IRFieldRead:
		if err := c.expr(x.X); err != nil {
			return err
		}
		c.loadI64(memFixed, x.Offset)
		c.accessCast(x.Typ)
		return nil

	case *ir.IRIndexRead:
		return c.indexRead(x)

	case *ir.IRUnary:
		return c.unary(x)

	case *ir.IRBinary:
		return c.binary(x)

	case *ir.IRAssign:
		return c.assign(x)

	case *ir.IRCall:
		return c.call(x)

	case *ir.IRUnwrap:
		return c.unwrap(x)

	case *ir.IRBox:
		return c.box(x)

	case *ir.IRMatch:
		return c.match(x)

	default:
		return codegenErrf("unhandled expression %T", e)
	}
}

// stringLit allocates a variable-heap block and writes one character
// per 8-byte slot. The character stores
// cannot allocate, so the fresh block needs no root before its value
// is consumed.
func (c *funcCompiler) stringLit(s string) {
	tb := c.newTemp(valI32)
	c.allocVariableRetry(dtagScalar, len(s))
	c.localSet(tb)
	for i := 0; i < len(s); i++ {
		c.localGet(tb)
		c.i64Const(int64(s[i]))
		c.storeI64(memVariable, int64(i)*8)
	}
	c.localGet(tb)
}

// newRecord allocates the struct, zeroes it, pins it, then evaluates
// and stores each field in layout order. Storing before the next
// field's evaluation keeps every already-computed field reachable
// through the pinned record if that evaluation collects.
func (c *funcCompiler) newRecord(x *ir.IRNew) error {
	sd := c.m.prog.Structs[x.StructIndex]
	tb := c.newTemp(valI32)
	c.allocFixedRetry(x.StructIndex)
	c.localSet(tb)
	c.zeroFixedFields(tb, x.StructIndex)
	c.pinLocal(tb, valI32, 1)
	for i, fe := range x.Fields {
		c.localGet(tb)
		if err := c.expr(fe); err != nil {
			return err
		}
		c.storageCast(fe.IRType())
		c.storeI64(memFixed, sd.Fields[i].Off)
	}
	c.unpin(1)
	c.localGet(tb)
	return nil
}

func elemTag(t *ast.Type) int {
	if t == nil || t.Elem == nil {
		return dtagScalar
	}
	switch {
	case t.Elem.IsFixedHeapPointer():
		return dtagFixedPtr
	case t.Elem.IsVariableHeapPointer():
		return dtagVarPtr
	default:
		return dtagScalar
	}
}

func (c *funcCompiler) listLit(x *ir.IRListLit) error {
	tb := c.newTemp(valI32)
	c.allocVariableRetry(elemTag(x.Typ), len(x.Elems))
	c.localSet(tb)
	// Zero the payload before anything can collect: the block is
	// recycled memory, and a pointer-element list gets walked to its
	// full length the moment it is rooted.
	for i := range x.Elems {
		c.localGet(tb)
		c.i64Const(0)
		c.storeI64(memVariable, int64(i)*8)
	}
	c.pinLocal(tb, valI32, 2)
	for i, el := range x.Elems {
		c.localGet(tb)
		if err := c.expr(el); err != nil {
			return err
		}
		c.storageCast(el.IRType())
		c.storeI64(memVariable, int64(i)*8)
	}
	c.unpin(1)
	c.localGet(tb)
	return nil
}

// indexRead bounds-checks against the block's length word (four bytes
// before the user pointer) and loads payload slot 8*i.
func (c *funcCompiler) indexRead(x *ir.IRIndexRead) error {
	tb := c.newTemp(valI32)
	ti := c.newTemp(valI64)
	if err := c.expr(x.X); err != nil {
		return err
	}
	c.localSet(tb)
	pins := 0
	if mayAllocate(x.Index) {
		c.pinLocal(tb, valI32, 2)
		pins++
	}
	if err := c.expr(x.Index); err != nil {
		return err
	}
	c.localSet(ti)
	c.unpin(pins)

	c.boundsCheck(tb, ti)
	c.elemAddr(tb, ti)
	c.loadI64(memVariable, 0)
	c.accessCast(x.Typ)
	return nil
}

// boundsCheck traps when index >= length, read as an unsigned compare
// so a negative index traps too.
func (c *funcCompiler) boundsCheck(tb, ti int) {
	c.localGet(ti)
	c.localGet(tb)
	c.i32Const(4)
	c.op(opI32Sub)
	c.loadI32(memVariable, 0)
	c.op(opI64ExtendI32U)
	c.op(opI64GeU)
	c.op(opIf)
	c.op(blockVoid)
	c.controlDepth++
	c.op(opUnreachable)
	c.controlDepth--
	c.op(opEnd)
}

// elemAddr leaves user_ptr + 8*index on the stack.
func (c *funcCompiler) elemAddr(tb, ti int) {
	c.localGet(tb)
	c.localGet(ti)
	c.op(opI32WrapI64)
	c.i32Const(8)
	c.op(opI32Mul)
	c.op(opI32Add)
}

func (c *funcCompiler) unary(x *ir.IRUnary) error {
	switch x.Op {
	case ir.IRNeg:
		if x.Typ != nil && x.Typ.Kind == ast.KindFloat {
			if err := c.expr(x.X); err != nil {
				return err
			}
			c.op(opF64Neg)
			return nil
		}
		tmp := c.newTemp(valI64)
		if err := c.expr(x.X); err != nil {
			return err
		}
		c.localSet(tmp)
		c.i64Const(0)
		c.localGet(tmp)
		c.op(opI64Sub)
		return nil

	case ir.IRNot:
		if err := c.expr(x.X); err != nil {
			return err
		}
		c.op(opI32Eqz)
		return nil

	case ir.IRCount:
		if err := c.expr(x.X); err != nil {
			return err
		}
		c.i32Const(4)
		c.op(opI32Sub)
		c.loadI32(memVariable, 0)
		c.op(opI64ExtendI32U)
		return nil

	case ir.IRStringify:
		return c.stringify(x)

	default:
		return codegenErrf("unhandled unary op %v", x.Op)
	}
}

// stringify compiles `$` through the dalloc numeric-to-string helpers;
// a string operand passes through unchanged.
func (c *funcCompiler) stringify(x *ir.IRUnary) error {
	t := x.X.IRType()
	kind := ast.KindInteger
	if t != nil {
		kind = t.Kind
	}
	if err := c.expr(x.X); err != nil {
		return err
	}
	switch kind {
	case ast.KindString:
		return nil
	case ast.KindFloat:
		tmp := c.newTemp(valF64)
		c.localSet(tmp)
		c.numToString(impDallocFtoa, tmp)
	case ast.KindBoolean:
		tmp := c.newTemp(valI32)
		c.localSet(tmp)
		c.numToString(impDallocBtoa, tmp)
	default:
		c.storageCast(t)
		tmp := c.newTemp(valI64)
		c.localSet(tmp)
		c.numToString(impDallocItoa, tmp)
	}
	return nil
}

// binOperands evaluates both operands into fresh temps, pinning the
// left one across the right's evaluation when the left is
// pointer-shaped and the right can collect.
func (c *funcCompiler) binOperands(x *ir.IRBinary) (tl, tr int, err error) {
	lt := x.Left.IRType()
	tl = c.newTemp(wt(lt))
	tr = c.newTemp(wt(x.Right.IRType()))
	if err := c.expr(x.Left); err != nil {
		return 0, 0, err
	}
	c.localSet(tl)
	pins := 0
	if tag := rootTag(lt); tag != 0 && mayAllocate(x.Right) {
		c.pinLocal(tl, wt(lt), tag)
		pins++
	}
	if err := c.expr(x.Right); err != nil {
		return 0, 0, err
	}
	c.localSet(tr)
	c.unpin(pins)
	return tl, tr, nil
}

// getNumeric reloads a temp for float-wide arithmetic, converting an
// integer operand on the way (numeric promotion: either side float
// makes the whole operation float).
func (c *funcCompiler) getNumeric(tmp int, t *ast.Type, wantFloat bool) {
	c.localGet(tmp)
	if wantFloat && wt(t) == valI64 {
		c.op(opF64ConvertI64S)
	}
}

func (c *funcCompiler) binary(x *ir.IRBinary) error {
	tl, tr, err := c.binOperands(x)
	if err != nil {
		return err
	}
	lt := x.Left.IRType()
	rt := x.Right.IRType()
	isFloat := (lt != nil && lt.Kind == ast.KindFloat) ||
		(rt != nil && rt.Kind == ast.KindFloat)

	switch x.Op {
	case ir.IRConcat:
		c.concat(tl, tr)
		return nil

	case ir.IRIn:
		c.localGet(tl)
		c.storageCast(lt)
		c.localGet(tr)
		c.callImport(impDallocIn)
		return nil

	case ir.IREq, ir.IRNe:
		c.equality(x.Op, tl, tr, lt)
		return nil

	case ir.IRAnd:
		c.localGet(tl)
		c.localGet(tr)
		c.op(opI32And)
		return nil

	case ir.IROr:
		c.localGet(tl)
		c.localGet(tr)
		c.op(opI32Or)
		return nil

	case ir.IRPow:
		c.pow(tl, tr, lt, rt, isFloat)
		return nil
	}

	if isFloat {
		if x.Op == ir.IRMod {
			// l - trunc(l/r)*r, the truncated remainder f64 lacks an
			// opcode for.
			c.getNumeric(tl, lt, true)
			c.getNumeric(tl, lt, true)
			c.getNumeric(tr, rt, true)
			c.op(opF64Div)
			c.op(opI64TruncF64S)
			c.op(opF64ConvertI64S)
			c.getNumeric(tr, rt, true)
			c.op(opF64Mul)
			c.op(opF64Sub)
			return nil
		}
		fop := map[ir.IRBinaryOp]byte{
			ir.IRAdd: opF64Add, ir.IRSub: opF64Sub, ir.IRMul: opF64Mul, ir.IRDiv: opF64Div,
			ir.IRLt: opF64Lt, ir.IRGt: opF64Gt, ir.IRLe: opF64Le, ir.IRGe: opF64Ge,
		}
		op, ok := fop[x.Op]
		if !ok {
			return codegenErrf("unhandled float binary op %v", x.Op)
		}
		c.getNumeric(tl, lt, true)
		c.getNumeric(tr, rt, true)
		c.op(op)
		return nil
	}

	iop := map[ir.IRBinaryOp]byte{
		ir.IRAdd: opI64Add, ir.IRSub: opI64Sub, ir.IRMul: opI64Mul,
		ir.IRDiv: opI64DivS, ir.IRMod: opI64RemS,
		ir.IRLt: opI64LtS, ir.IRGt: opI64GtS, ir.IRLe: opI64LeS, ir.IRGe: opI64GeS,
		ir.IRBitAnd: opI64And, ir.IRBitOr: opI64Or, ir.IRBitXor: opI64Xor,
		ir.IRShl: opI64Shl, ir.IRShr: opI64ShrS,
	}
	op, ok := iop[x.Op]
	if !ok {
		return codegenErrf("unhandled integer binary op %v", x.Op)
	}
	c.localGet(tl)
	c.localGet(tr)
	c.op(op)
	return nil
}

// concat runs dalloc.concat under the full park/retry sequence: both
// operands become scratchpad roots before the call so the gc on the
// retry path sees them.
func (c *funcCompiler) concat(tl, tr int) {
	c.park(0, tl, valI32, 2)
	c.park(1, tr, valI32, 2)
	c.localGet(tl)
	c.localGet(tr)
	c.callImport(impDallocConcat)
	c.localTee(0)
	c.op(opI32Eqz)
	c.op(opIf)
	c.op(blockVoid)
	c.controlDepth++
	c.callImport(impShadowGC)
	c.localGet(tl)
	c.localGet(tr)
	c.callImport(impDallocConcat)
	c.localSet(0)
	c.controlDepth--
	c.op(opEnd)
	c.clearPark(0)
	c.clearPark(1)
	c.localGet(0)
}

func (c *funcCompiler) equality(op ir.IRBinaryOp, tl, tr int, lt *ast.Type) {
	if lt != nil && lt.IsVariableHeapPointer() {
		c.localGet(tl)
		c.localGet(tr)
		c.callImport(impDallocEq)
		if op == ir.IRNe {
			c.op(opI32Eqz)
		}
		return
	}
	c.localGet(tl)
	c.localGet(tr)
	switch wt(lt) {
	case valF64:
		if op == ir.IREq {
			c.op(opF64Eq)
		} else {
			c.op(opF64Ne)
		}
	case valI32:
		if op == ir.IREq {
			c.op(opI32Eq)
		} else {
			c.op(opI32Ne)
		}
	default:
		if op == ir.IREq {
			c.op(opI64Eq)
		} else {
			c.op(opI64Ne)
		}
	}
}

// pow lowers `**` to a multiply loop over the (truncated, for floats)
// exponent. No wasm opcode computes powers; fractional float exponents
// are outside what this emits.
func (c *funcCompiler) pow(tl, tr int, lt, rt *ast.Type, isFloat bool) {
	te := c.newTemp(valI64)
	c.localGet(tr)
	if wt(rt) == valF64 {
		c.op(opI64TruncF64S)
	}
	c.localSet(te)
	if isFloat {
		tres := c.newTemp(valF64)
		c.f64Const(1)
		c.localSet(tres)
		c.powLoop(te, func() {
			c.localGet(tres)
			c.getNumeric(tl, lt, true)
			c.op(opF64Mul)
			c.localSet(tres)
		})
		c.localGet(tres)
		return
	}
	tres := c.newTemp(valI64)
	c.i64Const(1)
	c.localSet(tres)
	c.powLoop(te, func() {
		c.localGet(tres)
		c.localGet(tl)
		c.op(opI64Mul)
		c.localSet(tres)
	})
	c.localGet(tres)
}

func (c *funcCompiler) powLoop(te int, step func()) {
	c.op(opBlock)
	c.op(blockVoid)
	blockLevel := c.controlDepth
	c.controlDepth++
	c.op(opLoop)
	c.op(blockVoid)
	loopLevel := c.controlDepth
	c.controlDepth++

	c.localGet(te)
	c.i64Const(0)
	c.op(opI64LeS)
	c.op(opBrIf)
	c.lebU(uint64(c.controlDepth - 1 - blockLevel))

	step()

	c.localGet(te)
	c.i64Const(1)
	c.op(opI64Sub)
	c.localSet(te)
	c.op(opBr)
	c.lebU(uint64(c.controlDepth - 1 - loopLevel))
	c.controlDepth--
	c.op(opEnd)
	c.controlDepth--
	c.op(opEnd)
}

func (c *funcCompiler) assign(x *ir.IRAssign) error {
	switch target := x.Target.(type) {
	case *ir.IRLocal:
		if err := c.expr(x.Value); err != nil {
			return err
		}
		c.storageCast(x.Value.IRType())
		c.localSet(target.Slot)
		if tag := rootTag(x.Value.IRType()); tag != 0 {
			c.setRootFromSlot(target.Slot, tag)
		}
		c.localGet(target.Slot)
		c.accessCast(x.Typ)
		return nil

	case *ir.IRCaptureRef:
		c.localGet(2)
		if err := c.expr(x.Value); err != nil {
			return err
		}
		c.storageCast(x.Value.IRType())
		c.storeI64(memFixed, target.Offset)
		c.localGet(2)
		c.loadI64(memFixed, target.Offset)
		c.accessCast(x.Typ)
		return nil

	case *ir.IRFieldRef:
		tb := c.newTemp(valI32)
		if err := c.expr(target.X); err != nil {
			return err
		}
		c.localSet(tb)
		pins := 0
		if mayAllocate(x.Value) {
			c.pinLocal(tb, valI32, 1)
			pins++
		}
		c.localGet(tb)
		if err := c.expr(x.Value); err != nil {
			return err
		}
		c.storageCast(x.Value.IRType())
		c.storeI64(memFixed, target.Offset)
		c.unpin(pins)
		c.localGet(tb)
		c.loadI64(memFixed, target.Offset)
		c.accessCast(x.Typ)
		return nil

	case *ir.IRIndexRef:
		tb := c.newTemp(valI32)
		ti := c.newTemp(valI64)
		if err := c.expr(target.X); err != nil {
			return err
		}
		c.localSet(tb)
		pins := 0
		if mayAllocate(target.Index) || mayAllocate(x.Value) {
			c.pinLocal(tb, valI32, 2)
			pins++
		}
		if err := c.expr(target.Index); err != nil {
			return err
		}
		c.localSet(ti)
		c.boundsCheck(tb, ti)
		c.elemAddr(tb, ti)
		if err := c.expr(x.Value); err != nil {
			return err
		}
		c.storageCast(x.Value.IRType())
		c.storeI64(memVariable, 0)
		c.unpin(pins)
		c.elemAddr(tb, ti)
		c.loadI64(memVariable, 0)
		c.accessCast(x.Typ)
		return nil

	default:
		return codegenErrf("unhandled assignment target %T", x.Target)
	}
}

// call compiles both call forms. Arguments are evaluated into temps
// left to right, each pointer-shaped one pinned until after the call
// returns (the callee's own prologue roots its copies, but the pin
// covers the window while later arguments evaluate). An indirect call
// unpacks the function value: low 32 bits the capture
// pointer, high 32 the table index, call_indirect against the arity's
// shared signature.
func (c *funcCompiler) call(x *ir.IRCall) error {
	pins := 0
	tc := -1
	if x.Callee != nil {
		tc = c.newTemp(valI64)
		if err := c.expr(x.Callee); err != nil {
			return err
		}
		c.localSet(tc)
		c.pinLocal(tc, valI64, 1)
		pins++
	}

	argTemps := make([]int, len(x.Args))
	for i, a := range x.Args {
		tmp := c.newTemp(valI64)
		if err := c.expr(a); err != nil {
			return err
		}
		c.storageCast(a.IRType())
		c.localSet(tmp)
		argTemps[i] = tmp
		if tag := rootTag(a.IRType()); tag != 0 {
			c.pinLocal(tmp, valI64, tag)
			pins++
		}
	}

	c.i32Const(0)
	c.i64Const(0)
	if x.Callee != nil {
		c.localGet(tc)
		c.op(opI32WrapI64)
	} else {
		c.i32Const(0)
	}
	for _, tmp := range argTemps {
		c.localGet(tmp)
	}

	if x.Callee != nil {
		c.localGet(tc)
		c.i64Const(32)
		c.op(opI64ShrU)
		c.op(opI32WrapI64)
		params, results := userSig(len(x.Args))
		c.op(opCallIndirect)
		c.lebU(uint64(c.m.typeIndex(params, results)))
		c.op(0x00) // table 0
	} else {
		pos, err := c.m.posOfTable(x.TableIndex)
		if err != nil {
			return err
		}
		c.op(opCall)
		c.lebU(uint64(c.m.wasmIndex(pos)))
	}

	c.unpin(pins)
	c.accessCast(x.Typ)
	return nil
}

// unwrap loads the tagged record's tag word, traps when it matches the
// failure tag (0 for ??, 1 for !!), and yields the value word at the
// unwrapped type.
func (c *funcCompiler) unwrap(x *ir.IRUnwrap) error {
	tb := c.newTemp(valI32)
	if err := c.expr(x.X); err != nil {
		return err
	}
	c.localSet(tb)
	failTag := int64(0)
	if x.Op == ir.IRUnwrapErrorable {
		failTag = 1
	}
	c.localGet(tb)
	c.loadI64(memFixed, x.TagOffset)
	c.i64Const(failTag)
	c.op(opI64Eq)
	c.op(opIf)
	c.op(blockVoid)
	c.controlDepth++
	c.op(opUnreachable)
	c.controlDepth--
	c.op(opEnd)
	c.localGet(tb)
	c.loadI64(memFixed, x.ValueOffset)
	c.accessCast(x.Typ)
	return nil
}

// box evaluates the payload first (parked as a scratchpad root if
// pointer-shaped, since the record allocation can collect), then
// allocates the tagged record and stores (tag, value). The stores
// cannot collect, so the fresh record itself needs no root before it
// is consumed.
func (c *funcCompiler) box(x *ir.IRBox) error {
	tv := c.newTemp(valI64)
	if x.Value != nil {
		if err := c.expr(x.Value); err != nil {
			return err
		}
		c.storageCast(x.Value.IRType())
	} else {
		c.i64Const(0)
	}
	c.localSet(tv)
	parked := false
	if x.Value != nil {
		if tag := rootTag(x.Value.IRType()); tag != 0 {
			c.park(0, tv, valI64, tag)
			parked = true
		}
	}
	tb := c.newTemp(valI32)
	c.allocFixedRetry(x.StructIndex)
	c.localSet(tb)
	c.localGet(tb)
	c.i64Const(int64(x.Tag))
	c.storeI64(memFixed, x.TagOffset)
	c.localGet(tb)
	c.localGet(tv)
	c.storeI64(memFixed, x.ValueOffset)
	if parked {
		c.clearPark(0)
	}
	c.localGet(tb)
	return nil
}

// match emits the arm chain as nested ifs: the subject (a
// tagged-record pointer) is pinned, each arm's test selects an If arm
// carrying the match's result type, and a fallthrough past every arm
// is unreachable.
func (c *funcCompiler) match(x *ir.IRMatch) error {
	ts := c.newTemp(valI32)
	if err := c.expr(x.Subject); err != nil {
		return err
	}
	c.localSet(ts)
	c.pinLocal(ts, valI32, 1)

	if err := c.matchArms(x, 0, ts); err != nil {
		return err
	}
	c.unpin(1)
	return nil
}

func (c *funcCompiler) matchArms(x *ir.IRMatch, i int, ts int) error {
	resultVT := wt(x.Typ)
	if i >= len(x.Arms) {
		c.op(opUnreachable)
		return nil
	}
	arm := x.Arms[i]
	if arm.Kind == ir.IRMatchCatchAll {
		return c.matchBody(arm, ts, -1)
	}

	tv := -1
	switch arm.Kind {
	case ir.IRMatchNull:
		c.localGet(ts)
		c.loadI64(memFixed, arm.TagOffset)
		c.op(opI64Eqz)
	case ir.IRMatchError:
		c.localGet(ts)
		c.loadI64(memFixed, arm.TagOffset)
		c.i64Const(1)
		c.op(opI64Eq)
	case ir.IRMatchType:
		tv = c.newTemp(valI32)
		c.localGet(ts)
		c.loadI64(memFixed, arm.ValueOffset)
		c.op(opI32WrapI64)
		c.localTee(tv)
		c.op(opI32Eqz)
		c.op(opIf)
		c.op(valI32)
		c.controlDepth++
		c.i32Const(0)
		c.op(opElse)
		// Block header type_id lives 8 bytes before the user pointer.
		c.localGet(tv)
		c.i32Const(8)
		c.op(opI32Sub)
		c.loadI32(memFixed, 0)
		c.i32Const(int64(arm.StructIndex))
		c.op(opI32Eq)
		c.controlDepth--
		c.op(opEnd)
	}

	c.op(opIf)
	c.op(resultVT)
	c.controlDepth++
	if err := c.matchBody(arm, ts, tv); err != nil {
		return err
	}
	c.op(opElse)
	if err := c.matchArms(x, i+1, ts); err != nil {
		return err
	}
	c.controlDepth--
	c.op(opEnd)
	return nil
}

// matchBody binds the arm's name (when it has a slot) and emits the
// arm's result expression.
func (c *funcCompiler) matchBody(arm ir.IRMatchArm, ts int, tv int) error {
	if arm.BindSlot != 0 {
		switch arm.Kind {
		case ir.IRMatchNull, ir.IRMatchError:
			c.localGet(ts)
			c.loadI64(memFixed, arm.ValueOffset)
			c.localSet(arm.BindSlot)
		case ir.IRMatchType:
			c.localGet(tv)
			c.op(opI64ExtendI32U)
			c.localSet(arm.BindSlot)
			c.setRootFromSlot(arm.BindSlot, 1)
		default:
			c.i64Const(0)
			c.localSet(arm.BindSlot)
		}
	}
	return c.expr(arm.Body)
}
