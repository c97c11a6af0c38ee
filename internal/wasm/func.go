package wasm

import (
	"fmt"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/compileerr"
	"github.com/kavishsathia/starc/internal/ir"
)

// funcCompiler turns one IRFunction's body into an encoded code-section
// entry. WebAssembly local indices coincide with internal/locals' frame
// slot numbering: params 0/1/2 are the i32 scratch, i64 scratch, and
// i32 captures pointer of the calling convention, user params sit at
// their slot index, and declared frame locals (all i64, the uniform
// storage width) continue upward. Emitter temporaries are
// appended after the frame locals, one declaration entry each.
type funcCompiler struct {
	m      *moduler
	fn     *ir.IRFunction
	isMain bool

	code []byte

	nUserParams  int
	nFrameLocals int
	totalSlots   int

	temps []byte // value type per temp; temp i lives at local totalSlots+i

	// pinDepth/maxPin manage the per-frame GC temp slots appended to
	// the shadow frame after the locals: a pointer-shaped intermediate
	// held only in a wasm local while a later subexpression may
	// allocate is written into shadow slot pinBase()+depth first, so
	// the root set stays complete at every allocation point. The
	// 16-byte scratchpad alone only covers the bounded operand pair of
	// a single allocate-or-collect sequence; expression trees nest.
	pinDepth int
	maxPin   int

	// controlDepth counts open Block/Loop/If structures; loops records,
	// per enclosing loop, the controlDepth at which its break and
	// continue targets were opened, so Br depths come out right however
	// many Ifs sit between a break and its loop.
	controlDepth int
	loops        []loopCtx
}

type loopCtx struct {
	breakLevel int
	contLevel  int
}

func codegenErrf(format string, args ...interface{}) error {
	return &compileerr.Codegen{Message: fmt.Sprintf(format, args...)}
}

// ---- raw emission ----

func (c *funcCompiler) raw(b []byte)  { c.code = append(c.code, b...) }
func (c *funcCompiler) op(b byte)     { c.code = append(c.code, b) }
func (c *funcCompiler) lebU(v uint64) { c.code = append(c.code, encodeLEB128U(v)...) }

func (c *funcCompiler) i32Const(v int64) {
	c.op(opI32Const)
	c.raw(encodeLEB128S(v))
}

func (c *funcCompiler) i64Const(v int64) {
	c.op(opI64Const)
	c.raw(encodeLEB128S(v))
}

func (c *funcCompiler) f64Const(v float64) {
	c.op(opF64Const)
	c.raw(encodeF64(v))
}

func (c *funcCompiler) localGet(idx int)  { c.op(opLocalGet); c.lebU(uint64(idx)) }
func (c *funcCompiler) localSet(idx int)  { c.op(opLocalSet); c.lebU(uint64(idx)) }
func (c *funcCompiler) localTee(idx int)  { c.op(opLocalTee); c.lebU(uint64(idx)) }
func (c *funcCompiler) callImport(idx int) { c.op(opCall); c.lebU(uint64(idx)) }

func (c *funcCompiler) loadI32(mem uint32, off int64) {
	c.op(opI32Load)
	c.raw(memarg(2, uint32(off), mem))
}

func (c *funcCompiler) loadI64(mem uint32, off int64) {
	c.op(opI64Load)
	c.raw(memarg(3, uint32(off), mem))
}

func (c *funcCompiler) storeI32(mem uint32, off int64) {
	c.op(opI32Store)
	c.raw(memarg(2, uint32(off), mem))
}

func (c *funcCompiler) storeI64(mem uint32, off int64) {
	c.op(opI64Store)
	c.raw(memarg(3, uint32(off), mem))
}

// ---- temps, casts, root tags ----

func (c *funcCompiler) newTemp(vt byte) int {
	idx := c.totalSlots + len(c.temps)
	c.temps = append(c.temps, vt)
	return idx
}

// wt is an expression's working value type on the wasm stack, before
// any storage cast widens it to the uniform 8-byte slot width.
func wt(t *ast.Type) byte {
	if t == nil {
		return valI64
	}
	if t.Tagged() {
		return valI32 // pointer to the tagged record
	}
	switch t.Kind {
	case ast.KindFloat:
		return valF64
	case ast.KindBoolean, ast.KindString, ast.KindList, ast.KindStruct, ast.KindNull:
		return valI32
	default: // Integer, Function (packed pair), Unknown
		return valI64
	}
}

// storageCast widens the working value on the stack to i64 for an
// 8-byte slot store.
func (c *funcCompiler) storageCast(t *ast.Type) {
	switch wt(t) {
	case valI32:
		c.op(opI64ExtendI32U)
	case valF64:
		c.op(opI64ReinterpretF64)
	}
}

// accessCast narrows an i64 slot load back to the working type.
func (c *funcCompiler) accessCast(t *ast.Type) {
	switch wt(t) {
	case valI32:
		c.op(opI32WrapI64)
	case valF64:
		c.op(opF64ReinterpretI64)
	}
}

// rootTag is the shadow slot tag a value of this type roots under: 1
// for fixed-heap pointers (structs, tagged records, closures' capture
// pointers), 2 for variable-heap pointers (lists, strings), 0 for
// scalars.
func rootTag(t *ast.Type) int {
	if t == nil {
		return 0
	}
	if t.IsFixedHeapPointer() {
		return 1
	}
	if t.IsVariableHeapPointer() {
		return 2
	}
	return 0
}

func shadowSlot(slot int) int { return slot - 2 }

func (c *funcCompiler) pinBase() int { return 1 + c.nUserParams + c.nFrameLocals }

// pinLocal roots the pointer held in a wasm local on the next free pin
// slot of the shadow frame. vt names the local's wasm type; an i64
// local's low 32 bits are the address (pointers store zero-extended,
// function values carry the capture pointer low).
func (c *funcCompiler) pinLocal(local int, vt byte, tag int) {
	slot := c.pinBase() + c.pinDepth
	c.localGet(local)
	if vt == valI64 {
		c.op(opI32WrapI64)
	}
	c.i32Const(int64(slot))
	c.i32Const(int64(tag))
	c.callImport(impShadowSet)
	c.pinDepth++
	if c.pinDepth > c.maxPin {
		c.maxPin = c.pinDepth
	}
}

// unpin releases the top n pin slots, clearing their tags so a stale
// pointer stops acting as a root.
func (c *funcCompiler) unpin(n int) {
	for i := 0; i < n; i++ {
		c.pinDepth--
		slot := c.pinBase() + c.pinDepth
		c.i32Const(0)
		c.i32Const(int64(slot))
		c.i32Const(0)
		c.callImport(impShadowSet)
	}
}

// setRootFromSlot re-registers frame slot's current value as a shadow
// root with the given tag, immediately after the LocalSet that wrote
// it and before anything else may allocate.
func (c *funcCompiler) setRootFromSlot(slot, tag int) {
	c.localGet(slot)
	c.op(opI32WrapI64)
	c.i32Const(int64(shadowSlot(slot)))
	c.i32Const(int64(tag))
	c.callImport(impShadowSet)
}

// ---- allocate-or-collect-and-retry ----

// allocFixedRetry leaves a fixed-heap pointer (or 0 after a failed
// retry) on the stack. Uses wasm local 0, the calling convention's i32
// scratch; nothing user-visible runs between its tee and get.
func (c *funcCompiler) allocFixedRetry(typeID int) {
	c.i32Const(int64(typeID))
	c.callImport(impAllocAlloc)
	c.localTee(0)
	c.op(opI32Eqz)
	c.op(opIf)
	c.op(blockVoid)
	c.controlDepth++
	c.callImport(impShadowGC)
	c.i32Const(int64(typeID))
	c.callImport(impAllocAlloc)
	c.localSet(0)
	c.controlDepth--
	c.op(opEnd)
	c.localGet(0)
}

func (c *funcCompiler) allocVariableRetry(tag, length int) {
	c.i32Const(int64(tag))
	c.i32Const(int64(length))
	c.callImport(impDallocAlloc)
	c.localTee(0)
	c.op(opI32Eqz)
	c.op(opIf)
	c.op(blockVoid)
	c.controlDepth++
	c.callImport(impShadowGC)
	c.i32Const(int64(tag))
	c.i32Const(int64(length))
	c.callImport(impDallocAlloc)
	c.localSet(0)
	c.controlDepth--
	c.op(opEnd)
	c.localGet(0)
}

// park writes a [tag, value] pair into scratchpad pair i of the shadow
// memory, making the pointer held in a wasm local a root across the
// retry sequence's gc call.
func (c *funcCompiler) park(pair int, local int, vt byte, tag int) {
	c.i32Const(0)
	c.i32Const(int64(tag))
	c.storeI32(memShadow, int64(shadowScratchOffset)+int64(pair)*8)
	c.i32Const(0)
	c.localGet(local)
	if vt == valI64 {
		c.op(opI32WrapI64)
	}
	c.storeI32(memShadow, int64(shadowScratchOffset)+int64(pair)*8+4)
}

// clearPark zeroes a scratchpad pair's tag after a retry sequence so
// the parked operand stops being a root.
func (c *funcCompiler) clearPark(pair int) {
	c.i32Const(0)
	c.i32Const(0)
	c.storeI32(memShadow, int64(shadowScratchOffset)+int64(pair)*8)
}

// ---- function assembly ----

func (c *funcCompiler) compile() ([]byte, error) {
	c.nUserParams = len(c.fn.Params) - 1
	maxSlot := 2
	for _, p := range c.fn.Params {
		if p.Slot > maxSlot {
			maxSlot = p.Slot
		}
	}
	for _, l := range c.fn.Locals {
		if l.Slot > maxSlot {
			maxSlot = l.Slot
		}
	}
	c.totalSlots = maxSlot + 1
	c.nFrameLocals = c.totalSlots - 3 - c.nUserParams
	if c.nFrameLocals < 0 {
		return nil, codegenErrf("function %s: slot numbering below parameter region", c.fn.Name)
	}

	if err := c.stmts(c.fn.Body); err != nil {
		return nil, err
	}
	// Fallthrough epilogue: pop the shadow frame and return 0. Dead
	// after a body whose every path returns, but keeps the body
	// well-typed for the validator either way.
	c.callImport(impShadowPop)
	c.i64Const(0)
	c.op(opEnd)

	var pro []byte
	app := func(b ...byte) { pro = append(pro, b...) }
	appLebU := func(v uint64) { pro = append(pro, encodeLEB128U(v)...) }
	appI32 := func(v int64) { pro = append(pro, opI32Const); pro = append(pro, encodeLEB128S(v)...) }
	call := func(imp int) { pro = append(pro, opCall); pro = append(pro, encodeLEB128U(uint64(imp))...) }

	if c.isMain {
		// Runtime bootstrap, in strict order: both heaps, the shadow
		// stack, then every struct's type-table entry before any user
		// allocation can run.
		call(impAllocInit)
		call(impDallocInit)
		call(impShadowInit)
		for _, sd := range c.m.prog.Structs {
			appI32(sd.Size)
			appI32(int64(sd.StructCount))
			appI32(int64(sd.ListCount))
			call(impAllocRegister)
		}
	}

	frameSlots := 1 + c.nUserParams + c.nFrameLocals + c.maxPin
	appI32(int64(frameSlots))
	call(impShadowPush)

	// Captures pointer into shadow slot 0, tag 1.
	app(opLocalGet)
	appLebU(2)
	appI32(0)
	appI32(1)
	call(impShadowSet)

	// Pointer-shaped parameters into their shadow slots (step 3).
	for i, p := range c.fn.Params {
		if i == 0 {
			continue
		}
		tag := rootTag(p.Typ)
		if tag == 0 {
			continue
		}
		app(opLocalGet)
		appLebU(uint64(p.Slot))
		app(opI32WrapI64)
		appI32(int64(shadowSlot(p.Slot)))
		appI32(int64(tag))
		call(impShadowSet)
	}

	// Locals declarations: the frame locals as one i64 run, then each
	// emitter temp individually.
	var decl []byte
	entries := 0
	if c.nFrameLocals > 0 {
		decl = append(decl, encodeLEB128U(uint64(c.nFrameLocals))...)
		decl = append(decl, valI64)
		entries++
	}
	for _, vt := range c.temps {
		decl = append(decl, encodeLEB128U(1)...)
		decl = append(decl, vt)
		entries++
	}
	out := encodeLEB128U(uint64(entries))
	out = append(out, decl...)
	out = append(out, pro...)
	out = append(out, c.code...)
	return out, nil
}

// ---- statements ----

func (c *funcCompiler) stmts(list []ir.IRStmt) error {
	for _, st := range list {
		if err := c.stmt(st); err != nil {
			return err
		}
	}
	return nil
}

func (c *funcCompiler) stmt(st ir.IRStmt) error {
	switch s := st.(type) {
	case *ir.IRLet:
		if err := c.expr(s.Value); err != nil {
			return err
		}
		t := s.Value.IRType()
		c.storageCast(t)
		c.localSet(s.Slot)
		if tag := rootTag(t); tag != 0 {
			c.setRootFromSlot(s.Slot, tag)
		}
		return nil

	case *ir.IRReturn:
		if s.Value != nil {
			if err := c.expr(s.Value); err != nil {
				return err
			}
			c.storageCast(s.Value.IRType())
		} else {
			c.i64Const(0)
		}
		c.callImport(impShadowPop)
		c.op(opReturn)
		return nil

	case *ir.IRProduce:
		// A produce at function level yields its value to the caller
		// the same way a return does.
		if err := c.expr(s.Value); err != nil {
			return err
		}
		c.storageCast(s.Value.IRType())
		c.callImport(impShadowPop)
		c.op(opReturn)
		return nil

	case *ir.IRBreak:
		if len(c.loops) == 0 {
			return codegenErrf("break outside a loop")
		}
		lc := c.loops[len(c.loops)-1]
		c.op(opBr)
		c.lebU(uint64(c.controlDepth - 1 - lc.breakLevel))
		return nil

	case *ir.IRContinue:
		if len(c.loops) == 0 {
			return codegenErrf("continue outside a loop")
		}
		lc := c.loops[len(c.loops)-1]
		c.op(opBr)
		c.lebU(uint64(c.controlDepth - 1 - lc.contLevel))
		return nil

	case *ir.IRIf:
		if err := c.expr(s.Cond); err != nil {
			return err
		}
		c.op(opIf)
		c.op(blockVoid)
		c.controlDepth++
		if err := c.stmts(s.Then); err != nil {
			return err
		}
		if len(s.Else) > 0 {
			c.op(opElse)
			if err := c.stmts(s.Else); err != nil {
				return err
			}
		}
		c.controlDepth--
		c.op(opEnd)
		return nil

	case *ir.IRWhile:
		return c.whileLoop(s)

	case *ir.IRFor:
		return c.forLoop(s)

	case *ir.IRPrint:
		return c.print(s)

	case *ir.IRExprStmt:
		if err := c.expr(s.X); err != nil {
			return err
		}
		c.op(opDrop)
		return nil

	case *ir.IRMakeClosure:
		return c.makeClosure(s)

	default:
		return codegenErrf("unhandled statement %T", st)
	}
}

// whileLoop emits the shape:
// Block { Loop { cond; Eqz; BrIf 1; body; Br 0 } }.
func (c *funcCompiler) whileLoop(s *ir.IRWhile) error {
	c.op(opBlock)
	c.op(blockVoid)
	blockLevel := c.controlDepth
	c.controlDepth++
	c.op(opLoop)
	c.op(blockVoid)
	loopLevel := c.controlDepth
	c.controlDepth++

	if err := c.expr(s.Cond); err != nil {
		return err
	}
	c.op(opI32Eqz)
	c.op(opBrIf)
	c.lebU(uint64(c.controlDepth - 1 - blockLevel))

	c.loops = append(c.loops, loopCtx{breakLevel: blockLevel, contLevel: loopLevel})
	if err := c.stmts(s.Body); err != nil {
		return err
	}
	c.loops = c.loops[:len(c.loops)-1]

	c.op(opBr)
	c.lebU(uint64(c.controlDepth - 1 - loopLevel))
	c.controlDepth--
	c.op(opEnd)
	c.controlDepth--
	c.op(opEnd)
	return nil
}

// forLoop wraps the body in an extra Block so continue still reaches
// the update statement: Block { init; Loop { cond; Eqz; BrIf 1;
// Block { body }; update; Br 0 } }.
func (c *funcCompiler) forLoop(s *ir.IRFor) error {
	c.op(opBlock)
	c.op(blockVoid)
	blockLevel := c.controlDepth
	c.controlDepth++

	if s.Init != nil {
		if err := c.stmt(s.Init); err != nil {
			return err
		}
	}

	c.op(opLoop)
	c.op(blockVoid)
	loopLevel := c.controlDepth
	c.controlDepth++

	if s.Cond != nil {
		if err := c.expr(s.Cond); err != nil {
			return err
		}
		c.op(opI32Eqz)
		c.op(opBrIf)
		c.lebU(uint64(c.controlDepth - 1 - blockLevel))
	}

	c.op(opBlock)
	c.op(blockVoid)
	contLevel := c.controlDepth
	c.controlDepth++
	c.loops = append(c.loops, loopCtx{breakLevel: blockLevel, contLevel: contLevel})
	if err := c.stmts(s.Body); err != nil {
		return err
	}
	c.loops = c.loops[:len(c.loops)-1]
	c.controlDepth--
	c.op(opEnd)

	if s.Post != nil {
		if err := c.stmt(s.Post); err != nil {
			return err
		}
	}
	c.op(opBr)
	c.lebU(uint64(c.controlDepth - 1 - loopLevel))
	c.controlDepth--
	c.op(opEnd)
	c.controlDepth--
	c.op(opEnd)
	return nil
}

// print stringifies a non-string operand through the dalloc helpers
// and hands the resulting variable-heap string pointer to env.print.
func (c *funcCompiler) print(s *ir.IRPrint) error {
	t := s.Value.IRType()
	kind := ast.KindInteger
	if t != nil {
		kind = t.Kind
	}
	switch kind {
	case ast.KindString:
		if err := c.expr(s.Value); err != nil {
			return err
		}
	case ast.KindFloat:
		if err := c.expr(s.Value); err != nil {
			return err
		}
		tmp := c.newTemp(valF64)
		c.localSet(tmp)
		c.numToString(impDallocFtoa, tmp)
	case ast.KindBoolean:
		if err := c.expr(s.Value); err != nil {
			return err
		}
		tmp := c.newTemp(valI32)
		c.localSet(tmp)
		c.numToString(impDallocBtoa, tmp)
	default:
		if err := c.expr(s.Value); err != nil {
			return err
		}
		c.storageCast(t)
		tmp := c.newTemp(valI64)
		c.localSet(tmp)
		c.numToString(impDallocItoa, tmp)
	}
	c.callImport(impPrint)
	return nil
}

// numToString runs a dalloc numeric-to-string helper under the
// allocate-or-collect-and-retry pattern; the operand is a scalar held
// in tmp, so nothing needs parking across the gc.
func (c *funcCompiler) numToString(imp int, tmp int) {
	c.localGet(tmp)
	c.callImport(imp)
	c.localTee(0)
	c.op(opI32Eqz)
	c.op(opIf)
	c.op(blockVoid)
	c.controlDepth++
	c.callImport(impShadowGC)
	c.localGet(tmp)
	c.callImport(imp)
	c.localSet(0)
	c.controlDepth--
	c.op(opEnd)
	c.localGet(0)
}

// makeClosure allocates the capture record, copies each captured value
// in (from a frame slot, or from the current function's own captures
// record), packs (table_index << 32) | capture_ptr, and binds the
// result like any other pointer-shaped local. The field copies cannot
// allocate, so nothing needs rooting between the alloc and the stores.
func (c *funcCompiler) makeClosure(s *ir.IRMakeClosure) error {
	tb := c.newTemp(valI32)
	c.allocFixedRetry(s.StructIndex)
	c.localSet(tb)
	c.zeroFixedFields(tb, s.StructIndex)
	for _, init := range s.Inits {
		c.localGet(tb)
		if init.FromOuterCapture {
			c.localGet(2)
			c.loadI64(memFixed, init.FromOffset)
		} else {
			c.localGet(init.FromSlot)
		}
		c.storeI64(memFixed, init.Offset)
	}
	c.i64Const(int64(s.TableIndex) << 32)
	c.localGet(tb)
	c.op(opI64ExtendI32U)
	c.op(opI64Or)
	c.localSet(s.Slot)
	// The packed value's low 32 bits are the capture pointer, so the
	// slot roots as a fixed-heap pointer.
	c.setRootFromSlot(s.Slot, 1)
	return nil
}

// zeroFixedFields clears every slot of a freshly allocated fixed-heap
// record. The slab recycles blocks, so without this a pointer field
// not yet initialized would hand the mark walk a stale address the
// moment the record becomes reachable.
func (c *funcCompiler) zeroFixedFields(tb int, structIndex int) {
	sd := c.m.prog.Structs[structIndex]
	for _, f := range sd.Fields {
		c.localGet(tb)
		c.i64Const(0)
		c.storeI64(memFixed, f.Off)
	}
}
