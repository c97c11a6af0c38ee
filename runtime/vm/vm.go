// Package vm is a reference interpreter: a tree-walking evaluator
// over the same internal/ir tree internal/wasm compiles, backed by the
// same runtime/alloc, runtime/dalloc, and runtime/shadow packages a
// compiled module's imports would be. Driving a real WebAssembly host
// is out of scope for this repository, so this is what end-to-end
// tests observe program output and traps through.
//
// Because it interprets the IR by hand rather than executing compiled
// instructions, it has to reproduce the central correctness property
// in Go: nothing the running program still needs may be reclaimed by
// a collection. Every pointer-shaped local is mirrored into a
// runtime/shadow root slot the moment it is bound, and every
// pointer-shaped temporary that is live only in a Go local variable
// while a further allocation might run is pinned on runtime/shadow's
// pin stack first (see pinVal in expr.go) — the tree-walker's stand-in
// for the compiled module's 16-byte scratchpad.
package vm

import (
	"fmt"
	"io"
	"strings"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/ir"
	"github.com/kavishsathia/starc/internal/memimage"
	"github.com/kavishsathia/starc/runtime/alloc"
	"github.com/kavishsathia/starc/runtime/dalloc"
	"github.com/kavishsathia/starc/runtime/shadow"
)

// Trap is returned on an unconditional runtime trap (an unwrap on the
// wrong tag, division by zero, an index out of range). There is no
// recovery mechanism, matching the compiled module's `unreachable`.
type Trap struct {
	Reason string
}

func (t *Trap) Error() string { return fmt.Sprintf("trap: %s", t.Reason) }

// Config bounds the three heaps and the shadow stack a Run allocates;
// the zero Config gets reasonable small-program defaults.
type Config struct {
	FixedHeapSize    int
	VariableHeapSize int
	ShadowStackSize  int
}

func (c Config) withDefaults() Config {
	if c.FixedHeapSize == 0 {
		c.FixedHeapSize = 1 << 20
	}
	if c.VariableHeapSize == 0 {
		c.VariableHeapSize = 4 << 20
	}
	if c.ShadowStackSize == 0 {
		c.ShadowStackSize = 1 << 20
	}
	return c
}

// VM holds one program run's mutable state: the three heaps, the
// struct layout table, and the function table for indirect calls.
type VM struct {
	prog     *ir.IRProgram
	fixed    *alloc.Heap
	variable *dalloc.Heap
	roots    *shadow.Stack
	out      io.Writer

	typeOf map[int]uint32 // IRStruct.Index -> registered fixed-heap type id
}

// Snapshot captures the run's final heap state as a memimage, for the
// heap inspector and for tests that assert on what survived the last
// collection.
func (v *VM) Snapshot() *memimage.Image {
	im := &memimage.Image{
		FixedDataStart: v.fixed.DataStart(),
		FixedWatermark: v.fixed.Watermark(),
		Fixed:          v.fixed.Bytes(),
		Variable:       v.variable.Bytes(),
		Shadow:         v.roots.Bytes(),
	}
	for id := 0; id < v.fixed.TypeCount(); id++ {
		im.Types = append(im.Types, memimage.TypeInfo{
			Size:        v.fixed.TypeSize(uint32(id)),
			StructCount: v.fixed.StructCount(uint32(id)),
			ListCount:   v.fixed.ListCount(uint32(id)),
		})
	}
	return im
}

// RunSnapshot is Run plus a snapshot of the final heap state; the
// snapshot is taken even when the program trapped, since a trap's heap
// is exactly what an inspector wants to look at.
func RunSnapshot(prog *ir.IRProgram, cfg Config) (string, *memimage.Image, error) {
	out, v, err := run(prog, cfg)
	if v == nil {
		return out, nil, err
	}
	return out, v.Snapshot(), err
}

// Run bootstraps the three heaps and the shadow stack in the
// alloc.init -> dalloc.init -> shadow.init -> register(...) order a
// compiled module's prologue would, calls main with no arguments, and
// returns everything printed to stdout.
func Run(prog *ir.IRProgram, cfg Config) (string, error) {
	out, _, err := run(prog, cfg)
	return out, err
}

func run(prog *ir.IRProgram, cfg Config) (string, *VM, error) {
	cfg = cfg.withDefaults()
	var buf strings.Builder
	v := &VM{
		prog:     prog,
		fixed:    alloc.NewHeap(cfg.FixedHeapSize),
		variable: dalloc.NewHeap(cfg.VariableHeapSize),
		roots:    shadow.NewStack(cfg.ShadowStackSize),
		out:      &buf,
		typeOf:   make(map[int]uint32, len(prog.Structs)),
	}
	for _, sd := range prog.Structs {
		id := v.fixed.Register(uint32(sd.Size), uint32(sd.StructCount), uint32(sd.ListCount))
		v.typeOf[sd.Index] = id
	}

	main, ok := prog.FunctionByName("main")
	if !ok {
		return "", nil, fmt.Errorf("program has no main function")
	}
	_, err := v.call(main, 0, nil)
	return buf.String(), v, err
}

// frame is one activation record: a dense slot->value array, the slot
// numbering matching internal/locals' scheme (0/1 scratch, 2
// captures, params then locals upward) so a slot index means the same
// thing here as it does in internal/ir and, eventually,
// internal/wasm's local indices.
type frame struct {
	fn     *ir.IRFunction
	locals []uint64
}

func frameSize(fn *ir.IRFunction) int {
	n := 2 // scratch slots 0, 1 (unused by this interpreter but reserved)
	n += len(fn.Params)
	n += len(fn.Locals)
	return n
}

// tagFor reports the shadow root tag a pointer-kind type's plain
// shape calls for.
func tagFor(t *ast.Type) shadow.Tag {
	if t == nil {
		return shadow.TagNone
	}
	if t.IsFixedHeapPointer() {
		return shadow.TagFixed
	}
	if t.IsVariableHeapPointer() {
		return shadow.TagVariable
	}
	return shadow.TagNone
}

// bindLocal stores v into slot, additionally registering it as a
// shadow root immediately if its type is pointer-shaped — a new
// pointer becomes a root before anything else may allocate.
func (v *VM) bindLocal(fr *frame, slot int, value uint64, typ *ast.Type) {
	v.bindLocalTagged(fr, slot, value, tagFor(typ))
}

// bindLocalTagged is bindLocal's lower-level form for the handful of
// sites that know a binding's root tag directly rather than through an
// ast.Type: IRMakeClosure always produces a fixed-heap capture
// pointer, and a KindType match arm's bound value is always a struct
// pointer.
func (v *VM) bindLocalTagged(fr *frame, slot int, value uint64, tag shadow.Tag) {
	fr.locals[slot] = value
	if tag != shadow.TagNone {
		v.roots.Set(slot, uint32(value), tag)
	}
}

// call pushes a fresh shadow frame, binds the captures pointer and
// parameters, executes the body, and pops on every exit path — a raise is
// already lowered (by internal/wrap) to a tagged return value, so
// there is no separate "raise" exit path here.
func (v *VM) call(fn *ir.IRFunction, capturesPtr uint32, args []uint64) (uint64, error) {
	fr := &frame{fn: fn, locals: make([]uint64, frameSize(fn))}
	v.roots.Push(frameSize(fn))
	defer v.roots.Pop()

	v.bindLocal(fr, 2, uint64(capturesPtr), ast.Struct(fn.CapturesStruct))
	for i, p := range fn.Params {
		if i == 0 {
			continue // the synthetic captures param, already bound above
		}
		v.bindLocal(fr, p.Slot, args[i-1], p.Typ)
	}
	for _, l := range fn.Locals {
		// Locals start at their zero value until their own LetStmt
		// runs; a pointer-typed local's shadow slot is left untagged
		// until then; the invariant 1 only requires a
		// tagged root be valid, and an unset-tag slot is inert.
		fr.locals[l.Slot] = 0
	}

	sig, err := v.execStmts(fn.Body, fr)
	if err != nil {
		return 0, err
	}
	if sig.kind == sigReturn {
		return sig.value, nil
	}
	return 0, nil
}

// directFunction resolves a direct IRCall's callee by table index.
func (v *VM) directFunction(tableIndex int) (*ir.IRFunction, error) {
	fn, ok := v.prog.FunctionByTableIndex(tableIndex)
	if !ok {
		return nil, fmt.Errorf("no function at table index %d", tableIndex)
	}
	return fn, nil
}

// allocFixed implements allocate-or-collect-and-retry for the fixed
// heap: try once, and on exhaustion run one collection and try exactly
// once more.
func (v *VM) allocFixed(irIndex int) uint32 {
	typeID := v.typeOf[irIndex]
	p := v.fixed.Alloc(typeID)
	if p == 0 {
		shadow.GC(v.roots, v.fixed, v.variable)
		p = v.fixed.Alloc(typeID)
	}
	return p
}

func (v *VM) allocVariable(tag uint32, length uint32) uint32 {
	p := v.variable.Alloc(tag, length)
	if p == 0 {
		shadow.GC(v.roots, v.fixed, v.variable)
		p = v.variable.Alloc(tag, length)
	}
	return p
}

func (v *VM) newString(s string) uint32 {
	p := v.allocVariable(dalloc.TagScalar, uint32(len(s)))
	if p == 0 {
		return 0
	}
	for i := 0; i < len(s); i++ {
		v.variable.WriteWord(p, uint32(i), uint64(s[i]))
	}
	return p
}
