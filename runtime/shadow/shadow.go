// Package shadow implements the shadow stack and the mark/sweep
// collector that spans both the fixed and variable heaps. Every
// reference a compiled function must keep alive across an operation
// that can allocate is recorded here as a (tag, value) root slot; the
// collector never has to guess what is live, it only walks what the
// emitted code already told it.
package shadow

import (
	"encoding/binary"

	"github.com/kavishsathia/starc/runtime/alloc"
	"github.com/kavishsathia/starc/runtime/dalloc"
)

// Tag is a shadow slot's root kind
type Tag uint32

const (
	TagNone    Tag = 0
	TagFixed   Tag = 1
	TagVariable Tag = 2
)

// scratchSize is the 16-byte scratchpad just above sp/fp: the
// emitter parks operands there across an allocate-or-collect-and-retry
// sequence. 16 bytes holds two [tag, value] pairs, enough for the
// operand pair any single such sequence needs at once (see
// Park/ReadParked below); such sequences never nest, so one fixed-size
// pad is sufficient.
const scratchSize = 16

// Layout of shadow memory: sp at a known low offset, fp just after
// it, then the scratchpad, then the growing frame stack.
const (
	spOffset      = 0
	fpOffset      = 4
	scratchOffset = 8
	framesStart   = scratchOffset + scratchSize // 24
)

// frame records one pushed call frame's base address and slot count,
// kept alongside the byte-level memory so Mark and Pop don't need to
// re-derive slot counts from the saved-fp chain; a real compiled
// function already knows its own frame's slot count as a literal
// baked into its prologue, so this is the reference-runtime's
// equivalent of that compile-time constant.
type frame struct {
	base   uint32
	nSlots uint32
}

// Stack is the shadow heap: one Go-level linear byte slice standing
// in for WebAssembly memory 2, plus the frame bookkeeping above.
type Stack struct {
	mem    []byte
	frames []frame
	pins   []pin
}

// pin is one entry on the auxiliary root stack Pin/Unpin maintain; see
// Pin's doc comment for why the reference interpreter needs this in
// addition to the frame-slot roots a compiled module relies on alone.
type pin struct {
	value uint32
	tag   Tag
}

// Bytes exposes the backing memory for snapshotting. The slice
// aliases live stack state; callers must not write through it.
func (s *Stack) Bytes() []byte { return s.mem }

// NewStack allocates a Stack backed by size bytes and initializes it.
func NewStack(size int) *Stack {
	s := &Stack{mem: make([]byte, size)}
	s.Init()
	return s
}

// Init sets sp = fp = the address just above the scratchpad.
func (s *Stack) Init() {
	for i := range s.mem {
		s.mem[i] = 0
	}
	s.frames = s.frames[:0]
	s.pins = s.pins[:0]
	s.setSP(framesStart)
	s.setFP(framesStart)
}

// Pin registers an additional root not tied to any frame slot, for a
// pointer-shaped intermediate value the evaluator is holding only in a
// Go local variable across a further allocation. A compiled module
// only ever needs the bounded pair of operands Park/ReadParked cover
//, but runtime/vm's tree-walking evaluator nests arbitrarily
// deep (a binary operator's left operand must stay live while the
// right operand is evaluated, which may itself allocate), so it needs
// an unbounded pin stack rather than the fixed 16-byte scratchpad.
// Pin returns a handle for a matching Unpin.
//
// PinMark returns a handle for the current top of the pin stack
// without pinning anything, for a caller that wants one Unpin to
// release a whole group of pins taken across several evaluations (e.g.
// every field initializer of a struct literal) regardless of whether
// any of them individually needed a pin.
func (s *Stack) PinMark() int { return len(s.pins) }

func (s *Stack) Pin(value uint32, tag Tag) int {
	s.pins = append(s.pins, pin{value: value, tag: tag})
	return len(s.pins) - 1
}

// Unpin releases every pin from handle onward. Pins are always
// released LIFO (an evaluator unpins on its way back up the same
// recursion that pinned), so truncating at handle is sufficient.
func (s *Stack) Unpin(handle int) {
	s.pins = s.pins[:handle]
}

func (s *Stack) sp() uint32 { return binary.LittleEndian.Uint32(s.mem[spOffset:]) }
func (s *Stack) fp() uint32 { return binary.LittleEndian.Uint32(s.mem[fpOffset:]) }
func (s *Stack) setSP(v uint32) { binary.LittleEndian.PutUint32(s.mem[spOffset:], v) }
func (s *Stack) setFP(v uint32) { binary.LittleEndian.PutUint32(s.mem[fpOffset:], v) }

// Push establishes a new frame of nSlots root slots, all initially
// untagged: zero the slots, record the caller's fp,
// fp <- old sp, sp <- old sp + 8*nSlots + 4.
func (s *Stack) Push(nSlots int) {
	base := s.sp()
	for i := 0; i < nSlots; i++ {
		binary.LittleEndian.PutUint32(s.mem[base+uint32(i)*8:], uint32(TagNone))
		binary.LittleEndian.PutUint32(s.mem[base+uint32(i)*8+4:], 0)
	}
	savedFPOff := base + uint32(nSlots)*8
	binary.LittleEndian.PutUint32(s.mem[savedFPOff:], s.fp())
	s.setFP(base)
	s.setSP(savedFPOff + 4)
	s.frames = append(s.frames, frame{base: base, nSlots: uint32(nSlots)})
}

// Pop restores the caller's frame: sp <- fp, fp <- the saved fp word
// written by Push just below the new sp.
func (s *Stack) Pop() {
	sp := s.sp()
	savedFP := binary.LittleEndian.Uint32(s.mem[sp-4:])
	s.setSP(s.fp())
	s.setFP(savedFP)
	if n := len(s.frames); n > 0 {
		s.frames = s.frames[:n-1]
	}
}

// Set writes (tag, value) into the current frame's slot at slotIndex.
func (s *Stack) Set(slotIndex int, value uint32, tag Tag) {
	off := s.fp() + uint32(slotIndex)*8
	binary.LittleEndian.PutUint32(s.mem[off:], uint32(tag))
	binary.LittleEndian.PutUint32(s.mem[off+4:], value)
}

// Get reads back a slot previously written by Set, from the current
// frame.
func (s *Stack) Get(slotIndex int) (value uint32, tag Tag) {
	off := s.fp() + uint32(slotIndex)*8
	tag = Tag(binary.LittleEndian.Uint32(s.mem[off:]))
	value = binary.LittleEndian.Uint32(s.mem[off+4:])
	return
}

// getFrameSlot reads slot i of an arbitrary (not necessarily current)
// frame, used by Mark to walk every live frame rather than just the
// top one.
func (s *Stack) getFrameSlot(f frame, i uint32) (value uint32, tag Tag) {
	off := f.base + i*8
	tag = Tag(binary.LittleEndian.Uint32(s.mem[off:]))
	value = binary.LittleEndian.Uint32(s.mem[off+4:])
	return
}

// Park writes an operand into the scratchpad at pair index i (0 or
// 1), used by the allocate-or-collect-and-retry pattern to keep a
// live operand rooted across a call that can trigger a collection. A
// scratchpad pair has the same [tag:u32, value:u32]
// shape as a frame slot, and Mark scans both pairs the same way it
// scans frame slots, so a parked pointer is a real root, not just a
// saved word.
func (s *Stack) Park(i int, value uint32, tag Tag) {
	binary.LittleEndian.PutUint32(s.mem[scratchOffset+i*8:], uint32(tag))
	binary.LittleEndian.PutUint32(s.mem[scratchOffset+i*8+4:], value)
}

// ReadParked reads back a pair written by Park.
func (s *Stack) ReadParked(i int) (value uint32, tag Tag) {
	tag = Tag(binary.LittleEndian.Uint32(s.mem[scratchOffset+i*8:]))
	value = binary.LittleEndian.Uint32(s.mem[scratchOffset+i*8+4:])
	return
}

// ClearParked resets a scratchpad pair so a finished retry sequence's
// operand stops acting as a root.
func (s *Stack) ClearParked(i int) {
	binary.LittleEndian.PutUint32(s.mem[scratchOffset+i*8:], uint32(TagNone))
	binary.LittleEndian.PutUint32(s.mem[scratchOffset+i*8+4:], 0)
}

// Mark scans every slot of every live frame and, for each nonzero-tag
// slot, marks the pointer it holds (and everything reachable from
// it) on the appropriate heap.
func (s *Stack) Mark(fixed *alloc.Heap, variable *dalloc.Heap) {
	for _, f := range s.frames {
		for i := uint32(0); i < f.nSlots; i++ {
			value, tag := s.getFrameSlot(f, i)
			markPointer(value, tag, fixed, variable)
		}
	}
	for i := 0; i < scratchSize/8; i++ {
		value, tag := s.ReadParked(i)
		markPointer(value, tag, fixed, variable)
	}
	for _, p := range s.pins {
		markPointer(p.value, p.tag, fixed, variable)
	}
}

// markPointer is the mark_pointer: recurse into a fixed-
// heap record's pointer-shaped fields (struct-pointer fields first,
// then list/string-pointer fields, per internal/ir's 3-way field
// segregation), or a variable-heap block's pointer-shaped elements
// (per dalloc's TagFixedPtr/TagVarPtr element tags).
func markPointer(value uint32, tag Tag, fixed *alloc.Heap, variable *dalloc.Heap) {
	if value == 0 {
		return
	}
	switch tag {
	case TagFixed:
		if fixed.IsMarked(value) {
			return
		}
		fixed.Mark(value)
		typeID := fixed.TypeID(value)
		structCount := fixed.StructCount(typeID)
		listCount := fixed.ListCount(typeID)
		for i := uint32(0); i < structCount; i++ {
			child := uint32(fixed.ReadField(value, int64(i)*8))
			markPointer(child, TagFixed, fixed, variable)
		}
		for i := uint32(0); i < listCount; i++ {
			child := uint32(fixed.ReadField(value, int64(structCount+i)*8))
			markPointer(child, TagVariable, fixed, variable)
		}
	case TagVariable:
		if variable.IsMarked(value) {
			return
		}
		variable.Mark(value)
		switch variable.Tag(value) {
		case dalloc.TagFixedPtr:
			n := variable.Length(value)
			for i := uint32(0); i < n; i++ {
				child := uint32(variable.ReadWord(value, i))
				markPointer(child, TagFixed, fixed, variable)
			}
		case dalloc.TagVarPtr:
			n := variable.Length(value)
			for i := uint32(0); i < n; i++ {
				child := uint32(variable.ReadWord(value, i))
				markPointer(child, TagVariable, fixed, variable)
			}
		}
	}
}

// GC runs one full collection: mark every root-reachable object on
// both heaps, then sweep both.
func GC(roots *Stack, fixed *alloc.Heap, variable *dalloc.Heap) {
	roots.Mark(fixed, variable)
	fixed.Sweep()
	variable.Sweep()
}
