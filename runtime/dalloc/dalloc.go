// Package dalloc implements the variable-length allocator: a
// first-fit, split/coalesce free-list allocator for lists and strings,
// plus the primitive operations over them (concat, slice, equal,
// contains, numeric-to-string) that belong with the block layout
// rather than with emitted user code.
//
// Every block carries a trailing size word, so a free operation can
// locate and merge the *preceding* block in O(1) without a
// doubly-linked free list.
package dalloc

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Block tags. Tag 0 marks a free block. The three non-zero tags are
// not "what element type is this" (the runtime carries no generics)
// but "what pointer-kind are this block's elements", which is exactly
// what runtime/shadow's mark walk needs to decide whether to recurse
// into each element: a scalar payload (ints, floats, booleans, or a
// string's packed characters) needs no recursion, a TagFixedPtr
// element is a fixed-heap (struct) pointer, a TagVarPtr element is
// itself a variable-heap (list/string) pointer. internal/ir applies
// the same variant-by-payload-pointer-kind idea to the tagged
// nullable/errorable record.
const (
	TagFree     uint32 = 0
	TagScalar   uint32 = 1
	TagFixedPtr uint32 = 2
	TagVarPtr   uint32 = 3
)

// Block layout:
// [type_tag:u32 @+0, mark:u32 @+4, size_bytes:u32 @+8, length:u32 @+12,
//  payload @+16, size_trailer:u32 @+16+size_bytes]
const (
	headerSize  = 16 // bytes from block start to payload
	trailerSize = 4
	minFreeSize = headerSize + trailerSize // smallest possible free block, 0-length payload
)

// leading reserves one word before the first block, kept for a future
// global free-list head and so that 0 is never a valid user pointer.
const leading = 4

// Heap is the variable-length memory: one Go-level linear byte slice
// standing in for WebAssembly memory 1.
type Heap struct {
	mem []byte
}

// NewHeap allocates a Heap backed by size bytes and initializes it.
func NewHeap(size int) *Heap {
	h := &Heap{mem: make([]byte, size)}
	h.Init()
	return h
}

// Init installs a single free block spanning the entire heap minus
// the leading region.
func (h *Heap) Init() {
	for i := range h.mem {
		h.mem[i] = 0
	}
	size := uint32(len(h.mem)) - leading - headerSize - trailerSize
	h.writeBlockHeader(leading, TagFree, 0, size, 0)
	h.writeTrailer(leading, size)
}

// Bytes exposes the backing memory for snapshotting. The slice
// aliases live heap state; callers must not write through it.
func (h *Heap) Bytes() []byte { return h.mem }

func (h *Heap) blockSize(p uint32) uint32 { return binary.LittleEndian.Uint32(h.mem[p+8:]) }
func (h *Heap) blockTag(p uint32) uint32  { return binary.LittleEndian.Uint32(h.mem[p:]) }
func (h *Heap) blockMark(p uint32) uint32 { return binary.LittleEndian.Uint32(h.mem[p+4:]) }
func (h *Heap) blockLength(p uint32) uint32 {
	return binary.LittleEndian.Uint32(h.mem[p+12:])
}

func (h *Heap) writeBlockHeader(p uint32, tag, mark, size, length uint32) {
	binary.LittleEndian.PutUint32(h.mem[p:], tag)
	binary.LittleEndian.PutUint32(h.mem[p+4:], mark)
	binary.LittleEndian.PutUint32(h.mem[p+8:], size)
	binary.LittleEndian.PutUint32(h.mem[p+12:], length)
}

func (h *Heap) writeTrailer(p uint32, size uint32) {
	binary.LittleEndian.PutUint32(h.mem[p+headerSize+size:], size)
}

func (h *Heap) readTrailerSizeBefore(p uint32) (uint32, bool) {
	if p < leading+trailerSize {
		return 0, false
	}
	return binary.LittleEndian.Uint32(h.mem[p-trailerSize:]), true
}

func (h *Heap) blockTotal(p uint32) uint32 { return headerSize + h.blockSize(p) + trailerSize }

func (h *Heap) end() uint32 { return uint32(len(h.mem)) }

// Alloc walks free blocks first-fit and returns a fresh user pointer
// of the given tag and length, or 0 if no block fits.
func (h *Heap) Alloc(tag uint32, length uint32) uint32 {
	needed := length * 8
	for p := uint32(leading); p < h.end(); p += h.blockTotal(p) {
		if h.blockTag(p) != TagFree {
			continue
		}
		free := h.blockSize(p)
		if needed+minFreeSize <= free {
			// Split: carve the tail into a fresh free block.
			remaining := free - needed - headerSize - trailerSize
			h.writeBlockHeader(p, tag, 0, needed, length)
			h.writeTrailer(p, needed)
			tail := p + headerSize + needed + trailerSize
			h.writeBlockHeader(tail, TagFree, 0, remaining, 0)
			h.writeTrailer(tail, remaining)
			return p + headerSize
		}
		if needed <= free {
			// Too little slack to leave a free header behind; hand out
			// the whole block, wasting the slack bytes.
			h.writeBlockHeader(p, tag, 0, free, length)
			h.writeTrailer(p, free)
			return p + headerSize
		}
	}
	return 0
}

func blockStart(userPtr uint32) uint32 { return userPtr - headerSize }

// Free clears the block's tag, coalesces with a following free
// neighbor (found by stepping past this block's own size) and then
// with a preceding free neighbor (found via the trailing size word
// immediately before this block), and returns the canonical address
// of the resulting free block.
func (h *Heap) Free(userPtr uint32) uint32 {
	p := blockStart(userPtr)
	size := h.blockSize(p)
	h.writeBlockHeader(p, TagFree, 0, size, 0)
	h.writeTrailer(p, size)

	if next := p + h.blockTotal(p); next < h.end() && h.blockTag(next) == TagFree {
		merged := h.blockSize(p) + h.blockTotal(next)
		h.writeBlockHeader(p, TagFree, 0, merged, 0)
		h.writeTrailer(p, merged)
	}

	if prevSize, ok := h.readTrailerSizeBefore(p); ok {
		prevTotal := headerSize + prevSize + trailerSize
		if prev := p - prevTotal; prev >= leading && h.blockTag(prev) == TagFree {
			merged := h.blockSize(prev) + h.blockTotal(p)
			h.writeBlockHeader(prev, TagFree, 0, merged, 0)
			h.writeTrailer(prev, merged)
			return prev + headerSize
		}
	}
	return p + headerSize
}

// Sweep walks the heap once; unmarked allocated blocks are freed
// (including any coalescing that triggers), marked blocks have their
// mark cleared for the next cycle.
func (h *Heap) Sweep() {
	p := uint32(leading)
	for p < h.end() {
		total := h.blockTotal(p)
		if h.blockTag(p) != TagFree {
			if h.blockMark(p) != 0 {
				h.clearMark(p)
				p += total
				continue
			}
			freed := h.Free(p + headerSize)
			// Free may have coalesced backward into an already-visited
			// block; resume scanning from the (possibly merged) block's
			// own start so we don't re-free it.
			p = freed - headerSize
			p += h.blockTotal(p)
			continue
		}
		p += total
	}
}

func (h *Heap) clearMark(p uint32) { binary.LittleEndian.PutUint32(h.mem[p+4:], 0) }

// Mark sets the mark bit of the block owning userPtr.
func (h *Heap) Mark(userPtr uint32) {
	p := blockStart(userPtr)
	binary.LittleEndian.PutUint32(h.mem[p+4:], 1)
}

// IsMarked reports whether userPtr's block is currently marked.
func (h *Heap) IsMarked(userPtr uint32) bool {
	return h.blockMark(blockStart(userPtr)) != 0
}

// Tag reports the element pointer-kind of the block owning userPtr.
func (h *Heap) Tag(userPtr uint32) uint32 { return h.blockTag(blockStart(userPtr)) }

// Length reports the element count of userPtr's block.
func (h *Heap) Length(userPtr uint32) uint32 { return h.blockLength(blockStart(userPtr)) }

// ReadWord loads element i (an 8-byte slot) of userPtr's block.
func (h *Heap) ReadWord(userPtr uint32, i uint32) uint64 {
	return binary.LittleEndian.Uint64(h.mem[uint64(userPtr)+uint64(i)*8:])
}

// WriteWord stores element i of userPtr's block.
func (h *Heap) WriteWord(userPtr uint32, i uint32, v uint64) {
	binary.LittleEndian.PutUint64(h.mem[uint64(userPtr)+uint64(i)*8:], v)
}

// Concat allocates a fresh block of length len(a)+len(b) carrying a's
// tag, copying a's words then b's. Returns 0 if the allocation fails.
func (h *Heap) Concat(a, b uint32) uint32 {
	la, lb := h.Length(a), h.Length(b)
	c := h.Alloc(h.Tag(a), la+lb)
	if c == 0 {
		return 0
	}
	for i := uint32(0); i < la; i++ {
		h.WriteWord(c, i, h.ReadWord(a, i))
	}
	for i := uint32(0); i < lb; i++ {
		h.WriteWord(c, la+i, h.ReadWord(b, i))
	}
	return c
}

// Slice allocates a fresh block of length end-start, copying words
// [start,end) from a. Returns 0 if the allocation fails.
func (h *Heap) Slice(a uint32, start, end uint32) uint32 {
	c := h.Alloc(h.Tag(a), end-start)
	if c == 0 {
		return 0
	}
	for i := start; i < end; i++ {
		h.WriteWord(c, i-start, h.ReadWord(a, i))
	}
	return c
}

// Equal reports whether a and b have the same length and identical
// word contents.
func (h *Heap) Equal(a, b uint32) bool {
	la, lb := h.Length(a), h.Length(b)
	if la != lb {
		return false
	}
	for i := uint32(0); i < la; i++ {
		if h.ReadWord(a, i) != h.ReadWord(b, i) {
			return false
		}
	}
	return true
}

// Contains reports whether elem appears anywhere in list (a linear
// scan).
func (h *Heap) Contains(elem uint64, list uint32) bool {
	n := h.Length(list)
	for i := uint32(0); i < n; i++ {
		if h.ReadWord(list, i) == elem {
			return true
		}
	}
	return false
}

// NewString allocates a TagScalar block of len(s) and stores one
// character byte per 8-byte slot, at offset 0 within the slot.
func (h *Heap) NewString(s string) uint32 {
	p := h.Alloc(TagScalar, uint32(len(s)))
	if p == 0 {
		return 0
	}
	for i := 0; i < len(s); i++ {
		h.WriteWord(p, uint32(i), uint64(s[i]))
	}
	return p
}

// ReadString decodes a string block back into a Go string.
func (h *Heap) ReadString(p uint32) string {
	n := h.Length(p)
	buf := make([]byte, n)
	for i := uint32(0); i < n; i++ {
		buf[i] = byte(h.ReadWord(p, i))
	}
	return string(buf)
}

// IntToString renders i in base 10, with a leading '-' for
// negatives, as a fresh string block.
func (h *Heap) IntToString(i int64) uint32 {
	return h.NewString(fmt.Sprintf("%d", i))
}

// BoolToString renders "true" or "false" as a fresh string block.
func (h *Heap) BoolToString(b bool) uint32 {
	if b {
		return h.NewString("true")
	}
	return h.NewString("false")
}

// FloatToString renders the integer part in base 10, a '.', then a
// six-digit fractional part zero-padded on the left, computed as
// round(|f-trunc(f)| * 10^6).
func (h *Heap) FloatToString(f float64) uint32 {
	whole := math.Trunc(f)
	frac := math.Round(math.Abs(f-whole) * 1e6)
	return h.NewString(fmt.Sprintf("%d.%06d", int64(whole), int64(frac)))
}
