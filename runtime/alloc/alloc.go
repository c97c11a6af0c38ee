// Package alloc implements the fixed slab allocator: one freelist per
// registered struct type, carved in batches of SlabBlocks same-size
// blocks out of a single linear memory.
//
// A free block's user region is reused to store the link to the next
// free block, so the freelist costs no bookkeeping beyond one head
// pointer per type. Every block carries a {type_id, mark} header the
// caller never sees; the user pointer is past it.
package alloc

import "encoding/binary"

// SlabBlocks is the number of same-type blocks carved at once when a
// type's freelist runs dry. The sweeper assumes every slab holds
// exactly this many contiguous blocks of one type.
const SlabBlocks = 32

// headerSize is the 8 bytes preceding every user pointer: type_id
// (u32) then mark (u32).
const headerSize = 8

// typeTableSlots bounds how many distinct struct types one Heap can
// register; the type table occupies a fixed region at the start of
// memory so the data watermark has a known, constant starting offset.
const typeTableSlots = 1024

type typeEntry struct {
	size        uint32
	structCount uint32
	listCount   uint32
	freeHead    uint32 // 0 means empty; 0 is never a valid block address
	slabs       []uint32
}

// Heap is the fixed-slab memory: one Go-level linear byte slice
// standing in for WebAssembly memory 0.
type Heap struct {
	mem        []byte
	types      []typeEntry
	watermark  uint32
}

// NewHeap allocates a Heap backed by size bytes and initializes it.
func NewHeap(size int) *Heap {
	h := &Heap{mem: make([]byte, size)}
	h.Init()
	return h
}

// Init resets the bump pointer to the end of the type table region and
// discards any registered types.
func (h *Heap) Init() {
	h.types = h.types[:0]
	h.watermark = typeTableSlots * 16
}

// Register appends a new type table entry and returns its id (the
// table index). size is the struct's payload size in bytes;
// structCount/listCount are the segregated pointer-field counts
// runtime/shadow's mark walk uses to know how many leading 8-byte
// fields are fixed-heap and variable-heap pointers, respectively.
func (h *Heap) Register(size, structCount, listCount uint32) uint32 {
	id := uint32(len(h.types))
	h.types = append(h.types, typeEntry{size: size, structCount: structCount, listCount: listCount})
	return id
}

// TypeSize reports a registered type's payload size.
func (h *Heap) TypeSize(typeID uint32) uint32 { return h.types[typeID].size }

// TypeCount reports how many types have been registered.
func (h *Heap) TypeCount() int { return len(h.types) }

// DataStart is the first byte past the reserved type-table region,
// where slab carving begins.
func (h *Heap) DataStart() uint32 { return typeTableSlots * 16 }

// Watermark is the first byte past the last carved slab.
func (h *Heap) Watermark() uint32 { return h.watermark }

// Bytes exposes the backing memory for snapshotting. The slice
// aliases live heap state; callers must not write through it.
func (h *Heap) Bytes() []byte { return h.mem }

// StructCount reports the number of leading fixed-heap pointer fields
// a registered type has.
func (h *Heap) StructCount(typeID uint32) uint32 { return h.types[typeID].structCount }

// ListCount reports the number of fixed-heap-record fields, following
// the struct-pointer fields, that point into the variable heap.
func (h *Heap) ListCount(typeID uint32) uint32 { return h.types[typeID].listCount }

// Alloc returns a fresh block of typeID's size, carving a new slab if
// the type's freelist is empty. Returns 0 on exhaustion.
func (h *Heap) Alloc(typeID uint32) uint32 {
	t := &h.types[typeID]
	if t.freeHead == 0 {
		if !h.carveSlab(typeID) {
			return 0
		}
	}
	ptr := t.freeHead
	t.freeHead = h.readNext(ptr)
	h.setHeader(ptr, typeID, 0)
	return ptr
}

// carveSlab appends SlabBlocks fresh blocks for typeID at the current
// watermark and threads them into the type's freelist.
func (h *Heap) carveSlab(typeID uint32) bool {
	t := &h.types[typeID]
	blockSize := headerSize + t.size
	need := uint64(blockSize) * SlabBlocks
	if uint64(h.watermark)+need > uint64(len(h.mem)) {
		return false
	}
	slabStart := h.watermark
	t.slabs = append(t.slabs, slabStart)
	var prev uint32
	for i := uint32(SlabBlocks); i > 0; i-- {
		off := slabStart + (i-1)*blockSize
		ptr := off + headerSize
		h.setHeader(ptr, typeID, 0)
		h.writeNext(ptr, prev)
		prev = ptr
	}
	t.freeHead = prev
	h.watermark += uint32(need)
	return true
}

// Free pushes ptr back onto its type's freelist. The header's type_id
// identifies which freelist.
func (h *Heap) Free(ptr uint32) {
	typeID := h.headerType(ptr)
	t := &h.types[typeID]
	h.writeNext(ptr, t.freeHead)
	t.freeHead = ptr
}

// Sweep clears every type's freelist, then walks slab-by-slab,
// reclaiming unmarked blocks and clearing marks on the rest.
func (h *Heap) Sweep() {
	for typeID := range h.types {
		t := &h.types[typeID]
		blockSize := headerSize + t.size
		t.freeHead = 0
		for _, slabStart := range t.slabs {
			for i := uint32(0); i < SlabBlocks; i++ {
				ptr := slabStart + i*blockSize + headerSize
				if h.mark(ptr) {
					h.clearMark(ptr)
				} else {
					h.writeNext(ptr, t.freeHead)
					t.freeHead = ptr
				}
			}
		}
	}
}

// Mark sets the mark bit of the block at ptr.
func (h *Heap) Mark(ptr uint32) { h.setHeader(ptr, h.headerType(ptr), 1) }

// IsMarked reports whether ptr's block is currently marked.
func (h *Heap) IsMarked(ptr uint32) bool { return h.mark(ptr) }

func (h *Heap) headerType(ptr uint32) uint32 {
	return binary.LittleEndian.Uint32(h.mem[ptr-headerSize:])
}

// TypeID reports ptr's registered type id, read straight from the
// block header; runtime/shadow's mark walk uses this to look up
// StructCount/ListCount for the block it is about to recurse into.
func (h *Heap) TypeID(ptr uint32) uint32 { return h.headerType(ptr) }

func (h *Heap) mark(ptr uint32) bool {
	return binary.LittleEndian.Uint32(h.mem[ptr-4:]) != 0
}

func (h *Heap) clearMark(ptr uint32) {
	binary.LittleEndian.PutUint32(h.mem[ptr-4:], 0)
}

func (h *Heap) setHeader(ptr, typeID, mark uint32) {
	binary.LittleEndian.PutUint32(h.mem[ptr-headerSize:], typeID)
	binary.LittleEndian.PutUint32(h.mem[ptr-4:], mark)
}

func (h *Heap) readNext(ptr uint32) uint32 {
	return binary.LittleEndian.Uint32(h.mem[ptr:])
}

func (h *Heap) writeNext(ptr, next uint32) {
	binary.LittleEndian.PutUint32(h.mem[ptr:], next)
}

// ReadField loads the 8-byte slot at byte offset off within the
// struct at ptr.
func (h *Heap) ReadField(ptr uint32, off int64) uint64 {
	return binary.LittleEndian.Uint64(h.mem[uint64(ptr)+uint64(off):])
}

// WriteField stores an 8-byte slot at byte offset off within the
// struct at ptr.
func (h *Heap) WriteField(ptr uint32, off int64, v uint64) {
	binary.LittleEndian.PutUint64(h.mem[uint64(ptr)+uint64(off):], v)
}
