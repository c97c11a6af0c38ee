package alloc

import "testing"

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	h := NewHeap(1 << 16)
	if id := h.Register(16, 1, 0); id != 0 {
		t.Errorf("first id = %d, want 0", id)
	}
	if id := h.Register(24, 0, 2); id != 1 {
		t.Errorf("second id = %d, want 1", id)
	}
	if h.TypeSize(0) != 16 || h.StructCount(0) != 1 || h.ListCount(0) != 0 {
		t.Errorf("type 0 entry mismatch")
	}
	if h.TypeSize(1) != 24 || h.StructCount(1) != 0 || h.ListCount(1) != 2 {
		t.Errorf("type 1 entry mismatch")
	}
}

func TestAllocCarvesSlabThenReusesFreelist(t *testing.T) {
	h := NewHeap(1 << 16)
	tid := h.Register(16, 0, 0)

	ptrs := make([]uint32, SlabBlocks)
	for i := range ptrs {
		ptrs[i] = h.Alloc(tid)
		if ptrs[i] == 0 {
			t.Fatalf("alloc %d failed", i)
		}
		if h.TypeID(ptrs[i]) != tid {
			t.Errorf("block %d header type = %d, want %d", i, h.TypeID(ptrs[i]), tid)
		}
	}
	mark := h.Watermark()

	// Property: after freeing N blocks, N more allocations of the same
	// type carve no new slab.
	for _, p := range ptrs {
		h.Free(p)
	}
	for i := 0; i < SlabBlocks; i++ {
		if p := h.Alloc(tid); p == 0 {
			t.Fatalf("re-alloc %d failed", i)
		}
	}
	if h.Watermark() != mark {
		t.Errorf("watermark moved from %d to %d; a fresh slab was carved despite a full freelist", mark, h.Watermark())
	}
}

func TestFreelistsAreSegregatedByType(t *testing.T) {
	h := NewHeap(1 << 16)
	a := h.Register(16, 0, 0)
	b := h.Register(16, 0, 0)

	pa := h.Alloc(a)
	h.Free(pa)
	pb := h.Alloc(b)
	if pa == pb {
		t.Errorf("type %d's freed block was handed out for type %d", a, b)
	}
}

func TestAllocExhaustionReturnsZero(t *testing.T) {
	// A heap barely larger than the type table: the first slab carve
	// cannot fit.
	h := NewHeap(int(NewHeap(1).DataStart()) + 64)
	tid := h.Register(1024, 0, 0)
	if p := h.Alloc(tid); p != 0 {
		t.Errorf("alloc on an exhausted heap = %d, want 0", p)
	}
}

func TestSweepReclaimsUnmarkedAndClearsMarks(t *testing.T) {
	h := NewHeap(1 << 16)
	tid := h.Register(16, 0, 0)

	live := h.Alloc(tid)
	dead := h.Alloc(tid)
	h.Mark(live)

	h.Sweep()

	if h.IsMarked(live) {
		t.Errorf("sweep did not clear the survivor's mark")
	}
	// The dead block went back on the freelist; the survivor did not.
	seen := make(map[uint32]bool)
	for {
		p := h.Alloc(tid)
		if p == 0 || seen[p] {
			break
		}
		seen[p] = true
		if p == live {
			t.Errorf("sweep recycled a marked block")
			break
		}
		if len(seen) > 4*SlabBlocks {
			break
		}
	}
	if !seen[dead] {
		t.Errorf("sweep did not reclaim the unmarked block")
	}
}

func TestHeaderSurvivesUserWrites(t *testing.T) {
	h := NewHeap(1 << 16)
	tid := h.Register(16, 0, 0)
	p := h.Alloc(tid)
	h.WriteField(p, 0, ^uint64(0))
	h.WriteField(p, 8, ^uint64(0))
	if h.TypeID(p) != tid {
		t.Errorf("writing both fields clobbered the header")
	}
	if h.IsMarked(p) {
		t.Errorf("writing both fields set the mark bit")
	}
}
