package dalloc

import "testing"

func TestAllocSplitsAndInitializesHeader(t *testing.T) {
	h := NewHeap(4096)
	p := h.Alloc(TagScalar, 5)
	if p == 0 {
		t.Fatal("alloc failed")
	}
	if h.Tag(p) != TagScalar {
		t.Errorf("tag = %d, want %d", h.Tag(p), TagScalar)
	}
	if h.Length(p) != 5 {
		t.Errorf("length = %d, want 5", h.Length(p))
	}
	q := h.Alloc(TagScalar, 5)
	if q == 0 || q == p {
		t.Errorf("second alloc = %d, want a distinct block", q)
	}
}

func TestAllocExhaustionReturnsZero(t *testing.T) {
	h := NewHeap(256)
	if p := h.Alloc(TagScalar, 1000); p != 0 {
		t.Errorf("oversized alloc = %d, want 0", p)
	}
}

// TestCoalescing: freeing two adjacent
// blocks then allocating one of their combined size must succeed.
func TestCoalescing(t *testing.T) {
	h := NewHeap(4096)
	a := h.Alloc(TagScalar, 10)
	b := h.Alloc(TagScalar, 10)
	// Keep a third block so b cannot merge with the tail free block
	// and mask a missing backward merge.
	c := h.Alloc(TagScalar, 10)
	if a == 0 || b == 0 || c == 0 {
		t.Fatal("setup allocations failed")
	}

	h.Free(a)
	h.Free(b)

	// a's and b's regions merged: 2*(80 payload + 20 overhead) bytes,
	// enough for a 20-element block (160 payload + 20 overhead).
	d := h.Alloc(TagScalar, 20)
	if d == 0 {
		t.Fatal("allocation of the combined size failed; blocks did not coalesce")
	}
	if d != a {
		t.Errorf("combined block at %d, want a's old address %d (first fit)", d, a)
	}
}

func TestFreeCoalescesForward(t *testing.T) {
	h := NewHeap(4096)
	a := h.Alloc(TagScalar, 10)
	b := h.Alloc(TagScalar, 10)
	c := h.Alloc(TagScalar, 10)
	if c == 0 {
		t.Fatal("setup failed")
	}
	h.Free(b)
	h.Free(a) // must merge with the free b ahead of it
	d := h.Alloc(TagScalar, 20)
	if d != a {
		t.Errorf("forward coalesce: got %d, want %d", d, a)
	}
}

func TestSweepFreesUnmarked(t *testing.T) {
	h := NewHeap(4096)
	live := h.Alloc(TagScalar, 4)
	dead := h.Alloc(TagScalar, 4)
	h.WriteWord(live, 0, 0xdead)
	h.Mark(live)

	h.Sweep()

	if h.Tag(live) != TagScalar {
		t.Errorf("marked block was swept")
	}
	if h.IsMarked(live) {
		t.Errorf("sweep did not clear the survivor's mark")
	}
	if h.Tag(dead) == TagScalar && h.Length(dead) == 4 {
		// The dead block must have become free (tag 0), possibly
		// merged into a neighbor.
		t.Errorf("unmarked block survived the sweep")
	}
	if h.ReadWord(live, 0) != 0xdead {
		t.Errorf("survivor's payload changed")
	}
}

func TestConcatCopiesBothOperands(t *testing.T) {
	h := NewHeap(4096)
	a := h.NewString("foo")
	b := h.NewString("bar")
	c := h.Concat(a, b)
	if c == 0 {
		t.Fatal("concat failed")
	}
	if got := h.ReadString(c); got != "foobar" {
		t.Errorf("concat = %q, want %q", got, "foobar")
	}
	if h.ReadString(a) != "foo" || h.ReadString(b) != "bar" {
		t.Errorf("concat mutated an operand")
	}
}

func TestSliceCopiesHalfOpenRange(t *testing.T) {
	h := NewHeap(4096)
	a := h.Alloc(TagScalar, 5)
	for i := uint32(0); i < 5; i++ {
		h.WriteWord(a, i, uint64(10+i))
	}
	s := h.Slice(a, 1, 4)
	if s == 0 {
		t.Fatal("slice failed")
	}
	if h.Length(s) != 3 {
		t.Fatalf("slice length = %d, want 3", h.Length(s))
	}
	for i := uint32(0); i < 3; i++ {
		if got := h.ReadWord(s, i); got != uint64(11+i) {
			t.Errorf("slice[%d] = %d, want %d", i, got, 11+i)
		}
	}
}

func TestEqualAndContains(t *testing.T) {
	h := NewHeap(4096)
	a := h.NewString("star")
	b := h.NewString("star")
	c := h.NewString("tsar")
	if !h.Equal(a, b) {
		t.Errorf("identical strings compare unequal")
	}
	if h.Equal(a, c) {
		t.Errorf("different strings compare equal")
	}

	xs := h.Alloc(TagScalar, 3)
	for i, v := range []uint64{5, 6, 7} {
		h.WriteWord(xs, uint32(i), v)
	}
	if !h.Contains(6, xs) {
		t.Errorf("contains missed a present element")
	}
	if h.Contains(9, xs) {
		t.Errorf("contains found an absent element")
	}
}

func TestNumericToString(t *testing.T) {
	h := NewHeap(1 << 16)
	tests := []struct {
		got  uint32
		want string
	}{
		{h.IntToString(0), "0"},
		{h.IntToString(42), "42"},
		{h.IntToString(-42), "-42"},
		{h.BoolToString(true), "true"},
		{h.BoolToString(false), "false"},
		{h.FloatToString(3.5), "3.500000"},
		{h.FloatToString(-1.5), "-1.500000"},
		{h.FloatToString(2), "2.000000"},
	}
	for _, tt := range tests {
		if got := h.ReadString(tt.got); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}
