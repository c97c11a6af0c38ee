package shadow

import (
	"testing"

	"github.com/kavishsathia/starc/runtime/alloc"
	"github.com/kavishsathia/starc/runtime/dalloc"
)

func heaps() (*alloc.Heap, *dalloc.Heap, *Stack) {
	fixed := alloc.NewHeap(1 << 16)
	variable := dalloc.NewHeap(1 << 16)
	return fixed, variable, NewStack(1 << 16)
}

func TestPushSetGetPop(t *testing.T) {
	_, _, s := heaps()
	s.Push(3)
	s.Set(1, 0x1234, TagFixed)
	v, tag := s.Get(1)
	if v != 0x1234 || tag != TagFixed {
		t.Errorf("Get = (%#x, %d), want (0x1234, 1)", v, tag)
	}
	if v, tag := s.Get(0); v != 0 || tag != TagNone {
		t.Errorf("unset slot = (%#x, %d), want zeroed", v, tag)
	}

	s.Push(2)
	if v, _ := s.Get(1); v == 0x1234 {
		t.Errorf("new frame still sees the caller's slots")
	}
	s.Set(0, 0x5678, TagVariable)
	s.Pop()
	if v, tag := s.Get(1); v != 0x1234 || tag != TagFixed {
		t.Errorf("after pop, caller's slot = (%#x, %d), want restored", v, tag)
	}
}

func TestGCKeepsRootedRecordAndFields(t *testing.T) {
	fixed, variable, s := heaps()
	// Type 0: one struct-pointer field, one list field, one scalar.
	tid := fixed.Register(24, 1, 1)
	leaf := fixed.Register(8, 0, 0)

	child := fixed.Alloc(leaf)
	fixed.WriteField(child, 0, 99)
	str := variable.NewString("kept")

	root := fixed.Alloc(tid)
	fixed.WriteField(root, 0, uint64(child))
	fixed.WriteField(root, 8, uint64(str))
	fixed.WriteField(root, 16, 7)

	garbage := fixed.Alloc(leaf)
	deadStr := variable.NewString("dropped")

	s.Push(1)
	s.Set(0, root, TagFixed)
	GC(s, fixed, variable)

	if fixed.ReadField(root, 16) != 7 || fixed.ReadField(child, 0) != 99 {
		t.Errorf("rooted record graph changed across a collection")
	}
	if variable.Tag(str) == dalloc.TagFree {
		t.Errorf("string reachable through the rooted record was swept")
	}
	if variable.Tag(deadStr) != dalloc.TagFree {
		t.Errorf("unreachable string survived the sweep")
	}
	// The garbage record went back on its freelist; the live child did
	// not. Draining the freelist must therefore surface garbage and
	// never child.
	sawGarbage := false
	for i := 0; i < 2*alloc.SlabBlocks; i++ {
		p := fixed.Alloc(leaf)
		if p == 0 {
			break
		}
		if p == garbage {
			sawGarbage = true
		}
		if p == child {
			t.Errorf("live child record was reclaimed")
		}
	}
	if !sawGarbage {
		t.Errorf("unreachable record was not reclaimed")
	}
}

func TestGCTracesListElements(t *testing.T) {
	fixed, variable, s := heaps()
	leaf := fixed.Register(8, 0, 0)

	a := fixed.Alloc(leaf)
	b := fixed.Alloc(leaf)
	list := variable.Alloc(dalloc.TagFixedPtr, 2)
	variable.WriteWord(list, 0, uint64(a))
	variable.WriteWord(list, 1, uint64(b))

	s.Push(1)
	s.Set(0, list, TagVariable)
	GC(s, fixed, variable)

	// Both records were reachable only through the list's elements;
	// neither may be on the freelist now.
	for i := 0; i < alloc.SlabBlocks; i++ {
		p := fixed.Alloc(leaf)
		if p == 0 {
			break
		}
		if p == a || p == b {
			t.Errorf("list element %d was reclaimed while its list was rooted", p)
		}
	}
}

func TestGCHandlesCycles(t *testing.T) {
	fixed, variable, s := heaps()
	tid := fixed.Register(8, 1, 0)

	a := fixed.Alloc(tid)
	b := fixed.Alloc(tid)
	fixed.WriteField(a, 0, uint64(b))
	fixed.WriteField(b, 0, uint64(a))

	s.Push(1)
	s.Set(0, a, TagFixed)
	// A cycle must neither hang the mark nor be reclaimed.
	GC(s, fixed, variable)

	if uint32(fixed.ReadField(a, 0)) != b || uint32(fixed.ReadField(b, 0)) != a {
		t.Errorf("cycle broken by collection")
	}

	// Drop the root: the cycle is unreachable and must be reclaimed,
	// which reference counting could not do.
	s.Set(0, 0, TagNone)
	GC(s, fixed, variable)
	got := make(map[uint32]bool)
	for i := 0; i < 2*alloc.SlabBlocks; i++ {
		p := fixed.Alloc(tid)
		if p == 0 {
			break
		}
		got[p] = true
	}
	if !got[a] || !got[b] {
		t.Errorf("unrooted cycle not reclaimed")
	}
}

func TestParkedOperandsAreRoots(t *testing.T) {
	fixed, variable, s := heaps()
	str := variable.NewString("parked")

	s.Push(1)
	s.Park(0, str, TagVariable)
	GC(s, fixed, variable)
	if variable.Tag(str) == dalloc.TagFree {
		t.Errorf("parked operand was swept")
	}

	s.ClearParked(0)
	GC(s, fixed, variable)
	if variable.Tag(str) != dalloc.TagFree {
		t.Errorf("cleared park slot still kept its operand alive")
	}
}

func TestPinsAreRootsUntilUnpinned(t *testing.T) {
	fixed, variable, s := heaps()
	str := variable.NewString("pinned")

	s.Push(1)
	mark := s.PinMark()
	s.Pin(str, TagVariable)
	GC(s, fixed, variable)
	if variable.Tag(str) == dalloc.TagFree {
		t.Errorf("pinned value was swept")
	}

	s.Unpin(mark)
	GC(s, fixed, variable)
	if variable.Tag(str) != dalloc.TagFree {
		t.Errorf("unpinned value survived")
	}
}

// TestFrameRootsMirrorLiveSlots exercises the root-completeness
// discipline: a slot cleared back to tag 0 stops keeping its old
// pointee alive, while every still-tagged slot in every frame keeps
// protecting its block through nested pushes and pops.
func TestFrameRootsMirrorLiveSlots(t *testing.T) {
	fixed, variable, s := heaps()
	outer := variable.NewString("outer")
	inner := variable.NewString("inner")

	s.Push(2)
	s.Set(0, outer, TagVariable)
	s.Push(1)
	s.Set(0, inner, TagVariable)

	GC(s, fixed, variable)
	if variable.Tag(outer) == dalloc.TagFree || variable.Tag(inner) == dalloc.TagFree {
		t.Fatalf("live frame slots were not treated as roots")
	}

	s.Pop()
	GC(s, fixed, variable)
	if variable.Tag(outer) == dalloc.TagFree {
		t.Errorf("outer survived its frame but was swept")
	}
	if variable.Tag(inner) != dalloc.TagFree {
		t.Errorf("inner's frame popped but its block survived")
	}
}
