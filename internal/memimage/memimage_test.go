package memimage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kavishsathia/starc/runtime/alloc"
	"github.com/kavishsathia/starc/runtime/dalloc"
	"github.com/kavishsathia/starc/runtime/shadow"
)

// buildImage assembles a small but real three-heap state: one record
// type with a string field, one live record rooted from a shadow
// frame.
func buildImage(t *testing.T) (*Image, uint32, uint32) {
	t.Helper()
	fixed := alloc.NewHeap(1 << 16)
	variable := dalloc.NewHeap(1 << 16)
	roots := shadow.NewStack(1 << 12)

	tid := fixed.Register(8, 0, 1)
	str := variable.NewString("hello")
	rec := fixed.Alloc(tid)
	fixed.WriteField(rec, 0, uint64(str))
	roots.Push(2)
	roots.Set(0, rec, shadow.TagFixed)

	im := &Image{
		Types: []TypeInfo{
			{Size: fixed.TypeSize(tid), StructCount: 0, ListCount: 1},
		},
		FixedDataStart: fixed.DataStart(),
		FixedWatermark: fixed.Watermark(),
		Fixed:          fixed.Bytes(),
		Variable:       variable.Bytes(),
		Shadow:         roots.Bytes(),
	}
	return im, rec, str
}

func TestWriteOpenRoundTrip(t *testing.T) {
	im, rec, str := buildImage(t)
	path := filepath.Join(t.TempDir(), "run.starimg")
	if err := Write(path, im); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer got.Close()

	if len(got.Types) != 1 || got.Types[0].Size != 8 || got.Types[0].ListCount != 1 {
		t.Errorf("types round-tripped as %+v", got.Types)
	}
	if got.FixedDataStart != im.FixedDataStart || got.FixedWatermark != im.FixedWatermark {
		t.Errorf("slab bounds round-tripped as [%d,%d)", got.FixedDataStart, got.FixedWatermark)
	}
	if got.FixedTypeID(rec) != 0 {
		t.Errorf("record's header type = %d, want 0", got.FixedTypeID(rec))
	}
	if uint32(got.FixedField(rec, 0)) != str {
		t.Errorf("record field does not point at the string")
	}
	if s := got.VariableString(str); s != "hello" {
		t.Errorf("string decoded as %q", s)
	}
}

func TestShadowRootsDecode(t *testing.T) {
	im, rec, _ := buildImage(t)
	roots := im.ShadowRoots()
	if len(roots) != 1 {
		t.Fatalf("decoded %d roots, want 1", len(roots))
	}
	r := roots[0]
	if r.Tag != 1 || r.Value != rec || r.Slot != 0 {
		t.Errorf("root = %+v, want slot 0 tag 1 value %d", r, rec)
	}
}

func TestWalkersVisitEveryBlock(t *testing.T) {
	im, rec, str := buildImage(t)

	foundRec := false
	count := 0
	im.ForEachFixedBlock(func(b FixedBlock) bool {
		count++
		if b.UserPtr == rec {
			foundRec = true
		}
		return true
	})
	if count != alloc.SlabBlocks {
		t.Errorf("fixed walker visited %d blocks, want one slab of %d", count, alloc.SlabBlocks)
	}
	if !foundRec {
		t.Errorf("fixed walker missed the allocated record")
	}

	foundStr, foundFree := false, false
	im.ForEachVariableBlock(func(b VariableBlock) bool {
		if b.UserPtr == str && b.Tag != 0 {
			foundStr = true
			if b.Length != 5 {
				t.Errorf("string block length = %d, want 5", b.Length)
			}
		}
		if b.Tag == 0 {
			foundFree = true
		}
		return true
	})
	if !foundStr {
		t.Errorf("variable walker missed the string block")
	}
	if !foundFree {
		t.Errorf("variable walker missed the trailing free block")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk")
	if err := writeJunk(path); err != nil {
		t.Fatal(err)
	}
	if im, err := Open(path); err == nil {
		im.Close()
		t.Fatal("Open accepted a non-image file")
	}
}

func writeJunk(path string) error {
	return os.WriteFile(path, []byte("definitely not a heap image, but long enough to map"), 0644)
}
