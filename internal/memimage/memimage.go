// Package memimage reads and writes heap snapshot images: the three
// linear memories of a finished run (fixed, variable, shadow) plus the
// type table needed to interpret the fixed heap, in one file. The heap
// inspector (cmd/starheap) and the test harness consume these the way
// a debugger consumes a core file: a dead, self-describing byte image
// walked without the process that produced it.
//
// Reading memory-maps the file with golang.org/x/sys/unix rather than
// slurping it: a snapshot of a large variable heap is mostly untouched
// pages, and the inspector's walks only fault in what they visit.
package memimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// magic opens every image file; the trailing byte is the format
// version.
var magic = [8]byte{'S', 'T', 'A', 'R', 'I', 'M', 'G', 1}

// TypeInfo mirrors one fixed-heap type table entry: payload size and
// the segregated pointer-field counts the collector used.
type TypeInfo struct {
	Size        uint32
	StructCount uint32
	ListCount   uint32
}

// Image is a parsed snapshot. When produced by Open, the three regions
// alias a read-only mapping and Close must be called; when assembled
// in memory for Write, Close is a no-op.
type Image struct {
	Types []TypeInfo

	// FixedDataStart/FixedWatermark bound the slab region of the fixed
	// heap: blocks live in [FixedDataStart, FixedWatermark).
	FixedDataStart uint32
	FixedWatermark uint32

	Fixed    []byte
	Variable []byte
	Shadow   []byte

	mapped []byte
}

// header layout after magic, all little-endian u32/u64:
// typeCount u32, fixedDataStart u32, fixedWatermark u32,
// then typeCount*(size,structCount,listCount) u32 triples,
// then fixedLen, variableLen, shadowLen u64, then the three regions.

// Write serializes im to path.
func Write(path string, im *Image) error {
	var buf bytes.Buffer
	buf.Write(magic[:])
	w := func(v interface{}) {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	w(uint32(len(im.Types)))
	w(im.FixedDataStart)
	w(im.FixedWatermark)
	for _, t := range im.Types {
		w(t.Size)
		w(t.StructCount)
		w(t.ListCount)
	}
	w(uint64(len(im.Fixed)))
	w(uint64(len(im.Variable)))
	w(uint64(len(im.Shadow)))
	buf.Write(im.Fixed)
	buf.Write(im.Variable)
	buf.Write(im.Shadow)
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Open memory-maps the image at path read-only and parses its header.
// The returned Image's regions alias the mapping; call Close when
// done.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() < int64(len(magic))+12 {
		return nil, fmt.Errorf("memimage: %s: too small to be an image", path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("memimage: mmap %s: %v", path, err)
	}
	im, err := parse(data)
	if err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("memimage: %s: %v", path, err)
	}
	im.mapped = data
	return im, nil
}

// Close unmaps an Open'd image. Safe on a Write-side Image.
func (im *Image) Close() error {
	if im.mapped == nil {
		return nil
	}
	data := im.mapped
	im.mapped = nil
	im.Fixed, im.Variable, im.Shadow = nil, nil, nil
	return unix.Munmap(data)
}

func parse(data []byte) (*Image, error) {
	if !bytes.Equal(data[:len(magic)], magic[:]) {
		return nil, fmt.Errorf("bad magic")
	}
	off := len(magic)
	u32 := func() (uint32, error) {
		if off+4 > len(data) {
			return 0, fmt.Errorf("truncated header")
		}
		v := binary.LittleEndian.Uint32(data[off:])
		off += 4
		return v, nil
	}
	u64 := func() (uint64, error) {
		if off+8 > len(data) {
			return 0, fmt.Errorf("truncated header")
		}
		v := binary.LittleEndian.Uint64(data[off:])
		off += 8
		return v, nil
	}

	im := &Image{}
	typeCount, err := u32()
	if err != nil {
		return nil, err
	}
	if im.FixedDataStart, err = u32(); err != nil {
		return nil, err
	}
	if im.FixedWatermark, err = u32(); err != nil {
		return nil, err
	}
	im.Types = make([]TypeInfo, typeCount)
	for i := range im.Types {
		if im.Types[i].Size, err = u32(); err != nil {
			return nil, err
		}
		if im.Types[i].StructCount, err = u32(); err != nil {
			return nil, err
		}
		if im.Types[i].ListCount, err = u32(); err != nil {
			return nil, err
		}
	}
	fixedLen, err := u64()
	if err != nil {
		return nil, err
	}
	varLen, err := u64()
	if err != nil {
		return nil, err
	}
	shadowLen, err := u64()
	if err != nil {
		return nil, err
	}
	need := uint64(off) + fixedLen + varLen + shadowLen
	if uint64(len(data)) < need {
		return nil, fmt.Errorf("regions truncated: file %d bytes, need %d", len(data), need)
	}
	im.Fixed = data[off : off+int(fixedLen)]
	off += int(fixedLen)
	im.Variable = data[off : off+int(varLen)]
	off += int(varLen)
	im.Shadow = data[off : off+int(shadowLen)]
	return im, nil
}
