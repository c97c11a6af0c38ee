package memimage

import (
	"encoding/binary"

	"github.com/kavishsathia/starc/runtime/alloc"
)

// FixedBlock is one block of the fixed heap as seen in a snapshot.
// Whether a block is live or on its type's freelist is not recorded in
// the block itself; the walker reports every carved block and the
// caller decides what to count.
type FixedBlock struct {
	UserPtr uint32
	TypeID  uint32
	Marked  bool
}

// ForEachFixedBlock walks the fixed heap's slab region the same way
// the sweeper does: each slab is alloc.SlabBlocks contiguous blocks of
// one type, identified by the first block's header. Returning false
// from fn stops the walk.
func (im *Image) ForEachFixedBlock(fn func(FixedBlock) bool) {
	p := im.FixedDataStart
	for p < im.FixedWatermark {
		if int(p)+8 > len(im.Fixed) {
			return
		}
		typeID := binary.LittleEndian.Uint32(im.Fixed[p:])
		if int(typeID) >= len(im.Types) {
			return
		}
		blockSize := 8 + im.Types[typeID].Size
		for i := 0; i < alloc.SlabBlocks; i++ {
			hdr := p + uint32(i)*blockSize
			if int(hdr)+8 > len(im.Fixed) {
				return
			}
			b := FixedBlock{
				UserPtr: hdr + 8,
				TypeID:  binary.LittleEndian.Uint32(im.Fixed[hdr:]),
				Marked:  binary.LittleEndian.Uint32(im.Fixed[hdr+4:]) != 0,
			}
			if !fn(b) {
				return
			}
		}
		p += blockSize * alloc.SlabBlocks
	}
}

// VariableBlock is one block of the variable heap as seen in a
// snapshot. Tag 0 is a free block.
type VariableBlock struct {
	UserPtr   uint32
	Tag       uint32
	Marked    bool
	SizeBytes uint32
	Length    uint32
}

// ForEachVariableBlock walks the variable heap front to back using
// each block's own size word, exactly as the sweeper advances.
// Returning false from fn stops the walk.
func (im *Image) ForEachVariableBlock(fn func(VariableBlock) bool) {
	p := uint32(4) // past the leading word
	for int(p)+16 <= len(im.Variable) {
		size := binary.LittleEndian.Uint32(im.Variable[p+8:])
		b := VariableBlock{
			UserPtr:   p + 16,
			Tag:       binary.LittleEndian.Uint32(im.Variable[p:]),
			Marked:    binary.LittleEndian.Uint32(im.Variable[p+4:]) != 0,
			SizeBytes: size,
			Length:    binary.LittleEndian.Uint32(im.Variable[p+12:]),
		}
		if !fn(b) {
			return
		}
		next := p + 16 + size + 4
		if next <= p {
			return
		}
		p = next
	}
}

// FixedTypeID reads the type id from a fixed-heap block's header,
// 8 bytes before the user pointer.
func (im *Image) FixedTypeID(userPtr uint32) uint32 {
	if userPtr < 8 || int(userPtr) > len(im.Fixed) {
		return ^uint32(0)
	}
	return binary.LittleEndian.Uint32(im.Fixed[userPtr-8:])
}

// VariableHeader reads a variable-heap block's element tag and length
// from the 16-byte header preceding the user pointer.
func (im *Image) VariableHeader(userPtr uint32) (tag, length uint32) {
	if userPtr < 16 || int(userPtr) > len(im.Variable) {
		return 0, 0
	}
	p := userPtr - 16
	return binary.LittleEndian.Uint32(im.Variable[p:]), binary.LittleEndian.Uint32(im.Variable[p+12:])
}

// FixedField reads field word i of a fixed-heap record in the
// snapshot.
func (im *Image) FixedField(userPtr uint32, i uint32) uint64 {
	off := userPtr + i*8
	if int(off)+8 > len(im.Fixed) {
		return 0
	}
	return binary.LittleEndian.Uint64(im.Fixed[off:])
}

// VariableWord reads element word i of a variable-heap block in the
// snapshot.
func (im *Image) VariableWord(userPtr uint32, i uint32) uint64 {
	off := userPtr + i*8
	if int(off)+8 > len(im.Variable) {
		return 0
	}
	return binary.LittleEndian.Uint64(im.Variable[off:])
}

// Root is one nonzero-tag shadow slot decoded from a snapshot: the
// root's heap (1 fixed, 2 variable) and the address it pins.
type Root struct {
	Frame int
	Slot  int
	Tag   uint32
	Value uint32
}

// ShadowRoots decodes the shadow memory's frame chain, top frame
// first: sp/fp at offsets 0/4, frames of [tag,value] pairs each closed
// by a saved-fp word. This is the same piecewise frame decode the live
// collector performs, applied to a dead image.
func (im *Image) ShadowRoots() []Root {
	const framesStart = 24
	if len(im.Shadow) < framesStart {
		return nil
	}
	sp := binary.LittleEndian.Uint32(im.Shadow[0:])
	fp := binary.LittleEndian.Uint32(im.Shadow[4:])
	var roots []Root
	frame := 0
	for fp >= framesStart && sp > fp && int(sp) <= len(im.Shadow) {
		nSlots := (sp - 4 - fp) / 8
		for i := uint32(0); i < nSlots; i++ {
			off := fp + i*8
			tag := binary.LittleEndian.Uint32(im.Shadow[off:])
			if tag == 0 {
				continue
			}
			roots = append(roots, Root{
				Frame: frame,
				Slot:  int(i),
				Tag:   tag,
				Value: binary.LittleEndian.Uint32(im.Shadow[off+4:]),
			})
		}
		savedFP := binary.LittleEndian.Uint32(im.Shadow[sp-4:])
		sp = fp
		fp = savedFP
		frame++
		if frame > 1<<20 {
			return roots
		}
	}
	return roots
}

// VariableString decodes a string block: one character byte per 8-byte
// slot, length from the header.
func (im *Image) VariableString(userPtr uint32) string {
	if int(userPtr) < 16 || int(userPtr)-4 >= len(im.Variable) {
		return ""
	}
	n := binary.LittleEndian.Uint32(im.Variable[userPtr-4:])
	out := make([]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		off := userPtr + i*8
		if int(off) >= len(im.Variable) {
			break
		}
		out = append(out, im.Variable[off])
	}
	return string(out)
}
