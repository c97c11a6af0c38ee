package wasm

import (
	"bytes"
	"testing"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/ir"
)

func TestLEB128Unsigned(t *testing.T) {
	tests := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
	}
	for _, tt := range tests {
		if got := encodeLEB128U(tt.v); !bytes.Equal(got, tt.want) {
			t.Errorf("encodeLEB128U(%d) = %x, want %x", tt.v, got, tt.want)
		}
	}
}

func TestLEB128Signed(t *testing.T) {
	tests := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{-1, []byte{0x7f}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-64, []byte{0x40}},
		{-123456, []byte{0xc0, 0xbb, 0x78}},
	}
	for _, tt := range tests {
		if got := encodeLEB128S(tt.v); !bytes.Equal(got, tt.want) {
			t.Errorf("encodeLEB128S(%d) = %x, want %x", tt.v, got, tt.want)
		}
	}
}

// decodeLEB128U is the test-side inverse of encodeLEB128U.
func decodeLEB128U(b []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i, c := range b {
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, i + 1
		}
		shift += 7
	}
	return v, 0
}

func mainOnly(body []ir.IRStmt) *ir.IRProgram {
	return &ir.IRProgram{
		Functions: []*ir.IRFunction{{
			Name:       "main",
			TableIndex: 0,
			Params:     []ir.IRVar{{Name: "__captures", Slot: 2}},
			Body:       body,
		}},
	}
}

// walkSections checks the module framing: magic, version, then a
// sequence of (id, size, contents) records with strictly ascending ids
// and sizes that land exactly on the module's end.
func walkSections(t *testing.T, mod []byte) map[byte][]byte {
	t.Helper()
	if len(mod) < 8 {
		t.Fatalf("module too short: %d bytes", len(mod))
	}
	if !bytes.Equal(mod[:4], []byte{0x00, 0x61, 0x73, 0x6d}) {
		t.Fatalf("bad magic: %x", mod[:4])
	}
	if !bytes.Equal(mod[4:8], []byte{0x01, 0x00, 0x00, 0x00}) {
		t.Fatalf("bad version: %x", mod[4:8])
	}
	sections := make(map[byte][]byte)
	prev := byte(0)
	rest := mod[8:]
	for len(rest) > 0 {
		id := rest[0]
		if id <= prev {
			t.Fatalf("section id %d out of order after %d", id, prev)
		}
		prev = id
		size, n := decodeLEB128U(rest[1:])
		if n == 0 {
			t.Fatalf("unterminated size for section %d", id)
		}
		body := rest[1+n:]
		if uint64(len(body)) < size {
			t.Fatalf("section %d claims %d bytes, only %d remain", id, size, len(body))
		}
		sections[id] = body[:size]
		rest = body[size:]
	}
	return sections
}

func TestEmitModuleFraming(t *testing.T) {
	prog := mainOnly([]ir.IRStmt{
		&ir.IRPrint{Value: &ir.IRUnary{Op: ir.IRStringify, X: &ir.IRIntLit{Value: 7}, Typ: ast.String()}},
		&ir.IRReturn{Value: &ir.IRIntLit{Value: 0}},
	})
	mod, err := Emit(prog)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	sections := walkSections(t, mod)
	for _, id := range []byte{sectionType, sectionImport, sectionFunction, sectionTable, sectionExport, sectionElement, sectionCode} {
		if _, ok := sections[id]; !ok {
			t.Errorf("missing section %d", id)
		}
	}
	if !bytes.Contains(sections[sectionExport], []byte("main")) {
		t.Errorf("export section does not name main")
	}
}

func TestEmitImportVocabulary(t *testing.T) {
	mod, err := Emit(mainOnly([]ir.IRStmt{&ir.IRReturn{Value: &ir.IRIntLit{Value: 0}}}))
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	sections := walkSections(t, mod)
	imp := sections[sectionImport]
	count, _ := decodeLEB128U(imp)
	// Every import function plus the three memories.
	if want := uint64(numImports + 3); count != want {
		t.Errorf("import count = %d, want %d", count, want)
	}
	for _, name := range []string{"print", "register", "concat", "itoa", "push", "gc", "memory"} {
		if !bytes.Contains(imp, []byte(name)) {
			t.Errorf("import section missing %q", name)
		}
	}
}

func TestEmitFunctionAndCodeCountsAgree(t *testing.T) {
	prog := &ir.IRProgram{
		Functions: []*ir.IRFunction{
			{
				Name:       "helper",
				TableIndex: 0,
				Params: []ir.IRVar{
					{Name: "__captures", Slot: 2},
					{Name: "x", Slot: 3},
				},
				Body: []ir.IRStmt{&ir.IRReturn{Value: &ir.IRLocal{Slot: 3}}},
			},
			{
				Name:       "main",
				TableIndex: 1,
				Params:     []ir.IRVar{{Name: "__captures", Slot: 2}},
				Body: []ir.IRStmt{&ir.IRReturn{Value: &ir.IRCall{
					TableIndex: 0,
					Args:       []ir.IRExpr{&ir.IRIntLit{Value: 5}},
				}}},
			},
		},
	}
	mod, err := Emit(prog)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	sections := walkSections(t, mod)
	fnCount, _ := decodeLEB128U(sections[sectionFunction])
	codeCount, _ := decodeLEB128U(sections[sectionCode])
	if fnCount != 2 || codeCount != 2 {
		t.Errorf("function/code counts = %d/%d, want 2/2", fnCount, codeCount)
	}
	elemCount, _ := decodeLEB128U(sections[sectionElement])
	if elemCount != 1 {
		t.Errorf("element segment count = %d, want 1", elemCount)
	}
}

func TestEmitRequiresMain(t *testing.T) {
	prog := &ir.IRProgram{
		Functions: []*ir.IRFunction{{
			Name:       "helper",
			TableIndex: 0,
			Params:     []ir.IRVar{{Name: "__captures", Slot: 2}},
			Body:       []ir.IRStmt{&ir.IRReturn{}},
		}},
	}
	if _, err := Emit(prog); err == nil {
		t.Fatal("Emit accepted a program without main")
	}
}

func TestEmitRejectsTableGap(t *testing.T) {
	prog := &ir.IRProgram{
		Functions: []*ir.IRFunction{{
			Name:       "main",
			TableIndex: 3, // 0..2 unoccupied
			Params:     []ir.IRVar{{Name: "__captures", Slot: 2}},
			Body:       []ir.IRStmt{&ir.IRReturn{}},
		}},
	}
	if _, err := Emit(prog); err == nil {
		t.Fatal("Emit accepted a function table with holes")
	}
}
