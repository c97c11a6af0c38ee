package wasm

import (
	"fmt"

	"github.com/kavishsathia/starc/internal/compileerr"
	"github.com/kavishsathia/starc/internal/ir"
)

// Imported function indices. The function index space starts with the
// imports in exactly this order, user functions follow at numImports.
// Every call site in func.go names one of these constants, never a
// raw number.
const (
	impPrint = iota // env.print(str:i32)

	impAllocInit     // alloc.init()
	impAllocRegister // alloc.register(size, struct_count, list_count)
	impAllocAlloc    // alloc.alloc(type_id) -> ptr|0

	impDallocInit   // dalloc.init()
	impDallocAlloc  // dalloc.alloc(type_tag, length) -> ptr|0
	impDallocConcat // dalloc.concat(a, b) -> ptr|0
	impDallocSlice  // dalloc.slice(a, start, end) -> ptr|0
	impDallocIn     // dalloc.in(elem:i64, list:i32) -> bool
	impDallocEq     // dalloc.eq(a, b) -> bool
	impDallocItoa   // dalloc.itoa(i:i64) -> str|0
	impDallocBtoa   // dalloc.btoa(b:i32) -> str|0
	impDallocFtoa   // dalloc.ftoa(f:f64) -> str|0

	impShadowInit // shadow.init()
	impShadowPush // shadow.push(n_slots)
	impShadowPop  // shadow.pop()
	impShadowSet  // shadow.set(value, slot_index, tag)
	impShadowGC   // shadow.gc()

	numImports
)

// The three imported linear memories, in import order.
const (
	memFixed    uint32 = 0 // alloc.memory
	memVariable uint32 = 1 // dalloc.memory
	memShadow   uint32 = 2 // shadow.memory
)

// Shadow-memory layout constants shared with runtime/shadow: the
// scratchpad's two [tag:u32, value:u32] park pairs sit at offset 8,
// just after sp (offset 0) and fp (offset 4).
const (
	shadowScratchOffset uint32 = 8
)

// dalloc block tags, shared with runtime/dalloc: the nonzero values
// name the pointer-kind of a block's elements, which is what the
// collector's element walk keys on.
const (
	dtagScalar   = 1
	dtagFixedPtr = 2
	dtagVarPtr   = 3
)

type importDef struct {
	module, name    string
	params, results []byte
}

// importDefs lists every imported function in index order. The widths
// here are the wire contract with the three runtime heaps.
var importDefs = [numImports]importDef{
	impPrint:         {"env", "print", []byte{valI32}, nil},
	impAllocInit:     {"alloc", "init", nil, nil},
	impAllocRegister: {"alloc", "register", []byte{valI32, valI32, valI32}, nil},
	impAllocAlloc:    {"alloc", "alloc", []byte{valI32}, []byte{valI32}},
	impDallocInit:    {"dalloc", "init", nil, nil},
	impDallocAlloc:   {"dalloc", "alloc", []byte{valI32, valI32}, []byte{valI32}},
	impDallocConcat:  {"dalloc", "concat", []byte{valI32, valI32}, []byte{valI32}},
	impDallocSlice:   {"dalloc", "slice", []byte{valI32, valI32, valI32}, []byte{valI32}},
	impDallocIn:      {"dalloc", "in", []byte{valI64, valI32}, []byte{valI32}},
	impDallocEq:      {"dalloc", "eq", []byte{valI32, valI32}, []byte{valI32}},
	impDallocItoa:    {"dalloc", "itoa", []byte{valI64}, []byte{valI32}},
	impDallocBtoa:    {"dalloc", "btoa", []byte{valI32}, []byte{valI32}},
	impDallocFtoa:    {"dalloc", "ftoa", []byte{valF64}, []byte{valI32}},
	impShadowInit:    {"shadow", "init", nil, nil},
	impShadowPush:    {"shadow", "push", []byte{valI32}, nil},
	impShadowPop:     {"shadow", "pop", nil, nil},
	impShadowSet:     {"shadow", "set", []byte{valI32, valI32, valI32}, nil},
	impShadowGC:      {"shadow", "gc", nil, nil},
}

// moduler accumulates one module's sections: a deduplicated type
// table, one function entry and one code body per IR function, a
// funcref table filled by table index. The shape (typeCache keyed by a
// signature string, addFunction appending to funcs/codes) follows the
// pack's wasmbe generator.
type moduler struct {
	prog *ir.IRProgram

	types     []funcSig
	typeCache map[string]int

	funcs []int    // type index per user function, in prog.Functions order
	codes [][]byte // encoded body per user function, same order
}

type funcSig struct {
	params  []byte
	results []byte
}

func sigKey(params, results []byte) string {
	return string(params) + "|" + string(results)
}

func (m *moduler) typeIndex(params, results []byte) int {
	key := sigKey(params, results)
	if idx, ok := m.typeCache[key]; ok {
		return idx
	}
	idx := len(m.types)
	m.types = append(m.types, funcSig{params: params, results: results})
	m.typeCache[key] = idx
	return idx
}

// userSig builds the uniform calling convention signature for a user
// function of the given arity: an i32 and an i64 scratch, the i32
// captures pointer, then one i64 per user parameter; every function
// returns a single i64.
func userSig(arity int) (params, results []byte) {
	params = make([]byte, 0, 3+arity)
	params = append(params, valI32, valI64, valI32)
	for i := 0; i < arity; i++ {
		params = append(params, valI64)
	}
	return params, []byte{valI64}
}

// wasmIndex maps a position in prog.Functions to the function index
// space (imports first).
func (m *moduler) wasmIndex(pos int) int { return numImports + pos }

// posOfTable finds the prog.Functions position of the function holding
// a given table index, for direct calls (the table index is what
// flatten assigned; the position is what the function section order
// uses).
func (m *moduler) posOfTable(tableIndex int) (int, error) {
	for pos, fn := range m.prog.Functions {
		if fn.TableIndex == tableIndex {
			return pos, nil
		}
	}
	return 0, &compileerr.Codegen{Message: fmt.Sprintf("no function at table index %d", tableIndex)}
}

// Emit encodes prog as a complete WebAssembly module: types, imports,
// function declarations, a funcref table filled by an active element
// segment keyed on each function's table index, an exported main, and
// one code body per function. Section order and framing follow the
// binary format; the byte-level helpers live in encode.go.
func Emit(prog *ir.IRProgram) ([]byte, error) {
	m := &moduler{prog: prog, typeCache: make(map[string]int)}

	for i := range importDefs {
		m.typeIndex(importDefs[i].params, importDefs[i].results)
	}

	mainFn, ok := prog.FunctionByName("main")
	if !ok {
		return nil, &compileerr.Codegen{Message: "program has no main function"}
	}

	for _, fn := range prog.Functions {
		params, results := userSig(len(fn.Params) - 1)
		m.funcs = append(m.funcs, m.typeIndex(params, results))
	}
	for _, fn := range prog.Functions {
		fc := &funcCompiler{m: m, fn: fn, isMain: fn == mainFn}
		body, err := fc.compile()
		if err != nil {
			return nil, err
		}
		m.codes = append(m.codes, body)
	}

	var out []byte
	out = append(out, 0x00, 0x61, 0x73, 0x6d) // magic
	out = append(out, 0x01, 0x00, 0x00, 0x00) // version

	out = append(out, encodeSection(sectionType, m.typeSection())...)
	out = append(out, encodeSection(sectionImport, m.importSection())...)
	out = append(out, encodeSection(sectionFunction, m.functionSection())...)
	out = append(out, encodeSection(sectionTable, m.tableSection())...)
	out = append(out, encodeSection(sectionExport, m.exportSection(mainFn))...)
	elem, err := m.elementSection()
	if err != nil {
		return nil, err
	}
	out = append(out, encodeSection(sectionElement, elem)...)
	out = append(out, encodeSection(sectionCode, m.codeSection())...)
	return out, nil
}

func (m *moduler) typeSection() []byte {
	var body []byte
	for _, sig := range m.types {
		body = append(body, funcTypeTag)
		body = append(body, encodeVector(len(sig.params), sig.params)...)
		body = append(body, encodeVector(len(sig.results), sig.results)...)
	}
	return encodeVector(len(m.types), body)
}

func (m *moduler) importSection() []byte {
	var body []byte
	count := 0
	memAfter := func(module string, minPages uint64) {
		body = append(body, encodeString(module)...)
		body = append(body, encodeString("memory")...)
		body = append(body, importMemory, 0x00)
		body = append(body, encodeLEB128U(minPages)...)
		count++
	}
	for i := range importDefs {
		d := importDefs[i]
		body = append(body, encodeString(d.module)...)
		body = append(body, encodeString(d.name)...)
		body = append(body, importFunc)
		body = append(body, encodeLEB128U(uint64(m.typeIndex(d.params, d.results)))...)
		count++
		// Each runtime module's memory import rides just after its
		// last function import, keeping the memory index order
		// fixed-variable-shadow.
		switch i {
		case impAllocAlloc:
			memAfter("alloc", 1)
		case impDallocFtoa:
			memAfter("dalloc", 16)
		case impShadowGC:
			memAfter("shadow", 1)
		}
	}
	return encodeVector(count, body)
}

func (m *moduler) functionSection() []byte {
	var body []byte
	for _, tidx := range m.funcs {
		body = append(body, encodeLEB128U(uint64(tidx))...)
	}
	return encodeVector(len(m.funcs), body)
}

func (m *moduler) tableSection() []byte {
	var body []byte
	body = append(body, valFuncref, 0x00)
	body = append(body, encodeLEB128U(uint64(len(m.funcs)))...)
	return encodeVector(1, body)
}

func (m *moduler) exportSection(mainFn *ir.IRFunction) []byte {
	var body []byte
	body = append(body, encodeString("main")...)
	body = append(body, exportFunc)
	for pos, fn := range m.prog.Functions {
		if fn == mainFn {
			body = append(body, encodeLEB128U(uint64(m.wasmIndex(pos)))...)
			break
		}
	}
	return encodeVector(1, body)
}

// elementSection emits one active segment filling table slot t with
// the function whose TableIndex is t, for every t. The table index a
// MakeClosure packs into a function value therefore dereferences to
// the right code regardless of hoisting order in prog.Functions.
func (m *moduler) elementSection() ([]byte, error) {
	posByTable := make(map[int]int, len(m.prog.Functions))
	for pos, fn := range m.prog.Functions {
		posByTable[fn.TableIndex] = pos
	}
	var funcIdxs []byte
	for t := 0; t < len(m.prog.Functions); t++ {
		pos, ok := posByTable[t]
		if !ok {
			return nil, &compileerr.Codegen{Message: fmt.Sprintf("no function occupies table index %d", t)}
		}
		funcIdxs = append(funcIdxs, encodeLEB128U(uint64(m.wasmIndex(pos)))...)
	}
	var body []byte
	body = append(body, 0x00) // active, table 0, i32.const offset
	body = append(body, opI32Const)
	body = append(body, encodeLEB128S(0)...)
	body = append(body, opEnd)
	body = append(body, encodeVector(len(m.prog.Functions), funcIdxs)...)
	return encodeVector(1, body), nil
}

func (m *moduler) codeSection() []byte {
	var body []byte
	for _, code := range m.codes {
		body = append(body, encodeLEB128U(uint64(len(code)))...)
		body = append(body, code...)
	}
	return encodeVector(len(m.codes), body)
}
