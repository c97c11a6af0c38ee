// Package ir implements IR lowering. It transforms the
// checked, flattened, wrapped tree into a flat representation of
// IRStruct and IRFunction values: identifiers resolved to slots, struct
// names resolved to indices, field names resolved to byte offsets.
//
// An IRStruct doubles as the type-table entry the runtime registers
// at bootstrap: payload size plus the segregated pointer-field counts
// the collector's mark walk keys on.
package ir

import (
	"fmt"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/compileerr"
)

// IRField is one field of an IRStruct: its declared type and its byte
// offset within the record (always 8*position).
type IRField struct {
	Name string
	Typ  *ast.Type
	Off  int64
}

// IRStruct is a fully laid-out struct type, ready for
// runtime/alloc.Register: Size is the payload size in bytes (excluding
// the 8-byte block header), StructCount and ListCount are the
// segregated pointer-field counts the collector's mark walk uses.
type IRStruct struct {
	Name        string
	Index       int
	Fields      []IRField
	Size        int64
	StructCount int // fields pointing into the fixed heap
	ListCount   int // fields pointing into the variable heap
}

func (s *IRStruct) field(name string) (IRField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return IRField{}, false
}

// IRVar records one parameter's or local's slot and type, used to
// size a function's frame and to drive shadow-slot root registration.
type IRVar struct {
	Name string
	Typ  *ast.Type
	Slot int
}

// IRFunction is a fully resolved function body.
type IRFunction struct {
	Name           string
	TableIndex     int
	CapturesStruct string // "" if the function captures nothing
	Params         []IRVar
	Returns        *ast.Type
	Locals         []IRVar
	Body           []IRStmt
}

// IRProgram is the output of lowering: a flat struct table (the first
// three entries always the tagged-value record variants, see below)
// and a flat function list. main is not guaranteed to be Functions[0]
// (flattening hoists a function's own nested declarations before the
// function itself, so a main that declares a nested function pushes
// main later in the list); look it up with FunctionByName("main")
// instead of assuming a position.
type IRProgram struct {
	Structs   []*IRStruct
	Functions []*IRFunction
}

func (p *IRProgram) structByName(name string) (*IRStruct, bool) {
	for _, s := range p.Structs {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// StructByName is the exported form of structByName, for callers
// outside this package (internal/wasm, runtime/vm) that need to look
// up a registered struct's layout by name.
func (p *IRProgram) StructByName(name string) (*IRStruct, bool) { return p.structByName(name) }

// FunctionByName finds a lowered function by its source name. Lookup
// by name, not by position, is required for finding main: flattening
// hoists a nested function before the enclosing function that declares
// it, so main is not reliably Functions[0] whenever main itself
// declares a nested function. Every consumer that needs the entry
// point uses this instead of assuming position 0.
func (p *IRProgram) FunctionByName(name string) (*IRFunction, bool) {
	for _, fn := range p.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return nil, false
}

// FunctionByTableIndex finds a lowered function by its function-table
// slot, used for indirect calls and for building the active element
// segment that fills the WebAssembly function table.
func (p *IRProgram) FunctionByTableIndex(idx int) (*IRFunction, bool) {
	for _, fn := range p.Functions {
		if fn.TableIndex == idx {
			return fn, true
		}
	}
	return nil, false
}

func errf(pos ast.Pos, format string, args ...interface{}) error {
	return &compileerr.IRGen{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// Every nullable/errorable value boxes into a two-field {tag, value}
// record. One universal type id can't tell the collector's generic
// struct-walk whether "value" is itself a fixed-heap pointer, a
// variable-heap pointer, or an inline scalar — and that walk drives
// entirely off the type table's struct_count/list_count. So the
// record is registered as three same-shaped variants, chosen at each
// box site by the wrapped type's own plain shape, rather than one
// type id carrying ambiguous pointer-ness.
const (
	taggedPrimName = "__tagged"          // value is an inline scalar (or unused, tag 0/1)
	taggedFixedName = "__tagged_fixed"   // value is a fixed-heap (struct) pointer
	taggedVarName   = "__tagged_variable" // value is a variable-heap (list/string) pointer
)

// Lower transforms prog (already checked, flattened, and wrapped) into
// an IRProgram, preserving prog.Functions' order (see IRProgram's own
// doc comment on why that is not necessarily main-first).
func Lower(prog *ast.Program) (*IRProgram, error) {
	l := &lowerer{src: prog, out: &IRProgram{}}

	l.addStruct(&ast.StructDecl{
		Name: taggedPrimName,
		Fields: []ast.StructField{
			{Name: "tag", Typ: ast.Integer()},
			{Name: "value", Typ: ast.Integer()},
		},
	})
	l.addStruct(&ast.StructDecl{
		Name: taggedFixedName,
		Fields: []ast.StructField{
			{Name: "tag", Typ: ast.Integer()},
			{Name: "value", Typ: ast.Struct("")},
		},
	})
	l.addStruct(&ast.StructDecl{
		Name: taggedVarName,
		Fields: []ast.StructField{
			{Name: "tag", Typ: ast.Integer()},
			{Name: "value", Typ: ast.List(ast.Unknown())},
		},
	})
	for _, sd := range prog.Structs {
		l.addStruct(sd)
	}

	l.funcIndex = make(map[string]int, len(prog.Functions))
	for _, fn := range prog.Functions {
		l.funcIndex[fn.Name] = fn.TableIndex
	}

	for _, fn := range prog.Functions {
		if err := l.lowerFunc(fn); err != nil {
			return nil, err
		}
	}
	return l.out, nil
}

type lowerer struct {
	src       *ast.Program
	out       *IRProgram
	funcIndex map[string]int
}

func (l *lowerer) addStruct(sd *ast.StructDecl) {
	var ptrFields, listFields, primFields []IRField
	for _, f := range sd.Fields {
		irf := IRField{Name: f.Name, Typ: f.Typ}
		switch {
		case f.Typ.IsFixedHeapPointer():
			ptrFields = append(ptrFields, irf)
		case f.Typ.IsVariableHeapPointer():
			listFields = append(listFields, irf)
		default:
			primFields = append(primFields, irf)
		}
	}
	fields := make([]IRField, 0, len(ptrFields)+len(listFields)+len(primFields))
	fields = append(fields, ptrFields...)
	fields = append(fields, listFields...)
	fields = append(fields, primFields...)
	for i := range fields {
		fields[i].Off = int64(i) * 8
	}
	s := &IRStruct{
		Name:        sd.Name,
		Index:       len(l.out.Structs),
		Fields:      fields,
		Size:        int64(len(fields)) * 8,
		StructCount: len(ptrFields),
		ListCount:   len(listFields),
	}
	sd.Index = s.Index
	l.out.Structs = append(l.out.Structs, s)
}

func (l *lowerer) lowerFunc(fn *ast.FnDecl) error {
	params := make([]IRVar, 0, len(fn.Params)+1)
	params = append(params, IRVar{Name: "__captures", Typ: ast.Integer(), Slot: 2})
	for _, p := range fn.Params {
		params = append(params, IRVar{Name: p.Name, Typ: p.Typ, Slot: p.Slot})
	}
	locals := make([]IRVar, 0, len(fn.Locals))
	for _, li := range fn.Locals {
		locals = append(locals, IRVar{Name: li.Name, Typ: li.Typ, Slot: li.Slot})
	}

	fb := &funcBuilder{l: l, fn: fn}
	body, err := fb.stmts(fn.Body)
	if err != nil {
		return err
	}

	l.out.Functions = append(l.out.Functions, &IRFunction{
		Name:           fn.Name,
		TableIndex:     fn.TableIndex,
		CapturesStruct: fn.CapturesStruct,
		Params:         params,
		Returns:        fn.Returns,
		Locals:         locals,
		Body:           body,
	})
	return nil
}

// funcBuilder carries the one piece of per-function state lowering
// needs beyond the program-wide struct table: the function being
// lowered.
type funcBuilder struct {
	l  *lowerer
	fn *ast.FnDecl
}

// taggedVariant picks, from a tagged type t (e.g. a Box's own Typ, or
// the pre-unwrap type of an unwrap's operand), which of the three
// registered tagged-record layouts applies: the payload's plain shape
// decides whether "value" is a fixed-heap pointer, a variable-heap
// pointer, or an inline scalar.
func (fb *funcBuilder) taggedVariant(t *ast.Type) (*IRStruct, error) {
	plain := t.Plain()
	name := taggedPrimName
	switch {
	case plain.IsFixedHeapPointer():
		name = taggedFixedName
	case plain.IsVariableHeapPointer():
		name = taggedVarName
	}
	s, ok := fb.l.out.structByName(name)
	if !ok {
		return nil, fmt.Errorf("tagged variant %q not registered", name)
	}
	return s, nil
}
