// Package locals implements the locals and capture analyzer (component
// G). It assigns a stable slot index to every parameter and local
// variable and marks the free variables of nested functions as
// captured, recording a shared capture-field name on each original
// declaration.
//
// Slot layout: 0 and 1 are emitter scratch, 2 is
// the implicit captures pointer, named parameters occupy 3..3+arity,
// and locals are numbered upward from there in declaration order.
package locals

import (
	"fmt"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/compileerr"
)

const (
	scratchSlots   = 2
	capturesSlot   = 2
	firstParamSlot = 3
)

// declRef is the analyzer's private record of one declared variable:
// its slot, and (lazily) the capture-field name shared by every
// reference that reaches it from a nested function.
type declRef struct {
	typ          *ast.Type
	slot         int
	captured     bool
	fieldName    string
	markCaptured func(fieldName string)
}

// blockScope is one lexical block's name -> declRef environment.
type blockScope struct {
	vars   map[string]*declRef
	parent *blockScope
}

func newBlock(parent *blockScope) *blockScope {
	return &blockScope{vars: make(map[string]*declRef), parent: parent}
}

func (b *blockScope) define(name string, d *declRef) {
	b.vars[name] = d
}

// definedHere reports whether name was declared in this exact block,
// ignoring enclosing blocks; shadowing an outer name is allowed,
// redeclaring within one block is not.
func (b *blockScope) definedHere(name string) bool {
	_, ok := b.vars[name]
	return ok
}

func (b *blockScope) lookupLocal(name string) (*declRef, bool) {
	for s := b; s != nil; s = s.parent {
		if d, ok := s.vars[name]; ok {
			return d, true
		}
	}
	return nil, false
}

// funcScope tracks one function's slot counter and its lexical link to
// the block scope active in the enclosing function at the point this
// function was declared (nil for top-level functions).
type funcScope struct {
	fn         *ast.FnDecl
	parent     *funcScope
	parentBlk  *blockScope
	blocks     *blockScope
	nextSlot   int
	localInfos []ast.LocalInfo
}

// Analyzer walks a type-checked Program assigning slots and capture
// fields. It also needs the set of top-level function names so that a
// bare identifier referring to a global function (rather than a local
// variable) is left alone instead of reported as undeclared.
type Analyzer struct {
	fnNames map[string]bool
}

// Analyze runs the locals/capture pass over prog, mutating it in place.
func Analyze(prog *ast.Program) error {
	a := &Analyzer{fnNames: make(map[string]bool)}
	for _, fn := range prog.Functions {
		a.fnNames[fn.Name] = true
	}
	// prog.Functions is the pre-flattening list; nested functions are
	// still statements inside their parent's Body at this point, so
	// only the top-level entries need a direct call here.
	for _, fn := range prog.Functions {
		if err := a.analyzeFn(fn, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) errf(pos ast.Pos, format string, args ...interface{}) error {
	return &compileerr.Locals{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// analyzeFn processes one function body, parent being the enclosing
// function's scope (nil at top level) and parentBlk the block scope
// active in that enclosing function at this function's declaration
// site.
func (a *Analyzer) analyzeFn(fn *ast.FnDecl, parent *funcScope, parentBlk *blockScope) error {
	fs := &funcScope{
		fn:        fn,
		parent:    parent,
		parentBlk: parentBlk,
		blocks:    newBlock(nil),
		nextSlot:  firstParamSlot + len(fn.Params),
	}
	for i := range fn.Params {
		p := &fn.Params[i]
		p.Slot = firstParamSlot + i
		idx := i
		fs.blocks.define(p.Name, &declRef{
			typ:  p.Typ,
			slot: p.Slot,
			markCaptured: func(field string) {
				fn.Params[idx].CaptureField = field
			},
		})
	}
	if err := a.walkStmts(fn.Body, fs, fs.blocks); err != nil {
		return err
	}
	fn.Locals = fs.localInfos
	return nil
}

// resolve looks up name starting at blk within fs, falling back to the
// enclosing function's scope (via parentBlk) when not found locally.
// It returns the declRef, whether it was found directly within fs
// (false means it was captured from an outer function), and whether it
// was found at all.
func (a *Analyzer) resolve(fs *funcScope, blk *blockScope, name string) (*declRef, bool, bool) {
	if d, ok := blk.lookupLocal(name); ok {
		return d, true, true
	}
	if fs.parent == nil {
		return nil, false, false
	}
	d, _, ok := a.resolve(fs.parent, fs.parentBlk, name)
	if !ok {
		return nil, false, false
	}
	if !d.captured {
		d.captured = true
		d.fieldName = name
		d.markCaptured(name)
	}
	return d, false, true
}

// declareLocal introduces a new local in fs, allocating the next slot.
func (a *Analyzer) declareLocal(fs *funcScope, blk *blockScope, name string, typ *ast.Type, markCaptured func(string)) *declRef {
	slot := fs.nextSlot
	fs.nextSlot++
	d := &declRef{typ: typ, slot: slot, markCaptured: markCaptured}
	blk.define(name, d)
	fs.localInfos = append(fs.localInfos, ast.LocalInfo{Name: name, Typ: typ, Slot: slot})
	return d
}
