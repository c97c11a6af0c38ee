// Package types implements the Star type checker. It walks the syntax
// tree in place, decorating every expression's Typ field, validating
// assignability across the nullable/errorable tags, and building the
// struct/error registries later passes consult.
package types

import (
	"fmt"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/compileerr"
)

// scope is one block's variable environment: name -> declared type.
type scope struct {
	vars   map[string]*ast.Type
	consts map[string]bool
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: make(map[string]*ast.Type), consts: make(map[string]bool), parent: parent}
}

func (s *scope) lookup(name string) (*ast.Type, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if t, ok := sc.vars[name]; ok {
			return t, true
		}
	}
	return nil, false
}

func (s *scope) define(name string, t *ast.Type) {
	s.vars[name] = t
}

func (s *scope) defineConst(name string, t *ast.Type, isConst bool) {
	s.vars[name] = t
	s.consts[name] = isConst
}

// isConst reports whether name was declared with `const` in the
// nearest enclosing scope that defines it.
func (s *scope) isConst(name string) bool {
	for sc := s; sc != nil; sc = sc.parent {
		if _, ok := sc.vars[name]; ok {
			return sc.consts[name]
		}
	}
	return false
}

// Checker type-checks a Program, mutating it in place.
type Checker struct {
	prog      *ast.Program
	cur       *scope
	curFn     *ast.FnDecl
	loopDepth int
}

// Check type-checks prog and returns the first inconsistency found, if any.
func Check(prog *ast.Program) error {
	c := &Checker{prog: prog}
	return c.run()
}

func (c *Checker) errf(pos ast.Pos, format string, args ...interface{}) error {
	return &compileerr.Type{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

func (c *Checker) run() error {
	if err := c.registerDecls(); err != nil {
		return err
	}
	if err := c.resolveStructFields(); err != nil {
		return err
	}

	c.cur = newScope(nil)
	// Global function signatures are visible everywhere, including to
	// functions declared textually before them.
	for _, fn := range c.prog.Functions {
		c.cur.define(fn.Name, fnSignature(fn))
	}
	for _, fn := range c.prog.Functions {
		if err := c.checkFnBody(fn, c.cur); err != nil {
			return err
		}
	}
	return nil
}

func fnSignature(fn *ast.FnDecl) *ast.Type {
	params := make([]*ast.Type, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.Typ
	}
	return ast.Function(params, fn.Returns)
}

// registerDecls builds StructsByName and ErrorTypes, including the
// synthetic single-field struct for every declared error type
//.
func (c *Checker) registerDecls() error {
	c.prog.StructsByName = make(map[string]*ast.StructDecl)
	c.prog.ErrorTypes = make(map[string]bool)
	// Structs this checker synthesized on an earlier run are picked
	// back up rather than re-reported as collisions or re-appended, so
	// checking is idempotent.
	synths := make(map[string]*ast.StructDecl)
	for _, sd := range c.prog.Structs {
		if sd.Synthesized {
			synths[sd.Name] = sd
			continue
		}
		if _, dup := c.prog.StructsByName[sd.Name]; dup {
			return c.errf(sd.Position(), "struct %q declared twice", sd.Name)
		}
		c.prog.StructsByName[sd.Name] = sd
	}
	for _, ed := range c.prog.Errors {
		if _, dup := c.prog.StructsByName[ed.Name]; dup {
			return c.errf(ed.Position(), "error %q collides with a struct of the same name", ed.Name)
		}
		synth := synths[ed.Name]
		if synth == nil {
			synth = &ast.StructDecl{
				Base:        ed.Base,
				Name:        ed.Name,
				Fields:      []ast.StructField{{Name: "message", Typ: ast.String()}},
				Synthesized: true,
			}
			c.prog.Structs = append(c.prog.Structs, synth)
		}
		c.prog.StructsByName[ed.Name] = synth
		c.prog.ErrorTypes[ed.Name] = true
	}
	return nil
}

// resolveStructFields checks that every field type of every struct
// names a kind the checker recognizes (struct field types may forward
// reference any other declared struct, including themselves through a
// list, but not directly by value — that would make an infinite size
// object; we don't attempt to detect that here).
func (c *Checker) resolveStructFields() error {
	for _, sd := range c.prog.StructsByName {
		for _, f := range sd.Fields {
			if err := c.validateTypeExists(sd.Position(), f.Typ); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Checker) validateTypeExists(pos ast.Pos, t *ast.Type) error {
	switch t.Kind {
	case ast.KindStruct:
		if _, ok := c.prog.StructsByName[t.StructName]; !ok {
			return c.errf(pos, "undeclared struct type %q", t.StructName)
		}
	case ast.KindList:
		return c.validateTypeExists(pos, t.Elem)
	case ast.KindFunction:
		for _, p := range t.Params {
			if err := c.validateTypeExists(pos, p); err != nil {
				return err
			}
		}
		return c.validateTypeExists(pos, t.Returns)
	}
	return nil
}

func (c *Checker) checkFnBody(fn *ast.FnDecl, parent *scope) error {
	sc := newScope(parent)
	for i := range fn.Params {
		sc.define(fn.Params[i].Name, fn.Params[i].Typ)
	}
	prevFn, prevLoop := c.curFn, c.loopDepth
	c.curFn = fn
	c.loopDepth = 0
	err := c.checkStmts(fn.Body, sc)
	c.curFn, c.loopDepth = prevFn, prevLoop
	return err
}
