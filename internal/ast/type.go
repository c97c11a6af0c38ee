// Package ast defines the surface syntax tree for Star and the Type
// representation every later pass decorates expressions with.
//
// A Type is a name-free structural description: a kind tag, and for
// composite kinds the element type or field list, plus the
// nullable/errorable flag pair that decides whether a value of the
// type is boxed into a tagged record at runtime.
package ast

import "fmt"

// Kind is the shape of a Type, independent of its nullable/errorable flags.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInteger
	KindFloat
	KindBoolean
	KindString
	KindStruct
	KindList
	KindFunction
	KindNull
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindStruct:
		return "struct"
	case KindList:
		return "list"
	case KindFunction:
		return "function"
	case KindNull:
		return "null"
	default:
		return "unknown"
	}
}

// Type is a source-level type: a shape plus the nullable/errorable flag
// pair. Two Types compare equal by structural value, not identity.
type Type struct {
	Kind Kind

	// StructName is set when Kind == KindStruct.
	StructName string

	// Elem is the element type when Kind == KindList.
	Elem *Type

	// Params and Returns are set when Kind == KindFunction.
	Params  []*Type
	Returns *Type

	Nullable  bool
	Errorable bool
}

// Plain returns a copy of t with both tags cleared.
func (t *Type) Plain() *Type {
	c := *t
	c.Nullable = false
	c.Errorable = false
	return &c
}

// Tagged reports whether t carries either tag, i.e. whether a value of
// this type is physically a pointer to a tagged two-word record rather
// than a plain value.
func (t *Type) Tagged() bool {
	return t.Nullable || t.Errorable
}

// equalShape reports whether t and u describe the same shape, ignoring tags.
func (t *Type) equalShape(u *Type) bool {
	if t == nil || u == nil {
		return t == u
	}
	if t.Kind != u.Kind {
		return false
	}
	switch t.Kind {
	case KindStruct:
		return t.StructName == u.StructName
	case KindList:
		return t.Elem.equalShape(u.Elem)
	case KindFunction:
		if len(t.Params) != len(u.Params) || !t.Returns.equalShape(u.Returns) {
			return false
		}
		for i := range t.Params {
			if !t.Params[i].equalShape(u.Params[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// SameShape is the exported form of equalShape, for callers outside
// this package that need to compare shapes while ignoring tags (e.g.
// the checker's == and list-concatenation rules).
func (t *Type) SameShape(u *Type) bool {
	return t.equalShape(u)
}

// Equal reports whether t and u are the same type, including tags.
// KindUnknown (the empty-list element type) is equal to anything for
// the purposes of this check; callers that need assignability should
// use AssignableTo instead.
func (t *Type) Equal(u *Type) bool {
	if t.Kind == KindUnknown || u.Kind == KindUnknown {
		return true
	}
	return t.equalShape(u) && t.Nullable == u.Nullable && t.Errorable == u.Errorable
}

// AssignableTo implements the tag lattice: T -> T always; T -> T?,
// T!, T?!; Null -> any nullable; Unknown -> anything consistent.
func (t *Type) AssignableTo(target *Type) bool {
	if t.Kind == KindUnknown {
		return true
	}
	if t.Kind == KindNull {
		return target.Nullable
	}
	if !t.equalShape(target) {
		// An empty list literal's [unknown] fits any list type.
		emptyList := t.Kind == KindList && target.Kind == KindList &&
			t.Elem != nil && t.Elem.Kind == KindUnknown
		if !emptyList {
			return false
		}
	}
	// A strictly-tagged source can't be assigned to a less-tagged
	// target without an explicit unwrap.
	if t.Nullable && !target.Nullable {
		return false
	}
	if t.Errorable && !target.Errorable {
		return false
	}
	return true
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	var s string
	switch t.Kind {
	case KindStruct:
		s = t.StructName
	case KindList:
		s = "[" + t.Elem.String() + "]"
	case KindFunction:
		s = "("
		for i, p := range t.Params {
			if i > 0 {
				s += ", "
			}
			s += p.String()
		}
		s += fmt.Sprintf(": %s)", t.Returns.String())
	default:
		s = t.Kind.String()
	}
	if t.Nullable {
		s += "?"
	}
	if t.Errorable {
		s += "!"
	}
	return s
}

func Integer() *Type { return &Type{Kind: KindInteger} }
func Float() *Type   { return &Type{Kind: KindFloat} }
func Boolean() *Type { return &Type{Kind: KindBoolean} }
func String() *Type  { return &Type{Kind: KindString} }
func Null() *Type    { return &Type{Kind: KindNull} }
func Unknown() *Type { return &Type{Kind: KindUnknown} }
func List(elem *Type) *Type {
	return &Type{Kind: KindList, Elem: elem}
}
func Struct(name string) *Type {
	return &Type{Kind: KindStruct, StructName: name}
}
func Function(params []*Type, returns *Type) *Type {
	return &Type{Kind: KindFunction, Params: params, Returns: returns}
}

// IsPointerKind reports whether a plain (untagged) value of this shape
// is physically a 32-bit heap address, as opposed to an inline scalar.
// Tagged values are always pointer-shaped (they address the tagged
// record on the fixed heap) regardless of their plain shape. A
// Function value is also pointer-shaped here: only its low 32 bits
// (the capture-record pointer) need tracing, which is the same shape
// the collector's generic struct-field walk already expects of a
// fixed-heap pointer field (see IsFixedHeapPointer).
func (t *Type) IsPointerKind() bool {
	if t.Tagged() {
		return true
	}
	switch t.Kind {
	case KindStruct:
		return true
	case KindList, KindString:
		return true
	case KindFunction:
		return true
	default:
		return false
	}
}

// IsFixedHeapPointer reports whether the plain shape addresses the
// fixed (slab) heap, as opposed to the variable heap. A Function value
// counts as a fixed-heap pointer: its packed 64-bit representation
// carries a capture-record pointer (a fixed-heap address) in its low
// 32 bits, and that is exactly the word the collector's mark walk
// reads out of a pointer-to-struct field — so a captured or stored
// closure keeps its capture record alive the same way a stored struct
// keeps its own fields alive, with no separate "function root" kind
// needed anywhere in the collector.
func (t *Type) IsFixedHeapPointer() bool {
	if t.Tagged() {
		return true // tagged records live on the fixed heap
	}
	return t.Kind == KindStruct || t.Kind == KindFunction
}

// IsVariableHeapPointer reports whether the plain shape addresses the
// variable (list/string) heap.
func (t *Type) IsVariableHeapPointer() bool {
	if t.Tagged() {
		return false
	}
	return t.Kind == KindList || t.Kind == KindString
}
