package ir

import "github.com/kavishsathia/starc/internal/ast"

// IRStmt and IRExpr are the flat node kinds lowering produces. Unlike
// the surface tree, every name has already been resolved to a slot or
// a byte offset; nothing downstream needs a symbol table.
type IRStmt interface{ irStmtNode() }
type IRExpr interface {
	irExprNode()
	IRType() *ast.Type
}

// ---- statements ----

type IRLet struct {
	Slot  int
	Value IRExpr
}

type IRReturn struct {
	Value IRExpr // nil for a bare return
}

type IRBreak struct{}
type IRContinue struct{}

type IRIf struct {
	Cond IRExpr
	Then []IRStmt
	Else []IRStmt
}

type IRWhile struct {
	Cond IRExpr
	Body []IRStmt
}

type IRFor struct {
	Init IRStmt // nil, *IRLet, or *IRExprStmt
	Cond IRExpr // nil means "always true"
	Post IRStmt // nil or *IRExprStmt
	Body []IRStmt
}

type IRPrint struct{ Value IRExpr }
type IRProduce struct{ Value IRExpr }
type IRExprStmt struct{ X IRExpr }

// IRMakeClosure allocates fn's capture record, initializes each field
// (either copied from a local slot of the current function, or read
// from the current function's own captures record when the value is
// itself inherited from further out), packs the capture pointer and
// the function's table index into a 64-bit function value, and stores
// it into Slot.
type IRMakeClosure struct {
	FnName        string
	StructIndex   int
	TableIndex    int
	Inits         []IRCaptureInit
	Slot          int
}

type IRCaptureInit struct {
	Offset           int64
	Typ              *ast.Type
	FromOuterCapture bool
	FromSlot         int // valid when !FromOuterCapture
	FromOffset       int64 // valid when FromOuterCapture: offset in the *current* function's own captures record
}

func (*IRLet) irStmtNode()          {}
func (*IRReturn) irStmtNode()       {}
func (*IRBreak) irStmtNode()        {}
func (*IRContinue) irStmtNode()     {}
func (*IRIf) irStmtNode()           {}
func (*IRWhile) irStmtNode()        {}
func (*IRFor) irStmtNode()          {}
func (*IRPrint) irStmtNode()        {}
func (*IRProduce) irStmtNode()      {}
func (*IRExprStmt) irStmtNode()     {}
func (*IRMakeClosure) irStmtNode()  {}

// ---- expressions ----

type IRIntLit struct{ Value int64 }
type IRFloatLit struct{ Value float64 }
type IRBoolLit struct{ Value bool }
type IRStringLit struct{ Value string }

// IRLocal reads the current function's own frame slot (a parameter or
// an undeclared-outward local; never a captured name, which instead
// lowers to IRCaptureRead).
type IRLocal struct {
	Slot int
	Typ  *ast.Type
}

// IRCaptureRead loads a value out of the current function's captures
// record (shadow slot 2) at a known byte offset.
type IRCaptureRead struct {
	Offset int64
	Typ    *ast.Type
}

// IRCaptureRef is the l-value counterpart of IRCaptureRead, used on
// the left of an Assign to a captured name.
type IRCaptureRef struct {
	Offset int64
	Typ    *ast.Type
}

// IRNew allocates struct StructIndex on the fixed heap and initializes
// its fields, in declared field order, from Fields.
type IRNew struct {
	StructIndex int
	Fields      []IRExpr
	Typ         *ast.Type
}

// IRListLit allocates a variable-heap block of len(Elems) and stores
// each element word in order.
type IRListLit struct {
	Elems []IRExpr
	Typ   *ast.Type
}

func (*IRListLit) irExprNode()    {}
func (e *IRListLit) IRType() *ast.Type { return e.Typ }

type IRFieldRead struct {
	X      IRExpr
	Offset int64
	Typ    *ast.Type
}

// IRFieldRef is the l-value form: computes the field's address rather
// than loading it, for use on the left of Assign.
type IRFieldRef struct {
	X      IRExpr
	Offset int64
	Typ    *ast.Type
}

type IRIndexRead struct {
	X     IRExpr
	Index IRExpr
	Typ   *ast.Type
}

// IRIndexRef is the l-value form of list indexing.
type IRIndexRef struct {
	X     IRExpr
	Index IRExpr
	Typ   *ast.Type
}

type IRUnaryOp int

const (
	IRNeg IRUnaryOp = iota
	IRNot
	IRCount  // #
	IRStringify // $
)

type IRUnary struct {
	Op  IRUnaryOp
	X   IRExpr
	Typ *ast.Type
}

type IRBinaryOp int

const (
	IRAdd IRBinaryOp = iota
	IRSub
	IRMul
	IRDiv
	IRMod
	IRPow
	IREq
	IRNe
	IRLt
	IRGt
	IRLe
	IRGe
	IRAnd
	IROr
	IRBitAnd
	IRBitOr
	IRBitXor
	IRShl
	IRShr
	IRIn
	IRConcat // + on strings/lists
)

type IRBinary struct {
	Op    IRBinaryOp
	Left  IRExpr
	Right IRExpr
	Typ   *ast.Type
}

// IRAssign evaluates Value and stores it through Target, which is one
// of *IRLocal, *IRCaptureRef, *IRFieldRef, or *IRIndexRef.
type IRAssign struct {
	Target IRExpr
	Value  IRExpr
	Typ    *ast.Type
}

// IRCall is a direct call when Callee resolves to a known top-level
// function (TableIndex >= 0) or an indirect call through a function
// value otherwise (TableIndex == -1, Callee evaluates to the packed
// capture/table pair).
type IRCall struct {
	Callee     IRExpr // nil for a direct call
	TableIndex int    // >= 0 for a direct call to a known function
	Args       []IRExpr
	Typ        *ast.Type
}

type IRUnwrapOp int

const (
	IRUnwrapNullable IRUnwrapOp = iota
	IRUnwrapErrorable
)

// IRUnwrap loads the tagged record X points to, traps if its tag
// matches the failure tag for Op (0 for nullable, 1 for errorable),
// and otherwise yields the inner value with the corresponding flag
// cleared from Typ. StructIndex/TagOffset/ValueOffset select which of
// the three tagged-record variants (see ir.go) X's static type picked
// at the box site, so the emitter never has to re-derive it.
type IRUnwrap struct {
	Op          IRUnwrapOp
	X           IRExpr
	Typ         *ast.Type
	StructIndex int
	TagOffset   int64
	ValueOffset int64
}

// IRBox constructs a tagged record: New(StructIndex, [tag, value]).
// Lowering rewrites every ast.Box into this form directly, resolving
// which of the three tagged-record variants applies (see ir.go)
// rather than leaving a generic "new" against a symbolic struct name.
type IRBox struct {
	Tag         int
	Value       IRExpr // nil when Tag == 0
	Typ         *ast.Type
	StructIndex int
	TagOffset   int64
	ValueOffset int64
}

// IRMatchArm is one arm of a lowered match: Kind selects how the
// subject is tested (against the tagged record's tag for null/error,
// or against the fixed-heap header's type_id for a concrete struct
// type), StructIndex is meaningful only for KindType, and Body is the
// arm's (already-lowered) result expression.
type IRMatchKind int

const (
	IRMatchNull IRMatchKind = iota
	IRMatchError
	IRMatchType
	IRMatchCatchAll
)

type IRMatchArm struct {
	Kind IRMatchKind
	// TagOffset/ValueOffset locate the tag/value words within the
	// tagged record Subject points to, for KindNull/KindError arms;
	// resolved per-arm the same way IRUnwrap resolves them, since the
	// three tagged-record variants (see ir.go) do not share one fixed
	// layout.
	TagOffset   int64
	ValueOffset int64
	// StructIndex is meaningful only for KindType: the fixed-heap
	// type_id (read from the already-unboxed value's own block
	// header, at ValueOffset) this arm matches against.
	StructIndex int
	BindSlot    int // the slot the arm's bound name, if any, is stored into before Body runs
	Body        IRExpr
}

// IRMatch is a tag/type-test chain: evaluate Subject once, test arms
// top to bottom in source order, falling through to the catch-all.
// The discriminator for a KindType arm is the type_id the fixed-heap
// block header already carries; no separate discriminator exists.
type IRMatch struct {
	Subject IRExpr
	Arms    []IRMatchArm
	Typ     *ast.Type
}

func (*IRIntLit) irExprNode()      {}
func (*IRFloatLit) irExprNode()    {}
func (*IRBoolLit) irExprNode()     {}
func (*IRStringLit) irExprNode()   {}
func (*IRLocal) irExprNode()       {}
func (*IRCaptureRead) irExprNode() {}
func (*IRCaptureRef) irExprNode()  {}
func (*IRNew) irExprNode()         {}
func (*IRFieldRead) irExprNode()   {}
func (*IRFieldRef) irExprNode()    {}
func (*IRIndexRead) irExprNode()   {}
func (*IRIndexRef) irExprNode()    {}
func (*IRUnary) irExprNode()       {}
func (*IRBinary) irExprNode()      {}
func (*IRAssign) irExprNode()      {}
func (*IRCall) irExprNode()        {}
func (*IRUnwrap) irExprNode()      {}
func (*IRBox) irExprNode()         {}
func (*IRMatch) irExprNode()       {}

func (e *IRIntLit) IRType() *ast.Type      { return ast.Integer() }
func (e *IRFloatLit) IRType() *ast.Type    { return ast.Float() }
func (e *IRBoolLit) IRType() *ast.Type     { return ast.Boolean() }
func (e *IRStringLit) IRType() *ast.Type   { return ast.String() }
func (e *IRLocal) IRType() *ast.Type       { return e.Typ }
func (e *IRCaptureRead) IRType() *ast.Type { return e.Typ }
func (e *IRCaptureRef) IRType() *ast.Type  { return e.Typ }
func (e *IRNew) IRType() *ast.Type         { return e.Typ }
func (e *IRFieldRead) IRType() *ast.Type   { return e.Typ }
func (e *IRFieldRef) IRType() *ast.Type    { return e.Typ }
func (e *IRIndexRead) IRType() *ast.Type   { return e.Typ }
func (e *IRIndexRef) IRType() *ast.Type    { return e.Typ }
func (e *IRUnary) IRType() *ast.Type       { return e.Typ }
func (e *IRBinary) IRType() *ast.Type      { return e.Typ }
func (e *IRAssign) IRType() *ast.Type      { return e.Typ }
func (e *IRCall) IRType() *ast.Type        { return e.Typ }
func (e *IRUnwrap) IRType() *ast.Type      { return e.Typ }
func (e *IRBox) IRType() *ast.Type         { return e.Typ }
func (e *IRMatch) IRType() *ast.Type       { return e.Typ }
