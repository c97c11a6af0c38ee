package vm

import (
	"fmt"

	"github.com/kavishsathia/starc/internal/ir"
	"github.com/kavishsathia/starc/runtime/shadow"
)

// sigKind is the non-local exit a block of statements can produce.
// ProduceStmt's "yield a value without a full return" is threaded the same way a return is, distinguished
// from it by kind: a function body that ends on a produce returns 0,
// not the produced value.
type sigKind int

const (
	sigNone sigKind = iota
	sigReturn
	sigBreak
	sigContinue
	sigProduce
)

type signal struct {
	kind  sigKind
	value uint64
}

var noSignal = signal{kind: sigNone}

// execStmts runs a statement list in order, stopping early on the
// first non-sigNone signal (a return, break, continue, or produce)
// exactly as internal/wasm's structured control flow would.
func (v *VM) execStmts(stmts []ir.IRStmt, fr *frame) (signal, error) {
	for _, st := range stmts {
		sig, err := v.execStmt(st, fr)
		if err != nil {
			return noSignal, err
		}
		if sig.kind != sigNone {
			return sig, nil
		}
	}
	return noSignal, nil
}

func (v *VM) execStmt(st ir.IRStmt, fr *frame) (signal, error) {
	switch s := st.(type) {
	case *ir.IRLet:
		val, err := v.eval(s.Value, fr)
		if err != nil {
			return noSignal, err
		}
		v.bindLocal(fr, s.Slot, val, s.Value.IRType())
		return noSignal, nil

	case *ir.IRReturn:
		if s.Value == nil {
			return signal{kind: sigReturn}, nil
		}
		val, err := v.eval(s.Value, fr)
		if err != nil {
			return noSignal, err
		}
		return signal{kind: sigReturn, value: val}, nil

	case *ir.IRBreak:
		return signal{kind: sigBreak}, nil

	case *ir.IRContinue:
		return signal{kind: sigContinue}, nil

	case *ir.IRProduce:
		val, err := v.eval(s.Value, fr)
		if err != nil {
			return noSignal, err
		}
		return signal{kind: sigProduce, value: val}, nil

	case *ir.IRPrint:
		val, err := v.eval(s.Value, fr)
		if err != nil {
			return noSignal, err
		}
		fmt.Fprintln(v.out, v.formatValue(val, s.Value.IRType()))
		return noSignal, nil

	case *ir.IRExprStmt:
		_, err := v.eval(s.X, fr)
		return noSignal, err

	case *ir.IRIf:
		cond, err := v.eval(s.Cond, fr)
		if err != nil {
			return noSignal, err
		}
		if cond != 0 {
			return v.execStmts(s.Then, fr)
		}
		return v.execStmts(s.Else, fr)

	case *ir.IRWhile:
		for {
			cond, err := v.eval(s.Cond, fr)
			if err != nil {
				return noSignal, err
			}
			if cond == 0 {
				return noSignal, nil
			}
			sig, err := v.execStmts(s.Body, fr)
			if err != nil {
				return noSignal, err
			}
			switch sig.kind {
			case sigBreak:
				return noSignal, nil
			case sigReturn, sigProduce:
				return sig, nil
			}
		}

	case *ir.IRFor:
		if s.Init != nil {
			if _, err := v.execStmt(s.Init, fr); err != nil {
				return noSignal, err
			}
		}
		for {
			if s.Cond != nil {
				cond, err := v.eval(s.Cond, fr)
				if err != nil {
					return noSignal, err
				}
				if cond == 0 {
					return noSignal, nil
				}
			}
			sig, err := v.execStmts(s.Body, fr)
			if err != nil {
				return noSignal, err
			}
			switch sig.kind {
			case sigBreak:
				return noSignal, nil
			case sigReturn, sigProduce:
				return sig, nil
			}
			if s.Post != nil {
				if _, err := v.execStmt(s.Post, fr); err != nil {
					return noSignal, err
				}
			}
		}

	case *ir.IRMakeClosure:
		val, err := v.makeClosure(s, fr)
		if err != nil {
			return noSignal, err
		}
		v.bindLocalTagged(fr, s.Slot, val, shadow.TagFixed)
		return noSignal, nil

	default:
		return noSignal, fmt.Errorf("vm: unhandled statement %T", st)
	}
}

// makeClosure allocates fn's capture record and packs (captures_ptr,
// table_index) into a single 64-bit function value:
// low 32 bits the capture pointer, high 32 bits the table index.
func (v *VM) makeClosure(mc *ir.IRMakeClosure, fr *frame) (uint64, error) {
	capPtr := v.allocFixed(mc.StructIndex)
	if capPtr == 0 {
		return 0, &Trap{Reason: "fixed heap exhausted allocating closure capture record"}
	}
	handle := v.roots.Pin(capPtr, shadow.TagFixed)
	defer v.roots.Unpin(handle)

	for _, init := range mc.Inits {
		var word uint64
		if init.FromOuterCapture {
			capturesPtr := uint32(fr.locals[2])
			word = v.fixed.ReadField(capturesPtr, init.FromOffset)
		} else {
			word = fr.locals[init.FromSlot]
		}
		v.fixed.WriteField(capPtr, init.Offset, word)
	}

	return uint64(mc.TableIndex)<<32 | uint64(capPtr), nil
}
