// Package compile chains the full pipeline: source text through the
// parser, type checker, locals/capture analysis, closure flattening,
// nullable/errorable wrapping, IR lowering, and WebAssembly emission.
// Each pass returns its first failure and no later pass runs.
package compile

import (
	"github.com/kavishsathia/starc/internal/flatten"
	"github.com/kavishsathia/starc/internal/ir"
	"github.com/kavishsathia/starc/internal/locals"
	"github.com/kavishsathia/starc/internal/parser"
	"github.com/kavishsathia/starc/internal/types"
	"github.com/kavishsathia/starc/internal/wasm"
	"github.com/kavishsathia/starc/internal/wrap"
)

// Lower runs the front and middle of the pipeline, stopping at the IR.
// The reference interpreter (runtime/vm) and the heap tools consume
// this; Compile finishes the job through the emitter.
func Lower(src string) (*ir.IRProgram, error) {
	prog, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	if err := types.Check(prog); err != nil {
		return nil, err
	}
	if err := locals.Analyze(prog); err != nil {
		return nil, err
	}
	if err := flatten.Flatten(prog); err != nil {
		return nil, err
	}
	if err := wrap.Wrap(prog); err != nil {
		return nil, err
	}
	return ir.Lower(prog)
}

// Compile turns source text into the bytes of a WebAssembly module.
func Compile(src string) ([]byte, error) {
	prog, err := Lower(src)
	if err != nil {
		return nil, err
	}
	return wasm.Emit(prog)
}
