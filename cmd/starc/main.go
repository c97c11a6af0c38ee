// The starc tool compiles Star source to a WebAssembly module that
// runs against the three-memory managed runtime, and can run a program
// on the reference interpreter to dump a heap snapshot for starheap.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kavishsathia/starc/internal/compile"
	"github.com/kavishsathia/starc/internal/memimage"
	"github.com/kavishsathia/starc/runtime/vm"
)

func main() {
	root := &cobra.Command{
		Use:           "starc",
		Short:         "starc compiles Star programs to WebAssembly",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(compileCmd(), dumpCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "starc: %v\n", err)
		os.Exit(1)
	}
}

func compileCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "compile <file.star>",
		Short: "compile a Star source file to a .wasm module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			mod, err := compile.Compile(string(src))
			if err != nil {
				return err
			}
			return os.WriteFile(output, mod, 0644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "output.wasm", "module file to write")
	return cmd
}

func dumpCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "dump <file.star>",
		Short: "run a program on the reference interpreter and dump a heap snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			prog, err := compile.Lower(string(src))
			if err != nil {
				return err
			}
			out, im, runErr := vm.RunSnapshot(prog, vm.Config{})
			fmt.Print(out)
			if im != nil {
				if err := memimage.Write(output, im); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "starc: heap snapshot written to %s\n", output)
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "output.starimg", "snapshot file to write")
	return cmd
}
