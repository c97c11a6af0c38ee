// The starrepl tool is a read-eval-print loop for Star. Each entered
// statement is appended to the session's program, the whole program is
// recompiled and re-run on the reference interpreter, and only the
// output new since the previous run is printed. Struct, error, and
// function declarations entered at the prompt accumulate as top-level
// declarations.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/kavishsathia/starc/internal/compile"
	"github.com/kavishsathia/starc/runtime/vm"
)

// session holds the replayed program: top-level declarations and
// main-body statements, plus the output already shown so a re-run
// prints only what the newest statement added.
type session struct {
	decls   []string
	stmts   []string
	printed string
}

func (s *session) program() string {
	var b strings.Builder
	for _, d := range s.decls {
		b.WriteString(d)
		b.WriteString("\n")
	}
	b.WriteString("fn main(): integer {\n")
	for _, st := range s.stmts {
		b.WriteString(st)
		b.WriteString("\n")
	}
	b.WriteString("return 0;\n}\n")
	return b.String()
}

// run recompiles and replays the whole session, returning the output
// delta beyond what previous runs already printed.
func (s *session) run() (string, error) {
	prog, err := compile.Lower(s.program())
	if err != nil {
		return "", err
	}
	out, err := vm.Run(prog, vm.Config{})
	if err != nil {
		return "", err
	}
	delta := strings.TrimPrefix(out, s.printed)
	s.printed = out
	return delta, nil
}

func isDecl(line string) bool {
	for _, kw := range []string{"struct ", "error ", "fn "} {
		if strings.HasPrefix(line, kw) {
			return true
		}
	}
	return false
}

// balanced reports whether every brace opened in the buffered lines
// has closed, i.e. whether the entry is complete and ready to run.
func balanced(src string) bool {
	depth := 0
	for _, r := range src {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth <= 0
}

func main() {
	rl, err := readline.New("star> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "starrepl: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	s := &session{}
	var pending []string

	for {
		prompt := "star> "
		if len(pending) > 0 {
			prompt = "  ... "
		}
		rl.SetPrompt(prompt)
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			pending = nil
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "starrepl: %v\n", err)
			os.Exit(1)
		}

		trimmed := strings.TrimSpace(line)
		if len(pending) == 0 {
			switch trimmed {
			case "":
				continue
			case ":quit", ":q":
				return
			case ":reset":
				s = &session{}
				fmt.Println("session cleared")
				continue
			case ":list":
				fmt.Print(s.program())
				continue
			}
		}

		pending = append(pending, line)
		entry := strings.Join(pending, "\n")
		if !balanced(entry) {
			continue
		}
		pending = nil

		if isDecl(strings.TrimSpace(entry)) {
			s.decls = append(s.decls, entry)
		} else {
			s.stmts = append(s.stmts, entry)
		}
		delta, err := s.run()
		if err != nil {
			// Roll the failed entry back so the session stays runnable.
			if isDecl(strings.TrimSpace(entry)) {
				s.decls = s.decls[:len(s.decls)-1]
			} else {
				s.stmts = s.stmts[:len(s.stmts)-1]
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Print(delta)
	}
}
