package compile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kavishsathia/starc/runtime/vm"
)

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	src, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	return string(src)
}

func runFixture(t *testing.T, name string, cfg vm.Config) (string, error) {
	t.Helper()
	prog, err := Lower(loadFixture(t, name))
	if err != nil {
		t.Fatalf("Lower(%s): %v", name, err)
	}
	return vm.Run(prog, cfg)
}

func TestScenarioOutputs(t *testing.T) {
	tests := []struct {
		fixture string
		want    string
	}{
		{"arith.star", "7"},
		{"concat_slice.star", "4"},
		{"closure.star", "15"},
	}
	for _, tt := range tests {
		t.Run(tt.fixture, func(t *testing.T) {
			out, err := runFixture(t, tt.fixture, vm.Config{})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if got := strings.TrimSpace(out); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScenarioTraps(t *testing.T) {
	for _, fixture := range []string{"null_unwrap.star", "raise.star"} {
		t.Run(fixture, func(t *testing.T) {
			_, err := runFixture(t, fixture, vm.Config{})
			var trap *vm.Trap
			if !errors.As(err, &trap) {
				t.Fatalf("got %v, want a runtime trap", err)
			}
		})
	}
}

func TestScenarioGCSurvival(t *testing.T) {
	// A heap small enough that 10,000 records cannot all fit forces
	// collections; the single live root must survive them unchanged.
	out, err := runFixture(t, "gc_survival.star", vm.Config{FixedHeapSize: 1 << 15})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(out); got != "42" {
		t.Errorf("output = %q, want %q", got, "42")
	}
}

func TestCompileProducesModule(t *testing.T) {
	mod, err := Compile(loadFixture(t, "arith.star"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !bytes.HasPrefix(mod, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}) {
		t.Errorf("module does not start with the wasm magic/version")
	}
}

func TestCompileReportsFirstError(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"parse", "fn main(): integer { let ; }"},
		{"type", "fn main(): integer { return \"not an integer\"; }"},
		{"locals", "fn main(): integer { return undeclared_name; }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.src); err == nil {
				t.Fatalf("Compile accepted %q", tt.src)
			}
		})
	}
}
