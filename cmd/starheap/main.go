// The starheap tool explores a heap snapshot written by starc dump:
// per-type block counts of the fixed heap, a size histogram of the
// variable heap, object listings, and a dot graph of what the shadow
// roots keep alive.
// Run "starheap help" for a list of commands.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/kavishsathia/starc/internal/memimage"
)

func usage() {
	fmt.Println(`
Usage:

        starheap command snapshot.starimg

The commands are:

        help: print this message
    overview: print a few overall statistics
   histogram: print histogram of heap memory by block kind
     objects: print a list of all heap blocks
    objgraph: dump the root-reachable object graph to tmp.dot

Flags applicable to all commands:`)
	flag.PrintDefaults()
}

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "%s: no command specified\n", os.Args[0])
		usage()
		os.Exit(2)
	}
	cmd := args[0]
	if cmd == "help" {
		usage()
		return
	}
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "%s: no snapshot file specified\n", os.Args[0])
		usage()
		os.Exit(2)
	}
	im, err := memimage.Open(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}
	defer im.Close()

	switch cmd {
	case "overview":
		overview(im)
	case "histogram":
		histogram(im)
	case "objects":
		objects(im)
	case "objgraph":
		objgraph(im)
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n", os.Args[0], cmd)
		usage()
		os.Exit(2)
	}
}

func overview(im *memimage.Image) {
	t := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(t, "registered types\t%d\n", len(im.Types))
	fmt.Fprintf(t, "fixed heap\t%d bytes, slabs at [%d,%d)\n", len(im.Fixed), im.FixedDataStart, im.FixedWatermark)

	fixedBlocks := 0
	im.ForEachFixedBlock(func(b memimage.FixedBlock) bool {
		fixedBlocks++
		return true
	})
	fmt.Fprintf(t, "fixed blocks carved\t%d\n", fixedBlocks)

	varUsed, varFree := 0, 0
	allocated, free := 0, 0
	im.ForEachVariableBlock(func(b memimage.VariableBlock) bool {
		if b.Tag == 0 {
			free++
			varFree += int(b.SizeBytes)
		} else {
			allocated++
			varUsed += int(b.SizeBytes)
		}
		return true
	})
	fmt.Fprintf(t, "variable heap\t%d bytes\n", len(im.Variable))
	fmt.Fprintf(t, "variable blocks\t%d allocated (%d payload bytes), %d free (%d payload bytes)\n",
		allocated, varUsed, free, varFree)
	fmt.Fprintf(t, "shadow roots\t%d\n", len(im.ShadowRoots()))
	t.Flush()
}

func histogram(im *memimage.Image) {
	// Fixed heap: one bucket per type id.
	counts := make(map[uint32]int)
	im.ForEachFixedBlock(func(b memimage.FixedBlock) bool {
		counts[b.TypeID]++
		return true
	})
	var ids []uint32
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	t := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(t, "type\tsize\tcount\tbytes\t\n")
	for _, id := range ids {
		size := int(im.Types[id].Size)
		fmt.Fprintf(t, "%d\t%d\t%d\t%d\t\n", id, size, counts[id], size*counts[id])
	}
	t.Flush()

	// Variable heap: one bucket per element-kind tag.
	names := map[uint32]string{0: "free", 1: "scalar/string", 2: "struct-ptr list", 3: "list-ptr list"}
	type bucket struct{ count, bytes int }
	buckets := make(map[uint32]*bucket)
	im.ForEachVariableBlock(func(b memimage.VariableBlock) bool {
		bk := buckets[b.Tag]
		if bk == nil {
			bk = &bucket{}
			buckets[b.Tag] = bk
		}
		bk.count++
		bk.bytes += int(b.SizeBytes)
		return true
	})
	fmt.Println()
	t = tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(t, "kind\tcount\tpayload bytes\n")
	for tag := uint32(0); tag <= 3; tag++ {
		if bk := buckets[tag]; bk != nil {
			fmt.Fprintf(t, "%s\t%d\t%d\n", names[tag], bk.count, bk.bytes)
		}
	}
	t.Flush()
}

func objects(im *memimage.Image) {
	t := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', 0)
	im.ForEachFixedBlock(func(b memimage.FixedBlock) bool {
		fmt.Fprintf(t, "fixed\t%#x\ttype %d\tmark %v\n", b.UserPtr, b.TypeID, b.Marked)
		return true
	})
	im.ForEachVariableBlock(func(b memimage.VariableBlock) bool {
		if b.Tag == 0 {
			fmt.Fprintf(t, "variable\t%#x\tfree\t%d bytes\n", b.UserPtr, b.SizeBytes)
		} else {
			fmt.Fprintf(t, "variable\t%#x\ttag %d\tlen %d\n", b.UserPtr, b.Tag, b.Length)
		}
		return true
	})
	t.Flush()
}

// objgraph walks the object graph from the shadow roots exactly the
// way the collector's mark does, writing one dot node per reached
// block and one edge per pointer field or pointer element.
func objgraph(im *memimage.Image) {
	f, err := os.Create("tmp.dot")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}
	defer f.Close()

	fmt.Fprintf(f, "digraph starheap {\n")
	type node struct {
		ptr uint32
		tag uint32
	}
	seen := make(map[node]bool)
	var visit func(n node)
	visit = func(n node) {
		if n.ptr == 0 || seen[n] {
			return
		}
		seen[n] = true
		switch n.tag {
		case 1:
			typeID := im.FixedTypeID(n.ptr)
			if int(typeID) >= len(im.Types) {
				return
			}
			ti := im.Types[typeID]
			fmt.Fprintf(f, "  f%d [label=\"type %d\"];\n", n.ptr, typeID)
			for i := uint32(0); i < ti.StructCount; i++ {
				child := node{ptr: uint32(im.FixedField(n.ptr, i)), tag: 1}
				if child.ptr != 0 {
					fmt.Fprintf(f, "  f%d -> f%d;\n", n.ptr, child.ptr)
					visit(child)
				}
			}
			for i := uint32(0); i < ti.ListCount; i++ {
				child := node{ptr: uint32(im.FixedField(n.ptr, ti.StructCount+i)), tag: 2}
				if child.ptr != 0 {
					fmt.Fprintf(f, "  f%d -> v%d;\n", n.ptr, child.ptr)
					visit(child)
				}
			}
		case 2:
			tag, length := im.VariableHeader(n.ptr)
			fmt.Fprintf(f, "  v%d [label=\"tag %d len %d\",shape=box];\n", n.ptr, tag, length)
			if tag != 2 && tag != 3 {
				return
			}
			childTag := uint32(1)
			prefix := "f"
			if tag == 3 {
				childTag = 2
				prefix = "v"
			}
			for i := uint32(0); i < length; i++ {
				child := node{ptr: uint32(im.VariableWord(n.ptr, i)), tag: childTag}
				if child.ptr != 0 {
					fmt.Fprintf(f, "  v%d -> %s%d;\n", n.ptr, prefix, child.ptr)
					visit(child)
				}
			}
		}
	}
	for _, r := range im.ShadowRoots() {
		prefix := "f"
		if r.Tag == 2 {
			prefix = "v"
		}
		fmt.Fprintf(f, "  root_%d_%d [label=\"frame %d slot %d\",shape=diamond];\n", r.Frame, r.Slot, r.Frame, r.Slot)
		fmt.Fprintf(f, "  root_%d_%d -> %s%d;\n", r.Frame, r.Slot, prefix, r.Value)
		visit(node{ptr: r.Value, tag: r.Tag})
	}
	fmt.Fprintf(f, "}\n")
	fmt.Println("wrote the object graph to tmp.dot")
}
