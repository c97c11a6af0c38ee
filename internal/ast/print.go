package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// PrintProgram renders a parsed (not yet flattened or wrapped) tree
// back to parseable source. Every subexpression is parenthesized, so
// the output is layout-normalized rather than faithful to the input;
// reparsing it yields a structurally identical tree.
func PrintProgram(p *Program) string {
	var b strings.Builder
	for _, sd := range p.Structs {
		if sd.Synthesized {
			continue
		}
		printStructDecl(&b, sd)
	}
	for _, ed := range p.Errors {
		fmt.Fprintf(&b, "error %s;\n", ed.Name)
	}
	for _, fn := range p.Functions {
		printFnDecl(&b, fn, 0)
	}
	return b.String()
}

func printStructDecl(b *strings.Builder, sd *StructDecl) {
	fmt.Fprintf(b, "struct %s { ", sd.Name)
	for i, f := range sd.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s: %s", f.Name, f.Typ)
	}
	b.WriteString(" }\n")
}

func printFnDecl(b *strings.Builder, fn *FnDecl, depth int) {
	ind := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%sfn %s(", ind, fn.Name)
	for i, p := range fn.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s: %s", p.Name, p.Typ)
	}
	fmt.Fprintf(b, "): %s {\n", fn.Returns)
	printStmts(b, fn.Body, depth+1)
	fmt.Fprintf(b, "%s}\n", ind)
}

func printStmts(b *strings.Builder, stmts []Stmt, depth int) {
	for _, s := range stmts {
		printStmt(b, s, depth)
	}
}

func printStmt(b *strings.Builder, s Stmt, depth int) {
	ind := strings.Repeat("  ", depth)
	switch s := s.(type) {
	case *LetStmt:
		kw := "let"
		if s.Const {
			kw = "const"
		}
		fmt.Fprintf(b, "%s%s %s", ind, kw, s.Name)
		if s.Decl != nil {
			fmt.Fprintf(b, ": %s", s.Decl)
		}
		if s.Init != nil {
			fmt.Fprintf(b, " = %s", exprString(s.Init))
		}
		b.WriteString(";\n")
	case *ReturnStmt:
		if s.Value == nil {
			fmt.Fprintf(b, "%sreturn;\n", ind)
		} else {
			fmt.Fprintf(b, "%sreturn %s;\n", ind, exprString(s.Value))
		}
	case *BreakStmt:
		fmt.Fprintf(b, "%sbreak;\n", ind)
	case *ContinueStmt:
		fmt.Fprintf(b, "%scontinue;\n", ind)
	case *IfStmt:
		fmt.Fprintf(b, "%sif %s {\n", ind, exprString(s.Cond))
		printStmts(b, s.Then, depth+1)
		if len(s.Else) > 0 {
			fmt.Fprintf(b, "%s} else {\n", ind)
			printStmts(b, s.Else, depth+1)
		}
		fmt.Fprintf(b, "%s}\n", ind)
	case *WhileStmt:
		fmt.Fprintf(b, "%swhile %s {\n", ind, exprString(s.Cond))
		printStmts(b, s.Body, depth+1)
		fmt.Fprintf(b, "%s}\n", ind)
	case *ForStmt:
		fmt.Fprintf(b, "%sfor ", ind)
		if s.Init != nil {
			printInlineStmt(b, s.Init)
		} else {
			b.WriteString(";")
		}
		b.WriteString(" ")
		if s.Cond != nil {
			b.WriteString(exprString(s.Cond))
		}
		b.WriteString("; ")
		if s.Post != nil {
			if es, ok := s.Post.(*ExprStmt); ok {
				b.WriteString(exprString(es.X))
				b.WriteString(" ")
			}
		}
		b.WriteString("{\n")
		printStmts(b, s.Body, depth+1)
		fmt.Fprintf(b, "%s}\n", ind)
	case *PrintStmt:
		fmt.Fprintf(b, "%sprint %s;\n", ind, exprString(s.Value))
	case *ProduceStmt:
		fmt.Fprintf(b, "%sproduce %s;\n", ind, exprString(s.Value))
	case *RaiseStmt:
		fmt.Fprintf(b, "%sraise %s;\n", ind, exprString(s.Value))
	case *ExprStmt:
		fmt.Fprintf(b, "%s%s;\n", ind, exprString(s.X))
	case *FnDecl:
		printFnDecl(b, s, depth)
	case *BlockStmt:
		printStmts(b, s.Body, depth)
	default:
		fmt.Fprintf(b, "%s// unprintable %T\n", ind, s)
	}
}

// printInlineStmt renders a for-initializer without indent or newline.
func printInlineStmt(b *strings.Builder, s Stmt) {
	switch s := s.(type) {
	case *LetStmt:
		kw := "let"
		if s.Const {
			kw = "const"
		}
		fmt.Fprintf(b, "%s %s", kw, s.Name)
		if s.Decl != nil {
			fmt.Fprintf(b, ": %s", s.Decl)
		}
		if s.Init != nil {
			fmt.Fprintf(b, " = %s", exprString(s.Init))
		}
		b.WriteString(";")
	case *ExprStmt:
		fmt.Fprintf(b, "%s;", exprString(s.X))
	}
}

var binOpText = map[BinaryOp]string{
	BinAdd: "+", BinSub: "-", BinMul: "*", BinDiv: "/", BinMod: "%",
	BinPow: "**", BinEq: "==", BinNe: "!=", BinLt: "<", BinGt: ">",
	BinLe: "<=", BinGe: ">=", BinAnd: "and", BinOr: "or",
	BinBitAnd: "&", BinBitOr: "|", BinBitXor: "^", BinShl: "<<",
	BinShr: ">>", BinIn: "in",
}

func exprString(e Expr) string {
	switch e := e.(type) {
	case *IntLit:
		return strconv.FormatInt(e.Value, 10)
	case *FloatLit:
		s := strconv.FormatFloat(e.Value, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	case *BoolLit:
		if e.Value {
			return "true"
		}
		return "false"
	case *StringLit:
		return quoteString(e.Value)
	case *NullLit:
		return "null"
	case *Ident:
		return e.Name
	case *ListLit:
		parts := make([]string, len(e.Elems))
		for i, el := range e.Elems {
			parts[i] = exprString(el)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *NewExpr:
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = fmt.Sprintf("%s: %s", f.Name, exprString(f.Value))
		}
		return fmt.Sprintf("new %s { %s }", e.StructName, strings.Join(parts, ", "))
	case *UnaryExpr:
		op := map[UnaryOp]string{
			UnaryNeg: "-", UnaryNot: "not ", UnaryCount: "#", UnaryString: "$",
		}[e.Op]
		return "(" + op + exprString(e.X) + ")"
	case *BinaryExpr:
		return fmt.Sprintf("(%s %s %s)", exprString(e.Left), binOpText[e.Op], exprString(e.Right))
	case *Assign:
		return fmt.Sprintf("%s = %s", exprString(e.Target), exprString(e.Value))
	case *CallExpr:
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			parts[i] = exprString(a)
		}
		return fmt.Sprintf("%s(%s)", exprString(e.Callee), strings.Join(parts, ", "))
	case *FieldExpr:
		return exprString(e.X) + "." + e.Name
	case *IndexExpr:
		return fmt.Sprintf("%s[%s]", exprString(e.X), exprString(e.Index))
	case *UnwrapExpr:
		if e.Op == UnwrapNullable {
			return exprString(e.X) + "??"
		}
		return exprString(e.X) + "!!"
	case *MatchExpr:
		parts := make([]string, len(e.Arms))
		for i, a := range e.Arms {
			pat := a.Pattern
			if pat == "" {
				pat = "_"
			}
			parts[i] = fmt.Sprintf("%s: %s", pat, exprString(a.Body))
		}
		return fmt.Sprintf("match %s as %s { %s }", exprString(e.Subject), e.Binding, strings.Join(parts, ", "))
	default:
		return fmt.Sprintf("/* unprintable %T */", e)
	}
}

func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
