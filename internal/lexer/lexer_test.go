package lexer

import "testing"

func collect(src string) []Token {
	l := NewLexer(src)
	var toks []Token
	for {
		t := l.Next()
		toks = append(toks, t)
		if t.Kind == EOF || t.Kind == Illegal {
			return toks
		}
	}
}

func kinds(toks []Token) []Kind {
	out := make([]Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestTokenStream(t *testing.T) {
	tests := []struct {
		src  string
		want []Kind
	}{
		{"let x: integer = 5;", []Kind{Let, Ident, Colon, Ident, Assign, IntLit, Semicolon, EOF}},
		{"x ?? !! ? !", []Kind{Ident, QuestionQuestion, BangBang, Question, Bang, EOF}},
		{"== != <= >= < > << >>", []Kind{Eq, Ne, Le, Ge, Lt, Gt, Shl, Shr, EOF}},
		{"** * # $", []Kind{StarStar, Star, Hash, Dollar, EOF}},
		{"a.b[0](c)", []Kind{Ident, Dot, Ident, LBracket, IntLit, RBracket, LParen, Ident, RParen, EOF}},
		{"true false null and or not in", []Kind{True, False, Null, And, Or, Not, In, EOF}},
		{"1 2.5 \"hi\"", []Kind{IntLit, FloatLit, StringLit, EOF}},
		{"raise new Bad", []Kind{Raise, New, Ident, EOF}},
	}
	for _, tt := range tests {
		got := kinds(collect(tt.src))
		if len(got) != len(tt.want) {
			t.Errorf("%q: got %d tokens, want %d (%v)", tt.src, len(got), len(tt.want), got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%q: token %d = %v, want %v", tt.src, i, got[i], tt.want[i])
			}
		}
	}
}

func TestCommentsAndWhitespaceSkipped(t *testing.T) {
	toks := collect("a // the rest vanishes\n  b")
	want := []Kind{Ident, Ident, EOF}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %v, want %v", i, got[i], want[i])
		}
	}
	if toks[1].Line != 2 {
		t.Errorf("b reported on line %d, want 2", toks[1].Line)
	}
}

func TestLiteralValues(t *testing.T) {
	toks := collect(`123 4.75 "star\n"`)
	if toks[0].Lit != "123" {
		t.Errorf("int lit = %q", toks[0].Lit)
	}
	if toks[1].Lit != "4.75" {
		t.Errorf("float lit = %q", toks[1].Lit)
	}
	if toks[2].Lit != "star\n" {
		t.Errorf("string lit = %q", toks[2].Lit)
	}
}

func TestKeywordVersusIdent(t *testing.T) {
	toks := collect("letx let fnord fn")
	want := []Kind{Ident, Let, Ident, Fn, EOF}
	got := kinds(toks)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %v, want %v", i, got[i], want[i])
		}
	}
}
