package parser

import (
	"strconv"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/lexer"
)

// Binding powers. The bitwise family is layered | < ^ < & < shifts,
// so | is the loosest of the four and shifts the tightest.
const (
	bpAssign = 1
	bpOr     = 2
	bpAnd    = 3
	bpEqNe   = 4
	bpCmp    = 5
	bpBitOr  = 6
	bpBitXor = 7
	bpBitAnd = 8
	bpShift  = 9
	bpAddSub = 10
	bpMulDiv = 11
	bpIn     = 12
	bpPow    = 13
)

type infixInfo struct {
	bp        int
	rightAssoc bool
	op        ast.BinaryOp
	isAssign  bool
}

var infixTable = map[lexer.Kind]infixInfo{
	lexer.Assign:          {bp: bpAssign, rightAssoc: true, isAssign: true},
	lexer.Or:              {bp: bpOr, op: ast.BinOr},
	lexer.And:             {bp: bpAnd, op: ast.BinAnd},
	lexer.Eq:               {bp: bpEqNe, op: ast.BinEq},
	lexer.Ne:               {bp: bpEqNe, op: ast.BinNe},
	lexer.Lt:               {bp: bpCmp, op: ast.BinLt},
	lexer.Gt:               {bp: bpCmp, op: ast.BinGt},
	lexer.Le:               {bp: bpCmp, op: ast.BinLe},
	lexer.Ge:               {bp: bpCmp, op: ast.BinGe},
	lexer.Pipe:             {bp: bpBitOr, op: ast.BinBitOr},
	lexer.Caret:            {bp: bpBitXor, op: ast.BinBitXor},
	lexer.Amp:              {bp: bpBitAnd, op: ast.BinBitAnd},
	lexer.Shl:              {bp: bpShift, op: ast.BinShl},
	lexer.Shr:              {bp: bpShift, op: ast.BinShr},
	lexer.Plus:             {bp: bpAddSub, op: ast.BinAdd},
	lexer.Minus:            {bp: bpAddSub, op: ast.BinSub},
	lexer.Star:             {bp: bpMulDiv, op: ast.BinMul},
	lexer.Slash:            {bp: bpMulDiv, op: ast.BinDiv},
	lexer.Percent:          {bp: bpMulDiv, op: ast.BinMod},
	lexer.In:               {bp: bpIn, op: ast.BinIn},
	lexer.StarStar:         {bp: bpPow, rightAssoc: true, op: ast.BinPow},
}

// parseExpr implements precedence climbing: it parses a unary operand
// then repeatedly folds in infix operators whose binding power is at
// least minBP.
func (p *Parser) parseExpr(minBP int) (ast.Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		info, ok := infixTable[p.cur().Kind]
		if !ok || info.bp < minBP {
			return lhs, nil
		}
		tok := p.advance()
		nextMin := info.bp + 1
		if info.rightAssoc {
			nextMin = info.bp
		}
		rhs, err := p.parseExpr(nextMin)
		if err != nil {
			return nil, err
		}
		if info.isAssign {
			lhs = &ast.Assign{Base: baseOf(tok, p), Target: lhs, Value: rhs}
		} else {
			lhs = &ast.BinaryExpr{Base: baseOf(tok, p), Op: info.op, Left: lhs, Right: rhs}
		}
	}
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	switch p.cur().Kind {
	case lexer.Minus:
		tok := p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Base: baseOf(tok, p), Op: ast.UnaryNeg, X: x}, nil
	case lexer.Not:
		tok := p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Base: baseOf(tok, p), Op: ast.UnaryNot, X: x}, nil
	case lexer.Hash:
		tok := p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Base: baseOf(tok, p), Op: ast.UnaryCount, X: x}, nil
	case lexer.Dollar:
		tok := p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Base: baseOf(tok, p), Op: ast.UnaryString, X: x}, nil
	default:
		return p.parsePostfix()
	}
}

func (p *Parser) parsePostfix() (ast.Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().Kind {
		case lexer.LParen:
			tok := p.advance()
			var args []ast.Expr
			for p.cur().Kind != lexer.RParen {
				a, err := p.parseExpr(bpAssign + 1)
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.cur().Kind == lexer.Comma {
					p.advance()
					continue
				}
				break
			}
			if _, err := p.expect(lexer.RParen); err != nil {
				return nil, err
			}
			x = &ast.CallExpr{Base: baseOf(tok, p), Callee: x, Args: args}
		case lexer.LBracket:
			tok := p.advance()
			idx, err := p.parseExpr(bpAssign + 1)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.RBracket); err != nil {
				return nil, err
			}
			x = &ast.IndexExpr{Base: baseOf(tok, p), X: x, Index: idx}
		case lexer.Dot:
			tok := p.advance()
			name, err := p.expect(lexer.Ident)
			if err != nil {
				return nil, err
			}
			x = &ast.FieldExpr{Base: baseOf(tok, p), X: x, Name: name.Lit}
		case lexer.QuestionQuestion:
			tok := p.advance()
			x = &ast.UnwrapExpr{Base: baseOf(tok, p), Op: ast.UnwrapNullable, X: x}
		case lexer.BangBang:
			tok := p.advance()
			x = &ast.UnwrapExpr{Base: baseOf(tok, p), Op: ast.UnwrapErrorable, X: x}
		default:
			return x, nil
		}
	}
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	tok := p.cur()
	switch tok.Kind {
	case lexer.IntLit:
		p.advance()
		v, err := strconv.ParseInt(tok.Lit, 10, 64)
		if err != nil {
			return nil, p.errf("invalid integer literal %q", tok.Lit)
		}
		return &ast.IntLit{Base: baseOf(tok, p), Value: v}, nil
	case lexer.FloatLit:
		p.advance()
		v, err := strconv.ParseFloat(tok.Lit, 64)
		if err != nil {
			return nil, p.errf("invalid float literal %q", tok.Lit)
		}
		return &ast.FloatLit{Base: baseOf(tok, p), Value: v}, nil
	case lexer.StringLit:
		p.advance()
		return &ast.StringLit{Base: baseOf(tok, p), Value: tok.Lit}, nil
	case lexer.True:
		p.advance()
		return &ast.BoolLit{Base: baseOf(tok, p), Value: true}, nil
	case lexer.False:
		p.advance()
		return &ast.BoolLit{Base: baseOf(tok, p), Value: false}, nil
	case lexer.Null:
		p.advance()
		return &ast.NullLit{Base: baseOf(tok, p)}, nil
	case lexer.Ident:
		p.advance()
		return &ast.Ident{Base: baseOf(tok, p), Name: tok.Lit}, nil
	case lexer.LBracket:
		return p.parseListLit()
	case lexer.New:
		return p.parseNewExpr()
	case lexer.Match:
		return p.parseMatchExpr()
	case lexer.LParen:
		p.advance()
		x, err := p.parseExpr(bpAssign)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RParen); err != nil {
			return nil, err
		}
		return x, nil
	default:
		return nil, p.errf("unexpected token %s %q", tok.Kind, tok.Lit)
	}
}

func (p *Parser) parseListLit() (ast.Expr, error) {
	tok := p.advance() // '['
	lit := &ast.ListLit{Base: baseOf(tok, p)}
	for p.cur().Kind != lexer.RBracket {
		e, err := p.parseExpr(bpAssign + 1)
		if err != nil {
			return nil, err
		}
		lit.Elems = append(lit.Elems, e)
		if p.cur().Kind == lexer.Comma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(lexer.RBracket); err != nil {
		return nil, err
	}
	return lit, nil
}

func (p *Parser) parseNewExpr() (ast.Expr, error) {
	tok := p.advance() // 'new'
	name, err := p.expect(lexer.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBrace); err != nil {
		return nil, err
	}
	ne := &ast.NewExpr{Base: baseOf(tok, p), StructName: name.Lit}
	for p.cur().Kind != lexer.RBrace {
		fname, err := p.expect(lexer.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.Colon); err != nil {
			return nil, err
		}
		v, err := p.parseExpr(bpAssign + 1)
		if err != nil {
			return nil, err
		}
		ne.Fields = append(ne.Fields, ast.FieldInit{Name: fname.Lit, Value: v})
		if p.cur().Kind == lexer.Comma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(lexer.RBrace); err != nil {
		return nil, err
	}
	return ne, nil
}

func (p *Parser) parseMatchExpr() (ast.Expr, error) {
	tok := p.advance() // 'match'
	subj, err := p.parseExpr(bpAssign + 1)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.As); err != nil {
		return nil, err
	}
	binding, err := p.expect(lexer.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBrace); err != nil {
		return nil, err
	}
	me := &ast.MatchExpr{Base: baseOf(tok, p), Subject: subj, Binding: binding.Lit}
	for p.cur().Kind != lexer.RBrace {
		var pattern string
		switch p.cur().Kind {
		case lexer.Null:
			p.advance()
			pattern = "null"
		case lexer.ErrorKw:
			p.advance()
			pattern = "error"
		case lexer.Ident:
			pattern = p.advance().Lit
			if pattern == "_" {
				pattern = ""
			}
		default:
			return nil, p.errf("expected a match pattern, got %s", p.cur().Kind)
		}
		if _, err := p.expect(lexer.Colon); err != nil {
			return nil, err
		}
		body, err := p.parseExpr(bpAssign + 1)
		if err != nil {
			return nil, err
		}
		me.Arms = append(me.Arms, ast.MatchArm{Pattern: pattern, Body: body})
		if p.cur().Kind == lexer.Comma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(lexer.RBrace); err != nil {
		return nil, err
	}
	return me, nil
}
