// Package parser implements a Pratt-style recursive-descent parser for
// Star. Errors are
// returned, not thrown: the first unexpected token produces a single
// *compileerr.Parse and parsing stops.
package parser

import (
	"fmt"

	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/compileerr"
	"github.com/kavishsathia/starc/internal/lexer"
)

type Parser struct {
	toks []lexer.Token
	pos  int
}

func New(src string) *Parser {
	return &Parser{toks: lexer.All(src)}
}

func Parse(src string) (*ast.Program, error) {
	return New(src).ParseProgram()
}

func (p *Parser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *Parser) peekAt(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *Parser) pos2(t lexer.Token) ast.Pos { return ast.Pos{Line: t.Line, Col: t.Col} }

func (p *Parser) advance() lexer.Token {
	t := p.cur()
	if t.Kind != lexer.EOF {
		p.pos++
	}
	return t
}

func (p *Parser) errf(format string, args ...interface{}) error {
	return &compileerr.Parse{Pos: p.pos2(p.cur()), Message: fmt.Sprintf(format, args...)}
}

func (p *Parser) expect(k lexer.Kind) (lexer.Token, error) {
	if p.cur().Kind != k {
		return lexer.Token{}, p.errf("expected %s, got %s %q", k, p.cur().Kind, p.cur().Lit)
	}
	return p.advance(), nil
}

// ParseProgram parses an entire source file.
func (p *Parser) ParseProgram() (*ast.Program, error) {
	if p.cur().Kind == lexer.Illegal {
		return nil, p.errf("%s", p.cur().Lit)
	}
	prog := &ast.Program{}
	var topStmts []ast.Stmt
	for p.cur().Kind != lexer.EOF {
		switch p.cur().Kind {
		case lexer.Struct:
			sd, err := p.parseStructDecl()
			if err != nil {
				return nil, err
			}
			prog.Structs = append(prog.Structs, sd)
		case lexer.ErrorKw:
			ed, err := p.parseErrorDecl()
			if err != nil {
				return nil, err
			}
			prog.Errors = append(prog.Errors, ed)
		case lexer.Fn:
			fd, err := p.parseFnDecl()
			if err != nil {
				return nil, err
			}
			prog.Functions = append(prog.Functions, fd)
		default:
			s, err := p.parseStmt()
			if err != nil {
				return nil, err
			}
			topStmts = append(topStmts, s)
		}
	}
	if len(topStmts) > 0 {
		// Bare top-level statements are accepted only when a main
		// function is declared, and are otherwise an error. They are
		// not added to main or to any other function body.
		var main *ast.FnDecl
		for _, f := range prog.Functions {
			if f.Name == "main" {
				main = f
			}
		}
		if main == nil {
			return nil, p.errf("top-level statements require a declared main function")
		}
	}
	return prog, nil
}

func (p *Parser) parseType() (*ast.Type, error) {
	var t *ast.Type
	switch p.cur().Kind {
	case lexer.LBracket:
		p.advance()
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RBracket); err != nil {
			return nil, err
		}
		t = ast.List(elem)
	case lexer.LParen:
		p.advance()
		var params []*ast.Type
		for p.cur().Kind != lexer.Colon {
			pt, err := p.parseType()
			if err != nil {
				return nil, err
			}
			params = append(params, pt)
			if p.cur().Kind == lexer.Comma {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(lexer.Colon); err != nil {
			return nil, err
		}
		ret, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RParen); err != nil {
			return nil, err
		}
		t = ast.Function(params, ret)
	case lexer.Ident:
		name := p.advance().Lit
		switch name {
		case "integer":
			t = ast.Integer()
		case "float":
			t = ast.Float()
		case "boolean":
			t = ast.Boolean()
		case "string":
			t = ast.String()
		default:
			t = ast.Struct(name)
		}
	default:
		return nil, p.errf("expected a type, got %s", p.cur().Kind)
	}
	for p.cur().Kind == lexer.Question || p.cur().Kind == lexer.Bang {
		if p.cur().Kind == lexer.Question {
			if t.Nullable {
				return nil, p.errf("type already marked nullable")
			}
			t.Nullable = true
		} else {
			if t.Errorable {
				return nil, p.errf("type already marked errorable")
			}
			t.Errorable = true
		}
		p.advance()
	}
	return t, nil
}

func (p *Parser) parseStructDecl() (*ast.StructDecl, error) {
	tok := p.advance() // 'struct'
	name, err := p.expect(lexer.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBrace); err != nil {
		return nil, err
	}
	sd := &ast.StructDecl{Base: baseOf(tok, p), Name: name.Lit}
	for p.cur().Kind != lexer.RBrace {
		fname, err := p.expect(lexer.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.Colon); err != nil {
			return nil, err
		}
		ftyp, err := p.parseType()
		if err != nil {
			return nil, err
		}
		sd.Fields = append(sd.Fields, ast.StructField{Name: fname.Lit, Typ: ftyp})
		if p.cur().Kind == lexer.Comma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(lexer.RBrace); err != nil {
		return nil, err
	}
	return sd, nil
}

func (p *Parser) parseErrorDecl() (*ast.ErrorDecl, error) {
	tok := p.advance() // 'error'
	name, err := p.expect(lexer.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Semicolon); err != nil {
		return nil, err
	}
	return &ast.ErrorDecl{Base: baseOf(tok, p), Name: name.Lit}, nil
}

func (p *Parser) parseFnDecl() (*ast.FnDecl, error) {
	tok := p.advance() // 'fn'
	name, err := p.expect(lexer.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LParen); err != nil {
		return nil, err
	}
	fd := &ast.FnDecl{Base: baseOf(tok, p), Name: name.Lit}
	for p.cur().Kind != lexer.RParen {
		pname, err := p.expect(lexer.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.Colon); err != nil {
			return nil, err
		}
		ptyp, err := p.parseType()
		if err != nil {
			return nil, err
		}
		fd.Params = append(fd.Params, ast.Param{Name: pname.Lit, Typ: ptyp})
		if p.cur().Kind == lexer.Comma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(lexer.RParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Colon); err != nil {
		return nil, err
	}
	ret, err := p.parseType()
	if err != nil {
		return nil, err
	}
	fd.Returns = ret
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fd.Body = body
	return fd, nil
}

func (p *Parser) parseBlock() ([]ast.Stmt, error) {
	if _, err := p.expect(lexer.LBrace); err != nil {
		return nil, err
	}
	var stmts []ast.Stmt
	for p.cur().Kind != lexer.RBrace {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	if _, err := p.expect(lexer.RBrace); err != nil {
		return nil, err
	}
	return stmts, nil
}

func baseOf(t lexer.Token, p *Parser) ast.Base {
	return ast.Base{Pos: p.pos2(t)}
}
