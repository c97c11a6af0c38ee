package parser

import (
	"github.com/kavishsathia/starc/internal/ast"
	"github.com/kavishsathia/starc/internal/lexer"
)

func (p *Parser) parseStmt() (ast.Stmt, error) {
	switch p.cur().Kind {
	case lexer.Let, lexer.Const:
		return p.parseLet()
	case lexer.Return:
		return p.parseReturn()
	case lexer.Break:
		tok := p.advance()
		if _, err := p.expect(lexer.Semicolon); err != nil {
			return nil, err
		}
		return &ast.BreakStmt{Base: baseOf(tok, p)}, nil
	case lexer.Continue:
		tok := p.advance()
		if _, err := p.expect(lexer.Semicolon); err != nil {
			return nil, err
		}
		return &ast.ContinueStmt{Base: baseOf(tok, p)}, nil
	case lexer.If:
		return p.parseIf()
	case lexer.While:
		return p.parseWhile()
	case lexer.For:
		return p.parseFor()
	case lexer.Print:
		return p.parsePrint()
	case lexer.Produce:
		return p.parseProduce()
	case lexer.Raise:
		return p.parseRaise()
	case lexer.Fn:
		fd, err := p.parseFnDecl()
		if err != nil {
			return nil, err
		}
		return fd, nil
	default:
		return p.parseExprStmt()
	}
}

func (p *Parser) parseLet() (ast.Stmt, error) {
	tok := p.advance()
	isConst := tok.Kind == lexer.Const
	name, err := p.expect(lexer.Ident)
	if err != nil {
		return nil, err
	}
	var decl *ast.Type
	if p.cur().Kind == lexer.Colon {
		p.advance()
		decl, err = p.parseType()
		if err != nil {
			return nil, err
		}
	}
	var init ast.Expr
	if p.cur().Kind == lexer.Assign {
		p.advance()
		init, err = p.parseExpr(1)
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(lexer.Semicolon); err != nil {
		return nil, err
	}
	if decl == nil && init == nil {
		return nil, p.errf("let/const requires a type annotation or an initializer")
	}
	return &ast.LetStmt{Base: baseOf(tok, p), Name: name.Lit, Decl: decl, Init: init, Const: isConst}, nil
}

func (p *Parser) parseReturn() (ast.Stmt, error) {
	tok := p.advance()
	if p.cur().Kind == lexer.Semicolon {
		p.advance()
		return &ast.ReturnStmt{Base: baseOf(tok, p)}, nil
	}
	v, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Semicolon); err != nil {
		return nil, err
	}
	return &ast.ReturnStmt{Base: baseOf(tok, p), Value: v}, nil
}

func (p *Parser) parseIf() (ast.Stmt, error) {
	tok := p.advance()
	cond, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	ifs := &ast.IfStmt{Base: baseOf(tok, p), Cond: cond, Then: then}
	if p.cur().Kind == lexer.Else {
		p.advance()
		if p.cur().Kind == lexer.If {
			elseIf, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			ifs.Else = []ast.Stmt{elseIf}
		} else {
			elseBlock, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			ifs.Else = elseBlock
		}
	}
	return ifs, nil
}

func (p *Parser) parseWhile() (ast.Stmt, error) {
	tok := p.advance()
	cond, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.WhileStmt{Base: baseOf(tok, p), Cond: cond, Body: body}, nil
}

func (p *Parser) parseFor() (ast.Stmt, error) {
	tok := p.advance()
	fs := &ast.ForStmt{Base: baseOf(tok, p)}
	if p.cur().Kind != lexer.Semicolon {
		init, err := p.parseStmt() // consumes the trailing ';' itself for let/expr
		if err != nil {
			return nil, err
		}
		fs.Init = init
	} else {
		p.advance()
	}
	if p.cur().Kind != lexer.Semicolon {
		cond, err := p.parseExpr(1)
		if err != nil {
			return nil, err
		}
		fs.Cond = cond
	}
	if _, err := p.expect(lexer.Semicolon); err != nil {
		return nil, err
	}
	if p.cur().Kind != lexer.LBrace {
		postExpr, err := p.parseExpr(1)
		if err != nil {
			return nil, err
		}
		fs.Post = &ast.ExprStmt{X: postExpr}
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fs.Body = body
	return fs, nil
}

func (p *Parser) parsePrint() (ast.Stmt, error) {
	tok := p.advance()
	v, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Semicolon); err != nil {
		return nil, err
	}
	return &ast.PrintStmt{Base: baseOf(tok, p), Value: v}, nil
}

func (p *Parser) parseProduce() (ast.Stmt, error) {
	tok := p.advance()
	v, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Semicolon); err != nil {
		return nil, err
	}
	return &ast.ProduceStmt{Base: baseOf(tok, p), Value: v}, nil
}

func (p *Parser) parseRaise() (ast.Stmt, error) {
	tok := p.advance()
	v, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Semicolon); err != nil {
		return nil, err
	}
	return &ast.RaiseStmt{Base: baseOf(tok, p), Value: v}, nil
}

func (p *Parser) parseExprStmt() (ast.Stmt, error) {
	tok := p.cur()
	e, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.Semicolon); err != nil {
		return nil, err
	}
	return &ast.ExprStmt{Base: baseOf(tok, p), X: e}, nil
}
