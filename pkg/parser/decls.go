package parser

import (
	"github.com/gaarutyunov/flx/pkg/ast"
	"github.com/gaarutyunov/flx/pkg/token"
)

// parseDeclStmt parses `var`/`const` declarations, including the
// unpacked form `var [a,b,c] : T = expr` (spec.md §4.2).
func (p *Parser) parseDeclStmt() (ast.Stmt, error) {
	pos := p.current().Pos
	isConst := p.at(token.Const)
	p.advance()

	decl := &ast.VarDecl{Pos: pos, IsConst: isConst}

	if p.at(token.LBracket) {
		p.advance()
		for {
			id, err := p.expect(token.Ident)
			if err != nil {
				return nil, err
			}
			decl.Unpack = append(decl.Unpack, id.Lexeme)
			if p.at(token.Comma) {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(token.RBracket); err != nil {
			return nil, err
		}
	} else {
		id, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		decl.Identifier = id.Lexeme
	}

	if p.at(token.Colon) {
		p.advance()
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		decl.Type = t
	}

	if p.at(token.Assign) {
		p.advance()
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		decl.Default = v
	}

	if _, err := p.expect(token.Semicolon); err != nil {
		return nil, err
	}
	return &ast.DeclStmt{Pos: pos, Decl: decl}, nil
}

// parseParams parses a parenthesized, comma-separated parameter list,
// accepting a trailing `...` rest marker only on the last parameter
// (spec.md §3: "is_rest is legal only for the last formal parameter").
func (p *Parser) parseParams() ([]*ast.Param, error) {
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	var params []*ast.Param
	for !p.at(token.RParen) {
		pos := p.current().Pos
		isRest := false
		if p.at(token.Dot) && p.peekNext().Kind == token.Dot {
			p.advance()
			p.advance()
			if _, err := p.expect(token.Dot); err != nil {
				return nil, err
			}
			isRest = true
		}
		id, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		param := &ast.Param{Pos: pos, Name: id.Lexeme, IsRest: isRest}
		if p.at(token.Colon) {
			p.advance()
			t, err := p.parseType()
			if err != nil {
				return nil, err
			}
			param.Type = t
		}
		if p.at(token.Assign) {
			p.advance()
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			param.Default = v
		}
		params = append(params, param)
		if p.at(token.Comma) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	return params, nil
}

// parseFunDecl parses a top-level function declaration or forward
// declaration (spec.md §4.4: "forward declaration without body is
// allowed and the later body patches the definition").
func (p *Parser) parseFunDecl() (ast.Stmt, error) {
	pos := p.current().Pos
	p.advance()
	id, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	fn := &ast.FunDecl{Pos: pos, Identifier: id.Lexeme, Params: params}
	if p.at(token.Colon) {
		p.advance()
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		fn.Return = t
	}
	if p.at(token.Semicolon) {
		p.advance()
		return fn, nil
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, nil
}

// parseStructDecl parses `struct Name { var f:T ( = default)?; ... }`.
func (p *Parser) parseStructDecl() (ast.Stmt, error) {
	pos := p.current().Pos
	p.advance()
	id, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LBrace); err != nil {
		return nil, err
	}
	sd := &ast.StructDecl{Pos: pos, Identifier: id.Lexeme}
	for !p.at(token.RBrace) {
		fieldPos := p.current().Pos
		if _, err := p.expect(token.Var); err != nil {
			return nil, err
		}
		fname, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		field := &ast.StructField{Pos: fieldPos, Name: fname.Lexeme}
		if p.at(token.Colon) {
			p.advance()
			t, err := p.parseType()
			if err != nil {
				return nil, err
			}
			field.Type = t
		}
		if p.at(token.Assign) {
			p.advance()
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			field.Default = v
		}
		if _, err := p.expect(token.Semicolon); err != nil {
			return nil, err
		}
		sd.Fields = append(sd.Fields, field)
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return nil, err
	}
	return sd, nil
}
