package parser

import (
	"github.com/gaarutyunov/flx/pkg/ast"
	"github.com/gaarutyunov/flx/pkg/token"
)

func (p *Parser) parseIfStmt() (ast.Stmt, error) {
	pos := p.current().Pos
	p.advance()
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt := &ast.IfStmt{Pos: pos, Cond: cond, Then: then}
	for p.at(token.Elif) {
		ePos := p.current().Pos
		p.advance()
		if _, err := p.expect(token.LParen); err != nil {
			return nil, err
		}
		econd, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}
		ebody, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		stmt.Elifs = append(stmt.Elifs, &ast.ElifClause{Pos: ePos, Cond: econd, Body: ebody})
	}
	if p.at(token.Else) {
		p.advance()
		elseBody, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		stmt.Else = elseBody
	}
	return stmt, nil
}

func (p *Parser) parseSwitchStmt() (ast.Stmt, error) {
	pos := p.current().Pos
	p.advance()
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LBrace); err != nil {
		return nil, err
	}
	stmt := &ast.SwitchStmt{Pos: pos, Cond: cond}
	for p.at(token.Case) {
		cPos := p.current().Pos
		p.advance()
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Colon); err != nil {
			return nil, err
		}
		body := &ast.Block{Pos: p.current().Pos}
		for !p.at(token.Case) && !p.at(token.Default) && !p.at(token.RBrace) {
			s, err := p.parseStmt()
			if err != nil {
				return nil, err
			}
			body.Stmts = append(body.Stmts, s)
		}
		stmt.Cases = append(stmt.Cases, &ast.CaseClause{Pos: cPos, Value: val, Body: body})
	}
	if p.at(token.Default) {
		p.advance()
		if _, err := p.expect(token.Colon); err != nil {
			return nil, err
		}
		body := &ast.Block{Pos: p.current().Pos}
		for !p.at(token.RBrace) {
			s, err := p.parseStmt()
			if err != nil {
				return nil, err
			}
			body.Stmts = append(body.Stmts, s)
		}
		stmt.Default = body
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseForStmt() (ast.Stmt, error) {
	pos := p.current().Pos
	p.advance()
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	var init ast.Stmt
	if !p.at(token.Semicolon) {
		var err error
		init, err = p.parseDeclOrAssignNoSemi()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.Semicolon); err != nil {
		return nil, err
	}
	var cond ast.Expr
	if !p.at(token.Semicolon) {
		var err error
		cond, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.Semicolon); err != nil {
		return nil, err
	}
	var post ast.Stmt
	if !p.at(token.RParen) {
		var err error
		post, err = p.parseDeclOrAssignNoSemi()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.ForStmt{Pos: pos, Init: init, Cond: cond, Post: post, Body: body}, nil
}

// parseDeclOrAssignNoSemi parses a for-loop init/post clause: a
// declaration, an assignment, an increment/decrement, or a bare
// expression — none terminated by `;` here since the caller owns the
// separators.
func (p *Parser) parseDeclOrAssignNoSemi() (ast.Stmt, error) {
	pos := p.current().Pos
	if p.at(token.Var) || p.at(token.Const) {
		isConst := p.at(token.Const)
		p.advance()
		id, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		decl := &ast.VarDecl{Pos: pos, IsConst: isConst, Identifier: id.Lexeme}
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
		return &ast.DeclStmt{Pos: pos, Decl: decl}, nil
	}
	if p.at(token.Ident) {
		save := p.pos
		parts, err := p.parseIdentParts()
		if err == nil && token.CompoundAssignOp[p.current().Kind] {
			op := p.advance()
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			return &ast.AssignStmt{Pos: pos, Target: parts, Op: op.Kind, Value: val}, nil
		}
		p.pos = save
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ast.ExprStmt{Pos: pos, Expr: e}, nil
}

func (p *Parser) parseForeachStmt() (ast.Stmt, error) {
	pos := p.current().Pos
	p.advance()
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Var); err != nil {
		return nil, err
	}
	stmt := &ast.ForeachStmt{Pos: pos}
	if p.at(token.LBracket) {
		p.advance()
		key, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Comma); err != nil {
			return nil, err
		}
		val, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RBracket); err != nil {
			return nil, err
		}
		stmt.KeyName = key.Lexeme
		stmt.ValueName = val.Lexeme
	} else {
		val, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		stmt.ValueName = val.Lexeme
	}
	if p.at(token.Colon) {
		p.advance()
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		stmt.ValueType = t
	}
	if _, err := p.expect(token.In); err != nil {
		return nil, err
	}
	coll, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	stmt.Collection = coll
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt.Body = body
	return stmt, nil
}

func (p *Parser) parseWhileStmt() (ast.Stmt, error) {
	pos := p.current().Pos
	p.advance()
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.WhileStmt{Pos: pos, Cond: cond, Body: body}, nil
}

func (p *Parser) parseDoWhileStmt() (ast.Stmt, error) {
	pos := p.current().Pos
	p.advance()
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.While); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semicolon); err != nil {
		return nil, err
	}
	return &ast.DoWhileStmt{Pos: pos, Body: body, Cond: cond}, nil
}

func (p *Parser) parseReturnStmt() (ast.Stmt, error) {
	pos := p.current().Pos
	p.advance()
	stmt := &ast.ReturnStmt{Pos: pos}
	if !p.at(token.Semicolon) {
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Value = v
	}
	if _, err := p.expect(token.Semicolon); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseExitStmt() (ast.Stmt, error) {
	pos := p.current().Pos
	p.advance()
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	v, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semicolon); err != nil {
		return nil, err
	}
	return &ast.ExitStmt{Pos: pos, Value: v}, nil
}

// parseTryStmt covers the three catch-declaration forms of spec.md
// §4.4: no declaration (`catch { ... }`), a single Exception-typed
// variable, or a single-element unpacked declaration.
func (p *Parser) parseTryStmt() (ast.Stmt, error) {
	pos := p.current().Pos
	p.advance()
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt := &ast.TryStmt{Pos: pos, Body: body}
	if _, err := p.expect(token.Catch); err != nil {
		return nil, err
	}
	if p.at(token.LParen) {
		p.advance()
		if p.at(token.LBracket) {
			p.advance()
			for {
				id, err := p.expect(token.Ident)
				if err != nil {
					return nil, err
				}
				stmt.Unpack = append(stmt.Unpack, id.Lexeme)
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
			if _, err := p.expect(token.Var); err != nil {
				return nil, err
			}
			id, err := p.expect(token.Ident)
			if err != nil {
				return nil, err
			}
			stmt.CatchName = id.Lexeme
			if p.at(token.Colon) {
				p.advance()
				t, err := p.parseType()
				if err != nil {
					return nil, err
				}
				stmt.CatchType = t
			}
		}
		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}
	}
	catchBody, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt.Catch = catchBody
	return stmt, nil
}

func (p *Parser) parseThrowStmt() (ast.Stmt, error) {
	pos := p.current().Pos
	p.advance()
	v, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semicolon); err != nil {
		return nil, err
	}
	return &ast.ThrowStmt{Pos: pos, Value: v}, nil
}
