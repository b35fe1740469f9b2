// expr.go implements the twelve-layer precedence climb spec.md §4.2
// spells out: ternary, in, logical or/and, bitwise or/xor/and,
// equality, relational, three-way, shift, additive, multiplicative,
// exponentiation, unary, postfix, primary.
package parser

import (
	"github.com/gaarutyunov/flx/pkg/ast"
	"github.com/gaarutyunov/flx/pkg/token"
)

var (
	logicalOrOps  = map[token.Kind]bool{token.OrOr: true, token.Or: true}
	logicalAndOps = map[token.Kind]bool{token.AndAnd: true, token.And: true}
	bitwiseOrOps  = map[token.Kind]bool{token.Pipe: true}
	bitwiseXorOps = map[token.Kind]bool{token.Caret: true}
	bitwiseAndOps = map[token.Kind]bool{token.Amp: true}
)

func (p *Parser) parseExpr() (ast.Expr, error) { return p.parseTernary() }

func (p *Parser) parseTernary() (ast.Expr, error) {
	pos := p.current().Pos
	cond, err := p.parseIn()
	if err != nil {
		return nil, err
	}
	if p.at(token.Question) {
		p.advance()
		ifTrue, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Colon); err != nil {
			return nil, err
		}
		ifFalse, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ast.TernaryExpr{Pos: pos, Cond: cond, IfTrue: ifTrue, IfFalse: ifFalse}, nil
	}
	return cond, nil
}

func (p *Parser) parseIn() (ast.Expr, error) {
	pos := p.current().Pos
	left, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if p.at(token.In) {
		p.advance()
		coll, err := p.parseLogicalOr()
		if err != nil {
			return nil, err
		}
		return &ast.InExpr{Pos: pos, Value: left, Collection: coll}, nil
	}
	return left, nil
}

// binaryLevel folds one left-associative precedence layer: parse with
// next, then keep folding while the current token is in ops.
func (p *Parser) binaryLevel(next func() (ast.Expr, error), ops map[token.Kind]bool) (ast.Expr, error) {
	pos := p.current().Pos
	left, err := next()
	if err != nil {
		return nil, err
	}
	for ops[p.current().Kind] {
		op := p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Pos: pos, Left: left, Op: op.Kind, Right: right}
	}
	return left, nil
}

func (p *Parser) parseLogicalOr() (ast.Expr, error) {
	return p.binaryLevel(p.parseLogicalAnd, logicalOrOps)
}
func (p *Parser) parseLogicalAnd() (ast.Expr, error) {
	return p.binaryLevel(p.parseBitwiseOr, logicalAndOps)
}
func (p *Parser) parseBitwiseOr() (ast.Expr, error) {
	return p.binaryLevel(p.parseBitwiseXor, bitwiseOrOps)
}
func (p *Parser) parseBitwiseXor() (ast.Expr, error) {
	return p.binaryLevel(p.parseBitwiseAnd, bitwiseXorOps)
}
func (p *Parser) parseBitwiseAnd() (ast.Expr, error) {
	return p.binaryLevel(p.parseEquality, bitwiseAndOps)
}
func (p *Parser) parseEquality() (ast.Expr, error) {
	return p.binaryLevel(p.parseRelational, token.EqualityOp)
}
func (p *Parser) parseRelational() (ast.Expr, error) {
	return p.binaryLevel(p.parseThreeWay, token.RelationalOp)
}
func (p *Parser) parseThreeWay() (ast.Expr, error) {
	return p.binaryLevel(p.parseShift, token.ThreeWayOp)
}
func (p *Parser) parseShift() (ast.Expr, error) {
	return p.binaryLevel(p.parseAdditive, token.ShiftOp)
}
func (p *Parser) parseAdditive() (ast.Expr, error) {
	return p.binaryLevel(p.parseMultiplicative, token.AdditiveOp)
}
func (p *Parser) parseMultiplicative() (ast.Expr, error) {
	return p.binaryLevel(p.parseExponent, token.MultiplicativeOp)
}

// parseExponent is right-associative, unlike every layer above it.
func (p *Parser) parseExponent() (ast.Expr, error) {
	pos := p.current().Pos
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if token.ExponentiationOp[p.current().Kind] {
		op := p.advance()
		right, err := p.parseExponent()
		if err != nil {
			return nil, err
		}
		return &ast.BinaryExpr{Pos: pos, Left: left, Op: op.Kind, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	pos := p.current().Pos
	switch p.current().Kind {
	case token.Not, token.Minus, token.Plus, token.Tilde, token.Ref, token.Unref:
		op := p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Pos: pos, Op: op.Kind, Right: right}, nil
	case token.Inc, token.Dec:
		op := p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		ident, ok := right.(*ast.IdentExpr)
		if !ok {
			return nil, p.errorf("increment/decrement target must be an identifier")
		}
		return &ast.IncDecExpr{Pos: pos, Target: ident, Op: op.Kind, Postfix: false}, nil
	case token.TypeID, token.TypeOf, token.RefID, token.IsAny, token.IsArray, token.IsStruct:
		op := p.advance()
		if p.at(token.LParen) {
			p.advance()
			operand, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.RParen); err != nil {
				return nil, err
			}
			return &ast.TypingExpr{Pos: pos, Op: op.Kind, Operand: operand}, nil
		}
		if _, err := p.expect(token.Colon); err != nil {
			return nil, err
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return &ast.TypingExpr{Pos: pos, Op: op.Kind, TypeArg: t}, nil
	default:
		return p.parsePostfix()
	}
}

func (p *Parser) parsePostfix() (ast.Expr, error) {
	pos := p.current().Pos
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for token.IncrementOp[p.current().Kind] {
		ident, ok := expr.(*ast.IdentExpr)
		if !ok {
			break
		}
		op := p.advance()
		expr = &ast.IncDecExpr{Pos: pos, Target: ident, Op: op.Kind, Postfix: true}
	}
	return expr, nil
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	pos := p.current().Pos
	switch p.current().Kind {
	case token.Int, token.Float, token.Char, token.String:
		t := p.advance()
		return &ast.Literal{Pos: pos, Kind: t.Kind, Text: t.Lexeme}, nil
	case token.True, token.False:
		t := p.advance()
		return &ast.Literal{Pos: pos, Kind: token.TypeBool, Text: t.Lexeme}, nil
	case token.Null:
		p.advance()
		return &ast.Literal{Pos: pos, Kind: token.TypeVoid, Text: "null"}, nil
	case token.LBrace:
		return p.parseArrayLit()
	case token.Fun:
		return p.parseFuncLit()
	case token.This:
		p.advance()
		return &ast.ThisExpr{Pos: pos}, nil
	case token.LParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}
		return &ast.ParenExpr{Pos: pos, Inner: inner}, nil
	case token.Ident:
		return p.parseIdentOrCallOrStructLit(pos)
	default:
		return nil, p.errorf("unexpected token %s in expression", p.current().Kind)
	}
}

// parseIdentOrCallOrStructLit disambiguates `name`, `ns::name`,
// `name(args)`, `ns::name(args)`, `Name{...}` and `ns::Name{...}` —
// the namespace-qualified forms are only meaningful for calls and
// struct literals (spec.md §3's CallExpr/StructLit both carry their
// own Namespace field), so a bare qualified identifier falls back to
// an unqualified identifier chain.
func (p *Parser) parseIdentOrCallOrStructLit(pos token.Position) (ast.Expr, error) {
	save := p.pos
	first := p.advance().Lexeme
	namespace := ""
	name := first
	if p.at(token.ColonColon) {
		p.advance()
		id2, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		namespace = first
		name = id2.Lexeme
	}
	if p.at(token.LParen) {
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		return &ast.CallExpr{Pos: pos, Namespace: namespace, Name: name, Args: args}, nil
	}
	if p.at(token.LBrace) {
		fields, err := p.parseStructLitFields()
		if err != nil {
			return nil, err
		}
		return &ast.StructLit{Pos: pos, TypeName: name, TypeNameSpace: namespace, Fields: fields}, nil
	}
	p.pos = save
	parts, err := p.parseIdentParts()
	if err != nil {
		return nil, err
	}
	return &ast.IdentExpr{Pos: pos, Parts: parts}, nil
}

func (p *Parser) parseArgs() ([]ast.Expr, error) {
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	var args []ast.Expr
	for !p.at(token.RParen) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if p.at(token.Comma) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parseStructLitFields() ([]*ast.StructFieldInit, error) {
	if _, err := p.expect(token.LBrace); err != nil {
		return nil, err
	}
	var fields []*ast.StructFieldInit
	for !p.at(token.RBrace) {
		fpos := p.current().Pos
		id, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Assign); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		fields = append(fields, &ast.StructFieldInit{Pos: fpos, Name: id.Lexeme, Value: v})
		if p.at(token.Comma) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return nil, err
	}
	return fields, nil
}

// parseArrayLit parses a bare `{e1, ..., en}` — it is only reached from
// parsePrimary when the `{` is not preceded by an identifier, which is
// what distinguishes it from a `Name{...}` struct literal.
func (p *Parser) parseArrayLit() (ast.Expr, error) {
	pos := p.current().Pos
	p.advance()
	arr := &ast.ArrayLit{Pos: pos}
	for !p.at(token.RBrace) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		arr.Elements = append(arr.Elements, e)
		if p.at(token.Comma) {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return nil, err
	}
	return arr, nil
}

func (p *Parser) parseFuncLit() (ast.Expr, error) {
	pos := p.current().Pos
	p.advance()
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	fl := &ast.FuncLit{Pos: pos, Params: params}
	if p.at(token.Colon) {
		p.advance()
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		fl.Return = t
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fl.Body = body
	return fl, nil
}
