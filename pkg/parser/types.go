package parser

import (
	"github.com/gaarutyunov/flx/pkg/ast"
	"github.com/gaarutyunov/flx/pkg/token"
)

var primitiveTypeTokens = map[token.Kind]string{
	token.TypeUndefined: "undefined",
	token.TypeVoid:      "void",
	token.TypeBool:      "bool",
	token.TypeInt:       "int",
	token.TypeFloat:     "float",
	token.TypeChar:      "char",
	token.TypeString:    "string",
	token.TypeAny:       "any",
	token.TypeFunction:  "function",
}

// parseType parses `[ns::]type (dims)?` (spec.md §4.2: "optional
// annotation `: [ns::]type`"). Array dimensions are a sequence of
// bracketed expressions trailing the base type name; an empty `[]`
// means inferred size.
func (p *Parser) parseType() (*ast.TypeExpr, error) {
	pos := p.current().Pos
	te := &ast.TypeExpr{Pos: pos}

	if name, ok := primitiveTypeTokens[p.current().Kind]; ok {
		te.Tag = name
		p.advance()
	} else if p.at(token.Ident) {
		first := p.advance().Lexeme
		if p.at(token.ColonColon) {
			p.advance()
			id, err := p.expect(token.Ident)
			if err != nil {
				return nil, err
			}
			te.TypeNameSpace = first
			te.TypeName = id.Lexeme
		} else {
			te.TypeName = first
		}
		te.Tag = "struct"
	} else {
		return nil, p.errorf("expected type name, got %s", p.current().Kind)
	}

	for p.at(token.LBracket) {
		p.advance()
		if p.at(token.RBracket) {
			te.Dims = append(te.Dims, nil)
		} else {
			dim, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			te.Dims = append(te.Dims, dim)
		}
		if _, err := p.expect(token.RBracket); err != nil {
			return nil, err
		}
	}
	if len(te.Dims) > 0 {
		elem := &ast.TypeExpr{Pos: pos, Tag: te.Tag, TypeName: te.TypeName, TypeNameSpace: te.TypeNameSpace}
		te.ArrayElem = elem
		te.Tag = "array"
	}
	return te, nil
}
