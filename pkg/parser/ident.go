package parser

import (
	"github.com/gaarutyunov/flx/pkg/ast"
	"github.com/gaarutyunov/flx/pkg/token"
)

// parseIdentParts parses an identifier chain into the (name,
// access_vector) pair list spec.md §4.2 calls for, so that
// `a[1].b[2][3].c` parses as one target: consecutive `[expr]` hops
// accumulate onto the current part's Index, and each `.name` hop opens
// a new part.
func (p *Parser) parseIdentParts() ([]ast.IdentPart, error) {
	id, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	parts := []ast.IdentPart{{Name: id.Lexeme}}
	for {
		if p.at(token.LBracket) {
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.RBracket); err != nil {
				return nil, err
			}
			last := len(parts) - 1
			parts[last].Index = append(parts[last].Index, idx)
			continue
		}
		if p.at(token.Dot) && p.peekNext().Kind == token.Ident {
			p.advance()
			fid, err := p.expect(token.Ident)
			if err != nil {
				return nil, err
			}
			parts = append(parts, ast.IdentPart{Name: fid.Lexeme, Field: true})
			continue
		}
		break
	}
	return parts, nil
}
