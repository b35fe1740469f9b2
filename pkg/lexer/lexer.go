// Package lexer tokenizes flx source text into a pkg/token stream.
//
// Tokenization itself is delegated to a participle/v2/lexer.Stateful
// rule table, the same mechanism the teacher package (pkg/parser)
// used for the Guix language (see guixLexer there). The rules below
// describe flx's token classes instead of Guix's; everything past
// tokenization (literal decoding, keyword classification, row/col
// bookkeeping in flx's own Position shape) is this package's own code
// because participle hands back raw lexemes, not decoded values.
package lexer

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	participlelexer "github.com/alecthomas/participle/v2/lexer"

	"github.com/gaarutyunov/flx/pkg/token"
)

// rules mirrors the shape of the teacher's guixLexer: a flat "Root"
// state built from ordered regexes, longest-match within each
// alternative tried top to bottom as participle evaluates them.
var rules = participlelexer.MustStateful(participlelexer.Rules{
	"Root": {
		{Name: "Comment", Pattern: `//[^\n]*|/\*[\s\S]*?\*/`, Action: nil},
		{Name: "Whitespace", Pattern: `[ \t\r\n]+`, Action: nil},
		{Name: "Number", Pattern: `0[bBoOdDxX][0-9a-fA-F]+|\d+\.\d+|\d+`, Action: nil},
		{Name: "Char", Pattern: `'(?:\\.|[^'\\])'`, Action: nil},
		{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`, Action: nil},
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`, Action: nil},
		{Name: "Op3", Pattern: `<=>|\*\*=|/%=|<<=|>>=`, Action: nil},
		{Name: "Op2", Pattern: `\*\*|/%|==|!=|<=|>=|<<|>>|&&|\|\||\+\+|--|::|\+=|-=|\*=|/=|%=|&=|\|=|\^=`, Action: nil},
		{Name: "Op1", Pattern: `[+\-*/%<>=!&|^~.,;:(){}\[\]?]`, Action: nil},
	},
})

// Lexer produces a lazy token stream with one-token lookahead support
// left to the caller (pkg/parser keeps current/next itself).
type Lexer struct {
	tokens []token.Token
	pos    int
}

// New strips an optional UTF-8 BOM (spec.md §4.1) and tokenizes src in
// full; the parser then walks the resulting slice with an index,
// which is simpler than threading participle's PeekingLexer through
// the hand-rolled recursive-descent parser.
func New(file string, src []byte) (*Lexer, error) {
	src = bytes.TrimPrefix(src, []byte{0xEF, 0xBB, 0xBF})

	plex, err := rules.Lex(file, bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("flx lexer: %w", err)
	}

	var out []token.Token
	for {
		t, err := plex.Next()
		if err != nil {
			return nil, fmt.Errorf("flx lexer: %w", err)
		}
		if t.EOF() {
			break
		}
		symbol := rules.Symbols()
		name := symbolName(symbol, t.Type)
		if name == "Whitespace" || name == "Comment" {
			continue
		}
		tok, err := classify(file, name, t)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	out = append(out, token.Token{Kind: token.EOF, Pos: token.Position{File: file}})
	return &Lexer{tokens: out}, nil
}

func symbolName(symbols map[string]participlelexer.TokenType, want participlelexer.TokenType) string {
	for name, tt := range symbols {
		if tt == want {
			return name
		}
	}
	return ""
}

func classify(file, ruleName string, t participlelexer.Token) (token.Token, error) {
	pos := token.Position{File: file, Row: t.Pos.Line, Col: t.Pos.Column}
	switch ruleName {
	case "Ident":
		if kw, ok := token.Keywords[t.Value]; ok {
			return token.Token{Kind: kw, Lexeme: t.Value, Pos: pos}, nil
		}
		return token.Token{Kind: token.Ident, Lexeme: t.Value, Pos: pos}, nil
	case "Number":
		if strings.Contains(t.Value, ".") {
			return token.Token{Kind: token.Float, Lexeme: t.Value, Pos: pos}, nil
		}
		return token.Token{Kind: token.Int, Lexeme: normalizeIntBase(t.Value), Pos: pos}, nil
	case "Char":
		decoded, err := unescape(t.Value[1 : len(t.Value)-1])
		if err != nil {
			return token.Token{}, fmt.Errorf("%s: invalid char literal: %w", pos, err)
		}
		if utf8.RuneCountInString(decoded) != 1 {
			return token.Token{}, fmt.Errorf("%s: char literal must be exactly one rune", pos)
		}
		return token.Token{Kind: token.Char, Lexeme: decoded, Pos: pos}, nil
	case "String":
		decoded, err := unescape(t.Value[1 : len(t.Value)-1])
		if err != nil {
			return token.Token{}, fmt.Errorf("%s: invalid string literal: %w", pos, err)
		}
		return token.Token{Kind: token.String, Lexeme: decoded, Pos: pos}, nil
	case "Op3", "Op2", "Op1":
		kind, ok := operatorKind(t.Value)
		if !ok {
			return token.Token{}, fmt.Errorf("%s: unknown operator %q", pos, t.Value)
		}
		return token.Token{Kind: kind, Lexeme: t.Value, Pos: pos}, nil
	default:
		return token.Token{}, fmt.Errorf("%s: unrecognized lexeme %q", pos, t.Value)
	}
}

// normalizeIntBase returns the lexeme unchanged: an Int token keeps its
// original spelling, base prefix included. IntValue decodes such a
// lexeme into its numeric value.
func normalizeIntBase(lexeme string) string { return lexeme }

// IntValue decodes an Int token's lexeme honoring the 0b/0o/0d/0x base
// prefixes spec.md §4.1 names.
func IntValue(lexeme string) (int64, error) {
	if len(lexeme) > 1 && lexeme[0] == '0' {
		switch lexeme[1] {
		case 'b', 'B':
			return strconv.ParseInt(lexeme[2:], 2, 64)
		case 'o', 'O':
			return strconv.ParseInt(lexeme[2:], 8, 64)
		case 'd', 'D':
			return strconv.ParseInt(lexeme[2:], 10, 64)
		case 'x', 'X':
			return strconv.ParseInt(lexeme[2:], 16, 64)
		}
	}
	return strconv.ParseInt(lexeme, 10, 64)
}

var escapes = map[byte]byte{
	'\\': '\\', 'n': '\n', 'r': '\r', 't': '\t', 'b': '\b', '0': 0, '\'': '\'', '"': '"',
}

func unescape(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("dangling escape")
		}
		r, ok := escapes[s[i]]
		if !ok {
			return "", fmt.Errorf("unknown escape \\%c", s[i])
		}
		b.WriteByte(r)
	}
	return b.String(), nil
}

var operators = map[string]token.Kind{
	"(": token.LParen, ")": token.RParen, "{": token.LBrace, "}": token.RBrace,
	"[": token.LBracket, "]": token.RBracket, ",": token.Comma, ";": token.Semicolon,
	":": token.Colon, "::": token.ColonColon, ".": token.Dot, "=": token.Assign,
	"+": token.Plus, "-": token.Minus, "*": token.Star, "/": token.Slash, "%": token.Percent,
	"/%": token.SlashPercent, "**": token.StarStar,
	"<": token.Lt, "<=": token.Le, ">": token.Gt, ">=": token.Ge,
	"==": token.EqEq, "!=": token.NotEq, "<=>": token.Spaceship,
	"<<": token.Shl, ">>": token.Shr, "&": token.Amp, "|": token.Pipe, "^": token.Caret, "~": token.Tilde,
	"&&": token.AndAnd, "||": token.OrOr,
	"++": token.Inc, "--": token.Dec,
	"+=": token.PlusEq, "-=": token.MinusEq, "*=": token.StarEq, "/=": token.SlashEq,
	"%=": token.PercentEq, "/%=": token.SlashPercentEq, "**=": token.StarStarEq,
	"<<=": token.ShlEq, ">>=": token.ShrEq, "&=": token.AmpEq, "|=": token.PipeEq, "^=": token.CaretEq,
	"?": token.Question,
}

func operatorKind(lexeme string) (token.Kind, bool) {
	k, ok := operators[lexeme]
	return k, ok
}

// Tokens returns the full token slice, EOF sentinel included.
func (l *Lexer) Tokens() []token.Token { return l.tokens }
