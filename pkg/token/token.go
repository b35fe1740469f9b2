// Package token defines the lexical tokens produced by pkg/lexer and
// consumed by pkg/parser.
package token

import "fmt"

// Kind identifies the lexical class of a Token.
type Kind int

const (
	EOF Kind = iota
	Ident
	Int
	Float
	Char
	String

	// keywords
	Using
	Include
	Exclude
	Namespace
	Var
	Const
	Fun
	Struct
	Enum
	If
	Else
	Elif
	Switch
	Case
	Default
	For
	Foreach
	While
	Do
	Break
	Continue
	Return
	Exit
	Try
	Catch
	Throw
	This
	Null
	True
	False
	In
	Ref
	Unref
	Not
	And
	Or
	TypeID
	TypeOf
	RefID
	IsAny
	IsArray
	IsStruct

	// primitive type names
	TypeUndefined
	TypeVoid
	TypeBool
	TypeInt
	TypeFloat
	TypeChar
	TypeString
	TypeArray
	TypeAny
	TypeFunction

	// punctuation / operators
	LParen
	RParen
	LBrace
	RBrace
	LBracket
	RBracket
	Comma
	Semicolon
	Colon
	ColonColon
	Dot
	Assign

	Plus
	Minus
	Star
	Slash
	Percent
	SlashPercent
	StarStar

	Lt
	Le
	Gt
	Ge
	EqEq
	NotEq
	Spaceship

	Shl
	Shr
	Amp
	Pipe
	Caret
	Tilde

	AndAnd
	OrOr

	Inc
	Dec

	PlusEq
	MinusEq
	StarEq
	SlashEq
	PercentEq
	SlashPercentEq
	StarStarEq
	ShlEq
	ShrEq
	AmpEq
	PipeEq
	CaretEq

	Question

	Invalid
)

// Keywords maps reserved words to their Kind. Primitive type names are
// included here too since they are reserved, not contextual.
var Keywords = map[string]Kind{
	"using":     Using,
	"include":   Include,
	"exclude":   Exclude,
	"namespace": Namespace,
	"var":       Var,
	"const":     Const,
	"fun":       Fun,
	"struct":    Struct,
	"enum":      Enum,
	"if":        If,
	"else":      Else,
	"elif":      Elif,
	"switch":    Switch,
	"case":      Case,
	"default":   Default,
	"for":       For,
	"foreach":   Foreach,
	"while":     While,
	"do":        Do,
	"break":     Break,
	"continue":  Continue,
	"return":    Return,
	"exit":      Exit,
	"try":       Try,
	"catch":     Catch,
	"throw":     Throw,
	"this":      This,
	"null":      Null,
	"true":      True,
	"false":     False,
	"in":        In,
	"ref":       Ref,
	"unref":     Unref,
	"not":       Not,
	"and":       And,
	"or":        Or,
	"typeid":    TypeID,
	"typeof":    TypeOf,
	"refid":     RefID,
	"is_any":    IsAny,
	"is_array":  IsArray,
	"is_struct": IsStruct,

	"undefined": TypeUndefined,
	"void":      TypeVoid,
	"bool":      TypeBool,
	"int":       TypeInt,
	"float":     TypeFloat,
	"char":      TypeChar,
	"string":    TypeString,
	"array":     TypeArray,
	"any":       TypeAny,
	"function":  TypeFunction,
}

// Operator equivalence classes used by the parser's precedence climber
// (spec.md §4.1).
var (
	AdditiveOp       = map[Kind]bool{Plus: true, Minus: true}
	MultiplicativeOp = map[Kind]bool{Star: true, Slash: true, Percent: true, SlashPercent: true}
	ExponentiationOp = map[Kind]bool{StarStar: true}
	RelationalOp     = map[Kind]bool{Lt: true, Le: true, Gt: true, Ge: true}
	EqualityOp       = map[Kind]bool{EqEq: true, NotEq: true}
	ThreeWayOp       = map[Kind]bool{Spaceship: true}
	ShiftOp          = map[Kind]bool{Shl: true, Shr: true}
	IncrementOp      = map[Kind]bool{Inc: true, Dec: true}

	CompoundAssignOp = map[Kind]bool{
		Assign: true, PlusEq: true, MinusEq: true, StarEq: true, SlashEq: true,
		PercentEq: true, SlashPercentEq: true, StarStarEq: true,
		ShlEq: true, ShrEq: true, AmpEq: true, PipeEq: true, CaretEq: true,
	}
)

// Position is a 1-based row/column location within one source file.
type Position struct {
	File string
	Row  int
	Col  int
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d:%d", p.File, p.Row, p.Col)
}

// Token is one lexeme with its source position.
type Token struct {
	Kind   Kind
	Lexeme string
	Pos    Position
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%s", t.Kind, t.Lexeme, t.Pos)
}

var names = map[Kind]string{
	EOF: "EOF", Ident: "IDENT", Int: "INT", Float: "FLOAT", Char: "CHAR", String: "STRING",
	Invalid: "INVALID",
}

func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	for word, kind := range Keywords {
		if kind == k {
			return word
		}
	}
	return fmt.Sprintf("kind(%d)", int(k))
}
