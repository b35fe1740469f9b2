// Package ast defines the polymorphic node variants (spec.md §2: "AST")
// that the parser produces and the resolver, analyzer, evaluator and
// compiler all visit (spec.md §4 across 4.3-4.6). Each node carries
// its own token.Position for diagnostics, the way every node in the
// teacher's pkg/ast carried its own lexer.Position.
package ast

import "github.com/gaarutyunov/flx/pkg/token"

// Program is one parsed source file: an optional namespace alias, its
// import/include/exclude directives and its top-level declarations
// (spec.md §3 "Program").
type Program struct {
	Pos        token.Position
	Name       string
	Alias      string
	Usings     []*Using
	Includes   []*NamespaceToggle
	Statements []Stmt
}

func (n *Program) Accept(v Visitor) interface{} { return v.VisitProgram(n) }

// Using represents `using a.b.c;`.
type Using struct {
	Pos  token.Position
	Path []string
}

func (n *Using) Accept(v Visitor) interface{} { return v.VisitUsing(n) }

// NamespaceToggle represents `include X;` or `exclude X;`.
type NamespaceToggle struct {
	Pos     token.Position
	Exclude bool
	Name    string
}

func (n *NamespaceToggle) Accept(v Visitor) interface{} { return v.VisitNamespaceToggle(n) }

// ---- Types -----------------------------------------------------------

// TypeExpr is the parsed form of spec.md §3's TypeDefinition, before
// pkg/types elaborates it against the symbol table.
type TypeExpr struct {
	Pos            token.Position
	Tag            string // one of the closed Type tag set, or "" for struct/array element inference
	ArrayElem      *TypeExpr
	Dims           []Expr // ordered dimension expressions, nil entries mean "[]" (inferred)
	TypeName       string
	TypeNameSpace  string
	UseRefExplicit *bool // nil means "default for the tag"
}

func (n *TypeExpr) Accept(v Visitor) interface{} { return v.VisitTypeExpr(n) }

// ---- Declarations ------------------------------------------------------

// VarDecl covers both `var` and `const` declarations, including the
// unpacked form `var [a,b,c] : T = expr`.
type VarDecl struct {
	Pos        token.Position
	IsConst    bool
	Identifier string   // empty when Unpack is set
	Unpack     []string // field/element names for `var [a,b,c]`
	Type       *TypeExpr
	Default    Expr // may be nil
	IsRest     bool
}

func (n *VarDecl) Accept(v Visitor) interface{} { return v.VisitVarDecl(n) }

// Param is one formal parameter of a FunDecl.
type Param struct {
	Pos     token.Position
	Name    string
	Type    *TypeExpr
	Default Expr
	IsRest  bool
}

func (n *Param) Accept(v Visitor) interface{} { return v.VisitParam(n) }

// FunDecl is a named function declaration or a forward declaration
// (Body == nil), spec.md §3 "FunctionDefinition" and §4.4 "Function
// definition".
type FunDecl struct {
	Pos        token.Position
	Identifier string
	Params     []*Param
	Return     *TypeExpr
	Body       *Block // nil for forward declarations
}

func (n *FunDecl) Accept(v Visitor) interface{} { return v.VisitFunDecl(n) }
func (n *FunDecl) Position() token.Position     { return n.Pos }

// StructField is one field of a StructDecl, matching spec.md §3's
// insertion-ordered StructureDefinition.fields.
type StructField struct {
	Pos     token.Position
	Name    string
	Type    *TypeExpr
	Default Expr
}

func (n *StructField) Accept(v Visitor) interface{} { return v.VisitStructField(n) }

type StructDecl struct {
	Pos        token.Position
	Identifier string
	Fields     []*StructField
}

func (n *StructDecl) Accept(v Visitor) interface{} { return v.VisitStructDecl(n) }
func (n *StructDecl) Position() token.Position     { return n.Pos }

// ---- Statements --------------------------------------------------------

// Stmt is the interface every block-level statement implements.
type Stmt interface {
	Accept(v Visitor) interface{}
	Position() token.Position
}

// Block is a brace-delimited statement sequence; it is its own scope
// boundary (spec.md §5: "scope entry push_back(scope) ... pop_back()").
type Block struct {
	Pos   token.Position
	Stmts []Stmt
}

func (n *Block) Accept(v Visitor) interface{} { return v.VisitBlock(n) }
func (n *Block) Position() token.Position     { return n.Pos }

type DeclStmt struct {
	Pos  token.Position
	Decl *VarDecl
}

func (n *DeclStmt) Accept(v Visitor) interface{} { return v.VisitDeclStmt(n) }
func (n *DeclStmt) Position() token.Position     { return n.Pos }

// IdentPart is one segment of an identifier chain (spec.md §4.2:
// "list of (name, access_vector) pairs"); Index holds zero or more
// bracket subscripts and Field marks a following `.name` hop.
type IdentPart struct {
	Name  string
	Index []Expr
	Field bool
}

type AssignStmt struct {
	Pos    token.Position
	Target []IdentPart
	Op     token.Kind
	Value  Expr
}

func (n *AssignStmt) Accept(v Visitor) interface{} { return v.VisitAssignStmt(n) }
func (n *AssignStmt) Position() token.Position     { return n.Pos }

type ExprStmt struct {
	Pos  token.Position
	Expr Expr
}

func (n *ExprStmt) Accept(v Visitor) interface{} { return v.VisitExprStmt(n) }
func (n *ExprStmt) Position() token.Position     { return n.Pos }

type IfStmt struct {
	Pos   token.Position
	Cond  Expr
	Then  *Block
	Elifs []*ElifClause
	Else  *Block
}

func (n *IfStmt) Accept(v Visitor) interface{} { return v.VisitIfStmt(n) }
func (n *IfStmt) Position() token.Position     { return n.Pos }

type ElifClause struct {
	Pos  token.Position
	Cond Expr
	Body *Block
}

func (n *ElifClause) Accept(v Visitor) interface{} { return v.VisitElifClause(n) }

type SwitchStmt struct {
	Pos     token.Position
	Cond    Expr
	Cases   []*CaseClause
	Default *Block
}

func (n *SwitchStmt) Accept(v Visitor) interface{} { return v.VisitSwitchStmt(n) }
func (n *SwitchStmt) Position() token.Position     { return n.Pos }

type CaseClause struct {
	Pos   token.Position
	Value Expr
	Body  *Block
}

func (n *CaseClause) Accept(v Visitor) interface{} { return v.VisitCaseClause(n) }

type ForStmt struct {
	Pos  token.Position
	Init Stmt
	Cond Expr
	Post Stmt
	Body *Block
}

func (n *ForStmt) Accept(v Visitor) interface{} { return v.VisitForStmt(n) }
func (n *ForStmt) Position() token.Position     { return n.Pos }

// ForeachStmt iterates an array, string, or struct (spec.md §4.4
// "Foreach").
type ForeachStmt struct {
	Pos        token.Position
	KeyName    string // set for the struct [key,value] unpacked form
	ValueName  string
	ValueType  *TypeExpr
	Collection Expr
	Body       *Block
}

func (n *ForeachStmt) Accept(v Visitor) interface{} { return v.VisitForeachStmt(n) }
func (n *ForeachStmt) Position() token.Position     { return n.Pos }

type WhileStmt struct {
	Pos  token.Position
	Cond Expr
	Body *Block
}

func (n *WhileStmt) Accept(v Visitor) interface{} { return v.VisitWhileStmt(n) }
func (n *WhileStmt) Position() token.Position     { return n.Pos }

type DoWhileStmt struct {
	Pos  token.Position
	Body *Block
	Cond Expr
}

func (n *DoWhileStmt) Accept(v Visitor) interface{} { return v.VisitDoWhileStmt(n) }
func (n *DoWhileStmt) Position() token.Position     { return n.Pos }

type BreakStmt struct{ Pos token.Position }

func (n *BreakStmt) Accept(v Visitor) interface{} { return v.VisitBreakStmt(n) }
func (n *BreakStmt) Position() token.Position     { return n.Pos }

type ContinueStmt struct{ Pos token.Position }

func (n *ContinueStmt) Accept(v Visitor) interface{} { return v.VisitContinueStmt(n) }
func (n *ContinueStmt) Position() token.Position     { return n.Pos }

type ReturnStmt struct {
	Pos   token.Position
	Value Expr // nil for a bare `return;`
}

func (n *ReturnStmt) Accept(v Visitor) interface{} { return v.VisitReturnStmt(n) }
func (n *ReturnStmt) Position() token.Position     { return n.Pos }

type ExitStmt struct {
	Pos   token.Position
	Value Expr
}

func (n *ExitStmt) Accept(v Visitor) interface{} { return v.VisitExitStmt(n) }
func (n *ExitStmt) Position() token.Position     { return n.Pos }

// TryStmt covers the three catch-declaration forms of spec.md §4.4
// ("Try/catch"): no declaration, a single Exception-typed variable, or
// a single-element unpacked declaration.
type TryStmt struct {
	Pos       token.Position
	Body      *Block
	CatchName string
	CatchType *TypeExpr
	Unpack    []string
	Catch     *Block
}

func (n *TryStmt) Accept(v Visitor) interface{} { return v.VisitTryStmt(n) }
func (n *TryStmt) Position() token.Position     { return n.Pos }

type ThrowStmt struct {
	Pos   token.Position
	Value Expr
}

func (n *ThrowStmt) Accept(v Visitor) interface{} { return v.VisitThrowStmt(n) }
func (n *ThrowStmt) Position() token.Position     { return n.Pos }

// ---- Expressions --------------------------------------------------------

// Expr is the interface every expression node implements.
type Expr interface {
	Accept(v Visitor) interface{}
	Position() token.Position
}

type Literal struct {
	Pos  token.Position
	Kind token.Kind // Int, Float, Char, String, TypeBool (true/false), TypeVoid (null)
	Text string
}

func (n *Literal) Accept(v Visitor) interface{} { return v.VisitLiteral(n) }
func (n *Literal) Position() token.Position     { return n.Pos }

type ArrayLit struct {
	Pos      token.Position
	Elements []Expr
}

func (n *ArrayLit) Accept(v Visitor) interface{} { return v.VisitArrayLit(n) }
func (n *ArrayLit) Position() token.Position     { return n.Pos }

type StructFieldInit struct {
	Pos   token.Position
	Name  string
	Value Expr
}

type StructLit struct {
	Pos           token.Position
	TypeName      string
	TypeNameSpace string
	Fields        []*StructFieldInit
}

func (n *StructLit) Accept(v Visitor) interface{} { return v.VisitStructLit(n) }
func (n *StructLit) Position() token.Position     { return n.Pos }

// FuncLit is the unified function-literal node called for by spec.md
// §9's open question: "a function literal that, when evaluated,
// declares a fresh anonymous function under a UUID name".
type FuncLit struct {
	Pos    token.Position
	Params []*Param
	Return *TypeExpr
	Body   *Block
}

func (n *FuncLit) Accept(v Visitor) interface{} { return v.VisitFuncLit(n) }
func (n *FuncLit) Position() token.Position     { return n.Pos }

type ThisExpr struct{ Pos token.Position }

func (n *ThisExpr) Accept(v Visitor) interface{} { return v.VisitThisExpr(n) }
func (n *ThisExpr) Position() token.Position     { return n.Pos }

// IdentExpr is a dotted/bracketed identifier chain (spec.md §4.2),
// reused both as an expression and, via its Parts, as an assignment
// target.
type IdentExpr struct {
	Pos   token.Position
	Parts []IdentPart
}

func (n *IdentExpr) Accept(v Visitor) interface{} { return v.VisitIdentExpr(n) }
func (n *IdentExpr) Position() token.Position     { return n.Pos }

type CallExpr struct {
	Pos       token.Position
	Namespace string
	Name      string
	Args      []Expr
}

func (n *CallExpr) Accept(v Visitor) interface{} { return v.VisitCallExpr(n) }
func (n *CallExpr) Position() token.Position     { return n.Pos }

type UnaryExpr struct {
	Pos   token.Position
	Op    token.Kind
	Right Expr
}

func (n *UnaryExpr) Accept(v Visitor) interface{} { return v.VisitUnaryExpr(n) }
func (n *UnaryExpr) Position() token.Position     { return n.Pos }

// IncDecExpr covers both the prefix (`++x`) and postfix (`x++`) forms
// of spec.md §4.2's "unary" and "postfix" layers.
type IncDecExpr struct {
	Pos     token.Position
	Target  *IdentExpr
	Op      token.Kind
	Postfix bool
}

func (n *IncDecExpr) Accept(v Visitor) interface{} { return v.VisitIncDecExpr(n) }
func (n *IncDecExpr) Position() token.Position     { return n.Pos }

type BinaryExpr struct {
	Pos   token.Position
	Left  Expr
	Op    token.Kind
	Right Expr
}

func (n *BinaryExpr) Accept(v Visitor) interface{} { return v.VisitBinaryExpr(n) }
func (n *BinaryExpr) Position() token.Position     { return n.Pos }

type TernaryExpr struct {
	Pos     token.Position
	Cond    Expr
	IfTrue  Expr
	IfFalse Expr
}

func (n *TernaryExpr) Accept(v Visitor) interface{} { return v.VisitTernaryExpr(n) }
func (n *TernaryExpr) Position() token.Position     { return n.Pos }

type InExpr struct {
	Pos        token.Position
	Value      Expr
	Collection Expr
}

func (n *InExpr) Accept(v Visitor) interface{} { return v.VisitInExpr(n) }
func (n *InExpr) Position() token.Position     { return n.Pos }

// TypingExpr covers `typeid/typeof/refid/is_any/is_array/is_struct`
// (spec.md §4.7).
type TypingExpr struct {
	Pos     token.Position
	Op      token.Kind
	Operand Expr
	TypeArg *TypeExpr // for typeid/typeof applied directly to a type spelling
}

func (n *TypingExpr) Accept(v Visitor) interface{} { return v.VisitTypingExpr(n) }
func (n *TypingExpr) Position() token.Position     { return n.Pos }

type ParenExpr struct {
	Pos   token.Position
	Inner Expr
}

func (n *ParenExpr) Accept(v Visitor) interface{} { return v.VisitParenExpr(n) }
func (n *ParenExpr) Position() token.Position     { return n.Pos }
