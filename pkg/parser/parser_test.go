package parser

import (
	"testing"

	"github.com/gaarutyunov/flx/pkg/ast"
	"github.com/gaarutyunov/flx/pkg/token"
)

func mustParse(t *testing.T, source string) *ast.Program {
	t.Helper()
	p, err := New("test.flx", []byte(source))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	prog, err := p.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return prog
}

func TestParseNamespaceAndUsing(t *testing.T) {
	prog := mustParse(t, `namespace app;
using flx.std.io;
`)
	if prog.Alias != "app" {
		t.Errorf("Alias = %q, want app", prog.Alias)
	}
	if len(prog.Usings) != 1 || prog.Usings[0].Path[len(prog.Usings[0].Path)-1] != "io" {
		t.Fatalf("Usings = %+v", prog.Usings)
	}
}

func TestParseVarDecl(t *testing.T) {
	prog := mustParse(t, `var x: int = 1;`)
	if len(prog.Statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(prog.Statements))
	}
	decl := prog.Statements[0].(*ast.DeclStmt).Decl
	if decl.Identifier != "x" || decl.Type.Tag != "int" {
		t.Errorf("decl = %+v", decl)
	}
	if _, ok := decl.Default.(*ast.Literal); !ok {
		t.Errorf("Default = %T, want *ast.Literal", decl.Default)
	}
}

func TestParseVarDeclUnpack(t *testing.T) {
	prog := mustParse(t, `var [a, b] = pair;`)
	decl := prog.Statements[0].(*ast.DeclStmt).Decl
	if len(decl.Unpack) != 2 || decl.Unpack[0] != "a" || decl.Unpack[1] != "b" {
		t.Errorf("Unpack = %v", decl.Unpack)
	}
}

func TestParseFunDecl(t *testing.T) {
	prog := mustParse(t, `
fun add(a: int, b: int): int {
	return a + b;
}
`)
	fn := prog.Statements[0].(*ast.FunDecl)
	if fn.Identifier != "add" || len(fn.Params) != 2 || fn.Params[1].Name != "b" {
		t.Fatalf("fn = %+v", fn)
	}
	if len(fn.Body.Stmts) != 1 {
		t.Fatalf("body = %+v", fn.Body.Stmts)
	}
	ret := fn.Body.Stmts[0].(*ast.ReturnStmt)
	bin := ret.Value.(*ast.BinaryExpr)
	if bin.Op != token.Plus {
		t.Errorf("Op = %v, want Plus", bin.Op)
	}
}

func TestParseForwardDecl(t *testing.T) {
	prog := mustParse(t, `fun helper(x: int): int;`)
	fn := prog.Statements[0].(*ast.FunDecl)
	if fn.Body != nil {
		t.Errorf("expected forward declaration with nil Body")
	}
}

func TestParseStructDecl(t *testing.T) {
	prog := mustParse(t, `
struct Point {
	var x: int;
	var y: int = 0;
}
`)
	st := prog.Statements[0].(*ast.StructDecl)
	if st.Identifier != "Point" || len(st.Fields) != 2 {
		t.Fatalf("struct = %+v", st)
	}
	if st.Fields[1].Default == nil {
		t.Errorf("expected field y to carry a default")
	}
}

func TestParseIfElifElse(t *testing.T) {
	prog := mustParse(t, `
if (x == 1) {
	y = 1;
} elif (x == 2) {
	y = 2;
} else {
	y = 3;
}
`)
	ifs := prog.Statements[0].(*ast.IfStmt)
	if len(ifs.Elifs) != 1 {
		t.Fatalf("expected 1 elif clause, got %d", len(ifs.Elifs))
	}
	if ifs.Else == nil {
		t.Fatalf("expected an else branch")
	}
}

func TestParseForeach(t *testing.T) {
	prog := mustParse(t, `
foreach (var [k, v] in items) {
	print(k, v);
}
`)
	fe := prog.Statements[0].(*ast.ForeachStmt)
	if fe.KeyName != "k" || fe.ValueName != "v" {
		t.Errorf("foreach = %+v", fe)
	}
}

func TestParseTryCatch(t *testing.T) {
	prog := mustParse(t, `
try {
	throw "boom";
} catch (var e) {
	print(e);
}
`)
	if _, ok := prog.Statements[0].(*ast.TryStmt); !ok {
		t.Fatalf("expected *ast.TryStmt, got %T", prog.Statements[0])
	}
}

func TestParseCallExpr(t *testing.T) {
	prog := mustParse(t, `println("hi", 1, 2);`)
	call := prog.Statements[0].(*ast.ExprStmt).Expr.(*ast.CallExpr)
	if call.Name != "println" || len(call.Args) != 3 {
		t.Fatalf("call = %+v", call)
	}
}

func TestParsePrecedence(t *testing.T) {
	prog := mustParse(t, `var r = 1 + 2 * 3;`)
	decl := prog.Statements[0].(*ast.DeclStmt).Decl
	bin := decl.Default.(*ast.BinaryExpr)
	if bin.Op != token.Plus {
		t.Fatalf("top-level op = %v, want Plus (multiplication binds tighter)", bin.Op)
	}
	if _, ok := bin.Right.(*ast.BinaryExpr); !ok {
		t.Fatalf("right side should itself be the `2 * 3` BinaryExpr, got %T", bin.Right)
	}
}
