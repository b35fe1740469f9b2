package eval

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gaarutyunov/flx/pkg/analyzer"
	"github.com/gaarutyunov/flx/pkg/ast"
	"github.com/gaarutyunov/flx/pkg/builtin"
	"github.com/gaarutyunov/flx/pkg/parser"
	"github.com/gaarutyunov/flx/pkg/value"
)

// runSource parses and evaluates source directly (the `-e ast` engine),
// mirroring pkg/vm/vm_test.go's runSource so the two suites cover the
// same scenarios on both back-ends (spec.md §8: "evaluator result ==
// VM result").
func runSource(t *testing.T, source string) (string, int, error) {
	t.Helper()
	p, err := parser.New("test.flx", []byte(source))
	if err != nil {
		t.Fatalf("parser.New: %v", err)
	}
	prog, err := p.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var out bytes.Buffer
	builtins := builtin.NewDefault(&out, strings.NewReader(""))

	an := analyzer.New(builtins.Signatures()...)
	if errs := an.Analyze("test.flx", []*ast.Program{prog}); len(errs) > 0 {
		t.Fatalf("analyze: %v", errs[0])
	}

	e := New(value.NewHeap(), builtins)
	code, runErr := e.Run([]*ast.Program{prog})
	return out.String(), code, runErr
}

func TestEvalArithmeticAndPrint(t *testing.T) {
	out, code, err := runSource(t, `println(1 + 2 * 3);`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if strings.TrimSpace(out) != "7" {
		t.Fatalf("out = %q, want 7", out)
	}
}

func TestEvalRecursiveFunction(t *testing.T) {
	out, _, err := runSource(t, `
fun fib(n: int): int {
	if (n < 2) {
		return n;
	}
	return fib(n - 1) + fib(n - 2);
}
println(fib(10));
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out) != "55" {
		t.Fatalf("out = %q, want 55", out)
	}
}

func TestEvalTryCatchUnwindsReturn(t *testing.T) {
	out, _, err := runSource(t, `
fun risky(): int {
	try {
		return 1;
	} catch (var e) {
		return 2;
	}
	return 3;
}
println(risky());
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out) != "1" {
		t.Fatalf("out = %q, want 1", out)
	}
}

func TestEvalThrowIsCaught(t *testing.T) {
	out, _, err := runSource(t, `
try {
	throw "boom";
} catch (var e) {
	println(e.error);
}
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out) != "boom" {
		t.Fatalf("out = %q, want boom", out)
	}
}

func TestEvalForeachOverArray(t *testing.T) {
	out, _, err := runSource(t, `
var xs: int[3] = {1, 2, 3};
var sum: int = 0;
foreach (var v in xs) {
	sum = sum + v;
}
println(sum);
`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out) != "6" {
		t.Fatalf("out = %q, want 6", out)
	}
}

// TestEvalSeedScenarios runs spec.md §8's six seed end-to-end scenarios,
// verbatim, under the AST engine and checks their exit codes.
func TestEvalSeedScenarios(t *testing.T) {
	cases := []struct {
		name   string
		source string
		code   int
	}{
		{"arithmetic", `fun main():int{return 2+3*4;} exit(main());`, 14},
		{"array-foreach", `var xs:int[3] = {1,2,3}; var s:int = 0; foreach(var x in xs){ s+=x; } exit(s);`, 6},
		{"struct-literal", `struct P{ var n:string; var a:int; } var p = P{ n="x", a=5 }; exit(p.a);`, 5},
		{"overload-resolution", `fun add(a:int,b:int):int{return a+b;} fun add(a:string,b:string):string{return a+b;} exit(add(add("a","b")=="ab"?1:0, 0));`, 1},
		{"try-catch-division", `var i:int = 10; try { i = i / 0; } catch(var e:flx::Exception){ i = -1; } exit(i);`, -1},
		{"string-index-assign", `var s:string = "hello"; s[0] = 'H'; exit(s == "Hello" ? 0 : 1);`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, code, err := runSource(t, tc.source)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if code != tc.code {
				t.Fatalf("code = %d, want %d", code, tc.code)
			}
		})
	}
}

func TestEvalExitStatementSetsCode(t *testing.T) {
	_, code, err := runSource(t, `exit(42);`)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 42 {
		t.Fatalf("code = %d, want 42", code)
	}
}

func TestEvalUncaughtThrowIsRuntimeError(t *testing.T) {
	_, code, err := runSource(t, `throw "boom";`)
	if err == nil {
		t.Fatalf("expected an error from an uncaught throw")
	}
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}
