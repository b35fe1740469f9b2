// Package analyzer implements spec.md §4.4: a full type check over the
// merged program set, building the scope tables (variables, function
// overload multimap, structure definitions) the evaluator and compiler
// both read back. Grounded on the teacher's pkg/visitors.SemanticAnalyzer
// (scope-stack + Errors accumulation style) generalized from its single
// untyped "isDeclared" check to the full typed rule set of
// SPEC_FULL.md §4.4.
package analyzer

import (
	"fmt"

	"github.com/xrash/smetrics"

	"github.com/gaarutyunov/flx/internal/diag"
	"github.com/gaarutyunov/flx/pkg/ast"
	"github.com/gaarutyunov/flx/pkg/scope"
	"github.com/gaarutyunov/flx/pkg/token"
	"github.com/gaarutyunov/flx/pkg/types"
)

type symbol struct {
	def     *types.Definition
	isConst bool
}

// blockScope mirrors pkg/scope.Scope's shape but stores compile-time
// Definitions rather than runtime values, since the analyzer never
// allocates heap cells.
type blockScope struct {
	vars    map[string]*symbol
	funcs   map[string][]*types.Function
	structs map[string]*types.Structure
}

func newBlockScope() *blockScope {
	return &blockScope{
		vars:    map[string]*symbol{},
		funcs:   map[string][]*types.Function{},
		structs: map[string]*types.Structure{},
	}
}

type nsScope struct {
	name     string
	stack    []*blockScope
	includes []string
}

type funcFrame struct {
	name       string
	returnType *types.Definition
}

// Analyzer walks every program sharing one namespace table, exactly as
// spec.md §9 DESIGN NOTES describes namespaces as a "global map from
// namespace name to that namespace's scope stack".
type Analyzer struct {
	ast.BaseVisitor

	file       string
	namespaces map[string]*nsScope
	current    string

	funcStack []*funcFrame

	registeredFuncs   map[*ast.FunDecl]*types.Function
	registeredStructs map[*ast.StructDecl]*types.Structure

	Errors []*diag.SemanticError
}

// New builds an Analyzer with the standard "flx" namespace preseeded
// (Pair/Exception) and, if given, every builtin function signature
// declared into the default namespace so calls to print/println/etc.
// type-check without a real stdlib source file.
func New(builtins ...*types.Function) *Analyzer {
	a := &Analyzer{
		namespaces:        map[string]*nsScope{},
		registeredFuncs:   map[*ast.FunDecl]*types.Function{},
		registeredStructs: map[*ast.StructDecl]*types.Structure{},
	}
	flx := a.ensureNamespace("flx")
	root := flx.stack[0]
	pair := types.PairStructure()
	exc := types.ExceptionStructure()
	root.structs[pair.Identifier] = pair
	root.structs[exc.Identifier] = exc

	def := a.ensureNamespace(scope.Default)
	defRoot := def.stack[0]
	for _, f := range builtins {
		defRoot.funcs[f.Identifier] = append(defRoot.funcs[f.Identifier], f)
	}
	return a
}

func (a *Analyzer) ensureNamespace(name string) *nsScope {
	ns, ok := a.namespaces[name]
	if !ok {
		ns = &nsScope{name: name, stack: []*blockScope{newBlockScope()}}
		a.namespaces[name] = ns
	}
	return ns
}

func (a *Analyzer) errorf(pos token.Position, format string, args ...interface{}) {
	a.Errors = append(a.Errors, &diag.SemanticError{Pos: pos, Message: fmt.Sprintf(format, args...)})
}

// undeclaredError reports a missing name and, per SPEC_FULL.md §4.4,
// attaches a Jaro-Winkler "did you mean" suggestion when a sufficiently
// close name is declared in any namespace.
func (a *Analyzer) undeclaredError(pos token.Position, name string) {
	best, bestScore := "", 0.0
	for _, candidate := range a.knownNames() {
		s := smetrics.JaroWinkler(name, candidate, 0.7, 4)
		if s > bestScore {
			best, bestScore = candidate, s
		}
	}
	err := &diag.SemanticError{Pos: pos, Message: fmt.Sprintf("undeclared name %q", name)}
	if bestScore >= 0.85 {
		err.Suggestion = best
	}
	a.Errors = append(a.Errors, err)
}

func (a *Analyzer) knownNames() []string {
	var out []string
	for _, ns := range a.namespaces {
		for _, bs := range ns.stack {
			for name := range bs.vars {
				out = append(out, name)
			}
			for name := range bs.funcs {
				out = append(out, name)
			}
			for name := range bs.structs {
				out = append(out, name)
			}
		}
	}
	return out
}

func (a *Analyzer) chain() []*nsScope {
	cur := a.ensureNamespace(a.current)
	chain := []*nsScope{cur}
	for _, inc := range cur.includes {
		if other, ok := a.namespaces[inc]; ok {
			chain = append(chain, other)
		}
	}
	return chain
}

func (a *Analyzer) topScope() *blockScope {
	cur := a.ensureNamespace(a.current)
	return cur.stack[len(cur.stack)-1]
}

func (a *Analyzer) pushScope() { cur := a.ensureNamespace(a.current); cur.stack = append(cur.stack, newBlockScope()) }

func (a *Analyzer) popScope() {
	cur := a.ensureNamespace(a.current)
	if len(cur.stack) > 1 {
		cur.stack = cur.stack[:len(cur.stack)-1]
	}
}

func (a *Analyzer) lookupVar(name string) (*symbol, bool) {
	for _, ns := range a.chain() {
		for i := len(ns.stack) - 1; i >= 0; i-- {
			if s, ok := ns.stack[i].vars[name]; ok {
				return s, true
			}
		}
	}
	return nil, false
}

func (a *Analyzer) lookupStruct(namespace, name string) (*types.Structure, bool) {
	chain := a.chain()
	if namespace != "" {
		if ns, ok := a.namespaces[namespace]; ok {
			chain = []*nsScope{ns}
		}
	}
	for _, ns := range chain {
		for i := len(ns.stack) - 1; i >= 0; i-- {
			if s, ok := ns.stack[i].structs[name]; ok {
				return s, true
			}
		}
	}
	return nil, false
}

func (a *Analyzer) lookupFuncCandidates(namespace, name string) []*types.Function {
	chain := a.chain()
	if namespace != "" {
		if ns, ok := a.namespaces[namespace]; ok {
			chain = []*nsScope{ns}
		}
	}
	var out []*types.Function
	for _, ns := range chain {
		for i := len(ns.stack) - 1; i >= 0; i-- {
			out = append(out, ns.stack[i].funcs[name]...)
		}
	}
	return out
}

func (a *Analyzer) declareVar(pos token.Position, name string, def *types.Definition, isConst bool) {
	top := a.topScope()
	if _, exists := top.vars[name]; exists {
		a.errorf(pos, "%q is already declared in this scope", name)
		return
	}
	if def.Tag == types.Void {
		a.errorf(pos, "variable %q cannot have type void", name)
	}
	top.vars[name] = &symbol{def: def, isConst: isConst}
}

func signatureEqual(f *types.Function, sig []*types.Definition) bool {
	own := f.Signature()
	if len(own) != len(sig) {
		return false
	}
	for i := range own {
		if !types.Equal(own[i], sig[i]) {
			return false
		}
	}
	return true
}

func (a *Analyzer) declareFunction(pos token.Position, fn *types.Function) *types.Function {
	top := a.topScope()
	sig := fn.Signature()
	for _, existing := range top.funcs[fn.Identifier] {
		if !signatureEqual(existing, sig) {
			continue
		}
		if existing.Forward && !fn.Forward {
			*existing = *fn
			return existing
		}
		a.errorf(pos, "function %q already defined with this signature", fn.Identifier)
		return existing
	}
	top.funcs[fn.Identifier] = append(top.funcs[fn.Identifier], fn)
	return fn
}

func (a *Analyzer) declareStruct(pos token.Position, st *types.Structure) {
	top := a.topScope()
	if _, exists := top.structs[st.Identifier]; exists {
		a.errorf(pos, "struct %q already declared in this scope", st.Identifier)
		return
	}
	top.structs[st.Identifier] = st
}

var primitiveTags = map[string]types.Tag{
	"undefined": types.Undefined,
	"void":      types.Void,
	"bool":      types.Bool,
	"int":       types.Int,
	"float":     types.Float,
	"char":      types.Char,
	"string":    types.String,
	"any":       types.Any,
	"function":  types.Func,
}

func (a *Analyzer) elaborateType(te *ast.TypeExpr) *types.Definition {
	if te == nil {
		return types.NewDefinition(types.Any)
	}
	if te.Tag == "array" {
		elem := a.elaborateType(te.ArrayElem)
		d := types.NewDefinition(types.Array)
		d.ArrayElementTag = elem
		d.Dims = len(te.Dims)
		for _, dim := range te.Dims {
			if dim != nil {
				dim.Accept(a)
			}
		}
		return d
	}
	if te.Tag == "struct" {
		if _, ok := a.lookupStruct(te.TypeNameSpace, te.TypeName); !ok {
			a.errorf(te.Pos, "unknown struct type %q", te.TypeName)
		}
		d := types.NewDefinition(types.Struct)
		d.TypeName = te.TypeName
		d.TypeNameSpace = te.TypeNameSpace
		return d
	}
	tag, ok := primitiveTags[te.Tag]
	if !ok {
		tag = types.Any
	}
	return types.NewDefinition(tag)
}

// Analyze runs the full two-pass analysis spec.md §4.4 implies
// (signatures/structures registered before any body is type-checked,
// so forward and mutually-recursive references resolve): it registers
// every top-level fun/struct declaration across all programs, then
// walks each program's full body.
func (a *Analyzer) Analyze(file string, programs []*ast.Program) []*diag.SemanticError {
	a.file = file
	for _, p := range programs {
		a.registerProgram(p)
	}
	for _, p := range programs {
		a.current = nsNameOf(p)
		p.Accept(a)
	}
	return a.Errors
}

func nsNameOf(p *ast.Program) string {
	if p.Alias == "" {
		return scope.Default
	}
	return p.Alias
}

func (a *Analyzer) registerProgram(p *ast.Program) {
	a.current = nsNameOf(p)
	a.ensureNamespace(a.current)
	for _, s := range p.Statements {
		switch st := s.(type) {
		case *ast.FunDecl:
			fn := a.buildFunction(st)
			declared := a.declareFunction(st.Pos, fn)
			a.registeredFuncs[st] = declared
		case *ast.StructDecl:
			sd := a.buildStructure(st)
			a.declareStruct(st.Pos, sd)
			a.registeredStructs[st] = sd
		}
	}
}

func (a *Analyzer) buildFunction(n *ast.FunDecl) *types.Function {
	fn := &types.Function{Identifier: n.Identifier, Namespace: a.current, Return: a.elaborateType(n.Return), Forward: n.Body == nil}
	for i, p := range n.Params {
		v := &types.Variable{Definition: a.elaborateType(p.Type), Identifier: p.Name, HasDefault: p.Default != nil, IsRest: p.IsRest}
		if p.IsRest && i != len(n.Params)-1 {
			a.errorf(p.Pos, "rest parameter %q must be the last formal parameter", p.Name)
		}
		fn.Parameters = append(fn.Parameters, v)
	}
	return fn
}

func (a *Analyzer) buildStructure(n *ast.StructDecl) *types.Structure {
	st := types.NewStructure(n.Identifier)
	for _, f := range n.Fields {
		if _, exists := st.Fields[f.Name]; exists {
			a.errorf(f.Pos, "duplicate field %q in struct %q", f.Name, n.Identifier)
			continue
		}
		st.AddField(&types.Variable{Definition: a.elaborateType(f.Type), Identifier: f.Name, HasDefault: f.Default != nil})
	}
	return st
}

// ---- Program / namespace ------------------------------------------------

func (a *Analyzer) VisitProgram(n *ast.Program) interface{} {
	for _, inc := range n.Includes {
		inc.Accept(a)
	}
	for _, s := range n.Statements {
		s.Accept(a)
	}
	return nil
}

func (a *Analyzer) VisitNamespaceToggle(n *ast.NamespaceToggle) interface{} {
	if n.Name == scope.Default {
		a.errorf(n.Pos, "the default namespace may not be toggled")
		return nil
	}
	if _, ok := a.namespaces[n.Name]; !ok {
		a.errorf(n.Pos, "unknown namespace %q", n.Name)
		return nil
	}
	cur := a.ensureNamespace(a.current)
	if n.Exclude {
		out := cur.includes[:0]
		for _, inc := range cur.includes {
			if inc != n.Name {
				out = append(out, inc)
			}
		}
		cur.includes = out
		return nil
	}
	for _, inc := range cur.includes {
		if inc == n.Name {
			return nil
		}
	}
	cur.includes = append(cur.includes, n.Name)
	return nil
}

// ---- Declarations --------------------------------------------------------

func (a *Analyzer) VisitVarDecl(n *ast.VarDecl) interface{} {
	var declType *types.Definition
	var initType *types.Definition
	if n.Type != nil {
		declType = a.elaborateType(n.Type)
	}
	if n.Default != nil {
		if t, ok := n.Default.Accept(a).(*types.Definition); ok {
			initType = t
		}
		if n.IsConst && !isConstExpr(n.Default) {
			a.errorf(n.Pos, "const %q requires a compile-time constant initializer", n.Identifier)
		}
	}
	if declType == nil {
		declType = initType
	}
	if declType == nil {
		declType = types.NewDefinition(types.Any)
	}
	if initType != nil && !types.AnyOrMatch(declType, initType) {
		a.errorf(n.Pos, "cannot initialize %q of type %s with value of type %s", n.Identifier, declType.Tag, initType.Tag)
	}
	if len(n.Unpack) > 0 {
		for _, name := range n.Unpack {
			a.declareVar(n.Pos, name, types.NewDefinition(types.Any), n.IsConst)
		}
		return nil
	}
	a.declareVar(n.Pos, n.Identifier, declType, n.IsConst)
	return nil
}

func isConstExpr(e ast.Expr) bool {
	switch n := e.(type) {
	case *ast.Literal:
		return true
	case *ast.UnaryExpr:
		return isConstExpr(n.Right)
	case *ast.BinaryExpr:
		return isConstExpr(n.Left) && isConstExpr(n.Right)
	case *ast.ParenExpr:
		return isConstExpr(n.Inner)
	default:
		return false
	}
}

func (a *Analyzer) VisitFunDecl(n *ast.FunDecl) interface{} {
	fn, ok := a.registeredFuncs[n]
	if !ok {
		fn = a.buildFunction(n)
		fn = a.declareFunction(n.Pos, fn)
		a.registeredFuncs[n] = fn
	}
	if n.Body == nil {
		return nil
	}
	a.pushScope()
	for _, p := range fn.Parameters {
		a.topScope().vars[p.Identifier] = &symbol{def: p.Definition}
	}
	a.funcStack = append(a.funcStack, &funcFrame{name: n.Identifier, returnType: fn.Return})
	for _, s := range n.Body.Stmts {
		s.Accept(a)
	}
	if fn.Return.Tag != types.Void && !allPathsReturn(n.Body.Stmts) {
		a.errorf(n.Pos, "function %q must return a value on every path", n.Identifier)
	}
	a.funcStack = a.funcStack[:len(a.funcStack)-1]
	a.popScope()
	return nil
}

func (a *Analyzer) VisitStructDecl(n *ast.StructDecl) interface{} {
	if _, ok := a.registeredStructs[n]; !ok {
		st := a.buildStructure(n)
		a.declareStruct(n.Pos, st)
		a.registeredStructs[n] = st
	}
	return nil
}

// ---- Statements ------------------------------------------------------------

func (a *Analyzer) VisitBlock(n *ast.Block) interface{} {
	a.pushScope()
	for _, s := range n.Stmts {
		s.Accept(a)
	}
	a.popScope()
	return nil
}

func (a *Analyzer) VisitAssignStmt(n *ast.AssignStmt) interface{} {
	if len(n.Target) == 0 {
		return nil
	}
	first := n.Target[0]
	sym, ok := a.lookupVar(first.Name)
	if !ok {
		a.undeclaredError(n.Pos, first.Name)
		n.Value.Accept(a)
		return nil
	}
	if sym.isConst {
		a.errorf(n.Pos, "cannot assign to const %q", first.Name)
	}
	targetType := a.walkTarget(sym.def, n.Target, n.Pos)
	valType, _ := n.Value.Accept(a).(*types.Definition)
	if valType == nil {
		valType = types.NewDefinition(types.Any)
	}
	if n.Op != token.Assign {
		if !types.AnyOrMatch(targetType, valType) && targetType.Tag.Numeric() != valType.Tag.Numeric() {
			a.errorf(n.Pos, "incompatible operand types for compound assignment: %s, %s", targetType.Tag, valType.Tag)
		}
	} else if !types.AnyOrMatch(targetType, valType) {
		a.errorf(n.Pos, "cannot assign value of type %s to target of type %s", valType.Tag, targetType.Tag)
	}
	return nil
}

// walkTarget re-derives the type at the end of an identifier chain,
// visiting index expressions for nested checks along the way.
func (a *Analyzer) walkTarget(base *types.Definition, parts []ast.IdentPart, pos token.Position) *types.Definition {
	cur := base
	for i, part := range parts {
		if i > 0 && part.Field {
			if cur.Tag == types.Any {
				cur = types.NewDefinition(types.Any)
			} else if cur.Tag == types.Struct {
				st, ok := a.lookupStruct(cur.TypeNameSpace, cur.TypeName)
				if !ok {
					return types.NewDefinition(types.Any)
				}
				fv, ok := st.Fields[part.Name]
				if !ok {
					a.errorf(pos, "unknown field %q on struct %q", part.Name, cur.TypeName)
					return types.NewDefinition(types.Any)
				}
				cur = fv.Definition
			} else {
				a.errorf(pos, "field access on non-struct type %s", cur.Tag)
				return types.NewDefinition(types.Any)
			}
		}
		for _, idx := range part.Index {
			idx.Accept(a)
			switch cur.Tag {
			case types.Array:
				cur = cur.ArrayElementTag
			case types.String:
				cur = types.NewDefinition(types.Char)
			case types.Any:
			default:
				a.errorf(pos, "indexing non-array/non-string type %s", cur.Tag)
				return types.NewDefinition(types.Any)
			}
		}
	}
	return cur
}

func (a *Analyzer) VisitIfStmt(n *ast.IfStmt) interface{} {
	a.checkBoolOrAny(n.Cond)
	n.Then.Accept(a)
	for _, e := range n.Elifs {
		a.checkBoolOrAny(e.Cond)
		e.Body.Accept(a)
	}
	if n.Else != nil {
		n.Else.Accept(a)
	}
	return nil
}

func (a *Analyzer) checkBoolOrAny(e ast.Expr) {
	t, _ := e.Accept(a).(*types.Definition)
	if t == nil {
		return
	}
	if t.Tag != types.Bool && t.Tag != types.Any {
		a.errorf(e.Position(), "condition must be bool, got %s", t.Tag)
	}
}

func constHash(e ast.Expr) (string, bool) {
	lit, ok := e.(*ast.Literal)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%d:%s", lit.Kind, lit.Text), true
}

func (a *Analyzer) VisitSwitchStmt(n *ast.SwitchStmt) interface{} {
	condType, _ := n.Cond.Accept(a).(*types.Definition)
	seen := map[string]bool{}
	for _, c := range n.Cases {
		caseType, _ := c.Value.Accept(a).(*types.Definition)
		if condType != nil && caseType != nil && !types.AnyOrMatch(condType, caseType) {
			a.errorf(c.Pos, "case type %s does not match switch type %s", caseType.Tag, condType.Tag)
		}
		if !isConstExpr(c.Value) {
			a.errorf(c.Pos, "case expression must be constant")
		}
		if h, ok := constHash(c.Value); ok {
			if seen[h] {
				a.errorf(c.Pos, "duplicate case value")
			}
			seen[h] = true
		}
		c.Body.Accept(a)
	}
	if n.Default != nil {
		n.Default.Accept(a)
	}
	return nil
}

func (a *Analyzer) VisitForStmt(n *ast.ForStmt) interface{} {
	a.pushScope()
	if n.Init != nil {
		n.Init.Accept(a)
	}
	if n.Cond != nil {
		a.checkBoolOrAny(n.Cond)
	}
	if n.Post != nil {
		n.Post.Accept(a)
	}
	for _, s := range n.Body.Stmts {
		s.Accept(a)
	}
	a.popScope()
	return nil
}

func (a *Analyzer) VisitForeachStmt(n *ast.ForeachStmt) interface{} {
	collType, _ := n.Collection.Accept(a).(*types.Definition)
	a.pushScope()
	if collType != nil {
		switch collType.Tag {
		case types.Array:
			elemType := collType.ArrayElementTag
			if n.ValueType != nil {
				elemType = a.elaborateType(n.ValueType)
			}
			if elemType == nil {
				elemType = types.NewDefinition(types.Any)
			}
			a.declareVar(n.Pos, n.ValueName, elemType, false)
		case types.String:
			a.declareVar(n.Pos, n.ValueName, types.NewDefinition(types.Char), false)
		case types.Struct:
			if n.KeyName != "" {
				a.declareVar(n.Pos, n.KeyName, types.NewDefinition(types.String), false)
				a.declareVar(n.Pos, n.ValueName, types.NewDefinition(types.Any), false)
			} else {
				d := types.NewDefinition(types.Struct)
				d.TypeName = "Pair"
				d.TypeNameSpace = "flx"
				a.declareVar(n.Pos, n.ValueName, d, false)
			}
		case types.Any:
			a.declareVar(n.Pos, n.ValueName, types.NewDefinition(types.Any), false)
		default:
			a.errorf(n.Pos, "foreach collection must be array, string, struct, or any, got %s", collType.Tag)
			a.declareVar(n.Pos, n.ValueName, types.NewDefinition(types.Any), false)
		}
	}
	for _, s := range n.Body.Stmts {
		s.Accept(a)
	}
	a.popScope()
	return nil
}

func (a *Analyzer) VisitWhileStmt(n *ast.WhileStmt) interface{} {
	a.checkBoolOrAny(n.Cond)
	n.Body.Accept(a)
	return nil
}

func (a *Analyzer) VisitDoWhileStmt(n *ast.DoWhileStmt) interface{} {
	n.Body.Accept(a)
	a.checkBoolOrAny(n.Cond)
	return nil
}

func (a *Analyzer) VisitReturnStmt(n *ast.ReturnStmt) interface{} {
	if len(a.funcStack) == 0 {
		a.errorf(n.Pos, "return outside of function")
		if n.Value != nil {
			n.Value.Accept(a)
		}
		return nil
	}
	frame := a.funcStack[len(a.funcStack)-1]
	if n.Value == nil {
		if frame.returnType.Tag != types.Void {
			a.errorf(n.Pos, "function %q must return a value of type %s", frame.name, frame.returnType.Tag)
		}
		return nil
	}
	t, _ := n.Value.Accept(a).(*types.Definition)
	if t != nil && !types.AnyOrMatch(frame.returnType, t) {
		a.errorf(n.Pos, "returned type %s does not match declared return type %s", t.Tag, frame.returnType.Tag)
	}
	return nil
}

func (a *Analyzer) VisitExitStmt(n *ast.ExitStmt) interface{} {
	t, _ := n.Value.Accept(a).(*types.Definition)
	if t != nil && t.Tag != types.Int && t.Tag != types.Any {
		a.errorf(n.Pos, "exit() requires an int, got %s", t.Tag)
	}
	return nil
}

func (a *Analyzer) VisitTryStmt(n *ast.TryStmt) interface{} {
	n.Body.Accept(a)
	a.pushScope()
	if n.CatchName != "" {
		d := types.NewDefinition(types.Struct)
		d.TypeName = "Exception"
		d.TypeNameSpace = "flx"
		if n.CatchType != nil {
			d = a.elaborateType(n.CatchType)
			if d.Tag != types.Struct || d.TypeName != "Exception" {
				a.errorf(n.Pos, "catch declaration must be typed flx::Exception")
			}
		}
		a.declareVar(n.Pos, n.CatchName, d, false)
	}
	for _, name := range n.Unpack {
		a.declareVar(n.Pos, name, types.NewDefinition(types.Any), false)
	}
	if n.Catch != nil {
		for _, s := range n.Catch.Stmts {
			s.Accept(a)
		}
	}
	a.popScope()
	return nil
}

func (a *Analyzer) VisitThrowStmt(n *ast.ThrowStmt) interface{} {
	t, _ := n.Value.Accept(a).(*types.Definition)
	if t == nil {
		return nil
	}
	isException := t.Tag == types.Struct && t.TypeName == "Exception"
	if t.Tag != types.String && !isException && t.Tag != types.Any {
		a.errorf(n.Pos, "throw requires a string or flx::Exception, got %s", t.Tag)
	}
	return nil
}

// ---- Expressions ------------------------------------------------------------

func (a *Analyzer) VisitLiteral(n *ast.Literal) interface{} {
	switch n.Kind {
	case token.Int:
		return types.NewDefinition(types.Int)
	case token.Float:
		return types.NewDefinition(types.Float)
	case token.Char:
		return types.NewDefinition(types.Char)
	case token.String:
		return types.NewDefinition(types.String)
	case token.TypeBool:
		return types.NewDefinition(types.Bool)
	case token.TypeVoid:
		return types.NewDefinition(types.Void)
	default:
		return types.NewDefinition(types.Any)
	}
}

func (a *Analyzer) VisitArrayLit(n *ast.ArrayLit) interface{} {
	var elem *types.Definition
	mismatched := false
	for _, e := range n.Elements {
		t, _ := e.Accept(a).(*types.Definition)
		if t == nil {
			continue
		}
		if elem == nil {
			elem = t
		} else if !types.Equal(elem, t) {
			mismatched = true
		}
	}
	d := types.NewDefinition(types.Array)
	if elem == nil || mismatched {
		d.ArrayElementTag = types.NewDefinition(types.Any)
	} else {
		d.ArrayElementTag = elem
	}
	d.Dims = 1
	return d
}

func (a *Analyzer) VisitStructLit(n *ast.StructLit) interface{} {
	st, ok := a.lookupStruct(n.TypeNameSpace, n.TypeName)
	if !ok {
		a.errorf(n.Pos, "unknown struct type %q", n.TypeName)
		for _, f := range n.Fields {
			f.Value.Accept(a)
		}
		return types.NewDefinition(types.Any)
	}
	for _, f := range n.Fields {
		fv, ok := st.Fields[f.Name]
		t, _ := f.Value.Accept(a).(*types.Definition)
		if !ok {
			a.errorf(n.Pos, "unknown field %q on struct %q", f.Name, n.TypeName)
			continue
		}
		if t != nil && !types.AnyOrMatch(fv.Definition, t) {
			a.errorf(n.Pos, "field %q expects %s, got %s", f.Name, fv.Definition.Tag, t.Tag)
		}
	}
	d := types.NewDefinition(types.Struct)
	d.TypeName = n.TypeName
	d.TypeNameSpace = n.TypeNameSpace
	return d
}

func (a *Analyzer) VisitFuncLit(n *ast.FuncLit) interface{} {
	returnType := a.elaborateType(n.Return)
	a.pushScope()
	for _, p := range n.Params {
		if p.Default != nil {
			p.Default.Accept(a)
		}
		a.declareVar(p.Pos, p.Name, a.elaborateType(p.Type), false)
	}
	a.funcStack = append(a.funcStack, &funcFrame{name: "<anonymous>", returnType: returnType})
	for _, s := range n.Body.Stmts {
		s.Accept(a)
	}
	if returnType.Tag != types.Void && !allPathsReturn(n.Body.Stmts) {
		a.errorf(n.Pos, "function literal must return a value on every path")
	}
	a.funcStack = a.funcStack[:len(a.funcStack)-1]
	a.popScope()
	return types.NewDefinition(types.Func)
}

func (a *Analyzer) VisitThisExpr(n *ast.ThisExpr) interface{} { return types.NewDefinition(types.Any) }

func (a *Analyzer) VisitIdentExpr(n *ast.IdentExpr) interface{} {
	if len(n.Parts) == 0 {
		return types.NewDefinition(types.Any)
	}
	first := n.Parts[0]
	sym, ok := a.lookupVar(first.Name)
	if !ok {
		a.undeclaredError(n.Pos, first.Name)
		return types.NewDefinition(types.Any)
	}
	return a.walkTarget(sym.def, n.Parts, n.Pos)
}

func (a *Analyzer) VisitCallExpr(n *ast.CallExpr) interface{} {
	var sig []*types.Definition
	for _, arg := range n.Args {
		t, _ := arg.Accept(a).(*types.Definition)
		if t == nil {
			t = types.NewDefinition(types.Any)
		}
		sig = append(sig, t)
	}
	candidates := a.lookupFuncCandidates(n.Namespace, n.Name)
	if fn, ok := scope.Resolve(candidates, sig); ok {
		return fn.Return
	}
	if sym, ok := a.lookupVar(n.Name); ok && sym.def.Tag == types.Func {
		return types.NewDefinition(types.Any)
	}
	a.undeclaredError(n.Pos, n.Name)
	return types.NewDefinition(types.Any)
}

func (a *Analyzer) VisitUnaryExpr(n *ast.UnaryExpr) interface{} {
	t, _ := n.Right.Accept(a).(*types.Definition)
	if t == nil {
		return types.NewDefinition(types.Any)
	}
	switch n.Op {
	case token.Minus, token.Plus:
		if !t.Tag.Numeric() && t.Tag != types.Any {
			a.errorf(n.Pos, "unary %s requires a numeric operand, got %s", n.Op, t.Tag)
		}
		return t
	case token.Not:
		if t.Tag != types.Bool && t.Tag != types.Any {
			a.errorf(n.Pos, "not requires a bool operand, got %s", t.Tag)
		}
		return types.NewDefinition(types.Bool)
	case token.Tilde:
		if t.Tag != types.Int && t.Tag != types.Any {
			a.errorf(n.Pos, "~ requires an int operand, got %s", t.Tag)
		}
		return types.NewDefinition(types.Int)
	default:
		return t
	}
}

func (a *Analyzer) VisitIncDecExpr(n *ast.IncDecExpr) interface{} {
	t, _ := n.Target.Accept(a).(*types.Definition)
	if t != nil && !t.Tag.Numeric() && t.Tag != types.Any {
		a.errorf(n.Pos, "++/-- requires a numeric target, got %s", t.Tag)
	}
	return t
}

func (a *Analyzer) VisitBinaryExpr(n *ast.BinaryExpr) interface{} {
	l, _ := n.Left.Accept(a).(*types.Definition)
	r, _ := n.Right.Accept(a).(*types.Definition)
	if l == nil {
		l = types.NewDefinition(types.Any)
	}
	if r == nil {
		r = types.NewDefinition(types.Any)
	}
	return a.binaryResultType(n.Pos, n.Op, l, r)
}

func (a *Analyzer) binaryResultType(pos token.Position, op token.Kind, l, r *types.Definition) *types.Definition {
	any := l.Tag == types.Any || r.Tag == types.Any
	switch {
	case token.EqualityOp[op]:
		return types.NewDefinition(types.Bool)
	case token.RelationalOp[op], token.ThreeWayOp[op]:
		if !any && (!l.Tag.Numeric() || !r.Tag.Numeric()) {
			a.errorf(pos, "relational/three-way operator requires numeric operands, got %s, %s", l.Tag, r.Tag)
		}
		if token.ThreeWayOp[op] {
			return types.NewDefinition(types.Int)
		}
		return types.NewDefinition(types.Bool)
	case op == token.Plus:
		switch {
		case any:
			return types.NewDefinition(types.Any)
		case l.Tag == types.String || r.Tag == types.String:
			if (l.Tag == types.String || l.Tag == types.Char) && (r.Tag == types.String || r.Tag == types.Char) {
				return types.NewDefinition(types.String)
			}
			a.errorf(pos, "+ on %s, %s", l.Tag, r.Tag)
			return types.NewDefinition(types.Any)
		case l.Tag == types.Array && r.Tag == types.Array:
			d := types.NewDefinition(types.Array)
			if types.Equal(l.ArrayElementTag, r.ArrayElementTag) {
				d.ArrayElementTag = l.ArrayElementTag
			} else {
				d.ArrayElementTag = types.NewDefinition(types.Any)
			}
			return d
		case l.Tag.Numeric() && r.Tag.Numeric():
			return numericResult(l, r)
		default:
			a.errorf(pos, "+ on %s, %s", l.Tag, r.Tag)
			return types.NewDefinition(types.Any)
		}
	case token.AdditiveOp[op], token.MultiplicativeOp[op], token.ExponentiationOp[op]:
		if any {
			return types.NewDefinition(types.Any)
		}
		if !l.Tag.Numeric() || !r.Tag.Numeric() {
			a.errorf(pos, "arithmetic operator requires numeric operands, got %s, %s", l.Tag, r.Tag)
			return types.NewDefinition(types.Any)
		}
		return numericResult(l, r)
	case token.ShiftOp[op], op == token.Amp, op == token.Pipe, op == token.Caret:
		if any {
			return types.NewDefinition(types.Int)
		}
		if l.Tag != types.Int || r.Tag != types.Int {
			a.errorf(pos, "bitwise operator requires int operands, got %s, %s", l.Tag, r.Tag)
		}
		return types.NewDefinition(types.Int)
	case op == token.AndAnd, op == token.OrOr, op == token.And, op == token.Or:
		if any {
			return types.NewDefinition(types.Bool)
		}
		if l.Tag != types.Bool || r.Tag != types.Bool {
			a.errorf(pos, "logical operator requires bool operands, got %s, %s", l.Tag, r.Tag)
		}
		return types.NewDefinition(types.Bool)
	default:
		return types.NewDefinition(types.Any)
	}
}

func numericResult(l, r *types.Definition) *types.Definition {
	if l.Tag == types.Int && r.Tag == types.Int {
		return types.NewDefinition(types.Int)
	}
	return types.NewDefinition(types.Float)
}

func (a *Analyzer) VisitTernaryExpr(n *ast.TernaryExpr) interface{} {
	a.checkBoolOrAny(n.Cond)
	t1, _ := n.IfTrue.Accept(a).(*types.Definition)
	t2, _ := n.IfFalse.Accept(a).(*types.Definition)
	if t1 != nil && t2 != nil && types.Equal(t1, t2) {
		return t1
	}
	return types.NewDefinition(types.Any)
}

func (a *Analyzer) VisitInExpr(n *ast.InExpr) interface{} {
	n.Value.Accept(a)
	n.Collection.Accept(a)
	return types.NewDefinition(types.Bool)
}

func (a *Analyzer) VisitTypingExpr(n *ast.TypingExpr) interface{} {
	if n.Operand != nil {
		n.Operand.Accept(a)
	}
	switch n.Op {
	case token.IsAny, token.IsArray, token.IsStruct:
		return types.NewDefinition(types.Bool)
	case token.TypeID, token.RefID:
		return types.NewDefinition(types.Int)
	case token.TypeOf:
		return types.NewDefinition(types.String)
	default:
		return types.NewDefinition(types.Any)
	}
}

func (a *Analyzer) VisitParenExpr(n *ast.ParenExpr) interface{} { return n.Inner.Accept(a) }

// allPathsReturn implements spec.md §4.4's control-flow return check:
// every path through stmts must end in return/throw/exit.
func allPathsReturn(stmts []ast.Stmt) bool {
	for _, s := range stmts {
		switch st := s.(type) {
		case *ast.ReturnStmt, *ast.ThrowStmt, *ast.ExitStmt:
			return true
		case *ast.Block:
			if allPathsReturn(st.Stmts) {
				return true
			}
		case *ast.IfStmt:
			if st.Else == nil || !allPathsReturn(st.Then.Stmts) {
				continue
			}
			allElifs := true
			for _, e := range st.Elifs {
				if !allPathsReturn(e.Body.Stmts) {
					allElifs = false
					break
				}
			}
			if allElifs && allPathsReturn(st.Else.Stmts) {
				return true
			}
		case *ast.SwitchStmt:
			if st.Default == nil {
				continue
			}
			allCases := true
			for _, c := range st.Cases {
				if !allPathsReturn(c.Body.Stmts) {
					allCases = false
					break
				}
			}
			if allCases && allPathsReturn(st.Default.Stmts) {
				return true
			}
		case *ast.TryStmt:
			if st.Catch != nil && allPathsReturn(st.Body.Stmts) && allPathsReturn(st.Catch.Stmts) {
				return true
			}
		}
	}
	return false
}
