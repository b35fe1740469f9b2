// Package eval implements spec.md §4.5's tree-walking evaluator: a
// direct AST-Visitor execution engine sharing pkg/ops's operator table,
// pkg/scope's namespace/overload model and pkg/value's mark-sweep heap
// with the bytecode virtual machine, so both back-ends produce
// identical results (spec.md §8: "evaluator result = VM result").
// Grounded on the teacher's pkg/visitors.Interpreter (one Visitor
// struct driving execution directly off the AST, with function calls
// modeled as scope push/bind/run/pop), generalized to the typed
// variable/overload/namespace model SPEC_FULL.md §4.5 requires and to
// original_source/src/interpreter.cpp's control-flow-via-flags design,
// adapted here to Go's idiomatic panic/recover since ast.Visitor's
// methods cannot thread a control enum back through arbitrary nested
// Accept calls the way a hand-rolled AST-walk with return codes could.
package eval

import (
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gaarutyunov/flx/internal/diag"
	"github.com/gaarutyunov/flx/pkg/ast"
	"github.com/gaarutyunov/flx/pkg/builtin"
	"github.com/gaarutyunov/flx/pkg/ops"
	"github.com/gaarutyunov/flx/pkg/scope"
	"github.com/gaarutyunov/flx/pkg/token"
	"github.com/gaarutyunov/flx/pkg/types"
	"github.com/gaarutyunov/flx/pkg/value"
)

// ---- control-flow signals -----------------------------------------------

type signalKind int

const (
	sigBreak signalKind = iota
	sigContinue
	sigReturn
)

// ctrlSignal carries break/continue/return across Accept calls: panic
// is the only channel available since ast.Visitor's methods all return
// a bare interface{}.
type ctrlSignal struct {
	kind  signalKind
	value *value.Value
}

// thrown is an explicit `throw`, distinct from ctrlSignal so a try/catch
// never accidentally swallows a break/continue/return escaping through it.
type thrown struct{ val *value.Value }

type callFrame struct {
	name string
	args []*value.Value
}

// Evaluator walks a merged program set directly, maintaining its own
// runtime-side namespace/scope table (pkg/scope) independent of the
// analyzer's compile-time one (spec.md §9: evaluator and analyzer each
// keep their own symbol tables over the same AST).
type Evaluator struct {
	ast.BaseVisitor

	heap     *value.Heap
	table    *scope.Table
	current  string
	builtins *builtin.Registry

	funcBodies   map[*types.Function]*ast.FunDecl
	funcDefaults map[*types.Function][]ast.Expr
	funcsByKey   map[string][]*types.Function

	structDefaults map[*types.Structure][]ast.Expr

	registeredFuncNodes   map[*ast.FunDecl]*types.Function
	registeredStructNodes map[*ast.StructDecl]*types.Structure

	exprValue *value.Value
	callStack []*callFrame
}

// New builds an Evaluator with the "flx" namespace preseeded
// (Pair/Exception, mirroring analyzer.New) and every builtin signature
// declared into the default namespace so direct and indirect calls to
// print/println/etc. resolve identically to how the analyzer already
// type-checked them.
func New(heap *value.Heap, builtins *builtin.Registry) *Evaluator {
	e := &Evaluator{
		heap:                  heap,
		table:                 scope.NewTable(),
		current:               scope.Default,
		builtins:              builtins,
		funcBodies:            map[*types.Function]*ast.FunDecl{},
		funcDefaults:          map[*types.Function][]ast.Expr{},
		funcsByKey:            map[string][]*types.Function{},
		structDefaults:        map[*types.Structure][]ast.Expr{},
		registeredFuncNodes:   map[*ast.FunDecl]*types.Function{},
		registeredStructNodes: map[*ast.StructDecl]*types.Structure{},
		exprValue:             value.NewVoid(),
	}

	e.ensureNamespaceRoot("flx")
	e.current = "flx"
	e.topScope().DeclareStructure(types.PairStructure())
	e.topScope().DeclareStructure(types.ExceptionStructure())

	e.ensureNamespaceRoot(scope.Default)
	e.current = scope.Default
	if builtins != nil {
		for _, fn := range builtins.Signatures() {
			declared := e.declareFunctionRuntime(fn)
			e.registerFuncKey(declared)
		}
	}
	return e
}

// SetGlobal declares name into the default namespace's root scope,
// for a driver to inject `cpargs` (spec.md §6) before Run.
func (e *Evaluator) SetGlobal(name string, v *value.Value) {
	saved := e.current
	e.current = scope.Default
	e.declareVar(name, v)
	e.current = saved
}

// Run executes every program's top-level statements after a two-pass
// registration of every fun/struct declaration across all of them
// (spec.md §4.4's forward-reference rule, mirrored at runtime), and
// returns the process exit code: either an explicit exit() code or,
// absent one, the value of the final top-level expression if it is an
// int (spec.md §8 scenario 1: "exit(main())").
func (e *Evaluator) Run(programs []*ast.Program) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch sig := r.(type) {
			case *diag.ExitRequested:
				code = sig.Code
			case *diag.RuntimeError:
				err = sig
				code = 1
			case thrown:
				err = &diag.RuntimeError{Message: e.messageOfThrown(sig.val)}
				code = 1
			case ctrlSignal:
				err = fmt.Errorf("unexpected control-flow signal outside its enclosing loop or function")
				code = 1
			default:
				panic(r)
			}
		}
	}()

	for _, p := range programs {
		e.registerProgram(p)
	}
	for _, p := range programs {
		e.current = nsNameOf(p)
		for _, inc := range p.Includes {
			inc.Accept(e)
		}
		for _, s := range p.Statements {
			s.Accept(e)
		}
	}
	e.heap.Collect(e.roots()...)
	if e.exprValue != nil && e.exprValue.Tag == types.Int {
		code = int(e.exprValue.Int)
	}
	return code, err
}

func nsNameOf(p *ast.Program) string {
	if p.Alias == "" {
		return scope.Default
	}
	return p.Alias
}

// ---- namespace/scope plumbing, mirroring pkg/analyzer's compile-time
// equivalents over pkg/scope's runtime tables. ---------------------------

func (e *Evaluator) ensureNamespaceRoot(name string) {
	if e.table.Has(name) {
		return
	}
	e.table.Namespace(name).Push(scope.New(name, "root"))
}

func (e *Evaluator) topScope() *scope.Scope {
	return e.table.Namespace(e.current).Top()
}

func (e *Evaluator) pushScope(blockName string) {
	e.table.Namespace(e.current).Push(scope.New(e.current, blockName))
}

func (e *Evaluator) popScope() {
	popped := e.table.Namespace(e.current).Pop()
	if popped != nil {
		e.heap.Collect(e.roots()...)
	}
}

func (e *Evaluator) lookupVar(name string) (*value.Variable, bool) {
	return scope.LookupVariable(e.table.LookupChain(e.current), name)
}

func (e *Evaluator) lookupStruct(namespace, name string) (*types.Structure, bool) {
	chain := e.table.LookupChain(e.current)
	if namespace != "" && e.table.Has(namespace) {
		chain = []*scope.Namespace{e.table.Namespace(namespace)}
	}
	return scope.LookupStructure(chain, name)
}

func (e *Evaluator) candidates(namespace, name string) []*types.Function {
	chain := e.table.LookupChain(e.current)
	if namespace != "" && e.table.Has(namespace) {
		chain = []*scope.Namespace{e.table.Namespace(namespace)}
	}
	return scope.Candidates(chain, name)
}

func (e *Evaluator) declareVar(name string, v *value.Value) {
	e.topScope().DeclareVariable(e.heap.Bind(name, v))
}

// signatureEqual and declareFunctionRuntime duplicate
// pkg/analyzer.signatureEqual/declareFunction's forward-declaration
// patching at runtime: the analyzer's helpers are unexported, and the
// evaluator walks its own, separate scope.Table, so the logic cannot
// simply be shared.
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

func (e *Evaluator) declareFunctionRuntime(fn *types.Function) *types.Function {
	top := e.topScope()
	sig := fn.Signature()
	for _, existing := range top.Functions[fn.Identifier] {
		if !signatureEqual(existing, sig) {
			continue
		}
		if existing.Forward && !fn.Forward {
			*existing = *fn
		}
		return existing
	}
	top.DeclareFunction(fn)
	return fn
}

func (e *Evaluator) registerFuncKey(fn *types.Function) {
	key := fn.Namespace + "::" + fn.Identifier
	for _, f := range e.funcsByKey[key] {
		if f == fn {
			return
		}
	}
	e.funcsByKey[key] = append(e.funcsByKey[key], fn)
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

// elaborateType duplicates pkg/analyzer.Analyzer.elaborateType's shape
// elaboration without its error recording or dimension-expression
// traversal, which the evaluator doesn't need: a type spelling reaching
// here has already passed semantic analysis.
func (e *Evaluator) elaborateType(te *ast.TypeExpr) *types.Definition {
	if te == nil {
		return types.NewDefinition(types.Any)
	}
	switch te.Tag {
	case "array":
		d := types.NewDefinition(types.Array)
		d.ArrayElementTag = e.elaborateType(te.ArrayElem)
		d.Dims = len(te.Dims)
		return d
	case "struct":
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

func (e *Evaluator) buildFunction(n *ast.FunDecl) *types.Function {
	fn := &types.Function{Identifier: n.Identifier, Namespace: e.current, Return: e.elaborateType(n.Return), Forward: n.Body == nil}
	for _, p := range n.Params {
		fn.Parameters = append(fn.Parameters, &types.Variable{
			Definition: e.elaborateType(p.Type),
			Identifier: p.Name,
			HasDefault: p.Default != nil,
			IsRest:     p.IsRest,
		})
	}
	return fn
}

func (e *Evaluator) buildStructure(n *ast.StructDecl) *types.Structure {
	st := types.NewStructure(n.Identifier)
	for _, f := range n.Fields {
		st.AddField(&types.Variable{Definition: e.elaborateType(f.Type), Identifier: f.Name, HasDefault: f.Default != nil})
	}
	return st
}

func defaultsOfParams(params []*ast.Param) []ast.Expr {
	out := make([]ast.Expr, len(params))
	for i, p := range params {
		out[i] = p.Default
	}
	return out
}

func defaultsOfFields(fields []*ast.StructField) []ast.Expr {
	out := make([]ast.Expr, len(fields))
	for i, f := range fields {
		out[i] = f.Default
	}
	return out
}

// registerProgram mirrors pkg/analyzer.Analyzer.registerProgram: every
// top-level fun/struct across every program is declared before any
// body executes, so forward references and mutual recursion resolve.
func (e *Evaluator) registerProgram(p *ast.Program) {
	e.current = nsNameOf(p)
	e.ensureNamespaceRoot(e.current)
	for _, s := range p.Statements {
		switch st := s.(type) {
		case *ast.FunDecl:
			fn := e.declareFunctionRuntime(e.buildFunction(st))
			e.registeredFuncNodes[st] = fn
			e.funcBodies[fn] = st
			e.funcDefaults[fn] = defaultsOfParams(st.Params)
			e.registerFuncKey(fn)
		case *ast.StructDecl:
			sd := e.buildStructure(st)
			e.topScope().DeclareStructure(sd)
			e.registeredStructNodes[st] = sd
			e.structDefaults[sd] = defaultsOfFields(st.Fields)
		}
	}
}

// roots collects every live GC root (spec.md §5): every scope on every
// namespace's stack, the current-expression-value slot, and every
// in-flight call frame's bound argument array.
func (e *Evaluator) roots() []value.Root {
	var rs []value.Root
	for _, ns := range e.table.All() {
		for _, sc := range ns.Stack {
			rs = append(rs, sc)
		}
	}
	rs = append(rs, value.SliceRoot{e.exprValue})
	for _, f := range e.callStack {
		rs = append(rs, value.SliceRoot(f.args))
	}
	return rs
}

func (e *Evaluator) messageOfThrown(v *value.Value) string {
	if v == nil {
		return ""
	}
	if v.Tag == types.Struct && v.StructTypeName == "Exception" {
		if errVal, ok := v.Fields["error"]; ok {
			return errVal.String()
		}
	}
	if v.Tag == types.String {
		return v.StringValue()
	}
	return v.String()
}

func truthy(v *value.Value, pos token.Position) bool {
	if v.Tag != types.Bool {
		panic(&diag.RuntimeError{Pos: pos, Message: fmt.Sprintf("condition must be bool, got %s", v.Tag)})
	}
	return v.Bool
}

func runtimeDefinition(v *value.Value) *types.Definition {
	d := types.NewDefinition(v.Tag)
	switch v.Tag {
	case types.Array:
		if len(v.Elems) > 0 {
			d.ArrayElementTag = runtimeDefinition(v.Elems[0])
		} else {
			d.ArrayElementTag = types.NewDefinition(types.Any)
		}
	case types.Struct:
		d.TypeName = v.StructTypeName
		d.TypeNameSpace = v.StructTypeNameSpace
	}
	return d
}

// ---- sub-slot resolution for identifier-chain reads/writes --------------

// target is the resolved sub-slot an identifier chain (spec.md §4.2)
// bottoms out at: a bare variable, an array element, a struct field, or
// a string's byte-as-char in place. Chosen over a closure-pair
// (get func(), set func(*value.Value)) design for directness: every
// kind's get/set is a one-line field access, so the tagged union reads
// clearer than capturing the same state in two separate closures.
type target struct {
	kind     string
	variable *value.Variable
	arr      *value.Value
	strct    *value.Value
	str      *value.Value
	idx      int
	field    string
}

func (t *target) get() *value.Value {
	switch t.kind {
	case "var":
		return t.variable.Value
	case "index":
		return t.arr.Elems[t.idx]
	case "field":
		return t.strct.Fields[t.field]
	case "char":
		return value.NewChar(rune(t.str.Str[t.idx]))
	default:
		return value.NewUndefined()
	}
}

func (t *target) set(v *value.Value) {
	switch t.kind {
	case "var":
		t.variable.Value = v
	case "index":
		t.arr.Elems[t.idx] = v
	case "field":
		t.strct.SetField(t.field, v)
	case "char":
		switch {
		case v.Tag == types.Char:
			t.str.Str[t.idx] = byte(v.Char)
		case v.Tag == types.String && len(v.Str) > 0:
			t.str.Str[t.idx] = v.Str[0]
		}
	}
}

// resolveTarget walks the remaining chain segments (spec.md §4.5:
// "traverse the identifier chain through struct fields and array
// indices to obtain the sub-slot") past the already-resolved variable.
func (e *Evaluator) resolveTarget(vbl *value.Variable, parts []ast.IdentPart, pos token.Position) *target {
	cur := &target{kind: "var", variable: vbl}
	for i, part := range parts {
		if i > 0 && part.Field {
			base := cur.get()
			if base.Tag != types.Struct {
				panic(&diag.RuntimeError{Pos: pos, Message: fmt.Sprintf("field access on non-struct value %s", base.Tag)})
			}
			if _, ok := base.Fields[part.Name]; !ok {
				panic(&diag.RuntimeError{Pos: pos, Message: fmt.Sprintf("unknown field %q", part.Name)})
			}
			cur = &target{kind: "field", strct: base, field: part.Name}
		}
		for _, idxExpr := range part.Index {
			idxVal := idxExpr.Accept(e).(*value.Value)
			if idxVal.Tag != types.Int {
				panic(&diag.RuntimeError{Pos: pos, Message: fmt.Sprintf("index must be int, got %s", idxVal.Tag)})
			}
			base := cur.get()
			idx := int(idxVal.Int)
			switch base.Tag {
			case types.Array:
				if idx < 0 || idx >= len(base.Elems) {
					panic(&diag.RuntimeError{Pos: pos, Message: fmt.Sprintf("array index %d out of range (len %d)", idx, len(base.Elems))})
				}
				cur = &target{kind: "index", arr: base, idx: idx}
			case types.String:
				if idx < 0 || idx >= len(base.Str) {
					panic(&diag.RuntimeError{Pos: pos, Message: fmt.Sprintf("string index %d out of range (len %d)", idx, len(base.Str))})
				}
				cur = &target{kind: "char", str: base, idx: idx}
			default:
				panic(&diag.RuntimeError{Pos: pos, Message: fmt.Sprintf("cannot index %s", base.Tag)})
			}
		}
	}
	return cur
}

// ---- program / namespace visitors ---------------------------------------

func (e *Evaluator) VisitNamespaceToggle(n *ast.NamespaceToggle) interface{} {
	cur := e.table.Namespace(e.current)
	if n.Exclude {
		out := cur.Includes[:0]
		for _, inc := range cur.Includes {
			if inc != n.Name {
				out = append(out, inc)
			}
		}
		cur.Includes = out
		return nil
	}
	for _, inc := range cur.Includes {
		if inc == n.Name {
			return nil
		}
	}
	cur.Includes = append(cur.Includes, n.Name)
	return nil
}

// ---- declarations --------------------------------------------------------

func (e *Evaluator) VisitVarDecl(n *ast.VarDecl) interface{} {
	var declType *types.Definition
	if n.Type != nil {
		declType = e.elaborateType(n.Type)
	}
	var v *value.Value
	if n.Default != nil {
		v = n.Default.Accept(e).(*value.Value)
	} else {
		v = value.NewUndefined()
	}
	if declType != nil {
		v = ops.Coerce(v, declType.Tag)
	}
	if !v.UseRef {
		v = value.Copy(v)
	}
	if len(n.Unpack) > 0 {
		for i, name := range n.Unpack {
			var elem *value.Value
			if v.Tag == types.Array && i < len(v.Elems) {
				elem = v.Elems[i]
			} else {
				elem = value.NewUndefined()
			}
			if !elem.UseRef {
				elem = value.Copy(elem)
			}
			e.declareVar(name, elem)
		}
		return nil
	}
	e.declareVar(n.Identifier, v)
	return nil
}

func (e *Evaluator) VisitFunDecl(n *ast.FunDecl) interface{} {
	fn, ok := e.registeredFuncNodes[n]
	if !ok {
		fn = e.declareFunctionRuntime(e.buildFunction(n))
		e.registeredFuncNodes[n] = fn
		e.funcBodies[fn] = n
		e.funcDefaults[fn] = defaultsOfParams(n.Params)
		e.registerFuncKey(fn)
	}
	return nil
}

func (e *Evaluator) VisitStructDecl(n *ast.StructDecl) interface{} {
	if _, ok := e.registeredStructNodes[n]; !ok {
		st := e.buildStructure(n)
		e.topScope().DeclareStructure(st)
		e.registeredStructNodes[n] = st
		e.structDefaults[st] = defaultsOfFields(n.Fields)
	}
	return nil
}

// ---- statements ------------------------------------------------------------

func (e *Evaluator) VisitBlock(n *ast.Block) interface{} {
	e.pushScope("block")
	defer e.popScope()
	for _, s := range n.Stmts {
		s.Accept(e)
	}
	return nil
}

func (e *Evaluator) VisitDeclStmt(n *ast.DeclStmt) interface{} { return n.Decl.Accept(e) }

func (e *Evaluator) VisitExprStmt(n *ast.ExprStmt) interface{} {
	e.exprValue = n.Expr.Accept(e).(*value.Value)
	return nil
}

func (e *Evaluator) VisitAssignStmt(n *ast.AssignStmt) interface{} {
	if len(n.Target) == 0 {
		return nil
	}
	first := n.Target[0]
	vbl, ok := e.lookupVar(first.Name)
	if !ok {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: fmt.Sprintf("undeclared name %q", first.Name)})
	}
	t := e.resolveTarget(vbl, n.Target, n.Pos)
	rhs := n.Value.Accept(e).(*value.Value)
	if n.Op == token.Assign {
		if !rhs.UseRef {
			rhs = value.Copy(rhs)
		}
		t.set(rhs)
		return nil
	}
	base, ok := ops.CompoundBase(n.Op)
	if !ok {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: fmt.Sprintf("unsupported assignment operator %s", n.Op)})
	}
	result, err := ops.Binary(base, t.get(), rhs)
	if err != nil {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: err.Error()})
	}
	t.set(result)
	return nil
}

func (e *Evaluator) VisitIfStmt(n *ast.IfStmt) interface{} {
	if truthy(n.Cond.Accept(e).(*value.Value), n.Cond.Position()) {
		n.Then.Accept(e)
		return nil
	}
	for _, el := range n.Elifs {
		if truthy(el.Cond.Accept(e).(*value.Value), el.Cond.Position()) {
			el.Body.Accept(e)
			return nil
		}
	}
	if n.Else != nil {
		n.Else.Accept(e)
	}
	return nil
}

func (e *Evaluator) VisitSwitchStmt(n *ast.SwitchStmt) interface{} {
	cond := n.Cond.Accept(e).(*value.Value)
	for _, c := range n.Cases {
		if value.Equal(cond, c.Value.Accept(e).(*value.Value)) {
			c.Body.Accept(e)
			return nil
		}
	}
	if n.Default != nil {
		n.Default.Accept(e)
	}
	return nil
}

// runBody executes one loop body, catching break/continue at this
// boundary and letting everything else (return, throw, exit, runtime
// errors) propagate untouched.
func (e *Evaluator) runBody(body *ast.Block) (brk bool) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				if sig, ok := r.(ctrlSignal); ok {
					switch sig.kind {
					case sigBreak:
						brk = true
						return
					case sigContinue:
						return
					}
				}
				panic(r)
			}
		}()
		body.Accept(e)
	}()
	return brk
}

func (e *Evaluator) VisitWhileStmt(n *ast.WhileStmt) interface{} {
	for {
		if !truthy(n.Cond.Accept(e).(*value.Value), n.Cond.Position()) {
			break
		}
		if e.runBody(n.Body) {
			break
		}
	}
	return nil
}

func (e *Evaluator) VisitDoWhileStmt(n *ast.DoWhileStmt) interface{} {
	for {
		if e.runBody(n.Body) {
			break
		}
		if !truthy(n.Cond.Accept(e).(*value.Value), n.Cond.Position()) {
			break
		}
	}
	return nil
}

func (e *Evaluator) VisitForStmt(n *ast.ForStmt) interface{} {
	e.pushScope("for")
	defer e.popScope()
	if n.Init != nil {
		n.Init.Accept(e)
	}
	for {
		if n.Cond != nil && !truthy(n.Cond.Accept(e).(*value.Value), n.Cond.Position()) {
			break
		}
		if e.runBody(n.Body) {
			break
		}
		if n.Post != nil {
			n.Post.Accept(e)
		}
	}
	return nil
}

func (e *Evaluator) VisitForeachStmt(n *ast.ForeachStmt) interface{} {
	coll := n.Collection.Accept(e).(*value.Value)
	iterate := func(bind func()) bool {
		e.pushScope("foreach")
		bind()
		brk := e.runBody(n.Body)
		e.popScope()
		return brk
	}
	switch coll.Tag {
	case types.Array:
		for _, elem := range coll.Elems {
			bound := elem
			if !bound.UseRef {
				bound = value.Copy(bound)
			}
			if iterate(func() { e.declareVar(n.ValueName, bound) }) {
				break
			}
		}
	case types.String:
		for _, b := range coll.Str {
			ch := value.NewChar(rune(b))
			if iterate(func() { e.declareVar(n.ValueName, ch) }) {
				break
			}
		}
	case types.Struct:
		for _, name := range coll.FieldOrder {
			fv := coll.Fields[name]
			if iterate(func() {
				if n.KeyName != "" {
					e.declareVar(n.KeyName, value.NewString(name))
					bound := fv
					if !bound.UseRef {
						bound = value.Copy(bound)
					}
					e.declareVar(n.ValueName, bound)
					return
				}
				pair := value.NewStruct("Pair", "flx")
				pair.SetField("key", value.NewString(name))
				pair.SetField("value", fv)
				e.declareVar(n.ValueName, pair)
			}) {
				break
			}
		}
	default:
		panic(&diag.RuntimeError{Pos: n.Pos, Message: fmt.Sprintf("cannot iterate %s", coll.Tag)})
	}
	return nil
}

func (e *Evaluator) VisitBreakStmt(n *ast.BreakStmt) interface{} {
	panic(ctrlSignal{kind: sigBreak})
}

func (e *Evaluator) VisitContinueStmt(n *ast.ContinueStmt) interface{} {
	panic(ctrlSignal{kind: sigContinue})
}

func (e *Evaluator) VisitReturnStmt(n *ast.ReturnStmt) interface{} {
	v := value.NewVoid()
	if n.Value != nil {
		v = n.Value.Accept(e).(*value.Value)
	}
	panic(ctrlSignal{kind: sigReturn, value: v})
}

func (e *Evaluator) VisitExitStmt(n *ast.ExitStmt) interface{} {
	v := n.Value.Accept(e).(*value.Value)
	code := 0
	if v.Tag == types.Int {
		code = int(v.Int)
	}
	panic(&diag.ExitRequested{Code: code})
}

func (e *Evaluator) VisitTryStmt(n *ast.TryStmt) interface{} {
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			var msg string
			switch sig := r.(type) {
			case thrown:
				msg = e.messageOfThrown(sig.val)
			case *diag.RuntimeError:
				msg = sig.Message
			default:
				panic(r)
			}
			e.pushScope("catch")
			defer e.popScope()
			if n.CatchName != "" {
				exc := value.NewStruct("Exception", "flx")
				exc.SetField("error", value.NewString(msg))
				e.declareVar(n.CatchName, exc)
			}
			for _, name := range n.Unpack {
				e.declareVar(name, value.NewString(msg))
			}
			if n.Catch != nil {
				for _, s := range n.Catch.Stmts {
					s.Accept(e)
				}
			}
		}()
		n.Body.Accept(e)
	}()
	return nil
}

func (e *Evaluator) VisitThrowStmt(n *ast.ThrowStmt) interface{} {
	panic(thrown{val: n.Value.Accept(e).(*value.Value)})
}

// ---- expressions ------------------------------------------------------------

func (e *Evaluator) VisitLiteral(n *ast.Literal) interface{} {
	switch n.Kind {
	case token.Int:
		i, _ := strconv.ParseInt(n.Text, 0, 64)
		return value.NewInt(i)
	case token.Float:
		d, _ := decimal.NewFromString(n.Text)
		return value.NewFloat(d)
	case token.Char:
		r := []rune(n.Text)
		if len(r) == 0 {
			return value.NewChar(0)
		}
		return value.NewChar(r[0])
	case token.String:
		return value.NewString(n.Text)
	case token.TypeBool:
		return value.NewBool(n.Text == "true")
	case token.TypeVoid:
		return value.NewVoid()
	default:
		return value.NewUndefined()
	}
}

func (e *Evaluator) VisitArrayLit(n *ast.ArrayLit) interface{} {
	elems := make([]*value.Value, 0, len(n.Elements))
	for _, el := range n.Elements {
		v := el.Accept(e).(*value.Value)
		if !v.UseRef {
			v = value.Copy(v)
		}
		elems = append(elems, v)
	}
	return value.NewArray(elems, types.Any)
}

func (e *Evaluator) VisitStructLit(n *ast.StructLit) interface{} {
	st, ok := e.lookupStruct(n.TypeNameSpace, n.TypeName)
	if !ok {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: fmt.Sprintf("unknown struct type %q", n.TypeName)})
	}
	provided := map[string]*value.Value{}
	for _, f := range n.Fields {
		provided[f.Name] = f.Value.Accept(e).(*value.Value)
	}
	defaults := e.structDefaults[st]
	sv := value.NewStruct(st.Identifier, n.TypeNameSpace)
	for i, name := range st.FieldOrder {
		fieldDef := st.Fields[name]
		var fv *value.Value
		switch {
		case provided[name] != nil:
			fv = provided[name]
		case i < len(defaults) && defaults[i] != nil:
			fv = defaults[i].Accept(e).(*value.Value)
		default:
			fv = value.NewUndefined()
		}
		fv = ops.Coerce(fv, fieldDef.Tag)
		if !fv.UseRef {
			fv = value.Copy(fv)
		}
		sv.SetField(name, fv)
	}
	return sv
}

// VisitFuncLit implements spec.md §9's anonymous-function resolution:
// a function literal declares a fresh function under a generated name
// the moment it is evaluated, reusing the same registration plumbing
// as a named top-level `fun`.
func (e *Evaluator) VisitFuncLit(n *ast.FuncLit) interface{} {
	name := uuid.NewString()
	synthetic := &ast.FunDecl{Pos: n.Pos, Identifier: name, Params: n.Params, Return: n.Return, Body: n.Body}
	fn := e.declareFunctionRuntime(e.buildFunction(synthetic))
	e.funcBodies[fn] = synthetic
	e.funcDefaults[fn] = defaultsOfParams(n.Params)
	e.registerFuncKey(fn)
	return value.NewFunction(fn.Namespace, name)
}

func (e *Evaluator) VisitThisExpr(n *ast.ThisExpr) interface{} {
	if len(e.callStack) == 0 {
		return value.NewUndefined()
	}
	return value.NewUndefined()
}

func (e *Evaluator) VisitIdentExpr(n *ast.IdentExpr) interface{} {
	if len(n.Parts) == 0 {
		return value.NewUndefined()
	}
	first := n.Parts[0]
	vbl, ok := e.lookupVar(first.Name)
	if !ok {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: fmt.Sprintf("undeclared name %q", first.Name)})
	}
	return e.resolveTarget(vbl, n.Parts, n.Pos).get()
}

func (e *Evaluator) VisitCallExpr(n *ast.CallExpr) interface{} {
	args := make([]*value.Value, 0, len(n.Args))
	argDefs := make([]*types.Definition, 0, len(n.Args))
	for _, a := range n.Args {
		v := a.Accept(e).(*value.Value)
		args = append(args, v)
		argDefs = append(argDefs, runtimeDefinition(v))
	}

	fn, ok := scope.Resolve(e.candidates(n.Namespace, n.Name), argDefs)
	if !ok {
		if vbl, lookupOk := e.lookupVar(n.Name); lookupOk && vbl.Value.Tag == types.Func {
			key := vbl.Value.Ns + "::" + vbl.Value.Name
			fn, ok = scope.Resolve(e.funcsByKey[key], argDefs)
		}
	}
	if !ok {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: fmt.Sprintf("no matching overload for call %q", n.Name)})
	}
	return e.callFunction(n.Pos, fn, args)
}

func (e *Evaluator) bindParam(p *types.Variable, v *value.Value) {
	bound := ops.Coerce(v, p.Tag)
	if !bound.UseRef {
		bound = value.Copy(bound)
	}
	e.declareVar(p.Identifier, bound)
}

// bindParameters implements spec.md §4.5's parameter-binding protocol:
// positional binding (ref shares, else copies), trailing defaults for
// any parameters the caller left unprovided, and a fresh Array packing
// the remainder when the last formal is_rest — unwrapping a single
// trailing array argument the same way scope.Resolve's resolveRest
// already decided the candidate matched.
func (e *Evaluator) bindParameters(pos token.Position, fn *types.Function, args []*value.Value) {
	params := fn.Parameters
	n := len(params)
	fixed := n
	if n > 0 && params[n-1].IsRest {
		fixed = n - 1
	}

	i := 0
	for ; i < fixed && i < len(args); i++ {
		e.bindParam(params[i], args[i])
	}
	defaults := e.funcDefaults[fn]
	for ; i < fixed; i++ {
		var dv *value.Value
		if i < len(defaults) && defaults[i] != nil {
			dv = defaults[i].Accept(e).(*value.Value)
		} else {
			dv = value.NewUndefined()
		}
		e.bindParam(params[i], dv)
	}

	if n > 0 && params[n-1].IsRest {
		start := fixed
		if start > len(args) {
			start = len(args)
		}
		rest := args[start:]
		var elems []*value.Value
		if len(rest) == 1 && rest[0].Tag == types.Array {
			elems = rest[0].Elems
		} else {
			elems = rest
		}
		e.bindParam(params[n-1], value.NewArray(append([]*value.Value(nil), elems...), types.Any))
	}
}

// callFunction implements spec.md §4.5's function-call protocol: push a
// scope tagged with the function's name, bind parameters, run the body,
// and let a sigReturn ctrlSignal unwind exactly that scope while
// propagating its value as the call's result.
func (e *Evaluator) callFunction(pos token.Position, fn *types.Function, args []*value.Value) (result *value.Value) {
	if e.builtins != nil {
		if impl, ok := e.builtins.Lookup(fn); ok {
			out, err := impl(args)
			if err != nil {
				panic(&diag.RuntimeError{Pos: pos, Message: err.Error()})
			}
			return out
		}
	}
	body, ok := e.funcBodies[fn]
	if !ok || body.Body == nil {
		panic(&diag.RuntimeError{Pos: pos, Message: fmt.Sprintf("function %q has no body", fn.Identifier)})
	}

	savedNs := e.current
	e.current = fn.Namespace
	e.ensureNamespaceRoot(e.current)
	e.pushScope(fn.Identifier)
	e.callStack = append(e.callStack, &callFrame{name: fn.Identifier, args: args})
	defer func() {
		e.callStack = e.callStack[:len(e.callStack)-1]
		e.popScope()
		e.current = savedNs
	}()

	e.bindParameters(pos, fn, args)

	result = value.NewVoid()
	func() {
		defer func() {
			if r := recover(); r != nil {
				if sig, ok2 := r.(ctrlSignal); ok2 && sig.kind == sigReturn {
					result = sig.value
					return
				}
				panic(r)
			}
		}()
		for _, s := range body.Body.Stmts {
			s.Accept(e)
		}
	}()
	return result
}

func (e *Evaluator) VisitUnaryExpr(n *ast.UnaryExpr) interface{} {
	v := n.Right.Accept(e).(*value.Value)
	result, err := ops.Unary(n.Op, v)
	if err != nil {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: err.Error()})
	}
	return result
}

func (e *Evaluator) VisitIncDecExpr(n *ast.IncDecExpr) interface{} {
	if len(n.Target.Parts) == 0 {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: "invalid increment/decrement target"})
	}
	first := n.Target.Parts[0]
	vbl, ok := e.lookupVar(first.Name)
	if !ok {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: fmt.Sprintf("undeclared name %q", first.Name)})
	}
	t := e.resolveTarget(vbl, n.Target.Parts, n.Pos)
	cur := t.get()
	delta, err := ops.IncDecDelta(n.Op, cur)
	if err != nil {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: err.Error()})
	}
	updated, err := ops.Binary(token.Plus, cur, delta)
	if err != nil {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: err.Error()})
	}
	t.set(updated)
	if n.Postfix {
		return cur
	}
	return updated
}

func (e *Evaluator) VisitBinaryExpr(n *ast.BinaryExpr) interface{} {
	l := n.Left.Accept(e).(*value.Value)
	switch n.Op {
	case token.AndAnd, token.And:
		if !truthy(l, n.Left.Position()) {
			return value.NewBool(false)
		}
		r := n.Right.Accept(e).(*value.Value)
		return value.NewBool(truthy(r, n.Right.Position()))
	case token.OrOr, token.Or:
		if truthy(l, n.Left.Position()) {
			return value.NewBool(true)
		}
		r := n.Right.Accept(e).(*value.Value)
		return value.NewBool(truthy(r, n.Right.Position()))
	}
	r := n.Right.Accept(e).(*value.Value)
	result, err := ops.Binary(n.Op, l, r)
	if err != nil {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: err.Error()})
	}
	return result
}

func (e *Evaluator) VisitTernaryExpr(n *ast.TernaryExpr) interface{} {
	if truthy(n.Cond.Accept(e).(*value.Value), n.Cond.Position()) {
		return n.IfTrue.Accept(e)
	}
	return n.IfFalse.Accept(e)
}

func (e *Evaluator) VisitInExpr(n *ast.InExpr) interface{} {
	v := n.Value.Accept(e).(*value.Value)
	coll := n.Collection.Accept(e).(*value.Value)
	switch coll.Tag {
	case types.Array:
		for _, el := range coll.Elems {
			if value.Equal(v, el) {
				return value.NewBool(true)
			}
		}
		return value.NewBool(false)
	case types.String:
		if v.Tag == types.Char {
			for _, b := range coll.Str {
				if rune(b) == v.Char {
					return value.NewBool(true)
				}
			}
		}
		return value.NewBool(false)
	default:
		return value.NewBool(false)
	}
}

func typeHash(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}

func refID(v *value.Value) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%p", v)
	return int64(h.Sum64())
}

// VisitTypingExpr implements spec.md §4.7's typeid/typeof/refid/
// is_any/is_array/is_struct family. is_any always answers true: every
// concrete runtime value is a valid inhabitant of an Any-typed slot, so
// the predicate has no dynamic tag to test against (pkg/value carries
// no "declared as Any" bit on a value).
func (e *Evaluator) VisitTypingExpr(n *ast.TypingExpr) interface{} {
	tagOf := func() types.Tag {
		if n.Operand != nil {
			return n.Operand.Accept(e).(*value.Value).Tag
		}
		if n.TypeArg != nil {
			return e.elaborateType(n.TypeArg).Tag
		}
		return types.Any
	}
	switch n.Op {
	case token.IsAny:
		if n.Operand != nil {
			n.Operand.Accept(e)
		}
		return value.NewBool(true)
	case token.IsArray:
		return value.NewBool(tagOf() == types.Array)
	case token.IsStruct:
		return value.NewBool(tagOf() == types.Struct)
	case token.TypeID:
		return value.NewInt(typeHash(tagOf().String()))
	case token.TypeOf:
		return value.NewString(tagOf().String())
	case token.RefID:
		v := n.Operand.Accept(e).(*value.Value)
		return value.NewInt(refID(v))
	default:
		return value.NewUndefined()
	}
}

func (e *Evaluator) VisitParenExpr(n *ast.ParenExpr) interface{} { return n.Inner.Accept(e) }
