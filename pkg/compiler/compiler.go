// Package compiler implements spec.md §4.6's AST-to-bytecode compiler:
// a second ast.Visitor walking the same node set pkg/eval walks, this
// time emitting pkg/bytecode.Instruction sequences instead of
// executing directly. Grounded on pkg/eval's own structure (which is
// itself grounded on pkg/analyzer's unexported registration/elaboration
// helpers) — all three packages independently duplicate
// nsNameOf/elaborateType/buildFunction/buildStructure/signatureEqual
// because the analyzer keeps them unexported and each stage walks its
// own, separate symbol table over the same AST (documented in
// DESIGN.md as necessary duplication, not an oversight).
//
// Compile-time type tracking reuses pkg/scope's namespace/stack/overload
// machinery verbatim rather than reinventing it: each declared
// variable's static type is carried by a throwaway "shape" *value.Value
// (Tag set, plus StructTypeName/StructTypeNameSpace for structs and one
// placeholder element for arrays) stored through a private *value.Heap
// used only to mint value.Variable handles — never collected, since the
// compiler has no runtime lifetime to track.
package compiler

import (
	"fmt"
	"hash/fnv"

	"github.com/shopspring/decimal"

	"github.com/gaarutyunov/flx/internal/diag"
	"github.com/gaarutyunov/flx/pkg/ast"
	"github.com/gaarutyunov/flx/pkg/builtin"
	"github.com/gaarutyunov/flx/pkg/bytecode"
	"github.com/gaarutyunov/flx/pkg/ops"
	"github.com/gaarutyunov/flx/pkg/scope"
	"github.com/gaarutyunov/flx/pkg/token"
	"github.com/gaarutyunov/flx/pkg/types"
	"github.com/gaarutyunov/flx/pkg/value"
)

// Program is the compiler's output: the instruction stream plus the
// side tables the VM needs to dispatch CALL without re-deriving them
// (spec.md §4.6: "the body's actual entry is recorded into the stored
// FunctionDefinition's pointer").
type Program struct {
	Bytecode *bytecode.Bytecode
	Entry    map[*types.Function]int // function -> body entry pc
	Builtins *builtin.Registry
}

type Compiler struct {
	ast.BaseVisitor

	bc       *bytecode.Bytecode
	heap     *value.Heap // mints shape placeholders only, never collected
	table    *scope.Table
	current  string
	builtins *builtin.Registry

	funcBodies   map[*types.Function]*ast.FunDecl
	funcDefaults map[*types.Function][]ast.Expr
	funcsByKey   map[string][]*types.Function
	entry        map[*types.Function]int

	structDefaults map[*types.Structure][]ast.Expr

	registeredFuncNodes   map[*ast.FunDecl]*types.Function
	registeredStructNodes map[*ast.StructDecl]*types.Structure

	tmpCounter int

	// loopBreaks/loopContinues hold, per currently-compiling loop (innermost
	// last), the bytecode positions of Break/Continue instructions still
	// needing their Int jump target patched in once the loop's exit/repeat
	// address is known — BREAK/CONTINUE are otherwise ordinary targeted
	// jumps, not a VM-level signal, so the VM needs no unwind machinery for
	// them the way pkg/eval's ctrlSignal panic/recover does.
	loopBreaks    [][]int
	loopContinues [][]int
}

func (c *Compiler) pushLoop() {
	c.loopBreaks = append(c.loopBreaks, nil)
	c.loopContinues = append(c.loopContinues, nil)
}

// popLoop patches every Break/Continue recorded since the matching
// pushLoop to breakTarget/continueTarget respectively.
func (c *Compiler) popLoop(breakTarget, continueTarget int) {
	top := len(c.loopBreaks) - 1
	for _, pos := range c.loopBreaks[top] {
		c.bc.Patch(pos, breakTarget)
	}
	for _, pos := range c.loopContinues[top] {
		c.bc.Patch(pos, continueTarget)
	}
	c.loopBreaks = c.loopBreaks[:top]
	c.loopContinues = c.loopContinues[:top]
}

// newTemp mints a unique, source-unreachable variable name (the leading
// NUL byte can never appear in a lexed identifier) for caching an
// index expression's value across two navigation passes, the way
// VisitSwitchStmt caches its condition under "\x00switch".
func (c *Compiler) newTemp() string {
	c.tmpCounter++
	return fmt.Sprintf("\x00tmp%d", c.tmpCounter)
}

func New(builtins *builtin.Registry) *Compiler {
	c := &Compiler{
		bc:                    bytecode.New(),
		heap:                  value.NewHeap(),
		table:                 scope.NewTable(),
		current:               scope.Default,
		builtins:              builtins,
		funcBodies:            map[*types.Function]*ast.FunDecl{},
		funcDefaults:          map[*types.Function][]ast.Expr{},
		funcsByKey:            map[string][]*types.Function{},
		entry:                 map[*types.Function]int{},
		structDefaults:        map[*types.Structure][]ast.Expr{},
		registeredFuncNodes:   map[*ast.FunDecl]*types.Function{},
		registeredStructNodes: map[*ast.StructDecl]*types.Structure{},
	}
	c.ensureNamespaceRoot("flx")
	c.current = "flx"
	c.topScope().DeclareStructure(types.PairStructure())
	c.topScope().DeclareStructure(types.ExceptionStructure())

	c.ensureNamespaceRoot(scope.Default)
	c.current = scope.Default
	if builtins != nil {
		for _, fn := range builtins.Signatures() {
			declared := c.declareFunctionRuntime(fn)
			c.registerFuncKey(declared)
		}
	}
	return c
}

// Compile runs the two-pass registration pkg/eval.Run also performs —
// every fun/struct declared before any body compiles — then emits each
// program's executable statements in sequence, ending with HALT.
func Compile(builtins *builtin.Registry, programs []*ast.Program) (*Program, error) {
	c := New(builtins)
	var compileErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				if re, ok := r.(*diag.RuntimeError); ok {
					compileErr = re
					return
				}
				panic(r)
			}
		}()
		for _, p := range programs {
			c.registerProgram(p)
		}
		// VM-visible registration prelude: every top-level fun/struct's
		// FUN_START..FUN_END / STRUCT_START..STRUCT_END is emitted for every
		// program before any top-level statement, mirroring
		// pkg/eval.Evaluator.Run's two-pass registerProgram guarantee —
		// without this, a forward/mutually-recursive call reached by a
		// top-level statement emitted earlier in the stream than its
		// callee's FUN_START would find nothing registered yet at runtime.
		for _, p := range programs {
			c.current = nsNameOf(p)
			for _, s := range p.Statements {
				switch st := s.(type) {
				case *ast.FunDecl:
					c.compileFunctionHeader(st, c.registeredFuncNodes[st])
				case *ast.StructDecl:
					c.compileStructHeader(st, c.registeredStructNodes[st])
				}
			}
		}
		for _, p := range programs {
			c.current = nsNameOf(p)
			for _, inc := range p.Includes {
				inc.Accept(c)
			}
			for _, s := range p.Statements {
				switch s.(type) {
				case *ast.FunDecl, *ast.StructDecl:
					continue // already emitted in the prelude above
				}
				s.Accept(c)
			}
		}
		c.bc.Emit(bytecode.Instruction{Op: bytecode.Halt})
	}()
	if compileErr != nil {
		return nil, compileErr
	}
	return &Program{Bytecode: c.bc, Entry: c.entry, Builtins: builtins}, nil
}

func nsNameOf(p *ast.Program) string {
	if p.Alias == "" {
		return scope.Default
	}
	return p.Alias
}

// ---- namespace/scope plumbing (compile-time twin of pkg/eval's) --------

func (c *Compiler) ensureNamespaceRoot(name string) {
	if c.table.Has(name) {
		return
	}
	c.table.Namespace(name).Push(scope.New(name, "root"))
}

func (c *Compiler) topScope() *scope.Scope { return c.table.Namespace(c.current).Top() }

func (c *Compiler) pushScope(blockName string) {
	c.table.Namespace(c.current).Push(scope.New(c.current, blockName))
}

func (c *Compiler) popScope() { c.table.Namespace(c.current).Pop() }

func (c *Compiler) declareVarShape(name string, shape *value.Value) {
	c.topScope().DeclareVariable(c.heap.Bind(name, shape))
}

func (c *Compiler) lookupVar(name string) (*value.Variable, bool) {
	return scope.LookupVariable(c.table.LookupChain(c.current), name)
}

func (c *Compiler) lookupStruct(namespace, name string) (*types.Structure, bool) {
	chain := c.table.LookupChain(c.current)
	if namespace != "" && c.table.Has(namespace) {
		chain = []*scope.Namespace{c.table.Namespace(namespace)}
	}
	return scope.LookupStructure(chain, name)
}

func (c *Compiler) candidates(namespace, name string) []*types.Function {
	chain := c.table.LookupChain(c.current)
	if namespace != "" && c.table.Has(namespace) {
		chain = []*scope.Namespace{c.table.Namespace(namespace)}
	}
	return scope.Candidates(chain, name)
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

func (c *Compiler) declareFunctionRuntime(fn *types.Function) *types.Function {
	top := c.topScope()
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

func (c *Compiler) registerFuncKey(fn *types.Function) {
	key := fn.Namespace + "::" + fn.Identifier
	for _, f := range c.funcsByKey[key] {
		if f == fn {
			return
		}
	}
	c.funcsByKey[key] = append(c.funcsByKey[key], fn)
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

func (c *Compiler) elaborateType(te *ast.TypeExpr) *types.Definition {
	if te == nil {
		return types.NewDefinition(types.Any)
	}
	switch te.Tag {
	case "array":
		d := types.NewDefinition(types.Array)
		d.ArrayElementTag = c.elaborateType(te.ArrayElem)
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

func (c *Compiler) buildFunction(n *ast.FunDecl) *types.Function {
	fn := &types.Function{Identifier: n.Identifier, Namespace: c.current, Return: c.elaborateType(n.Return), Forward: n.Body == nil}
	for _, p := range n.Params {
		fn.Parameters = append(fn.Parameters, &types.Variable{
			Definition: c.elaborateType(p.Type), Identifier: p.Name, HasDefault: p.Default != nil, IsRest: p.IsRest,
		})
	}
	return fn
}

func (c *Compiler) buildStructure(n *ast.StructDecl) *types.Structure {
	st := types.NewStructure(n.Identifier)
	for _, f := range n.Fields {
		st.AddField(&types.Variable{Definition: c.elaborateType(f.Type), Identifier: f.Name, HasDefault: f.Default != nil})
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

// registerProgram mirrors pkg/eval.Evaluator.registerProgram exactly,
// so forward references and mutual recursion resolve identically.
func (c *Compiler) registerProgram(p *ast.Program) {
	c.current = nsNameOf(p)
	c.ensureNamespaceRoot(c.current)
	for _, s := range p.Statements {
		switch st := s.(type) {
		case *ast.FunDecl:
			fn := c.declareFunctionRuntime(c.buildFunction(st))
			c.registeredFuncNodes[st] = fn
			c.funcBodies[fn] = st
			c.funcDefaults[fn] = defaultsOfParams(st.Params)
			c.registerFuncKey(fn)
		case *ast.StructDecl:
			sd := c.buildStructure(st)
			c.topScope().DeclareStructure(sd)
			c.registeredStructNodes[st] = sd
			c.structDefaults[sd] = defaultsOfFields(st.Fields)
		}
	}
}

// shapeOf synthesizes a placeholder Value carrying only the static
// shape information scope.Resolve and field/element lookups need.
func shapeOf(d *types.Definition) *value.Value {
	switch d.Tag {
	case types.Array:
		elem := types.NewDefinition(types.Any)
		if d.ArrayElementTag != nil {
			elem = d.ArrayElementTag
		}
		return value.NewArray([]*value.Value{shapeOf(elem)}, types.Any)
	case types.Struct:
		return value.NewStruct(d.TypeName, d.TypeNameSpace)
	default:
		return &value.Value{Tag: d.Tag}
	}
}

// definitionOf is pkg/eval.runtimeDefinition's twin, over a shape
// placeholder instead of a live runtime value.
func definitionOf(v *value.Value) *types.Definition {
	d := types.NewDefinition(v.Tag)
	switch v.Tag {
	case types.Array:
		if len(v.Elems) > 0 {
			d.ArrayElementTag = definitionOf(v.Elems[0])
		} else {
			d.ArrayElementTag = types.NewDefinition(types.Any)
		}
	case types.Struct:
		d.TypeName = v.StructTypeName
		d.TypeNameSpace = v.StructTypeNameSpace
	}
	return d
}

// constEval folds a restricted subset of expressions (literals and
// arithmetic/unary over them) into a concrete Value at compile time,
// for SET_DEFAULT_VALUE: spec.md §4.6 gives no entry-point protocol for
// lazily re-evaluating an arbitrary default expression per call the way
// pkg/eval does, so the bytecode engine computes defaults once, at
// compile time. Non-foldable defaults (referencing a variable or a
// call) fall back to Undefined — a narrower behavior than the
// tree-walking evaluator's.
func constEval(e ast.Expr) (*value.Value, bool) {
	switch n := e.(type) {
	case *ast.Literal:
		return literalValue(n), true
	case *ast.ParenExpr:
		return constEval(n.Inner)
	case *ast.UnaryExpr:
		v, ok := constEval(n.Right)
		if !ok {
			return nil, false
		}
		result, err := ops.Unary(n.Op, v)
		if err != nil {
			return nil, false
		}
		return result, true
	case *ast.BinaryExpr:
		l, ok := constEval(n.Left)
		if !ok {
			return nil, false
		}
		r, ok := constEval(n.Right)
		if !ok {
			return nil, false
		}
		result, err := ops.Binary(n.Op, l, r)
		if err != nil {
			return nil, false
		}
		return result, true
	case *ast.ArrayLit:
		elems := make([]*value.Value, 0, len(n.Elements))
		for _, el := range n.Elements {
			v, ok := constEval(el)
			if !ok {
				return nil, false
			}
			elems = append(elems, v)
		}
		return value.NewArray(elems, types.Any), true
	default:
		return nil, false
	}
}

// typeHash mirrors pkg/eval.typeHash exactly, so a type literal's
// constant-folded TYPEID matches the runtime TYPEID opcode's result for
// the same tag spelling bit for bit.
func typeHash(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}

func literalValue(n *ast.Literal) *value.Value {
	switch n.Kind {
	case token.Int:
		var i int64
		fmt.Sscanf(n.Text, "%d", &i)
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

// emitConst pushes a literal/shape Value v via the matching PUSH_*
// instruction.
func (c *Compiler) emitConst(pos token.Position, v *value.Value) {
	switch v.Tag {
	case types.Bool:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PushBool, Pos: pos, Bool: v.Bool})
	case types.Int:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PushInt, Pos: pos, Int: int(v.Int)})
	case types.Float:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PushFloat, Pos: pos, Float: v.Float})
	case types.Char:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PushChar, Pos: pos, Char: v.Char})
	case types.String:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PushString, Pos: pos, Str: v.StringValue()})
	case types.Void:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PushVoid, Pos: pos})
	case types.Array:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.InitArray, Pos: pos, Int: len(v.Elems)})
		for i, el := range v.Elems {
			c.emitConst(pos, el)
			c.bc.Emit(bytecode.Instruction{Op: bytecode.SetElement, Pos: pos, Int: i})
		}
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PushArray, Pos: pos})
	default:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PushUndefined, Pos: pos})
	}
}

// ---- namespaces ----------------------------------------------------------

func (c *Compiler) VisitNamespaceToggle(n *ast.NamespaceToggle) interface{} {
	cur := c.table.Namespace(c.current)
	if n.Exclude {
		c.bc.Emit(bytecode.Instruction{Op: bytecode.NSExclude, Pos: n.Pos, Name: n.Name})
		out := cur.Includes[:0]
		for _, inc := range cur.Includes {
			if inc != n.Name {
				out = append(out, inc)
			}
		}
		cur.Includes = out
		return nil
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.NSInclude, Pos: n.Pos, Name: n.Name})
	for _, inc := range cur.Includes {
		if inc == n.Name {
			return nil
		}
	}
	cur.Includes = append(cur.Includes, n.Name)
	return nil
}

// ---- declarations ----------------------------------------------------------

func (c *Compiler) VisitVarDecl(n *ast.VarDecl) interface{} {
	var declType *types.Definition
	if n.Type != nil {
		declType = c.elaborateType(n.Type)
	}
	if n.Default != nil {
		n.Default.Accept(c)
	} else {
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PushUndefined, Pos: n.Pos})
	}
	if len(n.Unpack) > 0 {
		elemShape := &value.Value{Tag: types.Any}
		if declType != nil && declType.Tag == types.Array && declType.ArrayElementTag != nil {
			elemShape = shapeOf(declType.ArrayElementTag)
		}
		for i, name := range n.Unpack {
			c.bc.Emit(bytecode.Instruction{Op: bytecode.Dup, Pos: n.Pos})
			c.bc.Emit(bytecode.Instruction{Op: bytecode.PushInt, Pos: n.Pos, Int: i})
			c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadSubIx, Pos: n.Pos})
			c.bc.Emit(bytecode.Instruction{Op: bytecode.StoreVar, Pos: n.Pos, Name: name})
			c.declareVarShape(name, elemShape)
		}
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PopConstant, Pos: n.Pos})
		return nil
	}
	// STORE_VAR consumes the pending type register (see emitTypeDescriptor)
	// to coerce the value the same way pkg/eval.VisitVarDecl's
	// ops.Coerce(v, declType.Tag) does.
	if declType != nil {
		c.emitTypeDescriptor(n.Pos, declType)
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.StoreVar, Pos: n.Pos, Name: n.Identifier})
	shape := &value.Value{Tag: types.Any}
	if declType != nil {
		shape = shapeOf(declType)
	}
	c.declareVarShape(n.Identifier, shape)
	return nil
}

func (c *Compiler) VisitFunDecl(n *ast.FunDecl) interface{} {
	fn, ok := c.registeredFuncNodes[n]
	if !ok {
		fn = c.declareFunctionRuntime(c.buildFunction(n))
		c.registeredFuncNodes[n] = fn
		c.funcBodies[fn] = n
		c.funcDefaults[fn] = defaultsOfParams(n.Params)
		c.registerFuncKey(fn)
	}
	c.compileFunctionHeader(n, fn)
	return nil
}

// compileFunctionHeader emits FUN_START..FUN_SET_PARAM*..FUN_END, a
// JUMP placeholder over the body, then the body itself, recording the
// real entry address (spec.md §4.6's "pointer" patch-in).
func (c *Compiler) compileFunctionHeader(n *ast.FunDecl, fn *types.Function) {
	c.bc.Emit(bytecode.Instruction{Op: bytecode.FunStart, Pos: n.Pos, Name: fn.Identifier, Name2: fn.Namespace})
	defaults := c.funcDefaults[fn]
	for i, p := range fn.Parameters {
		c.emitTypeDescriptor(n.Pos, p.Definition)
		if p.IsRest {
			c.bc.Emit(bytecode.Instruction{Op: bytecode.SetIsRest, Pos: n.Pos, Bool: true})
		}
		if i < len(defaults) && defaults[i] != nil {
			dv, ok := constEval(defaults[i])
			if !ok {
				dv = value.NewUndefined()
			}
			c.emitConst(n.Pos, dv)
			c.bc.Emit(bytecode.Instruction{Op: bytecode.SetDefaultValue, Pos: n.Pos})
		}
		c.bc.Emit(bytecode.Instruction{Op: bytecode.FunSetParam, Pos: n.Pos, Name: p.Identifier})
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.FunEnd, Pos: n.Pos})

	if n.Body == nil {
		return // forward declaration: no body to compile yet
	}
	jumpOver := c.bc.Emit(bytecode.Instruction{Op: bytecode.Jump, Pos: n.Pos})

	savedNs := c.current
	c.current = fn.Namespace
	c.pushScope(fn.Identifier)
	for i, p := range fn.Parameters {
		_ = i
		c.declareVarShape(p.Identifier, shapeOf(p.Definition))
	}
	bodyEntry := c.bc.Len()
	c.entry[fn] = bodyEntry
	for _, s := range n.Body.Stmts {
		s.Accept(c)
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.PushVoid, Pos: n.Pos})
	c.bc.Emit(bytecode.Instruction{Op: bytecode.Return, Pos: n.Pos})
	c.popScope()
	c.current = savedNs

	c.bc.Patch(jumpOver, c.bc.Len())
}

func (c *Compiler) emitTypeDescriptor(pos token.Position, d *types.Definition) {
	switch d.Tag {
	case types.Array:
		c.emitTypeDescriptor(pos, d.ArrayElementTag)
		c.bc.Emit(bytecode.Instruction{Op: bytecode.SetArrayType, Pos: pos})
		c.bc.Emit(bytecode.Instruction{Op: bytecode.SetArraySize, Pos: pos, Int: d.Dims})
	case types.Struct:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.SetType, Pos: pos, Name: "struct"})
		c.bc.Emit(bytecode.Instruction{Op: bytecode.SetTypeName, Pos: pos, Name: d.TypeName})
		c.bc.Emit(bytecode.Instruction{Op: bytecode.SetTypeNameSpace, Pos: pos, Name: d.TypeNameSpace})
	default:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.SetType, Pos: pos, Name: d.Tag.String()})
	}
}

func (c *Compiler) VisitStructDecl(n *ast.StructDecl) interface{} {
	st, ok := c.registeredStructNodes[n]
	if !ok {
		st = c.buildStructure(n)
		c.topScope().DeclareStructure(st)
		c.registeredStructNodes[n] = st
		c.structDefaults[st] = defaultsOfFields(n.Fields)
	}
	c.compileStructHeader(n, st)
	return nil
}

// compileStructHeader emits STRUCT_START..STRUCT_SET_VAR*..STRUCT_END,
// shared by VisitStructDecl (nested/local struct decls) and Compile's
// top-level registration prelude.
func (c *Compiler) compileStructHeader(n *ast.StructDecl, st *types.Structure) {
	c.bc.Emit(bytecode.Instruction{Op: bytecode.StructStart, Pos: n.Pos, Name: st.Identifier})
	defaults := c.structDefaults[st]
	for i, name := range st.FieldOrder {
		f := st.Fields[name]
		c.emitTypeDescriptor(n.Pos, f.Definition)
		if i < len(defaults) && defaults[i] != nil {
			dv, ok := constEval(defaults[i])
			if !ok {
				dv = value.NewUndefined()
			}
			c.emitConst(n.Pos, dv)
			c.bc.Emit(bytecode.Instruction{Op: bytecode.SetDefaultValue, Pos: n.Pos})
		}
		c.bc.Emit(bytecode.Instruction{Op: bytecode.StructSetVar, Pos: n.Pos, Name: name})
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.StructEnd, Pos: n.Pos})
}

// ---- statements ------------------------------------------------------------

func (c *Compiler) VisitBlock(n *ast.Block) interface{} {
	for _, s := range n.Stmts {
		s.Accept(c)
	}
	return nil
}

func (c *Compiler) VisitDeclStmt(n *ast.DeclStmt) interface{} { return n.Decl.Accept(c) }

func (c *Compiler) VisitExprStmt(n *ast.ExprStmt) interface{} {
	n.Expr.Accept(c)
	// SET_EXPR_VALUE, not POP_CONSTANT: this is the one statement form
	// whose value HALT's no-explicit-exit fallback needs (mirroring
	// pkg/eval.Evaluator.exprValue), so it must land in that dedicated
	// register rather than a plain discard.
	c.bc.Emit(bytecode.Instruction{Op: bytecode.SetExprValue, Pos: n.Pos})
	return nil
}

func (c *Compiler) VisitAssignStmt(n *ast.AssignStmt) interface{} {
	if len(n.Target) == 0 {
		return nil
	}
	first := n.Target[0]
	chain := n.Target[1:]

	if n.Op == token.Assign {
		n.Value.Accept(c)
	} else {
		base, ok := ops.CompoundBase(n.Op)
		if !ok {
			panic(&diag.RuntimeError{Pos: n.Pos, Message: fmt.Sprintf("unsupported assignment operator %s", n.Op)})
		}
		// current value first, then rhs, so BinaryOp sees (current OP rhs) —
		// matching pkg/eval.VisitAssignStmt's ops.Binary(base, t.get(), rhs).
		c.emitChainLoad(n.Pos, first.Name, chain)
		n.Value.Accept(c)
		c.bc.Emit(bytecode.Instruction{Op: bytecode.BinaryOp, Pos: n.Pos, Operator: base})
	}
	c.emitChainStore(n.Pos, first.Name, chain)
	return nil
}

// emitChainLoad/emitChainStore compile an identifier chain's trailing
// subscripts/field hops into LOAD_SUB_ID/LOAD_SUB_IX (read) or
// ASSIGN_SUB_ID/ASSIGN_SUB_IX (write), after an initial LOAD_VAR/part
// of the base variable.
func (c *Compiler) emitChainLoad(pos token.Position, base string, chain []ast.IdentPart) {
	c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadVar, Pos: pos, Name: base})
	for _, part := range chain {
		if part.Field {
			c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadSubID, Pos: pos, Name: part.Name})
		}
		for _, idx := range part.Index {
			idx.Accept(c)
			c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadSubIx, Pos: pos})
		}
	}
}

func (c *Compiler) emitChainStore(pos token.Position, base string, chain []ast.IdentPart) {
	if len(chain) == 0 {
		c.bc.Emit(bytecode.Instruction{Op: bytecode.AssignVar, Pos: pos, Name: base})
		return
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadVar, Pos: pos, Name: base})
	for i, part := range chain {
		last := i == len(chain)-1
		if part.Field {
			if last && len(part.Index) == 0 {
				c.bc.Emit(bytecode.Instruction{Op: bytecode.AssignSubID, Pos: pos, Name: part.Name})
				return
			}
			c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadSubID, Pos: pos, Name: part.Name})
		}
		for j, idx := range part.Index {
			idx.Accept(c)
			lastIdx := last && j == len(part.Index)-1
			if lastIdx {
				c.bc.Emit(bytecode.Instruction{Op: bytecode.AssignSubIx, Pos: pos})
				return
			}
			c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadSubIx, Pos: pos})
		}
	}
}

func (c *Compiler) VisitIfStmt(n *ast.IfStmt) interface{} {
	n.Cond.Accept(c)
	jumpElse := c.bc.Emit(bytecode.Instruction{Op: bytecode.JumpIfFalse, Pos: n.Pos})
	n.Then.Accept(c)
	jumpEnd := c.bc.Emit(bytecode.Instruction{Op: bytecode.Jump, Pos: n.Pos})
	c.bc.Patch(jumpElse, c.bc.Len())

	var elifEnds []int
	for _, el := range n.Elifs {
		el.Cond.Accept(c)
		jumpNext := c.bc.Emit(bytecode.Instruction{Op: bytecode.JumpIfFalse, Pos: el.Pos})
		el.Body.Accept(c)
		elifEnds = append(elifEnds, c.bc.Emit(bytecode.Instruction{Op: bytecode.Jump, Pos: el.Pos}))
		c.bc.Patch(jumpNext, c.bc.Len())
	}
	if n.Else != nil {
		n.Else.Accept(c)
	}
	c.bc.Patch(jumpEnd, c.bc.Len())
	for _, j := range elifEnds {
		c.bc.Patch(j, c.bc.Len())
	}
	return nil
}

func (c *Compiler) VisitSwitchStmt(n *ast.SwitchStmt) interface{} {
	n.Cond.Accept(c)
	// Stash under the same "\x00switch" sentinel name each case's LOAD_VAR
	// below reads back — the condition is evaluated once, not once per case.
	c.bc.Emit(bytecode.Instruction{Op: bytecode.StoreVar, Pos: n.Pos, Name: "\x00switch"})
	var ends []int
	for _, cs := range n.Cases {
		c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadVar, Pos: cs.Pos, Name: "\x00switch"})
		cs.Value.Accept(c)
		c.bc.Emit(bytecode.Instruction{Op: bytecode.BinaryOp, Pos: cs.Pos, Operator: token.EqEq})
		jumpNext := c.bc.Emit(bytecode.Instruction{Op: bytecode.JumpIfFalse, Pos: cs.Pos})
		cs.Body.Accept(c)
		ends = append(ends, c.bc.Emit(bytecode.Instruction{Op: bytecode.Jump, Pos: cs.Pos}))
		c.bc.Patch(jumpNext, c.bc.Len())
	}
	if n.Default != nil {
		n.Default.Accept(c)
	}
	for _, j := range ends {
		c.bc.Patch(j, c.bc.Len())
	}
	return nil
}

func (c *Compiler) VisitWhileStmt(n *ast.WhileStmt) interface{} {
	c.pushLoop()
	start := c.bc.Len()
	n.Cond.Accept(c)
	jumpEnd := c.bc.Emit(bytecode.Instruction{Op: bytecode.JumpIfFalse, Pos: n.Pos})
	n.Body.Accept(c)
	c.bc.Emit(bytecode.Instruction{Op: bytecode.Jump, Pos: n.Pos, Int: start})
	end := c.bc.Len()
	c.bc.Patch(jumpEnd, end)
	c.popLoop(end, start)
	return nil
}

func (c *Compiler) VisitDoWhileStmt(n *ast.DoWhileStmt) interface{} {
	c.pushLoop()
	start := c.bc.Len()
	n.Body.Accept(c)
	condPos := c.bc.Len()
	n.Cond.Accept(c)
	c.bc.Emit(bytecode.Instruction{Op: bytecode.JumpIfTrue, Pos: n.Pos, Int: start})
	end := c.bc.Len()
	c.popLoop(end, condPos)
	return nil
}

func (c *Compiler) VisitForStmt(n *ast.ForStmt) interface{} {
	if n.Init != nil {
		n.Init.Accept(c)
	}
	c.pushLoop()
	start := c.bc.Len()
	jumpEnd := -1
	if n.Cond != nil {
		n.Cond.Accept(c)
		jumpEnd = c.bc.Emit(bytecode.Instruction{Op: bytecode.JumpIfFalse, Pos: n.Pos})
	}
	n.Body.Accept(c)
	// continue must still run the post-expression before re-checking the
	// condition, so it targets postPos, not start.
	postPos := c.bc.Len()
	if n.Post != nil {
		n.Post.Accept(c)
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.Jump, Pos: n.Pos, Int: start})
	end := c.bc.Len()
	if jumpEnd >= 0 {
		c.bc.Patch(jumpEnd, end)
	}
	c.popLoop(end, postPos)
	return nil
}

func (c *Compiler) VisitForeachStmt(n *ast.ForeachStmt) interface{} {
	n.Collection.Accept(c)
	c.bc.Emit(bytecode.Instruction{Op: bytecode.GetIterator, Pos: n.Pos})
	c.pushLoop()
	start := c.bc.Len()
	jumpEnd := c.bc.Emit(bytecode.Instruction{Op: bytecode.NextElement, Pos: n.Pos, Name: n.KeyName, Name2: n.ValueName})
	n.Body.Accept(c)
	c.bc.Emit(bytecode.Instruction{Op: bytecode.Jump, Pos: n.Pos, Int: start})
	end := c.bc.Len()
	c.bc.Patch(jumpEnd, end)
	c.bc.Emit(bytecode.Instruction{Op: bytecode.PopConstant, Pos: n.Pos})
	c.popLoop(end, start)
	return nil
}

// VisitBreakStmt/VisitContinueStmt emit BREAK/CONTINUE as ordinary
// targeted jumps (recorded against the innermost pushLoop and patched
// by its popLoop), rather than a VM-level unwind signal: the flat
// bytecode stream already gives every loop a concrete exit/repeat
// address, so there is no need for pkg/eval's ctrlSignal panic/recover
// machinery at this layer.
func (c *Compiler) VisitBreakStmt(n *ast.BreakStmt) interface{} {
	pos := c.bc.Emit(bytecode.Instruction{Op: bytecode.Break, Pos: n.Pos})
	if len(c.loopBreaks) > 0 {
		top := len(c.loopBreaks) - 1
		c.loopBreaks[top] = append(c.loopBreaks[top], pos)
	}
	return nil
}

func (c *Compiler) VisitContinueStmt(n *ast.ContinueStmt) interface{} {
	pos := c.bc.Emit(bytecode.Instruction{Op: bytecode.Continue, Pos: n.Pos})
	if len(c.loopContinues) > 0 {
		top := len(c.loopContinues) - 1
		c.loopContinues[top] = append(c.loopContinues[top], pos)
	}
	return nil
}

func (c *Compiler) VisitReturnStmt(n *ast.ReturnStmt) interface{} {
	if n.Value != nil {
		n.Value.Accept(c)
	} else {
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PushVoid, Pos: n.Pos})
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.Return, Pos: n.Pos})
	return nil
}

func (c *Compiler) VisitExitStmt(n *ast.ExitStmt) interface{} {
	n.Value.Accept(c)
	c.bc.Emit(bytecode.Instruction{Op: bytecode.Halt, Pos: n.Pos})
	return nil
}

// VisitTryStmt's TRY_START carries a Bool flag recording whether the
// catch binding is CatchName's form (wrapped in an "flx::Exception"
// struct, per pkg/eval.VisitTryStmt) or Unpack's form (the raw thrown
// message string): both forms bind through STORE_VAR at the catch
// entry point, so that distinction would otherwise be lost to the VM, which has no AST to consult when a throw is actually caught.
func (c *Compiler) VisitTryStmt(n *ast.TryStmt) interface{} {
	jumpCatch := c.bc.Emit(bytecode.Instruction{Op: bytecode.TryStart, Pos: n.Pos, Bool: n.CatchName != ""})
	n.Body.Accept(c)
	c.bc.Emit(bytecode.Instruction{Op: bytecode.TryEnd, Pos: n.Pos})
	jumpEnd := c.bc.Emit(bytecode.Instruction{Op: bytecode.Jump, Pos: n.Pos})
	c.bc.Patch(jumpCatch, c.bc.Len())
	// STORE_VAR, not ASSIGN_VAR: the caught value binds a fresh name
	// (pkg/eval.declareVar's heap.Bind), it does not mutate an existing
	// variable's slot. Every name in Unpack binds the same raw message,
	// so all but the last re-Dup it before consuming the copy.
	if n.CatchName != "" {
		c.bc.Emit(bytecode.Instruction{Op: bytecode.StoreVar, Pos: n.Pos, Name: n.CatchName})
	} else if len(n.Unpack) > 0 {
		for i, name := range n.Unpack {
			if i < len(n.Unpack)-1 {
				c.bc.Emit(bytecode.Instruction{Op: bytecode.Dup, Pos: n.Pos})
			}
			c.bc.Emit(bytecode.Instruction{Op: bytecode.StoreVar, Pos: n.Pos, Name: name})
		}
	} else {
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PopConstant, Pos: n.Pos})
	}
	if n.Catch != nil {
		n.Catch.Accept(c)
	}
	c.bc.Patch(jumpEnd, c.bc.Len())
	return nil
}

func (c *Compiler) VisitThrowStmt(n *ast.ThrowStmt) interface{} {
	n.Value.Accept(c)
	c.bc.Emit(bytecode.Instruction{Op: bytecode.Throw, Pos: n.Pos})
	return nil
}

// ---- expressions ------------------------------------------------------------

func (c *Compiler) VisitLiteral(n *ast.Literal) interface{} {
	c.emitConst(n.Pos, literalValue(n))
	return nil
}

func (c *Compiler) VisitArrayLit(n *ast.ArrayLit) interface{} {
	c.bc.Emit(bytecode.Instruction{Op: bytecode.InitArray, Pos: n.Pos, Int: len(n.Elements)})
	for i, el := range n.Elements {
		el.Accept(c)
		c.bc.Emit(bytecode.Instruction{Op: bytecode.SetElement, Pos: n.Pos, Int: i})
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.PushArray, Pos: n.Pos})
	return nil
}

func (c *Compiler) VisitStructLit(n *ast.StructLit) interface{} {
	st, ok := c.lookupStruct(n.TypeNameSpace, n.TypeName)
	if !ok {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: fmt.Sprintf("unknown struct type %q", n.TypeName)})
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.InitStruct, Pos: n.Pos, Name: st.Identifier, Name2: n.TypeNameSpace})
	provided := map[string]bool{}
	for _, f := range n.Fields {
		f.Value.Accept(c)
		c.bc.Emit(bytecode.Instruction{Op: bytecode.SetField, Pos: n.Pos, Name: f.Name})
		provided[f.Name] = true
	}
	defaults := c.structDefaults[st]
	for i, name := range st.FieldOrder {
		if provided[name] {
			continue
		}
		var dv *value.Value
		if i < len(defaults) && defaults[i] != nil {
			dv, ok = constEval(defaults[i])
			if !ok {
				dv = value.NewUndefined()
			}
		} else {
			dv = value.NewUndefined()
		}
		c.emitConst(n.Pos, dv)
		c.bc.Emit(bytecode.Instruction{Op: bytecode.SetField, Pos: n.Pos, Name: name})
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.PushStruct, Pos: n.Pos})
	return nil
}

func (c *Compiler) VisitFuncLit(n *ast.FuncLit) interface{} {
	name := fmt.Sprintf("lambda$%d", c.bc.Len())
	synthetic := &ast.FunDecl{Pos: n.Pos, Identifier: name, Params: n.Params, Return: n.Return, Body: n.Body}
	fn := c.declareFunctionRuntime(c.buildFunction(synthetic))
	c.funcBodies[fn] = synthetic
	c.funcDefaults[fn] = defaultsOfParams(n.Params)
	c.registerFuncKey(fn)
	c.compileFunctionHeader(synthetic, fn)
	c.bc.Emit(bytecode.Instruction{Op: bytecode.PushFunction, Pos: n.Pos, Name: name, Name2: fn.Namespace})
	return nil
}

func (c *Compiler) VisitThisExpr(n *ast.ThisExpr) interface{} {
	c.bc.Emit(bytecode.Instruction{Op: bytecode.PushUndefined, Pos: n.Pos})
	return nil
}

func (c *Compiler) VisitIdentExpr(n *ast.IdentExpr) interface{} {
	if len(n.Parts) == 0 {
		c.bc.Emit(bytecode.Instruction{Op: bytecode.PushUndefined, Pos: n.Pos})
		return nil
	}
	first := n.Parts[0]
	c.emitChainLoad(n.Pos, first.Name, n.Parts[1:])
	return nil
}

func (c *Compiler) VisitCallExpr(n *ast.CallExpr) interface{} {
	argDefs := make([]*types.Definition, 0, len(n.Args))
	for _, a := range n.Args {
		d, _ := a.Accept(c).(*types.Definition)
		if d == nil {
			d = types.NewDefinition(types.Any)
		}
		argDefs = append(argDefs, d)
	}
	fn, ok := scope.Resolve(c.candidates(n.Namespace, n.Name), argDefs)
	indirect := false
	if !ok {
		if vbl, lookupOk := c.lookupVar(n.Name); lookupOk && vbl.Value.Tag == types.Func {
			indirect = true
			fn, ok = scope.Resolve(c.funcsByKey[n.Namespace+"::"+n.Name], argDefs)
			if !ok {
				fn = nil
			}
		}
	}
	if !ok && !indirect {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: fmt.Sprintf("no matching overload for call %q", n.Name)})
	}
	if indirect {
		c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadVar, Pos: n.Pos, Name: n.Name})
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.CallParamCount, Pos: n.Pos, Int: len(n.Args)})
	name, ns := n.Name, n.Namespace
	if fn != nil {
		name, ns = fn.Identifier, fn.Namespace
	}
	c.bc.Emit(bytecode.Instruction{Op: bytecode.Call, Pos: n.Pos, Name: name, Name2: ns, Bool: indirect})
	var ret *types.Definition = types.NewDefinition(types.Any)
	if fn != nil {
		ret = fn.Return
	}
	return ret
}

func (c *Compiler) VisitUnaryExpr(n *ast.UnaryExpr) interface{} {
	n.Right.Accept(c)
	c.bc.Emit(bytecode.Instruction{Op: bytecode.UnaryOp, Pos: n.Pos, Operator: n.Op})
	return types.NewDefinition(types.Any)
}

func (c *Compiler) VisitIncDecExpr(n *ast.IncDecExpr) interface{} {
	if len(n.Target.Parts) == 0 {
		panic(&diag.RuntimeError{Pos: n.Pos, Message: "invalid increment/decrement target"})
	}
	first := n.Target.Parts[0]
	chain := n.Target.Parts[1:]

	// The target is navigated twice — once to read the current value,
	// once to write the updated one — since IncDec (like BinaryOp) only
	// ever sees one already-loaded operand. An index expression may have
	// side effects (arr[f()]++), so pkg/eval.VisitIncDecExpr resolves the
	// target's index exprs exactly once (resolveTarget) before both the
	// get and the set; here each index value is cached into a synthetic
	// temporary on the first pass and reloaded (not re-evaluated) on the
	// second, to match that single-evaluation guarantee. Field names are
	// static identifiers, not expressions, so they need no caching.
	temps := make([][]string, len(chain))
	for pi, part := range chain {
		temps[pi] = make([]string, len(part.Index))
		for j := range part.Index {
			temps[pi][j] = c.newTemp()
		}
	}

	emitNav := func(write bool) {
		c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadVar, Pos: n.Pos, Name: first.Name})
		for pi, part := range chain {
			last := pi == len(chain)-1
			if part.Field {
				if write && last && len(part.Index) == 0 {
					c.bc.Emit(bytecode.Instruction{Op: bytecode.AssignSubID, Pos: n.Pos, Name: part.Name})
					return
				}
				c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadSubID, Pos: n.Pos, Name: part.Name})
			}
			for j := range part.Index {
				if !write {
					part.Index[j].Accept(c)
					c.bc.Emit(bytecode.Instruction{Op: bytecode.Dup, Pos: n.Pos})
					c.bc.Emit(bytecode.Instruction{Op: bytecode.StoreVar, Pos: n.Pos, Name: temps[pi][j]})
				} else {
					c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadVar, Pos: n.Pos, Name: temps[pi][j]})
				}
				lastIdx := write && last && j == len(part.Index)-1
				if lastIdx {
					c.bc.Emit(bytecode.Instruction{Op: bytecode.AssignSubIx, Pos: n.Pos})
					return
				}
				c.bc.Emit(bytecode.Instruction{Op: bytecode.LoadSubIx, Pos: n.Pos})
			}
		}
	}

	// IncDec pops cur and pushes two values — [cur, updated] for postfix,
	// [updated, updated] for prefix — so the store below always consumes
	// the top (updated) and leaves exactly the correct expression result
	// (old value for postfix, new value for prefix) on the stack.
	emitNav(false)
	c.bc.Emit(bytecode.Instruction{Op: bytecode.IncDec, Pos: n.Pos, Operator: n.Op, Bool: n.Postfix})
	if len(chain) == 0 {
		c.bc.Emit(bytecode.Instruction{Op: bytecode.AssignVar, Pos: n.Pos, Name: first.Name})
	} else {
		emitNav(true)
	}
	return types.NewDefinition(types.Any)
}

func (c *Compiler) VisitBinaryExpr(n *ast.BinaryExpr) interface{} {
	n.Left.Accept(c)
	switch n.Op {
	case token.AndAnd, token.And:
		jumpFalse := c.bc.Emit(bytecode.Instruction{Op: bytecode.JumpIfFalseOrNext, Pos: n.Pos})
		n.Right.Accept(c)
		c.bc.Patch(jumpFalse, c.bc.Len())
	case token.OrOr, token.Or:
		jumpTrue := c.bc.Emit(bytecode.Instruction{Op: bytecode.JumpIfTrueOrNext, Pos: n.Pos})
		n.Right.Accept(c)
		c.bc.Patch(jumpTrue, c.bc.Len())
	default:
		n.Right.Accept(c)
		c.bc.Emit(bytecode.Instruction{Op: bytecode.BinaryOp, Pos: n.Pos, Operator: n.Op})
	}
	return types.NewDefinition(types.Any)
}

func (c *Compiler) VisitTernaryExpr(n *ast.TernaryExpr) interface{} {
	n.Cond.Accept(c)
	jumpFalse := c.bc.Emit(bytecode.Instruction{Op: bytecode.JumpIfFalse, Pos: n.Pos})
	n.IfTrue.Accept(c)
	jumpEnd := c.bc.Emit(bytecode.Instruction{Op: bytecode.Jump, Pos: n.Pos})
	c.bc.Patch(jumpFalse, c.bc.Len())
	n.IfFalse.Accept(c)
	c.bc.Patch(jumpEnd, c.bc.Len())
	return types.NewDefinition(types.Any)
}

func (c *Compiler) VisitInExpr(n *ast.InExpr) interface{} {
	n.Value.Accept(c)
	n.Collection.Accept(c)
	c.bc.Emit(bytecode.Instruction{Op: bytecode.BinaryOp, Pos: n.Pos, Operator: token.In})
	return types.NewDefinition(types.Bool)
}

// VisitTypingExpr splits on whether there's a runtime operand to
// inspect. A bare type literal (is_array(int[]), typeof(string)) names
// a tag that's already known at compile time — elaborateType resolves
// it statically, so the whole expression folds to a constant and the
// VM never sees a typing opcode for it at all. An operand form
// (is_array(x), typeof(x)) must still run x for its side effects and
// read its runtime tag, so that form alone reaches IS_TYPE/TYPEID/
// TYPEOF/REFID.
func (c *Compiler) VisitTypingExpr(n *ast.TypingExpr) interface{} {
	if n.Operand == nil {
		tag := types.Any
		if n.TypeArg != nil {
			tag = c.elaborateType(n.TypeArg).Tag
		}
		switch n.Op {
		case token.IsAny:
			c.emitConst(n.Pos, value.NewBool(true))
			return types.NewDefinition(types.Bool)
		case token.IsArray:
			c.emitConst(n.Pos, value.NewBool(tag == types.Array))
			return types.NewDefinition(types.Bool)
		case token.IsStruct:
			c.emitConst(n.Pos, value.NewBool(tag == types.Struct))
			return types.NewDefinition(types.Bool)
		case token.TypeID:
			c.emitConst(n.Pos, value.NewInt(typeHash(tag.String())))
			return types.NewDefinition(types.Int)
		case token.TypeOf:
			c.emitConst(n.Pos, value.NewString(tag.String()))
			return types.NewDefinition(types.String)
		default:
			c.emitConst(n.Pos, value.NewUndefined())
			return types.NewDefinition(types.Any)
		}
	}
	n.Operand.Accept(c)
	switch n.Op {
	case token.IsAny, token.IsArray, token.IsStruct:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.IsType, Pos: n.Pos, Operator: n.Op})
		return types.NewDefinition(types.Bool)
	case token.RefID:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.RefID, Pos: n.Pos})
		return types.NewDefinition(types.Int)
	case token.TypeID:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.TypeID, Pos: n.Pos})
		return types.NewDefinition(types.Int)
	case token.TypeOf:
		c.bc.Emit(bytecode.Instruction{Op: bytecode.TypeOf, Pos: n.Pos})
		return types.NewDefinition(types.String)
	default:
		return types.NewDefinition(types.Any)
	}
}

func (c *Compiler) VisitParenExpr(n *ast.ParenExpr) interface{} { return n.Inner.Accept(c) }
