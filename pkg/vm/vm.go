// Package vm implements spec.md §4.6's bytecode virtual machine: a
// recursive exec(pc, stop) walk over a flat pkg/bytecode.Instruction
// stream, sharing pkg/ops's operator table, pkg/scope's namespace/
// overload model and pkg/value's mark-sweep heap with pkg/eval, so
// both back-ends produce identical results (spec.md §8: "evaluator
// result = VM result"). Grounded on pkg/eval's own structure (the VM
// duplicates eval's scope/declare/bind/call plumbing verbatim, over
// its own runtime scope.Table instead of walking the AST) and on
// clarete-langlang/go's vm.go (a flat-instruction-slice interpreter
// with an explicit operand stack), generalized from langlang's
// PEG-matcher loop to spec.md §4.6's richer opcode set.
package vm

import (
	"fmt"
	"hash/fnv"

	"github.com/gaarutyunov/flx/internal/diag"
	"github.com/gaarutyunov/flx/pkg/builtin"
	"github.com/gaarutyunov/flx/pkg/bytecode"
	"github.com/gaarutyunov/flx/pkg/compiler"
	"github.com/gaarutyunov/flx/pkg/ops"
	"github.com/gaarutyunov/flx/pkg/scope"
	"github.com/gaarutyunov/flx/pkg/token"
	"github.com/gaarutyunov/flx/pkg/types"
	"github.com/gaarutyunov/flx/pkg/value"
)

// stopReason says why exec's loop stopped: it ran off the bound it was
// given (stopEnd) or hit a RETURN (stopReturn). A try/catch region's
// own bounded exec call propagates stopReturn straight back out,
// rather than treating it as "the protected region completed", so a
// return inside a try still unwinds the enclosing function.
type stopReason int

const (
	stopEnd stopReason = iota
	stopReturn
)

// thrown is an explicit `throw`'s payload, kept distinct from
// *diag.RuntimeError so a try/catch's recover tells the two apart the
// same way pkg/eval.thrown does.
type thrown struct{ val *value.Value }

// iterState is a foreach cursor. GET_ITERATOR hands the caller an
// opaque handle (an Int pushed onto the operand stack) rather than a
// new Value tag, since pkg/value has no cursor type of its own — the
// handle indexes into the VM's own iterators slice.
type iterState struct {
	coll *value.Value
	idx  int
}

type callFrame struct {
	name string
	args []*value.Value
}

// VM is the bytecode engine: an operand stack plus the same kind of
// runtime scope/namespace table pkg/eval.Evaluator keeps, populated by
// walking FUN_START/STRUCT_START..*_END registration blocks instead of
// pkg/eval.Evaluator.registerProgram's AST pass.
type VM struct {
	code     []bytecode.Instruction
	heap     *value.Heap
	table    *scope.Table
	current  string
	builtins *builtin.Registry

	stack     []*value.Value
	callStack []*callFrame

	funcDefaults map[*types.Function][]*value.Value
	funcsByKey   map[string][]*types.Function

	// registration-in-progress state: exactly one FUN_START..FUN_END or
	// STRUCT_START..STRUCT_END block is ever open at a time, even across
	// a nested lambda literal's inline compileFunctionHeader-equivalent
	// block, since a body is only entered (and can only itself open a
	// nested FUN_START) once its own enclosing FUN_END has already closed.
	buildingFn         *types.Function
	buildingFnDefaults []*value.Value
	buildingStruct     *types.Structure

	pendingType     *types.Definition
	pendingIsRest   bool
	pendingDefault  *value.Value
	pendingArgCount int

	// arrayBuilders/structBuilders back INIT_ARRAY/INIT_STRUCT's
	// incremental construction; a stack (not a single slot) because a
	// literal's element/field expression can itself be another literal.
	arrayBuilders  [][]*value.Value
	structBuilders []*value.Value

	iterators []*iterState

	nsStack []string // NS_PUSH/NS_POP; pkg/compiler never emits either today

	exprValue *value.Value
}

// New builds a VM with the "flx" namespace preseeded (Pair/Exception,
// mirroring pkg/eval.New/pkg/compiler.New) and every builtin signature
// declared into the default namespace, so CALL resolves print/println/
// etc. the same way both other stages already do.
func New(heap *value.Heap, builtins *builtin.Registry) *VM {
	vm := &VM{
		heap:         heap,
		table:        scope.NewTable(),
		current:      scope.Default,
		builtins:     builtins,
		funcDefaults: map[*types.Function][]*value.Value{},
		funcsByKey:   map[string][]*types.Function{},
		exprValue:    value.NewVoid(),
	}

	vm.ensureNamespaceRoot("flx")
	vm.current = "flx"
	vm.topScope().DeclareStructure(types.PairStructure())
	vm.topScope().DeclareStructure(types.ExceptionStructure())

	vm.ensureNamespaceRoot(scope.Default)
	vm.current = scope.Default
	if builtins != nil {
		for _, fn := range builtins.Signatures() {
			declared := vm.declareFunctionRuntime(fn)
			vm.registerFuncKey(declared)
		}
	}
	return vm
}

// SetGlobal declares name into the default namespace's root scope,
// for a driver to inject `cpargs` (spec.md §6) before Run.
func (vm *VM) SetGlobal(name string, v *value.Value) {
	saved := vm.current
	vm.current = scope.Default
	vm.declareVar(name, v)
	vm.current = saved
}

// Run executes a compiled Program to completion. HALT always panics
// with *diag.ExitRequested (spec.md §8 scenario 1's "exit(main())" and
// the implicit end-of-program case are the same instruction, see the
// HALT case in exec), so — unlike pkg/eval.Run — there is no
// post-loop fallback here: every termination path funnels through
// this one recover.
func (vm *VM) Run(prog *compiler.Program) (code int, err error) {
	vm.code = prog.Bytecode.Code
	defer func() {
		if r := recover(); r != nil {
			switch sig := r.(type) {
			case *diag.ExitRequested:
				code = sig.Code
			case *diag.RuntimeError:
				err = sig
				code = 1
			case thrown:
				err = &diag.RuntimeError{Message: vm.messageOfThrown(sig.val)}
				code = 1
			default:
				panic(r)
			}
		}
	}()
	vm.exec(0, len(vm.code))
	return code, err
}

// ---- namespace/scope plumbing, mirroring pkg/eval's runtime copies ------

func (vm *VM) ensureNamespaceRoot(name string) {
	if vm.table.Has(name) {
		return
	}
	vm.table.Namespace(name).Push(scope.New(name, "root"))
}

func (vm *VM) topScope() *scope.Scope { return vm.table.Namespace(vm.current).Top() }

func (vm *VM) pushScope(blockName string) {
	vm.table.Namespace(vm.current).Push(scope.New(vm.current, blockName))
}

// popScope, like pkg/eval's, collects on every pop. Blocks/loops/
// foreach iterations do not each get their own scope the way
// pkg/eval's do — a deliberate flat, one-scope-per-call-frame
// simplification, since the flat bytecode stream
// has no block-entry/exit marker of its own to drive extra push/pops.
func (vm *VM) popScope() {
	popped := vm.table.Namespace(vm.current).Pop()
	if popped != nil {
		vm.heap.Collect(vm.roots()...)
	}
}

func (vm *VM) lookupVar(name string) (*value.Variable, bool) {
	return scope.LookupVariable(vm.table.LookupChain(vm.current), name)
}

func (vm *VM) candidates(namespace, name string) []*types.Function {
	chain := vm.table.LookupChain(vm.current)
	if namespace != "" && vm.table.Has(namespace) {
		chain = []*scope.Namespace{vm.table.Namespace(namespace)}
	}
	return scope.Candidates(chain, name)
}

func (vm *VM) declareVar(name string, v *value.Value) {
	vm.topScope().DeclareVariable(vm.heap.Bind(name, v))
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

// declareFunctionRuntime/registerFuncKey duplicate
// pkg/eval/pkg/compiler's own copies: each stage walks its own,
// separate scope.Table over a different representation of the same
// program (AST there, bytecode here), so the logic cannot simply be
// shared (documented in DESIGN.md as necessary duplication).
func (vm *VM) declareFunctionRuntime(fn *types.Function) *types.Function {
	top := vm.topScope()
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

func (vm *VM) registerFuncKey(fn *types.Function) {
	key := fn.Namespace + "::" + fn.Identifier
	for _, f := range vm.funcsByKey[key] {
		if f == fn {
			return
		}
	}
	vm.funcsByKey[key] = append(vm.funcsByKey[key], fn)
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

func (vm *VM) runtimeDefs(args []*value.Value) []*types.Definition {
	defs := make([]*types.Definition, len(args))
	for i, a := range args {
		defs[i] = runtimeDefinition(a)
	}
	return defs
}

func (vm *VM) roots() []value.Root {
	var rs []value.Root
	for _, ns := range vm.table.All() {
		for _, sc := range ns.Stack {
			rs = append(rs, sc)
		}
	}
	rs = append(rs, value.SliceRoot{vm.exprValue})
	rs = append(rs, value.SliceRoot(vm.stack))
	for _, f := range vm.callStack {
		rs = append(rs, value.SliceRoot(f.args))
	}
	return rs
}

func (vm *VM) messageOfThrown(v *value.Value) string {
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

func (vm *VM) evalIn(v, coll *value.Value) *value.Value {
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

// ---- operand stack --------------------------------------------------------

func (vm *VM) push(v *value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() *value.Value {
	n := len(vm.stack) - 1
	v := vm.stack[n]
	vm.stack = vm.stack[:n]
	return v
}

func (vm *VM) peek() *value.Value { return vm.stack[len(vm.stack)-1] }

// ---- parameter binding / calls, mirroring pkg/eval's bindParam(eters)/
// callFunction exactly, except defaults are already-constant
// *value.Value (folded once at FUN_SET_PARAM time) rather than an
// ast.Expr re-evaluated per call. --------------------------------------

func (vm *VM) bindParam(p *types.Variable, v *value.Value) {
	bound := ops.Coerce(v, p.Tag)
	if !bound.UseRef {
		bound = value.Copy(bound)
	}
	vm.declareVar(p.Identifier, bound)
}

func (vm *VM) bindParameters(fn *types.Function, args []*value.Value) {
	params := fn.Parameters
	n := len(params)
	fixed := n
	if n > 0 && params[n-1].IsRest {
		fixed = n - 1
	}

	i := 0
	for ; i < fixed && i < len(args); i++ {
		vm.bindParam(params[i], args[i])
	}
	defaults := vm.funcDefaults[fn]
	for ; i < fixed; i++ {
		dv := value.NewUndefined()
		if i < len(defaults) && defaults[i] != nil {
			dv = defaults[i]
		}
		vm.bindParam(params[i], dv)
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
		vm.bindParam(params[n-1], value.NewArray(append([]*value.Value(nil), elems...), types.Any))
	}
}

// invoke implements spec.md §4.5's function-call protocol: builtins
// dispatch straight through pkg/builtin.Registry, a user function gets
// a fresh scope/call frame and runs from its recorded
// BytecodePointer, with RETURN's stopReturn — not a panic, unlike
// pkg/eval's sigReturn ctrlSignal — unwinding exactly that nested
// exec call.
func (vm *VM) invoke(pos token.Position, fn *types.Function, args []*value.Value) *value.Value {
	if vm.builtins != nil {
		if impl, ok := vm.builtins.Lookup(fn); ok {
			out, err := impl(args)
			if err != nil {
				panic(&diag.RuntimeError{Pos: pos, Message: err.Error()})
			}
			return out
		}
	}
	if fn.BytecodePointer == 0 {
		panic(&diag.RuntimeError{Pos: pos, Message: fmt.Sprintf("function %q has no body", fn.Identifier)})
	}

	savedNs := vm.current
	vm.current = fn.Namespace
	vm.ensureNamespaceRoot(vm.current)
	vm.pushScope(fn.Identifier)
	vm.callStack = append(vm.callStack, &callFrame{name: fn.Identifier, args: args})
	defer func() {
		vm.callStack = vm.callStack[:len(vm.callStack)-1]
		vm.popScope()
		vm.current = savedNs
	}()

	vm.bindParameters(fn, args)
	_, reason := vm.exec(fn.BytecodePointer, len(vm.code))
	if reason != stopReturn {
		// Every compiled body ends in an implicit "return void" (see
		// compileFunctionHeader), so falling off the bound instead means
		// something upstream already panicked past this frame.
		return value.NewVoid()
	}
	return vm.pop()
}

// runProtected runs a bounded region with the same recover pkg/eval's
// VisitTryStmt installs around its body: a thrown value or a
// *diag.RuntimeError is caught (and its message extracted); anything
// else, including a stopReturn escaping the region, re-panics/
// propagates untouched so a return or an unrelated signal inside a try
// still unwinds past it.
func (vm *VM) runProtected(pc, stop int) (caught *string, nextPC int, reason stopReason) {
	defer func() {
		if r := recover(); r != nil {
			switch sig := r.(type) {
			case thrown:
				msg := vm.messageOfThrown(sig.val)
				caught = &msg
			case *diag.RuntimeError:
				msg := sig.Message
				caught = &msg
			default:
				panic(r)
			}
		}
	}()
	nextPC, reason = vm.exec(pc, stop)
	return
}

// exec walks instructions from pc up to (excluding) stop, returning
// where it stopped and why. It is called recursively by TRY_START (one
// level per try region) and by invoke (one level per user-function
// call) rather than threading an explicit call stack of its own —
// Go's own call stack already is that stack.
//
// A loop's BREAK/CONTINUE target lying outside a try nested in that
// loop is handled with no special case at all: the targeted jump
// simply lands outside [pc, stop), the bounded for loop below ends
// (pc no longer < stop) and returns that landing pc up to whichever
// exec frame's bound it fell within — by induction up through however
// many try regions are nested, the same return-wherever-we-stopped
// rule threads every break/continue to its real destination.
func (vm *VM) exec(pc, stop int) (int, stopReason) {
	for pc < stop {
		instr := vm.code[pc]
		switch instr.Op {
		case bytecode.PushBool:
			vm.push(value.NewBool(instr.Bool))
			pc++
		case bytecode.PushInt:
			vm.push(value.NewInt(int64(instr.Int)))
			pc++
		case bytecode.PushFloat:
			vm.push(value.NewFloat(instr.Float))
			pc++
		case bytecode.PushChar:
			vm.push(value.NewChar(instr.Char))
			pc++
		case bytecode.PushString:
			vm.push(value.NewString(instr.Str))
			pc++
		case bytecode.PushVoid:
			vm.push(value.NewVoid())
			pc++
		case bytecode.PushUndefined:
			vm.push(value.NewUndefined())
			pc++
		case bytecode.PushFunction:
			vm.push(value.NewFunction(instr.Name2, instr.Name))
			pc++

		case bytecode.InitArray:
			vm.arrayBuilders = append(vm.arrayBuilders, make([]*value.Value, instr.Int))
			pc++
		case bytecode.SetElement:
			v := vm.pop()
			top := len(vm.arrayBuilders) - 1
			vm.arrayBuilders[top][instr.Int] = v
			pc++
		case bytecode.PushArray:
			top := len(vm.arrayBuilders) - 1
			elems := vm.arrayBuilders[top]
			vm.arrayBuilders = vm.arrayBuilders[:top]
			vm.push(value.NewArray(elems, types.Any))
			pc++
		case bytecode.InitStruct:
			vm.structBuilders = append(vm.structBuilders, value.NewStruct(instr.Name, instr.Name2))
			pc++
		case bytecode.SetField:
			v := vm.pop()
			top := len(vm.structBuilders) - 1
			vm.structBuilders[top].SetField(instr.Name, v)
			pc++
		case bytecode.PushStruct:
			top := len(vm.structBuilders) - 1
			st := vm.structBuilders[top]
			vm.structBuilders = vm.structBuilders[:top]
			vm.push(st)
			pc++

		case bytecode.LoadVar:
			vbl, ok := vm.lookupVar(instr.Name)
			if !ok {
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("undeclared name %q", instr.Name)})
			}
			vm.push(vbl.Value)
			pc++
		case bytecode.StoreVar:
			v := vm.pop()
			if vm.pendingType != nil {
				v = ops.Coerce(v, vm.pendingType.Tag)
				vm.pendingType = nil
			}
			if !v.UseRef {
				v = value.Copy(v)
			}
			vm.declareVar(instr.Name, v)
			pc++
		case bytecode.AssignVar:
			v := vm.pop()
			if !v.UseRef {
				v = value.Copy(v)
			}
			vbl, ok := vm.lookupVar(instr.Name)
			if !ok {
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("undeclared name %q", instr.Name)})
			}
			vbl.Value = v
			pc++
		case bytecode.LoadSubID:
			container := vm.pop()
			if container.Tag != types.Struct {
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("field access on non-struct value %s", container.Tag)})
			}
			fv, ok := container.Fields[instr.Name]
			if !ok {
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("unknown field %q", instr.Name)})
			}
			vm.push(fv)
			pc++
		case bytecode.LoadSubIx:
			idxVal := vm.pop()
			container := vm.pop()
			if idxVal.Tag != types.Int {
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("index must be int, got %s", idxVal.Tag)})
			}
			idx := int(idxVal.Int)
			switch container.Tag {
			case types.Array:
				if idx < 0 || idx >= len(container.Elems) {
					panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("array index %d out of range (len %d)", idx, len(container.Elems))})
				}
				vm.push(container.Elems[idx])
			case types.String:
				if idx < 0 || idx >= len(container.Str) {
					panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("string index %d out of range (len %d)", idx, len(container.Str))})
				}
				vm.push(value.NewChar(rune(container.Str[idx])))
			default:
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("cannot index %s", container.Tag)})
			}
			pc++
		case bytecode.AssignSubID:
			container := vm.pop()
			v := vm.pop()
			if !v.UseRef {
				v = value.Copy(v)
			}
			if container.Tag != types.Struct {
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("field access on non-struct value %s", container.Tag)})
			}
			if _, ok := container.Fields[instr.Name]; !ok {
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("unknown field %q", instr.Name)})
			}
			container.SetField(instr.Name, v)
			pc++
		case bytecode.AssignSubIx:
			idxVal := vm.pop()
			container := vm.pop()
			v := vm.pop()
			if !v.UseRef {
				v = value.Copy(v)
			}
			if idxVal.Tag != types.Int {
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("index must be int, got %s", idxVal.Tag)})
			}
			idx := int(idxVal.Int)
			switch container.Tag {
			case types.Array:
				if idx < 0 || idx >= len(container.Elems) {
					panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("array index %d out of range (len %d)", idx, len(container.Elems))})
				}
				container.Elems[idx] = v
			case types.String:
				if idx < 0 || idx >= len(container.Str) {
					panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("string index %d out of range (len %d)", idx, len(container.Str))})
				}
				switch {
				case v.Tag == types.Char:
					container.Str[idx] = byte(v.Char)
				case v.Tag == types.String && len(v.Str) > 0:
					container.Str[idx] = v.Str[0]
				}
			default:
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("cannot index %s", container.Tag)})
			}
			pc++

		case bytecode.SetType:
			if instr.Name == "struct" {
				vm.pendingType = &types.Definition{Tag: types.Struct, UseRef: true}
			} else {
				tag, ok := primitiveTags[instr.Name]
				if !ok {
					tag = types.Any
				}
				vm.pendingType = types.NewDefinition(tag)
			}
			pc++
		case bytecode.SetArrayType:
			vm.pendingType = &types.Definition{Tag: types.Array, ArrayElementTag: vm.pendingType}
			pc++
		case bytecode.SetArraySize:
			vm.pendingType.Dims = instr.Int
			pc++
		case bytecode.SetTypeName:
			vm.pendingType.TypeName = instr.Name
			pc++
		case bytecode.SetTypeNameSpace:
			vm.pendingType.TypeNameSpace = instr.Name
			pc++
		case bytecode.SetDefaultValue:
			vm.pendingDefault = vm.pop()
			pc++
		case bytecode.SetIsRest:
			vm.pendingIsRest = instr.Bool
			pc++

		case bytecode.StructStart:
			vm.buildingStruct = types.NewStructure(instr.Name)
			pc++
		case bytecode.StructSetVar:
			v := &types.Variable{Definition: vm.pendingType, Identifier: instr.Name, HasDefault: vm.pendingDefault != nil}
			vm.buildingStruct.AddField(v)
			vm.pendingType = nil
			vm.pendingDefault = nil
			pc++
		case bytecode.StructEnd:
			vm.topScope().DeclareStructure(vm.buildingStruct)
			vm.buildingStruct = nil
			pc++

		case bytecode.FunStart:
			vm.buildingFn = &types.Function{Identifier: instr.Name, Namespace: instr.Name2, Return: types.NewDefinition(types.Any), Forward: true}
			vm.buildingFnDefaults = nil
			pc++
		case bytecode.FunSetParam:
			v := &types.Variable{Definition: vm.pendingType, Identifier: instr.Name, HasDefault: vm.pendingDefault != nil, IsRest: vm.pendingIsRest}
			vm.buildingFn.Parameters = append(vm.buildingFn.Parameters, v)
			vm.buildingFnDefaults = append(vm.buildingFnDefaults, vm.pendingDefault)
			vm.pendingType = nil
			vm.pendingIsRest = false
			vm.pendingDefault = nil
			pc++
		case bytecode.FunEnd:
			fn := vm.buildingFn
			hasBody := pc+1 < len(vm.code) && vm.code[pc+1].Op == bytecode.Jump
			fn.Forward = !hasBody
			resolved := vm.declareFunctionRuntime(fn)
			vm.registerFuncKey(resolved)
			vm.funcDefaults[resolved] = vm.buildingFnDefaults
			if hasBody {
				resolved.BytecodePointer = pc + 2
			}
			vm.buildingFn = nil
			vm.buildingFnDefaults = nil
			pc++

		case bytecode.CallParamCount:
			vm.pendingArgCount = instr.Int
			pc++
		case bytecode.Call:
			n := vm.pendingArgCount
			vm.pendingArgCount = 0
			var funcVal *value.Value
			if instr.Bool {
				funcVal = vm.pop()
			}
			args := make([]*value.Value, n)
			for i := n - 1; i >= 0; i-- {
				args[i] = vm.pop()
			}
			var fn *types.Function
			var ok bool
			if instr.Bool {
				key := funcVal.Ns + "::" + funcVal.Name
				fn, ok = scope.Resolve(vm.funcsByKey[key], vm.runtimeDefs(args))
			} else {
				fn, ok = scope.Resolve(vm.candidates(instr.Name2, instr.Name), vm.runtimeDefs(args))
			}
			if !ok {
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("no matching overload for call %q", instr.Name)})
			}
			vm.push(vm.invoke(instr.Pos, fn, args))
			pc++
		case bytecode.Return:
			return pc + 1, stopReturn

		case bytecode.Jump:
			pc = instr.Int
		case bytecode.JumpIfTrue:
			v := vm.pop()
			if truthy(v, instr.Pos) {
				pc = instr.Int
			} else {
				pc++
			}
		case bytecode.JumpIfFalse:
			v := vm.pop()
			if !truthy(v, instr.Pos) {
				pc = instr.Int
			} else {
				pc++
			}
		case bytecode.JumpIfTrueOrNext:
			v := vm.pop()
			if truthy(v, instr.Pos) {
				vm.push(v)
				pc = instr.Int
			} else {
				pc++
			}
		case bytecode.JumpIfFalseOrNext:
			v := vm.pop()
			if !truthy(v, instr.Pos) {
				vm.push(v)
				pc = instr.Int
			} else {
				pc++
			}
		case bytecode.Break, bytecode.Continue:
			pc = instr.Int

		case bytecode.TryStart:
			tryEndPC := instr.Int - 2
			caught, nextPC, reason := vm.runProtected(pc+1, tryEndPC)
			if reason == stopReturn {
				return nextPC, stopReturn
			}
			if caught != nil {
				if instr.Bool {
					exc := value.NewStruct("Exception", "flx")
					exc.SetField("error", value.NewString(*caught))
					vm.push(exc)
				} else {
					vm.push(value.NewString(*caught))
				}
				pc = instr.Int
			} else {
				pc = nextPC
			}
		case bytecode.TryEnd:
			pc++
		case bytecode.Throw:
			panic(thrown{val: vm.pop()})

		case bytecode.GetIterator:
			coll := vm.pop()
			handle := len(vm.iterators)
			vm.iterators = append(vm.iterators, &iterState{coll: coll})
			vm.push(value.NewInt(int64(handle)))
			pc++
		case bytecode.NextElement:
			handle := int(vm.peek().Int)
			it := vm.iterators[handle]
			switch it.coll.Tag {
			case types.Array:
				if it.idx >= len(it.coll.Elems) {
					pc = instr.Int
					continue
				}
				elem := it.coll.Elems[it.idx]
				it.idx++
				if !elem.UseRef {
					elem = value.Copy(elem)
				}
				vm.declareVar(instr.Name2, elem)
				pc++
			case types.String:
				if it.idx >= len(it.coll.Str) {
					pc = instr.Int
					continue
				}
				ch := value.NewChar(rune(it.coll.Str[it.idx]))
				it.idx++
				vm.declareVar(instr.Name2, ch)
				pc++
			case types.Struct:
				if it.idx >= len(it.coll.FieldOrder) {
					pc = instr.Int
					continue
				}
				name := it.coll.FieldOrder[it.idx]
				it.idx++
				fv := it.coll.Fields[name]
				if instr.Name != "" {
					vm.declareVar(instr.Name, value.NewString(name))
					bound := fv
					if !bound.UseRef {
						bound = value.Copy(bound)
					}
					vm.declareVar(instr.Name2, bound)
				} else {
					pair := value.NewStruct("Pair", "flx")
					pair.SetField("key", value.NewString(name))
					pair.SetField("value", fv)
					vm.declareVar(instr.Name2, pair)
				}
				pc++
			default:
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("cannot iterate %s", it.coll.Tag)})
			}

		case bytecode.BinaryOp:
			r := vm.pop()
			l := vm.pop()
			var result *value.Value
			if instr.Operator == token.In {
				result = vm.evalIn(l, r)
			} else {
				var err error
				result, err = ops.Binary(instr.Operator, l, r)
				if err != nil {
					panic(&diag.RuntimeError{Pos: instr.Pos, Message: err.Error()})
				}
			}
			vm.push(result)
			pc++
		case bytecode.UnaryOp:
			v := vm.pop()
			result, err := ops.Unary(instr.Operator, v)
			if err != nil {
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: err.Error()})
			}
			vm.push(result)
			pc++
		case bytecode.IncDec:
			cur := vm.pop()
			delta, err := ops.IncDecDelta(instr.Operator, cur)
			if err != nil {
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: err.Error()})
			}
			updated, err := ops.Binary(token.Plus, cur, delta)
			if err != nil {
				panic(&diag.RuntimeError{Pos: instr.Pos, Message: err.Error()})
			}
			if instr.Bool { // postfix: old value is the expression result
				vm.push(cur)
				vm.push(updated)
			} else {
				vm.push(updated)
				vm.push(updated)
			}
			pc++

		case bytecode.IsType:
			v := vm.pop()
			var b bool
			switch instr.Operator {
			case token.IsAny:
				b = true
			case token.IsArray:
				b = v.Tag == types.Array
			case token.IsStruct:
				b = v.Tag == types.Struct
			}
			vm.push(value.NewBool(b))
			pc++
		case bytecode.RefID:
			v := vm.pop()
			vm.push(value.NewInt(refID(v)))
			pc++
		case bytecode.TypeID:
			v := vm.pop()
			vm.push(value.NewInt(typeHash(v.Tag.String())))
			pc++
		case bytecode.TypeOf:
			v := vm.pop()
			vm.push(value.NewString(v.Tag.String()))
			pc++
		case bytecode.TypeParse:
			panic(&diag.RuntimeError{Pos: instr.Pos, Message: "type_parse: not reachable from any compiled form"})

		case bytecode.NSPush:
			vm.nsStack = append(vm.nsStack, vm.current)
			vm.current = instr.Name
			vm.ensureNamespaceRoot(vm.current)
			pc++
		case bytecode.NSPop:
			if len(vm.nsStack) > 0 {
				top := len(vm.nsStack) - 1
				vm.current = vm.nsStack[top]
				vm.nsStack = vm.nsStack[:top]
			}
			pc++
		case bytecode.NSInclude:
			ns := vm.table.Namespace(vm.current)
			found := false
			for _, inc := range ns.Includes {
				if inc == instr.Name {
					found = true
					break
				}
			}
			if !found {
				ns.Includes = append(ns.Includes, instr.Name)
			}
			pc++
		case bytecode.NSExclude:
			ns := vm.table.Namespace(vm.current)
			out := ns.Includes[:0]
			for _, inc := range ns.Includes {
				if inc != instr.Name {
					out = append(out, inc)
				}
			}
			ns.Includes = out
			pc++

		case bytecode.Halt:
			code := 0
			if len(vm.stack) > 0 {
				v := vm.pop()
				if v.Tag == types.Int {
					code = int(v.Int)
				}
			} else if vm.exprValue != nil && vm.exprValue.Tag == types.Int {
				code = int(vm.exprValue.Int)
			}
			panic(&diag.ExitRequested{Code: code})
		case bytecode.Trap:
			pc++
		case bytecode.PopConstant:
			vm.pop()
			pc++
		case bytecode.Dup:
			vm.push(vm.peek())
			pc++
		case bytecode.SetExprValue:
			vm.exprValue = vm.pop()
			pc++

		default:
			panic(&diag.RuntimeError{Pos: instr.Pos, Message: fmt.Sprintf("unimplemented opcode %s", instr.Op)})
		}
	}
	return pc, stopEnd
}
