// Package builtin implements the host-callable registry spec.md §1
// calls "plug-ins that register named callables" and §4.5 describes as
// "the fun body contains a single sentinel that dispatches to the
// registered callable by name". Grounded on original_source/src/builtin.cpp's
// modules::Builtin — its BUILTIN_NAMES table (print, println, read,
// readch, len, sleep, system) and per-name FunctionDefinition/closure
// pairing, adapted from the original's scope-variable-lookup style
// (reading "args"/"it"/"ms"/"cmd" out of the freshly bound parameter
// scope) to plain positional Go arguments, since the evaluator already
// binds parameters before dispatch.
package builtin

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/gaarutyunov/flx/pkg/types"
	"github.com/gaarutyunov/flx/pkg/value"
)

// Func is a registered native callable. args are already evaluated and
// bound by the caller's overload resolution; Func returns the call's
// result value.
type Func func(args []*value.Value) (*value.Value, error)

// Registry holds every builtin name's signature (for the analyzer and
// the evaluator's overload resolution) and its native implementation.
type Registry struct {
	funcs map[string][]*types.Function
	impls map[*types.Function]Func

	out io.Writer
	in  *bufio.Reader
}

func anyDef() *types.Definition { return types.NewDefinition(types.Any) }

func restParam(name string, elem types.Tag) *types.Variable {
	v := &types.Variable{Definition: types.NewDefinition(types.Array), Identifier: name, IsRest: true}
	v.ArrayElementTag = types.NewDefinition(elem)
	return v
}

func fn(name string, ret types.Tag, params ...*types.Variable) *types.Function {
	return &types.Function{Identifier: name, Namespace: "default", Return: types.NewDefinition(ret), Parameters: params}
}

// NewDefault registers original_source/src/builtin.cpp's BUILTIN_NAMES
// set: print/println (variadic, any element), read (variadic prompt,
// returns string), readch (no args, returns char), len (one overload
// per array-or-string argument, per the original's "LEN"+"A"/"LEN"+"S"
// split), sleep (int milliseconds) and system (string command).
func NewDefault(out io.Writer, in io.Reader) *Registry {
	r := &Registry{funcs: map[string][]*types.Function{}, impls: map[*types.Function]Func{}, out: out, in: bufio.NewReader(in)}

	printFn := fn("print", types.Void, restParam("args", types.Any))
	r.register(printFn, r.doPrint)

	printlnFn := fn("println", types.Void, restParam("args", types.Any))
	r.register(printlnFn, r.doPrintln)

	readFn := fn("read", types.String, restParam("args", types.Any))
	r.register(readFn, r.doRead)

	readchFn := fn("readch", types.Char)
	r.register(readchFn, r.doReadch)

	lenArray := fn("len", types.Int, &types.Variable{Definition: func() *types.Definition {
		d := types.NewDefinition(types.Array)
		d.ArrayElementTag = anyDef()
		return d
	}(), Identifier: "it"})
	r.register(lenArray, r.doLen)

	lenString := fn("len", types.Int, &types.Variable{Definition: types.NewDefinition(types.String), Identifier: "it"})
	r.register(lenString, r.doLen)

	sleepFn := fn("sleep", types.Void, &types.Variable{Definition: types.NewDefinition(types.Int), Identifier: "ms"})
	r.register(sleepFn, r.doSleep)

	systemFn := fn("system", types.Void, &types.Variable{Definition: types.NewDefinition(types.String), Identifier: "cmd"})
	r.register(systemFn, r.doSystem)

	return r
}

func (r *Registry) register(f *types.Function, impl Func) {
	r.funcs[f.Identifier] = append(r.funcs[f.Identifier], f)
	r.impls[f] = impl
}

// Signatures returns every builtin FunctionDefinition, for seeding the
// analyzer's and the evaluator's default-namespace scope.
func (r *Registry) Signatures() []*types.Function {
	var out []*types.Function
	for _, fs := range r.funcs {
		out = append(out, fs...)
	}
	return out
}

// Lookup reports whether fn is a registered builtin, returning its
// native implementation.
func (r *Registry) Lookup(f *types.Function) (Func, bool) {
	impl, ok := r.impls[f]
	return impl, ok
}

func (r *Registry) doPrint(args []*value.Value) (*value.Value, error) {
	for _, a := range args {
		fmt.Fprint(r.out, a.String())
	}
	return value.NewVoid(), nil
}

func (r *Registry) doPrintln(args []*value.Value) (*value.Value, error) {
	if _, err := r.doPrint(args); err != nil {
		return nil, err
	}
	fmt.Fprintln(r.out)
	return value.NewVoid(), nil
}

func (r *Registry) doRead(args []*value.Value) (*value.Value, error) {
	if _, err := r.doPrint(args); err != nil {
		return nil, err
	}
	line, err := r.in.ReadString('\n')
	if err != nil && line == "" {
		return value.NewString(""), nil
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return value.NewString(line), nil
}

func (r *Registry) doReadch(args []*value.Value) (*value.Value, error) {
	ch, _, err := r.in.ReadRune()
	if err != nil {
		return value.NewChar(0), nil
	}
	return value.NewChar(ch), nil
}

func (r *Registry) doLen(args []*value.Value) (*value.Value, error) {
	it := args[0]
	switch it.Tag {
	case types.Array:
		return value.NewInt(int64(len(it.Elems))), nil
	case types.String:
		return value.NewInt(int64(len(it.Str))), nil
	default:
		return nil, fmt.Errorf("len() requires an array or string, got %s", it.Tag)
	}
}

func (r *Registry) doSleep(args []*value.Value) (*value.Value, error) {
	ms := args[0]
	d := ms.Int
	if ms.Tag == types.Float {
		d = ms.Float.IntPart()
	}
	time.Sleep(time.Duration(d) * time.Millisecond)
	return value.NewVoid(), nil
}

func (r *Registry) doSystem(args []*value.Value) (*value.Value, error) {
	cmd := args[0].StringValue()
	c := exec.Command("sh", "-c", cmd)
	c.Stdout = r.out
	c.Stderr = r.out
	_ = c.Run()
	return value.NewVoid(), nil
}
