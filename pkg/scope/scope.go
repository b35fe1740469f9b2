// Package scope implements spec.md §3's Scope/Program model: a
// per-namespace stack of symbol tables, pushed on block entry and
// popped (with a GC collection) on block exit, per spec.md §5.
package scope

import (
	"github.com/gaarutyunov/flx/pkg/types"
	"github.com/gaarutyunov/flx/pkg/value"
)

// Scope is one symbol-table level: variables, functions (a multimap
// for overloads) and structure definitions, plus the owning program
// and block name used for diagnostics and for resolving `this`/labeled
// break-continue.
type Scope struct {
	Variables  map[string]*value.Variable
	Functions  map[string][]*types.Function
	Structures map[string]*types.Structure
	Owner      string // owner_program
	BlockName  string
}

func New(owner, blockName string) *Scope {
	return &Scope{
		Variables:  map[string]*value.Variable{},
		Functions:  map[string][]*types.Function{},
		Structures: map[string]*types.Structure{},
		Owner:      owner,
		BlockName:  blockName,
	}
}

func (s *Scope) DeclareVariable(v *value.Variable) { s.Variables[v.Identifier] = v }

func (s *Scope) DeclareFunction(f *types.Function) {
	s.Functions[f.Identifier] = append(s.Functions[f.Identifier], f)
}

func (s *Scope) DeclareStructure(st *types.Structure) { s.Structures[st.Identifier] = st }

// Roots implements value.Root for the GC.
func (s *Scope) Roots() []*value.Value {
	return value.VarTableRoot(s.Variables).Roots()
}

// Namespace owns one ordered stack of Scopes (spec.md §3: "for each
// active namespace the analyzer/evaluator maintains an ordered stack
// of scopes").
type Namespace struct {
	Name   string
	Stack  []*Scope
	Includes []string // other namespace names looked up after this one, in declaration order
}

func NewNamespace(name string) *Namespace { return &Namespace{Name: name} }

func (n *Namespace) Push(s *Scope) { n.Stack = append(n.Stack, s) }

func (n *Namespace) Pop() *Scope {
	if len(n.Stack) == 0 {
		return nil
	}
	top := n.Stack[len(n.Stack)-1]
	n.Stack = n.Stack[:len(n.Stack)-1]
	return top
}

func (n *Namespace) Top() *Scope {
	if len(n.Stack) == 0 {
		return nil
	}
	return n.Stack[len(n.Stack)-1]
}

// Default is the sentinel namespace name used for programs without an
// explicit `namespace X;` declaration (spec.md §3).
const Default = "default"

// Table holds every Namespace in the running program, keyed by name,
// so lookup can walk (current namespace stack top-down) then (each
// included namespace's stack top-down) in insertion order, per
// spec.md §3 and §9 DESIGN NOTES "Namespaces and include/exclude".
type Table struct {
	namespaces map[string]*Namespace
	order      []string
}

func NewTable() *Table { return &Table{namespaces: map[string]*Namespace{}} }

func (t *Table) Namespace(name string) *Namespace {
	ns, ok := t.namespaces[name]
	if !ok {
		ns = NewNamespace(name)
		t.namespaces[name] = ns
		t.order = append(t.order, name)
	}
	return ns
}

func (t *Table) Has(name string) bool {
	_, ok := t.namespaces[name]
	return ok
}

// All returns every registered Namespace in declaration order, for
// callers (the evaluator's GC root collection) that need to walk the
// whole table rather than one lookup chain.
func (t *Table) All() []*Namespace {
	out := make([]*Namespace, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.namespaces[name])
	}
	return out
}

// LookupChain returns, for the given current namespace, the ordered
// list of Namespaces to search: itself first, then every included
// namespace in declaration order.
func (t *Table) LookupChain(current string) []*Namespace {
	ns := t.Namespace(current)
	chain := []*Namespace{ns}
	for _, inc := range ns.Includes {
		if other := t.namespaces[inc]; other != nil {
			chain = append(chain, other)
		}
	}
	return chain
}

// LookupVariable walks a namespace chain top of stack first, as
// spec.md §3 describes.
func LookupVariable(chain []*Namespace, name string) (*value.Variable, bool) {
	for _, ns := range chain {
		for i := len(ns.Stack) - 1; i >= 0; i-- {
			if v, ok := ns.Stack[i].Variables[name]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

// LookupStructure walks a namespace chain for a structure definition.
func LookupStructure(chain []*Namespace, name string) (*types.Structure, bool) {
	for _, ns := range chain {
		for i := len(ns.Stack) - 1; i >= 0; i-- {
			if s, ok := ns.Stack[i].Structures[name]; ok {
				return s, true
			}
		}
	}
	return nil, false
}

// Candidates collects every overload of name visible across a
// namespace chain, innermost scope first.
func Candidates(chain []*Namespace, name string) []*types.Function {
	var out []*types.Function
	for _, ns := range chain {
		for i := len(ns.Stack) - 1; i >= 0; i-- {
			out = append(out, ns.Stack[i].Functions[name]...)
		}
	}
	return out
}
