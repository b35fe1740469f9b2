// Package resolver implements spec.md §4.3: a minimal visitor that
// walks only `using` statements across already-parsed programs and
// reports the paths still missing from the program map, so the
// (out-of-scope) loader can fetch and parse them before another pass.
package resolver

import (
	"strings"

	"github.com/gaarutyunov/flx/pkg/ast"
)

// Resolver embeds ast.BaseVisitor but only overrides VisitUsing,
// relying on BaseVisitor.VisitProgram to still walk every top-level
// Using node while skipping everything else (spec.md §4.3: "A minimal
// visitor that walks only using statements").
type Resolver struct {
	ast.BaseVisitor
	known      map[string]bool
	unresolved []string
}

// New builds a Resolver that considers every name in known already
// loaded.
func New(known map[string]bool) *Resolver {
	if known == nil {
		known = map[string]bool{}
	}
	return &Resolver{known: known}
}

func (r *Resolver) VisitUsing(n *ast.Using) interface{} {
	dotted := strings.Join(n.Path, ".")
	if !r.known[dotted] {
		r.unresolved = append(r.unresolved, dotted)
		r.known[dotted] = true
	}
	return nil
}

// Walk records every unresolved import path reachable from program.
func Walk(r *Resolver, program *ast.Program) { program.Accept(r) }

// Unresolved returns the dotted import paths discovered so far that
// are not yet in the known set, in encounter order.
func (r *Resolver) Unresolved() []string { return r.unresolved }

// Path converts a dotted import name to its relative file path,
// spec.md §9's open question resolved in favor of a single `.flx`
// extension everywhere (see SPEC_FULL.md §6).
func Path(dotted string) string {
	return strings.ReplaceAll(dotted, ".", "/") + ".flx"
}
