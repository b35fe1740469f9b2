// Package loader implements spec.md §1's source loader boundary: it
// turns a dotted import name into an on-disk (name, source_text) pair.
// Every other stage (lexer, parser, resolver, analyzer, evaluator,
// compiler, vm) only ever sees strings and ASTs; this is the one
// package in the module that touches a filesystem.
package loader

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gaarutyunov/flx/internal/diag"
	"github.com/gaarutyunov/flx/pkg/resolver"
)

// Loader resolves dotted import paths against a workspace root and a
// stdlib root, per spec.md §9's open question ("the stdlib path list
// is fixed: flx.std.*, flx.core.*"), resolved in SPEC_FULL.md §6 by
// standardizing on a single `.flx` extension everywhere rather than
// keeping a second "lib finder" naming convention.
type Loader struct {
	Workspace string
	Stdlib    string
}

func New(workspace, stdlib string) *Loader {
	return &Loader{Workspace: workspace, Stdlib: stdlib}
}

// roots lists, in try order, the directories dotted may resolve
// under. flx.std./flx.core. names check the stdlib root first so a
// same-named workspace file can never shadow the standard library.
func (l *Loader) roots(dotted string) []string {
	if strings.HasPrefix(dotted, "flx.std.") || strings.HasPrefix(dotted, "flx.core.") {
		return []string{l.Stdlib, l.Workspace}
	}
	return []string{l.Workspace, l.Stdlib}
}

// Load reads the file a dotted `using` path resolves to
// (resolver.Path's `a/b/c.flx` convention) and returns its text plus
// the path actually read (the search root joined with the relative
// file path), for position-reporting.
func (l *Loader) Load(dotted string) (source, resolvedPath string, err error) {
	rel := resolver.Path(dotted)
	var lastErr error
	for _, root := range l.roots(dotted) {
		if root == "" {
			continue
		}
		full := filepath.Join(root, rel)
		b, readErr := os.ReadFile(full)
		if readErr == nil {
			return string(b), full, nil
		}
		lastErr = readErr
	}
	if lastErr == nil {
		lastErr = os.ErrNotExist
	}
	return "", "", &diag.LoadError{Path: rel, Message: lastErr.Error()}
}

// LoadMain reads the -m/--main entry point: a path first tried
// relative to the workspace, falling back to dotted stdlib resolution
// so `-m flx.std.prelude` and `-m main.flx` both work.
func (l *Loader) LoadMain(main string) (source, resolvedPath string, err error) {
	full := main
	if !filepath.IsAbs(full) {
		full = filepath.Join(l.Workspace, main)
	}
	if b, readErr := os.ReadFile(full); readErr == nil {
		return string(b), full, nil
	}
	return l.Load(main)
}
