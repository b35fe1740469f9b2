// Package diag defines the error taxonomy of spec.md §7: five error
// kinds, each carrying a single position and a single message.
package diag

import "github.com/gaarutyunov/flx/pkg/token"

// LoadError is raised by the collaborator loader when a source file
// is missing or unreadable; fatal.
type LoadError struct {
	Path    string
	Message string
}

func (e *LoadError) Error() string { return "cannot load " + e.Path + ": " + e.Message }

// LexError is a fatal lexing failure for one file.
type LexError struct {
	Pos     token.Position
	Message string
}

func (e *LexError) Error() string { return e.Pos.String() + ": " + e.Message }

// ParseError is a fatal parsing failure for one file; the parser makes
// no attempt at recovery (spec.md §4.2).
type ParseError struct {
	File    string
	Pos     token.Position
	Message string
}

func (e *ParseError) Error() string { return e.Pos.String() + ": " + e.Message }

// SemanticError is fatal for the whole program; Suggestion is filled
// in by the fuzzy-match pass on undeclared-name errors (SPEC_FULL.md
// §4.4).
type SemanticError struct {
	Pos        token.Position
	Message    string
	Suggestion string
}

func (e *SemanticError) Error() string {
	if e.Suggestion == "" {
		return e.Pos.String() + ": " + e.Message
	}
	return e.Pos.String() + ": " + e.Message + " (did you mean '" + e.Suggestion + "'?)"
}

// RuntimeError is a computation-time failure; catchable by a
// surrounding try/catch (spec.md §4.5 "Try/catch").
type RuntimeError struct {
	Pos     token.Position
	Message string
}

func (e *RuntimeError) Error() string { return e.Pos.String() + ": " + e.Message }

// ExitRequested is not an error: it carries the integer code set by an
// `exit()` statement (spec.md §7).
type ExitRequested struct {
	Code int
}

func (e *ExitRequested) Error() string { return "exit requested" }
