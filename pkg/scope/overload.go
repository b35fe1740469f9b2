package scope

import "github.com/gaarutyunov/flx/pkg/types"

// Resolve implements spec.md §9 DESIGN NOTES "Overload selection":
// three strictness passes tried in order, first match wins.
//
//  1. exact length, all positions any-or-match (strict equality
//     required at any position whose candidate parameter is use_ref);
//  2. a shorter candidate whose trailing parameter is_rest absorbs the
//     remaining arguments (possibly unwrapping a single trailing array
//     argument);
//  3. a longer candidate whose extra trailing parameters all carry
//     defaults.
func Resolve(candidates []*types.Function, args []*types.Definition) (*types.Function, bool) {
	if f, ok := resolveExact(candidates, args); ok {
		return f, true
	}
	if f, ok := resolveRest(candidates, args); ok {
		return f, true
	}
	if f, ok := resolveDefaults(candidates, args); ok {
		return f, true
	}
	return nil, false
}

func resolveExact(candidates []*types.Function, args []*types.Definition) (*types.Function, bool) {
	for _, f := range candidates {
		if len(f.Parameters) != len(args) {
			continue
		}
		if matchesPositions(f.Parameters, args) {
			return f, true
		}
	}
	return nil, false
}

func matchesPositions(params []*types.Variable, args []*types.Definition) bool {
	for i, p := range params {
		if p.UseRef {
			if !types.Equal(p.Definition, args[i]) {
				return false
			}
			continue
		}
		if !types.AnyOrMatch(p.Definition, args[i]) {
			return false
		}
	}
	return true
}

func resolveRest(candidates []*types.Function, args []*types.Definition) (*types.Function, bool) {
	for _, f := range candidates {
		n := len(f.Parameters)
		if n == 0 || !f.Parameters[n-1].IsRest {
			continue
		}
		if len(args) < n-1 {
			continue
		}
		if !matchesPositions(f.Parameters[:n-1], args[:n-1]) {
			continue
		}
		rest := args[n-1:]
		restElem := f.Parameters[n-1].ArrayElementTag
		if len(rest) == 1 && rest[0].Tag == types.Array && types.AnyOrMatch(restElem, rest[0].ArrayElementTag) {
			return f, true
		}
		ok := true
		for _, a := range rest {
			if !types.AnyOrMatch(restElem, a) {
				ok = false
				break
			}
		}
		if ok {
			return f, true
		}
	}
	return nil, false
}

func resolveDefaults(candidates []*types.Function, args []*types.Definition) (*types.Function, bool) {
	for _, f := range candidates {
		if len(f.Parameters) <= len(args) {
			continue
		}
		if !matchesPositions(f.Parameters[:len(args)], args) {
			continue
		}
		ok := true
		for _, p := range f.Parameters[len(args):] {
			if !p.HasDefault {
				ok = false
				break
			}
		}
		if ok {
			return f, true
		}
	}
	return nil, false
}
