// Package value implements spec.md §3's RuntimeValue/RuntimeVariable
// model and the mark-sweep heap described in spec.md §5 and §9's
// DESIGN NOTES ("arenas + indices ... eliminating cycles between
// values and variables").
package value

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gaarutyunov/flx/pkg/types"
)

// Value is one heap cell. Tag-specific payloads are stored directly;
// Float uses decimal.Decimal instead of float64 so the tree-walking
// evaluator and the bytecode VM produce bit-identical results for
// every arithmetic expression (spec.md §8: "evaluator result = VM
// result"), which plain float64 rounding does not guarantee once the
// two back-ends use different instruction sequences for the same
// expression.
type Value struct {
	Tag types.Tag

	Bool  bool
	Int   int64
	Float decimal.Decimal
	Char  rune

	Str   []byte   // String
	Elems []*Value // Array
	Name  string   // Function: identifier
	Ns    string   // Function: namespace

	StructTypeName      string
	StructTypeNameSpace string
	FieldOrder          []string
	Fields              map[string]*Value

	UseRef bool // spec.md §3: shared-cell flag

	// slot/generation back-reference into the owning Variable, per the
	// arena+index scheme in spec.md §9 ("variables own a slot index;
	// values carry an optional slot index and a generation counter").
	ownerSlot int
	ownerGen  uint64
	hasOwner  bool

	marked bool
}

func NewBool(b bool) *Value  { return &Value{Tag: types.Bool, Bool: b} }
func NewInt(i int64) *Value  { return &Value{Tag: types.Int, Int: i} }
func NewChar(r rune) *Value  { return &Value{Tag: types.Char, Char: r} }
func NewVoid() *Value        { return &Value{Tag: types.Void} }
func NewUndefined() *Value   { return &Value{Tag: types.Undefined} }

func NewFloat(d decimal.Decimal) *Value { return &Value{Tag: types.Float, Float: d} }

func NewString(s string) *Value {
	return &Value{Tag: types.String, Str: []byte(s), UseRef: false}
}

func (v *Value) StringValue() string { return string(v.Str) }

func NewArray(elems []*Value, elemTag types.Tag) *Value {
	return &Value{Tag: types.Array, Elems: elems, UseRef: false}
}

func NewStruct(typeName, typeNameSpace string) *Value {
	return &Value{
		Tag:                 types.Struct,
		StructTypeName:      typeName,
		StructTypeNameSpace: typeNameSpace,
		Fields:              map[string]*Value{},
		UseRef:              true,
	}
}

func (v *Value) SetField(name string, val *Value) {
	if _, exists := v.Fields[name]; !exists {
		v.FieldOrder = append(v.FieldOrder, name)
	}
	v.Fields[name] = val
}

func NewFunction(namespace, identifier string) *Value {
	return &Value{Tag: types.Func, Ns: namespace, Name: identifier}
}

// GetReferences reports every Value directly reachable from v, for
// the GC mark phase (spec.md §5: "marking follows get_references()").
func (v *Value) GetReferences() []*Value {
	switch v.Tag {
	case types.Array:
		return v.Elems
	case types.Struct:
		out := make([]*Value, 0, len(v.FieldOrder))
		for _, name := range v.FieldOrder {
			out = append(out, v.Fields[name])
		}
		return out
	default:
		return nil
	}
}

// Equal implements spec.md §4.7's equality rules: pointer identity
// for use_ref values, structural otherwise, with the Void special
// case.
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Tag == types.Void || b.Tag == types.Void {
		return a.Tag == b.Tag
	}
	if a.Tag != b.Tag {
		return false
	}
	if a.UseRef || b.UseRef {
		return a == b
	}
	switch a.Tag {
	case types.Bool:
		return a.Bool == b.Bool
	case types.Int:
		return a.Int == b.Int
	case types.Float:
		return a.Float.Equal(b.Float)
	case types.Char:
		return a.Char == b.Char
	case types.String:
		return string(a.Str) == string(b.Str)
	case types.Array:
		if len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !Equal(a.Elems[i], b.Elems[i]) {
				return false
			}
		}
		return true
	case types.Struct:
		if len(a.FieldOrder) != len(b.FieldOrder) {
			return false
		}
		for _, name := range a.FieldOrder {
			bv, ok := b.Fields[name]
			if !ok || !Equal(a.Fields[name], bv) {
				return false
			}
		}
		return true
	case types.Func:
		return a.Ns == b.Ns && a.Name == b.Name
	default:
		return true
	}
}

// Copy produces a fresh, independent Value for the copy-on-bind rule
// (spec.md §8: "For every value v not marked use_ref ... leaves v
// unchanged"). Struct values are always use_ref, so Copy is only ever
// invoked on value-typed payloads, Function values included; it handles Array
// recursively since array literals are value-typed by default.
func Copy(v *Value) *Value {
	if v == nil {
		return nil
	}
	cp := *v
	cp.hasOwner = false
	cp.marked = false
	if v.Str != nil {
		cp.Str = append([]byte(nil), v.Str...)
	}
	if v.Elems != nil {
		cp.Elems = make([]*Value, len(v.Elems))
		for i, e := range v.Elems {
			if e.UseRef {
				cp.Elems[i] = e
			} else {
				cp.Elems[i] = Copy(e)
			}
		}
	}
	return &cp
}

func (v *Value) String() string {
	switch v.Tag {
	case types.Undefined:
		return "<undefined>"
	case types.Void:
		return "null"
	case types.Bool:
		return fmt.Sprintf("%t", v.Bool)
	case types.Int:
		return fmt.Sprintf("%d", v.Int)
	case types.Float:
		return v.Float.String()
	case types.Char:
		return string(v.Char)
	case types.String:
		return string(v.Str)
	case types.Func:
		return fmt.Sprintf("<function %s::%s>", v.Ns, v.Name)
	default:
		return fmt.Sprintf("<%s>", v.Tag)
	}
}
