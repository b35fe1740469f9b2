// Package bytecode implements spec.md §4.6's instruction set: an
// ordered sequence of Instruction{opcode, operand} values consumed by
// pkg/vm, produced by pkg/compiler. Grounded on the *shape* of
// clarete-langlang/go's vm.go/vm_program.go (a flat instruction slice
// plus a textual disassembler), since `guix` itself has no bytecode
// back-end to imitate; the opcode set itself is spec.md §4.6's, not
// langlang's PEG opcodes.
//
// Arithmetic/logical/bitwise/comparison/typing operators are not given
// one Opcode constant apiece: BinaryOp/UnaryOp/IncDec instructions
// carry the operator as a token.Kind operand and the VM dispatches
// through the same pkg/ops table the evaluator calls, so "one-to-one
// correspondence with §4.7" holds by construction (one shared switch,
// not two independently-maintained ones) rather than by a duplicated
// thirty-constant enum.
package bytecode

import (
	"github.com/shopspring/decimal"

	"github.com/gaarutyunov/flx/pkg/token"
)

// Opcode identifies one instruction kind.
type Opcode int

const (
	// constant pushes
	PushBool Opcode = iota
	PushInt
	PushFloat
	PushChar
	PushString
	PushVoid
	PushUndefined
	PushFunction

	// array / struct construction
	InitArray
	SetElement
	PushArray
	InitStruct
	SetField
	PushStruct

	// variable operations
	LoadVar
	StoreVar
	AssignVar
	LoadSubID
	LoadSubIx
	AssignSubID
	AssignSubIx

	// type construction
	SetType
	SetArrayType
	SetArraySize
	SetTypeName
	SetTypeNameSpace
	SetDefaultValue
	SetIsRest

	// structure definitions
	StructStart
	StructSetVar
	StructEnd

	// function definitions and calls
	FunStart
	FunSetParam
	FunEnd
	CallParamCount
	Call
	Return

	// control flow
	Jump
	JumpIfTrue
	JumpIfFalse
	JumpIfTrueOrNext
	JumpIfFalseOrNext
	Break
	Continue
	TryStart
	TryEnd
	Throw
	GetIterator
	NextElement

	// operators, dispatched through pkg/ops using the Operator operand
	BinaryOp
	UnaryOp
	IncDec

	// typing
	IsType
	RefID
	TypeID
	TypeOf
	TypeParse

	// namespace management
	NSPush
	NSPop
	NSInclude
	NSExclude

	// misc
	Halt
	Trap
	PopConstant
	Dup // duplicates the top-of-stack value (VarDecl unpacking needs the
	// same array read more than once without re-evaluating its expr)
	SetExprValue // pops top-of-stack into the VM's last-expression-value
	// register (pkg/eval.Evaluator.exprValue's bytecode twin), emitted
	// only by an ExprStmt — PopConstant alone is ambiguous since
	// foreach/try/var-unpack cleanup also discard a value but must not
	// overwrite the register HALT's no-explicit-exit fallback reads.
)

var opcodeNames = map[Opcode]string{
	PushBool: "PUSH_BOOL", PushInt: "PUSH_INT", PushFloat: "PUSH_FLOAT", PushChar: "PUSH_CHAR",
	PushString: "PUSH_STRING", PushVoid: "PUSH_VOID", PushUndefined: "PUSH_UNDEFINED", PushFunction: "PUSH_FUNCTION",
	InitArray: "INIT_ARRAY", SetElement: "SET_ELEMENT", PushArray: "PUSH_ARRAY",
	InitStruct: "INIT_STRUCT", SetField: "SET_FIELD", PushStruct: "PUSH_STRUCT",
	LoadVar: "LOAD_VAR", StoreVar: "STORE_VAR", AssignVar: "ASSIGN_VAR",
	LoadSubID: "LOAD_SUB_ID", LoadSubIx: "LOAD_SUB_IX", AssignSubID: "ASSIGN_SUB_ID", AssignSubIx: "ASSIGN_SUB_IX",
	SetType: "SET_TYPE", SetArrayType: "SET_ARRAY_TYPE", SetArraySize: "SET_ARRAY_SIZE",
	SetTypeName: "SET_TYPE_NAME", SetTypeNameSpace: "SET_TYPE_NAME_SPACE",
	SetDefaultValue: "SET_DEFAULT_VALUE", SetIsRest: "SET_IS_REST",
	StructStart: "STRUCT_START", StructSetVar: "STRUCT_SET_VAR", StructEnd: "STRUCT_END",
	FunStart: "FUN_START", FunSetParam: "FUN_SET_PARAM", FunEnd: "FUN_END",
	CallParamCount: "CALL_PARAM_COUNT", Call: "CALL", Return: "RETURN",
	Jump: "JUMP", JumpIfTrue: "JUMP_IF_TRUE", JumpIfFalse: "JUMP_IF_FALSE",
	JumpIfTrueOrNext: "JUMP_IF_TRUE_OR_NEXT", JumpIfFalseOrNext: "JUMP_IF_FALSE_OR_NEXT",
	Break: "BREAK", Continue: "CONTINUE", TryStart: "TRY_START", TryEnd: "TRY_END", Throw: "THROW",
	GetIterator: "GET_ITERATOR", NextElement: "NEXT_ELEMENT",
	BinaryOp: "BINARY_OP", UnaryOp: "UNARY_OP", IncDec: "INC_DEC",
	IsType: "IS_TYPE", RefID: "REFID", TypeID: "TYPEID", TypeOf: "TYPEOF", TypeParse: "TYPE_PARSE",
	NSPush: "NS_PUSH", NSPop: "NS_POP", NSInclude: "NS_INCLUDE", NSExclude: "NS_EXCLUDE",
	Halt: "HALT", Trap: "TRAP", PopConstant: "POP_CONSTANT", Dup: "DUP",
	SetExprValue: "SET_EXPR_VALUE",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return "UNKNOWN_OPCODE"
}

// Instruction is one bytecode operation. Not every field is used by
// every opcode; see pkg/compiler for which fields each opcode reads.
type Instruction struct {
	Op Opcode
	Pos token.Position

	Name  string // *_VAR/FUN_*/STRUCT_*/namespace names, field/type names
	Name2 string // a second name slot: e.g. SET_TYPE_NAME_SPACE's namespace alongside SET_TYPE_NAME's name

	Int   int             // sizes, indices, counts, jump targets
	Bool  bool            // bool constant, SET_IS_REST flag, INC_DEC's postfix flag
	Char  rune            // char constant
	Str   string          // string constant
	Float decimal.Decimal // float constant

	Operator token.Kind // BINARY_OP/UNARY_OP/INC_DEC's underlying operator
}

// Bytecode is the linear instruction stream produced by pkg/compiler
// and walked by pkg/vm. It carries no function entry points: pkg/vm
// records each body's entry itself when it executes FUN_END.
type Bytecode struct {
	Code []Instruction
}

func New() *Bytecode { return &Bytecode{} }

// Emit appends instr and returns its index, for callers that need to
// patch a jump target back in once the target address is known.
func (b *Bytecode) Emit(instr Instruction) int {
	b.Code = append(b.Code, instr)
	return len(b.Code) - 1
}

// Patch rewrites the Int operand (a jump target or similar forward
// reference) of the instruction at pos.
func (b *Bytecode) Patch(pos int, target int) {
	b.Code[pos].Int = target
}

func (b *Bytecode) Len() int { return len(b.Code) }
