package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Dump renders b as one line per instruction — a debug artifact only
// (spec.md §6: "purely textual, not reloaded"), grounded on
// clarete-langlang/go's vm.go disassembly helper but simplified since
// this format is never parsed back in.
func Dump(b *Bytecode) string {
	var sb strings.Builder
	for i, instr := range b.Code {
		fmt.Fprintf(&sb, "%4d  %s", i, instr.Op)
		if operand := operandText(instr); operand != "" {
			sb.WriteString(" ")
			sb.WriteString(operand)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func operandText(instr Instruction) string {
	var parts []string
	if instr.Name != "" {
		parts = append(parts, instr.Name)
	}
	if instr.Name2 != "" {
		parts = append(parts, instr.Name2)
	}
	switch instr.Op {
	case PushBool, SetIsRest, TryStart, Call:
		parts = append(parts, strconv.FormatBool(instr.Bool))
	case PushInt, InitArray, SetElement, CallParamCount, Jump, JumpIfTrue, JumpIfFalse,
		JumpIfTrueOrNext, JumpIfFalseOrNext, SetArraySize, Break, Continue:
		parts = append(parts, strconv.Itoa(instr.Int))
	case PushChar:
		parts = append(parts, strconv.QuoteRune(instr.Char))
	case PushString:
		parts = append(parts, strconv.Quote(instr.Str))
	case PushFloat:
		parts = append(parts, instr.Float.String())
	case BinaryOp, UnaryOp:
		parts = append(parts, instr.Operator.String())
	case IncDec:
		parts = append(parts, instr.Operator.String(), strconv.FormatBool(instr.Bool))
	}
	return strings.Join(parts, " ")
}
