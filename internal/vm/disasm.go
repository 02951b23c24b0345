package vm

import (
	"fmt"
	"io"
	"strconv"
)

// Disassemble writes a listing of the program: address, source line,
// mnemonic and decoded operands. Jump offsets are annotated with their
// absolute target so the listing reads without arithmetic.
func Disassemble(w io.Writer, program []Instruction) error {
	lastLine := uint32(0)
	for addr, in := range program {
		if in.Line != lastLine {
			if _, err := fmt.Fprintf(w, ".line %d\n", in.Line); err != nil {
				return err
			}
			lastLine = in.Line
		}
		if _, err := fmt.Fprintf(w, "%04d  %-22s%s\n", addr, in.Op, operandString(addr, in)); err != nil {
			return err
		}
	}
	return nil
}

func operandString(addr int, in Instruction) string {
	switch in.Op {
	case OP_PUSH_INT:
		return strconv.FormatInt(in.IntVal, 10)
	case OP_PUSH_FLOAT:
		return strconv.FormatFloat(in.FloatVal, 'g', -1, 64)
	case OP_PUSH_BOOL:
		return strconv.FormatBool(in.BoolVal)
	case OP_JUMP, OP_JUMP_IF_TRUE, OP_JUMP_IF_FALSE, OP_PUSH_ERROR_FRAME:
		return fmt.Sprintf("%+d  -> %04d", in.IntVal, addr+1+int(in.IntVal))
	case OP_CALL:
		if in.StrVal != "" {
			return fmt.Sprintf("%s %d", strconv.Quote(in.StrVal), in.IntVal)
		}
		return strconv.FormatInt(in.IntVal, 10)
	case OP_STORE_VAR:
		return fmt.Sprintf("%s %t", strconv.Quote(in.StrVal), in.BoolVal)
	case OP_BEGIN_FUNCTION:
		if in.BoolVal {
			return strconv.Quote(in.StrVal) + " true"
		}
		return strconv.Quote(in.StrVal)
	case OP_CONSTRUCT_ERROR:
		return fmt.Sprintf("%s %d", strconv.Quote(in.StrVal), in.IntVal)
	case OP_CREATE_RANGE:
		return strconv.FormatBool(in.BoolVal)
	}

	out := ""
	if in.StrVal != "" {
		out = strconv.Quote(in.StrVal)
	}
	if in.IntVal != 0 {
		if out != "" {
			out += " "
		}
		out += strconv.FormatInt(in.IntVal, 10)
	}
	return out
}
