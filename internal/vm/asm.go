package vm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Assemble parses the textual instruction format into a program. One
// instruction per line:
//
//	mnemonic [operands...]     ; comment
//
// Quoted tokens fill the string operand, true/false the bool operand,
// integers the int operand and decimals the float operand. A bare
// identifier is a label reference, legal only on jump instructions; the
// assembler turns it into a relative offset. "name:" on its own line
// defines a label, ".line N" sets the source line for what follows.
func Assemble(r io.Reader) ([]Instruction, error) {
	type fixup struct {
		instr int
		label string
		line  int
	}

	var program []Instruction
	labels := make(map[string]int)
	var fixups []fixup
	curLine := uint32(0)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := stripComment(sc.Text())
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if strings.HasSuffix(text, ":") && !strings.ContainsAny(text, " \t") {
			label := strings.TrimSuffix(text, ":")
			if _, dup := labels[label]; dup {
				return nil, fmt.Errorf("line %d: duplicate label %q", lineNo, label)
			}
			labels[label] = len(program)
			continue
		}

		if rest, ok := strings.CutPrefix(text, ".line"); ok {
			n, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad .line directive: %v", lineNo, err)
			}
			curLine = uint32(n)
			continue
		}

		tokens, err := tokenize(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", lineNo, err)
		}
		op, ok := opcodeByName[tokens[0]]
		if !ok {
			return nil, fmt.Errorf("line %d: unknown instruction %q", lineNo, tokens[0])
		}

		in := Instruction{Op: op, Line: curLine}
		for _, tok := range tokens[1:] {
			switch {
			case strings.HasPrefix(tok, `"`):
				unq, err := strconv.Unquote(tok)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad string %s: %v", lineNo, tok, err)
				}
				in.StrVal = unq
			case tok == "true" || tok == "false":
				in.BoolVal = tok == "true"
			default:
				if i, err := strconv.ParseInt(tok, 0, 64); err == nil {
					in.IntVal = i
					break
				}
				if f, err := strconv.ParseFloat(tok, 64); err == nil {
					in.FloatVal = f
					break
				}
				if !isJump(op) {
					return nil, fmt.Errorf("line %d: unexpected operand %q for %s", lineNo, tok, op)
				}
				fixups = append(fixups, fixup{instr: len(program), label: tok, line: lineNo})
			}
		}
		program = append(program, in)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for _, f := range fixups {
		target, ok := labels[f.label]
		if !ok {
			return nil, fmt.Errorf("line %d: undefined label %q", f.line, f.label)
		}
		// Jumps are relative to the next instruction.
		program[f.instr].IntVal = int64(target - (f.instr + 1))
	}
	return program, nil
}

func isJump(op Opcode) bool {
	switch op {
	case OP_JUMP, OP_JUMP_IF_TRUE, OP_JUMP_IF_FALSE, OP_PUSH_ERROR_FRAME:
		return true
	}
	return false
}

// stripComment removes a trailing ; comment, respecting string literals.
func stripComment(s string) string {
	inStr := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inStr {
				i++
			}
		case '"':
			inStr = !inStr
		case ';':
			if !inStr {
				return s[:i]
			}
		}
	}
	return s
}

// tokenize splits on whitespace, keeping quoted strings whole.
func tokenize(s string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			break
		}
		if s[i] == '"' {
			j := i + 1
			for j < len(s) {
				if s[j] == '\\' {
					j += 2
					continue
				}
				if s[j] == '"' {
					break
				}
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated string")
			}
			tokens = append(tokens, s[i:j+1])
			i = j + 1
			continue
		}
		j := i
		for j < len(s) && s[j] != ' ' && s[j] != '\t' {
			j++
		}
		tokens = append(tokens, s[i:j])
		i = j
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty instruction")
	}
	return tokens, nil
}
