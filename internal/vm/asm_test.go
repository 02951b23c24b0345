package vm

import (
	"bytes"
	"strings"
	"testing"
)

func TestAssembleBasics(t *testing.T) {
	program := mustAssemble(t, `; a comment line
PUSH_INT 42
PUSH_FLOAT 2.5
PUSH_STRING "hi ; not a comment"
PUSH_BOOL true   ; trailing comment
STORE_VAR "x" true`)
	if len(program) != 5 {
		t.Fatalf("got %d instructions, want 5", len(program))
	}
	if program[0].Op != OP_PUSH_INT || program[0].IntVal != 42 {
		t.Errorf("instr 0: %+v", program[0])
	}
	if program[1].FloatVal != 2.5 {
		t.Errorf("instr 1: %+v", program[1])
	}
	if program[2].StrVal != "hi ; not a comment" {
		t.Errorf("instr 2: %q", program[2].StrVal)
	}
	if !program[3].BoolVal {
		t.Errorf("instr 3: %+v", program[3])
	}
	if program[4].StrVal != "x" || !program[4].BoolVal {
		t.Errorf("instr 4: %+v", program[4])
	}
}

func TestAssembleLabelOffsets(t *testing.T) {
	program := mustAssemble(t, `start:
PUSH_INT 1
JUMP_IF_FALSE end
JUMP start
end:
HALT`)
	// Offsets are relative to the instruction after the jump.
	if program[1].IntVal != 1 { // addr 1 -> target 3
		t.Errorf("forward offset got %d, want 1", program[1].IntVal)
	}
	if program[2].IntVal != -3 { // addr 2 -> target 0
		t.Errorf("backward offset got %d, want -3", program[2].IntVal)
	}
}

func TestAssembleLineDirective(t *testing.T) {
	program := mustAssemble(t, `.line 7
PUSH_INT 1
.line 9
PUSH_INT 2`)
	if program[0].Line != 7 || program[1].Line != 9 {
		t.Errorf("lines got %d, %d", program[0].Line, program[1].Line)
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown instruction", "FROBNICATE", "unknown instruction"},
		{"undefined label", "JUMP nowhere", "undefined label"},
		{"duplicate label", "a:\nPUSH_INT 1\na:", "duplicate label"},
		{"label on non-jump", "PUSH_INT somewhere", "unexpected operand"},
		{"unterminated string", `PUSH_STRING "oops`, "unterminated string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(strings.NewReader(tt.src))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want %q", err, tt.want)
			}
		})
	}
}

func TestAssembleErrorFrameLabel(t *testing.T) {
	program := mustAssemble(t, `PUSH_ERROR_FRAME handler "IOError"
PUSH_INT 1
handler:
HALT`)
	if program[0].IntVal != 1 || program[0].StrVal != "IOError" {
		t.Errorf("got %+v", program[0])
	}
}

func TestDisassembleListing(t *testing.T) {
	program := mustAssemble(t, `.line 3
PUSH_INT 1
JUMP_IF_FALSE end
PUSH_STRING "hello"
end:
HALT`)
	var out bytes.Buffer
	if err := Disassemble(&out, program); err != nil {
		t.Fatalf("disassemble: %v", err)
	}
	listing := out.String()
	for _, want := range []string{
		".line 3",
		"PUSH_INT",
		"-> 0003", // jump annotated with its absolute target
		`"hello"`,
		"HALT",
	} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestAssembledProgramRuns(t *testing.T) {
	// The textual format and the execution loop agree end to end.
	got := run(t, `.line 1
PUSH_INT 40
PUSH_INT 2
ADD`)
	if got.AsInt() != 42 {
		t.Errorf("got %s, want 42", got.Inspect())
	}
}
