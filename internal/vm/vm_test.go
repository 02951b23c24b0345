package vm

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func mustAssemble(t *testing.T, src string) []Instruction {
	t.Helper()
	program, err := Assemble(strings.NewReader(src))
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return program
}

func run(t *testing.T, src string) Value {
	t.Helper()
	m := New(mustAssemble(t, src))
	m.SetOutput(&bytes.Buffer{})
	v, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return v
}

func runErr(t *testing.T, src string) error {
	t.Helper()
	m := New(mustAssemble(t, src))
	m.SetOutput(&bytes.Buffer{})
	_, err := m.Run(context.Background())
	if err == nil {
		t.Fatalf("expected a runtime error")
	}
	return err
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int64
	}{
		{"add", `PUSH_INT 2
PUSH_INT 3
ADD`, 5},
		{"subtract", `PUSH_INT 10
PUSH_INT 4
SUBTRACT`, 6},
		{"multiply", `PUSH_INT 6
PUSH_INT 7
MULTIPLY`, 42},
		{"divide", `PUSH_INT 20
PUSH_INT 5
DIVIDE`, 4},
		{"modulo", `PUSH_INT 17
PUSH_INT 5
MODULO`, 2},
		{"power", `PUSH_INT 2
PUSH_INT 10
POWER`, 1024},
		{"negate", `PUSH_INT 9
NEGATE`, -9},
		{"precedence chain", `PUSH_INT 2
PUSH_INT 3
MULTIPLY
PUSH_INT 4
ADD`, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, tt.src)
			if !got.IsInt() || got.AsInt() != tt.want {
				t.Errorf("got %s, want %d", got.Inspect(), tt.want)
			}
		})
	}
}

func TestFloatPromotion(t *testing.T) {
	got := run(t, `PUSH_INT 1
PUSH_FLOAT 0.5
ADD`)
	if !got.IsFloat() {
		t.Fatalf("int+float should give float, got %s", got.TypeName())
	}
	if got.AsFloat() != 1.5 {
		t.Errorf("got %v, want 1.5", got.AsFloat())
	}
}

func TestDivisionByZeroIsFatalWhenUnhandled(t *testing.T) {
	err := runErr(t, `PUSH_INT 1
PUSH_INT 0
DIVIDE`)
	if !strings.Contains(err.Error(), "DivisionByZero") {
		t.Errorf("error should name DivisionByZero, got %v", err)
	}
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"less", `PUSH_INT 1
PUSH_INT 2
LESS`, true},
		{"greater equal", `PUSH_INT 2
PUSH_INT 2
GREATER_EQUAL`, true},
		{"equal ints", `PUSH_INT 3
PUSH_INT 3
EQUAL`, true},
		{"equal int float", `PUSH_INT 3
PUSH_FLOAT 3.0
EQUAL`, true},
		{"not equal strings", `PUSH_STRING "a"
PUSH_STRING "b"
NOT_EQUAL`, true},
		{"string ordering", `PUSH_STRING "apple"
PUSH_STRING "banana"
LESS`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, tt.src)
			if !got.IsBool() || got.AsBool() != tt.want {
				t.Errorf("got %s, want %v", got.Inspect(), tt.want)
			}
		})
	}
}

func TestVariablesAndScopes(t *testing.T) {
	got := run(t, `PUSH_INT 1
STORE_VAR "x" true
BEGIN_SCOPE
PUSH_INT 2
STORE_VAR "x" true      ; shadows outer x
LOAD_VAR "x"
STORE_TEMP "inner"
END_SCOPE
LOAD_VAR "x"
LOAD_TEMP "inner"
ADD`)
	// inner shadow saw 2, outer x still 1
	if got.AsInt() != 3 {
		t.Errorf("got %d, want 3", got.AsInt())
	}
}

func TestAssignWalksToOwningScope(t *testing.T) {
	got := run(t, `PUSH_INT 1
STORE_VAR "x" true
BEGIN_SCOPE
PUSH_INT 42
STORE_VAR "x" false     ; no declaration: mutates the outer binding
END_SCOPE
LOAD_VAR "x"`)
	if got.AsInt() != 42 {
		t.Errorf("got %d, want 42", got.AsInt())
	}
}

func TestAssignToUndeclaredNameIsFatal(t *testing.T) {
	err := runErr(t, `PUSH_INT 1
STORE_VAR "ghost" false`)
	if !strings.Contains(err.Error(), "undefined variable") {
		t.Errorf("got %v", err)
	}
}

func TestUndefinedVariableIsFatal(t *testing.T) {
	err := runErr(t, `LOAD_VAR "nope"`)
	if !strings.Contains(err.Error(), "undefined variable") {
		t.Errorf("got %v", err)
	}
}

func TestStringConcatAndInterpolation(t *testing.T) {
	got := run(t, `PUSH_STRING "a"
PUSH_INT 1
CONCAT`)
	if got.Inspect() != "a1" {
		t.Errorf("concat got %q", got.Inspect())
	}

	got = run(t, `PUSH_STRING "x="
PUSH_INT 7
PUSH_STRING "!"
INTERPOLATE_STRING 3`)
	if got.Inspect() != "x=7!" {
		t.Errorf("interpolation got %q", got.Inspect())
	}
}

func TestJumps(t *testing.T) {
	got := run(t, `PUSH_BOOL true
JUMP_IF_FALSE alt
PUSH_INT 1
JUMP end
alt:
PUSH_INT 2
end:`)
	if got.AsInt() != 1 {
		t.Errorf("got %d, want 1", got.AsInt())
	}
}

func TestLoopStackBalance(t *testing.T) {
	// Sums 0..4 with a loop; the operand stack must end with exactly
	// the result.
	src := `PUSH_INT 0
STORE_VAR "sum" true
PUSH_INT 0
STORE_VAR "i" true
loop:
LOAD_VAR "i"
PUSH_INT 5
LESS
JUMP_IF_FALSE done
LOAD_VAR "sum"
LOAD_VAR "i"
ADD
STORE_VAR "sum" false
LOAD_VAR "i"
PUSH_INT 1
ADD
STORE_VAR "i" false
JUMP loop
done:
LOAD_VAR "sum"`
	m := New(mustAssemble(t, src))
	got, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.AsInt() != 10 {
		t.Errorf("got %d, want 10", got.AsInt())
	}
	if len(m.stack) != 1 {
		t.Errorf("stack depth after loop: got %d, want 1", len(m.stack))
	}
}

func TestCollections(t *testing.T) {
	got := run(t, `PUSH_INT 1
PUSH_INT 2
PUSH_INT 3
CREATE_LIST 3
PUSH_INT 1
GET_INDEX`)
	if got.AsInt() != 2 {
		t.Errorf("list index got %d, want 2", got.AsInt())
	}

	got = run(t, `PUSH_STRING "k"
PUSH_INT 9
CREATE_DICT 1
PUSH_STRING "k"
GET_INDEX`)
	if got.AsInt() != 9 {
		t.Errorf("dict index got %d, want 9", got.AsInt())
	}

	got = run(t, `PUSH_INT 1
PUSH_STRING "two"
CREATE_TUPLE 2
PUSH_INT 1
GET_INDEX`)
	if got.Inspect() != "two" {
		t.Errorf("tuple index got %q", got.Inspect())
	}
}

func TestNegativeIndexAndBounds(t *testing.T) {
	got := run(t, `PUSH_INT 10
PUSH_INT 20
CREATE_LIST 2
PUSH_INT -1
GET_INDEX`)
	if got.AsInt() != 20 {
		t.Errorf("negative index got %d, want 20", got.AsInt())
	}

	err := runErr(t, `PUSH_INT 10
CREATE_LIST 1
PUSH_INT 5
GET_INDEX`)
	if !strings.Contains(err.Error(), "IndexOutOfBounds") {
		t.Errorf("got %v", err)
	}
}

func TestSetIndex(t *testing.T) {
	got := run(t, `PUSH_INT 1
PUSH_INT 2
CREATE_LIST 2
STORE_VAR "xs" true
LOAD_VAR "xs"
PUSH_INT 0
PUSH_INT 99
SET_INDEX
LOAD_VAR "xs"
PUSH_INT 0
GET_INDEX`)
	if got.AsInt() != 99 {
		t.Errorf("got %d, want 99", got.AsInt())
	}
}

func TestRangeIteration(t *testing.T) {
	got := run(t, `PUSH_INT 0
STORE_VAR "sum" true
PUSH_INT 1
PUSH_INT 4
CREATE_RANGE true       ; 1..=4
GET_ITERATOR
STORE_VAR "it" true
loop:
LOAD_VAR "it"
ITERATOR_HAS_NEXT
JUMP_IF_FALSE done
LOAD_VAR "sum"
LOAD_VAR "it"
ITERATOR_NEXT
ADD
STORE_VAR "sum" false
JUMP loop
done:
LOAD_VAR "sum"`)
	if got.AsInt() != 10 {
		t.Errorf("got %d, want 10", got.AsInt())
	}
}

func TestRangeWithStep(t *testing.T) {
	got := run(t, `PUSH_INT 0
PUSH_INT 10
CREATE_RANGE false
PUSH_INT 3
SET_RANGE_STEP
GET_ITERATOR
ITERATOR_NEXT`)
	if got.AsInt() != 0 {
		t.Errorf("first element got %d, want 0", got.AsInt())
	}
	r := &Range{Start: 0, End: 10, Step: 3}
	if n := len(r.Elements()); n != 4 {
		t.Errorf("element count got %d, want 4", n) // 0 3 6 9
	}
}

func TestDescendingRange(t *testing.T) {
	r := &Range{Start: 5, End: 1, Step: -1, Inclusive: true}
	elems := r.Elements()
	if len(elems) != 5 || elems[0].AsInt() != 5 || elems[4].AsInt() != 1 {
		t.Errorf("descending range wrong: %d elements", len(elems))
	}
}

func TestLogicalOps(t *testing.T) {
	got := run(t, `PUSH_BOOL true
PUSH_BOOL false
OR
NOT`)
	if got.AsBool() != false {
		t.Errorf("got %v, want false", got.AsBool())
	}
}

func TestHaltStopsExecution(t *testing.T) {
	got := run(t, `PUSH_INT 1
HALT
PUSH_INT 2`)
	if got.AsInt() != 1 {
		t.Errorf("got %d, want 1", got.AsInt())
	}
}

func TestPrintWritesToConfiguredOutput(t *testing.T) {
	m := New(mustAssemble(t, `PUSH_STRING "hello"
PUSH_INT 42
PRINT 2`))
	var out bytes.Buffer
	m.SetOutput(&out)
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "hello 42\n" {
		t.Errorf("got %q", out.String())
	}
}

func TestStackUnderflowIsFatalNotPanic(t *testing.T) {
	err := runErr(t, `POP`)
	if !strings.Contains(err.Error(), "stack underflow") {
		t.Errorf("got %v", err)
	}
}

func TestEnums(t *testing.T) {
	got := run(t, `BEGIN_ENUM "Color"
DEFINE_ENUM_VARIANT "Red"
DEFINE_ENUM_VARIANT "Green"
END_ENUM
LOAD_VAR "Color.Red"
LOAD_VAR "Color.Red"
EQUAL`)
	if !got.AsBool() {
		t.Errorf("enum variant should equal itself")
	}

	got = run(t, `BEGIN_ENUM "Color"
DEFINE_ENUM_VARIANT "Red"
DEFINE_ENUM_VARIANT "Green"
END_ENUM
LOAD_VAR "Color.Red"
LOAD_VAR "Color.Green"
EQUAL`)
	if got.AsBool() {
		t.Errorf("distinct variants should not be equal")
	}
}
