package vm

import (
	"strings"
	"testing"
)

func TestFunctionCall(t *testing.T) {
	got := run(t, `BEGIN_FUNCTION "add"
DEFINE_PARAM "a"
DEFINE_PARAM "b"
LOAD_VAR "a"
LOAD_VAR "b"
ADD
RETURN
END_FUNCTION
PUSH_INT 3
PUSH_INT 4
CALL "add" 2`)
	if got.AsInt() != 7 {
		t.Errorf("got %d, want 7", got.AsInt())
	}
}

func TestFunctionReturnsNilWithoutExplicitReturn(t *testing.T) {
	got := run(t, `BEGIN_FUNCTION "noop"
END_FUNCTION
CALL "noop" 0`)
	if !got.IsNil() {
		t.Errorf("got %s, want nil", got.Inspect())
	}
}

func TestOptionalParamDefault(t *testing.T) {
	src := `BEGIN_FUNCTION "greet"
DEFINE_PARAM "name"
DEFINE_OPTIONAL_PARAM "punct"
PUSH_STRING "!"
SET_DEFAULT_VALUE
LOAD_VAR "name"
LOAD_VAR "punct"
CONCAT
RETURN
END_FUNCTION
`
	got := run(t, src+`PUSH_STRING "hi"
CALL "greet" 1`)
	if got.Inspect() != "hi!" {
		t.Errorf("default: got %q, want %q", got.Inspect(), "hi!")
	}

	got = run(t, src+`PUSH_STRING "hi"
PUSH_STRING "?"
CALL "greet" 2`)
	if got.Inspect() != "hi?" {
		t.Errorf("override: got %q, want %q", got.Inspect(), "hi?")
	}
}

func TestFunctionBodyStartsWithLiteral(t *testing.T) {
	got := run(t, `BEGIN_FUNCTION "one"
PUSH_INT 42
RETURN
END_FUNCTION
CALL "one" 0`)
	if got.AsInt() != 42 {
		t.Errorf("got %d, want 42", got.AsInt())
	}
}

func TestOptionalParamDefaultKeepsLiteralBody(t *testing.T) {
	// The default literal belongs to the header; the push right after it
	// is the first body instruction and must survive.
	got := run(t, `BEGIN_FUNCTION "tag"
DEFINE_OPTIONAL_PARAM "sep"
PUSH_STRING ":"
SET_DEFAULT_VALUE
PUSH_STRING "id"
LOAD_VAR "sep"
CONCAT
RETURN
END_FUNCTION
CALL "tag" 0`)
	if got.Inspect() != "id:" {
		t.Errorf("got %q, want %q", got.Inspect(), "id:")
	}
}

func TestArityMismatchIsFatal(t *testing.T) {
	err := runErr(t, `BEGIN_FUNCTION "one"
DEFINE_PARAM "a"
LOAD_VAR "a"
RETURN
END_FUNCTION
CALL "one" 0`)
	if !strings.Contains(err.Error(), "arguments") {
		t.Errorf("got %v", err)
	}
}

func TestRecursion(t *testing.T) {
	got := run(t, `BEGIN_FUNCTION "fact"
DEFINE_PARAM "n"
LOAD_VAR "n"
PUSH_INT 1
LESS_EQUAL
JUMP_IF_FALSE recurse
PUSH_INT 1
RETURN
recurse:
LOAD_VAR "n"
LOAD_VAR "n"
PUSH_INT 1
SUBTRACT
CALL "fact" 1
MULTIPLY
RETURN
END_FUNCTION
PUSH_INT 6
CALL "fact" 1`)
	if got.AsInt() != 720 {
		t.Errorf("got %d, want 720", got.AsInt())
	}
}

func TestCallDepthLimit(t *testing.T) {
	src := `BEGIN_FUNCTION "spin"
CALL "spin" 0
RETURN
END_FUNCTION
CALL "spin" 0`
	err := runErr(t, src)
	if !strings.Contains(err.Error(), "call depth") {
		t.Errorf("got %v", err)
	}
}

func TestClosureCapturesByValue(t *testing.T) {
	got := run(t, `PUSH_INT 10
STORE_VAR "x" true
BEGIN_FUNCTION "getX"
LOAD_VAR "x"
RETURN
END_FUNCTION
LOAD_VAR "getX"
PUSH_STRING "x"
CREATE_CLOSURE 1
STORE_VAR "f" true
PUSH_INT 99
STORE_VAR "x" false
CALL "f" 0`)
	// Mutating x after capture must not be visible through the closure.
	if got.AsInt() != 10 {
		t.Errorf("got %d, want 10", got.AsInt())
	}
}

func TestTwoClosuresCaptureIndependently(t *testing.T) {
	got := run(t, `BEGIN_FUNCTION "get"
LOAD_VAR "n"
RETURN
END_FUNCTION
PUSH_INT 1
STORE_VAR "n" true
LOAD_VAR "get"
PUSH_STRING "n"
CREATE_CLOSURE 1
STORE_VAR "f1" true
PUSH_INT 2
STORE_VAR "n" false
LOAD_VAR "get"
PUSH_STRING "n"
CREATE_CLOSURE 1
STORE_VAR "f2" true
CALL "f1" 0
CALL "f2" 0
ADD`)
	if got.AsInt() != 3 {
		t.Errorf("got %d, want 3", got.AsInt())
	}
}

func TestClosureStillSeesGlobals(t *testing.T) {
	got := run(t, `BEGIN_FUNCTION "double"
DEFINE_PARAM "v"
LOAD_VAR "v"
PUSH_INT 2
MULTIPLY
RETURN
END_FUNCTION
PUSH_INT 5
STORE_VAR "x" true
BEGIN_FUNCTION "f"
LOAD_VAR "x"
CALL "double" 1
RETURN
END_FUNCTION
LOAD_VAR "f"
PUSH_STRING "x"
CREATE_CLOSURE 1
STORE_VAR "g" true
CALL "g" 0`)
	if got.AsInt() != 10 {
		t.Errorf("got %d, want 10", got.AsInt())
	}
}

func TestClassFieldsAndMethods(t *testing.T) {
	got := run(t, `BEGIN_CLASS "Point"
PUSH_INT 0
DEFINE_FIELD "x"
PUSH_INT 0
DEFINE_FIELD "y"
BEGIN_FUNCTION "sum"
LOAD_THIS
GET_PROPERTY "x"
LOAD_THIS
GET_PROPERTY "y"
ADD
RETURN
END_FUNCTION
END_CLASS
CALL "Point" 0
STORE_VAR "p" true
LOAD_VAR "p"
PUSH_INT 3
SET_PROPERTY "x"
LOAD_VAR "p"
PUSH_INT 4
SET_PROPERTY "y"
LOAD_VAR "p"
GET_PROPERTY "sum"
CALL "" 0`)
	if got.AsInt() != 7 {
		t.Errorf("got %d, want 7", got.AsInt())
	}
}

func TestConstructorResultIsInstance(t *testing.T) {
	got := run(t, `BEGIN_CLASS "Counter"
PUSH_INT 0
DEFINE_FIELD "n"
BEGIN_FUNCTION "init"
DEFINE_PARAM "start"
LOAD_THIS
LOAD_VAR "start"
SET_PROPERTY "n"
RETURN
END_FUNCTION
END_CLASS
PUSH_INT 9
CALL "Counter" 1
GET_PROPERTY "n"`)
	// init's own return value is discarded; the call yields the instance.
	if got.AsInt() != 9 {
		t.Errorf("got %d, want 9", got.AsInt())
	}
}

func TestInheritanceAndSuper(t *testing.T) {
	got := run(t, `BEGIN_CLASS "Animal"
BEGIN_FUNCTION "speak"
PUSH_STRING "..."
RETURN
END_FUNCTION
END_CLASS
BEGIN_CLASS "Dog"
SET_SUPERCLASS "Animal"
BEGIN_FUNCTION "speak"
LOAD_SUPER "speak"
CALL "" 0
PUSH_STRING "woof"
CONCAT
RETURN
END_FUNCTION
END_CLASS
CALL "Dog" 0
GET_PROPERTY "speak"
CALL "" 0`)
	if got.Inspect() != "...woof" {
		t.Errorf("got %q", got.Inspect())
	}
}

func TestInheritedMethodLookup(t *testing.T) {
	got := run(t, `BEGIN_CLASS "Base"
PUSH_INT 1
DEFINE_FIELD "tag"
BEGIN_FUNCTION "id"
LOAD_THIS
GET_PROPERTY "tag"
RETURN
END_FUNCTION
END_CLASS
BEGIN_CLASS "Derived"
SET_SUPERCLASS "Base"
END_CLASS
CALL "Derived" 0
GET_PROPERTY "id"
CALL "" 0`)
	if got.AsInt() != 1 {
		t.Errorf("got %d, want 1", got.AsInt())
	}
}

func TestUnknownPropertyIsFatal(t *testing.T) {
	err := runErr(t, `BEGIN_CLASS "Empty"
END_CLASS
CALL "Empty" 0
GET_PROPERTY "missing"`)
	if !strings.Contains(err.Error(), "no property") {
		t.Errorf("got %v", err)
	}
}
