package vm

import "testing"

func TestEnvDefineGet(t *testing.T) {
	env := NewEnvironment()
	env.Define("x", IntVal(1))
	v, ok := env.Get("x")
	if !ok || v.AsInt() != 1 {
		t.Fatalf("got %v %v", v, ok)
	}
	if _, ok := env.Get("y"); ok {
		t.Errorf("y should be undefined")
	}
}

func TestEnvGetWalksOutward(t *testing.T) {
	outer := NewEnvironment()
	outer.Define("x", IntVal(1))
	inner := NewEnclosedEnvironment(outer)
	v, ok := inner.Get("x")
	if !ok || v.AsInt() != 1 {
		t.Errorf("inner scope should see outer binding")
	}
}

func TestEnvShadowing(t *testing.T) {
	outer := NewEnvironment()
	outer.Define("x", IntVal(1))
	inner := NewEnclosedEnvironment(outer)
	inner.Define("x", IntVal(2))

	if v, _ := inner.Get("x"); v.AsInt() != 2 {
		t.Errorf("inner should see the shadow")
	}
	if v, _ := outer.Get("x"); v.AsInt() != 1 {
		t.Errorf("outer binding must be untouched")
	}
}

func TestEnvAssignMutatesOwningScope(t *testing.T) {
	outer := NewEnvironment()
	outer.Define("x", IntVal(1))
	inner := NewEnclosedEnvironment(outer)

	if !inner.Assign("x", IntVal(9)) {
		t.Fatalf("assign should find the outer binding")
	}
	if v, _ := outer.Get("x"); v.AsInt() != 9 {
		t.Errorf("outer binding should have changed")
	}
	if inner.HasLocal("x") {
		t.Errorf("assign must not create a local shadow")
	}
	if inner.Assign("ghost", IntVal(1)) {
		t.Errorf("assign to an unknown name should fail")
	}
}

func TestEnvRemove(t *testing.T) {
	env := NewEnvironment()
	env.Define("x", IntVal(1))
	if !env.Remove("x") {
		t.Fatalf("remove should succeed")
	}
	if _, ok := env.Get("x"); ok {
		t.Errorf("x should be gone")
	}
	if env.Remove("x") {
		t.Errorf("second remove should fail")
	}
}

func TestCaptureFromCopiesValues(t *testing.T) {
	globals := NewEnvironment()
	globals.Define("g", IntVal(100))
	scope := NewEnclosedEnvironment(globals)
	scope.Define("x", IntVal(1))

	captured := CaptureFrom(scope, []string{"x"}, globals)

	scope.Assign("x", IntVal(2))
	if v, _ := captured.Get("x"); v.AsInt() != 1 {
		t.Errorf("capture should be by value, got %d", v.AsInt())
	}
	if v, ok := captured.Get("g"); !ok || v.AsInt() != 100 {
		t.Errorf("captured scope should still reach its parent")
	}
}
