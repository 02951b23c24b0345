package vm

import (
	"strings"
	"testing"
)

func TestWiderType(t *testing.T) {
	ts := NewTypeSystem()
	tests := []struct {
		name string
		a, b *Type
		want *Type
	}{
		{"i8 + i64", Int8Type, IntType, IntType},
		{"u8 + i32", UInt8Type, Int32Type, Int32Type},
		{"i64 + f64", IntType, FloatType, FloatType},
		{"f32 + f64", Float32Type, FloatType, FloatType},
		{"same type", Int16Type, Int16Type, Int16Type},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ts.WiderType(tt.a, tt.b)
			if err != nil {
				t.Fatalf("WiderType: %v", err)
			}
			if got.Tag != tt.want.Tag {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := ts.WiderType(StringType, IntType); err == nil {
		t.Errorf("promoting a string should fail")
	}
}

func TestTruncateToWidth(t *testing.T) {
	tests := []struct {
		name string
		v    int64
		tag  TypeTag
		want int64
	}{
		{"i8 wraps", 130, TAG_INT8, -126},
		{"i8 in range", 100, TAG_INT8, 100},
		{"u8 wraps", 300, TAG_UINT8, 44},
		{"i16 wraps", 40000, TAG_INT16, -25536},
		{"i64 untouched", 1 << 40, TAG_INT64, 1 << 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateToWidth(tt.v, tt.tag); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNarrowArithmeticWraps(t *testing.T) {
	m := New(nil)
	m.push(IntValOf(Int8Type, 120))
	m.push(IntValOf(Int8Type, 10))
	if err := m.binaryOp(OP_ADD); err != nil {
		t.Fatalf("binaryOp: %v", err)
	}
	got := m.pop()
	if got.Type.Tag != TAG_INT8 {
		t.Fatalf("result type got %s, want i8", got.Type)
	}
	if got.AsInt() != -126 {
		t.Errorf("got %d, want -126 (two's-complement wrap)", got.AsInt())
	}
}

func TestMixedWidthArithmeticPromotes(t *testing.T) {
	m := New(nil)
	m.push(IntValOf(Int8Type, 100))
	m.push(IntVal(1000))
	if err := m.binaryOp(OP_ADD); err != nil {
		t.Fatalf("binaryOp: %v", err)
	}
	got := m.pop()
	if got.Type.Tag != TAG_INT64 {
		t.Fatalf("result type got %s, want int", got.Type)
	}
	if got.AsInt() != 1100 {
		t.Errorf("got %d, want 1100", got.AsInt())
	}
}

func TestUnsignedArithmetic(t *testing.T) {
	m := New(nil)
	m.push(UintValOf(UInt64Type, 1<<63))
	m.push(UintValOf(UInt64Type, 1))
	if err := m.binaryOp(OP_ADD); err != nil {
		t.Fatalf("binaryOp: %v", err)
	}
	got := m.pop()
	if got.AsUint() != (1<<63)+1 {
		t.Errorf("got %d", got.AsUint())
	}
}

func TestMixedSignComparison(t *testing.T) {
	// A negative signed value is below any u64, including huge ones.
	if compareNumeric(IntVal(-1), UintValOf(UInt64Type, 1<<63)) >= 0 {
		t.Errorf("-1 should compare below a large u64")
	}
	if compareNumeric(UintValOf(UInt64Type, 5), IntVal(3)) <= 0 {
		t.Errorf("u64 5 should compare above 3")
	}
}

func TestConvertNumericWidens(t *testing.T) {
	ts := NewTypeSystem()
	v, err := ts.Convert(IntValOf(Int8Type, -5), IntType)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if v.Type.Tag != TAG_INT64 || v.AsInt() != -5 {
		t.Errorf("got %s %d", v.Type, v.AsInt())
	}
}

func TestConvertIsIdempotent(t *testing.T) {
	// Converting a value to a type it already has must be a fixed point.
	ts := NewTypeSystem()
	cases := []struct {
		v  Value
		to *Type
	}{
		{IntValOf(Int8Type, -5), IntType},
		{IntVal(7), FloatType},
		{FloatVal(2.5), FloatType},
		{UintValOf(UInt16Type, 40000), UInt32Type},
	}
	for _, tt := range cases {
		t.Run(tt.v.TypeName()+" to "+tt.to.String(), func(t *testing.T) {
			once, err := ts.Convert(tt.v, tt.to)
			if err != nil {
				t.Fatalf("convert: %v", err)
			}
			twice, err := ts.Convert(once, tt.to)
			if err != nil {
				t.Fatalf("reconvert: %v", err)
			}
			if !once.Equals(twice) || once.Type != twice.Type {
				t.Errorf("got %s then %s", once.Inspect(), twice.Inspect())
			}
		})
	}
}

func TestConvertRejectsLossyNarrowing(t *testing.T) {
	ts := NewTypeSystem()
	if _, err := ts.Convert(IntVal(300), UInt8Type); err == nil {
		t.Errorf("int -> u8 narrowing should be rejected")
	}
}

func TestConvertStringToInt(t *testing.T) {
	ts := NewTypeSystem()
	v, err := ts.Convert(StringVal("123"), IntType)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if v.AsInt() != 123 {
		t.Errorf("got %d, want 123", v.AsInt())
	}

	_, err = ts.Convert(StringVal("not a number"), IntType)
	if err == nil || !strings.Contains(err.Error(), "TypeConversion") {
		t.Errorf("malformed input should be a TypeConversion error, got %v", err)
	}
}

func TestConvertIntToString(t *testing.T) {
	ts := NewTypeSystem()
	v, err := ts.Convert(IntVal(42), StringType)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if v.AsString() != "42" {
		t.Errorf("got %q", v.AsString())
	}
}

func TestErrorUnionTypeShape(t *testing.T) {
	ts := NewTypeSystem()
	generic := ts.MakeErrorUnion(IntType, nil)
	if !generic.Generic || generic.Success.Tag != TAG_INT64 {
		t.Errorf("generic union malformed: %+v", generic)
	}
	typed := ts.MakeErrorUnion(StringType, []string{"IOError", "ParseError"})
	if typed.Generic || len(typed.ErrorNames) != 2 {
		t.Errorf("typed union malformed: %+v", typed)
	}
}

func TestLookupRegisteredType(t *testing.T) {
	ts := NewTypeSystem()
	ts.Register("Widget", &Type{Tag: TAG_CLASS, Name: "Widget"})
	if got := ts.Lookup("Widget"); got == nil || got.Name != "Widget" {
		t.Errorf("lookup failed: %v", got)
	}
	if got := ts.Lookup("int"); got == nil || got.Tag != TAG_INT64 {
		t.Errorf("builtin lookup failed: %v", got)
	}
}

func TestIsTruthy(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"nil", NilVal(), false},
		{"false", BoolVal(false), false},
		{"true", BoolVal(true), true},
		{"zero", IntVal(0), false},
		{"nonzero", IntVal(3), true},
		{"empty string", StringVal(""), false},
		{"string", StringVal("x"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.IsTruthy(); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDictHandlesHashCollisionsByEquality(t *testing.T) {
	d := NewDict()
	for i := int64(0); i < 100; i++ {
		d.Set(IntVal(i), IntVal(i*2))
	}
	for i := int64(0); i < 100; i++ {
		v, ok := d.Get(IntVal(i))
		if !ok || v.AsInt() != i*2 {
			t.Fatalf("key %d: got %v %v", i, v, ok)
		}
	}
	if d.Len() != 100 {
		t.Errorf("len got %d", d.Len())
	}
}
