package vm

import (
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
)

// TypeTag discriminates type descriptors.
type TypeTag uint8

const (
	TAG_NIL TypeTag = iota
	TAG_BOOL
	TAG_INT8
	TAG_UINT8
	TAG_INT16
	TAG_UINT16
	TAG_INT32
	TAG_UINT32
	TAG_INT64
	TAG_UINT64
	TAG_FLOAT32
	TAG_FLOAT64
	TAG_STRING
	TAG_LIST
	TAG_DICT
	TAG_TUPLE
	TAG_RANGE
	TAG_ENUM
	TAG_FUNCTION
	TAG_CLOSURE
	TAG_SUM
	TAG_UNION
	TAG_ERROR_UNION
	TAG_USER_DEFINED
	TAG_CLASS
	TAG_OBJECT
	TAG_CHANNEL
	TAG_MODULE
	TAG_ANY
)

var tagNames = map[TypeTag]string{
	TAG_NIL:          "nil",
	TAG_BOOL:         "bool",
	TAG_INT8:         "i8",
	TAG_UINT8:        "u8",
	TAG_INT16:        "i16",
	TAG_UINT16:       "u16",
	TAG_INT32:        "i32",
	TAG_UINT32:       "u32",
	TAG_INT64:        "int",
	TAG_UINT64:       "u64",
	TAG_FLOAT32:      "f32",
	TAG_FLOAT64:      "float",
	TAG_STRING:       "str",
	TAG_LIST:         "list",
	TAG_DICT:         "dict",
	TAG_TUPLE:        "tuple",
	TAG_RANGE:        "range",
	TAG_ENUM:         "enum",
	TAG_FUNCTION:     "function",
	TAG_CLOSURE:      "closure",
	TAG_SUM:          "sum",
	TAG_UNION:        "union",
	TAG_ERROR_UNION:  "error_union",
	TAG_USER_DEFINED: "user",
	TAG_CLASS:        "class",
	TAG_OBJECT:       "object",
	TAG_CHANNEL:      "channel",
	TAG_MODULE:       "module",
	TAG_ANY:          "any",
}

// Type describes the shape of a Value. Basic types are interned package
// vars; compound descriptors carry tag-specific payload fields.
type Type struct {
	Tag  TypeTag
	Name string // user-defined, class and enum names

	Elem     *Type   // list element type
	Key, Val *Type   // dict key/value types
	Elems    []*Type // tuple element types
	Variants []*Type // union/sum member types

	// ErrorUnion payload: success type plus either a generic marker or an
	// explicit allow-list of error type names.
	Success    *Type
	ErrorNames []string
	Generic    bool

	Fields map[string]*Type // user-defined record fields
}

var (
	NilType     = &Type{Tag: TAG_NIL}
	BoolType    = &Type{Tag: TAG_BOOL}
	Int8Type    = &Type{Tag: TAG_INT8}
	UInt8Type   = &Type{Tag: TAG_UINT8}
	Int16Type   = &Type{Tag: TAG_INT16}
	UInt16Type  = &Type{Tag: TAG_UINT16}
	Int32Type   = &Type{Tag: TAG_INT32}
	UInt32Type  = &Type{Tag: TAG_UINT32}
	IntType     = &Type{Tag: TAG_INT64}
	UInt64Type  = &Type{Tag: TAG_UINT64}
	Float32Type = &Type{Tag: TAG_FLOAT32}
	FloatType   = &Type{Tag: TAG_FLOAT64}
	StringType  = &Type{Tag: TAG_STRING}
	ListType    = &Type{Tag: TAG_LIST, Elem: AnyType}
	DictType    = &Type{Tag: TAG_DICT, Key: AnyType, Val: AnyType}
	TupleType   = &Type{Tag: TAG_TUPLE}
	ChannelType = &Type{Tag: TAG_CHANNEL}
	AnyType     = &Type{Tag: TAG_ANY}
)

func (t *Type) String() string {
	switch t.Tag {
	case TAG_LIST:
		if t.Elem != nil && t.Elem.Tag != TAG_ANY {
			return "[" + t.Elem.String() + "]"
		}
		return "list"
	case TAG_DICT:
		return "dict"
	case TAG_TUPLE:
		s := "("
		for i, e := range t.Elems {
			if i > 0 {
				s += ", "
			}
			s += e.String()
		}
		return s + ")"
	case TAG_UNION:
		s := ""
		for i, v := range t.Variants {
			if i > 0 {
				s += " | "
			}
			s += v.String()
		}
		return s
	case TAG_ERROR_UNION:
		succ := "nil"
		if t.Success != nil {
			succ = t.Success.String()
		}
		if t.Generic {
			return succ + "?"
		}
		s := succ + "?"
		for i, e := range t.ErrorNames {
			if i > 0 {
				s += "|"
			} else {
				s += " "
			}
			s += e
		}
		return s
	case TAG_USER_DEFINED, TAG_CLASS, TAG_ENUM:
		if t.Name != "" {
			return t.Name
		}
	}
	return tagNames[t.Tag]
}

// IsNumeric reports whether the tag is one of the eight integer widths
// or a float.
func (t TypeTag) IsNumeric() bool {
	return t >= TAG_INT8 && t <= TAG_FLOAT64
}

func (t TypeTag) IsInteger() bool {
	return t >= TAG_INT8 && t <= TAG_UINT64
}

func (t TypeTag) IsFloat() bool {
	return t == TAG_FLOAT32 || t == TAG_FLOAT64
}

func (t TypeTag) IsSigned() bool {
	switch t {
	case TAG_INT8, TAG_INT16, TAG_INT32, TAG_INT64:
		return true
	}
	return false
}

// Object is the boxed payload for values that do not fit in a machine word.
type Object interface {
	Kind() string
	Inspect() string
	Hash() uint32
}

// Value is a tagged container: a type descriptor, a packed scalar word for
// numerics and booleans, and a boxed object for everything else.
type Value struct {
	Type *Type
	Data uint64
	Obj  Object
}

func NilVal() Value { return Value{Type: NilType} }

func BoolVal(b bool) Value {
	var d uint64
	if b {
		d = 1
	}
	return Value{Type: BoolType, Data: d}
}

// IntVal creates a default-width (64-bit signed) integer.
func IntVal(i int64) Value { return Value{Type: IntType, Data: uint64(i)} }

// IntValOf creates an integer of a specific width/signedness.
func IntValOf(t *Type, i int64) Value { return Value{Type: t, Data: uint64(i)} }

// UintValOf creates an unsigned integer of a specific width.
func UintValOf(t *Type, u uint64) Value { return Value{Type: t, Data: u} }

func FloatVal(f float64) Value {
	return Value{Type: FloatType, Data: math.Float64bits(f)}
}

func Float32Val(f float32) Value {
	return Value{Type: Float32Type, Data: uint64(math.Float32bits(f))}
}

func StringVal(s string) Value {
	return Value{Type: StringType, Obj: &String{Val: s}}
}

// ObjVal wraps a boxed object with its descriptor.
func ObjVal(t *Type, o Object) Value { return Value{Type: t, Obj: o} }

func (v Value) IsNil() bool    { return v.Type.Tag == TAG_NIL }
func (v Value) IsBool() bool   { return v.Type.Tag == TAG_BOOL }
func (v Value) IsInt() bool    { return v.Type.Tag.IsInteger() }
func (v Value) IsFloat() bool  { return v.Type.Tag.IsFloat() }
func (v Value) IsString() bool { return v.Type.Tag == TAG_STRING }

func (v Value) AsBool() bool { return v.Data != 0 }

// AsInt returns the integer payload sign-extended to 64 bits.
func (v Value) AsInt() int64 {
	switch v.Type.Tag {
	case TAG_INT8:
		return int64(int8(v.Data))
	case TAG_INT16:
		return int64(int16(v.Data))
	case TAG_INT32:
		return int64(int32(v.Data))
	default:
		return int64(v.Data)
	}
}

func (v Value) AsUint() uint64 { return v.Data }

func (v Value) AsFloat() float64 {
	switch v.Type.Tag {
	case TAG_FLOAT32:
		return float64(math.Float32frombits(uint32(v.Data)))
	case TAG_FLOAT64:
		return math.Float64frombits(v.Data)
	default:
		if v.Type.Tag.IsSigned() {
			return float64(v.AsInt())
		}
		return float64(v.Data)
	}
}

func (v Value) AsString() string {
	if s, ok := v.Obj.(*String); ok {
		return s.Val
	}
	return ""
}

// IsError reports whether the value carries an error payload, either as a
// bare error or inside an error union. The boxed object is the discriminant;
// no separate variant index is kept.
func (v Value) IsError() bool {
	_, ok := v.Obj.(*ErrorObject)
	return ok
}

// ErrorValue returns the error payload, or nil for success values.
func (v Value) ErrorValue() *ErrorObject {
	if e, ok := v.Obj.(*ErrorObject); ok {
		return e
	}
	return nil
}

// IsTruthy follows the language rules: nil and false are falsy, zero is
// falsy for numerics, empty for strings and collections.
func (v Value) IsTruthy() bool {
	switch v.Type.Tag {
	case TAG_NIL:
		return false
	case TAG_BOOL:
		return v.AsBool()
	case TAG_FLOAT32, TAG_FLOAT64:
		return v.AsFloat() != 0
	case TAG_STRING:
		return v.AsString() != ""
	case TAG_LIST:
		if l, ok := v.Obj.(*List); ok {
			return len(l.Elements) > 0
		}
	case TAG_DICT:
		if d, ok := v.Obj.(*Dict); ok {
			return d.Len() > 0
		}
	case TAG_ERROR_UNION:
		return !v.IsError()
	default:
		if v.Type.Tag.IsInteger() {
			return v.Data != 0
		}
	}
	return v.Obj != nil || v.Data != 0
}

// Equals compares by value. Numerics compare across width and across the
// int/float divide; boxed payloads compare structurally.
func (v Value) Equals(o Value) bool {
	vt, ot := v.Type.Tag, o.Type.Tag

	// Error-union wrappers compare by payload.
	if vt == TAG_ERROR_UNION || ot == TAG_ERROR_UNION {
		ve, oe := v.ErrorValue(), o.ErrorValue()
		if (ve == nil) != (oe == nil) {
			return false
		}
		if ve != nil {
			return ve.ErrType == oe.ErrType && ve.Message == oe.Message
		}
	}

	if vt.IsNumeric() && ot.IsNumeric() {
		if vt.IsFloat() || ot.IsFloat() {
			return v.AsFloat() == o.AsFloat()
		}
		// Mixed signedness: unequal when either side is out of the
		// other's range.
		if vt.IsSigned() != ot.IsSigned() {
			s, u := v, o
			if ot.IsSigned() {
				s, u = o, v
			}
			if s.AsInt() < 0 {
				return false
			}
			return uint64(s.AsInt()) == u.AsUint()
		}
		if vt.IsSigned() {
			return v.AsInt() == o.AsInt()
		}
		return v.AsUint() == o.AsUint()
	}

	switch {
	case vt == TAG_NIL && ot == TAG_NIL:
		return true
	case vt == TAG_BOOL && ot == TAG_BOOL:
		return v.AsBool() == o.AsBool()
	case vt == TAG_STRING && ot == TAG_STRING:
		return v.AsString() == o.AsString()
	}

	if v.Obj != nil && o.Obj != nil {
		return objectsEqual(v.Obj, o.Obj)
	}
	return false
}

// Hash yields a bucket key for dict storage. Values that compare equal
// hash equal (numerics hash their widened payload).
func (v Value) Hash() uint32 {
	switch {
	case v.Type.Tag == TAG_NIL:
		return 0
	case v.Type.Tag == TAG_BOOL:
		return uint32(v.Data) + 1
	case v.Type.Tag.IsFloat():
		f := v.AsFloat()
		if f == float64(int64(f)) {
			return hashUint64(uint64(int64(f)))
		}
		return hashUint64(math.Float64bits(f))
	case v.Type.Tag.IsInteger():
		if v.Type.Tag.IsSigned() {
			return hashUint64(uint64(v.AsInt()))
		}
		return hashUint64(v.Data)
	case v.Obj != nil:
		return v.Obj.Hash()
	}
	return 0
}

// Inspect renders the value the way PRINT does.
func (v Value) Inspect() string {
	switch v.Type.Tag {
	case TAG_NIL:
		return "nil"
	case TAG_BOOL:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case TAG_FLOAT32, TAG_FLOAT64:
		return strconv.FormatFloat(v.AsFloat(), 'g', -1, 64)
	case TAG_STRING:
		return v.AsString()
	case TAG_ERROR_UNION:
		if e := v.ErrorValue(); e != nil {
			return e.Inspect()
		}
		// Success side renders as its payload.
		inner := v
		inner.Type = v.Type.Success
		if inner.Type == nil {
			inner.Type = AnyType
		}
		return inner.Inspect()
	default:
		if v.Type.Tag.IsInteger() {
			if v.Type.Tag.IsSigned() {
				return strconv.FormatInt(v.AsInt(), 10)
			}
			return strconv.FormatUint(v.Data, 10)
		}
		if v.Obj != nil {
			return v.Obj.Inspect()
		}
	}
	return fmt.Sprintf("<%s>", v.Type)
}

// TypeName is the name used in diagnostics and type-name patterns.
func (v Value) TypeName() string {
	switch {
	case v.Type.Tag.IsInteger():
		return "int"
	case v.Type.Tag.IsFloat():
		return "float"
	}
	return v.Type.String()
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func hashUint64(u uint64) uint32 {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
	h := fnv.New32a()
	h.Write(b[:])
	return h.Sum32()
}
