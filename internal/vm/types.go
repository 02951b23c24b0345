package vm

import (
	"fmt"
	"strconv"

	"github.com/netesy/limitly/internal/config"
)

// TypeSystem holds user-defined type registrations and implements the
// conversion, compatibility and promotion rules.
type TypeSystem struct {
	userDefined map[string]*Type
	aliases     map[string]*Type
	errorTypes  map[string]bool
}

func NewTypeSystem() *TypeSystem {
	ts := &TypeSystem{
		userDefined: make(map[string]*Type),
		aliases:     make(map[string]*Type),
		errorTypes:  make(map[string]bool),
	}
	for _, name := range config.BuiltinErrorTypes {
		ts.RegisterErrorType(name)
	}
	return ts
}

// RegisterErrorType makes an error name constructible via CONSTRUCT_ERROR.
// Unknown names are registered on first use as user-defined errors, so this
// doubles as the definition point for both builtins and user error decls.
func (ts *TypeSystem) RegisterErrorType(name string) {
	ts.errorTypes[name] = true
	if _, ok := ts.userDefined[name]; !ok {
		ts.userDefined[name] = &Type{Tag: TAG_USER_DEFINED, Name: name}
	}
}

func (ts *TypeSystem) IsErrorType(name string) bool { return ts.errorTypes[name] }

// Register adds a user-defined type under its name.
func (ts *TypeSystem) Register(name string, t *Type) { ts.userDefined[name] = t }

// RegisterAlias records a type alias.
func (ts *TypeSystem) RegisterAlias(alias string, t *Type) { ts.aliases[alias] = t }

// Lookup resolves a type name: builtins first, then aliases, then
// user-defined types. Unknown names resolve to nil type descriptor.
func (ts *TypeSystem) Lookup(name string) *Type {
	switch name {
	case "int", "i64":
		return IntType
	case "i8":
		return Int8Type
	case "i16":
		return Int16Type
	case "i32":
		return Int32Type
	case "u8":
		return UInt8Type
	case "u16":
		return UInt16Type
	case "u32":
		return UInt32Type
	case "u64", "uint":
		return UInt64Type
	case "f32":
		return Float32Type
	case "float", "f64":
		return FloatType
	case "str", "string":
		return StringType
	case "bool":
		return BoolType
	case "list":
		return ListType
	case "dict":
		return DictType
	case "any":
		return AnyType
	}
	if t, ok := ts.aliases[name]; ok {
		return t
	}
	if t, ok := ts.userDefined[name]; ok {
		return t
	}
	return NilType
}

// numericRank orders the numeric tags for promotion, narrowest first.
var numericRank = map[TypeTag]int{
	TAG_INT8:    0,
	TAG_UINT8:   1,
	TAG_INT16:   2,
	TAG_UINT16:  3,
	TAG_INT32:   4,
	TAG_UINT32:  5,
	TAG_INT64:   6,
	TAG_UINT64:  7,
	TAG_FLOAT32: 8,
	TAG_FLOAT64: 9,
}

// WiderType picks the wider of two numeric types along the fixed rank order.
func (ts *TypeSystem) WiderType(a, b *Type) (*Type, error) {
	ra, okA := numericRank[a.Tag]
	rb, okB := numericRank[b.Tag]
	if !okA || !okB {
		return nil, fmt.Errorf("invalid numeric type in promotion: %s, %s", a, b)
	}
	if ra >= rb {
		return a, nil
	}
	return b, nil
}

// safeNumericConversion is the lossless-conversion matrix keyed by
// width and signedness. Int64 never narrows; unsigned widths may widen
// into the next signed width up.
func safeNumericConversion(from, to TypeTag) bool {
	if from == to {
		return true
	}
	switch from {
	case TAG_INT8:
		switch to {
		case TAG_INT16, TAG_INT32, TAG_INT64, TAG_FLOAT32, TAG_FLOAT64:
			return true
		}
	case TAG_INT16:
		switch to {
		case TAG_INT32, TAG_INT64, TAG_FLOAT32, TAG_FLOAT64:
			return true
		}
	case TAG_INT32:
		switch to {
		case TAG_INT64, TAG_FLOAT32, TAG_FLOAT64:
			return true
		}
	case TAG_INT64:
		return to == TAG_FLOAT64
	case TAG_UINT8:
		switch to {
		case TAG_UINT16, TAG_UINT32, TAG_UINT64,
			TAG_INT16, TAG_INT32, TAG_INT64,
			TAG_FLOAT32, TAG_FLOAT64:
			return true
		}
	case TAG_UINT16:
		switch to {
		case TAG_UINT32, TAG_UINT64, TAG_INT32, TAG_INT64,
			TAG_FLOAT32, TAG_FLOAT64:
			return true
		}
	case TAG_UINT32:
		switch to {
		case TAG_UINT64, TAG_INT64, TAG_FLOAT64:
			return true
		}
	case TAG_UINT64:
		return to == TAG_FLOAT64
	case TAG_FLOAT32:
		return to == TAG_FLOAT64
	}
	return false
}

// CanConvert reports whether a value of type from is convertible to type to
// without loss: numeric widening per the matrix, covariant List/Dict
// elements, per-member Union acceptance and the ErrorUnion subset rule.
func (ts *TypeSystem) CanConvert(from, to *Type) bool {
	if from == to || to.Tag == TAG_ANY {
		return true
	}
	if from.Tag == TAG_BOOL && to.Tag == TAG_BOOL {
		return true
	}
	if from.Tag.IsNumeric() && to.Tag.IsNumeric() {
		return safeNumericConversion(from.Tag, to.Tag)
	}
	if from.Tag == TAG_STRING && to.Tag == TAG_STRING {
		return true
	}
	if from.Tag == TAG_STRING && to.Tag.IsNumeric() {
		// Parse attempt deferred to Convert; assignability holds.
		return true
	}
	if from.Tag.IsNumeric() && to.Tag == TAG_STRING {
		return true
	}
	if from.Tag == TAG_LIST && to.Tag == TAG_LIST {
		return ts.CanConvert(elemOrAny(from.Elem), elemOrAny(to.Elem))
	}
	if from.Tag == TAG_DICT && to.Tag == TAG_DICT {
		return ts.CanConvert(elemOrAny(from.Key), elemOrAny(to.Key)) &&
			ts.CanConvert(elemOrAny(from.Val), elemOrAny(to.Val))
	}
	if from.Tag == TAG_TUPLE && to.Tag == TAG_TUPLE {
		if len(from.Elems) != len(to.Elems) {
			return false
		}
		for i := range from.Elems {
			if !ts.CanConvert(from.Elems[i], to.Elems[i]) {
				return false
			}
		}
		return true
	}
	if from.Tag == TAG_UNION {
		for _, v := range from.Variants {
			if ts.CanConvert(v, to) {
				return true
			}
		}
		return false
	}
	if to.Tag == TAG_UNION {
		for _, v := range to.Variants {
			if ts.CanConvert(from, v) {
				return true
			}
		}
		return false
	}
	if from.Tag == TAG_ERROR_UNION && to.Tag == TAG_ERROR_UNION {
		if !ts.CanConvert(elemOrAny(from.Success), elemOrAny(to.Success)) {
			return false
		}
		if to.Generic {
			return true
		}
		if from.Generic {
			return false
		}
		// Source allow-list must be a subset of the target's.
		for _, name := range from.ErrorNames {
			found := false
			for _, t := range to.ErrorNames {
				if name == t {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	// A plain success value converts into an error union over it.
	if to.Tag == TAG_ERROR_UNION {
		return ts.CanConvert(from, elemOrAny(to.Success))
	}
	return false
}

// IsCompatible determines assignability.
func (ts *TypeSystem) IsCompatible(source, target *Type) bool {
	return ts.CanConvert(source, target)
}

// GetCommonType computes the narrowest common supertype for binary-operator
// operand unification. Numeric pairs widen along the rank order; otherwise
// conversion is tried either direction, then a flattened Union of the two.
func (ts *TypeSystem) GetCommonType(a, b *Type) (*Type, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("nil type in unification")
	}
	if a.Tag == TAG_ANY {
		return b, nil
	}
	if b.Tag == TAG_ANY {
		return a, nil
	}
	if a.Tag == TAG_NIL {
		return b, nil
	}
	if b.Tag == TAG_NIL {
		return a, nil
	}
	if a.Tag == b.Tag {
		return a, nil
	}
	if a.Tag.IsNumeric() && b.Tag.IsNumeric() {
		return ts.WiderType(a, b)
	}
	if ts.CanConvert(a, b) {
		return b, nil
	}
	if ts.CanConvert(b, a) {
		return a, nil
	}
	return ts.MakeUnion([]*Type{a, b}), nil
}

// MakeUnion builds a union descriptor with the variant list flattened and
// de-duplicated by structural equality.
func (ts *TypeSystem) MakeUnion(variants []*Type) *Type {
	var flat []*Type
	var add func(t *Type)
	add = func(t *Type) {
		if t.Tag == TAG_UNION {
			for _, v := range t.Variants {
				add(v)
			}
			return
		}
		for _, seen := range flat {
			if typesEqual(seen, t) {
				return
			}
		}
		flat = append(flat, t)
	}
	for _, v := range variants {
		add(v)
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return &Type{Tag: TAG_UNION, Variants: flat}
}

// MakeErrorUnion builds an error-union descriptor over the success type.
// An empty name list means the generic form.
func (ts *TypeSystem) MakeErrorUnion(success *Type, errorNames []string) *Type {
	return &Type{
		Tag:        TAG_ERROR_UNION,
		Success:    success,
		ErrorNames: errorNames,
		Generic:    len(errorNames) == 0,
	}
}

// Convert converts a value to the target type, validating compatibility
// first. String↔numeric uses locale-independent parsing; malformed input
// surfaces a TypeConversion language error.
func (ts *TypeSystem) Convert(v Value, target *Type) (Value, error) {
	if !ts.IsCompatible(v.Type, target) {
		return NilVal(), fmt.Errorf("incompatible types: %s and %s", v.Type, target)
	}
	if v.Type == target || target.Tag == TAG_ANY || v.Type.Tag == target.Tag {
		if v.Type.Tag == target.Tag && v.Type.Tag.IsNumeric() && v.Type != target {
			// Same tag, distinct descriptor: retag.
			v.Type = target
		}
		return v, nil
	}

	switch {
	case v.Type.Tag.IsNumeric() && target.Tag.IsNumeric():
		return convertNumeric(v, target), nil

	case v.Type.Tag == TAG_STRING && target.Tag.IsNumeric():
		s := v.AsString()
		if target.Tag.IsFloat() {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return NilVal(), fmt.Errorf("%s: failed to convert string to number: %q", config.TypeConversionError, s)
			}
			if target.Tag == TAG_FLOAT32 {
				return Float32Val(float32(f)), nil
			}
			return FloatVal(f), nil
		}
		if target.Tag.IsSigned() {
			i, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return NilVal(), fmt.Errorf("%s: failed to convert string to number: %q", config.TypeConversionError, s)
			}
			return IntValOf(target, i), nil
		}
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return NilVal(), fmt.Errorf("%s: failed to convert string to number: %q", config.TypeConversionError, s)
		}
		return UintValOf(target, u), nil

	case v.Type.Tag.IsNumeric() && target.Tag == TAG_STRING:
		return StringVal(v.Inspect()), nil

	case target.Tag == TAG_ERROR_UNION:
		// Wrapping a success value: keep the payload, retag.
		wrapped := v
		wrapped.Type = target
		return wrapped, nil
	}

	// Structural cases (list/dict/tuple/union) share the payload; only the
	// descriptor changes.
	v.Type = target
	return v, nil
}

func convertNumeric(v Value, target *Type) Value {
	if target.Tag.IsFloat() {
		if target.Tag == TAG_FLOAT32 {
			return Float32Val(float32(v.AsFloat()))
		}
		return FloatVal(v.AsFloat())
	}
	if v.Type.Tag.IsFloat() {
		f := v.AsFloat()
		if target.Tag.IsSigned() {
			return IntValOf(target, int64(f))
		}
		return UintValOf(target, uint64(f))
	}
	if target.Tag.IsSigned() {
		return IntValOf(target, v.AsInt())
	}
	if v.Type.Tag.IsSigned() {
		return UintValOf(target, uint64(v.AsInt()))
	}
	return UintValOf(target, v.AsUint())
}

func elemOrAny(t *Type) *Type {
	if t == nil {
		return AnyType
	}
	return t
}

// typesEqual compares descriptors structurally.
func typesEqual(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.Tag != b.Tag || a.Name != b.Name {
		return false
	}
	switch a.Tag {
	case TAG_LIST:
		return typesEqual(elemOrAny(a.Elem), elemOrAny(b.Elem))
	case TAG_DICT:
		return typesEqual(elemOrAny(a.Key), elemOrAny(b.Key)) &&
			typesEqual(elemOrAny(a.Val), elemOrAny(b.Val))
	case TAG_TUPLE:
		if len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !typesEqual(a.Elems[i], b.Elems[i]) {
				return false
			}
		}
		return true
	case TAG_UNION, TAG_SUM:
		if len(a.Variants) != len(b.Variants) {
			return false
		}
		for i := range a.Variants {
			if !typesEqual(a.Variants[i], b.Variants[i]) {
				return false
			}
		}
		return true
	case TAG_ERROR_UNION:
		if a.Generic != b.Generic || len(a.ErrorNames) != len(b.ErrorNames) {
			return false
		}
		for i := range a.ErrorNames {
			if a.ErrorNames[i] != b.ErrorNames[i] {
				return false
			}
		}
		return typesEqual(elemOrAny(a.Success), elemOrAny(b.Success))
	}
	return true
}
