package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

// Object kind names, used in diagnostics and dispatch.
const (
	STRING_KIND   = "STRING"
	LIST_KIND     = "LIST"
	DICT_KIND     = "DICT"
	TUPLE_KIND    = "TUPLE"
	ENUM_KIND     = "ENUM"
	ERROR_KIND    = "ERROR"
	FUNCTION_KIND = "FUNCTION"
	CLOSURE_KIND  = "CLOSURE"
	ITERATOR_KIND = "ITERATOR"
	CHANNEL_KIND  = "CHANNEL"
	ATOMIC_KIND   = "ATOMIC"
	CLASS_KIND    = "CLASS"
	INSTANCE_KIND = "INSTANCE"
	TASK_KIND     = "TASK"
	RANGE_KIND    = "RANGE"
)

// String is the boxed string payload.
type String struct {
	Val string
}

func (s *String) Kind() string    { return STRING_KIND }
func (s *String) Inspect() string { return s.Val }
func (s *String) Hash() uint32    { return hashString(s.Val) }

// List is an ordered, in-place-mutable sequence.
type List struct {
	Elements []Value
}

func NewList(elements []Value) *List { return &List{Elements: elements} }

func (l *List) Kind() string { return LIST_KIND }

func (l *List) Inspect() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, e := range l.Elements {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(inspectQuoted(e))
	}
	b.WriteByte(']')
	return b.String()
}

func (l *List) Hash() uint32 {
	h := uint32(2166136261)
	for _, e := range l.Elements {
		h = h*16777619 ^ e.Hash()
	}
	return h
}

// Tuple is a fixed-size sequence, element-wise mutable by index.
type Tuple struct {
	Elements []Value
}

func (t *Tuple) Kind() string { return TUPLE_KIND }

func (t *Tuple) Inspect() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, e := range t.Elements {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(inspectQuoted(e))
	}
	b.WriteByte(')')
	return b.String()
}

func (t *Tuple) Hash() uint32 {
	h := uint32(2166136261)
	for _, e := range t.Elements {
		h = h*16777619 ^ e.Hash()
	}
	return h ^ 0x9e3779b9
}

// DictEntry is one key/value pair.
type DictEntry struct {
	Key Value
	Val Value
}

// Dict maps keys to values with value-equality key comparison. Buckets are
// keyed by Value.Hash with chained entries for collisions; iteration walks
// insertion order.
type Dict struct {
	buckets map[uint32][]int
	entries []DictEntry
}

func NewDict() *Dict {
	return &Dict{buckets: make(map[uint32][]int)}
}

func (d *Dict) Kind() string { return DICT_KIND }

func (d *Dict) Len() int { return len(d.entries) }

func (d *Dict) Set(key, val Value) {
	h := key.Hash()
	for _, idx := range d.buckets[h] {
		if d.entries[idx].Key.Equals(key) {
			d.entries[idx].Val = val
			return
		}
	}
	d.buckets[h] = append(d.buckets[h], len(d.entries))
	d.entries = append(d.entries, DictEntry{Key: key, Val: val})
}

func (d *Dict) Get(key Value) (Value, bool) {
	for _, idx := range d.buckets[key.Hash()] {
		if d.entries[idx].Key.Equals(key) {
			return d.entries[idx].Val, true
		}
	}
	return NilVal(), false
}

// Entries returns the pairs in insertion order.
func (d *Dict) Entries() []DictEntry { return d.entries }

func (d *Dict) Inspect() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range d.entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(inspectQuoted(e.Key))
		b.WriteString(": ")
		b.WriteString(inspectQuoted(e.Val))
	}
	b.WriteByte('}')
	return b.String()
}

func (d *Dict) Hash() uint32 {
	// Order-independent so equal dicts hash equal.
	var h uint32
	for _, e := range d.entries {
		h ^= e.Key.Hash() * 31
		h ^= e.Val.Hash()
	}
	return h
}

// EnumValue is one variant of a declared enum, with an optional payload.
type EnumValue struct {
	TypeName string
	Variant  string
	Payload  *Value
}

func (e *EnumValue) Kind() string { return ENUM_KIND }

func (e *EnumValue) Inspect() string {
	if e.Payload != nil {
		return fmt.Sprintf("%s.%s(%s)", e.TypeName, e.Variant, e.Payload.Inspect())
	}
	return e.TypeName + "." + e.Variant
}

func (e *EnumValue) Hash() uint32 {
	return hashString(e.TypeName + "." + e.Variant)
}

// ErrorObject carries a language-level error: its type name, message,
// constructor arguments and the source line it was raised on.
type ErrorObject struct {
	ErrType string
	Message string
	Args    []Value
	Line    uint32
}

func (e *ErrorObject) Kind() string { return ERROR_KIND }

func (e *ErrorObject) Inspect() string {
	if e.Message != "" {
		return fmt.Sprintf("err(%s: %s)", e.ErrType, e.Message)
	}
	return fmt.Sprintf("err(%s)", e.ErrType)
}

func (e *ErrorObject) Hash() uint32 { return hashString(e.ErrType + ":" + e.Message) }

// Param is a declared function parameter; optional params carry a default.
type Param struct {
	Name     string
	Optional bool
	Default  Value
	HasDef   bool
}

// Function is a user-defined function registered at BEGIN_FUNCTION:
// the body's address window in the instruction stream plus the declared
// parameter list. CanFail marks error-union returns so CALL installs an
// error frame.
type Function struct {
	Name      string
	StartAddr int
	EndAddr   int
	Params    []Param
	CanFail   bool
	IsMethod  bool
	ClassName string
}

func (f *Function) Kind() string    { return FUNCTION_KIND }
func (f *Function) Inspect() string { return "<fn " + f.Name + ">" }
func (f *Function) Hash() uint32    { return hashString("fn:" + f.Name) }

// RequiredArity counts non-optional parameters.
func (f *Function) RequiredArity() int {
	n := 0
	for _, p := range f.Params {
		if !p.Optional {
			n++
		}
	}
	return n
}

// Closure pairs a function with its captured environment. Captured lists
// the names copied at creation time (the compiler computes the set).
type Closure struct {
	Fn       *Function
	Env      *Environment
	Captured []string
}

func (c *Closure) Kind() string    { return CLOSURE_KIND }
func (c *Closure) Inspect() string { return "<closure " + c.Fn.Name + ">" }
func (c *Closure) Hash() uint32    { return hashString("closure:" + c.Fn.Name) }

// Iterator is a cursor over a materialized list or a channel. For channels
// HasNext performs the receive and buffers, Next drains the buffer.
type Iterator struct {
	List *List
	Idx  int

	Ch       *ChannelObject
	buffered bool
	buf      Value
	done     bool
}

func (it *Iterator) Kind() string    { return ITERATOR_KIND }
func (it *Iterator) Inspect() string { return "<iterator>" }
func (it *Iterator) Hash() uint32    { return 0 }

func (it *Iterator) HasNext() bool {
	if it.Ch != nil {
		if it.buffered {
			return true
		}
		if it.done {
			return false
		}
		v, ok := it.Ch.Receive()
		if !ok {
			it.done = true
			return false
		}
		it.buf = v
		it.buffered = true
		return true
	}
	return it.Idx < len(it.List.Elements)
}

func (it *Iterator) Next() (Value, bool) {
	if it.Ch != nil {
		if !it.buffered && !it.HasNext() {
			return NilVal(), false
		}
		it.buffered = false
		return it.buf, true
	}
	if it.Idx >= len(it.List.Elements) {
		return NilVal(), false
	}
	v := it.List.Elements[it.Idx]
	it.Idx++
	return v, true
}

// Atomic is a lock-free integer cell for cross-task mutation; it bypasses
// the environment lock entirely.
type Atomic struct {
	v atomic.Int64
}

func NewAtomic(initial int64) *Atomic {
	a := &Atomic{}
	a.v.Store(initial)
	return a
}

func (a *Atomic) Kind() string    { return ATOMIC_KIND }
func (a *Atomic) Inspect() string { return fmt.Sprintf("%d", a.Load()) }
func (a *Atomic) Hash() uint32    { return hashUint64(uint64(a.Load())) }

func (a *Atomic) Load() int64       { return a.v.Load() }
func (a *Atomic) Store(n int64)     { a.v.Store(n) }
func (a *Atomic) Add(n int64) int64 { return a.v.Add(n) }

// Class is a runtime class definition.
type Class struct {
	Name   string
	Super  *Class
	Fields map[string]Value // field name -> default value
	Order  []string         // declaration order for deterministic init
}

func (c *Class) Kind() string    { return CLASS_KIND }
func (c *Class) Inspect() string { return "<class " + c.Name + ">" }
func (c *Class) Hash() uint32    { return hashString("class:" + c.Name) }

// ResolveField walks the superclass chain for a field default.
func (c *Class) ResolveField(name string) (Value, bool) {
	for k := c; k != nil; k = k.Super {
		if v, ok := k.Fields[name]; ok {
			return v, true
		}
	}
	return NilVal(), false
}

// Instance is an object built from a Class.
type Instance struct {
	Class  *Class
	Fields map[string]Value
}

func (in *Instance) Kind() string { return INSTANCE_KIND }

func (in *Instance) Inspect() string {
	names := make([]string, 0, len(in.Fields))
	for n := range in.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(in.Class.Name)
	b.WriteByte('{')
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(n)
		b.WriteString(": ")
		b.WriteString(inspectQuoted(in.Fields[n]))
	}
	b.WriteByte('}')
	return b.String()
}

func (in *Instance) Hash() uint32 { return hashString("instance:" + in.Class.Name) }

// inspectQuoted renders strings with quotes inside containers, matching
// the PRINT formatting of nested values.
func inspectQuoted(v Value) string {
	if v.IsString() {
		return strconv.Quote(v.AsString())
	}
	return v.Inspect()
}

// objectsEqual compares boxed payloads structurally.
func objectsEqual(a, b Object) bool {
	switch ao := a.(type) {
	case *String:
		bo, ok := b.(*String)
		return ok && ao.Val == bo.Val
	case *List:
		bo, ok := b.(*List)
		if !ok || len(ao.Elements) != len(bo.Elements) {
			return false
		}
		for i := range ao.Elements {
			if !ao.Elements[i].Equals(bo.Elements[i]) {
				return false
			}
		}
		return true
	case *Tuple:
		bo, ok := b.(*Tuple)
		if !ok || len(ao.Elements) != len(bo.Elements) {
			return false
		}
		for i := range ao.Elements {
			if !ao.Elements[i].Equals(bo.Elements[i]) {
				return false
			}
		}
		return true
	case *Dict:
		bo, ok := b.(*Dict)
		if !ok || ao.Len() != bo.Len() {
			return false
		}
		for _, e := range ao.entries {
			bv, found := bo.Get(e.Key)
			if !found || !e.Val.Equals(bv) {
				return false
			}
		}
		return true
	case *EnumValue:
		bo, ok := b.(*EnumValue)
		if !ok || ao.TypeName != bo.TypeName || ao.Variant != bo.Variant {
			return false
		}
		if (ao.Payload == nil) != (bo.Payload == nil) {
			return false
		}
		return ao.Payload == nil || ao.Payload.Equals(*bo.Payload)
	case *ErrorObject:
		bo, ok := b.(*ErrorObject)
		return ok && ao.ErrType == bo.ErrType && ao.Message == bo.Message
	case *Atomic:
		bo, ok := b.(*Atomic)
		return ok && ao.Load() == bo.Load()
	}
	return a == b
}
