package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value representation
// ---------------------------------------------------------------------------

// Kind identifies the tag of a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindArray
	KindDict
)

// String returns the language-level name of a kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindDict:
		return "dict"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is the closed tagged union carried on the operand stack, in local
// slots, and across the compiled-code boundary. The same representation is
// the return encoding of compiled functions, so every tag survives a
// compiled call unambiguously.
//
// num holds the payload for Int (int64 bits), Float (float64 bits) and
// Bool (0 or 1). String, Array and Dict use their dedicated fields.
type Value struct {
	kind Kind
	num  uint64
	str  string
	arr  *Array
	dict *Dict
}

// None is the singleton none value.
var None = Value{kind: KindNone}

// True and False are the two bool values.
var (
	True  = Value{kind: KindBool, num: 1}
	False = Value{kind: KindBool, num: 0}
)

// FromInt wraps a 64-bit signed integer.
func FromInt(n int64) Value {
	return Value{kind: KindInt, num: uint64(n)}
}

// FromFloat wraps a 64-bit float.
func FromFloat(f float64) Value {
	return Value{kind: KindFloat, num: math.Float64bits(f)}
}

// FromBool wraps a bool.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromString wraps an immutable string.
func FromString(s string) Value {
	return Value{kind: KindString, str: s}
}

// FromArray wraps an array container.
func FromArray(a *Array) Value {
	return Value{kind: KindArray, arr: a}
}

// FromDict wraps a dict container.
func FromDict(d *Dict) Value {
	return Value{kind: KindDict, dict: d}
}

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNone() bool   { return v.kind == KindNone }
func (v Value) IsInt() bool    { return v.kind == KindInt }
func (v Value) IsFloat() bool  { return v.kind == KindFloat }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsString() bool { return v.kind == KindString }
func (v Value) IsArray() bool  { return v.kind == KindArray }
func (v Value) IsDict() bool   { return v.kind == KindDict }

// IsNumber reports whether the value is Int or Float.
func (v Value) IsNumber() bool {
	return v.kind == KindInt || v.kind == KindFloat
}

// Int returns the integer payload. Panics on wrong kind; callers check first.
func (v Value) Int() int64 {
	if v.kind != KindInt {
		panic("vm: Int() on " + v.kind.String())
	}
	return int64(v.num)
}

// Float returns the float payload. Panics on wrong kind.
func (v Value) Float() float64 {
	if v.kind != KindFloat {
		panic("vm: Float() on " + v.kind.String())
	}
	return math.Float64frombits(v.num)
}

// AsFloat returns the numeric payload widened to float64.
// Valid for Int and Float only.
func (v Value) AsFloat() float64 {
	if v.kind == KindInt {
		return float64(int64(v.num))
	}
	return math.Float64frombits(v.num)
}

// Bool returns the bool payload. Panics on wrong kind.
func (v Value) Bool() bool {
	if v.kind != KindBool {
		panic("vm: Bool() on " + v.kind.String())
	}
	return v.num != 0
}

// Str returns the string payload. Panics on wrong kind.
func (v Value) Str() string {
	if v.kind != KindString {
		panic("vm: Str() on " + v.kind.String())
	}
	return v.str
}

// Array returns the array payload. Panics on wrong kind.
func (v Value) Array() *Array {
	if v.kind != KindArray {
		panic("vm: Array() on " + v.kind.String())
	}
	return v.arr
}

// Dict returns the dict payload. Panics on wrong kind.
func (v Value) Dict() *Dict {
	if v.kind != KindDict {
		panic("vm: Dict() on " + v.kind.String())
	}
	return v.dict
}

// Truthy reports the conditional-jump interpretation of a value.
// Only false and none are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNone:
		return false
	case KindBool:
		return v.num != 0
	}
	return true
}

// Equal compares two values. Int and Float compare by numeric value, so
// 3 == 3.0. Containers compare element-wise.
func Equal(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		if a.kind == KindInt && b.kind == KindInt {
			return int64(a.num) == int64(b.num)
		}
		return a.AsFloat() == b.AsFloat()
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNone:
		return true
	case KindBool:
		return a.num == b.num
	case KindString:
		return a.str == b.str
	case KindArray:
		if a.arr == b.arr {
			return true
		}
		if len(a.arr.elems) != len(b.arr.elems) {
			return false
		}
		for i := range a.arr.elems {
			if !Equal(a.arr.elems[i], b.arr.elems[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if a.dict == b.dict {
			return true
		}
		if len(a.dict.entries) != len(b.dict.entries) {
			return false
		}
		for k, av := range a.dict.entries {
			bv, ok := b.dict.entries[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value in its language-level display form.
func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "none"
	case KindInt:
		return strconv.FormatInt(int64(v.num), 10)
	case KindFloat:
		return strconv.FormatFloat(math.Float64frombits(v.num), 'g', -1, 64)
	case KindBool:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case KindString:
		return v.str
	case KindArray:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range v.arr.elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.String())
		}
		sb.WriteByte(']')
		return sb.String()
	case KindDict:
		var sb strings.Builder
		sb.WriteByte('{')
		first := true
		for _, k := range v.dict.sortedKeys() {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(v.dict.entries[k].String())
		}
		sb.WriteByte('}')
		return sb.String()
	}
	return "<invalid>"
}
