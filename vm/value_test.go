package vm

import "testing"

func TestValueKinds(t *testing.T) {
	cases := []struct {
		v    Value
		kind Kind
	}{
		{None, KindNone},
		{FromInt(42), KindInt},
		{FromFloat(3.5), KindFloat},
		{True, KindBool},
		{FromString("x"), KindString},
		{FromArray(NewArray(0)), KindArray},
		{FromDict(NewDict()), KindDict},
	}
	for _, c := range cases {
		if c.v.Kind() != c.kind {
			t.Errorf("expected %s, got %s", c.kind, c.v.Kind())
		}
	}
}

func TestZeroValueIsNone(t *testing.T) {
	var v Value
	if !v.IsNone() {
		t.Error("zero Value must be none")
	}
}

func TestTruthiness(t *testing.T) {
	// Only false and none are falsy.
	falsy := []Value{None, False}
	for _, v := range falsy {
		if v.Truthy() {
			t.Errorf("%s should be falsy", v)
		}
	}
	truthy := []Value{True, FromInt(0), FromFloat(0), FromString(""), FromArray(NewArray(0))}
	for _, v := range truthy {
		if !v.Truthy() {
			t.Errorf("%s should be truthy", v)
		}
	}
}

func TestNumericEquality(t *testing.T) {
	if !Equal(FromInt(3), FromFloat(3.0)) {
		t.Error("3 should equal 3.0")
	}
	if Equal(FromInt(3), FromString("3")) {
		t.Error("3 should not equal \"3\"")
	}
	if !Equal(FromArray(NewArrayWith([]Value{FromInt(1)})), FromArray(NewArrayWith([]Value{FromInt(1)}))) {
		t.Error("arrays should compare element-wise")
	}
}

func TestDisplayForms(t *testing.T) {
	d := NewDict()
	d.Set("b", FromInt(2))
	d.Set("a", FromInt(1))
	cases := []struct {
		v    Value
		want string
	}{
		{None, "none"},
		{FromInt(-5), "-5"},
		{FromFloat(2.5), "2.5"},
		{True, "true"},
		{FromString("hi"), "hi"},
		{FromArray(NewArrayWith([]Value{FromInt(1), FromString("x")})), "[1, x]"},
		{FromDict(d), "{a: 1, b: 2}"},
	}
	for _, c := range cases {
		if got := c.v.String(); got != c.want {
			t.Errorf("expected %q, got %q", c.want, got)
		}
	}
}

func TestArithmeticHelpers(t *testing.T) {
	if v, err := opAddValues(FromInt(2), FromFloat(0.5)); err != nil || v.Float() != 2.5 {
		t.Errorf("2 + 0.5: got %v, %v", v, err)
	}
	if v, err := opAddValues(FromString("a"), FromString("b")); err != nil || v.Str() != "ab" {
		t.Errorf("string concat: got %v, %v", v, err)
	}
	if _, err := opAddValues(FromInt(1), FromString("b")); err == nil {
		t.Error("int + string should be a type mismatch")
	}
	if v, err := opDivValues(FromInt(7), FromInt(2)); err != nil || v.Int() != 3 {
		t.Errorf("integer division should truncate: got %v, %v", v, err)
	}
	if _, err := opDivValues(FromInt(1), FromInt(0)); err == nil {
		t.Error("integer division by zero should fail")
	} else if rerr, ok := err.(*RuntimeError); !ok || rerr.Kind != ErrDivisionByZero {
		t.Errorf("expected DivisionByZero, got %v", err)
	}
	if v, err := opDivValues(FromFloat(1), FromFloat(0)); err != nil || !v.IsFloat() {
		t.Errorf("float division by zero follows IEEE: got %v, %v", v, err)
	}
	if v, err := opLtValues(FromString("apple"), FromString("banana")); err != nil || !v.Bool() {
		t.Errorf("string ordering: got %v, %v", v, err)
	}
}
