package vm

import "math"

// Operator helpers shared by the interpreter and by compiled step code.
// Keeping one implementation per operator is what makes tier equivalence
// hold by construction, including the error kinds raised.

func opAddValues(a, b Value) (Value, error) {
	switch {
	case a.IsInt() && b.IsInt():
		return FromInt(a.Int() + b.Int()), nil
	case a.IsNumber() && b.IsNumber():
		return FromFloat(a.AsFloat() + b.AsFloat()), nil
	case a.IsString() && b.IsString():
		return FromString(a.Str() + b.Str()), nil
	}
	return None, typeMismatch("+", a, b)
}

func opSubValues(a, b Value) (Value, error) {
	switch {
	case a.IsInt() && b.IsInt():
		return FromInt(a.Int() - b.Int()), nil
	case a.IsNumber() && b.IsNumber():
		return FromFloat(a.AsFloat() - b.AsFloat()), nil
	}
	return None, typeMismatch("-", a, b)
}

func opMulValues(a, b Value) (Value, error) {
	switch {
	case a.IsInt() && b.IsInt():
		return FromInt(a.Int() * b.Int()), nil
	case a.IsNumber() && b.IsNumber():
		return FromFloat(a.AsFloat() * b.AsFloat()), nil
	}
	return None, typeMismatch("*", a, b)
}

// opDivValues performs truncated integer division for Int/Int and IEEE
// division when either operand is a float. Only integer division by zero
// is an error; float division follows IEEE semantics.
func opDivValues(a, b Value) (Value, error) {
	switch {
	case a.IsInt() && b.IsInt():
		if b.Int() == 0 {
			return None, &RuntimeError{Kind: ErrDivisionByZero, Op: "/"}
		}
		return FromInt(a.Int() / b.Int()), nil
	case a.IsNumber() && b.IsNumber():
		return FromFloat(a.AsFloat() / b.AsFloat()), nil
	}
	return None, typeMismatch("/", a, b)
}

func opModValues(a, b Value) (Value, error) {
	if a.IsInt() && b.IsInt() {
		if b.Int() == 0 {
			return None, &RuntimeError{Kind: ErrDivisionByZero, Op: "%"}
		}
		return FromInt(a.Int() % b.Int()), nil
	}
	return None, typeMismatch("%", a, b)
}

func opNegValue(a Value) (Value, error) {
	switch a.Kind() {
	case KindInt:
		return FromInt(-a.Int()), nil
	case KindFloat:
		return FromFloat(-a.Float()), nil
	}
	return None, typeMismatch("neg", a, a)
}

func opNotValue(a Value) Value {
	return FromBool(!a.Truthy())
}

// compareValues returns -1, 0 or 1 for an ordered pair. Numbers order
// numerically with Int/Float promotion; strings order lexicographically.
func compareValues(op string, a, b Value) (int, error) {
	switch {
	case a.IsNumber() && b.IsNumber():
		if a.IsInt() && b.IsInt() {
			x, y := a.Int(), b.Int()
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
		x, y := a.AsFloat(), b.AsFloat()
		switch {
		case x < y || (math.IsNaN(x) && !math.IsNaN(y)):
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case a.IsString() && b.IsString():
		x, y := a.Str(), b.Str()
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	}
	return 0, typeMismatch(op, a, b)
}

func opLtValues(a, b Value) (Value, error) {
	c, err := compareValues("<", a, b)
	if err != nil {
		return None, err
	}
	return FromBool(c < 0), nil
}

func opLeValues(a, b Value) (Value, error) {
	c, err := compareValues("<=", a, b)
	if err != nil {
		return None, err
	}
	return FromBool(c <= 0), nil
}

func opGtValues(a, b Value) (Value, error) {
	c, err := compareValues(">", a, b)
	if err != nil {
		return None, err
	}
	return FromBool(c > 0), nil
}

func opGeValues(a, b Value) (Value, error) {
	c, err := compareValues(">=", a, b)
	if err != nil {
		return None, err
	}
	return FromBool(c >= 0), nil
}
