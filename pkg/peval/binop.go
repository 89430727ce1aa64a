package peval

import (
	"fmt"
	"math"
)

// Arithmetic and comparison over concrete operands. Named constants count
// as their integer value; anything symbolic is an error, surfaced with
// the offending statement by the caller.

func evalBinary(op string, left, right Value) (Value, error) {
	if lf, lok := asFloat(left); lok {
		if rf, rok := asFloat(right); rok {
			if isFloatKind(left) || isFloatKind(right) {
				return floatBinary(op, lf, rf)
			}
			li, _ := asInt(left)
			ri, _ := asInt(right)
			return intBinary(op, li, ri)
		}
	}
	if ls, lok := left.(*StringValue); lok {
		if rs, rok := right.(*StringValue); rok {
			switch op {
			case "==":
				return &BoolValue{Value: ls.Value == rs.Value}, nil
			case "!=":
				return &BoolValue{Value: ls.Value != rs.Value}, nil
			case "+":
				return &StringValue{Value: ls.Value + rs.Value}, nil
			}
		}
	}
	if op == "==" || op == "!=" {
		if eq, ok := symbolicEqual(left, right); ok {
			return &BoolValue{Value: eq == (op == "==")}, nil
		}
	}
	return nil, fmt.Errorf("peval: non-concrete operands for %s: %s %s %s",
		op, Format(left), op, Format(right))
}

// symbolicEqual compares reference values that carry a stable name.
func symbolicEqual(left, right Value) (bool, bool) {
	ln, lok := referenceName(left)
	rn, rok := referenceName(right)
	if lok && rok {
		return left.Kind() == right.Kind() && ln == rn, true
	}
	// A reference compared against nil is never nil-equal.
	if lok && right.Kind() == KindNil || rok && left.Kind() == KindNil {
		return false, true
	}
	return false, false
}

func referenceName(v Value) (string, bool) {
	switch x := v.(type) {
	case *SymbolValue:
		return x.Name, true
	case *VarRef:
		return x.Name, true
	case *GlobalRef:
		return x.Name, true
	}
	return "", false
}

func intBinary(op string, l, r int64) (Value, error) {
	switch op {
	case "+":
		return &IntValue{Value: l + r}, nil
	case "-":
		return &IntValue{Value: l - r}, nil
	case "*":
		return &IntValue{Value: l * r}, nil
	case "/":
		if r == 0 {
			return nil, fmt.Errorf("peval: division by zero")
		}
		return &IntValue{Value: l / r}, nil
	case "%":
		if r == 0 {
			return nil, fmt.Errorf("peval: modulo by zero")
		}
		return &IntValue{Value: l % r}, nil
	case "<<":
		return &IntValue{Value: l << uint(r)}, nil
	case ">>":
		return &IntValue{Value: l >> uint(r)}, nil
	case "&":
		return &IntValue{Value: l & r}, nil
	case "|":
		return &IntValue{Value: l | r}, nil
	case "^":
		return &IntValue{Value: l ^ r}, nil
	case "==":
		return &BoolValue{Value: l == r}, nil
	case "!=":
		return &BoolValue{Value: l != r}, nil
	case "<":
		return &BoolValue{Value: l < r}, nil
	case "<=":
		return &BoolValue{Value: l <= r}, nil
	case ">":
		return &BoolValue{Value: l > r}, nil
	case ">=":
		return &BoolValue{Value: l >= r}, nil
	}
	return nil, fmt.Errorf("peval: unsupported integer operator %q", op)
}

func floatBinary(op string, l, r float64) (Value, error) {
	switch op {
	case "+":
		return &FloatValue{Value: l + r}, nil
	case "-":
		return &FloatValue{Value: l - r}, nil
	case "*":
		return &FloatValue{Value: l * r}, nil
	case "/":
		return &FloatValue{Value: l / r}, nil
	case "%":
		return &FloatValue{Value: math.Mod(l, r)}, nil
	case "==":
		return &BoolValue{Value: l == r}, nil
	case "!=":
		return &BoolValue{Value: l != r}, nil
	case "<":
		return &BoolValue{Value: l < r}, nil
	case "<=":
		return &BoolValue{Value: l <= r}, nil
	case ">":
		return &BoolValue{Value: l > r}, nil
	case ">=":
		return &BoolValue{Value: l >= r}, nil
	}
	return nil, fmt.Errorf("peval: unsupported float operator %q", op)
}

func asInt(v Value) (int64, bool) {
	switch x := v.(type) {
	case *IntValue:
		return x.Value, true
	case *ConstantValue:
		return x.Value, true
	case *BoolValue:
		if x.Value {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func asFloat(v Value) (float64, bool) {
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	if f, ok := v.(*FloatValue); ok {
		return f.Value, true
	}
	return 0, false
}

func isFloatKind(v Value) bool {
	return v.Kind() == KindFloat
}

// truth reduces a value to a concrete boolean, C-style. Symbolic values
// have no truth value; branch conditions over them are hard errors.
func truth(v Value) (bool, error) {
	switch x := v.(type) {
	case *NilValue:
		return false, nil
	case *BoolValue:
		return x.Value, nil
	case *IntValue:
		return x.Value != 0, nil
	case *FloatValue:
		return x.Value != 0, nil
	case *StringValue:
		return x.Value != "", nil
	case *ConstantValue:
		return x.Value != 0, nil
	}
	return false, fmt.Errorf("peval: condition is not concrete: %s", Format(v))
}
