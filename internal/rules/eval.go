package rules

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// env resolves variables for one rule and records which were read.
type env struct {
	ctx      Context
	defaults Context
	used     map[string]Value
}

func (e *env) lookup(name string) (Value, error) {
	if v, ok := e.ctx[name]; ok {
		e.used[name] = v
		return v, nil
	}
	if v, ok := e.defaults[name]; ok {
		e.used[name] = v
		return v, nil
	}
	return Value{}, eris.Errorf("variable %q is not in context and has no default", name)
}

func (n *numberLit) eval(*env) (Value, error) { return Number(n.v), nil }

func (n *boolLit) eval(*env) (Value, error) { return Bool(n.v), nil }

func (n *varRef) eval(e *env) (Value, error) { return e.lookup(n.name) }

func (n *unaryExpr) eval(e *env) (Value, error) {
	v, err := n.operand.eval(e)
	if err != nil {
		return Value{}, err
	}
	switch n.op {
	case "not":
		b, err := asBool(v, "not")
		if err != nil {
			return Value{}, err
		}
		return Bool(!b), nil
	default:
		d, err := asNum(v, "-")
		if err != nil {
			return Value{}, err
		}
		return Number(d.Neg()), nil
	}
}

func (n *ternaryExpr) eval(e *env) (Value, error) {
	c, err := n.cond.eval(e)
	if err != nil {
		return Value{}, err
	}
	b, err := asBool(c, "?:")
	if err != nil {
		return Value{}, err
	}
	if b {
		return n.then.eval(e)
	}
	return n.otherwise.eval(e)
}

func (n *binaryExpr) eval(e *env) (Value, error) {
	left, err := n.left.eval(e)
	if err != nil {
		return Value{}, err
	}

	// Short-circuit connectives.
	if n.op == "and" || n.op == "or" {
		lb, err := asBool(left, n.op)
		if err != nil {
			return Value{}, err
		}
		if (n.op == "and" && !lb) || (n.op == "or" && lb) {
			return Bool(lb), nil
		}
		right, err := n.right.eval(e)
		if err != nil {
			return Value{}, err
		}
		rb, err := asBool(right, n.op)
		if err != nil {
			return Value{}, err
		}
		return Bool(rb), nil
	}

	right, err := n.right.eval(e)
	if err != nil {
		return Value{}, err
	}

	switch n.op {
	case "==":
		return Bool(equalValues(left, right)), nil
	case "!=":
		return Bool(!equalValues(left, right)), nil
	}

	l, err := asNum(left, n.op)
	if err != nil {
		return Value{}, err
	}
	r, err := asNum(right, n.op)
	if err != nil {
		return Value{}, err
	}

	switch n.op {
	case "<":
		return Bool(l.LessThan(r)), nil
	case "<=":
		return Bool(l.LessThanOrEqual(r)), nil
	case ">":
		return Bool(l.GreaterThan(r)), nil
	case ">=":
		return Bool(l.GreaterThanOrEqual(r)), nil
	case "+":
		return Number(l.Add(r)), nil
	case "-":
		return Number(l.Sub(r)), nil
	case "*":
		return Number(l.Mul(r)), nil
	case "/":
		if r.IsZero() {
			return Value{}, eris.New("division by zero")
		}
		return Number(l.Div(r)), nil
	case "%":
		if r.IsZero() {
			return Value{}, eris.New("modulo by zero")
		}
		return Number(l.Mod(r)), nil
	}
	return Value{}, eris.Errorf("unknown operator %q", n.op)
}

func (n *callExpr) eval(e *env) (Value, error) {
	args := make([]decimal.Decimal, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(e)
		if err != nil {
			return Value{}, err
		}
		d, err := asNum(v, n.fn)
		if err != nil {
			return Value{}, err
		}
		args[i] = d
	}

	switch n.fn {
	case "min":
		return Number(decimal.Min(args[0], args[1:]...)), nil
	case "max":
		return Number(decimal.Max(args[0], args[1:]...)), nil
	case "abs":
		return Number(args[0].Abs()), nil
	case "round":
		places := int32(0)
		if len(args) == 2 {
			if !args[1].IsInteger() {
				return Value{}, eris.New("round: places must be an integer")
			}
			places = int32(args[1].IntPart())
		}
		return Number(args[0].Round(places)), nil
	}
	return Value{}, eris.Errorf("unknown function %q", n.fn)
}

func equalValues(a, b Value) bool {
	if a.IsBool() != b.IsBool() {
		return a.Num().Equal(b.Num())
	}
	return a.Equal(b)
}

func asNum(v Value, op string) (decimal.Decimal, error) {
	if v.IsBool() {
		return decimal.Decimal{}, eris.Errorf("operator %s needs a number, got %s", op, v)
	}
	return v.num, nil
}

func asBool(v Value, op string) (bool, error) {
	if !v.IsBool() {
		return false, eris.Errorf("operator %s needs a boolean, got %s", op, v)
	}
	return v.b, nil
}
