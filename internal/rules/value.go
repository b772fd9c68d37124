package rules

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/taxprep/internal/money"
)

// Value is a rule-context value: a fixed-point number or a boolean.
type Value struct {
	isBool bool
	num    decimal.Decimal
	b      bool
}

// Number wraps a decimal.
func Number(d decimal.Decimal) Value { return Value{num: d} }

// Int wraps an integer.
func Int(n int64) Value { return Value{num: decimal.NewFromInt(n)} }

// Amount wraps a rupee amount.
func Amount(a money.Amount) Value { return Value{num: a.Decimal()} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{isBool: true, b: b} }

// IsBool reports whether v holds a boolean.
func (v Value) IsBool() bool { return v.isBool }

// Num returns the numeric value; booleans are 0 or 1.
func (v Value) Num() decimal.Decimal {
	if v.isBool {
		if v.b {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	}
	return v.num
}

// Truthy reports the boolean value; numbers are true when non-zero.
func (v Value) Truthy() bool {
	if v.isBool {
		return v.b
	}
	return !v.num.IsZero()
}

func (v Value) String() string {
	if v.isBool {
		if v.b {
			return "true"
		}
		return "false"
	}
	return v.num.String()
}

// Equal compares kind and value.
func (v Value) Equal(o Value) bool {
	if v.isBool != o.isBool {
		return false
	}
	if v.isBool {
		return v.b == o.b
	}
	return v.num.Equal(o.num)
}

// Context is the flat variable namespace a rule is evaluated against.
type Context map[string]Value
