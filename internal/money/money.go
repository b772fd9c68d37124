// Package money holds the fixed-point types used for every monetary value:
// whole-rupee amounts and basis-point rates. Binary floats never carry money.
package money

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// Amount is a monetary value in whole rupees.
type Amount int64

// Rate is a percentage expressed in basis points (1% = 100).
type Rate int64

const bpScale = 10000

var printer = message.NewPrinter(language.MustParse("en-IN"))

// Parse converts a decimal string ("1,23,456.50", "₹4500", "85000") to an
// Amount, rounding half away from zero to the nearest rupee.
func Parse(s string) (Amount, error) {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(clean, "₹")
	clean = strings.TrimPrefix(clean, "Rs.")
	clean = strings.ReplaceAll(clean, ",", "")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return 0, eris.Errorf("money: empty amount %q", s)
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, eris.Wrapf(err, "money: parse %q", s)
	}
	return FromDecimal(d), nil
}

// FromDecimal rounds d to the nearest rupee.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Round(0).IntPart())
}

// FromAny converts a scalar produced by a JSON/YAML/CSV decoder into an Amount.
func FromAny(v any) (Amount, error) {
	switch x := v.(type) {
	case Amount:
		return x, nil
	case int:
		return Amount(x), nil
	case int32:
		return Amount(x), nil
	case int64:
		return Amount(x), nil
	case float64:
		// Go through the shortest decimal representation so 4500.5 stays 4500.5.
		return Parse(strconv.FormatFloat(x, 'f', -1, 64))
	case json.Number:
		return Parse(x.String())
	case string:
		return Parse(x)
	case decimal.Decimal:
		return FromDecimal(x), nil
	default:
		return 0, eris.Errorf("money: unsupported amount type %T", v)
	}
}

// Decimal returns the amount as a decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(a))
}

// Abs returns |a|.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// String renders the amount with Indian digit grouping, e.g. ₹1,25,000.
func (a Amount) String() string {
	return Format(a)
}

// Format renders a with a rupee sign and locale grouping.
func Format(a Amount) string {
	if a < 0 {
		return "-₹" + printer.Sprintf("%d", int64(-a))
	}
	return "₹" + printer.Sprintf("%d", int64(a))
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}

// NonNegative clamps a at zero.
func NonNegative(a Amount) Amount {
	return Max(a, 0)
}

// RoundToMultiple rounds a to the nearest multiple of m (half up).
func RoundToMultiple(a Amount, m Amount) Amount {
	if m <= 1 {
		return a
	}
	if a < 0 {
		return -RoundToMultiple(-a, m)
	}
	return ((a + m/2) / m) * m
}

// FloorToMultiple rounds a down to a multiple of m.
func FloorToMultiple(a Amount, m Amount) Amount {
	if m <= 1 || a <= 0 {
		return a
	}
	return (a / m) * m
}

// Of applies the rate to a, rounding half away from zero to the nearest rupee.
func (r Rate) Of(a Amount) Amount {
	if a < 0 {
		return -r.Of(-a)
	}
	p := int64(a) * int64(r)
	return Amount((p + bpScale/2) / bpScale)
}

// Times multiplies the rate by a whole factor (e.g. months of interest).
func (r Rate) Times(n int) Rate {
	return r * Rate(n)
}

// Decimal returns the rate as a fraction (5% = 0.05).
func (r Rate) Decimal() decimal.Decimal {
	return decimal.New(int64(r), -4)
}

// String renders the rate as a percentage, e.g. "12.5%".
func (r Rate) String() string {
	return decimal.New(int64(r), -2).String() + "%"
}

// ParseRate accepts "12.5%" or "1250bp".
func ParseRate(s string) (Rate, error) {
	clean := strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(clean, "%"):
		d, err := decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(clean, "%")))
		if err != nil {
			return 0, eris.Wrapf(err, "money: parse rate %q", s)
		}
		return Rate(d.Shift(2).Round(0).IntPart()), nil
	case strings.HasSuffix(clean, "bp"):
		n, err := strconv.ParseInt(strings.TrimSpace(strings.TrimSuffix(clean, "bp")), 10, 64)
		if err != nil {
			return 0, eris.Wrapf(err, "money: parse rate %q", s)
		}
		return Rate(n), nil
	default:
		return 0, eris.Errorf("money: rate %q must end in %% or bp", s)
	}
}

// MarshalYAML writes the rate back in percent form.
func (r Rate) MarshalYAML() (any, error) {
	return r.String(), nil
}

// UnmarshalYAML lets policy tables write rates as "5%".
func (r *Rate) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseRate(node.Value)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
