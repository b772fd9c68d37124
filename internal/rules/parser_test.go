package rules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalString(t *testing.T, src string, vars Context) (Value, error) {
	t.Helper()
	root, err := parse(src)
	require.NoError(t, err, src)
	require.NoError(t, checkCalls(root), src)
	return root.eval(&env{ctx: vars, used: map[string]Value{}})
}

func TestEval_Arithmetic(t *testing.T) {
	t.Parallel()

	vars := Context{"a": Int(10), "b": Int(4), "rate": Number(decimal.RequireFromString("0.04"))}
	tests := []struct {
		expr string
		want string
	}{
		{"a + b * 2", "18"},
		{"(a + b) * 2", "28"},
		{"a - b - 1", "5"},
		{"a / b", "2.5"},
		{"a % b", "2"},
		{"-a + 3", "-7"},
		{"--a", "10"},
		{"1_000 + 0.5", "1000.5"},
		{"min(a, b, 7)", "4"},
		{"max(a, b)", "10"},
		{"abs(b - a)", "6"},
		{"round(2.5)", "3"},
		{"round(-2.5)", "-3"},
		{"round(a / 3, 2)", "3.33"},
		{"round(71500 * rate)", "2860"},
		{"a > b ? a : b", "10"},
		{"a < b ? 1 : b > 3 ? 2 : 3", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			v, err := evalString(t, tt.expr, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestEval_Boolean(t *testing.T) {
	t.Parallel()

	vars := Context{"a": Int(10), "flag": Bool(true), "off": Bool(false)}
	tests := []struct {
		expr string
		want bool
	}{
		{"a == 10", true},
		{"a != 10", false},
		{"a >= 10 and a <= 10", true},
		{"a > 10 or flag", true},
		{"not flag", false},
		{"!off && flag", true},
		{"off || a < 5", false},
		{"flag == true", true},
		{"flag == 1", true},
		{"true and not false", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			v, err := evalString(t, tt.expr, vars)
			require.NoError(t, err)
			require.True(t, v.IsBool())
			assert.Equal(t, tt.want, v.Truthy())
		})
	}
}

func TestEval_ShortCircuit(t *testing.T) {
	t.Parallel()

	// missing would fail if evaluated.
	v, err := evalString(t, "false and missing > 0", Context{})
	require.NoError(t, err)
	assert.False(t, v.Truthy())

	v, err = evalString(t, "true or missing > 0", Context{})
	require.NoError(t, err)
	assert.True(t, v.Truthy())
}

func TestEval_Errors(t *testing.T) {
	t.Parallel()

	vars := Context{"a": Int(1), "flag": Bool(true)}
	for _, expr := range []string{
		"a / 0",
		"a % 0",
		"missing + 1",
		"flag + 1",
		"a and flag",
		"not a",
		"a ? 1 : 2",
		"round(a, 0.5)",
	} {
		t.Run(expr, func(t *testing.T) {
			t.Parallel()
			_, err := evalString(t, expr, vars)
			assert.Error(t, err)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{
		"",
		"a +",
		"(a + 1",
		"a = 1",
		"a < b < c",
		"a ? 1",
		"min(a b)",
		"a $ b",
		"1 2",
		"and",
	} {
		t.Run(expr, func(t *testing.T) {
			t.Parallel()
			_, err := parse(expr)
			assert.Error(t, err)
		})
	}
}

func TestCheckCalls(t *testing.T) {
	t.Parallel()

	for expr, ok := range map[string]bool{
		"min(1)":          true,
		"round(1, 2)":     true,
		"abs(1, 2)":       false,
		"round()":         false,
		"sqrt(4)":         false,
		"max(1, eval(2))": false,
	} {
		root, err := parse(expr)
		require.NoError(t, err, expr)
		if ok {
			assert.NoError(t, checkCalls(root), expr)
		} else {
			assert.Error(t, checkCalls(root), expr)
		}
	}
}

func TestVariables(t *testing.T) {
	t.Parallel()

	root, err := parse("b + a > min(c, a) ? d : 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, variables(root))
}
