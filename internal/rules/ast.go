package rules

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// node is an expression tree node. Nodes are immutable after parsing and
// safe to evaluate concurrently.
type node interface {
	eval(env *env) (Value, error)
}

type numberLit struct{ v decimal.Decimal }

type boolLit struct{ v bool }

type varRef struct{ name string }

type unaryExpr struct {
	op      string
	operand node
}

type binaryExpr struct {
	op          string
	left, right node
}

type ternaryExpr struct {
	cond, then, otherwise node
}

type callExpr struct {
	fn   string
	args []node
}

// builtins maps function names to their minimum and maximum arity; -1 means
// variadic.
var builtins = map[string][2]int{
	"min":   {1, -1},
	"max":   {1, -1},
	"abs":   {1, 1},
	"round": {1, 2},
}

// walk visits every node depth-first.
func walk(n node, fn func(node)) {
	fn(n)
	switch t := n.(type) {
	case *unaryExpr:
		walk(t.operand, fn)
	case *binaryExpr:
		walk(t.left, fn)
		walk(t.right, fn)
	case *ternaryExpr:
		walk(t.cond, fn)
		walk(t.then, fn)
		walk(t.otherwise, fn)
	case *callExpr:
		for _, a := range t.args {
			walk(a, fn)
		}
	}
}

// variables returns the sorted, distinct variable names referenced by n.
func variables(n node) []string {
	seen := make(map[string]bool)
	walk(n, func(x node) {
		if v, ok := x.(*varRef); ok {
			seen[v.name] = true
		}
	})
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// checkCalls validates function names and arity.
func checkCalls(n node) error {
	var err error
	walk(n, func(x node) {
		c, ok := x.(*callExpr)
		if !ok || err != nil {
			return
		}
		arity, known := builtins[c.fn]
		if !known {
			err = eris.Errorf("unknown function %q", c.fn)
			return
		}
		if len(c.args) < arity[0] || (arity[1] >= 0 && len(c.args) > arity[1]) {
			err = eris.Errorf("function %s called with %d argument(s)", c.fn, len(c.args))
		}
	})
	return err
}
