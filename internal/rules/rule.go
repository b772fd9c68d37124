// Package rules evaluates a declarative, auditable rule set over a flat
// context built from the reconciled ledger and the computation. Expressions
// use a small fixed grammar evaluated by a tree-walking interpreter.
package rules

import (
	"embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/taxprep/internal/model"
)

//go:embed data/rules.yaml
var embedded embed.FS

// Definition is one rule as written in the rules file.
type Definition struct {
	Code        string               `yaml:"code"`
	Description string               `yaml:"description"`
	Category    string               `yaml:"category"`
	Severity    model.Severity       `yaml:"severity"`
	Field       string               `yaml:"field"`
	Expression  string               `yaml:"expression"`
	Defaults    map[string]yaml.Node `yaml:"defaults"`
	MessagePass string               `yaml:"message_pass"`
	MessageFail string               `yaml:"message_fail"`
	Enabled     *bool                `yaml:"enabled"`
}

// Rule is a compiled Definition. A rule that failed to compile keeps its
// error and reports it as an ERROR result on every evaluation.
type Rule struct {
	Definition
	root       node
	vars       []string
	defaults   Context
	compileErr error
}

// Variables lists the context variables the expression reads.
func (r *Rule) Variables() []string { return r.vars }

// Err returns the compile error, if any.
func (r *Rule) Err() error { return r.compileErr }

// IsEnabled reports whether the rule should run; rules default to enabled.
func (r *Rule) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

// Compile parses and checks a definition. It never fails: problems are
// carried on the Rule and surface as ERROR results.
func Compile(def Definition) *Rule {
	r := &Rule{Definition: def, defaults: make(Context)}
	if r.Category == "" {
		r.Category = "general"
	}
	if r.Severity == "" {
		r.Severity = model.SeverityInfo
	}
	r.Severity = model.Severity(strings.ToUpper(string(r.Severity)))

	for name, n := range def.Defaults {
		v, err := defaultValue(&n)
		if err != nil {
			r.compileErr = eris.Wrapf(err, "default %s", name)
			return r
		}
		r.defaults[name] = v
	}

	root, err := parse(def.Expression)
	if err != nil {
		r.compileErr = eris.Wrap(err, "parse expression")
		return r
	}
	if err := checkCalls(root); err != nil {
		r.compileErr = err
		return r
	}
	r.root = root
	r.vars = variables(root)
	return r
}

func defaultValue(n *yaml.Node) (Value, error) {
	switch n.Tag {
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case "!!int", "!!float", "!!str":
		d, err := decimal.NewFromString(n.Value)
		if err != nil {
			return Value{}, eris.Errorf("value %q is not a number", n.Value)
		}
		return Number(d), nil
	}
	return Value{}, eris.Errorf("unsupported default of kind %s", n.Tag)
}

type file struct {
	Rules []Definition `yaml:"rules"`
}

// Parse decodes a rules document and compiles every rule. Only YAML syntax
// errors and duplicate or missing codes fail the load.
func Parse(data []byte) ([]*Rule, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "rules: parse")
	}
	seen := make(map[string]bool)
	out := make([]*Rule, 0, len(f.Rules))
	for i, def := range f.Rules {
		if def.Code == "" {
			return nil, eris.Errorf("rules: rule %d has no code", i)
		}
		if seen[def.Code] {
			return nil, eris.Errorf("rules: duplicate code %s", def.Code)
		}
		seen[def.Code] = true
		out = append(out, Compile(def))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Load reads a rules file from disk.
func Load(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", path)
	}
	return Parse(data)
}

// Default returns the built-in rule set.
func Default() ([]*Rule, error) {
	data, err := embedded.ReadFile("data/rules.yaml")
	if err != nil {
		return nil, eris.Wrap(err, "rules: read built-in rules")
	}
	return Parse(data)
}
