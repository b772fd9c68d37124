package rules

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/taxprep/internal/model"
)

const maxConcurrency = 8

// Evaluate runs every enabled rule against vars and returns one result per
// rule, sorted by code. Rules do not see each other's results, so they run
// in parallel. An evaluation error never aborts the batch: it becomes a
// failed result escalated to ERROR.
func Evaluate(ctx context.Context, rules []*Rule, vars Context, now time.Time) ([]model.RuleResult, error) {
	passID := uuid.NewString()

	var (
		mu      sync.Mutex
		results = make([]model.RuleResult, 0, len(rules))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, r := range rules {
		if !r.IsEnabled() {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res := EvaluateRule(r, vars, now)
			res.PassID = passID

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "rules: evaluate")
	}

	sort.Slice(results, func(i, j int) bool { return results[i].RuleCode < results[j].RuleCode })
	return results, nil
}

// EvaluateRule evaluates a single rule.
func EvaluateRule(r *Rule, vars Context, now time.Time) model.RuleResult {
	res := model.RuleResult{
		RuleCode:    r.Code,
		Category:    r.Category,
		Field:       r.Field,
		Severity:    r.Severity,
		InputsUsed:  map[string]string{},
		EvaluatedAt: now,
	}

	if r.compileErr != nil {
		return failWithError(res, r, r.compileErr)
	}

	e := &env{ctx: vars, defaults: r.defaults, used: make(map[string]Value)}
	out, err := r.root.eval(e)
	for name, v := range e.used {
		res.InputsUsed[name] = v.String()
	}
	if err != nil {
		return failWithError(res, r, err)
	}

	res.OutputValue = out.String()
	res.Passed = out.Truthy()
	tmpl := r.MessageFail
	if res.Passed {
		tmpl = r.MessagePass
	}
	if tmpl == "" {
		tmpl = r.Description
	}
	res.Message = render(tmpl, vars, r.defaults, out)
	return res
}

func failWithError(res model.RuleResult, r *Rule, err error) model.RuleResult {
	ruleErr := &model.RuleEvaluationError{RuleCode: r.Code, Err: err}
	zap.L().Debug("rules: evaluation error",
		zap.String("rule", r.Code),
		zap.Error(err),
	)
	res.Passed = false
	res.Severity = model.SeverityError
	res.Error = ruleErr.Error()
	res.Message = ruleErr.Error()
	return res
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// render substitutes {name} with context values; {output} is the result.
func render(tmpl string, vars, defaults Context, out Value) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		if name == "output" {
			return out.String()
		}
		if v, ok := vars[name]; ok {
			return v.String()
		}
		if v, ok := defaults[name]; ok {
			return v.String()
		}
		return m
	})
}
