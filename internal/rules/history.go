package rules

import (
	"sort"

	"github.com/sells-group/taxprep/internal/model"
)

// Latest reduces an append-only history to the most recent result per rule
// code, sorted by code. Later entries win ties on EvaluatedAt.
func Latest(history []model.RuleResult) []model.RuleResult {
	latest := make(map[string]model.RuleResult)
	for _, r := range history {
		cur, ok := latest[r.RuleCode]
		if !ok || !r.EvaluatedAt.Before(cur.EvaluatedAt) {
			latest[r.RuleCode] = r
		}
	}
	out := make([]model.RuleResult, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleCode < out[j].RuleCode })
	return out
}

// Filter narrows results. Zero-valued fields match everything.
type Filter struct {
	Category    string
	MinSeverity model.Severity
	FailedOnly  bool
	PassID      string
}

// Apply returns the results matching f.
func (f Filter) Apply(results []model.RuleResult) []model.RuleResult {
	var out []model.RuleResult
	for _, r := range results {
		if f.Category != "" && r.Category != f.Category {
			continue
		}
		if f.MinSeverity != "" && !r.Severity.AtLeast(f.MinSeverity) {
			continue
		}
		if f.FailedOnly && r.Passed {
			continue
		}
		if f.PassID != "" && r.PassID != f.PassID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Summary counts results by outcome.
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Info     int `json:"failed_info"`
	Warnings int `json:"failed_warning"`
	Errors   int `json:"failed_error"`
}

// Summarize counts results.
func Summarize(results []model.RuleResult) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		if r.Passed {
			s.Passed++
			continue
		}
		switch r.Severity {
		case model.SeverityError, model.SeverityBlocking:
			s.Errors++
		case model.SeverityWarning:
			s.Warnings++
		default:
			s.Info++
		}
	}
	return s
}
