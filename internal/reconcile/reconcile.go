// Package reconcile merges per-source extracts into one trusted value per
// field, detecting variances between sources of differing trust.
package reconcile

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

// Engine reconciles fields against one policy and form type.
type Engine struct {
	policy   *policy.Policy
	formType string
}

// New creates an Engine.
func New(p *policy.Policy, formType string) *Engine {
	return &Engine{policy: p, formType: formType}
}

// Reconcile merges every extract carrying field into a single value. It
// does not apply user actions; see ReconcileAll.
func (e *Engine) Reconcile(field string, extracts []model.Extract) (model.ReconciledValue, error) {
	f, fc, ok := e.policy.Field(field)
	if !ok {
		return model.ReconciledValue{}, eris.Wrapf(model.ErrUnknownField, "reconcile: %s", field)
	}

	rv := model.ReconciledValue{FieldName: field}
	contribs := e.contributions(field, fc, extracts)
	if len(contribs) == 0 {
		if f.Mandatory(e.formType) {
			rv.Variances = append(rv.Variances, missing(field, e.formType))
		}
		return rv, nil
	}

	// Highest-priority source at or above the confidence floor wins.
	// Everything ranked above it was skipped for low confidence.
	winIdx := -1
	for i, c := range contribs {
		if c.Confidence >= fc.ConfidenceFloor {
			winIdx = i
			break
		}
	}

	var variances []model.Variance
	if winIdx == -1 {
		winIdx = 0
		variances = append(variances, allBelowFloor(field, fc, contribs[0]))
		zap.L().Warn("reconcile: every source below confidence floor",
			zap.String("field", field),
			zap.String("using", string(contribs[0].Source)),
		)
	} else {
		for i := 0; i < winIdx; i++ {
			contribs[i].Skipped = true
			variances = append(variances, lowConfidence(field, fc, contribs[i], contribs[winIdx].Source))
			zap.L().Debug("reconcile: low confidence source skipped",
				zap.String("field", field),
				zap.String("source", string(contribs[i].Source)),
				zap.Float64("confidence", contribs[i].Confidence),
			)
		}
	}

	winner := contribs[winIdx]
	for i, c := range contribs {
		if i == winIdx {
			continue
		}
		if v, ok := mismatch(field, fc, winner, c); ok {
			variances = append(variances, v)
		}
	}

	rv.Value = winner.Value
	rv.WinningSource = winner.Source
	rv.Confidence = winner.Confidence
	rv.ContributingSources = contribs
	rv.Variances = variances
	rv.Transactions = winner.Transactions
	return rv, nil
}

// contributions builds one contribution per source, ordered by priority.
func (e *Engine) contributions(field string, fc policy.FieldClass, extracts []model.Extract) []model.SourceContribution {
	bySource := make(map[model.SourceKind][]model.Extract)
	for _, ex := range extracts {
		if _, ok := ex.Amounts[field]; ok {
			bySource[ex.SourceKind] = append(bySource[ex.SourceKind], ex)
		}
	}

	out := make([]model.SourceContribution, 0, len(bySource))
	for kind, exs := range bySource {
		// User edits always replace the whole value, even for summed fields.
		if fc.Aggregation == policy.AggregateSum && kind != model.SourceUserEdit {
			out = append(out, sumContribution(field, fc, kind, exs))
		} else {
			out = append(out, latestContribution(field, kind, exs))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return fc.Rank(out[i].Source) < fc.Rank(out[j].Source)
	})
	return out
}

// latestContribution keeps the newest extract; a newer extract of the same
// source supersedes older ones.
func latestContribution(field string, kind model.SourceKind, exs []model.Extract) model.SourceContribution {
	best := exs[0]
	for _, ex := range exs[1:] {
		if !ex.CapturedAt.Before(best.CapturedAt) {
			best = ex
		}
	}
	return model.SourceContribution{
		Source:     kind,
		Value:      best.Amounts[field],
		Confidence: best.Confidence,
		CapturedAt: best.CapturedAt,
		ExtractIDs: []string{best.ID},
	}
}

// sumContribution totals deduplicated transactions reported by one source.
func sumContribution(field string, fc policy.FieldClass, kind model.SourceKind, exs []model.Extract) model.SourceContribution {
	sort.SliceStable(exs, func(i, j int) bool { return exs[i].CapturedAt.Before(exs[j].CapturedAt) })

	c := model.SourceContribution{Source: kind, Confidence: 1}
	seen := make(map[string]bool)
	for _, ex := range exs {
		amt := ex.Amounts[field]
		key := dedupeKey(fc, ex, amt)
		if seen[key] {
			zap.L().Debug("reconcile: duplicate transaction dropped",
				zap.String("field", field),
				zap.String("source", string(kind)),
				zap.String("key", key),
			)
			continue
		}
		seen[key] = true

		c.Value += amt
		c.Confidence = math.Min(c.Confidence, ex.Confidence)
		if ex.CapturedAt.After(c.CapturedAt) {
			c.CapturedAt = ex.CapturedAt
		}
		c.ExtractIDs = append(c.ExtractIDs, ex.ID)
		c.Transactions = append(c.Transactions, model.Transaction{
			Key:       key,
			Date:      ex.Attributes["paid_on"],
			Amount:    amt,
			ExtractID: ex.ID,
		})
	}
	return c
}

// dedupeKey is the class's key attributes plus the amount. Extracts missing
// any key attribute cannot be matched and are keyed by their own id.
func dedupeKey(fc policy.FieldClass, ex model.Extract, amt money.Amount) string {
	if len(fc.DedupeKey) == 0 {
		return "extract:" + ex.ID
	}
	parts := make([]string, 0, len(fc.DedupeKey)+1)
	for _, attr := range fc.DedupeKey {
		v := ex.Attributes[attr]
		if v == "" {
			return "extract:" + ex.ID
		}
		parts = append(parts, v)
	}
	parts = append(parts, amt.Decimal().String())
	return strings.Join(parts, "|")
}
