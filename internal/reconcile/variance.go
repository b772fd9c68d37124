package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

// fingerprint identifies a variance across passes. The same disagreement
// (same sources, same amounts) always yields the same fingerprint, so user
// acknowledgments survive re-reconciliation but a new disagreement does not
// inherit them.
func fingerprint(field string, kind model.VarianceKind, parts ...any) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", field, kind)
	for _, p := range parts {
		fmt.Fprintf(h, "|%v", p)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func mismatch(field string, fc policy.FieldClass, winner, other model.SourceContribution) (model.Variance, bool) {
	delta := (winner.Value - other.Value).Abs()
	if delta <= fc.Threshold {
		return model.Variance{}, false
	}

	sev := model.SeverityWarning
	if delta > fc.HardCap || fc.PaymentCritical {
		sev = model.SeverityBlocking
	}
	return model.Variance{
		Kind:     model.VarianceMismatch,
		Severity: sev,
		Source:   other.Source,
		Description: fmt.Sprintf("%s: %s reports %s, %s reports %s (delta %s, threshold %s)",
			field, winner.Source, money.Format(winner.Value), other.Source, money.Format(other.Value),
			money.Format(delta), money.Format(fc.Threshold)),
		ExpectedRange: model.Range{Min: winner.Value - fc.Threshold, Max: winner.Value + fc.Threshold},
		Actual:        other.Value,
		Delta:         delta,
		Fingerprint:   fingerprint(field, model.VarianceMismatch, winner.Source, winner.Value, other.Source, other.Value),
	}, true
}

func lowConfidence(field string, fc policy.FieldClass, skipped model.SourceContribution, used model.SourceKind) model.Variance {
	return model.Variance{
		Kind:     model.VarianceLowConfidence,
		Severity: model.SeverityWarning,
		Source:   skipped.Source,
		Description: fmt.Sprintf("%s: %s skipped, confidence %.2f below floor %.2f; using %s",
			field, skipped.Source, skipped.Confidence, fc.ConfidenceFloor, used),
		Actual:      skipped.Value,
		Fingerprint: fingerprint(field, model.VarianceLowConfidence, skipped.Source, skipped.Value, skipped.Confidence, used),
	}
}

func allBelowFloor(field string, fc policy.FieldClass, used model.SourceContribution) model.Variance {
	return model.Variance{
		Kind:     model.VarianceLowConfidence,
		Severity: model.SeverityWarning,
		Source:   used.Source,
		Description: fmt.Sprintf("%s: every source is below confidence floor %.2f; using %s at %.2f",
			field, fc.ConfidenceFloor, used.Source, used.Confidence),
		Actual:      used.Value,
		Fingerprint: fingerprint(field, model.VarianceLowConfidence, "all", used.Source, used.Value, used.Confidence),
	}
}

func missing(field, formType string) model.Variance {
	return model.Variance{
		Kind:        model.VarianceMissing,
		Severity:    model.SeverityBlocking,
		Description: fmt.Sprintf("%s: no source provided this field (mandatory for %s)", field, formType),
		Fingerprint: fingerprint(field, model.VarianceMissing, formType),
	}
}
