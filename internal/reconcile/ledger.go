package reconcile

import (
	"math"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
)

// ReconcileAll produces the ledger for every catalogued field and replays
// the user action log over it. Fields come out in sorted order.
func (e *Engine) ReconcileAll(extracts []model.Extract, actions []model.UserAction) model.Ledger {
	ledger := model.Ledger{PolicyVersion: e.policy.Version}
	byField := groupActions(actions)

	for _, name := range e.policy.FieldNames() {
		rv, err := e.Reconcile(name, extracts)
		if err != nil {
			// Unreachable: name comes from the catalogue.
			continue
		}
		ApplyActions(&rv, byField[name])
		ledger.Fields = append(ledger.Fields, rv)
	}
	ledger.Confidence = score(ledger)
	return ledger
}

func groupActions(actions []model.UserAction) map[string][]model.UserAction {
	out := make(map[string][]model.UserAction)
	for _, a := range actions {
		out[a.Field] = append(out[a.Field], a)
	}
	return out
}

// ApplyActions replays a field's actions, in log order, over a freshly
// reconciled value. Variances are never removed, only marked: an override
// resolves the variances that were live when it was made, a confirmation
// acknowledges the non-blocking ones. Variances that appear later stay live.
func ApplyActions(rv *model.ReconciledValue, actions []model.UserAction) {
	var (
		override     *money.Amount
		reason       string
		overrideFPs  map[string]bool
		confirmFPs   = make(map[string]bool)
		hasConfirmed bool
	)
	for _, a := range actions {
		switch a.Kind {
		case model.ActionOverride:
			if a.Value == nil {
				continue
			}
			v := *a.Value
			override = &v
			reason = a.Reason
			overrideFPs = toSet(a.Fingerprints)
		case model.ActionClearOverride:
			override = nil
			reason = ""
			overrideFPs = nil
		case model.ActionConfirm:
			hasConfirmed = true
			for _, fp := range a.Fingerprints {
				confirmFPs[fp] = true
			}
		}
	}

	rv.OverriddenValue = override
	rv.OverrideReason = reason

	covered := true
	for i := range rv.Variances {
		v := &rv.Variances[i]
		if override != nil && overrideFPs[v.Fingerprint] {
			v.ResolvedByOverride = true
		}
		if v.Severity != model.SeverityBlocking {
			if confirmFPs[v.Fingerprint] {
				v.Acknowledged = true
			} else if !v.ResolvedByOverride {
				covered = false
			}
		}
	}
	rv.Confirmed = hasConfirmed && covered
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}

// score is the amount-weighted confidence of the winning sources, less a
// penalty for live variances.
func score(l model.Ledger) float64 {
	var total, weighted float64
	var warnings, blocking int
	for _, f := range l.Fields {
		amt := math.Abs(float64(f.Effective()))
		conf := f.Confidence
		if f.OverriddenValue != nil {
			conf = 1
		}
		total += amt
		weighted += amt * conf
		for _, v := range f.LiveVariances() {
			if v.Severity == model.SeverityBlocking {
				blocking++
			} else {
				warnings++
			}
		}
	}
	if total == 0 {
		return 0
	}
	s := weighted/total - math.Min(float64(warnings)*0.05, 0.2) - math.Min(float64(blocking)*0.1, 0.3)
	s = math.Max(0, math.Min(1, s))
	return math.Round(s*100) / 100
}

// LiveFingerprints returns the fingerprints of rv's live variances, the set
// an override made now would resolve.
func LiveFingerprints(rv model.ReconciledValue) []string {
	var out []string
	for _, v := range rv.LiveVariances() {
		out = append(out, v.Fingerprint)
	}
	return out
}
