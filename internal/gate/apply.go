package gate

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/taxprep/internal/model"
)

// Plan is what a confirmation submission turns into: actions to append to
// the return's log and USER_EDIT extracts to feed back into reconciliation.
type Plan struct {
	Actions   []model.UserAction
	Extracts  []model.RawExtract
	Confirmed []string
	Edited    []string
	Rejected  []string
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.Actions) == 0 && len(p.Extracts) == 0
}

// ApplyConfirmations validates a submission against the current state.
// Confirming an item acknowledges its live non-blocking variances and its
// failed WARNING rules; a blocking item is rejected, since only an override
// or an edit that re-reconciles cleanly can clear it. Edits become USER_EDIT
// extracts at full confidence.
func (g *Gate) ApplyConfirmations(in Input, confirmed []string, edits []model.Edit, now time.Time) Plan {
	now = now.UTC()
	items := g.items(in)
	byID := make(map[string]item, len(items))
	for _, it := range items {
		byID[it.LineItemID] = it
	}

	var plan Plan
	for _, id := range confirmed {
		it, ok := byID[id]
		switch {
		case !ok:
			plan.Rejected = append(plan.Rejected, id+": unknown line item")
			continue
		case it.Blocking:
			plan.Rejected = append(plan.Rejected, id+": blocking; override or edit the value")
			continue
		}
		fps := append(append([]string(nil), it.varianceFPs...), it.ruleFPs...)
		plan.Actions = append(plan.Actions, model.UserAction{
			ID:           uuid.NewString(),
			ReturnID:     in.ReturnID,
			Field:        id,
			Kind:         model.ActionConfirm,
			Fingerprints: fps,
			CreatedAt:    now,
		})
		plan.Confirmed = append(plan.Confirmed, id)
	}

	for _, e := range edits {
		f, fc, ok := g.policy.Field(e.Field)
		switch {
		case !ok:
			plan.Rejected = append(plan.Rejected, e.Field+": not an editable field")
			continue
		case f.ReadOnly:
			plan.Rejected = append(plan.Rejected, e.Field+": read-only")
			continue
		case e.Value < 0 && !fc.AllowNegative:
			plan.Rejected = append(plan.Rejected, e.Field+": negative amount")
			continue
		}
		plan.Extracts = append(plan.Extracts, model.RawExtract{
			SourceKind: model.SourceUserEdit,
			Fields:     map[string]any{e.Field: int64(e.Value)},
			Confidence: 1.0,
			CapturedAt: now,
			Provenance: model.Provenance{Parser: "confirmation", Note: e.Reason},
		})
		plan.Edited = append(plan.Edited, e.Field)
	}

	if len(plan.Rejected) > 0 {
		zap.L().Debug("gate: submission items rejected",
			zap.String("return_id", in.ReturnID),
			zap.Strings("rejected", plan.Rejected),
		)
	}
	return plan
}

// Outcome combines a plan with the view rebuilt after re-running the pipeline.
func Outcome(plan Plan, view model.ConfirmationView) model.GateOutcome {
	return model.GateOutcome{
		CanProceed:      view.CanProceed,
		Outstanding:     view.Outstanding,
		BlockingReasons: view.BlockingReasons,
		Confirmed:       plan.Confirmed,
		Edited:          plan.Edited,
		Rejected:        plan.Rejected,
		View:            view,
	}
}
