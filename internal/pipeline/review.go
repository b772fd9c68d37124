package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxprep/internal/export"
	"github.com/sells-group/taxprep/internal/gate"
	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/reconcile"
	"github.com/sells-group/taxprep/internal/rules"
)

// CreateReturn registers a new return, filling unset profile fields from
// the pipeline defaults. Every step starts PENDING.
func (p *Pipeline) CreateReturn(ctx context.Context, profile model.TaxpayerProfile) (*model.TaxReturn, error) {
	profile = p.withDefaults(profile)
	if err := p.validateProfile(profile); err != nil {
		return nil, err
	}
	ret, err := p.store.CreateReturn(ctx, profile)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create return")
	}
	states := make([]model.StepState, 0, len(model.Steps))
	for _, s := range model.Steps {
		states = append(states, model.StepState{ReturnID: ret.ID, Step: s, Status: model.StepPending, UpdatedAt: p.now().UTC()})
	}
	if err := p.retry(ctx, "init step states", func(ctx context.Context) error {
		return p.store.SaveStepStates(ctx, states)
	}); err != nil {
		return nil, eris.Wrap(err, "pipeline: init step states")
	}
	zap.L().Info("pipeline: return created",
		zap.String("return_id", ret.ID),
		zap.String("assessment_year", profile.AssessmentYear),
		zap.String("regime", string(profile.Regime)),
	)
	return ret, nil
}

// UpdateProfile replaces the taxpayer profile. The form type feeds
// reconciliation, so RECONCILE and everything after it is invalidated.
func (p *Pipeline) UpdateProfile(ctx context.Context, returnID string, profile model.TaxpayerProfile) error {
	profile = p.withDefaults(profile)
	if err := p.validateProfile(profile); err != nil {
		return err
	}
	return p.withLease(ctx, returnID, func(ctx context.Context) error {
		if err := p.store.UpdateProfile(ctx, returnID, profile); err != nil {
			return eris.Wrap(err, "pipeline: update profile")
		}
		return p.invalidate(ctx, returnID, model.StepReconcile)
	})
}

// AddDocument stores a raw document for the next PARSE. Adding a document
// invalidates every step.
func (p *Pipeline) AddDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if !doc.SourceKind.Valid() {
		return nil, &model.InputError{Reason: "unknown source kind " + string(doc.SourceKind)}
	}
	if doc.SourceKind == model.SourceUserEdit {
		return nil, &model.InputError{Reason: "USER_EDIT values are submitted through the confirmation view"}
	}
	doc.Format = strings.ToLower(strings.TrimSpace(doc.Format))
	if _, err := p.parsers.For(doc.SourceKind, doc.Format); err != nil {
		return nil, &model.InputError{Reason: err.Error()}
	}
	if len(doc.Payload) == 0 {
		return nil, &model.InputError{Reason: "empty payload"}
	}
	if doc.Confidence < 0 || doc.Confidence > 1 {
		return nil, &model.InputError{Reason: "confidence outside [0,1]"}
	}
	if doc.CapturedAt.IsZero() {
		doc.CapturedAt = p.now().UTC()
	}

	var saved *model.Document
	err := p.withLease(ctx, doc.ReturnID, func(ctx context.Context) error {
		if _, err := p.store.GetReturn(ctx, doc.ReturnID); err != nil {
			return eris.Wrap(err, "pipeline: add document")
		}
		var err error
		saved, err = p.store.AddDocument(ctx, doc)
		if err != nil {
			return eris.Wrap(err, "pipeline: add document")
		}
		return p.invalidate(ctx, doc.ReturnID, model.StepParse)
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("pipeline: document added",
		zap.String("return_id", saved.ReturnID),
		zap.String("document_id", saved.ID),
		zap.String("source_kind", string(saved.SourceKind)),
	)
	return saved, nil
}

// SubmitConfirmation applies confirmations and edits, re-runs the pipeline
// and reports the new state of the gate.
func (p *Pipeline) SubmitConfirmation(ctx context.Context, returnID string, confirmed []string, edits []model.Edit) (*model.GateOutcome, error) {
	var outcome model.GateOutcome
	err := p.withLease(ctx, returnID, func(ctx context.Context) error {
		_, ps, err := p.execute(ctx, returnID)
		if err != nil {
			return err
		}
		plan := gate.New(ps.policy).ApplyConfirmations(ps.gateInput(), confirmed, edits, p.now())
		if !plan.Empty() {
			if err := p.record(ctx, ps, plan.Actions, plan.Extracts); err != nil {
				return err
			}
			if _, ps, err = p.execute(ctx, returnID); err != nil {
				return err
			}
		}
		outcome = gate.Outcome(plan, ps.view)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// ApplyOverride sets a field's value authoritatively, resolving the
// variances live on it right now.
func (p *Pipeline) ApplyOverride(ctx context.Context, returnID, field string, value money.Amount, reason string) (*model.GateOutcome, error) {
	return p.act(ctx, returnID, field, func(ps *pass) (model.UserAction, error) {
		f, fc, ok := ps.policy.Field(field)
		switch {
		case !ok:
			return model.UserAction{}, eris.Wrapf(model.ErrUnknownField, "pipeline: override %s", field)
		case f.ReadOnly:
			return model.UserAction{}, &model.InputError{Field: field, Reason: "read-only field"}
		case value < 0 && !fc.AllowNegative:
			return model.UserAction{}, &model.InputError{Field: field, Reason: "negative amount"}
		}
		rv, _ := ps.ledger.Get(field)
		v := value
		return model.UserAction{
			Field:        field,
			Kind:         model.ActionOverride,
			Value:        &v,
			Reason:       reason,
			Fingerprints: reconcile.LiveFingerprints(rv),
		}, nil
	})
}

// ClearOverride removes a field's override; the reconciled winner is used
// again and any variance the override resolved is live again.
func (p *Pipeline) ClearOverride(ctx context.Context, returnID, field string) (*model.GateOutcome, error) {
	return p.act(ctx, returnID, field, func(ps *pass) (model.UserAction, error) {
		rv, ok := ps.ledger.Get(field)
		if !ok {
			return model.UserAction{}, eris.Wrapf(model.ErrUnknownField, "pipeline: clear override %s", field)
		}
		if rv.OverriddenValue == nil {
			return model.UserAction{}, &model.InputError{Field: field, Reason: "no override to clear"}
		}
		return model.UserAction{Field: field, Kind: model.ActionClearOverride}, nil
	})
}

// act records one user action built against the current ledger, re-runs
// the pipeline and returns the gate outcome.
func (p *Pipeline) act(ctx context.Context, returnID, field string, build func(ps *pass) (model.UserAction, error)) (*model.GateOutcome, error) {
	var outcome model.GateOutcome
	err := p.withLease(ctx, returnID, func(ctx context.Context) error {
		_, ps, err := p.execute(ctx, returnID)
		if err != nil {
			return err
		}
		a, err := build(ps)
		if err != nil {
			return err
		}
		a.ID = uuid.NewString()
		a.ReturnID = returnID
		a.CreatedAt = p.now().UTC()
		if err := p.record(ctx, ps, []model.UserAction{a}, nil); err != nil {
			return err
		}
		if _, ps, err = p.execute(ctx, returnID); err != nil {
			return err
		}
		outcome = gate.Outcome(gate.Plan{Actions: []model.UserAction{a}, Edited: []string{field}}, ps.view)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// record appends edits and actions and invalidates RECONCILE onward.
// PARSE is never invalidated by user input.
func (p *Pipeline) record(ctx context.Context, ps *pass, actions []model.UserAction, raws []model.RawExtract) error {
	var edits []model.Extract
	for _, raw := range raws {
		ext, errs := reconcile.Normalize(ps.ret.ID, raw, ps.policy)
		if ext == nil {
			if len(errs) > 0 {
				return errs[0]
			}
			return &model.InputError{Reason: "edit has no recognised fields"}
		}
		edits = append(edits, *ext)
	}
	if len(edits) > 0 {
		if err := p.retry(ctx, "append edits", func(ctx context.Context) error {
			return p.store.AppendExtracts(ctx, edits)
		}); err != nil {
			return eris.Wrap(err, "pipeline: append edits")
		}
	}
	for _, a := range actions {
		if _, err := p.store.AppendAction(ctx, a); err != nil {
			return eris.Wrapf(err, "pipeline: append %s action", a.Kind)
		}
	}
	return p.invalidate(ctx, ps.ret.ID, model.StepReconcile)
}

// GetConfirmationView returns the gate's view, running the pipeline first
// when any step is stale.
func (p *Pipeline) GetConfirmationView(ctx context.Context, returnID string) (*model.ConfirmationView, error) {
	var view model.ConfirmationView
	if err := p.current(ctx, returnID, model.StepGate, &view, func(ps *pass) { view = ps.view }); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetComputation returns both regimes' computation, running the pipeline
// first when COMPUTE or anything before it is stale.
func (p *Pipeline) GetComputation(ctx context.Context, returnID string) (*model.Computation, error) {
	var comp model.Computation
	if err := p.current(ctx, returnID, model.StepCompute, &comp, func(ps *pass) { comp = ps.comp }); err != nil {
		return nil, err
	}
	return &comp, nil
}

// Finalize returns the computation for export once the gate allows it. It
// fails with a *model.VarianceBlockedError naming the first blocking field
// while the gate is closed.
func (p *Pipeline) Finalize(ctx context.Context, returnID string) (*model.Computation, error) {
	view, err := p.GetConfirmationView(ctx, returnID)
	if err != nil {
		return nil, err
	}
	if !view.CanProceed {
		var ledger model.Ledger
		if err := p.current(ctx, returnID, model.StepReconcile, &ledger, func(ps *pass) { ledger = ps.ledger }); err != nil {
			return nil, err
		}
		if err := ledger.Blocked(); err != nil {
			return nil, err
		}
		for _, h := range view.Heads {
			for _, it := range h.Items {
				if it.Blocking {
					return nil, &model.VarianceBlockedError{Field: it.LineItemID}
				}
			}
		}
		return nil, &model.VarianceBlockedError{}
	}
	return p.GetComputation(ctx, returnID)
}

// Export finalises the return and renders it as the ITR document for its
// form type. A document that fails the form's schema or eligibility checks
// is reported as an InputError on form_type.
func (p *Pipeline) Export(ctx context.Context, returnID string) (*export.Result, error) {
	comp, err := p.Finalize(ctx, returnID)
	if err != nil {
		return nil, err
	}
	ret, err := p.store.GetReturn(ctx, returnID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: export")
	}
	pol, err := p.policies.For(ret.Profile.AssessmentYear)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: export")
	}
	var ledger model.Ledger
	if err := p.current(ctx, returnID, model.StepReconcile, &ledger, func(ps *pass) { ledger = ps.ledger }); err != nil {
		return nil, err
	}

	res, err := export.Build(export.Input{
		ReturnID:    returnID,
		Profile:     ret.Profile,
		Computation: *comp,
		Ledger:      ledger,
		DueDate:     pol.Dates.DueDate,
		CreatedAt:   p.now().UTC(),
	})
	var invalid *export.ValidationError
	if errors.As(err, &invalid) {
		return nil, &model.InputError{Field: "form_type", Reason: invalid.Error()}
	}
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: export")
	}
	return res, nil
}

// RuleHistory returns the return's rule results, optionally reduced to the
// latest result per rule before filtering.
func (p *Pipeline) RuleHistory(ctx context.Context, returnID string, latest bool, f rules.Filter) ([]model.RuleResult, error) {
	if _, err := p.store.GetReturn(ctx, returnID); err != nil {
		return nil, eris.Wrap(err, "pipeline: rule history")
	}
	history, err := p.store.ListRuleResults(ctx, returnID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: rule history")
	}
	if latest {
		history = rules.Latest(history)
	}
	return f.Apply(history), nil
}

// current decodes the stored output of step into dst when it and every
// step before it succeeded; otherwise it runs the pipeline and hands the
// fresh pass to fill.
func (p *Pipeline) current(ctx context.Context, returnID string, step model.StepName, dst any, fill func(ps *pass)) error {
	if ok, err := p.stored(ctx, returnID, step, dst); err != nil || ok {
		return err
	}
	return p.withLease(ctx, returnID, func(ctx context.Context) error {
		_, ps, err := p.execute(ctx, returnID)
		if err != nil {
			return err
		}
		fill(ps)
		return nil
	})
}

func (p *Pipeline) stored(ctx context.Context, returnID string, step model.StepName, dst any) (bool, error) {
	if _, err := p.store.GetReturn(ctx, returnID); err != nil {
		return false, eris.Wrap(err, "pipeline: load return")
	}
	states, err := p.loadStates(ctx, returnID)
	if err != nil {
		return false, err
	}
	for _, st := range states[:step.Index()+1] {
		if st.Status != model.StepSucceeded {
			return false, nil
		}
	}
	out, err := p.loadLatest(ctx, returnID, step)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "pipeline: load %s output", step)
	}
	if out.OutputRef != states[step.Index()].OutputRef {
		return false, nil
	}
	if err := json.Unmarshal(out.Payload, dst); err != nil {
		return false, nil
	}
	return true, nil
}

func (p *Pipeline) withDefaults(profile model.TaxpayerProfile) model.TaxpayerProfile {
	if profile.AssessmentYear == "" {
		profile.AssessmentYear = p.opts.AssessmentYear
	}
	profile.Regime = model.Regime(strings.ToUpper(string(profile.Regime)))
	if profile.Regime == "" {
		profile.Regime = p.opts.Regime
	}
	if profile.FormType == "" {
		profile.FormType = p.opts.FormType
	}
	profile.FormType = strings.ToUpper(profile.FormType)
	profile.PAN = strings.ToUpper(strings.TrimSpace(profile.PAN))
	return profile
}

func (p *Pipeline) validateProfile(profile model.TaxpayerProfile) error {
	if !profile.Regime.Valid() {
		return &model.InputError{Field: "regime", Reason: "must be OLD or NEW"}
	}
	if profile.Age < 0 {
		return &model.InputError{Field: "age", Reason: "negative age"}
	}
	if _, err := p.policies.For(profile.AssessmentYear); err != nil {
		return &model.InputError{Field: "assessment_year", Reason: err.Error()}
	}
	return nil
}
