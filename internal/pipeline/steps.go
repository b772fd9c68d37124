package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/taxprep/internal/compute"
	"github.com/sells-group/taxprep/internal/gate"
	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/policy"
	"github.com/sells-group/taxprep/internal/reconcile"
	"github.com/sells-group/taxprep/internal/rules"
)

// ParseOutput is the persisted result of the PARSE step.
type ParseOutput struct {
	Extracts    []model.Extract `json:"extracts"`
	InputErrors []string        `json:"input_errors,omitempty"`
}

// pass is the in-memory state of one orchestrator pass over a return.
type pass struct {
	ret     *model.TaxReturn
	policy  *policy.Policy
	docs    []model.Document
	edits   []model.Extract
	actions []model.UserAction

	parsed  ParseOutput
	ledger  model.Ledger
	comp    model.Computation
	results []model.RuleResult
	view    model.ConfirmationView

	refs map[model.StepName]string
}

func (ps *pass) formType(def string) string {
	if ps.ret.Profile.FormType != "" {
		return ps.ret.Profile.FormType
	}
	return def
}

func (ps *pass) gateInput() gate.Input {
	comp := ps.comp
	return gate.Input{
		ReturnID:    ps.ret.ID,
		Ledger:      ps.ledger,
		Computation: &comp,
		Results:     ps.results,
		Actions:     ps.actions,
		InputErrors: ps.parsed.InputErrors,
	}
}

// load reads everything a pass needs from the store.
func (p *Pipeline) load(ctx context.Context, returnID string) (*pass, error) {
	ret, err := p.store.GetReturn(ctx, returnID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load return")
	}
	pol, err := p.policies.For(ret.Profile.AssessmentYear)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: policy for %s", ret.Profile.AssessmentYear)
	}
	docs, err := p.store.ListDocuments(ctx, returnID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load documents")
	}
	edits, err := p.store.ListExtracts(ctx, returnID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load edits")
	}
	actions, err := p.store.ListActions(ctx, returnID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load actions")
	}
	return &pass{
		ret:     ret,
		policy:  pol,
		docs:    docs,
		edits:   edits,
		actions: actions,
		refs:    make(map[model.StepName]string, len(model.Steps)),
	}, nil
}

// step is one stage of the pipeline. inputs lists what the step depends
// on; the step re-runs whenever their hash changes.
type step struct {
	name   model.StepName
	inputs func(p *Pipeline, ps *pass) []string
	run    func(ctx context.Context, p *Pipeline, ps *pass) (any, error)
	load   func(ps *pass, payload []byte) error
}

var steps = []step{
	{
		name: model.StepParse,
		inputs: func(_ *Pipeline, ps *pass) []string {
			parts := []string{ps.policy.Version}
			for _, d := range ps.docs {
				parts = append(parts, d.ID)
			}
			return parts
		},
		run:  runParse,
		load: func(ps *pass, b []byte) error { return json.Unmarshal(b, &ps.parsed) },
	},
	{
		name: model.StepReconcile,
		inputs: func(p *Pipeline, ps *pass) []string {
			parts := []string{ps.refs[model.StepParse], ps.policy.Version, ps.formType(p.opts.FormType)}
			for _, e := range ps.edits {
				parts = append(parts, "edit:"+e.ID)
			}
			for _, a := range ps.actions {
				parts = append(parts, "action:"+a.ID)
			}
			return parts
		},
		run: func(_ context.Context, p *Pipeline, ps *pass) (any, error) {
			extracts := make([]model.Extract, 0, len(ps.parsed.Extracts)+len(ps.edits))
			extracts = append(extracts, ps.parsed.Extracts...)
			extracts = append(extracts, ps.edits...)
			ps.ledger = reconcile.New(ps.policy, ps.formType(p.opts.FormType)).ReconcileAll(extracts, ps.actions)
			return ps.ledger, nil
		},
		load: func(ps *pass, b []byte) error { return json.Unmarshal(b, &ps.ledger) },
	},
	{
		name: model.StepCompute,
		inputs: func(_ *Pipeline, ps *pass) []string {
			profile, _ := json.Marshal(ps.ret.Profile)
			return []string{ps.refs[model.StepReconcile], string(profile)}
		},
		run: func(_ context.Context, _ *Pipeline, ps *pass) (any, error) {
			comp, err := compute.New(ps.policy).Compare(ps.ledger, ps.ret.Profile)
			if err != nil {
				return nil, err
			}
			ps.comp = comp
			for _, w := range comp.Result().Warnings {
				zap.L().Warn("pipeline: computation clamped",
					zap.String("return_id", ps.ret.ID),
					zap.Error(w.Err()),
				)
			}
			return comp, nil
		},
		load: func(ps *pass, b []byte) error { return json.Unmarshal(b, &ps.comp) },
	},
	{
		name: model.StepRules,
		inputs: func(p *Pipeline, ps *pass) []string {
			return []string{ps.refs[model.StepReconcile], ps.refs[model.StepCompute], p.rulesHash}
		},
		run:  runRules,
		load: func(ps *pass, b []byte) error { return json.Unmarshal(b, &ps.results) },
	},
	{
		name: model.StepGate,
		inputs: func(_ *Pipeline, ps *pass) []string {
			parts := []string{
				ps.refs[model.StepParse], ps.refs[model.StepReconcile],
				ps.refs[model.StepCompute], ps.refs[model.StepRules],
			}
			for _, a := range ps.actions {
				parts = append(parts, "action:"+a.ID)
			}
			return parts
		},
		run: func(_ context.Context, _ *Pipeline, ps *pass) (any, error) {
			ps.view = gate.New(ps.policy).BuildView(ps.gateInput())
			return ps.view, nil
		},
		load: func(ps *pass, b []byte) error { return json.Unmarshal(b, &ps.view) },
	},
}

// runParse turns every document into extracts. A document that fails to
// parse, or a field that fails to normalise, is recorded as an input error
// and does not fail the step.
func runParse(ctx context.Context, p *Pipeline, ps *pass) (any, error) {
	out := ParseOutput{Extracts: []model.Extract{}}
	for _, doc := range ps.docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raws, err := p.parsers.Parse(ctx, doc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			ie := &model.InputError{DocumentID: doc.ID, Reason: err.Error()}
			out.InputErrors = append(out.InputErrors, ie.Error())
			zap.L().Debug("pipeline: document rejected", zap.String("document_id", doc.ID), zap.Error(err))
			continue
		}
		for i, raw := range raws {
			ext, errs := reconcile.Normalize(ps.ret.ID, raw, ps.policy)
			for _, e := range errs {
				out.InputErrors = append(out.InputErrors, e.Error())
			}
			if ext == nil {
				continue
			}
			// Stable ids keep the output identical when nothing changed.
			ext.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d", doc.ID, i))).String()
			out.Extracts = append(out.Extracts, *ext)
		}
	}
	ps.parsed = out
	return out, nil
}

// runRules evaluates the rule set and appends the pass to rule history.
func runRules(ctx context.Context, p *Pipeline, ps *pass) (any, error) {
	vars := rules.BuildContext(ps.ledger, ps.comp, ps.policy)
	results, err := rules.Evaluate(ctx, p.rules, vars, p.now().UTC())
	if err != nil {
		return nil, err
	}
	err = p.retry(ctx, "append rule results", func(ctx context.Context) error {
		return p.store.AppendRuleResults(ctx, ps.ret.ID, results)
	})
	if err != nil {
		return nil, err
	}
	ps.results = results
	return results, nil
}

func inputHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:16])
}

func contentRef(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// hashRules fingerprints the rule set so that changing a rule file re-runs
// RULES on the next pass.
func hashRules(set []*rules.Rule) string {
	parts := make([]string, 0, len(set))
	for _, r := range set {
		b, err := yaml.Marshal(r.Definition)
		if err != nil {
			parts = append(parts, r.Code)
			continue
		}
		parts = append(parts, string(b))
	}
	return inputHash(parts...)
}
