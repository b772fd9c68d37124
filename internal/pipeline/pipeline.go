// Package pipeline runs the per-return steps PARSE, RECONCILE, COMPUTE,
// RULES and GATE in order, persisting each step's output before the next
// one starts. A step whose inputs are unchanged since its last success is
// reused rather than re-run.
package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxprep/internal/config"
	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/parser"
	"github.com/sells-group/taxprep/internal/policy"
	"github.com/sells-group/taxprep/internal/resilience"
	"github.com/sells-group/taxprep/internal/rules"
	"github.com/sells-group/taxprep/internal/store"
)

// Options holds the defaults applied to new returns and the orchestrator's
// own tuning.
type Options struct {
	AssessmentYear string
	Regime         model.Regime
	FormType       string
	LeaseTTL       time.Duration
	Retry          resilience.RetryConfig
}

// OptionsFromConfig maps the pipeline config section onto Options.
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		AssessmentYear: cfg.AssessmentYear,
		Regime:         model.Regime(strings.ToUpper(cfg.Regime)),
		FormType:       cfg.FormType,
		LeaseTTL:       cfg.LeaseTTL(),
		Retry:          resilience.FromConfig(cfg.RetryAttempts, cfg.RetryBackoff()),
	}
}

// Pipeline orchestrates the steps for any number of returns. It holds no
// per-return state; everything lives in the store.
type Pipeline struct {
	store     store.Store
	policies  *policy.Provider
	parsers   *parser.Registry
	rules     []*rules.Rule
	rulesHash string
	opts      Options
	now       func() time.Time
}

// New creates a Pipeline.
func New(st store.Store, policies *policy.Provider, parsers *parser.Registry, ruleSet []*rules.Rule, opts Options) *Pipeline {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 5 * time.Minute
	}
	if opts.FormType == "" {
		opts.FormType = "ITR1"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	return &Pipeline{
		store:     st,
		policies:  policies,
		parsers:   parsers,
		rules:     ruleSet,
		rulesHash: hashRules(ruleSet),
		opts:      opts,
		now:       time.Now,
	}
}

// RunResult reports one orchestrator pass.
type RunResult struct {
	ReturnID string                 `json:"return_id"`
	Steps    []model.StepState      `json:"steps"`
	Executed []model.StepName       `json:"executed"`
	Reused   []model.StepName       `json:"reused"`
	View     model.ConfirmationView `json:"view"`
}

// Run brings the return up to date. It fails with model.ErrRunInFlight when
// another run holds the return's lease, and with a *model.StepFailure when
// a step fails; steps that succeeded before the failure keep their outputs.
func (p *Pipeline) Run(ctx context.Context, returnID string) (*RunResult, error) {
	var res *RunResult
	err := p.withLease(ctx, returnID, func(ctx context.Context) error {
		var err error
		res, _, err = p.execute(ctx, returnID)
		return err
	})
	return res, err
}

// execute runs every step whose inputs changed. The caller holds the lease.
func (p *Pipeline) execute(ctx context.Context, returnID string) (*RunResult, *pass, error) {
	log := zap.L().With(zap.String("return_id", returnID))
	start := time.Now()

	ps, err := p.load(ctx, returnID)
	if err != nil {
		return nil, nil, err
	}
	states, err := p.loadStates(ctx, returnID)
	if err != nil {
		return nil, nil, err
	}

	res := &RunResult{ReturnID: returnID}
	for i, s := range steps {
		st := states[i]
		hash := inputHash(s.inputs(p, ps)...)

		if st.Status == model.StepSucceeded && st.InputHash == hash && p.reuse(ctx, ps, s, st) {
			res.Reused = append(res.Reused, s.name)
			continue
		}

		if err := p.runStep(ctx, ps, s, &st, hash); err != nil {
			states[i] = st
			for j := i + 1; j < len(states); j++ {
				if states[j].Status != model.StepPending {
					states[j].Status = model.StepPending
					states[j].UpdatedAt = p.now().UTC()
					p.saveStates(ctx, states[j])
				}
			}
			res.Steps = states
			return res, nil, err
		}
		states[i] = st
		res.Executed = append(res.Executed, s.name)
	}

	res.Steps = states
	res.View = ps.view
	log.Info("pipeline: run complete",
		zap.Int("executed", len(res.Executed)),
		zap.Int("reused", len(res.Reused)),
		zap.Bool("can_proceed", res.View.CanProceed),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, ps, nil
}

// reuse loads a succeeded step's latest output. It reports false when the
// output is missing or does not match the recorded ref, so the step re-runs.
func (p *Pipeline) reuse(ctx context.Context, ps *pass, s step, st model.StepState) bool {
	out, err := p.loadLatest(ctx, ps.ret.ID, s.name)
	if err != nil || out.OutputRef != st.OutputRef {
		return false
	}
	if err := s.load(ps, out.Payload); err != nil {
		zap.L().Warn("pipeline: stored output unreadable, re-running step",
			zap.String("return_id", ps.ret.ID),
			zap.String("step", string(s.name)),
			zap.Error(err),
		)
		return false
	}
	ps.refs[s.name] = st.OutputRef
	return true
}

// runStep executes one step and persists its output and state.
func (p *Pipeline) runStep(ctx context.Context, ps *pass, s step, st *model.StepState, hash string) error {
	log := zap.L().With(zap.String("return_id", ps.ret.ID), zap.String("step", string(s.name)))
	start := time.Now()

	st.Status = model.StepRunning
	st.Attempts++
	st.Error = ""
	st.UpdatedAt = p.now().UTC()
	p.saveStates(ctx, *st)

	ref, err := p.invoke(ctx, ps, s)
	duration := time.Since(start).Milliseconds()
	st.UpdatedAt = p.now().UTC()

	if err != nil {
		st.Status = model.StepFailed
		st.Error = err.Error()
		p.saveStates(ctx, *st)
		log.Error("pipeline: step failed", zap.Int64("duration_ms", duration), zap.Error(err))
		return &model.StepFailure{ReturnID: ps.ret.ID, Step: s.name, Err: err}
	}

	st.Status = model.StepSucceeded
	st.OutputRef = ref
	st.InputHash = hash
	ps.refs[s.name] = ref
	p.saveStates(ctx, *st)
	log.Info("pipeline: step complete", zap.Int64("duration_ms", duration), zap.String("output_ref", ref))
	return nil
}

// invoke runs the step body and stores its payload. A panic inside a step
// is reported as a failure of that step.
func (p *Pipeline) invoke(ctx context.Context, ps *pass, s step) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: %s panicked: %v", s.name, r)
		}
	}()

	v, err := s.run(ctx, p, ps)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: marshal %s output", s.name)
	}
	ref = contentRef(payload)
	err = p.retry(ctx, "save step output", func(ctx context.Context) error {
		return p.store.SaveStepOutput(ctx, model.StepOutput{
			ReturnID:  ps.ret.ID,
			Step:      s.name,
			OutputRef: ref,
			Payload:   payload,
			CreatedAt: p.now().UTC(),
		})
	})
	return ref, err
}

// withLease holds the return's execution lease for the duration of fn.
func (p *Pipeline) withLease(ctx context.Context, returnID string, fn func(ctx context.Context) error) error {
	holder := uuid.NewString()
	err := p.retry(ctx, "acquire lease", func(ctx context.Context) error {
		return p.store.AcquireLease(ctx, returnID, holder, p.opts.LeaseTTL)
	})
	if err != nil {
		return eris.Wrapf(err, "pipeline: lease for return %s", returnID)
	}
	defer func() {
		if relErr := p.store.ReleaseLease(context.WithoutCancel(ctx), returnID, holder); relErr != nil {
			zap.L().Warn("pipeline: failed to release lease", zap.String("return_id", returnID), zap.Error(relErr))
		}
	}()
	return fn(ctx)
}

func (p *Pipeline) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	cfg := p.opts.Retry
	cfg.OnRetry = resilience.RetryLogger("pipeline: " + op)
	return resilience.Do(ctx, cfg, fn)
}

func (p *Pipeline) loadLatest(ctx context.Context, returnID string, step model.StepName) (*model.StepOutput, error) {
	cfg := p.opts.Retry
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*model.StepOutput, error) {
		return p.store.LoadLatest(ctx, returnID, step)
	})
}

// loadStates returns one state per step in pipeline order, PENDING where
// none is stored yet.
func (p *Pipeline) loadStates(ctx context.Context, returnID string) ([]model.StepState, error) {
	stored, err := p.store.GetStepStates(ctx, returnID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load step states")
	}
	byStep := make(map[model.StepName]model.StepState, len(stored))
	for _, st := range stored {
		byStep[st.Step] = st
	}
	out := make([]model.StepState, len(model.Steps))
	for i, name := range model.Steps {
		st, ok := byStep[name]
		if !ok {
			st = model.StepState{ReturnID: returnID, Step: name, Status: model.StepPending}
		}
		out[i] = st
	}
	return out, nil
}

// saveStates persists step states. A failed state write is logged, not
// returned: the step outputs are already durable and the input hashes make
// the next run converge.
func (p *Pipeline) saveStates(ctx context.Context, states ...model.StepState) {
	err := p.retry(ctx, "save step states", func(ctx context.Context) error {
		return p.store.SaveStepStates(ctx, states)
	})
	if err != nil {
		zap.L().Warn("pipeline: failed to save step states", zap.Error(err))
	}
}

// invalidate resets from and every later step to PENDING.
func (p *Pipeline) invalidate(ctx context.Context, returnID string, from model.StepName) error {
	states, err := p.loadStates(ctx, returnID)
	if err != nil {
		return err
	}
	now := p.now().UTC()
	var reset []model.StepState
	for _, st := range states {
		if st.Step.Index() < from.Index() || st.Status == model.StepPending {
			continue
		}
		st.Status = model.StepPending
		st.UpdatedAt = now
		reset = append(reset, st)
	}
	if len(reset) == 0 {
		return nil
	}
	return eris.Wrapf(p.retry(ctx, "invalidate", func(ctx context.Context) error {
		return p.store.SaveStepStates(ctx, reset)
	}), "pipeline: invalidate from %s", from)
}
