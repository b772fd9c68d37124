package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxprep/internal/parser"
	"github.com/sells-group/taxprep/internal/pipeline"
	"github.com/sells-group/taxprep/internal/policy"
	"github.com/sells-group/taxprep/internal/rules"
	"github.com/sells-group/taxprep/internal/store"
)

// pipelineEnv holds the store and the pipeline built on it.
type pipelineEnv struct {
	Store    store.Store
	Policies *policy.Provider
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode, opens and migrates the store,
// loads the rule set and builds the Pipeline. Callers should defer
// env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	ruleSet, err := loadRules()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	policies := policy.NewProvider(cfg.Policy.Dir)
	p := pipeline.New(st, policies, parser.Default(), ruleSet, pipeline.OptionsFromConfig(cfg.Pipeline))

	zap.L().Debug("pipeline initialized",
		zap.String("driver", cfg.Store.Driver),
		zap.Int("rules", len(ruleSet)),
		zap.String("policy_dir", cfg.Policy.Dir),
	)
	return &pipelineEnv{Store: st, Policies: policies, Pipeline: p}, nil
}

func loadRules() ([]*rules.Rule, error) {
	if cfg.Pipeline.RulesFile == "" {
		return rules.Default()
	}
	set, err := rules.Load(cfg.Pipeline.RulesFile)
	if err != nil {
		return nil, eris.Wrapf(err, "load rules %s", cfg.Pipeline.RulesFile)
	}
	return set, nil
}
