// Package store persists returns, documents, extracts, user actions, step
// outputs and rule history. Everything except step state and leases is
// append-only.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/sells-group/taxprep/internal/model"
)

// ReturnFilter specifies criteria for listing returns.
type ReturnFilter struct {
	AssessmentYear string `json:"assessment_year,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the return pipeline.
type Store interface {
	// Returns
	CreateReturn(ctx context.Context, profile model.TaxpayerProfile) (*model.TaxReturn, error)
	GetReturn(ctx context.Context, id string) (*model.TaxReturn, error)
	UpdateProfile(ctx context.Context, id string, profile model.TaxpayerProfile) error
	ListReturns(ctx context.Context, filter ReturnFilter) ([]model.TaxReturn, error)

	// Inputs
	AddDocument(ctx context.Context, doc model.Document) (*model.Document, error)
	ListDocuments(ctx context.Context, returnID string) ([]model.Document, error)
	AppendExtracts(ctx context.Context, extracts []model.Extract) error
	ListExtracts(ctx context.Context, returnID string) ([]model.Extract, error)
	AppendAction(ctx context.Context, action model.UserAction) (*model.UserAction, error)
	ListActions(ctx context.Context, returnID string) ([]model.UserAction, error)

	// Step outputs, keyed by (return, step); latest wins.
	SaveStepOutput(ctx context.Context, out model.StepOutput) error
	LoadLatest(ctx context.Context, returnID string, step model.StepName) (*model.StepOutput, error)

	// Step state
	GetStepStates(ctx context.Context, returnID string) ([]model.StepState, error)
	SaveStepStates(ctx context.Context, states []model.StepState) error

	// Rule history
	AppendRuleResults(ctx context.Context, returnID string, results []model.RuleResult) error
	ListRuleResults(ctx context.Context, returnID string) ([]model.RuleResult, error)

	// Execution leases
	AcquireLease(ctx context.Context, returnID, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, returnID, holder string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(f ReturnFilter) int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// sortStates orders states by pipeline position.
func sortStates(states []model.StepState) {
	sort.Slice(states, func(i, j int) bool { return states[i].Step.Index() < states[j].Step.Index() })
}
