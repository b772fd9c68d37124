package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/store"
)

// ReturnStatus is a return with its step states and documents. Document
// payloads are omitted.
type ReturnStatus struct {
	Return    *model.TaxReturn  `json:"return"`
	Steps     []model.StepState `json:"steps"`
	Documents []model.Document  `json:"documents"`
}

// Status reports where a return stands without running anything.
func (p *Pipeline) Status(ctx context.Context, returnID string) (*ReturnStatus, error) {
	ret, err := p.store.GetReturn(ctx, returnID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: status")
	}
	states, err := p.loadStates(ctx, returnID)
	if err != nil {
		return nil, err
	}
	docs, err := p.store.ListDocuments(ctx, returnID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: status documents")
	}
	for i := range docs {
		docs[i].Payload = nil
	}
	return &ReturnStatus{Return: ret, Steps: states, Documents: docs}, nil
}

// ListReturns lists returns, newest first.
func (p *Pipeline) ListReturns(ctx context.Context, filter store.ReturnFilter) ([]model.TaxReturn, error) {
	out, err := p.store.ListReturns(ctx, filter)
	return out, eris.Wrap(err, "pipeline: list returns")
}
