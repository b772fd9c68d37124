package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome of one return in a batch.
type BatchItem struct {
	ReturnID string     `json:"return_id"`
	Result   *RunResult `json:"result,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// BatchResult reports a batch run. Items are in input order.
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// RunBatch runs independent returns in parallel, at most concurrency at a
// time. One return failing, or being in flight elsewhere, does not stop
// the others; the returned error is only for cancellation.
func (p *Pipeline) RunBatch(ctx context.Context, returnIDs []string, concurrency int) (*BatchResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	zap.L().Info("pipeline: batch starting",
		zap.Int("returns", len(returnIDs)),
		zap.Int("concurrency", concurrency),
	)

	items := make([]BatchItem, len(returnIDs))
	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range returnIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i] = BatchItem{ReturnID: id}
			res, err := p.Run(gctx, id)
			if err != nil {
				failed.Add(1)
				items[i].Error = err.Error()
				zap.L().Error("pipeline: batch item failed", zap.String("return_id", id), zap.Error(err))
				return nil
			}
			succeeded.Add(1)
			items[i].Result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: batch")
	}

	out := &BatchResult{Items: items, Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	zap.L().Info("pipeline: batch complete",
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
	)
	return out, nil
}
