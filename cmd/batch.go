package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxprep/internal/pipeline"
	"github.com/sells-group/taxprep/internal/store"
)

var (
	batchYear        string
	batchLimit       int
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch [return-id...]",
	Short: "Run the pipeline for many returns in parallel",
	Long:  "Runs the given returns, or every return in --year when none are given. A failing return does not stop the others.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		ids := args
		if len(ids) == 0 {
			ids, err = returnIDs(ctx, env.Pipeline, store.ReturnFilter{AssessmentYear: batchYear, Limit: batchLimit})
			if err != nil {
				return err
			}
		}
		if len(ids) == 0 {
			return eris.New("batch: no returns to run")
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentReturns
		}

		out, err := env.Pipeline.RunBatch(ctx, ids, concurrency)
		if err != nil {
			return err
		}
		formatBatchResult(os.Stdout, out)
		if out.Failed > 0 {
			return eris.Errorf("batch: %d of %d returns failed", out.Failed, len(out.Items))
		}
		return nil
	},
}

// returnIDs lists the ids of the returns matching f.
func returnIDs(ctx context.Context, p *pipeline.Pipeline, f store.ReturnFilter) ([]string, error) {
	returns, err := p.ListReturns(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "batch: list returns")
	}
	ids := make([]string, 0, len(returns))
	for _, r := range returns {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func init() {
	batchCmd.Flags().StringVar(&batchYear, "year", "", "run every return in this assessment year when no ids are given")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of returns to run")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "returns run in parallel (default from config)")
	rootCmd.AddCommand(batchCmd)
}
