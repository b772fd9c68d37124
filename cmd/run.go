package main

import (
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxprep/internal/model"
)

var runJSON bool

var runCmd = &cobra.Command{
	Use:   "run <return-id>",
	Short: "Bring a return's pipeline up to date",
	Long:  "Runs PARSE, RECONCILE, COMPUTE, RULES and GATE for one return. Steps whose inputs are unchanged since their last success are reused.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Run(ctx, args[0])
		if err != nil {
			var sf *model.StepFailure
			if errors.As(err, &sf) && res != nil {
				formatSteps(os.Stdout, res.Steps)
			}
			return eris.Wrap(err, "run")
		}

		zap.L().Info("run complete",
			zap.String("return_id", res.ReturnID),
			zap.Int("executed", len(res.Executed)),
			zap.Int("reused", len(res.Reused)),
		)
		if runJSON {
			return printJSON(os.Stdout, res)
		}
		formatRunResult(os.Stdout, res)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print raw JSON")
	rootCmd.AddCommand(runCmd)
}
