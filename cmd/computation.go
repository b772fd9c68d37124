package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var computationCmd = &cobra.Command{
	Use:   "computation <return-id>",
	Short: "Show the tax computation under both regimes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		if out, _ := cmd.Flags().GetString("out"); out != "" {
			res, err := env.Pipeline.Export(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "computation: export")
			}
			if err := os.WriteFile(out, res.Document, 0o644); err != nil {
				return eris.Wrapf(err, "computation: write %s", out)
			}
			_, _ = fmt.Fprintf(os.Stdout, "Wrote %s (%s, AY %s) to %s\n", res.Form, res.Regime, res.AssessmentYear, out)
			return nil
		}

		get := env.Pipeline.GetComputation
		if final, _ := cmd.Flags().GetBool("final"); final {
			get = env.Pipeline.Finalize
		}
		comp, err := get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "computation")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, comp)
		}
		formatComputation(os.Stdout, comp)
		return nil
	},
}

func init() {
	computationCmd.Flags().Bool("json", false, "print raw JSON")
	computationCmd.Flags().Bool("final", false, "fail unless the confirmation gate allows export")
	computationCmd.Flags().String("out", "", "write the ITR JSON for the return's form to this file (implies --final)")
	rootCmd.AddCommand(computationCmd)
}
