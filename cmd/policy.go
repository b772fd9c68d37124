package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxprep/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect per-assessment-year policy tables",
}

var policyShowCmd = &cobra.Command{
	Use:   "show [assessment-year]",
	Short: "Show the field catalogue and regime tables for a year",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		year := cfg.Pipeline.AssessmentYear
		if len(args) == 1 {
			year = args[0]
		}

		p, err := policy.NewProvider(cfg.Policy.Dir).For(year)
		if err != nil {
			return eris.Wrapf(err, "policy show %s (built-in years: %v)", year, policy.EmbeddedYears())
		}
		formatPolicy(os.Stdout, p)
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	rootCmd.AddCommand(policyCmd)
}
