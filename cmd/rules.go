package main

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect rule evaluation history",
}

var rulesHistoryCmd = &cobra.Command{
	Use:   "history <return-id>",
	Short: "List rule results for a return",
	Long:  "Lists every rule result recorded for a return, oldest pass first. --latest keeps only the newest result per rule.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		latest, _ := cmd.Flags().GetBool("latest")
		category, _ := cmd.Flags().GetString("category")
		severity, _ := cmd.Flags().GetString("severity")
		failed, _ := cmd.Flags().GetBool("failed")
		passID, _ := cmd.Flags().GetString("pass-id")

		env, err := initPipeline(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.Pipeline.RuleHistory(ctx, args[0], latest, rules.Filter{
			Category:    category,
			MinSeverity: model.Severity(strings.ToUpper(severity)),
			FailedOnly:  failed,
			PassID:      passID,
		})
		if err != nil {
			return eris.Wrap(err, "rules history")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, results)
		}
		formatRuleResults(os.Stdout, results)
		return nil
	},
}

func init() {
	rulesHistoryCmd.Flags().Bool("latest", false, "keep only the latest result per rule")
	rulesHistoryCmd.Flags().String("category", "", "filter by rule category")
	rulesHistoryCmd.Flags().String("severity", "", "minimum severity (INFO, WARNING, ERROR)")
	rulesHistoryCmd.Flags().Bool("failed", false, "only failed rules")
	rulesHistoryCmd.Flags().String("pass-id", "", "only results from this evaluation pass")
	rulesHistoryCmd.Flags().Bool("json", false, "print raw JSON")

	rulesCmd.AddCommand(rulesHistoryCmd)
	rootCmd.AddCommand(rulesCmd)
}
