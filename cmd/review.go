package main

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review, confirm and override line items before filing",
}

// -- review view --

var reviewViewCmd = &cobra.Command{
	Use:   "view <return-id>",
	Short: "Show the confirmation view, running stale steps first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		view, err := env.Pipeline.GetConfirmationView(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "review view")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, view)
		}
		formatConfirmationView(os.Stdout, view)
		return nil
	},
}

// -- review confirm --

var reviewConfirmCmd = &cobra.Command{
	Use:   "confirm <return-id> [line-item...]",
	Short: "Confirm line items and submit edited values",
	Long:  "Confirms the named line items and applies --edit field=amount values. Blocking items cannot be confirmed; override or edit them instead.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rawEdits, _ := cmd.Flags().GetStringArray("edit")
		reason, _ := cmd.Flags().GetString("reason")
		edits, err := parseEdits(rawEdits, reason)
		if err != nil {
			return err
		}
		if len(args) == 1 && len(edits) == 0 {
			return eris.New("review confirm: name at least one line item or --edit")
		}

		env, err := initPipeline(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Pipeline.SubmitConfirmation(ctx, args[0], args[1:], edits)
		if err != nil {
			return eris.Wrap(err, "review confirm")
		}
		formatGateOutcome(os.Stdout, out)
		return nil
	},
}

// -- review override --

var reviewOverrideCmd = &cobra.Command{
	Use:   "override <return-id> <field> <amount>",
	Short: "Set a field's value authoritatively",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		amount, err := money.Parse(args[2])
		if err != nil {
			return eris.Wrap(err, "review override")
		}
		reason, _ := cmd.Flags().GetString("reason")

		env, err := initPipeline(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Pipeline.ApplyOverride(ctx, args[0], args[1], amount, reason)
		if err != nil {
			return eris.Wrap(err, "review override")
		}
		formatGateOutcome(os.Stdout, out)
		return nil
	},
}

// -- review clear-override --

var reviewClearOverrideCmd = &cobra.Command{
	Use:   "clear-override <return-id> <field>",
	Short: "Remove a field's override",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Pipeline.ClearOverride(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "review clear-override")
		}
		formatGateOutcome(os.Stdout, out)
		return nil
	},
}

// parseEdits turns field=amount pairs into edits sharing one reason.
func parseEdits(raw []string, reason string) ([]model.Edit, error) {
	edits := make([]model.Edit, 0, len(raw))
	for _, r := range raw {
		field, value, ok := strings.Cut(r, "=")
		field = strings.ToLower(strings.TrimSpace(field))
		if !ok || field == "" {
			return nil, eris.Errorf("invalid --edit %q (want field=amount)", r)
		}
		amount, err := money.Parse(value)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid --edit %q", r)
		}
		edits = append(edits, model.Edit{Field: field, Value: amount, Reason: reason})
	}
	return edits, nil
}

func init() {
	reviewViewCmd.Flags().Bool("json", false, "print raw JSON")

	reviewConfirmCmd.Flags().StringArray("edit", nil, "edited value as field=amount (repeatable)")
	reviewConfirmCmd.Flags().String("reason", "", "reason recorded with the edits")

	reviewOverrideCmd.Flags().String("reason", "", "reason recorded with the override")

	reviewCmd.AddCommand(reviewViewCmd)
	reviewCmd.AddCommand(reviewConfirmCmd)
	reviewCmd.AddCommand(reviewOverrideCmd)
	reviewCmd.AddCommand(reviewClearOverrideCmd)
	rootCmd.AddCommand(reviewCmd)
}
