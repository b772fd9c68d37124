package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/store"
)

var returnsCmd = &cobra.Command{
	Use:   "returns",
	Short: "Create and inspect returns",
}

// -- returns create --

var returnsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new return",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		profile, err := profileFromFlags(cmd)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		ret, err := env.Pipeline.CreateReturn(ctx, profile)
		if err != nil {
			return eris.Wrap(err, "returns create")
		}
		fmt.Fprintln(os.Stdout, ret.ID)
		return nil
	},
}

// -- returns list --

var returnsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List returns, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		year, _ := cmd.Flags().GetString("year")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		returns, err := env.Pipeline.ListReturns(ctx, store.ReturnFilter{
			AssessmentYear: year,
			Limit:          limit,
			Offset:         offset,
		})
		if err != nil {
			return eris.Wrap(err, "returns list")
		}
		if len(returns) == 0 {
			fmt.Fprintln(os.Stderr, "No returns found.")
			return nil
		}

		formatReturnsList(os.Stdout, returns)
		return nil
	},
}

// -- returns show --

var returnsShowCmd = &cobra.Command{
	Use:   "show <return-id>",
	Short: "Show a return's profile, documents and step states",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Pipeline.Status(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "returns show")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, st)
		}
		formatReturnStatus(os.Stdout, st)
		return nil
	},
}

// profileFromFlags builds a profile from the create flags. Unset year,
// regime and form fall back to the pipeline defaults.
func profileFromFlags(cmd *cobra.Command) (model.TaxpayerProfile, error) {
	pan, _ := cmd.Flags().GetString("pan")
	name, _ := cmd.Flags().GetString("name")
	year, _ := cmd.Flags().GetString("year")
	regime, _ := cmd.Flags().GetString("regime")
	form, _ := cmd.Flags().GetString("form")
	age, _ := cmd.Flags().GetInt("age")
	resident, _ := cmd.Flags().GetBool("resident")
	filed, _ := cmd.Flags().GetString("filing-date")

	profile := model.TaxpayerProfile{
		PAN:            pan,
		Name:           name,
		AssessmentYear: year,
		Regime:         model.Regime(regime),
		FormType:       form,
		Age:            age,
		Resident:       resident,
	}
	if filed != "" {
		d, err := time.Parse("2006-01-02", filed)
		if err != nil {
			return profile, eris.Wrapf(err, "invalid --filing-date %q (want YYYY-MM-DD)", filed)
		}
		profile.FilingDate = &d
	}
	return profile, nil
}

func init() {
	returnsCreateCmd.Flags().String("pan", "", "taxpayer PAN")
	returnsCreateCmd.Flags().String("name", "", "taxpayer name")
	returnsCreateCmd.Flags().String("year", "", "assessment year, e.g. 2025-26 (default from config)")
	returnsCreateCmd.Flags().String("regime", "", "OLD or NEW (default from config)")
	returnsCreateCmd.Flags().String("form", "", "return form type (default from config)")
	returnsCreateCmd.Flags().Int("age", 0, "taxpayer age at the end of the financial year")
	returnsCreateCmd.Flags().Bool("resident", true, "taxpayer is resident")
	returnsCreateCmd.Flags().String("filing-date", "", "actual or expected filing date (YYYY-MM-DD)")

	returnsListCmd.Flags().String("year", "", "filter by assessment year")
	returnsListCmd.Flags().Int("limit", 50, "max number of returns to display")
	returnsListCmd.Flags().Int("offset", 0, "number of returns to skip")

	returnsShowCmd.Flags().Bool("json", false, "print raw JSON")

	returnsCmd.AddCommand(returnsCreateCmd)
	returnsCmd.AddCommand(returnsListCmd)
	returnsCmd.AddCommand(returnsShowCmd)
	rootCmd.AddCommand(returnsCmd)
}
