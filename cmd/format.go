package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/pipeline"
	"github.com/sells-group/taxprep/internal/policy"
)

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatReturnsList writes a tabular list of returns to w.
func formatReturnsList(out io.Writer, returns []model.TaxReturn) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPAN\tNAME\tYEAR\tREGIME\tFORM\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t---\t----\t----\t------\t----\t-------")
	for _, r := range returns {
		name := r.Profile.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Profile.PAN,
			name,
			r.Profile.AssessmentYear,
			r.Profile.Regime,
			r.Profile.FormType,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatReturnStatus writes a return's profile, documents and steps.
func formatReturnStatus(out io.Writer, st *pipeline.ReturnStatus) {
	p := st.Return.Profile
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Return:\t%s\n", st.Return.ID)
	_, _ = fmt.Fprintf(w, "PAN:\t%s\n", p.PAN)
	if p.Name != "" {
		_, _ = fmt.Fprintf(w, "Name:\t%s\n", p.Name)
	}
	_, _ = fmt.Fprintf(w, "Assessment year:\t%s\n", p.AssessmentYear)
	_, _ = fmt.Fprintf(w, "Regime:\t%s\n", p.Regime)
	_, _ = fmt.Fprintf(w, "Form:\t%s\n", p.FormType)
	_, _ = fmt.Fprintf(w, "Age:\t%d\n", p.Age)
	_, _ = fmt.Fprintf(w, "Resident:\t%t\n", p.Resident)
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nDocuments (%d):\n", len(st.Documents))
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, d := range st.Documents {
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t%.2f\t%s\n",
			truncateID(d.ID), d.SourceKind, d.Format, d.Confidence, d.CapturedAt.Format("2006-01-02"))
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	formatSteps(out, st.Steps)
}

// formatSteps writes one line per pipeline step.
func formatSteps(out io.Writer, steps []model.StepState) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tSTATUS\tATTEMPTS\tOUTPUT\tERROR")
	_, _ = fmt.Fprintln(w, "----\t------\t--------\t------\t-----")
	for _, s := range steps {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			s.Step, s.Status, s.Attempts, truncateID(s.OutputRef), s.Error)
	}
	_ = w.Flush()
}

// formatRunResult writes the step table and a one-line gate summary.
func formatRunResult(out io.Writer, res *pipeline.RunResult) {
	formatSteps(out, res.Steps)
	_, _ = fmt.Fprintf(out, "\nExecuted: %s\n", joinSteps(res.Executed))
	_, _ = fmt.Fprintf(out, "Reused:   %s\n", joinSteps(res.Reused))
	_, _ = fmt.Fprintln(out, gateSummary(res.View.CanProceed, res.View.Outstanding, res.View.BlockingReasons))
}

// formatBatchResult writes one line per return and totals.
func formatBatchResult(out io.Writer, res *pipeline.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RETURN\tRESULT\tEXECUTED\tREUSED\tDETAIL")
	_, _ = fmt.Fprintln(w, "------\t------\t--------\t------\t------")
	for _, it := range res.Items {
		if it.Result == nil {
			_, _ = fmt.Fprintf(w, "%s\tFAILED\t-\t-\t%s\n", truncateID(it.ReturnID), it.Error)
			continue
		}
		result := "READY"
		if !it.Result.View.CanProceed {
			result = "BLOCKED"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d outstanding\n",
			truncateID(it.ReturnID), result, len(it.Result.Executed), len(it.Result.Reused), it.Result.View.Outstanding)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nSucceeded: %d  Failed: %d\n", res.Succeeded, res.Failed)
}

// formatConfirmationView writes the review screen grouped by tax head.
// Markers: ! blocking, ? needs confirmation, * overridden, ✓ confirmed.
func formatConfirmationView(out io.Writer, v *model.ConfirmationView) {
	for _, h := range v.Heads {
		_, _ = fmt.Fprintf(out, "%s\n", h.Head)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, it := range h.Items {
			_, _ = fmt.Fprintf(w, "  %s %s\t%s\t%s\t%s\n",
				itemMarker(it), it.LineItemID, it.Label, it.Amount, it.Source)
			for _, r := range it.Reasons {
				_, _ = fmt.Fprintf(w, "      %s\t\t\t\n", r)
			}
		}
		_ = w.Flush()
	}
	for _, e := range v.InputErrors {
		_, _ = fmt.Fprintf(out, "input error: %s\n", e)
	}
	_, _ = fmt.Fprintln(out, gateSummary(v.CanProceed, v.Outstanding, v.BlockingReasons))
}

func itemMarker(it model.ConfirmationItem) string {
	switch {
	case it.Blocking:
		return "!"
	case it.NeedsConfirm:
		return "?"
	case it.Overridden:
		return "*"
	case it.Confirmed:
		return "✓"
	}
	return " "
}

// formatGateOutcome writes what a submission did and where the gate stands.
func formatGateOutcome(out io.Writer, o *model.GateOutcome) {
	if len(o.Confirmed) > 0 {
		_, _ = fmt.Fprintf(out, "Confirmed: %s\n", strings.Join(o.Confirmed, ", "))
	}
	if len(o.Edited) > 0 {
		_, _ = fmt.Fprintf(out, "Edited:    %s\n", strings.Join(o.Edited, ", "))
	}
	for _, r := range o.Rejected {
		_, _ = fmt.Fprintf(out, "Rejected:  %s\n", r)
	}
	_, _ = fmt.Fprintln(out, gateSummary(o.CanProceed, o.Outstanding, o.BlockingReasons))
}

func gateSummary(canProceed bool, outstanding int, blocking []string) string {
	if !canProceed {
		var b strings.Builder
		fmt.Fprintf(&b, "BLOCKED (%d outstanding)", outstanding)
		for _, r := range blocking {
			fmt.Fprintf(&b, "\n  - %s", r)
		}
		return b.String()
	}
	if outstanding > 0 {
		return fmt.Sprintf("OK to proceed after %d confirmation(s)", outstanding)
	}
	return "OK to proceed"
}

// formatComputation writes both regimes side by side.
func formatComputation(out io.Writer, c *model.Computation) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintf(w, "\tOLD\tNEW\t\n")
	row := func(label string, get func(r model.ComputationResult) string) {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t\n", label, get(c.Old), get(c.New))
	}
	row("Gross total income", func(r model.ComputationResult) string { return r.GrossTotalIncome.String() })
	row("Deductions", func(r model.ComputationResult) string { return r.DeductionsTotal.String() })
	row("Taxable income", func(r model.ComputationResult) string { return r.TaxableIncome.String() })
	row("Slab tax", func(r model.ComputationResult) string { return r.SlabTax.String() })
	row("Special-rate tax", func(r model.ComputationResult) string { return r.SpecialRateTax.String() })
	row("Rebate 87A", func(r model.ComputationResult) string { return r.Rebate87A.String() })
	row("Surcharge", func(r model.ComputationResult) string { return r.Surcharge.String() })
	row("Cess", func(r model.ComputationResult) string { return r.Cess.String() })
	row("Total tax liability", func(r model.ComputationResult) string { return r.TotalTaxLiability.String() })
	row("Interest 234A/B/C", func(r model.ComputationResult) string { return r.TotalInterest.String() })
	row("Taxes paid", func(r model.ComputationResult) string { return r.TotalTaxesPaid.String() })
	row("Net position", func(r model.ComputationResult) string { return netLabel(r.Net) })
	row("Effective rate", func(r model.ComputationResult) string { return r.EffectiveRate.String() })
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nSelected: %s  Recommended: %s (saves %s)\n", c.Selected, c.Recommended, c.Savings)
	for _, warn := range c.Result().Warnings {
		_, _ = fmt.Fprintf(out, "warning %s: %s\n", warn.Code, warn.Message)
	}
}

func netLabel(n model.NetPosition) string {
	if n.IsRefund {
		return "refund " + n.Refund.String()
	}
	return "payable " + n.Payable.String()
}

// formatRuleResults writes one line per rule result.
func formatRuleResults(out io.Writer, results []model.RuleResult) {
	if len(results) == 0 {
		_, _ = fmt.Fprintln(out, "No rule results.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tCATEGORY\tSEVERITY\tRESULT\tPASS\tMESSAGE")
	_, _ = fmt.Fprintln(w, "----\t--------\t--------\t------\t----\t-------")
	for _, r := range results {
		result := "PASS"
		if !r.Passed {
			result = "FAIL"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RuleCode, r.Category, r.Severity, result, truncateID(r.PassID), r.Message)
	}
	_ = w.Flush()
}

// formatPolicy writes a policy's field catalogue and slab tables.
func formatPolicy(out io.Writer, p *policy.Policy) {
	_, _ = fmt.Fprintf(out, "Policy %s (assessment year %s, due %s)\n\n",
		p.Version, p.AssessmentYear, p.Dates.DueDate.Format("2006-01-02"))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tLABEL\tHEAD\tCLASS\tTHRESHOLD\tPRIORITY")
	_, _ = fmt.Fprintln(w, "-----\t-----\t----\t-----\t---------\t--------")
	for _, name := range p.FieldNames() {
		f, fc, _ := p.Field(name)
		prio := make([]string, len(fc.Priority))
		for i, k := range fc.Priority {
			prio[i] = string(k)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			name, f.Label, f.Head, f.Class, fc.Threshold, strings.Join(prio, " > "))
	}
	_ = w.Flush()

	for _, r := range []model.Regime{model.RegimeOld, model.RegimeNew} {
		rg, ok := p.Regime(r)
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(out, "\n%s regime (standard deduction %s)\n", r, rg.StandardDeduction)
		for _, s := range rg.Slabs {
			upTo := "and above"
			if s.UpTo > 0 {
				upTo = "up to " + s.UpTo.String()
			}
			_, _ = fmt.Fprintf(out, "  %-24s %s\n", upTo, s.Rate)
		}
	}
}

func joinSteps(steps []model.StepName) string {
	if len(steps) == 0 {
		return "-"
	}
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

// truncateID returns the first 8 characters of an id for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
