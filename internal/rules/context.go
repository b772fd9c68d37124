package rules

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

// BuildContext flattens the ledger and the selected regime's computation
// into rule variables. Ledger fields use their effective (overridden) value.
func BuildContext(l model.Ledger, c model.Computation, p *policy.Policy) Context {
	ctx := make(Context)
	for _, f := range l.Fields {
		ctx[f.FieldName] = Amount(f.Effective())
	}

	r := c.Result()
	amounts := map[string]money.Amount{
		"gross_salary":          r.Income.GrossSalary,
		"standard_deduction":    r.Income.StandardDeduction,
		"income_salary":         r.Income.Salary,
		"income_other":          r.Income.OtherSources,
		"gross_total_income":    r.GrossTotalIncome,
		"deductions_claimed":    r.DeductionsClaimed,
		"deductions_total":      r.DeductionsTotal,
		"taxable_income":        r.TaxableIncome,
		"special_rate_income":   r.SpecialRateIncome,
		"normal_income":         r.NormalIncome,
		"slab_tax":              r.SlabTax,
		"special_rate_tax":      r.SpecialRateTax,
		"tax_on_income":         r.TaxOnIncome,
		"rebate_87a":            r.Rebate87A,
		"tax_after_rebate":      r.TaxAfterRebate,
		"surcharge":             r.Surcharge,
		"marginal_relief":       r.MarginalRelief,
		"cess":                  r.Cess,
		"total_tax_liability":   r.TotalTaxLiability,
		"interest_234a":         r.Interest234A,
		"interest_234b":         r.Interest234B,
		"interest_234c":         r.Interest234C,
		"total_interest":        r.TotalInterest,
		"tds":                   r.TDS,
		"total_taxes_paid":      r.TotalTaxesPaid,
		"assessed_tax":          money.NonNegative(r.TotalTaxLiability - r.TDS - r.TCS),
		"net_payable":           r.Net.Payable,
		"net_refund":            r.Net.Refund,
		"net_payable_or_refund": r.Net.Signed(),
		"regime_savings":        c.Savings,
	}
	for name, a := range amounts {
		ctx[name] = Amount(a)
	}
	for _, w := range r.Warnings {
		ctx["warning_"+strings.ToLower(w.Code)] = Amount(w.Amount)
	}

	ctx["is_refund"] = Bool(r.Net.IsRefund)
	ctx["regime_new"] = Bool(r.Regime == model.RegimeNew)
	ctx["selected_is_recommended"] = Bool(c.Selected == c.Recommended)
	ctx["cess_rate"] = Number(p.Cess.Decimal())
	ctx["ledger_confidence"] = Number(decimal.NewFromFloat(l.Confidence))
	return ctx
}
