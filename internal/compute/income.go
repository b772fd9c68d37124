package compute

import (
	"fmt"
	"sort"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

// incomeHeads derives the heads of income from the ledger.
func incomeHeads(l model.Ledger, rg policy.Regime) model.IncomeHeads {
	h := model.IncomeHeads{GrossSalary: l.Amount("salary_gross")}
	h.StandardDeduction = money.Min(rg.StandardDeduction, h.GrossSalary)
	if rg.ProfessionalTaxAllowed {
		h.ProfessionalTax = money.Min(l.Amount("professional_tax"), h.GrossSalary-h.StandardDeduction)
	}
	h.Salary = h.GrossSalary - h.StandardDeduction - h.ProfessionalTax
	h.OtherSources = l.Amount("interest_savings") + l.Amount("interest_deposits") + l.Amount("dividends")
	h.ShortTermGains111A = l.Amount("stcg_111a")
	h.LongTermGains112A = l.Amount("ltcg_112a")
	return h
}

// setOffCapitalLosses applies capital losses within the capital gains head.
// A short-term loss may be set off against long-term gains; a long-term
// loss only against long-term gains. Nothing is set off against other
// heads: what remains is carried forward and both gains are left at zero
// or more.
func setOffCapitalLosses(h *model.IncomeHeads) *model.ComputationWarning {
	if h.ShortTermGains111A < 0 && h.LongTermGains112A > 0 {
		off := money.Min(-h.ShortTermGains111A, h.LongTermGains112A)
		h.ShortTermGains111A += off
		h.LongTermGains112A -= off
		h.CapitalLossSetOff = off
	}
	carried := -money.Min(h.ShortTermGains111A, 0) - money.Min(h.LongTermGains112A, 0)
	h.ShortTermGains111A = money.NonNegative(h.ShortTermGains111A)
	h.LongTermGains112A = money.NonNegative(h.LongTermGains112A)
	if carried == 0 {
		return nil
	}
	h.CapitalLossCarriedForward = carried
	return &model.ComputationWarning{
		Code:    "CAPITAL_LOSS_CARRIED_FORWARD",
		Message: fmt.Sprintf("capital loss of %s cannot be set off this year and is carried forward", money.Format(carried)),
		Amount:  carried,
	}
}

// deductions returns the amount claimed across every deduction field, and
// the amount the regime allows after caps and limits. The allowed amount is
// not yet clamped to income.
func deductions(l model.Ledger, p *policy.Policy, rg policy.Regime) (claimed, allowed money.Amount, lines []model.DeductionLine) {
	for _, name := range p.FieldsInHead(model.HeadDeductions) {
		claimed += l.Amount(name)
	}

	names := make([]string, 0, len(rg.Deductions))
	for name := range rg.Deductions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		amt := money.Min(l.Amount(name), rg.Deductions[name])
		if limit, ok := rg.DeductionLimitedBy[name]; ok {
			amt = money.Min(amt, l.Amount(limit))
		}
		amt = money.NonNegative(amt)
		allowed += amt
		lines = append(lines, model.DeductionLine{Field: name, Claimed: l.Amount(name), Allowed: amt})
	}
	return claimed, allowed, lines
}

// clampDeductions keeps deductions within income that may absorb them.
func clampDeductions(allowed, normalIncome money.Amount) (money.Amount, *model.ComputationWarning) {
	if allowed <= normalIncome {
		return allowed, nil
	}
	return normalIncome, &model.ComputationWarning{
		Code: "DEDUCTIONS_EXCEED_INCOME",
		Message: fmt.Sprintf("deductions of %s exceed income of %s; clamped to %s",
			money.Format(allowed), money.Format(normalIncome), money.Format(normalIncome)),
		Amount: allowed - normalIncome,
	}
}
