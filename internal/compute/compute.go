// Package compute turns a reconciled ledger into a tax computation for one
// or both regimes. All arithmetic is on whole rupees and basis points, so
// the same ledger, regime and policy always produce the same result.
package compute

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

// Engine computes tax against one assessment year's policy.
type Engine struct {
	policy *policy.Policy
}

// New creates an Engine.
func New(p *policy.Policy) *Engine {
	return &Engine{policy: p}
}

// Compute produces the computation for one regime.
func (e *Engine) Compute(l model.Ledger, regime model.Regime, profile model.TaxpayerProfile) (model.ComputationResult, error) {
	p := e.policy
	rg, ok := p.Regime(regime)
	if !ok {
		return model.ComputationResult{}, eris.Errorf("compute: regime %q not in policy %s", regime, p.Version)
	}
	slabs := rg.SlabsFor(profile.Age)

	res := model.ComputationResult{
		Regime:         regime,
		AssessmentYear: p.AssessmentYear,
		PolicyVersion:  p.Version,
	}

	// Income and deductions. Deductions reduce only normal income.
	h := incomeHeads(l, rg)
	if warn := setOffCapitalLosses(&h); warn != nil {
		res.Warnings = append(res.Warnings, *warn)
	}
	res.Income = h
	special := h.ShortTermGains111A + h.LongTermGains112A
	normalBeforeDeductions := h.Salary + h.OtherSources
	res.GrossTotalIncome = normalBeforeDeductions + special

	claimed, allowed, lines := deductions(l, p, rg)
	res.DeductionsClaimed = claimed
	res.Deductions = lines
	allowed, warn := clampDeductions(allowed, normalBeforeDeductions)
	if warn != nil {
		res.Warnings = append(res.Warnings, *warn)
	}
	res.DeductionsTotal = allowed

	res.TaxableIncome = money.RoundToMultiple(res.GrossTotalIncome-allowed, p.RoundTotalTo)
	res.SpecialRateIncome = special
	res.NormalIncome = money.NonNegative(res.TaxableIncome - special)

	// Slab tax and special-rate tax, summed before the rebate test.
	res.SlabTax, res.Slabs = SlabTax(res.NormalIncome, slabs)
	unused := money.Amount(0)
	if profile.Resident && p.SpecialRates.AdjustBasicExemption {
		unused = money.NonNegative(rg.BasicExemption(profile.Age) - res.NormalIncome)
	}
	res.SpecialRateTax, res.Special = specialRateTax(h, unused, p.SpecialRates)
	res.TaxOnIncome = res.SlabTax + res.SpecialRateTax

	res.Rebate87A = Rebate87A(res.TaxableIncome, res.TaxOnIncome, res.Special, rg.Rebate)
	res.TaxAfterRebate = money.NonNegative(res.TaxOnIncome - res.Rebate87A)

	res.Surcharge, res.MarginalRelief = Surcharge(surchargeInput{
		totalIncome:    res.TaxableIncome,
		taxAfterRebate: res.TaxAfterRebate,
		specialTax:     res.SpecialRateTax,
		taxAt: func(income money.Amount) (money.Amount, money.Amount) {
			normal := money.NonNegative(income - special)
			st, _ := SlabTax(normal, slabs)
			return st, res.SpecialRateTax
		},
	}, rg.SurchargeTiers(), p.SpecialRates.SurchargeCap)

	res.Cess = p.Cess.Of(res.TaxAfterRebate + res.Surcharge)
	res.TotalTaxLiability = res.TaxAfterRebate + res.Surcharge + res.Cess

	// Taxes paid.
	pay := payments{
		tds:            l.Amount("tds_salary") + l.Amount("tds_other"),
		tcs:            l.Amount("tcs"),
		advance:        l.Amount("advance_tax"),
		selfAssessment: l.Amount("self_assessment_tax"),
	}
	if rv, ok := l.Get("advance_tax"); ok {
		pay.advanceTxns = rv.Transactions
	}
	if rv, ok := l.Get("self_assessment_tax"); ok {
		pay.saTxns = rv.Transactions
	}
	res.TDS = pay.tds
	res.TCS = pay.tcs
	res.AdvanceTax = pay.advance
	res.SelfAssessmentTax = pay.selfAssessment
	res.TotalTaxesPaid = pay.tds + pay.tcs + pay.advance + pay.selfAssessment

	// Interest only when something is still payable.
	if res.TotalTaxLiability-res.TotalTaxesPaid > 0 {
		e.interest(&res, pay, profile)
	}

	res.Net = model.NewNetPosition(res.TotalTaxLiability + res.TotalInterest - res.TotalTaxesPaid)

	if res.GrossTotalIncome > 0 {
		res.EffectiveRate = money.Rate(int64(res.TotalTaxLiability) * 10000 / int64(res.GrossTotalIncome))
	}
	res.MarginalRate = MarginalRate(res.NormalIncome, slabs)
	return res, nil
}

func (e *Engine) interest(res *model.ComputationResult, pay payments, profile model.TaxpayerProfile) {
	asOf := e.policy.Dates.DueDate
	if profile.FilingDate != nil {
		asOf = *profile.FilingDate
	}
	c := interestCalc{p: e.policy, liability: res.TotalTaxLiability, pay: pay, asOf: asOf}

	if line := c.s234A(); line != nil {
		res.Interest234A = line.Amount
		res.Interest = append(res.Interest, *line)
	}
	if line := c.s234B(); line != nil {
		res.Interest234B = line.Amount
		res.Interest = append(res.Interest, *line)
	}
	for _, line := range c.s234C() {
		res.Interest234C += line.Amount
		res.Interest = append(res.Interest, line)
	}
	res.TotalInterest = res.Interest234A + res.Interest234B + res.Interest234C
}

// Compare computes both regimes and recommends the cheaper one. The
// return's own regime stays selected; ties go to the new regime.
func (e *Engine) Compare(l model.Ledger, profile model.TaxpayerProfile) (model.Computation, error) {
	oldRes, err := e.Compute(l, model.RegimeOld, profile)
	if err != nil {
		return model.Computation{}, err
	}
	newRes, err := e.Compute(l, model.RegimeNew, profile)
	if err != nil {
		return model.Computation{}, err
	}

	c := model.Computation{Selected: profile.Regime, Old: oldRes, New: newRes}
	if !c.Selected.Valid() {
		c.Selected = model.RegimeNew
	}
	oldCost := oldRes.TotalTaxLiability + oldRes.TotalInterest
	newCost := newRes.TotalTaxLiability + newRes.TotalInterest
	if oldCost < newCost {
		c.Recommended = model.RegimeOld
		c.Savings = newCost - oldCost
	} else {
		c.Recommended = model.RegimeNew
		c.Savings = oldCost - newCost
	}
	return c, nil
}
