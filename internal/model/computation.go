package model

import (
	"github.com/sells-group/taxprep/internal/money"
)

// Regime is one of the two alternative statutory slab regimes.
type Regime string

const (
	RegimeOld Regime = "OLD"
	RegimeNew Regime = "NEW"
)

// Valid reports whether r is a known regime.
func (r Regime) Valid() bool {
	return r == RegimeOld || r == RegimeNew
}

// SlabLine is one slab's marginal contribution to tax on income.
type SlabLine struct {
	From    money.Amount `json:"from"`
	To      money.Amount `json:"to"` // 0 means unbounded
	Rate    money.Rate   `json:"rate_bp"`
	Taxable money.Amount `json:"taxable"`
	Tax     money.Amount `json:"tax"`
}

// SpecialLine is special-rate income taxed outside the slabs.
type SpecialLine struct {
	Section string       `json:"section"`
	Income  money.Amount `json:"income"`
	Exempt  money.Amount `json:"exempt"`
	Taxable money.Amount `json:"taxable"`
	Rate    money.Rate   `json:"rate_bp"`
	Tax     money.Amount `json:"tax"`
}

// DeductionLine is one deduction as claimed and as allowed under the
// regime's caps, before the total is clamped to income.
type DeductionLine struct {
	Field   string       `json:"field"`
	Claimed money.Amount `json:"claimed"`
	Allowed money.Amount `json:"allowed"`
}

// InterestLine details one delay-interest section.
type InterestLine struct {
	Section     string       `json:"section"`
	Base        money.Amount `json:"base"`
	Months      int          `json:"months"`
	Rate        money.Rate   `json:"rate_bp"`
	Amount      money.Amount `json:"amount"`
	Description string       `json:"description"`
}

// ComputationWarning is raised when the engine clamps a value it could not
// use as computed. The rule engine turns these into WARNING results.
type ComputationWarning struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Amount  money.Amount `json:"amount"`
}

// Err reports the warning as an InvariantViolation.
func (w ComputationWarning) Err() error {
	return &InvariantViolation{Code: w.Code, Detail: w.Message}
}

// NetPosition is the user-facing result: never a negative number.
type NetPosition struct {
	Payable  money.Amount `json:"payable"`
	Refund   money.Amount `json:"refund"`
	IsRefund bool         `json:"is_refund"`
}

// Signed returns payable as positive and refund as negative.
func (n NetPosition) Signed() money.Amount {
	if n.IsRefund {
		return -n.Refund
	}
	return n.Payable
}

// NewNetPosition splits a signed balance into payable or refund.
func NewNetPosition(signed money.Amount) NetPosition {
	if signed < 0 {
		return NetPosition{Refund: -signed, IsRefund: true}
	}
	return NetPosition{Payable: signed}
}

// IncomeHeads is the income side of the computation.
type IncomeHeads struct {
	GrossSalary        money.Amount `json:"gross_salary"`
	StandardDeduction  money.Amount `json:"standard_deduction"`
	ProfessionalTax    money.Amount `json:"professional_tax"`
	Salary             money.Amount `json:"salary"`
	OtherSources       money.Amount `json:"other_sources"`
	ShortTermGains111A money.Amount `json:"stcg_111a"`
	LongTermGains112A  money.Amount `json:"ltcg_112a"`

	CapitalLossSetOff         money.Amount `json:"capital_loss_set_off,omitempty"`
	CapitalLossCarriedForward money.Amount `json:"capital_loss_carried_forward,omitempty"`
}

// ComputationResult is the tax computation for one regime.
type ComputationResult struct {
	Regime         Regime `json:"regime"`
	AssessmentYear string `json:"assessment_year"`
	PolicyVersion  string `json:"policy_version"`

	Income            IncomeHeads  `json:"income"`
	GrossTotalIncome  money.Amount `json:"gross_total_income"`
	DeductionsClaimed money.Amount `json:"deductions_claimed"`
	DeductionsTotal   money.Amount `json:"deductions_total"`
	TaxableIncome     money.Amount `json:"taxable_income"`
	SpecialRateIncome money.Amount `json:"special_rate_income"`
	NormalIncome      money.Amount `json:"normal_income"`

	SlabTax        money.Amount `json:"slab_tax"`
	SpecialRateTax money.Amount `json:"special_rate_tax"`
	TaxOnIncome    money.Amount `json:"tax_on_income"`
	Rebate87A      money.Amount `json:"rebate_87a"`
	TaxAfterRebate money.Amount `json:"tax_after_rebate"`
	Surcharge      money.Amount `json:"surcharge"`
	MarginalRelief money.Amount `json:"marginal_relief"`
	Cess           money.Amount `json:"cess"`

	TotalTaxLiability money.Amount `json:"total_tax_liability"`

	Interest234A  money.Amount `json:"interest_234a"`
	Interest234B  money.Amount `json:"interest_234b"`
	Interest234C  money.Amount `json:"interest_234c"`
	TotalInterest money.Amount `json:"total_interest"`

	TDS               money.Amount `json:"tds"`
	TCS               money.Amount `json:"tcs"`
	AdvanceTax        money.Amount `json:"advance_tax"`
	SelfAssessmentTax money.Amount `json:"self_assessment_tax"`
	TotalTaxesPaid    money.Amount `json:"total_taxes_paid"`

	Net NetPosition `json:"net"`

	EffectiveRate money.Rate `json:"effective_rate_bp"`
	MarginalRate  money.Rate `json:"marginal_rate_bp"`

	Slabs      []SlabLine           `json:"slabs"`
	Special    []SpecialLine        `json:"special,omitempty"`
	Deductions []DeductionLine      `json:"deductions,omitempty"`
	Interest   []InterestLine       `json:"interest,omitempty"`
	Warnings   []ComputationWarning `json:"warnings,omitempty"`
}

// Computation holds both regimes and the one the return is filed under.
type Computation struct {
	Selected    Regime            `json:"selected"`
	Old         ComputationResult `json:"old"`
	New         ComputationResult `json:"new"`
	Recommended Regime            `json:"recommended"`
	Savings     money.Amount      `json:"savings"`
}

// Result returns the computation for the selected regime.
func (c Computation) Result() ComputationResult {
	if c.Selected == RegimeOld {
		return c.Old
	}
	return c.New
}
