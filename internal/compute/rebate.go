package compute

import (
	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

// Rebate87A is applied after slab and special-rate tax are summed, and
// eligibility is tested against total income including special-rate
// income. Tax on excluded sections cannot be rebated. The rebate never
// exceeds the tax it reduces.
func Rebate87A(totalIncome, taxOnIncome money.Amount, special []model.SpecialLine, r policy.Rebate) money.Amount {
	rebatable := taxOnIncome
	for _, s := range special {
		for _, ex := range r.ExcludeSections {
			if s.Section == ex {
				rebatable -= s.Tax
			}
		}
	}
	rebatable = money.NonNegative(rebatable)

	if totalIncome <= r.IncomeLimit {
		return money.Min(rebatable, r.Cap)
	}
	if !r.MarginalRelief {
		return 0
	}
	// Tax payable may not exceed the income above the limit.
	return money.NonNegative(rebatable - (totalIncome - r.IncomeLimit))
}
