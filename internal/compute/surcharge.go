package compute

import (
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

// surchargeInput is what the surcharge needs to know about the return.
type surchargeInput struct {
	totalIncome    money.Amount
	taxAfterRebate money.Amount
	specialTax     money.Amount
	// taxAt returns tax after rebate for a hypothetical total income, used
	// to compute marginal relief at a tier threshold.
	taxAt func(income money.Amount) (normal, special money.Amount)
}

// tierFor returns the rate and threshold of the highest tier income exceeds.
func tierFor(income money.Amount, tiers []policy.SurchargeTier) (money.Rate, money.Amount, bool) {
	var (
		rate  money.Rate
		above money.Amount
		found bool
	)
	for _, t := range tiers {
		if income > t.Above {
			rate, above, found = t.Rate, t.Above, true
		}
	}
	return rate, above, found
}

// splitSurcharge charges the tier rate on normal tax and the capped rate on
// special-rate tax.
func splitSurcharge(normal, special money.Amount, rate, specialCap money.Rate) money.Amount {
	sr := rate
	if specialCap > 0 && sr > specialCap {
		sr = specialCap
	}
	return rate.Of(normal) + sr.Of(special)
}

// Surcharge returns the surcharge after marginal relief, and the relief.
// Relief keeps the increase in tax plus surcharge over the tier threshold
// from exceeding the increase in income.
func Surcharge(in surchargeInput, tiers []policy.SurchargeTier, specialCap money.Rate) (surcharge, relief money.Amount) {
	rate, threshold, ok := tierFor(in.totalIncome, tiers)
	if !ok {
		return 0, 0
	}
	normal := money.NonNegative(in.taxAfterRebate - in.specialTax)
	special := in.taxAfterRebate - normal
	surcharge = splitSurcharge(normal, special, rate, specialCap)

	if in.taxAt == nil {
		return surcharge, 0
	}
	tn, ts := in.taxAt(threshold)
	prevRate, _, _ := tierFor(threshold, tiers)
	atThreshold := tn + ts + splitSurcharge(tn, ts, prevRate, specialCap)

	excess := in.taxAfterRebate + surcharge - atThreshold - (in.totalIncome - threshold)
	if excess > 0 {
		relief = money.Min(excess, surcharge)
		surcharge -= relief
	}
	return surcharge, relief
}
