package compute

import (
	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

// SlabTax runs income through the marginal slabs. The total is always the
// sum of the per-slab lines.
func SlabTax(income money.Amount, slabs []policy.Slab) (money.Amount, []model.SlabLine) {
	var (
		total money.Amount
		lines []model.SlabLine
		lower money.Amount
	)
	for _, s := range slabs {
		line := model.SlabLine{From: lower, To: s.UpTo, Rate: s.Rate}
		if income > lower {
			top := income
			if s.UpTo != 0 && s.UpTo < income {
				top = s.UpTo
			}
			line.Taxable = top - lower
			line.Tax = s.Rate.Of(line.Taxable)
		}
		total += line.Tax
		lines = append(lines, line)
		if s.UpTo == 0 {
			break
		}
		lower = s.UpTo
	}
	return total, lines
}

// MarginalRate is the rate applied to the last rupee of income.
func MarginalRate(income money.Amount, slabs []policy.Slab) money.Rate {
	if income <= 0 {
		return 0
	}
	for _, s := range slabs {
		if s.UpTo == 0 || income <= s.UpTo {
			return s.Rate
		}
	}
	return 0
}
