package compute

import (
	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

// specialRateTax taxes 111A and 112A gains at their own rates. Residents
// may set any basic exemption left unused by normal income against these
// gains, higher-rate gains first.
func specialRateTax(h model.IncomeHeads, unusedExemption money.Amount, sr policy.SpecialRates) (money.Amount, []model.SpecialLine) {
	type gain struct {
		section string
		income  money.Amount
		exempt  money.Amount
		rate    money.Rate
	}
	gains := []gain{
		{section: "111A", income: h.ShortTermGains111A, rate: sr.STCG111A},
		{section: "112A", income: h.LongTermGains112A, exempt: money.Min(h.LongTermGains112A, sr.LTCG112AExemption), rate: sr.LTCG112A},
	}
	if gains[1].rate > gains[0].rate {
		gains[0], gains[1] = gains[1], gains[0]
	}

	var total money.Amount
	var lines []model.SpecialLine
	for _, g := range gains {
		if g.income <= 0 {
			continue
		}
		taxable := g.income - g.exempt
		adj := money.Min(unusedExemption, taxable)
		unusedExemption -= adj
		taxable -= adj

		line := model.SpecialLine{
			Section: g.section,
			Income:  g.income,
			Exempt:  g.exempt + adj,
			Taxable: taxable,
			Rate:    g.rate,
			Tax:     g.rate.Of(taxable),
		}
		total += line.Tax
		lines = append(lines, line)
	}
	return total, lines
}
