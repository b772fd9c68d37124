package compute

import (
	"fmt"
	"time"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

// MonthsOrPart counts months, a part month as a whole one, in the period
// starting the day after from and ending on to.
func MonthsOrPart(from, to time.Time) int {
	from = civil(from)
	to = civil(to)
	if !to.After(from) {
		return 0
	}
	m := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() > from.Day() {
		m++
	}
	return m
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// payments is what the interest sections need to know about taxes paid.
type payments struct {
	tds, tcs       money.Amount
	advance        money.Amount
	advanceTxns    []model.Transaction
	selfAssessment money.Amount
	saTxns         []model.Transaction
}

// paidBy sums dated transactions paid on or before cutoff. When the
// transactions do not add up to total (an override, a user edit) the whole
// total is treated as paid on fallback.
func paidBy(total money.Amount, txns []model.Transaction, cutoff, fallback time.Time) money.Amount {
	var sum money.Amount
	for _, t := range txns {
		sum += t.Amount
	}
	if sum != total {
		if !civil(fallback).After(civil(cutoff)) {
			return total
		}
		return 0
	}

	var paid money.Amount
	for _, t := range txns {
		d, err := time.Parse("2006-01-02", t.Date)
		if err != nil {
			d = fallback
		}
		if !civil(d).After(civil(cutoff)) {
			paid += t.Amount
		}
	}
	return paid
}

// interestCalc computes sections 234A, 234B and 234C. Interest is simple,
// per month or part, never compounded.
type interestCalc struct {
	p         *policy.Policy
	liability money.Amount
	pay       payments
	asOf      time.Time
}

func (c interestCalc) rate(months int) money.Rate {
	return c.p.Interest.RatePerMonth.Times(months)
}

func (c interestCalc) assessedTax() money.Amount {
	return money.NonNegative(c.liability - c.pay.tds - c.pay.tcs)
}

func (c interestCalc) base(a money.Amount) money.Amount {
	return money.FloorToMultiple(money.NonNegative(a), c.p.Interest.RoundBaseTo)
}

// late filing: tax unpaid on the due date, from the due date to filing.
func (c interestCalc) s234A() *model.InterestLine {
	due := c.p.Dates.DueDate
	months := MonthsOrPart(due, c.asOf)
	if months == 0 {
		return nil
	}
	lastInstalment := c.lastInstalment()
	saPaid := paidBy(c.pay.selfAssessment, c.pay.saTxns, due, c.asOf)
	advPaid := paidBy(c.pay.advance, c.pay.advanceTxns, due, lastInstalment)
	base := c.base(c.assessedTax() - advPaid - saPaid)
	if base == 0 {
		return nil
	}
	r := c.rate(months)
	return &model.InterestLine{
		Section:     "234A",
		Base:        base,
		Months:      months,
		Rate:        c.p.Interest.RatePerMonth,
		Amount:      r.Of(base),
		Description: fmt.Sprintf("return filed %d month(s) after %s on unpaid tax of %s", months, due.Format("2006-01-02"), money.Format(base)),
	}
}

// advance tax paid below the required share of assessed tax.
func (c interestCalc) s234B() *model.InterestLine {
	assessed := c.assessedTax()
	if assessed < c.p.Interest.AdvanceTaxMinimum {
		return nil
	}
	required := c.p.Interest.AdvanceTaxShare234B.Of(assessed)
	if c.pay.advance >= required {
		return nil
	}
	base := c.base(assessed - c.pay.advance)
	months := MonthsOrPart(c.p.Dates.AssessmentYearStart.AddDate(0, 0, -1), c.asOf)
	if base == 0 || months == 0 {
		return nil
	}
	return &model.InterestLine{
		Section:     "234B",
		Base:        base,
		Months:      months,
		Rate:        c.p.Interest.RatePerMonth,
		Amount:      c.rate(months).Of(base),
		Description: fmt.Sprintf("advance tax %s below %s of assessed tax %s", money.Format(c.pay.advance), c.p.Interest.AdvanceTaxShare234B, money.Format(assessed)),
	}
}

// deferred instalments: shortfall against each cumulative due-date share.
func (c interestCalc) s234C() []model.InterestLine {
	assessed := c.assessedTax()
	if assessed < c.p.Interest.AdvanceTaxMinimum {
		return nil
	}
	last := c.lastInstalment()

	var lines []model.InterestLine
	for _, inst := range c.p.Interest.Instalments {
		paid := paidBy(c.pay.advance, c.pay.advanceTxns, inst.Due, last)
		if paid >= inst.SafeHarbour.Of(assessed) {
			continue
		}
		base := c.base(inst.Cumulative.Of(assessed) - paid)
		if base == 0 {
			continue
		}
		lines = append(lines, model.InterestLine{
			Section:     "234C",
			Base:        base,
			Months:      inst.Months,
			Rate:        c.p.Interest.RatePerMonth,
			Amount:      c.rate(inst.Months).Of(base),
			Description: fmt.Sprintf("instalment due %s: paid %s against %s", inst.Due.Format("2006-01-02"), money.Format(paid), inst.Cumulative),
		})
	}
	return lines
}

func (c interestCalc) lastInstalment() time.Time {
	ins := c.p.Interest.Instalments
	if len(ins) == 0 {
		return c.p.Dates.AssessmentYearStart
	}
	return ins[len(ins)-1].Due
}
