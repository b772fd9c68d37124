// Package gate builds the confirmation view a user reviews before a return
// can proceed, and turns the user's confirmations and edits into actions and
// USER_EDIT extracts for the next reconciliation pass. It never mutates a
// ReconciledValue.
package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

// Line item ids of the computation head.
const (
	ItemTaxableIncome = "taxable_income"
	ItemLiability     = "total_tax_liability"
	ItemInterest      = "total_interest"
	ItemNetPosition   = "net_position"
)

// Input is everything the gate reads for one return. Results should hold
// only the latest result per rule code.
type Input struct {
	ReturnID    string
	Ledger      model.Ledger
	Computation *model.Computation
	Results     []model.RuleResult
	Actions     []model.UserAction
	InputErrors []string
}

// Gate applies one policy's field catalogue to the review workflow.
type Gate struct {
	policy *policy.Policy
}

// New returns a gate for p.
func New(p *policy.Policy) *Gate {
	return &Gate{policy: p}
}

// item is a ConfirmationItem plus what a confirmation of it would cover.
type item struct {
	model.ConfirmationItem
	varianceFPs []string // live non-blocking variances
	ruleFPs     []string // failed WARNING rules not yet confirmed
}

// RuleFingerprint identifies a rule failure for a given set of inputs, so a
// confirmed failure resurfaces when its inputs change.
func RuleFingerprint(r model.RuleResult) string {
	keys := make([]string, 0, len(r.InputsUsed))
	for k := range r.InputsUsed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", r.RuleCode, r.OutputValue)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%s", k, r.InputsUsed[k])
	}
	return "rule:" + r.RuleCode + ":" + hex.EncodeToString(h.Sum(nil))[:12]
}

// HeadForCategory maps a rule category onto a tax head. Unknown categories,
// including "general", land on the computation head.
func HeadForCategory(category string) model.TaxHead {
	head := model.TaxHead(strings.ToUpper(category))
	for _, h := range model.TaxHeads {
		if h == head {
			return h
		}
	}
	return model.HeadComputation
}

// BuildView groups the line items by tax head and derives needs_confirm,
// blocking and can_proceed.
func (g *Gate) BuildView(in Input) model.ConfirmationView {
	items := g.items(in)

	view := model.ConfirmationView{
		ReturnID:    in.ReturnID,
		InputErrors: in.InputErrors,
	}
	byHead := make(map[model.TaxHead]*model.HeadGroup)
	for _, it := range items {
		grp, ok := byHead[it.Head]
		if !ok {
			grp = &model.HeadGroup{Head: it.Head}
			byHead[it.Head] = grp
		}
		grp.Items = append(grp.Items, it.ConfirmationItem)
		if it.NeedsConfirm {
			grp.NeedsConfirm = true
			view.Outstanding++
		}
		if it.Blocking {
			grp.Blocking = true
		}
	}
	for _, h := range model.TaxHeads {
		if grp, ok := byHead[h]; ok {
			view.Heads = append(view.Heads, *grp)
		}
	}

	view.BlockingReasons = blockingReasons(in)
	view.CanProceed = len(view.BlockingReasons) == 0
	return view
}

// blockingReasons lists live BLOCKING variances and ERROR rule failures.
// Either one stops the return.
func blockingReasons(in Input) []string {
	var out []string
	for _, rv := range in.Ledger.Fields {
		for _, v := range rv.LiveVariances() {
			if v.Severity == model.SeverityBlocking {
				out = append(out, rv.FieldName+": "+v.Description)
			}
		}
	}
	for _, r := range in.Results {
		if r.Failed(model.SeverityError) {
			out = append(out, "rule "+r.RuleCode+": "+r.Message)
		}
	}
	return out
}

func (g *Gate) items(in Input) []item {
	confirmed := confirmedFingerprints(in.Actions)

	var items []item
	for _, rv := range in.Ledger.Fields {
		f, _, ok := g.policy.Field(rv.FieldName)
		if !ok {
			continue
		}
		it := item{ConfirmationItem: model.ConfirmationItem{
			LineItemID: rv.FieldName,
			Label:      f.Label,
			Head:       f.Head,
			Amount:     rv.Effective(),
			Source:     rv.WinningSource,
			Editable:   !f.ReadOnly,
			Overridden: rv.OverriddenValue != nil,
		}}
		for _, v := range rv.LiveVariances() {
			it.Reasons = append(it.Reasons, v.Description)
			if v.Severity == model.SeverityBlocking {
				it.Blocking = true
			} else {
				it.varianceFPs = append(it.varianceFPs, v.Fingerprint)
			}
		}
		it.NeedsConfirm = len(rv.LiveVariances()) > 0
		items = append(items, it)
	}
	items = append(items, computationItems(in.Computation)...)

	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.LineItemID] = i
	}
	for _, r := range in.Results {
		if !r.Failed(model.SeverityWarning) {
			continue
		}
		for _, i := range attachTo(r, items, index) {
			it := &items[i]
			it.Reasons = append(it.Reasons, r.Message)
			if r.Severity.AtLeast(model.SeverityError) {
				it.Blocking = true
				it.NeedsConfirm = true
				continue
			}
			fp := RuleFingerprint(r)
			if confirmed[it.LineItemID][fp] {
				continue
			}
			it.ruleFPs = append(it.ruleFPs, fp)
			it.NeedsConfirm = true
		}
	}

	for i := range items {
		it := &items[i]
		it.Confirmed = len(confirmed[it.LineItemID]) > 0 && !it.NeedsConfirm
	}
	return items
}

// attachTo returns the items a failed rule applies to: its field's item when
// the field is a line item, otherwise every item of the rule's head.
func attachTo(r model.RuleResult, items []item, index map[string]int) []int {
	if i, ok := index[r.Field]; ok {
		return []int{i}
	}
	head := HeadForCategory(r.Category)
	var out []int
	for i, it := range items {
		if it.Head == head {
			out = append(out, i)
		}
	}
	return out
}

func confirmedFingerprints(actions []model.UserAction) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for _, a := range actions {
		if a.Kind != model.ActionConfirm {
			continue
		}
		set, ok := out[a.Field]
		if !ok {
			set = make(map[string]bool)
			out[a.Field] = set
		}
		for _, fp := range a.Fingerprints {
			set[fp] = true
		}
		// A confirm with no fingerprints still marks the item as reviewed.
		if len(a.Fingerprints) == 0 {
			set["reviewed"] = true
		}
	}
	return out
}

func computationItems(c *model.Computation) []item {
	if c == nil {
		return nil
	}
	r := c.Result()
	mk := func(id, label string, amt money.Amount) item {
		return item{ConfirmationItem: model.ConfirmationItem{
			LineItemID: id,
			Label:      label,
			Head:       model.HeadComputation,
			Amount:     amt,
		}}
	}
	net := mk(ItemNetPosition, "Net tax payable", r.Net.Payable)
	if r.Net.IsRefund {
		net.Label = "Refund due"
		net.Amount = r.Net.Refund
	}
	return []item{
		mk(ItemTaxableIncome, fmt.Sprintf("Taxable income (%s regime)", strings.ToLower(string(r.Regime))), r.TaxableIncome),
		mk(ItemLiability, "Total tax liability", r.TotalTaxLiability),
		mk(ItemInterest, "Interest under 234A/B/C", r.TotalInterest),
		net,
	}
}
