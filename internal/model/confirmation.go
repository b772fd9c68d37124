package model

import "github.com/sells-group/taxprep/internal/money"

// TaxHead groups line items on the confirmation view.
type TaxHead string

const (
	HeadSalary       TaxHead = "SALARY"
	HeadInterest     TaxHead = "INTEREST"
	HeadCapitalGains TaxHead = "CAPITAL_GAINS"
	HeadDeductions   TaxHead = "DEDUCTIONS"
	HeadTDS          TaxHead = "TDS"
	HeadTaxesPaid    TaxHead = "TAXES_PAID"
	HeadComputation  TaxHead = "COMPUTATION"
)

// TaxHeads is the display order of heads.
var TaxHeads = []TaxHead{
	HeadSalary, HeadInterest, HeadCapitalGains, HeadDeductions,
	HeadTDS, HeadTaxesPaid, HeadComputation,
}

// ConfirmationItem is one line of the review screen.
type ConfirmationItem struct {
	LineItemID   string       `json:"line_item_id"`
	Label        string       `json:"label"`
	Head         TaxHead      `json:"head"`
	Amount       money.Amount `json:"amount"`
	Source       SourceKind   `json:"source,omitempty"`
	NeedsConfirm bool         `json:"needs_confirm"`
	Editable     bool         `json:"editable"`
	Blocking     bool         `json:"blocking"`
	Confirmed    bool         `json:"confirmed"`
	Overridden   bool         `json:"overridden"`
	Reasons      []string     `json:"reasons,omitempty"`
}

// HeadGroup is a tax head and its items.
type HeadGroup struct {
	Head         TaxHead            `json:"head"`
	NeedsConfirm bool               `json:"needs_confirm"`
	Blocking     bool               `json:"blocking"`
	Items        []ConfirmationItem `json:"items"`
}

// ConfirmationView is the full review screen for a return.
type ConfirmationView struct {
	ReturnID        string      `json:"return_id"`
	Heads           []HeadGroup `json:"heads"`
	CanProceed      bool        `json:"can_proceed"`
	Outstanding     int         `json:"outstanding"`
	BlockingReasons []string    `json:"blocking_reasons,omitempty"`
	InputErrors     []string    `json:"input_errors,omitempty"`
}

// Item finds a line item by id.
func (v ConfirmationView) Item(id string) (ConfirmationItem, bool) {
	for _, h := range v.Heads {
		for _, it := range h.Items {
			if it.LineItemID == id {
				return it, true
			}
		}
	}
	return ConfirmationItem{}, false
}

// Edit is a user-supplied value for a line item.
type Edit struct {
	Field  string       `json:"field"`
	Value  money.Amount `json:"value"`
	Reason string       `json:"reason,omitempty"`
}

// GateOutcome reports the result of a confirmation submission.
type GateOutcome struct {
	CanProceed      bool             `json:"can_proceed"`
	Outstanding     int              `json:"outstanding"`
	BlockingReasons []string         `json:"blocking_reasons,omitempty"`
	Confirmed       []string         `json:"confirmed,omitempty"`
	Edited          []string         `json:"edited,omitempty"`
	Rejected        []string         `json:"rejected,omitempty"`
	View            ConfirmationView `json:"view"`
}
