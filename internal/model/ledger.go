package model

import (
	"time"

	"github.com/sells-group/taxprep/internal/money"
)

// Severity grades variances and rule results.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityBlocking Severity = "BLOCKING"
)

// Rank orders severities; ERROR and BLOCKING both stop export.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityError, SeverityBlocking:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// VarianceKind classifies why a variance was raised.
type VarianceKind string

const (
	VarianceMismatch      VarianceKind = "MISMATCH"
	VarianceLowConfidence VarianceKind = "LOW_CONFIDENCE"
	VarianceMissing       VarianceKind = "MISSING"
)

// Range is an inclusive amount interval.
type Range struct {
	Min money.Amount `json:"min"`
	Max money.Amount `json:"max"`
}

// Contains reports whether a lies inside r.
func (r Range) Contains(a money.Amount) bool {
	return a >= r.Min && a <= r.Max
}

// Variance is a detected disagreement (or gap) for one field. Records are
// never deleted; resolution is marked on the record itself.
type Variance struct {
	Kind               VarianceKind `json:"kind"`
	Description        string       `json:"description"`
	Severity           Severity     `json:"severity"`
	Source             SourceKind   `json:"source,omitempty"`
	ExpectedRange      Range        `json:"expected_range"`
	Actual             money.Amount `json:"actual"`
	Delta              money.Amount `json:"delta"`
	Fingerprint        string       `json:"fingerprint"`
	ResolvedByOverride bool         `json:"resolved_by_override"`
	Acknowledged       bool         `json:"acknowledged"`
}

// Live reports whether the variance still needs attention.
func (v Variance) Live() bool {
	return !v.ResolvedByOverride && !v.Acknowledged
}

// Transaction is one deduplicated payment behind a summed field (e.g. a challan).
type Transaction struct {
	Key       string       `json:"key"`
	Date      string       `json:"date,omitempty"`
	Amount    money.Amount `json:"amount"`
	ExtractID string       `json:"extract_id"`
}

// SourceContribution is one source's view of a field.
type SourceContribution struct {
	Source       SourceKind    `json:"source"`
	Value        money.Amount  `json:"value"`
	Confidence   float64       `json:"confidence"`
	CapturedAt   time.Time     `json:"captured_at"`
	ExtractIDs   []string      `json:"extract_ids"`
	Transactions []Transaction `json:"transactions,omitempty"`
	Skipped      bool          `json:"skipped,omitempty"`
}

// ReconciledValue is the single trusted value for one field of one return.
type ReconciledValue struct {
	FieldName           string               `json:"field_name"`
	Value               money.Amount         `json:"value"`
	WinningSource       SourceKind           `json:"winning_source,omitempty"`
	Confidence          float64              `json:"confidence"`
	ContributingSources []SourceContribution `json:"contributing_sources"`
	Variances           []Variance           `json:"variances,omitempty"`
	Confirmed           bool                 `json:"confirmed"`
	OverriddenValue     *money.Amount        `json:"overridden_value,omitempty"`
	OverrideReason      string               `json:"override_reason,omitempty"`
	Transactions        []Transaction        `json:"transactions,omitempty"`
}

// Effective returns the override when present, otherwise the reconciled winner.
func (rv ReconciledValue) Effective() money.Amount {
	if rv.OverriddenValue != nil {
		return *rv.OverriddenValue
	}
	return rv.Value
}

// LiveVariances returns variances that are neither overridden nor acknowledged.
func (rv ReconciledValue) LiveVariances() []Variance {
	var out []Variance
	for _, v := range rv.Variances {
		if v.Live() {
			out = append(out, v)
		}
	}
	return out
}

// HasBlocking reports whether a live BLOCKING variance remains.
func (rv ReconciledValue) HasBlocking() bool {
	for _, v := range rv.Variances {
		if v.Live() && v.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// Ledger is the output of one reconciliation pass: one value per catalogued field.
type Ledger struct {
	Fields        []ReconciledValue `json:"fields"`
	Confidence    float64           `json:"confidence"`
	PolicyVersion string            `json:"policy_version"`
}

// Get returns the reconciled value for name.
func (l Ledger) Get(name string) (ReconciledValue, bool) {
	for _, f := range l.Fields {
		if f.FieldName == name {
			return f, true
		}
	}
	return ReconciledValue{}, false
}

// Amount returns the effective amount for name, or zero when absent.
func (l Ledger) Amount(name string) money.Amount {
	rv, ok := l.Get(name)
	if !ok {
		return 0
	}
	return rv.Effective()
}

// BlockingFields lists fields with a live BLOCKING variance.
func (l Ledger) BlockingFields() []string {
	var out []string
	for _, f := range l.Fields {
		if f.HasBlocking() {
			out = append(out, f.FieldName)
		}
	}
	return out
}

// Blocked returns a *VarianceBlockedError for the first field with a live
// BLOCKING variance, or nil.
func (l Ledger) Blocked() error {
	for _, f := range l.Fields {
		for _, v := range f.Variances {
			if !v.Live() || v.Severity != SeverityBlocking {
				continue
			}
			var sources []SourceKind
			if f.WinningSource != "" {
				sources = append(sources, f.WinningSource)
			}
			if v.Source != "" && v.Source != f.WinningSource {
				sources = append(sources, v.Source)
			}
			return &VarianceBlockedError{Field: f.FieldName, Sources: sources, Delta: v.Delta}
		}
	}
	return nil
}

// ActionKind is a user decision replayed on every reconciliation pass.
type ActionKind string

const (
	ActionConfirm       ActionKind = "CONFIRM"
	ActionOverride      ActionKind = "OVERRIDE"
	ActionClearOverride ActionKind = "CLEAR_OVERRIDE"
)

// UserAction is an append-only record of a confirmation or override.
// Fingerprints are the variances that were live when the action was taken.
type UserAction struct {
	ID           string        `json:"id"`
	ReturnID     string        `json:"return_id"`
	Field        string        `json:"field"`
	Kind         ActionKind    `json:"kind"`
	Value        *money.Amount `json:"value,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Fingerprints []string      `json:"fingerprints,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}
