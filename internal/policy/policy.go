// Package policy holds the versioned, per-assessment-year tables that drive
// reconciliation and computation: source priorities, variance thresholds,
// slabs, rebates, surcharge, special rates and delay interest.
package policy

import (
	"sort"
	"time"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
)

// Aggregation modes for a field class.
const (
	AggregateLatest = "latest"
	AggregateSum    = "sum"
)

// Policy is one assessment year's tables. Treat as immutable once loaded.
type Policy struct {
	Version        string `yaml:"version"`
	AssessmentYear string `yaml:"assessment_year"`

	Dates        Dates                    `yaml:"dates"`
	Defaults     Defaults                 `yaml:"defaults"`
	FieldClasses map[string]FieldClass    `yaml:"field_classes"`
	Fields       map[string]Field         `yaml:"fields"`
	Regimes      map[model.Regime]Regime  `yaml:"regimes"`
	SpecialRates SpecialRates             `yaml:"special_rates"`
	Cess         money.Rate               `yaml:"cess"`
	RoundTotalTo money.Amount             `yaml:"round_total_income_to"`
	Interest     Interest                 `yaml:"interest"`
	HeadLabels   map[model.TaxHead]string `yaml:"head_labels"`
}

// Dates are the calendar anchors for the year.
type Dates struct {
	FinancialYearStart  time.Time `yaml:"financial_year_start"`
	AssessmentYearStart time.Time `yaml:"assessment_year_start"`
	DueDate             time.Time `yaml:"due_date"`
}

// Defaults apply to field classes that leave a value unset.
type Defaults struct {
	ConfidenceFloor   float64 `yaml:"confidence_floor"`
	HardCapMultiplier int64   `yaml:"hard_cap_multiplier"`
}

// FieldClass groups fields that share reconciliation behavior.
type FieldClass struct {
	Priority        []model.SourceKind `yaml:"priority"`
	ConfidenceFloor float64            `yaml:"confidence_floor"`
	Threshold       money.Amount       `yaml:"threshold"`
	HardCap         money.Amount       `yaml:"hard_cap"`
	PaymentCritical bool               `yaml:"payment_critical"`
	Aggregation     string             `yaml:"aggregation"`
	DedupeKey       []string           `yaml:"dedupe_key"`

	// AllowNegative admits losses (capital gains); other classes reject
	// negative amounts at ingestion.
	AllowNegative bool `yaml:"allow_negative"`
}

// Rank returns the position of kind in the priority list. Unlisted kinds
// rank after every listed one, in canonical order.
func (fc FieldClass) Rank(kind model.SourceKind) int {
	for i, k := range fc.Priority {
		if k == kind {
			return i
		}
	}
	for i, k := range model.SourceKinds {
		if k == kind {
			return len(fc.Priority) + i
		}
	}
	return len(fc.Priority) + len(model.SourceKinds)
}

// Field is one entry in the field catalogue.
type Field struct {
	Label        string        `yaml:"label"`
	Class        string        `yaml:"class"`
	Head         model.TaxHead `yaml:"head"`
	MandatoryFor []string      `yaml:"mandatory_for"`
	ReadOnly     bool          `yaml:"read_only"`
}

// Mandatory reports whether the field must be present for formType.
func (f Field) Mandatory(formType string) bool {
	for _, ft := range f.MandatoryFor {
		if ft == formType {
			return true
		}
	}
	return false
}

// Slab is one marginal band. UpTo of zero means unbounded and must be last.
type Slab struct {
	UpTo money.Amount `yaml:"up_to"`
	Rate money.Rate   `yaml:"rate"`
}

// AgeBand replaces the regime's slabs for taxpayers at or above MinAge.
type AgeBand struct {
	MinAge int    `yaml:"min_age"`
	Slabs  []Slab `yaml:"slabs"`
}

// Rebate is the section 87A rebate.
type Rebate struct {
	IncomeLimit     money.Amount `yaml:"income_limit"`
	Cap             money.Amount `yaml:"cap"`
	MarginalRelief  bool         `yaml:"marginal_relief"`
	ExcludeSections []string     `yaml:"exclude_sections"`
}

// SurchargeTier applies Rate once total income exceeds Above.
type SurchargeTier struct {
	Above money.Amount `yaml:"above"`
	Rate  money.Rate   `yaml:"rate"`
}

// Regime holds one regime's slabs and allowances.
type Regime struct {
	Slabs                  []Slab                  `yaml:"slabs"`
	AgeBands               []AgeBand               `yaml:"age_bands"`
	StandardDeduction      money.Amount            `yaml:"standard_deduction"`
	ProfessionalTaxAllowed bool                    `yaml:"professional_tax_allowed"`
	Deductions             map[string]money.Amount `yaml:"deductions"`
	DeductionLimitedBy     map[string]string       `yaml:"deduction_limited_by"`
	Rebate                 Rebate                  `yaml:"rebate_87a"`
	Surcharge              []SurchargeTier         `yaml:"surcharge"`
}

// SlabsFor returns the slab table for a taxpayer of the given age.
func (r Regime) SlabsFor(age int) []Slab {
	slabs := r.Slabs
	best := -1
	for _, b := range r.AgeBands {
		if age >= b.MinAge && b.MinAge > best {
			best = b.MinAge
			slabs = b.Slabs
		}
	}
	return slabs
}

// BasicExemption is the upper bound of the nil-rate slab.
func (r Regime) BasicExemption(age int) money.Amount {
	slabs := r.SlabsFor(age)
	if len(slabs) > 0 && slabs[0].Rate == 0 {
		return slabs[0].UpTo
	}
	return 0
}

// SurchargeTiers returns tiers sorted by threshold.
func (r Regime) SurchargeTiers() []SurchargeTier {
	tiers := append([]SurchargeTier(nil), r.Surcharge...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Above < tiers[j].Above })
	return tiers
}

// SpecialRates covers income taxed outside the slabs.
type SpecialRates struct {
	STCG111A             money.Rate   `yaml:"stcg_111a"`
	LTCG112A             money.Rate   `yaml:"ltcg_112a"`
	LTCG112AExemption    money.Amount `yaml:"ltcg_112a_exemption"`
	SurchargeCap         money.Rate   `yaml:"surcharge_cap"`
	AdjustBasicExemption bool         `yaml:"adjust_basic_exemption"`
}

// Instalment is one advance-tax due date.
type Instalment struct {
	Due         time.Time  `yaml:"due"`
	Cumulative  money.Rate `yaml:"cumulative"`
	SafeHarbour money.Rate `yaml:"safe_harbour"`
	Months      int        `yaml:"months"`
}

// Interest holds sections 234A/B/C parameters.
type Interest struct {
	RatePerMonth        money.Rate   `yaml:"rate_per_month"`
	AdvanceTaxMinimum   money.Amount `yaml:"advance_tax_minimum"`
	AdvanceTaxShare234B money.Rate   `yaml:"advance_tax_share_234b"`
	RoundBaseTo         money.Amount `yaml:"round_base_to"`
	Instalments         []Instalment `yaml:"instalments"`
}

// Field returns the catalogue entry and its class.
func (p *Policy) Field(name string) (Field, FieldClass, bool) {
	f, ok := p.Fields[name]
	if !ok {
		return Field{}, FieldClass{}, false
	}
	return f, p.FieldClasses[f.Class], true
}

// FieldNames returns the catalogue in sorted order.
func (p *Policy) FieldNames() []string {
	names := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldsInHead returns catalogue fields for head in sorted order.
func (p *Policy) FieldsInHead(head model.TaxHead) []string {
	var out []string
	for _, name := range p.FieldNames() {
		if p.Fields[name].Head == head {
			out = append(out, name)
		}
	}
	return out
}

// Regime returns the tables for r.
func (p *Policy) Regime(r model.Regime) (Regime, bool) {
	rg, ok := p.Regimes[r]
	return rg, ok
}

// HeadLabel returns a display label for head.
func (p *Policy) HeadLabel(head model.TaxHead) string {
	if l, ok := p.HeadLabels[head]; ok {
		return l
	}
	return string(head)
}
