package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
)

func TestEmbedded_2025_26(t *testing.T) {
	t.Parallel()

	p, err := Embedded("2025-26")
	require.NoError(t, err)

	assert.Equal(t, "2025-26", p.AssessmentYear)
	assert.Equal(t, money.Rate(400), p.Cess)
	assert.Equal(t, money.Amount(10), p.RoundTotalTo)

	_, tds, ok := p.Field("tds_other")
	require.True(t, ok)
	assert.Equal(t, money.Amount(500), tds.Threshold)
	assert.Equal(t, money.Amount(5000), tds.HardCap, "hard cap defaults to 10x threshold")
	assert.Equal(t, 0.5, tds.ConfidenceFloor)

	_, challan, ok := p.Field("advance_tax")
	require.True(t, ok)
	assert.True(t, challan.PaymentCritical)
	assert.Equal(t, AggregateSum, challan.Aggregation)

	newRg, ok := p.Regime(model.RegimeNew)
	require.True(t, ok)
	assert.Equal(t, money.Amount(700000), newRg.Rebate.IncomeLimit)
	assert.Equal(t, money.Amount(25000), newRg.Rebate.Cap)
	assert.Equal(t, money.Rate(1250), p.SpecialRates.LTCG112A)
	require.Len(t, p.Interest.Instalments, 4)
	assert.Equal(t, 2024, p.Interest.Instalments[0].Due.Year())
}

func TestEmbedded_UnknownYear(t *testing.T) {
	t.Parallel()

	_, err := Embedded("1999-00")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEmbeddedYears(t *testing.T) {
	t.Parallel()
	assert.Contains(t, EmbeddedYears(), "2025-26")
}

func TestFieldClass_Rank(t *testing.T) {
	t.Parallel()

	p, err := Embedded("2025-26")
	require.NoError(t, err)

	_, fc, _ := p.Field("tds_salary")
	assert.Equal(t, 0, fc.Rank(model.SourceUserEdit))
	assert.Less(t, fc.Rank(model.SourceForm26AS), fc.Rank(model.SourceForm26ASLLM))
	assert.Less(t, fc.Rank(model.SourceAIS), fc.Rank(model.SourceForm16))
	assert.Greater(t, fc.Rank(model.SourceBrokerPnL), fc.Rank(model.SourceForm16), "unlisted sources rank last")
}

func TestRegime_SlabsFor(t *testing.T) {
	t.Parallel()

	p, err := Embedded("2025-26")
	require.NoError(t, err)
	old, _ := p.Regime(model.RegimeOld)

	assert.Equal(t, money.Amount(250000), old.BasicExemption(35))
	assert.Equal(t, money.Amount(300000), old.BasicExemption(65))
	assert.Equal(t, money.Amount(500000), old.BasicExemption(82))
}

func TestParse_PrependsUserEdit(t *testing.T) {
	t.Parallel()

	doc := minimalPolicy(`
field_classes:
  misc:
    priority: [AIS, FORM16]
    threshold: 50
fields:
  misc_income: {label: Misc, class: misc, head: INTEREST}
`)
	p, err := Parse([]byte(doc))
	require.NoError(t, err)

	fc := p.FieldClasses["misc"]
	assert.Equal(t, []model.SourceKind{model.SourceUserEdit, model.SourceAIS, model.SourceForm16}, fc.Priority)
	assert.Equal(t, money.Amount(500), fc.HardCap)
	assert.Equal(t, AggregateLatest, fc.Aggregation)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"unknown class", minimalPolicy("fields:\n  x: {class: nope, head: TDS}\n")},
		{"bad aggregation", minimalPolicy("field_classes:\n  c: {threshold: 1, aggregation: avg}\n")},
		{"bad source", minimalPolicy("field_classes:\n  c: {threshold: 1, priority: [PAYSLIP]}\n")},
		{"no year", "version: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestValidateSlabs(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateSlabs([]Slab{{UpTo: 100, Rate: 0}, {UpTo: 0, Rate: 1000}}))
	assert.Error(t, validateSlabs(nil))
	assert.Error(t, validateSlabs([]Slab{{UpTo: 0}, {UpTo: 100}}))
	assert.Error(t, validateSlabs([]Slab{{UpTo: 100}, {UpTo: 50}, {UpTo: 0}}))
	assert.Error(t, validateSlabs([]Slab{{UpTo: 100}}))
}

func TestProvider_DirOverridesEmbedded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	doc := minimalPolicy("")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2030-31.yaml"), []byte(doc), 0o644))

	pr := NewProvider(dir)
	p, err := pr.For("2030-31")
	require.NoError(t, err)
	assert.Equal(t, "test", p.Version)

	again, err := pr.For("2030-31")
	require.NoError(t, err)
	assert.Same(t, p, again)

	builtin, err := pr.For("2025-26")
	require.NoError(t, err)
	assert.Equal(t, "2025-26", builtin.AssessmentYear)
}

func TestProvider_RejectsMalformedYear(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "policies")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "x.yaml"), []byte(minimalPolicy("")), 0o644))

	pr := NewProvider(dir)
	for _, year := range []string{"../x", "2025-26/../../x", "2025", "25-26", "2025-26.yaml", ""} {
		_, err := pr.For(year)
		assert.Error(t, err, year)
		assert.False(t, ValidYear(year), year)
	}
	_, err := Embedded("../2025-26")
	assert.Error(t, err)
	assert.True(t, ValidYear("2025-26"))
}

func minimalPolicy(extra string) string {
	return `version: test
assessment_year: "2030-31"
regimes:
  OLD:
    slabs: [{up_to: 250000, rate: "0%"}, {up_to: 0, rate: "30%"}]
  NEW:
    slabs: [{up_to: 300000, rate: "0%"}, {up_to: 0, rate: "30%"}]
` + extra
}
