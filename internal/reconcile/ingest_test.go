package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	p := testPolicy(t)

	raw := model.RawExtract{
		SourceKind: model.SourceForm26AS,
		Confidence: 0.95,
		CapturedAt: time.Date(2025, 6, 1, 15, 30, 0, 0, time.FixedZone("IST", 19800)),
		Provenance: model.Provenance{DocumentID: "doc1", Parser: "json"},
		Fields: map[string]any{
			"Advance_Tax": "15,000.50",
			"bsr_code":    "0510002",
			"paid_on":     "14/09/2024",
			"tds_other":   4499.5,
			"challan_no":  float64(12),
		},
	}
	ex, errs := Normalize("r1", raw, p)
	require.Empty(t, errs)
	require.NotNil(t, ex)

	assert.NotEmpty(t, ex.ID)
	assert.Equal(t, "r1", ex.ReturnID)
	assert.Equal(t, money.Amount(15001), ex.Amounts["advance_tax"])
	assert.Equal(t, money.Amount(4500), ex.Amounts["tds_other"])
	assert.Equal(t, "0510002", ex.Attributes["bsr_code"])
	assert.Equal(t, "2024-09-14", ex.Attributes["paid_on"])
	assert.Equal(t, "12", ex.Attributes["challan_no"])
	assert.Equal(t, time.UTC, ex.CapturedAt.Location())
}

func TestNormalize_FieldErrors(t *testing.T) {
	t.Parallel()
	p := testPolicy(t)

	ex, errs := Normalize("r1", model.RawExtract{
		SourceKind: model.SourceAIS,
		Confidence: 0.9,
		Provenance: model.Provenance{DocumentID: "doc2"},
		Fields:     map[string]any{"tds_other": "abc", "dividends": -5, "interest_savings": 1200},
	}, p)
	require.NotNil(t, ex)
	assert.Len(t, errs, 2)
	assert.Equal(t, map[string]money.Amount{"interest_savings": 1200}, ex.Amounts)
}

func TestNormalize_CapitalLoss(t *testing.T) {
	t.Parallel()
	p := testPolicy(t)

	ex, errs := Normalize("r1", model.RawExtract{
		SourceKind: model.SourceBrokerPnL,
		Confidence: 0.9,
		Provenance: model.Provenance{DocumentID: "pnl"},
		Fields:     map[string]any{"stcg_111a": "-12,000", "ltcg_112a": 40000},
	}, p)
	require.Empty(t, errs)
	require.NotNil(t, ex)
	assert.Equal(t, money.Amount(-12000), ex.Amounts["stcg_111a"])
	assert.Equal(t, money.Amount(40000), ex.Amounts["ltcg_112a"])

	_, errs = Normalize("r1", model.RawExtract{
		SourceKind: model.SourceForm16,
		Confidence: 0.9,
		Provenance: model.Provenance{DocumentID: "f16"},
		Fields:     map[string]any{"salary_gross": -1},
	}, p)
	assert.Len(t, errs, 1, "salary may not be negative")
}

func TestNormalize_Rejected(t *testing.T) {
	t.Parallel()
	p := testPolicy(t)

	tests := []struct {
		name string
		raw  model.RawExtract
	}{
		{"unknown kind", model.RawExtract{SourceKind: "PAYSLIP", Confidence: 1, Fields: map[string]any{"tds_other": 1}}},
		{"confidence", model.RawExtract{SourceKind: model.SourceAIS, Confidence: 1.5, Fields: map[string]any{"tds_other": 1}}},
		{"no fields", model.RawExtract{SourceKind: model.SourceAIS, Confidence: 1, Fields: map[string]any{"pan": "ABCDE1234F"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ex, errs := Normalize("r1", tt.raw, p)
			assert.Nil(t, ex)
			assert.NotEmpty(t, errs)
		})
	}
}
