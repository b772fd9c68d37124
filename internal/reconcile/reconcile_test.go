package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	p, err := policy.Embedded("2025-26")
	require.NoError(t, err)
	return p
}

func ext(id string, kind model.SourceKind, conf float64, amounts map[string]money.Amount) model.Extract {
	return model.Extract{
		ID:         id,
		ReturnID:   "r1",
		SourceKind: kind,
		Amounts:    amounts,
		Attributes: map[string]string{},
		Confidence: conf,
		CapturedAt: t0,
	}
}

func TestReconcile_SingleSource(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	rv, err := e.Reconcile("tds_salary", []model.Extract{
		ext("e1", model.SourceForm16, 0.9, map[string]money.Amount{"tds_salary": 85000}),
	})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(85000), rv.Value)
	assert.Equal(t, model.SourceForm16, rv.WinningSource)
	assert.Empty(t, rv.Variances)
}

func TestReconcile_AgreeingSources(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	rv, err := e.Reconcile("tds_salary", []model.Extract{
		ext("e1", model.SourceForm16, 0.9, map[string]money.Amount{"tds_salary": 85000}),
		ext("e2", model.SourceAIS, 0.95, map[string]money.Amount{"tds_salary": 85000}),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SourceAIS, rv.WinningSource, "AIS outranks FORM16 for TDS")
	assert.Empty(t, rv.Variances)
	require.Len(t, rv.ContributingSources, 2)
	assert.Equal(t, model.SourceAIS, rv.ContributingSources[0].Source)
}

func TestReconcile_ThresholdBoundary(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	tests := []struct {
		name     string
		other    money.Amount
		severity model.Severity
	}{
		{"exactly threshold", 4500 + 500, ""},
		{"threshold plus one", 4500 + 501, model.SeverityWarning},
		{"hard cap", 4500 + 5000, model.SeverityWarning},
		{"above hard cap", 4500 + 5001, model.SeverityBlocking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rv, err := e.Reconcile("tds_other", []model.Extract{
				ext("a", model.SourceForm26AS, 1, map[string]money.Amount{"tds_other": 4500}),
				ext("b", model.SourceAIS, 1, map[string]money.Amount{"tds_other": tt.other}),
			})
			require.NoError(t, err)
			if tt.severity == "" {
				assert.Empty(t, rv.Variances)
				return
			}
			require.Len(t, rv.Variances, 1)
			assert.Equal(t, tt.severity, rv.Variances[0].Severity)
		})
	}
}

func TestReconcile_NonSalaryTDSWarning(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	rv, err := e.Reconcile("tds_other", []model.Extract{
		ext("a", model.SourceForm26AS, 1, map[string]money.Amount{"tds_other": 4500}),
		ext("b", model.SourceAIS, 1, map[string]money.Amount{"tds_other": 5200}),
	})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(4500), rv.Value)
	require.Len(t, rv.Variances, 1)

	v := rv.Variances[0]
	assert.Equal(t, model.SeverityWarning, v.Severity)
	assert.Equal(t, money.Amount(700), v.Delta)
	assert.Equal(t, model.SourceAIS, v.Source)
	assert.Equal(t, model.Range{Min: 4000, Max: 5000}, v.ExpectedRange)
	assert.Contains(t, v.Description, "₹700")
	assert.NotEmpty(t, v.Fingerprint)
}

func TestReconcile_PaymentCriticalBlocks(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	bank := ext("bank", model.SourceBankStatement, 0.9, map[string]money.Amount{"advance_tax": 15000})
	bank.Attributes = map[string]string{"bsr_code": "0510002", "paid_on": "2024-09-14"}
	user := ext("user", model.SourceUserEdit, 1, map[string]money.Amount{"advance_tax": 25000})

	rv, err := e.Reconcile("advance_tax", []model.Extract{bank, user})
	require.NoError(t, err)
	assert.Equal(t, model.SourceUserEdit, rv.WinningSource)
	require.Len(t, rv.Variances, 1)
	assert.Equal(t, model.SeverityBlocking, rv.Variances[0].Severity)
	assert.Equal(t, money.Amount(10000), rv.Variances[0].Delta)
	assert.True(t, rv.HasBlocking())
}

func TestReconcile_LowConfidenceFallThrough(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	rv, err := e.Reconcile("tds_salary", []model.Extract{
		ext("llm", model.SourceForm26ASLLM, 0.3, map[string]money.Amount{"tds_salary": 85000}),
		ext("ais", model.SourceAIS, 0.9, map[string]money.Amount{"tds_salary": 85000}),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SourceAIS, rv.WinningSource)
	require.Len(t, rv.Variances, 1)
	assert.Equal(t, model.VarianceLowConfidence, rv.Variances[0].Kind)
	assert.Equal(t, model.SeverityWarning, rv.Variances[0].Severity)
	assert.True(t, rv.ContributingSources[0].Skipped)
}

func TestReconcile_AllBelowFloor(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	rv, err := e.Reconcile("interest_savings", []model.Extract{
		ext("bank", model.SourceBankStatement, 0.2, map[string]money.Amount{"interest_savings": 12000}),
		ext("ais", model.SourceAIS, 0.3, map[string]money.Amount{"interest_savings": 12000}),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SourceBankStatement, rv.WinningSource)
	require.Len(t, rv.Variances, 1)
	assert.Equal(t, model.VarianceLowConfidence, rv.Variances[0].Kind)
}

func TestReconcile_SingleSourceBelowFloor(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	rv, err := e.Reconcile("tds_salary", []model.Extract{
		ext("llm", model.SourceForm26ASLLM, 0.3, map[string]money.Amount{"tds_salary": 85000}),
	})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(85000), rv.Value)
	assert.Equal(t, model.SourceForm26ASLLM, rv.WinningSource)
	require.Len(t, rv.Variances, 1)
	assert.Equal(t, model.VarianceLowConfidence, rv.Variances[0].Kind)
	assert.Equal(t, model.SeverityWarning, rv.Variances[0].Severity)
	assert.False(t, rv.HasBlocking())
}

func TestReconcile_Missing(t *testing.T) {
	t.Parallel()
	p := testPolicy(t)

	rv, err := New(p, "ITR1").Reconcile("salary_gross", nil)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), rv.Value)
	assert.Equal(t, 0.0, rv.Confidence)
	require.Len(t, rv.Variances, 1)
	assert.Equal(t, model.VarianceMissing, rv.Variances[0].Kind)
	assert.Equal(t, model.SeverityBlocking, rv.Variances[0].Severity)

	rv, err = New(p, "ITR2").Reconcile("salary_gross", nil)
	require.NoError(t, err)
	assert.Empty(t, rv.Variances, "optional fields default silently to zero")

	rv, err = New(p, "ITR1").Reconcile("dividends", nil)
	require.NoError(t, err)
	assert.Empty(t, rv.Variances)
}

func TestReconcile_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := New(testPolicy(t), "ITR1").Reconcile("bitcoin", nil)
	assert.ErrorIs(t, err, model.ErrUnknownField)
}

func TestReconcile_LatestSupersedes(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	old := ext("old", model.SourceForm16, 0.9, map[string]money.Amount{"salary_gross": 1000000})
	newer := ext("new", model.SourceForm16, 0.9, map[string]money.Amount{"salary_gross": 1100000})
	newer.CapturedAt = t0.Add(time.Hour)

	rv, err := e.Reconcile("salary_gross", []model.Extract{newer, old})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(1100000), rv.Value)
	require.Len(t, rv.ContributingSources, 1)
	assert.Equal(t, []string{"new"}, rv.ContributingSources[0].ExtractIDs)
}

func TestReconcile_ChallanDedupe(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	challan := func(id, date string, amt money.Amount) model.Extract {
		x := ext(id, model.SourceForm26AS, 1, map[string]money.Amount{"advance_tax": amt})
		x.Attributes = map[string]string{"bsr_code": "0510002", "paid_on": date}
		return x
	}

	rv, err := e.Reconcile("advance_tax", []model.Extract{
		challan("c1", "2024-06-14", 10000),
		challan("c2", "2024-06-14", 10000), // duplicate
		challan("c3", "2024-09-13", 20000),
		challan("c4", "2024-06-14", 5000), // same day, different amount
	})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(35000), rv.Value)
	require.Len(t, rv.Transactions, 3)
	assert.Equal(t, "2024-06-14", rv.Transactions[0].Date)
}

func TestReconcile_Deterministic(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")
	exs := []model.Extract{
		ext("a", model.SourceForm26AS, 1, map[string]money.Amount{"tds_other": 4500}),
		ext("b", model.SourceAIS, 1, map[string]money.Amount{"tds_other": 5200}),
		ext("c", model.SourceForm16, 1, map[string]money.Amount{"tds_other": 4400}),
	}
	first, err := e.Reconcile("tds_other", exs)
	require.NoError(t, err)
	rev := []model.Extract{exs[2], exs[1], exs[0]}
	second, err := e.Reconcile("tds_other", rev)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
