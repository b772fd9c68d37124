package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
)

func amountPtr(a money.Amount) *money.Amount { return &a }

func blockingChallan() []model.Extract {
	bank := ext("bank", model.SourceBankStatement, 0.9, map[string]money.Amount{"advance_tax": 15000})
	bank.Attributes = map[string]string{"bsr_code": "0510002", "paid_on": "2024-09-14"}
	user := ext("user", model.SourceUserEdit, 1, map[string]money.Amount{"advance_tax": 25000})
	return []model.Extract{bank, user}
}

func TestReconcileAll_CoversCatalogue(t *testing.T) {
	t.Parallel()
	p := testPolicy(t)
	e := New(p, "ITR1")

	l := e.ReconcileAll([]model.Extract{
		ext("f16", model.SourceForm16, 0.9, map[string]money.Amount{"salary_gross": 1200000, "tds_salary": 85000}),
	}, nil)

	assert.Len(t, l.Fields, len(p.Fields))
	assert.Equal(t, p.Version, l.PolicyVersion)
	for i := 1; i < len(l.Fields); i++ {
		assert.Less(t, l.Fields[i-1].FieldName, l.Fields[i].FieldName)
	}
	assert.Equal(t, money.Amount(1200000), l.Amount("salary_gross"))
	assert.Empty(t, l.BlockingFields())
	assert.Equal(t, 0.9, l.Confidence)
}

func TestApplyActions_OverrideResolvesBlocking(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	rv, err := e.Reconcile("advance_tax", blockingChallan())
	require.NoError(t, err)
	require.True(t, rv.HasBlocking())

	ApplyActions(&rv, []model.UserAction{{
		Field:        "advance_tax",
		Kind:         model.ActionOverride,
		Value:        amountPtr(15000),
		Reason:       "bank statement is correct",
		Fingerprints: LiveFingerprints(rv),
	}})

	assert.False(t, rv.HasBlocking())
	require.Len(t, rv.Variances, 1, "variance retained for audit")
	assert.True(t, rv.Variances[0].ResolvedByOverride)
	assert.Equal(t, money.Amount(15000), rv.Effective())
	assert.Equal(t, money.Amount(25000), rv.Value)
}

func TestApplyActions_ClearOverride(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	rv, err := e.Reconcile("advance_tax", blockingChallan())
	require.NoError(t, err)
	fps := LiveFingerprints(rv)

	ApplyActions(&rv, []model.UserAction{
		{Field: "advance_tax", Kind: model.ActionOverride, Value: amountPtr(15000), Fingerprints: fps},
		{Field: "advance_tax", Kind: model.ActionClearOverride},
	})
	assert.Nil(t, rv.OverriddenValue)
	assert.True(t, rv.HasBlocking())
}

func TestApplyActions_ConfirmDoesNotClearBlocking(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")

	rv, err := e.Reconcile("advance_tax", blockingChallan())
	require.NoError(t, err)

	ApplyActions(&rv, []model.UserAction{
		{Field: "advance_tax", Kind: model.ActionConfirm, Fingerprints: LiveFingerprints(rv)},
	})
	assert.True(t, rv.HasBlocking())
	assert.False(t, rv.Variances[0].Acknowledged)
}

func TestApplyActions_ConfirmAcknowledgesWarning(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")
	exs := []model.Extract{
		ext("a", model.SourceForm26AS, 1, map[string]money.Amount{"tds_other": 4500}),
		ext("b", model.SourceAIS, 1, map[string]money.Amount{"tds_other": 5200}),
	}

	rv, err := e.Reconcile("tds_other", exs)
	require.NoError(t, err)
	confirm := model.UserAction{Field: "tds_other", Kind: model.ActionConfirm, Fingerprints: LiveFingerprints(rv)}
	ApplyActions(&rv, []model.UserAction{confirm})
	assert.True(t, rv.Confirmed)
	assert.Empty(t, rv.LiveVariances())

	// A different disagreement on the next pass is live again.
	exs[1].Amounts = map[string]money.Amount{"tds_other": 5300}
	rv, err = e.Reconcile("tds_other", exs)
	require.NoError(t, err)
	ApplyActions(&rv, []model.UserAction{confirm})
	assert.False(t, rv.Confirmed)
	assert.Len(t, rv.LiveVariances(), 1)
}

func TestApplyActions_NewBlockingAfterOverride(t *testing.T) {
	t.Parallel()
	e := New(testPolicy(t), "ITR1")
	exs := blockingChallan()

	rv, err := e.Reconcile("advance_tax", exs)
	require.NoError(t, err)
	override := model.UserAction{
		Field: "advance_tax", Kind: model.ActionOverride, Value: amountPtr(25000),
		Fingerprints: LiveFingerprints(rv),
	}

	// A new 26AS challan disagrees with the winner; the old override does not cover it.
	c := ext("26as", model.SourceForm26AS, 1, map[string]money.Amount{"advance_tax": 40000})
	c.Attributes = map[string]string{"bsr_code": "0510002", "paid_on": "2024-12-10"}
	c.CapturedAt = t0.Add(24 * time.Hour)
	exs = append(exs, c)

	rv, err = e.Reconcile("advance_tax", exs)
	require.NoError(t, err)
	ApplyActions(&rv, []model.UserAction{override})
	assert.NotNil(t, rv.OverriddenValue, "override stays authoritative until cleared")
	assert.True(t, rv.HasBlocking())

	live := rv.LiveVariances()
	require.Len(t, live, 1)
	assert.Equal(t, model.SourceForm26AS, live[0].Source)
}

func TestScore(t *testing.T) {
	t.Parallel()

	l := model.Ledger{Fields: []model.ReconciledValue{
		{FieldName: "a", Value: 100, Confidence: 1},
		{FieldName: "b", Value: 300, Confidence: 0.6},
		{FieldName: "c", Value: 0, Confidence: 0},
	}}
	assert.Equal(t, 0.7, score(l))

	l.Fields[0].Variances = []model.Variance{{Severity: model.SeverityBlocking}}
	assert.Equal(t, 0.6, score(l))

	assert.Equal(t, 0.0, score(model.Ledger{}))
}
