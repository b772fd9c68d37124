package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func profile() model.TaxpayerProfile {
	return model.TaxpayerProfile{
		PAN: "ABCDE1234F", Name: "Asha", AssessmentYear: "2025-26",
		Regime: model.RegimeNew, FormType: "ITR1", Age: 34, Resident: true,
	}
}

func TestSQLite_Suite(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateGetUpdateReturn", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r, err := s.CreateReturn(ctx, profile())
		require.NoError(t, err)
		assert.NotEmpty(t, r.ID)

		got, err := s.GetReturn(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, profile(), got.Profile)

		p := profile()
		p.Regime = model.RegimeOld
		require.NoError(t, s.UpdateProfile(ctx, r.ID, p))
		got, err = s.GetReturn(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RegimeOld, got.Profile.Regime)

		_, err = s.GetReturn(ctx, "missing")
		assert.True(t, errors.Is(err, model.ErrNotFound))
		assert.True(t, errors.Is(s.UpdateProfile(ctx, "missing", p), model.ErrNotFound))
	})

	t.Run("ListReturns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for range 3 {
			_, err := s.CreateReturn(ctx, profile())
			require.NoError(t, err)
		}
		other := profile()
		other.AssessmentYear = "2024-25"
		_, err := s.CreateReturn(ctx, other)
		require.NoError(t, err)

		all, err := s.ListReturns(ctx, ReturnFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		ay, err := s.ListReturns(ctx, ReturnFilter{AssessmentYear: "2025-26", Limit: 2})
		require.NoError(t, err)
		assert.Len(t, ay, 2)

		rest, err := s.ListReturns(ctx, ReturnFilter{AssessmentYear: "2025-26", Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, rest, 1)
	})

	t.Run("DocumentsExtractsActions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		r, err := s.CreateReturn(ctx, profile())
		require.NoError(t, err)

		captured := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		for _, payload := range []string{`{"fields":{"tds_salary":85000}}`, `{"fields":{"tds_other":4500}}`} {
			_, err := s.AddDocument(ctx, model.Document{
				ReturnID: r.ID, SourceKind: model.SourceForm16, Format: "json",
				Payload: []byte(payload), Confidence: 0.9, CapturedAt: captured,
			})
			require.NoError(t, err)
		}
		docs, err := s.ListDocuments(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, `{"fields":{"tds_salary":85000}}`, string(docs[0].Payload))
		assert.Equal(t, model.SourceForm16, docs[0].SourceKind)
		assert.True(t, captured.Equal(docs[0].CapturedAt))

		ex := []model.Extract{
			{ID: "e1", ReturnID: r.ID, SourceKind: model.SourceUserEdit, Amounts: map[string]money.Amount{"tds_other": 5200}, Confidence: 1, CapturedAt: captured},
			{ID: "e2", ReturnID: r.ID, SourceKind: model.SourceUserEdit, Amounts: map[string]money.Amount{"dividends": 900}, Confidence: 1, CapturedAt: captured},
		}
		require.NoError(t, s.AppendExtracts(ctx, ex))
		require.NoError(t, s.AppendExtracts(ctx, nil))
		got, err := s.ListExtracts(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "e1", got[0].ID)
		assert.Equal(t, money.Amount(5200), got[0].Amounts["tds_other"])

		v := money.Amount(25000)
		_, err = s.AppendAction(ctx, model.UserAction{ReturnID: r.ID, Field: "advance_tax", Kind: model.ActionOverride, Value: &v, Fingerprints: []string{"fp"}})
		require.NoError(t, err)
		_, err = s.AppendAction(ctx, model.UserAction{ReturnID: r.ID, Field: "advance_tax", Kind: model.ActionClearOverride})
		require.NoError(t, err)
		actions, err := s.ListActions(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, actions, 2)
		assert.Equal(t, model.ActionOverride, actions[0].Kind)
		assert.Equal(t, money.Amount(25000), *actions[0].Value)
		assert.NotEmpty(t, actions[0].ID)
		assert.Equal(t, model.ActionClearOverride, actions[1].Kind)
	})

	t.Run("StepOutputsLatestWins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		r, err := s.CreateReturn(ctx, profile())
		require.NoError(t, err)

		_, err = s.LoadLatest(ctx, r.ID, model.StepCompute)
		assert.True(t, errors.Is(err, model.ErrNotFound))

		require.NoError(t, s.SaveStepOutput(ctx, model.StepOutput{ReturnID: r.ID, Step: model.StepCompute, OutputRef: "a", Payload: []byte("1")}))
		require.NoError(t, s.SaveStepOutput(ctx, model.StepOutput{ReturnID: r.ID, Step: model.StepCompute, OutputRef: "b", Payload: []byte("2")}))
		require.NoError(t, s.SaveStepOutput(ctx, model.StepOutput{ReturnID: r.ID, Step: model.StepRules, OutputRef: "c", Payload: []byte("3")}))

		out, err := s.LoadLatest(ctx, r.ID, model.StepCompute)
		require.NoError(t, err)
		assert.Equal(t, "b", out.OutputRef)
		assert.Equal(t, []byte("2"), out.Payload)
		assert.Equal(t, model.StepCompute, out.Step)
	})

	t.Run("StepStatesUpsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		r, err := s.CreateReturn(ctx, profile())
		require.NoError(t, err)

		require.NoError(t, s.SaveStepStates(ctx, []model.StepState{
			{ReturnID: r.ID, Step: model.StepReconcile, Status: model.StepFailed, Error: "boom", Attempts: 1},
			{ReturnID: r.ID, Step: model.StepParse, Status: model.StepSucceeded, OutputRef: "ref", InputHash: "h", Attempts: 1},
		}))
		require.NoError(t, s.SaveStepStates(ctx, []model.StepState{
			{ReturnID: r.ID, Step: model.StepReconcile, Status: model.StepSucceeded, Attempts: 2},
		}))

		states, err := s.GetStepStates(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, states, 2)
		assert.Equal(t, model.StepParse, states[0].Step)
		assert.Equal(t, "h", states[0].InputHash)
		assert.Equal(t, model.StepSucceeded, states[1].Status)
		assert.Equal(t, 2, states[1].Attempts)
		assert.Empty(t, states[1].Error)
	})

	t.Run("RuleResultsAppendOnly", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		r, err := s.CreateReturn(ctx, profile())
		require.NoError(t, err)

		t1 := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.AppendRuleResults(ctx, r.ID, []model.RuleResult{
			{PassID: "p1", RuleCode: "A", Severity: model.SeverityWarning, Passed: false, EvaluatedAt: t1},
		}))
		require.NoError(t, s.AppendRuleResults(ctx, r.ID, []model.RuleResult{
			{PassID: "p2", RuleCode: "A", Severity: model.SeverityWarning, Passed: true, EvaluatedAt: t1.Add(time.Hour)},
		}))

		got, err := s.ListRuleResults(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "p1", got[0].PassID)
		assert.True(t, got[1].Passed)
	})

	t.Run("Leases", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AcquireLease(ctx, "r1", "h1", time.Minute))
		err := s.AcquireLease(ctx, "r1", "h2", time.Minute)
		assert.True(t, errors.Is(err, model.ErrRunInFlight))

		require.NoError(t, s.AcquireLease(ctx, "r2", "h2", time.Minute), "leases are per return")

		require.NoError(t, s.ReleaseLease(ctx, "r1", "h2"), "releasing someone else's lease is a no-op")
		assert.True(t, errors.Is(s.AcquireLease(ctx, "r1", "h2", time.Minute), model.ErrRunInFlight))

		require.NoError(t, s.ReleaseLease(ctx, "r1", "h1"))
		require.NoError(t, s.AcquireLease(ctx, "r1", "h2", time.Minute))

		require.NoError(t, s.AcquireLease(ctx, "r3", "h1", -time.Second))
		require.NoError(t, s.AcquireLease(ctx, "r3", "h2", time.Minute), "expired leases can be taken over")
	})
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestWithPragmas(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", withPragmas("a.db"))
	assert.Equal(t, "a.db?mode=rw&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", withPragmas("a.db?mode=rw"))
	assert.Equal(t, "a.db?_pragma=busy_timeout(100)", withPragmas("a.db?_pragma=busy_timeout(100)"))
}

func TestSQLite_ForeignKeys(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.AddDocument(context.Background(), model.Document{ReturnID: "nope", SourceKind: model.SourceAIS, Format: "json", Payload: []byte("{}")})
	assert.Error(t, err)
}
