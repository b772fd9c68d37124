//go:build !integration

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxprep/internal/api"
	"github.com/sells-group/taxprep/internal/config"
	"github.com/sells-group/taxprep/internal/export"
	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/store"
)

func TestParseEdits(t *testing.T) {
	edits, err := parseEdits([]string{"advance_tax=25,000", " TDS_Other = 5200.50"}, "challan found")
	require.NoError(t, err)
	assert.Equal(t, []model.Edit{
		{Field: "advance_tax", Value: 25000, Reason: "challan found"},
		{Field: "tds_other", Value: 5201, Reason: "challan found"},
	}, edits)

	for _, bad := range []string{"advance_tax", "=100", "advance_tax=lots"} {
		_, err := parseEdits([]string{bad}, "")
		assert.Error(t, err, bad)
	}
}

func TestProfileFromFlags_BadFilingDate(t *testing.T) {
	require.NoError(t, returnsCreateCmd.Flags().Set("filing-date", "15/09/2025"))
	t.Cleanup(func() { _ = returnsCreateCmd.Flags().Set("filing-date", "") })

	_, err := profileFromFlags(returnsCreateCmd)
	assert.ErrorContains(t, err, "YYYY-MM-DD")
}

func TestBuildServer(t *testing.T) {
	opts := apiOptions(config.ServerConfig{AllowedOrigins: []string{"*"}, RatePerSecond: 5, RateBurst: 10})
	assert.Equal(t, api.Options{AllowedOrigins: []string{"*"}, RatePerSecond: 5, RateBurst: 10}, opts)

	srv := buildServer(api.NewRouter(nil, opts), 9090)
	assert.Equal(t, ":9090", srv.Addr)

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func execute(t *testing.T, args ...string) {
	t.Helper()
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), "taxprep %v", args)
}

func TestCommands_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	dbPath := filepath.Join(dir, "e2e.db")
	t.Setenv("TAXPREP_STORE_DATABASE_URL", dbPath)
	t.Setenv("TAXPREP_LOG_LEVEL", "error")

	execute(t, "returns", "create", "--pan", "abcde1234f", "--name", "Asha Rao", "--age", "35")

	ctx := context.Background()
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	returns, err := st.ListReturns(ctx, store.ReturnFilter{})
	require.NoError(t, err)
	require.Len(t, returns, 1)
	id := returns[0].ID
	assert.Equal(t, "ABCDE1234F", returns[0].Profile.PAN)
	assert.Equal(t, model.RegimeNew, returns[0].Profile.Regime)

	form16 := filepath.Join(dir, "form16.json")
	require.NoError(t, os.WriteFile(form16, []byte(`{"fields": {"salary_gross": 1200000, "tds_salary": 85000}}`), 0o644))
	execute(t, "documents", "add", id, form16, "--kind", "form16")

	execute(t, "run", id)
	states, err := st.GetStepStates(ctx, id)
	require.NoError(t, err)
	require.Len(t, states, len(model.Steps))
	for _, s := range states {
		assert.Equal(t, model.StepSucceeded, s.Status, s.Step)
	}

	execute(t, "review", "override", id, "tds_salary", "86,000", "--reason", "revised Form 16")
	actions, err := st.ListActions(ctx, id)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionOverride, actions[0].Kind)
	require.NotNil(t, actions[0].Value)
	assert.Equal(t, money.Amount(86000), *actions[0].Value)

	execute(t, "rules", "history", id, "--latest")
	execute(t, "computation", id)

	itr := filepath.Join(dir, "itr1.json")
	execute(t, "computation", id, "--out", itr)
	t.Cleanup(func() { _ = computationCmd.Flags().Set("out", "") })
	doc, err := os.ReadFile(itr)
	require.NoError(t, err)
	require.NoError(t, export.Validate(export.FormITR1, doc))
	assert.Contains(t, string(doc), `"ABCDE1234F"`)

	execute(t, "returns", "show", id)
	execute(t, "policy", "show")
}
