//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/pipeline"
	"github.com/sells-group/taxprep/internal/policy"
)

func TestFormatReturnsList(t *testing.T) {
	now := time.Date(2025, 7, 1, 9, 15, 0, 0, time.UTC)
	returns := []model.TaxReturn{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Profile:   model.TaxpayerProfile{PAN: "ABCDE1234F", Name: "Asha Rao", AssessmentYear: "2025-26", Regime: model.RegimeNew, FormType: "ITR1"},
			CreatedAt: now,
		},
	}

	var buf bytes.Buffer
	formatReturnsList(&buf, returns)

	out := buf.String()
	assert.Contains(t, out, "PAN")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "ABCDE1234F")
	assert.Contains(t, out, "Asha Rao")
	assert.Contains(t, out, "2025-26")
	assert.Contains(t, out, "2025-07-01 09:15")
}

func TestFormatSteps(t *testing.T) {
	var buf bytes.Buffer
	formatSteps(&buf, []model.StepState{
		{Step: model.StepParse, Status: model.StepSucceeded, Attempts: 1, OutputRef: "0123456789abcdef"},
		{Step: model.StepCompute, Status: model.StepFailed, Attempts: 2, Error: "disk full"},
	})

	out := buf.String()
	assert.Contains(t, out, "PARSE")
	assert.Contains(t, out, "SUCCEEDED")
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "disk full")
}

func TestFormatRunResult(t *testing.T) {
	res := &pipeline.RunResult{
		Executed: []model.StepName{model.StepRules, model.StepGate},
		Reused:   []model.StepName{model.StepParse, model.StepReconcile, model.StepCompute},
		View:     model.ConfirmationView{CanProceed: false, Outstanding: 1, BlockingReasons: []string{"advance_tax: mismatch"}},
	}

	var buf bytes.Buffer
	formatRunResult(&buf, res)

	out := buf.String()
	assert.Contains(t, out, "Executed: RULES, GATE")
	assert.Contains(t, out, "Reused:   PARSE, RECONCILE, COMPUTE")
	assert.Contains(t, out, "BLOCKED (1 outstanding)")
	assert.Contains(t, out, "- advance_tax: mismatch")
}

func TestFormatBatchResult(t *testing.T) {
	res := &pipeline.BatchResult{
		Items: []pipeline.BatchItem{
			{ReturnID: "ret-ok", Result: &pipeline.RunResult{Executed: model.Steps, View: model.ConfirmationView{CanProceed: true}}},
			{ReturnID: "ret-bad", Error: "not found"},
		},
		Succeeded: 1,
		Failed:    1,
	}

	var buf bytes.Buffer
	formatBatchResult(&buf, res)

	out := buf.String()
	assert.Contains(t, out, "READY")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "not found")
	assert.Contains(t, out, "Succeeded: 1  Failed: 1")
}

func TestFormatConfirmationView(t *testing.T) {
	view := &model.ConfirmationView{
		Heads: []model.HeadGroup{{
			Head: model.HeadTDS,
			Items: []model.ConfirmationItem{
				{LineItemID: "tds_other", Label: "TDS other than salary", NeedsConfirm: true, Reasons: []string{"tds_other: FORM26AS reports 4500"}},
				{LineItemID: "tds_salary", Label: "TDS on salary", Confirmed: true},
			},
		}},
		CanProceed:  true,
		Outstanding: 1,
		InputErrors: []string{"input error: document d1: empty document"},
	}

	var buf bytes.Buffer
	formatConfirmationView(&buf, view)

	out := buf.String()
	assert.Contains(t, out, "TDS\n")
	assert.Contains(t, out, "? tds_other")
	assert.Contains(t, out, "✓ tds_salary")
	assert.Contains(t, out, "FORM26AS reports 4500")
	assert.Contains(t, out, "input error: document d1")
	assert.Contains(t, out, "OK to proceed after 1 confirmation(s)")
}

func TestItemMarker(t *testing.T) {
	tests := []struct {
		item model.ConfirmationItem
		want string
	}{
		{model.ConfirmationItem{Blocking: true, NeedsConfirm: true}, "!"},
		{model.ConfirmationItem{NeedsConfirm: true}, "?"},
		{model.ConfirmationItem{Overridden: true, Confirmed: true}, "*"},
		{model.ConfirmationItem{Confirmed: true}, "✓"},
		{model.ConfirmationItem{}, " "},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, itemMarker(tt.item))
	}
}

func TestFormatGateOutcome(t *testing.T) {
	var buf bytes.Buffer
	formatGateOutcome(&buf, &model.GateOutcome{
		CanProceed: true,
		Confirmed:  []string{"tds_other"},
		Edited:     []string{"advance_tax"},
		Rejected:   []string{"lottery: unknown line item"},
	})

	out := buf.String()
	assert.Contains(t, out, "Confirmed: tds_other")
	assert.Contains(t, out, "Edited:    advance_tax")
	assert.Contains(t, out, "Rejected:  lottery: unknown line item")
	assert.Contains(t, out, "OK to proceed")
}

func TestFormatComputation(t *testing.T) {
	comp := &model.Computation{
		Selected:    model.RegimeNew,
		Recommended: model.RegimeNew,
		Old:         model.ComputationResult{Net: model.NewNetPosition(2500)},
		New:         model.ComputationResult{Net: model.NewNetPosition(-13500)},
	}

	var buf bytes.Buffer
	formatComputation(&buf, comp)

	out := buf.String()
	assert.Contains(t, out, "OLD")
	assert.Contains(t, out, "Taxable income")
	assert.Contains(t, out, "payable")
	assert.Contains(t, out, "refund")
	assert.Contains(t, out, "Selected: NEW  Recommended: NEW")
}

func TestFormatRuleResults(t *testing.T) {
	var buf bytes.Buffer
	formatRuleResults(&buf, nil)
	assert.Contains(t, buf.String(), "No rule results.")

	buf.Reset()
	formatRuleResults(&buf, []model.RuleResult{
		{RuleCode: "TDS001", Category: "tds", Severity: model.SeverityWarning, Passed: false, PassID: "pass-1234567890", Message: "TDS exceeds gross"},
		{RuleCode: "CMP001", Category: "computation", Severity: model.SeverityError, Passed: true},
	})
	out := buf.String()
	assert.Contains(t, out, "TDS001")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "pass-123")
	assert.Contains(t, out, "PASS")
}

func TestFormatPolicy(t *testing.T) {
	p, err := policy.Embedded("2025-26")
	require.NoError(t, err)

	var buf bytes.Buffer
	formatPolicy(&buf, p)

	out := buf.String()
	assert.Contains(t, out, "assessment year 2025-26")
	assert.Contains(t, out, "salary_gross")
	assert.Contains(t, out, "USER_EDIT > FORM16")
	assert.Contains(t, out, "NEW regime")
	assert.Contains(t, out, "and above")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}
