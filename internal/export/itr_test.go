package export

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxprep/internal/compute"
	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

var created = time.Date(2025, 7, 10, 6, 0, 0, 0, time.UTC)

func input(t *testing.T, form string, regime model.Regime, values map[string]money.Amount) Input {
	t.Helper()
	p, err := policy.Embedded("2025-26")
	require.NoError(t, err)

	var l model.Ledger
	for k, v := range values {
		l.Fields = append(l.Fields, model.ReconciledValue{FieldName: k, Value: v, Confidence: 1})
	}
	profile := model.TaxpayerProfile{
		PAN:            "ABCDE1234F",
		Name:           "Asha Rao",
		AssessmentYear: "2025-26",
		Regime:         regime,
		FormType:       form,
		Age:            35,
		Resident:       true,
	}
	comp, err := compute.New(p).Compare(l, profile)
	require.NoError(t, err)
	return Input{
		ReturnID:    "r1",
		Profile:     profile,
		Computation: comp,
		Ledger:      l,
		DueDate:     p.Dates.DueDate,
		CreatedAt:   created,
	}
}

// body decodes the form body of a built document.
func body(t *testing.T, res *Result) map[string]any {
	t.Helper()
	var doc map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal(res.Document, &doc))
	b, ok := doc["ITR"][string(res.Form)]
	require.True(t, ok, "document has an %s body", res.Form)
	return b
}

func section(t *testing.T, b map[string]any, keys ...string) map[string]any {
	t.Helper()
	cur := b
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		require.True(t, ok, "missing section %s", k)
		cur = next
	}
	return cur
}

func TestParseForm(t *testing.T) {
	t.Parallel()

	f, err := ParseForm(" itr-2 ")
	require.NoError(t, err)
	assert.Equal(t, FormITR2, f)

	_, err = ParseForm("ITR4")
	assert.Error(t, err)
}

func TestBuild_ITR1SalaryRefund(t *testing.T) {
	t.Parallel()

	res, err := Build(input(t, "ITR1", model.RegimeNew, map[string]money.Amount{
		"salary_gross": 1200000,
		"tds_salary":   85000,
	}))
	require.NoError(t, err)
	assert.Equal(t, FormITR1, res.Form)
	assert.Equal(t, SchemaVersion, res.SchemaVersion)
	assert.Equal(t, model.RegimeNew, res.Regime)

	b := body(t, res)
	assert.Equal(t, "ITR1", section(t, b, "Form_ITR1")["FormName"])
	assert.Equal(t, "2025-07-10", section(t, b, "CreationInfo")["JSONCreationDate"])
	assert.Equal(t, "11:30:00", section(t, b, "CreationInfo")["JSONCreationTime"], "stamped in IST")

	pi := section(t, b, "PersonalInfo")
	assert.Equal(t, "ABCDE1234F", pi["PAN"])
	assert.Equal(t, "Rao", section(t, pi, "AssesseeName")["SurNameOrOrgName"])
	assert.Equal(t, "N", section(t, pi, "FilingStatus")["OptOutNewTaxRegime"])

	inc := section(t, b, "ITR1_IncomeDeductions")
	assert.EqualValues(t, 1200000, inc["GrossSalary"])
	assert.EqualValues(t, 75000, inc["DeductionUs16ia"])
	assert.EqualValues(t, 1125000, inc["GrossTotIncome"])
	assert.EqualValues(t, 1125000, inc["TotalIncome"])
	assert.NotContains(t, inc, "LTCG112A")

	assert.EqualValues(t, 71500, section(t, b, "ITR1_TaxComputation")["NetTaxLiability"])
	assert.EqualValues(t, 85000, section(t, b, "TaxPaid", "TaxesPaid")["TDSOnSalary"])
	assert.EqualValues(t, 0, section(t, b, "TaxPaid")["BalTaxPayable"])
	assert.EqualValues(t, 13500, section(t, b, "Refund")["RefundDue"])
	assert.NotContains(t, b, "ScheduleCGSummary")
}

func TestBuild_ITR2CapitalGains(t *testing.T) {
	t.Parallel()

	res, err := Build(input(t, "ITR2", model.RegimeNew, map[string]money.Amount{
		"salary_gross": 900000,
		"stcg_111a":    -40000,
		"ltcg_112a":    300000,
		"advance_tax":  20000,
	}))
	require.NoError(t, err)

	b := body(t, res)
	cg := section(t, b, "ScheduleCGSummary")
	assert.EqualValues(t, 0, cg["ShortTerm111A"])
	assert.EqualValues(t, 260000, cg["LongTerm112A"])
	assert.EqualValues(t, 40000, cg["LossSetOff"])
	assert.EqualValues(t, 125000, cg["LongTerm112AExempt"])
	assert.EqualValues(t, 260000, cg["TotalCapitalGains"])
	assert.EqualValues(t, 825000+260000, section(t, b, "ITR2_IncomeDeductions")["GrossTotIncome"])
	assert.Equal(t, "RES", section(t, b, "PersonalInfo")["ResidentialStatus"])
}

func TestBuild_OldRegimeDeductions(t *testing.T) {
	t.Parallel()

	res, err := Build(input(t, "ITR1", model.RegimeOld, map[string]money.Amount{
		"salary_gross":  1000000,
		"deduction_80c": 200000,
		"deduction_80d": 30000,
		"tds_salary":    90000,
	}))
	require.NoError(t, err)

	b := body(t, res)
	assert.Equal(t, "Y", section(t, b, "PersonalInfo", "FilingStatus")["OptOutNewTaxRegime"])
	inc := section(t, b, "ITR1_IncomeDeductions")
	claimed := section(t, inc, "UsrDeductUndChapVIA")
	allowed := section(t, inc, "DeductUndChapVIA")
	assert.EqualValues(t, 200000, claimed["Section80C"])
	assert.EqualValues(t, 230000, claimed["TotalChapVIADeductions"])
	assert.EqualValues(t, 150000, allowed["Section80C"])
	assert.EqualValues(t, 25000, allowed["Section80D"])
	assert.EqualValues(t, 175000, allowed["TotalChapVIADeductions"])
}

func TestBuild_LateFiling(t *testing.T) {
	t.Parallel()

	in := input(t, "ITR1", model.RegimeNew, map[string]money.Amount{"salary_gross": 600000})
	late := in.DueDate.AddDate(0, 1, 0)
	in.Profile.FilingDate = &late
	res, err := Build(in)
	require.NoError(t, err)

	fs := section(t, body(t, res), "PersonalInfo", "FilingStatus")
	assert.EqualValues(t, 12, fs["ReturnFileSec"])
	assert.Equal(t, late.In(ist).Format(time.DateOnly), fs["FilingDate"])

	onTime := in.DueDate
	in.Profile.FilingDate = &onTime
	res, err = Build(in)
	require.NoError(t, err)
	assert.EqualValues(t, 11, section(t, body(t, res), "PersonalInfo", "FilingStatus")["ReturnFileSec"])
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()

	in := input(t, "ITR2", model.RegimeOld, map[string]money.Amount{
		"salary_gross":     1500000,
		"interest_savings": 12000,
		"ltcg_112a":        50000,
		"tds_salary":       200000,
	})
	a, err := Build(in)
	require.NoError(t, err)
	b, err := Build(in)
	require.NoError(t, err)
	assert.Equal(t, string(a.Document), string(b.Document))
}

func TestBuild_ITR1Ineligible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values map[string]money.Amount
		mutate func(*Input)
		want   string
	}{
		{"short-term gains", map[string]money.Amount{"salary_gross": 600000, "stcg_111a": 10000}, nil, "short-term"},
		{"112A above the limit", map[string]money.Amount{"salary_gross": 600000, "ltcg_112a": 200000}, nil, "112A"},
		{"capital loss", map[string]money.Amount{"salary_gross": 600000, "stcg_111a": -10000}, nil, "capital losses"},
		{"income above 50 lakh", map[string]money.Amount{"salary_gross": 6000000}, nil, "limit"},
		{"non-resident", map[string]money.Amount{"salary_gross": 600000}, func(in *Input) { in.Profile.Resident = false }, "residents"},
		{"unsupported form", map[string]money.Amount{"salary_gross": 600000}, func(in *Input) { in.Profile.FormType = "ITR4" }, "unsupported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := input(t, "ITR1", model.RegimeNew, tt.values)
			if tt.mutate != nil {
				tt.mutate(&in)
			}
			_, err := Build(in)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Contains(t, ve.Error(), tt.want)
		})
	}
}

func TestBuild_SchemaRejectsProfile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*model.TaxpayerProfile)
	}{
		{"malformed PAN", func(p *model.TaxpayerProfile) { p.PAN = "ABC123" }},
		{"missing name", func(p *model.TaxpayerProfile) { p.Name = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := input(t, "ITR1", model.RegimeNew, map[string]money.Amount{"salary_gross": 600000})
			tt.mutate(&in.Profile)
			_, err := Build(in)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, FormITR1, ve.Form)
			assert.Contains(t, ve.Error(), "schema")
		})
	}
}
