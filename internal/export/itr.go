// Package export renders a finalised return as the JSON document the
// e-filing utility accepts for ITR-1 and ITR-2, and checks it against the
// form's schema before handing it out.
package export

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
)

// Form is an ITR form this package can produce.
type Form string

const (
	FormITR1 Form = "ITR1"
	FormITR2 Form = "ITR2"
)

const (
	// SchemaVersion is the version of the embedded form schemas.
	SchemaVersion = "2.0"
	formVersion   = "1.0"
	software      = "taxprep"
)

var descriptions = map[Form]string{
	FormITR1: "For resident individuals having income from salaries, other sources and long-term capital gains under section 112A up to Rs. 1.25 lakh, and total income up to Rs. 50 lakh",
	FormITR2: "For individuals and HUFs not having income from profits and gains of business or profession",
}

// ParseForm accepts "ITR1", "itr-2" and similar spellings.
func ParseForm(s string) (Form, error) {
	f := Form(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", ""))
	if _, ok := descriptions[f]; !ok {
		return "", eris.Errorf("export: unsupported form %q", s)
	}
	return f, nil
}

// Input is everything a finalised return contributes to the document.
type Input struct {
	ReturnID    string
	Profile     model.TaxpayerProfile
	Computation model.Computation
	Ledger      model.Ledger
	DueDate     time.Time
	CreatedAt   time.Time
}

// Result is a built and validated return document.
type Result struct {
	ReturnID       string          `json:"return_id"`
	Form           Form            `json:"form"`
	SchemaVersion  string          `json:"schema_version"`
	AssessmentYear string          `json:"assessment_year"`
	Regime         model.Regime    `json:"regime"`
	Document       json.RawMessage `json:"document"`
}

// CreationInfo identifies the software and time that produced the file.
type CreationInfo struct {
	SWVersionNo      string `json:"SWVersionNo"`
	SWCreatedBy      string `json:"SWCreatedBy"`
	JSONCreationDate string `json:"JSONCreationDate"`
	JSONCreationTime string `json:"JSONCreationTime"`
	Digest           string `json:"Digest"`
}

// FormInfo names the form and schema.
type FormInfo struct {
	FormName       string `json:"FormName"`
	Description    string `json:"Description"`
	AssessmentYear string `json:"AssessmentYear"`
	SchemaVer      string `json:"SchemaVer"`
	FormVer        string `json:"FormVer"`
}

type AssesseeName struct {
	FirstName        string `json:"FirstName,omitempty"`
	SurNameOrOrgName string `json:"SurNameOrOrgName"`
}

type FilingStatus struct {
	ReturnFileSec      int    `json:"ReturnFileSec"`
	OptOutNewTaxRegime string `json:"OptOutNewTaxRegime"`
	FilingDate         string `json:"FilingDate,omitempty"`
}

type PersonalInfo struct {
	AssesseeName      AssesseeName `json:"AssesseeName"`
	PAN               string       `json:"PAN"`
	Status            string       `json:"Status"`
	Age               int          `json:"Age"`
	ResidentialStatus string       `json:"ResidentialStatus"`
	FilingStatus      FilingStatus `json:"FilingStatus"`
}

// ChapVIA lists deductions under Chapter VI-A.
type ChapVIA struct {
	Section80C             money.Amount `json:"Section80C"`
	Section80D             money.Amount `json:"Section80D"`
	Section80TTA           money.Amount `json:"Section80TTA"`
	TotalChapVIADeductions money.Amount `json:"TotalChapVIADeductions"`
}

type IncomeDeductions struct {
	GrossSalary            money.Amount `json:"GrossSalary"`
	DeductionUs16ia        money.Amount `json:"DeductionUs16ia"`
	ProfessionalTaxUs16iii money.Amount `json:"ProfessionalTaxUs16iii"`
	IncomeFromSal          money.Amount `json:"IncomeFromSal"`
	IncomeOthSrc           money.Amount `json:"IncomeOthSrc"`
	LTCG112A               money.Amount `json:"LTCG112A,omitempty"`
	GrossTotIncome         money.Amount `json:"GrossTotIncome"`
	UsrDeductUndChapVIA    ChapVIA      `json:"UsrDeductUndChapVIA"`
	DeductUndChapVIA       ChapVIA      `json:"DeductUndChapVIA"`
	TotalIncome            money.Amount `json:"TotalIncome"`
}

// CGSummary is the capital gains schedule of ITR-2.
type CGSummary struct {
	ShortTerm111A          money.Amount `json:"ShortTerm111A"`
	LongTerm112A           money.Amount `json:"LongTerm112A"`
	LongTerm112AExempt     money.Amount `json:"LongTerm112AExempt"`
	LossSetOff             money.Amount `json:"LossSetOff"`
	LossCarriedForward     money.Amount `json:"LossCarriedForward"`
	TotalCapitalGains      money.Amount `json:"TotalCapitalGains"`
	TaxOnSpecialRateIncome money.Amount `json:"TaxOnSpecialRateIncome"`
}

type IntrstPay struct {
	IntrstPayUs234A money.Amount `json:"IntrstPayUs234A"`
	IntrstPayUs234B money.Amount `json:"IntrstPayUs234B"`
	IntrstPayUs234C money.Amount `json:"IntrstPayUs234C"`
}

type TaxComputation struct {
	TotalTaxPayable     money.Amount `json:"TotalTaxPayable"`
	Rebate87A           money.Amount `json:"Rebate87A"`
	TaxPayableOnRebate  money.Amount `json:"TaxPayableOnRebate"`
	Surcharge           money.Amount `json:"Surcharge"`
	EducationCess       money.Amount `json:"EducationCess"`
	GrossTaxLiability   money.Amount `json:"GrossTaxLiability"`
	NetTaxLiability     money.Amount `json:"NetTaxLiability"`
	TotalIntrstPay      money.Amount `json:"TotalIntrstPay"`
	IntrstPay           IntrstPay    `json:"IntrstPay"`
	TotTaxPlusIntrstPay money.Amount `json:"TotTaxPlusIntrstPay"`
}

type TaxesPaid struct {
	AdvanceTax        money.Amount `json:"AdvanceTax"`
	TDSOnSalary       money.Amount `json:"TDSOnSalary"`
	TDSOthThanSalary  money.Amount `json:"TDSOthThanSalary"`
	TDS               money.Amount `json:"TDS"`
	TCS               money.Amount `json:"TCS"`
	SelfAssessmentTax money.Amount `json:"SelfAssessmentTax"`
	TotalTaxesPaid    money.Amount `json:"TotalTaxesPaid"`
}

type TaxPaid struct {
	TaxesPaid     TaxesPaid    `json:"TaxesPaid"`
	BalTaxPayable money.Amount `json:"BalTaxPayable"`
}

type Refund struct {
	RefundDue money.Amount `json:"RefundDue"`
}

type Declaration struct {
	AssesseeVerName string `json:"AssesseeVerName"`
	AssesseeVerPAN  string `json:"AssesseeVerPAN"`
}

type Verification struct {
	Declaration Declaration `json:"Declaration"`
	Capacity    string      `json:"Capacity"`
	Date        string      `json:"Date"`
}

// itr1 and itr2 differ only in key names and the capital gains schedule,
// so each gets its own struct and json tags carry the form prefix.
type itr1 struct {
	CreationInfo     CreationInfo     `json:"CreationInfo"`
	FormInfo         FormInfo         `json:"Form_ITR1"`
	PersonalInfo     PersonalInfo     `json:"PersonalInfo"`
	IncomeDeductions IncomeDeductions `json:"ITR1_IncomeDeductions"`
	TaxComputation   TaxComputation   `json:"ITR1_TaxComputation"`
	TaxPaid          TaxPaid          `json:"TaxPaid"`
	Refund           Refund           `json:"Refund"`
	Verification     Verification     `json:"Verification"`
}

type itr2 struct {
	CreationInfo     CreationInfo     `json:"CreationInfo"`
	FormInfo         FormInfo         `json:"Form_ITR2"`
	PersonalInfo     PersonalInfo     `json:"PersonalInfo"`
	IncomeDeductions IncomeDeductions `json:"ITR2_IncomeDeductions"`
	ScheduleCG       CGSummary        `json:"ScheduleCGSummary"`
	TaxComputation   TaxComputation   `json:"ITR2_TaxComputation"`
	TaxPaid          TaxPaid          `json:"TaxPaid"`
	Refund           Refund           `json:"Refund"`
	Verification     Verification     `json:"Verification"`
}

// Build renders the return under the profile's form type and validates it.
// It fails with a *ValidationError when the document breaks the form's
// schema or the form's eligibility limits.
func Build(in Input) (*Result, error) {
	form, err := ParseForm(in.Profile.FormType)
	if err != nil {
		return nil, &ValidationError{Form: Form(in.Profile.FormType), Problems: []string{err.Error()}}
	}
	res := in.Computation.Result()
	if problems := eligibility(form, res, in.Profile); len(problems) > 0 {
		return nil, &ValidationError{Form: form, Problems: problems}
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	created = created.In(ist)

	info := FormInfo{
		FormName:       string(form),
		Description:    descriptions[form],
		AssessmentYear: in.Profile.AssessmentYear,
		SchemaVer:      SchemaVersion,
		FormVer:        formVersion,
	}
	common := sections{
		creation: CreationInfo{
			SWVersionNo:      formVersion,
			SWCreatedBy:      software,
			JSONCreationDate: created.Format(time.DateOnly),
			JSONCreationTime: created.Format(time.TimeOnly),
		},
		personal:     personalInfo(in.Profile, res.Regime, in.DueDate),
		income:       incomeDeductions(form, res, in.Ledger),
		tax:          taxComputation(res),
		paid:         taxPaid(res, in.Ledger),
		refund:       Refund{RefundDue: res.Net.Refund},
		verification: verification(in.Profile, created),
	}

	var body any
	switch form {
	case FormITR1:
		body = itr1{
			CreationInfo:     common.creation,
			FormInfo:         info,
			PersonalInfo:     common.personal,
			IncomeDeductions: common.income,
			TaxComputation:   common.tax,
			TaxPaid:          common.paid,
			Refund:           common.refund,
			Verification:     common.verification,
		}
	case FormITR2:
		body = itr2{
			CreationInfo:     common.creation,
			FormInfo:         info,
			PersonalInfo:     common.personal,
			IncomeDeductions: common.income,
			ScheduleCG:       cgSummary(res),
			TaxComputation:   common.tax,
			TaxPaid:          common.paid,
			Refund:           common.refund,
			Verification:     common.verification,
		}
	}

	doc, err := json.MarshalIndent(map[string]map[Form]any{"ITR": {form: body}}, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "export: marshal document")
	}
	if err := Validate(form, doc); err != nil {
		return nil, err
	}

	zap.L().Info("export: return document built",
		zap.String("return_id", in.ReturnID),
		zap.String("form", string(form)),
		zap.String("assessment_year", in.Profile.AssessmentYear),
		zap.Int("bytes", len(doc)),
	)
	return &Result{
		ReturnID:       in.ReturnID,
		Form:           form,
		SchemaVersion:  SchemaVersion,
		AssessmentYear: in.Profile.AssessmentYear,
		Regime:         res.Regime,
		Document:       doc,
	}, nil
}

var ist = time.FixedZone("IST", 5*60*60+30*60)

type sections struct {
	creation     CreationInfo
	personal     PersonalInfo
	income       IncomeDeductions
	tax          TaxComputation
	paid         TaxPaid
	refund       Refund
	verification Verification
}

func personalInfo(p model.TaxpayerProfile, regime model.Regime, due time.Time) PersonalInfo {
	first, last := splitName(p.Name)
	info := PersonalInfo{
		AssesseeName: AssesseeName{FirstName: first, SurNameOrOrgName: last},
		PAN:          p.PAN,
		Status:       "I",
		Age:          p.Age,
		// 11 is a return filed on time under section 139(1), 12 a belated one.
		FilingStatus: FilingStatus{ReturnFileSec: 11, OptOutNewTaxRegime: "N"},
	}
	if regime == model.RegimeOld {
		info.FilingStatus.OptOutNewTaxRegime = "Y"
	}
	if p.FilingDate != nil {
		info.FilingStatus.FilingDate = p.FilingDate.In(ist).Format(time.DateOnly)
		if !due.IsZero() && !p.FilingDate.Before(due.AddDate(0, 0, 1)) {
			info.FilingStatus.ReturnFileSec = 12
		}
	}
	info.ResidentialStatus = "RES"
	if !p.Resident {
		info.ResidentialStatus = "NRI"
	}
	return info
}

// splitName treats the last word as the surname.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

func incomeDeductions(form Form, res model.ComputationResult, l model.Ledger) IncomeDeductions {
	h := res.Income
	claimed := ChapVIA{
		Section80C:   l.Amount("deduction_80c"),
		Section80D:   l.Amount("deduction_80d"),
		Section80TTA: l.Amount("deduction_80tta"),
	}
	claimed.TotalChapVIADeductions = claimed.Section80C + claimed.Section80D + claimed.Section80TTA
	inc := IncomeDeductions{
		GrossSalary:            h.GrossSalary,
		DeductionUs16ia:        h.StandardDeduction,
		ProfessionalTaxUs16iii: h.ProfessionalTax,
		IncomeFromSal:          h.Salary,
		IncomeOthSrc:           h.OtherSources,
		GrossTotIncome:         res.GrossTotalIncome,
		UsrDeductUndChapVIA:    claimed,
		DeductUndChapVIA:       allowedChapVIA(res.Deductions, res.DeductionsTotal),
		TotalIncome:            res.TaxableIncome,
	}
	if form == FormITR1 {
		inc.LTCG112A = h.LongTermGains112A
	}
	return inc
}

// allowedChapVIA reports what each section was allowed under the regime's
// caps. When the total was clamped to income, the shortfall comes off the
// sections in schedule order.
func allowedChapVIA(lines []model.DeductionLine, total money.Amount) ChapVIA {
	allowed := make(map[string]money.Amount, len(lines))
	for _, d := range lines {
		allowed[d.Field] = d.Allowed
	}
	left := total
	take := func(field string) money.Amount {
		t := money.Min(allowed[field], left)
		left -= t
		return t
	}
	return ChapVIA{
		Section80C:             take("deduction_80c"),
		Section80D:             take("deduction_80d"),
		Section80TTA:           take("deduction_80tta"),
		TotalChapVIADeductions: total,
	}
}

func cgSummary(res model.ComputationResult) CGSummary {
	cg := CGSummary{
		ShortTerm111A:      res.Income.ShortTermGains111A,
		LongTerm112A:       res.Income.LongTermGains112A,
		LossSetOff:         res.Income.CapitalLossSetOff,
		LossCarriedForward: res.Income.CapitalLossCarriedForward,
		TotalCapitalGains:  res.Income.ShortTermGains111A + res.Income.LongTermGains112A,
	}
	for _, s := range res.Special {
		if s.Section == "112A" {
			cg.LongTerm112AExempt = s.Exempt
		}
		cg.TaxOnSpecialRateIncome += s.Tax
	}
	return cg
}

func taxComputation(res model.ComputationResult) TaxComputation {
	return TaxComputation{
		TotalTaxPayable:    res.TaxOnIncome,
		Rebate87A:          res.Rebate87A,
		TaxPayableOnRebate: res.TaxAfterRebate,
		Surcharge:          res.Surcharge,
		EducationCess:      res.Cess,
		GrossTaxLiability:  res.TotalTaxLiability,
		NetTaxLiability:    res.TotalTaxLiability,
		TotalIntrstPay:     res.TotalInterest,
		IntrstPay: IntrstPay{
			IntrstPayUs234A: res.Interest234A,
			IntrstPayUs234B: res.Interest234B,
			IntrstPayUs234C: res.Interest234C,
		},
		TotTaxPlusIntrstPay: res.TotalTaxLiability + res.TotalInterest,
	}
}

func taxPaid(res model.ComputationResult, l model.Ledger) TaxPaid {
	salary := l.Amount("tds_salary")
	return TaxPaid{
		TaxesPaid: TaxesPaid{
			AdvanceTax:        res.AdvanceTax,
			TDSOnSalary:       salary,
			TDSOthThanSalary:  money.NonNegative(res.TDS - salary),
			TDS:               res.TDS,
			TCS:               res.TCS,
			SelfAssessmentTax: res.SelfAssessmentTax,
			TotalTaxesPaid:    res.TotalTaxesPaid,
		},
		BalTaxPayable: res.Net.Payable,
	}
}

func verification(p model.TaxpayerProfile, created time.Time) Verification {
	return Verification{
		Declaration: Declaration{AssesseeVerName: strings.TrimSpace(p.Name), AssesseeVerPAN: p.PAN},
		Capacity:    "S",
		Date:        created.Format(time.DateOnly),
	}
}
