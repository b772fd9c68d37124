package export

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/rotisserie/eris"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ITR-1 eligibility limits.
const (
	itr1IncomeLimit money.Amount = 5000000
	itr1LTCGLimit   money.Amount = 125000
)

// ValidationError lists why a document cannot be filed under its form.
type ValidationError struct {
	Form     Form
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("export: %s document is invalid: %s", e.Form, strings.Join(e.Problems, "; "))
}

var loadSchemas = sync.OnceValues(func() (map[Form]*jsonschema.Resolved, error) {
	out := make(map[Form]*jsonschema.Resolved, len(descriptions))
	for form := range descriptions {
		data, err := schemaFS.ReadFile("schemas/" + string(form) + ".json")
		if err != nil {
			return nil, eris.Wrapf(err, "export: read %s schema", form)
		}
		var s jsonschema.Schema
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, eris.Wrapf(err, "export: parse %s schema", form)
		}
		rs, err := s.Resolve(nil)
		if err != nil {
			return nil, eris.Wrapf(err, "export: resolve %s schema", form)
		}
		out[form] = rs
	}
	return out, nil
})

// Validate checks a rendered document against the form's schema and
// against the arithmetic that ties its sections together.
func Validate(form Form, doc []byte) error {
	schemas, err := loadSchemas()
	if err != nil {
		return err
	}
	rs, ok := schemas[form]
	if !ok {
		return &ValidationError{Form: form, Problems: []string{"no schema for form"}}
	}
	var inst any
	if err := json.Unmarshal(doc, &inst); err != nil {
		return eris.Wrap(err, "export: decode document")
	}

	var problems []string
	if err := rs.Validate(inst); err != nil {
		problems = append(problems, "schema: "+err.Error())
	}
	problems = append(problems, consistency(form, doc)...)
	if len(problems) > 0 {
		return &ValidationError{Form: form, Problems: problems}
	}
	return nil
}

// eligibility reports what rules the computation out of the form before
// anything is rendered.
func eligibility(form Form, res model.ComputationResult, p model.TaxpayerProfile) []string {
	if form != FormITR1 {
		return nil
	}
	var problems []string
	if !p.Resident {
		problems = append(problems, "ITR1 is for residents only")
	}
	if res.TaxableIncome > itr1IncomeLimit {
		problems = append(problems, fmt.Sprintf("total income %s exceeds the ITR1 limit of %s",
			money.Format(res.TaxableIncome), money.Format(itr1IncomeLimit)))
	}
	if res.Income.ShortTermGains111A > 0 {
		problems = append(problems, "short-term capital gains need ITR2")
	}
	if res.Income.LongTermGains112A > itr1LTCGLimit {
		problems = append(problems, fmt.Sprintf("long-term gains under 112A above %s need ITR2", money.Format(itr1LTCGLimit)))
	}
	if res.Income.CapitalLossCarriedForward > 0 || res.Income.CapitalLossSetOff > 0 {
		problems = append(problems, "capital losses need ITR2")
	}
	return problems
}

func consistency(form Form, doc []byte) []string {
	var env struct {
		ITR map[Form]json.RawMessage `json:"ITR"`
	}
	if err := json.Unmarshal(doc, &env); err != nil {
		return []string{"decode: " + err.Error()}
	}
	raw, ok := env.ITR[form]
	if !ok {
		return []string{fmt.Sprintf("document has no %s body", form)}
	}

	var (
		inc    IncomeDeductions
		tax    TaxComputation
		paid   TaxPaid
		refund Refund
		gains  money.Amount
	)
	switch form {
	case FormITR1:
		var b itr1
		if err := json.Unmarshal(raw, &b); err != nil {
			return []string{"decode: " + err.Error()}
		}
		inc, tax, paid, refund = b.IncomeDeductions, b.TaxComputation, b.TaxPaid, b.Refund
		gains = b.IncomeDeductions.LTCG112A
	case FormITR2:
		var b itr2
		if err := json.Unmarshal(raw, &b); err != nil {
			return []string{"decode: " + err.Error()}
		}
		inc, tax, paid, refund = b.IncomeDeductions, b.TaxComputation, b.TaxPaid, b.Refund
		gains = b.ScheduleCG.TotalCapitalGains
	}

	var problems []string
	if heads := inc.IncomeFromSal + inc.IncomeOthSrc + gains; heads != inc.GrossTotIncome {
		problems = append(problems, fmt.Sprintf("gross total income %d does not equal the sum of heads %d", inc.GrossTotIncome, heads))
	}
	if inc.DeductUndChapVIA.TotalChapVIADeductions > inc.UsrDeductUndChapVIA.TotalChapVIADeductions {
		problems = append(problems, "allowed deductions exceed those claimed")
	}
	if paid.BalTaxPayable > 0 && refund.RefundDue > 0 {
		problems = append(problems, "both a balance payable and a refund are set")
	}
	signed := tax.TotTaxPlusIntrstPay - paid.TaxesPaid.TotalTaxesPaid
	if signed != paid.BalTaxPayable-refund.RefundDue {
		problems = append(problems, fmt.Sprintf("liability less taxes paid is %d but the return shows %d payable and %d refund",
			signed, paid.BalTaxPayable, refund.RefundDue))
	}
	return problems
}
