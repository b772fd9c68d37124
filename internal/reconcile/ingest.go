package reconcile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/policy"
)

// dateLayouts are accepted for date-valued attributes such as paid_on.
var dateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006", "02-Jan-2006", "2-Jan-2006", "02 Jan 2006"}

// Normalize validates an untrusted RawExtract and converts it to an Extract.
// Catalogued fields are parsed as money and rounded to whole rupees here,
// once; everything else becomes a string attribute. Fields that cannot be
// parsed are dropped and reported as InputErrors. The extract itself is
// rejected when nothing usable remains.
func Normalize(returnID string, raw model.RawExtract, p *policy.Policy) (*model.Extract, []*model.InputError) {
	docID := raw.Provenance.DocumentID
	if !raw.SourceKind.Valid() {
		return nil, []*model.InputError{{DocumentID: docID, Reason: fmt.Sprintf("unknown source kind %q", raw.SourceKind)}}
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return nil, []*model.InputError{{DocumentID: docID, Reason: fmt.Sprintf("confidence %v outside [0,1]", raw.Confidence)}}
	}

	ext := &model.Extract{
		ID:         uuid.NewString(),
		ReturnID:   returnID,
		SourceKind: raw.SourceKind,
		Amounts:    make(map[string]money.Amount),
		Attributes: make(map[string]string),
		Confidence: raw.Confidence,
		CapturedAt: raw.CapturedAt.UTC(),
		Provenance: raw.Provenance,
	}
	if ext.CapturedAt.IsZero() {
		ext.CapturedAt = time.Unix(0, 0).UTC()
	}

	var errs []*model.InputError
	for name, v := range raw.Fields {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, fc, ok := p.Field(key); ok {
			amt, err := money.FromAny(v)
			if err != nil {
				errs = append(errs, &model.InputError{DocumentID: docID, Field: key, Reason: err.Error()})
				continue
			}
			if amt < 0 && !fc.AllowNegative {
				errs = append(errs, &model.InputError{DocumentID: docID, Field: key, Reason: "negative amount"})
				continue
			}
			ext.Amounts[key] = amt
			continue
		}
		ext.Attributes[key] = attributeString(v)
	}

	if len(ext.Amounts) == 0 {
		errs = append(errs, &model.InputError{DocumentID: docID, Reason: "extract has no recognised fields"})
		return nil, errs
	}
	return ext, errs
}

// attributeString renders a scalar attribute, canonicalising dates.
func attributeString(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format("2006-01-02")
	default:
		s = fmt.Sprint(t)
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return s
}
