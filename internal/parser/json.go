package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxprep/internal/model"
)

// jsonRecord is one extract in a JSON document. Confidence and CapturedAt
// fall back to the document's own values.
type jsonRecord struct {
	Fields     map[string]any `json:"fields"`
	Confidence *float64       `json:"confidence"`
	CapturedAt *time.Time     `json:"captured_at"`
}

// JSON parses documents holding a single record or an array of records:
//
//	{"confidence": 0.9, "captured_at": "2025-06-01T00:00:00Z", "fields": {"tds_salary": 85000}}
type JSON struct{}

// Name implements Parser.
func (JSON) Name() string { return "json" }

// Supports implements Parser.
func (JSON) Supports(_ model.SourceKind, format string) bool { return format == FormatJSON }

// Parse implements Parser.
func (p JSON) Parse(ctx context.Context, doc model.Document) ([]model.RawExtract, error) {
	trimmed := bytes.TrimSpace(doc.Payload)
	if len(trimmed) == 0 {
		return nil, eris.New("json: empty document")
	}

	var records []jsonRecord
	if trimmed[0] == '[' {
		recCh, errCh := decodeArray[jsonRecord](ctx, bytes.NewReader(trimmed))
		for rec := range recCh {
			records = append(records, rec)
		}
		if err := <-errCh; err != nil {
			return nil, err
		}
	} else {
		var rec jsonRecord
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			return nil, eris.Wrap(err, "json: decode object")
		}
		records = append(records, rec)
	}

	out := make([]model.RawExtract, 0, len(records))
	for i, rec := range records {
		raw := base(doc, p.Name(), i)
		for k, v := range rec.Fields {
			raw.Fields[k] = v
		}
		if rec.Confidence != nil {
			raw.Confidence = *rec.Confidence
		}
		if rec.CapturedAt != nil {
			raw.CapturedAt = *rec.CapturedAt
		}
		out = append(out, raw)
	}
	return out, nil
}

// decodeArray decodes a JSON array element by element, sending each to the
// returned channel. Numbers decode as json.Number so amounts keep their
// decimal text. Both channels are closed when decoding completes.
func decodeArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)
		decoder.UseNumber()

		tok, err := decoder.Token()
		if err != nil {
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}
