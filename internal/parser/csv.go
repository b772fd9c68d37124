package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxprep/internal/model"
)

// Reserved CSV columns. Every other column becomes an extract field.
const (
	colConfidence = "confidence"
	colCapturedAt = "captured_at"
)

// CSV parses header-based CSV documents, one extract per row. A challan
// statement, for example, has one row per payment:
//
//	advance_tax,bsr_code,paid_on
//	15000,0510308,2024-06-14
type CSV struct {
	// Delimiter defaults to ','.
	Delimiter rune
}

// Name implements Parser.
func (CSV) Name() string { return "csv" }

// Supports implements Parser.
func (CSV) Supports(_ model.SourceKind, format string) bool { return format == FormatCSV }

// Parse implements Parser.
func (p CSV) Parse(ctx context.Context, doc model.Document) ([]model.RawExtract, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := streamCSV(ctx, bytes.NewReader(doc.Payload), csvOptions{
		Delimiter: p.Delimiter,
		HeaderCh:  headerCh,
	})

	var (
		header []string
		out    []model.RawExtract
		row    int
	)
	for record := range rowCh {
		if header == nil {
			header = <-headerCh
		}
		row++
		raw, err := recordExtract(doc, p.Name(), header, record, row)
		if err != nil {
			// Drain so the reader goroutine can exit.
			for range rowCh {
			}
			<-errCh
			return nil, err
		}
		out = append(out, raw)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if header == nil {
		select {
		case header = <-headerCh:
		default:
		}
		if header == nil {
			return nil, eris.New("csv: missing header row")
		}
	}
	return out, nil
}

// recordExtract turns one tabular row into a raw extract. Columns are
// matched by the (lower-cased) header.
func recordExtract(doc model.Document, parser string, header, record []string, row int) (model.RawExtract, error) {
	raw := base(doc, parser, row)
	for i, col := range header {
		if i >= len(record) || record[i] == "" {
			continue
		}
		val := record[i]
		switch col {
		case colConfidence:
			c, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return raw, eris.Wrapf(err, "%s: row %d: confidence %q", parser, row, val)
			}
			raw.Confidence = c
		case colCapturedAt:
			t, err := parseTime(val)
			if err != nil {
				return raw, eris.Wrapf(err, "%s: row %d: captured_at %q", parser, row, val)
			}
			raw.CapturedAt = t
		default:
			raw.Fields[col] = val
		}
	}
	return raw, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// csvOptions configures streamCSV.
type csvOptions struct {
	Delimiter rune            // default ','
	HeaderCh  chan<- []string // receives the header row
}

// streamCSV reads CSV rows and sends them to a channel. The first row is the
// header and goes to HeaderCh. Both returned channels are closed when
// processing completes.
func streamCSV(ctx context.Context, r io.Reader, opts csvOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			if first {
				first = false
				for i, col := range record {
					record[i] = strings.ToLower(col)
				}
				select {
				case opts.HeaderCh <- record:
				case <-ctx.Done():
					errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
					return
				}
				continue
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
