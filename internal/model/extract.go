package model

import (
	"time"

	"github.com/sells-group/taxprep/internal/money"
)

// RawExtract is what a parser hands to the core: untrusted scalar fields
// tagged with a source and a confidence. Nothing is rounded yet.
type RawExtract struct {
	SourceKind SourceKind     `json:"source_kind"`
	Fields     map[string]any `json:"fields"`
	Confidence float64        `json:"confidence"`
	CapturedAt time.Time      `json:"captured_at"`
	Provenance Provenance     `json:"provenance"`
}

// Provenance points an extract back at the document and parser that produced it.
type Provenance struct {
	DocumentID string `json:"document_id,omitempty"`
	Parser     string `json:"parser,omitempty"`
	Row        int    `json:"row,omitempty"`
	Note       string `json:"note,omitempty"`
}

// Extract is an immutable, normalized input unit. Monetary fields are
// rounded to whole rupees exactly once, when the extract is ingested.
type Extract struct {
	ID         string                  `json:"id"`
	ReturnID   string                  `json:"return_id"`
	SourceKind SourceKind              `json:"source_kind"`
	Amounts    map[string]money.Amount `json:"amounts"`
	Attributes map[string]string       `json:"attributes,omitempty"`
	Confidence float64                 `json:"confidence"`
	CapturedAt time.Time               `json:"captured_at"`
	Provenance Provenance              `json:"provenance"`
}

// Document is a raw uploaded artefact awaiting the PARSE step.
type Document struct {
	ID         string     `json:"id"`
	ReturnID   string     `json:"return_id"`
	SourceKind SourceKind `json:"source_kind"`
	Format     string     `json:"format"`
	Payload    []byte     `json:"payload"`
	Confidence float64    `json:"confidence"`
	CapturedAt time.Time  `json:"captured_at"`
	CreatedAt  time.Time  `json:"created_at"`
}
