// Package parser turns uploaded documents into raw extracts. The pipeline
// depends only on the Parser interface; concrete parsers are looked up in a
// Registry by source kind and format.
package parser

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxprep/internal/model"
)

// Document formats understood by the built-in parsers.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Parser extracts raw field values from one document.
type Parser interface {
	// Name identifies the parser in extract provenance.
	Name() string
	// Supports reports whether the parser handles documents of this kind and format.
	Supports(kind model.SourceKind, format string) bool
	// Parse returns one raw extract per record in the document.
	Parse(ctx context.Context, doc model.Document) ([]model.RawExtract, error)
}

// Registry holds parsers keyed by source kind. Kind-specific parsers are
// tried before generic ones, each in registration order.
type Registry struct {
	mu      sync.RWMutex
	byKind  map[model.SourceKind][]Parser
	generic []Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[model.SourceKind][]Parser)}
}

// Default returns a registry with the generic JSON, CSV and XLSX parsers.
func Default() *Registry {
	r := NewRegistry()
	r.Register(JSON{})
	r.Register(CSV{})
	r.Register(XLSX{})
	return r
}

// Register adds p for the given kinds, or for every kind when none are given.
func (r *Registry) Register(p Parser, kinds ...model.SourceKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(kinds) == 0 {
		r.generic = append(r.generic, p)
		return
	}
	for _, k := range kinds {
		r.byKind[k] = append(r.byKind[k], p)
	}
}

// For returns the parser for a document of this kind and format.
func (r *Registry) For(kind model.SourceKind, format string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.byKind[kind] {
		if p.Supports(kind, format) {
			return p, nil
		}
	}
	for _, p := range r.generic {
		if p.Supports(kind, format) {
			return p, nil
		}
	}
	return nil, eris.Wrapf(model.ErrNotFound, "parser: no parser for %s/%s", kind, format)
}

// Parse finds a parser for doc and runs it.
func (r *Registry) Parse(ctx context.Context, doc model.Document) ([]model.RawExtract, error) {
	p, err := r.For(doc.SourceKind, doc.Format)
	if err != nil {
		return nil, err
	}
	out, err := p.Parse(ctx, doc)
	if err != nil {
		return nil, eris.Wrapf(err, "parser: %s document %s", p.Name(), doc.ID)
	}
	return out, nil
}

// base fills the fields every extract from doc shares.
func base(doc model.Document, parser string, row int) model.RawExtract {
	return model.RawExtract{
		SourceKind: doc.SourceKind,
		Fields:     make(map[string]any),
		Confidence: doc.Confidence,
		CapturedAt: doc.CapturedAt,
		Provenance: model.Provenance{DocumentID: doc.ID, Parser: parser, Row: row},
	}
}
