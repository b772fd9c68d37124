package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// SourceKind identifies the kind of document an extract came from.
type SourceKind string

const (
	SourcePrefill       SourceKind = "PREFILL"
	SourceAIS           SourceKind = "AIS"
	SourceForm16        SourceKind = "FORM16"
	SourceForm26AS      SourceKind = "FORM26AS"
	SourceForm26ASLLM   SourceKind = "FORM26AS_LLM"
	SourceBankStatement SourceKind = "BANK_STATEMENT"
	SourceBrokerPnL     SourceKind = "BROKER_PNL"
	SourceUserEdit      SourceKind = "USER_EDIT"
)

// SourceKinds lists every kind in canonical order. Sources missing from a
// field class priority list rank after the listed ones in this order.
var SourceKinds = []SourceKind{
	SourceUserEdit,
	SourceForm26AS,
	SourceForm26ASLLM,
	SourceAIS,
	SourceForm16,
	SourceBrokerPnL,
	SourceBankStatement,
	SourcePrefill,
}

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	for _, s := range SourceKinds {
		if s == k {
			return true
		}
	}
	return false
}

// ParseSourceKind normalizes s ("form26as", "Bank_Statement") to a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	k := SourceKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", eris.Errorf("model: unknown source kind %q", s)
	}
	return k, nil
}
