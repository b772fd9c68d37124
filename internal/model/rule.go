package model

import "time"

// RuleResult is one rule's outcome in one evaluation pass. Immutable.
type RuleResult struct {
	PassID      string            `json:"pass_id"`
	RuleCode    string            `json:"rule_code"`
	Category    string            `json:"category"`
	Field       string            `json:"field,omitempty"`
	Severity    Severity          `json:"severity"`
	Passed      bool              `json:"passed"`
	InputsUsed  map[string]string `json:"inputs_used"`
	OutputValue string            `json:"output_value"`
	Message     string            `json:"message"`
	Error       string            `json:"error,omitempty"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
}

// Failed reports whether the rule failed at or above min severity.
func (r RuleResult) Failed(min Severity) bool {
	return !r.Passed && r.Severity.AtLeast(min)
}
