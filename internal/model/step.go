package model

import "time"

// StepName is one stage of the per-return pipeline.
type StepName string

const (
	StepParse     StepName = "PARSE"
	StepReconcile StepName = "RECONCILE"
	StepCompute   StepName = "COMPUTE"
	StepRules     StepName = "RULES"
	StepGate      StepName = "GATE"
)

// Steps is the fixed execution order.
var Steps = []StepName{StepParse, StepReconcile, StepCompute, StepRules, StepGate}

// Index returns the step's position in Steps, or -1.
func (s StepName) Index() int {
	for i, st := range Steps {
		if st == s {
			return i
		}
	}
	return -1
}

// StepStatus is the lifecycle state of a step.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepSucceeded StepStatus = "SUCCEEDED"
	StepFailed    StepStatus = "FAILED"
)

// StepState tracks one {return, step}.
type StepState struct {
	ReturnID  string     `json:"return_id"`
	Step      StepName   `json:"step"`
	Status    StepStatus `json:"status"`
	OutputRef string     `json:"output_ref,omitempty"`
	InputHash string     `json:"input_hash,omitempty"`
	Error     string     `json:"error,omitempty"`
	Attempts  int        `json:"attempts"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// StepOutput is a persisted step payload addressed by its content hash.
type StepOutput struct {
	ReturnID  string    `json:"return_id"`
	Step      StepName  `json:"step"`
	OutputRef string    `json:"output_ref"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// TaxpayerProfile carries the facts the computation needs beyond the ledger.
type TaxpayerProfile struct {
	PAN            string     `json:"pan"`
	Name           string     `json:"name"`
	AssessmentYear string     `json:"assessment_year"`
	Regime         Regime     `json:"regime"`
	FormType       string     `json:"form_type"`
	Age            int        `json:"age"`
	Resident       bool       `json:"resident"`
	FilingDate     *time.Time `json:"filing_date,omitempty"`
}

// TaxReturn is one return being prepared.
type TaxReturn struct {
	ID        string          `json:"id"`
	Profile   TaxpayerProfile `json:"profile"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
