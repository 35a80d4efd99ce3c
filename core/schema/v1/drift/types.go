package drift

type Classification string

const (
	ClassificationStable   Classification = "STABLE"
	ClassificationInfo     Classification = "INFO"
	ClassificationWarning  Classification = "WARNING"
	ClassificationCritical Classification = "CRITICAL"
)

type DetectorType string

const (
	TypeContract    DetectorType = "contract_consistency"
	TypePerformance DetectorType = "performance"
	TypeStructural  DetectorType = "structural"
	TypeQualitative DetectorType = "qualitative"
)

type Result struct {
	DriftID            string         `json:"drift_id"`
	Type               DetectorType   `json:"type"`
	Impact             int            `json:"impact"`
	Confidence         float64        `json:"confidence"`
	Persistence        int            `json:"persistence"`
	Score              float64        `json:"score"`
	Classification     Classification `json:"classification"`
	Evidence           []string       `json:"evidence"`
	HumanJustification string         `json:"human_justification,omitempty"`
	BaselineValue      string         `json:"baseline_value"`
	ObservedValue      string         `json:"observed_value"`
}

type Report struct {
	SchemaID       string         `json:"schema_id"`
	SchemaVersion  string         `json:"schema_version"`
	BaselineRunID  string         `json:"baseline_run_id"`
	ObservedRunIDs []string       `json:"observed_run_ids"`
	Results        []Result       `json:"results"`
	Highest        Classification `json:"highest"`
	Unjustified    []string       `json:"unjustified,omitempty"`
	DriftDetected  bool           `json:"drift_detected"`
}
