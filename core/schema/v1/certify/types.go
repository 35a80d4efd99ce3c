package certify

type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

type Check struct {
	ID       string   `json:"id"`
	Status   Status   `json:"status"`
	Message  string   `json:"message"`
	Evidence []string `json:"evidence,omitempty"`
}

type Verdict struct {
	SchemaID         string  `json:"schema_id"`
	SchemaVersion    string  `json:"schema_version"`
	RunID            string  `json:"run_id"`
	ManifestDigest   string  `json:"manifest_digest"`
	ThresholdsDigest string  `json:"thresholds_digest"`
	Checks           []Check `json:"checks"`
	Warnings         int     `json:"warnings"`
	Failures         int     `json:"failures"`
	OverallVerdict   Status  `json:"overall_verdict"`
}
