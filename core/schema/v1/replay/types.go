package replay

type DiffStatus string

const (
	StatusIdentical         DiffStatus = "IDENTICAL"
	StatusDifferent         DiffStatus = "DIFFERENT"
	StatusMissingInReplay   DiffStatus = "MISSING_IN_REPLAY"
	StatusMissingInBaseline DiffStatus = "MISSING_IN_BASELINE"
)

type Diff struct {
	Path      string     `json:"path"`
	Status    DiffStatus `json:"status"`
	HashLeft  string     `json:"hash_left,omitempty"`
	HashRight string     `json:"hash_right,omitempty"`
}

type Result struct {
	SchemaID      string `json:"schema_id"`
	SchemaVersion string `json:"schema_version"`
	Identical     bool   `json:"identical"`
	Differences   []Diff `json:"differences"`
	ManifestMatch bool   `json:"manifest_match"`
	MerkleMatch   bool   `json:"merkle_match"`
	SeedMatch     bool   `json:"seed_match"`
	BaselineRunID string `json:"baseline_run_id"`
	ReplayRunID   string `json:"replay_run_id"`
	DurationMS    int64  `json:"duration_ms"`
}
