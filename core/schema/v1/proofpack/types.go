package proofpack

type Manifest struct {
	SchemaID        string            `json:"schema_id"`
	SchemaVersion   string            `json:"schema_version"`
	ProducerVersion string            `json:"producer_version"`
	RunID           string            `json:"run_id"`
	Seed            int64             `json:"seed"`
	Versions        map[string]string `json:"versions"`
	Artifacts       []Artifact        `json:"artifacts"`
	MerkleRoot      string            `json:"merkle_root"`
	IntentHash      string            `json:"intent_hash"`
	FinalHash       string            `json:"final_hash"`
	Verdict         string            `json:"verdict"`
	StagesCompleted []string          `json:"stages_completed"`
	ManifestDigest  string            `json:"manifest_digest"`
	Signatures      []Signature       `json:"signatures,omitempty"`
}

type Artifact struct {
	Stage    string `json:"stage"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
}

type Signature struct {
	Alg          string `json:"alg"`
	KeyID        string `json:"key_id"`
	Sig          string `json:"sig"`
	SignedDigest string `json:"signed_digest,omitempty"`
}
