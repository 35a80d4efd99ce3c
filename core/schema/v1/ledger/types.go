package ledger

import "time"

type EventKind string

const (
	KindOperationStart EventKind = "operation.start"
	KindOperationEnd   EventKind = "operation.end"
	KindPluginInvoke   EventKind = "plugin.invoke"
	KindPluginResult   EventKind = "plugin.result"
	KindProofPackWrite EventKind = "proofpack.write"
	KindCertifyVerdict EventKind = "certify.verdict"
	KindDriftFinding   EventKind = "drift.finding"
	KindReplayCompare  EventKind = "replay.compare"
)

type Event struct {
	SchemaID      string         `json:"schema_id"`
	SchemaVersion string         `json:"schema_version"`
	EventID       string         `json:"event_id"`
	RunID         string         `json:"run_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Kind          EventKind      `json:"kind"`
	ActorID       string         `json:"actor_id"`
	RequestID     string         `json:"request_id"`
	InputHash     string         `json:"input_hash"`
	OutputHash    string         `json:"output_hash"`
	PrevHash      string         `json:"prev_hash"`
	Meta          map[string]any `json:"meta"`
	EventHash     string         `json:"event_hash"`
}

type PluginDigest struct {
	PluginID       string `json:"plugin_id"`
	Version        string `json:"version"`
	ManifestDigest string `json:"manifest_digest"`
}

type ManifestDigest struct {
	RunID          string `json:"run_id"`
	ManifestDigest string `json:"manifest_digest"`
	MerkleRoot     string `json:"merkle_root"`
}

type ValidationReport struct {
	ReportID string   `json:"report_id"`
	Subject  string   `json:"subject"`
	Status   string   `json:"status"`
	Findings []string `json:"findings,omitempty"`
}

type ProofBundle struct {
	SchemaID      string             `json:"schema_id"`
	SchemaVersion string             `json:"schema_version"`
	RunID         string             `json:"run_id"`
	ChainHead     string             `json:"chain_head"`
	ChainValid    bool               `json:"chain_valid"`
	Events        []Event            `json:"events"`
	Plugins       []PluginDigest     `json:"plugins"`
	Manifests     []ManifestDigest   `json:"manifests"`
	Reports       []ValidationReport `json:"reports"`
	BundleDigest  string             `json:"bundle_digest"`
}
