// Package history records certification verdicts so a run's certification
// trail can be listed later. Entries are append-only.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/proofpack/core/certify"
	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

type Entry struct {
	EntryID          string    `json:"entry_id"`
	RunID            string    `json:"run_id"`
	Verdict          string    `json:"verdict"`
	FailedChecks     []string  `json:"failed_checks"`
	Warnings         int       `json:"warnings"`
	ThresholdsDigest string    `json:"thresholds_digest"`
	ManifestDigest   string    `json:"manifest_digest"`
	RecordedAt       time.Time `json:"recorded_at"`
}

type Query struct {
	RunID string
	// Limit keeps the most recent entries; zero means all.
	Limit int
}

type Store interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, query Query) ([]Entry, error)
}

// EntryFromVerdict summarizes a certification verdict.
func EntryFromVerdict(verdict certify.Verdict, recordedAt time.Time) Entry {
	return Entry{
		EntryID:          "hist_" + uuid.NewString(),
		RunID:            verdict.RunID,
		Verdict:          string(verdict.OverallVerdict),
		FailedChecks:     certify.FailedChecks(verdict),
		Warnings:         verdict.Warnings,
		ThresholdsDigest: verdict.ThresholdsDigest,
		ManifestDigest:   verdict.ManifestDigest,
		RecordedAt:       recordedAt.UTC(),
	}
}

func validateEntry(entry Entry) error {
	switch {
	case strings.TrimSpace(entry.EntryID) == "":
		return coreerrors.Validation("entry_id", "")
	case strings.TrimSpace(entry.RunID) == "":
		return coreerrors.Validation("run_id", "")
	case strings.TrimSpace(entry.Verdict) == "":
		return coreerrors.Validation("verdict", "")
	case entry.RecordedAt.IsZero():
		return coreerrors.Validation("recorded_at", "")
	}
	return nil
}

// applyQuery filters chronologically ordered entries and keeps the newest Limit.
func applyQuery(entries []Entry, query Query) []Entry {
	filtered := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if query.RunID != "" && entry.RunID != query.RunID {
			continue
		}
		filtered = append(filtered, entry)
	}
	if query.Limit > 0 && len(filtered) > query.Limit {
		filtered = filtered[len(filtered)-query.Limit:]
	}
	return filtered
}
