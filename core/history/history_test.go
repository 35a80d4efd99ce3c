package history

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/davidahmann/proofpack/core/certify"
	coreerrors "github.com/davidahmann/proofpack/core/errors"
	schemacertify "github.com/davidahmann/proofpack/core/schema/v1/certify"
)

func sampleEntry(id, runID, verdict string, minute int) Entry {
	return Entry{
		EntryID:          id,
		RunID:            runID,
		Verdict:          verdict,
		FailedChecks:     []string{},
		ThresholdsDigest: strings.Repeat("a", 64),
		ManifestDigest:   strings.Repeat("b", 64),
		RecordedAt:       time.Date(2026, time.October, 2, 9, minute, 0, 0, time.UTC),
	}
}

func TestEntryFromVerdict(t *testing.T) {
	verdict := certify.Verdict{
		RunID:            "run_a",
		ManifestDigest:   strings.Repeat("b", 64),
		ThresholdsDigest: strings.Repeat("a", 64),
		Checks: []schemacertify.Check{
			{ID: certify.CheckManifestIntegrity, Status: schemacertify.StatusPass},
			{ID: certify.CheckArtifactHashes, Status: schemacertify.StatusFail},
			{ID: certify.CheckStageCompleteness, Status: schemacertify.StatusWarn},
		},
		Warnings:       1,
		Failures:       1,
		OverallVerdict: schemacertify.StatusFail,
	}
	recorded := time.Date(2026, time.October, 2, 11, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	entry := EntryFromVerdict(verdict, recorded)
	if !strings.HasPrefix(entry.EntryID, "hist_") {
		t.Fatalf("unexpected entry id: %s", entry.EntryID)
	}
	if entry.Verdict != "FAIL" || !reflect.DeepEqual(entry.FailedChecks, []string{certify.CheckArtifactHashes}) || entry.Warnings != 1 {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	if entry.RecordedAt.Location() != time.UTC || !entry.RecordedAt.Equal(recorded) {
		t.Fatalf("recorded_at must be normalized to UTC: %s", entry.RecordedAt)
	}
}

func TestFileStoreRecordAndList(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "history.ndjson"))

	empty, err := store.List(ctx, Query{})
	if err != nil {
		t.Fatalf("list missing file: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty history, got %#v", empty)
	}

	entries := []Entry{
		sampleEntry("hist_1", "run_a", "PASS", 1),
		sampleEntry("hist_2", "run_b", "FAIL", 2),
		sampleEntry("hist_3", "run_a", "FAIL", 3),
		sampleEntry("hist_4", "run_a", "PASS", 4),
	}
	for _, entry := range entries {
		if err := store.Record(ctx, entry); err != nil {
			t.Fatalf("record %s: %v", entry.EntryID, err)
		}
	}

	all, err := store.List(ctx, Query{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(all, entries) {
		t.Fatalf("unexpected entries:\n got=%#v\nwant=%#v", all, entries)
	}

	recent, err := store.List(ctx, Query{RunID: "run_a", Limit: 2})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(recent) != 2 || recent[0].EntryID != "hist_3" || recent[1].EntryID != "hist_4" {
		t.Fatalf("unexpected filtered entries: %#v", recent)
	}
}

func TestFileStoreValidationAndParse(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.ndjson")
	store := NewFileStore(path)

	entry := sampleEntry("hist_1", "", "PASS", 1)
	if err := store.Record(ctx, entry); coreerrors.FieldOf(err) != "run_id" {
		t.Fatalf("expected run_id validation error, got %v", err)
	}
	entry = sampleEntry("hist_1", "run_a", "PASS", 1)
	entry.RecordedAt = time.Time{}
	if err := store.Record(ctx, entry); coreerrors.FieldOf(err) != "recorded_at" {
		t.Fatalf("expected recorded_at validation error, got %v", err)
	}

	if err := os.WriteFile(path, []byte("{\"entry_id\":\"hist_1\"}\nnot-json\n"), 0o600); err != nil {
		t.Fatalf("write history: %v", err)
	}
	_, err := store.List(ctx, Query{})
	if coreerrors.CategoryOf(err) != coreerrors.CategoryParseFailure || !strings.Contains(err.Error(), "history line 2") {
		t.Fatalf("expected parse failure naming line 2, got %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := store.Record(canceled, sampleEntry("hist_2", "run_a", "PASS", 2)); err == nil {
		t.Fatalf("expected canceled context error")
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("PROOFPACK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PROOFPACK_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := ConnectPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	runID := "run_pg_" + strings.ReplaceAll(t.Name(), "/", "_") + "_" + time.Now().UTC().Format("150405.000000000")
	first := sampleEntry("hist_pg_1_"+runID, runID, "PASS", 1)
	second := sampleEntry("hist_pg_2_"+runID, runID, "FAIL", 2)
	second.FailedChecks = []string{certify.CheckArtifactHashes}
	for _, entry := range []Entry{first, second} {
		if err := store.Record(ctx, entry); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	listed, err := store.List(ctx, Query{RunID: runID, Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].EntryID != second.EntryID || !reflect.DeepEqual(listed[0].FailedChecks, second.FailedChecks) {
		t.Fatalf("unexpected entries: %#v", listed)
	}
}

func TestConnectPostgresRequiresDSN(t *testing.T) {
	if _, err := ConnectPostgres(context.Background(), " "); coreerrors.FieldOf(err) != "history.dsn" {
		t.Fatalf("expected dsn validation error, got %v", err)
	}
}
