package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/jcs"
	schemaledger "github.com/davidahmann/proofpack/core/schema/v1/ledger"
	"github.com/davidahmann/proofpack/internal/testutil"
)

func fixedOptions() Options {
	counter := 0
	base := time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)
	return Options{
		Now: func() time.Time {
			return base.Add(time.Duration(counter) * time.Second)
		},
		NewID: func() string {
			counter++
			return fmt.Sprintf("evt_%04d", counter)
		},
	}
}

func appendN(t *testing.T, ledger *Ledger, runID string, count int) []Event {
	t.Helper()
	events := make([]Event, 0, count)
	for index := 0; index < count; index++ {
		kind := schemaledger.KindOperationStart
		if index%2 == 1 {
			kind = schemaledger.KindOperationEnd
		}
		event, err := ledger.Append(AppendOptions{
			RunID:      runID,
			Kind:       kind,
			ActorID:    "stage.synthesis",
			RequestID:  fmt.Sprintf("req_%d", index/2),
			InputHash:  jcs.SHA256Hex([]byte(fmt.Sprintf("in-%d", index))),
			OutputHash: jcs.SHA256Hex([]byte(fmt.Sprintf("out-%d", index))),
			Meta:       map[string]any{"index": index, "stage": "synthesis"},
		})
		if err != nil {
			t.Fatalf("append %d: %v", index, err)
		}
		events = append(events, event)
	}
	return events
}

func TestAppendChainsEvents(t *testing.T) {
	ledger := New(fixedOptions())
	events := appendN(t, ledger, "run_chain", 4)
	if events[0].PrevHash != "" {
		t.Fatalf("genesis prev_hash must be empty, got %q", events[0].PrevHash)
	}
	for index := 1; index < len(events); index++ {
		if events[index].PrevHash != events[index-1].EventHash {
			t.Fatalf("event %d does not link to %d", index, index-1)
		}
	}
	if ledger.Head() != events[3].EventHash || ledger.Len() != 4 {
		t.Fatalf("unexpected head or length")
	}
	recomputed, err := ComputeEventHash(events[2])
	if err != nil {
		t.Fatalf("compute hash: %v", err)
	}
	if recomputed != events[2].EventHash {
		t.Fatalf("event hash is not reproducible")
	}
	result := ledger.VerifyChain()
	if !result.Valid || result.BrokenAt != nil || result.Err() != nil {
		t.Fatalf("expected valid chain, got %#v", result)
	}
}

func TestVerifyEventsReportsFirstBrokenIndex(t *testing.T) {
	const total = 6
	mutations := []struct {
		name   string
		mutate func(*Event)
	}{
		{name: "actor", mutate: func(e *Event) { e.ActorID = "stage.lint" }},
		{name: "meta", mutate: func(e *Event) { e.Meta = map[string]any{"index": 99} }},
		{name: "timestamp", mutate: func(e *Event) { e.Timestamp = e.Timestamp.Add(time.Nanosecond) }},
		{name: "output_hash", mutate: func(e *Event) { e.OutputHash = strings.Repeat("0", 64) }},
		{name: "prev_hash", mutate: func(e *Event) { e.PrevHash = strings.Repeat("f", 64) }},
		{name: "event_hash", mutate: func(e *Event) { e.EventHash = strings.Repeat("e", 64) }},
	}
	for _, mutation := range mutations {
		for target := 0; target < total; target++ {
			mutation := mutation
			target := target
			t.Run(fmt.Sprintf("%s_%d", mutation.name, target), func(t *testing.T) {
				ledger := New(fixedOptions())
				events := appendN(t, ledger, "run_tamper", total)
				mutation.mutate(&events[target])
				result := VerifyEvents(events)
				if result.Valid {
					t.Fatalf("expected broken chain")
				}
				if result.BrokenAt == nil || *result.BrokenAt != target {
					t.Fatalf("unexpected broken_at: %v want %d (%s)", result.BrokenAt, target, result.Reason)
				}
				index, ok := coreerrors.BrokenIndexOf(result.Err())
				if !ok || index != target {
					t.Fatalf("expected ChainBrokenError at %d, got %v", target, result.Err())
				}
			})
		}
	}
}

func TestAppendValidatesAtBoundary(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Actor{ID: "stage.lint", Version: "2.1.0"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	ledger := New(Options{Registry: registry})
	valid := AppendOptions{RunID: "run_a", Kind: schemaledger.KindPluginInvoke, ActorID: "stage.lint"}

	testCases := []struct {
		name   string
		mutate func(*AppendOptions)
		field  string
	}{
		{name: "run_id", mutate: func(o *AppendOptions) { o.RunID = "" }, field: "run_id"},
		{name: "kind", mutate: func(o *AppendOptions) { o.Kind = "plugin.exploded" }, field: "kind"},
		{name: "actor_missing", mutate: func(o *AppendOptions) { o.ActorID = "" }, field: "actor_id"},
		{name: "actor_unregistered", mutate: func(o *AppendOptions) { o.ActorID = "stage.rogue" }, field: "actor_id"},
		{name: "input_hash", mutate: func(o *AppendOptions) { o.InputHash = "ABC" }, field: "input_hash"},
		{name: "output_hash", mutate: func(o *AppendOptions) { o.OutputHash = strings.Repeat("A", 64) }, field: "output_hash"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			opts := valid
			testCase.mutate(&opts)
			_, err := ledger.Append(opts)
			if coreerrors.FieldOf(err) != testCase.field {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}

	if _, err := ledger.Append(AppendOptions{RunID: "run_a", Kind: schemaledger.KindPluginResult, ActorID: "stage.lint", Meta: map[string]any{"x": math.Inf(1)}}); err == nil {
		t.Fatalf("expected non-finite meta to be rejected")
	}
	if ledger.Len() != 0 {
		t.Fatalf("rejected appends must not enter the chain")
	}
	if _, err := ledger.Append(valid); err != nil {
		t.Fatalf("valid append: %v", err)
	}
}

func TestOpenPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger", "events.ndjson")
	first, err := Open(path, fixedOptions())
	if err != nil {
		t.Fatalf("open new ledger: %v", err)
	}
	appended := appendN(t, first, "run_file", 3)

	reloaded, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen ledger: %v", err)
	}
	if reloaded.Len() != 3 || reloaded.Head() != appended[2].EventHash {
		t.Fatalf("reloaded ledger differs: len=%d head=%s", reloaded.Len(), reloaded.Head())
	}
	if result := reloaded.VerifyChain(); !result.Valid {
		t.Fatalf("reloaded chain invalid: %#v", result)
	}
	next, err := reloaded.Append(AppendOptions{RunID: "run_file", Kind: schemaledger.KindCertifyVerdict, ActorID: "certify"})
	if err != nil {
		t.Fatalf("append after reload: %v", err)
	}
	if next.PrevHash != appended[2].EventHash {
		t.Fatalf("append after reload must extend the persisted head")
	}

	var exported bytes.Buffer
	if err := reloaded.ExportNDJSON(&exported); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !bytes.Equal(exported.Bytes(), testutil.MustReadFile(t, path)) {
		t.Fatalf("export must equal the persisted canonical lines")
	}
}

func TestOpenRejectsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	malformed := filepath.Join(dir, "malformed.ndjson")
	testutil.WriteFile(t, malformed, []byte("{\"event_id\":\n"))
	if _, err := Open(malformed, Options{}); coreerrors.CategoryOf(err) != coreerrors.CategoryParseFailure {
		t.Fatalf("expected parse failure, got %v", err)
	}
	invalid := filepath.Join(dir, "invalid.ndjson")
	testutil.WriteFile(t, invalid, []byte(`{"event_id":"evt_1"}`+"\n"))
	if _, err := Open(invalid, Options{}); coreerrors.CategoryOf(err) != coreerrors.CategoryValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestExportNDJSONOneCanonicalEventPerLine(t *testing.T) {
	ledger := New(fixedOptions())
	events := appendN(t, ledger, "run_export", 3)
	var buffer bytes.Buffer
	if err := ledger.ExportNDJSON(&buffer); err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(buffer.String(), "\n"), "\n")
	if len(lines) != len(events) {
		t.Fatalf("expected %d lines, got %d", len(events), len(lines))
	}
	for index, line := range lines {
		canonical, err := jcs.CanonicalizeJSON([]byte(line))
		if err != nil {
			t.Fatalf("line %d not json: %v", index, err)
		}
		if string(canonical) != line {
			t.Fatalf("line %d is not canonical", index)
		}
		var decoded Event
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Fatalf("decode line %d: %v", index, err)
		}
		if decoded.EventHash != events[index].EventHash {
			t.Fatalf("line %d hash mismatch", index)
		}
	}
	if result := VerifyEvents(decodeAll(t, lines)); !result.Valid {
		t.Fatalf("decoded export does not verify: %#v", result)
	}
}

func decodeAll(t *testing.T, lines []string) []Event {
	t.Helper()
	events := make([]Event, 0, len(lines))
	for _, line := range lines {
		event, err := decodeEvent([]byte(line))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		events = append(events, event)
	}
	return events
}
