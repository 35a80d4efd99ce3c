// Package ledger is an append-only, hash-chained log of operational events.
//
// Each event_hash is the sha256 of the canonical event without its event_hash
// field, and each prev_hash names the event_hash before it ("" at genesis).
// A Ledger assumes one writer per process; the fsx lock file only serializes the
// physical append across processes and does not merge concurrent chains.
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/fsx"
	"github.com/davidahmann/proofpack/core/jcs"
	"github.com/davidahmann/proofpack/core/schema/validate"
	schemaledger "github.com/davidahmann/proofpack/core/schema/v1/ledger"
)

const (
	EventSchemaID       = "proofpack.ledger_event"
	EventSchemaVersion  = "1.0.0"
	BundleSchemaID      = "proofpack.proof_bundle"
	BundleSchemaVersion = "1.0.0"
)

type Event = schemaledger.Event

var kinds = map[schemaledger.EventKind]struct{}{
	schemaledger.KindOperationStart: {},
	schemaledger.KindOperationEnd:   {},
	schemaledger.KindPluginInvoke:   {},
	schemaledger.KindPluginResult:   {},
	schemaledger.KindProofPackWrite: {},
	schemaledger.KindCertifyVerdict: {},
	schemaledger.KindDriftFinding:   {},
	schemaledger.KindReplayCompare:  {},
}

// ParseKind validates a kind against the closed enumeration.
func ParseKind(value string) (schemaledger.EventKind, error) {
	kind := schemaledger.EventKind(strings.TrimSpace(value))
	if _, ok := kinds[kind]; !ok {
		return "", coreerrors.Validation("kind", fmt.Sprintf("unknown event kind %q", value))
	}
	return kind, nil
}

type Options struct {
	// Registry, when set, restricts actor_id to registered actors.
	Registry *Registry
	Now      func() time.Time
	NewID    func() string
}

type AppendOptions struct {
	RunID      string
	Kind       schemaledger.EventKind
	ActorID    string
	RequestID  string
	InputHash  string
	OutputHash string
	Meta       map[string]any
	Timestamp  time.Time
}

type Ledger struct {
	mu     sync.Mutex
	opts   Options
	path   string
	events []Event
}

func New(opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "evt_" + uuid.NewString() }
	}
	return &Ledger{opts: opts}
}

// Open loads the NDJSON ledger at path, if present, and persists every later
// Append to it. Lines that are not JSON fail as parse errors; lines that are not
// ledger events fail validation. Chain integrity is checked by VerifyChain.
func Open(path string, opts Options) (*Ledger, error) {
	ledger := New(opts)
	ledger.path = path
	lines, err := fsx.ReadLines(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ledger, nil
		}
		return nil, err
	}
	for _, line := range lines {
		event, err := decodeEvent(line.Content)
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", line.Number, err)
		}
		ledger.events = append(ledger.events, event)
	}
	return ledger, nil
}

func decodeEvent(raw []byte) (Event, error) {
	if !json.Valid(raw) {
		return Event{}, coreerrors.ParseError(errors.New("invalid json"), "ledger event")
	}
	if err := validate.ValidateJSON(validate.SchemaLedgerEvent, raw); err != nil {
		return Event{}, err
	}
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, coreerrors.ParseError(err, "ledger event")
	}
	return event, nil
}

// Append chains a new event onto the current head and returns it.
func (l *Ledger) Append(opts AppendOptions) (Event, error) {
	event, err := l.newEvent(opts)
	if err != nil {
		return Event{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	event.PrevHash = l.headLocked()
	event.EventHash, err = ComputeEventHash(event)
	if err != nil {
		return Event{}, err
	}
	line, err := jcs.Canonicalize(event)
	if err != nil {
		return Event{}, err
	}
	if err := validate.ValidateJSON(validate.SchemaLedgerEvent, line); err != nil {
		return Event{}, err
	}
	if l.path != "" {
		if err := fsx.AppendLineLocked(l.path, line, 0o600); err != nil {
			return Event{}, err
		}
	}
	l.events = append(l.events, event)
	return event, nil
}

func (l *Ledger) newEvent(opts AppendOptions) (Event, error) {
	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		return Event{}, coreerrors.Validation("run_id", "")
	}
	kind, err := ParseKind(string(opts.Kind))
	if err != nil {
		return Event{}, err
	}
	actorID := strings.TrimSpace(opts.ActorID)
	if actorID == "" {
		return Event{}, coreerrors.Validation("actor_id", "")
	}
	if l.opts.Registry != nil {
		if _, ok := l.opts.Registry.Lookup(actorID); !ok {
			return Event{}, coreerrors.Validation("actor_id", fmt.Sprintf("%s is not registered", actorID))
		}
	}
	for _, field := range []struct{ name, value string }{{"input_hash", opts.InputHash}, {"output_hash", opts.OutputHash}} {
		if field.value != "" && !jcs.IsDigest(field.value) {
			return Event{}, coreerrors.Validation(field.name, "must be empty or a 64-character lowercase hex sha256 digest")
		}
	}
	meta := opts.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	if _, err := jcs.Canonicalize(meta); err != nil {
		return Event{}, err
	}
	timestamp := opts.Timestamp
	if timestamp.IsZero() {
		timestamp = l.opts.Now()
	}
	return Event{
		SchemaID:      EventSchemaID,
		SchemaVersion: EventSchemaVersion,
		EventID:       l.opts.NewID(),
		RunID:         runID,
		Timestamp:     timestamp.UTC(),
		Kind:          kind,
		ActorID:       actorID,
		RequestID:     strings.TrimSpace(opts.RequestID),
		InputHash:     opts.InputHash,
		OutputHash:    opts.OutputHash,
		Meta:          meta,
	}, nil
}

// ComputeEventHash hashes the canonical event with the event_hash member removed.
func ComputeEventHash(event Event) (string, error) {
	raw, err := jcs.Canonicalize(event)
	if err != nil {
		return "", err
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return "", coreerrors.Serialization(err)
	}
	delete(fields, "event_hash")
	return jcs.DigestValue(fields)
}

// Events returns a copy of the chain in append order.
func (l *Ledger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *Ledger) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headLocked()
}

func (l *Ledger) headLocked() string {
	if len(l.events) == 0 {
		return ""
	}
	return l.events[len(l.events)-1].EventHash
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type VerifyResult struct {
	Valid    bool   `json:"valid"`
	BrokenAt *int   `json:"broken_at"`
	Reason   string `json:"reason,omitempty"`
	Events   int    `json:"events"`
	Head     string `json:"head"`
}

// Err returns a ChainBrokenError for an invalid result and nil otherwise.
func (r VerifyResult) Err() error {
	if r.Valid || r.BrokenAt == nil {
		return nil
	}
	return coreerrors.ChainBroken(*r.BrokenAt, r.Reason)
}

func (l *Ledger) VerifyChain() VerifyResult {
	return VerifyEvents(l.Events())
}

// VerifyEvents walks events from genesis and reports the first index whose
// prev_hash linkage or event_hash does not verify.
func VerifyEvents(events []Event) VerifyResult {
	prev := ""
	for index, event := range events {
		if event.PrevHash != prev {
			return broken(index, len(events), fmt.Sprintf("prev_hash %q does not match previous event_hash %q", event.PrevHash, prev))
		}
		computed, err := ComputeEventHash(event)
		if err != nil {
			return broken(index, len(events), err.Error())
		}
		if computed != event.EventHash {
			return broken(index, len(events), fmt.Sprintf("event_hash mismatch: expected=%s actual=%s", event.EventHash, computed))
		}
		prev = event.EventHash
	}
	return VerifyResult{Valid: true, Events: len(events), Head: prev}
}

func broken(index, total int, reason string) VerifyResult {
	at := index
	return VerifyResult{Valid: false, BrokenAt: &at, Reason: reason, Events: total}
}

// ExportNDJSON writes one canonical event per line.
func (l *Ledger) ExportNDJSON(w io.Writer) error {
	for _, event := range l.Events() {
		line, err := jcs.Canonicalize(event)
		if err != nil {
			return err
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return coreerrors.IOError(err, "write ndjson")
		}
	}
	return nil
}
