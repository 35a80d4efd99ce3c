package validate

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

func TestValidateSchemaFixtures(t *testing.T) {
	root := repoRoot(t)
	cases := []struct {
		name    string
		schema  string
		valid   string
		invalid string
		format  string
	}{
		{name: "manifest", schema: SchemaManifest, valid: "manifest_valid.json", invalid: "manifest_invalid.json", format: "json"},
		{name: "merkle_tree", schema: SchemaMerkleTree, valid: "merkle_tree_valid.json", invalid: "merkle_tree_invalid.json", format: "json"},
		{name: "ledger_event", schema: SchemaLedgerEvent, valid: "ledger_event_valid.jsonl", invalid: "ledger_event_invalid.jsonl", format: "jsonl"},
		{name: "certify_thresholds", schema: SchemaCertifyThresholds, valid: "certify_thresholds_valid.yaml", invalid: "certify_thresholds_invalid.yaml", format: "yaml"},
		{name: "drift_baseline", schema: SchemaDriftBaseline, valid: "drift_baseline_valid.yaml", invalid: "drift_baseline_invalid.yaml", format: "yaml"},
	}
	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			validRaw := mustReadFixture(t, root, testCase.valid)
			invalidRaw := mustReadFixture(t, root, testCase.invalid)
			if err := validateByFormat(testCase.format, testCase.schema, validRaw); err != nil {
				t.Fatalf("expected valid fixture, got error: %v", err)
			}
			err := validateByFormat(testCase.format, testCase.schema, invalidRaw)
			if err == nil {
				t.Fatalf("expected invalid fixture to fail")
			}
			if coreerrors.CategoryOf(err) != coreerrors.CategoryValidation {
				t.Fatalf("unexpected category: %s (%v)", coreerrors.CategoryOf(err), err)
			}
		})
	}
}

func TestValidateJSONFile(t *testing.T) {
	root := repoRoot(t)
	valid := filepath.Join(root, "core", "schema", "testdata", "manifest_valid.json")
	if err := ValidateJSONFile(SchemaManifest, valid); err != nil {
		t.Fatalf("expected valid manifest, got error: %v", err)
	}
	err := ValidateJSONFile(SchemaManifest, filepath.Join(t.TempDir(), "absent.json"))
	if coreerrors.CategoryOf(err) != coreerrors.CategoryIOFailure {
		t.Fatalf("expected io failure for missing file, got %v", err)
	}
}

func TestValidateJSONLNamesLine(t *testing.T) {
	root := repoRoot(t)
	err := ValidateJSONL(SchemaLedgerEvent, mustReadFixture(t, root, "ledger_event_invalid.jsonl"))
	if err == nil {
		t.Fatalf("expected invalid jsonl to fail")
	}
	if field := coreerrors.FieldOf(err); field != "ledger_event line 2" {
		t.Fatalf("unexpected field: %q", field)
	}
}

func TestUnknownSchemaIsInternal(t *testing.T) {
	err := ValidateJSON("does_not_exist", []byte(`{}`))
	if coreerrors.CategoryOf(err) != coreerrors.CategoryInternalFailure {
		t.Fatalf("expected internal failure, got %v", err)
	}
}

func TestValidateYAMLParseFailure(t *testing.T) {
	err := ValidateYAML(SchemaCertifyThresholds, []byte("min_scores: [unterminated"))
	if coreerrors.CategoryOf(err) != coreerrors.CategoryParseFailure {
		t.Fatalf("expected parse failure, got %v", err)
	}
}

func validateByFormat(format, schema string, raw []byte) error {
	switch format {
	case "jsonl":
		return ValidateJSONL(schema, raw)
	case "yaml":
		return ValidateYAML(schema, raw)
	default:
		return ValidateJSON(schema, raw)
	}
}

func mustReadFixture(t *testing.T, root string, filename string) []byte {
	t.Helper()
	path := filepath.Join(root, "core", "schema", "testdata", filename)
	// #nosec G304 -- path is static fixture under repository root.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture %s: %v", filename, err)
	}
	return raw
}

func repoRoot(t *testing.T) string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to locate test file")
	}
	dir := filepath.Dir(filename)
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}

func TestEverySchemaCompiles(t *testing.T) {
	for _, name := range SchemaNames() {
		if err := Compile(name); err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
	}
}
