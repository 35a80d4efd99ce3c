package validate

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/kaptinlin/jsonschema"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/schemas"
)

const (
	SchemaManifest          = "manifest"
	SchemaMerkleTree        = "merkle_tree"
	SchemaLedgerEvent       = "ledger_event"
	SchemaCertifyThresholds = "certify_thresholds"
	SchemaDriftBaseline     = "drift_baseline"
)

// SchemaNames lists every embedded schema.
func SchemaNames() []string {
	return []string{SchemaManifest, SchemaMerkleTree, SchemaLedgerEvent, SchemaCertifyThresholds, SchemaDriftBaseline}
}

// Compile loads and compiles the named schema without validating a document.
func Compile(schemaName string) error {
	_, err := loadSchema(schemaName)
	return err
}

var (
	compiledMu sync.Mutex
	compiled   = map[string]*jsonschema.Schema{}
)

func ValidateJSON(schemaName string, data []byte) error {
	schema, err := loadSchema(schemaName)
	if err != nil {
		return err
	}
	return validateJSON(schemaName, schema, data)
}

func ValidateJSONFile(schemaName, jsonPath string) error {
	// #nosec G304 -- caller supplies the document path.
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return coreerrors.IOError(err, "read json")
	}
	return ValidateJSON(schemaName, data)
}

// ValidateYAML converts a YAML document to JSON and validates it.
func ValidateYAML(schemaName string, data []byte) error {
	converted, err := yaml.YAMLToJSON(data)
	if err != nil {
		return coreerrors.ParseError(err, schemaName+" yaml")
	}
	return ValidateJSON(schemaName, converted)
}

func ValidateJSONL(schemaName string, data []byte) error {
	schema, err := loadSchema(schemaName)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		if err := validateJSON(fmt.Sprintf("%s line %d", schemaName, line), schema, b); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return coreerrors.IOError(err, "read jsonl")
	}
	return nil
}

func loadSchema(schemaName string) (*jsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()
	if schema, ok := compiled[schemaName]; ok {
		return schema, nil
	}
	data, err := schemas.Files.ReadFile("v1/" + schemaName + ".schema.json")
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("unknown schema %q: %w", schemaName, err), coreerrors.CategoryInternalFailure, "schema_missing", "rebuild with the embedded schema set", false)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile(data)
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("compile schema %s: %w", schemaName, err), coreerrors.CategoryInternalFailure, "schema_compile_failed", "rebuild with a valid embedded schema", false)
	}
	compiled[schemaName] = schema
	return schema, nil
}

func validateJSON(subject string, schema *jsonschema.Schema, data []byte) error {
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return coreerrors.Validation(subject, fmt.Sprintf("schema validation failed: %v", result.Errors))
}
