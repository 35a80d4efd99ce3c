package proofpack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/jcs"
	"github.com/davidahmann/proofpack/core/merkle"
	"github.com/davidahmann/proofpack/core/schema/validate"
	schemaproofpack "github.com/davidahmann/proofpack/core/schema/v1/proofpack"
)

// requiredManifestFields is checked in order; the first absent field is reported.
var requiredManifestFields = []string{
	"run_id",
	"seed",
	"versions",
	"artifacts",
	"merkle_root",
	"intent_hash",
	"final_hash",
	"verdict",
	"stages_completed",
	"schema_id",
	"schema_version",
	"producer_version",
	"manifest_digest",
}

// Pack is an opened run directory. Only the manifest must be readable; tree and
// sidecar failures are carried as data so certification can report them.
type Pack struct {
	Dir           string
	Manifest      schemaproofpack.Manifest
	ManifestBytes []byte
	Tree          merkle.Tree
	TreeErr       error
	Sidecar       string
	SidecarErr    error
}

func Open(dir string) (Pack, error) {
	manifest, raw, err := readManifest(dir)
	if err != nil {
		return Pack{}, err
	}
	pack := Pack{Dir: dir, Manifest: manifest, ManifestBytes: raw}
	pack.Tree, pack.TreeErr = ReadMerkleTree(dir)
	pack.Sidecar, pack.SidecarErr = ReadSidecar(dir)
	return pack, nil
}

// ArtifactPath resolves a manifest artifact path inside the pack directory.
func (p Pack) ArtifactPath(artifact schemaproofpack.Artifact) (string, error) {
	local := filepath.FromSlash(artifact.Path)
	if !filepath.IsLocal(local) {
		return "", coreerrors.Validation("artifacts.path", fmt.Sprintf("%q escapes the run directory", artifact.Path))
	}
	return filepath.Join(p.Dir, local), nil
}

func ReadManifest(dir string) (schemaproofpack.Manifest, error) {
	manifest, _, err := readManifest(dir)
	return manifest, err
}

func readManifest(dir string) (schemaproofpack.Manifest, []byte, error) {
	path := filepath.Join(dir, ManifestFile)
	// #nosec G304 -- run directory is supplied by the caller.
	raw, err := os.ReadFile(path)
	if err != nil {
		return schemaproofpack.Manifest{}, nil, coreerrors.IOError(err, "read "+ManifestFile)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return schemaproofpack.Manifest{}, nil, coreerrors.ParseError(err, ManifestFile)
	}
	for _, field := range requiredManifestFields {
		value, ok := fields[field]
		if !ok || isAbsent(value) {
			return schemaproofpack.Manifest{}, nil, coreerrors.Validation(field, "")
		}
	}
	var manifest schemaproofpack.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return schemaproofpack.Manifest{}, nil, coreerrors.ParseError(err, ManifestFile)
	}
	if err := validate.ValidateJSON(validate.SchemaManifest, raw); err != nil {
		return schemaproofpack.Manifest{}, nil, err
	}
	return manifest, raw, nil
}

func ReadMerkleTree(dir string) (merkle.Tree, error) {
	path := filepath.Join(dir, MerkleTreeFile)
	// #nosec G304 -- run directory is supplied by the caller.
	raw, err := os.ReadFile(path)
	if err != nil {
		return merkle.Tree{}, coreerrors.IOError(err, "read "+MerkleTreeFile)
	}
	var tree merkle.Tree
	if err := json.Unmarshal(raw, &tree); err != nil {
		return merkle.Tree{}, coreerrors.ParseError(err, MerkleTreeFile)
	}
	if err := validate.ValidateJSON(validate.SchemaMerkleTree, raw); err != nil {
		return merkle.Tree{}, err
	}
	return tree, nil
}

// ReadSidecar returns the manifest sha256 recorded in manifest.json.sha256.
// Both "<hex>" and "<hex>  manifest.json" forms are accepted.
func ReadSidecar(dir string) (string, error) {
	path := filepath.Join(dir, SidecarFile)
	// #nosec G304 -- run directory is supplied by the caller.
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", coreerrors.IOError(err, "read "+SidecarFile)
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 || len(fields) > 2 {
		return "", coreerrors.Validation(SidecarFile, "expected \"<sha256>  manifest.json\"")
	}
	if len(fields) == 2 && strings.TrimPrefix(fields[1], "*") != ManifestFile {
		return "", coreerrors.Validation(SidecarFile, fmt.Sprintf("names %q instead of %s", fields[1], ManifestFile))
	}
	if !jcs.IsDigest(fields[0]) {
		return "", coreerrors.Validation(SidecarFile, "sha256 must be 64 lowercase hex characters")
	}
	return fields[0], nil
}

func isAbsent(value json.RawMessage) bool {
	trimmed := bytes.TrimSpace(value)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`))
}
