package proofpack

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/jcs"
	"github.com/davidahmann/proofpack/core/merkle"
	schemaproofpack "github.com/davidahmann/proofpack/core/schema/v1/proofpack"
	"github.com/davidahmann/proofpack/core/sign"
)

const (
	SignatureMissing  = "missing"
	SignatureSkipped  = "skipped"
	SignatureVerified = "verified"
	SignatureFailed   = "failed"
)

// ArtifactCheck is the on-disk state of one manifest artifact. Ordinal is 1-based.
type ArtifactCheck struct {
	Ordinal  int
	Artifact schemaproofpack.Artifact
	Actual   string
	Size     int64
	Missing  bool
	Err      error
}

func (c ArtifactCheck) Matches() bool {
	return !c.Missing && c.Err == nil && c.Actual == c.Artifact.SHA256
}

// CheckArtifacts hashes every manifest artifact on disk. Results keep manifest order.
func CheckArtifacts(pack Pack, workers int) []ArtifactCheck {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	checks := make([]ArtifactCheck, len(pack.Manifest.Artifacts))
	var group errgroup.Group
	group.SetLimit(workers)
	for index, artifact := range pack.Manifest.Artifacts {
		check := &checks[index]
		check.Ordinal = index + 1
		check.Artifact = artifact
		group.Go(func() error {
			path, err := pack.ArtifactPath(check.Artifact)
			if err != nil {
				check.Err = err
				return nil
			}
			check.Actual, check.Size, err = hashFile(path)
			if errors.Is(err, os.ErrNotExist) {
				check.Missing = true
				return nil
			}
			check.Err = err
			return nil
		})
	}
	_ = group.Wait()
	return checks
}

type VerifyOptions struct {
	PublicKey        ed25519.PublicKey
	RequireSignature bool
	Workers          int
}

type VerifyResult struct {
	RunID               string         `json:"run_id"`
	ManifestDigest      string         `json:"manifest_digest"`
	FilesChecked        int            `json:"files_checked"`
	MissingFiles        []string       `json:"missing_files,omitempty"`
	HashMismatches      []HashMismatch `json:"hash_mismatches,omitempty"`
	Errors              []string       `json:"errors,omitempty"`
	MerkleRootMatch     bool           `json:"merkle_root_match"`
	ManifestDigestMatch bool           `json:"manifest_digest_match"`
	SidecarMatch        bool           `json:"sidecar_match"`
	SignatureStatus     string         `json:"signature_status"`
	SignatureErrors     []string       `json:"signature_errors,omitempty"`
}

type HashMismatch struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (r VerifyResult) OK() bool {
	return len(r.MissingFiles) == 0 &&
		len(r.HashMismatches) == 0 &&
		len(r.Errors) == 0 &&
		r.MerkleRootMatch &&
		r.ManifestDigestMatch &&
		r.SidecarMatch &&
		r.SignatureStatus != SignatureFailed &&
		len(r.SignatureErrors) == 0
}

// Verify checks every recorded hash of the pack in dir and aggregates all failures.
// Only an unreadable manifest is returned as an error.
func Verify(dir string, opts VerifyOptions) (VerifyResult, error) {
	pack, err := Open(dir)
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyPack(pack, opts), nil
}

func VerifyPack(pack Pack, opts VerifyOptions) VerifyResult {
	manifest := pack.Manifest
	result := VerifyResult{
		RunID:           manifest.RunID,
		ManifestDigest:  manifest.ManifestDigest,
		FilesChecked:    len(manifest.Artifacts),
		SignatureStatus: SignatureMissing,
	}

	for _, check := range CheckArtifacts(pack, opts.Workers) {
		switch {
		case check.Missing:
			result.MissingFiles = append(result.MissingFiles, check.Artifact.Path)
		case check.Err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", check.Artifact.Path, check.Err))
		case check.Actual != check.Artifact.SHA256:
			result.HashMismatches = append(result.HashMismatches, HashMismatch{Path: check.Artifact.Path, Expected: check.Artifact.SHA256, Actual: check.Actual})
		}
	}

	computedDigest, err := ComputeManifestDigest(manifest)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	} else if computedDigest != manifest.ManifestDigest {
		result.HashMismatches = append(result.HashMismatches, HashMismatch{Path: ManifestFile + "#manifest_digest", Expected: manifest.ManifestDigest, Actual: computedDigest})
	} else {
		result.ManifestDigestMatch = true
	}

	manifestSHA := jcs.SHA256Hex(pack.ManifestBytes)
	switch {
	case pack.SidecarErr != nil && errors.Is(pack.SidecarErr, os.ErrNotExist):
		result.MissingFiles = append(result.MissingFiles, SidecarFile)
	case pack.SidecarErr != nil:
		result.Errors = append(result.Errors, pack.SidecarErr.Error())
	case pack.Sidecar != manifestSHA:
		result.HashMismatches = append(result.HashMismatches, HashMismatch{Path: SidecarFile, Expected: pack.Sidecar, Actual: manifestSHA})
	default:
		result.SidecarMatch = true
	}

	result.MerkleRootMatch = verifyMerkle(pack, &result)
	verifySignatures(manifest, computedDigest, opts, &result)

	sort.Strings(result.MissingFiles)
	sort.Slice(result.HashMismatches, func(i, j int) bool {
		return result.HashMismatches[i].Path < result.HashMismatches[j].Path
	})
	sort.Strings(result.SignatureErrors)
	return result
}

func verifyMerkle(pack Pack, result *VerifyResult) bool {
	manifest := pack.Manifest
	leaves := LeavesOf(manifest.Artifacts)
	recomputed, err := merkle.Root(leaves)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return false
	}
	match := true
	if problems := ArtifactOrderProblems(manifest); len(problems) > 0 {
		result.Errors = append(result.Errors, problems...)
		match = false
	}
	if recomputed != manifest.MerkleRoot {
		result.HashMismatches = append(result.HashMismatches, HashMismatch{Path: ManifestFile + "#merkle_root", Expected: manifest.MerkleRoot, Actual: recomputed})
		match = false
	}
	switch {
	case pack.TreeErr != nil && errors.Is(pack.TreeErr, os.ErrNotExist):
		result.MissingFiles = append(result.MissingFiles, MerkleTreeFile)
		return false
	case pack.TreeErr != nil:
		result.Errors = append(result.Errors, pack.TreeErr.Error())
		return false
	}
	if pack.Tree.RootHash != manifest.MerkleRoot {
		result.HashMismatches = append(result.HashMismatches, HashMismatch{Path: MerkleTreeFile + "#root_hash", Expected: manifest.MerkleRoot, Actual: pack.Tree.RootHash})
		match = false
	}
	if err := merkle.VerifyStructure(pack.Tree); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", MerkleTreeFile, err))
		match = false
	}
	return match
}

func verifySignatures(manifest schemaproofpack.Manifest, digest string, opts VerifyOptions, result *VerifyResult) {
	switch {
	case len(manifest.Signatures) == 0:
		result.SignatureStatus = SignatureMissing
		if opts.RequireSignature {
			result.SignatureErrors = append(result.SignatureErrors, "manifest has no signatures")
		}
	case opts.PublicKey == nil:
		result.SignatureStatus = SignatureSkipped
		if opts.RequireSignature {
			result.SignatureErrors = append(result.SignatureErrors, "public key not configured")
		}
	default:
		valid := 0
		for _, signature := range manifest.Signatures {
			if err := sign.VerifyDigest(opts.PublicKey, signature, digest); err != nil {
				result.SignatureErrors = append(result.SignatureErrors, err.Error())
				continue
			}
			valid++
		}
		if valid > 0 {
			result.SignatureStatus = SignatureVerified
		} else {
			result.SignatureStatus = SignatureFailed
		}
	}
}

func hashFile(path string) (string, int64, error) {
	// #nosec G304 -- path is resolved inside the run directory.
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, err
		}
		return "", 0, coreerrors.IOError(err, "open artifact")
	}
	defer func() {
		_ = file.Close()
	}()
	hasher := sha256.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return "", 0, coreerrors.IOError(err, "hash artifact")
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}
