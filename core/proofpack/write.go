package proofpack

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/fsx"
)

type WriteResult struct {
	Dir   string
	Build Build
}

// RunDir returns <outDir>/runs/<runID>.
func RunDir(outDir, runID string) string {
	return filepath.Join(outDir, RunsDir, runID)
}

// Write builds the manifest and persists artifacts, merkle-tree.json, manifest.json
// and its sha256 sidecar under RunDir. An existing run directory is never touched.
func Write(outDir string, opts BuildOptions) (WriteResult, error) {
	build, err := BuildManifest(opts)
	if err != nil {
		return WriteResult{}, err
	}
	runDir := RunDir(outDir, build.Manifest.RunID)
	if err := os.MkdirAll(filepath.Dir(runDir), 0o750); err != nil {
		return WriteResult{}, coreerrors.IOError(err, "create runs directory")
	}
	if err := os.Mkdir(runDir, 0o750); err != nil {
		if errors.Is(err, os.ErrExist) {
			return WriteResult{}, coreerrors.Wrap(
				fmt.Errorf("run %s already exists at %s", build.Manifest.RunID, runDir),
				coreerrors.CategoryValidation,
				"run_exists",
				"proofpacks are immutable; record corrections under a new run_id",
				false,
			)
		}
		return WriteResult{}, coreerrors.IOError(err, "create run directory")
	}

	stageDirs := map[string]struct{}{}
	for index, artifact := range build.Manifest.Artifacts {
		if _, ok := stageDirs[artifact.Stage]; !ok {
			if err := os.Mkdir(filepath.Join(runDir, artifact.Stage), 0o750); err != nil {
				return WriteResult{}, coreerrors.IOError(err, "create stage directory "+artifact.Stage)
			}
			stageDirs[artifact.Stage] = struct{}{}
		}
		target := filepath.Join(runDir, filepath.FromSlash(artifact.Path))
		if err := fsx.WriteFileExclusive(target, build.payloads[index], 0o644); err != nil {
			return WriteResult{}, err
		}
	}
	if err := fsx.WriteFileAtomic(filepath.Join(runDir, MerkleTreeFile), build.TreeBytes, 0o644); err != nil {
		return WriteResult{}, err
	}
	if err := fsx.WriteFileAtomic(filepath.Join(runDir, ManifestFile), build.ManifestBytes, 0o644); err != nil {
		return WriteResult{}, err
	}
	if err := fsx.WriteFileAtomic(filepath.Join(runDir, SidecarFile), build.Sidecar, 0o644); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Dir: runDir, Build: build}, nil
}
