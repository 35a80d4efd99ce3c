// Package proofpack assembles per-stage artifacts into an immutable, Merkle-rooted
// manifest and persists or reads the run-id-addressed directory that holds them.
package proofpack

import (
	"crypto/ed25519"
	"fmt"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/jcs"
	"github.com/davidahmann/proofpack/core/merkle"
	schemaproofpack "github.com/davidahmann/proofpack/core/schema/v1/proofpack"
	"github.com/davidahmann/proofpack/core/sign"
)

const (
	ManifestSchemaID      = "proofpack.manifest"
	ManifestSchemaVersion = "1.0.0"
	ManifestFile          = "manifest.json"
	MerkleTreeFile        = "merkle-tree.json"
	SidecarFile           = ManifestFile + ".sha256"
	RunsDir               = "runs"

	defaultProducerVersion = "0.0.0-dev"
	maxSafeSeed            = int64(1) << 53
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// DefaultStageSequence returns the canonical pipeline stage order.
func DefaultStageSequence() []string {
	return []string{"intent", "trajectory", "style", "synthesis", "lint", "final"}
}

type Artifact struct {
	Filename string
	Data     []byte
}

// StageOutput is one completed stage: the canonical input it consumed and the
// opaque byte artifacts it produced.
type StageOutput struct {
	StageID   string
	Input     any
	Artifacts []Artifact
}

type BuildOptions struct {
	RunID           string
	Seed            int64
	Versions        map[string]string
	Stages          []StageOutput
	Verdict         string
	ProducerVersion string
	StageSequence   []string
	SignKey         ed25519.PrivateKey
	Workers         int
}

// Build is a manifest together with every byte that Write persists.
type Build struct {
	Manifest      schemaproofpack.Manifest
	Tree          merkle.Tree
	ManifestBytes []byte
	TreeBytes     []byte
	Sidecar       []byte
	payloads      [][]byte
}

func BuildManifest(opts BuildOptions) (Build, error) {
	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		return Build{}, coreerrors.Validation("run_id", "")
	}
	if !runIDPattern.MatchString(runID) {
		return Build{}, coreerrors.Validation("run_id", "must match "+runIDPattern.String())
	}
	if opts.Seed > maxSafeSeed || opts.Seed < -maxSafeSeed {
		return Build{}, coreerrors.InvalidParameter("seed", opts.Seed, "must be within +/-2^53 to survive canonical JSON")
	}
	verdict := strings.TrimSpace(opts.Verdict)
	if verdict == "" {
		return Build{}, coreerrors.Validation("verdict", "")
	}
	sequence := opts.StageSequence
	if len(sequence) == 0 {
		sequence = DefaultStageSequence()
	}
	stageIndex, err := indexStages(sequence)
	if err != nil {
		return Build{}, err
	}
	if len(opts.Stages) == 0 {
		return Build{}, coreerrors.Validation("stages_completed", "")
	}

	staged, stagesCompleted, err := collectArtifacts(opts.Stages, stageIndex)
	if err != nil {
		return Build{}, err
	}
	if len(staged) == 0 {
		return Build{}, coreerrors.Validation("artifacts", "")
	}
	if err := hashArtifacts(staged, opts.Workers); err != nil {
		return Build{}, err
	}

	artifacts := make([]schemaproofpack.Artifact, 0, len(staged))
	payloads := make([][]byte, 0, len(staged))
	for _, item := range staged {
		artifacts = append(artifacts, item.entry)
		payloads = append(payloads, item.data)
	}
	tree, err := merkle.Build(LeavesOf(artifacts))
	if err != nil {
		return Build{}, err
	}

	intentHash, err := jcs.DigestValue(opts.Stages[0].Input)
	if err != nil {
		return Build{}, err
	}
	finalHash, err := finalOutputHash(artifacts, stagesCompleted[len(stagesCompleted)-1])
	if err != nil {
		return Build{}, err
	}

	versions := map[string]string{}
	for key, value := range opts.Versions {
		versions[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	producerVersion := strings.TrimSpace(opts.ProducerVersion)
	if producerVersion == "" {
		producerVersion = defaultProducerVersion
	}

	manifest := schemaproofpack.Manifest{
		SchemaID:        ManifestSchemaID,
		SchemaVersion:   ManifestSchemaVersion,
		ProducerVersion: producerVersion,
		RunID:           runID,
		Seed:            opts.Seed,
		Versions:        versions,
		Artifacts:       artifacts,
		MerkleRoot:      tree.RootHash,
		IntentHash:      intentHash,
		FinalHash:       finalHash,
		Verdict:         verdict,
		StagesCompleted: stagesCompleted,
	}
	digest, err := ComputeManifestDigest(manifest)
	if err != nil {
		return Build{}, err
	}
	manifest.ManifestDigest = digest
	if len(opts.SignKey) > 0 {
		signature, err := sign.SignDigest(opts.SignKey, digest)
		if err != nil {
			return Build{}, err
		}
		manifest.Signatures = []schemaproofpack.Signature{signature}
	}

	manifestBytes, err := jcs.Canonicalize(manifest)
	if err != nil {
		return Build{}, err
	}
	treeBytes, err := jcs.Canonicalize(tree)
	if err != nil {
		return Build{}, err
	}
	return Build{
		Manifest:      manifest,
		Tree:          tree,
		ManifestBytes: manifestBytes,
		TreeBytes:     treeBytes,
		Sidecar:       SidecarContent(jcs.SHA256Hex(manifestBytes)),
		payloads:      payloads,
	}, nil
}

// ComputeManifestDigest hashes the canonical manifest with manifest_digest and
// signatures cleared.
func ComputeManifestDigest(manifest schemaproofpack.Manifest) (string, error) {
	manifest.ManifestDigest = ""
	manifest.Signatures = nil
	return jcs.DigestValue(manifest)
}

// LeavesOf returns the Merkle leaves for artifacts in manifest order.
func LeavesOf(artifacts []schemaproofpack.Artifact) []merkle.Leaf {
	leaves := make([]merkle.Leaf, 0, len(artifacts))
	for _, artifact := range artifacts {
		leaves = append(leaves, merkle.Leaf{Label: artifact.Path, Hash: artifact.SHA256})
	}
	return leaves
}

// ArtifactOrderProblems reports every artifact not listed in (stage, filename)
// order, where stage order is the manifest's stages_completed, and every path
// other than <stage>/<filename>. The Merkle root is only meaningful over that
// order.
func ArtifactOrderProblems(manifest schemaproofpack.Manifest) []string {
	position := make(map[string]int, len(manifest.StagesCompleted))
	for index, stage := range manifest.StagesCompleted {
		position[stage] = index
	}
	total := len(manifest.Artifacts)
	problems := []string{}
	for index, artifact := range manifest.Artifacts {
		if want := artifact.Stage + "/" + artifact.Filename; artifact.Path != want {
			problems = append(problems, fmt.Sprintf("artifact %d/%d path=%s expected=%s", index+1, total, artifact.Path, want))
		}
		current, known := position[artifact.Stage]
		if !known {
			problems = append(problems, fmt.Sprintf("artifact %d/%d stage=%s not in stages_completed", index+1, total, artifact.Stage))
			continue
		}
		if index == 0 {
			continue
		}
		previous := manifest.Artifacts[index-1]
		before, knownBefore := position[previous.Stage]
		if !knownBefore {
			continue
		}
		if before > current || (before == current && previous.Filename >= artifact.Filename) {
			problems = append(problems, fmt.Sprintf("artifact %d/%d %s listed after %s", index+1, total, artifact.Path, previous.Path))
		}
	}
	return problems
}

func SidecarContent(manifestSHA256 string) []byte {
	return []byte(manifestSHA256 + "  " + ManifestFile + "\n")
}

type finalEntry struct {
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"`
}

func finalOutputHash(artifacts []schemaproofpack.Artifact, lastStage string) (string, error) {
	entries := make([]finalEntry, 0)
	for _, artifact := range artifacts {
		if artifact.Stage == lastStage {
			entries = append(entries, finalEntry{Filename: artifact.Filename, SHA256: artifact.SHA256})
		}
	}
	return jcs.DigestValue(entries)
}

type stagedArtifact struct {
	order int
	entry schemaproofpack.Artifact
	data  []byte
}

func indexStages(sequence []string) (map[string]int, error) {
	index := make(map[string]int, len(sequence))
	for position, stage := range sequence {
		stage = strings.TrimSpace(stage)
		if stage == "" {
			return nil, coreerrors.Validation("stage_sequence", "stage names must not be empty")
		}
		if stage == "." || stage == ".." || strings.ContainsAny(stage, `/\`) {
			return nil, coreerrors.Validation("stage_sequence", fmt.Sprintf("stage %q must be a plain directory name", stage))
		}
		if _, exists := index[stage]; exists {
			return nil, coreerrors.Validation("stage_sequence", fmt.Sprintf("duplicate stage %q", stage))
		}
		index[stage] = position
	}
	return index, nil
}

func collectArtifacts(stages []StageOutput, stageIndex map[string]int) ([]stagedArtifact, []string, error) {
	staged := make([]stagedArtifact, 0)
	completed := make([]string, 0, len(stages))
	previous := -1
	for _, stage := range stages {
		stageID := strings.TrimSpace(stage.StageID)
		position, known := stageIndex[stageID]
		if !known {
			return nil, nil, coreerrors.Validation("stages_completed", fmt.Sprintf("stage %q is not in the stage sequence", stageID))
		}
		if position <= previous {
			return nil, nil, coreerrors.Validation("stages_completed", fmt.Sprintf("stage %q is out of order or repeated", stageID))
		}
		previous = position
		completed = append(completed, stageID)

		seen := map[string]struct{}{}
		for _, artifact := range stage.Artifacts {
			filename := strings.TrimSpace(artifact.Filename)
			if err := validateFilename(stageID, filename); err != nil {
				return nil, nil, err
			}
			if _, exists := seen[filename]; exists {
				return nil, nil, coreerrors.Validation("artifacts.filename", fmt.Sprintf("stage %s has duplicate filename %q", stageID, filename))
			}
			seen[filename] = struct{}{}
			staged = append(staged, stagedArtifact{
				order: position,
				entry: schemaproofpack.Artifact{
					Stage:    stageID,
					Filename: filename,
					Path:     stageID + "/" + filename,
					Size:     int64(len(artifact.Data)),
				},
				data: artifact.Data,
			})
		}
	}
	sort.SliceStable(staged, func(i, j int) bool {
		if staged[i].order != staged[j].order {
			return staged[i].order < staged[j].order
		}
		return staged[i].entry.Filename < staged[j].entry.Filename
	})
	return staged, completed, nil
}

func validateFilename(stageID, filename string) error {
	if filename == "" {
		return coreerrors.Validation("artifacts.filename", fmt.Sprintf("stage %s has an artifact without a filename", stageID))
	}
	if filename == "." || filename == ".." || strings.ContainsAny(filename, `/\`) {
		return coreerrors.Validation("artifacts.filename", fmt.Sprintf("stage %s filename %q must be a plain file name", stageID, filename))
	}
	return nil
}

func hashArtifacts(staged []stagedArtifact, workers int) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	var group errgroup.Group
	group.SetLimit(workers)
	for index := range staged {
		item := &staged[index]
		group.Go(func() error {
			item.entry.SHA256 = jcs.SHA256Hex(item.data)
			return nil
		})
	}
	return group.Wait()
}
