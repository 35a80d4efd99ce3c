package certify

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/davidahmann/proofpack/core/jcs"
	"github.com/davidahmann/proofpack/core/merkle"
	"github.com/davidahmann/proofpack/core/proofpack"
	schemacertify "github.com/davidahmann/proofpack/core/schema/v1/certify"
	schemaproofpack "github.com/davidahmann/proofpack/core/schema/v1/proofpack"
)

func checkManifestIntegrity(input evaluation) schemacertify.Check {
	pack := input.pack
	evidence := []string{}
	actual := jcs.SHA256Hex(pack.ManifestBytes)
	switch {
	case pack.SidecarErr != nil && isNotExist(pack.SidecarErr):
		evidence = append(evidence, fmt.Sprintf("%s missing", proofpack.SidecarFile))
	case pack.SidecarErr != nil:
		evidence = append(evidence, fmt.Sprintf("%s unreadable: %v", proofpack.SidecarFile, pack.SidecarErr))
	case pack.Sidecar != actual:
		evidence = append(evidence, fmt.Sprintf("%s sha256 expected=%s actual=%s", proofpack.ManifestFile, pack.Sidecar, actual))
	}

	computed, err := proofpack.ComputeManifestDigest(pack.Manifest)
	switch {
	case err != nil:
		evidence = append(evidence, fmt.Sprintf("manifest_digest not computable: %v", err))
	case computed != pack.Manifest.ManifestDigest:
		evidence = append(evidence, fmt.Sprintf("manifest_digest expected=%s actual=%s", pack.Manifest.ManifestDigest, computed))
	}
	if len(evidence) > 0 {
		return fail("manifest content hash does not verify", evidence)
	}
	return pass("manifest sha256 and manifest_digest verified")
}

func checkArtifactHashes(input evaluation) schemacertify.Check {
	total := len(input.artifacts)
	evidence := []string{}
	for _, check := range input.artifacts {
		switch {
		case check.Missing:
			evidence = append(evidence, fmt.Sprintf("%s missing expected=%s", describeArtifact(check, total), check.Artifact.SHA256))
		case check.Err != nil:
			evidence = append(evidence, fmt.Sprintf("%s unreadable: %v", describeArtifact(check, total), check.Err))
		case check.Actual != check.Artifact.SHA256:
			evidence = append(evidence, fmt.Sprintf("%s expected=%s actual=%s", describeArtifact(check, total), check.Artifact.SHA256, check.Actual))
		}
	}
	if len(evidence) > 0 {
		return fail(fmt.Sprintf("%d of %d artifacts do not match the manifest", len(evidence), total), evidence)
	}
	return pass(fmt.Sprintf("%d artifacts match the manifest", total))
}

func checkMerkleRoot(input evaluation) schemacertify.Check {
	pack := input.pack
	manifest := pack.Manifest
	evidence := proofpack.ArtifactOrderProblems(manifest)

	recomputed, err := merkle.Root(proofpack.LeavesOf(manifest.Artifacts))
	switch {
	case err != nil:
		evidence = append(evidence, fmt.Sprintf("manifest leaves invalid: %v", err))
	case recomputed != manifest.MerkleRoot:
		evidence = append(evidence, fmt.Sprintf("manifest merkle_root expected=%s actual=%s", manifest.MerkleRoot, recomputed))
	}

	switch {
	case pack.TreeErr != nil && isNotExist(pack.TreeErr):
		evidence = append(evidence, fmt.Sprintf("%s missing", proofpack.MerkleTreeFile))
	case pack.TreeErr != nil:
		evidence = append(evidence, fmt.Sprintf("%s unreadable: %v", proofpack.MerkleTreeFile, pack.TreeErr))
	default:
		if pack.Tree.RootHash != manifest.MerkleRoot {
			evidence = append(evidence, fmt.Sprintf("%s root_hash expected=%s actual=%s", proofpack.MerkleTreeFile, manifest.MerkleRoot, pack.Tree.RootHash))
		}
		if err := merkle.VerifyStructure(pack.Tree); err != nil {
			evidence = append(evidence, fmt.Sprintf("%s structure: %v", proofpack.MerkleTreeFile, err))
		}
	}

	onDisk := make([]schemaproofpack.Artifact, 0, len(input.artifacts))
	unreadable := 0
	for _, check := range input.artifacts {
		if check.Missing || check.Err != nil {
			unreadable++
			continue
		}
		artifact := check.Artifact
		artifact.SHA256 = check.Actual
		onDisk = append(onDisk, artifact)
	}
	if unreadable > 0 {
		evidence = append(evidence, fmt.Sprintf("on-disk root unavailable: %d artifacts unreadable", unreadable))
	} else if diskRoot, err := merkle.Root(proofpack.LeavesOf(onDisk)); err == nil && diskRoot != manifest.MerkleRoot {
		evidence = append(evidence, fmt.Sprintf("on-disk merkle_root expected=%s actual=%s", manifest.MerkleRoot, diskRoot))
	}

	if len(evidence) > 0 {
		return fail("merkle root does not recompute", evidence)
	}
	return pass("merkle root recomputes from manifest, tree, and disk")
}

func checkStageCompleteness(input evaluation) schemacertify.Check {
	manifest := input.pack.Manifest
	sequence := input.thresholds.StageSequence
	position := make(map[string]int, len(sequence))
	for index, stage := range sequence {
		position[stage] = index
	}

	failures := []string{}
	completed := map[string]struct{}{}
	last := -1
	for _, stage := range manifest.StagesCompleted {
		index, ok := position[stage]
		if !ok {
			failures = append(failures, "stage "+stage+" is not in the stage sequence")
			continue
		}
		if index <= last {
			failures = append(failures, "stage "+stage+" is out of order")
		}
		last = max(last, index)
		completed[stage] = struct{}{}
	}
	for _, stage := range input.thresholds.RequiredStages {
		if _, ok := completed[stage]; !ok {
			failures = append(failures, "required stage "+stage+" not completed")
		}
	}
	withArtifacts := map[string]struct{}{}
	for _, artifact := range manifest.Artifacts {
		withArtifacts[artifact.Stage] = struct{}{}
		if _, ok := completed[artifact.Stage]; !ok {
			failures = append(failures, fmt.Sprintf("artifact %s belongs to stage %s which is not completed", artifact.Path, artifact.Stage))
		}
	}
	if len(failures) > 0 {
		return fail("stage sequence is incomplete or out of order", failures)
	}

	warnings := []string{}
	required := make(map[string]struct{}, len(input.thresholds.RequiredStages))
	for _, stage := range input.thresholds.RequiredStages {
		required[stage] = struct{}{}
	}
	for _, stage := range sequence {
		_, done := completed[stage]
		_, isRequired := required[stage]
		if !done && !isRequired {
			warnings = append(warnings, "optional stage "+stage+" not completed")
		}
		if _, ok := withArtifacts[stage]; done && !ok {
			warnings = append(warnings, "stage "+stage+" completed without artifacts")
		}
	}
	if len(warnings) > 0 {
		return warn(fmt.Sprintf("%d of %d stages completed", len(completed), len(sequence)), warnings)
	}
	return pass(fmt.Sprintf("%d of %d stages completed", len(completed), len(sequence)))
}

func checkRequiredReports(input evaluation) schemacertify.Check {
	reports := input.thresholds.RequiredReports
	if len(reports) == 0 {
		return pass("no required reports configured")
	}
	byPath := make(map[string]proofpack.ArtifactCheck, len(input.artifacts))
	for _, check := range input.artifacts {
		byPath[check.Artifact.Path] = check
	}
	evidence := []string{}
	for _, report := range reports {
		check, ok := byPath[report]
		switch {
		case !ok:
			evidence = append(evidence, "report "+report+" not recorded in manifest")
		case check.Missing:
			evidence = append(evidence, "report "+report+" missing from stage "+check.Artifact.Stage)
		case check.Err != nil:
			evidence = append(evidence, fmt.Sprintf("report %s unreadable: %v", report, check.Err))
		}
	}
	if len(evidence) > 0 {
		return fail(fmt.Sprintf("%d of %d required reports absent", len(evidence), len(reports)), evidence)
	}
	return pass(fmt.Sprintf("%d required reports present", len(reports)))
}

func checkScoreThresholds(input evaluation) schemacertify.Check {
	keys := make([]string, 0, len(input.thresholds.MinScores))
	for key := range input.thresholds.MinScores {
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return pass("no score thresholds configured")
	}
	sort.Strings(keys)

	failures := []string{}
	unavailable := []string{}
	for _, key := range keys {
		minimum := input.thresholds.MinScores[key]
		value, err := input.pack.Score(key)
		if err != nil {
			unavailable = append(unavailable, fmt.Sprintf("%s unavailable: %v", key, err))
			continue
		}
		if value < minimum {
			failures = append(failures, fmt.Sprintf("%s=%s below min=%s", key, formatFloat(value), formatFloat(minimum)))
		}
	}

	switch {
	case len(failures) > 0:
		return fail(fmt.Sprintf("%d of %d scores below threshold", len(failures), len(keys)), append(failures, unavailable...))
	case len(unavailable) > 0 && !input.thresholds.WarnOnMissingScores:
		return fail(fmt.Sprintf("%d of %d scores unavailable", len(unavailable), len(keys)), unavailable)
	case len(unavailable) > 0:
		return warn(fmt.Sprintf("%d of %d scores unavailable", len(unavailable), len(keys)), unavailable)
	}
	return pass(fmt.Sprintf("%d scores meet thresholds", len(keys)))
}

func checkTerminalVerdict(input evaluation) schemacertify.Check {
	expected := input.thresholds.ExpectedVerdict
	actual := strings.TrimSpace(input.pack.Manifest.Verdict)
	if actual != expected {
		return fail("terminal verdict mismatch", []string{fmt.Sprintf("verdict expected=%s actual=%s", expected, actual)})
	}
	return pass("terminal verdict is " + actual)
}

func checkArtifactCount(input evaluation) schemacertify.Check {
	count := len(input.pack.Manifest.Artifacts)
	minimum := input.thresholds.MinArtifacts
	maximum := input.thresholds.MaxArtifacts
	if count < minimum || count > maximum {
		return fail("artifact count out of bounds", []string{fmt.Sprintf("artifacts=%d min=%d max=%d", count, minimum, maximum)})
	}
	return pass(fmt.Sprintf("%d artifacts within [%d,%d]", count, minimum, maximum))
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
