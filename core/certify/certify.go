// Package certify evaluates a fixed, ordered battery of checks against a
// proofpack. Business-rule failures are FAIL checks in the verdict; only a pack
// that cannot be opened is an error.
package certify

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/davidahmann/proofpack/core/proofpack"
	schemacertify "github.com/davidahmann/proofpack/core/schema/v1/certify"
)

const (
	VerdictSchemaID      = "proofpack.certify_verdict"
	VerdictSchemaVersion = "1.0.0"

	CheckManifestIntegrity = "manifest_integrity"
	CheckArtifactHashes    = "artifact_hashes"
	CheckMerkleRoot        = "merkle_root"
	CheckStageCompleteness = "stage_completeness"
	CheckRequiredReports   = "required_reports"
	CheckScoreThresholds   = "score_thresholds"
	CheckTerminalVerdict   = "terminal_verdict"
	CheckArtifactCount     = "artifact_count"
)

type Verdict = schemacertify.Verdict

type Options struct {
	Workers int
}

// evaluation is the shared, read-only input every check sees.
type evaluation struct {
	pack       proofpack.Pack
	thresholds Thresholds
	artifacts  []proofpack.ArtifactCheck
}

type checkFunc func(evaluation) schemacertify.Check

var battery = []struct {
	id  string
	run checkFunc
}{
	{id: CheckManifestIntegrity, run: checkManifestIntegrity},
	{id: CheckArtifactHashes, run: checkArtifactHashes},
	{id: CheckMerkleRoot, run: checkMerkleRoot},
	{id: CheckStageCompleteness, run: checkStageCompleteness},
	{id: CheckRequiredReports, run: checkRequiredReports},
	{id: CheckScoreThresholds, run: checkScoreThresholds},
	{id: CheckTerminalVerdict, run: checkTerminalVerdict},
	{id: CheckArtifactCount, run: checkArtifactCount},
}

// CheckIDs lists the battery in evaluation order.
func CheckIDs() []string {
	ids := make([]string, 0, len(battery))
	for _, entry := range battery {
		ids = append(ids, entry.id)
	}
	return ids
}

// CertifyDir opens the run directory and certifies it.
func CertifyDir(dir string, thresholds Thresholds, opts Options) (Verdict, error) {
	pack, err := proofpack.Open(dir)
	if err != nil {
		return Verdict{}, err
	}
	return Certify(pack, thresholds, opts)
}

// Certify runs every check regardless of earlier failures. The overall verdict
// is FAIL iff at least one check failed; WARN never blocks.
func Certify(pack proofpack.Pack, thresholds Thresholds, opts Options) (Verdict, error) {
	normalized, err := Normalize(thresholds)
	if err != nil {
		return Verdict{}, err
	}
	thresholdsDigest, err := normalized.Digest()
	if err != nil {
		return Verdict{}, err
	}
	input := evaluation{
		pack:       pack,
		thresholds: normalized,
		artifacts:  proofpack.CheckArtifacts(pack, opts.Workers),
	}

	checks := make([]schemacertify.Check, len(battery))
	var group errgroup.Group
	for index, entry := range battery {
		group.Go(func() error {
			check := entry.run(input)
			check.ID = entry.id
			checks[index] = check
			return nil
		})
	}
	_ = group.Wait()

	verdict := Verdict{
		SchemaID:         VerdictSchemaID,
		SchemaVersion:    VerdictSchemaVersion,
		RunID:            pack.Manifest.RunID,
		ManifestDigest:   pack.Manifest.ManifestDigest,
		ThresholdsDigest: thresholdsDigest,
		Checks:           checks,
		OverallVerdict:   schemacertify.StatusPass,
	}
	for _, check := range checks {
		switch check.Status {
		case schemacertify.StatusWarn:
			verdict.Warnings++
		case schemacertify.StatusFail:
			verdict.Failures++
			verdict.OverallVerdict = schemacertify.StatusFail
		}
	}
	return verdict, nil
}

// FailedChecks returns the ids of failed checks in battery order.
func FailedChecks(verdict Verdict) []string {
	failed := []string{}
	for _, check := range verdict.Checks {
		if check.Status == schemacertify.StatusFail {
			failed = append(failed, check.ID)
		}
	}
	return failed
}

func pass(message string) schemacertify.Check {
	return schemacertify.Check{Status: schemacertify.StatusPass, Message: message}
}

func fail(message string, evidence []string) schemacertify.Check {
	return schemacertify.Check{Status: schemacertify.StatusFail, Message: message, Evidence: evidence}
}

func warn(message string, evidence []string) schemacertify.Check {
	return schemacertify.Check{Status: schemacertify.StatusWarn, Message: message, Evidence: evidence}
}

func describeArtifact(check proofpack.ArtifactCheck, total int) string {
	return fmt.Sprintf("artifact %d/%d stage=%s file=%s", check.Ordinal, total, check.Artifact.Stage, check.Artifact.Filename)
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
