package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/davidahmann/proofpack/core/proofpack"
	"github.com/davidahmann/proofpack/core/replay"
	schemaledger "github.com/davidahmann/proofpack/core/schema/v1/ledger"
	schemareplay "github.com/davidahmann/proofpack/core/schema/v1/replay"
)

type compareDirsOutput struct {
	Identical   bool          `json:"identical"`
	Differences []replay.Diff `json:"differences"`
}

type compareRunsOutput struct {
	schemareplay.Result
	LedgerEventID string `json:"ledger_event_id,omitempty"`
}

func newCompareCmd(application *app) *cobra.Command {
	var seed int64
	var dirsOnly bool
	var raw bool
	var exclude []string
	var ledgerPath string
	var workers int

	cmd := &cobra.Command{
		Use:   "compare <baseline> <replay>",
		Short: "Prove a replay reproduces a run, or locate where it diverged",
		Long: `Compare two run directories. When both hold a manifest the run identity
(run_id, manifest digest, signatures) is ignored and seeds, Merkle roots and
every artifact must match. Otherwise, or with --dirs, the two trees are diffed
file by file. Exits 6 when the two sides are not identical.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			configuration, err := application.config()
			if err != nil {
				return application.failure(err)
			}
			workerCount := workersOr(workers, configuration.Output.Workers)
			left, right := args[0], args[1]
			bothRuns := fileExists(filepath.Join(left, proofpack.ManifestFile)) && fileExists(filepath.Join(right, proofpack.ManifestFile))

			if dirsOnly || !bothRuns {
				opts := replay.Options{Exclude: exclude, Workers: workerCount}
				if raw {
					opts.Normalizer = replay.RawNormalizer{}
				}
				diffs, err := replay.CompareDirectories(left, right, opts)
				if err != nil {
					return application.failure(err)
				}
				output := compareDirsOutput{Identical: len(diffs) == 0, Differences: diffs}
				lines := []string{fmt.Sprintf("compare %s %s: identical=%t differences=%d", left, right, output.Identical, len(diffs))}
				lines = append(lines, diffLines(diffs)...)
				exitCode := exitOK
				if !output.Identical {
					exitCode = exitDriftDetected
				}
				return application.report(output, lines, exitCode)
			}

			runOpts := replay.RunOptions{Workers: workerCount, Now: application.now}
			if cmd.Flags().Changed("seed") {
				runOpts.Seed = &seed
			}
			result, err := replay.CompareRuns(left, right, runOpts)
			if err != nil {
				return application.failure(err)
			}
			events, err := application.openLedger(ledgerPath)
			if err != nil {
				return application.failure(err)
			}
			output := compareRunsOutput{Result: result}
			output.LedgerEventID, err = application.recordEvent(events, result.ReplayRunID, schemaledger.KindReplayCompare, "", result,
				map[string]any{"baseline_run_id": result.BaselineRunID, "identical": result.Identical})
			if err != nil {
				return application.failure(err)
			}
			lines := []string{
				fmt.Sprintf("compare %s -> %s: identical=%t", result.BaselineRunID, result.ReplayRunID, result.Identical),
				fmt.Sprintf("manifest_match=%t merkle_match=%t seed_match=%t duration_ms=%d", result.ManifestMatch, result.MerkleMatch, result.SeedMatch, result.DurationMS),
			}
			lines = append(lines, diffLines(result.Differences)...)
			exitCode := exitOK
			if !result.Identical {
				exitCode = exitDriftDetected
			}
			return application.report(output, lines, exitCode)
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "require both runs to have recorded this seed")
	cmd.Flags().BoolVar(&dirsOnly, "dirs", false, "diff the trees file by file even when both hold manifests")
	cmd.Flags().BoolVar(&raw, "raw", false, "compare bytes as written, without CRLF normalization")
	cmd.Flags().StringArrayVar(&exclude, "exclude", nil, "relative path to leave out of a --dirs diff, repeatable")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "ledger NDJSON path to record a replay.compare event")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel hashing workers (default NumCPU)")
	return cmd
}

func diffLines(diffs []replay.Diff) []string {
	lines := make([]string, 0, len(diffs))
	for _, diff := range diffs {
		lines = append(lines, fmt.Sprintf("  %-19s %s", diff.Status, diff.Path))
	}
	return lines
}
