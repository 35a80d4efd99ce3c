package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidahmann/proofpack/core/certify"
	"github.com/davidahmann/proofpack/core/history"
	schemacertify "github.com/davidahmann/proofpack/core/schema/v1/certify"
	schemaledger "github.com/davidahmann/proofpack/core/schema/v1/ledger"
)

type certifyOutput struct {
	certify.Verdict
	HistoryEntryID string `json:"history_entry_id,omitempty"`
	LedgerEventID  string `json:"ledger_event_id,omitempty"`
}

func newCertifyCmd(application *app) *cobra.Command {
	var thresholdsPath string
	var historyPath string
	var ledgerPath string
	var workers int

	cmd := &cobra.Command{
		Use:   "certify <run-dir>",
		Short: "Run the certification battery against a proofpack",
		Long: `Run every check (manifest integrity, artifact hashes, merkle root, stage
completeness, required reports, score thresholds, terminal verdict, artifact
count) and aggregate them into a PASS or FAIL verdict. Exits 7 on FAIL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configuration, err := application.config()
			if err != nil {
				return application.failure(err)
			}
			thresholds, err := resolveThresholds(thresholdsPath, configuration.Certify.Thresholds, configuration.Stages.Sequence)
			if err != nil {
				return application.failure(err)
			}
			store, closeStore, err := application.openHistory(cmd.Context(), historyPath, false)
			if err != nil {
				return application.failure(err)
			}
			defer closeStore()
			events, err := application.openLedger(ledgerPath)
			if err != nil {
				return application.failure(err)
			}

			verdict, err := certify.CertifyDir(args[0], thresholds, certify.Options{Workers: workersOr(workers, configuration.Output.Workers)})
			if err != nil {
				return application.failure(err)
			}
			output := certifyOutput{Verdict: verdict}
			if store != nil {
				entry := history.EntryFromVerdict(verdict, application.now())
				if err := store.Record(cmd.Context(), entry); err != nil {
					return application.failure(err)
				}
				output.HistoryEntryID = entry.EntryID
			}
			output.LedgerEventID, err = application.recordEvent(events, verdict.RunID, schemaledger.KindCertifyVerdict, verdict.ManifestDigest, verdict,
				map[string]any{"overall_verdict": string(verdict.OverallVerdict), "failures": verdict.Failures, "warnings": verdict.Warnings})
			if err != nil {
				return application.failure(err)
			}

			lines := []string{fmt.Sprintf("certify %s: %s failures=%d warnings=%d", verdict.RunID, verdict.OverallVerdict, verdict.Failures, verdict.Warnings)}
			for _, check := range verdict.Checks {
				lines = append(lines, fmt.Sprintf("  %-18s %-4s %s", check.ID, check.Status, check.Message))
				for _, evidence := range check.Evidence {
					lines = append(lines, "    - "+evidence)
				}
			}
			exitCode := exitOK
			if verdict.OverallVerdict == schemacertify.StatusFail {
				exitCode = exitCertifyFailed
			}
			return application.report(output, lines, exitCode)
		},
	}
	cmd.Flags().StringVar(&thresholdsPath, "thresholds", "", "thresholds YAML path (overrides config)")
	cmd.Flags().StringVar(&historyPath, "history", "", "history NDJSON path to record the verdict")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "ledger NDJSON path to record a certify.verdict event")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel hashing workers (default NumCPU)")
	return cmd
}

// resolveThresholds loads the flag path, then the configured path, else the
// defaults over the configured stage sequence.
func resolveThresholds(pathFlag, configured string, stageSequence []string) (certify.Thresholds, error) {
	if path := firstNonEmpty(pathFlag, configured); path != "" {
		return certify.LoadThresholds(strings.TrimSpace(path))
	}
	return certify.Normalize(certify.Thresholds{StageSequence: stageSequence})
}
