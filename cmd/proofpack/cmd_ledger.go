package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/fsx"
	"github.com/davidahmann/proofpack/core/ledger"
	"github.com/davidahmann/proofpack/core/proofpack"
	schemaledger "github.com/davidahmann/proofpack/core/schema/v1/ledger"
)

func newLedgerCmd(application *app) *cobra.Command {
	var ledgerPath string
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Append to, export and bundle the hash-chained event ledger",
	}
	cmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "ledger NDJSON path (overrides config)")
	cmd.AddCommand(
		newLedgerAppendCmd(application, &ledgerPath),
		newLedgerExportCmd(application, &ledgerPath),
		newLedgerBundleCmd(application, &ledgerPath),
	)
	return cmd
}

// requireLedger opens the ledger and fails when none is configured.
func (a *app) requireLedger(pathFlag string) (*ledger.Ledger, error) {
	events, err := a.openLedger(pathFlag)
	if err != nil {
		return nil, err
	}
	if events == nil {
		return nil, usageError("--ledger is required (or ledger.path in config)")
	}
	return events, nil
}

func newLedgerAppendCmd(application *app, ledgerPath *string) *cobra.Command {
	var kind string
	var runID string
	var actorID string
	var requestID string
	var inputHash string
	var outputHash string
	var meta []string

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Chain one event onto the ledger head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eventKind, err := ledger.ParseKind(kind)
			if err != nil {
				return application.failure(err)
			}
			metadata, err := parseAssignments("meta", meta)
			if err != nil {
				return application.failure(err)
			}
			events, err := application.requireLedger(*ledgerPath)
			if err != nil {
				return application.failure(err)
			}
			eventMeta := make(map[string]any, len(metadata))
			for key, value := range metadata {
				eventMeta[key] = value
			}
			event, err := events.Append(ledger.AppendOptions{
				RunID:      runID,
				Kind:       eventKind,
				ActorID:    firstNonEmpty(actorID, cliActorID),
				RequestID:  requestID,
				InputHash:  inputHash,
				OutputHash: outputHash,
				Meta:       eventMeta,
			})
			if err != nil {
				return application.failure(err)
			}
			return application.report(event, []string{
				fmt.Sprintf("ledger append %s kind=%s", event.EventID, event.Kind),
				"event_hash: " + event.EventHash,
				"prev_hash: " + event.PrevHash,
			}, exitOK)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "event kind, e.g. operation.start")
	cmd.Flags().StringVar(&runID, "run-id", "", "run the event belongs to")
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (default proofpack.cli)")
	cmd.Flags().StringVar(&requestID, "request-id", "", "caller correlation id")
	cmd.Flags().StringVar(&inputHash, "input-hash", "", "sha256 of the operation input")
	cmd.Flags().StringVar(&outputHash, "output-hash", "", "sha256 of the operation output")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata key=value, repeatable")
	return cmd
}

func newLedgerExportCmd(application *app, ledgerPath *string) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every event as canonical NDJSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := application.requireLedger(*ledgerPath)
			if err != nil {
				return application.failure(err)
			}
			var buffer bytes.Buffer
			if err := events.ExportNDJSON(&buffer); err != nil {
				return application.failure(err)
			}
			if outPath == "" {
				_, _ = application.stdout.Write(buffer.Bytes())
				application.exitCode = exitOK
				return nil
			}
			if err := fsx.WriteFileAtomic(outPath, buffer.Bytes(), 0o644); err != nil {
				return application.failure(err)
			}
			return application.report(map[string]any{"path": outPath, "events": events.Len()}, []string{
				fmt.Sprintf("ledger export: %d events written to %s", events.Len(), outPath),
			}, exitOK)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write NDJSON to this file instead of stdout")
	return cmd
}

func newLedgerBundleCmd(application *app, ledgerPath *string) *cobra.Command {
	var runID string
	var runDirs []string
	var outPath string

	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Export a run's events with manifest digests and verification reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(runID) == "" {
				return application.failure(usageError("--run-id is required"))
			}
			events, err := application.requireLedger(*ledgerPath)
			if err != nil {
				return application.failure(err)
			}
			manifests := make([]schemaledger.ManifestDigest, 0, len(runDirs))
			reports := make([]schemaledger.ValidationReport, 0, len(runDirs))
			for _, dir := range runDirs {
				result, err := proofpack.Verify(dir, proofpack.VerifyOptions{})
				if err != nil {
					return application.failure(err)
				}
				manifest, err := proofpack.ReadManifest(dir)
				if err != nil {
					return application.failure(err)
				}
				manifests = append(manifests, schemaledger.ManifestDigest{
					RunID:          manifest.RunID,
					ManifestDigest: manifest.ManifestDigest,
					MerkleRoot:     manifest.MerkleRoot,
				})
				reports = append(reports, verifyReport(filepath.ToSlash(dir), result))
			}
			bundle, err := events.ExportProofBundle(runID, manifests, reports)
			if err != nil {
				return application.failure(err)
			}
			if outPath != "" {
				encoded, err := json.MarshalIndent(bundle, "", "  ")
				if err != nil {
					return application.failure(coreerrors.Serialization(err))
				}
				if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
					return application.failure(coreerrors.IOError(err, "create bundle directory"))
				}
				if err := fsx.WriteFileAtomic(outPath, append(encoded, '\n'), 0o644); err != nil {
					return application.failure(err)
				}
			}
			exitCode := exitOK
			if !bundle.ChainValid {
				application.log().Warnf("ledger chain does not verify; bundle marks chain_valid=false")
				exitCode = exitInvariantBreach
			}
			return application.report(bundle, []string{
				fmt.Sprintf("ledger bundle %s: events=%d manifests=%d chain_valid=%t", bundle.RunID, len(bundle.Events), len(bundle.Manifests), bundle.ChainValid),
				"bundle_digest: " + bundle.BundleDigest,
			}, exitCode)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run whose events are bundled")
	cmd.Flags().StringArrayVar(&runDirs, "run-dir", nil, "run directory to verify and include, repeatable")
	cmd.Flags().StringVar(&outPath, "out", "", "also write the bundle JSON to this file")
	return cmd
}

func verifyReport(subject string, result proofpack.VerifyResult) schemaledger.ValidationReport {
	report := schemaledger.ValidationReport{
		ReportID: "verify." + result.RunID,
		Subject:  subject,
		Status:   "pass",
	}
	if result.OK() {
		return report
	}
	report.Status = "fail"
	report.Findings = append(report.Findings, result.MissingFiles...)
	for _, mismatch := range result.HashMismatches {
		report.Findings = append(report.Findings, fmt.Sprintf("%s expected=%s actual=%s", mismatch.Path, mismatch.Expected, mismatch.Actual))
	}
	report.Findings = append(report.Findings, result.Errors...)
	report.Findings = append(report.Findings, result.SignatureErrors...)
	return report
}
