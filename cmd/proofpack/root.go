package main

import (
	"github.com/spf13/cobra"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/jcs"
	"github.com/davidahmann/proofpack/core/ledger"
	schemaledger "github.com/davidahmann/proofpack/core/schema/v1/ledger"
)

const cliActorID = "proofpack.cli"

func newRootCmd(application *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "proofpack",
		Short: "Deterministic evidence and certification for pipeline runs",
		Long: `proofpack turns per-stage pipeline outputs into Merkle-rooted, hash-verifiable
run evidence, keeps a tamper-evident ledger, certifies runs against data-driven
thresholds, scores drift against a certified baseline and proves replays match.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.SetVersionTemplate("proofpack {{.Version}}\n")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&application.jsonOutput, "json", false, "emit JSON output")
	flags.BoolVar(&application.verbose, "verbose", false, "print debug diagnostics to stderr")
	flags.StringVar(&application.configPath, "config", application.configPath, "project config path")

	rootCmd.AddCommand(
		newBuildCmd(application),
		newVerifyCmd(application),
		newCertifyCmd(application),
		newDriftCmd(application),
		newCompareCmd(application),
		newHistoryCmd(application),
		newLedgerCmd(application),
		newKeygenCmd(application),
		newDoctorCmd(application),
		newVersionCmd(application),
	)
	return rootCmd
}

func newVersionCmd(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return application.report(map[string]string{"version": version}, []string{"proofpack " + version}, exitOK)
		},
	}
}

// openLedger opens the ledger at the flag path, then the configured path. A nil
// ledger means none is configured.
func (a *app) openLedger(pathFlag string) (*ledger.Ledger, error) {
	configuration, err := a.config()
	if err != nil {
		return nil, err
	}
	path := firstNonEmpty(pathFlag, configuration.Ledger.Path)
	if path == "" {
		return nil, nil
	}
	a.log().Debugf("ledger path=%s", path)
	return ledger.Open(path, ledger.Options{Now: a.now})
}

// recordEvent appends one CLI event; output is hashed as canonical JSON.
func (a *app) recordEvent(events *ledger.Ledger, runID string, kind schemaledger.EventKind, inputHash string, output any, meta map[string]any) (string, error) {
	if events == nil {
		return "", nil
	}
	outputHash := ""
	if output != nil {
		digest, err := jcs.DigestValue(output)
		if err != nil {
			return "", err
		}
		outputHash = digest
	}
	if inputHash != "" && !jcs.IsDigest(inputHash) {
		return "", coreerrors.Validation("input_hash", "must be a sha256 digest")
	}
	event, err := events.Append(ledger.AppendOptions{
		RunID:      runID,
		Kind:       kind,
		ActorID:    cliActorID,
		InputHash:  inputHash,
		OutputHash: outputHash,
		Meta:       meta,
	})
	if err != nil {
		return "", err
	}
	a.log().Debugf("ledger event=%s kind=%s hash=%s", event.EventID, event.Kind, event.EventHash)
	return event.EventID, nil
}
