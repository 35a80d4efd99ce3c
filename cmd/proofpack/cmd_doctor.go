package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidahmann/proofpack/core/doctor"
)

func newDoctorCmd(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the workspace, ledger, keys and configured inputs",
		Long: `Inspect the configured output directory, ledger chain, history backend,
thresholds, drift baseline and signing keys. Exits 5 when a problem cannot be
fixed in place (a broken ledger chain) and 3 for any other failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configuration, err := application.config()
			if err != nil {
				return application.failure(err)
			}
			result := doctor.Run(doctor.Options{
				OutputDir:       firstNonEmpty(configuration.Output.OutDir, defaultOutDir),
				LedgerPath:      configuration.Ledger.Path,
				HistoryBackend:  configuration.History.Backend,
				HistoryPath:     configuration.History.Path,
				HistoryDSNEnv:   configuration.History.DSNEnv,
				ThresholdsPath:  configuration.Certify.Thresholds,
				BaselinePath:    configuration.Drift.Baseline,
				PrivateKey:      keySource("", "", configuration.Signing.PrivateKey, configuration.Signing.PrivateKeyEnv),
				PublicKey:       keySource("", "", configuration.Signing.PublicKey, configuration.Signing.PublicKeyEnv),
				ProducerVersion: version,
				Now:             application.now,
			})

			lines := []string{result.Summary}
			for _, check := range result.Checks {
				lines = append(lines, fmt.Sprintf("  %-16s %-4s %s", check.Name, check.Status, check.Message))
			}
			for _, fix := range result.FixCommands {
				lines = append(lines, "fix: "+fix)
			}
			exitCode := exitOK
			switch {
			case result.NonFixable:
				exitCode = exitInvariantBreach
			case result.Failed():
				exitCode = exitIOFailure
			}
			return application.report(result, lines, exitCode)
		},
	}
}
