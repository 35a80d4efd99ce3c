package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidahmann/proofpack/core/ledger"
	"github.com/davidahmann/proofpack/core/proofpack"
)

func newVerifyCmd(application *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a proofpack or a ledger chain",
	}
	cmd.AddCommand(newVerifyRunCmd(application), newVerifyLedgerCmd(application))
	return cmd
}

func newVerifyRunCmd(application *app) *cobra.Command {
	var keyPath string
	var keyEnv string
	var requireSignature bool
	var workers int

	cmd := &cobra.Command{
		Use:   "run <run-dir>",
		Short: "Recompute every artifact hash, the Merkle root and the manifest digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configuration, err := application.config()
			if err != nil {
				return application.failure(err)
			}
			publicKey, err := loadPublicKey(keyPath, keyEnv, configuration.Signing.PublicKey, configuration.Signing.PublicKeyEnv)
			if err != nil {
				return application.failure(err)
			}
			result, err := proofpack.Verify(args[0], proofpack.VerifyOptions{
				PublicKey:        publicKey,
				RequireSignature: requireSignature,
				Workers:          workersOr(workers, configuration.Output.Workers),
			})
			if err != nil {
				return application.failure(err)
			}

			status := "ok"
			exitCode := exitOK
			if !result.OK() {
				status = "failed"
				exitCode = exitInvariantBreach
			}
			lines := []string{
				fmt.Sprintf("verify %s: %s", result.RunID, status),
				fmt.Sprintf("files_checked: %d", result.FilesChecked),
				fmt.Sprintf("merkle_root_match=%t manifest_digest_match=%t sidecar_match=%t signature=%s",
					result.MerkleRootMatch, result.ManifestDigestMatch, result.SidecarMatch, result.SignatureStatus),
			}
			for _, missing := range result.MissingFiles {
				lines = append(lines, "missing: "+missing)
			}
			for _, mismatch := range result.HashMismatches {
				lines = append(lines, fmt.Sprintf("hash_mismatch: %s expected=%s actual=%s", mismatch.Path, mismatch.Expected, mismatch.Actual))
			}
			for _, message := range append(append([]string{}, result.Errors...), result.SignatureErrors...) {
				lines = append(lines, "error: "+message)
			}
			return application.report(result, lines, exitCode)
		},
	}
	cmd.Flags().StringVar(&keyPath, "public-key", "", "path to base64 ed25519 public (or private) key")
	cmd.Flags().StringVar(&keyEnv, "public-key-env", "", "env var holding a base64 ed25519 public key")
	cmd.Flags().BoolVar(&requireSignature, "require-signature", false, "fail when the manifest carries no verified signature")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel hashing workers (default NumCPU)")
	return cmd
}

func newVerifyLedgerCmd(application *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger [path]",
		Short: "Walk the ledger from genesis and report the first broken link",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configuration, err := application.config()
			if err != nil {
				return application.failure(err)
			}
			path := configuration.Ledger.Path
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return application.failure(usageError("ledger path is required (argument or ledger.path in config)"))
			}
			events, err := ledger.Open(path, ledger.Options{})
			if err != nil {
				return application.failure(err)
			}
			result := events.VerifyChain()
			if !result.Valid {
				return application.report(result, []string{
					fmt.Sprintf("ledger %s: broken at index %d", path, *result.BrokenAt),
					"reason: " + result.Reason,
				}, exitInvariantBreach)
			}
			return application.report(result, []string{
				fmt.Sprintf("ledger %s: valid events=%d", path, result.Events),
				"head: " + result.Head,
			}, exitOK)
		},
	}
}
