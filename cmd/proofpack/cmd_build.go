package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/proofpack"
	schemaledger "github.com/davidahmann/proofpack/core/schema/v1/ledger"
	"github.com/davidahmann/proofpack/core/sign"
)

const defaultOutDir = "proofpack-out"

// buildSpec describes one run. Artifact paths are relative to the build spec file.
type buildSpec struct {
	RunID         string            `yaml:"run_id"`
	Seed          int64             `yaml:"seed"`
	Verdict       string            `yaml:"verdict"`
	Versions      map[string]string `yaml:"versions"`
	StageSequence []string          `yaml:"stage_sequence"`
	Stages        []buildStage      `yaml:"stages"`
}

type buildStage struct {
	Stage     string          `yaml:"stage"`
	Input     any             `yaml:"input"`
	Artifacts []buildArtifact `yaml:"artifacts"`
}

type buildArtifact struct {
	Filename string `yaml:"filename"`
	Path     string `yaml:"path"`
}

type buildOutput struct {
	RunID          string `json:"run_id"`
	Dir            string `json:"dir"`
	ManifestDigest string `json:"manifest_digest"`
	MerkleRoot     string `json:"merkle_root"`
	Artifacts      int    `json:"artifacts"`
	Signed         bool   `json:"signed"`
	LedgerEventID  string `json:"ledger_event_id,omitempty"`
}

func newBuildCmd(application *app) *cobra.Command {
	var outDir string
	var runID string
	var keyPath string
	var keyEnv string
	var ledgerPath string
	var workers int

	cmd := &cobra.Command{
		Use:   "build <spec.yaml>",
		Short: "Assemble stage artifacts into an immutable proofpack",
		Long: `Read a run spec (YAML or JSON) listing each stage's artifacts, hash them,
build the Merkle tree and manifest, and write <out>/runs/<run_id>/.
An existing run directory is never overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configuration, err := application.config()
			if err != nil {
				return application.failure(err)
			}
			opts, err := loadBuildSpec(args[0])
			if err != nil {
				return application.failure(err)
			}
			if runID != "" {
				opts.RunID = runID
			}
			if len(opts.StageSequence) == 0 {
				opts.StageSequence = configuration.Stages.Sequence
			}
			opts.ProducerVersion = version
			opts.Workers = workersOr(workers, configuration.Output.Workers)
			source := keySource(keyPath, keyEnv, configuration.Signing.PrivateKey, configuration.Signing.PrivateKeyEnv)
			if !source.IsZero() {
				key, err := sign.LoadPrivateKey(source)
				if err != nil {
					return application.failure(err)
				}
				opts.SignKey = key
			}

			events, err := application.openLedger(ledgerPath)
			if err != nil {
				return application.failure(err)
			}
			written, err := proofpack.Write(firstNonEmpty(outDir, configuration.Output.OutDir, defaultOutDir), opts)
			if err != nil {
				return application.failure(err)
			}
			manifest := written.Build.Manifest
			output := buildOutput{
				RunID:          manifest.RunID,
				Dir:            written.Dir,
				ManifestDigest: manifest.ManifestDigest,
				MerkleRoot:     manifest.MerkleRoot,
				Artifacts:      len(manifest.Artifacts),
				Signed:         len(manifest.Signatures) > 0,
			}
			output.LedgerEventID, err = application.recordEvent(events, manifest.RunID, schemaledger.KindProofPackWrite, manifest.IntentHash,
				map[string]string{"manifest_digest": manifest.ManifestDigest, "merkle_root": manifest.MerkleRoot},
				map[string]any{"artifacts": len(manifest.Artifacts), "dir": filepath.ToSlash(written.Dir)})
			if err != nil {
				return application.failure(err)
			}
			return application.report(output, []string{
				fmt.Sprintf("proofpack build: run=%s artifacts=%d", output.RunID, output.Artifacts),
				"dir: " + output.Dir,
				"manifest_digest: " + output.ManifestDigest,
				"merkle_root: " + output.MerkleRoot,
			}, exitOK)
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default from config or ./proofpack-out)")
	cmd.Flags().StringVar(&runID, "run-id", "", "override the run_id from the build spec")
	cmd.Flags().StringVar(&keyPath, "sign-key", "", "path to base64 ed25519 private key")
	cmd.Flags().StringVar(&keyEnv, "sign-key-env", "", "env var holding a base64 ed25519 private key")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "ledger NDJSON path to record a proofpack.write event")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel hashing workers (default NumCPU)")
	return cmd
}

func loadBuildSpec(path string) (proofpack.BuildOptions, error) {
	// #nosec G304 -- build spec path is explicit local user input.
	raw, err := os.ReadFile(path)
	if err != nil {
		return proofpack.BuildOptions{}, coreerrors.IOError(err, "read build spec")
	}
	var spec buildSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return proofpack.BuildOptions{}, coreerrors.ParseError(err, "build spec")
	}
	baseDir := filepath.Dir(path)
	opts := proofpack.BuildOptions{
		RunID:         spec.RunID,
		Seed:          spec.Seed,
		Verdict:       spec.Verdict,
		Versions:      spec.Versions,
		StageSequence: spec.StageSequence,
	}
	for _, stage := range spec.Stages {
		output := proofpack.StageOutput{StageID: stage.Stage, Input: stage.Input}
		for _, artifact := range stage.Artifacts {
			source := artifact.Path
			if source == "" {
				source = artifact.Filename
			}
			if !filepath.IsAbs(source) {
				source = filepath.Join(baseDir, filepath.FromSlash(source))
			}
			// #nosec G304 -- artifact paths come from the operator's build spec.
			data, err := os.ReadFile(source)
			if err != nil {
				return proofpack.BuildOptions{}, coreerrors.IOError(err, "read artifact "+stage.Stage+"/"+artifact.Filename)
			}
			output.Artifacts = append(output.Artifacts, proofpack.Artifact{Filename: artifact.Filename, Data: data})
		}
		opts.Stages = append(opts.Stages, output)
	}
	return opts, nil
}

func loadPublicKey(pathFlag, envFlag, configPath, configEnv string) (ed25519.PublicKey, error) {
	source := keySource(pathFlag, envFlag, configPath, configEnv)
	if source.IsZero() {
		return nil, nil
	}
	return sign.LoadPublicKey(source)
}

// keySource prefers flags over config and a path over an env var at each level.
func keySource(pathFlag, envFlag, configPath, configEnv string) sign.KeySource {
	switch {
	case strings.TrimSpace(pathFlag) != "":
		return sign.KeySource{Path: pathFlag}
	case strings.TrimSpace(envFlag) != "":
		return sign.KeySource{Env: envFlag}
	case configPath != "":
		return sign.KeySource{Path: configPath}
	default:
		return sign.KeySource{Env: configEnv}
	}
}
