package projectconfig

import (
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

const DefaultPath = ".proofpack/config.yaml"

const (
	HistoryBackendFile     = "file"
	HistoryBackendPostgres = "postgres"
)

type Config struct {
	Output  OutputDefaults  `yaml:"output"`
	Ledger  LedgerDefaults  `yaml:"ledger"`
	Certify CertifyDefaults `yaml:"certify"`
	Drift   DriftDefaults   `yaml:"drift"`
	History HistoryDefaults `yaml:"history"`
	Signing SigningDefaults `yaml:"signing"`
	Stages  StageDefaults   `yaml:"stages"`
}

type OutputDefaults struct {
	OutDir  string `yaml:"out_dir"`
	Workers int    `yaml:"workers"`
}

type LedgerDefaults struct {
	Path string `yaml:"path"`
}

type CertifyDefaults struct {
	Thresholds string `yaml:"thresholds"`
}

type DriftDefaults struct {
	Baseline        string  `yaml:"baseline"`
	PersistenceMin  int     `yaml:"persistence_min"`
	ThroughputRatio float64 `yaml:"throughput_ratio"`
	QualityDelta    float64 `yaml:"quality_delta"`
}

type HistoryDefaults struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSNEnv  string `yaml:"dsn_env"`
}

type SigningDefaults struct {
	PrivateKey    string `yaml:"private_key"` // #nosec G117 -- config key name documents expected secret input.
	PrivateKeyEnv string `yaml:"private_key_env"`
	PublicKey     string `yaml:"public_key"`
	PublicKeyEnv  string `yaml:"public_key_env"`
}

type StageDefaults struct {
	Sequence []string `yaml:"sequence"`
}

func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, coreerrors.Validation("config path", "")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, coreerrors.IOError(err, "read project config")
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, coreerrors.ParseError(err, "project config")
	}
	configuration.normalize()
	if err := configuration.validate(); err != nil {
		return Config{}, err
	}
	return configuration, nil
}

func (configuration *Config) normalize() {
	configuration.Output.OutDir = strings.TrimSpace(configuration.Output.OutDir)
	configuration.Ledger.Path = strings.TrimSpace(configuration.Ledger.Path)
	configuration.Certify.Thresholds = strings.TrimSpace(configuration.Certify.Thresholds)
	configuration.Drift.Baseline = strings.TrimSpace(configuration.Drift.Baseline)
	configuration.History.Backend = strings.ToLower(strings.TrimSpace(configuration.History.Backend))
	configuration.History.Path = strings.TrimSpace(configuration.History.Path)
	configuration.History.DSNEnv = strings.TrimSpace(configuration.History.DSNEnv)
	configuration.Signing.PrivateKey = strings.TrimSpace(configuration.Signing.PrivateKey)
	configuration.Signing.PrivateKeyEnv = strings.TrimSpace(configuration.Signing.PrivateKeyEnv)
	configuration.Signing.PublicKey = strings.TrimSpace(configuration.Signing.PublicKey)
	configuration.Signing.PublicKeyEnv = strings.TrimSpace(configuration.Signing.PublicKeyEnv)

	stages := make([]string, 0, len(configuration.Stages.Sequence))
	for _, stage := range configuration.Stages.Sequence {
		if trimmed := strings.TrimSpace(stage); trimmed != "" {
			stages = append(stages, trimmed)
		}
	}
	configuration.Stages.Sequence = stages
}

func (configuration Config) validate() error {
	switch configuration.History.Backend {
	case "", HistoryBackendFile, HistoryBackendPostgres:
	default:
		return coreerrors.Validation("history.backend", "must be file or postgres")
	}
	if configuration.Output.Workers < 0 {
		return coreerrors.InvalidParameter("output.workers", configuration.Output.Workers, "must not be negative")
	}
	if configuration.Drift.PersistenceMin < 0 {
		return coreerrors.InvalidParameter("drift.persistence_min", configuration.Drift.PersistenceMin, "must not be negative")
	}
	if configuration.Drift.ThroughputRatio < 0 || configuration.Drift.QualityDelta < 0 {
		return coreerrors.InvalidParameter("drift tolerances", "negative", "must not be negative")
	}
	return nil
}
