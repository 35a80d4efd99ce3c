// Package doctor inspects a proofpack workspace and reports what would make a
// build, certification or drift check fail before one is attempted.
package doctor

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/davidahmann/proofpack/core/certify"
	"github.com/davidahmann/proofpack/core/drift"
	"github.com/davidahmann/proofpack/core/ledger"
	"github.com/davidahmann/proofpack/core/schema/validate"
	"github.com/davidahmann/proofpack/core/sign"
)

const (
	ResultSchemaID      = "proofpack.doctor_result"
	ResultSchemaVersion = "1.0.0"

	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

type Options struct {
	OutputDir       string
	LedgerPath      string
	HistoryBackend  string
	HistoryPath     string
	HistoryDSNEnv   string
	ThresholdsPath  string
	BaselinePath    string
	PrivateKey      sign.KeySource
	PublicKey       sign.KeySource
	ProducerVersion string
	Now             func() time.Time
}

type Result struct {
	SchemaID        string   `json:"schema_id"`
	SchemaVersion   string   `json:"schema_version"`
	CreatedAt       string   `json:"created_at"`
	ProducerVersion string   `json:"producer_version"`
	Status          string   `json:"status"`
	NonFixable      bool     `json:"non_fixable"`
	Summary         string   `json:"summary"`
	FixCommands     []string `json:"fix_commands"`
	Checks          []Check  `json:"checks"`
}

type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	FixCommand string `json:"fix_command,omitempty"`
	NonFixable bool   `json:"non_fixable,omitempty"`
}

func (r Result) Failed() bool {
	return r.Status == statusFail
}

func Run(opts Options) Result {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	producerVersion := strings.TrimSpace(opts.ProducerVersion)
	if producerVersion == "" {
		producerVersion = "0.0.0-dev"
	}
	outputDir := strings.TrimSpace(opts.OutputDir)
	if outputDir == "" {
		outputDir = "proofpack-out"
	}

	checks := []Check{
		checkOutputDir(outputDir),
		checkSchemas(),
		checkLedger(strings.TrimSpace(opts.LedgerPath)),
		checkHistory(opts.HistoryBackend, opts.HistoryPath, opts.HistoryDSNEnv),
		checkThresholds(strings.TrimSpace(opts.ThresholdsPath)),
		checkBaseline(strings.TrimSpace(opts.BaselinePath)),
		checkKeyConfig(opts.PrivateKey, opts.PublicKey),
		checkKeyPermissions(opts.PrivateKey),
	}

	failed := 0
	warned := 0
	nonFixable := false
	fixCommands := make([]string, 0, len(checks))
	seenFixes := map[string]struct{}{}
	for _, check := range checks {
		switch check.Status {
		case statusFail:
			failed++
		case statusWarn:
			warned++
		}
		if check.NonFixable {
			nonFixable = true
		}
		if check.FixCommand != "" {
			if _, ok := seenFixes[check.FixCommand]; !ok {
				seenFixes[check.FixCommand] = struct{}{}
				fixCommands = append(fixCommands, check.FixCommand)
			}
		}
	}

	status := statusPass
	if failed > 0 {
		status = statusFail
	} else if warned > 0 {
		status = statusWarn
	}
	sort.Strings(fixCommands)

	return Result{
		SchemaID:        ResultSchemaID,
		SchemaVersion:   ResultSchemaVersion,
		CreatedAt:       now().UTC().Format(time.RFC3339Nano),
		ProducerVersion: producerVersion,
		Status:          status,
		NonFixable:      nonFixable,
		Summary:         fmt.Sprintf("doctor: status=%s failed=%d warned=%d non_fixable=%t", status, failed, warned, nonFixable),
		FixCommands:     fixCommands,
		Checks:          checks,
	}
}

func checkOutputDir(outputDir string) Check {
	info, err := os.Stat(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Check{
				Name:       "output_dir",
				Status:     statusWarn,
				Message:    "output directory does not exist; build creates it",
				FixCommand: fmt.Sprintf("mkdir -p %s", shellQuote(outputDir)),
			}
		}
		return Check{Name: "output_dir", Status: statusFail, Message: fmt.Sprintf("output directory check failed: %v", err)}
	}
	if !info.IsDir() {
		return Check{Name: "output_dir", Status: statusFail, Message: "output path is not a directory"}
	}
	testPath := filepath.Join(outputDir, ".proofpack-doctor-writecheck")
	if err := os.WriteFile(testPath, []byte("ok"), 0o600); err != nil {
		return Check{
			Name:       "output_dir",
			Status:     statusFail,
			Message:    fmt.Sprintf("output directory not writable: %v", err),
			FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(outputDir)),
		}
	}
	_ = os.Remove(testPath)
	return Check{Name: "output_dir", Status: statusPass, Message: "output directory is writable"}
}

func checkSchemas() Check {
	broken := []string{}
	for _, name := range validate.SchemaNames() {
		if err := validate.Compile(name); err != nil {
			broken = append(broken, name)
		}
	}
	if len(broken) > 0 {
		return Check{
			Name:       "schemas",
			Status:     statusFail,
			Message:    "embedded schemas do not compile: " + strings.Join(broken, ","),
			NonFixable: true,
		}
	}
	return Check{Name: "schemas", Status: statusPass, Message: fmt.Sprintf("%d embedded schemas compile", len(validate.SchemaNames()))}
}

func checkLedger(path string) Check {
	if path == "" {
		return Check{Name: "ledger", Status: statusPass, Message: "no ledger configured"}
	}
	events, err := ledger.Open(path, ledger.Options{})
	if err != nil {
		return Check{Name: "ledger", Status: statusFail, Message: fmt.Sprintf("ledger unreadable: %v", err), NonFixable: true}
	}
	result := events.VerifyChain()
	if !result.Valid {
		return Check{
			Name:       "ledger",
			Status:     statusFail,
			Message:    fmt.Sprintf("ledger chain broken at index %d: %s", *result.BrokenAt, result.Reason),
			NonFixable: true,
		}
	}
	if result.Events == 0 {
		return Check{Name: "ledger", Status: statusPass, Message: "ledger is empty"}
	}
	return Check{Name: "ledger", Status: statusPass, Message: fmt.Sprintf("ledger chain verifies over %d events", result.Events)}
}

func checkHistory(backend, path, dsnEnv string) Check {
	switch strings.TrimSpace(backend) {
	case "postgres":
		envName := strings.TrimSpace(dsnEnv)
		if envName == "" {
			envName = "PROOFPACK_HISTORY_DSN"
		}
		if strings.TrimSpace(os.Getenv(envName)) == "" {
			return Check{
				Name:       "history",
				Status:     statusFail,
				Message:    "postgres history backend selected but " + envName + " is not set",
				FixCommand: "export " + envName + "=postgres://...",
			}
		}
		return Check{Name: "history", Status: statusPass, Message: "postgres dsn is set in " + envName}
	case "", "file":
		if strings.TrimSpace(path) == "" {
			return Check{Name: "history", Status: statusPass, Message: "history uses the default file store"}
		}
		parent := filepath.Dir(path)
		if info, err := os.Stat(parent); err == nil && !info.IsDir() {
			return Check{Name: "history", Status: statusFail, Message: "history parent is not a directory: " + parent}
		}
		return Check{Name: "history", Status: statusPass, Message: "history file store at " + path}
	default:
		return Check{Name: "history", Status: statusFail, Message: "unsupported history backend: " + backend, FixCommand: "set history.backend to file or postgres"}
	}
}

func checkThresholds(path string) Check {
	if path == "" {
		return Check{Name: "thresholds", Status: statusPass, Message: "certification uses default thresholds"}
	}
	thresholds, err := certify.LoadThresholds(path)
	if err != nil {
		return Check{Name: "thresholds", Status: statusFail, Message: fmt.Sprintf("thresholds invalid: %v", err)}
	}
	return Check{
		Name:    "thresholds",
		Status:  statusPass,
		Message: fmt.Sprintf("thresholds valid: %d stages, %d min scores", len(thresholds.StageSequence), len(thresholds.MinScores)),
	}
}

func checkBaseline(path string) Check {
	if path == "" {
		return Check{Name: "drift_baseline", Status: statusPass, Message: "no drift baseline configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Check{Name: "drift_baseline", Status: statusFail, Message: fmt.Sprintf("drift baseline not accessible: %v", err)}
	}
	if info.IsDir() {
		return Check{Name: "drift_baseline", Status: statusPass, Message: "drift baseline is a run directory"}
	}
	if _, err := drift.LoadBaseline(path); err != nil {
		return Check{Name: "drift_baseline", Status: statusFail, Message: fmt.Sprintf("drift baseline invalid: %v", err)}
	}
	return Check{Name: "drift_baseline", Status: statusPass, Message: "drift baseline is valid"}
}

func checkKeyConfig(private, public sign.KeySource) Check {
	if private.IsZero() && public.IsZero() {
		return Check{Name: "key_config", Status: statusWarn, Message: "no signing keys configured; manifests will be unsigned", FixCommand: "proofpack keygen"}
	}
	var privateKey ed25519.PrivateKey
	if !private.IsZero() {
		key, err := sign.LoadPrivateKey(private)
		if err != nil {
			return Check{Name: "key_config", Status: statusFail, Message: fmt.Sprintf("signing key invalid: %v", err)}
		}
		privateKey = key
	}
	if public.IsZero() {
		return Check{Name: "key_config", Status: statusWarn, Message: "signing key set without a verify key", FixCommand: "set signing.public_key in config"}
	}
	publicKey, err := sign.LoadPublicKey(public)
	if err != nil {
		return Check{Name: "key_config", Status: statusFail, Message: fmt.Sprintf("verify key invalid: %v", err)}
	}
	if privateKey != nil {
		derived, _ := privateKey.Public().(ed25519.PublicKey)
		if !derived.Equal(publicKey) {
			return Check{Name: "key_config", Status: statusFail, Message: "signing and verify keys are not a pair"}
		}
	}
	return Check{Name: "key_config", Status: statusPass, Message: "key_id " + sign.KeyID(publicKey)}
}

func checkKeyPermissions(private sign.KeySource) Check {
	path := strings.TrimSpace(private.Path)
	if path == "" || runtime.GOOS == "windows" {
		return Check{Name: "key_permissions", Status: statusPass, Message: "no signing key file to inspect"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Check{Name: "key_permissions", Status: statusFail, Message: "signing key file does not exist"}
		}
		return Check{Name: "key_permissions", Status: statusFail, Message: fmt.Sprintf("signing key stat failed: %v", err)}
	}
	if info.Mode().Perm()&0o077 != 0 {
		return Check{
			Name:       "key_permissions",
			Status:     statusWarn,
			Message:    fmt.Sprintf("signing key mode %04o is readable by group or others", info.Mode().Perm()),
			FixCommand: fmt.Sprintf("chmod 600 %s", shellQuote(path)),
		}
	}
	return Check{Name: "key_permissions", Status: statusPass, Message: "signing key is owner-only"}
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
