package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/projectconfig"
)

type app struct {
	stdout     io.Writer
	stderr     io.Writer
	jsonOutput bool
	verbose    bool
	configPath string
	exitCode   int
	now        func() time.Time

	loaded        bool
	configuration projectconfig.Config
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:     stdout,
		stderr:     stderr,
		configPath: projectconfig.DefaultPath,
		now:        time.Now,
	}
}

// reporter writes operator diagnostics to stderr; stdout carries only results.
type reporter struct {
	w       io.Writer
	verbose bool
}

func (r reporter) Warnf(format string, arguments ...any) {
	_, _ = fmt.Fprintf(r.w, "proofpack warning: "+format+"\n", arguments...)
}

func (r reporter) Debugf(format string, arguments ...any) {
	if !r.verbose {
		return
	}
	_, _ = fmt.Fprintf(r.w, "proofpack debug: "+format+"\n", arguments...)
}

func (a *app) log() reporter {
	return reporter{w: a.stderr, verbose: a.verbose}
}

// config loads the project config once. The default path may be absent.
func (a *app) config() (projectconfig.Config, error) {
	if a.loaded {
		return a.configuration, nil
	}
	allowMissing := a.configPath == projectconfig.DefaultPath
	configuration, err := projectconfig.Load(a.configPath, allowMissing)
	if err != nil {
		return projectconfig.Config{}, err
	}
	a.log().Debugf("config path=%s", a.configPath)
	a.configuration = configuration
	a.loaded = true
	return configuration, nil
}

// report writes a command result and records its exit code.
func (a *app) report(payload any, lines []string, exitCode int) error {
	a.exitCode = exitCode
	if a.jsonOutput {
		return a.writeEnvelope(payload, nil, exitCode)
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(a.stdout, line)
	}
	return nil
}

// failure reports err in the active output mode. Cobra never sees domain errors.
func (a *app) failure(err error) error {
	exitCode := exitCodeForError(err)
	a.exitCode = exitCode
	if a.jsonOutput {
		return a.writeEnvelope(nil, err, exitCode)
	}
	_, _ = fmt.Fprintf(a.stderr, "proofpack error: %v\n", err)
	if hint := hintFor(err, exitCode); hint != "" {
		a.log().Debugf("category=%s code=%s hint=%s", categoryFor(err, exitCode), codeFor(err, exitCode), hint)
	}
	return nil
}

func (a *app) writeEnvelope(payload any, err error, exitCode int) error {
	envelope := map[string]any{}
	if payload != nil {
		encoded, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			err = coreerrors.Serialization(marshalErr)
			exitCode = exitCodeForError(err)
			a.exitCode = exitCode
		} else if unmarshalErr := json.Unmarshal(encoded, &envelope); unmarshalErr != nil {
			envelope = map[string]any{"result": payload}
		}
	}
	envelope["ok"] = exitCode == exitOK
	if err != nil {
		envelope["error"] = err.Error()
		envelope["error_code"] = codeFor(err, exitCode)
		envelope["error_category"] = string(categoryFor(err, exitCode))
		envelope["hint"] = hintFor(err, exitCode)
		envelope["retryable"] = coreerrors.RetryableOf(err)
	} else if exitCode != exitOK {
		envelope["error_code"] = defaultErrorCode(exitCode)
		envelope["hint"] = defaultHint(exitCode)
	}
	encoded, marshalErr := json.Marshal(envelope)
	if marshalErr != nil {
		_, _ = fmt.Fprintln(a.stdout, `{"ok":false,"error":"failed to encode output","error_code":"encode_failed","error_category":"internal_failure","retryable":false}`)
		a.exitCode = exitInternalFailure
		return nil
	}
	_, _ = fmt.Fprintln(a.stdout, string(encoded))
	return nil
}

func codeFor(err error, exitCode int) string {
	if code := coreerrors.CodeOf(err); code != "" {
		return code
	}
	return defaultErrorCode(exitCode)
}

func categoryFor(err error, exitCode int) coreerrors.Category {
	if category := coreerrors.CategoryOf(err); category != "" {
		return category
	}
	if exitCode == exitInvalidInput {
		return coreerrors.CategoryInvalidInput
	}
	return coreerrors.CategoryInternalFailure
}

func hintFor(err error, exitCode int) string {
	if hint := coreerrors.HintOf(err); hint != "" {
		return hint
	}
	return defaultHint(exitCode)
}

// firstNonEmpty returns the first value that is not blank after trimming.
func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// workersOr prefers an explicit --workers flag over the configured default.
func workersOr(flag, configured int) int {
	if flag > 0 {
		return flag
	}
	return configured
}
