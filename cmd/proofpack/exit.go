package main

import (
	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

const (
	exitOK              = 0
	exitInternalFailure = 1
	exitInvalidInput    = 2
	exitIOFailure       = 3
	exitInvalidPack     = 4
	exitInvariantBreach = 5
	exitDriftDetected   = 6
	exitCertifyFailed   = 7
)

func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	switch coreerrors.CategoryOf(err) {
	case coreerrors.CategoryInvalidInput:
		return exitInvalidInput
	case coreerrors.CategoryIOFailure, coreerrors.CategoryStateContention:
		return exitIOFailure
	case coreerrors.CategoryParseFailure, coreerrors.CategoryValidation, coreerrors.CategoryInvalidParameter, coreerrors.CategorySerialization:
		return exitInvalidPack
	case coreerrors.CategoryHashMismatch, coreerrors.CategoryChainBroken:
		return exitInvariantBreach
	default:
		return exitInternalFailure
	}
}

func defaultErrorCode(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "invalid_input"
	case exitIOFailure:
		return "io_failed"
	case exitInvalidPack:
		return "proofpack_invalid"
	case exitInvariantBreach:
		return "invariant_breach"
	case exitDriftDetected:
		return "drift_detected"
	case exitCertifyFailed:
		return "certification_failed"
	default:
		return "internal_failure"
	}
}

func defaultHint(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "check command usage with --help"
	case exitIOFailure:
		return "check that the path exists and is readable"
	case exitInvalidPack:
		return "regenerate the proofpack or fix the named field"
	case exitInvariantBreach:
		return "evidence was modified after it was recorded; inspect the named hashes"
	case exitDriftDetected:
		return "review findings and record a justification for each one scoring 2 or more"
	case exitCertifyFailed:
		return "inspect failed checks and their evidence"
	default:
		return "retry after checking local environment"
	}
}

func usageError(message string) error {
	return coreerrors.InvalidInput(message)
}
