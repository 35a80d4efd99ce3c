package errors

import (
	"errors"
	"fmt"
)

type Category string

const (
	CategoryInvalidInput     Category = "invalid_input"
	CategoryIOFailure        Category = "io_failure"
	CategoryParseFailure     Category = "parse_failed"
	CategoryValidation       Category = "validation_failed"
	CategoryHashMismatch     Category = "hash_mismatch"
	CategoryChainBroken      Category = "chain_broken"
	CategoryInvalidParameter Category = "invalid_parameter"
	CategorySerialization    Category = "serialization_failed"
	CategoryStateContention  Category = "state_contention"
	CategoryInternalFailure  Category = "internal_failure"
)

type classifiedError struct {
	category  Category
	code      string
	hint      string
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

func (e *classifiedError) Category() Category {
	return e.category
}

func (e *classifiedError) Code() string {
	return e.code
}

func (e *classifiedError) Hint() string {
	return e.hint
}

func (e *classifiedError) Retryable() bool {
	return e.retryable
}

func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category:  category,
		code:      code,
		hint:      hint,
		retryable: retryable,
		cause:     cause,
	}
}

func CategoryOf(err error) Category {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.hint
	}
	return ""
}

func RetryableOf(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.retryable
	}
	return false
}

// IOError classifies a missing or unreadable file or directory.
func IOError(cause error, subject string) error {
	if cause == nil {
		return nil
	}
	return Wrap(fmt.Errorf("%s: %w", subject, cause), CategoryIOFailure, "io_failed", "check that the path exists and is readable", false)
}

// ParseError classifies malformed manifest, tree, or ledger JSON.
func ParseError(cause error, subject string) error {
	if cause == nil {
		return nil
	}
	return Wrap(fmt.Errorf("parse %s: %w", subject, cause), CategoryParseFailure, "parse_failed", "the artifact is not valid JSON; regenerate it", false)
}

// ValidationError carries the name of the required or invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func Validation(field, reason string) error {
	return Wrap(&ValidationError{Field: field, Reason: reason}, CategoryValidation, "validation_failed", "fix the named field and retry", false)
}

// FieldOf returns the field named by a ValidationError, or "".
func FieldOf(err error) string {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Field
	}
	return ""
}

type HashMismatchError struct {
	Subject  string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("%s hash mismatch: expected=%s actual=%s", e.Subject, e.Expected, e.Actual)
}

func HashMismatch(subject, expected, actual string) error {
	return Wrap(&HashMismatchError{Subject: subject, Expected: expected, Actual: actual}, CategoryHashMismatch, "hash_mismatch", "the artifact was modified after it was recorded", false)
}

// ChainBrokenError reports the first ledger index whose hash or linkage does not verify.
type ChainBrokenError struct {
	Index  int
	Reason string
}

func (e *ChainBrokenError) Error() string {
	return fmt.Sprintf("ledger chain broken at index %d: %s", e.Index, e.Reason)
}

func ChainBroken(index int, reason string) error {
	return Wrap(&ChainBrokenError{Index: index, Reason: reason}, CategoryChainBroken, "chain_broken", "the ledger was modified after events were chained", false)
}

// BrokenIndexOf returns the broken index carried by err and whether one was found.
func BrokenIndexOf(err error) (int, bool) {
	var broken *ChainBrokenError
	if errors.As(err, &broken) {
		return broken.Index, true
	}
	return 0, false
}

func InvalidParameter(name string, value any, constraint string) error {
	return Wrap(fmt.Errorf("invalid %s=%v: %s", name, value, constraint), CategoryInvalidParameter, "invalid_parameter", "pass a value inside the documented range", false)
}

func Serialization(cause error) error {
	if cause == nil {
		return nil
	}
	return Wrap(fmt.Errorf("serialize: %w", cause), CategorySerialization, "serialization_failed", "values must be finite and JSON-representable", false)
}

func InvalidInput(message string) error {
	return Wrap(errors.New(message), CategoryInvalidInput, "invalid_input", "check command usage", false)
}
