package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapRoundTrip(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, CategoryIOFailure, "io_write_failed", "check directory permissions", true)
	if err == nil {
		t.Fatal("expected wrapped error")
	}
	if CategoryOf(err) != CategoryIOFailure {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "io_write_failed" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if HintOf(err) != "check directory permissions" {
		t.Fatalf("unexpected hint: %s", HintOf(err))
	}
	if !RetryableOf(err) {
		t.Fatal("expected retryable true")
	}
	if !stderrors.Is(err, base) {
		t.Fatal("expected wrapped error to preserve cause")
	}
}

func TestUnknownErrorDefaults(t *testing.T) {
	err := stderrors.New("plain")
	if CategoryOf(err) != "" {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "" || HintOf(err) != "" || RetryableOf(err) {
		t.Fatalf("expected zero classification for plain error")
	}
	if FieldOf(err) != "" {
		t.Fatalf("unexpected field: %s", FieldOf(err))
	}
	if _, ok := BrokenIndexOf(err); ok {
		t.Fatalf("expected no broken index on plain error")
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if got := Wrap(nil, CategoryInternalFailure, "internal_failure", "retry later", false); got != nil {
		t.Fatalf("expected nil wrapped error, got=%v", got)
	}
	if got := IOError(nil, "manifest.json"); got != nil {
		t.Fatalf("expected nil io error, got=%v", got)
	}
	if got := ParseError(nil, "manifest.json"); got != nil {
		t.Fatalf("expected nil parse error, got=%v", got)
	}
	if got := Serialization(nil); got != nil {
		t.Fatalf("expected nil serialization error, got=%v", got)
	}
}

func TestKindConstructors(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		category Category
	}{
		{name: "io", err: IOError(fmt.Errorf("no such file"), "read manifest"), category: CategoryIOFailure},
		{name: "parse", err: ParseError(fmt.Errorf("unexpected EOF"), "manifest.json"), category: CategoryParseFailure},
		{name: "validation", err: Validation("run_id", ""), category: CategoryValidation},
		{name: "hash", err: HashMismatch("manifest.json", "aa", "bb"), category: CategoryHashMismatch},
		{name: "chain", err: ChainBroken(3, "prev_hash mismatch"), category: CategoryChainBroken},
		{name: "parameter", err: InvalidParameter("impact", 6, "must be an integer in [1,5]"), category: CategoryInvalidParameter},
		{name: "serialization", err: Serialization(fmt.Errorf("NaN")), category: CategorySerialization},
		{name: "input", err: InvalidInput("expected one argument"), category: CategoryInvalidInput},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if testCase.err == nil {
				t.Fatalf("expected error")
			}
			if CategoryOf(testCase.err) != testCase.category {
				t.Fatalf("unexpected category: got=%s want=%s", CategoryOf(testCase.err), testCase.category)
			}
			if CodeOf(testCase.err) == "" || HintOf(testCase.err) == "" {
				t.Fatalf("expected code and hint for %s", testCase.name)
			}
		})
	}
}

func TestValidationErrorNamesField(t *testing.T) {
	err := Validation("run_id", "")
	if FieldOf(err) != "run_id" {
		t.Fatalf("unexpected field: %s", FieldOf(err))
	}
	if err.Error() != "run_id is required" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	var validation *ValidationError
	if !stderrors.As(err, &validation) {
		t.Fatalf("expected ValidationError via errors.As")
	}
}

func TestChainBrokenCarriesIndex(t *testing.T) {
	err := ChainBroken(4, "event_hash mismatch")
	index, ok := BrokenIndexOf(err)
	if !ok || index != 4 {
		t.Fatalf("unexpected broken index: ok=%t index=%d", ok, index)
	}
	if !strings.Contains(err.Error(), "index 4") {
		t.Fatalf("expected index in message: %s", err.Error())
	}
}

func TestHashMismatchNamesBothDigests(t *testing.T) {
	err := HashMismatch("artifact 2", "expected_digest", "actual_digest")
	message := err.Error()
	if !strings.Contains(message, "expected=expected_digest") || !strings.Contains(message, "actual=actual_digest") {
		t.Fatalf("unexpected message: %s", message)
	}
}

func TestCategorySetIsStableAndUnique(t *testing.T) {
	categories := []Category{
		CategoryInvalidInput,
		CategoryIOFailure,
		CategoryParseFailure,
		CategoryValidation,
		CategoryHashMismatch,
		CategoryChainBroken,
		CategoryInvalidParameter,
		CategorySerialization,
		CategoryStateContention,
		CategoryInternalFailure,
	}
	seen := map[Category]struct{}{}
	for _, category := range categories {
		if category == "" {
			t.Fatalf("category must not be empty")
		}
		if _, exists := seen[category]; exists {
			t.Fatalf("duplicate category: %s", category)
		}
		seen[category] = struct{}{}
	}
	if len(seen) != 10 {
		t.Fatalf("expected 10 categories, got %d", len(seen))
	}
}
