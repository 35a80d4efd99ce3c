package proofpack

import (
	"testing"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

func TestPackScore(t *testing.T) {
	opts := sampleOptions("run_score")
	lint := StageOutput{
		StageID:   "lint",
		Artifacts: []Artifact{{Filename: "lint-report.json", Data: []byte(`{"score":0.93,"rules":[{"hits":2}]}`)}},
	}
	opts.Stages = []StageOutput{opts.Stages[0], opts.Stages[1], lint, opts.Stages[2]}
	written, err := Write(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	pack, err := Open(written.Dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	score, err := pack.Score("lint/lint-report.json#score")
	if err != nil || score != 0.93 {
		t.Fatalf("score: got=%v err=%v", score, err)
	}
	hits, err := pack.Score("lint/lint-report.json#rules.0.hits")
	if err != nil || hits != 2 {
		t.Fatalf("array score: got=%v err=%v", hits, err)
	}

	testCases := []struct {
		key      string
		category coreerrors.Category
	}{
		{key: "lint/lint-report.json", category: coreerrors.CategoryValidation},
		{key: "style/style.json#score", category: coreerrors.CategoryValidation},
		{key: "final/book.md#score", category: coreerrors.CategoryParseFailure},
	}
	for _, testCase := range testCases {
		if _, err := pack.Score(testCase.key); coreerrors.CategoryOf(err) != testCase.category {
			t.Fatalf("%s: expected %s, got %v", testCase.key, testCase.category, err)
		}
	}
	if _, err := pack.Score("lint/lint-report.json#rules.3.hits"); err == nil {
		t.Fatalf("expected out of range index error")
	}
}
