package jcs

import (
	"encoding/json"
	"math"
	"sync"
	"testing"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

func TestCanonicalizeJSON(t *testing.T) {
	in := []byte(`{ "b":2, "a":1 }`)
	want := `{"a":1,"b":2}`
	out, err := CanonicalizeJSON(in)
	if err != nil {
		t.Fatalf("canonicalize error: %v", err)
	}
	if string(out) != want {
		t.Fatalf("unexpected canonical form: %s", string(out))
	}
}

func TestDigestJCSStable(t *testing.T) {
	a := []byte(`{"a":1,"b":2}`)
	b := []byte(`{ "b":2, "a":1 }`)

	da, err := DigestJCS(a)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	db, err := DigestJCS(b)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	if da != db {
		t.Fatalf("expected same digest for equivalent JSON")
	}
}

func TestCanonicalizeJSONInvalid(t *testing.T) {
	if _, err := CanonicalizeJSON([]byte(`{`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
	if _, err := DigestJCS([]byte(`{`)); err == nil {
		t.Fatalf("expected error for invalid JSON digest")
	}
}

func TestCanonicalizeSortsNestedKeysAndKeepsArrayOrder(t *testing.T) {
	value := map[string]any{
		"zeta":  []any{3, 1, 2},
		"alpha": map[string]any{"y": true, "x": nil},
		"mid":   "text",
	}
	out, err := Canonicalize(value)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"alpha":{"x":null,"y":true},"mid":"text","zeta":[3,1,2]}`
	if string(out) != want {
		t.Fatalf("unexpected canonical bytes:\n got=%s\nwant=%s", string(out), want)
	}
}

func TestCanonicalizeKeyOrderIndependent(t *testing.T) {
	left, err := CanonicalizeJSON([]byte(`{"b":{"d":1,"c":2},"a":[{"y":1,"x":2}]}`))
	if err != nil {
		t.Fatalf("canonicalize left: %v", err)
	}
	right, err := CanonicalizeJSON([]byte(`{"a":[{"x":2,"y":1}],"b":{"c":2,"d":1}}`))
	if err != nil {
		t.Fatalf("canonicalize right: %v", err)
	}
	if string(left) != string(right) {
		t.Fatalf("expected byte-identical output: %s vs %s", string(left), string(right))
	}
}

func TestCanonicalizeRoundTripIdempotent(t *testing.T) {
	values := []any{
		map[string]any{"run_id": "run_1", "seed": 42, "scores": []any{0.5, 1.25, -3}},
		[]any{"a", map[string]any{"k": "v"}, 1e21, 0.000001},
		"unicode é中",
		nil,
	}
	for _, value := range values {
		first, err := Canonicalize(value)
		if err != nil {
			t.Fatalf("canonicalize %v: %v", value, err)
		}
		var parsed any
		if err := json.Unmarshal(first, &parsed); err != nil {
			t.Fatalf("parse canonical bytes: %v", err)
		}
		second, err := Canonicalize(parsed)
		if err != nil {
			t.Fatalf("re-canonicalize: %v", err)
		}
		if string(first) != string(second) {
			t.Fatalf("round trip changed bytes: %s vs %s", string(first), string(second))
		}
	}
}

func TestCanonicalizeRejectsNonFinite(t *testing.T) {
	for _, value := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := Canonicalize(map[string]any{"score": value})
		if err == nil {
			t.Fatalf("expected error for %v", value)
		}
		if coreerrors.CategoryOf(err) != coreerrors.CategorySerialization {
			t.Fatalf("unexpected category for %v: %s", value, coreerrors.CategoryOf(err))
		}
	}
}

func TestSHA256HexKnownVector(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := SHA256Hex([]byte("abc")); got != want {
		t.Fatalf("unexpected digest: %s", got)
	}
	if !IsDigest(want) {
		t.Fatalf("expected digest pattern match")
	}
	if IsDigest("ABC") || IsDigest(want[:63]) {
		t.Fatalf("expected invalid digests to be rejected")
	}
}

func TestDigestValueConcurrentDeterminism(t *testing.T) {
	value := map[string]any{"b": []any{1, 2, 3}, "a": map[string]any{"nested": "x"}}
	want, err := DigestValue(value)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	const workers = 32
	results := make([]string, workers)
	var group sync.WaitGroup
	group.Add(workers)
	for index := 0; index < workers; index++ {
		go func(slot int) {
			defer group.Done()
			digest, digestErr := DigestValue(value)
			if digestErr != nil {
				t.Errorf("digest: %v", digestErr)
				return
			}
			results[slot] = digest
		}(index)
	}
	group.Wait()
	for index, digest := range results {
		if digest != want {
			t.Fatalf("worker %d produced %s want %s", index, digest, want)
		}
	}
}

func TestCanonicalizeRejectsIntegersRoundedByDoubles(t *testing.T) {
	exact, err := Canonicalize(map[string]any{"n": int64(9007199254740992)})
	if err != nil {
		t.Fatalf("2^53 is an exact double: %v", err)
	}
	if string(exact) != `{"n":9007199254740992}` {
		t.Fatalf("unexpected canonical form: %s", string(exact))
	}

	_, err = Canonicalize(map[string]any{"n": int64(9007199254740993)})
	if coreerrors.CategoryOf(err) != coreerrors.CategorySerialization {
		t.Fatalf("expected serialization error for 2^53+1, got %v", err)
	}
	if _, err := DigestValue(map[string]any{"nested": []any{uint64(18446744073709551615)}}); coreerrors.CategoryOf(err) != coreerrors.CategorySerialization {
		t.Fatalf("expected serialization error for max uint64, got %v", err)
	}
	if _, err := CanonicalizeJSON([]byte(`{"n":-9007199254740993}`)); coreerrors.CategoryOf(err) != coreerrors.CategorySerialization {
		t.Fatalf("expected serialization error for raw JSON, got %v", err)
	}
}

func TestCanonicalizeKeepsExactLargeDoubles(t *testing.T) {
	testCases := []struct {
		name  string
		value any
		want  string
	}{
		{name: "power_of_two", value: int64(1) << 60, want: `1152921504606846976`},
		{name: "large_float", value: 1e20, want: `100000000000000000000`},
		{name: "fraction", value: 0.5, want: `0.5`},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			out, err := Canonicalize(testCase.value)
			if err != nil {
				t.Fatalf("canonicalize: %v", err)
			}
			if string(out) != testCase.want {
				t.Fatalf("got %s want %s", string(out), testCase.want)
			}
		})
	}
}
