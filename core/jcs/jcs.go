package jcs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/gowebpki/jcs"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

var digestPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// maxExactInteger is 2^53; every integer of smaller magnitude is an exact double.
const maxExactInteger = 1 << 53

// CanonicalizeJSON returns the RFC 8785 (JCS) canonical form of JSON input.
// Integers that IEEE 754 doubles cannot hold exactly fail as serialization
// errors instead of being rounded.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	if err := checkExactNumbers(input); err != nil {
		return nil, err
	}
	return jcs.Transform(input)
}

// DigestJCS canonicalizes JSON (RFC 8785) and returns a sha256 hex digest.
func DigestJCS(input []byte) (string, error) {
	canonical, err := CanonicalizeJSON(input)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

// Canonicalize encodes value as JSON and returns its RFC 8785 canonical bytes.
// Non-finite numbers and other unencodable values fail as serialization errors.
func Canonicalize(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, coreerrors.Serialization(err)
	}
	canonical, err := CanonicalizeJSON(raw)
	if err != nil {
		if coreerrors.CategoryOf(err) != "" {
			return nil, err
		}
		return nil, coreerrors.Serialization(err)
	}
	return canonical, nil
}

// DigestValue returns SHA256Hex(Canonicalize(value)).
func DigestValue(value any) (string, error) {
	canonical, err := Canonicalize(value)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

// SHA256Hex returns the 64-character lowercase hex sha256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsDigest reports whether value is a 64-character lowercase hex sha256 digest.
func IsDigest(value string) bool {
	return digestPattern.MatchString(value)
}

// checkExactNumbers rejects integral numbers that change value when read as
// float64. Malformed JSON is left for jcs.Transform to report.
func checkExactNumbers(input []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(input))
	decoder.UseNumber()
	var document any
	if err := decoder.Decode(&document); err != nil {
		return nil
	}
	return walkNumbers(document)
}

func walkNumbers(value any) error {
	switch typed := value.(type) {
	case json.Number:
		return checkExactInteger(typed.String())
	case map[string]any:
		for _, nested := range typed {
			if err := walkNumbers(nested); err != nil {
				return err
			}
		}
	case []any:
		for _, nested := range typed {
			if err := walkNumbers(nested); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkExactInteger(text string) error {
	if strings.ContainsAny(text, ".eE") {
		return nil
	}
	exact, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil
	}
	if exact.IsInt64() && exact.Int64() <= maxExactInteger && exact.Int64() >= -maxExactInteger {
		return nil
	}
	approximate, err := strconv.ParseFloat(text, 64)
	if err == nil {
		rounded, _ := new(big.Float).SetFloat64(approximate).Int(nil)
		if rounded.Cmp(exact) == 0 {
			return nil
		}
	}
	return coreerrors.Serialization(fmt.Errorf("integer %s cannot be represented exactly as an IEEE 754 double", text))
}
