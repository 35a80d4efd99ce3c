package replay

import "bytes"

// Normalizer maps file content to the form that is compared.
type Normalizer interface {
	Normalize(content []byte) []byte
}

// LineEndingNormalizer converts CRLF to LF so platform line endings never
// register as a difference.
type LineEndingNormalizer struct{}

func (LineEndingNormalizer) Normalize(content []byte) []byte {
	if !bytes.Contains(content, []byte("\r\n")) {
		return content
	}
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}

// RawNormalizer compares bytes exactly.
type RawNormalizer struct{}

func (RawNormalizer) Normalize(content []byte) []byte {
	return content
}
