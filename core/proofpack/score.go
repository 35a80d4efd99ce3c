package proofpack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

// SplitScoreKey splits "<artifact path>#<dotted json path>".
func SplitScoreKey(key string) (string, string, error) {
	artifactPath, jsonPath, ok := strings.Cut(strings.TrimSpace(key), "#")
	if !ok || strings.TrimSpace(artifactPath) == "" || strings.TrimSpace(jsonPath) == "" {
		return "", "", coreerrors.Validation("score key", key+" must be <artifact path>#<json path>")
	}
	return artifactPath, jsonPath, nil
}

// Score reads the number addressed by key from a recorded JSON artifact.
func (p Pack) Score(key string) (float64, error) {
	artifactPath, jsonPath, err := SplitScoreKey(key)
	if err != nil {
		return 0, err
	}
	document, err := p.readJSONArtifact(artifactPath)
	if err != nil {
		return 0, err
	}
	return LookupNumber(document, jsonPath)
}

func (p Pack) readJSONArtifact(artifactPath string) (any, error) {
	for _, artifact := range p.Manifest.Artifacts {
		if artifact.Path != artifactPath {
			continue
		}
		path, err := p.ArtifactPath(artifact)
		if err != nil {
			return nil, err
		}
		// #nosec G304 -- path is resolved inside the run directory.
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, coreerrors.IOError(err, "read "+artifactPath)
		}
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		var document any
		if err := decoder.Decode(&document); err != nil {
			return nil, coreerrors.ParseError(err, artifactPath)
		}
		return document, nil
	}
	return nil, coreerrors.Validation("score key", "artifact "+artifactPath+" not recorded in manifest")
}

// LookupNumber walks a dotted path through decoded JSON; numeric segments index
// arrays. Numbers must be decoded as json.Number.
func LookupNumber(document any, path string) (float64, error) {
	current := document
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return 0, fmt.Errorf("key %q not found", segment)
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return 0, fmt.Errorf("index %q out of range", segment)
			}
			current = node[index]
		default:
			return 0, fmt.Errorf("segment %q not addressable", segment)
		}
	}
	number, ok := current.(json.Number)
	if !ok {
		return 0, fmt.Errorf("value at %s is not a number", path)
	}
	return number.Float64()
}
