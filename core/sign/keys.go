package sign

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	"github.com/davidahmann/proofpack/core/fsx"
)

// KeySource names where a base64 key lives: a file path or an environment variable.
type KeySource struct {
	Path string
	Env  string
}

func (s KeySource) IsZero() bool {
	return strings.TrimSpace(s.Path) == "" && strings.TrimSpace(s.Env) == ""
}

func LoadPrivateKey(source KeySource) (ed25519.PrivateKey, error) {
	encoded, err := readKeySource(source, "private key")
	if err != nil {
		return nil, err
	}
	return ParsePrivateKeyBase64(encoded)
}

// LoadPublicKey accepts either a public key or a private key source and
// returns the public half.
func LoadPublicKey(source KeySource) (ed25519.PublicKey, error) {
	encoded, err := readKeySource(source, "public key")
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, coreerrors.ParseError(err, "public key")
	}
	switch len(raw) {
	case ed25519.PublicKeySize:
		return ed25519.PublicKey(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw).Public().(ed25519.PublicKey), nil
	default:
		return nil, coreerrors.Validation("public_key", fmt.Sprintf("invalid key length %d", len(raw)))
	}
}

func ParsePrivateKeyBase64(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, coreerrors.ParseError(err, "private key")
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, coreerrors.Validation("private_key", fmt.Sprintf("invalid key length %d", len(raw)))
	}
	return ed25519.PrivateKey(raw), nil
}

func ParsePublicKeyBase64(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, coreerrors.ParseError(err, "public key")
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, coreerrors.Validation("public_key", fmt.Sprintf("invalid key length %d", len(raw)))
	}
	return ed25519.PublicKey(raw), nil
}

// WriteKeyPair stores base64 keys as <dir>/<name>.key and <dir>/<name>.pub.
func WriteKeyPair(dir, name string, pair KeyPair) (string, string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", "", coreerrors.IOError(err, "create key directory")
	}
	privPath := filepath.Join(dir, name+".key")
	pubPath := filepath.Join(dir, name+".pub")
	if err := fsx.WriteFileExclusive(privPath, []byte(base64.StdEncoding.EncodeToString(pair.Private)+"\n"), 0o600); err != nil {
		return "", "", err
	}
	if err := fsx.WriteFileExclusive(pubPath, []byte(base64.StdEncoding.EncodeToString(pair.Public)+"\n"), 0o644); err != nil {
		return "", "", err
	}
	return privPath, pubPath, nil
}

func readKeySource(source KeySource, subject string) (string, error) {
	path := strings.TrimSpace(source.Path)
	env := strings.TrimSpace(source.Env)
	switch {
	case path != "" && env != "":
		return "", coreerrors.InvalidInput(subject + " source: set either path or env")
	case path != "":
		// #nosec G304 -- caller supplies local key path.
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", coreerrors.IOError(err, "read "+subject)
		}
		return string(bytes.TrimSpace(raw)), nil
	case env != "":
		value, ok := os.LookupEnv(env)
		if !ok || strings.TrimSpace(value) == "" {
			return "", coreerrors.InvalidInput(subject + " env not set: " + env)
		}
		return strings.TrimSpace(value), nil
	default:
		return "", coreerrors.InvalidInput(subject + " not configured")
	}
}
