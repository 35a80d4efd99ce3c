// Package sign provides optional detached ed25519 signatures over manifest digests.
package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
	schemaproofpack "github.com/davidahmann/proofpack/core/schema/v1/proofpack"
)

const AlgEd25519 = "ed25519"

type Signature = schemaproofpack.Signature

type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "keygen_failed", "retry key generation", true)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// KeyID is the lowercase hex SHA-256 of the raw public key.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// SignDigest signs the raw 32 bytes named by digestHex.
func SignDigest(priv ed25519.PrivateKey, digestHex string) (Signature, error) {
	digest, err := decodeDigest(digestHex)
	if err != nil {
		return Signature{}, err
	}
	if len(priv) != ed25519.PrivateKeySize {
		return Signature{}, coreerrors.InvalidParameter("private_key", len(priv), "must be an ed25519 private key")
	}
	pub := priv.Public().(ed25519.PublicKey)
	return Signature{
		Alg:          AlgEd25519,
		KeyID:        KeyID(pub),
		Sig:          base64.StdEncoding.EncodeToString(ed25519.Sign(priv, digest)),
		SignedDigest: digestHex,
	}, nil
}

// VerifyDigest checks that sig covers expectedDigest and was produced by pub.
func VerifyDigest(pub ed25519.PublicKey, sig Signature, expectedDigest string) error {
	if sig.Alg != AlgEd25519 {
		return coreerrors.Validation("signatures.alg", fmt.Sprintf("unsupported alg %q", sig.Alg))
	}
	if sig.KeyID != "" && sig.KeyID != KeyID(pub) {
		return coreerrors.Validation("signatures.key_id", "does not match the verify key")
	}
	if sig.SignedDigest != expectedDigest {
		return coreerrors.HashMismatch("signed_digest", expectedDigest, sig.SignedDigest)
	}
	digest, err := decodeDigest(sig.SignedDigest)
	if err != nil {
		return err
	}
	rawSig, err := base64.StdEncoding.DecodeString(sig.Sig)
	if err != nil {
		return coreerrors.ParseError(err, "signature")
	}
	if len(rawSig) != ed25519.SignatureSize {
		return coreerrors.Validation("signatures.sig", fmt.Sprintf("invalid length %d", len(rawSig)))
	}
	if !ed25519.Verify(pub, digest, rawSig) {
		return coreerrors.Validation("signatures.sig", "signature does not verify")
	}
	return nil
}

func decodeDigest(digestHex string) ([]byte, error) {
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return nil, coreerrors.InvalidParameter("digest", digestHex, "must be hex")
	}
	if len(digest) != sha256.Size {
		return nil, coreerrors.InvalidParameter("digest", digestHex, "must be 32 bytes")
	}
	return digest, nil
}
