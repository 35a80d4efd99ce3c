package sign

import (
	"encoding/base64"
	"strings"
	"testing"

	coreerrors "github.com/davidahmann/proofpack/core/errors"
)

const testDigest = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func TestSignVerifyDigest(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	sig, err := SignDigest(kp.Private, testDigest)
	if err != nil {
		t.Fatalf("sign digest: %v", err)
	}
	if sig.Alg != AlgEd25519 || sig.KeyID != KeyID(kp.Public) || sig.SignedDigest != testDigest {
		t.Fatalf("unexpected signature envelope: %#v", sig)
	}
	if err := VerifyDigest(kp.Public, sig, testDigest); err != nil {
		t.Fatalf("verify digest: %v", err)
	}
}

func TestVerifyDigestRejects(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	other, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	sig, err := SignDigest(kp.Private, testDigest)
	if err != nil {
		t.Fatalf("sign digest: %v", err)
	}

	wrongAlg := sig
	wrongAlg.Alg = "none"
	shortSig := sig
	shortSig.Sig = base64.StdEncoding.EncodeToString([]byte("short"))
	badBase64 := sig
	badBase64.Sig = "%%%notbase64"
	anonymous := sig
	anonymous.KeyID = ""

	testCases := []struct {
		name     string
		pub      []byte
		sig      Signature
		digest   string
		category coreerrors.Category
	}{
		{name: "alg", pub: kp.Public, sig: wrongAlg, digest: testDigest, category: coreerrors.CategoryValidation},
		{name: "key_id", pub: other.Public, sig: sig, digest: testDigest, category: coreerrors.CategoryValidation},
		{name: "wrong_key_without_id", pub: other.Public, sig: anonymous, digest: testDigest, category: coreerrors.CategoryValidation},
		{name: "digest", pub: kp.Public, sig: sig, digest: strings.Repeat("0", 64), category: coreerrors.CategoryHashMismatch},
		{name: "length", pub: kp.Public, sig: shortSig, digest: testDigest, category: coreerrors.CategoryValidation},
		{name: "base64", pub: kp.Public, sig: badBase64, digest: testDigest, category: coreerrors.CategoryParseFailure},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			err := VerifyDigest(testCase.pub, testCase.sig, testCase.digest)
			if err == nil {
				t.Fatalf("expected verification failure")
			}
			if coreerrors.CategoryOf(err) != testCase.category {
				t.Fatalf("unexpected category: got=%s want=%s (%v)", coreerrors.CategoryOf(err), testCase.category, err)
			}
		})
	}
}

func TestSignDigestInvalid(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	if _, err := SignDigest(kp.Private, "not-hex"); err == nil {
		t.Fatalf("expected error for invalid digest")
	}
	if _, err := SignDigest(kp.Private, "aa"); err == nil {
		t.Fatalf("expected error for invalid digest length")
	}
	if _, err := SignDigest(kp.Private[:10], testDigest); err == nil {
		t.Fatalf("expected error for short private key")
	}
}

func TestKeyIDLength(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	if id := KeyID(kp.Public); len(id) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(id))
	}
}
