package crypto

import (
	"bytes"
	"testing"

	"github.com/vaultkeep/vaultbackup/internal/wire"
)

func TestAsymmetricWrapUnwrapRoundTrip(t *testing.T) {
	kp, err := GenerateAsymmetric()
	if err != nil {
		t.Fatalf("GenerateAsymmetric: %v", err)
	}

	pubBytes, err := kp.PublicKeyBytes()
	if err != nil {
		t.Fatalf("PublicKeyBytes: %v", err)
	}
	if len(pubBytes) != wire.AsymmetricPublicKeySize {
		t.Fatalf("public key size = %d, want %d", len(pubBytes), wire.AsymmetricPublicKeySize)
	}

	pub, err := ParseAsymmetricPublicKey(pubBytes)
	if err != nil {
		t.Fatalf("ParseAsymmetricPublicKey: %v", err)
	}

	sessionKey, err := GenerateSessionKey()
	if err != nil {
		t.Fatalf("GenerateSessionKey: %v", err)
	}

	wrapped, err := WrapSessionKey(pub, sessionKey)
	if err != nil {
		t.Fatalf("WrapSessionKey: %v", err)
	}
	if len(wrapped) != wire.AsymmetricCipherTextSize {
		t.Fatalf("ciphertext size = %d, want %d", len(wrapped), wire.AsymmetricCipherTextSize)
	}

	unwrapped, err := kp.Unwrap(wrapped)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if unwrapped != sessionKey {
		t.Errorf("unwrapped session key mismatch: got %v, want %v", unwrapped, sessionKey)
	}
}

func TestAsymmetricWrapUnwrapArbitraryKeys(t *testing.T) {
	kp, err := GenerateAsymmetric()
	if err != nil {
		t.Fatalf("GenerateAsymmetric: %v", err)
	}
	pubBytes, err := kp.PublicKeyBytes()
	if err != nil {
		t.Fatalf("PublicKeyBytes: %v", err)
	}
	pub, err := ParseAsymmetricPublicKey(pubBytes)
	if err != nil {
		t.Fatalf("ParseAsymmetricPublicKey: %v", err)
	}

	patterns := []byte{0x00, 0xFF, 0xA5}
	for _, p := range patterns {
		var key [wire.SessionKeySize]byte
		for i := range key {
			key[i] = p
		}

		wrapped, err := WrapSessionKey(pub, key)
		if err != nil {
			t.Fatalf("WrapSessionKey(%x): %v", p, err)
		}
		got, err := kp.Unwrap(wrapped)
		if err != nil {
			t.Fatalf("Unwrap(%x): %v", p, err)
		}
		if got != key {
			t.Errorf("pattern %x: round trip mismatch", p)
		}
	}
}

func TestAsymmetricDistinctKeypairsProduceDistinctPublicKeys(t *testing.T) {
	a, err := GenerateAsymmetric()
	if err != nil {
		t.Fatalf("GenerateAsymmetric: %v", err)
	}
	b, err := GenerateAsymmetric()
	if err != nil {
		t.Fatalf("GenerateAsymmetric: %v", err)
	}

	aBytes, _ := a.PublicKeyBytes()
	bBytes, _ := b.PublicKeyBytes()
	if bytes.Equal(aBytes[:], bBytes[:]) {
		t.Error("two independently generated keypairs produced identical public key encodings")
	}
}

func TestParseAsymmetricPublicKeyRejectsZeroExponent(t *testing.T) {
	var data [wire.AsymmetricPublicKeySize]byte
	if _, err := ParseAsymmetricPublicKey(data); err == nil {
		t.Error("expected error parsing a public key with zero exponent")
	}
}

func TestFingerprintStableForSameKey(t *testing.T) {
	kp, err := GenerateAsymmetric()
	if err != nil {
		t.Fatalf("GenerateAsymmetric: %v", err)
	}
	pubBytes, err := kp.PublicKeyBytes()
	if err != nil {
		t.Fatalf("PublicKeyBytes: %v", err)
	}

	if Fingerprint(pubBytes) != Fingerprint(pubBytes) {
		t.Error("Fingerprint is not stable for the same input")
	}
}
