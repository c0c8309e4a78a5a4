// Package crypto wraps the two cryptographic primitives the protocol
// needs — asymmetric key wrapping and symmetric bulk encryption — as two
// small, non-polymorphic value types, the same shape the teacher codebase
// uses for its own primitive wrappers (compare pkg/crypto/classical's
// X25519Keypair/Ed25519Keypair).
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/vaultkeep/vaultbackup/internal/wire"
)

// modulusBits is chosen so that PKCS#1v1.5-encrypting a 32-byte session
// key always produces a 128-byte ciphertext (the ciphertext length of
// PKCS#1v1.5 encryption is always exactly the modulus size in bytes).
const modulusBits = 1024

// modulusBytes is modulusBits/8: the fixed width used to serialize the
// public modulus without ASN.1, so the encoded size never varies with the
// modulus's high bit (unlike DER INTEGER encoding).
const modulusBytes = modulusBits / 8

// publicExponent is fixed; only the modulus varies per keypair.
const publicExponent = 65537

var (
	ErrKeyGenerationFailed = errors.New("asymmetric: key generation failed")
	ErrInvalidPublicKey    = errors.New("asymmetric: invalid public key encoding")
	ErrWrapFailed          = errors.New("asymmetric: wrap failed")
	ErrUnwrapFailed        = errors.New("asymmetric: unwrap failed")
	ErrPlaintextTooLarge   = errors.New("asymmetric: plaintext exceeds modulus capacity")
)

// Asymmetric is a keypair capable of wrapping and unwrapping short,
// fixed-size secrets (in this protocol, always a 32-byte session key).
type Asymmetric struct {
	private *rsa.PrivateKey
}

// GenerateAsymmetric generates a fresh keypair for a single client.
func GenerateAsymmetric() (Asymmetric, error) {
	priv, err := rsa.GenerateKey(rand.Reader, modulusBits)
	if err != nil {
		return Asymmetric{}, fmt.Errorf("%w: %v", ErrKeyGenerationFailed, err)
	}
	return Asymmetric{private: priv}, nil
}

// WrapPrivateKey adapts an already-generated RSA private key (e.g. one
// reloaded from disk) into an Asymmetric value.
func WrapPrivateKey(priv *rsa.PrivateKey) Asymmetric {
	return Asymmetric{private: priv}
}

// Unexport returns the underlying private key, for callers that need to
// persist it themselves (e.g. client identity storage).
func (a Asymmetric) Unexport() *rsa.PrivateKey {
	return a.private
}

// PublicKeyBytes serializes the public key to the protocol's fixed
// AsymmetricPublicKeySize encoding: a 128-byte big-endian modulus
// followed by a 4-byte big-endian exponent.
func (a Asymmetric) PublicKeyBytes() ([wire.AsymmetricPublicKeySize]byte, error) {
	var out [wire.AsymmetricPublicKeySize]byte

	n := a.private.PublicKey.N
	if n.BitLen() > modulusBytes*8 {
		return out, fmt.Errorf("%w: modulus wider than %d bytes", ErrInvalidPublicKey, modulusBytes)
	}

	n.FillBytes(out[:modulusBytes])
	binary.BigEndian.PutUint32(out[modulusBytes:], uint32(a.private.PublicKey.E))
	return out, nil
}

// Unwrap decrypts a wrapped session key with the private half of a.
func (a Asymmetric) Unwrap(wrapped [wire.AsymmetricCipherTextSize]byte) ([wire.SessionKeySize]byte, error) {
	var out [wire.SessionKeySize]byte

	plain, err := rsa.DecryptPKCS1v15(rand.Reader, a.private, wrapped[:])
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrUnwrapFailed, err)
	}
	if len(plain) != wire.SessionKeySize {
		return out, fmt.Errorf("%w: unwrapped to %d bytes, want %d", ErrUnwrapFailed, len(plain), wire.SessionKeySize)
	}

	copy(out[:], plain)
	return out, nil
}

// ParseAsymmetricPublicKey decodes a public key previously produced by
// PublicKeyBytes, for use by a peer that only holds the public half.
func ParseAsymmetricPublicKey(data [wire.AsymmetricPublicKeySize]byte) (*rsa.PublicKey, error) {
	n := new(big.Int).SetBytes(data[:modulusBytes])
	e := binary.BigEndian.Uint32(data[modulusBytes:])
	if e == 0 {
		return nil, fmt.Errorf("%w: zero exponent", ErrInvalidPublicKey)
	}
	return &rsa.PublicKey{N: n, E: int(e)}, nil
}

// WrapSessionKey encrypts a 32-byte session key under the given RSA
// public key, producing the fixed-size ciphertext carried in a
// PUBLIC_KEY_ACCEPTED_WITH_SESSION_KEY response.
func WrapSessionKey(pub *rsa.PublicKey, key [wire.SessionKeySize]byte) ([wire.AsymmetricCipherTextSize]byte, error) {
	var out [wire.AsymmetricCipherTextSize]byte

	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, key[:])
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrWrapFailed, err)
	}
	if len(ciphertext) != wire.AsymmetricCipherTextSize {
		return out, fmt.Errorf("%w: wrapped to %d bytes, want %d", ErrWrapFailed, len(ciphertext), wire.AsymmetricCipherTextSize)
	}

	copy(out[:], ciphertext)
	return out, nil
}

// GenerateSessionKey produces a fresh random 32-byte symmetric session key.
func GenerateSessionKey() ([wire.SessionKeySize]byte, error) {
	var key [wire.SessionKeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("%w: %v", ErrKeyGenerationFailed, err)
	}
	return key, nil
}

// Fingerprint returns a short identifier for a public key, useful only
// for log lines (never transmitted on the wire).
func Fingerprint(pub [wire.AsymmetricPublicKeySize]byte) string {
	sum := sha256.Sum256(pub[:])
	return fmt.Sprintf("%x", sum[:8])
}
