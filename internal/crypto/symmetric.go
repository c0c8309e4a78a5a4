package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/vaultkeep/vaultbackup/internal/wire"
)

// zeroIV is the fixed, all-zero CBC initialization vector mandated by the
// protocol. A session key is used for exactly one file transfer and never
// persisted, so IV reuse across messages under the same key does not arise
// here the way it would for a long-lived key — but this is a protocol
// invariant, not a judgment call made in this package: never randomize it.
var zeroIV [wire.SymmetricBlockSize]byte

var (
	ErrInvalidKeySize      = errors.New("symmetric: key must be exactly 32 bytes")
	ErrCiphertextMalformed = errors.New("symmetric: ciphertext is not a whole number of blocks")
	ErrPaddingInvalid      = errors.New("symmetric: padding invalid")
)

// Symmetric is a session key capable of whole-buffer AES-256-CBC encryption
// with PKCS#7 padding and a fixed zero IV, matching the wire format's
// "encrypt the whole file once, then chunk the ciphertext" invariant (§4.4):
// this type is never handed a partial buffer across two calls.
type Symmetric struct {
	key [wire.SessionKeySize]byte
}

// NewSymmetric wraps a 32-byte session key for use as an AES-256 key.
func NewSymmetric(key [wire.SessionKeySize]byte) Symmetric {
	return Symmetric{key: key}
}

// Encrypt pads plaintext with PKCS#7 and encrypts it as a single CBC
// operation under the fixed zero IV. The returned ciphertext is always
// len(plaintext) rounded up to the next block boundary, plus one block if
// plaintext is already block-aligned (PKCS#7 always adds at least one byte
// of padding).
func (s Symmetric) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("symmetric: %w", err)
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))

	mode := cipher.NewCBCEncrypter(block, zeroIV[:])
	mode.CryptBlocks(out, padded)
	return out, nil
}

// Decrypt reverses Encrypt: CBC-decrypts the whole ciphertext under the
// fixed zero IV, then strips and validates PKCS#7 padding.
func (s Symmetric) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("symmetric: %w", err)
	}

	blockSize := block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, ErrCiphertextMalformed
	}

	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, zeroIV[:])
	mode.CryptBlocks(out, ciphertext)

	return pkcs7Unpad(out, blockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrPaddingInvalid
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrPaddingInvalid
	}

	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrPaddingInvalid
		}
	}

	return data[:len(data)-padLen], nil
}
