package wire

import (
	"fmt"
	"unicode/utf8"
)

// EncodeName encodes name into a fixed 255-byte, null-terminated,
// zero-padded field. name must be valid UTF-8 of at most 254 bytes.
func EncodeName(name string) ([NameFieldSize]byte, error) {
	var out [NameFieldSize]byte

	if !utf8.ValidString(name) {
		return out, ErrNameNotUTF8
	}
	if len(name) > NameFieldSize-1 {
		return out, fmt.Errorf("%w: got %d bytes", ErrNameTooLong, len(name))
	}

	copy(out[:], name)
	return out, nil
}

// DecodeName extracts a name from a fixed 255-byte field, stopping at the
// first null byte.
func DecodeName(field [NameFieldSize]byte) string {
	n := 0
	for n < len(field) && field[n] != 0 {
		n++
	}
	return string(field[:n])
}
