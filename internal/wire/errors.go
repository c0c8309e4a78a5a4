package wire

import "errors"

// Sentinel errors, wrapped with %w at the call site so that errors.Is
// still matches. Mirrors the teacher's convention of one var block of
// sentinels per package rather than ad hoc fmt.Errorf strings.
var (
	ErrShortHeader                = errors.New("wire: insufficient bytes for header")
	ErrShortPayload                = errors.New("wire: insufficient bytes for payload")
	ErrVersionMismatch             = errors.New("wire: unsupported protocol version")
	ErrDeclaredSizeExceedsCeiling  = errors.New("wire: declared payload length exceeds ceiling")
	ErrNameTooLong                 = errors.New("wire: name exceeds 254 useful bytes")
	ErrNameNotUTF8                 = errors.New("wire: name is not valid UTF-8")
	ErrInvalidPacketIndex          = errors.New("wire: packet index out of range")
)
