package server

import (
	"fmt"

	"github.com/vaultkeep/vaultbackup/internal/wire"
)

// ActiveSession is the server's volatile per-connection state: the
// identifier bound to the socket once it has registered or reconnected,
// the session key generated on key exchange, and the file currently being
// reassembled, if any (§3).
type ActiveSession struct {
	ClientID   [wire.IdentifierSize]byte
	Name       string
	SessionKey [wire.SessionKeySize]byte
	Pending    *PendingFile
}

// PendingFile accumulates the ciphertext chunks of one in-flight SEND_FILE
// upload until the last packet arrives.
type PendingFile struct {
	Filename      string
	EncryptedSize uint32
	OriginalSize  uint32
	Total         uint16
	nextIndex     uint16
	buf           []byte
}

// NewPendingFile starts reassembly for a file announced by its first
// packet header.
func NewPendingFile(h wire.FilePacketHeader) *PendingFile {
	return &PendingFile{
		Filename:      h.Filename,
		EncryptedSize: h.EncryptedSize,
		OriginalSize:  h.OriginalSize,
		Total:         h.Total,
		nextIndex:     1,
		buf:           make([]byte, 0, h.EncryptedSize),
	}
}

// Append validates the next packet's header against the file's
// established parameters and appends its chunk, returning true once the
// last packet has been appended.
func (p *PendingFile) Append(h wire.FilePacketHeader, chunk []byte) (bool, error) {
	if h.Filename != p.Filename {
		return false, fmt.Errorf("packet names %q, pending file is %q", h.Filename, p.Filename)
	}
	if h.EncryptedSize != p.EncryptedSize || h.OriginalSize != p.OriginalSize || h.Total != p.Total {
		return false, fmt.Errorf("packet declares sizes/total inconsistent with the pending file")
	}
	if h.Index != p.nextIndex {
		return false, fmt.Errorf("packet index %d out of order, expected %d", h.Index, p.nextIndex)
	}

	p.buf = append(p.buf, chunk...)
	p.nextIndex++

	if uint32(len(p.buf)) > p.EncryptedSize {
		return false, fmt.Errorf("accumulated %d bytes exceeds declared encrypted size %d", len(p.buf), p.EncryptedSize)
	}
	return h.Index == h.Total, nil
}

// Ciphertext returns the fully reassembled ciphertext buffer. Call only
// after Append has reported completion.
func (p *PendingFile) Ciphertext() []byte {
	return p.buf
}
