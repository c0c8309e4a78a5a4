package client

import (
	"fmt"

	"github.com/vaultkeep/vaultbackup/internal/wire"
)

// PlanResult reports the packet count and total wire bytes a transfer
// would use for a file of a given size, without opening a connection.
type PlanResult struct {
	Packets         int
	CiphertextBytes int
	WireBytes       int
}

// Plan computes a PlanResult for a plaintext of plaintextSize bytes
// chunked at maxChunkBytes, assuming AES-256-CBC/PKCS#7 (one block of
// padding at minimum). Used by tests to check chunk-count arithmetic
// against the 65535-packet ceiling without a live server.
func Plan(plaintextSize, maxChunkBytes int) (PlanResult, error) {
	if plaintextSize < 0 {
		return PlanResult{}, fmt.Errorf("plaintextSize must be non-negative")
	}
	if maxChunkBytes <= 0 {
		return PlanResult{}, fmt.Errorf("maxChunkBytes must be positive")
	}

	ciphertextSize := (plaintextSize/wire.SymmetricBlockSize + 1) * wire.SymmetricBlockSize
	packets := (ciphertextSize + maxChunkBytes - 1) / maxChunkBytes
	if packets == 0 {
		packets = 1
	}
	if packets > wire.MaxPacketsPerFile {
		return PlanResult{}, fmt.Errorf("plan requires %d packets, exceeds ceiling %d", packets, wire.MaxPacketsPerFile)
	}

	wireBytes := packets*(wire.RequestHeaderSize+wire.FilePacketHeaderSize) + ciphertextSize
	return PlanResult{Packets: packets, CiphertextBytes: ciphertextSize, WireBytes: wireBytes}, nil
}
