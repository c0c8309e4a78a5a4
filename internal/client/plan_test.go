package client

import (
	"testing"

	"github.com/vaultkeep/vaultbackup/internal/wire"
)

func TestPlanChunkCount(t *testing.T) {
	tests := []struct {
		name          string
		plaintextSize int
		maxChunkBytes int
		wantPackets   int
	}{
		{"empty file still needs one packet", 0, 256 * 1024, 1},
		{"small file, one packet", 100, 256 * 1024, 1},
		{"exact multiple of chunk size needs one extra packet for padding", 256 * 1024, 256 * 1024, 2},
		{"several packets", 10 * 1024 * 1024, 256 * 1024, 41},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Plan(tt.plaintextSize, tt.maxChunkBytes)
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}
			if got.Packets != tt.wantPackets {
				t.Errorf("Packets = %d, want %d", got.Packets, tt.wantPackets)
			}
		})
	}
}

func TestPlanRejectsPacketCeiling(t *testing.T) {
	huge := wire.MaxPacketsPerFile * 64 * 1024
	if _, err := Plan(huge, 64*1024); err == nil {
		t.Fatal("expected error for a plan exceeding the packet ceiling")
	}
}

func TestPlanWireBytesAccountsForHeaders(t *testing.T) {
	got, err := Plan(100, 256*1024)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	wantHeaderBytes := got.Packets * (wire.RequestHeaderSize + wire.FilePacketHeaderSize)
	if got.WireBytes != wantHeaderBytes+got.CiphertextBytes {
		t.Errorf("WireBytes = %d, want %d", got.WireBytes, wantHeaderBytes+got.CiphertextBytes)
	}
}
