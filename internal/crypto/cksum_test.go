package crypto

import "testing"

func TestCksumKnownVectors(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantCrc    uint32
		wantLength uint64
	}{
		{name: "empty", data: nil, wantCrc: 4294967295, wantLength: 0},
		{name: "hello\\n", data: []byte("hello\n"), wantCrc: 3015617425, wantLength: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc, length := Cksum(tt.data)
			if crc != tt.wantCrc {
				t.Errorf("Cksum() crc = %d, want %d", crc, tt.wantCrc)
			}
			if length != tt.wantLength {
				t.Errorf("Cksum() length = %d, want %d", length, tt.wantLength)
			}
		})
	}
}

func TestCksumDeterministic(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	crc1, len1 := Cksum(data)
	crc2, len2 := Cksum(data)
	if crc1 != crc2 || len1 != len2 {
		t.Fatalf("Cksum() not deterministic: (%d,%d) vs (%d,%d)", crc1, len1, crc2, len2)
	}
}

func TestCksumSensitiveToTrailingZeros(t *testing.T) {
	a := []byte("payload")
	b := append(append([]byte(nil), a...), 0x00)

	crcA, _ := Cksum(a)
	crcB, _ := Cksum(b)
	if crcA == crcB {
		t.Error("Cksum() did not distinguish a payload from itself plus a trailing zero byte")
	}
}

func TestCksumSensitiveToContent(t *testing.T) {
	crcA, lenA := Cksum([]byte("aaaa"))
	crcB, lenB := Cksum([]byte("bbbb"))
	if lenA != lenB {
		t.Fatalf("expected equal lengths, got %d and %d", lenA, lenB)
	}
	if crcA == crcB {
		t.Error("Cksum() produced identical crc for different equal-length payloads")
	}
}
