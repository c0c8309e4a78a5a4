package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestNameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "short name", in: "alice"},
		{name: "empty name", in: ""},
		{name: "exactly 254 bytes", in: strings.Repeat("a", 254)},
		{name: "255 bytes rejected", in: strings.Repeat("a", 255), wantErr: true},
		{name: "invalid utf8", in: string([]byte{0xff, 0xfe}), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, err := EncodeName(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeName() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(field) != NameFieldSize {
				t.Fatalf("field size = %d, want %d", len(field), NameFieldSize)
			}
			if got := DecodeName(field); got != tt.in {
				t.Errorf("DecodeName() = %q, want %q", got, tt.in)
			}
		})
	}
}

func TestRegisterRequestRoundTrip(t *testing.T) {
	req := RegisterRequest{Name: "bob"}
	data, err := EncodeRegisterRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) != NameFieldSize {
		t.Fatalf("payload size = %d, want %d", len(data), NameFieldSize)
	}

	got, err := DecodeRegisterRequest(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != req {
		t.Errorf("got %+v, want %+v", got, req)
	}
}

func TestPublishPublicKeyRequestRoundTrip(t *testing.T) {
	var pub [AsymmetricPublicKeySize]byte
	for i := range pub {
		pub[i] = byte(i)
	}
	req := PublishPublicKeyRequest{Name: "carol", PublicKey: pub}

	data, err := EncodePublishPublicKeyRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodePublishPublicKeyRequest(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != req {
		t.Errorf("got %+v, want %+v", got, req)
	}
}

func TestFilePacketHeaderRoundTrip(t *testing.T) {
	h := FilePacketHeader{
		EncryptedSize: 4096,
		OriginalSize:  4090,
		Index:         1,
		Total:         3,
		Filename:      "report.pdf",
	}
	chunk := bytes.Repeat([]byte{0xAB}, 64)

	encodedHeader, err := EncodeFilePacketHeader(h)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(encodedHeader) != FilePacketHeaderSize {
		t.Fatalf("header size = %d, want %d", len(encodedHeader), FilePacketHeaderSize)
	}

	payload := append(append([]byte(nil), encodedHeader...), chunk...)

	decodedHeader, decodedChunk, err := DecodeFilePacketHeader(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decodedHeader != h {
		t.Errorf("got %+v, want %+v", decodedHeader, h)
	}
	if !bytes.Equal(decodedChunk, chunk) {
		t.Errorf("chunk mismatch")
	}
}

func TestFilePacketHeaderRejectsBadIndex(t *testing.T) {
	cases := []FilePacketHeader{
		{EncryptedSize: 1, OriginalSize: 1, Index: 0, Total: 3, Filename: "x"},
		{EncryptedSize: 1, OriginalSize: 1, Index: 4, Total: 3, Filename: "x"},
	}
	for _, h := range cases {
		encoded, err := EncodeFilePacketHeader(h)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if _, _, err := DecodeFilePacketHeader(encoded); err == nil {
			t.Errorf("expected rejection for index %d of %d", h.Index, h.Total)
		}
	}
}

func TestFileReceivedResponseRoundTrip(t *testing.T) {
	r := FileReceivedResponse{
		ClientID:    [IdentifierSize]byte{9, 9, 9},
		ContentSize: 6,
		Filename:    "hello.txt",
		Crc:         3015617425,
	}

	data, err := EncodeFileReceivedResponse(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeFileReceivedResponse(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != r {
		t.Errorf("got %+v, want %+v", got, r)
	}
}

func TestHealthStatusResponseRoundTrip(t *testing.T) {
	r := HealthStatusResponse{Draining: true, ActiveSessions: 12}
	got, err := DecodeHealthStatusResponse(EncodeHealthStatusResponse(r))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != r {
		t.Errorf("got %+v, want %+v", got, r)
	}
}
