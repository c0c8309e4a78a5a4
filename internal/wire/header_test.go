package wire

import (
	"bytes"
	"testing"
)

func TestRequestHeaderEncodeDecode(t *testing.T) {
	var id [IdentifierSize]byte
	for i := range id {
		id[i] = byte(i)
	}

	tests := []struct {
		name    string
		header  RequestHeader
		wantErr bool
	}{
		{
			name:   "register with zero identifier",
			header: NewRequestHeader([IdentifierSize]byte{}, ReqRegister, 255),
		},
		{
			name:   "send file with populated identifier",
			header: NewRequestHeader(id, ReqSendFile, MaxChunkBytes),
		},
		{
			name: "wrong version",
			header: RequestHeader{
				ClientID:      id,
				Version:       ProtocolVersion + 1,
				Code:          ReqRegister,
				PayloadLength: 255,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeRequestHeader(tt.header)
			if len(encoded) != RequestHeaderSize {
				t.Fatalf("encoded size = %d, want %d", len(encoded), RequestHeaderSize)
			}

			decoded, err := DecodeRequestHeader(encoded)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeRequestHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			if decoded != tt.header {
				t.Errorf("decoded = %+v, want %+v", decoded, tt.header)
			}
		})
	}
}

func TestRequestHeaderReadWrite(t *testing.T) {
	h := NewRequestHeader([IdentifierSize]byte{1, 2, 3}, ReqReconnect, 42)

	var buf bytes.Buffer
	if err := WriteRequestHeader(&buf, h); err != nil {
		t.Fatalf("WriteRequestHeader: %v", err)
	}

	got, err := ReadRequestHeader(&buf)
	if err != nil {
		t.Fatalf("ReadRequestHeader: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestDecodeRequestHeaderShort(t *testing.T) {
	_, err := DecodeRequestHeader(make([]byte, RequestHeaderSize-1))
	if err == nil {
		t.Fatal("expected error for short header")
	}
}

func TestResponseHeaderEncodeDecode(t *testing.T) {
	h := NewResponseHeader(RespFileReceivedWithCrc, 512)

	encoded := EncodeResponseHeader(h)
	if len(encoded) != ResponseHeaderSize {
		t.Fatalf("encoded size = %d, want %d", len(encoded), ResponseHeaderSize)
	}

	decoded, err := DecodeResponseHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeResponseHeader: %v", err)
	}
	if decoded != h {
		t.Errorf("decoded = %+v, want %+v", decoded, h)
	}
}

func TestCheckDeclaredSize(t *testing.T) {
	if err := CheckDeclaredSize(ReqSendFile, MaxFilePayloadBytes); err != nil {
		t.Errorf("expected ceiling to be inclusive, got %v", err)
	}
	if err := CheckDeclaredSize(ReqSendFile, MaxFilePayloadBytes+1); err == nil {
		t.Error("expected oversized SEND_FILE payload to be rejected")
	}
	if err := CheckDeclaredSize(ReqRegister, MaxControlPayloadBytes+1); err == nil {
		t.Error("expected oversized control payload to be rejected")
	}

	// This is the property that matters most: a 1 GiB declared payload
	// must be rejected by inspecting the header alone, with no
	// allocation proportional to the declared size.
	const oneGiB = 1 << 30
	if err := CheckDeclaredSize(ReqSendFile, oneGiB); err == nil {
		t.Error("expected 1 GiB declared payload to be rejected before any allocation")
	}
}
