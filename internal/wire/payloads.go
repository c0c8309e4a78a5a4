package wire

import (
	"encoding/binary"
	"fmt"
)

// FilePacketHeader prefixes the ciphertext chunk of every SEND_FILE
// request.
//
// Layout (little-endian): EncryptedSize(4) OriginalSize(4) Index(2) Total(2) Filename(255)
const FilePacketHeaderSize = 4 + 4 + 2 + 2 + NameFieldSize

type FilePacketHeader struct {
	EncryptedSize uint32
	OriginalSize  uint32
	Index         uint16
	Total         uint16
	Filename      string
}

// RegisterRequest is the payload of request code 1025.
type RegisterRequest struct {
	Name string
}

// EncodeRegisterRequest encodes a RegisterRequest payload.
func EncodeRegisterRequest(r RegisterRequest) ([]byte, error) {
	name, err := EncodeName(r.Name)
	if err != nil {
		return nil, err
	}
	return name[:], nil
}

// DecodeRegisterRequest decodes a RegisterRequest payload.
func DecodeRegisterRequest(data []byte) (RegisterRequest, error) {
	if len(data) < NameFieldSize {
		return RegisterRequest{}, fmt.Errorf("%w: REGISTER payload", ErrShortPayload)
	}
	var field [NameFieldSize]byte
	copy(field[:], data[:NameFieldSize])
	return RegisterRequest{Name: DecodeName(field)}, nil
}

// PublishPublicKeyRequest is the payload of request code 1026.
type PublishPublicKeyRequest struct {
	Name      string
	PublicKey [AsymmetricPublicKeySize]byte
}

func EncodePublishPublicKeyRequest(r PublishPublicKeyRequest) ([]byte, error) {
	name, err := EncodeName(r.Name)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, NameFieldSize+AsymmetricPublicKeySize)
	buf = append(buf, name[:]...)
	buf = append(buf, r.PublicKey[:]...)
	return buf, nil
}

func DecodePublishPublicKeyRequest(data []byte) (PublishPublicKeyRequest, error) {
	want := NameFieldSize + AsymmetricPublicKeySize
	if len(data) < want {
		return PublishPublicKeyRequest{}, fmt.Errorf("%w: PUBLISH_PUBLIC_KEY payload needs %d bytes, got %d", ErrShortPayload, want, len(data))
	}
	var nameField [NameFieldSize]byte
	copy(nameField[:], data[:NameFieldSize])

	r := PublishPublicKeyRequest{Name: DecodeName(nameField)}
	copy(r.PublicKey[:], data[NameFieldSize:NameFieldSize+AsymmetricPublicKeySize])
	return r, nil
}

// ReconnectRequest is the payload of request code 1027.
type ReconnectRequest struct {
	Name string
}

func EncodeReconnectRequest(r ReconnectRequest) ([]byte, error) {
	name, err := EncodeName(r.Name)
	if err != nil {
		return nil, err
	}
	return name[:], nil
}

func DecodeReconnectRequest(data []byte) (ReconnectRequest, error) {
	if len(data) < NameFieldSize {
		return ReconnectRequest{}, fmt.Errorf("%w: RECONNECT payload", ErrShortPayload)
	}
	var field [NameFieldSize]byte
	copy(field[:], data[:NameFieldSize])
	return ReconnectRequest{Name: DecodeName(field)}, nil
}

// FilenameRequest is the payload shape shared by CRC_OK/CRC_RETRY/CRC_FAILED.
type FilenameRequest struct {
	Filename string
}

func EncodeFilenameRequest(r FilenameRequest) ([]byte, error) {
	name, err := EncodeName(r.Filename)
	if err != nil {
		return nil, err
	}
	return name[:], nil
}

func DecodeFilenameRequest(data []byte) (FilenameRequest, error) {
	if len(data) < NameFieldSize {
		return FilenameRequest{}, fmt.Errorf("%w: filename payload", ErrShortPayload)
	}
	var field [NameFieldSize]byte
	copy(field[:], data[:NameFieldSize])
	return FilenameRequest{Filename: DecodeName(field)}, nil
}

// EncodeFilePacketHeader encodes just the FilePacketHeader (the caller
// appends the ciphertext chunk after it).
func EncodeFilePacketHeader(h FilePacketHeader) ([]byte, error) {
	name, err := EncodeName(h.Filename)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, FilePacketHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.EncryptedSize)
	binary.LittleEndian.PutUint32(buf[4:8], h.OriginalSize)
	binary.LittleEndian.PutUint16(buf[8:10], h.Index)
	binary.LittleEndian.PutUint16(buf[10:12], h.Total)
	copy(buf[12:12+NameFieldSize], name[:])
	return buf, nil
}

// DecodeFilePacketHeader decodes the fixed-size header prefix of a
// SEND_FILE payload, returning the header and the remaining ciphertext
// chunk bytes.
func DecodeFilePacketHeader(data []byte) (FilePacketHeader, []byte, error) {
	if len(data) < FilePacketHeaderSize {
		return FilePacketHeader{}, nil, fmt.Errorf("%w: SEND_FILE header needs %d bytes, got %d", ErrShortPayload, FilePacketHeaderSize, len(data))
	}

	var nameField [NameFieldSize]byte
	copy(nameField[:], data[12:12+NameFieldSize])

	h := FilePacketHeader{
		EncryptedSize: binary.LittleEndian.Uint32(data[0:4]),
		OriginalSize:  binary.LittleEndian.Uint32(data[4:8]),
		Index:         binary.LittleEndian.Uint16(data[8:10]),
		Total:         binary.LittleEndian.Uint16(data[10:12]),
		Filename:      DecodeName(nameField),
	}

	if h.Index == 0 || h.Total == 0 || h.Index > h.Total {
		return h, nil, fmt.Errorf("%w: index %d of %d", ErrInvalidPacketIndex, h.Index, h.Total)
	}

	chunk := data[FilePacketHeaderSize:]
	return h, chunk, nil
}

// RegistrationSuccessResponse is the payload of response code 1600.
type RegistrationSuccessResponse struct {
	ClientID [IdentifierSize]byte
}

func EncodeRegistrationSuccessResponse(r RegistrationSuccessResponse) []byte {
	return append([]byte(nil), r.ClientID[:]...)
}

func DecodeRegistrationSuccessResponse(data []byte) (RegistrationSuccessResponse, error) {
	if len(data) < IdentifierSize {
		return RegistrationSuccessResponse{}, fmt.Errorf("%w: REGISTRATION_SUCCESS payload", ErrShortPayload)
	}
	var r RegistrationSuccessResponse
	copy(r.ClientID[:], data[:IdentifierSize])
	return r, nil
}

// PublicKeyAcceptedResponse is the payload of response code 1602.
type PublicKeyAcceptedResponse struct {
	ClientID        [IdentifierSize]byte
	WrappedSessionKey [AsymmetricCipherTextSize]byte
}

func EncodePublicKeyAcceptedResponse(r PublicKeyAcceptedResponse) []byte {
	buf := make([]byte, 0, IdentifierSize+AsymmetricCipherTextSize)
	buf = append(buf, r.ClientID[:]...)
	buf = append(buf, r.WrappedSessionKey[:]...)
	return buf
}

func DecodePublicKeyAcceptedResponse(data []byte) (PublicKeyAcceptedResponse, error) {
	want := IdentifierSize + AsymmetricCipherTextSize
	if len(data) < want {
		return PublicKeyAcceptedResponse{}, fmt.Errorf("%w: PUBLIC_KEY_ACCEPTED payload needs %d bytes, got %d", ErrShortPayload, want, len(data))
	}
	var r PublicKeyAcceptedResponse
	copy(r.ClientID[:], data[:IdentifierSize])
	copy(r.WrappedSessionKey[:], data[IdentifierSize:want])
	return r, nil
}

// FileReceivedResponse is the payload of response code 1603.
type FileReceivedResponse struct {
	ClientID    [IdentifierSize]byte
	ContentSize uint32
	Filename    string
	Crc         uint32
}

func EncodeFileReceivedResponse(r FileReceivedResponse) ([]byte, error) {
	name, err := EncodeName(r.Filename)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, IdentifierSize+4+NameFieldSize+4)
	copy(buf[0:IdentifierSize], r.ClientID[:])
	binary.LittleEndian.PutUint32(buf[IdentifierSize:IdentifierSize+4], r.ContentSize)
	copy(buf[IdentifierSize+4:IdentifierSize+4+NameFieldSize], name[:])
	binary.LittleEndian.PutUint32(buf[IdentifierSize+4+NameFieldSize:], r.Crc)
	return buf, nil
}

func DecodeFileReceivedResponse(data []byte) (FileReceivedResponse, error) {
	want := IdentifierSize + 4 + NameFieldSize + 4
	if len(data) < want {
		return FileReceivedResponse{}, fmt.Errorf("%w: FILE_RECEIVED_WITH_CRC payload needs %d bytes, got %d", ErrShortPayload, want, len(data))
	}

	var r FileReceivedResponse
	copy(r.ClientID[:], data[0:IdentifierSize])
	r.ContentSize = binary.LittleEndian.Uint32(data[IdentifierSize : IdentifierSize+4])

	var nameField [NameFieldSize]byte
	copy(nameField[:], data[IdentifierSize+4:IdentifierSize+4+NameFieldSize])
	r.Filename = DecodeName(nameField)

	r.Crc = binary.LittleEndian.Uint32(data[IdentifierSize+4+NameFieldSize:])
	return r, nil
}

// HealthStatusResponse is the payload of response code 1608 (expansion, §4.5).
type HealthStatusResponse struct {
	Draining       bool
	ActiveSessions uint16
}

func EncodeHealthStatusResponse(r HealthStatusResponse) []byte {
	buf := make([]byte, 3)
	if r.Draining {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint16(buf[1:3], r.ActiveSessions)
	return buf
}

func DecodeHealthStatusResponse(data []byte) (HealthStatusResponse, error) {
	if len(data) < 3 {
		return HealthStatusResponse{}, fmt.Errorf("%w: HEALTH_STATUS payload", ErrShortPayload)
	}
	return HealthStatusResponse{
		Draining:       data[0] != 0,
		ActiveSessions: binary.LittleEndian.Uint16(data[1:3]),
	}, nil
}
