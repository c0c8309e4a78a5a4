package server

import (
	"errors"
	"fmt"
	"time"

	vcrypto "github.com/vaultkeep/vaultbackup/internal/crypto"
	"github.com/vaultkeep/vaultbackup/internal/registry"
	"github.com/vaultkeep/vaultbackup/internal/verrors"
	"github.com/vaultkeep/vaultbackup/internal/wire"
)

// handlerFunc dispatches one decoded request for an in-flight worker.
type handlerFunc func(w *Worker, h wire.RequestHeader, body []byte) error

// dispatchTable maps request codes to their handlers, mirroring the
// teacher's switch over msgType in relay/server/connection.go, generalized
// to a lookup table because this protocol's fast path (file packets)
// dominates a connection's lifetime and benefits from O(1) dispatch.
var dispatchTable = map[uint16]handlerFunc{
	wire.ReqRegister:         handleRegister,
	wire.ReqPublishPublicKey: handlePublishPublicKey,
	wire.ReqReconnect:        handleReconnect,
	wire.ReqSendFile:         handleSendFile,
	wire.ReqCrcOk:            handleCrcOutcome,
	wire.ReqCrcRetry:         handleCrcOutcome,
	wire.ReqCrcFailed:        handleCrcOutcome,
	wire.ReqHealthCheck:      handleHealthCheck,
}

func handleRegister(w *Worker, h wire.RequestHeader, body []byte) error {
	req, err := wire.DecodeRegisterRequest(body)
	if err != nil {
		return w.replyProtocolFailure(err)
	}

	id, err := w.registry.Register(w.ctx, req.Name)
	if errors.Is(err, registry.ErrNameTaken) {
		return w.writeResponse(wire.RespRegistrationFailed, nil)
	}
	if err != nil {
		return w.replyProtocolFailure(&verrors.StorageError{Op: "register", Client: req.Name, Err: err})
	}

	w.session = &ActiveSession{ClientID: id, Name: req.Name}
	return w.writeResponse(wire.RespRegistrationSuccess, wire.EncodeRegistrationSuccessResponse(wire.RegistrationSuccessResponse{ClientID: id}))
}

func handlePublishPublicKey(w *Worker, h wire.RequestHeader, body []byte) error {
	req, err := wire.DecodePublishPublicKeyRequest(body)
	if err != nil {
		return w.replyProtocolFailure(err)
	}
	if h.ClientID != w.identifierInUse() {
		return w.replyProtocolFailure(fmt.Errorf("client id in header does not match session"))
	}

	rec, err := w.registry.Lookup(w.ctx, h.ClientID)
	if errors.Is(err, registry.ErrClientNotFound) || rec.Name != req.Name {
		return w.writeResponse(wire.RespUnknownClient, nil)
	}
	if err != nil {
		return w.replyProtocolFailure(&verrors.StorageError{Op: "publishKey lookup", Err: err})
	}

	if err := w.registry.PublishKey(w.ctx, h.ClientID, req.PublicKey[:]); err != nil {
		return w.replyProtocolFailure(&verrors.StorageError{Op: "publishKey", Err: err})
	}

	return w.issueSessionKey(h.ClientID, req.Name, req.PublicKey)
}

func handleReconnect(w *Worker, h wire.RequestHeader, body []byte) error {
	req, err := wire.DecodeReconnectRequest(body)
	if err != nil {
		return w.replyProtocolFailure(err)
	}

	rec, err := w.registry.Lookup(w.ctx, h.ClientID)
	if errors.Is(err, registry.ErrClientNotFound) {
		return w.writeResponse(wire.RespUnknownClient, nil)
	}
	if err != nil {
		return w.replyProtocolFailure(&verrors.StorageError{Op: "reconnect lookup", Err: err})
	}
	if rec.Name != req.Name || len(rec.PublicKey) != wire.AsymmetricPublicKeySize {
		return w.writeResponse(wire.RespUnknownClient, nil)
	}

	var pub [wire.AsymmetricPublicKeySize]byte
	copy(pub[:], rec.PublicKey)
	return w.issueSessionKey(h.ClientID, req.Name, pub)
}

func handleSendFile(w *Worker, h wire.RequestHeader, body []byte) error {
	if w.session == nil || w.session.ClientID != h.ClientID {
		return w.replyProtocolFailure(fmt.Errorf("SEND_FILE before identification"))
	}

	pkt, chunk, err := wire.DecodeFilePacketHeader(body)
	if err != nil {
		return w.replyProtocolFailure(err)
	}
	if _, err := wire.EncodeName(pkt.Filename); err != nil {
		return w.replyProtocolFailure(err)
	}
	if pkt.EncryptedSize > uint32(w.limits.MaxFilePayloadBytes) || pkt.OriginalSize > uint32(w.limits.MaxFilePayloadBytes) {
		return w.replyProtocolFailure(fmt.Errorf("declared size exceeds ceiling"))
	}

	if w.session.Pending == nil {
		if pkt.Index != 1 {
			return w.replyProtocolFailure(fmt.Errorf("first packet has index %d, want 1", pkt.Index))
		}
		w.session.Pending = NewPendingFile(pkt)
	}

	done, err := w.session.Pending.Append(pkt, chunk)
	if err != nil {
		return w.replyProtocolFailure(err)
	}
	if !done {
		return nil
	}

	return w.finishFile()
}

func handleCrcOutcome(w *Worker, h wire.RequestHeader, body []byte) error {
	req, err := wire.DecodeFilenameRequest(body)
	if err != nil {
		return w.replyProtocolFailure(err)
	}
	if w.session == nil {
		return w.replyProtocolFailure(fmt.Errorf("crc outcome before identification"))
	}

	path, pathErr := w.storage.Path(req.Filename)

	switch h.Code {
	case wire.ReqCrcOk:
		if pathErr == nil {
			if err := w.registry.RecordFile(w.ctx, h.ClientID, req.Filename, path, true); err != nil {
				return w.replyProtocolFailure(&verrors.StorageError{Op: "record file outcome", Err: err})
			}
		}
	case wire.ReqCrcRetry:
		if pathErr == nil {
			_ = w.storage.removeQuiet(path)
		}
	case wire.ReqCrcFailed:
		if pathErr == nil {
			_ = w.storage.removeQuiet(path)
			if err := w.registry.RecordFile(w.ctx, h.ClientID, req.Filename, path, false); err != nil {
				return w.replyProtocolFailure(&verrors.StorageError{Op: "record file outcome", Err: err})
			}
		}
	}
	w.session.Pending = nil

	return w.writeResponse(wire.RespGenericAck, nil)
}

func handleHealthCheck(w *Worker, h wire.RequestHeader, body []byte) error {
	payload := wire.EncodeHealthStatusResponse(wire.HealthStatusResponse{
		Draining:       w.draining(),
		ActiveSessions: w.activeSessions(),
	})
	return w.writeResponse(wire.RespHealthStatus, payload)
}

// issueSessionKey generates and wraps a fresh session key for (id, name),
// records it in the registry, binds it to the in-memory session, and
// replies 1602 — the shared tail of both PUBLISH_PUBLIC_KEY and RECONNECT.
func (w *Worker) issueSessionKey(id [wire.IdentifierSize]byte, name string, pub [wire.AsymmetricPublicKeySize]byte) error {
	pubKey, err := vcrypto.ParseAsymmetricPublicKey(pub)
	if err != nil {
		return w.replyProtocolFailure(&verrors.CryptoError{Op: "parse public key", Err: err})
	}

	sessionKey, err := vcrypto.GenerateSessionKey()
	if err != nil {
		return w.replyProtocolFailure(&verrors.CryptoError{Op: "generate session key", Err: err})
	}

	wrapped, err := vcrypto.WrapSessionKey(pubKey, sessionKey)
	if err != nil {
		return w.replyProtocolFailure(&verrors.CryptoError{Op: "wrap session key", Err: err})
	}

	if err := w.registry.SetSessionKey(w.ctx, id, sessionKey[:]); err != nil {
		return w.replyProtocolFailure(&verrors.StorageError{Op: "set session key", Err: err})
	}
	_ = w.registry.Touch(w.ctx, id, time.Now().UTC())

	w.session = &ActiveSession{ClientID: id, Name: name, SessionKey: sessionKey}
	return w.writeResponse(wire.RespPublicKeyAcceptedWithKey, wire.EncodePublicKeyAcceptedResponse(wire.PublicKeyAcceptedResponse{ClientID: id, WrappedSessionKey: wrapped}))
}

// finishFile decrypts a completed PendingFile, verifies its declared
// original size, persists the plaintext, and replies 1603 with the
// server-computed CRC (§4.5, code 1028's last-packet behavior).
func (w *Worker) finishFile() error {
	pending := w.session.Pending
	sym := vcrypto.NewSymmetric(w.session.SessionKey)

	plain, err := sym.Decrypt(pending.Ciphertext())
	if err != nil {
		return w.replyProtocolFailure(&verrors.CryptoError{Op: "decrypt file", Err: err})
	}
	if uint32(len(plain)) != pending.OriginalSize {
		return w.replyProtocolFailure(fmt.Errorf("decrypted length %d does not match declared original size %d", len(plain), pending.OriginalSize))
	}

	crc, _ := vcrypto.Cksum(plain)

	if err := w.storage.WriteFile(pending.Filename, plain); err != nil {
		return w.replyProtocolFailure(err)
	}

	return w.writeResponse(wire.RespFileReceivedWithCrc, mustEncodeFileReceived(w.session.ClientID, uint32(len(plain)), pending.Filename, crc))
}

func mustEncodeFileReceived(id [wire.IdentifierSize]byte, size uint32, filename string, crc uint32) []byte {
	buf, err := wire.EncodeFileReceivedResponse(wire.FileReceivedResponse{ClientID: id, ContentSize: size, Filename: filename, Crc: crc})
	if err != nil {
		// Filename already passed EncodeName's length and UTF-8 checks in
		// handleSendFile; this cannot fail in practice.
		panic(err)
	}
	return buf
}
