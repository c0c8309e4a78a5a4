package client

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	vcrypto "github.com/vaultkeep/vaultbackup/internal/crypto"
	"github.com/vaultkeep/vaultbackup/internal/verrors"
	"github.com/vaultkeep/vaultbackup/internal/wire"
)

// maxAttempts is the retry budget from §4.4: a fresh connection, a fresh
// key exchange, and a full re-upload on each CRC mismatch, up to three
// total attempts.
const maxAttempts = 3

// dialTimeout bounds connection setup only; once connected the protocol
// has no overall deadline beyond the per-read idle timeout.
const dialTimeout = 10 * time.Second

// state names the client transfer state machine's position, purely for
// logging — transitions are driven by Transfer.Run's control flow, not by
// a table.
type state int

const (
	stateConfigured state = iota
	stateIdentified
	stateKeyExchanged
	stateUploading
	stateAwaitingCrc
	stateVerifyingCrc
	stateDone
	stateRetrying
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateConfigured:
		return "Configured"
	case stateIdentified:
		return "Identified"
	case stateKeyExchanged:
		return "KeyExchanged"
	case stateUploading:
		return "Uploading"
	case stateAwaitingCrc:
		return "AwaitingCrc"
	case stateVerifyingCrc:
		return "VerifyingCrc"
	case stateDone:
		return "Done"
	case stateRetrying:
		return "Retrying"
	case stateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Transfer drives one file upload through the client transfer state
// machine, the way HandshakeOrchestrator drives a connection's handshake:
// one exported Run method stepping through named private methods, each
// returning an error wrapped with the name of the step that failed.
type Transfer struct {
	cfg      *Config
	identity *Identity

	state state

	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer

	sessionKey [wire.SessionKeySize]byte

	plaintext  []byte
	ciphertext []byte
	localCrc   uint32
}

// NewTransfer builds a Transfer for the file named in cfg.Transfer.FilePath.
func NewTransfer(cfg *Config, identity *Identity) *Transfer {
	return &Transfer{cfg: cfg, identity: identity, state: stateConfigured}
}

// Run executes the transfer to completion or to exhaustion of the retry
// budget, returning the terminal Outcome.
func (t *Transfer) Run() (Outcome, error) {
	if err := t.loadFile(); err != nil {
		return OutcomeFailed, fmt.Errorf("load file: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome, err := t.attempt(attempt)
		if err == nil && outcome == OutcomeDone {
			return OutcomeDone, nil
		}
		lastErr = err
		if outcome != OutcomeFailed || attempt == maxAttempts {
			break
		}
		t.state = stateRetrying
	}

	t.state = stateFailed
	if lastErr == nil {
		lastErr = fmt.Errorf("transfer failed after %d attempts", maxAttempts)
	}
	return OutcomeFailed, lastErr
}

// attempt performs one full connect-identify-upload-verify cycle. A
// returned (OutcomeFailed, *verrors.IntegrityError) means "CRC mismatch,
// retry budget permitting"; any other non-nil error means a fatal
// protocol/network/crypto error that still counts against the budget per
// §4.5's propagation policy, but carries detail for the final report.
func (t *Transfer) attempt(attemptNum int) (Outcome, error) {
	if err := t.connect(); err != nil {
		return OutcomeFailed, fmt.Errorf("attempt %d: connect: %w", attemptNum, err)
	}
	defer t.conn.Close()

	if err := t.identify(); err != nil {
		return OutcomeFailed, fmt.Errorf("attempt %d: identify: %w", attemptNum, err)
	}
	t.state = stateIdentified

	if err := t.exchangeKey(); err != nil {
		return OutcomeFailed, fmt.Errorf("attempt %d: key exchange: %w", attemptNum, err)
	}
	t.state = stateKeyExchanged

	if err := t.encryptPlaintext(); err != nil {
		return OutcomeFailed, fmt.Errorf("attempt %d: encrypt: %w", attemptNum, err)
	}

	if err := t.upload(); err != nil {
		return OutcomeFailed, fmt.Errorf("attempt %d: upload: %w", attemptNum, err)
	}
	t.state = stateUploading

	t.state = stateAwaitingCrc
	serverCrc, err := t.awaitCrc()
	if err != nil {
		return OutcomeFailed, fmt.Errorf("attempt %d: await crc: %w", attemptNum, err)
	}

	t.state = stateVerifyingCrc
	if serverCrc == t.localCrc {
		if err := t.acknowledge(wire.ReqCrcOk); err != nil {
			return OutcomeFailed, fmt.Errorf("attempt %d: acknowledge crc-ok: %w", attemptNum, err)
		}
		t.state = stateDone
		return OutcomeDone, nil
	}

	code := wire.ReqCrcRetry
	if attemptNum == maxAttempts {
		code = wire.ReqCrcFailed
	}
	if err := t.acknowledge(code); err != nil {
		return OutcomeFailed, fmt.Errorf("attempt %d: acknowledge crc mismatch: %w", attemptNum, err)
	}
	return OutcomeFailed, &verrors.IntegrityError{
		Filename: t.filename(),
		Want:     t.localCrc,
		Got:      serverCrc,
		Attempt:  attemptNum,
	}
}

func (t *Transfer) loadFile() error {
	data, err := os.ReadFile(t.cfg.Transfer.FilePath)
	if err != nil {
		return &verrors.StorageError{Op: "client.loadFile", Err: err}
	}
	t.plaintext = data
	crc, _ := vcrypto.Cksum(data)
	t.localCrc = crc
	return nil
}

func (t *Transfer) filename() string {
	return filepath.Base(t.cfg.Transfer.FilePath)
}

func (t *Transfer) connect() error {
	conn, err := net.DialTimeout("tcp", t.cfg.Server.Address, dialTimeout)
	if err != nil {
		return &verrors.NetworkError{Op: "dial", Addr: t.cfg.Server.Address, Err: err}
	}
	t.conn = conn
	t.r = bufio.NewReader(conn)
	t.w = bufio.NewWriter(conn)
	return nil
}

// identify performs the Configured->Identified transition: reconnect if a
// local identity already exists, falling back to register on 1606;
// otherwise register outright.
func (t *Transfer) identify() error {
	if t.identity.Registered {
		ok, err := t.reconnect()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		// Fall through to register: server no longer recognizes this
		// identifier (1606 UnknownClient).
	}
	return t.register()
}

func (t *Transfer) register() error {
	payload, err := wire.EncodeRegisterRequest(wire.RegisterRequest{Name: t.identity.Name})
	if err != nil {
		return fmt.Errorf("encode register request: %w", err)
	}
	var zeroID [wire.IdentifierSize]byte
	if err := t.sendRequest(zeroID, wire.ReqRegister, payload); err != nil {
		return err
	}

	resp, body, err := t.readResponse()
	if err != nil {
		return err
	}
	switch resp.Code {
	case wire.RespRegistrationSuccess:
		r, err := wire.DecodeRegistrationSuccessResponse(body)
		if err != nil {
			return fmt.Errorf("decode registration success: %w", err)
		}
		if err := t.identity.SetIdentifier(t.cfg.Identity.StateDir, r.ClientID); err != nil {
			return fmt.Errorf("persist identifier: %w", err)
		}
		return t.publishKey()
	case wire.RespRegistrationFailed:
		return &verrors.ProtocolError{Op: "register", Code: resp.Code, Err: fmt.Errorf("name %q already taken", t.identity.Name)}
	default:
		return unexpectedResponse("register", resp.Code)
	}
}

func (t *Transfer) publishKey() error {
	pub, err := t.identity.Keypair.PublicKeyBytes()
	if err != nil {
		return &verrors.CryptoError{Op: "publishKey", Err: err}
	}
	payload, err := wire.EncodePublishPublicKeyRequest(wire.PublishPublicKeyRequest{Name: t.identity.Name, PublicKey: pub})
	if err != nil {
		return fmt.Errorf("encode publish-key request: %w", err)
	}
	if err := t.sendRequest(t.identity.Identifier, wire.ReqPublishPublicKey, payload); err != nil {
		return err
	}

	resp, body, err := t.readResponse()
	if err != nil {
		return err
	}
	if resp.Code != wire.RespPublicKeyAcceptedWithKey {
		return unexpectedResponse("publishKey", resp.Code)
	}
	return t.acceptSessionKey(body)
}

// reconnect attempts the 1027 path. A false, nil return means the server
// replied 1606 (unknown client) and the caller should fall back to
// register.
func (t *Transfer) reconnect() (bool, error) {
	payload, err := wire.EncodeReconnectRequest(wire.ReconnectRequest{Name: t.identity.Name})
	if err != nil {
		return false, fmt.Errorf("encode reconnect request: %w", err)
	}
	if err := t.sendRequest(t.identity.Identifier, wire.ReqReconnect, payload); err != nil {
		return false, err
	}

	resp, body, err := t.readResponse()
	if err != nil {
		return false, err
	}
	switch resp.Code {
	case wire.RespPublicKeyAcceptedWithKey:
		if err := t.acceptSessionKey(body); err != nil {
			return false, err
		}
		return true, nil
	case wire.RespUnknownClient:
		return false, nil
	default:
		return false, unexpectedResponse("reconnect", resp.Code)
	}
}

func (t *Transfer) acceptSessionKey(body []byte) error {
	r, err := wire.DecodePublicKeyAcceptedResponse(body)
	if err != nil {
		return fmt.Errorf("decode public-key-accepted response: %w", err)
	}
	key, err := t.identity.Keypair.Unwrap(r.WrappedSessionKey)
	if err != nil {
		return &verrors.CryptoError{Op: "unwrap session key", Err: err}
	}
	t.sessionKey = key
	return nil
}

// exchangeKey sends nothing on the wire; it is a named step for symmetry
// with the state machine's transition list. The session key is actually
// obtained as a side effect of identify() (register+publishKey, or
// reconnect), since both request/response pairs are single round trips on
// the wire, so this step only checks that a session key is in place.
func (t *Transfer) exchangeKey() error {
	var zero [wire.SessionKeySize]byte
	if t.sessionKey == zero {
		return fmt.Errorf("no session key established")
	}
	return nil
}

func (t *Transfer) encryptPlaintext() error {
	sym := vcrypto.NewSymmetric(t.sessionKey)
	ct, err := sym.Encrypt(t.plaintext)
	if err != nil {
		return &verrors.CryptoError{Op: "encrypt file", Err: err}
	}
	t.ciphertext = ct
	return nil
}

// upload splits the whole-file ciphertext into chunks of at most
// cfg.Transfer.MaxChunkBytes and sends one 1028 SendFile request per
// chunk, as required by §4.4: the ciphertext is produced by exactly one
// whole-buffer encryption call (encryptPlaintext above), never re-encrypted
// per chunk.
func (t *Transfer) upload() error {
	chunkSize := t.cfg.Transfer.MaxChunkBytes
	total := (len(t.ciphertext) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	if total > wire.MaxPacketsPerFile {
		return fmt.Errorf("file requires %d packets, exceeds ceiling %d", total, wire.MaxPacketsPerFile)
	}

	name := t.filename()
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(t.ciphertext) {
			end = len(t.ciphertext)
		}
		chunk := t.ciphertext[start:end]

		header, err := wire.EncodeFilePacketHeader(wire.FilePacketHeader{
			EncryptedSize: uint32(len(t.ciphertext)),
			OriginalSize:  uint32(len(t.plaintext)),
			Index:         uint16(i + 1),
			Total:         uint16(total),
			Filename:      name,
		})
		if err != nil {
			return fmt.Errorf("encode file packet header: %w", err)
		}

		payload := append(header, chunk...)
		if err := t.sendRequest(t.identity.Identifier, wire.ReqSendFile, payload); err != nil {
			return err
		}
	}
	return nil
}

// awaitCrc reads the single 1603 response sent after the last packet.
func (t *Transfer) awaitCrc() (uint32, error) {
	resp, body, err := t.readResponse()
	if err != nil {
		return 0, err
	}
	if resp.Code != wire.RespFileReceivedWithCrc {
		return 0, unexpectedResponse("awaitCrc", resp.Code)
	}
	r, err := wire.DecodeFileReceivedResponse(body)
	if err != nil {
		return 0, fmt.Errorf("decode file-received response: %w", err)
	}
	return r.Crc, nil
}

func (t *Transfer) acknowledge(code uint16) error {
	payload, err := wire.EncodeFilenameRequest(wire.FilenameRequest{Filename: t.filename()})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", wire.RequestName(code), err)
	}
	if err := t.sendRequest(t.identity.Identifier, code, payload); err != nil {
		return err
	}
	resp, _, err := t.readResponse()
	if err != nil {
		return err
	}
	if resp.Code != wire.RespGenericAck {
		return unexpectedResponse(wire.RequestName(code), resp.Code)
	}
	return nil
}

func (t *Transfer) sendRequest(clientID [wire.IdentifierSize]byte, code uint16, payload []byte) error {
	header := wire.NewRequestHeader(clientID, code, uint32(len(payload)))
	if err := wire.WriteRequestHeader(t.w, header); err != nil {
		return &verrors.NetworkError{Op: "write " + wire.RequestName(code) + " header", Addr: t.cfg.Server.Address, Err: err}
	}
	if _, err := t.w.Write(payload); err != nil {
		return &verrors.NetworkError{Op: "write " + wire.RequestName(code) + " payload", Addr: t.cfg.Server.Address, Err: err}
	}
	if err := t.w.Flush(); err != nil {
		return &verrors.NetworkError{Op: "flush " + wire.RequestName(code), Addr: t.cfg.Server.Address, Err: err}
	}
	return nil
}

func (t *Transfer) readResponse() (wire.ResponseHeader, []byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(wire.IdleTimeout)); err != nil {
		return wire.ResponseHeader{}, nil, &verrors.NetworkError{Op: "set read deadline", Addr: t.cfg.Server.Address, Err: err}
	}
	resp, err := wire.ReadResponseHeader(t.r)
	if err != nil {
		return wire.ResponseHeader{}, nil, &verrors.NetworkError{Op: "read response header", Addr: t.cfg.Server.Address, Err: err}
	}
	body := make([]byte, resp.PayloadLength)
	if _, err := io.ReadFull(t.r, body); err != nil {
		return wire.ResponseHeader{}, nil, &verrors.NetworkError{Op: "read response payload", Addr: t.cfg.Server.Address, Err: err}
	}
	if resp.Code == wire.RespMalformedHeader || resp.Code == wire.RespProtocolFailure {
		return resp, body, &verrors.ProtocolError{Op: "server", Code: resp.Code, Err: fmt.Errorf("%s", wire.ResponseName(resp.Code))}
	}
	return resp, body, nil
}

func unexpectedResponse(step string, code uint16) error {
	return &verrors.ProtocolError{Op: step, Code: code, Err: fmt.Errorf("unexpected response %s", wire.ResponseName(code))}
}
