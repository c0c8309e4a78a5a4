package client

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	vcrypto "github.com/vaultkeep/vaultbackup/internal/crypto"
	"github.com/vaultkeep/vaultbackup/internal/wire"
)

// identityFile is the on-disk JSON representation of a client's persisted
// identity, the moral equivalent of the teacher's private_key.bin/
// peer_id.txt pair collapsed into one file.
type identityFile struct {
	Name          string `json:"name"`
	Identifier    string `json:"identifier"` // hex-encoded 16-byte server-issued ID
	PrivateKeyDER []byte `json:"private_key_der"`
}

// Identity is a client's local, persisted state: its self-asserted name,
// the identifier the server issued on registration (empty until then), and
// its RSA keypair.
type Identity struct {
	Name       string
	Identifier [wire.IdentifierSize]byte
	Registered bool
	Keypair    vcrypto.Asymmetric
	privateKey *rsa.PrivateKey
}

// LoadOrCreateIdentity loads a persisted identity for name from stateDir,
// or generates and persists a fresh one if none exists yet.
func LoadOrCreateIdentity(stateDir, name string) (*Identity, error) {
	path := filepath.Join(stateDir, "identity.json")

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return createIdentity(stateDir, path, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	if f.Name != name {
		return nil, fmt.Errorf("identity file is for %q, config requests %q", f.Name, name)
	}

	priv, err := x509.ParsePKCS1PrivateKey(f.PrivateKeyDER)
	if err != nil {
		return nil, fmt.Errorf("parse persisted private key: %w", err)
	}

	id := &Identity{Name: f.Name, privateKey: priv, Keypair: vcrypto.WrapPrivateKey(priv)}
	if f.Identifier != "" {
		raw, err := hex.DecodeString(f.Identifier)
		if err != nil || len(raw) != wire.IdentifierSize {
			return nil, fmt.Errorf("malformed persisted identifier %q", f.Identifier)
		}
		copy(id.Identifier[:], raw)
		id.Registered = true
	}
	return id, nil
}

func createIdentity(stateDir, path, name string) (*Identity, error) {
	kp, err := vcrypto.GenerateAsymmetric()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	id := &Identity{Name: name, Keypair: kp, privateKey: kp.Unexport()}
	if err := id.persist(stateDir, path); err != nil {
		return nil, err
	}
	return id, nil
}

// SetIdentifier records the identifier the server issued on registration
// and persists it so future runs reconnect instead of re-registering.
func (id *Identity) SetIdentifier(stateDir string, identifier [wire.IdentifierSize]byte) error {
	id.Identifier = identifier
	id.Registered = true
	return id.persist(stateDir, filepath.Join(stateDir, "identity.json"))
}

func (id *Identity) persist(stateDir, path string) error {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	f := identityFile{
		Name:          id.Name,
		PrivateKeyDER: x509.MarshalPKCS1PrivateKey(id.privateKey),
	}
	if id.Registered {
		f.Identifier = hex.EncodeToString(id.Identifier[:])
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}
