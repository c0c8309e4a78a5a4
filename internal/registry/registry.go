// Package registry persists the server's ClientRecord and files tables
// (spec §4.6) behind a single interface, with an embedded SQLite backend
// (default) and an optional PostgreSQL backend for multi-instance
// deployments, mirroring the pluggable-backend shape of the teacher
// codebase's persistence package.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/vaultkeep/vaultbackup/internal/verrors"
	"github.com/vaultkeep/vaultbackup/internal/wire"
)

var (
	// ErrNameTaken is returned by Register when the self-asserted name is
	// already bound to a different client identifier.
	ErrNameTaken = errors.New("registry: name already registered")

	// ErrClientNotFound is returned when an identifier or name has no
	// corresponding ClientRecord.
	ErrClientNotFound = errors.New("registry: client not found")

	// ErrNoPublicKey reports a client with no previously published public
	// key. No Registry method returns it: the server's reconnect handler
	// checks the stored key itself and answers 1606.
	ErrNoPublicKey = errors.New("registry: client has no public key on file")
)

// ClientRecord mirrors spec §3's persistent ClientRecord: an opaque
// identifier, an immutable self-asserted name, the most recently published
// public key, the most recently issued session key (nil if none), and a
// last-seen timestamp.
type ClientRecord struct {
	ID         [wire.IdentifierSize]byte
	Name       string
	PublicKey  []byte
	SessionKey []byte
	LastSeen   time.Time
}

// Registry is the storage contract the server's dispatch handlers use.
// Every method is safe for concurrent use by multiple connection workers.
type Registry interface {
	// Register creates a new ClientRecord for name if the name is free,
	// returning a freshly generated identifier. Returns ErrNameTaken if
	// the name is already bound.
	Register(ctx context.Context, name string) ([wire.IdentifierSize]byte, error)

	// Lookup returns the ClientRecord for id, or ErrClientNotFound.
	Lookup(ctx context.Context, id [wire.IdentifierSize]byte) (ClientRecord, error)

	// LookupByName returns the ClientRecord for name, or ErrClientNotFound.
	LookupByName(ctx context.Context, name string) (ClientRecord, error)

	// PublishKey stores a freshly published public key for id and clears
	// any previously issued session key (a new key exchange must follow).
	PublishKey(ctx context.Context, id [wire.IdentifierSize]byte, publicKey []byte) error

	// SetSessionKey records the session key most recently wrapped for id.
	SetSessionKey(ctx context.Context, id [wire.IdentifierSize]byte, sessionKey []byte) error

	// Touch updates a ClientRecord's last-seen timestamp.
	Touch(ctx context.Context, id [wire.IdentifierSize]byte, at time.Time) error

	// RecordFile upserts a files row for (id, filename), reflecting
	// whether the upload was verified.
	RecordFile(ctx context.Context, id [wire.IdentifierSize]byte, filename, storagePath string, verified bool) error

	// Close releases the underlying storage connection.
	Close() error
}

// Open constructs the configured Registry backend.
func Open(cfg Config) (Registry, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &verrors.ConfigError{Op: "registry.Open", Err: err}
	}

	switch cfg.Type {
	case DatabaseTypeSQLite:
		return openSQLite(cfg.SQLite)
	case DatabaseTypePostgres:
		return openPostgres(cfg.Postgres)
	default:
		return nil, &verrors.ConfigError{Op: "registry.Open", Err: errors.New("unsupported backend")}
	}
}
