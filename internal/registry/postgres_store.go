package registry

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/vaultkeep/vaultbackup/internal/verrors"
	"github.com/vaultkeep/vaultbackup/internal/wire"
)

// postgresStore implements Registry directly over database/sql and
// lib/pq, the same raw-driver style the teacher codebase uses for its own
// Postgres persistence, rather than going through GORM — useful when an
// operator runs several vaultbackup-server instances against one database.
type postgresStore struct {
	db *sql.DB
}

func openPostgres(cfg PostgresConfig) (*postgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, &verrors.StorageError{Op: "postgres.open", Err: err}
	}
	if err := db.Ping(); err != nil {
		return nil, &verrors.StorageError{Op: "postgres.ping", Err: err}
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &postgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, &verrors.StorageError{Op: "postgres.migrate", Err: err}
	}
	return store, nil
}

func (s *postgresStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS clients (
		id BYTEA PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		public_key BYTEA,
		session_key BYTEA,
		last_seen TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		client_id BYTEA NOT NULL,
		filename TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		verified BOOLEAN NOT NULL,
		PRIMARY KEY (client_id, filename)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func isPostgresTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "serialization_failure") ||
		strings.Contains(msg, "deadlock_detected") ||
		strings.Contains(msg, "could not serialize access")
}

func isPostgresUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

func (s *postgresStore) Register(ctx context.Context, name string) ([wire.IdentifierSize]byte, error) {
	var id [wire.IdentifierSize]byte
	if _, err := rand.Read(id[:]); err != nil {
		return id, &verrors.CryptoError{Op: "registry.Register", Err: err}
	}

	err := withBusyRetry(ctx, isPostgresTransient, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO clients (id, name, last_seen) VALUES ($1, $2, $3)`,
			id[:], name, time.Now().UTC())
		return err
	})
	if isPostgresUniqueViolation(err) {
		return id, ErrNameTaken
	}
	if err != nil {
		return id, &verrors.StorageError{Op: "registry.Register", Client: name, Err: err}
	}
	return id, nil
}

func (s *postgresStore) Lookup(ctx context.Context, id [wire.IdentifierSize]byte) (ClientRecord, error) {
	return s.scanOne(ctx, `SELECT id, name, public_key, session_key, last_seen FROM clients WHERE id = $1`, id[:])
}

func (s *postgresStore) LookupByName(ctx context.Context, name string) (ClientRecord, error) {
	return s.scanOne(ctx, `SELECT id, name, public_key, session_key, last_seen FROM clients WHERE name = $1`, name)
}

func (s *postgresStore) scanOne(ctx context.Context, query string, arg interface{}) (ClientRecord, error) {
	var (
		idBytes    []byte
		name       string
		publicKey  []byte
		sessionKey []byte
		lastSeen   time.Time
	)

	err := s.db.QueryRowContext(ctx, query, arg).Scan(&idBytes, &name, &publicKey, &sessionKey, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return ClientRecord{}, ErrClientNotFound
	}
	if err != nil {
		return ClientRecord{}, &verrors.StorageError{Op: "registry.Lookup", Err: err}
	}

	var id [wire.IdentifierSize]byte
	copy(id[:], idBytes)
	return ClientRecord{ID: id, Name: name, PublicKey: publicKey, SessionKey: sessionKey, LastSeen: lastSeen}, nil
}

func (s *postgresStore) PublishKey(ctx context.Context, id [wire.IdentifierSize]byte, publicKey []byte) error {
	return s.updateOne(ctx,
		`UPDATE clients SET public_key = $1, session_key = NULL, last_seen = $2 WHERE id = $3`,
		publicKey, time.Now().UTC(), id[:])
}

func (s *postgresStore) SetSessionKey(ctx context.Context, id [wire.IdentifierSize]byte, sessionKey []byte) error {
	return s.updateOne(ctx,
		`UPDATE clients SET session_key = $1, last_seen = $2 WHERE id = $3`,
		sessionKey, time.Now().UTC(), id[:])
}

func (s *postgresStore) Touch(ctx context.Context, id [wire.IdentifierSize]byte, at time.Time) error {
	return s.updateOne(ctx, `UPDATE clients SET last_seen = $1 WHERE id = $2`, at, id[:])
}

func (s *postgresStore) updateOne(ctx context.Context, query string, args ...interface{}) error {
	err := withBusyRetry(ctx, isPostgresTransient, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrClientNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrClientNotFound) {
		return &verrors.StorageError{Op: "registry.update", Err: err}
	}
	return err
}

func (s *postgresStore) RecordFile(ctx context.Context, id [wire.IdentifierSize]byte, filename, storagePath string, verified bool) error {
	err := withBusyRetry(ctx, isPostgresTransient, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO files (client_id, filename, storage_path, verified)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (client_id, filename)
			DO UPDATE SET storage_path = EXCLUDED.storage_path, verified = EXCLUDED.verified
		`, id[:], filename, storagePath, verified)
		return err
	})
	if err != nil {
		return &verrors.StorageError{Op: "registry.RecordFile", Client: filename, Err: err}
	}
	return nil
}

func (s *postgresStore) Close() error {
	return s.db.Close()
}
