package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/vaultkeep/vaultbackup/internal/verrors"
	"github.com/vaultkeep/vaultbackup/internal/wire"
)

// sqliteStore implements Registry over an embedded, pure-Go SQLite file via
// GORM — the default backend for a single server instance.
type sqliteStore struct {
	db *gorm.DB
}

func openSQLite(cfg SQLiteConfig) (*sqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, &verrors.StorageError{Op: "sqlite.open", Err: fmt.Errorf("create database directory: %w", err)}
	}

	// WAL journal mode and a busy timeout let concurrent worker goroutines
	// hold short-lived read/write transactions without every contention
	// surfacing as SQLITE_BUSY to the caller.
	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, &verrors.StorageError{Op: "sqlite.open", Err: err}
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, &verrors.StorageError{Op: "sqlite.migrate", Err: err}
	}

	return &sqliteStore{db: db}, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "SQLITE_BUSY")
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *sqliteStore) Register(ctx context.Context, name string) ([wire.IdentifierSize]byte, error) {
	var id [wire.IdentifierSize]byte
	if _, err := rand.Read(id[:]); err != nil {
		return id, &verrors.CryptoError{Op: "registry.Register", Err: err}
	}

	row := clientRow{ID: append([]byte(nil), id[:]...), Name: name, LastSeen: time.Now().UTC()}

	err := withBusyRetry(ctx, isSQLiteBusy, func() error {
		return s.db.WithContext(ctx).Create(&row).Error
	})
	if isSQLiteUniqueViolation(err) {
		return id, ErrNameTaken
	}
	if err != nil {
		return id, &verrors.StorageError{Op: "registry.Register", Client: name, Err: err}
	}
	return id, nil
}

func (s *sqliteStore) Lookup(ctx context.Context, id [wire.IdentifierSize]byte) (ClientRecord, error) {
	var row clientRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id[:]).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ClientRecord{}, ErrClientNotFound
	}
	if err != nil {
		return ClientRecord{}, &verrors.StorageError{Op: "registry.Lookup", Err: err}
	}
	return rowToRecord(row), nil
}

func (s *sqliteStore) LookupByName(ctx context.Context, name string) (ClientRecord, error) {
	var row clientRow
	err := s.db.WithContext(ctx).First(&row, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ClientRecord{}, ErrClientNotFound
	}
	if err != nil {
		return ClientRecord{}, &verrors.StorageError{Op: "registry.LookupByName", Client: name, Err: err}
	}
	return rowToRecord(row), nil
}

func (s *sqliteStore) PublishKey(ctx context.Context, id [wire.IdentifierSize]byte, publicKey []byte) error {
	err := withBusyRetry(ctx, isSQLiteBusy, func() error {
		res := s.db.WithContext(ctx).Model(&clientRow{}).Where("id = ?", id[:]).
			Updates(map[string]interface{}{"public_key": publicKey, "session_key": nil, "last_seen": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrClientNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrClientNotFound) {
		return &verrors.StorageError{Op: "registry.PublishKey", Err: err}
	}
	return err
}

func (s *sqliteStore) SetSessionKey(ctx context.Context, id [wire.IdentifierSize]byte, sessionKey []byte) error {
	err := withBusyRetry(ctx, isSQLiteBusy, func() error {
		res := s.db.WithContext(ctx).Model(&clientRow{}).Where("id = ?", id[:]).
			Updates(map[string]interface{}{"session_key": sessionKey, "last_seen": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrClientNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrClientNotFound) {
		return &verrors.StorageError{Op: "registry.SetSessionKey", Err: err}
	}
	return err
}

func (s *sqliteStore) Touch(ctx context.Context, id [wire.IdentifierSize]byte, at time.Time) error {
	return withBusyRetry(ctx, isSQLiteBusy, func() error {
		return s.db.WithContext(ctx).Model(&clientRow{}).Where("id = ?", id[:]).
			Update("last_seen", at).Error
	})
}

func (s *sqliteStore) RecordFile(ctx context.Context, id [wire.IdentifierSize]byte, filename, storagePath string, verified bool) error {
	row := fileRow{
		ClientID:    append([]byte(nil), id[:]...),
		Filename:    filename,
		StoragePath: storagePath,
		Verified:    verified,
	}

	// Save() issues an UPDATE whenever a primary key is already set, win or
	// lose on RowsAffected — it never falls back to INSERT. ClientID and
	// Filename are both primary-key columns and always pre-populated here,
	// so an explicit upsert clause is required for the first write to land.
	err := withBusyRetry(ctx, isSQLiteBusy, func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_id"}, {Name: "filename"}},
			DoUpdates: clause.AssignmentColumns([]string{"storage_path", "verified"}),
		}).Create(&row).Error
	})
	if err != nil {
		return &verrors.StorageError{Op: "registry.RecordFile", Client: filename, Err: err}
	}
	return nil
}

func (s *sqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func rowToRecord(row clientRow) ClientRecord {
	var id [wire.IdentifierSize]byte
	copy(id[:], row.ID)
	return ClientRecord{
		ID:         id,
		Name:       row.Name,
		PublicKey:  row.PublicKey,
		SessionKey: row.SessionKey,
		LastSeen:   row.LastSeen,
	}
}
