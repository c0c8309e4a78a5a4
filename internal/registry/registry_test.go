package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/vaultkeep/vaultbackup/internal/wire"
)

func newTestRegistry(t *testing.T) Registry {
	t.Helper()
	cfg := Config{Type: DatabaseTypeSQLite, SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "registry.db")}}
	reg, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	id, err := reg.Register(ctx, "alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec, err := reg.Lookup(ctx, id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.Name != "alice" {
		t.Errorf("Name = %q, want alice", rec.Name)
	}
	if rec.ID != id {
		t.Errorf("ID mismatch")
	}

	byName, err := reg.LookupByName(ctx, "alice")
	if err != nil {
		t.Fatalf("LookupByName: %v", err)
	}
	if byName.ID != id {
		t.Errorf("LookupByName returned different id")
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	if _, err := reg.Register(ctx, "bob"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := reg.Register(ctx, "bob"); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("second Register error = %v, want ErrNameTaken", err)
	}
}

func TestLookupUnknownClient(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	var id [wire.IdentifierSize]byte
	if _, err := reg.Lookup(ctx, id); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("Lookup error = %v, want ErrClientNotFound", err)
	}
}

func TestPublishKeyThenSetSessionKeyRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	id, err := reg.Register(ctx, "carol")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	pub := []byte("fake-public-key-bytes")
	if err := reg.PublishKey(ctx, id, pub); err != nil {
		t.Fatalf("PublishKey: %v", err)
	}

	rec, err := reg.Lookup(ctx, id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if string(rec.PublicKey) != string(pub) {
		t.Errorf("PublicKey = %q, want %q", rec.PublicKey, pub)
	}
	if rec.SessionKey != nil {
		t.Errorf("expected session key cleared after PublishKey, got %v", rec.SessionKey)
	}

	sessionKey := []byte("0123456789abcdef0123456789abcdef")
	if err := reg.SetSessionKey(ctx, id, sessionKey); err != nil {
		t.Fatalf("SetSessionKey: %v", err)
	}

	rec, err = reg.Lookup(ctx, id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if string(rec.SessionKey) != string(sessionKey) {
		t.Errorf("SessionKey = %q, want %q", rec.SessionKey, sessionKey)
	}
}

func TestPublishKeyUnknownClient(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	var id [wire.IdentifierSize]byte
	if err := reg.PublishKey(ctx, id, []byte("x")); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("PublishKey error = %v, want ErrClientNotFound", err)
	}
}

func TestRecordFileUpsert(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	id, err := reg.Register(ctx, "dave")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := reg.RecordFile(ctx, id, "report.pdf", "/data/report.pdf", false); err != nil {
		t.Fatalf("RecordFile (pending): %v", err)
	}

	store, ok := reg.(*sqliteStore)
	if !ok {
		t.Fatalf("registry is %T, want *sqliteStore", reg)
	}

	var row fileRow
	if err := store.db.First(&row, "client_id = ? AND filename = ?", id[:], "report.pdf").Error; err != nil {
		t.Fatalf("first write: select row: %v", err)
	}
	if row.Verified {
		t.Errorf("first write: Verified = true, want false")
	}
	if row.StoragePath != "/data/report.pdf" {
		t.Errorf("first write: StoragePath = %q, want /data/report.pdf", row.StoragePath)
	}

	if err := reg.RecordFile(ctx, id, "report.pdf", "/data/report.pdf", true); err != nil {
		t.Fatalf("RecordFile (verified): %v", err)
	}

	var rows []fileRow
	if err := store.db.Find(&rows, "client_id = ? AND filename = ?", id[:], "report.pdf").Error; err != nil {
		t.Fatalf("second write: select rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("second write: got %d rows, want exactly 1 (upsert must not insert a duplicate)", len(rows))
	}
	if !rows[0].Verified {
		t.Errorf("second write: Verified = false, want true")
	}
}
